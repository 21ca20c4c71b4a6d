package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TrustedHost returns a middleware that rejects requests whose Host header
// matches none of allowedHosts with 400. "*" allows any host and
// "*.example.com" allows subdomains of example.com.
func TrustedHost(allowedHosts []string) gin.HandlerFunc {
	allowAll := len(allowedHosts) == 0
	exact := make(map[string]bool, len(allowedHosts))
	var suffixes []string
	for _, h := range allowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case h == "*":
			allowAll = true
		case strings.HasPrefix(h, "*."):
			suffixes = append(suffixes, h[1:])
		case h != "":
			exact[h] = true
		}
	}

	return func(c *gin.Context) {
		if allowAll {
			c.Next()
			return
		}

		host := hostWithoutPort(c.Request.Host)
		if exact[host] {
			c.Next()
			return
		}
		for _, suffix := range suffixes {
			if strings.HasSuffix(host, suffix) {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "Invalid host header",
		})
	}
}

func hostWithoutPort(hostport string) string {
	hostport = strings.ToLower(hostport)
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.Trim(host, "[]")
	}
	return strings.Trim(hostport, "[]")
}
