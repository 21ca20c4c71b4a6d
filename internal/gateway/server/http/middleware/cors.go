package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSConfig holds configuration for the CORS middleware.
type CORSConfig struct {
	// AllowOrigins is a list of origins that may access the resource.
	// Use "*" to allow all origins. Entries like "https://*.example.com"
	// match any subdomain.
	AllowOrigins []string

	// AllowMethods is a list of methods allowed when accessing the resource.
	// "*" reflects the preflight's requested method.
	AllowMethods []string

	// AllowHeaders is a list of headers that can be used when making the
	// actual request. "*" reflects the preflight's requested headers.
	AllowHeaders []string

	// ExposeHeaders is a list of headers that browsers are allowed to access.
	ExposeHeaders []string

	// AllowCredentials indicates whether the request can include user credentials.
	AllowCredentials bool

	// MaxAge indicates how long the results of a preflight request can be cached.
	MaxAge int
}

// DefaultCORSConfig returns the gateway's permissive CORS policy: any
// origin, any method and header, credentials allowed.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"*"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           600,
	}
}

// CORS returns a middleware that handles CORS requests for the given origins.
func CORS(origins ...string) gin.HandlerFunc {
	config := DefaultCORSConfig()
	if len(origins) > 0 {
		config.AllowOrigins = origins
	}
	return CORSWithConfig(config)
}

// corsContext holds pre-computed values for CORS middleware.
type corsContext struct {
	config           CORSConfig
	allowAllOrigins  bool
	allowAllMethods  bool
	allowAllHeaders  bool
	allowMethodsStr  string
	allowHeadersStr  string
	exposeHeadersStr string
	maxAgeStr        string
}

func newCORSContext(config CORSConfig) *corsContext {
	if len(config.AllowOrigins) == 0 {
		config.AllowOrigins = []string{"*"}
	}
	if len(config.AllowMethods) == 0 {
		config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	}
	if len(config.AllowHeaders) == 0 {
		config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	}

	return &corsContext{
		config:           config,
		allowAllOrigins:  slices.Contains(config.AllowOrigins, "*"),
		allowAllMethods:  slices.Contains(config.AllowMethods, "*"),
		allowAllHeaders:  slices.Contains(config.AllowHeaders, "*"),
		allowMethodsStr:  strings.Join(config.AllowMethods, ", "),
		allowHeadersStr:  strings.Join(config.AllowHeaders, ", "),
		exposeHeadersStr: strings.Join(config.ExposeHeaders, ", "),
		maxAgeStr:        strconv.Itoa(config.MaxAge),
	}
}

func (ctx *corsContext) setCommonCORSHeaders(c *gin.Context, origin string) {
	// A credentialed response must name the origin; browsers reject "*".
	if ctx.allowAllOrigins && !ctx.config.AllowCredentials {
		c.Header("Access-Control-Allow-Origin", "*")
	} else {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Add("Vary", "Origin")
	}

	if ctx.config.AllowCredentials {
		c.Header("Access-Control-Allow-Credentials", "true")
	}

	if ctx.exposeHeadersStr != "" {
		c.Header("Access-Control-Expose-Headers", ctx.exposeHeadersStr)
	}
}

func (ctx *corsContext) setPreflightHeaders(c *gin.Context) {
	methods := ctx.allowMethodsStr
	if ctx.allowAllMethods {
		if requested := c.GetHeader("Access-Control-Request-Method"); requested != "" {
			methods = requested
		}
	}
	headers := ctx.allowHeadersStr
	if ctx.allowAllHeaders {
		if requested := c.GetHeader("Access-Control-Request-Headers"); requested != "" {
			headers = requested
		}
	}

	c.Header("Access-Control-Allow-Methods", methods)
	c.Header("Access-Control-Allow-Headers", headers)
	c.Header("Access-Control-Max-Age", ctx.maxAgeStr)
}

// CORSWithConfig returns a CORS middleware with custom configuration.
// Preflight requests from allowed origins are answered with 204 and never
// reach a backend.
func CORSWithConfig(config CORSConfig) gin.HandlerFunc {
	ctx := newCORSContext(config)

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			c.Next()
			return
		}

		allowed := ctx.allowAllOrigins || isOriginAllowed(origin, ctx.config.AllowOrigins)
		if !allowed {
			c.Next()
			return
		}

		ctx.setCommonCORSHeaders(c, origin)

		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			ctx.setPreflightHeaders(c)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// isOriginAllowed checks if the origin is in the allowed list.
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	for _, allowed := range allowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}

		prefix, suffix, found := strings.Cut(allowed, "*")
		if found && len(origin) > len(prefix)+len(suffix) &&
			strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
			return true
		}
	}
	return false
}
