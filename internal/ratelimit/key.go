package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

const headerXForwardedFor = "X-Forwarded-For"

// KeyFunc extracts a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// ClientIPExtractor resolves the client address used as the rate limit key.
//
// Without trusted proxies only RemoteAddr is used, so clients cannot pick
// their own key by sending X-Forwarded-For. Clients sharing an address (NAT,
// an untrusted proxy in front) share one window.
type ClientIPExtractor struct {
	trustedCIDRs []*net.IPNet
}

// NewClientIPExtractor creates an extractor trusting the given proxy CIDRs
// or single addresses. Entries that parse as neither are skipped.
func NewClientIPExtractor(trustedProxies []string) *ClientIPExtractor {
	cidrs := make([]*net.IPNet, 0, len(trustedProxies))
	for _, proxy := range trustedProxies {
		proxy = strings.TrimSpace(proxy)
		_, cidr, err := net.ParseCIDR(proxy)
		if err != nil {
			ip := net.ParseIP(proxy)
			if ip == nil {
				continue
			}
			cidr = singleIPToCIDR(ip)
		}
		cidrs = append(cidrs, cidr)
	}
	return &ClientIPExtractor{trustedCIDRs: cidrs}
}

func singleIPToCIDR(ip net.IP) *net.IPNet {
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	return &net.IPNet{
		IP:   ip,
		Mask: net.CIDRMask(bits, bits),
	}
}

// Extract returns the client address of r.
//
// When RemoteAddr belongs to a trusted proxy, X-Forwarded-For is walked
// right-to-left and the first untrusted address wins.
func (e *ClientIPExtractor) Extract(r *http.Request) string {
	remoteIP := stripPort(r.RemoteAddr)

	if len(e.trustedCIDRs) == 0 || !e.isTrusted(remoteIP) {
		return remoteIP
	}

	xff := r.Header.Get(headerXForwardedFor)
	if xff == "" {
		return remoteIP
	}

	ips := strings.Split(xff, ",")
	for i := len(ips) - 1; i >= 0; i-- {
		ip := strings.TrimSpace(ips[i])
		if ip == "" {
			continue
		}
		if !e.isTrusted(ip) {
			return ip
		}
	}

	return remoteIP
}

// KeyFunc returns Extract as a KeyFunc.
func (e *ClientIPExtractor) KeyFunc() KeyFunc {
	return e.Extract
}

func (e *ClientIPExtractor) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range e.trustedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// stripPort handles both "192.168.1.1:8080" and "[::1]:8080".
func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
