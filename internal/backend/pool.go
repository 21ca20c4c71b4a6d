package backend

import (
	"net"
	"net/http"
	"time"

	"github.com/bnbong/bifrost/internal/config"
)

// PoolConfig contains connection pool configuration.
type PoolConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	ExpectContinueTimeout time.Duration
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// PoolConfigFromConfig converts the proxy section of the gateway config.
// Zero values keep the defaults.
func PoolConfigFromConfig(cfg config.ProxyConfig) PoolConfig {
	pc := DefaultPoolConfig()
	if cfg.MaxIdleConns > 0 {
		pc.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		pc.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	if cfg.MaxConnsPerHost > 0 {
		pc.MaxConnsPerHost = cfg.MaxConnsPerHost
	}
	if d := cfg.IdleConnTimeout.Duration(); d > 0 {
		pc.IdleConnTimeout = d
	}
	if d := cfg.DialTimeout.Duration(); d > 0 {
		pc.DialTimeout = d
	}
	if d := cfg.TLSHandshakeTimeout.Duration(); d > 0 {
		pc.TLSHandshakeTimeout = d
	}
	if d := cfg.ResponseHeaderTimeout.Duration(); d > 0 {
		pc.ResponseHeaderTimeout = d
	}
	return pc
}

// ConnectionPool is the outbound HTTP transport shared by the proxy and
// the health checks.
type ConnectionPool struct {
	transport *http.Transport
	client    *http.Client
}

// NewConnectionPool creates a new connection pool.
func NewConnectionPool(cfg PoolConfig) *ConnectionPool {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: cfg.ExpectContinueTimeout,
		// Bodies are relayed as received.
		DisableCompression: true,
	}

	client := &http.Client{
		Transport: transport,
		// Per-request deadlines come from the context.
		Timeout: 0,
		// Redirects are relayed to the caller, not followed.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &ConnectionPool{
		transport: transport,
		client:    client,
	}
}

// Client returns the HTTP client.
func (p *ConnectionPool) Client() *http.Client {
	return p.client
}

// CloseIdleConnections closes idle connections.
func (p *ConnectionPool) CloseIdleConnections() {
	p.transport.CloseIdleConnections()
}
