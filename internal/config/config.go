package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Rate limit store types.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Default values.
const (
	DefaultPort                = 8000
	DefaultBasePath            = "/api/v1"
	DefaultRateLimitRequests   = 60
	DefaultRateLimitWindow     = 60 * time.Second
	DefaultServicesPath        = "/app/config/services.json"
	DefaultHealthCheckTimeout  = 5 * time.Second
	DefaultShutdownTimeout     = 30 * time.Second
	DefaultClientTTL           = 10 * time.Minute
	DefaultCleanupInterval     = time.Minute
	DefaultRedisKeyPrefix      = "bifrost:ratelimit:"
	DefaultMetricsPath         = "/metrics"
	DefaultTracingServiceName  = "bifrost"
	DefaultMaxBodySize   int64 = 10 << 20
)

// GatewayConfig is the root configuration of the gateway.
type GatewayConfig struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Registry      RegistryConfig      `yaml:"registry" json:"registry"`
	Proxy         ProxyConfig         `yaml:"proxy" json:"proxy"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address           string   `yaml:"address" json:"address"`
	Port              int      `yaml:"port" json:"port"`
	BasePath          string   `yaml:"base_path" json:"base_path"`
	Environment       string   `yaml:"environment" json:"environment"`
	// Only header reads and idle connections are bounded here. Proxied
	// calls are bounded by the per-service request timeout alone.
	ReadHeaderTimeout Duration `yaml:"read_header_timeout" json:"read_header_timeout"`
	IdleTimeout       Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxBodySize       int64    `yaml:"max_body_size" json:"max_body_size"`
}

// ListenAddress returns host:port for the listener.
func (s ServerConfig) ListenAddress() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// IsProduction reports whether the gateway runs in production mode.
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// RateLimitConfig configures the admission gate.
type RateLimitConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Requests int      `yaml:"requests" json:"requests"`
	Window   Duration `yaml:"window" json:"window"`
	// Store is "memory" (per process) or "redis" (shared across instances).
	Store           string      `yaml:"store" json:"store"`
	Redis           RedisConfig `yaml:"redis" json:"redis"`
	ClientTTL       Duration    `yaml:"client_ttl" json:"client_ttl"`
	CleanupInterval Duration    `yaml:"cleanup_interval" json:"cleanup_interval"`
	TrustedProxies  []string    `yaml:"trusted_proxies" json:"trusted_proxies"`
	SkipPaths       []string    `yaml:"skip_paths" json:"skip_paths"`
	Headers         bool        `yaml:"headers" json:"headers"`
}

// RedisConfig configures the redis-backed limiter.
type RedisConfig struct {
	URL       string   `yaml:"url" json:"url"`
	KeyPrefix string   `yaml:"key_prefix" json:"key_prefix"`
	Timeout   Duration `yaml:"timeout" json:"timeout"`
	// Fallback admits through a local limiter while redis is unavailable.
	Fallback bool `yaml:"fallback" json:"fallback"`
}

// RegistryConfig configures the service registry.
type RegistryConfig struct {
	ServicesPath        string   `yaml:"services_path" json:"services_path"`
	SeedDefaults        bool     `yaml:"seed_defaults" json:"seed_defaults"`
	Watch               bool     `yaml:"watch" json:"watch"`
	HealthCheckTimeout  Duration `yaml:"health_check_timeout" json:"health_check_timeout"`
	HealthCheckInterval Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// ProxyConfig configures the shared outbound connection pool.
type ProxyConfig struct {
	MaxIdleConns          int      `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxIdleConnsPerHost   int      `yaml:"max_idle_conns_per_host" json:"max_idle_conns_per_host"`
	MaxConnsPerHost       int      `yaml:"max_conns_per_host" json:"max_conns_per_host"`
	IdleConnTimeout       Duration `yaml:"idle_conn_timeout" json:"idle_conn_timeout"`
	DialTimeout           Duration `yaml:"dial_timeout" json:"dial_timeout"`
	TLSHandshakeTimeout   Duration `yaml:"tls_handshake_timeout" json:"tls_handshake_timeout"`
	ResponseHeaderTimeout Duration `yaml:"response_header_timeout" json:"response_header_timeout"`
}

// SecurityConfig configures host and origin filtering.
type SecurityConfig struct {
	AllowedHosts   []string `yaml:"allowed_hosts" json:"allowed_hosts"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Endpoint     string  `yaml:"endpoint" json:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`
	ServiceName  string  `yaml:"service_name" json:"service_name"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *GatewayConfig {
	return &GatewayConfig{
		Server: ServerConfig{
			Address:           "0.0.0.0",
			Port:              DefaultPort,
			BasePath:          DefaultBasePath,
			Environment:       "development",
			ReadHeaderTimeout: Duration(10 * time.Second),
			IdleTimeout:       Duration(120 * time.Second),
			ShutdownTimeout:   Duration(DefaultShutdownTimeout),
			MaxBodySize:       DefaultMaxBodySize,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			Requests:        DefaultRateLimitRequests,
			Window:          Duration(DefaultRateLimitWindow),
			Store:           StoreMemory,
			ClientTTL:       Duration(DefaultClientTTL),
			CleanupInterval: Duration(DefaultCleanupInterval),
			Headers:         true,
			Redis: RedisConfig{
				KeyPrefix: DefaultRedisKeyPrefix,
				Timeout:   Duration(time.Second),
				Fallback:  true,
			},
		},
		Registry: RegistryConfig{
			ServicesPath:       DefaultServicesPath,
			SeedDefaults:       true,
			HealthCheckTimeout: Duration(DefaultHealthCheckTimeout),
		},
		Proxy: ProxyConfig{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     Duration(90 * time.Second),
			DialTimeout:         Duration(10 * time.Second),
			TLSHandshakeTimeout: Duration(10 * time.Second),
		},
		Security: SecurityConfig{
			AllowedHosts:   []string{"*"},
			AllowedOrigins: []string{"*"},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    DefaultMetricsPath,
			},
			Tracing: TracingConfig{
				SamplingRate: 1.0,
				ServiceName:  DefaultTracingServiceName,
			},
		},
	}
}

// String returns a short description used in startup logs.
func (c *GatewayConfig) String() string {
	return fmt.Sprintf("listen=%s base_path=%s env=%s rate_limit=%d/%s store=%s",
		c.Server.ListenAddress(), c.Server.BasePath, c.Server.Environment,
		c.RateLimit.Requests, c.RateLimit.Window.Duration(), c.RateLimit.Store)
}
