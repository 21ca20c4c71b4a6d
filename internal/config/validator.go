package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(config *GatewayConfig) error {
	return NewValidator().Validate(config)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *GatewayConfig) error {
	v.errors = make(ValidationErrors, 0)

	if config == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&config.Server)
	v.validateLogging(&config.Logging)
	v.validateRateLimit(&config.RateLimit)
	v.validateRegistry(&config.Registry)
	v.validateProxy(&config.Proxy)
	v.validateObservability(&config.Observability)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateServer(s *ServerConfig) {
	if s.Port < 1 || s.Port > 65535 {
		v.addError("server.port", fmt.Sprintf("port must be between 1 and 65535, got %d", s.Port))
	}
	if s.Address != "" && s.Address != "localhost" && net.ParseIP(s.Address) == nil {
		v.addError("server.address", fmt.Sprintf("invalid IP address: %s", s.Address))
	}
	if s.BasePath != "" && (!strings.HasPrefix(s.BasePath, "/") || strings.HasSuffix(s.BasePath, "/")) {
		v.addError("server.base_path", "base path must start with '/' and must not end with '/'")
	}
	if s.MaxBodySize < 0 {
		v.addError("server.max_body_size", "max body size must not be negative")
	}
	v.validateNonNegative("server.shutdown_timeout", s.ShutdownTimeout)
}

func (v *Validator) validateLogging(l *LoggingConfig) {
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "warning", "error", "fatal":
	default:
		v.addError("logging.level", fmt.Sprintf("unknown log level %q", l.Level))
	}
	switch l.Format {
	case "", "json", "console":
	default:
		v.addError("logging.format", "format must be json or console")
	}
}

func (v *Validator) validateRateLimit(rl *RateLimitConfig) {
	if !rl.Enabled {
		return
	}
	if rl.Requests <= 0 {
		v.addError("rate_limit.requests", "requests must be positive")
	}
	if rl.Window <= 0 {
		v.addError("rate_limit.window", "window must be positive")
	}
	switch rl.Store {
	case StoreMemory:
	case StoreRedis:
		if rl.Redis.URL == "" {
			v.addError("rate_limit.redis.url", "redis url is required for the redis store")
		}
	default:
		v.addError("rate_limit.store", fmt.Sprintf("store must be %q or %q", StoreMemory, StoreRedis))
	}
	v.validateNonNegative("rate_limit.client_ttl", rl.ClientTTL)
	v.validateNonNegative("rate_limit.cleanup_interval", rl.CleanupInterval)
	for i, cidr := range rl.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil && net.ParseIP(cidr) == nil {
			v.addError(fmt.Sprintf("rate_limit.trusted_proxies[%d]", i), fmt.Sprintf("invalid CIDR or IP: %s", cidr))
		}
	}
}

func (v *Validator) validateRegistry(r *RegistryConfig) {
	if r.Watch && r.ServicesPath == "" {
		v.addError("registry.services_path", "services path is required when watch is enabled")
	}
	v.validateNonNegative("registry.health_check_timeout", r.HealthCheckTimeout)
	v.validateNonNegative("registry.health_check_interval", r.HealthCheckInterval)
}

func (v *Validator) validateProxy(p *ProxyConfig) {
	if p.MaxIdleConns < 0 {
		v.addError("proxy.max_idle_conns", "must not be negative")
	}
	if p.MaxIdleConnsPerHost < 0 {
		v.addError("proxy.max_idle_conns_per_host", "must not be negative")
	}
	if p.MaxConnsPerHost < 0 {
		v.addError("proxy.max_conns_per_host", "must not be negative")
	}
}

func (v *Validator) validateObservability(o *ObservabilityConfig) {
	if o.Metrics.Enabled && !strings.HasPrefix(o.Metrics.Path, "/") {
		v.addError("observability.metrics.path", "metrics path must start with '/'")
	}
	if o.Tracing.SamplingRate < 0 || o.Tracing.SamplingRate > 1 {
		v.addError("observability.tracing.sampling_rate", "sampling rate must be between 0 and 1")
	}
}

func (v *Validator) validateNonNegative(path string, d Duration) {
	if d < 0 {
		v.addError(path, "duration must not be negative")
	}
}

// addError adds a validation error.
func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
