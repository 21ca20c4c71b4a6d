package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bnbong/bifrost/internal/config"
)

// Descriptor defaults.
const (
	DefaultHealthCheckPath = "/health"
	DefaultRequestTimeout  = 30 * time.Second
)

// ServiceConfig is the loosely specified configuration of one service as
// it appears in snapshot files and admin requests.
type ServiceConfig struct {
	URL         string          `json:"url" yaml:"url"`
	HealthCheck string          `json:"health_check,omitempty" yaml:"health_check"`
	Timeout     config.Duration `json:"timeout,omitempty" yaml:"timeout"`
	RateLimit   int             `json:"rate_limit,omitempty" yaml:"rate_limit"`
}

// Descriptor is the validated, immutable description of a registered
// backend service.
type Descriptor struct {
	Name            string
	BaseURL         string
	HealthCheckPath string
	RequestTimeout  time.Duration
	// RateLimitHint is informational and not enforced.
	RateLimitHint int
}

// ValidationError reports an invalid service definition.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// NewDescriptor validates cfg and fills in defaults.
func NewDescriptor(name string, cfg ServiceConfig) (Descriptor, error) {
	if err := validateName(name); err != nil {
		return Descriptor{}, err
	}

	baseURL, err := normalizeBaseURL(cfg.URL)
	if err != nil {
		return Descriptor{}, err
	}

	healthPath := strings.TrimSpace(cfg.HealthCheck)
	switch {
	case healthPath == "":
		healthPath = DefaultHealthCheckPath
	case !strings.HasPrefix(healthPath, "/"):
		healthPath = "/" + healthPath
	}

	timeout := cfg.Timeout.Duration()
	switch {
	case timeout < 0:
		return Descriptor{}, &ValidationError{Field: "timeout", Message: "timeout must not be negative"}
	case timeout == 0:
		timeout = DefaultRequestTimeout
	}

	if cfg.RateLimit < 0 {
		return Descriptor{}, &ValidationError{Field: "rate_limit", Message: "rate_limit must not be negative"}
	}

	return Descriptor{
		Name:            name,
		BaseURL:         baseURL,
		HealthCheckPath: healthPath,
		RequestTimeout:  timeout,
		RateLimitHint:   cfg.RateLimit,
	}, nil
}

func validateName(name string) error {
	switch {
	case name == "":
		return &ValidationError{Field: "name", Message: "name is required"}
	case strings.ContainsAny(name, "/?#% \t\r\n"):
		return &ValidationError{Field: "name", Message: "name must be a single path segment"}
	case name == "." || name == "..":
		return &ValidationError{Field: "name", Message: "name must be a single path segment"}
	}
	return nil
}

// normalizeBaseURL checks that raw is an absolute http(s) URL and strips
// trailing slashes so that BaseURL + "/path" never doubles a separator.
// A path prefix is kept; query and fragment are rejected.
func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ValidationError{Field: "url", Message: "url is required"}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", &ValidationError{Field: "url", Message: fmt.Sprintf("invalid url: %v", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ValidationError{Field: "url", Message: "url scheme must be http or https"}
	}
	if u.Host == "" {
		return "", &ValidationError{Field: "url", Message: "url must include a host"}
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", &ValidationError{Field: "url", Message: "url must not contain a query or fragment"}
	}

	return strings.TrimRight(raw, "/"), nil
}

// Config converts the descriptor back into its wire form.
func (d Descriptor) Config() ServiceConfig {
	return ServiceConfig{
		URL:         d.BaseURL,
		HealthCheck: d.HealthCheckPath,
		Timeout:     config.Duration(d.RequestTimeout),
		RateLimit:   d.RateLimitHint,
	}
}

// HealthURL returns the absolute URL probed by health checks.
func (d Descriptor) HealthURL() string {
	return d.BaseURL + d.HealthCheckPath
}

// MarshalJSON renders the descriptor in the same shape as snapshot entries.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name string `json:"name"`
		ServiceConfig
	}{
		Name:          d.Name,
		ServiceConfig: d.Config(),
	})
}
