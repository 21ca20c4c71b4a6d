package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bnbong/bifrost/internal/observability"
)

// LoggingConfig holds configuration for the logging middleware.
type LoggingConfig struct {
	Logger          observability.Logger
	SkipPaths       []string
	SkipHealthCheck bool
}

// Logging returns a middleware that logs HTTP requests.
func Logging(logger observability.Logger) gin.HandlerFunc {
	return LoggingWithConfig(LoggingConfig{Logger: logger})
}

// isHealthCheckPath checks if the path is a health check endpoint.
func isHealthCheckPath(path string) bool {
	return path == "/health" || path == "/healthz" || path == "/ready" || path == "/readyz"
}

// buildLogFields builds the log fields from request and response data.
func buildLogFields(c *gin.Context, path string, latency time.Duration, status int) []observability.Field {
	fields := []observability.Field{
		observability.String("method", c.Request.Method),
		observability.String("path", path),
		observability.String("query", c.Request.URL.RawQuery),
		observability.Int("status", status),
		observability.Duration("latency", latency),
		observability.String("client_ip", c.ClientIP()),
		observability.String("user_agent", c.Request.UserAgent()),
		observability.Int("body_size", c.Writer.Size()),
	}

	if len(c.Errors) > 0 {
		fields = append(fields, observability.String("errors", c.Errors.String()))
	}

	return fields
}

// logRequestByStatus logs the request with appropriate level based on status code.
func logRequestByStatus(logger observability.Logger, status int, fields []observability.Field) {
	switch {
	case status >= 500:
		logger.Error("request completed", fields...)
	case status >= 400:
		logger.Warn("request completed", fields...)
	default:
		logger.Info("request completed", fields...)
	}
}

// LoggingWithConfig returns a logging middleware with custom configuration.
// Every request gets a "request started" and a "request completed" event;
// the latter covers the whole lifecycle including time spent upstream.
func LoggingWithConfig(config LoggingConfig) gin.HandlerFunc {
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}

	skipPaths := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path

		if skipPaths[path] || (config.SkipHealthCheck && isHealthCheckPath(path)) {
			c.Next()
			return
		}

		logger := config.Logger.WithContext(c.Request.Context())
		start := time.Now()

		logger.Info("request started",
			observability.String("method", c.Request.Method),
			observability.String("path", path),
			observability.String("client_ip", c.ClientIP()),
		)

		c.Next()

		status := c.Writer.Status()
		logRequestByStatus(logger, status, buildLogFields(c, path, time.Since(start), status))
	}
}
