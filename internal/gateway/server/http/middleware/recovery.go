package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/bnbong/bifrost/internal/observability"
)

// RecoveryConfig holds configuration for the recovery middleware.
type RecoveryConfig struct {
	Logger           observability.Logger
	EnableStackTrace bool
}

// Recovery returns a middleware that recovers from panics.
func Recovery(logger observability.Logger) gin.HandlerFunc {
	return RecoveryWithConfig(RecoveryConfig{
		Logger:           logger,
		EnableStackTrace: true,
	})
}

// RecoveryWithConfig returns a recovery middleware with custom configuration.
func RecoveryWithConfig(config RecoveryConfig) gin.HandlerFunc {
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}

	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			// http.ErrAbortHandler is the documented way to abort a response
			// mid-stream; let net/http handle it.
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			fields := []observability.Field{
				observability.Any("error", rec),
				observability.String("method", c.Request.Method),
				observability.String("path", c.Request.URL.Path),
				observability.String("client_ip", c.ClientIP()),
			}
			if requestID := GetRequestID(c); requestID != "" {
				fields = append(fields, observability.String("request_id", requestID))
			}
			if config.EnableStackTrace {
				fields = append(fields, observability.String("stack", string(debug.Stack())))
			}
			config.Logger.Error("panic recovered", fields...)

			if span := GetSpan(c); span != nil {
				span.RecordError(fmt.Errorf("panic: %v", rec))
			}

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "Internal Server Error",
				"message": "An unexpected error occurred",
			})
		}()

		c.Next()
	}
}
