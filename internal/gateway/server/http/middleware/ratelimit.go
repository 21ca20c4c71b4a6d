package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bnbong/bifrost/internal/observability"
	"github.com/bnbong/bifrost/internal/ratelimit"
)

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	// Limiter is the rate limiter to use.
	Limiter ratelimit.Limiter

	// KeyFunc extracts the rate limit key from the request.
	KeyFunc ratelimit.KeyFunc

	// Logger for logging rate limit events.
	Logger observability.Logger

	// Metrics receives rejection counts.
	Metrics *observability.Metrics

	// SkipPaths is a list of paths to skip rate limiting.
	SkipPaths []string

	// IncludeHeaders determines whether to include rate limit headers.
	IncludeHeaders bool

	// UnmatchedRoute labels rejections of requests that matched no gin route.
	UnmatchedRoute string
}

// RateLimit returns a middleware that applies rate limiting keyed by
// client address.
func RateLimit(limiter ratelimit.Limiter, keyFunc ratelimit.KeyFunc) gin.HandlerFunc {
	return RateLimitWithConfig(RateLimitConfig{
		Limiter:        limiter,
		KeyFunc:        keyFunc,
		IncludeHeaders: true,
	})
}

// RateLimitWithConfig returns a rate limit middleware with custom configuration.
//
// The gate runs before any backend I/O. A denied request is answered with
// 429 and the chain is aborted. A limiter error admits the request.
func RateLimitWithConfig(config RateLimitConfig) gin.HandlerFunc {
	if config.Limiter == nil {
		config.Limiter = ratelimit.NewNoopLimiter()
	}
	if config.KeyFunc == nil {
		config.KeyFunc = ratelimit.NewClientIPExtractor(nil).KeyFunc()
	}
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}
	if config.UnmatchedRoute == "" {
		config.UnmatchedRoute = UnmatchedRoute
	}

	skipPaths := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		if skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		key := config.KeyFunc(c.Request)

		result, err := config.Limiter.Allow(c.Request.Context(), key)
		if err != nil {
			config.Logger.WithContext(c.Request.Context()).Error("rate limit check failed",
				observability.String("client", key),
				observability.Error(err),
			)
			c.Next()
			return
		}

		if config.IncludeHeaders {
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(result.ResetAfter).Unix(), 10))
		}

		if result.Allowed {
			c.Next()
			return
		}

		retryAfter := ceilSeconds(result.RetryAfter)
		if config.IncludeHeaders {
			c.Header("Retry-After", strconv.Itoa(retryAfter))
		}

		route := c.FullPath()
		if route == "" {
			route = config.UnmatchedRoute
		}
		if config.Metrics != nil {
			config.Metrics.RecordRateLimitRejected(route)
		}

		config.Logger.WithContext(c.Request.Context()).Warn("rate limit exceeded",
			observability.String("client", key),
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.Int("limit", result.Limit),
		)

		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "Too Many Requests",
			"message":     "Rate limit exceeded",
			"retry_after": retryAfter,
		})
	}
}

// ceilSeconds rounds d up to whole seconds, at least one.
func ceilSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
