package ratelimit

import (
	"context"
	"fmt"

	"github.com/bnbong/bifrost/internal/config"
	"github.com/bnbong/bifrost/internal/observability"
	"github.com/bnbong/bifrost/internal/ratelimit/store"
)

// NewFromConfig builds the limiter selected by cfg and starts its janitor.
// Callers should Close the returned limiter on shutdown when it implements
// io.Closer.
//
// When the redis store cannot be reached at startup and fallback is
// enabled, an in-memory limiter is returned instead.
func NewFromConfig(ctx context.Context, cfg config.RateLimitConfig, logger observability.Logger) (Limiter, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if !cfg.Enabled {
		return NewNoopLimiter(), nil
	}

	limit := cfg.Requests
	window := cfg.Window.Duration()

	switch cfg.Store {
	case "", config.StoreMemory:
		return newMemoryLimiter(cfg, logger), nil

	case config.StoreRedis:
		st, err := store.NewRedisStore(ctx, store.Config{
			URL:     cfg.Redis.URL,
			Prefix:  cfg.Redis.KeyPrefix,
			Timeout: cfg.Redis.Timeout.Duration(),
			Logger:  logger,
		})
		if err != nil {
			if !cfg.Redis.Fallback {
				return nil, fmt.Errorf("failed to create redis rate limiter: %w", err)
			}
			logger.Warn("redis unavailable, falling back to in-memory rate limiting",
				observability.Error(err))
			return newMemoryLimiter(cfg, logger), nil
		}

		rl := NewRedisLimiter(st, limit, window,
			WithRedisLogger(logger),
			WithFallback(cfg.Redis.Fallback),
			WithCommandTimeout(cfg.Redis.Timeout.Duration()),
		)
		if fb := rl.Fallback(); fb != nil {
			fb.StartCleanup(cfg.CleanupInterval.Duration(), cfg.ClientTTL.Duration())
		}
		return rl, nil

	default:
		return nil, fmt.Errorf("unknown rate limit store %q", cfg.Store)
	}
}

func newMemoryLimiter(cfg config.RateLimitConfig, logger observability.Logger) *SlidingWindowLimiter {
	l := NewSlidingWindowLimiter(cfg.Requests, cfg.Window.Duration(), WithLogger(logger))
	l.StartCleanup(cfg.CleanupInterval.Duration(), cfg.ClientTTL.Duration())
	return l
}
