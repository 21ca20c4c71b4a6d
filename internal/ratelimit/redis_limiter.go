package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bnbong/bifrost/internal/circuitbreaker"
	"github.com/bnbong/bifrost/internal/observability"
	"github.com/bnbong/bifrost/internal/ratelimit/store"
)

var (
	_ Limiter   = (*RedisLimiter)(nil)
	_ io.Closer = (*RedisLimiter)(nil)
)

// ErrRedisUnavailable is returned when redis fails and no fallback is configured.
var ErrRedisUnavailable = errors.New("redis rate limit store unavailable")

// RedisLimiter is a sliding window limiter whose windows live in redis
// sorted sets, so every gateway instance sharing the store enforces one
// limit per client.
//
// Redis calls go through a circuit breaker. While redis fails or the
// breaker is open, requests are judged by a local SlidingWindowLimiter
// when fallback is enabled.
type RedisLimiter struct {
	store    *store.RedisStore
	breaker  *circuitbreaker.Breaker
	fallback *SlidingWindowLimiter
	limit    int
	window   time.Duration
	timeout  time.Duration
	now      Clock
	logger   observability.Logger

	fallbackEnabled bool
}

// RedisOption is a functional option for configuring the redis limiter.
type RedisOption func(*RedisLimiter)

// WithRedisClock overrides the time source used for window scores.
func WithRedisClock(clock Clock) RedisOption {
	return func(l *RedisLimiter) {
		if clock != nil {
			l.now = clock
		}
	}
}

// WithRedisLogger sets the logger.
func WithRedisLogger(logger observability.Logger) RedisOption {
	return func(l *RedisLimiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) RedisOption {
	return func(l *RedisLimiter) {
		if b != nil {
			l.breaker = b
		}
	}
}

// WithFallback enables or disables the local fallback limiter.
func WithFallback(enabled bool) RedisOption {
	return func(l *RedisLimiter) {
		l.fallbackEnabled = enabled
	}
}

// WithCommandTimeout bounds each redis round trip.
func WithCommandTimeout(d time.Duration) RedisOption {
	return func(l *RedisLimiter) {
		l.timeout = d
	}
}

// NewRedisLimiter creates a redis-backed sliding window limiter.
// Fallback is enabled unless WithFallback(false) is given.
func NewRedisLimiter(s *store.RedisStore, limit int, window time.Duration, opts ...RedisOption) *RedisLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}

	l := &RedisLimiter{
		store:           s,
		limit:           limit,
		window:          window,
		now:             time.Now,
		logger:          observability.NopLogger(),
		fallbackEnabled: true,
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.fallbackEnabled {
		l.fallback = NewSlidingWindowLimiter(limit, window, WithClock(l.now), WithLogger(l.logger))
	}
	if l.breaker == nil {
		l.breaker = circuitbreaker.New("redis-ratelimit", circuitbreaker.DefaultConfig(),
			circuitbreaker.WithLogger(l.logger))
	}
	return l
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	now := l.now()
	member := strconv.FormatInt(now.UnixMilli(), 10) + ":" + uuid.NewString()

	var wr *store.WindowResult
	err := l.breaker.Execute(func() error {
		cctx, cancel := l.commandContext(ctx)
		defer cancel()

		var err error
		wr, err = l.store.SlidingWindow(cctx, key, l.limit, l.window, now, member)
		return err
	})
	if err != nil {
		if l.fallback != nil {
			l.logger.Debug("redis rate limit failed, using local fallback",
				observability.String("key", key),
				observability.Bool("breaker_open", circuitbreaker.IsRejected(err)),
				observability.Error(err),
			)
			return l.fallback.Allow(ctx, key)
		}
		return nil, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}

	res := &Result{
		Allowed:    wr.Allowed,
		Limit:      l.limit,
		Remaining:  max(l.limit-wr.Count, 0),
		ResetAfter: nonNegative(wr.Oldest.Add(l.window).Sub(now)),
	}
	if !wr.Allowed && !wr.Anchor.IsZero() {
		res.RetryAfter = nonNegative(wr.Anchor.Add(l.window).Sub(now))
	}
	return res, nil
}

// Reset implements Limiter. The fallback window is cleared as well.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if l.fallback != nil {
		_ = l.fallback.Reset(ctx, key)
	}

	err := l.breaker.Execute(func() error {
		cctx, cancel := l.commandContext(ctx)
		defer cancel()
		return l.store.Delete(cctx, key)
	})
	if err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}

// Fallback returns the local fallback limiter, or nil when disabled.
func (l *RedisLimiter) Fallback() *SlidingWindowLimiter {
	return l.fallback
}

// Store returns the redis store.
func (l *RedisLimiter) Store() *store.RedisStore {
	return l.store
}

// Breaker returns the circuit breaker guarding redis.
func (l *RedisLimiter) Breaker() *circuitbreaker.Breaker {
	return l.breaker
}

// Close stops the fallback janitor and closes the redis store.
func (l *RedisLimiter) Close() error {
	if l.fallback != nil {
		l.fallback.Stop()
	}
	if l.store != nil {
		return l.store.Close()
	}
	return nil
}

func (l *RedisLimiter) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout > 0 {
		return context.WithTimeout(ctx, l.timeout)
	}
	return context.WithCancel(ctx)
}
