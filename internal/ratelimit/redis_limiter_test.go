package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnbong/bifrost/internal/circuitbreaker"
	"github.com/bnbong/bifrost/internal/config"
	"github.com/bnbong/bifrost/internal/observability"
	"github.com/bnbong/bifrost/internal/ratelimit/store"
)

func newTestRedisStore(t *testing.T) (*miniredis.Miniredis, *store.RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	st := store.NewRedisStoreFromClient(client, "test:")
	t.Cleanup(func() { _ = st.Close() })
	return mr, st
}

func TestRedisLimiter_Sequence(t *testing.T) {
	t.Parallel()

	_, st := newTestRedisStore(t)
	clock := newFakeClock()
	base := clock.Now()
	l := NewRedisLimiter(st, 3, time.Minute, WithRedisClock(clock.Now))

	steps := []struct {
		at      time.Duration
		allowed bool
	}{
		{at: 0, allowed: true},
		{at: 10 * time.Second, allowed: true},
		{at: 20 * time.Second, allowed: true},
		{at: 30 * time.Second, allowed: false},
		{at: 60 * time.Second, allowed: false},
		{at: 61 * time.Second, allowed: true},
	}

	for _, s := range steps {
		clock.Set(s.at, base)
		res := allow(t, l, "10.0.0.1")
		assert.Equal(t, s.allowed, res.Allowed, "request at t=%s", s.at)
	}
}

func TestRedisLimiter_ResultFields(t *testing.T) {
	t.Parallel()

	mr, st := newTestRedisStore(t)
	clock := newFakeClock()
	base := clock.Now()
	l := NewRedisLimiter(st, 2, time.Minute, WithRedisClock(clock.Now))

	res := allow(t, l, "c")
	assert.Equal(t, &Result{Allowed: true, Limit: 2, Remaining: 1, ResetAfter: time.Minute}, res)

	clock.Set(15*time.Second, base)
	allow(t, l, "c")

	clock.Set(20*time.Second, base)
	res = allow(t, l, "c")
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 40*time.Second, res.RetryAfter)

	members, err := mr.ZMembers("test:c")
	require.NoError(t, err)
	assert.Len(t, members, 2, "denied request must not be recorded")
	assert.True(t, mr.TTL("test:c") > time.Minute)
}

func TestRedisLimiter_Reset(t *testing.T) {
	t.Parallel()

	mr, st := newTestRedisStore(t)
	l := NewRedisLimiter(st, 1, time.Minute)

	assert.True(t, allow(t, l, "c").Allowed)
	assert.False(t, allow(t, l, "c").Allowed)

	require.NoError(t, l.Reset(context.Background(), "c"))
	assert.False(t, mr.Exists("test:c"))
	assert.True(t, allow(t, l, "c").Allowed)
}

func TestRedisLimiter_FallbackWhenRedisDown(t *testing.T) {
	t.Parallel()

	mr, st := newTestRedisStore(t)
	l := NewRedisLimiter(st, 1, time.Minute, WithRedisLogger(observability.NopLogger()))
	require.NotNil(t, l.Fallback())

	mr.Close()

	assert.True(t, allow(t, l, "c").Allowed)
	assert.False(t, allow(t, l, "c").Allowed)
}

func TestRedisLimiter_NoFallbackReturnsError(t *testing.T) {
	t.Parallel()

	mr, st := newTestRedisStore(t)
	l := NewRedisLimiter(st, 1, time.Minute, WithFallback(false), WithCommandTimeout(time.Second))
	assert.Nil(t, l.Fallback())

	mr.Close()

	res, err := l.Allow(context.Background(), "c")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRedisUnavailable)
	assert.Nil(t, res)
}

func TestRedisLimiter_BreakerOpensAndRecovers(t *testing.T) {
	t.Parallel()

	mr, st := newTestRedisStore(t)
	breaker := circuitbreaker.New("test", circuitbreaker.Config{
		MinRequests:  2,
		FailureRatio: 0.5,
		Timeout:      50 * time.Millisecond,
	})
	l := NewRedisLimiter(st, 100, time.Minute, WithBreaker(breaker))
	assert.Same(t, breaker, l.Breaker())

	mr.SetError("READONLY down for test")
	allow(t, l, "c")
	allow(t, l, "c")
	assert.Equal(t, gobreaker.StateOpen, l.Breaker().State())

	// Served by the fallback while open.
	assert.True(t, allow(t, l, "c").Allowed)

	mr.SetError("")
	assert.Eventually(t, func() bool {
		allow(t, l, "c")
		return l.Breaker().State() == gobreaker.StateClosed
	}, time.Second, 20*time.Millisecond)
}

func TestRedisLimiter_SharedAcrossInstances(t *testing.T) {
	t.Parallel()

	_, st := newTestRedisStore(t)
	a := NewRedisLimiter(st, 2, time.Minute)
	b := NewRedisLimiter(st, 2, time.Minute)

	assert.True(t, allow(t, a, "c").Allowed)
	assert.True(t, allow(t, b, "c").Allowed)
	assert.False(t, allow(t, a, "c").Allowed)
	assert.False(t, allow(t, b, "c").Allowed)
}

func TestRedisLimiter_Close(t *testing.T) {
	t.Parallel()

	_, st := newTestRedisStore(t)
	l := NewRedisLimiter(st, 1, time.Minute)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	// A closed store is treated like an unavailable one.
	assert.True(t, allow(t, l, "c").Allowed)
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	base := config.DefaultConfig().RateLimit

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()

		cfg := base
		cfg.Enabled = false
		l, err := NewFromConfig(context.Background(), cfg, nil)
		require.NoError(t, err)
		assert.IsType(t, &NoopLimiter{}, l)
	})

	t.Run("memory", func(t *testing.T) {
		t.Parallel()

		cfg := base
		cfg.Requests = 7
		l, err := NewFromConfig(context.Background(), cfg, nil)
		require.NoError(t, err)
		sw, ok := l.(*SlidingWindowLimiter)
		require.True(t, ok)
		defer sw.Stop()
		assert.Equal(t, 7, sw.Limit())
		assert.Equal(t, time.Minute, sw.Window())
	})

	t.Run("redis", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		cfg := base
		cfg.Store = config.StoreRedis
		cfg.Redis.URL = "redis://" + mr.Addr() + "/0"

		l, err := NewFromConfig(context.Background(), cfg, observability.NopLogger())
		require.NoError(t, err)
		rl, ok := l.(*RedisLimiter)
		require.True(t, ok)
		defer rl.Close()

		assert.True(t, allow(t, rl, "c").Allowed)
		assert.True(t, mr.Exists(config.DefaultRedisKeyPrefix+"c"))
	})

	t.Run("redis unreachable with fallback", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := base
		cfg.Store = config.StoreRedis
		cfg.Redis.URL = "redis://" + addr
		cfg.Redis.Timeout = config.Duration(100 * time.Millisecond)

		l, err := NewFromConfig(context.Background(), cfg, nil)
		require.NoError(t, err)
		sw, ok := l.(*SlidingWindowLimiter)
		require.True(t, ok)
		sw.Stop()
	})

	t.Run("invalid redis url without fallback", func(t *testing.T) {
		t.Parallel()

		cfg := base
		cfg.Store = config.StoreRedis
		cfg.Redis.URL = "::not a url"
		cfg.Redis.Fallback = false

		_, err := NewFromConfig(context.Background(), cfg, nil)
		require.Error(t, err)
	})

	t.Run("unknown store", func(t *testing.T) {
		t.Parallel()

		cfg := base
		cfg.Store = "memcached"
		_, err := NewFromConfig(context.Background(), cfg, nil)
		require.Error(t, err)
	})
}
