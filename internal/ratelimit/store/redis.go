// Package store holds the redis connection and scripts used by the
// distributed rate limiter.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bnbong/bifrost/internal/observability"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("redis store is closed")

// slidingWindowScript admits a request into a sorted-set window.
// Scores are unix milliseconds supplied by the caller; entries scoring
// strictly below the cutoff are dropped, so the window is inclusive.
//
// KEYS[1] = window key
// ARGV[1] = limit, ARGV[2] = window ms, ARGV[3] = now ms, ARGV[4] = member,
// ARGV[5] = cutoff ms
// Returns {allowed, count, oldest_ms, retry_anchor_ms}.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. ARGV[5])

	local count = redis.call('ZCARD', key)
	local allowed = 0
	local anchor = 0
	if count < limit then
		redis.call('ZADD', key, now, ARGV[4])
		count = count + 1
		allowed = 1
	else
		local at = redis.call('ZRANGE', key, count - limit, count - limit, 'WITHSCORES')
		if #at > 0 then
			anchor = tonumber(at[2])
		end
	end

	redis.call('PEXPIRE', key, window_ms + 1000)

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local oldest_ms = now
	if #oldest > 0 then
		oldest_ms = tonumber(oldest[2])
	end

	return {allowed, count, oldest_ms, anchor}
`)

// Config holds configuration for the redis store.
type Config struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string

	// Prefix is prepended to every key.
	Prefix string

	// Timeout bounds dialing and each command.
	Timeout time.Duration

	// ConnectionRetries is the number of extra connection attempts.
	ConnectionRetries int

	// InitialBackoff and MaxBackoff bound the wait between attempts.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger observability.Logger
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		URL:               "redis://localhost:6379/0",
		Timeout:           3 * time.Second,
		ConnectionRetries: 3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
	}
}

// WindowResult is the raw outcome of one sliding window admission.
type WindowResult struct {
	Allowed bool
	Count   int
	Oldest  time.Time
	// Anchor is the entry that must leave the window before a denied
	// client is admitted again. Zero when allowed.
	Anchor time.Time
}

// RedisStore wraps a go-redis client.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger observability.Logger

	mu     sync.Mutex
	closed bool
}

// NewRedisStore parses cfg.URL, connects and pings with retries.
func NewRedisStore(ctx context.Context, cfg Config) (*RedisStore, error) {
	defaults := DefaultConfig()
	if cfg.URL == "" {
		return nil, errors.New("redis url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if cfg.ConnectionRetries < 0 {
		cfg.ConnectionRetries = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = cfg.Timeout
	opts.ReadTimeout = cfg.Timeout
	opts.WriteTimeout = cfg.Timeout

	client := redis.NewClient(opts)
	if err := connectWithRetry(ctx, client, cfg, logger); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("connected to redis",
		observability.String("address", opts.Addr),
		observability.Int("db", opts.DB),
	)

	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

// NewRedisStoreFromClient wraps an existing client without pinging it.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: observability.NopLogger(),
	}
}

func connectWithRetry(ctx context.Context, client *redis.Client, cfg Config, logger observability.Logger) error {
	backoff := newDecorrelatedJitterBackoff(cfg.InitialBackoff, cfg.MaxBackoff)

	var lastErr error
	for attempt := 0; attempt <= cfg.ConnectionRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.ConnectionRetries {
			break
		}

		wait := backoff.next(attempt)
		logger.Debug("redis connection failed, retrying",
			observability.Int("attempt", attempt+1),
			observability.Duration("backoff", wait),
			observability.Error(lastErr),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("redis connect: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("failed to connect to redis after %d attempts: %w", cfg.ConnectionRetries+1, lastErr)
}

// decorrelatedJitterBackoff computes sleep = min(cap, rand(base, sleep*3)).
type decorrelatedJitterBackoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newDecorrelatedJitterBackoff(initial, maxDuration time.Duration) *decorrelatedJitterBackoff {
	return &decorrelatedJitterBackoff{
		initial: initial,
		max:     maxDuration,
		current: initial,
	}
}

func (b *decorrelatedJitterBackoff) next(attempt int) time.Duration {
	if attempt == 0 {
		b.current = b.initial
		return b.current
	}

	lo := float64(b.initial)
	hi := float64(b.current) * 3
	//nolint:gosec // jitter does not need a secure source
	d := lo + rand.Float64()*(hi-lo)
	if d > float64(b.max) {
		d = float64(b.max)
	}

	b.current = time.Duration(d)
	return b.current
}

// Key returns key with the store prefix.
func (s *RedisStore) Key(key string) string {
	return s.prefix + key
}

// SlidingWindow runs the admission script for key.
//
// Scores are whole Unix milliseconds, so the inclusive window cutoff is
// exact to 1ms here, while the in-memory limiter compares nanosecond
// timestamps. Two requests within the same millisecond as the cutoff may
// be judged differently by the two backends.
func (s *RedisStore) SlidingWindow(
	ctx context.Context,
	key string,
	limit int,
	window time.Duration,
	now time.Time,
	member string,
) (*WindowResult, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	raw, err := slidingWindowScript.Run(ctx, s.client, []string{s.Key(key)},
		limit, window.Milliseconds(), now.UnixMilli(), member, now.Add(-window).UnixMilli(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(raw) != 4 {
		return nil, fmt.Errorf("unexpected sliding window result: %v", raw)
	}

	res := &WindowResult{
		Allowed: raw[0] == 1,
		Count:   int(raw[1]),
		Oldest:  time.UnixMilli(raw[2]),
	}
	if !res.Allowed && raw[3] > 0 {
		res.Anchor = time.UnixMilli(raw[3])
	}
	return res, nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.client.Del(ctx, s.Key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.client.Ping(ctx).Err()
}

// Client returns the underlying redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close is idempotent.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *RedisStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
