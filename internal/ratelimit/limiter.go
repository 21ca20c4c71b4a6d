// Package ratelimit provides per-client admission control for the gateway.
// The in-memory sliding window is the default; a redis-backed variant shares
// windows across gateway instances.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether a request from a client is admitted.
//
// A denial is an ordinary Result with Allowed set to false. The error return
// is reserved for failures of the limiter itself.
type Limiter interface {
	// Allow checks and records a single request for the given key.
	Allow(ctx context.Context, key string) (*Result, error)

	// Reset clears the state kept for the given key.
	Reset(ctx context.Context, key string) error
}

// Result represents the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Limit is the maximum number of requests allowed in the window.
	Limit int

	// Remaining is the number of requests left in the current window.
	Remaining int

	// ResetAfter is the duration until the oldest recorded request leaves the window.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying (zero when allowed).
	RetryAfter time.Duration
}

// NoopLimiter is a rate limiter that always allows requests.
type NoopLimiter struct{}

// NewNoopLimiter creates a new noop limiter.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow implements Limiter.
func (l *NoopLimiter) Allow(context.Context, string) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// Reset implements Limiter.
func (l *NoopLimiter) Reset(context.Context, string) error {
	return nil
}

// Clock returns the current time.
type Clock func() time.Time
