// Package circuitbreaker wraps sony/gobreaker for the gateway's own
// dependencies (the redis rate limit store). Proxied backends are never
// put behind a breaker.
package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bnbong/bifrost/internal/observability"
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// MinRequests is the number of requests in the interval before the
	// failure ratio is evaluated.
	MinRequests uint32

	// FailureRatio opens the circuit once reached.
	FailureRatio float64

	// Timeout is how long the circuit stays open before a probe.
	Timeout time.Duration

	// Interval resets the closed-state counts. Zero never resets.
	Interval time.Duration

	// HalfOpenMax is the number of probes allowed while half-open.
	HalfOpenMax uint32
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		MinRequests:  5,
		FailureRatio: 0.5,
		Timeout:      10 * time.Second,
		Interval:     time.Minute,
		HalfOpenMax:  1,
	}
}

// StateFunc is called on every state transition.
type StateFunc func(name string, from, to gobreaker.State)

// Breaker is a named circuit breaker.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	logger observability.Logger
	onSC   StateFunc
}

// Option is a functional option for configuring the breaker.
type Option func(*Breaker)

// WithLogger sets the logger used for state transitions.
func WithLogger(logger observability.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// WithStateCallback sets a callback for state transitions.
func WithStateCallback(fn StateFunc) Option {
	return func(b *Breaker) {
		b.onSC = fn
	}
}

// New creates a new circuit breaker.
func New(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}

	defaults := DefaultConfig()
	if cfg.MinRequests == 0 {
		cfg.MinRequests = defaults.MinRequests
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = defaults.FailureRatio
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.HalfOpenMax == 0 {
		cfg.HalfOpenMax = defaults.HalfOpenMax
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMax,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			if b.onSC != nil {
				b.onSC(name, from, to)
			}
		},
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// State returns the current state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.cb.Name()
}

// IsRejected reports whether err means the breaker refused the call.
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
