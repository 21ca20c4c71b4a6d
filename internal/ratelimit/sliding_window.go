package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/bnbong/bifrost/internal/observability"
)

// Defaults applied when a limiter is built with non-positive settings.
const (
	DefaultLimit  = 60
	DefaultWindow = 60 * time.Second
)

var _ Limiter = (*SlidingWindowLimiter)(nil)

// SlidingWindowLimiter admits at most limit requests per client within the
// trailing window [now-window, now]. Both ends of the window are inclusive.
//
// Each client has its own lock, so unrelated clients never contend.
type SlidingWindowLimiter struct {
	limit  int
	window time.Duration
	now    Clock
	logger observability.Logger

	windows sync.Map // string -> *clientWindow

	stopCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// clientWindow holds the admitted request timestamps of one client in
// ascending order.
type clientWindow struct {
	mu       sync.Mutex
	requests []time.Time
	evicted  bool
}

// Option is a functional option for configuring the sliding window limiter.
type Option func(*SlidingWindowLimiter)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(l *SlidingWindowLimiter) {
		if clock != nil {
			l.now = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(l *SlidingWindowLimiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewSlidingWindowLimiter creates a new in-memory sliding window limiter.
func NewSlidingWindowLimiter(limit int, window time.Duration, opts ...Option) *SlidingWindowLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}

	l := &SlidingWindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		logger: observability.NopLogger(),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the configured request limit.
func (l *SlidingWindowLimiter) Limit() int {
	return l.limit
}

// Window returns the configured window duration.
func (l *SlidingWindowLimiter) Window() time.Duration {
	return l.window
}

// Allow implements Limiter. A denied request is not recorded.
func (l *SlidingWindowLimiter) Allow(_ context.Context, key string) (*Result, error) {
	for {
		cw := l.getOrCreate(key)

		cw.mu.Lock()
		if cw.evicted {
			// Lost a race with Cleanup; the map now holds a fresh window.
			cw.mu.Unlock()
			continue
		}

		now := l.now()
		cw.prune(now.Add(-l.window))

		res := &Result{Limit: l.limit}
		if len(cw.requests) >= l.limit {
			res.RetryAfter = nonNegative(cw.requests[len(cw.requests)-l.limit].Add(l.window).Sub(now))
		} else {
			cw.requests = append(cw.requests, now)
			res.Allowed = true
		}
		res.Remaining = max(l.limit-len(cw.requests), 0)
		res.ResetAfter = nonNegative(cw.requests[0].Add(l.window).Sub(now))
		cw.mu.Unlock()

		return res, nil
	}
}

// Reset implements Limiter.
func (l *SlidingWindowLimiter) Reset(_ context.Context, key string) error {
	if v, ok := l.windows.LoadAndDelete(key); ok {
		cw := v.(*clientWindow)
		cw.mu.Lock()
		cw.evicted = true
		cw.mu.Unlock()
	}
	return nil
}

// Len returns the number of tracked clients.
func (l *SlidingWindowLimiter) Len() int {
	n := 0
	l.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Cleanup removes clients whose most recent request is older than maxAge
// and returns how many were removed.
func (l *SlidingWindowLimiter) Cleanup(maxAge time.Duration) int {
	if maxAge < l.window {
		maxAge = l.window
	}
	threshold := l.now().Add(-maxAge)

	removed := 0
	l.windows.Range(func(k, v any) bool {
		cw := v.(*clientWindow)
		cw.mu.Lock()
		if len(cw.requests) == 0 || cw.requests[len(cw.requests)-1].Before(threshold) {
			cw.evicted = true
			l.windows.Delete(k)
			removed++
		}
		cw.mu.Unlock()
		return true
	})
	return removed
}

// StartCleanup runs Cleanup every interval until Stop is called.
// Calling it more than once has no effect.
func (l *SlidingWindowLimiter) StartCleanup(interval, maxAge time.Duration) {
	if interval <= 0 {
		return
	}
	l.startOnce.Do(func() {
		l.wg.Add(1)
		go l.cleanupLoop(interval, maxAge)
	})
}

func (l *SlidingWindowLimiter) cleanupLoop(interval, maxAge time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.Cleanup(maxAge); n > 0 {
				l.logger.Debug("evicted idle rate limit windows",
					observability.Int("evicted", n),
					observability.Int("remaining", l.Len()),
				)
			}
		case <-l.stopCh:
			return
		}
	}
}

// Stop halts the cleanup goroutine and waits for it to exit.
func (l *SlidingWindowLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	l.wg.Wait()
}

// Close implements io.Closer.
func (l *SlidingWindowLimiter) Close() error {
	l.Stop()
	return nil
}

func (l *SlidingWindowLimiter) getOrCreate(key string) *clientWindow {
	if v, ok := l.windows.Load(key); ok {
		return v.(*clientWindow)
	}
	v, _ := l.windows.LoadOrStore(key, &clientWindow{})
	return v.(*clientWindow)
}

// prune drops timestamps strictly older than cutoff.
func (cw *clientWindow) prune(cutoff time.Time) {
	i := 0
	for i < len(cw.requests) && cw.requests[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		cw.requests = append(cw.requests[:0], cw.requests[i:]...)
	}
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
