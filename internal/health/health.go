// Package health reports gateway liveness and readiness.
//
// Liveness only says the process is serving. Readiness runs registered
// checks (registry populated, rate limit store reachable) and turns
// unhealthy while the gateway drains for shutdown.
package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnbong/bifrost/internal/observability"
)

// Status represents the health status.
type Status string

const (
	// StatusHealthy indicates the gateway is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the gateway should not receive traffic.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the gateway serves traffic with reduced function.
	StatusDegraded Status = "degraded"
)

// DefaultReadinessTimeout bounds a readiness evaluation.
const DefaultReadinessTimeout = 5 * time.Second

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    Status    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse is the body of GET /ready.
type ReadinessResponse struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Check is the result of one readiness check.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// CheckFunc performs a readiness check.
type CheckFunc func(ctx context.Context) Check

// Checker aggregates readiness checks.
type Checker struct {
	service   string
	version   string
	startTime time.Time
	logger    observability.Logger
	timeout   time.Duration

	mu       sync.RWMutex
	checks   map[string]CheckFunc
	draining atomic.Bool
}

// NewChecker creates a new health checker.
func NewChecker(service, version string, logger observability.Logger) *Checker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Checker{
		service:   service,
		version:   version,
		startTime: time.Now(),
		logger:    logger,
		timeout:   DefaultReadinessTimeout,
		checks:    make(map[string]CheckFunc),
	}
}

// RegisterCheck registers a readiness check under name.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// UnregisterCheck removes a readiness check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// SetDraining marks the gateway as shutting down.
func (c *Checker) SetDraining(draining bool) {
	c.draining.Store(draining)
}

// IsDraining reports whether the gateway is shutting down.
func (c *Checker) IsDraining() bool {
	return c.draining.Load()
}

// Health returns the liveness document.
func (c *Checker) Health() HealthResponse {
	return HealthResponse{
		Status:    StatusHealthy,
		Service:   c.service,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}
}

// Readiness runs every check concurrently and aggregates the worst status.
func (c *Checker) Readiness(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check),
		Timestamp: time.Now().UTC(),
	}

	if c.IsDraining() {
		resp.Status = StatusUnhealthy
		resp.Checks["draining"] = Check{Status: StatusUnhealthy, Message: "gateway is shutting down"}
		return resp
	}

	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, fn := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()

			check := fn(ctx)
			if check.Status != StatusHealthy {
				c.logger.Warn("readiness check not healthy",
					observability.String("check", name),
					observability.String("status", string(check.Status)),
					observability.String("message", check.Message),
				)
			}

			mu.Lock()
			defer mu.Unlock()
			resp.Checks[name] = check
			switch {
			case check.Status == StatusUnhealthy:
				resp.Status = StatusUnhealthy
			case check.Status == StatusDegraded && resp.Status != StatusUnhealthy:
				resp.Status = StatusDegraded
			}
		}()
	}
	wg.Wait()

	return resp
}
