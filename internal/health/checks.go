package health

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sony/gobreaker"
)

// Counter reports how many entries something holds.
type Counter interface {
	Len() int
}

// RegistryCheck is degraded while no services are registered: the gateway
// serves its own routes but can proxy nothing.
func RegistryCheck(registry Counter) CheckFunc {
	return func(context.Context) Check {
		n := registry.Len()
		if n == 0 {
			return Check{Status: StatusDegraded, Message: "no services registered"}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d services registered", n)}
	}
}

// Pinger is implemented by the redis rate limit store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerState reports a circuit breaker's state.
type BreakerState interface {
	State() gobreaker.State
}

// RateLimitStoreCheck is degraded when the shared store is unreachable or
// its breaker is open, since admission then falls back to per-instance windows.
func RateLimitStoreCheck(store Pinger, breaker BreakerState) CheckFunc {
	return func(ctx context.Context) Check {
		if breaker != nil && breaker.State() == gobreaker.StateOpen {
			return Check{Status: StatusDegraded, Message: "rate limit store circuit open"}
		}
		if err := store.Ping(ctx); err != nil {
			return Check{Status: StatusDegraded, Message: "rate limit store unreachable: " + err.Error()}
		}
		return Check{Status: StatusHealthy}
	}
}

// BackendStatus reports the last health result per service.
type BackendStatus interface {
	Status() map[string]bool
}

// BackendsCheck is degraded while any checked service is unhealthy. Proxying
// to healthy services continues, so it never reports unhealthy.
func BackendsCheck(backends BackendStatus) CheckFunc {
	return func(context.Context) Check {
		status := backends.Status()

		var down []string
		for name, healthy := range status {
			if !healthy {
				down = append(down, name)
			}
		}
		if len(down) == 0 {
			return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d services healthy", len(status))}
		}
		slices.Sort(down)
		return Check{Status: StatusDegraded, Message: "unhealthy services: " + strings.Join(down, ", ")}
	}
}
