package backend

import (
	"errors"
	"io/fs"
	"maps"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnbong/bifrost/internal/observability"
)

// Registry is the in-memory directory of backend services.
type Registry struct {
	services atomic.Pointer[Snapshot]
	// mu serializes writers; readers only load the pointer.
	mu sync.Mutex

	logger        observability.Logger
	metrics       *observability.Metrics
	seedDefaults  bool
	client        *http.Client
	healthTimeout time.Duration
}

// RegistryOption is a functional option for configuring the registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger for the registry.
func WithLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics enables registry gauges.
func WithMetrics(metrics *observability.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = metrics
	}
}

// WithSeedDefaults controls whether Initialize falls back to
// DefaultServices when the snapshot file does not exist.
func WithSeedDefaults(seed bool) RegistryOption {
	return func(r *Registry) {
		r.seedDefaults = seed
	}
}

// WithHealthClient sets the HTTP client used for health checks.
func WithHealthClient(client *http.Client) RegistryOption {
	return func(r *Registry) {
		r.client = client
	}
}

// WithHealthCheckTimeout bounds each health check request.
func WithHealthCheckTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		if timeout > 0 {
			r.healthTimeout = timeout
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger:        observability.NopLogger(),
		seedDefaults:  true,
		client:        http.DefaultClient,
		healthTimeout: DefaultHealthCheckTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	empty := make(Snapshot)
	r.services.Store(&empty)
	return r
}

// Initialize loads the services snapshot at path. It never fails: a
// missing file seeds the built-in defaults (if enabled) and any other
// load error leaves the registry empty.
func (r *Registry) Initialize(path string) {
	snap, err := LoadSnapshot(path)
	switch {
	case err == nil:
		r.Replace(snap)
		r.logger.Info("loaded services snapshot",
			observability.String("path", path),
			observability.Int("services", len(snap)),
		)

	case errors.Is(err, fs.ErrNotExist):
		if r.seedDefaults {
			r.Replace(DefaultServices())
		} else {
			r.Replace(Snapshot{})
		}
		r.logger.Info("services snapshot not found, using built-in services",
			observability.String("path", path),
			observability.Int("services", r.Len()),
		)

	default:
		r.Replace(Snapshot{})
		r.logger.Error("failed to load services snapshot, starting with an empty registry",
			observability.String("path", path),
			observability.Error(err),
		)
	}
}

// Reload replaces the registry with the snapshot at path. On error the
// current contents are kept.
func (r *Registry) Reload(path string) error {
	snap, err := LoadSnapshot(path)
	if err != nil {
		return err
	}
	r.Replace(snap)
	r.logger.Info("services snapshot reloaded",
		observability.String("path", path),
		observability.Int("services", len(snap)),
	)
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := (*r.services.Load())[name]
	return d, ok
}

// Add validates cfg and inserts or replaces the service. On error the
// registry is left unchanged.
func (r *Registry) Add(name string, cfg ServiceConfig) error {
	d, err := NewDescriptor(name, cfg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	next := maps.Clone(*r.services.Load())
	_, replaced := next[name]
	next[name] = d
	r.store(next)
	r.mu.Unlock()

	r.logger.Info("service registered",
		observability.String("service", name),
		observability.String("url", d.BaseURL),
		observability.Bool("replaced", replaced),
	)
	return nil
}

// Remove deletes the service. It reports whether an entry existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	current := *r.services.Load()
	if _, ok := current[name]; !ok {
		r.mu.Unlock()
		return false
	}
	next := maps.Clone(current)
	delete(next, name)
	r.store(next)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.DeleteBackendHealth(name)
	}
	r.logger.Info("service removed",
		observability.String("service", name),
	)
	return true
}

// List returns a copy of the current contents.
func (r *Registry) List() Snapshot {
	return maps.Clone(*r.services.Load())
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	return len(*r.services.Load())
}

// Replace swaps the whole registry for a copy of s.
func (r *Registry) Replace(s Snapshot) {
	next := maps.Clone(s)
	if next == nil {
		next = make(Snapshot)
	}

	r.mu.Lock()
	r.store(next)
	r.mu.Unlock()
}

// store publishes next. Callers must hold r.mu.
func (r *Registry) store(next Snapshot) {
	r.services.Store(&next)
	if r.metrics != nil {
		r.metrics.SetRegistryServices(len(next))
	}
}
