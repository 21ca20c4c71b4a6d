package backend

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bnbong/bifrost/internal/observability"
)

// Health check default configuration constants.
const (
	// DefaultHealthCheckTimeout is the default timeout for health check requests.
	DefaultHealthCheckTimeout = 5 * time.Second

	// DefaultHealthCheckInterval is the default interval between background probes.
	DefaultHealthCheckInterval = 30 * time.Second
)

// maxHealthBodyDrain bounds how much of a health response is read so the
// connection can be reused.
const maxHealthBodyDrain = 64 << 10

// HealthCheck probes the service's health endpoint. It returns true only
// for a 2xx response; unknown services, transport errors, timeouts, and
// other statuses all yield false.
func (r *Registry) HealthCheck(ctx context.Context, name string) bool {
	d, ok := r.Lookup(name)
	if !ok {
		return false
	}
	return r.probe(ctx, d)
}

func (r *Registry) probe(ctx context.Context, d Descriptor) bool {
	ctx, cancel := context.WithTimeout(ctx, r.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.HealthURL(), http.NoBody)
	if err != nil {
		r.logger.Debug("health check request invalid",
			observability.String("service", d.Name),
			observability.Error(err),
		)
		return false
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("health check failed",
			observability.String("service", d.Name),
			observability.String("url", d.HealthURL()),
			observability.Duration("elapsed", time.Since(start)),
			observability.Error(err),
		)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxHealthBodyDrain))

	healthy := resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
	if !healthy {
		r.logger.Debug("health check returned non-success status",
			observability.String("service", d.Name),
			observability.Int("status", resp.StatusCode),
		)
	}
	return healthy
}

// HealthProber periodically checks every registered service.
type HealthProber struct {
	registry  *Registry
	interval  time.Duration
	logger    observability.Logger
	metrics   *observability.Metrics
	stopCh    chan struct{}
	stoppedCh chan struct{}
	running   bool
	mu        sync.Mutex

	statusMu sync.RWMutex
	status   map[string]bool
}

// ProberOption is a functional option for configuring the prober.
type ProberOption func(*HealthProber)

// WithProberLogger sets the logger for the prober.
func WithProberLogger(logger observability.Logger) ProberOption {
	return func(p *HealthProber) {
		p.logger = logger
	}
}

// WithProberMetrics exports results as the backend health gauge.
func WithProberMetrics(metrics *observability.Metrics) ProberOption {
	return func(p *HealthProber) {
		p.metrics = metrics
	}
}

// NewHealthProber creates a prober for all services in registry.
func NewHealthProber(registry *Registry, interval time.Duration, opts ...ProberOption) *HealthProber {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}
	p := &HealthProber{
		registry:  registry,
		interval:  interval,
		logger:    observability.NopLogger(),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		status:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start starts probing in the background.
func (p *HealthProber) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	go p.run(ctx)
}

// Stop stops probing and waits for the loop to exit.
func (p *HealthProber) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.stoppedCh
}

// Status returns the last observed health of each probed service.
func (p *HealthProber) Status() map[string]bool {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()

	out := make(map[string]bool, len(p.status))
	for k, v := range p.status {
		out[k] = v
	}
	return out
}

func (p *HealthProber) run(ctx context.Context) {
	defer close(p.stoppedCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.checkAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.checkAll(ctx)
		}
	}
}

// checkAll probes all services concurrently.
func (p *HealthProber) checkAll(ctx context.Context) {
	snap := p.registry.List()

	results := make(map[string]bool, len(snap))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for name, d := range snap {
		wg.Add(1)
		go func() {
			defer wg.Done()
			healthy := p.registry.probe(ctx, d)

			resultsMu.Lock()
			results[name] = healthy
			resultsMu.Unlock()

			if p.metrics != nil {
				p.metrics.SetBackendHealth(name, healthy)
			}
		}()
	}
	wg.Wait()

	p.statusMu.Lock()
	previous := p.status
	p.status = results
	p.statusMu.Unlock()

	for name, was := range previous {
		now, still := results[name]
		switch {
		case !still:
			continue
		case was && !now:
			p.logger.Warn("service became unhealthy", observability.String("service", name))
		case !was && now:
			p.logger.Info("service became healthy", observability.String("service", name))
		}
	}
}
