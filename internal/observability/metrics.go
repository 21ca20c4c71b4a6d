package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// UnmatchedRoute is the route label used for requests that do not
// match any registered route, keeping label cardinality bounded.
const UnmatchedRoute = "unmatched"

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	activeRequests    prometheus.Gauge
	rateLimitRejected *prometheus.CounterVec
	proxyRequests     *prometheus.CounterVec
	proxyDuration     *prometheus.HistogramVec
	proxyErrors       *prometheus.CounterVec
	backendHealth     *prometheus.GaugeVec
	registryServices  prometheus.Gauge
	buildInfo         *prometheus.GaugeVec
	registry          *prometheus.Registry
}

// NewMetrics creates a new Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10, 30,
			},
		},
		[]string{"method", "route", "status"},
	)

	m.activeRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of in-flight HTTP requests",
		},
	)

	m.rateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejected_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	m.proxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Total number of requests forwarded to backend services",
		},
		[]string{"service", "status"},
	)

	m.proxyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proxy_duration_seconds",
			Help:      "Time until the backend response headers arrived",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	m.proxyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_errors_total",
			Help:      "Total number of failed forwarding attempts",
		},
		[]string{"service", "kind"},
	)

	m.backendHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_health",
			Help:      "Backend health status (1=healthy, 0=unhealthy)",
		},
		[]string{"service"},
	)

	m.registryServices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_services",
			Help:      "Number of services currently registered",
		},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information for the gateway",
		},
		[]string{"version", "commit", "build_time"},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.activeRequests,
		m.rateLimitRejected,
		m.proxyRequests,
		m.proxyDuration,
		m.proxyErrors,
		m.backendHealth,
		m.registryServices,
		m.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordRequest records a completed HTTP request.
// The route parameter should be the matched route pattern, not the raw
// request path, to prevent cardinality explosion.
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(method, route, statusStr).Inc()
	m.requestDuration.WithLabelValues(method, route, statusStr).Observe(duration.Seconds())
}

// IncActiveRequests increments the in-flight gauge.
func (m *Metrics) IncActiveRequests() { m.activeRequests.Inc() }

// DecActiveRequests decrements the in-flight gauge.
func (m *Metrics) DecActiveRequests() { m.activeRequests.Dec() }

// RecordRateLimitRejected records a request denied by the rate limiter.
// Client identities are deliberately not used as labels; they go to logs.
func (m *Metrics) RecordRateLimitRejected(route string) {
	m.rateLimitRejected.WithLabelValues(route).Inc()
}

// RecordProxyRequest records a forwarded request that received a response.
func (m *Metrics) RecordProxyRequest(service string, status int, duration time.Duration) {
	m.proxyRequests.WithLabelValues(service, strconv.Itoa(status)).Inc()
	m.proxyDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordProxyError records a forwarding failure of the given kind.
func (m *Metrics) RecordProxyError(service, kind string) {
	m.proxyErrors.WithLabelValues(service, kind).Inc()
}

// SetBackendHealth sets the health gauge of a service.
func (m *Metrics) SetBackendHealth(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.backendHealth.WithLabelValues(service).Set(value)
}

// DeleteBackendHealth drops the health series of a removed service.
func (m *Metrics) DeleteBackendHealth(service string) {
	m.backendHealth.DeleteLabelValues(service)
}

// SetRegistryServices sets the registered service count.
func (m *Metrics) SetRegistryServices(n int) {
	m.registryServices.Set(float64(n))
}

// SetBuildInfo sets the build information metric.
func (m *Metrics) SetBuildInfo(version, commit, buildTime string) {
	m.buildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
