package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnbong/bifrost/internal/config"
	"github.com/bnbong/bifrost/internal/health"
	"github.com/bnbong/bifrost/internal/observability"
	"github.com/bnbong/bifrost/internal/ratelimit"
)

func testConfig(t *testing.T) *config.GatewayConfig {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.Address = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = config.Duration(5 * time.Second)
	cfg.Registry.ServicesPath = filepath.Join(t.TempDir(), "services.json")
	cfg.Registry.SeedDefaults = false
	return cfg
}

func writeServices(t *testing.T, path string, services map[string]string) {
	t.Helper()

	doc := make(map[string]map[string]any, len(services))
	for name, url := range services {
		doc[name] = map[string]any{"url": url, "health_check": "/health", "timeout": 5}
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestApplication_ServesAndShutsDown(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "backend saw "+r.URL.Path)
	}))
	defer upstream.Close()

	cfg := testConfig(t)
	writeServices(t, cfg.Registry.ServicesPath, map[string]string{"echo": upstream.URL})

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)

	errCh, err := app.start(context.Background())
	require.NoError(t, err)
	base := "http://" + app.server.Addr().String()

	resp, body := get(t, base+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"service":"bifrost"`)

	resp, body = get(t, base+"/api/v1/services")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"echo"`)

	resp, body = get(t, base+"/api/v1/echo/ping")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "backend saw /ping", body)
	assert.Equal(t, strconv.Itoa(config.DefaultRateLimitRequests), resp.Header.Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, body = get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "gateway_requests_total")
	assert.Contains(t, body, "gateway_proxy_requests_total")

	app.shutdown(context.Background())

	assert.True(t, app.health.IsDraining())
	assert.False(t, app.server.IsRunning())
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestApplication_MetricsDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Observability.Metrics.Enabled = false

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)
	_, err = app.start(context.Background())
	require.NoError(t, err)
	defer app.shutdown(context.Background())

	resp, _ := get(t, "http://"+app.server.Addr().String()+"/metrics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApplication_WatchReloadsServices(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Registry.Watch = true
	writeServices(t, cfg.Registry.ServicesPath, map[string]string{"first": "http://first.internal"})

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)
	require.NotNil(t, app.watcher)

	_, err = app.start(context.Background())
	require.NoError(t, err)
	defer app.shutdown(context.Background())

	_, ok := app.registry.Lookup("first")
	require.True(t, ok)

	writeServices(t, cfg.Registry.ServicesPath, map[string]string{
		"first":  "http://first.internal",
		"second": "http://second.internal",
	})

	assert.Eventually(t, func() bool {
		_, ok := app.registry.Lookup("second")
		return ok
	}, 5*time.Second, 20*time.Millisecond)
}

func TestApplication_HealthProber(t *testing.T) {
	t.Parallel()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	cfg := testConfig(t)
	cfg.Registry.HealthCheckInterval = config.Duration(50 * time.Millisecond)
	writeServices(t, cfg.Registry.ServicesPath, map[string]string{"flaky": down.URL})

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)
	require.NotNil(t, app.prober)

	_, err = app.start(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		check, ok := app.health.Readiness(context.Background()).Checks["backends"]
		return ok && check.Status == health.StatusDegraded && check.Message == "unhealthy services: flaky"
	}, 5*time.Second, 20*time.Millisecond)
	app.shutdown(context.Background())

	cfg = testConfig(t)
	app, err = newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)
	assert.Nil(t, app.prober)
	app.shutdown(context.Background())
}

func TestApplication_RedisStoreReadiness(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.RateLimit.Store = config.StoreRedis
	cfg.RateLimit.Redis.URL = "redis://" + mr.Addr()

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)
	defer app.shutdown(context.Background())

	_, ok := app.limiter.(*ratelimit.RedisLimiter)
	require.True(t, ok)

	ready := app.health.Readiness(context.Background())
	require.Contains(t, ready.Checks, "rate_limit_store")
	assert.Equal(t, health.StatusHealthy, ready.Checks["rate_limit_store"].Status)
	assert.Equal(t, health.StatusDegraded, ready.Checks["registry"].Status)

	mr.Close()
	ready = app.health.Readiness(context.Background())
	assert.Equal(t, health.StatusDegraded, ready.Checks["rate_limit_store"].Status)
}

func TestNewApplication_RedisUnavailableWithoutFallback(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.RateLimit.Store = config.StoreRedis
	cfg.RateLimit.Redis.URL = "redis://127.0.0.1:1"
	cfg.RateLimit.Redis.Timeout = config.Duration(100 * time.Millisecond)
	cfg.RateLimit.Redis.Fallback = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := newApplication(ctx, cfg, observability.NopLogger())
	assert.Error(t, err)
}

func TestServeUntilDone_StopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, serveUntilDone(ctx, app, observability.NopLogger()))
	assert.False(t, app.server.IsRunning())
	assert.True(t, app.health.IsDraining())
}

func TestServeUntilDone_ListenFailure(t *testing.T) {
	t.Parallel()

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig(t)
	cfg.Server.Port = taken.Addr().(*net.TCPAddr).Port

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)

	err = serveUntilDone(context.Background(), app, observability.NopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestMetricsPath(t *testing.T) {
	t.Parallel()

	assert.Empty(t, metricsPath(config.MetricsConfig{Enabled: false, Path: "/metrics"}))
	assert.Equal(t, config.DefaultMetricsPath, metricsPath(config.MetricsConfig{Enabled: true}))
	assert.Equal(t, "/internal/metrics", metricsPath(config.MetricsConfig{Enabled: true, Path: "/internal/metrics"}))
}

func TestInitTracer(t *testing.T) {
	t.Parallel()

	tracer, err := initTracer(config.TracingConfig{})
	require.NoError(t, err)
	assert.False(t, tracer.Enabled())

	tracer, err = initTracer(config.TracingConfig{Enabled: true, SamplingRate: 1})
	require.NoError(t, err)
	assert.True(t, tracer.Enabled())
	assert.NoError(t, tracer.Shutdown(context.Background()))
}
