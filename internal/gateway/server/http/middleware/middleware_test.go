package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bnbong/bifrost/internal/observability"
	"github.com/bnbong/bifrost/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func observedLogger() (observability.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return observability.NewLoggerFromZap(zap.New(core)), logs
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	var seen, fromCtx string
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		seen = GetRequestID(c)
		fromCtx = observability.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/test", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, seen)
	assert.Equal(t, generated, fromCtx)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = serve(router, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "abc-123", seen)
}

func TestGetRequestID_Missing(t *testing.T) {
	t.Parallel()

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, GetRequestID(c))
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger()
	router := gin.New()
	router.Use(RequestID(), Recovery(logger))
	router.GET("/panic", func(*gin.Context) {
		panic("boom")
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error","message":"An unexpected error occurred"}`, w.Body.String())

	entries := logs.FilterMessage("panic recovered").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "boom", fields["error"])
	assert.NotEmpty(t, fields["stack"])
	assert.NotEmpty(t, fields["request_id"])
}

func TestLogging(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantLevel zapcore.Level
	}{
		{name: "success", status: http.StatusOK, wantLevel: zapcore.InfoLevel},
		{name: "client error", status: http.StatusNotFound, wantLevel: zapcore.WarnLevel},
		{name: "server error", status: http.StatusBadGateway, wantLevel: zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, logs := observedLogger()
			router := gin.New()
			router.Use(RequestID(), Logging(logger))
			router.GET("/test", func(c *gin.Context) {
				c.Status(tt.status)
			})

			serve(router, httptest.NewRequest(http.MethodGet, "/test?x=1", nil))

			started := logs.FilterMessage("request started").All()
			require.Len(t, started, 1)
			assert.NotEmpty(t, started[0].ContextMap()["request_id"])

			completed := logs.FilterMessage("request completed").All()
			require.Len(t, completed, 1)
			assert.Equal(t, tt.wantLevel, completed[0].Level)

			fields := completed[0].ContextMap()
			assert.Equal(t, int64(tt.status), fields["status"])
			assert.Equal(t, "/test", fields["path"])
			assert.Equal(t, "x=1", fields["query"])
		})
	}
}

func TestLoggingWithConfig_Skip(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger()
	router := gin.New()
	router.Use(LoggingWithConfig(LoggingConfig{
		Logger:          logger,
		SkipPaths:       []string{"/metrics"},
		SkipHealthCheck: true,
	}))
	for _, p := range []string{"/metrics", "/health", "/readyz", "/other"} {
		router.GET(p, func(c *gin.Context) { c.Status(http.StatusOK) })
	}

	serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	serve(router, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Zero(t, logs.Len())

	serve(router, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, 2, logs.Len())
}

func TestLogging_RecordsHandlerErrors(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger()
	router := gin.New()
	router.Use(Logging(logger))
	router.GET("/test", func(c *gin.Context) {
		_ = c.Error(errors.New("dial tcp: connection refused"))
		c.Status(http.StatusBadGateway)
	})

	serve(router, httptest.NewRequest(http.MethodGet, "/test", nil))

	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	assert.Contains(t, completed[0].ContextMap()["errors"], "connection refused")
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics("test")
	logger, logs := observedLogger()
	limiter := ratelimit.NewSlidingWindowLimiter(2, time.Minute)

	var calls int
	router := gin.New()
	router.Use(RateLimitWithConfig(RateLimitConfig{
		Limiter:        limiter,
		Logger:         logger,
		Metrics:        metrics,
		SkipPaths:      []string{"/health"},
		IncludeHeaders: true,
		UnmatchedRoute: "proxy",
	}))
	router.NoRoute(func(c *gin.Context) {
		calls++
		c.Status(http.StatusOK)
	})
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	request := func(path, addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = addr
		return serve(router, req)
	}

	w := request("/svc/a", "10.0.0.1:1000")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	assert.Equal(t, http.StatusOK, request("/svc/a", "10.0.0.1:1001").Code)

	w = request("/svc/a", "10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Too Many Requests","message":"Rate limit exceeded","retry_after":60}`, w.Body.String())
	assert.Equal(t, 2, calls, "denied request must not reach the handler")

	assert.Equal(t, http.StatusOK, request("/svc/a", "10.0.0.2:1000").Code, "other clients are independent")
	assert.Equal(t, http.StatusOK, request("/health", "10.0.0.1:1003").Code, "skip paths bypass the gate")

	assert.Equal(t, 1, logs.FilterMessage("rate limit exceeded").Len())
	expected := `
# HELP test_rate_limit_rejected_total Total number of requests rejected by the rate limiter
# TYPE test_rate_limit_rejected_total counter
test_rate_limit_rejected_total{route="proxy"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected),
		"test_rate_limit_rejected_total"))
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (*ratelimit.Result, error) {
	return nil, errors.New("redis down")
}

func (failingLimiter) Reset(context.Context, string) error { return nil }

func TestRateLimit_FailsOpen(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger()
	router := gin.New()
	router.Use(RateLimitWithConfig(RateLimitConfig{Limiter: failingLimiter{}, Logger: logger}))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(router, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("rate limit check failed").Len())
}

func TestRateLimit_NoHeaders(t *testing.T) {
	t.Parallel()

	router := gin.New()
	router.Use(RateLimitWithConfig(RateLimitConfig{
		Limiter: ratelimit.NewSlidingWindowLimiter(1, time.Minute),
	}))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(router, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))

	w = serve(router, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestCeilSeconds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, ceilSeconds(0))
	assert.Equal(t, 1, ceilSeconds(200*time.Millisecond))
	assert.Equal(t, 2, ceilSeconds(1100*time.Millisecond))
	assert.Equal(t, 60, ceilSeconds(time.Minute))
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	m := observability.NewMetrics("test")
	router := gin.New()
	router.Use(Metrics(m))
	router.GET("/services/:name/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.NoRoute(func(c *gin.Context) {
		if c.Request.URL.Path == "/svc/x" {
			c.Set(RouteLabelKey, "proxy")
		}
		c.Status(http.StatusNotFound)
	})

	serve(router, httptest.NewRequest(http.MethodGet, "/services/a/health", nil))
	serve(router, httptest.NewRequest(http.MethodGet, "/services/b/health", nil))
	serve(router, httptest.NewRequest(http.MethodGet, "/svc/x", nil))
	serve(router, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	expected := `
# HELP test_requests_total Total number of HTTP requests
# TYPE test_requests_total counter
test_requests_total{method="GET",route="/services/:name/health",status="200"} 2
test_requests_total{method="GET",route="proxy",status="404"} 1
test_requests_total{method="GET",route="unmatched",status="404"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"test_requests_total"))
}

func TestMetrics_Nil(t *testing.T) {
	t.Parallel()

	router := gin.New()
	router.Use(Metrics(nil))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(router, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestCORS(t *testing.T) {
	t.Parallel()

	router := gin.New()
	router.Use(CORS())
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("no origin", func(t *testing.T) {
		w := serve(router, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("simple request echoes origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := serve(router, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), RequestIDHeader)
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/anything", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "DELETE")
		req.Header.Set("Access-Control-Request-Headers", "Authorization, X-Custom")
		w := serve(router, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "DELETE", w.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Authorization, X-Custom", w.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
	})
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	t.Parallel()

	router := gin.New()
	router.Use(CORS("https://known.example.com", "https://*.trusted.io"))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		origin  string
		allowed bool
	}{
		{origin: "https://known.example.com", allowed: true},
		{origin: "https://api.trusted.io", allowed: true},
		{origin: "https://trusted.io", allowed: false},
		{origin: "https://evil.example.com", allowed: false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Origin", tt.origin)
		w := serve(router, req)

		if tt.allowed {
			assert.Equal(t, tt.origin, w.Header().Get("Access-Control-Allow-Origin"), tt.origin)
		} else {
			assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"), tt.origin)
		}
	}
}

func TestTrustedHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		allowed []string
		host    string
		want    int
	}{
		{name: "wildcard", allowed: []string{"*"}, host: "anything:8000", want: http.StatusOK},
		{name: "empty list allows all", allowed: nil, host: "anything", want: http.StatusOK},
		{name: "exact with port", allowed: []string{"gateway.local"}, host: "gateway.local:8000", want: http.StatusOK},
		{name: "case insensitive", allowed: []string{"Gateway.Local"}, host: "GATEWAY.local", want: http.StatusOK},
		{name: "subdomain", allowed: []string{"*.example.com"}, host: "api.example.com", want: http.StatusOK},
		{name: "bare domain not a subdomain", allowed: []string{"*.example.com"}, host: "example.com", want: http.StatusBadRequest},
		{name: "ipv6", allowed: []string{"::1"}, host: "[::1]:8000", want: http.StatusOK},
		{name: "rejected", allowed: []string{"gateway.local"}, host: "evil.com", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router := gin.New()
			router.Use(TrustedHost(tt.allowed))
			router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Host = tt.host
			w := serve(router, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusBadRequest {
				assert.JSONEq(t, `{"error":"Bad Request","message":"Invalid host header"}`, w.Body.String())
			}
		})
	}
}

func TestTracing_Disabled(t *testing.T) {
	t.Parallel()

	router := gin.New()
	router.Use(Tracing(observability.NopTracer()))

	var span any
	router.GET("/x", func(c *gin.Context) {
		span = GetSpan(c)
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(router, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
	assert.Nil(t, span)
}

func TestTracing_Enabled(t *testing.T) {
	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  "bifrost-test",
		SamplingRate: 1.0,
		Enabled:      true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })

	const parent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

	var traceID string
	router := gin.New()
	router.Use(Tracing(tracer))
	router.GET("/x", func(c *gin.Context) {
		require.NotNil(t, GetSpan(c))
		traceID = observability.TraceIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("traceparent", parent)
	serve(router, req)

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", traceID)
}
