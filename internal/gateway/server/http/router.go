package http

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/bnbong/bifrost/internal/gateway/server/http/middleware"
	"github.com/bnbong/bifrost/internal/health"
	"github.com/bnbong/bifrost/internal/observability"
	"github.com/bnbong/bifrost/internal/ratelimit"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions
var ginModeOnce sync.Once

// RouterConfig wires the dispatcher's collaborators.
type RouterConfig struct {
	Registry  ServiceRegistry
	Forwarder Forwarder
	Limiter   ratelimit.Limiter
	KeyFunc   ratelimit.KeyFunc
	Health    *health.Checker
	Logger    observability.Logger
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer

	BasePath           string
	Version            string
	Environment        string
	MetricsPath        string
	RateLimitSkipPaths []string
	RateLimitHeaders   bool
	AllowedOrigins     []string
	AllowedHosts       []string
	MaxBodySize        int64
}

// NewRouter builds the gin engine of the gateway.
//
// Middleware runs in a fixed order: panic recovery, request ID, tracing,
// the rate limit gate, request logging, metrics, CORS, trusted hosts. The
// gate therefore rejects before any backend I/O and logging covers the
// whole proxied lifecycle. Core routes are mounted under BasePath; every
// other path under it falls through to the proxy.
func NewRouter(cfg RouterConfig) *gin.Engine {
	ginModeOnce.Do(func() {
		if gin.Mode() == gin.DebugMode {
			gin.SetMode(gin.ReleaseMode)
		}
	})

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	engine := gin.New()
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false
	engine.HandleMethodNotAllowed = false
	engine.UseRawPath = true
	engine.UnescapePathValues = false

	engine.Use(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Tracing(cfg.Tracer),
		middleware.RateLimitWithConfig(middleware.RateLimitConfig{
			Limiter:        cfg.Limiter,
			KeyFunc:        cfg.KeyFunc,
			Logger:         logger,
			Metrics:        cfg.Metrics,
			SkipPaths:      cfg.RateLimitSkipPaths,
			IncludeHeaders: cfg.RateLimitHeaders,
			UnmatchedRoute: ProxyRoute,
		}),
		middleware.LoggingWithConfig(middleware.LoggingConfig{
			Logger:          logger,
			SkipHealthCheck: true,
			SkipPaths:       []string{cfg.MetricsPath},
		}),
		middleware.Metrics(cfg.Metrics),
		middleware.CORS(cfg.AllowedOrigins...),
		middleware.TrustedHost(cfg.AllowedHosts),
	)
	if cfg.MaxBodySize > 0 {
		engine.Use(maxBodySize(cfg.MaxBodySize))
	}

	h := NewHandler(cfg.Registry, cfg.Forwarder, cfg.BasePath, logger)

	engine.GET("/", welcome(cfg.Version, cfg.Environment, h.basePath))
	if cfg.Health != nil {
		cfg.Health.RegisterRoutes(engine)
	}
	if cfg.Metrics != nil && cfg.MetricsPath != "" {
		engine.GET(cfg.MetricsPath, gin.WrapH(cfg.Metrics.Handler()))
	}

	api := engine.Group(h.basePath)
	api.GET("/services", h.ListServices)
	api.GET("/services/:name/health", h.ServiceHealth)

	admin := api.Group("/admin")
	admin.POST("/services", h.AddService)
	admin.DELETE("/services/:name", h.RemoveService)

	engine.NoRoute(h.Proxy)

	return engine
}

// welcome serves GET /.
func welcome(version, environment, basePath string) gin.HandlerFunc {
	body := gin.H{
		"message":  "Welcome to Bifrost API Gateway",
		"version":  version,
		"api_base": basePath + "/",
	}
	if environment != "" {
		body["environment"] = environment
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, body)
	}
}

// maxBodySize caps request bodies. A declared length over the limit is
// rejected up front; a chunked body fails once it streams past the limit
// and writeError answers 413.
func maxBodySize(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   http.StatusText(http.StatusRequestEntityTooLarge),
				"message": "Request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
