package main

import (
	"context"
	"fmt"

	"github.com/bnbong/bifrost/internal/backend"
	"github.com/bnbong/bifrost/internal/config"
	httpserver "github.com/bnbong/bifrost/internal/gateway/server/http"
	"github.com/bnbong/bifrost/internal/health"
	"github.com/bnbong/bifrost/internal/observability"
	"github.com/bnbong/bifrost/internal/proxy"
	"github.com/bnbong/bifrost/internal/ratelimit"
)

// serviceName identifies the gateway in health reports and metrics.
const serviceName = "bifrost"

// application holds all application components.
type application struct {
	config   *config.GatewayConfig
	logger   observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	pool     *backend.ConnectionPool
	registry *backend.Registry
	prober   *backend.HealthProber
	watcher  *config.Watcher
	limiter  ratelimit.Limiter
	health   *health.Checker
	server   *httpserver.Server
}

// newApplication wires every component from cfg. Nothing is started.
func newApplication(
	ctx context.Context,
	cfg *config.GatewayConfig,
	logger observability.Logger,
) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	app.metrics = observability.NewMetrics("gateway")
	app.metrics.SetBuildInfo(version, gitCommit, buildTime)

	tracer, err := initTracer(cfg.Observability.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	app.tracer = tracer

	app.pool = backend.NewConnectionPool(backend.PoolConfigFromConfig(cfg.Proxy))
	app.registry = backend.NewRegistry(
		backend.WithLogger(logger),
		backend.WithMetrics(app.metrics),
		backend.WithSeedDefaults(cfg.Registry.SeedDefaults),
		backend.WithHealthClient(app.pool.Client()),
		backend.WithHealthCheckTimeout(cfg.Registry.HealthCheckTimeout.Duration()),
	)
	app.registry.Initialize(cfg.Registry.ServicesPath)

	if cfg.Registry.Watch {
		app.watcher, err = config.NewWatcher(cfg.Registry.ServicesPath, app.registry.Reload,
			config.WithLogger(logger),
			config.WithErrorCallback(func(err error) {
				logger.Warn("services snapshot reload failed, keeping current registry",
					observability.Error(err))
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create services watcher: %w", err)
		}
	}

	if interval := cfg.Registry.HealthCheckInterval.Duration(); interval > 0 {
		app.prober = backend.NewHealthProber(app.registry, interval,
			backend.WithProberLogger(logger),
			backend.WithProberMetrics(app.metrics),
		)
	}

	app.limiter, err = ratelimit.NewFromConfig(ctx, cfg.RateLimit, logger)
	if err != nil {
		app.releaseWatcher()
		return nil, err
	}

	engine := proxy.NewEngine(app.registry, app.pool.Client(),
		proxy.WithLogger(logger),
		proxy.WithMetrics(app.metrics),
		proxy.WithTracer(app.tracer),
	)

	app.health = health.NewChecker(serviceName, version, logger)
	app.health.RegisterCheck("registry", health.RegistryCheck(app.registry))
	if app.prober != nil {
		app.health.RegisterCheck("backends", health.BackendsCheck(app.prober))
	}
	if rl, ok := app.limiter.(*ratelimit.RedisLimiter); ok {
		app.health.RegisterCheck("rate_limit_store", health.RateLimitStoreCheck(rl.Store(), rl.Breaker()))
	}

	router := httpserver.NewRouter(httpserver.RouterConfig{
		Registry:           app.registry,
		Forwarder:          engine,
		Limiter:            app.limiter,
		KeyFunc:            ratelimit.NewClientIPExtractor(cfg.RateLimit.TrustedProxies).KeyFunc(),
		Health:             app.health,
		Logger:             logger,
		Metrics:            app.metrics,
		Tracer:             app.tracer,
		BasePath:           cfg.Server.BasePath,
		Version:            version,
		Environment:        cfg.Server.Environment,
		MetricsPath:        metricsPath(cfg.Observability.Metrics),
		RateLimitSkipPaths: cfg.RateLimit.SkipPaths,
		RateLimitHeaders:   cfg.RateLimit.Headers,
		AllowedOrigins:     cfg.Security.AllowedOrigins,
		AllowedHosts:       cfg.Security.AllowedHosts,
		MaxBodySize:        cfg.Server.MaxBodySize,
	})

	app.server = httpserver.NewServer(httpserver.ServerConfigFromConfig(cfg.Server), router, logger)

	return app, nil
}

// initTracer initializes the tracer.
func initTracer(cfg config.TracingConfig) (*observability.Tracer, error) {
	tracerCfg := observability.TracerConfig{
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.Endpoint,
		SamplingRate: cfg.SamplingRate,
		Enabled:      cfg.Enabled,
	}
	if tracerCfg.ServiceName == "" {
		tracerCfg.ServiceName = serviceName
	}
	return observability.NewTracer(tracerCfg)
}

// metricsPath returns where /metrics is mounted, or "" when disabled.
func metricsPath(cfg config.MetricsConfig) string {
	if !cfg.Enabled {
		return ""
	}
	if cfg.Path == "" {
		return config.DefaultMetricsPath
	}
	return cfg.Path
}

// start binds the listener and launches background workers. Serve errors
// are delivered on the returned channel.
func (a *application) start(ctx context.Context) (<-chan error, error) {
	if err := a.server.Listen(); err != nil {
		return nil, err
	}

	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			a.logger.Warn("failed to watch services snapshot, hot reload disabled",
				observability.String("path", a.config.Registry.ServicesPath),
				observability.Error(err),
			)
		}
	}
	if a.prober != nil {
		a.prober.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Serve()
	}()

	a.logger.Info("gateway started",
		observability.String("address", a.server.Addr().String()),
		observability.String("base_path", a.config.Server.BasePath),
		observability.Int("services", a.registry.Len()),
		observability.String("rate_limit_store", a.config.RateLimit.Store),
	)
	return errCh, nil
}

func (a *application) releaseWatcher() {
	if a.watcher != nil {
		_ = a.watcher.Stop()
	}
}
