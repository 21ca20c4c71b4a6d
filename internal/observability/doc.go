// Package observability provides logging, metrics, and tracing
// for the gateway.
//
// # Logging
//
// The Logger interface wraps zap. There is no package-level logger; a
// Logger is built once in main and handed to every component:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = logger.Sync() }()
//
//	logger.Info("service registered",
//	    observability.String("service", "hello"),
//	)
//
// # Metrics
//
// Metrics owns a dedicated Prometheus registry served by Handler:
//
//	metrics := observability.NewMetrics("gateway")
//	router.GET("/metrics", gin.WrapH(metrics.Handler()))
//
// # Tracing
//
// Tracer is disabled unless configured. When enabled it exports spans
// over OTLP gRPC and propagates W3C trace context to backends.
package observability
