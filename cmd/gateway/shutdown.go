package main

import (
	"context"
	"errors"
	"io"
	"os/signal"
	"syscall"

	"github.com/bnbong/bifrost/internal/config"
	"github.com/bnbong/bifrost/internal/observability"
)

// runGateway runs the gateway until SIGINT/SIGTERM or a serve error and
// then shuts it down.
func runGateway(app *application, logger observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serveUntilDone(ctx, app, logger)
}

// serveUntilDone starts app and blocks until ctx is done or the server
// fails. Shutdown runs in both cases.
func serveUntilDone(ctx context.Context, app *application, logger observability.Logger) error {
	errCh, err := app.start(ctx)
	if err != nil {
		app.shutdown(context.Background())
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("HTTP server failed", observability.Error(serveErr))
		}
	}

	app.shutdown(context.Background())
	return serveErr
}

// shutdown drains in-flight requests and releases resources in reverse
// dependency order. Every step runs even when an earlier one fails.
func (a *application) shutdown(parent context.Context) {
	timeout := a.config.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	a.health.SetDraining(true)

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to stop HTTP server gracefully", observability.Error(err))
	}

	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			a.logger.Warn("failed to stop services watcher", observability.Error(err))
		}
	}

	if a.prober != nil {
		a.prober.Stop()
	}

	if closer, ok := a.limiter.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Error("failed to close rate limiter", observability.Error(err))
		}
	}

	a.pool.CloseIdleConnections()

	if err := a.tracer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	a.logger.Info("gateway stopped")
}
