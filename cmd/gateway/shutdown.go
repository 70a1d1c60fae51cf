package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/alo17/secgateway/internal/config"
	"github.com/alo17/secgateway/internal/observability"
)

// run starts the server and the config watcher and blocks until a shutdown
// signal or a serve failure.
func run(app *application, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Requests keep their own contexts so a signal drains them instead of
	// cancelling them.
	if err := app.server.Start(context.Background()); err != nil {
		_ = app.close()
		return err
	}

	var watcher *config.Watcher
	if configPath != "" {
		watcher = startConfigWatcher(ctx, app, configPath)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		app.logger.Info("received shutdown signal")
	case err, ok := <-app.server.Errors():
		if ok {
			serveErr = err
		}
	}

	app.shutdown(watcher)
	return serveErr
}

// shutdown drains the server and releases every component.
func (app *application) shutdown(watcher *config.Watcher) {
	logger := app.logger

	app.health.SetDraining(true)

	timeout := app.config.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warn("failed to stop config watcher", observability.Error(err))
		}
		app.reloadMetrics.setWatcherRunning(false)
	}

	if err := app.server.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop server gracefully", observability.Error(err))
	}

	if err := app.tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	if err := app.close(); err != nil {
		logger.Error("failed to release resources", observability.Error(err))
	}

	logger.Info("gateway stopped")
}
