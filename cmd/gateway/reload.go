package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alo17/secgateway/internal/config"
	"github.com/alo17/secgateway/internal/observability"
)

// reloadMetrics holds Prometheus metrics for configuration reloads. A nil
// *reloadMetrics is a no-op.
type reloadMetrics struct {
	reloadTotal       *prometheus.CounterVec
	reloadLastSuccess prometheus.Gauge
	watcherRunning    prometheus.Gauge
}

// newReloadMetrics registers reload metrics with m's registry. It returns nil
// when metrics are disabled.
func newReloadMetrics(m *observability.Metrics, namespace string) *reloadMetrics {
	if m == nil {
		return nil
	}

	rm := &reloadMetrics{
		reloadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_total",
				Help:      "Total number of configuration reloads by result",
			},
			[]string{"result"},
		),
		reloadLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_reload_last_success_timestamp",
				Help:      "Timestamp of the last successful configuration reload",
			},
		),
		watcherRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_watcher_running",
				Help:      "Whether the configuration file watcher is running (1=running, 0=stopped)",
			},
		),
	}

	m.Registry().MustRegister(rm.reloadTotal, rm.reloadLastSuccess, rm.watcherRunning)
	return rm
}

func (rm *reloadMetrics) recordReload(ok bool) {
	if rm == nil {
		return
	}
	if !ok {
		rm.reloadTotal.WithLabelValues("error").Inc()
		return
	}
	rm.reloadTotal.WithLabelValues("success").Inc()
	rm.reloadLastSuccess.SetToCurrentTime()
}

func (rm *reloadMetrics) setWatcherRunning(running bool) {
	if rm == nil {
		return
	}
	if running {
		rm.watcherRunning.Set(1)
		return
	}
	rm.watcherRunning.Set(0)
}

// startConfigWatcher watches configPath and applies the hot-updatable part
// of each valid change. Listener, store and log format settings need a
// restart.
func startConfigWatcher(ctx context.Context, app *application, configPath string) *config.Watcher {
	logger := app.logger.Named("reload")

	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		app.applyConfig(newCfg)
	},
		config.WithLogger(logger),
		config.WithErrorCallback(func(err error) {
			app.reloadMetrics.recordReload(false)
		}),
	)
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		app.reloadMetrics.setWatcherRunning(false)
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		_ = watcher.Stop()
		app.reloadMetrics.setWatcherRunning(false)
		return nil
	}

	app.reloadMetrics.setWatcherRunning(true)
	return watcher
}

// applyConfig swaps the gateway configuration and the log level.
func (app *application) applyConfig(newCfg *config.Config) {
	start := time.Now()

	if err := app.gateway.UpdateConfig(newCfg.GatewayConfig()); err != nil {
		app.logger.Error("failed to apply reloaded configuration", observability.Error(err))
		app.reloadMetrics.recordReload(false)
		return
	}

	if err := app.admin.SetAllowList(newCfg.Admin.AllowIPs); err != nil {
		app.logger.Warn("failed to apply admin allow-list", observability.Error(err))
	}

	if newCfg.Logging.Level != app.config.Logging.Level {
		if err := app.logger.SetLevel(newCfg.Logging.Level); err != nil {
			app.logger.Warn("failed to apply log level", observability.Error(err))
		} else {
			app.config.Logging.Level = newCfg.Logging.Level
		}
	}

	app.reloadMetrics.recordReload(true)
	app.logger.Info("configuration applied",
		observability.Duration("duration", time.Since(start)),
	)
}
