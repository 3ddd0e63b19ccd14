package cmd

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/quotapace/quotapace/internal/config"
	"github.com/quotapace/quotapace/internal/core/engine"
	"github.com/quotapace/quotapace/internal/core/store"
	errwrap "github.com/quotapace/quotapace/internal/errors"
	"github.com/quotapace/quotapace/internal/metrics"
	"github.com/quotapace/quotapace/internal/observability"
	"github.com/quotapace/quotapace/internal/server"
	"github.com/quotapace/quotapace/internal/server/handlers"
)

const defaultShutdownTimeout = 10 * time.Second

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker fails when metrics are enabled but the exporter is down.
type telemetryHealthChecker struct {
	enabled bool
}

func (t telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if !t.enabled {
		return nil
	}
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

func storeHealthChecker(backend store.Backend) handlers.CheckerFunc {
	return func(ctx context.Context) error {
		if _, err := backend.CountQuotas(ctx, store.StateQuery{All: true}); err != nil {
			return errwrap.WrapStoreError(ctx, err, "state store unreachable")
		}
		return nil
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Pace configured targets and serve pacing status over HTTP",
	Long: `Serve runs the pacing loop against every configured probe target and
exposes the controller over HTTP: /v1/pacing/summary, /v1/pacing/quotas and
/v1/pacing/decision, plus health probes and Prometheus metrics.

With no targets configured only the status endpoints are served.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config file reload`,
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		cfg, err := loadConfig()
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "invalid configuration")
		}

		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, namespace)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}

		backend, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return errwrap.WrapStoreError(cmd.Context(), err, "state store unavailable")
		}

		targets := cfg.Probe.Targets
		var prober engine.Prober
		if len(targets) > 0 {
			prober = newProber(cfg.Probe, targets[0])
		}
		controller, err := newController(cmd.Context(), cfg, backend, prober, logger)
		if err != nil {
			_ = backend.Close()
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "invalid pacing configuration")
		}

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("store", backend.Describe()),
			zap.Int("targets", len(targets)),
			zap.Int("interval", controller.Interval()))

		srv := server.New(server.Options{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
			Version:      versionInfo.Version,
			Pacing:       controller,
			Checkers: map[string]handlers.HealthChecker{
				"store":     storeHealthChecker(backend),
				"telemetry": telemetryHealthChecker{enabled: cfg.Metrics.Enabled},
			},
			MetricsPort: cfg.Metrics.Port,
		})
		handlers.SetAppIdentity(identity)

		runCtx, cancelRun := context.WithCancel(context.Background())
		var workers sync.WaitGroup
		workers.Add(1)
		go func() {
			defer workers.Done()
			pace(runCtx, cfg, controller, backend, logger)
		}()

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = defaultShutdownTimeout
		}

		// Handlers run LIFO: the server stops first, the logger flushes last.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Stopping pacing loop...")
			cancelRun()
			workers.Wait()
			if err := backend.Close(); err != nil {
				return errwrap.WrapStoreError(ctx, err, "state store close failed")
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			return reloadConfig(ctx, logger)
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		metrics.SetServerStartTime(time.Now().Unix())

		errChan := make(chan error, 2)
		go func() {
			errChan <- srv.Start()
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			cancelRun()
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}
		return nil
	},
}

// pace runs the optional startup calibration and then the pacing loop until
// ctx ends.
func pace(ctx context.Context, cfg *config.Config, controller *engine.Controller, backend store.Backend, logger *logging.Logger) {
	if len(cfg.Probe.Targets) == 0 {
		logger.Info("No probe targets configured; serving status only")
		return
	}

	if cfg.Pacing.CalibrateOnStart {
		result, err := controller.Calibrate(ctx, cfg.Pacing.CalibrationDuration)
		switch {
		case err == nil:
			recordCtx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
			if err := backend.RecordCalibration(recordCtx, result, time.Now().UTC()); err != nil {
				logger.Warn("Failed to record calibration history", zap.Error(err))
			}
			cancel()
		case errors.Is(err, context.Canceled), errors.Is(err, engine.ErrWaitCanceled):
			return
		default:
			logger.Warn("Startup calibration failed; keeping current interval", zap.Error(err))
		}
	}

	runner := &engine.Runner{
		Controller: controller,
		Targets:    newTargets(cfg.Probe, cfg.Probe.Targets),
		OnResult: func(result engine.CallResult) {
			if result.Err != nil {
				logger.Warn("Paced call failed",
					zap.String("target", result.Target),
					zap.Int("interval", result.Interval),
					zap.Error(result.Err))
			}
		},
	}
	if err := runner.Run(ctx); err != nil {
		logger.Error("Pacing loop stopped", zap.Error(err))
	}
}

func reloadConfig(ctx context.Context, logger *logging.Logger) error {
	logger.Info("Received SIGHUP: attempting config reload")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			logger.Info("No config file found - using defaults and environment variables")
			return nil
		}
		logger.Error("Failed to reload config file",
			zap.String("file", viper.ConfigFileUsed()),
			zap.Error(err))
		return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
	}

	logger.Info("Configuration reloaded successfully; pacing changes apply on restart",
		zap.String("file", viper.ConfigFileUsed()))
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
