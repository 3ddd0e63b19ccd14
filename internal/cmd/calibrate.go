package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quotapace/quotapace/internal/core/engine"
	"github.com/quotapace/quotapace/internal/observability"
	"github.com/quotapace/quotapace/internal/output"
)

const historyWriteTimeout = 5 * time.Second

var (
	calibrateURL      string
	calibrateDuration time.Duration
	calibrateHistory  int
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Search for the shortest interval the API tolerates",
	Long: `Calibrate walks a ladder of candidate intervals (15s to 180s by default),
probing the target a few times at each rung. The shortest rung with a success
rate of at least 80% becomes the new interval. A quota rejection pauses the run
for pacing.calibration_cooldown before the next probe.

Interrupting the run keeps the previous interval. Use --history to list past
runs instead of starting one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		ctx, stop := interruptContext(cmd.Context())
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		backend, err := openBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		sink, err := commandSink(cmd, format, "calibration")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()
		formatter := output.NewFormatter(format)

		if calibrateHistory > 0 {
			records, err := backend.ListCalibrations(ctx, calibrateHistory)
			if err != nil {
				return err
			}
			rendered, err := formatter.FormatCalibrations(records)
			if err != nil {
				return err
			}
			return writeRendered(sink, rendered)
		}

		var urls []string
		if calibrateURL != "" {
			urls = []string{calibrateURL}
		}
		targets, err := resolveTargets(cfg, urls)
		if err != nil {
			return err
		}
		target := targets[0]

		duration := cfg.Pacing.CalibrationDuration
		if cmd.Flags().Changed("duration") {
			duration = calibrateDuration
		}

		logger := observability.CLILogger
		controller, err := newController(ctx, cfg, backend, newProber(cfg.Probe, target), logger)
		if err != nil {
			return err
		}

		logger.Info("Calibrating",
			zap.String("target", target.Name),
			zap.Duration("duration", duration),
			zap.Int("current_interval", controller.Interval()))

		result, err := controller.Calibrate(ctx, duration)
		if err != nil {
			if errors.Is(err, engine.ErrWaitCanceled) || errors.Is(err, context.Canceled) {
				logger.Warn("Calibration interrupted; interval unchanged",
					zap.Int("trials", len(result.Trials)),
					zap.Int("interval", controller.Interval()))
			}
			return fmt.Errorf("calibration: %w", err)
		}

		// The run context may be ending; the history write gets its own budget.
		recordCtx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		defer cancel()
		if err := backend.RecordCalibration(recordCtx, result, time.Now().UTC()); err != nil {
			logger.Warn("Failed to record calibration history", zap.Error(err))
		}

		rendered, err := formatter.FormatCalibration(&result)
		if err != nil {
			return err
		}
		return writeRendered(sink, rendered)
	},
}

// interruptContext ends on SIGINT or SIGTERM.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func init() {
	rootCmd.AddCommand(calibrateCmd)
	calibrateCmd.Flags().StringVar(&calibrateURL, "url", "", "Target URL (default: first configured probe target)")
	calibrateCmd.Flags().DurationVar(&calibrateDuration, "duration", 30*time.Minute, "Time budget for the run (0 for no limit)")
	calibrateCmd.Flags().IntVar(&calibrateHistory, "history", 0, "List the N most recent runs instead of calibrating")
	addOutputFlags(calibrateCmd)
}
