package cmd

import (
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quotapace/quotapace/internal/core/engine"
	"github.com/quotapace/quotapace/internal/observability"
	"github.com/quotapace/quotapace/internal/output"
)

var (
	runURLs       []string
	runIterations int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Call one or more targets at the learned pace",
	Long: `Run calls each target in its own loop, waiting the controller's interval
before every call and feeding the response's quota headers back into it.
All targets share one interval, so a target running low slows the others.

Without --iterations the loop runs until interrupted. Progress is printed one
line per call; --output-format json prints one JSON object per line.`,
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
		targets, err := resolveTargets(cfg, runURLs)
		if err != nil {
			return err
		}
		backend, err := openBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		logger := observability.CLILogger
		controller, err := newController(ctx, cfg, backend, nil, logger)
		if err != nil {
			return err
		}

		sink, err := commandSink(cmd, format, "run")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		progress := &progressWriter{w: sink.writer, format: format}
		runner := &engine.Runner{
			Controller: controller,
			Targets:    newTargets(cfg.Probe, targets),
			Iterations: runIterations,
			OnResult:   progress.write,
		}

		logger.Info("Pacing run started",
			zap.Int("targets", len(targets)),
			zap.Int("iterations", runIterations),
			zap.Int("interval", controller.Interval()))

		if err := runner.Run(ctx); err != nil {
			return fmt.Errorf("run: %w", err)
		}

		summary := controller.Summary()
		logger.Info("Pacing run finished",
			zap.Int("interval", summary.CurrentInterval),
			zap.Int("samples", summary.TotalSamples),
			zap.Float64("avg_remaining_ratio", summary.AvgRemainingRatio))
		return nil
	},
}

// progressWriter serializes per-call lines from concurrent target loops.
type progressWriter struct {
	mu     sync.Mutex
	w      io.Writer
	format output.Format
}

type progressLine struct {
	engine.CallResult
	Error string `json:"error,omitempty"`
}

func (p *progressWriter) write(result engine.CallResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.format == output.FormatJSON {
		line := progressLine{CallResult: result}
		if result.Err != nil {
			line.Error = result.Err.Error()
		}
		payload, err := json.Marshal(line)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintln(p.w, string(payload))
		return
	}

	quota := "no quota headers"
	if result.Status != nil {
		quota = fmt.Sprintf("%d/%d remaining", result.Status.Remaining, result.Status.Limit)
	}
	outcome := "ok"
	if result.Err != nil {
		outcome = result.Err.Error()
	}
	_, _ = fmt.Fprintf(p.w, "%s #%d  %s  next=%ds  %s\n",
		result.Target, result.Iteration, quota, result.Interval, outcome)
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringArrayVar(&runURLs, "url", nil, "Target URL (repeatable; default: configured probe targets)")
	runCmd.Flags().IntVar(&runIterations, "iterations", 0, "Calls per target (0 runs until interrupted)")
	addOutputFlags(runCmd)
}
