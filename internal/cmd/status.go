package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quotapace/quotapace/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted pacing state",
	Long: `Show the current interval, the performance summary over recent samples,
the decision the next call would get and every tracked endpoint quota.

Nothing is written back to the store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		backend, err := openBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		controller, err := newController(ctx, cfg, readOnlyState{backend: backend}, nil, nil)
		if err != nil {
			return err
		}

		report := &output.StatusReport{
			Backend:   backend.Describe(),
			UpdatedAt: controller.State().UpdatedAt,
			Summary:   controller.Summary(),
			Decision:  controller.Decide(),
			Quotas:    output.QuotaRowsFromMap(controller.Quotas(), cfg.Pacing.CriticalThreshold),
		}

		rendered, err := output.NewFormatter(format).FormatStatus(report)
		if err != nil {
			return err
		}

		sink, err := commandSink(cmd, format, "status")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()
		return writeRendered(sink, rendered)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	addOutputFlags(statusCmd)
}
