package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/quotapace/quotapace/internal/core/store"
	"github.com/quotapace/quotapace/internal/output"
)

var (
	stateListPrefix string

	stateResetAll      bool
	stateResetEndpoint string
	stateResetPrefix   string
	stateResetYes      bool
	stateResetDryRun   bool
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or reset persisted pacing state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted endpoint quotas",
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

		query := store.StateQuery{Prefix: strings.TrimSpace(stateListPrefix)}
		if query.Prefix == "" {
			query.All = true
		}
		entries, err := backend.ListQuotas(ctx, query)
		if err != nil {
			return err
		}

		rows := output.QuotaRows(entries, cfg.Pacing.CriticalThreshold)
		rendered, err := output.NewFormatter(format).FormatQuotas(rows)
		if err != nil {
			return err
		}

		sink, err := commandSink(cmd, format, "state.list")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if format == output.FormatTable {
			header := fmt.Sprintf("Pacing state\n\nbackend: %s\nendpoints: %d", backend.Describe(), len(rows))
			if _, err := fmt.Fprint(sink.writer, ascii.DrawBox(header, 0)); err != nil {
				return err
			}
		}
		return writeRendered(sink, rendered)
	},
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset persisted pacing state",
	Long: `Reset removes persisted endpoint quotas. With --all the learned interval
and performance samples are dropped too, so the next run starts from the
configured initial interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if format != output.FormatJSON && format != output.FormatTable {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		query := store.StateQuery{
			All:      stateResetAll,
			Endpoint: strings.TrimSpace(stateResetEndpoint),
			Prefix:   strings.TrimSpace(stateResetPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !stateResetYes && !stateResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
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

		matched, err := backend.CountQuotas(ctx, query)
		if err != nil {
			return err
		}

		sink, err := commandSink(cmd, format, "state.reset")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if stateResetDryRun {
			return writeStateResetResult(format, sink.writer, matched, store.ResetSummary{}, true)
		}

		summary, err := backend.ResetState(ctx, query)
		if err != nil {
			return err
		}
		return writeStateResetResult(format, sink.writer, matched, summary, false)
	},
}

func writeStateResetResult(format output.Format, w io.Writer, matched int, summary store.ResetSummary, dryRun bool) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(map[string]any{
			"matched": matched,
			"deleted": summary,
			"dry_run": dryRun,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d endpoint quota(s)\n", matched)
		return err
	}
	if _, err := fmt.Fprintf(w, "Deleted %d/%d endpoint quota(s)\n", summary.Quotas, matched); err != nil {
		return err
	}
	if summary.State {
		_, err := fmt.Fprintf(w, "Dropped learned interval and %d sample(s)\n", summary.Samples)
		return err
	}
	return nil
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateResetCmd)

	stateListCmd.Flags().StringVar(&stateListPrefix, "prefix", "", "List endpoints with matching prefix")
	addOutputFlags(stateListCmd)

	stateResetCmd.Flags().BoolVar(&stateResetAll, "all", false, "Reset all endpoints and the learned interval")
	stateResetCmd.Flags().StringVar(&stateResetEndpoint, "endpoint", "", "Reset a single endpoint (exact match)")
	stateResetCmd.Flags().StringVar(&stateResetPrefix, "prefix", "", "Reset endpoints with matching prefix")
	stateResetCmd.Flags().BoolVar(&stateResetYes, "yes", false, "Confirm destructive reset")
	stateResetCmd.Flags().BoolVar(&stateResetDryRun, "dry-run", false, "Show what would be deleted")
	addOutputFlags(stateResetCmd)
}
