package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/quotapace/quotapace/internal/core"
	"github.com/quotapace/quotapace/internal/core/store"
)

// TableFormatter renders views as ASCII tables.
type TableFormatter struct{}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

// FormatStatus renders the summary as key/value rows followed by the quota table.
func (f *TableFormatter) FormatStatus(report *StatusReport) (string, error) {
	if report == nil {
		return "", nil
	}

	s := report.Summary
	t := newTable()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Backend", report.Backend},
		{"Updated", formatTime(report.UpdatedAt)},
		{"Interval", formatSeconds(s.CurrentInterval)},
		{"Mode", string(report.Decision.Mode)},
		{"Next wait", formatSeconds(report.Decision.IntervalSeconds)},
		{"Profile", profileLabel(s.Config)},
		{"Bounds", fmt.Sprintf("%s - %s", formatSeconds(s.Config.MinInterval), formatSeconds(s.Config.MaxInterval))},
		{"Target remaining", formatRatio(s.TargetRemainingRatio)},
		{"Avg remaining", formatRatio(s.AvgRemainingRatio)},
		{"Avg interval", fmt.Sprintf("%.1fs", s.AvgInterval)},
		{"Efficiency", fmt.Sprintf("%.2f", s.EfficiencyScore)},
		{"Samples", s.TotalSamples},
		{"Recent endpoints", endpointsLabel(s.RecentEndpoints)},
	})
	rendered := t.Render()

	if len(report.Quotas) > 0 {
		quotas, err := f.FormatQuotas(report.Quotas)
		if err != nil {
			return "", err
		}
		rendered += "\n" + quotas
	}
	return rendered, nil
}

func (f *TableFormatter) FormatQuotas(rows []QuotaRow) (string, error) {
	t := newTable()
	t.AppendHeader(table.Row{"Endpoint", "Remaining", "Limit", "Ratio", "Resets", "Status"})
	for _, row := range rows {
		t.AppendRow(table.Row{
			row.Endpoint,
			row.Remaining,
			row.Limit,
			formatRatio(row.RemainingRatio),
			formatTime(row.ResetAt),
			criticalLabel(row),
		})
	}
	if len(rows) == 0 {
		t.AppendRow(table.Row{"(none)", "", "", "", "", ""})
	}
	return t.Render(), nil
}

func (f *TableFormatter) FormatCalibration(result *core.CalibrationResult) (string, error) {
	if result == nil {
		return "", nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"Interval", "Cycles", "Errors", "Success", "Finished"})
	for _, trial := range result.Trials {
		t.AppendRow(table.Row{
			formatSeconds(trial.IntervalSeconds),
			trial.Cycles,
			trial.Errors,
			formatRatio(trial.SuccessRate),
			formatTime(trial.FinishedAt),
		})
	}
	t.AppendFooter(table.Row{
		"Optimal " + formatSeconds(result.Optimal),
		result.Recommendation,
		calibrationStatus(result),
		result.Duration.Round(time.Second).String(),
		"",
	})
	return t.Render(), nil
}

func (f *TableFormatter) FormatCalibrations(records []store.CalibrationRecord) (string, error) {
	t := newTable()
	t.AppendHeader(table.Row{"Run", "Finished", "Optimal", "Recommendation", "Trials", "Status"})
	for _, record := range records {
		result := record.Result
		t.AppendRow(table.Row{
			shortID(result.RunID),
			formatTime(record.FinishedAt),
			formatSeconds(result.Optimal),
			result.Recommendation,
			len(result.Trials),
			calibrationStatus(&result),
		})
	}
	if len(records) == 0 {
		t.AppendRow(table.Row{"(none)", "", "", "", "", ""})
	}
	return t.Render(), nil
}

func profileLabel(cfg core.ControllerConfig) string {
	if cfg.Aggressive {
		return core.SpeedProfile.Name
	}
	return core.StabilityProfile.Name
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}
