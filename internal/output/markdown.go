package output

import (
	"fmt"
	"strings"

	"github.com/quotapace/quotapace/internal/core"
	"github.com/quotapace/quotapace/internal/core/store"
)

// MarkdownFormatter renders views as markdown tables.
type MarkdownFormatter struct{}

func (f *MarkdownFormatter) FormatStatus(report *StatusReport) (string, error) {
	if report == nil {
		return "", nil
	}

	s := report.Summary
	var sb strings.Builder
	sb.WriteString("## Pacing status\n\n")
	fmt.Fprintf(&sb, "- **Interval**: %s (%s, next wait %s)\n",
		formatSeconds(s.CurrentInterval), report.Decision.Mode, formatSeconds(report.Decision.IntervalSeconds))
	fmt.Fprintf(&sb, "- **Profile**: %s\n", profileLabel(s.Config))
	fmt.Fprintf(&sb, "- **Remaining**: avg %s, target %s\n",
		formatRatio(s.AvgRemainingRatio), formatRatio(s.TargetRemainingRatio))
	fmt.Fprintf(&sb, "- **Samples**: %d\n", s.TotalSamples)
	fmt.Fprintf(&sb, "- **Backend**: %s\n", escapeMarkdownCell(report.Backend))

	if len(report.Quotas) > 0 {
		quotas, err := f.FormatQuotas(report.Quotas)
		if err != nil {
			return "", err
		}
		sb.WriteString("\n")
		sb.WriteString(quotas)
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatQuotas(rows []QuotaRow) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Endpoint | Remaining | Limit | Ratio | Resets | Status |\n")
	sb.WriteString("|----------|-----------|-------|-------|--------|--------|\n")
	for _, row := range rows {
		fmt.Fprintf(&sb, "| %s | %d | %d | %s | %s | %s |\n",
			escapeMarkdownCell(row.Endpoint),
			row.Remaining,
			row.Limit,
			formatRatio(row.RemainingRatio),
			formatTime(row.ResetAt),
			criticalLabel(row))
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatCalibration(result *core.CalibrationResult) (string, error) {
	if result == nil {
		return "", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Calibration %s\n\n", calibrationStatus(result))
	sb.WriteString("| Interval | Cycles | Errors | Success |\n")
	sb.WriteString("|----------|--------|--------|---------|\n")
	for _, trial := range result.Trials {
		fmt.Fprintf(&sb, "| %s | %d | %d | %s |\n",
			formatSeconds(trial.IntervalSeconds), trial.Cycles, trial.Errors, formatRatio(trial.SuccessRate))
	}
	fmt.Fprintf(&sb, "\n**Optimal**: %s (%s)\n", formatSeconds(result.Optimal), result.Recommendation)
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatCalibrations(records []store.CalibrationRecord) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Run | Finished | Optimal | Recommendation | Status |\n")
	sb.WriteString("|-----|----------|---------|----------------|--------|\n")
	for _, record := range records {
		result := record.Result
		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
			shortID(result.RunID),
			formatTime(record.FinishedAt),
			formatSeconds(result.Optimal),
			escapeMarkdownCell(result.Recommendation),
			calibrationStatus(&result))
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
