package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quotapace/quotapace/internal/core"
	"github.com/quotapace/quotapace/internal/core/store"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// StatusReport is what `quotapace status` prints.
type StatusReport struct {
	Backend   string                  `json:"backend"`
	UpdatedAt time.Time               `json:"updated_at"`
	Summary   core.PerformanceSummary `json:"summary"`
	Decision  core.Decision           `json:"decision"`
	Quotas    []QuotaRow              `json:"quotas"`
}

// QuotaRow is one endpoint quota with its derived ratio.
type QuotaRow struct {
	Endpoint       string    `json:"endpoint"`
	Limit          int       `json:"limit"`
	Remaining      int       `json:"remaining"`
	RemainingRatio float64   `json:"remaining_ratio"`
	ResetAt        time.Time `json:"reset_at"`
	Critical       bool      `json:"critical"`
}

// Formatter renders pacing views.
type Formatter interface {
	FormatStatus(report *StatusReport) (string, error)
	FormatQuotas(rows []QuotaRow) (string, error)
	FormatCalibration(result *core.CalibrationResult) (string, error)
	FormatCalibrations(records []store.CalibrationRecord) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// QuotaRows flattens entries into rows sorted by endpoint, flagging those
// below threshold.
func QuotaRows(entries []store.QuotaEntry, threshold float64) []QuotaRow {
	rows := make([]QuotaRow, 0, len(entries))
	for _, entry := range entries {
		ratio := entry.Status.RemainingRatio()
		rows = append(rows, QuotaRow{
			Endpoint:       entry.Endpoint,
			Limit:          entry.Status.Limit,
			Remaining:      entry.Status.Remaining,
			RemainingRatio: ratio,
			ResetAt:        entry.Status.ResetAt,
			Critical:       ratio < threshold,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Endpoint < rows[j].Endpoint })
	return rows
}

// QuotaRowsFromMap is QuotaRows for a controller snapshot.
func QuotaRowsFromMap(quotas map[string]core.QuotaStatus, threshold float64) []QuotaRow {
	entries := make([]store.QuotaEntry, 0, len(quotas))
	for endpoint, status := range quotas {
		entries = append(entries, store.QuotaEntry{Endpoint: endpoint, Status: status})
	}
	return QuotaRows(entries, threshold)
}

func formatRatio(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.UTC().Format(time.RFC3339)
}

func formatSeconds(seconds int) string {
	return (time.Duration(seconds) * time.Second).String()
}

func criticalLabel(row QuotaRow) string {
	if row.Critical {
		return "critical"
	}
	return "ok"
}

func calibrationStatus(result *core.CalibrationResult) string {
	switch {
	case result.Aborted:
		return "aborted"
	case result.Fallback:
		return "fallback"
	default:
		return "complete"
	}
}

func endpointsLabel(endpoints []string) string {
	if len(endpoints) == 0 {
		return "-"
	}
	return strings.Join(endpoints, ", ")
}
