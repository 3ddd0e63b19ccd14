package output

import (
	"github.com/goccy/go-json"

	"github.com/quotapace/quotapace/internal/core"
	"github.com/quotapace/quotapace/internal/core/store"
)

// JSONFormatter renders views as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatStatus(report *StatusReport) (string, error) {
	if report == nil {
		return "", nil
	}
	return f.encode(report)
}

func (f *JSONFormatter) FormatQuotas(rows []QuotaRow) (string, error) {
	if rows == nil {
		rows = []QuotaRow{}
	}
	return f.encode(rows)
}

func (f *JSONFormatter) FormatCalibration(result *core.CalibrationResult) (string, error) {
	if result == nil {
		return "", nil
	}
	return f.encode(result)
}

func (f *JSONFormatter) FormatCalibrations(records []store.CalibrationRecord) (string, error) {
	if records == nil {
		records = []store.CalibrationRecord{}
	}
	return f.encode(records)
}

func (f *JSONFormatter) encode(value any) (string, error) {
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
