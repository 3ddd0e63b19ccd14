package metrics

import (
	"strconv"
	"time"

	"github.com/quotapace/quotapace/internal/core"
	"github.com/quotapace/quotapace/internal/core/engine"
	"github.com/quotapace/quotapace/internal/observability"
)

// Pacing metrics following Prometheus conventions
const (
	IntervalSeconds          = "pacing_interval_seconds"
	IntervalChangesTotal     = "pacing_interval_changes_total"
	QuotaExceededTotal       = "pacing_quota_exceeded_total"
	QuotaRemainingRatio      = "pacing_quota_remaining_ratio"
	WaitDuration             = "pacing_wait_duration_ms"
	WaitsTotal               = "pacing_waits_total"
	CalibrationsTotal        = "pacing_calibrations_total"
	CalibrationOptimal       = "pacing_calibration_optimal_seconds"
	ProbesTotal              = "pacing_probes_total"
	ServerStartTime          = "app_server_start_time_seconds"
	HealthCheckTotal         = "app_health_check_total"
	HealthCheckDurationMilli = "app_health_check_duration_ms"
)

// PacingRecorder forwards controller events to the telemetry system. The
// zero value is ready to use and drops events when telemetry is disabled.
type PacingRecorder struct{}

var _ engine.Recorder = PacingRecorder{}

// IntervalChanged records the new interval and why it moved.
func (PacingRecorder) IntervalChanged(from, to int, reason string) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	_ = sys.Gauge(IntervalSeconds, float64(to), nil)
	direction := "up"
	if to < from {
		direction = "down"
	}
	_ = sys.Counter(IntervalChangesTotal, 1, map[string]string{
		"reason":    reason,
		"direction": direction,
	})
}

// QuotaExceeded counts a rejected call for endpoint.
func (PacingRecorder) QuotaExceeded(endpoint string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(QuotaExceededTotal, 1, map[string]string{"endpoint": endpoint})
	}
}

// WaitFinished records how long a pre-call wait lasted.
func (PacingRecorder) WaitFinished(waited time.Duration, mode core.PacingMode, canceled bool) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	tags := map[string]string{
		"mode":     string(mode),
		"canceled": strconv.FormatBool(canceled),
	}
	_ = sys.Histogram(WaitDuration, waited, tags)
	_ = sys.Counter(WaitsTotal, 1, tags)
}

// CalibrationFinished records a committed calibration outcome.
func (PacingRecorder) CalibrationFinished(result core.CalibrationResult) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	_ = sys.Counter(CalibrationsTotal, 1, map[string]string{
		"fallback":       strconv.FormatBool(result.Fallback),
		"aborted":        strconv.FormatBool(result.Aborted),
		"recommendation": result.Recommendation,
	})
	_ = sys.Gauge(CalibrationOptimal, float64(result.Optimal), nil)
}

// RecordQuota publishes the last known remaining ratio for endpoint.
func RecordQuota(endpoint string, status core.QuotaStatus) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(QuotaRemainingRatio, status.RemainingRatio(), map[string]string{"endpoint": endpoint})
	}
}

// RecordProbe counts one paced call by outcome.
func RecordProbe(target string, outcome string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(ProbesTotal, 1, map[string]string{
			"target":  target,
			"outcome": outcome,
		})
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	_ = sys.Counter(HealthCheckTotal, 1, map[string]string{
		"check":  checkName,
		"status": status,
	})
	_ = sys.Histogram(HealthCheckDurationMilli, duration, map[string]string{"check": checkName})
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}
