package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quotapace/quotapace/internal/core"
	"github.com/quotapace/quotapace/internal/observability"
)

func TestRecorderWithoutTelemetry(t *testing.T) {
	observability.TelemetrySystem = nil

	var recorder PacingRecorder
	require.NotPanics(t, func() {
		recorder.IntervalChanged(120, 180, "quota_exceeded")
		recorder.QuotaExceeded("search")
		recorder.WaitFinished(time.Second, core.ModeNormal, false)
		recorder.CalibrationFinished(core.CalibrationResult{Optimal: 60})
		RecordQuota("search", core.QuotaStatus{Limit: 100, Remaining: 50})
		RecordProbe("search", "ok")
		RecordError("INTERNAL", 500)
		RecordPanic()
	})
}

func TestRecorderWithTelemetry(t *testing.T) {
	require.NoError(t, observability.InitMetrics("quotapace_metrics_test", 0))
	t.Cleanup(func() { _ = observability.ShutdownMetrics() })

	var recorder PacingRecorder
	require.NotPanics(t, func() {
		recorder.IntervalChanged(120, 96, "recompute")
		recorder.QuotaExceeded("search")
		recorder.WaitFinished(30*time.Second, core.ModeEmergency, true)
		recorder.CalibrationFinished(core.CalibrationResult{Optimal: 60, Recommendation: "speed"})
		RecordQuota("search", core.QuotaStatus{Limit: 100, Remaining: 50})
		RecordProbe("search", "quota_exceeded")
		RecordHealthCheck("store", true, 5*time.Millisecond)
		SetServerStartTime(time.Now().Unix())
		RecordErrorByEndpoint("/v1/pacing/summary", "INTERNAL")
	})
}
