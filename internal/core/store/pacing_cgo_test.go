//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quotapace/quotapace/internal/config"
	"github.com/quotapace/quotapace/internal/core"
)

func openMemoryBackend(t *testing.T) Backend {
	t.Helper()
	backend, err := OpenBackend(context.Background(), config.StoreConfig{Driver: "libsql", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func sampleState() *core.ControllerState {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := core.NewControllerState()
	state.CurrentInterval = 75
	state.Config.Aggressive = true
	state.Config.MinInterval = 15
	state.UpdatedAt = base.Add(5 * time.Minute)
	state.Samples = []core.PerformanceSample{
		{Timestamp: base, Endpoint: "search/recent", RemainingRatio: 0.4, IntervalSeconds: 90, ResetAt: base.Add(15 * time.Minute)},
		{Timestamp: base.Add(90 * time.Second), Endpoint: "users/tweets", RemainingRatio: 0.35, IntervalSeconds: 75},
	}
	state.Quotas = map[string]core.QuotaStatus{
		"search/recent": {Limit: 180, Remaining: 72, ResetAt: base.Add(15 * time.Minute), WindowSeconds: 900},
		"users/tweets":  {Limit: 900, Remaining: 315},
	}
	return state
}

func TestLibsqlPacingStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := openMemoryBackend(t)

	loaded, err := backend.LoadPacingState(ctx)
	require.NoError(t, err)
	require.Nil(t, loaded)

	state := sampleState()
	require.NoError(t, backend.SavePacingState(ctx, state))

	loaded, err = backend.LoadPacingState(ctx)
	require.NoError(t, err)
	require.Equal(t, state, loaded)

	// A second save replaces rather than appends.
	state.Samples = state.Samples[1:]
	delete(state.Quotas, "users/tweets")
	require.NoError(t, backend.SavePacingState(ctx, state))

	loaded, err = backend.LoadPacingState(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Samples, 1)
	require.Len(t, loaded.Quotas, 1)
}

func TestLibsqlStateAdmin(t *testing.T) {
	ctx := context.Background()
	backend := openMemoryBackend(t)
	require.NoError(t, backend.SavePacingState(ctx, sampleState()))

	entries, err := backend.ListQuotas(ctx, StateQuery{Prefix: "search"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 72, entries[0].Status.Remaining)

	count, err := backend.CountQuotas(ctx, StateQuery{All: true})
	require.NoError(t, err)
	require.Equal(t, 2, count)

	summary, err := backend.ResetState(ctx, StateQuery{Endpoint: "users/tweets"})
	require.NoError(t, err)
	require.Equal(t, ResetSummary{Quotas: 1, Samples: 1}, summary)

	loaded, err := backend.LoadPacingState(ctx)
	require.NoError(t, err)
	require.Equal(t, 75, loaded.CurrentInterval)
	require.Len(t, loaded.Samples, 1)

	summary, err = backend.ResetState(ctx, StateQuery{All: true})
	require.NoError(t, err)
	require.True(t, summary.State)

	loaded, err = backend.LoadPacingState(ctx)
	require.NoError(t, err)
	require.Nil(t, loaded)

	_, err = backend.ResetState(ctx, StateQuery{})
	require.Error(t, err)
}

func TestLibsqlCalibrationHistory(t *testing.T) {
	ctx := context.Background()
	backend := openMemoryBackend(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := core.CalibrationResult{RunID: "run-1", Optimal: 60, Recommendation: "speed", Duration: 20 * time.Minute,
		Trials: []core.CalibrationTrial{{IntervalSeconds: 60, Cycles: 5, SuccessRate: 1, FinishedAt: base}}}
	second := core.CalibrationResult{RunID: "run-2", Optimal: 120, Fallback: true, Recommendation: "balanced", Duration: time.Hour,
		Trials: []core.CalibrationTrial{}}

	require.NoError(t, backend.RecordCalibration(ctx, first, base))
	require.NoError(t, backend.RecordCalibration(ctx, second, base.Add(time.Hour)))
	require.NoError(t, backend.RecordCalibration(ctx, first, base))

	records, err := backend.ListCalibrations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "run-2", records[0].Result.RunID)
	require.True(t, records[0].Result.Fallback)
	require.Equal(t, first, records[1].Result)

	records, err = backend.ListCalibrations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
}
