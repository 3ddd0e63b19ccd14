package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quotapace/quotapace/internal/core"
)

func TestQuotaTrackerUpdateRoundTrip(t *testing.T) {
	tracker := NewQuotaTracker()
	require.True(t, tracker.IsEmpty())

	status := core.QuotaStatus{
		Limit:         180,
		Remaining:     42,
		ResetAt:       time.Date(2025, 1, 1, 0, 15, 0, 0, time.UTC),
		WindowSeconds: 900,
	}
	require.NoError(t, tracker.Update("search", status))
	require.False(t, tracker.IsEmpty())

	got, ok := tracker.Get("search")
	require.True(t, ok)
	require.Equal(t, status, got)

	replacement := core.QuotaStatus{Limit: 180, Remaining: 180}
	require.NoError(t, tracker.Update("search", replacement))
	got, ok = tracker.Get("search")
	require.True(t, ok)
	require.Equal(t, replacement, got)
}

func TestQuotaTrackerUnknownEndpoint(t *testing.T) {
	tracker := NewQuotaTracker()
	_, ok := tracker.Get("missing")
	require.False(t, ok)
}

func TestQuotaTrackerRejectsMalformed(t *testing.T) {
	cases := []struct {
		name     string
		endpoint string
		status   core.QuotaStatus
	}{
		{name: "remaining above limit", endpoint: "api", status: core.QuotaStatus{Limit: 10, Remaining: 11}},
		{name: "negative remaining", endpoint: "api", status: core.QuotaStatus{Limit: 10, Remaining: -1}},
		{name: "zero limit", endpoint: "api", status: core.QuotaStatus{Limit: 0, Remaining: 0}},
		{name: "empty endpoint", endpoint: "  ", status: core.QuotaStatus{Limit: 10, Remaining: 5}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tracker := NewQuotaTracker()
			require.NoError(t, tracker.Update("api", core.QuotaStatus{Limit: 10, Remaining: 7}))

			err := tracker.Update(tc.endpoint, tc.status)
			require.ErrorIs(t, err, core.ErrMalformedQuota)

			got, ok := tracker.Get("api")
			require.True(t, ok)
			require.Equal(t, 7, got.Remaining)
		})
	}
}

func TestQuotaTrackerCriticalEndpoints(t *testing.T) {
	tracker := NewQuotaTracker()
	require.NoError(t, tracker.Update("timeline", core.QuotaStatus{Limit: 100, Remaining: 5}))
	require.NoError(t, tracker.Update("search", core.QuotaStatus{Limit: 100, Remaining: 50}))

	critical := tracker.CriticalEndpoints(0.1)
	require.Equal(t, []core.CriticalEndpoint{{Endpoint: "timeline", RemainingRatio: 0.05}}, critical)
}

func TestQuotaTrackerCriticalSkipsFinishedWindows(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewQuotaTracker()
	tracker.clock = func() time.Time { return now }

	require.NoError(t, tracker.Update("drained", core.QuotaStatus{Limit: 100, Remaining: 0, ResetAt: now.Add(-time.Second)}))
	require.NoError(t, tracker.Update("resets-now", core.QuotaStatus{Limit: 100, Remaining: 1, ResetAt: now}))
	require.NoError(t, tracker.Update("live", core.QuotaStatus{Limit: 100, Remaining: 3, ResetAt: now.Add(time.Minute)}))
	require.NoError(t, tracker.Update("no-reset", core.QuotaStatus{Limit: 100, Remaining: 5}))

	critical := tracker.CriticalEndpoints(0.1)
	require.Len(t, critical, 2)
	require.Equal(t, "live", critical[0].Endpoint)
	require.Equal(t, "no-reset", critical[1].Endpoint)

	// The stored status is kept; only the critical view ignores it.
	_, ok := tracker.Get("drained")
	require.True(t, ok)

	tracker.Remove("drained")
	_, ok = tracker.Get("drained")
	require.False(t, ok)
}

func TestQuotaTrackerCriticalOrdering(t *testing.T) {
	tracker := NewQuotaTracker()
	require.NoError(t, tracker.Update("b", core.QuotaStatus{Limit: 100, Remaining: 8}))
	require.NoError(t, tracker.Update("a", core.QuotaStatus{Limit: 100, Remaining: 1}))
	require.NoError(t, tracker.Update("c", core.QuotaStatus{Limit: 100, Remaining: 8}))
	require.NoError(t, tracker.Update("d", core.QuotaStatus{Limit: 100, Remaining: 90}))

	critical := tracker.CriticalEndpoints(0)
	require.Len(t, critical, 3)
	require.Equal(t, "a", critical[0].Endpoint)
	require.Equal(t, "b", critical[1].Endpoint)
	require.Equal(t, "c", critical[2].Endpoint)
}

func TestQuotaTrackerRestoreSkipsInvalid(t *testing.T) {
	tracker := NewQuotaTracker()
	tracker.restore(map[string]core.QuotaStatus{
		"ok":  {Limit: 10, Remaining: 3},
		"bad": {Limit: 10, Remaining: 30},
	})

	snapshot := tracker.Snapshot()
	require.Len(t, snapshot, 1)
	require.Contains(t, snapshot, "ok")
}
