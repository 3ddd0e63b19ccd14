package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotapace/quotapace/internal/core"
)

type fakeSource struct {
	summary     core.PerformanceSummary
	quotas      map[string]core.QuotaStatus
	decision    core.Decision
	calibrating bool
}

func (f fakeSource) Summary() core.PerformanceSummary    { return f.summary }
func (f fakeSource) Quotas() map[string]core.QuotaStatus { return f.quotas }
func (f fakeSource) Decide() core.Decision               { return f.decision }
func (f fakeSource) Calibrating() bool                   { return f.calibrating }

func newFakeHandlers() *PacingHandlers {
	h := NewPacingHandlers(fakeSource{
		summary: core.PerformanceSummary{
			CurrentInterval:   150,
			AvgRemainingRatio: 0.4,
			TotalSamples:      12,
			RecentEndpoints:   []string{"search"},
		},
		quotas: map[string]core.QuotaStatus{
			"users/lookup": {Limit: 100, Remaining: 50},
			"search":       {Limit: 100, Remaining: 5},
			"trends":       {Limit: 10, Remaining: 9},
		},
		decision: core.Decision{
			Mode:            core.ModeEmergency,
			IntervalSeconds: 216,
			Critical:        []core.CriticalEndpoint{{Endpoint: "search", RemainingRatio: 0.05}},
		},
		calibrating: true,
	})
	h.clock = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return h
}

func TestPacingSummary(t *testing.T) {
	rec := httptest.NewRecorder()
	newFakeHandlers().Summary(rec, httptest.NewRequest(http.MethodGet, "/v1/pacing/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SummaryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 150, resp.CurrentInterval)
	assert.Equal(t, 12, resp.TotalSamples)
	assert.True(t, resp.Calibrating)
	assert.Equal(t, 2026, resp.GeneratedAt.Year())
}

func TestPacingQuotas(t *testing.T) {
	t.Run("sorted with default threshold", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newFakeHandlers().Quotas(rec, httptest.NewRequest(http.MethodGet, "/v1/pacing/quotas", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp QuotasResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Quotas, 3)
		assert.Equal(t, []string{"search", "trends", "users/lookup"},
			[]string{resp.Quotas[0].Endpoint, resp.Quotas[1].Endpoint, resp.Quotas[2].Endpoint})
		assert.True(t, resp.Quotas[0].Critical)
		assert.False(t, resp.Quotas[1].Critical)
		assert.InDelta(t, 0.05, resp.Quotas[0].RemainingRatio, 1e-9)
		assert.InDelta(t, 0.1, resp.Threshold, 1e-9)
	})

	t.Run("prefix and threshold", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/pacing/quotas?prefix=users/&critical=0.6", nil)
		newFakeHandlers().Quotas(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp QuotasResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "users/lookup", resp.Quotas[0].Endpoint)
		assert.True(t, resp.Quotas[0].Critical)
	})

	t.Run("invalid threshold", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/pacing/quotas?critical=2", nil)
		newFakeHandlers().Quotas(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_INPUT")
	})
}

func TestPacingDecision(t *testing.T) {
	rec := httptest.NewRecorder()
	newFakeHandlers().Decision(rec, httptest.NewRequest(http.MethodGet, "/v1/pacing/decision", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DecisionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, core.ModeEmergency, resp.Mode)
	assert.Equal(t, 216, resp.IntervalSeconds)
	require.Len(t, resp.Critical, 1)
	assert.Equal(t, "search", resp.Critical[0].Endpoint)
}

func TestPacingHandlersWithoutSource(t *testing.T) {
	rec := httptest.NewRecorder()
	NewPacingHandlers(nil).Summary(rec, httptest.NewRequest(http.MethodGet, "/v1/pacing/summary", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
