package integration

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotapace/quotapace/internal/core"
	"github.com/quotapace/quotapace/internal/core/engine"
	"github.com/quotapace/quotapace/internal/core/store"
	"github.com/quotapace/quotapace/internal/metrics"
	"github.com/quotapace/quotapace/internal/observability"
	"github.com/quotapace/quotapace/internal/probe"
	"github.com/quotapace/quotapace/internal/server"
	"github.com/quotapace/quotapace/internal/server/handlers"
)

func instantAfter(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func newPacedController(t *testing.T, backend store.Backend, prober engine.Prober) *engine.Controller {
	t.Helper()
	return engine.NewController(context.Background(), engine.Options{
		Store:    backend,
		Prober:   prober,
		Recorder: metrics.PacingRecorder{},
		After:    instantAfter,
	})
}

func TestPacingLoop_PersistsAndServes(t *testing.T) {
	observability.InitServerLogger("itest", "warn")
	t.Cleanup(func() { observability.ServerLogger = nil })

	upstream := quotaUpstream(t, 10)
	statePath := filepath.Join(t.TempDir(), "state.json")

	backend, err := store.OpenFile(statePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	controller := newPacedController(t, backend, nil)
	runner := &engine.Runner{
		Controller: controller,
		Targets: []engine.Target{{
			Name:   "upstream",
			Prober: &probe.HTTPProber{Client: upstream.Client(), URL: upstream.URL},
		}},
		Iterations: 6,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, runner.Run(ctx))

	quota, ok := controller.Quota("upstream")
	require.True(t, ok)
	assert.Equal(t, 10, quota.Limit)
	assert.Equal(t, 4, quota.Remaining)

	ts, client := newTestServer(t, server.Options{Pacing: controller})

	resp, err := client.Get(ts.URL + "/v1/pacing/quotas")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var quotas handlers.QuotasResponse
	require.NoError(t, json.Unmarshal(body, &quotas))
	require.Equal(t, 1, quotas.Count)
	assert.Equal(t, "upstream", quotas.Quotas[0].Endpoint)
	assert.InDelta(t, 0.4, quotas.Quotas[0].RemainingRatio, 1e-9)

	// Any persisted change carries the full snapshot; a second process sees
	// what the first one learned.
	controller.ApplyProfile(core.StabilityProfile)
	reopened, err := store.OpenFile(statePath)
	require.NoError(t, err)
	state, err := reopened.LoadPacingState(context.Background())
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, controller.Interval(), state.CurrentInterval)
	assert.Contains(t, state.Quotas, "upstream")
	assert.NotEmpty(t, state.Samples)
}

func TestPacingLoop_QuotaExhaustionBacksOff(t *testing.T) {
	upstream := quotaUpstream(t, 3)

	controller := newPacedController(t, nil, nil)
	before := controller.Interval()

	runner := &engine.Runner{
		Controller: controller,
		Targets: []engine.Target{{
			Name:   "upstream",
			Prober: &probe.HTTPProber{Client: upstream.Client(), URL: upstream.URL},
		}},
		Iterations: 3,
	}
	var results []engine.CallResult
	runner.OnResult = func(result engine.CallResult) { results = append(results, result) }

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, runner.Run(ctx))

	require.Len(t, results, 3)
	assert.ErrorIs(t, results[2].Err, core.ErrQuotaExceeded)
	assert.Greater(t, controller.Interval(), before)

	decision := controller.Decide()
	assert.Equal(t, core.ModeEmergency, decision.Mode)
}

func TestMetricsEndpoint_ExposesPacingSeries(t *testing.T) {
	observability.InitServerLogger("itest", "warn")
	t.Cleanup(func() { observability.ServerLogger = nil })
	initMetricsOrSkip(t)

	upstream := quotaUpstream(t, 20)
	controller := newPacedController(t, nil, nil)
	runner := &engine.Runner{
		Controller: controller,
		Targets: []engine.Target{{
			Name:   "upstream",
			Prober: &probe.HTTPProber{Client: upstream.Client(), URL: upstream.URL},
		}},
		Iterations: 3,
	}
	require.NoError(t, runner.Run(context.Background()))

	ts, client := newTestServer(t, server.Options{Pacing: controller})

	resp, err := client.Get(ts.URL + "/v1/pacing/summary")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	content := string(body)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	assert.Contains(t, content, "itest_http_requests_total")
	assert.Contains(t, content, metrics.WaitsTotal)
}

func TestMetricsEndpoint_WithTelemetryDisabled(t *testing.T) {
	require.NoError(t, observability.ShutdownMetrics())

	ts, client := newTestServer(t, server.Options{})

	resp, err := client.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
