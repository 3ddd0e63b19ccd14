package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotapace/quotapace/internal/core"
	"github.com/quotapace/quotapace/internal/core/engine"
	"github.com/quotapace/quotapace/internal/server/middleware"
)

func TestFromPacingError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"calibration", fmt.Errorf("start: %w", engine.ErrCalibrationActive), CodeCalibrationActive, http.StatusConflict},
		{"quota", fmt.Errorf("probe: %w", core.ErrQuotaExceeded), CodeQuotaExceeded, http.StatusTooManyRequests},
		{"config", core.ErrInvalidConfig, CodeInvalidInput, http.StatusBadRequest},
		{"malformed", core.ErrMalformedQuota, CodeInvalidInput, http.StatusBadRequest},
		{"no prober", engine.ErrNoProber, CodeServiceUnavailable, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, CodeTimeout, http.StatusGatewayTimeout},
		{"other", stderrors.New("disk full"), CodeInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := FromPacingError(context.Background(), tc.err)
			require.NotNil(t, env)
			assert.Equal(t, tc.code, env.Code)
			assert.Equal(t, tc.status, HTTPStatusFromEnvelope(env))
			assert.Equal(t, tc.err.Error(), env.Context["wrapped_error"])
			assert.NotEmpty(t, env.CorrelationID)
		})
	}

	assert.Nil(t, FromPacingError(context.Background(), nil))
}

func TestWrapUsesRequestID(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDContextKey, "req-42")
	env := WrapStoreError(ctx, stderrors.New("locked"), "save failed")

	assert.Equal(t, CodeStore, env.Code)
	assert.Equal(t, "req-42", env.CorrelationID)
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(env))
}

func TestEnsureEnvelope(t *testing.T) {
	t.Run("passes envelopes through", func(t *testing.T) {
		original := NewNotFoundError("missing")
		wrapped := fmt.Errorf("lookup: %w", original)
		assert.Same(t, original, EnsureEnvelope(wrapped))
	})

	t.Run("nil error is critical", func(t *testing.T) {
		env := EnsureEnvelope(nil)
		assert.Equal(t, CodeInternal, env.Code)
		assert.Equal(t, gferrors.SeverityCritical, env.Severity)
	})

	t.Run("plain errors are classified", func(t *testing.T) {
		env := EnsureEnvelope(core.ErrQuotaExceeded)
		assert.Equal(t, CodeQuotaExceeded, env.Code)
	})
}

func TestRespondWithError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/pacing/summary", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDContextKey, "req-7"))
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, fmt.Errorf("calibrate: %w", engine.ErrCalibrationActive))

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeCalibrationActive, body.Error.Code)
	assert.Equal(t, "req-7", body.Error.RequestID)
	assert.Contains(t, body.Error.Details, "wrapped_error")
}

func TestEnsureCorrelationIDFallback(t *testing.T) {
	env := EnsureCorrelationID(NewInternalError("boom"), context.Background())
	assert.Contains(t, env.CorrelationID, "fallback-")
	assert.Nil(t, EnsureCorrelationID(nil, context.Background()))
}

func TestResponseDetailsMergesContext(t *testing.T) {
	env := NewInvalidInputError("bad").WithDetails(map[string]interface{}{"field": "critical"})
	env, err := env.WithContext(map[string]interface{}{"field": "ignored", "value": "2"})
	require.NoError(t, err)

	details := ResponseDetails(env)
	assert.Equal(t, "critical", details["field"])
	assert.Equal(t, "2", details["value"])
	assert.Nil(t, ResponseDetails(NewInvalidInputError("empty")))
}
