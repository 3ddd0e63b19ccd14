package handlers

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/quotapace/quotapace/internal/core"
	apperrors "github.com/quotapace/quotapace/internal/errors"
)

// PacingSource is the read side of the pacing controller.
type PacingSource interface {
	Summary() core.PerformanceSummary
	Quotas() map[string]core.QuotaStatus
	Decide() core.Decision
	Calibrating() bool
}

// PacingHandlers serves the /v1/pacing endpoints.
type PacingHandlers struct {
	source PacingSource
	clock  func() time.Time
}

// NewPacingHandlers binds the pacing endpoints to source.
func NewPacingHandlers(source PacingSource) *PacingHandlers {
	return &PacingHandlers{
		source: source,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// SummaryResponse wraps the performance summary.
type SummaryResponse struct {
	core.PerformanceSummary
	Calibrating bool      `json:"calibrating"`
	GeneratedAt time.Time `json:"generated_at"`
}

// QuotaView is one tracked endpoint as returned by /v1/pacing/quotas.
type QuotaView struct {
	Endpoint       string    `json:"endpoint"`
	Limit          int       `json:"limit"`
	Remaining      int       `json:"remaining"`
	RemainingRatio float64   `json:"remaining_ratio"`
	ResetAt        time.Time `json:"reset_at,omitempty"`
	Critical       bool      `json:"critical"`
}

// QuotasResponse lists tracked endpoints sorted by name.
type QuotasResponse struct {
	Quotas    []QuotaView `json:"quotas"`
	Threshold float64     `json:"critical_threshold"`
	Count     int         `json:"count"`
}

// DecisionResponse is the interval BeforeCall would wait for now.
type DecisionResponse struct {
	core.Decision
	DecidedAt time.Time `json:"decided_at"`
}

// Summary serves GET /v1/pacing/summary.
func (h *PacingHandlers) Summary(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	respondJSON(w, http.StatusOK, SummaryResponse{
		PerformanceSummary: h.source.Summary(),
		Calibrating:        h.source.Calibrating(),
		GeneratedAt:        h.clock(),
	})
}

// Quotas serves GET /v1/pacing/quotas. Optional query parameters: prefix
// filters endpoints and critical sets the ratio below which an endpoint is
// flagged (default 0.1).
func (h *PacingHandlers) Quotas(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}

	threshold := 0.1
	if raw := strings.TrimSpace(r.URL.Query().Get("critical")); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			respondWithError(w, r, apperrors.NewInvalidInputError("critical must be a number in [0,1]"))
			return
		}
		threshold = parsed
	}
	prefix := strings.TrimSpace(r.URL.Query().Get("prefix"))

	quotas := h.source.Quotas()
	views := make([]QuotaView, 0, len(quotas))
	for endpoint, status := range quotas {
		if prefix != "" && !strings.HasPrefix(endpoint, prefix) {
			continue
		}
		ratio := status.RemainingRatio()
		views = append(views, QuotaView{
			Endpoint:       endpoint,
			Limit:          status.Limit,
			Remaining:      status.Remaining,
			RemainingRatio: ratio,
			ResetAt:        status.ResetAt,
			Critical:       ratio < threshold,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Endpoint < views[j].Endpoint })

	respondJSON(w, http.StatusOK, QuotasResponse{
		Quotas:    views,
		Threshold: threshold,
		Count:     len(views),
	})
}

// Decision serves GET /v1/pacing/decision.
func (h *PacingHandlers) Decision(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	respondJSON(w, http.StatusOK, DecisionResponse{
		Decision:  h.source.Decide(),
		DecidedAt: h.clock(),
	})
}

func (h *PacingHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h == nil || h.source == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("pacing controller not initialized"))
		return false
	}
	return true
}
