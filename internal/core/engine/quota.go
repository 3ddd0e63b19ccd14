package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quotapace/quotapace/internal/core"
)

// DefaultCriticalThreshold is the remaining ratio below which an endpoint is critical.
const DefaultCriticalThreshold = 0.1

// QuotaTracker holds the last-known quota status per endpoint.
//
// QuotaTracker is not safe for concurrent use on its own; Controller guards it
// with its state mutex.
type QuotaTracker struct {
	statuses map[string]core.QuotaStatus
	clock    func() time.Time
}

// NewQuotaTracker returns an empty tracker.
func NewQuotaTracker() *QuotaTracker {
	return &QuotaTracker{
		statuses: make(map[string]core.QuotaStatus),
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Update replaces the stored status for endpoint. Malformed statuses are
// rejected and leave the previous value in place.
func (t *QuotaTracker) Update(endpoint string, status core.QuotaStatus) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", core.ErrMalformedQuota)
	}
	if err := status.Validate(); err != nil {
		return fmt.Errorf("endpoint %s: %w", endpoint, err)
	}
	t.statuses[endpoint] = status
	return nil
}

// Get returns the stored status. ok is false for endpoints that never reported;
// callers treat that as healthy.
func (t *QuotaTracker) Get(endpoint string) (core.QuotaStatus, bool) {
	status, ok := t.statuses[strings.TrimSpace(endpoint)]
	return status, ok
}

// Remove forgets endpoint.
func (t *QuotaTracker) Remove(endpoint string) {
	delete(t.statuses, strings.TrimSpace(endpoint))
}

// CriticalEndpoints returns endpoints whose remaining ratio is below threshold,
// most critical first. A non-positive threshold selects the default. Statuses
// whose reset time has passed belong to a finished window and are skipped.
func (t *QuotaTracker) CriticalEndpoints(threshold float64) []core.CriticalEndpoint {
	if threshold <= 0 {
		threshold = DefaultCriticalThreshold
	}

	now := t.clock()
	var critical []core.CriticalEndpoint
	for endpoint, status := range t.statuses {
		if status.RolledOver(now) {
			continue
		}
		ratio := status.RemainingRatio()
		if ratio < threshold {
			critical = append(critical, core.CriticalEndpoint{Endpoint: endpoint, RemainingRatio: ratio})
		}
	}

	sort.Slice(critical, func(i, j int) bool {
		if critical[i].RemainingRatio == critical[j].RemainingRatio {
			return critical[i].Endpoint < critical[j].Endpoint
		}
		return critical[i].RemainingRatio < critical[j].RemainingRatio
	})
	return critical
}

// IsEmpty reports whether no endpoint has reported yet.
func (t *QuotaTracker) IsEmpty() bool {
	return len(t.statuses) == 0
}

// Snapshot copies the current statuses.
func (t *QuotaTracker) Snapshot() map[string]core.QuotaStatus {
	out := make(map[string]core.QuotaStatus, len(t.statuses))
	for endpoint, status := range t.statuses {
		out[endpoint] = status
	}
	return out
}

func (t *QuotaTracker) restore(statuses map[string]core.QuotaStatus) {
	t.statuses = make(map[string]core.QuotaStatus, len(statuses))
	for endpoint, status := range statuses {
		if status.Validate() != nil {
			continue
		}
		t.statuses[endpoint] = status
	}
}
