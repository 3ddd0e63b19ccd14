package core

import (
	"errors"
	"fmt"
	"time"
)

// DefaultWindowSeconds is the quota window assumed when a response omits it.
const DefaultWindowSeconds = 900

var (
	// ErrQuotaExceeded marks a call the remote service rejected for exhausting quota.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrMalformedQuota marks a quota status that violates 0 <= remaining <= limit.
	ErrMalformedQuota = errors.New("malformed quota status")

	// ErrInvalidConfig marks a pacing policy the controller cannot run with.
	ErrInvalidConfig = errors.New("invalid pacing config")
)

// QuotaStatus captures the last-known quota for one endpoint.
type QuotaStatus struct {
	Limit         int       `json:"limit"`
	Remaining     int       `json:"remaining"`
	ResetAt       time.Time `json:"reset_at"`
	WindowSeconds int       `json:"window_seconds"`
}

// Validate rejects statuses outside 0 <= remaining <= limit.
func (q QuotaStatus) Validate() error {
	if q.Limit <= 0 {
		return fmt.Errorf("%w: limit %d must be positive", ErrMalformedQuota, q.Limit)
	}
	if q.Remaining < 0 {
		return fmt.Errorf("%w: remaining %d is negative", ErrMalformedQuota, q.Remaining)
	}
	if q.Remaining > q.Limit {
		return fmt.Errorf("%w: remaining %d exceeds limit %d", ErrMalformedQuota, q.Remaining, q.Limit)
	}
	return nil
}

// RemainingRatio returns remaining/limit, or 0 for an unusable limit.
func (q QuotaStatus) RemainingRatio() float64 {
	if q.Limit <= 0 {
		return 0
	}
	return float64(q.Remaining) / float64(q.Limit)
}

// RolledOver reports whether the quota window reset at or before now. A zero
// ResetAt never rolls over.
func (q QuotaStatus) RolledOver(now time.Time) bool {
	return !q.ResetAt.IsZero() && !now.Before(q.ResetAt)
}

// Window returns the quota window, falling back to the default.
func (q QuotaStatus) Window() time.Duration {
	if q.WindowSeconds <= 0 {
		return DefaultWindowSeconds * time.Second
	}
	return time.Duration(q.WindowSeconds) * time.Second
}

func invalidConfig(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
