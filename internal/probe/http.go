// Package probe issues paced HTTP calls and reads quota state from responses.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quotapace/quotapace/internal/core"
)

const (
	defaultTimeout  = 15 * time.Second
	maxDrainedBytes = 1 << 20
)

// QuotaError is returned when the remote service rejects a call for quota.
type QuotaError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("status %d, retry after %s: %s", e.StatusCode, e.RetryAfter, core.ErrQuotaExceeded)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, core.ErrQuotaExceeded)
}

func (e *QuotaError) Unwrap() error {
	return core.ErrQuotaExceeded
}

// StatusError reports an unexpected non-success response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// HTTPProber calls one URL and reports the quota the response advertises.
type HTTPProber struct {
	Client      *http.Client
	Method      string
	URL         string
	Headers     map[string]string
	BearerToken string
	UserAgent   string
	Clock       func() time.Time
}

// Probe performs one request. The status is returned alongside any error when
// the response carried quota headers.
func (p *HTTPProber) Probe(ctx context.Context) (*core.QuotaStatus, error) {
	if p == nil || strings.TrimSpace(p.URL) == "" {
		return nil, errors.New("probe url is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.ToUpper(strings.TrimSpace(p.Method))
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, p.URL, nil)
	if err != nil {
		return nil, err
	}
	for key, value := range p.Headers {
		req.Header.Set(key, value)
	}
	if token := strings.TrimSpace(p.BearerToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if agent := strings.TrimSpace(p.UserAgent); agent != "" {
		req.Header.Set("User-Agent", agent)
	}

	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainedBytes))

	now := p.now()
	status := ParseQuotaHeaders(resp.Header, now)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return status, p.quotaError(resp, now)
	case resp.StatusCode == http.StatusForbidden && status != nil && status.Remaining == 0:
		return status, p.quotaError(resp, now)
	case resp.StatusCode >= http.StatusBadRequest:
		return status, &StatusError{StatusCode: resp.StatusCode}
	default:
		return status, nil
	}
}

func (p *HTTPProber) quotaError(resp *http.Response, now time.Time) error {
	wait, _ := RetryAfter(resp.Header, now)
	return &QuotaError{StatusCode: resp.StatusCode, RetryAfter: wait}
}

func (p *HTTPProber) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now().UTC()
}
