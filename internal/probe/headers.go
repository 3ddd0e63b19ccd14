package probe

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quotapace/quotapace/internal/core"
)

// Reset values at or above this are unix timestamps; smaller values are
// seconds until reset.
const epochThreshold = 1_000_000_000

// headerFamily names one vendor's quota header triple.
type headerFamily struct {
	limit     string
	remaining string
	reset     string
}

var headerFamilies = []headerFamily{
	{limit: "X-Rate-Limit-Limit", remaining: "X-Rate-Limit-Remaining", reset: "X-Rate-Limit-Reset"},
	{limit: "X-RateLimit-Limit", remaining: "X-RateLimit-Remaining", reset: "X-RateLimit-Reset"},
	{limit: "RateLimit-Limit", remaining: "RateLimit-Remaining", reset: "RateLimit-Reset"},
}

// ParseQuotaHeaders extracts a quota status from response headers. It returns
// nil when no recognised limit and remaining pair is present. Without a
// RateLimit-Policy window the default window is assumed.
func ParseQuotaHeaders(header http.Header, now time.Time) *core.QuotaStatus {
	if header == nil {
		return nil
	}

	for _, family := range headerFamilies {
		limit, okLimit := headerInt(header, family.limit)
		remaining, okRemaining := headerInt(header, family.remaining)
		if !okLimit || !okRemaining {
			continue
		}

		status := &core.QuotaStatus{Limit: limit, Remaining: remaining}
		if reset, ok := headerInt64(header, family.reset); ok {
			status.ResetAt = resetTime(reset, now)
		}
		status.WindowSeconds = policyWindow(header.Get("RateLimit-Policy"))
		status.WindowSeconds = int(status.Window() / time.Second)
		return status
	}
	return nil
}

// RetryAfter parses a Retry-After header given in seconds or as an HTTP date.
func RetryAfter(header http.Header, now time.Time) (time.Duration, bool) {
	if header == nil {
		return 0, false
	}
	retry := strings.TrimSpace(header.Get("Retry-After"))
	if retry == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(retry); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if parsed, err := http.ParseTime(retry); err == nil {
		wait := parsed.Sub(now)
		if wait < 0 {
			wait = 0
		}
		return wait, true
	}
	return 0, false
}

func resetTime(value int64, now time.Time) time.Time {
	if value >= epochThreshold {
		return time.Unix(value, 0).UTC()
	}
	if value < 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(value) * time.Second).UTC()
}

// policyWindow reads the w= parameter of a RateLimit-Policy header such as
// "100;w=900".
func policyWindow(policy string) int {
	for _, part := range strings.Split(policy, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.TrimSpace(key) != "w" {
			continue
		}
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
			return seconds
		}
	}
	return 0
}

func headerInt(header http.Header, key string) (int, bool) {
	value, ok := headerInt64(header, key)
	return int(value), ok
}

func headerInt64(header http.Header, key string) (int64, bool) {
	raw := strings.TrimSpace(header.Get(key))
	if raw == "" {
		return 0, false
	}
	// Some services send a list such as "100, 100;w=60"; the first entry wins.
	if idx := strings.IndexAny(raw, ",;"); idx >= 0 {
		raw = strings.TrimSpace(raw[:idx])
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
