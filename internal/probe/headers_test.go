package probe

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseQuotaHeaders(t *testing.T) {
	cases := []struct {
		name   string
		header http.Header
		want   *time.Time
		limit  int
		remain int
		window int
		absent bool
	}{
		{
			name: "ietf draft with delta reset",
			header: http.Header{
				"Ratelimit-Limit":     {"100"},
				"Ratelimit-Remaining": {"25"},
				"Ratelimit-Reset":     {"60"},
				"Ratelimit-Policy":    {"100;w=900"},
			},
			want:   timePtr(fixedNow.Add(time.Minute)),
			limit:  100,
			remain: 25,
			window: 900,
		},
		{
			name: "list valued limit",
			header: http.Header{
				"X-Ratelimit-Limit":     {"5000, 5000;w=3600"},
				"X-Ratelimit-Remaining": {"4999"},
			},
			limit:  5000,
			remain: 4999,
			window: 900,
		},
		{
			name:   "missing remaining",
			header: http.Header{"X-Ratelimit-Limit": {"100"}},
			absent: true,
		},
		{
			name: "garbage values",
			header: http.Header{
				"X-Ratelimit-Limit":     {"lots"},
				"X-Ratelimit-Remaining": {"some"},
			},
			absent: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status := ParseQuotaHeaders(tc.header, fixedNow)
			if tc.absent {
				require.Nil(t, status)
				return
			}
			require.NotNil(t, status)
			require.Equal(t, tc.limit, status.Limit)
			require.Equal(t, tc.remain, status.Remaining)
			require.Equal(t, tc.window, status.WindowSeconds)
			if tc.want != nil {
				require.Equal(t, *tc.want, status.ResetAt)
			} else {
				require.True(t, status.ResetAt.IsZero())
			}
		})
	}

	require.Nil(t, ParseQuotaHeaders(nil, fixedNow))
}

func TestRetryAfter(t *testing.T) {
	wait, ok := RetryAfter(http.Header{"Retry-After": {"45"}}, fixedNow)
	require.True(t, ok)
	require.Equal(t, 45*time.Second, wait)

	date := fixedNow.Add(2 * time.Minute).Format(http.TimeFormat)
	wait, ok = RetryAfter(http.Header{"Retry-After": {date}}, fixedNow)
	require.True(t, ok)
	require.Equal(t, 2*time.Minute, wait)

	_, ok = RetryAfter(http.Header{"Retry-After": {"soon"}}, fixedNow)
	require.False(t, ok)

	_, ok = RetryAfter(http.Header{}, fixedNow)
	require.False(t, ok)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
