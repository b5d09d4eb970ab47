package httpx_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/erp/pkg/httpx"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func resolvedIP(t *testing.T, trusted []string, remote string, headers map[string]string) string {
	t.Helper()
	prefixes, err := httpx.ParseTrustedProxies(trusted)
	require.NoError(t, err)

	var got string
	h := httpx.ClientIP(prefixes)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = httpx.IPKeyExtractor(r)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestIPKeyExtractor(t *testing.T) {
	t.Run("extracts from RemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"

		require.Equal(t, "192.168.1.1", httpx.IPKeyExtractor(req))
	})

	t.Run("ignores forwarding headers without the middleware", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Forwarded-For", "203.0.113.1")
		req.Header.Set("X-Real-IP", "203.0.113.2")

		require.Equal(t, "192.168.1.1", httpx.IPKeyExtractor(req))
	})
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		headers map[string]string
		want    string
	}{
		{
			name:    "untrusted peer cannot spoof X-Forwarded-For",
			remote:  "9.9.9.9:4000",
			headers: map[string]string{"X-Forwarded-For": "10.0.0.1"},
			want:    "9.9.9.9",
		},
		{
			name:    "untrusted peer cannot spoof X-Real-IP",
			trusted: []string{"10.0.0.0/8"},
			remote:  "9.9.9.9:4000",
			headers: map[string]string{"X-Real-IP": "10.0.0.1"},
			want:    "9.9.9.9",
		},
		{
			name:    "trusted proxy forwards the client",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.1.2.3:4000",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.1"},
			want:    "203.0.113.1",
		},
		{
			name:    "rightmost untrusted hop wins",
			trusted: []string{"10.0.0.0/8", "172.16.0.5"},
			remote:  "10.1.2.3:4000",
			headers: map[string]string{"X-Forwarded-For": "1.1.1.1, 203.0.113.1, 172.16.0.5"},
			want:    "203.0.113.1",
		},
		{
			name:    "trusted proxy with X-Real-IP",
			trusted: []string{"10.1.2.3"},
			remote:  "10.1.2.3:4000",
			headers: map[string]string{"X-Real-IP": "203.0.113.2"},
			want:    "203.0.113.2",
		},
		{
			name:    "trusted proxy without headers",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.1.2.3:4000",
			want:    "10.1.2.3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, resolvedIP(t, tt.trusted, tt.remote, tt.headers))
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	prefixes, err := httpx.ParseTrustedProxies([]string{" 10.0.0.0/8 ", "", "192.168.1.1", "::1"})
	require.NoError(t, err)
	require.Len(t, prefixes, 3)

	_, err = httpx.ParseTrustedProxies([]string{"not-an-ip"})
	require.Error(t, err)
	_, err = httpx.ParseTrustedProxies([]string{"10.0.0.0/99"})
	require.Error(t, err)
}

func TestMemoryLimiter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := httpx.NewMemoryLimiter(httpx.RateLimitConfig{MaxAttempts: 5, Window: 15 * time.Minute})

	for i := range 5 {
		d, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d", i+1)
		require.Equal(t, 5, d.Limit)
		require.Equal(t, 4-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Positive(t, d.RetryAfter)

	// Keys are independent.
	d, err = l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestMemoryLimiterFixedWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	l := httpx.NewMemoryLimiter(httpx.RateLimitConfig{MaxAttempts: 5, Window: 15 * time.Minute})
	l.SetClock(func() time.Time { return now })

	allowed := 0
	for range 5 {
		d, err := l.Allow(ctx, "ip")
		require.NoError(t, err)
		if d.Allowed {
			allowed++
		}
	}

	// Spread attempts across the rest of the window; none may succeed.
	for _, offset := range []time.Duration{3*time.Minute + time.Second, 6*time.Minute + time.Second, 9*time.Minute + time.Second, 12*time.Minute + time.Second, 14*time.Minute + 59*time.Second} {
		now = t0.Add(offset)
		d, err := l.Allow(ctx, "ip")
		require.NoError(t, err)
		if d.Allowed {
			allowed++
		}
		require.Equal(t, t0.Add(15*time.Minute).Sub(now), d.RetryAfter)
	}
	require.Equal(t, 5, allowed)

	// A new window opens once the old one closes.
	now = t0.Add(15 * time.Minute)
	d, err := l.Allow(ctx, "ip")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 4, d.Remaining)
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLimiter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, client := newMiniredis(t)
	l := httpx.NewRedisLimiter(client, httpx.RateLimitConfig{MaxAttempts: 3, Window: time.Minute}, "test")

	for i := range 3 {
		d, err := l.Allow(ctx, "ip")
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d", i+1)
		require.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "ip")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, time.Minute, d.RetryAfter)

	// Later attempts do not push the window out.
	mr.FastForward(30 * time.Second)
	d, err = l.Allow(ctx, "ip")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.LessOrEqual(t, d.RetryAfter, 30*time.Second)

	mr.FastForward(31 * time.Second)
	d, err = l.Allow(ctx, "ip")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	require.True(t, mr.Exists("test:ip"))
}

func TestRedisLimiter_ErrorFailsOpen(t *testing.T) {
	mr, client := newMiniredis(t)
	l := httpx.NewRedisLimiter(client, httpx.AuthLimit, "")
	mr.Close()

	d, err := l.Allow(context.Background(), "ip")
	require.Error(t, err)
	require.True(t, d.Allowed)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (httpx.Decision, error) {
	return httpx.Decision{}, errors.New("boom")
}

func TestRateLimitMiddleware(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("sixth attempt is rejected", func(t *testing.T) {
		var limited []string
		mw := httpx.RateLimitMiddleware(
			httpx.NewMemoryLimiter(httpx.AuthLimit),
			httpx.IPKeyExtractor,
			func(r *http.Request, key string, d httpx.Decision) { limited = append(limited, key) },
		)
		h := mw(okHandler)

		for i := range 5 {
			req := httptest.NewRequest(http.MethodPost, "/login", nil)
			req.RemoteAddr = "198.51.100.7:1000"
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, "attempt %d", i+1)
		}

		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "198.51.100.7:1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.NotEmpty(t, rec.Header().Get("Retry-After"))
		require.Equal(t, []string{"198.51.100.7"}, limited)

		var env httpx.Envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		require.False(t, env.Success)
		require.Equal(t, "RATE_LIMITED", env.Error.Code)
	})

	t.Run("rotating X-Forwarded-For from one peer is still limited", func(t *testing.T) {
		h := httpx.Chain(okHandler,
			httpx.ClientIP(nil),
			httpx.RateLimitMiddleware(httpx.NewMemoryLimiter(httpx.AuthLimit), httpx.IPKeyExtractor, nil),
		)

		allowed := 0
		for i := range 20 {
			req := httptest.NewRequest(http.MethodPost, "/login", nil)
			req.RemoteAddr = "9.9.9.9:1000"
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code == http.StatusOK {
				allowed++
			}
		}
		require.Equal(t, httpx.AuthLimit.MaxAttempts, allowed)
	})

	t.Run("limiter error fails open", func(t *testing.T) {
		h := httpx.RateLimitMiddleware(failingLimiter{}, httpx.IPKeyExtractor, nil)(okHandler)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("empty key is allowed", func(t *testing.T) {
		h := httpx.RateLimitMiddleware(failingLimiter{}, func(*http.Request) string { return "" }, nil)(okHandler)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})
}
