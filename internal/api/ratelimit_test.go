package api

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRateLimiter(t *testing.T) *RateLimitMiddleware {
	t.Helper()
	rl := NewRateLimitMiddleware(slog.Default(), 10, 20)
	t.Cleanup(rl.Stop)
	return rl
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	rl := newTestRateLimiter(t)
	h := rl.Wrap(okHandler())

	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tokens/TKN-1-P1", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "request %d within burst must pass", i)
	}
}

func TestRateLimit_RejectsBeyondBurst(t *testing.T) {
	rl := newTestRateLimiter(t)
	h := rl.Wrap(okHandler())

	// Blacklist mutations allow a burst of 3.
	var last int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users/abc/blacklist", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestRateLimit_PerIPIsolation(t *testing.T) {
	rl := newTestRateLimiter(t)
	h := rl.Wrap(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users/abc/blacklist", nil)
		req.RemoteAddr = "10.0.0.3:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	// A different client still has its full burst.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/abc/blacklist", nil)
	req.RemoteAddr = "10.0.0.4:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_ScanEndpointLoosest(t *testing.T) {
	rl := newTestRateLimiter(t)
	h := rl.Wrap(okHandler())

	for i := 0; i < 60; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", nil)
		req.RemoteAddr = "10.0.0.5:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "scan burst of 60 must pass")
	}
}

func TestRateLimit_RetryAfterHeader(t *testing.T) {
	rl := newTestRateLimiter(t)
	h := rl.Wrap(okHandler())

	var rec *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tokens/abc/cancel", nil)
		req.RemoteAddr = "10.0.0.6:1234"
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.10:5555"
	assert.Equal(t, "192.168.1.10", extractClientIP(req))

	req.Header.Set("X-Real-IP", "203.0.113.7")
	assert.Equal(t, "203.0.113.7", extractClientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	assert.Equal(t, "198.51.100.4", extractClientIP(req))
}

func TestRateLimit_StaleEviction(t *testing.T) {
	rl := newTestRateLimiter(t)
	h := rl.Wrap(okHandler())

	now := time.Now()
	rl.nowFunc = func() time.Time { return now }

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.7:1234"
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, 1, rl.LimiterCount())

	rl.nowFunc = func() time.Time { return now.Add(staleLimiterTTL + time.Minute) }
	rl.evictStale()
	assert.Equal(t, 0, rl.LimiterCount())
}

func TestResolveEndpointKey(t *testing.T) {
	rl := newTestRateLimiter(t)

	assert.Equal(t, "POST:/api/v1/scans", rl.resolveEndpointKey("POST", "/api/v1/scans"))
	assert.Equal(t, "POST:/api/v1/users", rl.resolveEndpointKey("POST", "/api/v1/users/x/blacklist"))
	assert.Equal(t, "DELETE:/api/v1/users", rl.resolveEndpointKey("DELETE", "/api/v1/users/x/blacklist"))
	assert.Equal(t, "POST:/api/v1/tokens", rl.resolveEndpointKey("POST", "/api/v1/tokens/x/share"))
	assert.Equal(t, ":", rl.resolveEndpointKey("GET", "/api/v1/scans"))
}
