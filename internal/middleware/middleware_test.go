package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/R3E-Network/savings_layer/pkg/logger"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_PerCaller(t *testing.T) {
	rl := NewRateLimiter(0.001, 2, logger.NewDiscard())
	h := rl.Handler(okHandler())

	send := func(caller string) int {
		req := httptest.NewRequest(http.MethodPost, "/users/alice/deposit", nil)
		if caller != "" {
			req = req.WithContext(WithCaller(req.Context(), caller))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("alice"))
	assert.Equal(t, http.StatusOK, send("alice"))
	assert.Equal(t, http.StatusTooManyRequests, send("alice"))
	assert.Equal(t, http.StatusOK, send("bob"))
	assert.Equal(t, http.StatusOK, send(""))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, logger.NewDiscard())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.getLimiter("old")
	now = now.Add(10 * time.Minute)
	rl.getLimiter("fresh")

	assert.Equal(t, 1, rl.Cleanup(5*time.Minute))
	assert.Len(t, rl.limiters, 1)
	assert.Contains(t, rl.limiters, "fresh")
}

func TestTracingMiddleware(t *testing.T) {
	var seen string
	h := NewTracingMiddleware(logger.NewDiscard()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/treasury", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(TraceHeader))

	req := httptest.NewRequest(http.MethodGet, "/treasury", nil)
	req.Header.Set(TraceHeader, "trace-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", seen)
	assert.Equal(t, "trace-123", rec.Header().Get(TraceHeader))
}

func TestCORSMiddleware(t *testing.T) {
	h := NewCORSMiddleware([]string{"https://app.example"}).Handler(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/users", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")

	req = httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Origin", "https://evil.app.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
