package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/R3E-Network/savings_layer/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingHandler(calls *int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"call":` + string(rune('0'+n)) + `}`))
	})
}

func TestMiddlewareReplaysResponse(t *testing.T) {
	var calls int32
	h := Middleware(NewMemoryCache(time.Minute), nil, logger.NewDiscard())(countingHandler(&calls, http.StatusCreated))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/users/alice/deposit", strings.NewReader(`{"amount":1}`))
		req.Header.Set(HeaderKey, "k1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	second := send()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
}

func TestMiddlewareSkipsReadsAndUnkeyed(t *testing.T) {
	var calls int32
	h := Middleware(NewMemoryCache(time.Minute), nil, logger.NewDiscard())(countingHandler(&calls, http.StatusOK))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/treasury", nil)
		req.Header.Set(HeaderKey, "k1")
		h.ServeHTTP(httptest.NewRecorder(), req)
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/treasury/withdraw", nil))
	}
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	var calls int32
	cache := NewMemoryCache(time.Minute)
	h := Middleware(cache, nil, logger.NewDiscard())(countingHandler(&calls, http.StatusInternalServerError))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/treasury/withdraw", nil)
		req.Header.Set(HeaderKey, "k")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestMiddlewareScopesKeys(t *testing.T) {
	var calls int32
	scope := func(r *http.Request) string { return r.Header.Get("X-Caller") }
	h := Middleware(NewMemoryCache(time.Minute), scope, logger.NewDiscard())(countingHandler(&calls, http.StatusOK))

	for _, caller := range []string{"alice", "bob"} {
		req := httptest.NewRequest(http.MethodPost, "/users", nil)
		req.Header.Set(HeaderKey, "same")
		req.Header.Set("X-Caller", caller)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestMiddlewareInProgressConflict(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	ok, err := cache.Reserve(context.Background(), "POST /users k")
	require.NoError(t, err)
	require.True(t, ok)

	var calls int32
	h := Middleware(cache, nil, logger.NewDiscard())(countingHandler(&calls, http.StatusOK))
	req := httptest.NewRequest(http.MethodPost, "/users", nil)
	req.Header.Set(HeaderKey, "k")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, cache.Complete(ctx, "k", Entry{Status: 200}))
	_, found, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)

	now = now.Add(2 * time.Minute)
	_, found, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCacheIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, addr, "", 0)
	require.NoError(t, err)
	defer client.Close()

	cache := NewRedisCache(client, "test:idem:", time.Minute)
	key := uuid.NewString()

	ok, err := cache.Reserve(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = cache.Reserve(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = cache.Get(ctx, key)
	assert.ErrorIs(t, err, ErrInProgress)

	require.NoError(t, cache.Complete(ctx, key, Entry{Status: 201, Body: []byte(`{}`)}))
	entry, found, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 201, entry.Status)

	require.NoError(t, cache.Release(ctx, key))
}
