// Package idempotency replays the first response of a mutating request when
// a client retries it with the same Idempotency-Key header.
package idempotency

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/R3E-Network/savings_layer/pkg/logger"
	"github.com/gorilla/mux"
)

// HeaderKey is the request header carrying the client-chosen key.
const HeaderKey = "Idempotency-Key"

// DefaultTTL bounds how long responses are kept for replay.
const DefaultTTL = 24 * time.Hour

// ErrInProgress is returned when a key is reserved but not yet completed.
var ErrInProgress = errors.New("idempotency: request in progress")

// Entry is a stored response.
type Entry struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Cache stores responses by key.
type Cache interface {
	// Get returns the completed entry for key. found is false when the key is
	// unknown; ErrInProgress is returned while it is reserved.
	Get(ctx context.Context, key string) (entry Entry, found bool, err error)
	// Reserve claims key for the caller. It returns false if the key is
	// already reserved or completed.
	Reserve(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key string, entry Entry) error
	Release(ctx context.Context, key string) error
}

// ScopeFunc namespaces keys, typically by the authenticated caller, so two
// callers cannot collide on the same key.
type ScopeFunc func(r *http.Request) string

// Middleware replays stored responses for mutating requests carrying
// HeaderKey. Responses with a 5xx status are not stored.
func Middleware(cache Cache, scope ScopeFunc, log *logger.Logger) mux.MiddlewareFunc {
	if log == nil {
		log = logger.NewDefault("idempotency")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderKey)
			if raw == "" || !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Method + " " + r.URL.Path + " " + raw
			if scope != nil {
				key = scope(r) + " " + key
			}
			ctx := r.Context()

			entry, found, err := cache.Get(ctx, key)
			switch {
			case errors.Is(err, ErrInProgress):
				http.Error(w, `{"error":"IdempotencyConflict","message":"a request with this key is in progress"}`, http.StatusConflict)
				return
			case err != nil:
				log.WithError(err).Warn("idempotency lookup failed; serving without replay")
				next.ServeHTTP(w, r)
				return
			case found:
				replay(w, entry)
				return
			}

			ok, err := cache.Reserve(ctx, key)
			if err != nil {
				log.WithError(err).Warn("idempotency reserve failed; serving without replay")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				http.Error(w, `{"error":"IdempotencyConflict","message":"a request with this key is in progress"}`, http.StatusConflict)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				if err := cache.Release(ctx, key); err != nil {
					log.WithError(err).Warn("idempotency release failed")
				}
				return
			}
			err = cache.Complete(ctx, key, Entry{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
			if err != nil {
				log.WithError(err).Warn("idempotency store failed")
			}
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func replay(w http.ResponseWriter, entry Entry) {
	if entry.ContentType != "" {
		w.Header().Set("Content-Type", entry.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(entry.Status)
	_, _ = w.Write(entry.Body)
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
