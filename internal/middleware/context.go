// Package middleware provides HTTP middleware for the savings API.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	callerKey  contextKey = "caller"
	roleKey    contextKey = "role"
	traceIDKey contextKey = "trace_id"
)

// TraceHeader carries the request trace id in both directions.
const TraceHeader = "X-Trace-ID"

// WithCaller stores the authenticated caller identity.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFrom returns the authenticated caller, or "" when unauthenticated.
func CallerFrom(ctx context.Context) string {
	v, _ := ctx.Value(callerKey).(string)
	return v
}

func contextWithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

// RoleFrom returns the role claim of the authenticated caller.
func RoleFrom(ctx context.Context) string {
	v, _ := ctx.Value(roleKey).(string)
	return v
}

// WithTraceID stores the request trace id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFrom returns the request trace id.
func TraceIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// NewTraceID returns a fresh random trace id.
func NewTraceID() string {
	return uuid.NewString()
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: code, Message: message})
}
