// Package tracing correlates all log records and spans of a single HTTP request
// under one trace ID.
//
// A [Layer] resolves the trace ID of each request from a configurable header
// (generating a time ordered ID when absent), binds it to a request scoped logger
// and OpenTelemetry span and logs the request lifecycle: start, response headers
// produced (latency), response stream completed (stream duration) and failure.
//
// Handlers retrieve the trace ID with [TraceID] or [FromRequest] and the logger with
// slog.FromCtx, every record logged through it carries the trace_id field.
package tracing

import (
	"context"
	"errors"
	"net/http"
)

// ErrNoTraceID is returned when extracting a trace ID from a context that has none,
// usually because the [Layer] middleware is not installed upstream of the handler.
var ErrNoTraceID = errors.New("tracing: no trace id on context (is the tracing middleware installed?)")

// CtxWithTraceID creates a new [context.Context] with the given trace ID associated with it.
// Call [CtxGetTraceID] to retrieve the trace ID.
func CtxWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// CtxGetTraceID gets the trace ID associated with this context.
// Return the trace ID and true if there is a trace ID, empty and false otherwise.
func CtxGetTraceID(ctx context.Context) (string, bool) {
	return ctxget(ctx, traceIDKey)
}

// TraceID gets the trace ID of the request being handled on the given context.
// It fails with [ErrNoTraceID] if there is none, it never returns an empty trace ID.
func TraceID(ctx context.Context) (string, error) {
	traceID, ok := CtxGetTraceID(ctx)
	if !ok {
		return "", ErrNoTraceID
	}
	return traceID, nil
}

// MustTraceID is like [TraceID] but panics with [ErrNoTraceID] if there is no trace ID.
// Missing trace IDs are an integration error, so handlers that can only run behind the
// middleware may prefer to fail loudly.
func MustTraceID(ctx context.Context) string {
	traceID, err := TraceID(ctx)
	if err != nil {
		panic(err)
	}
	return traceID
}

// FromRequest gets the trace ID of the given request. See [TraceID].
func FromRequest(req *http.Request) (string, error) {
	return TraceID(req.Context())
}

// CtxWithOrgID creates a new [context.Context] with the given organization ID associated with it.
// Call [CtxGetOrgID] to retrieve the organization ID.
func CtxWithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgIDKey, orgID)
}

// CtxGetOrgID gets the organization ID associated with this context.
// Return the organization ID and true if there is one, empty and false otherwise.
func CtxGetOrgID(ctx context.Context) (string, bool) {
	return ctxget(ctx, orgIDKey)
}

// key is the type used to store data on contexts.
type key int

const (
	traceIDKey key = iota
	orgIDKey
)

func ctxget(ctx context.Context, k key) (string, bool) {
	val := ctx.Value(k)
	if val == nil {
		return "", false
	}
	str, ok := val.(string)
	if !ok || str == "" {
		return "", false
	}
	return str, true
}
