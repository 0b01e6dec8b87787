package tracing_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/birdie-ai/httptrace/slog"
	"github.com/birdie-ai/httptrace/tracing"
)

func TestIntrumentedHTTPHandler(t *testing.T) {
	const wantTraceID = "test-trace-id"
	var (
		gotLogger  *slog.Logger
		gotTraceID string
	)
	handler := tracing.New().Handler(http.HandlerFunc(func(_ http.ResponseWriter, req *http.Request) {
		gotLogger = slog.FromCtx(req.Context())
		gotTraceID, _ = tracing.CtxGetTraceID(req.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(tracing.DefaultHeader, wantTraceID)
	res := httptest.NewRecorder()

	handler.ServeHTTP(res, req)

	if gotLogger == nil {
		t.Fatal("got nil logger")
	}
	if gotTraceID != wantTraceID {
		t.Fatalf("got %q != want %q", gotTraceID, wantTraceID)
	}
}

func TestCtxWithTraceID(t *testing.T) {
	const want = "trace-id-value"
	ctx := context.Background()

	got, ok := tracing.CtxGetTraceID(ctx)
	if ok {
		t.Fatalf("unexpected trace id: %q", got)
	}

	ctx = tracing.CtxWithTraceID(ctx, want)

	got, ok = tracing.CtxGetTraceID(ctx)
	if !ok {
		t.Fatal("want trace ID")
	}
	if got != want {
		t.Fatalf("got %q != want %q", got, want)
	}
}

func TestCtxWithOrgID(t *testing.T) {
	const want = "org-id-value"
	ctx := tracing.CtxWithOrgID(context.Background(), want)

	got, ok := tracing.CtxGetOrgID(ctx)
	if !ok {
		t.Fatal("want org ID")
	}
	if got != want {
		t.Fatalf("got %q != want %q", got, want)
	}
	if traceID, ok := tracing.CtxGetTraceID(ctx); ok {
		t.Fatalf("unexpected trace id: %q", traceID)
	}
}

func TestTraceIDWithoutMiddlewareFails(t *testing.T) {
	ctx := context.Background()

	got, err := tracing.TraceID(ctx)
	if !errors.Is(err, tracing.ErrNoTraceID) {
		t.Fatalf("got err %v; want %v", err, tracing.ErrNoTraceID)
	}
	if got != "" {
		t.Fatalf("got trace id %q with error", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(tracing.DefaultHeader, "ignored-without-middleware")
	if _, err := tracing.FromRequest(req); !errors.Is(err, tracing.ErrNoTraceID) {
		t.Fatalf("got err %v; want %v", err, tracing.ErrNoTraceID)
	}

	// An empty trace ID is never a valid trace ID.
	ctx = tracing.CtxWithTraceID(ctx, "")
	if _, err := tracing.TraceID(ctx); !errors.Is(err, tracing.ErrNoTraceID) {
		t.Fatalf("got err %v; want %v", err, tracing.ErrNoTraceID)
	}
}

func TestMustTraceIDPanicsWithoutMiddleware(t *testing.T) {
	defer func() {
		p := recover()
		err, ok := p.(error)
		if !ok || !errors.Is(err, tracing.ErrNoTraceID) {
			t.Fatalf("got panic %v; want %v", p, tracing.ErrNoTraceID)
		}
	}()
	tracing.MustTraceID(context.Background())
	t.Fatal("want panic")
}

func TestExtractTraceIDRoundTrip(t *testing.T) {
	const want = "abc-123"
	var (
		got     string
		mustGot string
	)
	handler := tracing.New().Handler(http.HandlerFunc(func(_ http.ResponseWriter, req *http.Request) {
		var err error
		got, err = tracing.FromRequest(req)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		mustGot = tracing.MustTraceID(req.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(tracing.DefaultHeader, want)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != want {
		t.Fatalf("got %q != want %q", got, want)
	}
	if mustGot != want {
		t.Fatalf("got %q != want %q", mustGot, want)
	}
}
