package tracing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/birdie-ai/httptrace/slog"
	"github.com/birdie-ai/httptrace/xerrors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Layer is an HTTP middleware that correlates each request with a trace ID.
	// It is immutable after construction and safe to share across concurrent requests.
	Layer struct {
		header         string
		generator      Generator
		logger         *slog.Logger
		tracer         trace.Tracer
		responseHeader bool
	}

	// Option is used to configure a [Layer] created with [New] or [NewWithHeader].
	Option func(*Layer)

	// HandlerFunc is an HTTP handler that reports failures by returning an error instead of
	// writing an error response itself. The caller is responsible for turning the error in a response.
	HandlerFunc func(http.ResponseWriter, *http.Request) error
)

const (
	spanName            = "http-request"
	instrumentationName = "github.com/birdie-ai/httptrace/tracing"
)

// WithHeader configures the request header used to look up incoming trace IDs.
// An empty name keeps the default [DefaultHeader].
func WithHeader(name string) Option {
	return func(l *Layer) {
		if name != "" {
			l.header = name
		}
	}
}

// WithGenerator configures how trace IDs are generated for requests without one.
// If not defined it will default to [NewID] (UUID v7).
func WithGenerator(gen Generator) Option {
	return func(l *Layer) {
		if gen != nil {
			l.generator = gen
		}
	}
}

// WithULID generates trace IDs with [NewULID] instead of UUIDs.
func WithULID() Option {
	return WithGenerator(NewULID)
}

// WithLogger configures the logger used as base for the request loggers.
// If not defined the logger of the request context is used, see slog.FromCtx.
func WithLogger(log *slog.Logger) Option {
	return func(l *Layer) {
		l.logger = log
	}
}

// WithTracerProvider configures the OpenTelemetry provider used to create the request spans.
// If not defined the global provider is used (a no-op one unless the application sets one).
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Layer) {
		if tp != nil {
			l.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithResponseHeader configures the layer to send the trace ID back to the caller on the
// response, using the same header it is read from.
func WithResponseHeader() Option {
	return func(l *Layer) {
		l.responseHeader = true
	}
}

// New creates a new [Layer] reading trace IDs from [DefaultHeader].
// Creating a layer never fails, it does no I/O.
func New(options ...Option) *Layer {
	l := &Layer{
		header:    DefaultHeader,
		generator: NewID,
		tracer:    otel.Tracer(instrumentationName),
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// NewWithHeader creates a new [Layer] reading trace IDs from the given header.
func NewWithHeader(header string, options ...Option) *Layer {
	return New(append([]Option{WithHeader(header)}, options...)...)
}

// Header is the name of the request header the layer reads trace IDs from.
func (l *Layer) Header() string {
	return l.header
}

// Handler instruments the given [http.Handler]. For every request the trace ID is resolved
// and stored on the request context together with a logger that has the `trace_id` field.
// Use [TraceID] to retrieve the trace ID and slog.FromCtx to retrieve the logger.
//
// Responses with a 5xx status, response writes that fail and requests whose context is
// cancelled before the handler is done (client disconnected) are logged as failures.
// Panics are logged and then re-panicked, so the server handles them as usual.
func (l *Layer) Handler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		_ = l.serve(res, req, func(res http.ResponseWriter, req *http.Request) error {
			h.ServeHTTP(res, req)
			return nil
		})
	})
}

// Middleware is the same as [Layer.Handler], it has the signature expected by most routers.
func (l *Layer) Middleware(h http.Handler) http.Handler {
	return l.Handler(h)
}

// WrapFunc instruments the given [HandlerFunc] the same way as [Layer.Handler].
// Errors returned by h are logged as failures and then returned unchanged.
func (l *Layer) WrapFunc(h HandlerFunc) HandlerFunc {
	return func(res http.ResponseWriter, req *http.Request) error {
		return l.serve(res, req, h)
	}
}

func (l *Layer) serve(res http.ResponseWriter, req *http.Request, h HandlerFunc) error {
	ctx, span := l.open(req)
	if l.responseHeader {
		res.Header().Set(l.header, span.traceID)
	}
	rw := &responseWriter{ResponseWriter: res, span: span}

	defer func() {
		if p := recover(); p != nil {
			if p == http.ErrAbortHandler {
				span.fail(FailureStream, xerrors.Tag(http.ErrAbortHandler, ErrStreamAborted))
			} else {
				span.fail(FailurePanic, fmt.Errorf("tracing: handler panic: %v", p))
			}
			panic(p)
		}
	}()

	req = req.WithContext(ctx)
	err := h(rw, req)

	switch {
	case err != nil:
		span.fail(FailureHandler, err)
	case rw.err != nil:
		span.fail(FailureStream, xerrors.Tag(rw.err, ErrStreamAborted))
	case ctx.Err() != nil:
		span.fail(FailureStream, xerrors.Tag(context.Cause(ctx), ErrStreamAborted))
	default:
		if !rw.wroteHeader {
			// net/http sends the headers with a 200 when the handler writes nothing.
			rw.wroteHeader = true
			span.headers(http.StatusOK)
		}
		if span.status >= http.StatusInternalServerError {
			span.fail(FailureServerError, fmt.Errorf("tracing: server error status: %d", span.status))
			break
		}
		span.complete(req, rw.size)
	}
	return err
}

func (l *Layer) open(req *http.Request) (context.Context, *requestSpan) {
	start := time.Now()
	ctx := req.Context()

	traceID, generated := IDFromHeader(req.Header, l.header, l.generator)

	log := l.logger
	if log == nil {
		log = slog.FromCtx(ctx)
	}
	log = log.With("trace_id", traceID, "method", req.Method, "path", req.URL.Path)

	ctx, otelSpan := l.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithTimestamp(start),
		trace.WithAttributes(
			attribute.String("trace_id", traceID),
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.URL.Path),
		),
	)
	ctx = CtxWithTraceID(ctx, traceID)
	ctx = slog.NewContext(ctx, log)

	log.Info("request received", "generated", generated)

	return ctx, &requestSpan{
		traceID: traceID,
		method:  req.Method,
		start:   start,
		log:     log,
		otel:    otelSpan,
	}
}
