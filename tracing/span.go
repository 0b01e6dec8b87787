package tracing

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/birdie-ai/httptrace/slog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FailureClass classifies why a request failed.
type FailureClass string

// All failure classes logged on the `failure_class` field.
const (
	// FailureHandler is an error returned by a [HandlerFunc].
	FailureHandler FailureClass = "handler"
	// FailureServerError is a response with a 5xx status code.
	FailureServerError FailureClass = "server_error"
	// FailureStream is a response that could not be fully sent, like when the client disconnects.
	FailureStream FailureClass = "stream"
	// FailurePanic is a panicking handler.
	FailurePanic FailureClass = "panic"
)

// ErrStreamAborted tags errors of responses that were aborted while being sent.
// The original error is preserved, use errors.Is to check for it.
var ErrStreamAborted = errors.New("tracing: response stream aborted")

// requestSpan is the unit of work of a single request. All its methods must be called
// from the goroutine serving the request, the span is closed exactly once by either
// complete or fail, later calls are ignored.
type requestSpan struct {
	traceID     string
	method      string
	start       time.Time
	log         *slog.Logger
	otel        trace.Span
	status      int
	headersSent bool
	closeOnce   sync.Once
}

func (s *requestSpan) headers(status int) {
	if s.headersSent {
		return
	}
	s.headersSent = true
	s.status = status

	latency := time.Since(s.start)
	s.otel.SetAttributes(attribute.Int("http.response.status_code", status))
	s.otel.AddEvent("response headers produced")
	s.log.Debug("response headers produced", "status", status, "latency", latency.String())
	sampleLatency(s.method, status, latency)
}

func (s *requestSpan) complete(req *http.Request, size int64) {
	s.closeOnce.Do(func() {
		duration := time.Since(s.start)
		s.log.Debug("response stream completed",
			"status", s.status,
			"stream_duration", duration.String(),
			"response_size", size,
			slog.HTTPRequestKey, map[string]any{
				"method":        req.Method,
				"url":           req.URL.String(),
				"status_code":   s.status,
				"response_size": size,
				"user_agent":    req.UserAgent(),
				"remote_ip":     req.RemoteAddr,
				"elapsed":       duration.String(),
			})
		sampleStream(s.method, s.status, duration)
		s.otel.SetStatus(codes.Ok, "")
		s.otel.End()
	})
}

func (s *requestSpan) fail(class FailureClass, err error) {
	s.closeOnce.Do(func() {
		elapsed := time.Since(s.start)
		s.log.Error("request failed",
			"failure_class", string(class),
			"error", err,
			"status", s.status,
			"latency", elapsed.String())
		sampleFailure(s.method, s.status, class)
		s.otel.RecordError(err)
		s.otel.SetStatus(codes.Error, string(class))
		s.otel.End()
	})
}
