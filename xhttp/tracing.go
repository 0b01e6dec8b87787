package xhttp

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/birdie-ai/httptrace/slog"
	"github.com/birdie-ai/httptrace/tracing"
)

type (
	// TracingOption is used to configure clients created with [NewTracingClient].
	TracingOption func(*tracingClient)

	tracingClient struct {
		client Client
		header string
	}

	// observedBody logs when a response body is drained, fails or is closed early.
	// Only the first of these is logged.
	observedBody struct {
		io.ReadCloser
		start time.Time
		log   *slog.Logger
		read  int64
		once  sync.Once
	}
)

// TracingWithHeader configures the header used to send the trace ID.
// If not defined it will default to [tracing.DefaultHeader].
func TracingWithHeader(name string) TracingOption {
	return func(t *tracingClient) {
		t.header = name
	}
}

// NewTracingClient wraps the given client so requests carry the trace ID found on the request context
// (see [tracing.CtxWithTraceID]), unless the request already has the trace header set.
// The request lifecycle is logged with the logger of the request context: response headers received
// with the latency and the response body drained with the stream duration.
//
// The response body must be read until EOF or closed, as with any [http.Response].
func NewTracingClient(c Client, options ...TracingOption) Client {
	t := &tracingClient{
		client: c,
		header: tracing.DefaultHeader,
	}
	for _, option := range options {
		option(t)
	}
	return t
}

func (t *tracingClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	log := slog.FromCtx(ctx).With("request_method", req.Method, "request_url", req.URL.String())

	if traceID, ok := tracing.CtxGetTraceID(ctx); ok && req.Header.Get(t.header) == "" {
		// Requests must not be modified by clients, we send a copy with the trace header.
		req = req.Clone(ctx)
		req.Header.Set(t.header, traceID)
	}

	start := time.Now()
	res, err := t.client.Do(req)
	if err != nil {
		log.Error("xhttp.Client: request failed", "error", err, "latency", time.Since(start).String())
		return nil, err
	}

	log.Debug("xhttp.Client: response headers received", "status_code", res.StatusCode,
		"latency", time.Since(start).String())

	if res.Body != nil {
		res.Body = &observedBody{ReadCloser: res.Body, start: start, log: log}
	}
	return res, nil
}

func (b *observedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.read += int64(n)

	if err == io.EOF {
		b.once.Do(func() {
			b.log.Debug("xhttp.Client: response body drained", "read_bytes", b.read,
				"stream_duration", time.Since(b.start).String())
		})
	} else if err != nil {
		b.once.Do(func() {
			b.log.Error("xhttp.Client: reading response body", "error", err, "read_bytes", b.read,
				"stream_duration", time.Since(b.start).String())
		})
	}
	return n, err
}

func (b *observedBody) Close() error {
	b.once.Do(func() {
		b.log.Debug("xhttp.Client: response body closed before being drained", "read_bytes", b.read,
			"stream_duration", time.Since(b.start).String())
	})
	return b.ReadCloser.Close()
}
