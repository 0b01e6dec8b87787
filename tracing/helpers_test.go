package tracing_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/birdie-ai/httptrace/slog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type (
	// logRecorder collects JSON log records, it is safe for concurrent use.
	logRecorder struct {
		mu  sync.Mutex
		buf bytes.Buffer
	}
	record map[string]any

	// brokenWriter simulates a client that goes away after receiving some response chunks.
	brokenWriter struct {
		header    http.Header
		status    int
		writes    int
		failAfter int
	}
)

func newTestLogger() (*slog.Logger, *logRecorder) {
	rec := &logRecorder{}
	return slog.New(slog.NewGoogleCloudHandler(rec, &slog.HandlerOptions{Level: slog.LevelDebug})), rec
}

func newSpanRecorder() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	sr := tracetest.NewSpanRecorder()
	return sr, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
}

func (r *logRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *logRecorder) records(t *testing.T) []record {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	var records []record
	scanner := bufio.NewScanner(bytes.NewReader(r.buf.Bytes()))
	for scanner.Scan() {
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("parsing log record %q: %v", scanner.Text(), err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}
	return records
}

func (r record) str(key string) string {
	v, _ := r[key].(string)
	return v
}

func (r record) duration(t *testing.T, key string) time.Duration {
	t.Helper()
	d, err := time.ParseDuration(r.str(key))
	if err != nil {
		t.Fatalf("record %v: parsing duration %q: %v", r, key, err)
	}
	return d
}

func messages(records []record) []string {
	msgs := make([]string, len(records))
	for i, rec := range records {
		msgs[i] = rec.str("message")
	}
	return msgs
}

func findRecord(t *testing.T, records []record, msg string) record {
	t.Helper()
	for _, rec := range records {
		if rec.str("message") == msg {
			return rec
		}
	}
	t.Fatalf("no record with message %q on %v", msg, messages(records))
	return nil
}

func newBrokenWriter(failAfter int) *brokenWriter {
	return &brokenWriter{header: http.Header{}, failAfter: failAfter}
}

var errBrokenPipe = &brokenPipeError{}

type brokenPipeError struct{}

func (*brokenPipeError) Error() string {
	return "write: broken pipe"
}

func (b *brokenWriter) Header() http.Header {
	return b.header
}

func (b *brokenWriter) WriteHeader(status int) {
	b.status = status
}

func (b *brokenWriter) Write(p []byte) (int, error) {
	if b.writes >= b.failAfter {
		return 0, errBrokenPipe
	}
	b.writes++
	return len(p), nil
}
