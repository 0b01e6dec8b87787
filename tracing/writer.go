package tracing

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
)

// responseWriter observes the response lifecycle of a request for its span.
// It keeps the optional interfaces of the wrapped writer and implements Unwrap
// so [http.ResponseController] reaches the original writer.
type responseWriter struct {
	http.ResponseWriter
	span        *requestSpan
	size        int64
	err         error
	wroteHeader bool
}

var (
	_ http.Flusher  = (*responseWriter)(nil)
	_ http.Hijacker = (*responseWriter)(nil)
	_ io.ReaderFrom = (*responseWriter)(nil)
)

func (w *responseWriter) WriteHeader(code int) {
	// 1xx informational responses (except switching protocols) are not the final headers.
	if !w.wroteHeader && (code >= http.StatusOK || code == http.StatusSwitchingProtocols) {
		w.wroteHeader = true
		w.span.headers(code)
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += int64(n)
	w.setErr(err)
	return n, err
}

func (w *responseWriter) ReadFrom(r io.Reader) (int64, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	// io.Copy uses the io.ReaderFrom of the original writer when it has one.
	n, err := io.Copy(w.ResponseWriter, r)
	w.size += n
	w.setErr(err)
	return n, err
}

func (w *responseWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	err := http.NewResponseController(w.ResponseWriter).Flush()
	if !errors.Is(err, http.ErrNotSupported) {
		w.setErr(err)
	}
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err != nil {
		return nil, nil, err
	}
	if !w.wroteHeader {
		// The connection is handed over to the handler, from now on the response is its own.
		w.wroteHeader = true
		w.span.headers(http.StatusSwitchingProtocols)
	}
	return conn, rw, nil
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// setErr keeps the first error writing the response, any error means the client
// won't receive the complete response.
func (w *responseWriter) setErr(err error) {
	if err != nil && w.err == nil {
		w.err = err
	}
}
