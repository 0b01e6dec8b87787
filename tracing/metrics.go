package tracing

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MustRegisterMetrics will register all request lifecycle metrics on the given registry.
// If metrics with the same name already exist on the registry this function will panic.
func MustRegisterMetrics(registry *prometheus.Registry) {
	registry.MustRegister(latencyHistogram, streamDurationHistogram, requestCounter, failureCounter)
}

func sampleLatency(method string, status int, latency time.Duration) {
	latencyHistogram.With(prometheus.Labels{
		"method": methodLabel(method),
		"status": statusLabel(status),
	}).Observe(latency.Seconds())
}

func sampleStream(method string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": methodLabel(method),
		"status": statusLabel(status),
	}
	streamDurationHistogram.With(labels).Observe(duration.Seconds())
	labels["outcome"] = "ok"
	requestCounter.With(labels).Inc()
}

func sampleFailure(method string, status int, class FailureClass) {
	requestCounter.With(prometheus.Labels{
		"method":  methodLabel(method),
		"status":  statusLabel(status),
		"outcome": "error",
	}).Inc()
	failureCounter.With(prometheus.Labels{"class": string(class)}).Inc()
}

// methodLabel avoids unbounded label values from arbitrary request methods.
func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodConnect, http.MethodOptions, http.MethodTrace:
		return method
	default:
		return "OTHER"
	}
}

func statusLabel(status int) string {
	if status == 0 {
		return "none"
	}
	return strconv.Itoa(status)
}

var (
	latencyHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_server_latency_seconds",
			Help:    "Duration from the start of the request until the response headers are produced",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "status"},
	)
	streamDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_server_stream_duration_seconds",
			Help: "Duration from the start of the request until the response body is fully sent",
			// streamed responses may take much longer than producing the headers.
			Buckets: []float64{
				.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60,
				120, 300, 600, 1200, 1800, 3600,
			},
		},
		[]string{"method", "status"},
	)
	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_server_requests_total",
			Help: "Total of handled requests",
		},
		[]string{"method", "status", "outcome"},
	)
	failureCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_server_failures_total",
			Help: "Total of failed requests by failure class",
		},
		[]string{"class"},
	)
)
