package service_test

import (
	"testing"

	"github.com/birdie-ai/httptrace/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBuildInfoSample(t *testing.T) {
	metricsRegistry := prometheus.NewRegistry()
	service.MustRegisterMetrics(metricsRegistry)
	service.SampleBuildInfo()

	got, err := testutil.GatherAndCount(metricsRegistry, "service_build_info")
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Fatalf("got %d build info samples; want 1", got)
	}
}
