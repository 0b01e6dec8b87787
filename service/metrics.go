package service

import (
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
)

// MustRegisterMetrics will register all service metrics on the given registry.
func MustRegisterMetrics(registry *prometheus.Registry) {
	registry.MustRegister(buildInfo)
}

// SampleBuildInfo creates a sample of the service_build_info metric.
// Since it is a gauge it needs to be set only once on the service startup.
func SampleBuildInfo() {
	buildInfo.With(buildLabels()).Set(1.0)
}

func buildLabels() prometheus.Labels {
	labels := prometheus.Labels{
		"goversion": "undefined",
		"revision":  "undefined",
		"module":    "undefined",
	}

	goBuildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return labels
	}
	labels["goversion"] = goBuildInfo.GoVersion
	if goBuildInfo.Main.Path != "" {
		labels["module"] = goBuildInfo.Main.Path
	}
	for _, buildSetting := range goBuildInfo.Settings {
		if buildSetting.Key == "vcs.revision" {
			labels["revision"] = buildSetting.Value
		}
	}
	return labels
}

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "service_build_info",
			Help: "Build information of the service",
		},
		[]string{"revision", "goversion", "module"},
	)
)
