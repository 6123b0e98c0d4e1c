// Package metrics holds the Prometheus registry shared by the server and the
// simulator, plus one metric set per component. Every Observe/Set helper is
// safe to call on a nil receiver so that metrics stay optional.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace is the metric namespace used by the sewer-monitor binaries.
const Namespace = "sewer_monitor"

// Registry collects every metric exposed at /metrics.
var Registry = prometheus.NewRegistry()

var buildInfoOnce sync.Once

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		Registry:          Registry,
		EnableOpenMetrics: true,
	})
}

// MustRegister adds collectors to Registry and panics on duplicates.
func MustRegister(cs ...prometheus.Collector) {
	Registry.MustRegister(cs...)
}

// RegisterBuildInfo publishes <namespace>_build_info{version,command} = 1.
// Only the first call has an effect.
func RegisterBuildInfo(namespace, version, command string) {
	buildInfoOnce.Do(func() {
		info := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "build_info",
			Help:        "Build information of the running binary",
			ConstLabels: prometheus.Labels{"version": version, "command": command},
		})
		info.Set(1)
		MustRegister(info)
	})
}
