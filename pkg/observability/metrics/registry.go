// Package metrics owns the Prometheus registry exposed by the management server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a dedicated Prometheus registry. It always carries the
// management HTTP metrics and the Go runtime and process collectors; queue
// metrics are registered through Registerer.
type Registry struct {
	registry *prometheus.Registry
	http     *httpMetrics
}

// NewRegistry creates a registry with the default collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	httpMetrics := newHTTPMetrics()
	reg.MustRegister(
		httpMetrics.duration,
		httpMetrics.total,
		httpMetrics.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{registry: reg, http: httpMetrics}
}

// Register registers a custom collector.
func (r *Registry) Register(collector prometheus.Collector) error {
	return r.registry.Register(collector)
}

// Registerer returns the registry for components that register their own collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Gatherer returns the underlying prometheus.Gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler exposes the registry in Prometheus text or OpenMetrics format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
