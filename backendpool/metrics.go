package backendpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// poolMetrics holds the prometheus collectors for one BackendMap,
// registered against a private registry so that multiple BackendMaps in
// the same process (one per event-loop worker) don't collide on metric
// identity.
type poolMetrics struct {
	registry     *prometheus.Registry
	backendCount *prometheus.GaugeVec
	selections   *prometheus.CounterVec
}

func newPoolMetrics() *poolMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &poolMetrics{
		registry: registry,
		backendCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sozu",
			Subsystem: "backendpool",
			Name:      "backends",
			Help:      "Number of backend instances currently registered for an app.",
		}, []string{"app_id"}),
		selections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sozu",
			Subsystem: "backendpool",
			Name:      "selections_total",
			Help:      "Backend selection attempts, by app and outcome.",
		}, []string{"app_id", "outcome"}),
	}
}

func (m *poolMetrics) setBackendCount(appID string, n int) {
	m.backendCount.WithLabelValues(appID).Set(float64(n))
}

// Registry exposes the private prometheus registry so a caller can fold
// it into a process-wide /metrics endpoint (the HTTP exposition surface
// itself is the enclosing session's concern, out of scope here).
func (m *BackendMap) Registry() *prometheus.Registry {
	return m.metrics.registry
}
