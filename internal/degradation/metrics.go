package degradation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// probeEvaluationsTotal counts Topology Health Probe evaluations by
	// outcome (ok, not_ready, timeout).
	probeEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_topology_probe_evaluations_total",
			Help: "Total Topology Health Probe evaluations by outcome",
		},
		[]string{"outcome"},
	)

	// probeLatencySeconds observes probe evaluation latency against the
	// 20ms deadline from §4.3.
	probeLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "apex_topology_probe_latency_seconds",
			Help:    "Topology Health Probe evaluation latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1},
		},
	)

	// dependencyHealthStatus tracks individual collaborator/intent-log health.
	dependencyHealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apex_dependency_health",
			Help: "Dependency health status (1=healthy, 0=unhealthy)",
		},
		[]string{"dependency"},
	)
)

// RecordDependencyHealth updates dependency health metrics.
func RecordDependencyHealth(dependency string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	dependencyHealthStatus.WithLabelValues(dependency).Set(value)
}
