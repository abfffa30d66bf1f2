package provisioning

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/imamik/osbastion/internal/bastion"
)

// Metrics collects lifecycle metrics on a private registry. A one-shot
// CLI has no scrape endpoint, so the registry is written to a node
// exporter textfile at the end of a run.
type Metrics struct {
	registry *prometheus.Registry

	resourceOps   *prometheus.CounterVec
	probesTotal   *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	state         *prometheus.GaugeVec
	leaked        prometheus.Gauge
}

// NewMetrics creates and registers the lifecycle metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		resourceOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "osbastion",
				Subsystem: "cloud",
				Name:      "resource_operations_total",
				Help:      "Total number of resource operations by kind, operation and result",
			},
			[]string{"kind", "operation", "result"},
		),
		probesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "osbastion",
				Subsystem: "readiness",
				Name:      "probes_total",
				Help:      "Total number of readiness probe rounds by result",
			},
			[]string{"result"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "osbastion",
				Subsystem: "lifecycle",
				Name:      "phase_duration_seconds",
				Help:      "Duration of lifecycle phases in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 11), // 500ms to ~8.5min
			},
			[]string{"phase", "result"},
		),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "osbastion",
				Subsystem: "lifecycle",
				Name:      "state",
				Help:      "Current lifecycle state (1 for the active state, 0 otherwise)",
			},
			[]string{"state"},
		),
		leaked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "osbastion",
				Subsystem: "teardown",
				Name:      "leaked_resources",
				Help:      "Number of resources the last teardown could not delete",
			},
		),
	}
	m.registry.MustRegister(m.resourceOps, m.probesTotal, m.phaseDuration, m.state, m.leaked)
	return m
}

// WriteTextfile writes all metrics in the text exposition format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Metrics) recordResourceOp(kind bastion.Kind, op string, err error) {
	m.resourceOps.WithLabelValues(string(kind), op, result(err)).Inc()
}

func (m *Metrics) recordProbe(err error) {
	m.probesTotal.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) recordPhase(phase string, seconds float64, err error) {
	m.phaseDuration.WithLabelValues(phase, result(err)).Observe(seconds)
}

func (m *Metrics) recordState(s bastion.State) {
	for _, known := range []bastion.State{
		bastion.StateProvisioning, bastion.StateReady, bastion.StateFailed,
		bastion.StateTearingDown, bastion.StateDestroyed,
	} {
		v := 0.0
		if known == s {
			v = 1
		}
		m.state.WithLabelValues(string(known)).Set(v)
	}
}

func (m *Metrics) recordLeaks(n int) {
	m.leaked.Set(float64(n))
}
