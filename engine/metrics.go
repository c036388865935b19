package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
)

// Execution outcomes used as the status label
const (
	outcomeSuccess  = "success"
	outcomeFiltered = "filtered"
	outcomeFailure  = "failure"
	outcomeEmpty    = "empty"
)

// engineMetrics holds Prometheus metrics for flow executions.
type engineMetrics struct {
	executions *prometheus.CounterVec   // by status
	duration   *prometheus.HistogramVec // by status
	bytes      *prometheus.CounterVec   // by direction (in/out)
	active     prometheus.Gauge
}

// newEngineMetrics creates and registers execution metrics with the provided registry.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &engineMetrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "flow",
			Name:      "executions_total",
			Help:      "Total number of flow executions",
		}, []string{"status"}), // status: success, filtered, failure, empty

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "flow",
			Name:      "execution_duration_seconds",
			Help:      "Flow execution duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		}, []string{"status"}),

		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "flow",
			Name:      "payload_bytes_total",
			Help:      "Payload bytes received from sources and sent to targets",
		}, []string{"direction"}),

		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "flow",
			Name:      "active_executions",
			Help:      "Current number of running flow executions",
		}),
	}

	if err := registry.RegisterCounterVec("flow", "executions", m.executions); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("flow", "execution_duration", m.duration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("flow", "payload_bytes", m.bytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("flow", "active_executions", m.active); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *engineMetrics) started() {
	if m != nil {
		m.active.Inc()
	}
}

// recordExecution records a finished run.
func (m *engineMetrics) recordExecution(status string, seconds float64, in, out int) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.executions.WithLabelValues(status).Inc()
	m.duration.WithLabelValues(status).Observe(seconds)
	if in > 0 {
		m.bytes.WithLabelValues("in").Add(float64(in))
	}
	if out > 0 {
		m.bytes.WithLabelValues("out").Add(float64(out))
	}
}
