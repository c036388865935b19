package orchestration

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
)

// orchestrationMetrics holds Prometheus metrics for orchestration runs.
type orchestrationMetrics struct {
	executions *prometheus.CounterVec   // by terminal status
	duration   *prometheus.HistogramVec // by terminal status
	running    prometheus.Gauge
}

func newOrchestrationMetrics(registry *metric.MetricsRegistry) (*orchestrationMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &orchestrationMetrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "orchestration",
			Name:      "executions_total",
			Help:      "Finished orchestration executions",
		}, []string{"status"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "orchestration",
			Name:      "execution_duration_seconds",
			Help:      "Orchestration execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
		}, []string{"status"}),

		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "orchestration",
			Name:      "running_executions",
			Help:      "Orchestration executions queued or running",
		}),
	}

	if err := registry.RegisterCounterVec("orchestration", "executions", m.executions); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("orchestration", "execution_duration", m.duration); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("orchestration", "running_executions", m.running); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *orchestrationMetrics) started() {
	if m != nil {
		m.running.Inc()
	}
}

func (m *orchestrationMetrics) finished(status Status, d time.Duration) {
	if m == nil {
		return
	}
	m.running.Dec()
	m.executions.WithLabelValues(string(status)).Inc()
	m.duration.WithLabelValues(string(status)).Observe(d.Seconds())
}
