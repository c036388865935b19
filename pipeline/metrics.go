package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
)

// pipelineMetrics counts and times pipeline steps.
type pipelineMetrics struct {
	steps    *prometheus.CounterVec   // by type and outcome
	duration *prometheus.HistogramVec // by type
}

func newPipelineMetrics(registry *metric.MetricsRegistry) *pipelineMetrics {
	if registry == nil {
		return nil
	}

	m := &pipelineMetrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "steps_total",
			Help:      "Pipeline steps run, by outcome",
		}, []string{"type", "outcome"}), // success, filtered, error

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "step_duration_seconds",
			Help:      "Pipeline step duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		}, []string{"type"}),
	}

	_ = registry.RegisterCounterVec("pipeline", "steps", m.steps)
	_ = registry.RegisterHistogramVec("pipeline", "step_duration", m.duration)
	return m
}

func (m *pipelineMetrics) recordStep(t flowstore.TransformationType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(string(t), outcome).Inc()
	m.duration.WithLabelValues(string(t)).Observe(d.Seconds())
}
