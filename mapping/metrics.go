package mapping

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
)

// mappingMetrics holds Prometheus metrics for field mapping plans.
type mappingMetrics struct {
	applications *prometheus.CounterVec   // by document kind and status
	fieldsMapped *prometheus.CounterVec   // by document kind
	errors       *prometheus.CounterVec   // by error type
	duration     *prometheus.HistogramVec // by document kind
	outputSize   prometheus.Histogram
}

func newMappingMetrics(registry *metric.MetricsRegistry) *mappingMetrics {
	if registry == nil {
		return nil // metrics disabled
	}

	m := &mappingMetrics{
		applications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "mapping",
			Name:      "applications_total",
			Help:      "Field mapping plan applications",
		}, []string{"kind", "status"}),

		fieldsMapped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "mapping",
			Name:      "fields_mapped_total",
			Help:      "Target fields written by field mappings",
		}, []string{"kind"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "mapping",
			Name:      "errors_total",
			Help:      "Field mapping failures",
		}, []string{"error_type"}), // required, function, path, write

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "mapping",
			Name:      "apply_duration_seconds",
			Help:      "Field mapping plan duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"kind"}),

		outputSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "mapping",
			Name:      "output_size_bytes",
			Help:      "Size of mapped documents in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 2, 10),
		}),
	}

	_ = registry.RegisterCounterVec("mapping", "applications_total", m.applications)
	_ = registry.RegisterCounterVec("mapping", "fields_mapped", m.fieldsMapped)
	_ = registry.RegisterCounterVec("mapping", "errors", m.errors)
	_ = registry.RegisterHistogramVec("mapping", "apply_duration", m.duration)
	_ = registry.RegisterHistogram("mapping", "output_size", m.outputSize)
	return m
}

func (m *mappingMetrics) recordApply(kind string, err error, duration time.Duration, fields, size int) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.applications.WithLabelValues(kind, status).Inc()
	m.duration.WithLabelValues(kind).Observe(duration.Seconds())
	if err == nil {
		m.fieldsMapped.WithLabelValues(kind).Add(float64(fields))
		m.outputSize.Observe(float64(size))
	}
}

func (m *mappingMetrics) recordError(errorType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errorType).Inc()
}
