package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by the flow bridge.
const Namespace = "flowbridge"

// Metrics contains the platform metrics shared by all adapters. Engine, pipeline
// and orchestration metrics are owned by their packages and registered through
// the MetricsRegistry. Recorders are no-ops on a nil *Metrics.
type Metrics struct {
	AdapterOperations   *prometheus.CounterVec
	AdapterDuration     *prometheus.HistogramVec
	AdapterBytes        *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
	HealthStatus        *prometheus.GaugeVec
	AuditDropped        prometheus.Counter
	NATSConnected       prometheus.Gauge
}

// NewMetrics creates the platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		AdapterOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "adapter",
				Name:      "operations_total",
				Help:      "Adapter operations by type, mode, operation and status",
			},
			[]string{"type", "mode", "operation", "status"},
		),

		AdapterDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "adapter",
				Name:      "operation_duration_seconds",
				Help:      "Adapter operation latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type", "mode", "operation"},
		),

		AdapterBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "adapter",
				Name:      "bytes_total",
				Help:      "Payload bytes moved by adapters",
			},
			[]string{"type", "mode"},
		),

		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "adapter",
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"breaker"},
		),

		HealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		AuditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "audit",
				Name:      "dropped_total",
				Help:      "Audit entries dropped because the sink buffer was full",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),
	}
}

// RecordAdapterOperation records one adapter call.
func (c *Metrics) RecordAdapterOperation(adapterType, mode, operation string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.AdapterOperations.WithLabelValues(adapterType, mode, operation, status).Inc()
	c.AdapterDuration.WithLabelValues(adapterType, mode, operation).Observe(duration.Seconds())
}

// RecordAdapterBytes adds payload bytes moved by an adapter.
func (c *Metrics) RecordAdapterBytes(adapterType, mode string, n int) {
	if c == nil {
		return
	}
	c.AdapterBytes.WithLabelValues(adapterType, mode).Add(float64(n))
}

// RecordCircuitBreakerState updates a breaker state gauge.
func (c *Metrics) RecordCircuitBreakerState(name string, state int) {
	if c == nil {
		return
	}
	c.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordHealthStatus updates health status metric
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	if c == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthStatus.WithLabelValues(component).Set(value)
}

// RecordAuditDropped counts a dropped audit entry.
func (c *Metrics) RecordAuditDropped() {
	if c == nil {
		return
	}
	c.AuditDropped.Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}
