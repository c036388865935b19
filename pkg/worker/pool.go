// Package worker provides a generic bounded worker pool. Orchestration runs are
// executed on it, one worker per run for the full duration of the run.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
)

// Pool processes work items of type T on a fixed number of goroutines
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	metrics  *poolMetrics
	wg       sync.WaitGroup
	busy     atomic.Int64

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	metricsRegistry *metric.MetricsRegistry
	name            string
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	busyWorkers    prometheus.Gauge
	outcomes       *prometheus.CounterVec
	processingTime prometheus.Histogram
}

// Option represents a configuration option for the worker pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers pool metrics under the given pool name
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.name = name
	}
}

// NewPool creates a new worker pool. Non-positive sizes fall back to defaults.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}

	for _, opt := range opts {
		opt(pool)
	}

	if pool.metricsRegistry != nil && pool.name != "" {
		pool.metrics = newPoolMetrics(pool.metricsRegistry, pool.name)
	}

	return pool
}

func newPoolMetrics(registry *metric.MetricsRegistry, name string) *poolMetrics {
	labels := prometheus.Labels{"pool": name}
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: "worker_pool", Name: "queue_depth",
			Help: "Current worker pool queue depth", ConstLabels: labels,
		}),
		busyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: "worker_pool", Name: "busy_workers",
			Help: "Workers currently processing an item", ConstLabels: labels,
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "worker_pool", Name: "items_total",
			Help: "Work items by outcome (submitted, processed, failed, dropped)", ConstLabels: labels,
		}, []string{"outcome"}),
		processingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace, Subsystem: "worker_pool", Name: "processing_duration_seconds",
			Help: "Time spent processing work items", ConstLabels: labels,
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
	}

	service := "worker_pool_" + name
	_ = registry.RegisterGauge(service, "queue_depth", m.queueDepth)
	_ = registry.RegisterGauge(service, "busy_workers", m.busyWorkers)
	_ = registry.RegisterCounterVec(service, "items_total", m.outcomes)
	_ = registry.RegisterHistogram(service, "processing_duration_seconds", m.processingTime)
	return m
}

func (p *Pool[T]) count(outcome string) {
	if p.metrics != nil {
		p.metrics.outcomes.WithLabelValues(outcome).Inc()
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}
}

// Submit enqueues work without blocking. Returns ErrQueueFull at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		p.count("submitted")
		return nil
	default:
		p.dropped.Add(1)
		p.count("dropped")
		return ErrQueueFull
	}
}

// Start starts the workers. Workers exit when ctx is cancelled or Stop drains the queue.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.started = true
	return nil
}

// Stop closes the queue and waits for queued work to finish within timeout
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}

	close(p.workChan)
	p.stopped = true

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		Busy:       int(p.busy.Load()),
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	Busy       int   `json:"busy"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.run(ctx, work)
		}
	}
}

func (p *Pool[T]) run(ctx context.Context, work T) {
	p.busy.Add(1)
	if p.metrics != nil {
		p.metrics.busyWorkers.Inc()
	}
	start := time.Now()

	err := p.processor(ctx, work)

	p.busy.Add(-1)
	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
	}
	if p.metrics != nil {
		p.metrics.busyWorkers.Dec()
		p.metrics.processingTime.Observe(time.Since(start).Seconds())
		if err != nil {
			p.count("failed")
		} else {
			p.count("processed")
		}
	}
}
