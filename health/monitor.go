package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
)

// Monitor keeps the latest status per component. It is safe for concurrent
// use and serves its aggregate over HTTP.
type Monitor struct {
	mu       sync.RWMutex
	name     string
	statuses map[string]Status
	metrics  *metric.Metrics
}

// MonitorOption configures a Monitor
type MonitorOption func(*Monitor)

// WithCoreMetrics mirrors every update into the health status gauge
func WithCoreMetrics(m *metric.Metrics) MonitorOption {
	return func(mon *Monitor) { mon.metrics = m }
}

// NewMonitor creates a monitor whose aggregate is reported as name
func NewMonitor(name string, opts ...MonitorOption) *Monitor {
	m := &Monitor{name: name, statuses: make(map[string]Status)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Update stores status under name, stamping it when the timestamp is zero
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()

	m.metrics.RecordHealthStatus(name, status.Healthy)
}

// Get returns the status stored under name
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[name]
	return s, ok
}

// GetAll returns a copy of every stored status
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.statuses))
	for k, v := range m.statuses {
		out[k] = v
	}
	return out
}

// Remove stops tracking name
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.statuses, name)
	m.mu.Unlock()
}

// AggregateHealth rolls every stored status up, sorted by component
func (m *Monitor) AggregateHealth() Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })
	return Aggregate(m.name, subs)
}

// ServeHTTP writes the aggregate as JSON: 200 unless something is
// unhealthy, then 503.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	agg := m.AggregateHealth()
	w.Header().Set("Content-Type", "application/json")
	if agg.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(agg)
}
