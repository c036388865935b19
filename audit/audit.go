// Package audit records what happened during flow executions. Sinks are
// fire-and-forget: Append never blocks the caller and never fails.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
)

// Level is the severity of an entry
type Level string

// Level constants
const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Entry is one audit record
type Entry struct {
	Time        time.Time      `json:"timestamp"`
	Level       Level          `json:"level"`
	Message     string         `json:"message"`
	FlowID      string         `json:"flowId,omitempty"`
	ExecutionID string         `json:"executionId,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Sink accepts audit entries
type Sink interface {
	Append(e Entry)
}

// Info builds an INFO entry stamped now
func Info(flowID, msg string, details map[string]any) Entry {
	return Entry{Time: time.Now(), Level: LevelInfo, Message: msg, FlowID: flowID, Details: details}
}

// Error builds an ERROR entry stamped now, with err under details["error"]
func Error(flowID, msg string, err error, details map[string]any) Entry {
	if details == nil {
		details = map[string]any{}
	}
	if err != nil {
		details["error"] = err.Error()
	}
	return Entry{Time: time.Now(), Level: LevelError, Message: msg, FlowID: flowID, Details: details}
}

// Nop discards entries
type Nop struct{}

// Append does nothing
func (Nop) Append(Entry) {}

// LogSink writes entries through slog
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging under the "audit" component
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "audit")}
}

// Append logs e at its level
func (s *LogSink) Append(e Entry) {
	level := slog.LevelInfo
	switch e.Level {
	case LevelWarn:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	attrs := []any{"flow_id", e.FlowID}
	if e.ExecutionID != "" {
		attrs = append(attrs, "execution_id", e.ExecutionID)
	}
	for k, v := range e.Details {
		attrs = append(attrs, k, v)
	}
	s.logger.Log(context.Background(), level, e.Message, attrs...)
}

// Multi fans entries out to several sinks
type Multi []Sink

// Append forwards e to every sink
func (m Multi) Append(e Entry) {
	for _, s := range m {
		if s != nil {
			s.Append(e)
		}
	}
}

// Publisher is the part of the NATS client the NATS sink needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
}

// NATSSink publishes entries as JSON from a background goroutine. Entries
// arriving while the buffer is full are dropped and counted.
type NATSSink struct {
	pub     Publisher
	subject string
	entries chan Entry
	logger  *slog.Logger
	metrics *metric.Metrics

	dropped   atomic.Int64
	published atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewNATSSink creates a sink; call Start to begin publishing.
func NewNATSSink(pub Publisher, subject string, bufferSize int, logger *slog.Logger, metrics *metric.Metrics) *NATSSink {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSink{
		pub:     pub,
		subject: subject,
		entries: make(chan Entry, bufferSize),
		logger:  logger.With("component", "audit-nats"),
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Append queues e without blocking
func (s *NATSSink) Append(e Entry) {
	select {
	case s.entries <- e:
	default:
		s.dropped.Add(1)
		s.metrics.RecordAuditDropped()
	}
}

// Start publishes queued entries until ctx is done or Close is called.
func (s *NATSSink) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				s.drain(context.Background())
				return
			case e, ok := <-s.entries:
				if !ok {
					return
				}
				s.publish(ctx, e)
			}
		}
	}()
}

func (s *NATSSink) drain(ctx context.Context) {
	for {
		select {
		case e, ok := <-s.entries:
			if !ok {
				return
			}
			s.publish(ctx, e)
		default:
			return
		}
	}
}

func (s *NATSSink) publish(ctx context.Context, e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("Failed to encode audit entry", "error", err)
		return
	}
	if err := s.pub.Publish(ctx, s.subject, data, nil); err != nil {
		s.logger.Warn("Failed to publish audit entry", "subject", s.subject, "error", err)
		return
	}
	s.published.Add(1)
}

// Close stops accepting entries, publishes what is queued and waits for
// the publisher goroutine.
func (s *NATSSink) Close() {
	s.closeOnce.Do(func() { close(s.entries) })
	<-s.done
}

// Dropped returns the number of entries dropped on a full buffer
func (s *NATSSink) Dropped() int64 { return s.dropped.Load() }

// Published returns the number of entries published
func (s *NATSSink) Published() int64 { return s.published.Load() }

// Recorder keeps entries in memory
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Append stores e
func (r *Recorder) Append(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Entries returns a copy of the recorded entries
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Messages returns the recorded messages in order
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Message
	}
	return out
}
