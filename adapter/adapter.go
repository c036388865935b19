// Package adapter defines the protocol adapter capability model: adapter
// lifecycles, inbound senders, outbound receivers, the registration-table
// factory that builds them from typed or raw configuration, and the registry
// that selects a factory for a (type, mode) pair.
package adapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/natsclient"
)

// Config is implemented by every adapter configuration shape.
type Config interface {
	Validate() error
}

// Message is a payload received from, or about to be sent to, an external system.
type Message struct {
	Payload     []byte
	Headers     map[string]string
	ContentType string
	Source      string
	ReceivedAt  time.Time

	ack func(context.Context) error
}

// NewMessage builds a message stamped with the current time.
func NewMessage(payload []byte, contentType, source string) *Message {
	return &Message{
		Payload:     payload,
		Headers:     map[string]string{},
		ContentType: contentType,
		Source:      source,
		ReceivedAt:  time.Now(),
	}
}

// WithAck attaches the action that confirms consumption at the source, such
// as archiving a file or committing a Kafka offset.
func (m *Message) WithAck(fn func(context.Context) error) *Message {
	m.ack = fn
	return m
}

// Ack confirms the message was delivered. It is a no-op without an ack action.
func (m *Message) Ack(ctx context.Context) error {
	if m == nil || m.ack == nil {
		return nil
	}
	return m.ack(ctx)
}

// SendResult describes one outbound delivery.
type SendResult struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
	BytesSent int            `json:"bytesSent"`
	Details   map[string]any `json:"details,omitempty"`
}

// BatchStatus summarizes a batch delivery
type BatchStatus string

// BatchStatus constants
const (
	BatchSuccess BatchStatus = "success"
	BatchPartial BatchStatus = "partial"
	BatchFailure BatchStatus = "failure"
)

// BatchResult aggregates per-message results of a batch delivery.
type BatchResult struct {
	Status    BatchStatus   `json:"status"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Results   []*SendResult `json:"results"`
}

// Adapter is the lifecycle shared by senders and receivers.
type Adapter interface {
	Type() Type
	Mode() Mode
	Initialize(ctx context.Context) error
	TestConnection(ctx context.Context) error
	Destroy(ctx context.Context) error
	Initialized() bool
}

// Sender pulls data in from an external system.
type Sender interface {
	Adapter
	// Receive returns the next available message, or an error matching
	// errors.ErrNoMessage when the source is empty.
	Receive(ctx context.Context) (*Message, error)
}

// Receiver pushes data out to an external system.
type Receiver interface {
	Adapter
	Send(ctx context.Context, msg *Message) (*SendResult, error)
}

// BatchReceiver is implemented by receivers with a native batch operation.
type BatchReceiver interface {
	Receiver
	SendBatch(ctx context.Context, msgs []*Message) (*BatchResult, error)
}

// SendBatch delivers msgs through r, using the native batch operation when r
// has one. Individual failures are counted, not returned; only cancellation
// stops the batch early.
func SendBatch(ctx context.Context, r Receiver, msgs []*Message) (*BatchResult, error) {
	if br, ok := r.(BatchReceiver); ok {
		return br.SendBatch(ctx, msgs)
	}

	result := &BatchResult{Results: make([]*SendResult, 0, len(msgs))}
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return Summarize(result), err
		}
		res, err := r.Send(ctx, msg)
		if err != nil {
			res = &SendResult{Success: false, Message: err.Error()}
		}
		result.Results = append(result.Results, res)
	}
	return Summarize(result), nil
}

// Summarize recomputes the counters and status from Results.
func Summarize(result *BatchResult) *BatchResult {
	result.Succeeded, result.Failed = 0, 0
	for _, r := range result.Results {
		if r != nil && r.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	switch {
	case result.Failed == 0:
		result.Status = BatchSuccess
	case result.Succeeded == 0:
		result.Status = BatchFailure
	default:
		result.Status = BatchPartial
	}
	return result
}

// MessageBus is the NATS surface used by the JMS adapter.
type MessageBus interface {
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
	PublishToStream(ctx context.Context, subject string, data []byte, headers map[string]string) error
	QueueSubscribe(ctx context.Context, subject, queue string, handler func(context.Context, natsclient.Msg)) (func() error, error)
}

// Dependencies are the shared collaborators handed to adapter constructors.
type Dependencies struct {
	Logger     *slog.Logger
	Metrics    *metric.MetricsRegistry
	NATS       MessageBus
	HTTPClient *http.Client
}

// logger returns the dependency logger or the default one.
func (d Dependencies) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
