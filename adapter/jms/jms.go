// Package jms implements the JMS adapter pair on the NATS message bus.
// Queues map to NATS queue groups so each message reaches one consumer;
// topics map to plain subscriptions. Persistent delivery publishes to
// JetStream.
package jms

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/config"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/natsclient"
)

// Destination types
const (
	DestinationQueue = "queue"
	DestinationTopic = "topic"
)

// Defaults
const (
	DefaultSubscription = "flowbridge"
	DefaultBufferSize   = 100
)

// Header keys added to received and sent messages
const (
	HeaderDestination  = "JMSDestination"
	HeaderDeliveryMode = "JMSDeliveryMode"
	HeaderSubject      = "nats_subject"
)

// SenderConfig configures consuming from a destination. Selector keeps only
// messages whose headers carry every listed value.
type SenderConfig struct {
	adapter.Conversion
	Destination      string            `json:"destination"`
	DestinationType  string            `json:"destination_type,omitempty"`
	SubscriptionName string            `json:"subscription_name,omitempty"`
	Selector         map[string]string `json:"message_selector,omitempty"`
	BufferSize       int               `json:"buffer_size,omitempty"`
	ReceiveWait      config.Duration   `json:"receive_wait,omitempty"`
}

// Validate checks the configuration
func (c *SenderConfig) Validate() error {
	if err := validDestination(c.Destination, c.DestinationType); err != nil {
		return err
	}
	if c.BufferSize < 0 || c.ReceiveWait < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "jms", "Validate", "buffer_size and receive_wait cannot be negative")
	}
	return c.Conversion.Validate()
}

func (c *SenderConfig) queueGroup() string {
	if destType(c.DestinationType) == DestinationTopic {
		return ""
	}
	if c.SubscriptionName == "" {
		return DefaultSubscription
	}
	return c.SubscriptionName
}

// ReceiverConfig configures publishing to a destination
type ReceiverConfig struct {
	adapter.Conversion
	Destination     string            `json:"destination"`
	DestinationType string            `json:"destination_type,omitempty"`
	Persistent      bool              `json:"persistent,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
}

// Validate checks the configuration
func (c *ReceiverConfig) Validate() error {
	if err := validDestination(c.Destination, c.DestinationType); err != nil {
		return err
	}
	return c.Conversion.Validate()
}

func validDestination(dest, kind string) error {
	if strings.TrimSpace(dest) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "jms", "Validate", "destination is required")
	}
	if strings.ContainsAny(dest, " \t\r\n") {
		return errors.WrapInvalid(fmt.Errorf("%w: destination %q contains whitespace", errors.ErrInvalidConfig, dest),
			"jms", "Validate", "destination")
	}
	switch destType(kind) {
	case DestinationQueue, DestinationTopic:
		return nil
	}
	return errors.WrapInvalid(fmt.Errorf("%w: destination_type %q", errors.ErrInvalidConfig, kind), "jms", "Validate", "destination_type")
}

func destType(kind string) string {
	if kind == "" {
		return DestinationQueue
	}
	return strings.ToLower(kind)
}

func requireBus(bus adapter.MessageBus) error {
	if bus == nil {
		return fmt.Errorf("%w: NATS connection", errors.ErrMissingConfig)
	}
	return nil
}

// Sender buffers messages delivered by its subscription
type Sender struct {
	*adapter.Base
	cfg   *SenderConfig
	bus   adapter.MessageBus
	queue chan *adapter.Message

	mu          sync.Mutex
	cancel      context.CancelFunc
	unsubscribe func() error
}

// NewSender creates a JMS sender
func NewSender(cfg *SenderConfig, deps adapter.Dependencies) *Sender {
	size := cfg.BufferSize
	if size == 0 {
		size = DefaultBufferSize
	}
	s := &Sender{cfg: cfg, bus: deps.NATS, queue: make(chan *adapter.Message, size)}
	s.Base = adapter.NewBase(adapter.TypeJMS, adapter.ModeSender, deps, adapter.Hooks{
		Connect:    s.subscribe,
		Disconnect: s.unsubscribeAll,
		Test:       func(context.Context) error { return requireBus(s.bus) },
	})
	return s
}

func (s *Sender) subscribe(context.Context) error {
	if err := requireBus(s.bus); err != nil {
		return err
	}
	subCtx, cancel := context.WithCancel(context.Background())
	unsub, err := s.bus.QueueSubscribe(subCtx, s.cfg.Destination, s.cfg.queueGroup(), s.deliver)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", s.cfg.Destination, err)
	}
	s.mu.Lock()
	s.cancel, s.unsubscribe = cancel, unsub
	s.mu.Unlock()
	s.Logger().Info("Subscribed to destination",
		"destination", s.cfg.Destination, "type", destType(s.cfg.DestinationType), "queue_group", s.cfg.queueGroup())
	return nil
}

func (s *Sender) unsubscribeAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	var err error
	if s.unsubscribe != nil {
		err = s.unsubscribe()
	}
	s.cancel, s.unsubscribe = nil, nil
	return err
}

// deliver runs on the bus goroutine. It waits for buffer space until the
// handler context expires, then drops the message.
func (s *Sender) deliver(ctx context.Context, m natsclient.Msg) {
	if !s.selected(m.Headers) {
		return
	}
	msg := adapter.NewMessage(m.Data, m.Headers["Content-Type"], s.cfg.Destination)
	for k, v := range m.Headers {
		msg.Headers[k] = v
	}
	msg.Headers[HeaderDestination] = s.cfg.Destination
	msg.Headers[HeaderSubject] = m.Subject

	select {
	case s.queue <- msg:
	case <-ctx.Done():
		s.Logger().Warn("Dropped message, receive buffer full", "destination", s.cfg.Destination, "buffer", cap(s.queue))
	}
}

func (s *Sender) selected(headers map[string]string) bool {
	for k, want := range s.cfg.Selector {
		if headers[k] != want {
			return false
		}
	}
	return true
}

// Receive returns the next buffered message. Without receive_wait it does
// not block.
func (s *Sender) Receive(ctx context.Context) (*adapter.Message, error) {
	if err := s.ValidateReady("receive"); err != nil {
		return nil, err
	}
	start := time.Now()

	d := s.cfg.ReceiveWait.Duration()
	if d <= 0 {
		select {
		case msg := <-s.queue:
			return msg, s.Observe("receive", start, len(msg.Payload), nil)
		default:
			return nil, s.Observe("receive", start, 0, errors.ErrNoMessage)
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case msg := <-s.queue:
		return msg, s.Observe("receive", start, len(msg.Payload), nil)
	case <-t.C:
		return nil, s.Observe("receive", start, 0, errors.ErrNoMessage)
	case <-ctx.Done():
		return nil, s.Observe("receive", start, 0, ctx.Err())
	}
}

// Pending returns how many messages are buffered
func (s *Sender) Pending() int { return len(s.queue) }

// Receiver publishes each message to its destination
type Receiver struct {
	*adapter.Base
	cfg *ReceiverConfig
	bus adapter.MessageBus
}

// NewReceiver creates a JMS receiver
func NewReceiver(cfg *ReceiverConfig, deps adapter.Dependencies) *Receiver {
	r := &Receiver{cfg: cfg, bus: deps.NATS}
	check := func(context.Context) error { return requireBus(r.bus) }
	r.Base = adapter.NewBase(adapter.TypeJMS, adapter.ModeReceiver, deps, adapter.Hooks{Connect: check, Test: check})
	return r
}

// Send publishes msg. Configured headers are added first so message headers
// override them.
func (r *Receiver) Send(ctx context.Context, msg *adapter.Message) (*adapter.SendResult, error) {
	if err := r.ValidateReady("send"); err != nil {
		return nil, err
	}
	if err := r.CheckMessage(msg); err != nil {
		return nil, err
	}
	start := time.Now()

	headers := make(map[string]string, len(r.cfg.Headers)+len(msg.Headers)+3)
	for k, v := range r.cfg.Headers {
		headers[k] = v
	}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderDestination] = r.cfg.Destination
	mode := "NON_PERSISTENT"
	if r.cfg.Persistent {
		mode = "PERSISTENT"
	}
	headers[HeaderDeliveryMode] = mode
	if msg.ContentType != "" {
		headers["Content-Type"] = msg.ContentType
	}

	var err error
	if r.cfg.Persistent {
		err = r.bus.PublishToStream(ctx, r.cfg.Destination, msg.Payload, headers)
	} else {
		err = r.bus.Publish(ctx, r.cfg.Destination, msg.Payload, headers)
	}
	if err := r.Observe("send", start, len(msg.Payload), err); err != nil {
		return nil, err
	}
	return &adapter.SendResult{
		Success:   true,
		Message:   "Published to " + r.cfg.Destination,
		BytesSent: len(msg.Payload),
		Details:   map[string]any{"destination": r.cfg.Destination, "delivery_mode": mode},
	}, nil
}

// Register adds the JMS sender and receiver to f
func Register(f *adapter.DefaultFactory) error {
	if err := f.Register(adapter.Registration{
		Type:        adapter.TypeJMS,
		Mode:        adapter.ModeSender,
		Description: "Consumes a queue or topic from the message bus",
		NewConfig:   func() adapter.Config { return &SenderConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewSender(cfg.(*SenderConfig), deps), nil
		},
	}); err != nil {
		return err
	}
	return f.Register(adapter.Registration{
		Type:        adapter.TypeJMS,
		Mode:        adapter.ModeReceiver,
		Description: "Publishes each message to a queue or topic",
		NewConfig:   func() adapter.Config { return &ReceiverConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewReceiver(cfg.(*ReceiverConfig), deps), nil
		},
	})
}
