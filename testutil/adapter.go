package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// MockConfig is the configuration shape registered for mock adapters.
type MockConfig struct {
	Name string `json:"name,omitempty"`
	adapter.Conversion
}

// Validate accepts any name
func (c *MockConfig) Validate() error { return c.Conversion.Validate() }

// lifecycle tracks Initialize and Destroy calls for the mocks.
type lifecycle struct {
	mu           sync.Mutex
	initialized  bool
	initCalls    int
	destroyCalls int

	// InitErr, when set, fails Initialize.
	InitErr error
}

func (l *lifecycle) Initialize(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.initCalls++
	if l.InitErr != nil {
		return l.InitErr
	}
	l.initialized = true
	return nil
}

func (l *lifecycle) TestConnection(context.Context) error { return nil }

func (l *lifecycle) Destroy(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.destroyCalls++
	l.initialized = false
	return nil
}

func (l *lifecycle) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialized
}

// InitCalls returns how often Initialize ran
func (l *lifecycle) InitCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initCalls
}

// DestroyCalls returns how often Destroy ran
func (l *lifecycle) DestroyCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.destroyCalls
}

// MockSender hands out queued payloads, then reports ErrNoMessage.
type MockSender struct {
	lifecycle
	AdapterType adapter.Type
	ContentType string

	// ReceiveErr, when set, fails Receive.
	ReceiveErr error

	payloads [][]byte
	acks     int
}

var _ adapter.Sender = (*MockSender)(nil)

// NewMockSender creates a FILE sender holding payloads in order
func NewMockSender(payloads ...string) *MockSender {
	s := &MockSender{AdapterType: adapter.TypeFILE}
	for _, p := range payloads {
		s.payloads = append(s.payloads, []byte(p))
	}
	return s
}

// Push queues another payload
func (s *MockSender) Push(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, append([]byte(nil), p...))
}

// Type returns the configured adapter type
func (s *MockSender) Type() adapter.Type { return s.AdapterType }

// Mode returns SENDER
func (s *MockSender) Mode() adapter.Mode { return adapter.ModeSender }

// Receive pops the next payload. Acknowledging it is counted.
func (s *MockSender) Receive(ctx context.Context) (*adapter.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, errors.NewAdapterError(string(s.AdapterType), string(adapter.ModeSender), "receive", errors.ErrNotInitialized)
	}
	if s.ReceiveErr != nil {
		return nil, errors.NewAdapterError(string(s.AdapterType), string(adapter.ModeSender), "receive", s.ReceiveErr)
	}
	if len(s.payloads) == 0 {
		return nil, errors.ErrNoMessage
	}
	p := s.payloads[0]
	s.payloads = s.payloads[1:]
	msg := adapter.NewMessage(p, s.ContentType, "mock")
	return msg.WithAck(func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.acks++
		return nil
	}), nil
}

// Pending returns the number of queued payloads
func (s *MockSender) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

// Acks returns how many received messages were acknowledged
func (s *MockSender) Acks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acks
}

// MockReceiver records every payload it is sent.
type MockReceiver struct {
	lifecycle
	AdapterType adapter.Type

	// SendErr, when set, fails Send.
	SendErr error
	// SendFunc, when set, runs before the payload is recorded.
	SendFunc func(ctx context.Context, msg *adapter.Message) error

	sent [][]byte
}

var _ adapter.Receiver = (*MockReceiver)(nil)

// NewMockReceiver creates a FILE receiver
func NewMockReceiver() *MockReceiver {
	return &MockReceiver{AdapterType: adapter.TypeFILE}
}

// Type returns the configured adapter type
func (r *MockReceiver) Type() adapter.Type { return r.AdapterType }

// Mode returns RECEIVER
func (r *MockReceiver) Mode() adapter.Mode { return adapter.ModeReceiver }

// Send records msg's payload
func (r *MockReceiver) Send(ctx context.Context, msg *adapter.Message) (*adapter.SendResult, error) {
	if r.SendFunc != nil {
		if err := r.SendFunc(ctx, msg); err != nil {
			return nil, errors.NewAdapterError(string(r.AdapterType), string(adapter.ModeReceiver), "send", err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil, errors.NewAdapterError(string(r.AdapterType), string(adapter.ModeReceiver), "send", errors.ErrNotInitialized)
	}
	if r.SendErr != nil {
		return nil, errors.NewAdapterError(string(r.AdapterType), string(adapter.ModeReceiver), "send", r.SendErr)
	}
	r.sent = append(r.sent, append([]byte(nil), msg.Payload...))
	return &adapter.SendResult{Success: true, Message: "recorded", BytesSent: len(msg.Payload)}, nil
}

// Sent returns copies of every payload sent, in order
func (r *MockReceiver) Sent() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.sent))
	for i, p := range r.sent {
		out[i] = append([]byte(nil), p...)
	}
	return out
}

// RegisterMocks registers s and r in f under their adapter types. Every
// creation through f returns the same instance. Either may be nil.
func RegisterMocks(f *adapter.DefaultFactory, s *MockSender, r *MockReceiver) error {
	if s != nil {
		err := f.Register(adapter.Registration{
			Type: s.AdapterType, Mode: adapter.ModeSender,
			Description: "in-memory sender",
			NewConfig:   func() adapter.Config { return &MockConfig{} },
			Construct: func(adapter.Config, adapter.Dependencies) (adapter.Adapter, error) {
				return s, nil
			},
		})
		if err != nil {
			return err
		}
	}
	if r != nil {
		return f.Register(adapter.Registration{
			Type: r.AdapterType, Mode: adapter.ModeReceiver,
			Description: "in-memory receiver",
			NewConfig:   func() adapter.Config { return &MockConfig{} },
			Construct: func(adapter.Config, adapter.Dependencies) (adapter.Adapter, error) {
				return r, nil
			},
		})
	}
	return nil
}

// NewMockRegistry returns a factory registry whose only factory, "mock",
// serves s and the given receivers.
func NewMockRegistry(t testing.TB, s *MockSender, receivers ...*MockReceiver) *adapter.FactoryRegistry {
	t.Helper()

	f := adapter.NewDefaultFactory("mock", adapter.Dependencies{})
	if err := RegisterMocks(f, s, nil); err != nil {
		t.Fatalf("register mock sender: %v", err)
	}
	for _, r := range receivers {
		if err := RegisterMocks(f, nil, r); err != nil {
			t.Fatalf("register mock receiver: %v", err)
		}
	}
	registry := adapter.NewFactoryRegistry(nil)
	if err := registry.Register(f); err != nil {
		t.Fatalf("register mock factory: %v", err)
	}
	return registry
}
