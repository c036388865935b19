package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
)

// Hooks are the protocol-specific lifecycle steps a Base drives.
type Hooks struct {
	Connect    func(ctx context.Context) error
	Disconnect func(ctx context.Context) error
	Test       func(ctx context.Context) error
}

// Base implements the Adapter lifecycle around Hooks. Concrete adapters embed
// *Base and add Receive or Send.
type Base struct {
	key     Key
	hooks   Hooks
	logger  *slog.Logger
	metrics *metric.Metrics

	mu          sync.Mutex
	initialized bool
}

// NewBase creates the lifecycle helper for one adapter instance
func NewBase(t Type, m Mode, deps Dependencies, hooks Hooks) *Base {
	var metrics *metric.Metrics
	if deps.Metrics != nil {
		metrics = deps.Metrics.CoreMetrics()
	}
	return &Base{
		key:     Key{Type: t, Mode: m},
		hooks:   hooks,
		logger:  deps.logger().With("component", "adapter", "adapter_type", string(t), "adapter_mode", string(m)),
		metrics: metrics,
	}
}

// Type returns the adapter type
func (b *Base) Type() Type { return b.key.Type }

// Mode returns the adapter mode
func (b *Base) Mode() Mode { return b.key.Mode }

// Key returns the (type, mode) pair
func (b *Base) Key() Key { return b.key }

// Logger returns the adapter-scoped logger
func (b *Base) Logger() *slog.Logger { return b.logger }

// Initialized reports whether Initialize succeeded and Destroy has not run
func (b *Base) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized
}

// Initialize runs the Connect hook once. Repeated calls are no-ops.
func (b *Base) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return nil
	}

	start := time.Now()
	if b.hooks.Connect != nil {
		if err := b.hooks.Connect(ctx); err != nil {
			b.metrics.RecordAdapterOperation(string(b.key.Type), string(b.key.Mode), "initialize", err, time.Since(start))
			return b.Fail("initialize", fmt.Errorf("initialization failed: %w", err))
		}
	}
	b.initialized = true
	b.metrics.RecordAdapterOperation(string(b.key.Type), string(b.key.Mode), "initialize", nil, time.Since(start))
	b.logger.Debug("Adapter initialized")
	return nil
}

// TestConnection runs the Test hook
func (b *Base) TestConnection(ctx context.Context) error {
	if b.hooks.Test == nil {
		return nil
	}
	if err := b.hooks.Test(ctx); err != nil {
		return b.Fail("test connection", err)
	}
	return nil
}

// Destroy runs the Disconnect hook and resets the lifecycle. Destroying an
// adapter that was never initialized is a no-op.
func (b *Base) Destroy(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil
	}
	b.initialized = false
	if b.hooks.Disconnect != nil {
		if err := b.hooks.Disconnect(ctx); err != nil {
			return b.Fail("destroy", err)
		}
	}
	b.logger.Debug("Adapter destroyed")
	return nil
}

// ValidateReady fails with ErrNotInitialized before Initialize succeeded
func (b *Base) ValidateReady(op string) error {
	if !b.Initialized() {
		return b.Fail(op, errors.ErrNotInitialized)
	}
	return nil
}

// CheckMessage rejects nil messages and nil payloads
func (b *Base) CheckMessage(msg *Message) error {
	if msg == nil || msg.Payload == nil {
		return b.Fail("send", errors.ErrNilPayload)
	}
	return nil
}

// Fail wraps err as an AdapterError for this adapter. Errors that already are
// AdapterErrors pass through unchanged.
func (b *Base) Fail(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *errors.AdapterError
	if errors.As(err, &ae) {
		return err
	}
	return errors.NewAdapterError(string(b.key.Type), string(b.key.Mode), op, err)
}

// Observe records an operation's outcome and wraps a failure
func (b *Base) Observe(op string, start time.Time, n int, err error) error {
	b.metrics.RecordAdapterOperation(string(b.key.Type), string(b.key.Mode), op, err, time.Since(start))
	if err != nil {
		if !errors.Is(err, errors.ErrNoMessage) {
			b.logger.Warn("Adapter operation failed", "operation", op, "error", err)
		}
		return b.Fail(op, err)
	}
	b.metrics.RecordAdapterBytes(string(b.key.Type), string(b.key.Mode), n)
	return nil
}
