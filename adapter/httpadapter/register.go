package httpadapter

import (
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
)

// Register adds the HTTP sender and receiver to f
func Register(f *adapter.DefaultFactory) error {
	if err := f.Register(adapter.Registration{
		Type:        adapter.TypeHTTP,
		Mode:        adapter.ModeSender,
		Description: "Listens for inbound HTTP requests and buffers their bodies",
		NewConfig:   func() adapter.Config { return &SenderConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewSender(cfg.(*SenderConfig), deps), nil
		},
	}); err != nil {
		return err
	}
	return f.Register(adapter.Registration{
		Type:        adapter.TypeHTTP,
		Mode:        adapter.ModeReceiver,
		Description: "Sends payloads to an HTTP endpoint with retry, rate limit and circuit breaker",
		NewConfig:   func() adapter.Config { return &ReceiverConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewReceiver(cfg.(*ReceiverConfig), deps), nil
		},
	})
}
