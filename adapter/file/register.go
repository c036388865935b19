package file

import (
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
)

// Register adds the FILE sender and receiver to f
func Register(f *adapter.DefaultFactory) error {
	if err := f.Register(adapter.Registration{
		Type:        adapter.TypeFILE,
		Mode:        adapter.ModeSender,
		Description: "Reads the oldest matching file from a directory, then archives or deletes it",
		NewConfig:   func() adapter.Config { return &SenderConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewSender(cfg.(*SenderConfig), deps), nil
		},
	}); err != nil {
		return err
	}
	return f.Register(adapter.Registration{
		Type:        adapter.TypeFILE,
		Mode:        adapter.ModeReceiver,
		Description: "Writes each message to a file named by pattern",
		NewConfig:   func() adapter.Config { return &ReceiverConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewReceiver(cfg.(*ReceiverConfig), deps), nil
		},
	})
}
