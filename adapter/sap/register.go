package sap

import (
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
)

// Register adds the RFC and IDOC pairs to f
func Register(f *adapter.DefaultFactory) error {
	regs := []adapter.Registration{
		{
			Type:        adapter.TypeRFC,
			Mode:        adapter.ModeSender,
			Description: "Calls a function module through the RFC gateway and delivers its result",
			NewConfig:   func() adapter.Config { return &RFCSenderConfig{} },
			Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
				return NewRFCSender(cfg.(*RFCSenderConfig), deps), nil
			},
		},
		{
			Type:        adapter.TypeRFC,
			Mode:        adapter.ModeReceiver,
			Description: "Invokes a function module with each payload",
			NewConfig:   func() adapter.Config { return &RFCReceiverConfig{} },
			Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
				return NewRFCReceiver(cfg.(*RFCReceiverConfig), deps), nil
			},
		},
		{
			Type:        adapter.TypeIDOC,
			Mode:        adapter.ModeSender,
			Description: "Fetches IDoc XML from the gateway inbox",
			NewConfig:   func() adapter.Config { return &IDocSenderConfig{} },
			Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
				return NewIDocSender(cfg.(*IDocSenderConfig), deps), nil
			},
		},
		{
			Type:        adapter.TypeIDOC,
			Mode:        adapter.ModeReceiver,
			Description: "Posts IDoc XML with control record headers",
			NewConfig:   func() adapter.Config { return &IDocReceiverConfig{} },
			Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
				return NewIDocReceiver(cfg.(*IDocReceiverConfig), deps), nil
			},
		},
	}
	for _, reg := range regs {
		if err := f.Register(reg); err != nil {
			return err
		}
	}
	return nil
}
