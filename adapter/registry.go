package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// FactoryRegistry holds named factories and picks one for a (type, mode) pair.
// The first registered factory becomes the default. Lookups only take the
// read lock, so concurrent lookups never block each other.
type FactoryRegistry struct {
	mu          sync.RWMutex
	factories   map[string]Factory
	order       []string
	defaultName string
	logger      *slog.Logger
}

// NewFactoryRegistry creates an empty registry
func NewFactoryRegistry(logger *slog.Logger) *FactoryRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &FactoryRegistry{
		factories: make(map[string]Factory),
		logger:    logger.With("component", "adapter-registry"),
	}
}

// Register adds a factory under its name
func (r *FactoryRegistry) Register(f Factory) error {
	if f == nil || f.Name() == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "FactoryRegistry", "Register", "factory validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	name := f.Name()
	if _, exists := r.factories[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("factory %q is already registered", name),
			"FactoryRegistry", "Register", "duplicate factory check")
	}
	r.factories[name] = f
	r.order = append(r.order, name)
	if r.defaultName == "" {
		r.defaultName = name
	}
	r.logger.Debug("Factory registered", "factory", name, "default", r.defaultName == name)
	return nil
}

// Unregister removes a factory. Removing the default promotes the first
// remaining factory in registration order.
func (r *FactoryRegistry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; !ok {
		return false
	}
	delete(r.factories, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	if r.defaultName == name {
		r.defaultName = ""
		if len(r.order) > 0 {
			r.defaultName = r.order[0]
		}
	}
	return true
}

// Factory returns a factory by name
func (r *FactoryRegistry) Factory(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// SetDefault makes a registered factory the default
func (r *FactoryRegistry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; !ok {
		return fmt.Errorf("factory %q: %w", name, errors.ErrNotFound)
	}
	r.defaultName = name
	return nil
}

// DefaultFactoryName returns the default factory name, or "" when empty
func (r *FactoryRegistry) DefaultFactoryName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// Names returns factory names in registration order
func (r *FactoryRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// FactoryFor selects the default factory if it supports the pair, otherwise
// the first supporting factory in registration order.
func (r *FactoryRegistry) FactoryFor(t Type, m Mode) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if f, ok := r.factories[r.defaultName]; ok && f.Supports(t, m) {
		return f, nil
	}
	for _, name := range r.order {
		if f := r.factories[name]; f.Supports(t, m) {
			return f, nil
		}
	}
	return nil, errors.NewConfigurationError(subject(t, m), "no registered factory supports this adapter", errors.ErrUnsupportedType)
}

// IsSupported reports whether any factory supports the pair
func (r *FactoryRegistry) IsSupported(t Type, m Mode) bool {
	_, err := r.FactoryFor(t, m)
	return err == nil
}

// CreateSender builds an inbound adapter with the selected factory
func (r *FactoryRegistry) CreateSender(t Type, cfg any) (Sender, error) {
	f, err := r.FactoryFor(t, ModeSender)
	if err != nil {
		return nil, err
	}
	return f.CreateSender(t, cfg)
}

// CreateReceiver builds an outbound adapter with the selected factory
func (r *FactoryRegistry) CreateReceiver(t Type, cfg any) (Receiver, error) {
	f, err := r.FactoryFor(t, ModeReceiver)
	if err != nil {
		return nil, err
	}
	return f.CreateReceiver(t, cfg)
}

// CreateAndInitialize builds and initializes an adapter. An adapter whose
// initialization fails is destroyed before the error is returned.
func (r *FactoryRegistry) CreateAndInitialize(ctx context.Context, t Type, m Mode, cfg any) (Adapter, error) {
	var (
		a   Adapter
		err error
	)
	switch m {
	case ModeSender:
		a, err = r.CreateSender(t, cfg)
	case ModeReceiver:
		a, err = r.CreateReceiver(t, cfg)
	default:
		return nil, errors.NewConfigurationError(string(t), fmt.Sprintf("unknown adapter mode %q", m), errors.ErrInvalidConfig)
	}
	if err != nil {
		return nil, err
	}

	if err := a.Initialize(ctx); err != nil {
		if derr := a.Destroy(ctx); derr != nil {
			r.logger.Warn("Destroy after failed initialize", "adapter_type", string(t), "error", derr)
		}
		var ae *errors.AdapterError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, errors.NewAdapterError(string(t), string(m), "initialize", err)
	}
	return a, nil
}
