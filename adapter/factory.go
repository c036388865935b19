package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// Factory creates adapters for the (type, mode) pairs it supports.
type Factory interface {
	Name() string
	Supports(t Type, m Mode) bool
	Supported() []Key
	CreateSender(t Type, cfg any) (Sender, error)
	CreateReceiver(t Type, cfg any) (Receiver, error)
}

// Registration binds one (type, mode) pair to its configuration shape and
// constructor. Constructors must not perform I/O; that happens in Initialize.
type Registration struct {
	Type        Type
	Mode        Mode
	Description string
	NewConfig   func() Config
	Construct   func(cfg Config, deps Dependencies) (Adapter, error)
}

// ConfigType returns the Go type of the registered configuration shape.
func (r Registration) ConfigType() reflect.Type {
	return reflect.TypeOf(r.NewConfig())
}

// Info describes a registered pair for listings.
type Info struct {
	Type        Type   `json:"type"`
	Mode        Mode   `json:"mode"`
	ConfigType  string `json:"configType"`
	Description string `json:"description"`
}

// DefaultFactory builds adapters from a registration table. Protocol packages
// add their pairs through Register.
type DefaultFactory struct {
	name   string
	deps   Dependencies
	logger *slog.Logger

	mu   sync.RWMutex
	regs map[Key]Registration
}

var _ Factory = (*DefaultFactory)(nil)

// NewDefaultFactory creates an empty factory
func NewDefaultFactory(name string, deps Dependencies) *DefaultFactory {
	return &DefaultFactory{
		name:   name,
		deps:   deps,
		logger: deps.logger().With("component", "adapter-factory", "factory", name),
		regs:   make(map[Key]Registration),
	}
}

// Name returns the factory name
func (f *DefaultFactory) Name() string { return f.name }

// Register adds a registration. Duplicate pairs are rejected.
func (f *DefaultFactory) Register(reg Registration) error {
	if reg.Type == "" || reg.Mode == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "DefaultFactory", "Register", "type and mode validation")
	}
	if reg.NewConfig == nil || reg.Construct == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "DefaultFactory", "Register", "constructor validation")
	}
	if reg.NewConfig() == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "DefaultFactory", "Register", "config shape validation")
	}

	key := Key{Type: reg.Type, Mode: reg.Mode}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.regs[key]; exists {
		return errors.WrapInvalid(fmt.Errorf("%s is already registered", key), "DefaultFactory", "Register", "duplicate check")
	}
	f.regs[key] = reg
	return nil
}

// Supports reports whether the pair is registered
func (f *DefaultFactory) Supports(t Type, m Mode) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.regs[Key{Type: t, Mode: m}]
	return ok
}

// Supported lists the registered pairs ordered by type then mode
func (f *DefaultFactory) Supported() []Key {
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := make([]Key, 0, len(f.regs))
	for k := range f.regs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].Mode < keys[j].Mode
	})
	return keys
}

// Describe lists registrations with their configuration shapes
func (f *DefaultFactory) Describe() []Info {
	keys := f.Supported()
	f.mu.RLock()
	defer f.mu.RUnlock()
	infos := make([]Info, 0, len(keys))
	for _, k := range keys {
		reg := f.regs[k]
		infos = append(infos, Info{
			Type:        k.Type,
			Mode:        k.Mode,
			ConfigType:  typeName(reg.ConfigType()),
			Description: reg.Description,
		})
	}
	return infos
}

// CreateSender builds an inbound adapter
func (f *DefaultFactory) CreateSender(t Type, cfg any) (Sender, error) {
	a, err := f.create(t, ModeSender, cfg)
	if err != nil {
		return nil, err
	}
	s, ok := a.(Sender)
	if !ok {
		return nil, errors.NewAdapterError(string(t), string(ModeSender), "create",
			fmt.Errorf("constructor returned %T, which is not a sender", a))
	}
	return s, nil
}

// CreateReceiver builds an outbound adapter
func (f *DefaultFactory) CreateReceiver(t Type, cfg any) (Receiver, error) {
	a, err := f.create(t, ModeReceiver, cfg)
	if err != nil {
		return nil, err
	}
	r, ok := a.(Receiver)
	if !ok {
		return nil, errors.NewAdapterError(string(t), string(ModeReceiver), "create",
			fmt.Errorf("constructor returned %T, which is not a receiver", a))
	}
	return r, nil
}

func subject(t Type, m Mode) string {
	return fmt.Sprintf("%s %s", t, m.Lower())
}

func (f *DefaultFactory) create(t Type, m Mode, raw any) (Adapter, error) {
	if t == "" {
		return nil, errors.NewConfigurationError("adapter", "adapter type is required", errors.ErrMissingConfig)
	}
	if isNil(raw) {
		return nil, errors.NewConfigurationError(subject(t, m), "configuration is required", errors.ErrMissingConfig)
	}

	f.mu.RLock()
	reg, ok := f.regs[Key{Type: t, Mode: m}]
	f.mu.RUnlock()
	if !ok {
		return nil, errors.NewConfigurationError(subject(t, m), "unsupported by factory "+f.name, errors.ErrUnsupportedType)
	}

	cfg, err := decodeConfig(subject(t, m), reg, raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewConfigurationError(subject(t, m), "invalid configuration", err)
	}

	a, err := construct(reg, cfg, f.deps)
	if err != nil {
		f.logger.Warn("Adapter construction failed", "adapter_type", string(t), "adapter_mode", string(m), "error", err)
		return nil, errors.NewAdapterError(string(t), string(m), "create", err)
	}
	return a, nil
}

// construct runs the constructor, converting a panic into an error.
func construct(reg Registration, cfg Config, deps Dependencies) (a Adapter, err error) {
	defer func() {
		if r := recover(); r != nil {
			a, err = nil, fmt.Errorf("constructor panicked: %v", r)
		}
	}()
	a, err = reg.Construct(cfg, deps)
	if err == nil && isNil(a) {
		err = fmt.Errorf("constructor returned no adapter")
	}
	return a, err
}

// decodeConfig turns a typed or raw configuration into the registered shape.
func decodeConfig(subj string, reg Registration, raw any) (Config, error) {
	expected := reg.ConfigType()

	var data []byte
	switch v := raw.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case map[string]any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, errors.NewConfigurationError(subj, "configuration map is not serializable", err)
		}
		data = encoded
	case Config:
		if reflect.TypeOf(v) != expected {
			return nil, errors.NewShapeMismatch(subj, typeName(expected), typeName(reflect.TypeOf(v)))
		}
		return v, nil
	default:
		return nil, errors.NewShapeMismatch(subj, typeName(expected), typeName(reflect.TypeOf(raw)))
	}

	cfg := reg.NewConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, &errors.ConfigurationError{
			Subject:  subj,
			Expected: typeName(expected),
			Actual:   "undecodable configuration",
			Err:      err,
		}
	}
	return cfg, nil
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	if t.Kind() == reflect.Pointer {
		return t.Elem().String()
	}
	return t.String()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func:
		return rv.IsNil()
	}
	return false
}
