// Package convert turns raw adapter payloads into canonical documents and
// back. One converter is registered per adapter protocol.
package convert

import (
	"fmt"
	"sync"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
)

// Converter converts between a protocol's wire bytes and the canonical form.
type Converter interface {
	ToCanonical(raw []byte, cfg adapter.Config) (*payload.Document, error)
	FromCanonical(doc *payload.Document, cfg adapter.Config) ([]byte, error)
}

// Optional config capabilities read by the built-in converters.
type (
	rootNamer interface{ RootElement() string }
	formatter interface{ OutputFormat() string }
)

func rootName(cfg adapter.Config, def string) string {
	if r, ok := cfg.(rootNamer); ok && r.RootElement() != "" {
		return r.RootElement()
	}
	return def
}

func outputFormat(cfg adapter.Config) string {
	if f, ok := cfg.(formatter); ok {
		return f.OutputFormat()
	}
	return ""
}

// Registry maps adapter protocols to converters.
type Registry struct {
	mu         sync.RWMutex
	converters map[adapter.Type]Converter
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{converters: make(map[adapter.Type]Converter)}
}

// NewDefaultRegistry returns a registry with the built-in converter for every
// protocol.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	xmlConv := &XMLConverter{}
	jsonConv := &JSONConverter{}
	sniff := &SniffConverter{}
	for _, t := range []adapter.Type{adapter.TypeSOAP, adapter.TypeIDOC} {
		_ = r.Register(t, xmlConv)
	}
	for _, t := range []adapter.Type{
		adapter.TypeHTTP, adapter.TypeREST, adapter.TypeODATA, adapter.TypeJMS,
		adapter.TypeKAFKA, adapter.TypeRFC, adapter.TypeJDBC,
	} {
		_ = r.Register(t, jsonConv)
	}
	for _, t := range []adapter.Type{adapter.TypeFILE, adapter.TypeFTP, adapter.TypeSFTP, adapter.TypeMAIL} {
		_ = r.Register(t, sniff)
	}
	return r
}

// Register installs c for protocol t. A protocol can only be registered once.
func (r *Registry) Register(t adapter.Type, c Converter) error {
	if c == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "convert", "Register", "nil converter check")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.converters[t]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: converter for %s", errors.ErrAlreadyExists, t), "convert", "Register", "duplicate check")
	}
	r.converters[t] = c
	return nil
}

// For returns the converter for protocol t
func (r *Registry) For(t adapter.Type) (Converter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.converters[t]
	if !ok {
		return nil, &errors.ConversionError{Protocol: string(t), Err: fmt.Errorf("%w: no converter registered", errors.ErrUnsupportedType)}
	}
	return c, nil
}

func conversionError(t string, err error) error {
	var ce *errors.ConversionError
	if errors.As(err, &ce) {
		return err
	}
	return &errors.ConversionError{Protocol: t, Err: err}
}
