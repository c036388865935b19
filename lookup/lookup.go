// Package lookup provides the key/value providers used by enrichment steps.
package lookup

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/config"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// Provider resolves a key to a value. A missing key is not an error.
type Provider interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
}

// MapProvider serves lookups from a fixed table
type MapProvider struct {
	values map[string]string
}

// NewMapProvider copies values into a provider
func NewMapProvider(values map[string]string) *MapProvider {
	m := make(map[string]string, len(values))
	for k, v := range values {
		m[k] = v
	}
	return &MapProvider{values: m}
}

// Lookup returns the value stored under key
func (p *MapProvider) Lookup(_ context.Context, key string) (string, bool, error) {
	v, ok := p.values[key]
	return v, ok, nil
}

// Registry holds named providers
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under name
func (r *Registry) Register(name string, p Provider) error {
	if name == "" || p == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "lookup", "Register", "provider registration")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("lookup provider %q: %w", name, errors.ErrAlreadyExists)
	}
	r.providers[name] = p
	return nil
}

// Get returns the provider registered under name
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("lookup provider %q: %w", name, errors.ErrNotFound)
	}
	return p, nil
}

// Names returns the registered provider names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromConfig builds a registry with one map provider per static table and
// a redis provider when configured. The returned close function releases
// the redis connection.
func FromConfig(cfg config.LookupConfig) (*Registry, func() error, error) {
	r := NewRegistry()
	closeFn := func() error { return nil }

	for name, values := range cfg.Static {
		if err := r.Register(name, NewMapProvider(values)); err != nil {
			return nil, nil, err
		}
	}

	if cfg.Redis != nil {
		name := cfg.Redis.Name
		if name == "" {
			name = "redis"
		}
		rp := NewRedisProvider(*cfg.Redis)
		if err := r.Register(name, rp); err != nil {
			_ = rp.Close()
			return nil, nil, err
		}
		closeFn = rp.Close
	}
	return r, closeFn, nil
}
