package flowstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// MemoryStore keeps every definition in process memory. Values are copied on
// the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu              sync.RWMutex
	flows           map[string]*FlowDefinition
	transformations map[string]*Transformation
	mappings        map[string]*FieldMapping
	functions       map[string]*ReusableFunction
	adapters        map[string]*AdapterDefinition
	now             func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flows:           make(map[string]*FlowDefinition),
		transformations: make(map[string]*Transformation),
		mappings:        make(map[string]*FieldMapping),
		functions:       make(map[string]*ReusableFunction),
		adapters:        make(map[string]*AdapterDefinition),
		now:             time.Now,
	}
}

// FindFlow returns a copy of the flow
func (s *MemoryStore) FindFlow(_ context.Context, id string) (*FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flow, ok := s.flows[id]
	if !ok {
		return nil, notFound("flow", id)
	}
	return flow.Clone(), nil
}

// ListFlows returns copies of all flows ordered by id
func (s *MemoryStore) ListFlows(_ context.Context) ([]*FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flows := make([]*FlowDefinition, 0, len(s.flows))
	for _, f := range s.flows {
		flows = append(flows, f.Clone())
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].ID < flows[j].ID })
	return flows, nil
}

// SaveFlow creates or updates a flow with optimistic concurrency control
func (s *MemoryStore) SaveFlow(_ context.Context, flow *FlowDefinition) error {
	if flow == nil {
		return errors.WrapInvalid(errors.ErrNilPayload, "MemoryStore", "SaveFlow", "flow validation")
	}
	if err := flow.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	current, exists := s.flows[flow.ID]
	switch {
	case flow.Version == 0 && exists:
		return fmt.Errorf("flow %q: %w", flow.ID, errors.ErrAlreadyExists)
	case flow.Version == 0:
		flow.CreatedAt = now
	case !exists:
		return notFound("flow", flow.ID)
	case current.Version != flow.Version:
		return errors.WrapInvalid(
			fmt.Errorf("version mismatch: expected %d, got %d", current.Version, flow.Version),
			"MemoryStore", "SaveFlow", "conflict check")
	}

	flow.Version++
	flow.UpdatedAt = now
	s.flows[flow.ID] = flow.Clone()
	return nil
}

// DeleteFlow removes a flow and cascades to its transformations and mappings
func (s *MemoryStore) DeleteFlow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[id]; !ok {
		return notFound("flow", id)
	}
	delete(s.flows, id)
	for tid, t := range s.transformations {
		if t.FlowID != id {
			continue
		}
		delete(s.transformations, tid)
		for mid, m := range s.mappings {
			if m.TransformationID == tid {
				delete(s.mappings, mid)
			}
		}
	}
	return nil
}

// RecordExecution updates the flow's counters under the store lock
func (s *MemoryStore) RecordExecution(_ context.Context, id string, success bool, at time.Time) (*FlowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.flows[id]
	if !ok {
		return nil, notFound("flow", id)
	}
	applyExecution(flow, success, at)
	flow.Version++
	flow.UpdatedAt = s.now()
	return flow.Clone(), nil
}

// FindTransformations returns the flow's steps in execution order
func (s *MemoryStore) FindTransformations(_ context.Context, flowID string) ([]*Transformation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []*Transformation
	for _, t := range s.transformations {
		if t.FlowID == flowID {
			list = append(list, t.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	sortTransformations(list)
	return list, nil
}

// SaveTransformation creates or replaces a step
func (s *MemoryStore) SaveTransformation(_ context.Context, t *Transformation) error {
	if t == nil {
		return errors.WrapInvalid(errors.ErrNilPayload, "MemoryStore", "SaveTransformation", "transformation validation")
	}
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transformations[t.ID] = t.Clone()
	return nil
}

// DeleteTransformation removes a step and its mappings
func (s *MemoryStore) DeleteTransformation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transformations[id]; !ok {
		return notFound("transformation", id)
	}
	delete(s.transformations, id)
	for mid, m := range s.mappings {
		if m.TransformationID == id {
			delete(s.mappings, mid)
		}
	}
	return nil
}

// FindMappings returns the step's mappings in mapping order
func (s *MemoryStore) FindMappings(_ context.Context, transformationID string) ([]*FieldMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []*FieldMapping
	for _, m := range s.mappings {
		if m.TransformationID == transformationID {
			list = append(list, m.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	sortMappings(list)
	return list, nil
}

// SaveMapping creates or replaces a mapping
func (s *MemoryStore) SaveMapping(_ context.Context, m *FieldMapping) error {
	if m == nil {
		return errors.WrapInvalid(errors.ErrNilPayload, "MemoryStore", "SaveMapping", "mapping validation")
	}
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[m.ID] = m.Clone()
	return nil
}

// DeleteMapping removes a mapping
func (s *MemoryStore) DeleteMapping(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mappings[id]; !ok {
		return notFound("mapping", id)
	}
	delete(s.mappings, id)
	return nil
}

// FindFunctionByName returns the function with the exact name
func (s *MemoryStore) FindFunctionByName(_ context.Context, name string) (*ReusableFunction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.functions {
		if f.Name == name {
			return f.Clone(), nil
		}
	}
	return nil, notFound("function", name)
}

// FindFunctionByID returns the function with the id
func (s *MemoryStore) FindFunctionByID(_ context.Context, id string) (*ReusableFunction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.functions[id]
	if !ok {
		return nil, notFound("function", id)
	}
	return f.Clone(), nil
}

// ListFunctions returns all functions ordered by name
func (s *MemoryStore) ListFunctions(_ context.Context) ([]*ReusableFunction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*ReusableFunction, 0, len(s.functions))
	for _, f := range s.functions {
		list = append(list, f.Clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

// SaveFunction creates or replaces a function. Names must stay unique.
func (s *MemoryStore) SaveFunction(_ context.Context, f *ReusableFunction) error {
	if f == nil {
		return errors.WrapInvalid(errors.ErrNilPayload, "MemoryStore", "SaveFunction", "function validation")
	}
	if err := f.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.functions {
		if id != f.ID && existing.Name == f.Name {
			return fmt.Errorf("function name %q: %w", f.Name, errors.ErrAlreadyExists)
		}
	}
	s.functions[f.ID] = f.Clone()
	return nil
}

// DeleteFunction removes a function
func (s *MemoryStore) DeleteFunction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.functions[id]; !ok {
		return notFound("function", id)
	}
	delete(s.functions, id)
	return nil
}

// FindAdapterConfig returns the adapter definition
func (s *MemoryStore) FindAdapterConfig(_ context.Context, id string) (*AdapterDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.adapters[id]
	if !ok {
		return nil, notFound("adapter", id)
	}
	return a.Clone(), nil
}

// ListAdapterConfigs returns all adapter definitions ordered by id
func (s *MemoryStore) ListAdapterConfigs(_ context.Context) ([]*AdapterDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*AdapterDefinition, 0, len(s.adapters))
	for _, a := range s.adapters {
		list = append(list, a.Clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// SaveAdapterConfig creates or replaces an adapter definition
func (s *MemoryStore) SaveAdapterConfig(_ context.Context, a *AdapterDefinition) error {
	if a == nil {
		return errors.WrapInvalid(errors.ErrNilPayload, "MemoryStore", "SaveAdapterConfig", "adapter validation")
	}
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[a.ID] = a.Clone()
	return nil
}

// DeleteAdapterConfig removes an adapter definition
func (s *MemoryStore) DeleteAdapterConfig(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.adapters[id]; !ok {
		return notFound("adapter", id)
	}
	delete(s.adapters, id)
	return nil
}
