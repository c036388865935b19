// Package flowstore defines flow, adapter, transformation, mapping and
// function definitions and the stores that hold them: an in-memory store and
// a NATS JetStream KV store.
package flowstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// FlowStore persists flow definitions and their execution counters.
type FlowStore interface {
	FindFlow(ctx context.Context, id string) (*FlowDefinition, error)
	ListFlows(ctx context.Context) ([]*FlowDefinition, error)
	// SaveFlow creates the flow when Version is 0, otherwise updates it if
	// Version matches the stored version. Version is incremented on success.
	SaveFlow(ctx context.Context, flow *FlowDefinition) error
	// DeleteFlow removes the flow with its transformations and their mappings.
	DeleteFlow(ctx context.Context, id string) error
	// RecordExecution increments executionCount and either successCount or
	// errorCount in one step.
	RecordExecution(ctx context.Context, id string, success bool, at time.Time) (*FlowDefinition, error)
}

// TransformationStore persists pipeline steps.
type TransformationStore interface {
	// FindTransformations returns the flow's steps ordered by ExecutionOrder.
	FindTransformations(ctx context.Context, flowID string) ([]*Transformation, error)
	SaveTransformation(ctx context.Context, t *Transformation) error
	DeleteTransformation(ctx context.Context, id string) error
}

// MappingStore persists field mappings.
type MappingStore interface {
	// FindMappings returns the step's mappings ordered by MappingOrder.
	FindMappings(ctx context.Context, transformationID string) ([]*FieldMapping, error)
	SaveMapping(ctx context.Context, m *FieldMapping) error
	DeleteMapping(ctx context.Context, id string) error
}

// FunctionStore persists reusable functions.
type FunctionStore interface {
	FindFunctionByName(ctx context.Context, name string) (*ReusableFunction, error)
	FindFunctionByID(ctx context.Context, id string) (*ReusableFunction, error)
	ListFunctions(ctx context.Context) ([]*ReusableFunction, error)
	SaveFunction(ctx context.Context, f *ReusableFunction) error
	DeleteFunction(ctx context.Context, id string) error
}

// AdapterConfigStore persists adapter definitions.
type AdapterConfigStore interface {
	FindAdapterConfig(ctx context.Context, id string) (*AdapterDefinition, error)
	ListAdapterConfigs(ctx context.Context) ([]*AdapterDefinition, error)
	SaveAdapterConfig(ctx context.Context, a *AdapterDefinition) error
	DeleteAdapterConfig(ctx context.Context, id string) error
}

// Store is every definition store in one.
type Store interface {
	FlowStore
	TransformationStore
	MappingStore
	FunctionStore
	AdapterConfigStore
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, errors.ErrNotFound)
}

// IsNotFound reports whether err means the requested definition is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, errors.ErrNotFound)
}

func applyExecution(flow *FlowDefinition, success bool, at time.Time) {
	flow.ExecutionCount++
	if success {
		flow.SuccessCount++
	} else {
		flow.ErrorCount++
	}
	t := at
	flow.LastExecutionAt = &t
}

func sortTransformations(list []*Transformation) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].ExecutionOrder < list[j].ExecutionOrder })
}

func sortMappings(list []*FieldMapping) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].MappingOrder < list[j].MappingOrder })
}
