package flowstore

import (
	"fmt"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// FlowStatus is the deployment lifecycle state of a flow definition
type FlowStatus string

// FlowStatus constants
const (
	StatusDraft     FlowStatus = "DRAFT"
	StatusDeveloped FlowStatus = "DEVELOPED"
	StatusDeployed  FlowStatus = "DEPLOYED"
	StatusActive    FlowStatus = "ACTIVE"
	StatusInactive  FlowStatus = "INACTIVE"
	StatusArchived  FlowStatus = "ARCHIVED"
	StatusError     FlowStatus = "ERROR"
)

var knownStatuses = map[FlowStatus]bool{
	StatusDraft: true, StatusDeveloped: true, StatusDeployed: true, StatusActive: true,
	StatusInactive: true, StatusArchived: true, StatusError: true,
}

// Runnable reports whether a flow in this status may be executed.
func (s FlowStatus) Runnable(allowDraft bool) bool {
	switch s {
	case StatusDeployed, StatusActive:
		return true
	case StatusDraft, StatusDeveloped:
		return allowDraft
	default:
		return false
	}
}

// MappingMode selects whether a flow transforms payloads
type MappingMode string

// MappingMode constants
const (
	PassThrough MappingMode = "PASS_THROUGH"
	WithMapping MappingMode = "WITH_MAPPING"
)

// FlowDefinition binds a source adapter to one or more target adapters
type FlowDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	SourceAdapterID     string   `json:"sourceAdapterId"`
	TargetAdapterID     string   `json:"targetAdapterId"`
	AdditionalTargetIDs []string `json:"additionalTargetIds,omitempty"`
	SourceStructureID   string   `json:"sourceStructureId,omitempty"`
	TargetStructureID   string   `json:"targetStructureId,omitempty"`

	Status            FlowStatus  `json:"status"`
	MappingMode       MappingMode `json:"mappingMode,omitempty"`
	SkipXMLConversion bool        `json:"skipXmlConversion,omitempty"`
	Schedule          string      `json:"schedule,omitempty"`

	ExecutionCount  int64      `json:"executionCount"`
	SuccessCount    int64      `json:"successCount"`
	ErrorCount      int64      `json:"errorCount"`
	LastExecutionAt *time.Time `json:"lastExecutionAt,omitempty"`

	// Version for optimistic concurrency control
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EffectiveMappingMode defaults an unset mode to WITH_MAPPING.
func (f *FlowDefinition) EffectiveMappingMode() MappingMode {
	if f.MappingMode == "" {
		return WithMapping
	}
	return f.MappingMode
}

// TargetIDs returns the primary target followed by additional targets,
// without duplicates or empty ids.
func (f *FlowDefinition) TargetIDs() []string {
	seen := make(map[string]bool, 1+len(f.AdditionalTargetIDs))
	ids := make([]string, 0, 1+len(f.AdditionalTargetIDs))
	for _, id := range append([]string{f.TargetAdapterID}, f.AdditionalTargetIDs...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// Clone returns a deep copy.
func (f *FlowDefinition) Clone() *FlowDefinition {
	if f == nil {
		return nil
	}
	c := *f
	if f.AdditionalTargetIDs != nil {
		c.AdditionalTargetIDs = append([]string(nil), f.AdditionalTargetIDs...)
	}
	if f.LastExecutionAt != nil {
		t := *f.LastExecutionAt
		c.LastExecutionAt = &t
	}
	return &c
}

// Validate checks the definition is structurally complete
func (f *FlowDefinition) Validate() error {
	if f.ID == "" {
		return invalid("FlowDefinition", fmt.Errorf("flow ID cannot be empty"))
	}
	if f.Name == "" {
		return invalid("FlowDefinition", fmt.Errorf("flow %s: name cannot be empty", f.ID))
	}
	if f.Status != "" && !knownStatuses[f.Status] {
		return invalid("FlowDefinition", fmt.Errorf("flow %s: unknown status %q", f.ID, f.Status))
	}
	switch f.MappingMode {
	case "", PassThrough, WithMapping:
	default:
		return invalid("FlowDefinition", fmt.Errorf("flow %s: unknown mapping mode %q", f.ID, f.MappingMode))
	}
	if f.ExecutionCount < 0 || f.SuccessCount < 0 || f.ErrorCount < 0 {
		return invalid("FlowDefinition", fmt.Errorf("flow %s: counters cannot be negative", f.ID))
	}
	return nil
}

func invalid(method string, err error) error {
	return errors.WrapInvalid(err, "flowstore", method, "validation")
}
