package flowstore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
)

// AdapterDefinition is a configured adapter instance referenced by flows.
type AdapterDefinition struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Type   adapter.Type    `json:"type"`
	Mode   adapter.Mode    `json:"mode"`
	Active bool            `json:"active"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Key returns the (type, mode) capability this definition needs.
func (a *AdapterDefinition) Key() adapter.Key {
	return adapter.Key{Type: a.Type, Mode: a.Mode}
}

// Clone returns a deep copy.
func (a *AdapterDefinition) Clone() *AdapterDefinition {
	if a == nil {
		return nil
	}
	c := *a
	if a.Config != nil {
		c.Config = append(json.RawMessage(nil), a.Config...)
	}
	return &c
}

// Validate checks the definition names a known type and mode.
func (a *AdapterDefinition) Validate() error {
	if a.ID == "" {
		return invalid("AdapterDefinition", fmt.Errorf("adapter ID cannot be empty"))
	}
	if _, err := adapter.ParseType(string(a.Type)); err != nil {
		return invalid("AdapterDefinition", fmt.Errorf("adapter %s: %w", a.ID, err))
	}
	if _, err := adapter.ParseMode(string(a.Mode)); err != nil {
		return invalid("AdapterDefinition", fmt.Errorf("adapter %s: %w", a.ID, err))
	}
	if len(a.Config) > 0 && !json.Valid(a.Config) {
		return invalid("AdapterDefinition", fmt.Errorf("adapter %s: config is not valid JSON", a.ID))
	}
	return nil
}

// TransformationType names a pipeline step kind
type TransformationType string

// TransformationType constants
const (
	FieldMappingStep   TransformationType = "FIELD_MAPPING"
	CustomFunctionStep TransformationType = "CUSTOM_FUNCTION"
	FilterStep         TransformationType = "FILTER"
	EnrichmentStep     TransformationType = "ENRICHMENT"
	ValidationStep     TransformationType = "VALIDATION"
)

// Transformation is one ordered step of a flow's pipeline.
type Transformation struct {
	ID             string             `json:"id"`
	FlowID         string             `json:"flowId"`
	Name           string             `json:"name"`
	Type           TransformationType `json:"type"`
	Configuration  json.RawMessage    `json:"configuration,omitempty"`
	ExecutionOrder int                `json:"executionOrder"`
	Active         bool               `json:"active"`
}

// Clone returns a deep copy.
func (t *Transformation) Clone() *Transformation {
	if t == nil {
		return nil
	}
	c := *t
	if t.Configuration != nil {
		c.Configuration = append(json.RawMessage(nil), t.Configuration...)
	}
	return &c
}

// Validate checks identity fields. Unknown step types are rejected when the
// pipeline is built, not here.
func (t *Transformation) Validate() error {
	if t.ID == "" {
		return invalid("Transformation", fmt.Errorf("transformation ID cannot be empty"))
	}
	if t.FlowID == "" {
		return invalid("Transformation", fmt.Errorf("transformation %s: flow ID cannot be empty", t.ID))
	}
	if t.Type == "" {
		return invalid("Transformation", fmt.Errorf("transformation %s: type cannot be empty", t.ID))
	}
	return nil
}

// MappingRule is the built-in value rule applied when no function is set
type MappingRule string

// MappingRule constants
const (
	RuleDirect      MappingRule = "DIRECT"
	RuleConcatenate MappingRule = "CONCATENATE"
	RuleDateFormat  MappingRule = "DATE_FORMAT"
	RuleUppercase   MappingRule = "UPPERCASE"
	RuleLowercase   MappingRule = "LOWERCASE"
	RuleTrim        MappingRule = "TRIM"
	RuleConstant    MappingRule = "CONSTANT"
)

// MappingType is the kind of node a mapping writes
type MappingType string

// MappingType constants
const (
	MapElement   MappingType = "ELEMENT"
	MapAttribute MappingType = "ATTRIBUTE"
	MapText      MappingType = "TEXT"
	MapStructure MappingType = "STRUCTURE"
)

// FieldMapping describes how one target field is produced from source fields.
type FieldMapping struct {
	ID               string `json:"id"`
	TransformationID string `json:"transformationId"`

	SourceFields []string `json:"sourceFields,omitempty"`
	TargetField  string   `json:"targetField,omitempty"`
	SourceXPath  string   `json:"sourceXPath,omitempty"`
	TargetXPath  string   `json:"targetXPath,omitempty"`

	// JavaFunction holds an inline function body; FunctionName references a
	// stored function by name or id. FunctionName wins when both are set.
	JavaFunction string `json:"javaFunction,omitempty"`
	FunctionName string `json:"functionName,omitempty"`

	MappingRule      MappingRule       `json:"mappingRule,omitempty"`
	MappingType      MappingType       `json:"mappingType,omitempty"`
	IsArrayMapping   bool              `json:"isArrayMapping,omitempty"`
	ArrayContextPath string            `json:"arrayContextPath,omitempty"`
	NamespaceAware   bool              `json:"namespaceAware,omitempty"`
	Namespaces       map[string]string `json:"namespaces,omitempty"`
	Required         bool              `json:"required,omitempty"`
	Options          map[string]string `json:"options,omitempty"`
	Active           bool              `json:"active"`
	MappingOrder     int               `json:"mappingOrder"`
}

// Sources returns the declared source paths in order.
func (m *FieldMapping) Sources() []string {
	if len(m.SourceFields) > 0 {
		return m.SourceFields
	}
	if m.SourceXPath != "" {
		return []string{m.SourceXPath}
	}
	return nil
}

// Target returns the target path, preferring TargetXPath.
func (m *FieldMapping) Target() string {
	if m.TargetXPath != "" {
		return m.TargetXPath
	}
	return m.TargetField
}

// FunctionRef returns the function reference or inline body, if any.
func (m *FieldMapping) FunctionRef() string {
	if strings.TrimSpace(m.FunctionName) != "" {
		return m.FunctionName
	}
	return m.JavaFunction
}

// Clone returns a deep copy.
func (m *FieldMapping) Clone() *FieldMapping {
	if m == nil {
		return nil
	}
	c := *m
	if m.SourceFields != nil {
		c.SourceFields = append([]string(nil), m.SourceFields...)
	}
	c.Namespaces = cloneStrings(m.Namespaces)
	c.Options = cloneStrings(m.Options)
	return &c
}

// Validate enforces structural invariants of a mapping.
func (m *FieldMapping) Validate() error {
	if m.ID == "" {
		return invalid("FieldMapping", fmt.Errorf("mapping ID cannot be empty"))
	}
	if m.Target() == "" {
		return invalid("FieldMapping", fmt.Errorf("mapping %s: target field cannot be empty", m.ID))
	}
	if m.IsArrayMapping && strings.TrimSpace(m.ArrayContextPath) == "" {
		return invalid("FieldMapping", fmt.Errorf("mapping %s: array mapping requires arrayContextPath", m.ID))
	}
	if m.MappingRule == RuleConstant {
		if _, ok := m.Options["value"]; !ok {
			return invalid("FieldMapping", fmt.Errorf("mapping %s: CONSTANT rule requires options.value", m.ID))
		}
	} else if len(m.Sources()) == 0 && m.FunctionRef() == "" {
		return invalid("FieldMapping", fmt.Errorf("mapping %s: no source fields", m.ID))
	}
	return nil
}

// FunctionParameter declares a named argument of a reusable function.
type FunctionParameter struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ReusableFunction is a named transformation function body.
type ReusableFunction struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Version     string              `json:"version,omitempty"`
	Body        string              `json:"body"`
	Parameters  []FunctionParameter `json:"parameters,omitempty"`
	Description string              `json:"description,omitempty"`
}

// ParamNames returns the declared parameter names in order.
func (f *ReusableFunction) ParamNames() []string {
	names := make([]string, len(f.Parameters))
	for i, p := range f.Parameters {
		names[i] = p.Name
	}
	return names
}

// Clone returns a deep copy.
func (f *ReusableFunction) Clone() *ReusableFunction {
	if f == nil {
		return nil
	}
	c := *f
	if f.Parameters != nil {
		c.Parameters = append([]FunctionParameter(nil), f.Parameters...)
	}
	return &c
}

// Validate checks identity and body.
func (f *ReusableFunction) Validate() error {
	if f.ID == "" {
		return invalid("ReusableFunction", fmt.Errorf("function ID cannot be empty"))
	}
	if f.Name == "" {
		return invalid("ReusableFunction", fmt.Errorf("function %s: name cannot be empty", f.ID))
	}
	if strings.TrimSpace(f.Body) == "" {
		return invalid("ReusableFunction", fmt.Errorf("function %s: body cannot be empty", f.ID))
	}
	return nil
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
