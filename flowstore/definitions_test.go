package flowstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

func TestFlowDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		flow    FlowDefinition
		wantErr string
	}{
		{"valid", FlowDefinition{ID: "f1", Name: "Orders", Status: StatusActive}, ""},
		{"missing id", FlowDefinition{Name: "Orders"}, "flow ID cannot be empty"},
		{"missing name", FlowDefinition{ID: "f1"}, "name cannot be empty"},
		{"unknown status", FlowDefinition{ID: "f1", Name: "n", Status: "RUNNING"}, "unknown status"},
		{"unknown mode", FlowDefinition{ID: "f1", Name: "n", MappingMode: "COPY"}, "unknown mapping mode"},
		{"negative counter", FlowDefinition{ID: "f1", Name: "n", ErrorCount: -1}, "counters cannot be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.flow.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestFlowStatus_Runnable(t *testing.T) {
	assert.True(t, StatusDeployed.Runnable(false))
	assert.True(t, StatusActive.Runnable(false))
	assert.False(t, StatusDraft.Runnable(false))
	assert.True(t, StatusDraft.Runnable(true))
	assert.False(t, StatusArchived.Runnable(true))
	assert.False(t, StatusInactive.Runnable(true))
}

func TestFlowDefinition_Defaults(t *testing.T) {
	flow := &FlowDefinition{ID: "f1", TargetAdapterID: "t1", AdditionalTargetIDs: []string{"t2", "t1", "", "t3"}}
	assert.Equal(t, WithMapping, flow.EffectiveMappingMode())
	assert.Equal(t, []string{"t1", "t2", "t3"}, flow.TargetIDs())

	clone := flow.Clone()
	clone.AdditionalTargetIDs[0] = "changed"
	assert.Equal(t, "t2", flow.AdditionalTargetIDs[0])
}

func TestFieldMapping_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mapping FieldMapping
		wantErr string
	}{
		{"valid xpath", FieldMapping{ID: "m1", SourceXPath: "/a", TargetXPath: "/b"}, ""},
		{"valid legacy", FieldMapping{ID: "m1", SourceFields: []string{"name"}, TargetField: "buyer"}, ""},
		{"constant", FieldMapping{ID: "m1", TargetField: "x", MappingRule: RuleConstant, Options: map[string]string{"value": "1"}}, ""},
		{"function without sources", FieldMapping{ID: "m1", TargetField: "x", JavaFunction: "now()"}, ""},
		{"no target", FieldMapping{ID: "m1", SourceXPath: "/a"}, "target field cannot be empty"},
		{"array without context", FieldMapping{ID: "m1", SourceXPath: "a", TargetXPath: "/b", IsArrayMapping: true}, "arrayContextPath"},
		{"constant without value", FieldMapping{ID: "m1", TargetField: "x", MappingRule: RuleConstant}, "options.value"},
		{"no sources", FieldMapping{ID: "m1", TargetField: "x"}, "no source fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mapping.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFieldMapping_Accessors(t *testing.T) {
	m := &FieldMapping{SourceXPath: "/a", TargetField: "b", JavaFunction: "x + 1"}
	assert.Equal(t, []string{"/a"}, m.Sources())
	assert.Equal(t, "b", m.Target())
	assert.Equal(t, "x + 1", m.FunctionRef())

	m.SourceFields = []string{"/c", "/d"}
	m.TargetXPath = "/e"
	m.FunctionName = "fmt"
	assert.Equal(t, []string{"/c", "/d"}, m.Sources())
	assert.Equal(t, "/e", m.Target())
	assert.Equal(t, "fmt", m.FunctionRef())
}

func TestAdapterDefinition_Validate(t *testing.T) {
	valid := &AdapterDefinition{ID: "a1", Type: "FILE", Mode: "SENDER", Config: json.RawMessage(`{"directory":"/in"}`)}
	assert.NoError(t, valid.Validate())

	bad := []*AdapterDefinition{
		{Type: "FILE", Mode: "SENDER"},
		{ID: "a1", Type: "CARRIER_PIGEON", Mode: "SENDER"},
		{ID: "a1", Type: "FILE", Mode: "BOTH"},
		{ID: "a1", Type: "FILE", Mode: "SENDER", Config: json.RawMessage(`{`)},
	}
	for _, a := range bad {
		assert.Error(t, a.Validate())
	}
}

func TestReusableFunction_Validate(t *testing.T) {
	f := &ReusableFunction{ID: "fn1", Name: "upper", Body: "upper(arg0)",
		Parameters: []FunctionParameter{{Name: "value"}, {Name: "locale"}}}
	require.NoError(t, f.Validate())
	assert.Equal(t, []string{"value", "locale"}, f.ParamNames())

	f.Body = "  "
	assert.Error(t, f.Validate())
}
