package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementKind_PatchKey(t *testing.T) {
	assert.Equal(t, "triggerInstances", KindTrigger.PatchKey())
	assert.Equal(t, "actions", KindAction.PatchKey())
	assert.Equal(t, "flowLogics", KindFlowLogic.PatchKey())
	assert.Equal(t, "subflows", KindSubflow.PatchKey())
	assert.False(t, ElementKind("job").Valid())
}

func TestParseElementKind(t *testing.T) {
	tests := map[string]ElementKind{
		"trigger":          KindTrigger,
		"triggerInstances": KindTrigger,
		"flowLogics":       KindFlowLogic,
		"flow_logic":       KindFlowLogic,
		"subflows":         KindSubflow,
		"action":           KindAction,
	}

	for in, want := range tests {
		got, err := ParseElementKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseElementKind("widget")
	assert.Error(t, err)
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		in   string
		want Reference
		ok   bool
	}{
		{"{{Created or Updated_1.current.category}}", Reference{Base: "Created or Updated_1.current", FieldPath: "category"}, true},
		{"{{trigger.current.assigned_to.manager}}", Reference{Base: "trigger.current", FieldPath: "assigned_to.manager"}, true},
		{"{{current.priority}}", Reference{Base: "current", FieldPath: "priority"}, true},
		{"{{Look Up Record_2.Record}}", Reference{Base: "Look Up Record_2", FieldPath: "Record"}, true},
		{"{{}}", Reference{}, false},
		{"plain", Reference{}, false},
		{"{{a}} and {{b}}", Reference{}, false},
	}

	for _, tt := range tests {
		got, ok := ParseReference(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)

		if ok {
			assert.Equal(t, tt.in, got.Pill())
		}
	}
}

func TestParseInput(t *testing.T) {
	ref := ParseInput("{{Created_1.current.sys_id}}")
	assert.True(t, IsReference(ref))
	assert.Equal(t, "{{Created_1.current.sys_id}}", ref.Raw())

	lit := ParseInput(true)
	assert.False(t, IsReference(lit))
	assert.Equal(t, "true", lit.Raw())

	withDisplay := ParseInput(map[string]any{"value": "6816f79cc0a8016401c5a33be04be441", "display_value": "Abel Tuter"})
	require.IsType(t, LiteralInput{}, withDisplay)
	assert.Equal(t, "Abel Tuter", withDisplay.(LiteralInput).Display())

	assert.Equal(t, "3", ParseInput(float64(3)).Raw())
}

func TestParameterDefinition_IsReferenceBacked(t *testing.T) {
	assert.True(t, ParameterDefinition{Type: "reference"}.IsReferenceBacked())
	assert.True(t, ParameterDefinition{Type: "document_id"}.IsReferenceBacked())
	assert.True(t, ParameterDefinition{Type: "table_name"}.IsReferenceBacked())
	assert.False(t, ParameterDefinition{Type: "string"}.IsReferenceBacked())
}

func TestDefinition_Schema(t *testing.T) {
	def := &Definition{
		Kind: KindAction,
		Name: "Log",
		Parameters: []ParameterDefinition{
			{Name: "log_message", Type: "string", Mandatory: true},
			{Name: "log_level", Type: "choice", Choices: []Choice{{Value: "info"}, {Value: "warn"}}},
			{Name: "enabled", Type: "boolean"},
		},
	}

	schema := def.Schema()
	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, "string", schema.Properties["log_message"].Type)
	assert.Contains(t, schema.Properties["log_level"].Enum, "warn")
	assert.Contains(t, schema.Properties["enabled"].Enum, "true")
	assert.Len(t, def.MandatoryParameters(), 1)

	_, ok := def.Parameter("missing")
	assert.False(t, ok)
}

func TestTriggerContext(t *testing.T) {
	tc := TriggerContext{Name: "Created or Updated", Label: "Record Created or Updated", Table: "incident"}

	assert.Equal(t, "Created or Updated_1.current", tc.Base())
	assert.Equal(t, "Trigger - Record Created or Updated", tc.PillPrefix())
}

func TestReport(t *testing.T) {
	r := NewReport("create", "f1")
	r.Succeed("insert_flow", "inserted %s", "f1")
	r.Warn("publish", errors.New("compile pending"))

	assert.False(t, r.HasFatal())
	assert.Len(t, r.Warnings(), 1)

	sub := NewReport("verify", "f1")
	sub.Fail("latest_version", errors.New("empty"))
	r.Merge("verify", sub)

	assert.True(t, r.HasFatal())

	step, ok := r.Step("verify.latest_version")
	require.True(t, ok)
	assert.Equal(t, "empty", step.Error)
}

func TestInternalNameFor(t *testing.T) {
	assert.Equal(t, "incident_triage_flow", InternalNameFor(" Incident Triage-Flow "))
}

func TestValidate(t *testing.T) {
	err := Validate("create flow", Flow{Type: "workflow"})
	require.Error(t, err)

	assert.Contains(t, err.Error(), "Name")
	assert.Contains(t, err.Error(), "oneof")

	assert.NoError(t, Validate("create flow", Flow{Name: "Triage", Type: FlowTypeFlow}))
}
