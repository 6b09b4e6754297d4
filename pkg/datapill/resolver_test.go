package datapill

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/log"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var incidentTrigger = models.TriggerContext{
	Name:       "Created or Updated",
	Label:      "Record Created or Updated",
	Type:       "record_create_or_update",
	Table:      "incident",
	TableLabel: "Incident",
}

func seedDictionary(p *testutil.FakePlatform) {
	p.AddRecord("sys_db_object", map[string]any{"name": "incident", "label": "Incident", "super_class.name": "task"})
	p.AddRecord("sys_db_object", map[string]any{"name": "task", "label": "Task", "super_class.name": ""})
	p.AddRecord("sys_db_object", map[string]any{"name": "sys_user", "label": "User", "super_class.name": ""})
	p.AddRecord("sys_dictionary", map[string]any{"name": "incident", "element": "category", "column_label": "Category", "internal_type": "string"})
	p.AddRecord("sys_dictionary", map[string]any{"name": "task", "element": "priority", "column_label": "Priority", "internal_type": "integer"})
	p.AddRecord("sys_dictionary", map[string]any{"name": "task", "element": "active", "column_label": "Active", "internal_type": "boolean"})
	p.AddRecord("sys_dictionary", map[string]any{"name": "task", "element": "assigned_to", "column_label": "Assigned to", "internal_type": "reference", "reference": "sys_user"})
	p.AddRecord("sys_dictionary", map[string]any{"name": "sys_user", "element": "manager", "column_label": "Manager", "internal_type": "reference", "reference": "sys_user"})
}

type staticTrigger struct {
	trigger *models.TriggerContext
	err     error
}

func (s staticTrigger) TriggerContext(context.Context, string) (*models.TriggerContext, error) {
	return s.trigger, s.err
}

func newTestResolver(p *testutil.FakePlatform) *Resolver {
	return NewResolver(p, staticTrigger{trigger: &incidentTrigger}, log.Discard())
}

func TestResolveCondition_QualifiesBareFields(t *testing.T) {
	p := testutil.NewFakePlatform()
	seedDictionary(p)

	res, err := newTestResolver(p).ResolveCondition(context.Background(), "category=hardware^priority!=1", incidentTrigger)
	require.NoError(t, err)

	assert.Equal(t, "{{Created or Updated_1.current.category}}=hardware^{{Created or Updated_1.current.priority}}!=1", res.Expression)
	assert.False(t, res.PassedThrough)
	assert.Empty(t, res.Warnings)

	require.Len(t, res.LabelCache, 2)
	assert.Equal(t, LabelEntry{
		Name:             "Created or Updated_1.current.category",
		Label:            "Trigger - Record Created or Updated➛Incident Record➛Category",
		ReferenceDisplay: "Category",
		Type:             "string",
		BaseType:         "string",
		ParentTableName:  "incident",
		ColumnName:       "category",
	}, res.LabelCache[0])
	assert.Equal(t, "task", res.LabelCache[1].ParentTableName)
}

func TestResolveCondition_DotGrammar(t *testing.T) {
	p := testutil.NewFakePlatform()
	seedDictionary(p)

	res, err := newTestResolver(p).ResolveCondition(context.Background(), "trigger.current.active is true", incidentTrigger)
	require.NoError(t, err)

	assert.Equal(t, "{{trigger.current.active}}=true", res.Condition.String())
	assert.Equal(t, "{{Created or Updated_1.current.active}}=true", res.Expression)
	require.Len(t, res.Fields, 1)
	assert.Equal(t, "boolean", res.Fields[0].Type)
}

func TestResolveCondition_DottedPathWalksReferences(t *testing.T) {
	p := testutil.NewFakePlatform()
	seedDictionary(p)

	res, err := newTestResolver(p).ResolveCondition(context.Background(), "assigned_to.manager=6816f79cc0a8016401c5a33be04be441", incidentTrigger)
	require.NoError(t, err)

	require.Len(t, res.LabelCache, 1)
	assert.Equal(t, "Trigger - Record Created or Updated➛Incident Record➛Assigned to➛Manager", res.LabelCache[0].Label)
	assert.Equal(t, "sys_user", res.LabelCache[0].ParentTableName)
	assert.Equal(t, "reference", res.LabelCache[0].Type)
}

func TestResolveCondition_SynthesizesMissingMetadata(t *testing.T) {
	p := testutil.NewFakePlatform()
	p.FailTable("sys_dictionary", errors.New("ACL denied"))

	res, err := newTestResolver(p).ResolveCondition(context.Background(), "u_business_service=abc", incidentTrigger)
	require.NoError(t, err)

	require.Len(t, res.Fields, 1)
	assert.True(t, res.Fields[0].Synthesized)
	assert.Equal(t, "U business service", res.Fields[0].ColumnLabel)
	assert.Equal(t, "string", res.Fields[0].Type)
	assert.Len(t, res.Warnings, 1)
}

func TestResolveCondition_PassThrough(t *testing.T) {
	p := testutil.NewFakePlatform()
	seedDictionary(p)

	exprs := []string{
		"javascript:gs.getUser().hasRole('itil')",
		"current.priority == 1",
		"(category=hardware)^priority=1",
		"{{Created or Updated_1.current.category}}=hardware",
	}

	for _, expr := range exprs {
		res, err := newTestResolver(p).ResolveCondition(context.Background(), expr, incidentTrigger)
		require.NoError(t, err, expr)
		assert.True(t, res.PassedThrough, expr)
		assert.Equal(t, expr, res.Expression, expr)
	}

	res, err := newTestResolver(p).ResolveCondition(context.Background(), "{{Created or Updated_1.current.category}}=hardware", incidentTrigger)
	require.NoError(t, err)
	require.Len(t, res.LabelCache, 1)
	assert.Equal(t, "Created or Updated_1.current.category", res.LabelCache[0].Name)
}

func TestResolveCondition_RequiresTrigger(t *testing.T) {
	_, err := newTestResolver(testutil.NewFakePlatform()).ResolveCondition(context.Background(), "a=b", models.TriggerContext{})
	assert.True(t, flowerrors.IsValidation(err))
}

func TestResolveValue(t *testing.T) {
	p := testutil.NewFakePlatform()
	seedDictionary(p)
	r := newTestResolver(p)

	for _, v := range []string{"{{current.assigned_to}}", "current.assigned_to", "trigger.current.assigned_to", "{{trigger.current.assigned_to}}"} {
		in, res, err := r.ResolveValue(context.Background(), v, incidentTrigger)
		require.NoError(t, err, v)
		require.IsType(t, models.ReferenceInput{}, in, v)
		assert.Equal(t, "{{Created or Updated_1.current.assigned_to}}", in.Raw(), v)
		assert.Len(t, res.LabelCache, 1, v)
	}

	in, _, err := r.ResolveValue(context.Background(), "hardware", incidentTrigger)
	require.NoError(t, err)
	assert.Equal(t, models.LiteralInput{Value: "hardware"}, in)

	in, res, err := r.ResolveValue(context.Background(), "{{Look Up Record_2.Record}}", incidentTrigger)
	require.NoError(t, err)
	assert.True(t, models.IsReference(in))
	assert.Empty(t, res.LabelCache)
}

func TestResolveForFlow(t *testing.T) {
	p := testutil.NewFakePlatform()
	seedDictionary(p)

	r := NewResolver(p, staticTrigger{err: &flowerrors.NotFoundError{Kind: "trigger", Name: "f1"}}, log.Discard())

	_, err := r.ResolveForFlow(context.Background(), "f1", "a=b")
	assert.True(t, flowerrors.IsNotFound(err))

	res, err := newTestResolver(p).Preview(context.Background(), "f1", "category=network")
	require.NoError(t, err)
	assert.Equal(t, "{{Created or Updated_1.current.category}}=network", res.Expression)
}

func TestRecordTriggerSource(t *testing.T) {
	p := testutil.NewFakePlatform()
	p.FailTable("sys_hub_trigger_instance_v2", errors.New("table does not exist"))

	defID := p.AddRecord("sys_hub_trigger_definition", map[string]any{"name": "Created or Updated", "internal_name": "record_create_or_update"})
	p.AddRecord("sys_hub_trigger_instance", map[string]any{"flow": "f1", "trigger_definition": defID, "table": "incident"})
	p.AddRecord("sys_db_object", map[string]any{"name": "incident", "label": "Incident"})

	tc, err := NewRecordTriggerSource(p).TriggerContext(context.Background(), "f1")
	require.NoError(t, err)

	assert.Equal(t, incidentTrigger, *tc)

	_, err = NewRecordTriggerSource(p).TriggerContext(context.Background(), "f2")
	require.Error(t, err)
}

func TestResolveCondition_UnparsedEncodedClauseWarns(t *testing.T) {
	p := testutil.NewFakePlatform()
	seedDictionary(p)

	res, err := newTestResolver(p).ResolveCondition(context.Background(), "category=hardware^u_Custom=1^ORDERBYnumber", incidentTrigger)
	require.NoError(t, err)

	assert.Equal(t, "{{Created or Updated_1.current.category}}=hardware^u_Custom=1^ORDERBYnumber", res.Expression)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "u_Custom=1")
}

func TestResolveTemplate(t *testing.T) {
	p := testutil.NewFakePlatform()
	seedDictionary(p)

	r := newTestResolver(p)

	res, err := r.ResolveTemplate(context.Background(), "Incident {{current.category}} moved to {{trigger.current.priority}}", incidentTrigger)
	require.NoError(t, err)
	assert.Equal(t, "Incident {{Created or Updated_1.current.category}} moved to {{Created or Updated_1.current.priority}}", res.Expression)
	require.Len(t, res.LabelCache, 2)
	assert.Equal(t, "Created or Updated_1.current.category", res.LabelCache[0].Name)

	res, err = r.ResolveTemplate(context.Background(), "no pills here", incidentTrigger)
	require.NoError(t, err)
	assert.Equal(t, "no pills here", res.Expression)
	assert.Empty(t, res.LabelCache)

	_, err = r.ResolveTemplate(context.Background(), "x", models.TriggerContext{})
	assert.True(t, flowerrors.IsValidation(err))
}
