package mutation

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/dukex/flowpatch/pkg/capability"
	"github.com/dukex/flowpatch/pkg/datapill"
	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/log"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/order"
	"github.com/dukex/flowpatch/pkg/session"
	"github.com/dukex/flowpatch/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTrigger models.TriggerContext

func (s staticTrigger) TriggerContext(context.Context, string) (*models.TriggerContext, error) {
	tc := models.TriggerContext(s)

	return &tc, nil
}

var createdOrUpdated = staticTrigger{Name: "Created or Updated", Label: "Record Created or Updated", Type: "record_create_or_update", Table: "incident"}

type fixture struct {
	platform *testutil.FakePlatform
	builder  *Builder
	sess     *session.Session
	uiids    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := log.Discard()
	platform := testutil.NewFakePlatform()

	platform.AddRecord("sys_db_object", map[string]any{"name": "incident", "label": "Incident"})
	platform.AddRecord("sys_dictionary", map[string]any{"name": "incident", "element": "category", "column_label": "Category", "internal_type": "string"})
	platform.AddRecord("sys_dictionary", map[string]any{"name": "incident", "element": "priority", "column_label": "Priority", "internal_type": "integer"})

	f := &fixture{platform: platform}

	f.builder = NewBuilder(
		platform,
		capability.NewResolver(platform, logger),
		datapill.NewResolver(platform, createdOrUpdated, logger),
		order.NewRegistry(platform, logger),
		logger,
		WithUIIDs(func() string {
			f.uiids++

			return fmt.Sprintf("ui%d", f.uiids)
		}),
	)

	sess, err := session.NewManager(platform, nil, logger).Open(context.Background(), "f1")
	require.NoError(t, err)

	f.sess = sess

	return f
}

// patches returns the flowPatch documents sent, skipping lock mutations.
func (f *fixture) patches() []string {
	var out []string

	for _, m := range f.platform.Mutations() {
		if strings.Contains(m, "flowPatch") {
			out = append(out, m)
		}
	}

	return out
}

func TestInsert_LiteralInputsUseOneMutation(t *testing.T) {
	f := newFixture(t)
	def := testutil.CreateTestDefinition()

	result, err := f.builder.Insert(context.Background(), f.sess, InsertRequest{
		Kind:       models.KindAction,
		Definition: &def,
		Inputs:     models.ParseInputs(map[string]any{"log_message": "hello", "log_level": "warn"}),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Mutations)
	assert.False(t, result.Partial)
	assert.Equal(t, "ui1", result.Element.UIID)
	assert.NotEmpty(t, result.Element.SysID)
	assert.Equal(t, 1, result.Element.Order)
	assert.Equal(t, "Log", result.Element.Name)

	patches := f.patches()
	require.Len(t, patches, 1)
	assert.Contains(t, patches[0], `actions: {insert: [{uiUniqueIdentifier: "ui1", type: "log"`)
	assert.Contains(t, patches[0], `{name: "log_level", value: {value: "warn"}`)
	assert.Contains(t, patches[0], `{name: "log_message", value: {value: "hello"}`)
	assert.False(t, result.Report.HasFatal())
}

func TestInsert_PillInputsUseTwoMutations(t *testing.T) {
	f := newFixture(t)

	inputs := models.ParseInputs(map[string]any{
		"record":     "{{trigger.current.sys_id}}",
		"table_name": "incident",
	})

	result, err := f.builder.Insert(context.Background(), f.sess, InsertRequest{
		Kind:           models.KindAction,
		DefinitionName: "Update Record",
		Inputs:         inputs,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Mutations)

	patches := f.patches()
	require.Len(t, patches, 2)

	assert.Contains(t, patches[0], `{name: "record", value: {value: ""}, displayValue: {value: ""}}`)
	assert.Contains(t, patches[0], `{name: "table_name", value: {value: ""}`)
	assert.Contains(t, patches[1], `update: [{uiUniqueIdentifier: "ui1", sysId: "`+result.Element.SysID+`"`)
	assert.Contains(t, patches[1], `{{Created or Updated_1.current.sys_id}}`)
	assert.Contains(t, patches[1], `{name: "table_name", value: {value: "incident"}`)
	assert.Contains(t, patches[1], `labelCache: {insert: [{name: "Created or Updated_1.current.sys_id"`)
	assert.Contains(t, patches[1], `usedInstances: [{uiUniqueIdentifier: "ui1", inputName: "record"}]`)

	// caller's inputs are untouched
	assert.Equal(t, "{{trigger.current.sys_id}}", inputs["record"].Raw())
	assert.Equal(t, "{{Created or Updated_1.current.sys_id}}", result.Element.Inputs["record"].Raw())
}

func TestInsert_IfConditionIsQualified(t *testing.T) {
	f := newFixture(t)

	result, err := f.builder.Insert(context.Background(), f.sess, InsertRequest{
		Kind:           models.KindFlowLogic,
		DefinitionName: "If",
		Condition:      "category=hardware^priority!=1",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Mutations)

	patches := f.patches()
	require.Len(t, patches, 2)
	assert.Contains(t, patches[0], `flowLogics: {insert: [{uiUniqueIdentifier: "ui1", type: "IF"`)
	assert.Contains(t, patches[1],
		`{{Created or Updated_1.current.category}}=hardware^{{Created or Updated_1.current.priority}}!=1`)

	names := []string{}
	for _, e := range result.LabelCache {
		names = append(names, e.Name)
	}

	assert.ElementsMatch(t, []string{"Created or Updated_1.current.category", "Created or Updated_1.current.priority"}, names)
}

func TestInsert_ElseRequiresConnectedTo(t *testing.T) {
	f := newFixture(t)

	result, err := f.builder.Insert(context.Background(), f.sess, InsertRequest{
		Kind:           models.KindFlowLogic,
		DefinitionName: "Else",
	})
	require.Error(t, err)
	assert.True(t, flowerrors.IsValidation(err))
	assert.True(t, result.Report.HasFatal())
	assert.Empty(t, f.patches())
}

func TestInsert_ElseCannotHaveParent(t *testing.T) {
	f := newFixture(t)

	_, err := f.builder.Insert(context.Background(), f.sess, InsertRequest{
		Kind:           models.KindFlowLogic,
		DefinitionName: "Else",
		ConnectedTo:    models.ElementRef{UIID: "if1"},
		Parent:         models.ElementRef{UIID: "loop1"},
	})
	require.Error(t, err)
	assert.True(t, flowerrors.IsValidation(err))
	assert.Empty(t, f.patches())
}

func TestInsert_ElseConnectedToIf(t *testing.T) {
	f := newFixture(t)

	result, err := f.builder.Insert(context.Background(), f.sess, InsertRequest{
		Kind:           models.KindFlowLogic,
		DefinitionName: "Else",
		ConnectedTo:    models.ElementRef{UIID: "if1"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Mutations)
	assert.Equal(t, "if1", result.Element.ConnectedTo)
	assert.Contains(t, f.patches()[0], `connectedTo: "if1"`)
}

func TestInsert_MissingMandatoryInputs(t *testing.T) {
	f := newFixture(t)
	def := testutil.CreateTestDefinition()

	_, err := f.builder.Insert(context.Background(), f.sess, InsertRequest{Kind: models.KindAction, Definition: &def})
	require.Error(t, err)

	var verr *flowerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"log_message"}, verr.Missing)
	assert.Empty(t, f.patches())
}

func TestInsert_LiteralSchemaViolation(t *testing.T) {
	f := newFixture(t)
	def := testutil.CreateTestDefinition()

	_, err := f.builder.Insert(context.Background(), f.sess, InsertRequest{
		Kind:       models.KindAction,
		Definition: &def,
		Inputs:     models.ParseInputs(map[string]any{"log_message": "hi", "log_level": "verbose"}),
	})
	require.Error(t, err)
	assert.True(t, flowerrors.IsValidation(err))
	assert.Empty(t, f.patches())
}

func TestInsert_UnknownInputIsAWarning(t *testing.T) {
	f := newFixture(t)
	def := testutil.CreateTestDefinition()

	result, err := f.builder.Insert(context.Background(), f.sess, InsertRequest{
		Kind:       models.KindAction,
		Definition: &def,
		Inputs:     models.ParseInputs(map[string]any{"log_message": "hi", "colour": "red"}),
	})
	require.NoError(t, err)
	require.Len(t, result.Report.Warnings(), 1)
	assert.Contains(t, result.Report.Warnings()[0].Message, "colour")
}

func TestInsert_PartialWrite(t *testing.T) {
	f := newFixture(t)
	// 1: lock, 2: insert, 3: follow-up update
	f.platform.FailMutation(3, flowerrors.NewRemoteError("graphql", 500, "update rejected", ""))

	result, err := f.builder.Insert(context.Background(), f.sess, InsertRequest{
		Kind:           models.KindAction,
		DefinitionName: "Update Record",
		Inputs:         models.ParseInputs(map[string]any{"record": "{{current.sys_id}}", "table_name": "incident"}),
	})
	require.Error(t, err)
	assert.True(t, flowerrors.IsPartialWrite(err))
	assert.True(t, result.Partial)
	assert.Equal(t, 2, result.Mutations)
	assert.NotEmpty(t, result.Element.SysID)

	var partial *flowerrors.PartialWriteError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "ui1", partial.UIID)
}

func TestInsert_RequiresOpenSession(t *testing.T) {
	f := newFixture(t)
	def := testutil.CreateTestDefinition()

	_, err := f.builder.Insert(context.Background(), nil, InsertRequest{Kind: models.KindAction, Definition: &def})
	assert.ErrorIs(t, err, flowerrors.ErrSessionClosed)

	require.NoError(t, f.sess.Close(context.Background()))

	_, err = f.builder.Insert(context.Background(), f.sess, InsertRequest{Kind: models.KindAction, Definition: &def})
	assert.ErrorIs(t, err, flowerrors.ErrSessionClosed)
}

func TestInsert_TriggerResolvedByAlias(t *testing.T) {
	f := newFixture(t)

	result, err := f.builder.Insert(context.Background(), f.sess, InsertRequest{
		Kind:           models.KindTrigger,
		DefinitionName: "record_updated",
		Inputs:         models.ParseInputs(map[string]any{"table": "incident"}),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Element.Order)
	assert.Contains(t, f.patches()[0], `triggerInstances: {insert: [{uiUniqueIdentifier: "ui1", type: "record_update"`)

	// table is reference-backed, so it is written by the follow-up update
	assert.Equal(t, 2, result.Mutations)
	require.Len(t, f.patches(), 2)
	assert.Contains(t, f.patches()[0], `{name: "table", value: {value: ""}`)
	assert.Contains(t, f.patches()[1], `{name: "table", value: {value: "incident"}`)
	assert.Empty(t, result.LabelCache)
}

func TestInsert_EmbeddedPillInLiteralIsQualified(t *testing.T) {
	f := newFixture(t)
	def := testutil.CreateTestDefinition()

	result, err := f.builder.Insert(context.Background(), f.sess, InsertRequest{
		Kind:       models.KindAction,
		Definition: &def,
		Inputs:     models.ParseInputs(map[string]any{"log_message": "Incident {{current.category}} changed"}),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Mutations)

	patches := f.patches()
	require.Len(t, patches, 2)
	assert.Contains(t, patches[0], `{name: "log_message", value: {value: ""}`)
	assert.Contains(t, patches[1], `{name: "log_message", value: {value: "Incident {{Created or Updated_1.current.category}} changed"}`)
	assert.Contains(t, patches[1], `labelCache: {insert: [{name: "Created or Updated_1.current.category"`)
	assert.NotContains(t, patches[1], "{{current.category}}")

	require.Len(t, result.LabelCache, 1)
	assert.Equal(t, "Created or Updated_1.current.category", result.LabelCache[0].Name)
}

func TestInsert_TriggerRejectsPills(t *testing.T) {
	f := newFixture(t)

	_, err := f.builder.Insert(context.Background(), f.sess, InsertRequest{
		Kind:           models.KindTrigger,
		DefinitionName: "Created",
		Inputs:         models.ParseInputs(map[string]any{"table": "{{current.table}}"}),
	})
	require.Error(t, err)
	assert.True(t, flowerrors.IsValidation(err))
}

func TestInsert_ExplicitOrderRaisesHighWater(t *testing.T) {
	f := newFixture(t)
	def := testutil.CreateTestDefinition()
	explicit := 10

	first, err := f.builder.Insert(context.Background(), f.sess, InsertRequest{
		Kind: models.KindAction, Definition: &def, Order: &explicit,
		Inputs: models.ParseInputs(map[string]any{"log_message": "a"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 10, first.Element.Order)

	second, err := f.builder.Insert(context.Background(), f.sess, InsertRequest{
		Kind: models.KindAction, Definition: &def,
		Inputs: models.ParseInputs(map[string]any{"log_message": "b"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 11, second.Element.Order)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)

	result, err := f.builder.Update(context.Background(), f.sess, UpdateRequest{
		Kind:    models.KindAction,
		Element: models.ElementRef{UIID: "ui9", SysID: "s9"},
		Inputs:  models.ParseInputs(map[string]any{"log_message": "{{current.category}}"}),
	})
	require.NoError(t, err)

	patches := f.patches()
	require.Len(t, patches, 1)
	assert.Contains(t, patches[0], `actions: {update: [{uiUniqueIdentifier: "ui9", sysId: "s9"`)
	assert.Contains(t, patches[0], `{{Created or Updated_1.current.category}}`)
	require.Len(t, result.LabelCache, 1)
	assert.Equal(t, "Category", result.LabelCache[0].ReferenceDisplay)
}

func TestUpdate_NothingToUpdate(t *testing.T) {
	f := newFixture(t)

	_, err := f.builder.Update(context.Background(), f.sess, UpdateRequest{Kind: models.KindAction, Element: models.ElementRef{UIID: "ui9"}})
	assert.True(t, flowerrors.IsValidation(err))
}

func TestDelete(t *testing.T) {
	f := newFixture(t)

	report, err := f.builder.Delete(context.Background(), f.sess, models.KindFlowLogic, []models.ElementRef{{UIID: "a"}, {SysID: "b"}, {}})
	require.NoError(t, err)
	assert.False(t, report.HasFatal())

	patches := f.patches()
	require.Len(t, patches, 1)
	assert.Contains(t, patches[0], `flowLogics: {delete: ["a", "b"]}`)

	_, err = f.builder.Delete(context.Background(), f.sess, models.KindFlowLogic, nil)
	assert.True(t, flowerrors.IsValidation(err))
}
