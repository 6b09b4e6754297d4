package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/flowpatch/pkg/cache"
	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/log"
	"github.com/dukex/flowpatch/pkg/mocks"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/protocol"
	"github.com/dukex/flowpatch/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	actionDefs   = "sys_hub_action_type_definition"
	actionInputs = "sys_hub_action_input"
	triggerDefs  = "sys_hub_trigger_definition"
	logicDefs    = "sys_hub_flow_logic_definition"
)

func newResolver(platform *testutil.FakePlatform, opts ...ResolverOption) *Resolver {
	return NewResolver(platform, log.Discard(), opts...)
}

func TestResolver_ExactInternalName(t *testing.T) {
	platform := testutil.NewFakePlatform()
	platform.AddDefinition(actionDefs, actionInputs, testutil.CreateTestDefinition())

	res, err := newResolver(platform).Resolve(context.Background(), models.KindAction, "log")
	require.NoError(t, err)

	assert.Equal(t, StageInternalName, res.Stage)
	assert.Equal(t, "log", res.Definition.InternalName)
	require.Len(t, res.Definition.Parameters, 2)
	assert.Equal(t, "log_level", res.Definition.Parameters[0].Name)
	assert.Len(t, res.Definition.Parameters[0].Choices, 2)
	assert.True(t, res.Definition.Parameters[1].Mandatory)
}

func TestResolver_DisplayName(t *testing.T) {
	platform := testutil.NewFakePlatform()
	platform.AddDefinition(actionDefs, actionInputs, testutil.CreateTestDefinition(testutil.WithNames("update_record", "Update Record")))

	res, err := newResolver(platform).Resolve(context.Background(), models.KindAction, "Update Record")
	require.NoError(t, err)

	assert.Equal(t, StageDisplayName, res.Stage)
	assert.Equal(t, "update_record", res.Definition.InternalName)
	require.Len(t, res.Attempts, 2)
	assert.Empty(t, res.Attempts[0].Matched)
}

func TestResolver_AliasBridgesTense(t *testing.T) {
	platform := testutil.NewFakePlatform()
	platform.AddDefinition(triggerDefs, "sys_hub_trigger_input", models.Definition{
		InternalName: "record_update",
		Name:         "Updated",
	})

	res, err := newResolver(platform).Resolve(context.Background(), models.KindTrigger, "record_updated")
	require.NoError(t, err)

	assert.Equal(t, StageAlias, res.Stage)
	assert.Equal(t, "record_update", res.Definition.InternalName)
}

func TestResolver_FuzzyPrefersGlobalThenShortest(t *testing.T) {
	platform := testutil.NewFakePlatform()
	platform.AddDefinition(actionDefs, actionInputs, models.Definition{InternalName: "send_email_extended", Name: "Send Email Extended", Scope: "global"})
	platform.AddDefinition(actionDefs, actionInputs, models.Definition{InternalName: "sn_send_email", Name: "Send Email Now", Scope: "sn_itsm"})
	platform.AddDefinition(actionDefs, actionInputs, models.Definition{InternalName: "send_email_v2", Name: "Send Email V2", Scope: "global"})

	res, err := newResolver(platform).Resolve(context.Background(), models.KindAction, "send email")
	require.NoError(t, err)

	assert.Equal(t, StageFuzzy, res.Stage)
	assert.Equal(t, "send_email_v2", res.Definition.InternalName)
}

func TestResolver_FuzzyExplicitScopeWins(t *testing.T) {
	platform := testutil.NewFakePlatform()
	platform.AddDefinition(actionDefs, actionInputs, models.Definition{InternalName: "send_email_v2", Name: "Send Email V2", Scope: "global"})
	platform.AddDefinition(actionDefs, actionInputs, models.Definition{InternalName: "sn_send_email", Name: "Send Email Now", Scope: "sn_itsm"})

	res, err := newResolver(platform).Resolve(context.Background(), models.KindAction, "send email", WithScope("sn_itsm"))
	require.NoError(t, err)

	assert.Equal(t, "sn_send_email", res.Definition.InternalName)
	assert.Contains(t, res.Attempts[len(res.Attempts)-1].Rejected, "send_email_v2")
}

func TestResolver_FallbackWhenCatalogUnreadable(t *testing.T) {
	platform := testutil.NewFakePlatform()
	platform.FailTable(logicDefs, flowerrors.NewRemoteError("table.query", 403, "ACL denied", ""))

	res, err := newResolver(platform).Resolve(context.Background(), models.KindFlowLogic, "Else If")
	require.NoError(t, err)

	assert.Equal(t, StageFallback, res.Stage)
	assert.Equal(t, "ELSEIF", res.Definition.InternalName)
	assert.True(t, res.Definition.Fallback)
	assert.NotEmpty(t, res.Warnings)
}

func TestResolver_NotFoundListsAttempts(t *testing.T) {
	platform := testutil.NewFakePlatform()

	res, err := newResolver(platform).Resolve(context.Background(), models.KindAction, "frobnicate widget")
	require.Error(t, err)
	assert.True(t, flowerrors.IsNotFound(err))

	var nf *flowerrors.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Contains(t, nf.Attempted, "frobnicate widget")
	assert.Contains(t, nf.Attempted, "frobnicated_widget")
	assert.Nil(t, res.Definition)
}

func TestResolver_TryResolve(t *testing.T) {
	res := newResolver(testutil.NewFakePlatform()).TryResolve(context.Background(), models.KindSubflow, "missing subflow")

	assert.Nil(t, res.Definition)
	assert.NotEmpty(t, res.Warnings)
}

func TestResolver_UsesCache(t *testing.T) {
	platform := testutil.NewFakePlatform()
	platform.AddDefinition(actionDefs, actionInputs, testutil.CreateTestDefinition())

	resolver := newResolver(platform, WithCache(cache.NewMemory(), time.Minute))

	_, err := resolver.Resolve(context.Background(), models.KindAction, "log")
	require.NoError(t, err)

	platform.FailTable(actionDefs, errors.New("offline"))

	res, err := resolver.Resolve(context.Background(), models.KindAction, "log")
	require.NoError(t, err)
	assert.Equal(t, StageCache, res.Stage)
	assert.Len(t, res.Definition.Parameters, 2)
}

func TestResolver_SubflowFilter(t *testing.T) {
	platform := testutil.NewFakePlatform()
	platform.AddRecord("sys_hub_flow", map[string]any{"internal_name": "notify_manager", "name": "Notify Manager", "type": "flow"})
	platform.AddRecord("sys_hub_flow", map[string]any{"internal_name": "notify_manager_sub", "name": "Notify Manager", "type": "subflow"})

	res, err := newResolver(platform).Resolve(context.Background(), models.KindSubflow, "Notify Manager")
	require.NoError(t, err)
	assert.Equal(t, "notify_manager_sub", res.Definition.InternalName)
}

func TestResolver_Definition(t *testing.T) {
	platform := testutil.NewFakePlatform()
	id := platform.AddDefinition(actionDefs, actionInputs, testutil.CreateTestDefinition())

	def, err := newResolver(platform).Definition(context.Background(), models.KindAction, id)
	require.NoError(t, err)
	assert.Equal(t, "log", def.InternalName)
	assert.Len(t, def.Parameters, 2)

	_, err = newResolver(platform).Definition(context.Background(), models.KindAction, "nope")
	assert.True(t, flowerrors.IsNotFound(err))
}

func TestResolver_List(t *testing.T) {
	platform := testutil.NewFakePlatform()
	platform.AddDefinition(actionDefs, actionInputs, testutil.CreateTestDefinition())
	platform.AddDefinition(actionDefs, actionInputs, testutil.CreateTestDefinition(testutil.WithNames("update_record", "Update Record")))

	all, err := newResolver(platform).List(context.Background(), models.KindAction, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	some, err := newResolver(platform).List(context.Background(), models.KindAction, "update")
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "Update Record", some[0].Name)
}

func TestVariants(t *testing.T) {
	v := Variants("record_updated")
	assert.Equal(t, "record_updated", v[0])
	assert.Contains(t, v, "record_update")
	assert.Contains(t, v, "record update")

	assert.Contains(t, Variants("Update-Record"), "updated_record")
	assert.Nil(t, Variants("  "))
}

func TestDefaultTables_Merge(t *testing.T) {
	tables := DefaultTables().Merge(Tables{models.KindAction: {Definitions: "x_custom_action"}})

	assert.Equal(t, "x_custom_action", tables[models.KindAction].Definitions)
	assert.Equal(t, "sys_hub_action_input", tables[models.KindAction].Inputs)
}

func TestResolver_ListQuery(t *testing.T) {
	records := &mocks.MockRecordReader{}
	records.On("Query", mock.Anything, "sys_hub_flow", protocol.RecordQuery{
		Query:  "type=subflow^nameLIKEnotify^ORinternal_nameLIKEnotify^ORDERBYname",
		Fields: definitionFields,
		Limit:  200,
	}).Return([]protocol.Record{{"sys_id": "s1", "internal_name": "notify_manager", "name": "Notify Manager"}}, nil)

	defs, err := NewResolver(records, log.Discard()).List(context.Background(), models.KindSubflow, " notify ")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "notify_manager", defs[0].InternalName)
	records.AssertExpectations(t)
}

func TestResolver_ListRemoteFailure(t *testing.T) {
	records := &mocks.MockRecordReader{}
	records.On("Query", mock.Anything, actionDefs, mock.Anything).
		Return(nil, flowerrors.NewRemoteError("table.query", 500, "boom", ""))

	_, err := NewResolver(records, log.Discard()).List(context.Background(), models.KindAction, "")
	require.Error(t, err)
	assert.True(t, flowerrors.IsRemote(err))
}
