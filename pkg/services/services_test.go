package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dukex/flowpatch/pkg/capability"
	"github.com/dukex/flowpatch/pkg/datapill"
	"github.com/dukex/flowpatch/pkg/events"
	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/log"
	"github.com/dukex/flowpatch/pkg/mocks"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/mutation"
	"github.com/dukex/flowpatch/pkg/order"
	"github.com/dukex/flowpatch/pkg/persistence/file"
	"github.com/dukex/flowpatch/pkg/protocol"
	"github.com/dukex/flowpatch/pkg/provision"
	"github.com/dukex/flowpatch/pkg/session"
	"github.com/dukex/flowpatch/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type staticTrigger models.TriggerContext

func (s staticTrigger) TriggerContext(context.Context, string) (*models.TriggerContext, error) {
	tc := models.TriggerContext(s)

	return &tc, nil
}

type fixture struct {
	platform *testutil.FakePlatform
	bus      *mocks.MockEventBus
	store    *file.Persistence
	editor   *Editor
	flows    *Flows
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := log.Discard()
	platform := testutil.NewFakePlatform()
	store := file.NewPersistence(t.TempDir())
	bus := &mocks.MockEventBus{}

	trigger := staticTrigger{Name: "Created or Updated", Label: "Record Created or Updated", Table: "incident"}
	builder := mutation.NewBuilder(
		platform,
		capability.NewResolver(platform, logger),
		datapill.NewResolver(platform, trigger, logger),
		order.NewRegistry(platform, logger),
		logger,
	)
	sessions := session.NewManager(platform, store.SessionLedger(), logger)

	provisioner := provision.NewProvisioner(platform, provision.NewEndpointCache(platform, "", time.Minute, logger), logger)

	return &fixture{
		platform: platform,
		bus:      bus,
		store:    store,
		editor:   NewEditor(sessions, builder, store.ReportRepository(), bus, logger),
		flows:    NewFlows(provisioner, store.ReportRepository(), bus, logger),
	}
}

func (f *fixture) published() []events.EventType {
	var out []events.EventType

	for _, call := range f.bus.Calls {
		if call.Method == "Publish" {
			out = append(out, call.Arguments.Get(2).(interface{ GetType() events.EventType }).GetType())
		}
	}

	return out
}

func (f *fixture) patches() int {
	n := 0

	for _, m := range f.platform.Mutations() {
		if strings.Contains(m, "flowPatch") {
			n++
		}
	}

	return n
}

func TestEditor_AddActionOpensAndClosesSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bus.On("Publish", mock.Anything, "f1", mock.Anything).Return(nil)

	result, err := f.editor.AddAction(ctx, ElementRequest{
		FlowID:     "f1",
		Definition: "Log",
		Inputs:     map[string]any{"log_message": "hello"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Mutations)
	assert.Equal(t, models.KindAction, result.Element.Kind)
	assert.Empty(t, f.platform.LockHolder("f1"))

	assert.Equal(t, []events.EventType{
		events.SessionOpenedEvent,
		events.ElementInsertedEvent,
		events.SessionClosedEvent,
	}, f.published())

	saved, err := f.store.ReportRepository().ByID(ctx, result.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, "f1", saved.FlowID)

	status, err := f.editor.SessionStatus(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, status.Open)
	assert.False(t, status.Stale)
}

func TestEditor_UsesHeldSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bus.On("Publish", mock.Anything, "f1", mock.Anything).Return(nil)

	_, err := f.editor.OpenSession(ctx, "f1")
	require.NoError(t, err)

	_, err = f.editor.AddFlowLogic(ctx, ElementRequest{FlowID: "f1", Definition: "If", Condition: "category=hardware"})
	require.NoError(t, err)

	assert.Equal(t, f.platform.User, f.platform.LockHolder("f1"))

	require.NoError(t, f.editor.CloseSession(ctx, "f1"))
	assert.Empty(t, f.platform.LockHolder("f1"))
}

func TestEditor_LockConflict(t *testing.T) {
	f := newFixture(t)
	f.platform.HoldLock("f1", "Abel Tuter")

	_, err := f.editor.AddAction(context.Background(), ElementRequest{FlowID: "f1", Definition: "Log"})
	require.Error(t, err)

	var conflict *flowerrors.LockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "Abel Tuter", conflict.Holder)
	assert.Zero(t, f.patches())
	f.bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestEditor_PublishFailureIsAWarning(t *testing.T) {
	f := newFixture(t)
	f.bus.On("Publish", mock.Anything, "f1", mock.Anything).Return(errors.New("broker down"))

	result, err := f.editor.AddAction(context.Background(), ElementRequest{
		FlowID:     "f1",
		Definition: "Log",
		Inputs:     map[string]any{"log_message": "hello"},
	})
	require.NoError(t, err)

	step, ok := result.Report.Step("publish.element.inserted")
	require.True(t, ok)
	assert.Equal(t, models.StepWarning, step.Status)
	assert.False(t, result.Report.HasFatal())
}

func TestEditor_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.editor.AddAction(context.Background(), ElementRequest{FlowID: "f1"})
	assert.True(t, flowerrors.IsValidation(err))

	_, err = f.editor.Add(context.Background(), "job", ElementRequest{FlowID: "f1", Definition: "Log"})
	assert.True(t, flowerrors.IsValidation(err))

	_, err = f.editor.DeleteElements(context.Background(), DeleteElementsRequest{FlowID: "f1", Kind: models.KindAction})
	assert.True(t, flowerrors.IsValidation(err))

	assert.Empty(t, f.platform.Mutations())
}

func TestEditor_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bus.On("Publish", mock.Anything, "f1", mock.Anything).Return(nil)

	inserted, err := f.editor.AddAction(ctx, ElementRequest{FlowID: "f1", Definition: "Log", Inputs: map[string]any{"log_message": "a"}})
	require.NoError(t, err)

	ref := models.ElementRef{UIID: inserted.Element.UIID, SysID: inserted.Element.SysID}

	updated, err := f.editor.UpdateElement(ctx, UpdateElementRequest{
		FlowID: "f1", Kind: models.KindAction, Element: ref, Inputs: map[string]any{"log_message": "b"},
	})
	require.NoError(t, err)
	assert.False(t, updated.Report.HasFatal())

	deleted, err := f.editor.DeleteElements(ctx, DeleteElementsRequest{FlowID: "f1", Kind: models.KindAction, Refs: []models.ElementRef{ref}})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted.Deleted)

	assert.Contains(t, f.published(), events.ElementUpdatedEvent)
	assert.Contains(t, f.published(), events.ElementsDeletedEventType)

	reports, err := f.flows.Reports(ctx, "f1")
	require.NoError(t, err)
	assert.Len(t, reports, 3)
}

func TestFlows_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.platform.AddRecord("sys_ws_definition", protocol.Record{
		"service_id": provision.DefaultEndpointName,
		"base_uri":   "/api/x_acme/flow_factory",
		"active":     "true",
	})
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := f.flows.Create(ctx, provision.CreateRequest{Name: "Incident Triage"})
	require.NoError(t, err)
	assert.Equal(t, provision.PathRaw, result.Path)
	assert.Equal(t, []events.EventType{events.FlowProvisionedEvent}, f.published())

	flow, err := f.flows.Lookup(ctx, "Incident Triage")
	require.NoError(t, err)
	assert.Equal(t, result.Flow.ID, flow.ID)

	saved, err := f.flows.Report(ctx, result.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, "create", saved.Operation)
}

func TestFlows_WithoutReportStore(t *testing.T) {
	logger := log.Discard()
	platform := testutil.NewFakePlatform()
	flows := NewFlows(provision.NewProvisioner(platform, provision.NewEndpointCache(platform, "", time.Minute, logger), logger), nil, nil, logger)

	reports, err := flows.Reports(context.Background(), "f1")
	require.NoError(t, err)
	assert.Empty(t, reports)

	_, err = flows.Report(context.Background(), "r1")
	assert.Error(t, err)
}
