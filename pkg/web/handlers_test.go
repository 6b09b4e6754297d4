package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/flowpatch/pkg/capability"
	"github.com/dukex/flowpatch/pkg/datapill"
	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/log"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/mutation"
	"github.com/dukex/flowpatch/pkg/order"
	"github.com/dukex/flowpatch/pkg/persistence/file"
	"github.com/dukex/flowpatch/pkg/protocol"
	"github.com/dukex/flowpatch/pkg/provision"
	"github.com/dukex/flowpatch/pkg/services"
	"github.com/dukex/flowpatch/pkg/session"
	"github.com/dukex/flowpatch/pkg/testutil"
	"github.com/dukex/flowpatch/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTrigger models.TriggerContext

func (s staticTrigger) TriggerContext(context.Context, string) (*models.TriggerContext, error) {
	tc := models.TriggerContext(s)

	return &tc, nil
}

func setupTestApp(t *testing.T) (*fiber.App, *testutil.FakePlatform) {
	t.Helper()

	logger := log.Discard()
	platform := testutil.NewFakePlatform()
	store := file.NewPersistence(t.TempDir())

	capabilities := capability.NewResolver(platform, logger)
	pills := datapill.NewResolver(platform, staticTrigger{Name: "Created or Updated", Label: "Record Created or Updated", Table: "incident"}, logger)
	builder := mutation.NewBuilder(platform, capabilities, pills, order.NewRegistry(platform, logger), logger)
	sessions := session.NewManager(platform, store.SessionLedger(), logger)
	provisioner := provision.NewProvisioner(platform, provision.NewEndpointCache(platform, "", time.Minute, logger), logger)

	handlers := web.NewAPIHandlers(
		services.NewEditor(sessions, builder, store.ReportRepository(), nil, logger),
		services.NewFlows(provisioner, store.ReportRepository(), nil, logger),
		capabilities,
		pills,
		store,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()
	handlers.Register(app)

	return app, platform
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}

	return resp.StatusCode, out
}

func TestHealthCheck(t *testing.T) {
	app, _ := setupTestApp(t)

	status, body := do(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestDefinitions(t *testing.T) {
	app, platform := setupTestApp(t)
	platform.AddRecord("sys_hub_action_type_definition", protocol.Record{"name": "Send Email", "internal_name": "send_email", "sys_scope": "global"})

	status, body := do(t, app, http.MethodGet, "/definitions/action?filter=email", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["definitions"], 1)

	status, body = do(t, app, http.MethodGet, "/definitions/trigger/resolve?name=record_updated", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "fallback", body["stage"])

	status, _ = do(t, app, http.MethodGet, "/definitions/job", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, app, http.MethodGet, "/definitions/action/resolve?name=Teleport", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["type"])
}

func TestAddElement(t *testing.T) {
	app, platform := setupTestApp(t)

	status, body := do(t, app, http.MethodPost, "/flows/f1/elements/action", map[string]any{
		"definition": "Log",
		"inputs":     map[string]any{"log_message": "hello"},
	})
	require.Equal(t, http.StatusCreated, status, body)

	element := body["element"].(map[string]any)
	assert.Equal(t, "action", element["kind"])
	assert.EqualValues(t, 1, body["mutations"])
	assert.Empty(t, platform.LockHolder("f1"))

	status, body = do(t, app, http.MethodGet, "/flows/f1/reports", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["reports"], 1)
}

func TestAddElement_Errors(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*testutil.FakePlatform)
		body   map[string]any
		status int
		kind   string
	}{
		{
			name:   "missing_mandatory_input",
			body:   map[string]any{"definition": "Log"},
			status: http.StatusBadRequest,
			kind:   "validation_error",
		},
		{
			name:   "locked_by_someone_else",
			setup:  func(p *testutil.FakePlatform) { p.HoldLock("f1", "Abel Tuter") },
			body:   map[string]any{"definition": "Log", "inputs": map[string]any{"log_message": "x"}},
			status: http.StatusConflict,
			kind:   "lock_conflict",
		},
		{
			name: "partial_write",
			setup: func(p *testutil.FakePlatform) {
				p.FailMutation(3, flowerrors.NewRemoteError("graphql", 500, "boom", ""))
			},
			body:   map[string]any{"definition": "Update Record", "inputs": map[string]any{"record": "{{trigger.current.sys_id}}", "table_name": "incident"}},
			status: http.StatusBadGateway,
			kind:   "partial_write",
		},
		{
			name: "permission_denied",
			setup: func(p *testutil.FakePlatform) {
				p.FailMutation(2, flowerrors.NewRemoteError("graphql", 403, "ACL", ""))
			},
			body:   map[string]any{"definition": "Log", "inputs": map[string]any{"log_message": "x"}},
			status: http.StatusForbidden,
			kind:   "permission_denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, platform := setupTestApp(t)
			if tt.setup != nil {
				tt.setup(platform)
			}

			status, body := do(t, app, http.MethodPost, "/flows/f1/elements/action", tt.body)
			assert.Equal(t, tt.status, status, body)
			assert.Equal(t, tt.kind, body["type"])
		})
	}
}

func TestLockConflictCarriesHolder(t *testing.T) {
	app, platform := setupTestApp(t)
	platform.HoldLock("f1", "Abel Tuter")

	status, body := do(t, app, http.MethodPost, "/flows/f1/session", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Abel Tuter", body["holder"])
}

func TestSessionLifecycle(t *testing.T) {
	app, platform := setupTestApp(t)

	status, body := do(t, app, http.MethodPost, "/flows/f1/session", nil)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "f1", body["flow_id"])
	assert.Equal(t, platform.User, platform.LockHolder("f1"))

	status, body = do(t, app, http.MethodGet, "/flows/f1/session", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["open"])

	status, _ = do(t, app, http.MethodDelete, "/flows/f1/session", nil)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Empty(t, platform.LockHolder("f1"))
}

func TestResolveCondition(t *testing.T) {
	app, platform := setupTestApp(t)

	status, body := do(t, app, http.MethodPost, "/flows/f1/conditions:resolve", map[string]any{
		"expression": "category=hardware^priority!=1",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t,
		"{{Created or Updated_1.current.category}}=hardware^{{Created or Updated_1.current.priority}}!=1",
		body["expression"])
	assert.Empty(t, platform.Mutations())

	status, _ = do(t, app, http.MethodPost, "/flows/f1/conditions:resolve", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestFlows(t *testing.T) {
	app, platform := setupTestApp(t)
	platform.AddRecord("sys_ws_definition", protocol.Record{"service_id": provision.DefaultEndpointName, "active": "true"})

	status, body := do(t, app, http.MethodPost, "/flows/", map[string]any{"name": "Incident Triage"})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "raw", body["path"])

	flow := body["flow"].(map[string]any)

	status, body = do(t, app, http.MethodGet, "/flows/"+flow["id"].(string), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Incident Triage", body["name"])

	status, _ = do(t, app, http.MethodGet, "/flows/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = do(t, app, http.MethodPost, "/flows/", map[string]any{"type": "subflow"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotNil(t, body["report"])

	status, _ = do(t, app, http.MethodGet, "/reports/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	store := file.NewPersistence("/nonexistent/flowpatch")
	handlers := web.NewAPIHandlers(nil, nil, nil, nil, store, nil)

	app := fiber.New()
	app.Get("/health", handlers.HealthCheck)

	status, body := do(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "unhealthy", body["status"])
}
