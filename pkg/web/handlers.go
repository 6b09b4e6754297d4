// Package web exposes the flow graph engine over HTTP.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/dukex/flowpatch/pkg/capability"
	"github.com/dukex/flowpatch/pkg/datapill"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/provision"
	"github.com/dukex/flowpatch/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Catalog browses and resolves element kinds.
type Catalog interface {
	Resolve(ctx context.Context, kind models.ElementKind, requested string, opts ...capability.Option) (*capability.Resolution, error)
	List(ctx context.Context, kind models.ElementKind, filter string) ([]models.Definition, error)
}

// ConditionPreviewer resolves a condition against a flow's trigger without writing.
type ConditionPreviewer interface {
	Preview(ctx context.Context, flowID, expr string) (*datapill.Resolution, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	editor     *services.Editor
	flows      *services.Flows
	catalog    Catalog
	conditions ConditionPreviewer
	health     HealthChecker
	validator  *validator.Validate
}

func NewAPIHandlers(
	editor *services.Editor,
	flows *services.Flows,
	catalog Catalog,
	conditions ConditionPreviewer,
	health HealthChecker,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		editor:     editor,
		flows:      flows,
		catalog:    catalog,
		conditions: conditions,
		health:     health,
		validator:  validator,
	}
}

// Register mounts every route on app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	d := app.Group("/definitions")
	d.Get("/:kind", h.ListDefinitions)
	d.Get("/:kind/resolve", h.ResolveDefinition)

	f := app.Group("/flows")
	f.Post("/", h.CreateFlow)
	f.Get("/:id", h.GetFlow)
	f.Get("/:id/reports", h.GetFlowReports)
	f.Get("/:id/session", h.GetSession)
	f.Post("/:id/session", h.OpenSession)
	f.Delete("/:id/session", h.CloseSession)
	f.Post("/:id/elements/:kind", h.AddElement)
	f.Patch("/:id/elements/:kind", h.UpdateElement)
	f.Delete("/:id/elements/:kind", h.DeleteElements)
	f.Post(`/:id/conditions\:resolve`, h.ResolveCondition)

	app.Get("/reports/:id", h.GetReport)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "persistence is healthy"
	httpStatus := http.StatusOK

	if err := h.health.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "persistence is unhealthy: " + err.Error()
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

func kindParam(c fiber.Ctx) (models.ElementKind, error) {
	return models.ParseElementKind(c.Params("kind"))
}

func (h *APIHandlers) ListDefinitions(c fiber.Ctx) error {
	kind, err := kindParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	defs, err := h.catalog.List(c.Context(), kind, c.Query("filter"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"kind": kind, "definitions": defs})
}

func (h *APIHandlers) ResolveDefinition(c fiber.Ctx) error {
	kind, err := kindParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	name := c.Query("name")
	if name == "" {
		return badRequest(c, "name is required")
	}

	var opts []capability.Option
	if scope := c.Query("scope"); scope != "" {
		opts = append(opts, capability.WithScope(scope))
	}

	if category := c.Query("category"); category != "" {
		opts = append(opts, capability.WithCategory(category))
	}

	res, err := h.catalog.Resolve(c.Context(), kind, name, opts...)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(res)
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	var req provision.CreateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	result, err := h.flows.Create(c.Context(), req)
	if err != nil {
		var report *models.Report
		if result != nil {
			report = result.Report
		}

		return writeProblem(c, err, nil, report)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	flow, err := h.flows.Lookup(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) GetFlowReports(c fiber.Ctx) error {
	reports, err := h.flows.Reports(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"reports": reports})
}

func (h *APIHandlers) GetReport(c fiber.Ctx) error {
	report, err := h.flows.Report(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) GetSession(c fiber.Ctx) error {
	status, err := h.editor.SessionStatus(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(status)
}

func (h *APIHandlers) OpenSession(c fiber.Ctx) error {
	sess, err := h.editor.OpenSession(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(newSessionResponse(sess))
}

func (h *APIHandlers) CloseSession(c fiber.Ctx) error {
	if err := h.editor.CloseSession(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) AddElement(c fiber.Ctx) error {
	kind, err := kindParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req services.ElementRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	req.FlowID = c.Params("id")

	result, err := h.editor.Add(c.Context(), kind, req)
	if err != nil {
		if result != nil {
			return writeProblem(c, err, result.Element, result.Report)
		}

		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) UpdateElement(c fiber.Ctx) error {
	kind, err := kindParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req services.UpdateElementRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	req.FlowID = c.Params("id")
	req.Kind = kind

	result, err := h.editor.UpdateElement(c.Context(), req)
	if err != nil {
		if result != nil {
			return writeProblem(c, err, nil, result.Report)
		}

		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) DeleteElements(c fiber.Ctx) error {
	kind, err := kindParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req services.DeleteElementsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	req.FlowID = c.Params("id")
	req.Kind = kind

	result, err := h.editor.DeleteElements(c.Context(), req)
	if err != nil {
		if result != nil && result.Report != nil {
			return writeProblem(c, err, nil, result.Report)
		}

		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) ResolveCondition(c fiber.Ctx) error {
	var req ConditionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	res, err := h.conditions.Preview(c.Context(), c.Params("id"), req.Expression)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(res)
}
