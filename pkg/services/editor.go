// Package services composes the engine's components into the operations exposed by the API and CLI.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dukex/flowpatch/pkg/capability"
	"github.com/dukex/flowpatch/pkg/eventbus"
	"github.com/dukex/flowpatch/pkg/events"
	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/mutation"
	"github.com/dukex/flowpatch/pkg/persistence"
	"github.com/dukex/flowpatch/pkg/session"
)

// ElementRequest adds one element to a flow, naming its kind by display or internal name.
type ElementRequest struct {
	FlowID      string            `json:"flow_id"             validate:"required"`
	Definition  string            `json:"definition"          validate:"required"`
	Name        string            `json:"name,omitempty"`
	Inputs      map[string]any    `json:"inputs,omitempty"`
	Parent      models.ElementRef `json:"parent"`
	ConnectedTo models.ElementRef `json:"connected_to"`
	Order       *int              `json:"order,omitempty"     validate:"omitempty,gte=1"`
	Condition   string            `json:"condition,omitempty"`
	Comment     string            `json:"comment,omitempty"`
	Scope       string            `json:"scope,omitempty"`
	Category    string            `json:"category,omitempty"`
}

// UpdateElementRequest changes inputs, name or order of an existing element.
type UpdateElementRequest struct {
	FlowID  string             `json:"flow_id" validate:"required"`
	Kind    models.ElementKind `json:"kind"    validate:"required"`
	Element models.ElementRef  `json:"element"`
	Name    string             `json:"name,omitempty"`
	Order   *int               `json:"order,omitempty" validate:"omitempty,gte=1"`
	Inputs  map[string]any     `json:"inputs,omitempty"`
}

// DeleteElementsRequest removes elements of one kind.
type DeleteElementsRequest struct {
	FlowID string              `json:"flow_id" validate:"required"`
	Kind   models.ElementKind  `json:"kind"    validate:"required"`
	Refs   []models.ElementRef `json:"refs"    validate:"required,min=1"`
}

// DeleteResult is the outcome of DeleteElements.
type DeleteResult struct {
	Deleted int            `json:"deleted"`
	Report  *models.Report `json:"report"`
}

type Editor struct {
	sessions  *session.Manager
	builder   *mutation.Builder
	reports   persistence.ReportRepository
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

// NewEditor builds the edit service. reports and publisher may be nil.
func NewEditor(
	sessions *session.Manager,
	builder *mutation.Builder,
	reports persistence.ReportRepository,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Editor {
	return &Editor{
		sessions:  sessions,
		builder:   builder,
		reports:   reports,
		publisher: publisher,
		logger:    logger.With("module", "editor"),
	}
}

func (e *Editor) AddTrigger(ctx context.Context, req ElementRequest) (*mutation.InsertResult, error) {
	return e.insert(ctx, models.KindTrigger, req)
}

func (e *Editor) AddAction(ctx context.Context, req ElementRequest) (*mutation.InsertResult, error) {
	return e.insert(ctx, models.KindAction, req)
}

func (e *Editor) AddFlowLogic(ctx context.Context, req ElementRequest) (*mutation.InsertResult, error) {
	return e.insert(ctx, models.KindFlowLogic, req)
}

func (e *Editor) AddSubflowCall(ctx context.Context, req ElementRequest) (*mutation.InsertResult, error) {
	return e.insert(ctx, models.KindSubflow, req)
}

// Add dispatches on kind.
func (e *Editor) Add(ctx context.Context, kind models.ElementKind, req ElementRequest) (*mutation.InsertResult, error) {
	if !kind.Valid() {
		return nil, flowerrors.NewValidationError("add element", "unknown element kind %q", kind)
	}

	return e.insert(ctx, kind, req)
}

func (e *Editor) insert(ctx context.Context, kind models.ElementKind, req ElementRequest) (*mutation.InsertResult, error) {
	if err := models.Validate("add "+string(kind), req); err != nil {
		return nil, err
	}

	var opts []capability.Option
	if req.Scope != "" {
		opts = append(opts, capability.WithScope(req.Scope))
	}

	if req.Category != "" {
		opts = append(opts, capability.WithCategory(req.Category))
	}

	var result *mutation.InsertResult

	err := e.withSession(ctx, req.FlowID, func(ctx context.Context, sess *session.Session) error {
		var err error

		result, err = e.builder.Insert(ctx, sess, mutation.InsertRequest{
			Kind:           kind,
			DefinitionName: req.Definition,
			Name:           req.Name,
			Inputs:         models.ParseInputs(req.Inputs),
			Parent:         req.Parent,
			ConnectedTo:    req.ConnectedTo,
			Order:          req.Order,
			Condition:      req.Condition,
			Comment:        req.Comment,
			Options:        opts,
		})

		if result != nil {
			mergeSessionWarnings(result.Report, sess)
		}

		if result != nil && result.Element != nil {
			e.publish(ctx, req.FlowID, result.Report, events.NewElementInserted(req.FlowID, result.Element, result.Partial))
		}

		return err
	})

	if result != nil {
		e.save(ctx, result.Report)
	}

	return result, err
}

func (e *Editor) UpdateElement(ctx context.Context, req UpdateElementRequest) (*mutation.UpdateResult, error) {
	if err := models.Validate("update element", req); err != nil {
		return nil, err
	}

	var result *mutation.UpdateResult

	err := e.withSession(ctx, req.FlowID, func(ctx context.Context, sess *session.Session) error {
		var err error

		result, err = e.builder.Update(ctx, sess, mutation.UpdateRequest{
			Kind:    req.Kind,
			Element: req.Element,
			Name:    req.Name,
			Order:   req.Order,
			Inputs:  models.ParseInputs(req.Inputs),
		})
		if result != nil {
			mergeSessionWarnings(result.Report, sess)
		}

		if err != nil {
			return err
		}

		e.publish(ctx, req.FlowID, result.Report, events.NewElementUpdated(req.FlowID, req.Kind, req.Element.ID(), inputNames(req.Inputs)))

		return nil
	})

	if result != nil {
		e.save(ctx, result.Report)
	}

	return result, err
}

func (e *Editor) DeleteElements(ctx context.Context, req DeleteElementsRequest) (*DeleteResult, error) {
	if err := models.Validate("delete elements", req); err != nil {
		return nil, err
	}

	result := &DeleteResult{}

	err := e.withSession(ctx, req.FlowID, func(ctx context.Context, sess *session.Session) error {
		report, err := e.builder.Delete(ctx, sess, req.Kind, req.Refs)
		result.Report = report
		mergeSessionWarnings(report, sess)

		if err != nil {
			return err
		}

		result.Deleted = len(req.Refs)
		e.publish(ctx, req.FlowID, report, events.NewElementsDeleted(req.FlowID, req.Kind, req.Refs))

		return nil
	})

	if result.Report != nil {
		e.save(ctx, result.Report)
	}

	return result, err
}

// OpenSession acquires the edit lock and keeps it until CloseSession.
func (e *Editor) OpenSession(ctx context.Context, flowID string) (*session.Session, error) {
	sess, err := e.sessions.Open(ctx, flowID)
	if err != nil {
		return nil, err
	}

	_, stale := sess.Report.Step("stale_session")
	e.publish(ctx, flowID, sess.Report, events.NewSessionOpened(sess.Lock(), stale))

	return sess, nil
}

// CloseSession releases the edit lock. Closing a flow that is not locked succeeds.
func (e *Editor) CloseSession(ctx context.Context, flowID string) error {
	if err := e.sessions.Close(ctx, flowID); err != nil {
		return err
	}

	e.publish(ctx, flowID, nil, events.NewSessionClosed(flowID))

	return nil
}

func (e *Editor) SessionStatus(ctx context.Context, flowID string) (*session.Status, error) {
	return e.sessions.Status(ctx, flowID)
}

// withSession runs fn in the session already held on flowID, or in a new one
// that is closed afterwards.
func (e *Editor) withSession(ctx context.Context, flowID string, fn func(ctx context.Context, sess *session.Session) error) error {
	if sess := e.sessions.Current(flowID); sess != nil {
		return fn(ctx, sess)
	}

	sess, err := e.OpenSession(ctx, flowID)
	if err != nil {
		return err
	}

	fnErr := fn(ctx, sess)
	closeErr := e.CloseSession(context.WithoutCancel(ctx), flowID)

	if closeErr != nil {
		e.logger.ErrorContext(ctx, "Failed to close edit session", "flow_id", flowID, "error", closeErr)
		closeErr = fmt.Errorf("failed to close edit session on flow %s: %w", flowID, closeErr)
	}

	return errors.Join(fnErr, closeErr)
}

func (e *Editor) publish(ctx context.Context, flowID string, report *models.Report, event eventbus.Event) {
	publish(ctx, e.publisher, e.logger, flowID, report, event)
}

func (e *Editor) save(ctx context.Context, report *models.Report) {
	save(ctx, e.reports, e.logger, report)
}

// mergeSessionWarnings carries stale-session warnings into an operation's report.
func mergeSessionWarnings(report *models.Report, sess *session.Session) {
	if report == nil || sess.Report == nil {
		return
	}

	for _, w := range sess.Report.Warnings() {
		w.Name = "session." + w.Name
		report.Steps = append(report.Steps, w)
	}
}

func inputNames(inputs map[string]any) []string {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// linkable is implemented by every event through its embedded BaseEvent.
type linkable interface {
	WithReport(r *models.Report)
}

func publish(ctx context.Context, publisher eventbus.EventPublisher, logger *slog.Logger, flowID string, report *models.Report, event eventbus.Event) {
	if publisher == nil {
		return
	}

	if l, ok := event.(linkable); ok {
		l.WithReport(report)
	}

	if err := publisher.Publish(ctx, flowID, event); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "flow_id", flowID, "event_type", event.GetType(), "error", err)

		if report != nil {
			report.Warn("publish."+strings.ReplaceAll(string(event.GetType()), "flow.", ""), err)
		}
	}
}

func save(ctx context.Context, reports persistence.ReportRepository, logger *slog.Logger, report *models.Report) {
	if reports == nil || report == nil {
		return
	}

	if err := reports.Save(ctx, report); err != nil {
		logger.WarnContext(ctx, "Failed to save report", "report_id", report.ID, "error", err)
	}
}
