package mutation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowpatch/pkg/capability"
	"github.com/dukex/flowpatch/pkg/datapill"
	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/order"
	"github.com/dukex/flowpatch/pkg/otelhelper"
	"github.com/dukex/flowpatch/pkg/protocol"
	"github.com/dukex/flowpatch/pkg/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CapabilityResolver finds definitions by name.
type CapabilityResolver interface {
	Resolve(ctx context.Context, kind models.ElementKind, requested string, opts ...capability.Option) (*capability.Resolution, error)
}

// PillResolver qualifies conditions and values against a flow's trigger.
type PillResolver interface {
	Trigger(ctx context.Context, flowID string) (*models.TriggerContext, error)
	ResolveCondition(ctx context.Context, expr string, trigger models.TriggerContext) (*datapill.Resolution, error)
	ResolveValue(ctx context.Context, value string, trigger models.TriggerContext) (models.Input, *datapill.Resolution, error)
	ResolveTemplate(ctx context.Context, text string, trigger models.TriggerContext) (*datapill.Resolution, error)
}

// OrderSource hands out the order allocator of a flow.
type OrderSource interface {
	For(flowID string) *order.Allocator
}

// InsertRequest describes a new element.
type InsertRequest struct {
	Kind models.ElementKind `json:"kind" validate:"required"`
	// Definition is used as is when set; otherwise DefinitionName is resolved.
	Definition     *models.Definition      `json:"-"`
	DefinitionName string                  `json:"definition,omitempty"`
	Name           string                  `json:"name,omitempty"`
	Inputs         map[string]models.Input `json:"-"`
	Parent         models.ElementRef       `json:"parent"`
	ConnectedTo    models.ElementRef       `json:"connected_to"`
	Order          *int                    `json:"order,omitempty"`
	Condition      string                  `json:"condition,omitempty"` // shorthand for the "condition" input of If/Else If
	Comment        string                  `json:"comment,omitempty"`
	Options        []capability.Option     `json:"-"`
}

// InsertResult is the outcome of an insert. It is returned alongside errors
// so the report is never lost.
type InsertResult struct {
	Element    *models.Element   `json:"element,omitempty"`
	Partial    bool              `json:"partial"`
	Mutations  int               `json:"mutations"`
	LabelCache []LabelCacheEntry `json:"label_cache,omitempty"`
	Report     *models.Report    `json:"report"`
}

// UpdateRequest changes inputs, name or order of an existing element.
type UpdateRequest struct {
	Kind    models.ElementKind `json:"kind" validate:"required"`
	Element models.ElementRef  `json:"element"`
	// Definition enables input validation when set.
	Definition *models.Definition      `json:"-"`
	Name       string                  `json:"name,omitempty"`
	Order      *int                    `json:"order,omitempty"`
	Inputs     map[string]models.Input `json:"-"`
}

type UpdateResult struct {
	Inputs     map[string]models.Input `json:"-"`
	LabelCache []LabelCacheEntry       `json:"label_cache,omitempty"`
	Report     *models.Report          `json:"report"`
}

// Builder validates graph edits and submits them as flow patches.
type Builder struct {
	gql          protocol.GraphQL
	capabilities CapabilityResolver
	pills        PillResolver
	orders       OrderSource
	logger       *slog.Logger
	tracer       trace.Tracer
	newUIID      func() string
}

type Option func(*Builder)

func WithTracer(tracer trace.Tracer) Option {
	return func(b *Builder) {
		b.tracer = tracer
	}
}

// WithUIIDs overrides identifier generation.
func WithUIIDs(fn func() string) Option {
	return func(b *Builder) {
		b.newUIID = fn
	}
}

func NewBuilder(gql protocol.GraphQL, capabilities CapabilityResolver, pills PillResolver, orders OrderSource, logger *slog.Logger, opts ...Option) *Builder {
	b := &Builder{
		gql:          gql,
		capabilities: capabilities,
		pills:        pills,
		orders:       orders,
		logger:       logger.With("module", "mutation"),
		newUIID:      NewUIID,
	}

	for _, opt := range opts {
		opt(b)
	}

	b.tracer = otelhelper.OrNoop(b.tracer)

	return b
}

// Submit sends patch within sess.
func (b *Builder) Submit(ctx context.Context, sess *session.Session, patch *FlowPatch) (*Response, error) {
	if err := session.Require(sess, patch.FlowID); err != nil {
		return nil, err
	}

	if patch.Empty() {
		return nil, flowerrors.NewValidationError("submit", "patch is empty")
	}

	document, err := Document(patch)
	if err != nil {
		return nil, err
	}

	b.logger.DebugContext(ctx, "Submitting flow patch", "flow_id", patch.FlowID, "kinds", patch.Kinds())

	data, err := b.gql.Mutate(ctx, document)
	if err != nil {
		return nil, err
	}

	return ParseResponse(data)
}

// Insert adds one element. Inputs that reference other records are written
// by a second mutation once the element exists; if that second call fails the
// element stays in place and the result is marked Partial.
func (b *Builder) Insert(ctx context.Context, sess *session.Session, req InsertRequest) (*InsertResult, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, err
	}

	flowID := sess.FlowID()
	report := models.NewReport("insert", flowID)
	result := &InsertResult{Report: report}

	ctx, span := otelhelper.StartSpan(ctx, b.tracer, "mutation.insert",
		attribute.String(otelhelper.FlowIDKey, flowID),
		attribute.String(otelhelper.ElementKindKey, string(req.Kind)),
	)
	defer span.End()

	fail := func(step string, err error) (*InsertResult, error) {
		report.Fail(step, err)
		otelhelper.SetError(span, err)

		return result, err
	}

	if !req.Kind.Valid() {
		return fail("validate", flowerrors.NewValidationError("insert", "unknown element kind %q", req.Kind))
	}

	def, err := b.definition(ctx, req, report)
	if err != nil {
		return fail("resolve_definition", err)
	}

	span.SetAttributes(attribute.String(otelhelper.DefinitionKey, def.InternalName))

	inputs := make(map[string]models.Input, len(req.Inputs)+1)
	for k, v := range req.Inputs {
		inputs[k] = v
	}

	if req.Condition != "" {
		inputs["condition"] = models.LiteralInput{Value: req.Condition}
	}

	req.Inputs = inputs

	if verr := validateStructure("insert "+def.DisplayName(), def, req); verr != nil {
		return fail("validate", verr)
	}

	for _, w := range unknownInputs(def, inputs) {
		report.Warnf("validate", "%s", w)
	}

	prep, err := b.prepareInputs(ctx, flowID, req.Kind, def, inputs)
	if err != nil {
		return fail("resolve_inputs", err)
	}

	for _, w := range prep.warnings {
		report.Warnf("resolve_inputs", "%s", w)
	}

	if err := validateLiterals("insert "+def.DisplayName(), def, prep.inputs); err != nil {
		return fail("validate", err)
	}

	element := &models.Element{
		Kind:         req.Kind,
		UIID:         b.newUIID(),
		Name:         req.Name,
		DefinitionID: def.SysID,
		Inputs:       prep.inputs,
	}

	if element.Name == "" {
		element.Name = def.DisplayName()
	}

	if req.Kind != models.KindTrigger {
		element.Parent = req.Parent.SysID
		element.ParentUIID = req.Parent.UIID
		element.ConnectedTo = req.ConnectedTo.ID()

		element.Order, err = b.orders.For(flowID).Allocate(ctx, req.Order)
		if err != nil {
			return fail("allocate_order", err)
		}

		report.Succeed("allocate_order", "order %d", element.Order)
	}

	span.SetAttributes(attribute.String(otelhelper.ElementUIIDKey, element.UIID))

	insert := &FlowPatch{FlowID: flowID}
	addInsert(insert, def, element, prep.values(def, true, nil), req.Comment)

	resp, err := b.Submit(ctx, sess, insert)
	result.Mutations++

	if err != nil {
		return fail("insert", err)
	}

	sysID, ok := resp.SysID(req.Kind, element.UIID)
	if !ok {
		report.Warnf("insert", "platform returned no sys_id for %s", element.UIID)
	}

	element.SysID = sysID
	result.Element = element
	report.Succeed("insert", "inserted %s %s (%s)", req.Kind, element.UIID, sysID)

	b.logger.InfoContext(ctx, "Element inserted", "flow_id", flowID, "kind", req.Kind, "ui_id", element.UIID, "sys_id", sysID)

	if !prep.hasDeferred() {
		return result, nil
	}

	followUp := ElementUpdate{
		UIUniqueIdentifier: element.UIID,
		SysID:              sysID,
		Inputs:             prep.values(def, false, prep.deferred),
	}

	update := &FlowPatch{FlowID: flowID}
	update.AddUpdate(req.Kind, followUp)

	result.LabelCache = prep.labelEntries(def, element.UIID)
	update.AddLabels(result.LabelCache...)

	_, err = b.Submit(ctx, sess, update)
	result.Mutations++

	if err != nil {
		result.Partial = true
		partial := &flowerrors.PartialWriteError{UIID: element.UIID, SysID: sysID, Err: err}
		b.logger.WarnContext(ctx, "Element inserted but reference inputs were not written", "ui_id", element.UIID, "error", err)

		return fail("update", partial)
	}

	report.Succeed("update", "wrote %d reference inputs and %d labels", len(followUp.Inputs), len(result.LabelCache))

	return result, nil
}

func (b *Builder) definition(ctx context.Context, req InsertRequest, report *models.Report) (*models.Definition, error) {
	if req.Definition != nil {
		if req.Definition.Kind == "" {
			def := *req.Definition
			def.Kind = req.Kind

			return &def, nil
		}

		if req.Definition.Kind != req.Kind {
			return nil, flowerrors.NewValidationError("insert", "definition %s is a %s, not a %s",
				req.Definition.DisplayName(), req.Definition.Kind, req.Kind)
		}

		return req.Definition, nil
	}

	if strings.TrimSpace(req.DefinitionName) == "" {
		return nil, flowerrors.NewValidationError("insert", "definition or definition name is required")
	}

	res, err := b.capabilities.Resolve(ctx, req.Kind, req.DefinitionName, req.Options...)
	if err != nil {
		return nil, err
	}

	for _, w := range res.Warnings {
		report.Warnf("resolve_definition", "%s", w)
	}

	report.Succeed("resolve_definition", "%q resolved to %s at stage %s", req.DefinitionName, res.Definition.DisplayName(), res.Stage)

	return res.Definition, nil
}

func addInsert(p *FlowPatch, def *models.Definition, e *models.Element, inputs []InputValue, comment string) {
	typ := def.InternalName
	if typ == "" {
		typ = def.Type
	}

	switch e.Kind {
	case models.KindTrigger:
		p.TriggerInstances = &PatchSet[TriggerInsert]{Insert: []TriggerInsert{{
			UIUniqueIdentifier: e.UIID, Type: typ, TriggerDefinitionID: def.SysID,
			Name: e.Name, Comment: comment, Inputs: inputs,
		}}}
	case models.KindAction:
		p.Actions = &PatchSet[ActionInsert]{Insert: []ActionInsert{{
			UIUniqueIdentifier: e.UIID, Type: typ, ActionTypeSysID: def.SysID, Name: e.Name,
			Order: orderString(e.Order), Parent: e.Parent, ParentUIID: e.ParentUIID, Comment: comment, Inputs: inputs,
		}}}
	case models.KindFlowLogic:
		p.FlowLogics = &PatchSet[FlowLogicInsert]{Insert: []FlowLogicInsert{{
			UIUniqueIdentifier: e.UIID, Type: typ, DefinitionID: def.SysID, Name: e.Name,
			Order: orderString(e.Order), Parent: e.Parent, ParentUIID: e.ParentUIID, ConnectedTo: e.ConnectedTo,
			Comment: comment, Inputs: inputs,
		}}}
	case models.KindSubflow:
		p.Subflows = &PatchSet[SubflowInsert]{Insert: []SubflowInsert{{
			UIUniqueIdentifier: e.UIID, Type: typ, SubflowSysID: def.SysID, Name: e.Name,
			Order: orderString(e.Order), Parent: e.Parent, ParentUIID: e.ParentUIID, Comment: comment, Inputs: inputs,
		}}}
	}
}

// Update changes an existing element in a single mutation.
func (b *Builder) Update(ctx context.Context, sess *session.Session, req UpdateRequest) (*UpdateResult, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, err
	}

	flowID := sess.FlowID()
	report := models.NewReport("update", flowID)
	result := &UpdateResult{Report: report}

	ctx, span := otelhelper.StartSpan(ctx, b.tracer, "mutation.update",
		attribute.String(otelhelper.FlowIDKey, flowID),
		attribute.String(otelhelper.ElementKindKey, string(req.Kind)),
		attribute.String(otelhelper.ElementUIIDKey, req.Element.ID()),
	)
	defer span.End()

	fail := func(step string, err error) (*UpdateResult, error) {
		report.Fail(step, err)
		otelhelper.SetError(span, err)

		return result, err
	}

	switch {
	case !req.Kind.Valid():
		return fail("validate", flowerrors.NewValidationError("update", "unknown element kind %q", req.Kind))
	case req.Element.Empty():
		return fail("validate", flowerrors.NewValidationError("update", "element reference is required"))
	case len(req.Inputs) == 0 && req.Name == "" && req.Order == nil:
		return fail("validate", flowerrors.NewValidationError("update", "nothing to update"))
	}

	if req.Definition != nil {
		for _, w := range unknownInputs(req.Definition, req.Inputs) {
			report.Warnf("validate", "%s", w)
		}
	}

	prep, err := b.prepareInputs(ctx, flowID, req.Kind, req.Definition, req.Inputs)
	if err != nil {
		return fail("resolve_inputs", err)
	}

	for _, w := range prep.warnings {
		report.Warnf("resolve_inputs", "%s", w)
	}

	if req.Definition != nil {
		if err := validateLiterals("update "+req.Definition.DisplayName(), req.Definition, prep.inputs); err != nil {
			return fail("validate", err)
		}
	}

	upd := ElementUpdate{
		UIUniqueIdentifier: req.Element.ID(),
		SysID:              req.Element.SysID,
		Name:               req.Name,
		Inputs:             prep.values(req.Definition, false, nil),
	}

	if req.Order != nil {
		ord, err := b.orders.For(flowID).Allocate(ctx, req.Order)
		if err != nil {
			return fail("allocate_order", err)
		}

		upd.Order = orderString(ord)
	}

	patch := &FlowPatch{FlowID: flowID}
	patch.AddUpdate(req.Kind, upd)

	result.LabelCache = prep.labelEntries(req.Definition, req.Element.ID())
	patch.AddLabels(result.LabelCache...)

	if _, err := b.Submit(ctx, sess, patch); err != nil {
		return fail("update", err)
	}

	result.Inputs = prep.inputs
	report.Succeed("update", "updated %s %s", req.Kind, req.Element.ID())

	b.logger.InfoContext(ctx, "Element updated", "flow_id", flowID, "kind", req.Kind, "element", req.Element.ID())

	return result, nil
}

// Delete removes elements of one kind.
func (b *Builder) Delete(ctx context.Context, sess *session.Session, kind models.ElementKind, refs []models.ElementRef) (*models.Report, error) {
	if err := session.Require(sess, ""); err != nil {
		return nil, err
	}

	flowID := sess.FlowID()
	report := models.NewReport("delete", flowID)

	ctx, span := otelhelper.StartSpan(ctx, b.tracer, "mutation.delete",
		attribute.String(otelhelper.FlowIDKey, flowID),
		attribute.String(otelhelper.ElementKindKey, string(kind)),
	)
	defer span.End()

	if !kind.Valid() {
		err := flowerrors.NewValidationError("delete", "unknown element kind %q", kind)
		report.Fail("validate", err)

		return report, err
	}

	ids := make([]string, 0, len(refs))

	for _, ref := range refs {
		if !ref.Empty() {
			ids = append(ids, ref.ID())
		}
	}

	if len(ids) == 0 {
		err := flowerrors.NewValidationError("delete", "no elements to delete")
		report.Fail("validate", err)

		return report, err
	}

	patch := &FlowPatch{FlowID: flowID}
	patch.AddDelete(kind, ids...)

	if _, err := b.Submit(ctx, sess, patch); err != nil {
		otelhelper.SetError(span, err)
		report.Fail("delete", err)

		return report, fmt.Errorf("failed to delete %d %s elements: %w", len(ids), kind, err)
	}

	report.Succeed("delete", "deleted %d %s elements", len(ids), kind)
	b.logger.InfoContext(ctx, "Elements deleted", "flow_id", flowID, "kind", kind, "count", len(ids))

	return report, nil
}
