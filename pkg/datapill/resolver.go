package datapill

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/protocol"
)

// Resolution is a condition rewritten for a specific trigger.
type Resolution struct {
	// Expression is the encoded condition with every field qualified.
	Expression string `json:"expression"`
	// Condition is the parsed source, nil when the expression was passed through.
	Condition     *Condition            `json:"-"`
	Trigger       models.TriggerContext `json:"trigger"`
	Fields        []FieldRef            `json:"fields"`
	LabelCache    []LabelEntry          `json:"label_cache"`
	PassedThrough bool                  `json:"passed_through"`
	Reason        string                `json:"reason,omitempty"`
	Warnings      []string              `json:"warnings,omitempty"`
}

// Resolver qualifies conditions and values against a flow's trigger.
type Resolver struct {
	records  protocol.RecordReader
	triggers TriggerSource
	logger   *slog.Logger

	mu      sync.Mutex
	chains  map[string][]string
	columns map[string]*column
}

func NewResolver(records protocol.RecordReader, triggers TriggerSource, logger *slog.Logger) *Resolver {
	if triggers == nil {
		triggers = NewRecordTriggerSource(records)
	}

	return &Resolver{
		records:  records,
		triggers: triggers,
		logger:   logger.With("module", "datapill"),
		chains:   map[string][]string{},
		columns:  map[string]*column{},
	}
}

// Trigger returns the trigger of flowID.
func (r *Resolver) Trigger(ctx context.Context, flowID string) (*models.TriggerContext, error) {
	return r.triggers.TriggerContext(ctx, flowID)
}

// ResolveForFlow resolves expr against the flow's own trigger.
func (r *Resolver) ResolveForFlow(ctx context.Context, flowID, expr string) (*Resolution, error) {
	trigger, err := r.Trigger(ctx, flowID)
	if err != nil {
		return nil, err
	}

	return r.ResolveCondition(ctx, expr, *trigger)
}

// Preview resolves expr for flowID without writing anything.
func (r *Resolver) Preview(ctx context.Context, flowID, expr string) (*Resolution, error) {
	return r.ResolveForFlow(ctx, flowID, expr)
}

// ResolveCondition qualifies every field of expr with the trigger's base and
// collects label cache entries for them.
func (r *Resolver) ResolveCondition(ctx context.Context, expr string, trigger models.TriggerContext) (*Resolution, error) {
	if trigger.Name == "" {
		return nil, flowerrors.NewValidationError("resolve condition", "trigger name is required")
	}

	base := trigger.Base()
	res := &Resolution{Trigger: trigger, Fields: []FieldRef{}, LabelCache: []LabelEntry{}}

	if reason := passThroughReason(expr); reason != "" {
		res.Expression = expr
		res.PassedThrough = true
		res.Reason = reason

		// Qualified pills on the trigger still need labels.
		var refs []models.Reference

		for _, name := range pillNames(expr) {
			if strings.HasPrefix(name, base+".") {
				refs = append(refs, models.Reference{Base: base, FieldPath: strings.TrimPrefix(name, base+".")})
			}
		}

		r.collect(ctx, res, trigger, refs)
		r.logger.DebugContext(ctx, "condition passed through", "reason", reason)

		return res, nil
	}

	cond := Parse(expr)
	qualified := cond.Qualify(base)

	var refs []models.Reference

	for _, cl := range qualified.Clauses {
		if cl.Opaque {
			continue
		}

		if cl.Operand.Base == base {
			refs = append(refs, cl.Operand.Reference(base))
		}

		for _, name := range pillNames(cl.Value) {
			if strings.HasPrefix(name, base+".") {
				refs = append(refs, models.Reference{Base: base, FieldPath: strings.TrimPrefix(name, base+".")})
			}
		}
	}

	for _, cl := range cond.Clauses {
		if cl.Opaque && !structuralSegment(cl.Raw) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("could not parse %q; kept verbatim", cl.Raw))
		}
	}

	res.Condition = cond
	res.Expression = qualified.String()
	r.collect(ctx, res, trigger, refs)

	return res, nil
}

// ResolveValue turns a single value into an input: pills and "current."
// paths become qualified references, anything else a literal.
func (r *Resolver) ResolveValue(ctx context.Context, value string, trigger models.TriggerContext) (models.Input, *Resolution, error) {
	if trigger.Name == "" {
		return nil, nil, flowerrors.NewValidationError("resolve value", "trigger name is required")
	}

	base := trigger.Base()
	res := &Resolution{Trigger: trigger, Fields: []FieldRef{}, LabelCache: []LabelEntry{}}
	trimmed := strings.TrimSpace(value)

	var ref models.Reference

	switch {
	case len(shorthandFields(trimmed)) == 1 && shorthandPill.FindString(trimmed) == trimmed:
		ref = models.Reference{Base: base, FieldPath: shorthandFields(trimmed)[0]}
	case strings.HasPrefix(trimmed, triggerCurrentPrefix) && scanDotField(trimmed) == len(trimmed):
		ref = models.Reference{Base: base, FieldPath: strings.TrimPrefix(trimmed, triggerCurrentPrefix)}
	case strings.HasPrefix(trimmed, currentPrefix) && scanDotField(trimmed) == len(trimmed):
		ref = models.Reference{Base: base, FieldPath: strings.TrimPrefix(trimmed, currentPrefix)}
	default:
		if parsed, ok := models.ParseReference(trimmed); ok {
			res.Expression = parsed.Pill()
			if parsed.Base == base {
				r.collect(ctx, res, trigger, []models.Reference{parsed})
			}

			return models.ReferenceInput{Reference: parsed}, res, nil
		}

		res.Expression = value

		return models.LiteralInput{Value: value}, res, nil
	}

	res.Expression = ref.Pill()
	r.collect(ctx, res, trigger, []models.Reference{ref})

	return models.ReferenceInput{Reference: ref}, res, nil
}

// ResolveTemplate qualifies the shorthand pills embedded in free text, such
// as a log message, and collects label cache entries for every pill on the
// trigger. Text without pills is returned unchanged.
func (r *Resolver) ResolveTemplate(ctx context.Context, text string, trigger models.TriggerContext) (*Resolution, error) {
	if trigger.Name == "" {
		return nil, flowerrors.NewValidationError("resolve template", "trigger name is required")
	}

	base := trigger.Base()
	res := &Resolution{Trigger: trigger, Fields: []FieldRef{}, LabelCache: []LabelEntry{}}
	res.Expression = qualifyPills(text, base)

	var refs []models.Reference

	for _, name := range pillNames(res.Expression) {
		if strings.HasPrefix(name, base+".") {
			refs = append(refs, models.Reference{Base: base, FieldPath: strings.TrimPrefix(name, base+".")})
		}
	}

	r.collect(ctx, res, trigger, refs)

	return res, nil
}

// structuralSegment reports encoded segments kept verbatim on purpose.
func structuralSegment(raw string) bool {
	s := strings.TrimSpace(raw)

	return s == "" || s == "EQ" || strings.HasPrefix(s, "ORDERBY")
}

// collect adds metadata and label cache entries for refs, once per field path.
func (r *Resolver) collect(ctx context.Context, res *Resolution, trigger models.TriggerContext, refs []models.Reference) {
	seen := map[string]bool{}
	for _, f := range res.Fields {
		seen[f.Reference.Name()] = true
	}

	for _, ref := range refs {
		if ref.FieldPath == "" || seen[ref.Name()] {
			continue
		}

		seen[ref.Name()] = true

		field, warning := r.describe(ctx, trigger, ref)
		if warning != "" {
			res.Warnings = append(res.Warnings, warning)
			r.logger.WarnContext(ctx, "field metadata synthesized", "field", ref.FieldPath, "table", trigger.Table)
		}

		res.Fields = append(res.Fields, field)
		res.LabelCache = append(res.LabelCache, field.Entry())
	}
}
