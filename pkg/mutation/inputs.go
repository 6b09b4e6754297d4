package mutation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dukex/flowpatch/pkg/datapill"
	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/mohae/deepcopy"
)

// prepared holds inputs after pill resolution, split by write phase.
type prepared struct {
	inputs   map[string]models.Input
	deferred map[string]bool
	labels   map[string][]datapill.LabelEntry
	warnings []string
}

// copyInputs deep-copies inputs so later blanking never touches the caller's values.
func copyInputs(inputs map[string]models.Input) map[string]models.Input {
	if len(inputs) == 0 {
		return map[string]models.Input{}
	}

	copied, ok := deepcopy.Copy(inputs).(map[string]models.Input)
	if !ok || copied == nil {
		return map[string]models.Input{}
	}

	return copied
}

func isConditionInput(kind models.ElementKind, name string, param models.ParameterDefinition, known bool) bool {
	if kind == models.KindTrigger {
		return false
	}

	if known && param.Type == "conditions" {
		return true
	}

	return kind == models.KindFlowLogic && name == "condition"
}

// prepareInputs qualifies data pills against the flow's trigger, collects
// label cache rows, and marks inputs that must wait for the follow-up update.
func (b *Builder) prepareInputs(ctx context.Context, flowID string, kind models.ElementKind, def *models.Definition, inputs map[string]models.Input) (*prepared, error) {
	p := &prepared{
		inputs:   copyInputs(inputs),
		deferred: map[string]bool{},
		labels:   map[string][]datapill.LabelEntry{},
	}

	var trigger *models.TriggerContext

	triggerFor := func() (models.TriggerContext, error) {
		if trigger != nil {
			return *trigger, nil
		}

		t, err := b.pills.Trigger(ctx, flowID)
		if err != nil {
			return models.TriggerContext{}, fmt.Errorf("failed to read trigger of flow %s: %w", flowID, err)
		}

		trigger = t

		return *t, nil
	}

	names := make([]string, 0, len(p.inputs))
	for name := range p.inputs {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		in := p.inputs[name]
		if in == nil {
			delete(p.inputs, name)

			continue
		}

		var param models.ParameterDefinition

		known := false
		if def != nil {
			param, known = def.Parameter(name)
		}

		switch v := in.(type) {
		case models.ReferenceInput:
			if kind == models.KindTrigger {
				return nil, flowerrors.NewValidationError("prepare inputs", "trigger input %q cannot reference %s", name, v.Raw())
			}

			t, err := triggerFor()
			if err != nil {
				return nil, err
			}

			resolved, res, err := b.pills.ResolveValue(ctx, v.Raw(), t)
			if err != nil {
				return nil, err
			}

			p.inputs[name] = resolved
			p.labels[name] = res.LabelCache
			p.warnings = append(p.warnings, res.Warnings...)
		case models.LiteralInput:
			raw := v.Raw()
			if raw == "" || kind == models.KindTrigger {
				break
			}

			condition := isConditionInput(kind, name, param, known)
			if !condition && !strings.Contains(raw, "{{") {
				break
			}

			t, err := triggerFor()
			if err != nil {
				return nil, err
			}

			resolve := b.pills.ResolveTemplate
			if condition {
				resolve = b.pills.ResolveCondition
			}

			res, err := resolve(ctx, raw, t)
			if err != nil {
				return nil, err
			}

			p.inputs[name] = models.LiteralInput{Value: res.Expression, DisplayValue: v.DisplayValue}
			p.labels[name] = res.LabelCache
			p.warnings = append(p.warnings, res.Warnings...)
		}

		final := p.inputs[name]
		p.deferred[name] = models.IsReference(final) ||
			strings.Contains(final.Raw(), "{{") ||
			(known && param.IsReferenceBacked() && final.Raw() != "")
	}

	return p, nil
}

// values renders inputs in parameter order; deferred inputs are blanked when blank is true.
func (p *prepared) values(def *models.Definition, blank bool, only map[string]bool) []InputValue {
	out := make([]InputValue, 0, len(p.inputs))

	for _, name := range orderedNames(def, p.inputs) {
		if only != nil && !only[name] {
			continue
		}

		in := p.inputs[name]
		value, display := in.Raw(), in.Raw()

		if lit, ok := in.(models.LiteralInput); ok {
			display = lit.Display()
		}

		if blank && p.deferred[name] {
			value, display = "", ""
		}

		out = append(out, InputValue{Name: name, Value: PatchValue{Value: value}, DisplayValue: PatchValue{Value: display}})
	}

	return out
}

func (p *prepared) hasDeferred() bool {
	for _, d := range p.deferred {
		if d {
			return true
		}
	}

	return false
}

// labelEntries builds label cache rows for the pills bound on uiid.
func (p *prepared) labelEntries(def *models.Definition, uiid string) []LabelCacheEntry {
	var out []LabelCacheEntry

	for _, name := range orderedNames(def, p.inputs) {
		for _, e := range p.labels[name] {
			out = append(out, labelEntry(e, uiid, name))
		}
	}

	return out
}

// orderedNames lists declared parameters first, in catalog order, then the rest by name.
func orderedNames(def *models.Definition, inputs map[string]models.Input) []string {
	names := make([]string, 0, len(inputs))
	seen := map[string]bool{}

	if def != nil {
		params := append([]models.ParameterDefinition(nil), def.Parameters...)
		sort.SliceStable(params, func(i, j int) bool { return params[i].Order < params[j].Order })

		for _, param := range params {
			if _, ok := inputs[param.Name]; ok && !seen[param.Name] {
				names = append(names, param.Name)
				seen[param.Name] = true
			}
		}
	}

	rest := make([]string, 0, len(inputs))

	for name := range inputs {
		if !seen[name] {
			rest = append(rest, name)
		}
	}

	sort.Strings(rest)

	return append(names, rest...)
}
