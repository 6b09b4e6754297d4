// Package capability resolves trigger, action, flow logic and subflow kinds by
// name into catalog definitions with their parameter lists.
package capability

import "github.com/dukex/flowpatch/pkg/models"

// Catalog names the tables describing one element kind.
type Catalog struct {
	Definitions string `yaml:"definitions"`
	Inputs      string `yaml:"inputs"`
	Filter      string `yaml:"filter,omitempty"` // encoded query prepended to every lookup
}

// Tables maps each kind to its catalog.
type Tables map[models.ElementKind]Catalog

// DefaultTables returns the platform's stock catalog tables.
func DefaultTables() Tables {
	return Tables{
		models.KindTrigger:   {Definitions: "sys_hub_trigger_definition", Inputs: "sys_hub_trigger_input"},
		models.KindAction:    {Definitions: "sys_hub_action_type_definition", Inputs: "sys_hub_action_input"},
		models.KindFlowLogic: {Definitions: "sys_hub_flow_logic_definition", Inputs: "sys_hub_flow_logic_input"},
		models.KindSubflow:   {Definitions: "sys_hub_flow", Inputs: "sys_hub_flow_input", Filter: "type=subflow"},
	}
}

// Merge overrides the non-empty fields of t with those of other.
func (t Tables) Merge(other Tables) Tables {
	out := make(Tables, len(t))
	for k, v := range t {
		out[k] = v
	}

	for k, o := range other {
		c := out[k]
		if o.Definitions != "" {
			c.Definitions = o.Definitions
		}

		if o.Inputs != "" {
			c.Inputs = o.Inputs
		}

		if o.Filter != "" {
			c.Filter = o.Filter
		}

		out[k] = c
	}

	return out
}

// Stage is one step of the lookup cascade.
type Stage string

const (
	StageInternalName Stage = "internal_name"
	StageDisplayName  Stage = "display_name"
	StageAlias        Stage = "alias"
	StageFuzzy        Stage = "fuzzy"
	StageFallback     Stage = "fallback"
	StageCache        Stage = "cache"
)

// Attempt records what one stage tried.
type Attempt struct {
	Stage    Stage    `json:"stage"`
	Terms    []string `json:"terms"`
	Matched  string   `json:"matched,omitempty"`
	Rejected []string `json:"rejected,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Resolution is the outcome of a lookup with the trail that led to it.
type Resolution struct {
	Requested  string             `json:"requested"`
	Kind       models.ElementKind `json:"kind"`
	Definition *models.Definition `json:"definition,omitempty"`
	Stage      Stage              `json:"stage,omitempty"`
	Attempts   []Attempt          `json:"attempts"`
	Warnings   []string           `json:"warnings,omitempty"`
}

// Terms lists every term tried across all stages.
func (r *Resolution) Terms() []string {
	seen := map[string]bool{}

	var out []string

	for _, a := range r.Attempts {
		for _, t := range a.Terms {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}

	return out
}

type options struct {
	scope    string
	category string
}

// Option narrows a lookup.
type Option func(*options)

// WithScope prefers (and during fuzzy matching requires) definitions from scope.
func WithScope(scope string) Option {
	return func(o *options) { o.scope = scope }
}

// WithCategory prefers (and during fuzzy matching requires) definitions in category.
func WithCategory(category string) Option {
	return func(o *options) { o.category = category }
}
