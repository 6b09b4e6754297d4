package testutil

import (
	"strconv"

	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/protocol"
)

// AddDefinition seeds a catalog definition and its inputs, returning the definition's sys_id.
func (f *FakePlatform) AddDefinition(definitions, inputs string, def models.Definition) string {
	row := protocol.Record{
		"internal_name":   def.InternalName,
		"name":            def.Name,
		"label":           def.Label,
		"sys_scope.scope": def.Scope,
		"category":        def.Category,
		"type":            def.Type,
	}

	if def.SysID != "" {
		row["sys_id"] = def.SysID
	}

	if row["sys_scope.scope"] == "" {
		row["sys_scope.scope"] = "global"
	}

	sysID := f.AddRecord(definitions, row)

	for _, p := range def.Parameters {
		f.AddRecord(inputs, protocol.Record{
			"model":         sysID,
			"element":       p.Name,
			"label":         p.Label,
			"internal_type": p.Type,
			"mandatory":     strconv.FormatBool(p.Mandatory),
			"default_value": p.Default,
			"reference":     p.Reference,
			"order":         strconv.Itoa(p.Order),
		})

		for i, c := range p.Choices {
			f.AddRecord("sys_choice", protocol.Record{
				"name":     inputs,
				"element":  p.Name,
				"value":    c.Value,
				"label":    c.Label,
				"sequence": strconv.Itoa(i),
				"inactive": "false",
			})
		}
	}

	return sysID
}

// CreateTestDefinition creates an action definition with default values that can be overridden.
func CreateTestDefinition(overrides ...func(*models.Definition)) models.Definition {
	def := models.Definition{
		Kind:         models.KindAction,
		InternalName: "log",
		Name:         "Log",
		Scope:        "global",
		Parameters: []models.ParameterDefinition{
			{Name: "log_level", Label: "Level", Type: "choice", Default: "info", Order: 100, Choices: []models.Choice{
				{Value: "info", Label: "Info"}, {Value: "warn", Label: "Warn"},
			}},
			{Name: "log_message", Label: "Message", Type: "string", Mandatory: true, Order: 200},
		},
	}

	for _, override := range overrides {
		override(&def)
	}

	return def
}

// WithParameters replaces the definition's parameters.
func WithParameters(params ...models.ParameterDefinition) func(*models.Definition) {
	return func(d *models.Definition) {
		d.Parameters = params
	}
}

// WithNames sets the definition's internal and display names.
func WithNames(internalName, name string) func(*models.Definition) {
	return func(d *models.Definition) {
		d.InternalName = internalName
		d.Name = name
	}
}

// WithScope sets the definition's scope.
func WithScope(scope string) func(*models.Definition) {
	return func(d *models.Definition) {
		d.Scope = scope
	}
}
