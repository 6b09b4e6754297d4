package models

import "strings"

// Choice is one allowed value of a choice-typed parameter.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// ParameterDefinition describes one input a definition accepts.
type ParameterDefinition struct {
	Name      string   `json:"name"`
	Label     string   `json:"label"`
	Type      string   `json:"type"`
	Mandatory bool     `json:"mandatory"`
	Default   string   `json:"default,omitempty"`
	Reference string   `json:"reference,omitempty"` // referenced table for reference-typed parameters
	Choices   []Choice `json:"choices,omitempty"`
	Order     int      `json:"order"`
}

// Parameter types whose values cannot be written in the same call that creates the element.
var referenceBackedTypes = map[string]bool{
	"reference":   true,
	"document_id": true,
	"table_name":  true,
}

// IsReferenceBacked reports whether values of this parameter point at other records.
func (p ParameterDefinition) IsReferenceBacked() bool {
	return referenceBackedTypes[strings.ToLower(p.Type)]
}

// HasDefault reports whether the platform fills the parameter when it is left unbound.
func (p ParameterDefinition) HasDefault() bool {
	return p.Default != ""
}

// Definition is a catalog entry describing a trigger, action, flow logic or subflow kind.
type Definition struct {
	Kind         ElementKind           `json:"kind"`
	SysID        string                `json:"sys_id"`
	InternalName string                `json:"internal_name"`
	Name         string                `json:"name"`
	Label        string                `json:"label,omitempty"`
	Scope        string                `json:"scope,omitempty"`
	Category     string                `json:"category,omitempty"`
	Type         string                `json:"type,omitempty"`
	Fallback     bool                  `json:"fallback,omitempty"` // built in, not read from the catalog
	Parameters   []ParameterDefinition `json:"parameters"`
}

// Parameter finds a parameter by name.
func (d *Definition) Parameter(name string) (ParameterDefinition, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}

	return ParameterDefinition{}, false
}

// MandatoryParameters returns the parameters that must be bound or defaulted.
func (d *Definition) MandatoryParameters() []ParameterDefinition {
	var out []ParameterDefinition

	for _, p := range d.Parameters {
		if p.Mandatory {
			out = append(out, p)
		}
	}

	return out
}

// DisplayName returns the most human readable name available.
func (d *Definition) DisplayName() string {
	switch {
	case d.Label != "":
		return d.Label
	case d.Name != "":
		return d.Name
	default:
		return d.InternalName
	}
}

// Schema describes the literal values each parameter accepts.
func (d *Definition) Schema() *JSONSchema {
	props := make(map[string]*Property, len(d.Parameters))

	for _, p := range d.Parameters {
		props[p.Name] = parameterProperty(p)
	}

	return &JSONSchema{
		Type:        "object",
		Properties:  props,
		Title:       d.DisplayName(),
		Description: string(d.Kind) + " inputs",
	}
}

func parameterProperty(p ParameterDefinition) *Property {
	prop := &Property{Description: p.Label}

	switch strings.ToLower(p.Type) {
	case "boolean":
		prop.Enum = []any{true, false, "true", "false"}
	case "integer", "decimal", "float", "longint":
		prop.Pattern = `^-?[0-9]+(\.[0-9]+)?$`
	case "choice":
		if len(p.Choices) > 0 {
			values := make([]any, 0, len(p.Choices)+1)
			values = append(values, "")

			for _, c := range p.Choices {
				values = append(values, c.Value)
			}

			prop.Enum = values
		}
	case "string", "conditions", "script", "html", "journal_input", "email", "url":
		prop.Type = "string"
	}

	return prop
}
