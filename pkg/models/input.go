package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Input is a value bound to a parameter: either a literal or a reference to upstream data.
type Input interface {
	isInput()
	// Raw is the value as written to the platform.
	Raw() string
}

// LiteralInput is a constant value.
type LiteralInput struct {
	Value        any    `json:"value"`
	DisplayValue string `json:"display_value,omitempty"`
}

func (LiteralInput) isInput() {}

func (l LiteralInput) Raw() string {
	switch v := l.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Display returns the display value, falling back to the raw value.
func (l LiteralInput) Display() string {
	if l.DisplayValue != "" {
		return l.DisplayValue
	}

	return l.Raw()
}

// ReferenceInput points at a field produced upstream (a data pill).
type ReferenceInput struct {
	Reference Reference `json:"reference"`
}

func (ReferenceInput) isInput() {}

func (r ReferenceInput) Raw() string {
	return r.Reference.Pill()
}

// Reference names a field on an upstream element: Base is the producing
// element (e.g. "Created or Updated_1.current"), FieldPath the dotted field.
type Reference struct {
	Base      string `json:"base"`
	FieldPath string `json:"field_path"`
}

// Name renders the reference without braces.
func (r Reference) Name() string {
	if r.FieldPath == "" {
		return r.Base
	}

	if r.Base == "" {
		return r.FieldPath
	}

	return r.Base + "." + r.FieldPath
}

// Pill renders the reference in its data pill form.
func (r Reference) Pill() string {
	return "{{" + r.Name() + "}}"
}

// Column returns the last segment of the field path.
func (r Reference) Column() string {
	if i := strings.LastIndex(r.FieldPath, "."); i >= 0 {
		return r.FieldPath[i+1:]
	}

	return r.FieldPath
}

// ParseReference parses a "{{base.field}}" pill. The base ends after the
// first "current" segment when one is present, otherwise after the first dot.
func ParseReference(s string) (Reference, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return Reference{}, false
	}

	body := strings.TrimSpace(s[2 : len(s)-2])
	if body == "" || strings.Contains(body, "{{") || strings.Contains(body, "}}") {
		return Reference{}, false
	}

	return SplitReference(body), true
}

// SplitReference splits an unbraced reference name into base and field path.
func SplitReference(body string) Reference {
	if body == "current" || strings.HasSuffix(body, ".current") {
		return Reference{Base: body}
	}

	if strings.HasPrefix(body, "current.") {
		return Reference{Base: "current", FieldPath: strings.TrimPrefix(body, "current.")}
	}

	if i := strings.Index(body, ".current."); i >= 0 {
		return Reference{Base: body[:i+len(".current")], FieldPath: body[i+len(".current."):]}
	}

	if i := strings.Index(body, "."); i >= 0 {
		return Reference{Base: body[:i], FieldPath: body[i+1:]}
	}

	return Reference{Base: body}
}

// ParseInput turns a raw value into an Input: strings holding a single pill
// become references, everything else is a literal.
func ParseInput(v any) Input {
	switch t := v.(type) {
	case Input:
		return t
	case string:
		if ref, ok := ParseReference(t); ok {
			return ReferenceInput{Reference: ref}
		}
	case map[string]any:
		if raw, ok := t["value"]; ok {
			display, _ := t["display_value"].(string)

			return LiteralInput{Value: raw, DisplayValue: display}
		}
	}

	return LiteralInput{Value: v}
}

// ParseInputs converts a generic map of values into typed inputs.
func ParseInputs(values map[string]any) map[string]Input {
	if values == nil {
		return nil
	}

	out := make(map[string]Input, len(values))
	for k, v := range values {
		out[k] = ParseInput(v)
	}

	return out
}

// IsReference reports whether in is bound to upstream data.
func IsReference(in Input) bool {
	_, ok := in.(ReferenceInput)

	return ok
}
