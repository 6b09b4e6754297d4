// Package datapill parses flow conditions and turns field references into
// data pills qualified with the flow's trigger.
package datapill

import (
	"strings"

	"github.com/dukex/flowpatch/pkg/models"
)

// Grammar is the surface syntax a condition was written in.
type Grammar string

const (
	// GrammarEncoded is the platform's encoded query syntax: "category=hardware^priority!=1".
	GrammarEncoded Grammar = "encoded"
	// GrammarDot is the scripting style: "current.category = hardware && current.priority != 1".
	GrammarDot Grammar = "dot"
)

// Join connects a clause to the one before it.
type Join string

const (
	JoinNone     Join = ""
	JoinAnd      Join = "^"
	JoinOr       Join = "^OR"
	JoinNewQuery Join = "^NQ"
)

// OperandKind tells how a clause names its field.
type OperandKind int

const (
	// OperandBare is a plain column name: "category".
	OperandBare OperandKind = iota
	// OperandShorthand points at the trigger record without naming it: "{{current.category}}".
	OperandShorthand
	// OperandQualified is a complete pill: "{{Created_1.current.category}}".
	OperandQualified
)

func (k OperandKind) String() string {
	switch k {
	case OperandBare:
		return "bare"
	case OperandShorthand:
		return "shorthand"
	case OperandQualified:
		return "qualified"
	default:
		return "unknown"
	}
}

// Operand is the field side of a clause.
type Operand struct {
	Kind OperandKind
	// Raw is the operand exactly as it is rendered.
	Raw string
	// Field is the field path relative to the record: "assigned_to.manager".
	Field string
	// Base is the pill base of qualified and shorthand operands.
	Base string
}

// Reference returns the operand as a reference rooted at base.
func (o Operand) Reference(base string) models.Reference {
	if o.Kind == OperandQualified {
		return models.Reference{Base: o.Base, FieldPath: o.Field}
	}

	return models.Reference{Base: base, FieldPath: o.Field}
}

// Clause is one comparison, or an opaque segment kept verbatim.
type Clause struct {
	Join     Join
	Operand  Operand
	Operator string
	Value    string
	// Opaque segments (ORDERBY, EQ, anything unparseable) are rendered from Raw.
	Opaque bool
	Raw    string
}

func (c Clause) String() string {
	if c.Opaque {
		return string(c.Join) + c.Raw
	}

	return string(c.Join) + c.Operand.Raw + c.Operator + c.Value
}

// Condition is a parsed filter expression.
type Condition struct {
	Grammar Grammar
	Source  string
	Clauses []Clause
}

// String renders the condition in encoded syntax. For encoded input it
// reproduces the source exactly.
func (c *Condition) String() string {
	var b strings.Builder
	for _, cl := range c.Clauses {
		b.WriteString(cl.String())
	}

	return b.String()
}

// Operands returns the operands of every non-opaque clause.
func (c *Condition) Operands() []Operand {
	var out []Operand

	for _, cl := range c.Clauses {
		if !cl.Opaque {
			out = append(out, cl.Operand)
		}
	}

	return out
}

// Qualify returns a copy where bare and shorthand operands, and shorthand
// pills inside values, are rewritten to pills rooted at base.
func (c *Condition) Qualify(base string) *Condition {
	out := &Condition{Grammar: c.Grammar, Source: c.Source, Clauses: make([]Clause, len(c.Clauses))}

	for i, cl := range c.Clauses {
		if !cl.Opaque && cl.Operand.Kind != OperandQualified {
			cl.Operand = Operand{
				Kind:  OperandQualified,
				Raw:   "{{" + base + "." + cl.Operand.Field + "}}",
				Field: cl.Operand.Field,
				Base:  base,
			}
		}

		if !cl.Opaque {
			cl.Value = qualifyPills(cl.Value, base)
		}

		out.Clauses[i] = cl
	}

	return out
}
