package datapill

import (
	"sort"
	"strings"
)

type wordOperator struct {
	words   string
	encoded string
	unary   bool
}

// wordOperators are matched case-insensitively, longest first.
var wordOperators = func() []wordOperator {
	ops := []wordOperator{
		{"is not empty", "ISNOTEMPTY", true},
		{"is empty", "ISEMPTY", true},
		{"does not contain", "NOT LIKE", false},
		{"not contains", "NOT LIKE", false},
		{"contains", "LIKE", false},
		{"starts with", "STARTSWITH", false},
		{"ends with", "ENDSWITH", false},
		{"changes from", "CHANGESFROM", false},
		{"changes to", "CHANGESTO", false},
		{"changes", "VALCHANGES", true},
		{"is not", "!=", false},
		{"not equals", "!=", false},
		{"equals", "=", false},
		{"is", "=", false},
		{"not in", "NOT IN", false},
		{"in", "IN", false},
		{"greater than", ">", false},
		{"less than", "<", false},
	}

	sort.SliceStable(ops, func(i, j int) bool { return len(ops[i].words) > len(ops[j].words) })

	return ops
}()

var symbolOperators = []string{"!=", ">=", "<=", "=", ">", "<"}

// parseDot parses scripting style conditions into encoded clauses.
func parseDot(expr string) *Condition {
	c := &Condition{Grammar: GrammarDot, Source: expr}

	for _, seg := range splitLogical(expr) {
		c.Clauses = append(c.Clauses, parseDotClause(seg))
	}

	return c
}

// splitLogical splits on && and || outside pills and quotes.
func splitLogical(expr string) []segment {
	var (
		out   []segment
		cur   strings.Builder
		join  = JoinNone
		depth int
		quote byte
	)

	for i := 0; i < len(expr); {
		ch := expr[i]

		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}

			cur.WriteByte(ch)
			i++
		case ch == '"' || ch == '\'':
			quote = ch
			cur.WriteByte(ch)
			i++
		case strings.HasPrefix(expr[i:], "{{"):
			depth++
			cur.WriteString("{{")
			i += 2
		case strings.HasPrefix(expr[i:], "}}") && depth > 0:
			depth--
			cur.WriteString("}}")
			i += 2
		case depth == 0 && (strings.HasPrefix(expr[i:], "&&") || strings.HasPrefix(expr[i:], "||")):
			out = append(out, segment{join: join, text: cur.String()})
			cur.Reset()

			if ch == '&' {
				join = JoinAnd
			} else {
				join = JoinOr
			}

			i += 2
		default:
			cur.WriteByte(ch)
			i++
		}
	}

	return append(out, segment{join: join, text: cur.String()})
}

func parseDotClause(seg segment) Clause {
	text := strings.TrimSpace(seg.text)
	opaque := Clause{Join: seg.join, Opaque: true, Raw: text}

	n := scanDotField(text)
	if n == 0 {
		return opaque
	}

	operand := classifyOperand(text[:n])
	if operand.Kind == OperandShorthand && !strings.HasPrefix(operand.Raw, "{{") {
		operand.Raw = "{{" + operand.Raw + "}}"
	}

	rest := strings.TrimSpace(text[n:])

	for _, sym := range symbolOperators {
		if strings.HasPrefix(rest, sym) {
			return Clause{Join: seg.join, Operand: operand, Operator: sym, Value: dotValue(rest[len(sym):])}
		}
	}

	lower := strings.ToLower(rest)

	for _, op := range wordOperators {
		if !strings.HasPrefix(lower, op.words) {
			continue
		}

		after := rest[len(op.words):]
		if after != "" && after[0] != ' ' && after[0] != '\t' {
			continue
		}

		clause := Clause{Join: seg.join, Operand: operand, Operator: op.encoded}
		if !op.unary {
			clause.Value = dotValue(after)
		}

		return clause
	}

	return opaque
}

func startsWithDotOperator(rest string) bool {
	for _, sym := range symbolOperators {
		if strings.HasPrefix(rest, sym) {
			return true
		}
	}

	lower := strings.ToLower(rest)

	for _, op := range wordOperators {
		if strings.HasPrefix(lower, op.words) && (len(lower) == len(op.words) || lower[len(op.words)] == ' ') {
			return true
		}
	}

	return false
}

// dotValue trims whitespace and one pair of surrounding quotes.
func dotValue(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}

	return s
}
