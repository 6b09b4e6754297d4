package datapill

import (
	"sort"
	"strings"
	"unicode"
)

// encodedOperators are sorted longest first so "!=" wins over "=" and
// "ISNOTEMPTY" over "ISEMPTY".
var encodedOperators = sortedByLength([]string{
	"=", "!=", ">", ">=", "<", "<=",
	"LIKE", "NOT LIKE", "NOTLIKE",
	"IN", "NOT IN",
	"ISEMPTY", "ISNOTEMPTY", "EMPTYSTRING", "ANYTHING",
	"STARTSWITH", "ENDSWITH",
	"VALCHANGES", "CHANGESFROM", "CHANGESTO",
	"SAMEAS", "NSAMEAS", "BETWEEN",
	"ON", "NOTON", "DYNAMIC",
})

func sortedByLength(ops []string) []string {
	sort.SliceStable(ops, func(i, j int) bool { return len(ops[i]) > len(ops[j]) })

	return ops
}

// Parse parses a condition, choosing the grammar from its shape.
func Parse(expr string) *Condition {
	if isDotGrammar(expr) {
		return parseDot(expr)
	}

	return parseEncoded(expr)
}

// isDotGrammar reports whether expr uses scripting syntax: logical
// operators, or whitespace between the first field and its operator.
func isDotGrammar(expr string) bool {
	if containsOutsidePills(expr, "&&") || containsOutsidePills(expr, "||") {
		return true
	}

	s := strings.TrimSpace(expr)

	if n := scanEncodedField(s); n > 0 && n < len(s) && unicode.IsSpace(rune(s[n])) {
		return true
	}

	// Mixed-case field names are only dot grammar when a real operator follows.
	m := scanDotField(s)
	if m == 0 || m >= len(s) || !unicode.IsSpace(rune(s[m])) {
		return false
	}

	return startsWithDotOperator(strings.TrimSpace(s[m:]))
}

type segment struct {
	join Join
	text string
}

// splitEncoded splits on joins outside pills. "^^" is an escaped caret.
func splitEncoded(expr string) []segment {
	var (
		out   []segment
		cur   strings.Builder
		join  = JoinNone
		depth int
	)

	for i := 0; i < len(expr); {
		switch {
		case strings.HasPrefix(expr[i:], "{{"):
			depth++
			cur.WriteString("{{")
			i += 2
		case strings.HasPrefix(expr[i:], "}}") && depth > 0:
			depth--
			cur.WriteString("}}")
			i += 2
		case expr[i] == '^' && depth == 0:
			if strings.HasPrefix(expr[i:], "^^") {
				cur.WriteString("^^")
				i += 2

				continue
			}

			out = append(out, segment{join: join, text: cur.String()})
			cur.Reset()

			switch {
			case strings.HasPrefix(expr[i:], "^NQ"):
				join = JoinNewQuery
				i += 3
			case strings.HasPrefix(expr[i:], "^OR") && !strings.HasPrefix(expr[i:], "^ORDERBY"):
				join = JoinOr
				i += 3
			default:
				join = JoinAnd
				i++
			}
		default:
			cur.WriteByte(expr[i])
			i++
		}
	}

	out = append(out, segment{join: join, text: cur.String()})

	return out
}

func parseEncoded(expr string) *Condition {
	c := &Condition{Grammar: GrammarEncoded, Source: expr}
	if expr == "" {
		return c
	}

	for _, seg := range splitEncoded(expr) {
		c.Clauses = append(c.Clauses, parseEncodedClause(seg))
	}

	return c
}

func parseEncodedClause(seg segment) Clause {
	opaque := Clause{Join: seg.join, Opaque: true, Raw: seg.text}

	n := scanEncodedField(seg.text)
	if n == 0 {
		return opaque
	}

	rest := seg.text[n:]

	op := ""
	for _, candidate := range encodedOperators {
		if strings.HasPrefix(rest, candidate) {
			op = candidate

			break
		}
	}

	if op == "" {
		return opaque
	}

	return Clause{
		Join:     seg.join,
		Operand:  classifyOperand(seg.text[:n]),
		Operator: op,
		Value:    rest[len(op):],
	}
}

// scanEncodedField returns the length of the field at the start of s: a pill
// or the maximal run of lowercase letters, digits, underscores and dots.
func scanEncodedField(s string) int {
	if strings.HasPrefix(s, "{{") {
		if end := strings.Index(s, "}}"); end > 2 {
			return end + 2
		}

		return 0
	}

	n := 0
	for n < len(s) {
		ch := s[n]
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '_' || ch == '.' {
			n++

			continue
		}

		break
	}

	return n
}

// scanDotField is scanEncodedField allowing upper case, since word operators are space separated.
func scanDotField(s string) int {
	if strings.HasPrefix(s, "{{") {
		return scanEncodedField(s)
	}

	n := 0
	for n < len(s) {
		ch := rune(s[n])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.' {
			n++

			continue
		}

		break
	}

	return n
}

const (
	currentPrefix        = "current."
	triggerCurrentPrefix = "trigger.current."
)

// classifyOperand determines the kind of a field as written.
func classifyOperand(raw string) Operand {
	if strings.HasPrefix(raw, "{{") && strings.HasSuffix(raw, "}}") {
		body := strings.TrimSpace(raw[2 : len(raw)-2])

		for _, prefix := range []string{triggerCurrentPrefix, currentPrefix} {
			if strings.HasPrefix(body, prefix) {
				return Operand{Kind: OperandShorthand, Raw: raw, Field: body[len(prefix):], Base: strings.TrimSuffix(prefix, ".")}
			}
		}

		i := strings.Index(body, ".current.")
		if i < 0 {
			i = strings.Index(body, ".")
			if i < 0 {
				return Operand{Kind: OperandQualified, Raw: raw, Base: body}
			}

			return Operand{Kind: OperandQualified, Raw: raw, Base: body[:i], Field: body[i+1:]}
		}

		return Operand{Kind: OperandQualified, Raw: raw, Base: body[:i+len(".current")], Field: body[i+len(".current."):]}
	}

	for _, prefix := range []string{triggerCurrentPrefix, currentPrefix} {
		if strings.HasPrefix(raw, prefix) {
			return Operand{Kind: OperandShorthand, Raw: raw, Field: raw[len(prefix):], Base: strings.TrimSuffix(prefix, ".")}
		}
	}

	return Operand{Kind: OperandBare, Raw: raw, Field: raw}
}

func containsOutsidePills(s, needle string) bool {
	return strings.Contains(stripPills(s), needle)
}

// stripPills blanks out everything between "{{" and "}}".
func stripPills(s string) string {
	var b strings.Builder

	depth := 0

	for i := 0; i < len(s); i++ {
		switch {
		case strings.HasPrefix(s[i:], "{{"):
			depth++
			i++
		case strings.HasPrefix(s[i:], "}}") && depth > 0:
			depth--
			i++
		case depth == 0:
			b.WriteByte(s[i])
		}
	}

	return b.String()
}
