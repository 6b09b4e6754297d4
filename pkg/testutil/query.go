package testutil

import (
	"sort"
	"strings"

	"github.com/dukex/flowpatch/pkg/protocol"
)

type term struct {
	field string
	op    string
	value string
}

// orderings and filter groups of an encoded query: groups are OR'd (^NQ),
// each group is an AND of OR-chains.
type encodedQuery struct {
	groups  [][][]term
	orderBy string
	desc    bool
}

var termOperators = []string{"ISNOTEMPTY", "ISEMPTY", "STARTSWITH", "NOTLIKE", "LIKE", "NOT IN", "IN", "!=", "="}

func parseEncoded(q string) encodedQuery {
	var out encodedQuery

	for _, group := range strings.Split(q, "^NQ") {
		var ands [][]term

		for _, part := range strings.Split(group, "^") {
			if part == "" || part == "EQ" {
				continue
			}

			if strings.HasPrefix(part, "ORDERBYDESC") {
				out.orderBy, out.desc = strings.TrimPrefix(part, "ORDERBYDESC"), true

				continue
			}

			if strings.HasPrefix(part, "ORDERBY") {
				out.orderBy = strings.TrimPrefix(part, "ORDERBY")

				continue
			}

			isOr := strings.HasPrefix(part, "OR") && len(ands) > 0
			if isOr {
				part = strings.TrimPrefix(part, "OR")
			}

			t := parseTerm(part)

			if isOr {
				ands[len(ands)-1] = append(ands[len(ands)-1], t)
			} else {
				ands = append(ands, []term{t})
			}
		}

		out.groups = append(out.groups, ands)
	}

	return out
}

func parseTerm(part string) term {
	best := term{field: part, op: "="}
	bestAt := -1

	for _, op := range termOperators {
		i := strings.Index(part, op)
		if i <= 0 {
			continue
		}

		if bestAt == -1 || i < bestAt {
			best = term{field: part[:i], op: op, value: part[i+len(op):]}
			bestAt = i
		}
	}

	return best
}

func (t term) matches(r protocol.Record) bool {
	v := r.String(t.field)

	switch t.op {
	case "=":
		return v == t.value
	case "!=":
		return v != t.value
	case "LIKE":
		return strings.Contains(strings.ToLower(v), strings.ToLower(t.value))
	case "NOTLIKE":
		return !strings.Contains(strings.ToLower(v), strings.ToLower(t.value))
	case "STARTSWITH":
		return strings.HasPrefix(v, t.value)
	case "IN":
		for _, c := range strings.Split(t.value, ",") {
			if c == v {
				return true
			}
		}

		return false
	case "NOT IN":
		for _, c := range strings.Split(t.value, ",") {
			if c == v {
				return false
			}
		}

		return true
	case "ISEMPTY":
		return v == ""
	case "ISNOTEMPTY":
		return v != ""
	}

	return false
}

func (q encodedQuery) matches(r protocol.Record) bool {
	for _, group := range q.groups {
		ok := true

		for _, chain := range group {
			hit := false

			for _, t := range chain {
				if t.matches(r) {
					hit = true

					break
				}
			}

			if !hit {
				ok = false

				break
			}
		}

		if ok {
			return true
		}
	}

	return false
}

func (q encodedQuery) sort(rows []protocol.Record) {
	if q.orderBy == "" {
		return
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].String(q.orderBy), rows[j].String(q.orderBy)
		if q.desc {
			return a > b
		}

		return a < b
	})
}
