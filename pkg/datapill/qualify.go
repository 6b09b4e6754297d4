package datapill

import (
	"regexp"
	"strings"
)

var (
	shorthandPill = regexp.MustCompile(`\{\{\s*(?:trigger\.)?current\.([^}\s]+)\s*\}\}`)
	anyPill       = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)
)

// qualifyPills rewrites shorthand pills inside s to pills rooted at base.
func qualifyPills(s, base string) string {
	return shorthandPill.ReplaceAllString(s, "{{"+escapeReplacement(base)+".$1}}")
}

func escapeReplacement(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

// shorthandFields lists the field paths of shorthand pills inside s.
func shorthandFields(s string) []string {
	var out []string
	for _, m := range shorthandPill.FindAllStringSubmatch(s, -1) {
		out = append(out, m[1])
	}

	return out
}

// pillNames lists the bodies of every pill inside s.
func pillNames(s string) []string {
	var out []string
	for _, m := range anyPill.FindAllStringSubmatch(s, -1) {
		out = append(out, m[1])
	}

	return out
}

// passThroughReason reports why expr must be forwarded untouched, or "" when it can be rewritten.
func passThroughReason(expr string) string {
	trimmed := strings.TrimSpace(expr)
	bare := stripPills(trimmed)

	switch {
	case strings.HasPrefix(strings.ToLower(trimmed), "javascript:"):
		return "script condition"
	case strings.Contains(bare, "=="):
		return "script equality operator"
	case strings.ContainsAny(bare, "()"):
		return "parenthesized expression"
	}

	for _, name := range pillNames(trimmed) {
		if !strings.HasPrefix(name, currentPrefix) && !strings.HasPrefix(name, triggerCurrentPrefix) {
			return "already qualified reference"
		}
	}

	return ""
}
