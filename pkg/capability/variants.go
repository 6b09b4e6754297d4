package capability

import (
	"strings"
	"unicode"
)

const maxVariants = 24

// tokens splits a name on whitespace, hyphens and underscores.
func tokens(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_'
	})
}

// tenseForms bridges past and present tense of one word.
func tenseForms(word string) []string {
	forms := []string{word}

	switch {
	case len(word) > 3 && strings.HasSuffix(word, "ed"):
		forms = append(forms, strings.TrimSuffix(word, "ed"), strings.TrimSuffix(word, "d"))
	case len(word) > 2 && strings.HasSuffix(word, "e"):
		forms = append(forms, word+"d")
	case len(word) > 2:
		forms = append(forms, word+"ed")
	}

	return forms
}

// Variants expands a requested name into its normalized and tense-bridged
// spellings, both in internal_name style ("record_update") and display style
// ("record update"). The normalized spellings come first.
func Variants(name string) []string {
	toks := tokens(name)
	if len(toks) == 0 {
		return nil
	}

	combos := [][]string{{}}

	for _, tok := range toks {
		var next [][]string

		for _, prefix := range combos {
			for _, form := range tenseForms(tok) {
				if len(next) >= maxVariants {
					break
				}

				combo := append(append([]string{}, prefix...), form)
				next = append(next, combo)
			}
		}

		combos = next
	}

	seen := map[string]bool{}

	var out []string

	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, combo := range combos {
		add(strings.Join(combo, "_"))
		add(strings.Join(combo, " "))
	}

	return out
}

// normalize lowercases name and collapses separators to single spaces.
func normalize(name string) string {
	return strings.Join(tokens(name), " ")
}
