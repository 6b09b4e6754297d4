package mutation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// isConnectedBlock reports whether def is an Else or Else If block, which hang
// off an If through connectedTo rather than nesting under a parent.
func isConnectedBlock(def *models.Definition) bool {
	if def.Kind != models.KindFlowLogic {
		return false
	}

	for _, name := range []string{def.InternalName, def.Type} {
		switch strings.ToUpper(strings.ReplaceAll(name, "_", "")) {
		case "ELSE", "ELSEIF":
			return true
		}
	}

	return false
}

// validateStructure checks placement rules and mandatory parameters.
func validateStructure(op string, def *models.Definition, req InsertRequest) *flowerrors.ValidationError {
	verr := &flowerrors.ValidationError{Op: op}

	if isConnectedBlock(def) {
		if req.ConnectedTo.Empty() {
			verr.Problems = append(verr.Problems, def.DisplayName()+" requires connectedTo pointing at its If block")
		}

		if !req.Parent.Empty() {
			verr.Problems = append(verr.Problems, def.DisplayName()+" cannot have a parent; use connectedTo")
		}
	}

	for _, p := range def.MandatoryParameters() {
		in, ok := req.Inputs[p.Name]
		if (!ok || in == nil || in.Raw() == "") && !p.HasDefault() {
			verr.Missing = append(verr.Missing, p.Name)
		}
	}

	if len(verr.Missing) == 0 && len(verr.Problems) == 0 {
		return nil
	}

	return verr
}

// unknownInputs lists bound names the definition does not declare.
func unknownInputs(def *models.Definition, inputs map[string]models.Input) []string {
	if len(def.Parameters) == 0 {
		return nil
	}

	var warnings []string

	for name := range inputs {
		if _, ok := def.Parameter(name); !ok {
			warnings = append(warnings, fmt.Sprintf("input %q is not a parameter of %s", name, def.DisplayName()))
		}
	}

	sort.Strings(warnings)

	return warnings
}

// validateLiterals checks literal values against the definition's schema.
// Values carrying data pills are skipped; they are checked by the platform.
func validateLiterals(op string, def *models.Definition, inputs map[string]models.Input) error {
	document := map[string]any{}

	for name, in := range inputs {
		lit, ok := in.(models.LiteralInput)
		if !ok || strings.Contains(lit.Raw(), "{{") {
			continue
		}

		if _, known := def.Parameter(name); !known {
			continue
		}

		document[name] = lit.Value
	}

	if len(document) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(def.Schema()), gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("failed to validate inputs of %s: %w", def.DisplayName(), err)
	}

	if result.Valid() {
		return nil
	}

	verr := &flowerrors.ValidationError{Op: op}
	for _, desc := range result.Errors() {
		verr.Problems = append(verr.Problems, desc.String())
	}

	sort.Strings(verr.Problems)

	return verr
}
