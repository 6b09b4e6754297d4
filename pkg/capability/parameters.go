package capability

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/protocol"
)

const choiceTable = "sys_choice"

var inputFields = []string{"sys_id", "element", "label", "internal_type", "mandatory", "default_value", "reference", "order"}

// loadParameters reads def's inputs from the catalog. Choice lists are best effort.
func (r *Resolver) loadParameters(ctx context.Context, catalog Catalog, def *models.Definition, res *Resolution) error {
	if def.SysID == "" {
		return nil
	}

	rows, err := r.records.Query(ctx, catalog.Inputs, protocol.RecordQuery{
		Query:  "model=" + def.SysID + "^ORDERBYorder",
		Fields: inputFields,
	})
	if err != nil {
		return fmt.Errorf("reading inputs of %s %s: %w", def.Kind, def.InternalName, err)
	}

	params := make([]models.ParameterDefinition, 0, len(rows))

	var choiceParams []string

	for _, row := range rows {
		p := models.ParameterDefinition{
			Name:      row.String("element"),
			Label:     row.String("label"),
			Type:      row.String("internal_type"),
			Mandatory: row.Bool("mandatory"),
			Default:   row.String("default_value"),
			Reference: row.String("reference"),
			Order:     row.Int("order"),
		}

		if p.Name == "" {
			continue
		}

		if p.Type == "choice" {
			choiceParams = append(choiceParams, p.Name)
		}

		params = append(params, p)
	}

	slices.SortStableFunc(params, func(a, b models.ParameterDefinition) int { return a.Order - b.Order })

	if len(choiceParams) > 0 {
		choices, err := r.records.Query(ctx, choiceTable, protocol.RecordQuery{
			Query:  "name=" + catalog.Inputs + "^elementIN" + strings.Join(choiceParams, ",") + "^inactive=false^ORDERBYsequence",
			Fields: []string{"element", "value", "label", "sequence"},
		})
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("choices for %s unavailable: %v", def.InternalName, err))
		} else {
			byElement := map[string][]models.Choice{}
			for _, c := range choices {
				byElement[c.String("element")] = append(byElement[c.String("element")], models.Choice{
					Value: c.String("value"),
					Label: c.String("label"),
				})
			}

			for i := range params {
				params[i].Choices = byElement[params[i].Name]
			}
		}
	}

	def.Parameters = params

	return nil
}
