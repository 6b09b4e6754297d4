package capability

import "github.com/dukex/flowpatch/pkg/models"

var conditionParams = []models.ParameterDefinition{
	{Name: "condition_name", Label: "Condition Label", Type: "string", Order: 100},
	{Name: "condition", Label: "Condition", Type: "conditions", Mandatory: true, Order: 200},
}

var recordTriggerParams = []models.ParameterDefinition{
	{Name: "table", Label: "Table", Type: "table_name", Mandatory: true, Order: 100},
	{Name: "condition", Label: "Condition", Type: "conditions", Order: 200},
	{Name: "run_on_extended", Label: "Run on Extended", Type: "boolean", Default: "false", Order: 300},
	{Name: "run_flow_in", Label: "Run Flow In", Type: "choice", Default: "any", Order: 400, Choices: []models.Choice{
		{Value: "any", Label: "any"}, {Value: "background", Label: "Background"}, {Value: "foreground", Label: "Foreground"},
	}},
}

var updateTriggerParams = append(append([]models.ParameterDefinition{}, recordTriggerParams...),
	models.ParameterDefinition{Name: "run_when_setting", Label: "Run Trigger", Type: "choice", Default: "once", Order: 500, Choices: []models.Choice{
		{Value: "once", Label: "Once"}, {Value: "always", Label: "For each unique change"},
	}},
)

// fallbacks are stock definitions used when the catalog cannot be read or has no match.
// They carry no sys_id; the patch identifies them by internal name.
var fallbacks = map[models.ElementKind][]models.Definition{
	models.KindFlowLogic: {
		{InternalName: "IF", Name: "If", Type: "IF", Parameters: conditionParams},
		{InternalName: "ELSEIF", Name: "Else If", Type: "ELSEIF", Parameters: conditionParams},
		{InternalName: "ELSE", Name: "Else", Type: "ELSE"},
		{InternalName: "FOREACH", Name: "For Each", Type: "FOREACH", Parameters: []models.ParameterDefinition{
			{Name: "items", Label: "Items", Type: "records", Mandatory: true, Order: 100},
		}},
	},
	models.KindTrigger: {
		{InternalName: "record_create", Name: "Created", Label: "Record Created", Type: "record", Parameters: recordTriggerParams},
		{InternalName: "record_update", Name: "Updated", Label: "Record Updated", Type: "record", Parameters: updateTriggerParams},
		{InternalName: "record_create_or_update", Name: "Created or Updated", Label: "Record Created or Updated", Type: "record", Parameters: updateTriggerParams},
	},
	models.KindAction: {
		{InternalName: "log", Name: "Log", Category: "Utilities", Parameters: []models.ParameterDefinition{
			{Name: "log_level", Label: "Level", Type: "choice", Default: "info", Order: 100, Choices: []models.Choice{
				{Value: "info", Label: "Info"}, {Value: "warn", Label: "Warn"}, {Value: "error", Label: "Error"},
			}},
			{Name: "log_message", Label: "Message", Type: "string", Mandatory: true, Order: 200},
		}},
		{InternalName: "update_record", Name: "Update Record", Category: "Records", Parameters: []models.ParameterDefinition{
			{Name: "record", Label: "Record", Type: "document_id", Mandatory: true, Order: 100},
			{Name: "table_name", Label: "Table", Type: "table_name", Mandatory: true, Order: 200},
			{Name: "values", Label: "Fields", Type: "template_value", Order: 300},
		}},
		{InternalName: "create_record", Name: "Create Record", Category: "Records", Parameters: []models.ParameterDefinition{
			{Name: "table_name", Label: "Table", Type: "table_name", Mandatory: true, Order: 100},
			{Name: "values", Label: "Fields", Type: "template_value", Order: 200},
		}},
	},
}

// fallbackFor matches a requested name against the stock definitions of kind.
func fallbackFor(kind models.ElementKind, requested string) (*models.Definition, bool) {
	wanted := map[string]bool{}
	for _, v := range Variants(requested) {
		wanted[normalize(v)] = true
	}

	for _, def := range fallbacks[kind] {
		for _, candidate := range []string{def.InternalName, def.Name, def.Label} {
			if candidate != "" && wanted[normalize(candidate)] {
				d := def
				d.Kind = kind
				d.Fallback = true
				d.Parameters = append([]models.ParameterDefinition(nil), def.Parameters...)

				return &d, true
			}
		}
	}

	return nil, false
}
