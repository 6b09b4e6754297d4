package models

// TriggerContext identifies the trigger that starts a flow; its record is the
// base of every data pill that reads "current".
type TriggerContext struct {
	Name       string `json:"name"`  // e.g. "Created or Updated"
	Label      string `json:"label"` // e.g. "Record Created or Updated"
	Type       string `json:"type"`  // e.g. "record_create_or_update"
	Table      string `json:"table"`
	TableLabel string `json:"table_label"`
}

// Base is the qualified pill base for the trigger's current record.
func (t TriggerContext) Base() string {
	return t.Name + "_1.current"
}

// PillPrefix is the label cache prefix shown by the editor for trigger pills.
func (t TriggerContext) PillPrefix() string {
	label := t.Label
	if label == "" {
		label = t.Name
	}

	return "Trigger - " + label
}
