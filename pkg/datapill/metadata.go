package datapill

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/protocol"
)

const (
	dictionaryTable = "sys_dictionary"
	labelSeparator  = "➛"
	maxTableDepth   = 8
)

// column is one dictionary entry.
type column struct {
	Table     string
	Name      string
	Label     string
	Type      string
	Reference string
}

// FieldRef is a resolved reference with the metadata the editor displays.
type FieldRef struct {
	Reference   models.Reference `json:"reference"`
	Label       string           `json:"label"`
	Type        string           `json:"type"`
	Table       string           `json:"table"`
	Column      string           `json:"column"`
	ColumnLabel string           `json:"column_label"`
	Synthesized bool             `json:"synthesized,omitempty"`
}

// LabelEntry is one label cache row: how the editor names a pill.
type LabelEntry struct {
	Name             string `json:"name"`
	Label            string `json:"label"`
	ReferenceDisplay string `json:"reference_display"`
	Type             string `json:"type"`
	BaseType         string `json:"base_type"`
	ParentTableName  string `json:"parent_table_name"`
	ColumnName       string `json:"column_name"`
}

// Entry builds the label cache row for the reference.
func (f FieldRef) Entry() LabelEntry {
	base := f.Type
	if base == "" {
		base = "string"
	}

	return LabelEntry{
		Name:             f.Reference.Name(),
		Label:            f.Label,
		ReferenceDisplay: f.ColumnLabel,
		Type:             f.Type,
		BaseType:         base,
		ParentTableName:  f.Table,
		ColumnName:       f.Column,
	}
}

// describe resolves the metadata of a field path on the trigger's table. Failures
// synthesize a generic label and type and are reported as a warning.
func (r *Resolver) describe(ctx context.Context, trigger models.TriggerContext, ref models.Reference) (FieldRef, string) {
	tableLabel := trigger.TableLabel
	if tableLabel == "" {
		tableLabel = r.tableLabel(ctx, trigger.Table)
	}

	labels := []string{trigger.PillPrefix(), tableLabel + " Record"}
	out := FieldRef{Reference: ref, Type: "string"}
	table := trigger.Table
	parts := strings.Split(ref.FieldPath, ".")

	var warning string

	for i, name := range parts {
		col, err := r.column(ctx, table, name)
		if err != nil || col == nil {
			if err == nil {
				err = fmt.Errorf("no dictionary entry for %s.%s", table, name)
			}

			warning = fmt.Sprintf("metadata for %s unavailable, using generic label: %v", ref.FieldPath, err)
			out.Synthesized = true
			col = &column{Table: table, Name: name, Label: titleCase(name), Type: "string"}
		}

		labels = append(labels, col.Label)
		out.Table = col.Table
		out.Column = col.Name
		out.ColumnLabel = col.Label
		out.Type = col.Type

		if i < len(parts)-1 {
			if col.Reference == "" {
				table = ""
			} else {
				table = col.Reference
			}
		}
	}

	out.Label = strings.Join(labels, labelSeparator)

	return out, warning
}

// column finds a dictionary entry on table or one of its ancestors.
func (r *Resolver) column(ctx context.Context, table, name string) (*column, error) {
	if table == "" {
		return nil, fmt.Errorf("unknown table for %s", name)
	}

	key := table + "." + name

	r.mu.Lock()
	cached, ok := r.columns[key]
	r.mu.Unlock()

	if ok {
		return cached, nil
	}

	chain := r.tableChain(ctx, table)

	rows, err := r.records.Query(ctx, dictionaryTable, protocol.RecordQuery{
		Query:  "nameIN" + strings.Join(chain, ",") + "^element=" + name,
		Fields: []string{"name", "element", "column_label", "internal_type", "reference"},
	})
	if err != nil {
		return nil, err
	}

	var found *column

	for _, t := range chain {
		for _, row := range rows {
			if row.String("name") == t {
				found = &column{
					Table:     t,
					Name:      name,
					Label:     row.String("column_label"),
					Type:      row.String("internal_type"),
					Reference: row.String("reference"),
				}

				break
			}
		}

		if found != nil {
			break
		}
	}

	if found != nil && found.Label == "" {
		found.Label = titleCase(name)
	}

	r.mu.Lock()
	r.columns[key] = found
	r.mu.Unlock()

	return found, nil
}

// tableChain returns table followed by its ancestors. Lookup failures end the chain.
func (r *Resolver) tableChain(ctx context.Context, table string) []string {
	r.mu.Lock()
	cached, ok := r.chains[table]
	r.mu.Unlock()

	if ok {
		return cached
	}

	chain := []string{table}
	current := table

	for range maxTableDepth {
		rows, err := r.records.Query(ctx, tableObjectTable, protocol.RecordQuery{
			Query:  "name=" + current,
			Fields: []string{"name", "label", "super_class.name"},
			Limit:  1,
		})
		if err != nil || len(rows) == 0 {
			break
		}

		parent := rows[0].String("super_class.name")
		if parent == "" {
			break
		}

		chain = append(chain, parent)
		current = parent
	}

	r.mu.Lock()
	r.chains[table] = chain
	r.mu.Unlock()

	return chain
}

func (r *Resolver) tableLabel(ctx context.Context, table string) string {
	if table == "" {
		return "Trigger"
	}

	rows, err := r.records.Query(ctx, tableObjectTable, protocol.RecordQuery{
		Query:  "name=" + table,
		Fields: []string{"label"},
		Limit:  1,
	})
	if err == nil && len(rows) > 0 && rows[0].String("label") != "" {
		return rows[0].String("label")
	}

	return titleCase(table)
}

// titleCase turns "assigned_to" into "Assigned to".
func titleCase(name string) string {
	s := strings.ReplaceAll(name, "_", " ")
	if s == "" {
		return s
	}

	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])

	return string(runes)
}
