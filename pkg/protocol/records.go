package protocol

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Record is one row returned by the platform's table API. Values are either
// plain strings or {"value", "display_value"} objects depending on the query.
type Record map[string]any

// String returns the raw value of a field.
func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		if s, ok := v["value"].(string); ok {
			return s
		}

		return ""
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Display returns the display value of a field when the row carries one.
func (r Record) Display(field string) string {
	if m, ok := r[field].(map[string]any); ok {
		if s, ok := m["display_value"].(string); ok && s != "" {
			return s
		}
	}

	return r.String(field)
}

// Bool interprets a field as a platform boolean.
func (r Record) Bool(field string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(r.String(field)))

	return b
}

// Int interprets a field as an integer, returning 0 when it is not one.
func (r Record) Int(field string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.String(field)))
	if err != nil {
		return 0
	}

	return n
}

// SysID returns the record's persisted identity.
func (r Record) SysID() string {
	return r.String("sys_id")
}

// RecordQuery narrows a table read.
type RecordQuery struct {
	Query        string   // Encoded query, e.g. "active=true^nameLIKEincident"
	Fields       []string // Columns to return, all when empty
	Limit        int      // Maximum rows, platform default when zero
	DisplayValue bool     // Return {"value","display_value"} pairs
}

// RecordReader reads rows from platform tables.
type RecordReader interface {
	// Query returns every row of table matching q.
	Query(ctx context.Context, table string, q RecordQuery) ([]Record, error)

	// Get returns one row by sys_id. A missing row yields an error satisfying flowerrors.IsNotFound.
	Get(ctx context.Context, table, sysID string) (Record, error)
}

// RecordWriter writes rows to platform tables.
type RecordWriter interface {
	// Create inserts a row and returns it as stored, including its sys_id.
	Create(ctx context.Context, table string, values map[string]any) (Record, error)

	// Update patches an existing row and returns it as stored.
	Update(ctx context.Context, table, sysID string, values map[string]any) (Record, error)
}
