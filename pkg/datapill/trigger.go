package datapill

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/protocol"
)

// TriggerSource discovers the trigger of a flow.
type TriggerSource interface {
	TriggerContext(ctx context.Context, flowID string) (*models.TriggerContext, error)
}

const (
	triggerInstanceTable       = "sys_hub_trigger_instance_v2"
	legacyTriggerInstanceTable = "sys_hub_trigger_instance"
	triggerDefinitionTable     = "sys_hub_trigger_definition"
	tableObjectTable           = "sys_db_object"
)

// RecordTriggerSource reads a flow's trigger from its trigger instance records.
type RecordTriggerSource struct {
	records protocol.RecordReader
}

func NewRecordTriggerSource(records protocol.RecordReader) *RecordTriggerSource {
	return &RecordTriggerSource{records: records}
}

func (s *RecordTriggerSource) TriggerContext(ctx context.Context, flowID string) (*models.TriggerContext, error) {
	var lastErr error

	for _, table := range []string{triggerInstanceTable, legacyTriggerInstanceTable} {
		rows, err := s.records.Query(ctx, table, protocol.RecordQuery{
			Query:  "flow=" + flowID,
			Fields: []string{"sys_id", "name", "trigger_definition", "trigger_type", "table"},
			Limit:  1,
		})
		if err != nil {
			lastErr = err

			continue
		}

		if len(rows) == 0 {
			continue
		}

		return s.fromInstance(ctx, rows[0])
	}

	if lastErr != nil {
		return nil, fmt.Errorf("reading trigger of flow %s: %w", flowID, lastErr)
	}

	return nil, &flowerrors.NotFoundError{Kind: "trigger", Name: flowID}
}

func (s *RecordTriggerSource) fromInstance(ctx context.Context, row protocol.Record) (*models.TriggerContext, error) {
	tc := &models.TriggerContext{
		Name:  row.String("name"),
		Type:  row.String("trigger_type"),
		Table: row.String("table"),
	}

	if defID := row.String("trigger_definition"); defID != "" {
		def, err := s.records.Get(ctx, triggerDefinitionTable, defID)
		if err == nil {
			if name := def.String("name"); name != "" {
				tc.Name = name
			}

			tc.Label = def.String("label")

			if tc.Type == "" {
				tc.Type = def.String("internal_name")
			}
		} else if tc.Name == "" {
			return nil, fmt.Errorf("reading trigger definition %s: %w", defID, err)
		}
	}

	if tc.Name == "" {
		return nil, &flowerrors.NotFoundError{Kind: "trigger", Name: row.SysID()}
	}

	if tc.Label == "" && strings.HasPrefix(tc.Type, "record") {
		tc.Label = "Record " + tc.Name
	}

	if tc.Table != "" {
		if rows, err := s.records.Query(ctx, tableObjectTable, protocol.RecordQuery{
			Query:  "name=" + tc.Table,
			Fields: []string{"label"},
			Limit:  1,
		}); err == nil && len(rows) > 0 {
			tc.TableLabel = rows[0].String("label")
		}
	}

	return tc, nil
}
