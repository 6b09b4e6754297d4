package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukex/flowpatch/pkg/protocol"
)

const (
	FlowTable        = "sys_hub_flow"
	FlowVersionTable = "sys_hub_flow_version"
)

// GraphReader reads a flow's element graph from its version records.
type GraphReader struct {
	records protocol.RecordReader
}

func NewGraphReader(records protocol.RecordReader) *GraphReader {
	return &GraphReader{records: records}
}

// GraphPayload returns the payload of the flow's latest version, or of its most
// recently updated version when the flow has no latest version pointer.
func (g *GraphReader) GraphPayload(ctx context.Context, flowID string) (json.RawMessage, error) {
	flow, err := g.records.Get(ctx, FlowTable, flowID)
	if err != nil {
		return nil, fmt.Errorf("reading flow %s: %w", flowID, err)
	}

	var payload string

	if versionID := flow.String("latest_version"); versionID != "" {
		version, err := g.records.Get(ctx, FlowVersionTable, versionID)
		if err != nil {
			return nil, fmt.Errorf("reading version %s: %w", versionID, err)
		}

		payload = version.String("payload")
	} else {
		versions, err := g.records.Query(ctx, FlowVersionTable, protocol.RecordQuery{
			Query:  "flow=" + flowID + "^ORDERBYDESCsys_updated_on",
			Fields: []string{"sys_id", "payload"},
			Limit:  1,
		})
		if err != nil {
			return nil, fmt.Errorf("listing versions of %s: %w", flowID, err)
		}

		if len(versions) > 0 {
			payload = versions[0].String("payload")
		}
	}

	if payload == "" {
		return nil, nil
	}

	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("flow %s has a malformed graph payload", flowID)
	}

	return json.RawMessage(payload), nil
}
