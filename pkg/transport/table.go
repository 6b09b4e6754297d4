package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/protocol"
)

// Query reads rows of table matching q.
func (c *Client) Query(ctx context.Context, table string, q protocol.RecordQuery) ([]protocol.Record, error) {
	params := map[string]string{
		"sysparm_exclude_reference_link": "true",
	}

	if q.Query != "" {
		params["sysparm_query"] = q.Query
	}

	if len(q.Fields) > 0 {
		params["sysparm_fields"] = strings.Join(q.Fields, ",")
	}

	if q.Limit > 0 {
		params["sysparm_limit"] = limitParam(q.Limit)
	}

	if q.DisplayValue {
		params["sysparm_display_value"] = "all"
	}

	body, err := c.do(ctx, call{op: "table.query", method: http.MethodGet, path: tablePath + url.PathEscape(table), params: params})
	if err != nil {
		return nil, err
	}

	raw, err := result("table.query", body)
	if err != nil {
		return nil, err
	}

	var records []protocol.Record
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, &flowerrors.RemoteError{Op: "table.query", Message: "decoding rows: " + err.Error(), Err: flowerrors.ErrRemoteMutationFailed}
		}
	}

	return records, nil
}

// Get reads one row by sys_id.
func (c *Client) Get(ctx context.Context, table, sysID string) (protocol.Record, error) {
	body, err := c.do(ctx, call{
		op:     "table.get",
		method: http.MethodGet,
		path:   tablePath + url.PathEscape(table) + "/" + url.PathEscape(sysID),
		params: map[string]string{"sysparm_exclude_reference_link": "true"},
	})
	if err != nil {
		return nil, err
	}

	return decodeRecord("table.get", body)
}

// Create inserts a row.
func (c *Client) Create(ctx context.Context, table string, values map[string]any) (protocol.Record, error) {
	body, err := c.do(ctx, call{op: "table.create", method: http.MethodPost, path: tablePath + url.PathEscape(table), body: values})
	if err != nil {
		return nil, err
	}

	return decodeRecord("table.create", body)
}

// Update patches a row.
func (c *Client) Update(ctx context.Context, table, sysID string, values map[string]any) (protocol.Record, error) {
	body, err := c.do(ctx, call{
		op:     "table.update",
		method: http.MethodPatch,
		path:   tablePath + url.PathEscape(table) + "/" + url.PathEscape(sysID),
		body:   values,
	})
	if err != nil {
		return nil, err
	}

	return decodeRecord("table.update", body)
}

// Post calls a scripted REST endpoint.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	res, err := c.do(ctx, call{op: "rest.post", method: http.MethodPost, path: path, body: body})
	if err != nil {
		return nil, err
	}

	return result("rest.post", res)
}

func decodeRecord(op string, body []byte) (protocol.Record, error) {
	raw, err := result(op, body)
	if err != nil {
		return nil, err
	}

	var record protocol.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, &flowerrors.RemoteError{Op: op, Message: "decoding row: " + err.Error(), Err: flowerrors.ErrRemoteMutationFailed}
	}

	return record, nil
}
