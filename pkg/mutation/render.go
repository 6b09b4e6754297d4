package mutation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/models"
)

// Literal renders v as a GraphQL input literal: JSON with unquoted keys, in struct field order.
func Literal(v any) (string, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to encode literal: %w", err)
	}

	dec := json.NewDecoder(&buf)
	dec.UseNumber()

	var sb strings.Builder

	if err := writeValue(dec, &sb); err != nil {
		return "", err
	}

	return sb.String(), nil
}

func writeValue(dec *json.Decoder, sb *strings.Builder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to read literal token: %w", err)
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			sb.WriteByte('{')

			for i := 0; dec.More(); i++ {
				if i > 0 {
					sb.WriteString(", ")
				}

				key, err := dec.Token()
				if err != nil {
					return fmt.Errorf("failed to read literal key: %w", err)
				}

				sb.WriteString(fmt.Sprint(key))
				sb.WriteString(": ")

				if err := writeValue(dec, sb); err != nil {
					return err
				}
			}

			sb.WriteByte('}')
		case '[':
			sb.WriteByte('[')

			for i := 0; dec.More(); i++ {
				if i > 0 {
					sb.WriteString(", ")
				}

				if err := writeValue(dec, sb); err != nil {
					return err
				}
			}

			sb.WriteByte(']')
		default:
			return fmt.Errorf("unexpected delimiter %q", t)
		}

		// closing delimiter
		if _, err := dec.Token(); err != nil {
			return fmt.Errorf("failed to read literal: %w", err)
		}
	case string:
		sb.WriteString(quote(t))
	case json.Number:
		sb.WriteString(t.String())
	case bool:
		fmt.Fprint(sb, t)
	case nil:
		sb.WriteString("null")
	}

	return nil
}

func quote(s string) string {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)

	return strings.TrimSuffix(buf.String(), "\n")
}

// Document renders the complete flowPatch mutation, selecting the results of every touched kind.
func Document(patch *FlowPatch) (string, error) {
	literal, err := Literal(patch)
	if err != nil {
		return "", err
	}

	var selection strings.Builder

	selection.WriteString("id")

	for _, kind := range patch.Kinds() {
		fmt.Fprintf(&selection, " %s { inserts { sysId uiUniqueIdentifier } updates deletes }", kind.PatchKey())
	}

	return fmt.Sprintf("mutation { global { snFlowDesigner { flow(flowPatch: %s) { %s } } } }", literal, selection.String()), nil
}

// Inserted is a platform-assigned identity for a new element.
type Inserted struct {
	SysID              string `json:"sysId"`
	UIUniqueIdentifier string `json:"uiUniqueIdentifier"`
}

type kindResult struct {
	Inserts []Inserted `json:"inserts"`
	Updates []string   `json:"updates"`
	Deletes []string   `json:"deletes"`
}

type patchData struct {
	Global struct {
		SnFlowDesigner struct {
			Flow map[string]json.RawMessage `json:"flow"`
		} `json:"snFlowDesigner"`
	} `json:"global"`
}

var errNoFlow = errors.New("response has no flow result")

// Response is the parsed result of a flowPatch mutation.
type Response struct {
	FlowID  string
	results map[models.ElementKind]kindResult
}

// SysID returns the sys_id assigned to uiid, if the element was inserted.
func (r *Response) SysID(kind models.ElementKind, uiid string) (string, bool) {
	for _, ins := range r.results[kind].Inserts {
		if ins.UIUniqueIdentifier == uiid {
			return ins.SysID, ins.SysID != ""
		}
	}

	return "", false
}

// ParseResponse reads a flowPatch result.
func ParseResponse(data json.RawMessage) (*Response, error) {
	var parsed patchData

	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &flowerrors.RemoteError{Op: "flowPatch", Message: "unreadable response", Detail: err.Error(), Err: flowerrors.ErrRemoteMutationFailed}
	}

	flow := parsed.Global.SnFlowDesigner.Flow
	if flow == nil {
		return nil, &flowerrors.RemoteError{Op: "flowPatch", Message: errNoFlow.Error(), Err: flowerrors.ErrRemoteMutationFailed}
	}

	resp := &Response{results: map[models.ElementKind]kindResult{}}

	if raw, ok := flow["id"]; ok {
		_ = json.Unmarshal(raw, &resp.FlowID)
	}

	for _, kind := range models.ElementKinds {
		raw, ok := flow[kind.PatchKey()]
		if !ok || string(raw) == "null" {
			continue
		}

		var result kindResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, &flowerrors.RemoteError{Op: "flowPatch", Message: "unreadable " + kind.PatchKey() + " result", Detail: err.Error(), Err: flowerrors.ErrRemoteMutationFailed}
		}

		resp.results[kind] = result
	}

	return resp, nil
}
