package session

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dukex/flowpatch/pkg/flowerrors"
)

type lockOp string

const (
	lockCreate lockOp = "create"
	lockDelete lockOp = "delete"
)

// lockMutation renders the safeEdit mutation the editor sends when a flow is opened or left.
func lockMutation(op lockOp, flowID string) string {
	selection := "deleteResult { deleteSuccess id }"
	if op == lockCreate {
		selection = "createResult { canEdit id editingUserDisplayName }"
	}

	return fmt.Sprintf(
		"mutation { global { snFlowDesigner { safeEdit(safeEditInput: {%s: %s}) { %s } } } }",
		op, strconv.Quote(flowID), selection,
	)
}

type safeEditData struct {
	Global struct {
		SnFlowDesigner struct {
			SafeEdit struct {
				CreateResult *struct {
					CanEdit                bool   `json:"canEdit"`
					EditingUserDisplayName string `json:"editingUserDisplayName"`
				} `json:"createResult"`
				DeleteResult *struct {
					DeleteSuccess bool `json:"deleteSuccess"`
				} `json:"deleteResult"`
			} `json:"safeEdit"`
		} `json:"snFlowDesigner"`
	} `json:"global"`
}

// acquireResult reads canEdit and the current holder from a create response.
func acquireResult(data json.RawMessage) (bool, string, error) {
	var parsed safeEditData

	err := json.Unmarshal(data, &parsed)
	if err != nil {
		return false, "", &flowerrors.RemoteError{Op: "safeEdit.create", Message: "unreadable response", Detail: err.Error(), Err: flowerrors.ErrRemoteMutationFailed}
	}

	result := parsed.Global.SnFlowDesigner.SafeEdit.CreateResult
	if result == nil {
		return false, "", &flowerrors.RemoteError{Op: "safeEdit.create", Message: "response has no createResult", Err: flowerrors.ErrRemoteMutationFailed}
	}

	return result.CanEdit, result.EditingUserDisplayName, nil
}

// releaseResult reads deleteSuccess; a missing result counts as released.
func releaseResult(data json.RawMessage) bool {
	var parsed safeEditData

	if err := json.Unmarshal(data, &parsed); err != nil {
		return false
	}

	result := parsed.Global.SnFlowDesigner.SafeEdit.DeleteResult

	return result == nil || result.DeleteSuccess
}
