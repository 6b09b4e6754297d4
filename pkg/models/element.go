package models

import "fmt"

// ElementKind is the variant of a graph node.
type ElementKind string

const (
	KindTrigger   ElementKind = "trigger"
	KindAction    ElementKind = "action"
	KindFlowLogic ElementKind = "flowlogic"
	KindSubflow   ElementKind = "subflow"
)

// ElementKinds lists every kind in patch order.
var ElementKinds = []ElementKind{KindTrigger, KindAction, KindFlowLogic, KindSubflow}

// PatchKey is the flow patch field carrying mutations for this kind.
func (k ElementKind) PatchKey() string {
	switch k {
	case KindTrigger:
		return "triggerInstances"
	case KindAction:
		return "actions"
	case KindFlowLogic:
		return "flowLogics"
	case KindSubflow:
		return "subflows"
	default:
		return ""
	}
}

// Valid reports whether k is a known kind.
func (k ElementKind) Valid() bool {
	return k.PatchKey() != ""
}

// ParseElementKind accepts kind names as well as their patch keys.
func ParseElementKind(s string) (ElementKind, error) {
	for _, k := range ElementKinds {
		if s == string(k) || s == k.PatchKey() {
			return k, nil
		}
	}

	switch s {
	case "flow_logic", "logic":
		return KindFlowLogic, nil
	case "subflow_call", "subflows":
		return KindSubflow, nil
	}

	return "", fmt.Errorf("unknown element kind %q", s)
}

// Element is one node in the flow graph.
//
// SysID is assigned by the platform on insert. UIID is generated client side
// and addresses the element for the rest of the edit session. Parent/ParentUIID
// express nesting; ConnectedTo links an Else/Else If block to its owning If and
// is never a parent relation.
type Element struct {
	Kind         ElementKind      `json:"kind"`
	SysID        string           `json:"sys_id,omitempty"`
	UIID         string           `json:"ui_id"`
	Name         string           `json:"name,omitempty"`
	DefinitionID string           `json:"definition_id,omitempty"`
	Parent       string           `json:"parent,omitempty"`
	ParentUIID   string           `json:"parent_ui_id,omitempty"`
	ConnectedTo  string           `json:"connected_to,omitempty"`
	Order        int              `json:"order"`
	Inputs       map[string]Input `json:"-"`
}

// ElementRef addresses an existing element by UI identifier, persisted identity, or both.
type ElementRef struct {
	UIID  string `json:"ui_id,omitempty"`
	SysID string `json:"sys_id,omitempty"`
}

// ID returns the identifier sent to the platform, preferring the UI identifier.
func (r ElementRef) ID() string {
	if r.UIID != "" {
		return r.UIID
	}

	return r.SysID
}

// Empty reports whether the reference carries no identifier at all.
func (r ElementRef) Empty() bool {
	return r.UIID == "" && r.SysID == ""
}

// Ref returns the element's reference.
func (e *Element) Ref() ElementRef {
	return ElementRef{UIID: e.UIID, SysID: e.SysID}
}
