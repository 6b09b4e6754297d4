// Package mutation builds flow patch documents and submits them to the platform.
package mutation

import (
	"strconv"

	"github.com/dukex/flowpatch/pkg/datapill"
	"github.com/dukex/flowpatch/pkg/models"
)

// PatchValue wraps a scalar the way the editor nests it.
type PatchValue struct {
	Value string `json:"value"`
}

// InputValue is one parameter binding inside an insert or update.
type InputValue struct {
	Name         string     `json:"name"`
	Value        PatchValue `json:"value"`
	DisplayValue PatchValue `json:"displayValue"`
}

// The insert variants below keep uiUniqueIdentifier and type as their leading
// fields; type carries the definition's internal name.

type TriggerInsert struct {
	UIUniqueIdentifier  string       `json:"uiUniqueIdentifier"`
	Type                string       `json:"type"`
	TriggerDefinitionID string       `json:"triggerDefinitionId,omitempty"`
	Name                string       `json:"name"`
	Comment             string       `json:"comment"`
	Inputs              []InputValue `json:"inputs"`
}

type ActionInsert struct {
	UIUniqueIdentifier string       `json:"uiUniqueIdentifier"`
	Type               string       `json:"type"`
	ActionTypeSysID    string       `json:"actionTypeSysId,omitempty"`
	Name               string       `json:"name"`
	Order              string       `json:"order"`
	Parent             string       `json:"parent"`
	ParentUIID         string       `json:"parentUiId"`
	Comment            string       `json:"comment"`
	Inputs             []InputValue `json:"inputs"`
}

type FlowLogicInsert struct {
	UIUniqueIdentifier string       `json:"uiUniqueIdentifier"`
	Type               string       `json:"type"`
	DefinitionID       string       `json:"flowLogicDefinitionId,omitempty"`
	Name               string       `json:"name"`
	Order              string       `json:"order"`
	Parent             string       `json:"parent"`
	ParentUIID         string       `json:"parentUiId"`
	ConnectedTo        string       `json:"connectedTo"`
	Comment            string       `json:"comment"`
	Inputs             []InputValue `json:"inputs"`
}

type SubflowInsert struct {
	UIUniqueIdentifier string       `json:"uiUniqueIdentifier"`
	Type               string       `json:"type"`
	SubflowSysID       string       `json:"subFlowSysId,omitempty"`
	Name               string       `json:"name"`
	Order              string       `json:"order"`
	Parent             string       `json:"parent"`
	ParentUIID         string       `json:"parentUiId"`
	Comment            string       `json:"comment"`
	Inputs             []InputValue `json:"inputs"`
}

// ElementUpdate changes an existing element. Empty fields are left untouched.
type ElementUpdate struct {
	UIUniqueIdentifier string       `json:"uiUniqueIdentifier"`
	SysID              string       `json:"sysId,omitempty"`
	Name               string       `json:"name,omitempty"`
	Order              string       `json:"order,omitempty"`
	Inputs             []InputValue `json:"inputs,omitempty"`
}

// UsedInstance ties a label cache entry to the input showing the pill.
type UsedInstance struct {
	UIUniqueIdentifier string `json:"uiUniqueIdentifier"`
	InputName          string `json:"inputName"`
}

// LabelCacheEntry tells the editor how to display a data pill.
type LabelCacheEntry struct {
	Name             string         `json:"name"`
	Label            string         `json:"label"`
	ReferenceDisplay string         `json:"reference_display"`
	Type             string         `json:"type"`
	BaseType         string         `json:"base_type"`
	ParentTableName  string         `json:"parent_table_name"`
	ColumnName       string         `json:"column_name"`
	UsedInstances    []UsedInstance `json:"usedInstances"`
}

// PatchSet groups the mutations of one element kind.
type PatchSet[T any] struct {
	Insert []T             `json:"insert,omitempty"`
	Update []ElementUpdate `json:"update,omitempty"`
	Delete []string        `json:"delete,omitempty"`
}

func (p *PatchSet[T]) empty() bool {
	return p == nil || len(p.Insert)+len(p.Update)+len(p.Delete) == 0
}

type LabelCacheSet struct {
	Insert []LabelCacheEntry `json:"insert"`
}

// FlowPatch is one flowPatch document.
type FlowPatch struct {
	FlowID           string                     `json:"flowId"`
	TriggerInstances *PatchSet[TriggerInsert]   `json:"triggerInstances,omitempty"`
	Actions          *PatchSet[ActionInsert]    `json:"actions,omitempty"`
	FlowLogics       *PatchSet[FlowLogicInsert] `json:"flowLogics,omitempty"`
	Subflows         *PatchSet[SubflowInsert]   `json:"subflows,omitempty"`
	LabelCache       *LabelCacheSet             `json:"labelCache,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p *FlowPatch) Empty() bool {
	return p.TriggerInstances.empty() && p.Actions.empty() && p.FlowLogics.empty() && p.Subflows.empty() &&
		(p.LabelCache == nil || len(p.LabelCache.Insert) == 0)
}

// Kinds lists the element kinds the patch touches, in patch order.
func (p *FlowPatch) Kinds() []models.ElementKind {
	var kinds []models.ElementKind

	if !p.TriggerInstances.empty() {
		kinds = append(kinds, models.KindTrigger)
	}

	if !p.Actions.empty() {
		kinds = append(kinds, models.KindAction)
	}

	if !p.FlowLogics.empty() {
		kinds = append(kinds, models.KindFlowLogic)
	}

	if !p.Subflows.empty() {
		kinds = append(kinds, models.KindSubflow)
	}

	return kinds
}

// AddUpdate appends an update for an element of kind.
func (p *FlowPatch) AddUpdate(kind models.ElementKind, u ElementUpdate) {
	switch kind {
	case models.KindTrigger:
		p.TriggerInstances = ensure(p.TriggerInstances)
		p.TriggerInstances.Update = append(p.TriggerInstances.Update, u)
	case models.KindAction:
		p.Actions = ensure(p.Actions)
		p.Actions.Update = append(p.Actions.Update, u)
	case models.KindFlowLogic:
		p.FlowLogics = ensure(p.FlowLogics)
		p.FlowLogics.Update = append(p.FlowLogics.Update, u)
	case models.KindSubflow:
		p.Subflows = ensure(p.Subflows)
		p.Subflows.Update = append(p.Subflows.Update, u)
	}
}

// AddDelete appends element identifiers to remove.
func (p *FlowPatch) AddDelete(kind models.ElementKind, ids ...string) {
	switch kind {
	case models.KindTrigger:
		p.TriggerInstances = ensure(p.TriggerInstances)
		p.TriggerInstances.Delete = append(p.TriggerInstances.Delete, ids...)
	case models.KindAction:
		p.Actions = ensure(p.Actions)
		p.Actions.Delete = append(p.Actions.Delete, ids...)
	case models.KindFlowLogic:
		p.FlowLogics = ensure(p.FlowLogics)
		p.FlowLogics.Delete = append(p.FlowLogics.Delete, ids...)
	case models.KindSubflow:
		p.Subflows = ensure(p.Subflows)
		p.Subflows.Delete = append(p.Subflows.Delete, ids...)
	}
}

// AddLabels appends label cache rows, merging rows that name the same pill.
func (p *FlowPatch) AddLabels(entries ...LabelCacheEntry) {
	if len(entries) == 0 {
		return
	}

	if p.LabelCache == nil {
		p.LabelCache = &LabelCacheSet{}
	}

	for _, e := range entries {
		merged := false

		for i := range p.LabelCache.Insert {
			if p.LabelCache.Insert[i].Name == e.Name {
				p.LabelCache.Insert[i].UsedInstances = append(p.LabelCache.Insert[i].UsedInstances, e.UsedInstances...)
				merged = true

				break
			}
		}

		if !merged {
			p.LabelCache.Insert = append(p.LabelCache.Insert, e)
		}
	}
}

func ensure[T any](p *PatchSet[T]) *PatchSet[T] {
	if p == nil {
		return &PatchSet[T]{}
	}

	return p
}

// labelEntry converts a resolved pill into a label cache row used by input name on uiid.
func labelEntry(e datapill.LabelEntry, uiid, input string) LabelCacheEntry {
	return LabelCacheEntry{
		Name:             e.Name,
		Label:            e.Label,
		ReferenceDisplay: e.ReferenceDisplay,
		Type:             e.Type,
		BaseType:         e.BaseType,
		ParentTableName:  e.ParentTableName,
		ColumnName:       e.ColumnName,
		UsedInstances:    []UsedInstance{{UIUniqueIdentifier: uiid, InputName: input}},
	}
}

func orderString(order int) string {
	if order <= 0 {
		return ""
	}

	return strconv.Itoa(order)
}
