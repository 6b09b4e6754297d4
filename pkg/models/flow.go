// Package models defines the flow graph domain: flows, versions, elements and their definitions.
package models

import (
	"encoding/json"
	"regexp"
	"strings"
)

// FlowType distinguishes top-level flows from callable subflows.
type FlowType string

const (
	FlowTypeFlow    FlowType = "flow"
	FlowTypeSubflow FlowType = "subflow"
)

// FlowStatus represents the lifecycle state reported by the platform.
type FlowStatus string

const (
	FlowStatusDraft     FlowStatus = "draft"
	FlowStatusPublished FlowStatus = "published"
)

// CompileState tells whether the platform compiled a version's payload.
type CompileState string

const (
	CompileStateDraft    CompileState = "draft"
	CompileStateCompiled CompileState = "compiled"
)

// Flow is a persisted workflow-automation graph.
type Flow struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"                    validate:"required,min=1"`
	InternalName string     `json:"internal_name"`
	Type         FlowType   `json:"type"                    validate:"required,oneof=flow subflow"`
	Category     string     `json:"category,omitempty"`
	RunAs        string     `json:"run_as,omitempty"`
	Description  string     `json:"description,omitempty"`
	Scope        string     `json:"scope,omitempty"`
	Active       bool       `json:"active"`
	Status       FlowStatus `json:"status,omitempty"`
	Version      *Version   `json:"version,omitempty"` // Current version, owned 1:1
}

// Version is one serialized state of a flow's element graph.
type Version struct {
	ID           string          `json:"id"`
	FlowID       string          `json:"flow_id"`
	Name         string          `json:"name,omitempty"`
	Status       FlowStatus      `json:"status"`
	CompileState CompileState    `json:"compile_state"`
	Current      bool            `json:"current"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// IsPublished reports whether the version is published and compiled.
func (v *Version) IsPublished() bool {
	return v != nil && v.Status == FlowStatusPublished && v.CompileState == CompileStateCompiled
}

var nonIdentifier = regexp.MustCompile(`[^a-z0-9]+`)

// InternalNameFor derives the platform's internal name from a display name:
// "Incident Triage Flow" becomes "incident_triage_flow".
func InternalNameFor(name string) string {
	s := nonIdentifier.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")

	return strings.Trim(s, "_")
}
