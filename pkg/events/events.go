// Package events defines the domain events published when flows are provisioned or edited.
package events

import (
	"time"

	"github.com/dukex/flowpatch/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every flowpatch event.
const Topic = "flowpatch.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	FlowProvisionedEvent     EventType = "flow.provisioned"
	SessionOpenedEvent       EventType = "flow.session.opened"
	SessionClosedEvent       EventType = "flow.session.closed"
	ElementInsertedEvent     EventType = "flow.element.inserted"
	ElementUpdatedEvent      EventType = "flow.element.updated"
	ElementsDeletedEventType EventType = "flow.elements.deleted"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	FlowID    string         `json:"flow_id" validate:"required"`
	ReportID  string         `json:"report_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, flowID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		FlowID:    flowID,
		Metadata:  make(map[string]any),
	}
}

// GetFlowID returns the sys_id of the flow the event is about.
func (b BaseEvent) GetFlowID() string {
	return b.FlowID
}

// WithReport links the event to the report of the operation that caused it.
func (b *BaseEvent) WithReport(r *models.Report) {
	if r != nil {
		b.ReportID = r.ID
	}
}

type FlowProvisioned struct {
	BaseEvent

	Name         string `json:"name" validate:"required"`
	InternalName string `json:"internal_name,omitempty"`
	FlowType     string `json:"flow_type,omitempty"`
	VersionID    string `json:"version_id,omitempty"`
	Path         string `json:"path" validate:"required,oneof=bootstrap raw"`
	Verified     bool   `json:"verified"`
}

func (FlowProvisioned) GetType() EventType {
	return FlowProvisionedEvent
}

func (e *FlowProvisioned) Validate() error {
	return validate.Struct(e)
}

func NewFlowProvisioned(flow *models.Flow, path string, verified bool) *FlowProvisioned {
	e := &FlowProvisioned{
		BaseEvent:    NewBaseEvent(FlowProvisionedEvent, flow.ID),
		Name:         flow.Name,
		InternalName: flow.InternalName,
		FlowType:     string(flow.Type),
		Path:         path,
		Verified:     verified,
	}

	if flow.Version != nil {
		e.VersionID = flow.Version.ID
	}

	return e
}

type SessionOpened struct {
	BaseEvent

	Holder string `json:"holder,omitempty"`
	Stale  bool   `json:"stale"`
}

func (SessionOpened) GetType() EventType {
	return SessionOpenedEvent
}

func (e *SessionOpened) Validate() error {
	return validate.Struct(e)
}

func NewSessionOpened(lock models.EditLock, stale bool) *SessionOpened {
	return &SessionOpened{
		BaseEvent: NewBaseEvent(SessionOpenedEvent, lock.FlowID),
		Holder:    lock.Holder,
		Stale:     stale,
	}
}

type SessionClosed struct {
	BaseEvent
}

func (SessionClosed) GetType() EventType {
	return SessionClosedEvent
}

func (e *SessionClosed) Validate() error {
	return validate.Struct(e)
}

func NewSessionClosed(flowID string) *SessionClosed {
	return &SessionClosed{BaseEvent: NewBaseEvent(SessionClosedEvent, flowID)}
}

type ElementInserted struct {
	BaseEvent

	Kind         models.ElementKind `json:"kind" validate:"required"`
	UIID         string             `json:"ui_id" validate:"required"`
	SysID        string             `json:"sys_id,omitempty"`
	DefinitionID string             `json:"definition_id,omitempty"`
	Name         string             `json:"name,omitempty"`
	Order        int                `json:"order,omitempty"`
	Partial      bool               `json:"partial"`
}

func (ElementInserted) GetType() EventType {
	return ElementInsertedEvent
}

func (e *ElementInserted) Validate() error {
	return validate.Struct(e)
}

func NewElementInserted(flowID string, el *models.Element, partial bool) *ElementInserted {
	return &ElementInserted{
		BaseEvent:    NewBaseEvent(ElementInsertedEvent, flowID),
		Kind:         el.Kind,
		UIID:         el.UIID,
		SysID:        el.SysID,
		DefinitionID: el.DefinitionID,
		Name:         el.Name,
		Order:        el.Order,
		Partial:      partial,
	}
}

type ElementUpdated struct {
	BaseEvent

	Kind   models.ElementKind `json:"kind" validate:"required"`
	UIID   string             `json:"ui_id" validate:"required"`
	Inputs []string           `json:"inputs,omitempty"`
}

func (ElementUpdated) GetType() EventType {
	return ElementUpdatedEvent
}

func (e *ElementUpdated) Validate() error {
	return validate.Struct(e)
}

func NewElementUpdated(flowID string, kind models.ElementKind, uiid string, inputs []string) *ElementUpdated {
	return &ElementUpdated{
		BaseEvent: NewBaseEvent(ElementUpdatedEvent, flowID),
		Kind:      kind,
		UIID:      uiid,
		Inputs:    inputs,
	}
}

type ElementsDeleted struct {
	BaseEvent

	Kind models.ElementKind  `json:"kind" validate:"required"`
	Refs []models.ElementRef `json:"refs" validate:"required,min=1"`
}

func (ElementsDeleted) GetType() EventType {
	return ElementsDeletedEventType
}

func (e *ElementsDeleted) Validate() error {
	return validate.Struct(e)
}

func NewElementsDeleted(flowID string, kind models.ElementKind, refs []models.ElementRef) *ElementsDeleted {
	return &ElementsDeleted{
		BaseEvent: NewBaseEvent(ElementsDeletedEventType, flowID),
		Kind:      kind,
		Refs:      refs,
	}
}

// New returns an empty event value for eventType, nil when the type is unknown.
func New(eventType EventType) any {
	switch eventType {
	case FlowProvisionedEvent:
		return &FlowProvisioned{}
	case SessionOpenedEvent:
		return &SessionOpened{}
	case SessionClosedEvent:
		return &SessionClosed{}
	case ElementInsertedEvent:
		return &ElementInserted{}
	case ElementUpdatedEvent:
		return &ElementUpdated{}
	case ElementsDeletedEventType:
		return &ElementsDeleted{}
	default:
		return nil
	}
}
