package models

import "time"

// EditLock is the platform's exclusive editing session on a flow.
type EditLock struct {
	FlowID     string     `json:"flow_id"`
	Holder     string     `json:"holder,omitempty"`
	CanEdit    bool       `json:"can_edit"`
	OpenedAt   time.Time  `json:"opened_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// Released reports whether the lock was given back.
func (l *EditLock) Released() bool {
	return l.ReleasedAt != nil
}
