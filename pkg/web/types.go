package web

import (
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/session"
)

// ConditionRequest is the body of a condition preview.
type ConditionRequest struct {
	Expression string `json:"expression" validate:"required"`
}

// SessionResponse describes an edit session acquired through the API.
type SessionResponse struct {
	FlowID string          `json:"flow_id"`
	Lock   models.EditLock `json:"lock"`
	Report *models.Report  `json:"report"`
}

func newSessionResponse(sess *session.Session) SessionResponse {
	return SessionResponse{FlowID: sess.FlowID(), Lock: sess.Lock(), Report: sess.Report}
}
