// Package session manages exclusive editing sessions on remote flows.
//
// A flow must be locked by the caller before any graph mutation; the lock is
// the same safeEdit session the visual editor takes when a flow is opened.
package session

import (
	"context"
	"sync"

	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/models"
)

// Session is an open editing session on one flow.
type Session struct {
	manager *Manager

	flowID string
	lock   models.EditLock

	// Report collects the session's steps, including stale-session warnings.
	Report *models.Report

	mu     sync.Mutex
	closed bool

	// closeMu serializes Close so a retry after a failed release runs again.
	closeMu sync.Mutex
}

func (s *Session) FlowID() string {
	return s.flowID
}

// Lock returns the lock as acquired.
func (s *Session) Lock() models.EditLock {
	return s.lock
}

// Active reports whether the session can still be used for mutations.
func (s *Session) Active() bool {
	if s == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return !s.closed
}

// Close releases the lock. Once the release succeeded further calls are
// no-ops; after a failed release the session stays open and Close retries.
func (s *Session) Close(ctx context.Context) error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if !s.Active() {
		return nil
	}

	if err := s.manager.release(ctx, s.flowID, s.Report); err != nil {
		return err
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	return nil
}

// Require checks that sess is open on flowID.
func Require(sess *Session, flowID string) error {
	if !sess.Active() {
		return flowerrors.ErrSessionClosed
	}

	if flowID != "" && sess.flowID != flowID {
		return flowerrors.NewValidationError("session", "session is open on flow %s, not %s", sess.flowID, flowID)
	}

	return nil
}
