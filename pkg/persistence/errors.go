package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrSessionNotFound indicates the ledger has no entry for a flow.
	ErrSessionNotFound = errors.New("session not found")

	// ErrReportNotFound indicates a report was not found by the given identifier.
	ErrReportNotFound = errors.New("report not found")
)

// SessionError wraps ledger errors with additional context.
type SessionError struct {
	Op     string // Operation being performed (e.g., "Record", "Release")
	FlowID string
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s operation failed for session on flow %s: %v", e.Op, e.FlowID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for session errors.
func (e *SessionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewSessionError creates a new session error with context.
func NewSessionError(op, flowID string, err error) *SessionError {
	return &SessionError{Op: op, FlowID: flowID, Err: err}
}

// ReportError wraps report repository errors with additional context.
type ReportError struct {
	Op       string
	ReportID string
	Err      error
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("%s operation failed for report %s: %v", e.Op, e.ReportID, e.Err)
}

func (e *ReportError) Unwrap() error {
	return e.Err
}

func (e *ReportError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewReportError creates a new report error with context.
func NewReportError(op, reportID string, err error) *ReportError {
	return &ReportError{Op: op, ReportID: reportID, Err: err}
}

// IsSessionNotFound checks if an error indicates a missing ledger entry.
func IsSessionNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

// IsReportNotFound checks if an error indicates a missing report.
func IsReportNotFound(err error) bool {
	return errors.Is(err, ErrReportNotFound)
}
