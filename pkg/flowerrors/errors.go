// Package flowerrors provides the error taxonomy shared by every flowpatch component.
package flowerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Standard error kinds. Every typed error below wraps exactly one of them.
var (
	// ErrNotFound indicates a flow, subflow or definition lookup was exhausted.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates a request was rejected before any remote write.
	ErrValidation = errors.New("validation failed")

	// ErrLockConflict indicates the flow's edit session is held by another party.
	ErrLockConflict = errors.New("edit session held by another user")

	// ErrPermissionDenied indicates the remote platform refused authorization.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrRemoteMutationFailed indicates a transport or endpoint failure with no finer classification.
	ErrRemoteMutationFailed = errors.New("remote mutation failed")

	// ErrSessionClosed indicates a mutation was attempted without an open edit session.
	ErrSessionClosed = errors.New("edit session is not open")

	// ErrPartialWrite indicates an element was inserted but its follow-up update failed.
	ErrPartialWrite = errors.New("element inserted but follow-up update failed")
)

// NotFoundError reports an exhausted lookup together with every term that was tried.
type NotFoundError struct {
	Kind      string
	Name      string
	Attempted []string
}

func (e *NotFoundError) Error() string {
	if len(e.Attempted) == 0 {
		return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
	}

	return fmt.Sprintf("%s %q not found (tried: %s)", e.Kind, e.Name, strings.Join(e.Attempted, ", "))
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ValidationError lists why a request was rejected.
type ValidationError struct {
	Op       string   // Operation being validated
	Missing  []string // Mandatory parameters without a bound input
	Problems []string // Any other rule violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing mandatory inputs: "+strings.Join(e.Missing, ", "))
	}

	if len(e.Problems) > 0 {
		parts = append(parts, strings.Join(e.Problems, "; "))
	}

	if len(parts) == 0 {
		return e.Op + ": " + ErrValidation.Error()
	}

	return fmt.Sprintf("%s: %s", e.Op, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a validation error carrying a single problem.
func NewValidationError(op, format string, args ...any) *ValidationError {
	return &ValidationError{
		Op:       op,
		Problems: []string{fmt.Sprintf(format, args...)},
	}
}

// LockConflictError surfaces the identity currently holding a flow's edit session.
type LockConflictError struct {
	FlowID string
	Holder string
}

func (e *LockConflictError) Error() string {
	holder := e.Holder
	if holder == "" {
		holder = "another user"
	}

	return fmt.Sprintf("flow %s is being edited by %s", e.FlowID, holder)
}

func (e *LockConflictError) Unwrap() error {
	return ErrLockConflict
}

// RemoteError wraps a failed remote call with the platform's own error text.
type RemoteError struct {
	Op      string // Operation being performed (e.g. "graphql", "table.create")
	Status  int    // HTTP status, 0 when the call never completed
	Message string // Remote error message
	Detail  string // Remote error detail
	Err     error  // Classified sentinel or transport error
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if e.Detail != "" {
		msg += ": " + e.Detail
	}

	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	if e.Status > 0 {
		return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.Status, msg)
	}

	return fmt.Sprintf("%s failed: %s", e.Op, msg)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for remote errors.
func (e *RemoteError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRemoteError classifies an HTTP status into the taxonomy.
func NewRemoteError(op string, status int, message, detail string) *RemoteError {
	var kind error

	switch {
	case status == 401 || status == 403:
		kind = ErrPermissionDenied
	case status == 404:
		kind = ErrNotFound
	default:
		kind = ErrRemoteMutationFailed
	}

	return &RemoteError{Op: op, Status: status, Message: message, Detail: detail, Err: kind}
}

// PartialWriteError reports an element left inserted with blank reference fields.
type PartialWriteError struct {
	UIID  string
	SysID string
	Err   error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("element %s (%s) inserted but update failed: %v", e.UIID, e.SysID, e.Err)
}

func (e *PartialWriteError) Unwrap() []error {
	return []error{ErrPartialWrite, e.Err}
}

// IsNotFound checks if an error indicates an exhausted lookup.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if an error indicates a rejected request.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrSessionClosed)
}

// IsLockConflict checks if an error indicates the edit session is held elsewhere.
func IsLockConflict(err error) bool {
	return errors.Is(err, ErrLockConflict)
}

// IsPermissionDenied checks if an error indicates a remote authorization failure.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsPartialWrite checks if an error indicates an unfinished two-phase write.
func IsPartialWrite(err error) bool {
	return errors.Is(err, ErrPartialWrite)
}

// IsRemote checks if an error came from the remote platform.
func IsRemote(err error) bool {
	var remote *RemoteError

	return errors.As(err, &remote)
}

// Error kind names, shared by problem documents and span attributes.
const (
	KindValidation       = "validation_error"
	KindLockConflict     = "lock_conflict"
	KindSessionClosed    = "session_closed"
	KindPartialWrite     = "partial_write"
	KindPermissionDenied = "permission_denied"
	KindNotFound         = "not_found"
	KindRemote           = "remote_error"
	KindInternal         = "internal_error"
)

// Kind names the most specific class of err.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrSessionClosed):
		return KindSessionClosed
	case IsValidation(err):
		return KindValidation
	case IsLockConflict(err):
		return KindLockConflict
	case IsPartialWrite(err):
		return KindPartialWrite
	case IsPermissionDenied(err):
		return KindPermissionDenied
	case IsNotFound(err):
		return KindNotFound
	case IsRemote(err):
		return KindRemote
	default:
		return KindInternal
	}
}
