package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/otelhelper"
	"github.com/dukex/flowpatch/pkg/persistence"
	"github.com/dukex/flowpatch/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Status describes what is known about a flow's editing session.
type Status struct {
	FlowID string `json:"flow_id"`
	// Open is true when this process holds a session on the flow.
	Open bool `json:"open"`
	// Lock is the last ledger entry for the flow, if any.
	Lock *models.EditLock `json:"lock,omitempty"`
	// Stale is true when the ledger shows an unreleased lock this process does not hold.
	Stale    bool     `json:"stale"`
	Warnings []string `json:"warnings,omitempty"`
}

// Manager opens and closes editing sessions. It is safe for concurrent use across flows.
type Manager struct {
	gql    protocol.GraphQL
	ledger persistence.SessionLedger
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

type Option func(*Manager)

// WithTracer sets the tracer used for lock spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a session manager. ledger may be nil, in which case
// forgotten sessions are only tracked in memory.
func NewManager(gql protocol.GraphQL, ledger persistence.SessionLedger, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		gql:      gql,
		ledger:   ledger,
		logger:   logger.With("module", "session"),
		now:      time.Now,
		sessions: map[string]*Session{},
	}

	for _, opt := range opts {
		opt(m)
	}

	m.tracer = otelhelper.OrNoop(m.tracer)

	return m
}

// Open acquires the editing session on flowID. A lock held by someone else
// fails with *flowerrors.LockConflictError and is never retried.
func (m *Manager) Open(ctx context.Context, flowID string) (*Session, error) {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "session.open", attribute.String(otelhelper.FlowIDKey, flowID))
	defer span.End()

	if flowID == "" {
		return nil, flowerrors.NewValidationError("open session", "flow id is required")
	}

	report := models.NewReport("session.open", flowID)

	m.mu.Lock()
	current := m.sessions[flowID]
	m.mu.Unlock()

	if current.Active() {
		report.Succeed("reuse", "session already open in this process")

		return current, nil
	}

	m.checkStale(ctx, flowID, report)

	data, err := m.gql.Mutate(ctx, lockMutation(lockCreate, flowID))
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to acquire edit session on flow %s: %w", flowID, err)
	}

	canEdit, holder, err := acquireResult(data)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if !canEdit {
		conflict := &flowerrors.LockConflictError{FlowID: flowID, Holder: holder}
		otelhelper.SetError(span, conflict)
		m.logger.WarnContext(ctx, "Flow is locked by another user", "flow_id", flowID, "holder", holder)

		return nil, conflict
	}

	lock := models.EditLock{FlowID: flowID, Holder: holder, CanEdit: true, OpenedAt: m.now().UTC()}
	report.Succeed("acquire", "edit session acquired")

	if m.ledger != nil {
		if err := m.ledger.Record(ctx, lock); err != nil {
			report.Warn("ledger.record", err)
			m.logger.WarnContext(ctx, "Failed to record edit session", "flow_id", flowID, "error", err)
		}
	}

	sess := &Session{manager: m, flowID: flowID, lock: lock, Report: report}

	m.mu.Lock()
	m.sessions[flowID] = sess
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "Edit session opened", "flow_id", flowID, "holder", holder)

	return sess, nil
}

func (m *Manager) checkStale(ctx context.Context, flowID string, report *models.Report) {
	if m.ledger == nil {
		return
	}

	previous, err := m.ledger.Get(ctx, flowID)
	if err != nil {
		if !persistence.IsSessionNotFound(err) {
			report.Warn("ledger.get", err)
		}

		return
	}

	if !previous.Released() {
		report.Warnf("stale_session", "flow %s has an edit session opened at %s that was never closed",
			flowID, previous.OpenedAt.Format(time.RFC3339))
		m.logger.WarnContext(ctx, "Stale edit session found", "flow_id", flowID, "opened_at", previous.OpenedAt)
	}
}

// Close releases the editing session on flowID. Closing a flow that is not
// locked, or not known to this process, succeeds.
func (m *Manager) Close(ctx context.Context, flowID string) error {
	m.mu.Lock()
	sess := m.sessions[flowID]
	m.mu.Unlock()

	if sess != nil {
		return sess.Close(ctx)
	}

	return m.release(ctx, flowID, models.NewReport("session.close", flowID))
}

func (m *Manager) release(ctx context.Context, flowID string, report *models.Report) error {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "session.close", attribute.String(otelhelper.FlowIDKey, flowID))
	defer span.End()

	data, err := m.gql.Mutate(ctx, lockMutation(lockDelete, flowID))
	if err != nil {
		otelhelper.SetError(span, err)
		report.Fail("release", err)
		m.logger.ErrorContext(ctx, "Edit session still held after failed release", "flow_id", flowID, "error", err)

		return fmt.Errorf("failed to release edit session on flow %s: %w", flowID, err)
	}

	m.mu.Lock()
	delete(m.sessions, flowID)
	m.mu.Unlock()

	if releaseResult(data) {
		report.Succeed("release", "edit session released")
	} else {
		report.Warnf("release", "flow %s is locked by another user, nothing to release", flowID)
	}

	if m.ledger != nil {
		err := m.ledger.Release(ctx, flowID, m.now())
		if err != nil && !persistence.IsSessionNotFound(err) {
			report.Warn("ledger.release", err)
			m.logger.WarnContext(ctx, "Failed to release edit session in ledger", "flow_id", flowID, "error", err)
		}
	}

	m.logger.InfoContext(ctx, "Edit session closed", "flow_id", flowID)

	return nil
}

// Current returns the session this process holds on flowID, nil when none is active.
func (m *Manager) Current(flowID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess := m.sessions[flowID]; sess.Active() {
		return sess
	}

	return nil
}

// WithSession runs fn inside an open session and always closes it.
func (m *Manager) WithSession(ctx context.Context, flowID string, fn func(ctx context.Context, sess *Session) error) error {
	sess, err := m.Open(ctx, flowID)
	if err != nil {
		return err
	}

	fnErr := fn(ctx, sess)

	closeErr := sess.Close(context.WithoutCancel(ctx))
	if closeErr != nil {
		m.logger.ErrorContext(ctx, "Failed to close edit session", "flow_id", flowID, "error", closeErr)
	}

	return errors.Join(fnErr, closeErr)
}

// Status reports whether flowID is open here and whether the ledger shows a forgotten session.
func (m *Manager) Status(ctx context.Context, flowID string) (*Status, error) {
	m.mu.Lock()
	sess := m.sessions[flowID]
	m.mu.Unlock()

	status := &Status{FlowID: flowID, Open: sess.Active()}

	if m.ledger == nil {
		if status.Open {
			lock := sess.Lock()
			status.Lock = &lock
		}

		return status, nil
	}

	lock, err := m.ledger.Get(ctx, flowID)
	if err != nil {
		if persistence.IsSessionNotFound(err) {
			return status, nil
		}

		return nil, err
	}

	status.Lock = lock

	if !lock.Released() && !status.Open {
		status.Stale = true
		status.Warnings = append(status.Warnings, fmt.Sprintf(
			"edit session opened at %s was never closed", lock.OpenedAt.Format(time.RFC3339)))
	}

	return status, nil
}

// Stale lists every unreleased ledger entry not held by this process.
func (m *Manager) Stale(ctx context.Context) ([]*models.EditLock, error) {
	if m.ledger == nil {
		return nil, nil
	}

	open, err := m.ledger.Open(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stale := make([]*models.EditLock, 0, len(open))

	for _, lock := range open {
		if m.sessions[lock.FlowID].Active() {
			continue
		}

		stale = append(stale, lock)
	}

	return stale, nil
}
