package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/persistence"
)

// SessionLedger handles edit_sessions database operations.
type SessionLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSessionLedger(db *sql.DB, logger *slog.Logger) *SessionLedger {
	return &SessionLedger{db: db, logger: logger}
}

// Record upserts the lock of a flow.
func (r *SessionLedger) Record(ctx context.Context, lock models.EditLock) error {
	query := `
		INSERT INTO edit_sessions (flow_id, holder, can_edit, opened_at, released_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (flow_id) DO UPDATE SET
			holder = EXCLUDED.holder
		  , can_edit = EXCLUDED.can_edit
		  , opened_at = EXCLUDED.opened_at
		  , released_at = EXCLUDED.released_at
	`

	_, err := r.db.ExecContext(ctx, query, lock.FlowID, lock.Holder, lock.CanEdit, lock.OpenedAt.UTC(), lock.ReleasedAt)
	if err != nil {
		return persistence.NewSessionError("Record", lock.FlowID, err)
	}

	return nil
}

// Release stamps released_at on the flow's entry.
func (r *SessionLedger) Release(ctx context.Context, flowID string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, "UPDATE edit_sessions SET released_at = $2 WHERE flow_id = $1", flowID, at.UTC())
	if err != nil {
		return persistence.NewSessionError("Release", flowID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewSessionError("Release", flowID, err)
	}

	if affected == 0 {
		return persistence.NewSessionError("Release", flowID, persistence.ErrSessionNotFound)
	}

	return nil
}

func (r *SessionLedger) Get(ctx context.Context, flowID string) (*models.EditLock, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT flow_id, holder, can_edit, opened_at, released_at
		FROM edit_sessions
		WHERE flow_id = $1
	`, flowID)

	lock, err := scanLock(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewSessionError("Get", flowID, persistence.ErrSessionNotFound)
		}

		return nil, persistence.NewSessionError("Get", flowID, err)
	}

	return lock, nil
}

// Open lists unreleased entries, oldest first.
func (r *SessionLedger) Open(ctx context.Context) ([]*models.EditLock, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT flow_id, holder, can_edit, opened_at, released_at
		FROM edit_sessions
		WHERE released_at IS NULL
		ORDER BY opened_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open sessions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	locks := make([]*models.EditLock, 0)

	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		locks = append(locks, lock)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return locks, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLock(s scanner) (*models.EditLock, error) {
	var (
		lock     models.EditLock
		holder   sql.NullString
		released sql.NullTime
	)

	err := s.Scan(&lock.FlowID, &holder, &lock.CanEdit, &lock.OpenedAt, &released)
	if err != nil {
		return nil, err
	}

	lock.Holder = holder.String
	lock.OpenedAt = lock.OpenedAt.UTC()

	if released.Valid {
		at := released.Time.UTC()
		lock.ReleasedAt = &at
	}

	return &lock, nil
}
