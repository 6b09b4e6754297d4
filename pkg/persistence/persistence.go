// Package persistence provides the storage abstraction for edit session ledgers and operation reports.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/flowpatch/pkg/models"
)

type Persistence interface {
	SessionLedger() SessionLedger
	ReportRepository() ReportRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// SessionLedger remembers which flows this process holds an edit session on,
// so sessions that were never closed can be found later.
type SessionLedger interface {
	// Record stores an acquired lock, replacing any previous entry for the flow.
	Record(ctx context.Context, lock models.EditLock) error
	// Release marks the flow's entry as released.
	Release(ctx context.Context, flowID string, at time.Time) error
	// Get returns the flow's entry or an error satisfying IsSessionNotFound.
	Get(ctx context.Context, flowID string) (*models.EditLock, error)
	// Open lists every entry that was never released.
	Open(ctx context.Context) ([]*models.EditLock, error)
}

// ReportRepository stores the step reports of multi-step operations.
type ReportRepository interface {
	Save(ctx context.Context, report *models.Report) error
	// ByID returns a report or an error satisfying IsReportNotFound.
	ByID(ctx context.Context, id string) (*models.Report, error)
	// ByFlow returns the reports of a flow, newest first.
	ByFlow(ctx context.Context, flowID string) ([]*models.Report, error)
}
