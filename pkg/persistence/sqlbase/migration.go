// Package sqlbase provides the schema migration runner shared by SQL stores.
package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
)

// Migration is one forward-only schema change.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationManager applies migrations in version order. Several flowpatch
// processes may start against one database, so the run holds a
// transaction-scoped advisory lock.
type MigrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations []Migration
	lockKey    int64
}

// NewMigrationManager sorts migrations by version. lockKey identifies the
// advisory lock taken while migrating.
func NewMigrationManager(logger *slog.Logger, db *sql.DB, lockKey int64, migrations ...Migration) *MigrationManager {
	sorted := slices.Clone(migrations)
	slices.SortFunc(sorted, func(a, b Migration) int { return a.Version - b.Version })

	return &MigrationManager{
		db:         db,
		logger:     logger.With("module", "migrations"),
		migrations: sorted,
		lockKey:    lockKey,
	}
}

// Latest returns the highest known version, zero when there are none.
func (m *MigrationManager) Latest() int {
	if len(m.migrations) == 0 {
		return 0
	}

	return m.migrations[len(m.migrations)-1].Version
}

// Pending returns the migrations not in applied, in order.
func (m *MigrationManager) Pending(applied map[int]bool) []Migration {
	var out []Migration

	for _, mig := range m.migrations {
		if !applied[mig.Version] {
			out = append(out, mig)
		}
	}

	return out
}

// RunMigrations creates the bookkeeping table and applies what is pending.
func (m *MigrationManager) RunMigrations(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(128) NOT NULL DEFAULT '',
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", m.lockKey); err != nil {
		return fmt.Errorf("failed to take migration lock: %w", err)
	}

	applied, err := m.applied(ctx, tx)
	if err != nil {
		return err
	}

	pending := m.Pending(applied)
	if len(pending) == 0 {
		m.logger.DebugContext(ctx, "Schema is up to date", "version", m.Latest())

		return tx.Commit()
	}

	for _, mig := range pending {
		m.logger.InfoContext(ctx, "Applying migration", "version", mig.Version, "name", mig.Name)

		if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
			return fmt.Errorf("failed to execute migration %d (%s): %w", mig.Version, mig.Name, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", mig.Version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}

	m.logger.InfoContext(ctx, "Database migrations completed", "applied", len(pending), "version", m.Latest())

	return nil
}

func (m *MigrationManager) applied(ctx context.Context, tx *sql.Tx) (map[int]bool, error) {
	rows, err := tx.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	applied := map[int]bool{}

	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}

		applied[v] = true
	}

	return applied, rows.Err()
}
