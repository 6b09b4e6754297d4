package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/persistence"
	"github.com/dukex/flowpatch/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"reports", "edit_sessions", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("flowpatch_test"),
			postgres.WithUsername("flowpatch"),
			postgres.WithPassword("flowpatch"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestSessionLedger(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	ledger := p.SessionLedger()

	opened := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, ledger.Record(ctx, models.EditLock{FlowID: "f1", Holder: "Abel Tuter", CanEdit: true, OpenedAt: opened}))
	require.NoError(t, ledger.Record(ctx, models.EditLock{FlowID: "f2", CanEdit: true, OpenedAt: opened.Add(time.Minute)}))

	open, err := ledger.Open(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "f1", open[0].FlowID)
	assert.Equal(t, "Abel Tuter", open[0].Holder)

	require.NoError(t, ledger.Release(ctx, "f1", opened.Add(time.Hour)))

	lock, err := ledger.Get(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, lock.Released())

	_, err = ledger.Get(ctx, "missing")
	assert.True(t, persistence.IsSessionNotFound(err))

	err = ledger.Release(ctx, "missing", time.Now())
	assert.True(t, persistence.IsSessionNotFound(err))
}

func TestReportRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.ReportRepository()

	first := models.NewReport("create", "f1")
	first.CreatedAt = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	first.Succeed("insert_flow", "inserted")

	second := models.NewReport("insert", "f1")
	second.CreatedAt = first.CreatedAt.Add(time.Minute)

	require.NoError(t, repo.Save(ctx, first))
	require.NoError(t, repo.Save(ctx, second))

	got, err := repo.ByID(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, models.StepSuccess, got.Steps[0].Status)

	byFlow, err := repo.ByFlow(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, byFlow, 2)
	assert.Equal(t, second.ID, byFlow[0].ID)

	_, err = repo.ByID(ctx, "7d7c4f0e-0000-4000-8000-000000000000")
	assert.True(t, persistence.IsReportNotFound(err))
}
