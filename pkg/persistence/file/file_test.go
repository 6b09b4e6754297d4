package file

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistence_HealthCheck(t *testing.T) {
	p := NewPersistence("file://" + t.TempDir())
	require.NoError(t, p.HealthCheck(context.Background()))

	missing := NewPersistence("/definitely/not/here")
	assert.Error(t, missing.HealthCheck(context.Background()))
}

func TestSessionLedger(t *testing.T) {
	ctx := context.Background()
	ledger := NewPersistence(t.TempDir()).SessionLedger()

	opened := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, ledger.Record(ctx, models.EditLock{FlowID: "f1", Holder: "Abel Tuter", CanEdit: true, OpenedAt: opened}))
	require.NoError(t, ledger.Record(ctx, models.EditLock{FlowID: "f2", Holder: "Abel Tuter", CanEdit: true, OpenedAt: opened.Add(time.Minute)}))

	open, err := ledger.Open(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "f1", open[0].FlowID)

	require.NoError(t, ledger.Release(ctx, "f1", opened.Add(time.Hour)))

	lock, err := ledger.Get(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, lock.Released())

	open, err = ledger.Open(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "f2", open[0].FlowID)

	_, err = ledger.Get(ctx, "missing")
	assert.True(t, persistence.IsSessionNotFound(err))

	err = ledger.Release(ctx, "missing", time.Now())
	assert.True(t, persistence.IsSessionNotFound(err))
}

func TestSessionLedger_OpenOnEmptyRoot(t *testing.T) {
	open, err := NewSessionLedger(t.TempDir()).Open(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestReportRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence(t.TempDir()).ReportRepository()

	first := models.NewReport("create", "f1")
	first.CreatedAt = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	first.Succeed("insert_flow", "inserted")

	second := models.NewReport("insert", "f1")
	second.CreatedAt = first.CreatedAt.Add(time.Minute)

	other := models.NewReport("insert", "f2")

	for _, r := range []*models.Report{first, second, other} {
		require.NoError(t, repo.Save(ctx, r))
	}

	got, err := repo.ByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "create", got.Operation)
	require.Len(t, got.Steps, 1)

	byFlow, err := repo.ByFlow(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, byFlow, 2)
	assert.Equal(t, second.ID, byFlow[0].ID)

	_, err = repo.ByID(ctx, "missing")
	assert.True(t, persistence.IsReportNotFound(err))
}
