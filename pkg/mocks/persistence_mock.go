package mocks

import (
	"context"
	"time"

	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockSessionLedger is a mock implementation of persistence.SessionLedger interface.
type MockSessionLedger struct {
	mock.Mock
}

var _ persistence.SessionLedger = (*MockSessionLedger)(nil)

func (m *MockSessionLedger) Record(ctx context.Context, lock models.EditLock) error {
	args := m.Called(ctx, lock)

	return args.Error(0)
}

func (m *MockSessionLedger) Release(ctx context.Context, flowID string, at time.Time) error {
	args := m.Called(ctx, flowID, at)

	return args.Error(0)
}

func (m *MockSessionLedger) Get(ctx context.Context, flowID string) (*models.EditLock, error) {
	args := m.Called(ctx, flowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.EditLock), args.Error(1)
}

func (m *MockSessionLedger) Open(ctx context.Context) ([]*models.EditLock, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.EditLock), args.Error(1)
}

// MockReportRepository is a mock implementation of persistence.ReportRepository interface.
type MockReportRepository struct {
	mock.Mock
}

var _ persistence.ReportRepository = (*MockReportRepository)(nil)

func (m *MockReportRepository) Save(ctx context.Context, report *models.Report) error {
	args := m.Called(ctx, report)

	return args.Error(0)
}

func (m *MockReportRepository) ByID(ctx context.Context, id string) (*models.Report, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Report), args.Error(1)
}

func (m *MockReportRepository) ByFlow(ctx context.Context, flowID string) ([]*models.Report, error) {
	args := m.Called(ctx, flowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Report), args.Error(1)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Ledger  *MockSessionLedger
	Reports *MockReportRepository
}

var _ persistence.Persistence = (*MockPersistence)(nil)

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Ledger:  &MockSessionLedger{},
		Reports: &MockReportRepository{},
	}
}

func (m *MockPersistence) SessionLedger() persistence.SessionLedger {
	return m.Ledger
}

func (m *MockPersistence) ReportRepository() persistence.ReportRepository {
	return m.Reports
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
