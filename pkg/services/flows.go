package services

import (
	"context"
	"log/slog"

	"github.com/dukex/flowpatch/pkg/eventbus"
	"github.com/dukex/flowpatch/pkg/events"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/persistence"
	"github.com/dukex/flowpatch/pkg/provision"
)

type Flows struct {
	provisioner *provision.Provisioner
	reports     persistence.ReportRepository
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

// NewFlows builds the flow service. reports and publisher may be nil.
func NewFlows(
	provisioner *provision.Provisioner,
	reports persistence.ReportRepository,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Flows {
	return &Flows{
		provisioner: provisioner,
		reports:     reports,
		publisher:   publisher,
		logger:      logger.With("module", "flows"),
	}
}

// Create provisions a flow and records how it got there.
func (f *Flows) Create(ctx context.Context, req provision.CreateRequest) (*provision.Result, error) {
	result, err := f.provisioner.Create(ctx, req)
	if result == nil {
		return nil, err
	}

	if err == nil && result.Flow != nil {
		event := events.NewFlowProvisioned(result.Flow, string(result.Path), result.Verification.Verified)
		publish(ctx, f.publisher, f.logger, result.Flow.ID, result.Report, event)
	}

	save(ctx, f.reports, f.logger, result.Report)

	return result, err
}

// Lookup finds a flow by sys_id, name or internal name.
func (f *Flows) Lookup(ctx context.Context, nameOrID string) (*models.Flow, error) {
	return f.provisioner.Find(ctx, nameOrID)
}

// Report returns a stored operation report.
func (f *Flows) Report(ctx context.Context, id string) (*models.Report, error) {
	if f.reports == nil {
		return nil, persistence.NewReportError("get report", id, persistence.ErrReportNotFound)
	}

	return f.reports.ByID(ctx, id)
}

// Reports lists the stored reports of a flow, newest first.
func (f *Flows) Reports(ctx context.Context, flowID string) ([]*models.Report, error) {
	if f.reports == nil {
		return []*models.Report{}, nil
	}

	return f.reports.ByFlow(ctx, flowID)
}
