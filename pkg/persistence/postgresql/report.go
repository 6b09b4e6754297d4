package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/persistence"
)

// ReportRepository handles reports database operations.
type ReportRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewReportRepository(db *sql.DB, logger *slog.Logger) *ReportRepository {
	return &ReportRepository{db: db, logger: logger}
}

// Save upserts a report; steps are stored as JSONB.
func (r *ReportRepository) Save(ctx context.Context, report *models.Report) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	steps, err := json.Marshal(report.Steps)
	if err != nil {
		return persistence.NewReportError("Save", report.ID, fmt.Errorf("failed to marshal steps: %w", err))
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO reports (id, operation, flow_id, steps, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			operation = EXCLUDED.operation
		  , flow_id = EXCLUDED.flow_id
		  , steps = EXCLUDED.steps
	`, report.ID, report.Operation, report.FlowID, steps, report.CreatedAt.UTC())
	if err != nil {
		return persistence.NewReportError("Save", report.ID, err)
	}

	return nil
}

func (r *ReportRepository) ByID(ctx context.Context, id string) (*models.Report, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, operation, flow_id, steps, created_at
		FROM reports
		WHERE id = $1
	`, id)

	report, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewReportError("ByID", id, persistence.ErrReportNotFound)
		}

		return nil, persistence.NewReportError("ByID", id, err)
	}

	return report, nil
}

// ByFlow returns the reports of a flow, newest first.
func (r *ReportRepository) ByFlow(ctx context.Context, flowID string) ([]*models.Report, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, operation, flow_id, steps, created_at
		FROM reports
		WHERE flow_id = $1
		ORDER BY created_at DESC
	`, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	reports := make([]*models.Report, 0)

	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}

		reports = append(reports, report)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}

	return reports, nil
}

func scanReport(s scanner) (*models.Report, error) {
	var (
		report models.Report
		flowID sql.NullString
		steps  []byte
	)

	err := s.Scan(&report.ID, &report.Operation, &flowID, &steps, &report.CreatedAt)
	if err != nil {
		return nil, err
	}

	report.FlowID = flowID.String
	report.CreatedAt = report.CreatedAt.UTC()
	report.Steps = []models.StepResult{}

	if len(steps) > 0 {
		err = json.Unmarshal(steps, &report.Steps)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
	}

	return &report, nil
}
