package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/persistence"
)

// ReportRepository stores one JSON file per report under <root>/reports.
type ReportRepository struct {
	root string
}

func NewReportRepository(root string) *ReportRepository {
	return &ReportRepository{root: root}
}

func (rr *ReportRepository) dir() string {
	return path.Join(rr.root, "reports")
}

// Save writes the report, assigning a creation time when missing.
func (rr *ReportRepository) Save(_ context.Context, report *models.Report) error {
	err := os.MkdirAll(rr.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create reports directory: %w", err)
	}

	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return persistence.NewReportError("Save", report.ID, err)
	}

	err = os.WriteFile(filepath.Clean(path.Join(rr.dir(), report.ID+".json")), data, 0600)
	if err != nil {
		return persistence.NewReportError("Save", report.ID, err)
	}

	return nil
}

// ByID retrieves a report by its ID.
func (rr *ReportRepository) ByID(_ context.Context, id string) (*models.Report, error) {
	body, err := os.ReadFile(filepath.Clean(path.Join(rr.dir(), id+".json")))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewReportError("ByID", id, persistence.ErrReportNotFound)
		}

		return nil, persistence.NewReportError("ByID", id, err)
	}

	var report models.Report

	err = json.Unmarshal(body, &report)
	if err != nil {
		return nil, persistence.NewReportError("ByID", id, err)
	}

	return &report, nil
}

// ByFlow returns the reports of a flow, newest first.
func (rr *ReportRepository) ByFlow(ctx context.Context, flowID string) ([]*models.Report, error) {
	files, err := fs.Glob(os.DirFS(rr.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list report files: %w", err)
	}

	reports := make([]*models.Report, 0)

	for _, file := range files {
		report, err := rr.ByID(ctx, file[:len(file)-5])
		if err != nil {
			return nil, err
		}

		if report.FlowID == flowID {
			reports = append(reports, report)
		}
	}

	sort.Slice(reports, func(i, j int) bool { return reports[i].CreatedAt.After(reports[j].CreatedAt) })

	return reports, nil
}
