package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dispute-assistant/models"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// ExportSheet is the worksheet name of run exports
const ExportSheet = "Runs"

var exportHeaders = []string{
	"Run ID",
	"Created",
	"Status",
	"Category",
	"Confidence",
	"Template",
	"Name",
	"ETS ID",
	"Call Status",
	"Error",
}

// RunLister lists recent runs, newest first
type RunLister interface {
	ListRecent(ctx context.Context, limit int) ([]*models.Run, error)
}

// ExportService renders run history as XLSX workbooks
type ExportService struct {
	runs   RunLister
	logger *zap.Logger
}

// NewExportService creates a new export service
func NewExportService(runs RunLister, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{runs: runs, logger: logger}
}

// ExportRuns returns an XLSX workbook (as bytes) of the most recent runs
func (s *ExportService) ExportRuns(ctx context.Context, limit int) ([]byte, error) {
	if s.runs == nil {
		return nil, errors.New("run store not set")
	}
	start := time.Now()

	runs, err := s.runs.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	// Rename the default sheet so the workbook has exactly one
	if err := f.SetSheetName(f.GetSheetName(0), ExportSheet); err != nil {
		return nil, err
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(ExportSheet, cell, h)
	}

	for i, run := range runs {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(ExportSheet, cell, v)
		}

		write(1, run.ID.String())
		write(2, run.CreatedAt.UTC().Format(time.RFC3339))
		write(3, string(run.Status))
		if run.SuggestedTemplate != nil {
			write(6, *run.SuggestedTemplate)
		}
		if rec := run.Record; rec != nil {
			write(4, string(rec.Dispute.DisputeCategory))
			write(5, rec.Dispute.Confidence)
			write(7, strings.TrimSpace(deref(rec.Personal.FirstName)+" "+deref(rec.Personal.LastName)))
			write(8, deref(rec.Personal.ETSID))
			if rec.CallHistory != nil {
				write(9, string(rec.CallHistory.Status))
			}
		}
		if run.ErrorMessage != nil {
			write(10, *run.ErrorMessage)
		}
	}

	_ = f.SetColWidth(ExportSheet, "A", "A", 38) // id
	_ = f.SetColWidth(ExportSheet, "B", "B", 22) // created
	_ = f.SetColWidth(ExportSheet, "C", "F", 18)
	_ = f.SetColWidth(ExportSheet, "G", "H", 24)
	_ = f.SetColWidth(ExportSheet, "J", "J", 48) // error

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("runs exported", zap.Int("rows", len(runs)), zap.Duration("elapsed", time.Since(start)))
	return buf.Bytes(), nil
}
