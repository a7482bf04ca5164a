package export

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docparse/internal/repository"
)

const (
	resultsSheet = "Results"
	summarySheet = "Summary"
	pageSize     = 500
)

// Service produces XLSX workbooks from the result catalog.
type Service struct {
	results repository.ResultRepository
	logger  *slog.Logger
}

func NewService(results repository.ResultRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{results: results, logger: logger}
}

// ExportResultsXLSX returns a workbook with one row per catalog result matching f
// and a per-category summary sheet. f.Limit and f.Offset are ignored.
func (s *Service) ExportResultsXLSX(ctx context.Context, f repository.Filter) ([]byte, error) {
	start := time.Now()

	rows, err := s.collect(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}

	wb := excelize.NewFile()
	defer func() { _ = wb.Close() }()

	// The default sheet is renamed rather than left empty.
	if err := wb.SetSheetName(wb.GetSheetName(0), resultsSheet); err != nil {
		return nil, err
	}
	if err := writeResults(wb, rows); err != nil {
		return nil, err
	}
	if _, err := wb.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	if err := writeSummary(wb, rows); err != nil {
		return nil, err
	}
	idx, _ := wb.GetSheetIndex(resultsSheet)
	wb.SetActiveSheet(idx)

	buf, err := wb.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"category", f.Category,
		"status", f.Status,
		"rows", len(rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (s *Service) collect(ctx context.Context, f repository.Filter) ([]repository.Result, error) {
	var out []repository.Result
	f.Limit, f.Offset = pageSize, 0
	for {
		page, err := s.results.List(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
		f.Offset += pageSize
	}
}

var resultHeaders = []string{
	"Task ID",
	"Batch ID",
	"Source",
	"Filename",
	"Category",
	"Status",
	"Quality Score",
	"Pages",
	"OCR",
	"Processed At",
	"Error",
}

func writeResults(wb *excelize.File, rows []repository.Result) error {
	if err := wb.SetSheetRow(resultsSheet, "A1", &resultHeaders); err != nil {
		return err
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		processed := ""
		if !r.ProcessedAt.IsZero() {
			processed = r.ProcessedAt.UTC().Format(time.RFC3339)
		}
		values := []any{
			r.TaskID,
			r.BatchID,
			r.SourceRef,
			r.Filename,
			r.Category,
			r.Status,
			r.QualityScore,
			r.PageCount,
			yesNo(r.OCRUsed),
			processed,
			truncate(r.Error, 200),
		}
		if err := wb.SetSheetRow(resultsSheet, cell, &values); err != nil {
			return err
		}
	}

	_ = wb.SetColWidth(resultsSheet, "A", "B", 38) // ids
	_ = wb.SetColWidth(resultsSheet, "C", "D", 40) // source
	_ = wb.SetColWidth(resultsSheet, "E", "F", 14)
	_ = wb.SetColWidth(resultsSheet, "G", "I", 10)
	_ = wb.SetColWidth(resultsSheet, "J", "J", 22)
	_ = wb.SetColWidth(resultsSheet, "K", "K", 60)
	return wb.SetPanes(resultsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

type categoryTotals struct {
	count      int
	failed     int
	qualitySum float64
}

func writeSummary(wb *excelize.File, rows []repository.Result) error {
	totals := map[string]*categoryTotals{}
	for _, r := range rows {
		name := r.Category
		if name == "" {
			name = "unclassified"
		}
		t := totals[name]
		if t == nil {
			t = &categoryTotals{}
			totals[name] = t
		}
		t.count++
		if r.Status == "failed" {
			t.failed++
		}
		t.qualitySum += r.QualityScore
	}
	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)

	header := []string{"Category", "Documents", "Failed", "Average Quality"}
	if err := wb.SetSheetRow(summarySheet, "A1", &header); err != nil {
		return err
	}
	for i, name := range names {
		t := totals[name]
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		avg := t.qualitySum / float64(t.count)
		values := []any{name, t.count, t.failed, float64(int(avg*10+0.5)) / 10}
		if err := wb.SetSheetRow(summarySheet, cell, &values); err != nil {
			return err
		}
	}
	_ = wb.SetColWidth(summarySheet, "A", "A", 18)
	_ = wb.SetColWidth(summarySheet, "B", "D", 16)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
