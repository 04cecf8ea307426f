package export

import (
	"context"
	"fmt"
	"time"
)

// DataStore defines the data access the report needs.
type DataStore interface {
	GetSheetReport(ctx context.Context, sheetID string) (SheetInfo, error)
	ListCaseReports(ctx context.Context, sheetID string) ([]CaseInfo, error)
	ListBugReportsForCase(ctx context.Context, testCaseID string) ([]BugInfo, error)
}

// SheetInfo holds sheet metadata for the report header.
type SheetInfo struct {
	ID        string
	Title     string
	OwnerName string
	Kind      string
	UpdatedAt time.Time
}

// CaseInfo holds one test case row.
type CaseInfo struct {
	ID              string
	Title           string
	Steps           string
	Expected        string
	WorkflowStatus  string
	ExecutionStatus string
	AssigneeName    string
}

// BugInfo holds a bug report attached to a case.
type BugInfo struct {
	Title    string
	Severity string
	Reporter string
}

// Service renders sheet run reports.
type Service struct {
	store DataStore
}

func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates a run report in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	sheet, err := s.store.GetSheetReport(ctx, req.SheetID)
	if err != nil {
		return nil, fmt.Errorf("get sheet: %w", err)
	}

	cases, err := s.store.ListCaseReports(ctx, req.SheetID)
	if err != nil {
		return nil, fmt.Errorf("list test cases: %w", err)
	}

	data := TemplateData{
		Title:       sheet.Title,
		OwnerName:   sheet.OwnerName,
		Kind:        sheet.Kind,
		GeneratedAt: time.Now(),
	}

	for _, c := range cases {
		row := TemplateCase{
			Title:           c.Title,
			Steps:           c.Steps,
			Expected:        c.Expected,
			WorkflowStatus:  c.WorkflowStatus,
			ExecutionStatus: c.ExecutionStatus,
			AssigneeName:    c.AssigneeName,
		}
		if req.IncludeBugs {
			bugs, err := s.store.ListBugReportsForCase(ctx, c.ID)
			if err == nil {
				for _, b := range bugs {
					row.Bugs = append(row.Bugs, TemplateBug{
						Title:    b.Title,
						Severity: b.Severity,
						Reporter: b.Reporter,
					})
				}
			}
		}
		data.Cases = append(data.Cases, row)
		data.tally(c.ExecutionStatus)
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, sheet.Title)
	case FormatDOCX:
		return exportDOCX(html, sheet.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
