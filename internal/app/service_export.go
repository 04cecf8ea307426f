package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"qasheet/api/internal/export"
	"qasheet/api/internal/store"
)

// exportStore adapts the persistence layer to the report renderer, joining
// in the display names the report shows instead of raw user IDs.
type exportStore struct {
	store dataStore
}

// NewExportStore wires the report renderer's data source.
func NewExportStore(st *store.PostgresStore) export.DataStore {
	return &exportStore{store: st}
}

func (e *exportStore) GetSheetReport(ctx context.Context, sheetID string) (export.SheetInfo, error) {
	sheet, err := e.store.GetSheet(ctx, sheetID)
	if err != nil {
		return export.SheetInfo{}, err
	}
	ownerName := sheet.OwnerID
	if owner, err := e.store.GetUserByID(ctx, sheet.OwnerID); err == nil {
		ownerName = owner.DisplayName
	}
	return export.SheetInfo{
		ID:        sheet.ID,
		Title:     sheet.Title,
		OwnerName: ownerName,
		Kind:      sheet.Kind,
		UpdatedAt: sheet.UpdatedAt,
	}, nil
}

func (e *exportStore) ListCaseReports(ctx context.Context, sheetID string) ([]export.CaseInfo, error) {
	cases, err := e.store.ListTestCases(ctx, sheetID)
	if err != nil {
		return nil, err
	}

	// Resolve assignee names once per distinct user.
	names := make(map[string]string)
	resolve := func(userID string) string {
		if userID == "" {
			return ""
		}
		if name, ok := names[userID]; ok {
			return name
		}
		name := userID
		if user, err := e.store.GetUserByID(ctx, userID); err == nil {
			name = user.DisplayName
		} else if !errors.Is(err, sql.ErrNoRows) {
			name = userID
		}
		names[userID] = name
		return name
	}

	items := make([]export.CaseInfo, 0, len(cases))
	for _, item := range cases {
		items = append(items, export.CaseInfo{
			ID:              item.ID,
			Title:           item.Title,
			Steps:           item.Steps,
			Expected:        item.Expected,
			WorkflowStatus:  item.WorkflowStatus,
			ExecutionStatus: item.ExecutionStatus,
			AssigneeName:    resolve(item.AssigneeID),
		})
	}
	return items, nil
}

func (e *exportStore) ListBugReportsForCase(ctx context.Context, testCaseID string) ([]export.BugInfo, error) {
	reports, err := e.store.ListBugReports(ctx, testCaseID)
	if err != nil {
		return nil, fmt.Errorf("list bug reports: %w", err)
	}
	items := make([]export.BugInfo, 0, len(reports))
	for _, report := range reports {
		reporter := report.ReporterID
		if user, err := e.store.GetUserByID(ctx, report.ReporterID); err == nil {
			reporter = user.DisplayName
		}
		items = append(items, export.BugInfo{
			Title:    report.Title,
			Severity: report.Severity,
			Reporter: reporter,
		})
	}
	return items, nil
}
