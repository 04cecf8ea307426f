package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"qasheet/api/internal/rbac"
	"qasheet/api/internal/revisions"
	"qasheet/api/internal/search"
	"qasheet/api/internal/store"
	"qasheet/api/internal/workflow"
)

// TransitionTestCase applies a workflow action to a test case. The permission
// check happens before the write, so a forbidden attempt leaves no activity
// entry. The status CAS in the store serializes racing writers; the loser
// sees INVALID_TRANSITION, as it would on an immediate retry.
func (s *Service) TransitionTestCase(ctx context.Context, session Session, sheetID, testCaseID, action string) (map[string]any, error) {
	if err := s.requireVerified(session); err != nil {
		return nil, err
	}
	sheet, access, err := s.sheetAccess(ctx, session, sheetID, rbac.RoleViewer)
	if err != nil {
		return nil, err
	}
	item, err := s.store.GetTestCase(ctx, testCaseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("test case not found")
		}
		return nil, err
	}
	if item.SheetID != sheetID {
		return nil, errNotFound("test case not found")
	}

	parsed, ok := workflow.ParseAction(action)
	if !ok {
		return nil, errValidation(fmt.Sprintf("unknown action %q", action))
	}
	transition, err := workflow.Next(workflow.Status(item.WorkflowStatus), parsed)
	if err != nil {
		return nil, errInvalidTransition(
			fmt.Sprintf("cannot %s from status %q", action, item.WorkflowStatus),
			map[string]any{"from": item.WorkflowStatus, "action": action},
		)
	}
	if !access.Allows(transition.MinRole) {
		return nil, errForbidden(fmt.Sprintf("%s requires %s role or higher", action, transition.MinRole))
	}
	// Submitting is personal to the case: only its author or assignee sends
	// it up for review. qa_lead and above may submit on their behalf.
	if parsed == workflow.ActionSubmitForReview &&
		session.UserID != item.CreatedBy && session.UserID != item.AssigneeID &&
		!access.Allows(rbac.RoleQALead) {
		return nil, errForbidden("only the case author or assignee may submit it for review")
	}

	won, err := s.store.TransitionTestCase(ctx, testCaseID, string(transition.From), string(transition.To))
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, errInvalidTransition(
			"test case status changed underneath you; reload and retry",
			map[string]any{"from": item.WorkflowStatus, "action": action},
		)
	}

	s.logActivity(ctx, testCaseID, "Status Change", session.UserID,
		fmt.Sprintf("%s → %s", transition.From, transition.To))

	// A submit closes an authoring cycle; snapshot the content so the
	// review trail records exactly what was sent up.
	if parsed == workflow.ActionSubmitForReview && s.revisions != nil {
		snap := revisions.Snapshot{
			TestCaseID:      item.ID,
			Title:           item.Title,
			Steps:           item.Steps,
			Expected:        item.Expected,
			WorkflowStatus:  string(transition.To),
			ExecutionStatus: item.ExecutionStatus,
		}
		message := fmt.Sprintf("Submit %q for review", item.Title)
		if _, err := s.revisions.CommitSnapshot(sheetID, snap, session.UserName, message); err != nil {
			log.Printf("snapshot test case tc=%s: %v", testCaseID, err)
		}
	}

	item.WorkflowStatus = string(transition.To)
	if s.search != nil {
		s.search.IndexTestCase(search.TestCaseRecord{
			ID:             item.ID,
			Title:          item.Title,
			Steps:          item.Steps,
			Expected:       item.Expected,
			SheetID:        sheet.ID,
			WorkflowStatus: item.WorkflowStatus,
		})
	}
	return testCasePayload(item), nil
}

// BulkApproveTestCases approves every listed test case awaiting review, or
// all of them when caseIDs is empty. Each case commits independently: one
// that raced, moved, or was never waiting is skipped with a reason while the
// rest still advance. There is no batch rollback.
func (s *Service) BulkApproveTestCases(ctx context.Context, session Session, sheetID string, caseIDs []string) (map[string]any, error) {
	if _, _, err := s.sheetAccess(ctx, session, sheetID, rbac.RoleQALead); err != nil {
		return nil, err
	}
	if len(caseIDs) == 0 {
		waiting, err := s.store.ListTestCasesByStatus(ctx, sheetID, string(workflow.StatusWaitingApproval))
		if err != nil {
			return nil, err
		}
		for _, item := range waiting {
			caseIDs = append(caseIDs, item.ID)
		}
	}

	approved, skipped := 0, 0
	outcomes := make([]map[string]any, 0, len(caseIDs))
	for _, testCaseID := range caseIDs {
		outcome := map[string]any{"testCaseId": testCaseID}
		_, err := s.TransitionTestCase(ctx, session, sheetID, testCaseID, string(workflow.ActionApprove))
		switch {
		case err == nil:
			approved++
			outcome["status"] = "approved"
		default:
			var derr *DomainError
			if !errors.As(err, &derr) {
				return nil, err
			}
			skipped++
			outcome["status"] = "skipped"
			outcome["reason"] = derr.Code
		}
		outcomes = append(outcomes, outcome)
	}
	return map[string]any{
		"approved": approved,
		"skipped":  skipped,
		"outcomes": outcomes,
	}, nil
}

// SetExecutionStatus records a test run outcome. It is orthogonal to the
// workflow: passing a case does not approve it and approval does not mark it
// passed.
func (s *Service) SetExecutionStatus(ctx context.Context, session Session, sheetID, testCaseID, status string) (map[string]any, error) {
	if err := s.requireVerified(session); err != nil {
		return nil, err
	}
	item, err := s.loadTestCase(ctx, session, sheetID, testCaseID, rbac.RoleQATester)
	if err != nil {
		return nil, err
	}
	parsed, ok := workflow.ParseExecutionStatus(status)
	if !ok {
		return nil, errValidation("executionStatus must be untested, passed, failed, blocked, or skipped")
	}
	if err := s.store.SetExecutionStatus(ctx, testCaseID, string(parsed)); err != nil {
		return nil, err
	}

	s.logActivity(ctx, testCaseID, "Execution Status Change", session.UserID,
		fmt.Sprintf("%s → %s", item.ExecutionStatus, parsed))

	item.ExecutionStatus = string(parsed)
	return testCasePayload(item), nil
}

func (s *Service) ListActivity(ctx context.Context, session Session, sheetID, testCaseID string) ([]map[string]any, error) {
	if _, err := s.loadTestCase(ctx, session, sheetID, testCaseID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	entries, err := s.store.ListActivity(ctx, testCaseID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		items = append(items, map[string]any{
			"id":         entry.ID,
			"testCaseId": entry.TestCaseID,
			"action":     entry.Action,
			"userId":     entry.UserID,
			"userName":   entry.UserName,
			"details":    entry.Details,
			"createdAt":  entry.CreatedAt,
		})
	}
	return items, nil
}

// logActivity appends to the audit trail. The trail is advisory next to the
// authoritative row state, so a failed append logs and moves on rather than
// failing the mutation that already committed.
func (s *Service) logActivity(ctx context.Context, testCaseID, action, userID, details string) {
	err := s.store.InsertActivity(ctx, store.ActivityLogEntry{
		TestCaseID: testCaseID,
		Action:     action,
		UserID:     userID,
		Details:    details,
	})
	if err != nil {
		log.Printf("append activity tc=%s action=%s: %v", testCaseID, action, err)
	}
}

