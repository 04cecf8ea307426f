package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"qasheet/api/internal/rbac"
	"qasheet/api/internal/store"
	"qasheet/api/internal/util"
)

// effectiveAccess resolves the caller's role on a sheet. Precedence: global
// admin, sheet owner, explicit membership, then an implicit viewer grant from
// the sheet's visibility. Implicit grants authorize reads only.
func (s *Service) effectiveAccess(ctx context.Context, session Session, sheet store.Sheet) (rbac.Access, error) {
	if session.IsAdmin() {
		return rbac.Access{Role: rbac.RoleOwner}, nil
	}
	if sheet.OwnerID == session.UserID {
		return rbac.Access{Role: rbac.RoleOwner}, nil
	}

	membership, err := s.store.GetMembership(ctx, sheet.ID, session.UserID)
	switch {
	case err == nil:
		role, ok := rbac.Parse(membership.Role)
		if !ok {
			return rbac.Access{}, fmt.Errorf("membership for %s on %s holds unknown role %q", session.UserID, sheet.ID, membership.Role)
		}
		return rbac.Access{Role: role}, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to visibility
	default:
		return rbac.Access{}, err
	}

	switch rbac.Visibility(sheet.Visibility) {
	case rbac.VisibilityPublic, rbac.VisibilityAnyoneWithLink:
		return rbac.Access{Role: rbac.RoleViewer, Implicit: true}, nil
	}
	return rbac.Access{}, errNotFound("sheet not found")
}

// sheetAccess loads the sheet and verifies the caller holds at least min.
// Unknown sheets and sheets the caller cannot see both come back NOT_FOUND so
// probing for IDs reveals nothing.
func (s *Service) sheetAccess(ctx context.Context, session Session, sheetID string, min rbac.Role) (store.Sheet, rbac.Access, error) {
	sheet, err := s.store.GetSheet(ctx, sheetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Sheet{}, rbac.Access{}, errNotFound("sheet not found")
		}
		return store.Sheet{}, rbac.Access{}, err
	}
	if sheet.ArchivedAt != nil && !session.IsAdmin() && sheet.OwnerID != session.UserID {
		return store.Sheet{}, rbac.Access{}, errNotFound("sheet not found")
	}

	access, err := s.effectiveAccess(ctx, session, sheet)
	if err != nil {
		return store.Sheet{}, rbac.Access{}, err
	}
	if !access.Allows(min) {
		return store.Sheet{}, rbac.Access{}, errForbidden(fmt.Sprintf("requires %s role or higher", min))
	}
	return sheet, access, nil
}

// ----- member management -----

func (s *Service) ListMembers(ctx context.Context, session Session, sheetID string) ([]map[string]any, error) {
	sheet, _, err := s.sheetAccess(ctx, session, sheetID, rbac.RoleViewer)
	if err != nil {
		return nil, err
	}
	memberships, err := s.store.ListMemberships(ctx, sheetID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(memberships)+1)
	// The owner has no membership row; synthesize the entry so clients see
	// one uniform list.
	owner, err := s.store.GetUserByID(ctx, sheet.OwnerID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	items = append(items, map[string]any{
		"userId":      sheet.OwnerID,
		"displayName": owner.DisplayName,
		"email":       owner.Email,
		"role":        string(rbac.RoleOwner),
	})
	for _, m := range memberships {
		items = append(items, map[string]any{
			"userId":      m.UserID,
			"displayName": m.UserName,
			"email":       m.UserEmail,
			"role":        m.Role,
			"grantedBy":   nilIfEmpty(m.GrantedBy),
			"grantedAt":   m.GrantedAt,
		})
	}
	return items, nil
}

func (s *Service) GrantRole(ctx context.Context, session Session, sheetID, userID, role string) error {
	sheet, _, err := s.sheetAccess(ctx, session, sheetID, rbac.RoleOwner)
	if err != nil {
		return err
	}
	parsed, ok := rbac.Parse(role)
	if !ok || parsed == rbac.RoleOwner {
		return errValidation("role must be viewer, qa_tester, or qa_lead")
	}
	if userID == sheet.OwnerID {
		return errConflict("the sheet owner already holds every permission")
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("user not found")
		}
		return err
	}
	return s.store.UpsertMembership(ctx, store.Membership{
		SheetID:   sheetID,
		UserID:    userID,
		Role:      string(parsed),
		GrantedBy: session.UserID,
	})
}

func (s *Service) RevokeRole(ctx context.Context, session Session, sheetID, userID string) error {
	sheet, _, err := s.sheetAccess(ctx, session, sheetID, rbac.RoleOwner)
	if err != nil {
		return err
	}
	if userID == sheet.OwnerID {
		return errConflict("the sheet owner cannot be removed")
	}
	removed, err := s.store.DeleteMembership(ctx, sheetID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return errNotFound("membership not found")
	}
	return nil
}

// ----- access requests -----

func (s *Service) RequestAccess(ctx context.Context, session Session, sheetID, role, message string) (map[string]any, error) {
	if err := s.requireVerified(session); err != nil {
		return nil, err
	}
	sheet, err := s.store.GetSheet(ctx, sheetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("sheet not found")
		}
		return nil, err
	}
	if sheet.ArchivedAt != nil {
		return nil, errNotFound("sheet not found")
	}
	if sheet.OwnerID == session.UserID {
		return nil, errConflict("you already own this sheet")
	}
	parsed, ok := rbac.Parse(role)
	if !ok || parsed == rbac.RoleOwner {
		return nil, errValidation("role must be viewer, qa_tester, or qa_lead")
	}

	// Cheap probe first for a friendly error; the partial unique index is
	// the actual guarantee under races.
	exists, err := s.store.HasMembershipOrPendingRequest(ctx, sheetID, session.UserID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errConflict("you already have access or a pending request on this sheet")
	}

	req := store.AccessRequest{
		ID:            util.NewID("areq"),
		SheetID:       sheetID,
		RequesterID:   session.UserID,
		RequestedRole: string(parsed),
		Message:       strings.TrimSpace(message),
		Status:        "pending",
	}
	if err := s.store.InsertAccessRequest(ctx, req); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, errConflict("you already have access or a pending request on this sheet")
		}
		return nil, err
	}

	s.notifyAccessRequested(ctx, sheet, session, req)

	return accessRequestPayload(req), nil
}

func (s *Service) ListPendingRequests(ctx context.Context, session Session, sheetID string) ([]map[string]any, error) {
	if _, _, err := s.sheetAccess(ctx, session, sheetID, rbac.RoleQALead); err != nil {
		return nil, err
	}
	requests, err := s.store.ListPendingAccessRequests(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(requests))
	for _, req := range requests {
		payload := accessRequestPayload(req)
		payload["requesterName"] = req.RequesterName
		payload["requesterEmail"] = req.RequesterEmail
		items = append(items, payload)
	}
	return items, nil
}

// ResolveAccessRequest approves or declines a pending request. On approval
// the resolver may grant a different role than requested; the row keeps both.
// Exactly one of two racing resolvers wins; the loser gets ALREADY_RESOLVED.
func (s *Service) ResolveAccessRequest(ctx context.Context, session Session, sheetID, requestID, decision, grantRole string) (map[string]any, error) {
	if _, _, err := s.sheetAccess(ctx, session, sheetID, rbac.RoleQALead); err != nil {
		return nil, err
	}

	req, err := s.store.GetAccessRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("access request not found")
		}
		return nil, err
	}
	if req.SheetID != sheetID {
		return nil, errNotFound("access request not found")
	}

	var status, granted string
	switch decision {
	case "approve":
		status = "approved"
		granted = req.RequestedRole
		if grantRole != "" {
			parsed, ok := rbac.Parse(grantRole)
			if !ok || parsed == rbac.RoleOwner {
				return nil, errValidation("grantRole must be viewer, qa_tester, or qa_lead")
			}
			granted = string(parsed)
		}
	case "decline":
		status = "declined"
	default:
		return nil, errValidation("decision must be approve or decline")
	}

	won, err := s.store.ResolveAccessRequest(ctx, requestID, status, granted, session.UserID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, errAlreadyResolved("access request was already resolved")
	}

	if status == "approved" {
		if err := s.store.UpsertMembership(ctx, store.Membership{
			SheetID:   sheetID,
			UserID:    req.RequesterID,
			Role:      granted,
			GrantedBy: session.UserID,
		}); err != nil {
			return nil, err
		}
	}

	s.notifyAccessResolved(ctx, sheetID, req.RequesterID, status, granted)

	req.Status = status
	req.GrantedRole = granted
	req.ResolvedBy = session.UserID
	return accessRequestPayload(req), nil
}

// BulkApprove resolves a batch of pending requests at their requested roles.
// Each item settles independently; the summary reports per-item outcomes.
func (s *Service) BulkApprove(ctx context.Context, session Session, sheetID string, requestIDs []string) (map[string]any, error) {
	if _, _, err := s.sheetAccess(ctx, session, sheetID, rbac.RoleQALead); err != nil {
		return nil, err
	}
	if len(requestIDs) == 0 {
		return nil, errValidation("requestIds must not be empty")
	}

	approved, skipped := 0, 0
	outcomes := make([]map[string]any, 0, len(requestIDs))
	for _, requestID := range requestIDs {
		outcome := map[string]any{"requestId": requestID}
		_, err := s.ResolveAccessRequest(ctx, session, sheetID, requestID, "approve", "")
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

// ----- notifications -----

// Notification mail is best-effort; a dead SMTP relay never fails the
// request that triggered it.
func (s *Service) notifyAccessRequested(ctx context.Context, sheet store.Sheet, session Session, req store.AccessRequest) {
	if !s.SMTPConfigured() {
		return
	}
	owner, err := s.store.GetUserByID(ctx, sheet.OwnerID)
	if err != nil {
		log.Printf("load sheet owner for notification sheet=%s: %v", sheet.ID, err)
		return
	}
	go func() {
		reviewURL := fmt.Sprintf("%s/sheets/%s/requests", s.cfg.AppBaseURL, sheet.ID)
		if err := s.email.SendAccessRequestedEmail(owner.Email, sheet.Title, session.UserName, req.RequestedRole, req.Message, reviewURL); err != nil {
			log.Printf("send access requested mail sheet=%s: %v", sheet.ID, err)
		}
	}()
}

func (s *Service) notifyAccessResolved(ctx context.Context, sheetID, requesterID, outcome, grantedRole string) {
	if !s.SMTPConfigured() {
		return
	}
	requester, err := s.store.GetUserByID(ctx, requesterID)
	if err != nil {
		log.Printf("load requester for notification sheet=%s: %v", sheetID, err)
		return
	}
	sheet, err := s.store.GetSheet(ctx, sheetID)
	if err != nil {
		log.Printf("load sheet for notification sheet=%s: %v", sheetID, err)
		return
	}
	go func() {
		sheetURL := fmt.Sprintf("%s/sheets/%s", s.cfg.AppBaseURL, sheetID)
		if err := s.email.SendAccessResolvedEmail(requester.Email, sheet.Title, outcome, grantedRole, sheetURL); err != nil {
			log.Printf("send access resolved mail sheet=%s: %v", sheetID, err)
		}
	}()
}

func accessRequestPayload(req store.AccessRequest) map[string]any {
	return map[string]any{
		"id":            req.ID,
		"sheetId":       req.SheetID,
		"requesterId":   req.RequesterID,
		"requestedRole": req.RequestedRole,
		"grantedRole":   nilIfEmpty(req.GrantedRole),
		"message":       req.Message,
		"status":        req.Status,
		"resolvedBy":    nilIfEmpty(req.ResolvedBy),
		"createdAt":     req.CreatedAt,
	}
}
