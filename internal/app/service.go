package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"qasheet/api/internal/assets"
	"qasheet/api/internal/auth"
	"qasheet/api/internal/authpw"
	"qasheet/api/internal/config"
	"qasheet/api/internal/email"
	"qasheet/api/internal/export"
	"qasheet/api/internal/rbac"
	"qasheet/api/internal/revisions"
	"qasheet/api/internal/search"
	"qasheet/api/internal/seen"
	"qasheet/api/internal/store"
	"qasheet/api/internal/util"
	"qasheet/api/internal/workflow"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	Verification string
	JTI          string
	ExpiresAt    time.Time
}

// IsAdmin reports whether the session holds a global admin role.
func (s Session) IsAdmin() bool {
	return rbac.GlobalRole(s.Role).IsAdmin()
}

// Verified reports whether an admin has approved the account.
func (s Session) Verified() bool {
	return s.Verification == "approved"
}

type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	SetVerificationStatus(context.Context, string, string) error
	ListUsersByVerification(context.Context, string) ([]store.User, error)

	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	InsertSheet(context.Context, store.Sheet) error
	GetSheet(context.Context, string) (store.Sheet, error)
	ListSheetsForUser(context.Context, string) ([]store.Sheet, error)
	UpdateSheetVisibility(context.Context, string, string) error
	ArchiveSheet(context.Context, string) error

	GetMembership(context.Context, string, string) (store.Membership, error)
	UpsertMembership(context.Context, store.Membership) error
	DeleteMembership(context.Context, string, string) (bool, error)
	ListMemberships(context.Context, string) ([]store.Membership, error)

	InsertAccessRequest(context.Context, store.AccessRequest) error
	GetAccessRequest(context.Context, string) (store.AccessRequest, error)
	ListPendingAccessRequests(context.Context, string) ([]store.AccessRequest, error)
	ResolveAccessRequest(context.Context, string, string, string, string) (bool, error)
	HasMembershipOrPendingRequest(context.Context, string, string) (bool, error)

	InsertTestCase(context.Context, store.TestCase) error
	GetTestCase(context.Context, string) (store.TestCase, error)
	ListTestCases(context.Context, string) ([]store.TestCase, error)
	ListTestCasesByStatus(context.Context, string, string) ([]store.TestCase, error)
	UpdateTestCaseContent(context.Context, string, string, string, string) error
	TransitionTestCase(context.Context, string, string, string) (bool, error)
	SetExecutionStatus(context.Context, string, string) error

	InsertActivity(context.Context, store.ActivityLogEntry) error
	ListActivity(context.Context, string) ([]store.ActivityLogEntry, error)

	InsertSupportThread(context.Context, store.SupportThread) error
	GetSupportThread(context.Context, string) (store.SupportThread, error)
	ListSupportThreads(context.Context, string) ([]store.SupportThread, error)
	InsertSupportMessage(context.Context, store.SupportMessage) error
	ListSupportMessages(context.Context, string) ([]store.SupportMessage, error)
	UpdateSupportThreadStatus(context.Context, string, string) error
	MarkSeen(context.Context, string, string) (time.Time, error)
	ListSeenBy(context.Context, string) ([]string, error)

	InsertBugReport(context.Context, store.BugReport) error
	ListBugReports(context.Context, string) ([]store.BugReport, error)
}

type revisionService interface {
	EnsureSheetRepo(sheetID, author string) error
	CommitSnapshot(sheetID string, snap revisions.Snapshot, author, message string) (revisions.CommitInfo, error)
	SnapshotAt(sheetID, hash, testCaseID string) (revisions.Snapshot, error)
	History(sheetID string, limit int) ([]revisions.CommitInfo, error)
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore // nil falls back to the database
	authpw    *authpw.Service
	email     *email.Service
	search    *search.Service
	revisions revisionService
	exporter  *export.Service
	seen      *seen.Index
	assets    *assets.Store
}

type Options struct {
	Sessions  sessionStore
	AuthPW    *authpw.Service
	Email     *email.Service
	Search    *search.Service
	Revisions revisionService
	Exporter  *export.Service
	Seen      *seen.Index
	Assets    *assets.Store
}

func New(cfg config.Config, st dataStore, opts Options) *Service {
	return &Service{
		cfg:       cfg,
		store:     st,
		sessions:  opts.Sessions,
		authpw:    opts.AuthPW,
		email:     opts.Email,
		search:    opts.Search,
		revisions: opts.Revisions,
		exporter:  opts.Exporter,
		seen:      opts.Seen,
		assets:    opts.Assets,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// AuthPasswordService exposes the email/password auth service to handlers.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// SMTPConfigured reports whether outgoing mail is available.
func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// AppBaseURL is the public URL used for links in notification mail.
func (s *Service) AppBaseURL() string {
	return s.cfg.AppBaseURL
}

// ----- sessions -----

func (s *Service) IssueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		Ver:  user.VerificationStatus,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.saveRefresh(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		Verification: user.VerificationStatus,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.lookupRefresh(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// Refresh sessions only carry the user ID; load the full record.
	user, err = s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.revokeRefresh(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.IssueSession(ctx, user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:        token,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		Verification: user.VerificationStatus,
		JTI:          claims.JTI,
		ExpiresAt:    time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.revokeRefresh(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) saveRefresh(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if s.sessions != nil {
		return s.sessions.SaveRefreshSession(ctx, tokenHash, userID, expiresAt)
	}
	return s.store.SaveRefreshSession(ctx, tokenHash, userID, expiresAt)
}

func (s *Service) lookupRefresh(ctx context.Context, tokenHash string) (store.User, error) {
	if s.sessions != nil {
		return s.sessions.LookupRefreshSession(ctx, tokenHash)
	}
	return s.store.LookupRefreshSession(ctx, tokenHash)
}

func (s *Service) revokeRefresh(ctx context.Context, tokenHash string) error {
	if s.sessions != nil {
		return s.sessions.RevokeRefreshSession(ctx, tokenHash)
	}
	return s.store.RevokeRefreshSession(ctx, tokenHash)
}

// ----- sheets -----

func (s *Service) CreateSheet(ctx context.Context, session Session, kind, title, description string) (map[string]any, error) {
	if err := s.requireVerified(session); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errValidation("title is required")
	}
	if kind == "" {
		kind = "sheet"
	}
	if kind != "sheet" && kind != "checklist" {
		return nil, errValidation("kind must be sheet or checklist")
	}

	sheet := store.Sheet{
		ID:          util.NewID("sheet"),
		Kind:        kind,
		Title:       title,
		Description: strings.TrimSpace(description),
		OwnerID:     session.UserID,
		Visibility:  string(rbac.VisibilityRestricted),
	}
	if err := s.store.InsertSheet(ctx, sheet); err != nil {
		return nil, err
	}

	if s.revisions != nil {
		if err := s.revisions.EnsureSheetRepo(sheet.ID, session.UserName); err != nil {
			return nil, fmt.Errorf("init sheet revisions: %w", err)
		}
	}
	if s.search != nil {
		s.search.IndexSheet(search.SheetRecord{
			ID:          sheet.ID,
			Title:       sheet.Title,
			Description: sheet.Description,
			Visibility:  sheet.Visibility,
			Kind:        sheet.Kind,
		})
	}

	return sheetPayload(sheet), nil
}

func (s *Service) ListSheets(ctx context.Context, session Session) ([]map[string]any, error) {
	sheets, err := s.store.ListSheetsForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(sheets))
	for _, sheet := range sheets {
		items = append(items, sheetPayload(sheet))
	}
	return items, nil
}

func (s *Service) GetSheet(ctx context.Context, session Session, sheetID string) (map[string]any, error) {
	sheet, access, err := s.sheetAccess(ctx, session, sheetID, rbac.RoleViewer)
	if err != nil {
		return nil, err
	}
	payload := sheetPayload(sheet)
	payload["viewerRole"] = string(access.Role)
	payload["viewerRoleImplicit"] = access.Implicit
	return payload, nil
}

func (s *Service) SetSheetVisibility(ctx context.Context, session Session, sheetID, visibility string) (map[string]any, error) {
	sheet, _, err := s.sheetAccess(ctx, session, sheetID, rbac.RoleOwner)
	if err != nil {
		return nil, err
	}
	vis, ok := rbac.ParseVisibility(visibility)
	if !ok {
		return nil, errValidation("visibility must be restricted, anyoneWithLink, or public")
	}
	if err := s.store.UpdateSheetVisibility(ctx, sheetID, string(vis)); err != nil {
		return nil, err
	}
	sheet.Visibility = string(vis)
	if s.search != nil {
		s.search.IndexSheet(search.SheetRecord{
			ID:          sheet.ID,
			Title:       sheet.Title,
			Description: sheet.Description,
			Visibility:  sheet.Visibility,
			Kind:        sheet.Kind,
		})
	}
	return sheetPayload(sheet), nil
}

func (s *Service) ArchiveSheet(ctx context.Context, session Session, sheetID string) error {
	if _, _, err := s.sheetAccess(ctx, session, sheetID, rbac.RoleOwner); err != nil {
		return err
	}
	if err := s.store.ArchiveSheet(ctx, sheetID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteSheet(sheetID)
	}
	return nil
}

// ----- test cases -----

func (s *Service) CreateTestCase(ctx context.Context, session Session, sheetID, title, steps, expected, assigneeID string) (map[string]any, error) {
	if err := s.requireVerified(session); err != nil {
		return nil, err
	}
	if _, _, err := s.sheetAccess(ctx, session, sheetID, rbac.RoleQATester); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errValidation("title is required")
	}

	item := store.TestCase{
		ID:              util.NewID("tc"),
		SheetID:         sheetID,
		Title:           title,
		Steps:           steps,
		Expected:        expected,
		WorkflowStatus:  string(workflow.Initial),
		ExecutionStatus: "untested",
		AssigneeID:      assigneeID,
		CreatedBy:       session.UserID,
	}
	if err := s.store.InsertTestCase(ctx, item); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexTestCase(search.TestCaseRecord{
			ID:             item.ID,
			Title:          item.Title,
			Steps:          item.Steps,
			Expected:       item.Expected,
			SheetID:        item.SheetID,
			WorkflowStatus: item.WorkflowStatus,
		})
	}
	return testCasePayload(item), nil
}

func (s *Service) ListTestCases(ctx context.Context, session Session, sheetID, workflowStatus string) ([]map[string]any, error) {
	if _, _, err := s.sheetAccess(ctx, session, sheetID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	var (
		cases []store.TestCase
		err   error
	)
	if workflowStatus != "" {
		cases, err = s.store.ListTestCasesByStatus(ctx, sheetID, workflowStatus)
	} else {
		cases, err = s.store.ListTestCases(ctx, sheetID)
	}
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(cases))
	for _, item := range cases {
		items = append(items, testCasePayload(item))
	}
	return items, nil
}

func (s *Service) GetTestCase(ctx context.Context, session Session, sheetID, testCaseID string) (map[string]any, error) {
	item, err := s.loadTestCase(ctx, session, sheetID, testCaseID, rbac.RoleViewer)
	if err != nil {
		return nil, err
	}
	return testCasePayload(item), nil
}

func (s *Service) UpdateTestCaseContent(ctx context.Context, session Session, sheetID, testCaseID, title, steps, expected string) (map[string]any, error) {
	if err := s.requireVerified(session); err != nil {
		return nil, err
	}
	item, err := s.loadTestCase(ctx, session, sheetID, testCaseID, rbac.RoleQATester)
	if err != nil {
		return nil, err
	}
	// Content is frozen while a case sits in review or a terminal state;
	// it must be reopened or sent back first.
	status := workflow.Status(item.WorkflowStatus)
	if status == workflow.StatusWaitingApproval || workflow.IsTerminal(status) {
		return nil, errConflict(fmt.Sprintf("test case content is locked in status %q", item.WorkflowStatus))
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errValidation("title is required")
	}
	if err := s.store.UpdateTestCaseContent(ctx, testCaseID, title, steps, expected); err != nil {
		return nil, err
	}
	item.Title, item.Steps, item.Expected = title, steps, expected
	if s.search != nil {
		s.search.IndexTestCase(search.TestCaseRecord{
			ID:             item.ID,
			Title:          item.Title,
			Steps:          item.Steps,
			Expected:       item.Expected,
			SheetID:        item.SheetID,
			WorkflowStatus: item.WorkflowStatus,
		})
	}
	return testCasePayload(item), nil
}

// loadTestCase resolves a test case, verifies it belongs to the sheet in the
// URL, and checks the caller holds at least min on that sheet.
func (s *Service) loadTestCase(ctx context.Context, session Session, sheetID, testCaseID string, min rbac.Role) (store.TestCase, error) {
	if _, _, err := s.sheetAccess(ctx, session, sheetID, min); err != nil {
		return store.TestCase{}, err
	}
	item, err := s.store.GetTestCase(ctx, testCaseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.TestCase{}, errNotFound("test case not found")
		}
		return store.TestCase{}, err
	}
	if item.SheetID != sheetID {
		return store.TestCase{}, errNotFound("test case not found")
	}
	return item, nil
}

// ----- bug reports -----

func (s *Service) CreateBugReport(ctx context.Context, session Session, sheetID, testCaseID, title, description, severity, attachmentKey string) (map[string]any, error) {
	if err := s.requireVerified(session); err != nil {
		return nil, err
	}
	if _, err := s.loadTestCase(ctx, session, sheetID, testCaseID, rbac.RoleQATester); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errValidation("title is required")
	}
	switch severity {
	case "", "low", "medium", "high", "critical":
	default:
		return nil, errValidation("severity must be low, medium, high, or critical")
	}

	report := store.BugReport{
		ID:            util.NewID("bug"),
		TestCaseID:    testCaseID,
		ReporterID:    session.UserID,
		Title:         title,
		Description:   description,
		Severity:      severity,
		AttachmentKey: attachmentKey,
	}
	if err := s.store.InsertBugReport(ctx, report); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexBug(search.BugRecord{
			ID:          report.ID,
			Title:       report.Title,
			Description: report.Description,
			TestCaseID:  report.TestCaseID,
			SheetID:     sheetID,
			Severity:    report.Severity,
		})
	}
	return bugPayload(report), nil
}

func (s *Service) ListBugReports(ctx context.Context, session Session, sheetID, testCaseID string) ([]map[string]any, error) {
	if _, err := s.loadTestCase(ctx, session, sheetID, testCaseID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	reports, err := s.store.ListBugReports(ctx, testCaseID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(reports))
	for _, report := range reports {
		items = append(items, bugPayload(report))
	}
	return items, nil
}

// ----- attachments -----

// UploadAttachment stores a bug report attachment and returns the key the
// client passes back when filing the bug.
func (s *Service) UploadAttachment(ctx context.Context, session Session, filename, contentType string, r io.Reader, size int64) (map[string]any, error) {
	if s.assets == nil {
		return nil, errNotFound("attachment storage is not configured")
	}
	if err := s.requireVerified(session); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s/%s-%s", session.UserID, util.NewID("att"), filename)
	key, err := s.assets.Upload(ctx, key, r, size, contentType)
	if err != nil {
		return nil, err
	}
	return map[string]any{"key": key}, nil
}

// AttachmentURL returns a time-limited download link for an attachment key.
func (s *Service) AttachmentURL(ctx context.Context, session Session, key string) (map[string]any, error) {
	if s.assets == nil {
		return nil, errNotFound("attachment storage is not configured")
	}
	if key == "" {
		return nil, errValidation("key is required")
	}
	url, err := s.assets.PresignedURL(ctx, key, 15*time.Minute)
	if err != nil {
		return nil, err
	}
	return map[string]any{"url": url}, nil
}

// ----- search -----

func (s *Service) Search(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	if !session.IsAdmin() {
		sheets, err := s.store.ListSheetsForUser(ctx, session.UserID)
		if err != nil {
			return search.Response{}, err
		}
		ids := make([]string, 0, len(sheets))
		for _, sheet := range sheets {
			ids = append(ids, sheet.ID)
		}
		q.VisibleSheetIDs = ids
	}
	return s.search.Search(q), nil
}

// ----- reports and history -----

func (s *Service) ExportSheet(ctx context.Context, session Session, sheetID string, format export.Format, includeBugs bool) (*export.Result, error) {
	if s.exporter == nil {
		return nil, errNotFound("export is not configured")
	}
	if _, _, err := s.sheetAccess(ctx, session, sheetID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{
		SheetID:     sheetID,
		Format:      format,
		IncludeBugs: includeBugs,
	})
}

func (s *Service) SheetHistory(ctx context.Context, session Session, sheetID string, limit int) ([]revisions.CommitInfo, error) {
	if s.revisions == nil {
		return []revisions.CommitInfo{}, nil
	}
	if _, _, err := s.sheetAccess(ctx, session, sheetID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	return s.revisions.History(sheetID, limit)
}

// DiffTestCase compares a test case's snapshot at a past revision against a
// later revision, or against the live row when toHash is empty.
func (s *Service) DiffTestCase(ctx context.Context, session Session, sheetID, testCaseID, fromHash, toHash string) (map[string]any, error) {
	if s.revisions == nil {
		return nil, errNotFound("revision history is not configured")
	}
	if fromHash == "" {
		return nil, errValidation("from revision is required")
	}
	item, err := s.loadTestCase(ctx, session, sheetID, testCaseID, rbac.RoleViewer)
	if err != nil {
		return nil, err
	}

	from, err := s.revisions.SnapshotAt(sheetID, fromHash, testCaseID)
	if err != nil {
		return nil, errNotFound(fmt.Sprintf("no snapshot of this test case at revision %s", fromHash))
	}

	to := revisions.Snapshot{
		TestCaseID:      item.ID,
		Title:           item.Title,
		Steps:           item.Steps,
		Expected:        item.Expected,
		WorkflowStatus:  item.WorkflowStatus,
		ExecutionStatus: item.ExecutionStatus,
	}
	toLabel := "current"
	if toHash != "" {
		to, err = s.revisions.SnapshotAt(sheetID, toHash, testCaseID)
		if err != nil {
			return nil, errNotFound(fmt.Sprintf("no snapshot of this test case at revision %s", toHash))
		}
		toLabel = toHash
	}

	return map[string]any{
		"testCaseId": testCaseID,
		"from":       fromHash,
		"to":         toLabel,
		"changed":    revisions.HasChanges(from, to),
		"fields":     revisions.DiffFields(from, to),
	}, nil
}

// ----- admin -----

func (s *Service) ListUsersByVerification(ctx context.Context, session Session, status string) ([]map[string]any, error) {
	if !session.IsAdmin() {
		return nil, errForbidden("admin role required")
	}
	users, err := s.store.ListUsersByVerification(ctx, status)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, map[string]any{
			"id":                 user.ID,
			"displayName":        user.DisplayName,
			"email":              user.Email,
			"role":               user.Role,
			"verificationStatus": user.VerificationStatus,
			"createdAt":          user.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) SetUserVerification(ctx context.Context, session Session, userID, status string) error {
	if !session.IsAdmin() {
		return errForbidden("admin role required")
	}
	switch status {
	case "pending", "approved", "declined":
	default:
		return errValidation("status must be pending, approved, or declined")
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("user not found")
		}
		return err
	}
	return s.store.SetVerificationStatus(ctx, userID, status)
}

// ----- helpers -----

func (s *Service) requireVerified(session Session) error {
	if session.IsAdmin() {
		return nil
	}
	if !session.Verified() {
		return errForbidden("account pending verification")
	}
	return nil
}

func sheetPayload(sheet store.Sheet) map[string]any {
	return map[string]any{
		"id":          sheet.ID,
		"kind":        sheet.Kind,
		"title":       sheet.Title,
		"description": sheet.Description,
		"ownerId":     sheet.OwnerID,
		"visibility":  sheet.Visibility,
		"createdAt":   sheet.CreatedAt,
		"updatedAt":   sheet.UpdatedAt,
	}
}

func testCasePayload(item store.TestCase) map[string]any {
	return map[string]any{
		"id":              item.ID,
		"sheetId":         item.SheetID,
		"title":           item.Title,
		"steps":           item.Steps,
		"expected":        item.Expected,
		"workflowStatus":  item.WorkflowStatus,
		"executionStatus": item.ExecutionStatus,
		"assigneeId":      nilIfEmpty(item.AssigneeID),
		"createdBy":       item.CreatedBy,
		"createdAt":       item.CreatedAt,
		"updatedAt":       item.UpdatedAt,
	}
}

func bugPayload(report store.BugReport) map[string]any {
	return map[string]any{
		"id":            report.ID,
		"testCaseId":    report.TestCaseID,
		"reporterId":    report.ReporterID,
		"title":         report.Title,
		"description":   report.Description,
		"severity":      report.Severity,
		"attachmentKey": nilIfEmpty(report.AttachmentKey),
		"createdAt":     report.CreatedAt,
	}
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
