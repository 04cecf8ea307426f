package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"qasheet/api/internal/config"
	"qasheet/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn         func(context.Context, string) (store.User, error)
	getUserByEmailFn      func(context.Context, string) (store.User, error)
	setVerificationFn     func(context.Context, string, string) error
	listUsersByVerifFn    func(context.Context, string) ([]store.User, error)
	saveRefreshFn         func(context.Context, string, string, time.Time) error
	lookupRefreshFn       func(context.Context, string) (store.User, error)
	revokeRefreshFn       func(context.Context, string) error
	isTokenRevokedFn      func(context.Context, string) (bool, error)
	insertSheetFn         func(context.Context, store.Sheet) error
	getSheetFn            func(context.Context, string) (store.Sheet, error)
	listSheetsForUserFn   func(context.Context, string) ([]store.Sheet, error)
	updateVisibilityFn    func(context.Context, string, string) error
	archiveSheetFn        func(context.Context, string) error
	getMembershipFn       func(context.Context, string, string) (store.Membership, error)
	upsertMembershipFn    func(context.Context, store.Membership) error
	deleteMembershipFn    func(context.Context, string, string) (bool, error)
	listMembershipsFn     func(context.Context, string) ([]store.Membership, error)
	insertAccessReqFn     func(context.Context, store.AccessRequest) error
	getAccessReqFn        func(context.Context, string) (store.AccessRequest, error)
	listPendingReqFn      func(context.Context, string) ([]store.AccessRequest, error)
	resolveAccessReqFn    func(context.Context, string, string, string, string) (bool, error)
	hasMemberOrPendingFn  func(context.Context, string, string) (bool, error)
	insertTestCaseFn      func(context.Context, store.TestCase) error
	getTestCaseFn         func(context.Context, string) (store.TestCase, error)
	listTestCasesFn       func(context.Context, string) ([]store.TestCase, error)
	updateCaseContentFn   func(context.Context, string, string, string, string) error
	transitionTestCaseFn  func(context.Context, string, string, string) (bool, error)
	listCasesByStatusFn   func(context.Context, string, string) ([]store.TestCase, error)
	setExecutionStatusFn  func(context.Context, string, string) error
	insertActivityFn      func(context.Context, store.ActivityLogEntry) error
	listActivityFn        func(context.Context, string) ([]store.ActivityLogEntry, error)
	getSupportThreadFn    func(context.Context, string) (store.SupportThread, error)
	listSupportThreadsFn  func(context.Context, string) ([]store.SupportThread, error)
	insertSupportMsgFn    func(context.Context, store.SupportMessage) error
	listSupportMessagesFn func(context.Context, string) ([]store.SupportMessage, error)
	markSeenFn            func(context.Context, string, string) (time.Time, error)
	listSeenByFn          func(context.Context, string) ([]string, error)
	insertBugReportFn     func(context.Context, store.BugReport) error
	listBugReportsFn      func(context.Context, string) ([]store.BugReport, error)
}

func (f *fakeStore) Ping(context.Context) error                  { return nil }
func (f *fakeStore) CreateUser(context.Context, store.User) error { return nil }
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, VerificationStatus: "approved"}, nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) SetVerificationStatus(ctx context.Context, userID, status string) error {
	if f.setVerificationFn != nil {
		return f.setVerificationFn(ctx, userID, status)
	}
	return nil
}
func (f *fakeStore) ListUsersByVerification(ctx context.Context, status string) ([]store.User, error) {
	if f.listUsersByVerifFn != nil {
		return f.listUsersByVerifFn(ctx, status)
	}
	return nil, nil
}
func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if f.saveRefreshFn != nil {
		return f.saveRefreshFn(ctx, tokenHash, userID, expiresAt)
	}
	return nil
}
func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupRefreshFn != nil {
		return f.lookupRefreshFn(ctx, tokenHash)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeRefreshFn != nil {
		return f.revokeRefreshFn(ctx, tokenHash)
	}
	return nil
}
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isTokenRevokedFn != nil {
		return f.isTokenRevokedFn(ctx, jti)
	}
	return false, nil
}
func (f *fakeStore) InsertSheet(ctx context.Context, sheet store.Sheet) error {
	if f.insertSheetFn != nil {
		return f.insertSheetFn(ctx, sheet)
	}
	return nil
}
func (f *fakeStore) GetSheet(ctx context.Context, sheetID string) (store.Sheet, error) {
	if f.getSheetFn != nil {
		return f.getSheetFn(ctx, sheetID)
	}
	return store.Sheet{}, sql.ErrNoRows
}
func (f *fakeStore) ListSheetsForUser(ctx context.Context, userID string) ([]store.Sheet, error) {
	if f.listSheetsForUserFn != nil {
		return f.listSheetsForUserFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateSheetVisibility(ctx context.Context, sheetID, visibility string) error {
	if f.updateVisibilityFn != nil {
		return f.updateVisibilityFn(ctx, sheetID, visibility)
	}
	return nil
}
func (f *fakeStore) ArchiveSheet(ctx context.Context, sheetID string) error {
	if f.archiveSheetFn != nil {
		return f.archiveSheetFn(ctx, sheetID)
	}
	return nil
}
func (f *fakeStore) GetMembership(ctx context.Context, sheetID, userID string) (store.Membership, error) {
	if f.getMembershipFn != nil {
		return f.getMembershipFn(ctx, sheetID, userID)
	}
	return store.Membership{}, sql.ErrNoRows
}
func (f *fakeStore) UpsertMembership(ctx context.Context, m store.Membership) error {
	if f.upsertMembershipFn != nil {
		return f.upsertMembershipFn(ctx, m)
	}
	return nil
}
func (f *fakeStore) DeleteMembership(ctx context.Context, sheetID, userID string) (bool, error) {
	if f.deleteMembershipFn != nil {
		return f.deleteMembershipFn(ctx, sheetID, userID)
	}
	return false, nil
}
func (f *fakeStore) ListMemberships(ctx context.Context, sheetID string) ([]store.Membership, error) {
	if f.listMembershipsFn != nil {
		return f.listMembershipsFn(ctx, sheetID)
	}
	return nil, nil
}
func (f *fakeStore) InsertAccessRequest(ctx context.Context, req store.AccessRequest) error {
	if f.insertAccessReqFn != nil {
		return f.insertAccessReqFn(ctx, req)
	}
	return nil
}
func (f *fakeStore) GetAccessRequest(ctx context.Context, requestID string) (store.AccessRequest, error) {
	if f.getAccessReqFn != nil {
		return f.getAccessReqFn(ctx, requestID)
	}
	return store.AccessRequest{}, sql.ErrNoRows
}
func (f *fakeStore) ListPendingAccessRequests(ctx context.Context, sheetID string) ([]store.AccessRequest, error) {
	if f.listPendingReqFn != nil {
		return f.listPendingReqFn(ctx, sheetID)
	}
	return nil, nil
}
func (f *fakeStore) ResolveAccessRequest(ctx context.Context, requestID, status, grantedRole, resolvedBy string) (bool, error) {
	if f.resolveAccessReqFn != nil {
		return f.resolveAccessReqFn(ctx, requestID, status, grantedRole, resolvedBy)
	}
	return false, nil
}
func (f *fakeStore) HasMembershipOrPendingRequest(ctx context.Context, sheetID, userID string) (bool, error) {
	if f.hasMemberOrPendingFn != nil {
		return f.hasMemberOrPendingFn(ctx, sheetID, userID)
	}
	return false, nil
}
func (f *fakeStore) InsertTestCase(ctx context.Context, item store.TestCase) error {
	if f.insertTestCaseFn != nil {
		return f.insertTestCaseFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetTestCase(ctx context.Context, testCaseID string) (store.TestCase, error) {
	if f.getTestCaseFn != nil {
		return f.getTestCaseFn(ctx, testCaseID)
	}
	return store.TestCase{}, sql.ErrNoRows
}
func (f *fakeStore) ListTestCases(ctx context.Context, sheetID string) ([]store.TestCase, error) {
	if f.listTestCasesFn != nil {
		return f.listTestCasesFn(ctx, sheetID)
	}
	return nil, nil
}
func (f *fakeStore) ListTestCasesByStatus(ctx context.Context, sheetID, status string) ([]store.TestCase, error) {
	if f.listCasesByStatusFn != nil {
		return f.listCasesByStatusFn(ctx, sheetID, status)
	}
	return nil, nil
}
func (f *fakeStore) UpdateTestCaseContent(ctx context.Context, testCaseID, title, steps, expected string) error {
	if f.updateCaseContentFn != nil {
		return f.updateCaseContentFn(ctx, testCaseID, title, steps, expected)
	}
	return nil
}
func (f *fakeStore) TransitionTestCase(ctx context.Context, testCaseID, fromStatus, toStatus string) (bool, error) {
	if f.transitionTestCaseFn != nil {
		return f.transitionTestCaseFn(ctx, testCaseID, fromStatus, toStatus)
	}
	return true, nil
}
func (f *fakeStore) SetExecutionStatus(ctx context.Context, testCaseID, status string) error {
	if f.setExecutionStatusFn != nil {
		return f.setExecutionStatusFn(ctx, testCaseID, status)
	}
	return nil
}
func (f *fakeStore) InsertActivity(ctx context.Context, entry store.ActivityLogEntry) error {
	if f.insertActivityFn != nil {
		return f.insertActivityFn(ctx, entry)
	}
	return nil
}
func (f *fakeStore) ListActivity(ctx context.Context, testCaseID string) ([]store.ActivityLogEntry, error) {
	if f.listActivityFn != nil {
		return f.listActivityFn(ctx, testCaseID)
	}
	return nil, nil
}
func (f *fakeStore) InsertSupportThread(context.Context, store.SupportThread) error { return nil }
func (f *fakeStore) GetSupportThread(ctx context.Context, threadID string) (store.SupportThread, error) {
	if f.getSupportThreadFn != nil {
		return f.getSupportThreadFn(ctx, threadID)
	}
	return store.SupportThread{}, sql.ErrNoRows
}
func (f *fakeStore) ListSupportThreads(ctx context.Context, authorID string) ([]store.SupportThread, error) {
	if f.listSupportThreadsFn != nil {
		return f.listSupportThreadsFn(ctx, authorID)
	}
	return nil, nil
}
func (f *fakeStore) InsertSupportMessage(ctx context.Context, message store.SupportMessage) error {
	if f.insertSupportMsgFn != nil {
		return f.insertSupportMsgFn(ctx, message)
	}
	return nil
}
func (f *fakeStore) ListSupportMessages(ctx context.Context, threadID string) ([]store.SupportMessage, error) {
	if f.listSupportMessagesFn != nil {
		return f.listSupportMessagesFn(ctx, threadID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateSupportThreadStatus(context.Context, string, string) error { return nil }
func (f *fakeStore) MarkSeen(ctx context.Context, messageID, viewerID string) (time.Time, error) {
	if f.markSeenFn != nil {
		return f.markSeenFn(ctx, messageID, viewerID)
	}
	return time.Time{}, nil
}
func (f *fakeStore) ListSeenBy(ctx context.Context, threadID string) ([]string, error) {
	if f.listSeenByFn != nil {
		return f.listSeenByFn(ctx, threadID)
	}
	return nil, nil
}
func (f *fakeStore) InsertBugReport(ctx context.Context, report store.BugReport) error {
	if f.insertBugReportFn != nil {
		return f.insertBugReportFn(ctx, report)
	}
	return nil
}
func (f *fakeStore) ListBugReports(ctx context.Context, testCaseID string) ([]store.BugReport, error) {
	if f.listBugReportsFn != nil {
		return f.listBugReportsFn(ctx, testCaseID)
	}
	return nil, nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		AppBaseURL: "http://localhost:3000",
	}
}

func newTestService(st dataStore) *Service {
	return New(testConfig(), st, Options{})
}

func verifiedSession(userID, role string) Session {
	return Session{UserID: userID, UserName: userID, Role: role, Verification: "approved"}
}

func TestIssueAndParseSession(t *testing.T) {
	st := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Dana", Role: "user", VerificationStatus: "approved"}, nil
		},
	}
	svc := newTestService(st)
	ctx := context.Background()

	issued, err := svc.IssueSession(ctx, store.User{ID: "usr_1", DisplayName: "Dana", Role: "user", VerificationStatus: "approved"})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if issued.Token == "" || issued.RefreshToken == "" {
		t.Fatal("expected access and refresh tokens")
	}

	parsed, err := svc.SessionFromToken(ctx, issued.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if parsed.UserID != "usr_1" || parsed.UserName != "Dana" {
		t.Fatalf("unexpected session: %+v", parsed)
	}
	if parsed.JTI != issued.JTI {
		t.Fatalf("JTI mismatch: %q vs %q", parsed.JTI, issued.JTI)
	}
}

func TestSessionRejectedForRevokedToken(t *testing.T) {
	st := &fakeStore{
		isTokenRevokedFn: func(context.Context, string) (bool, error) { return true, nil },
	}
	svc := newTestService(st)
	ctx := context.Background()

	issued, err := svc.IssueSession(ctx, store.User{ID: "usr_1", Role: "user", VerificationStatus: "approved"})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, issued.Token); err == nil {
		t.Fatal("expected error for revoked token")
	}
}

func TestSessionRejectedForDeactivatedUser(t *testing.T) {
	deactivated := time.Now()
	st := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DeactivatedAt: &deactivated}, nil
		},
	}
	svc := newTestService(st)
	ctx := context.Background()

	issued, err := svc.IssueSession(ctx, store.User{ID: "usr_1", Role: "user"})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, issued.Token); err == nil {
		t.Fatal("expected error for deactivated user")
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	saved := make(map[string]string)
	revoked := make(map[string]bool)
	st := &fakeStore{
		saveRefreshFn: func(_ context.Context, tokenHash, userID string, _ time.Time) error {
			saved[tokenHash] = userID
			return nil
		},
		lookupRefreshFn: func(_ context.Context, tokenHash string) (store.User, error) {
			if userID, ok := saved[tokenHash]; ok && !revoked[tokenHash] {
				return store.User{ID: userID}, nil
			}
			return store.User{}, sql.ErrNoRows
		},
		revokeRefreshFn: func(_ context.Context, tokenHash string) error {
			revoked[tokenHash] = true
			return nil
		},
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, Role: "user", VerificationStatus: "approved"}, nil
		},
	}
	svc := newTestService(st)
	ctx := context.Background()

	first, err := svc.IssueSession(ctx, store.User{ID: "usr_1", Role: "user", VerificationStatus: "approved"})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	second, err := svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	// The old token is spent.
	if _, err := svc.Refresh(ctx, first.RefreshToken); err == nil {
		t.Fatal("expected spent refresh token to be rejected")
	}
}

func TestUnverifiedUserCannotCreateSheet(t *testing.T) {
	svc := newTestService(&fakeStore{})
	session := Session{UserID: "usr_1", Role: "user", Verification: "pending"}

	_, err := svc.CreateSheet(context.Background(), session, "sheet", "Smoke tests", "")
	if code := domainCode(err); code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %v (%v)", code, err)
	}
}

func TestCreateSheetRequiresTitle(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.CreateSheet(context.Background(), verifiedSession("usr_1", "user"), "sheet", "   ", "")
	if code := domainCode(err); code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v (%v)", code, err)
	}
}

// domainCode extracts the error code, or the raw message for non-domain errors.
func domainCode(err error) string {
	if err == nil {
		return ""
	}
	var derr *DomainError
	if !errors.As(err, &derr) {
		return err.Error()
	}
	return derr.Code
}

func TestSetUserVerificationAcceptsDecisionStatuses(t *testing.T) {
	recorded := map[string]string{}
	st := &fakeStore{
		setVerificationFn: func(_ context.Context, userID, status string) error {
			recorded[userID] = status
			return nil
		},
	}
	svc := newTestService(st)
	admin := Session{UserID: "usr_admin", Role: "admin", Verification: "approved"}

	for user, status := range map[string]string{"usr_1": "approved", "usr_2": "declined", "usr_3": "pending"} {
		if err := svc.SetUserVerification(context.Background(), admin, user, status); err != nil {
			t.Fatalf("SetUserVerification(%s, %s): %v", user, status, err)
		}
		if recorded[user] != status {
			t.Fatalf("expected %s recorded for %s, got %q", status, user, recorded[user])
		}
	}

	err := svc.SetUserVerification(context.Background(), admin, "usr_4", "verified")
	if code := domainCode(err); code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR for unknown status, got %v", code)
	}
}

func TestApprovedSessionIsVerified(t *testing.T) {
	if !(Session{Verification: "approved"}).Verified() {
		t.Fatal("approved account must count as verified")
	}
	for _, status := range []string{"pending", "declined"} {
		if (Session{Verification: status}).Verified() {
			t.Fatalf("%s account must not count as verified", status)
		}
	}
}
