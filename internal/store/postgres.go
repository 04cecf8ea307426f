package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicate is returned when an insert would violate a uniqueness
// invariant (e.g. a second pending access request for the same requester).
var ErrDuplicate = errors.New("duplicate row")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ----- users -----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	role := user.Role
	if role == "" {
		role = "user"
	}
	verification := user.VerificationStatus
	if verification == "" {
		verification = "pending"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, verification_status, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, role, verification, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, COALESCE(password_hash, ''), role, verification_status, is_email_verified, deactivated_at, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.VerificationStatus, &user.IsEmailVerified, &user.DeactivatedAt, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, COALESCE(password_hash, ''), role, verification_status, is_email_verified, deactivated_at, created_at
		FROM users
		WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.VerificationStatus, &user.IsEmailVerified, &user.DeactivatedAt, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// SetVerificationStatus records an admin's verification decision. The status
// is soft state only; users are never deleted.
func (s *PostgresStore) SetVerificationStatus(ctx context.Context, userID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_status=$2, updated_at=NOW() WHERE id=$1
	`, userID, status)
	if err != nil {
		return fmt.Errorf("set verification status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set verification status rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListUsersByVerification(ctx context.Context, status string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email, role, verification_status, is_email_verified, created_at
		FROM users
		WHERE verification_status=$1
		ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list users by verification: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.VerificationStatus, &user.IsEmailVerified, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

// ----- refresh sessions and token revocation -----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.role, u.verification_status, u.is_email_verified
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.VerificationStatus, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ----- sheets -----

func (s *PostgresStore) InsertSheet(ctx context.Context, sheet Sheet) error {
	kind := sheet.Kind
	if kind == "" {
		kind = "sheet"
	}
	visibility := sheet.Visibility
	if visibility == "" {
		visibility = "restricted"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sheets (id, kind, title, description, owner_id, visibility)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sheet.ID, kind, sheet.Title, sheet.Description, sheet.OwnerID, visibility)
	if err != nil {
		return fmt.Errorf("insert sheet: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSheet(ctx context.Context, sheetID string) (Sheet, error) {
	var sheet Sheet
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, title, description, owner_id, visibility, archived_at, created_at, updated_at
		FROM sheets
		WHERE id=$1
	`, sheetID).Scan(&sheet.ID, &sheet.Kind, &sheet.Title, &sheet.Description, &sheet.OwnerID, &sheet.Visibility, &sheet.ArchivedAt, &sheet.CreatedAt, &sheet.UpdatedAt)
	if err != nil {
		return Sheet{}, err
	}
	return sheet, nil
}

// ListSheetsForUser returns sheets the user owns or holds a membership on.
func (s *PostgresStore) ListSheetsForUser(ctx context.Context, userID string) ([]Sheet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT sh.id, sh.kind, sh.title, sh.description, sh.owner_id, sh.visibility, sh.archived_at, sh.created_at, sh.updated_at
		FROM sheets sh
		LEFT JOIN memberships m ON m.sheet_id = sh.id AND m.user_id = $1
		WHERE sh.archived_at IS NULL
		  AND (sh.owner_id = $1 OR m.user_id IS NOT NULL)
		ORDER BY sh.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sheets: %w", err)
	}
	defer rows.Close()

	items := make([]Sheet, 0)
	for rows.Next() {
		var sheet Sheet
		if err := rows.Scan(&sheet.ID, &sheet.Kind, &sheet.Title, &sheet.Description, &sheet.OwnerID, &sheet.Visibility, &sheet.ArchivedAt, &sheet.CreatedAt, &sheet.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sheet: %w", err)
		}
		items = append(items, sheet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sheets: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateSheetVisibility(ctx context.Context, sheetID, visibility string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sheets SET visibility=$2, updated_at=NOW() WHERE id=$1
	`, sheetID, visibility)
	if err != nil {
		return fmt.Errorf("update sheet visibility: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sheet visibility rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ArchiveSheet(ctx context.Context, sheetID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sheets SET archived_at=NOW(), updated_at=NOW() WHERE id=$1 AND archived_at IS NULL
	`, sheetID)
	if err != nil {
		return fmt.Errorf("archive sheet: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive sheet rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ----- test cases -----

func (s *PostgresStore) InsertTestCase(ctx context.Context, item TestCase) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO test_cases (id, sheet_id, title, steps, expected, workflow_status, execution_status, assignee_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
	`, item.ID, item.SheetID, item.Title, item.Steps, item.Expected, item.WorkflowStatus, item.ExecutionStatus, item.AssigneeID, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert test case: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTestCase(ctx context.Context, testCaseID string) (TestCase, error) {
	var item TestCase
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sheet_id, title, steps, expected, workflow_status, execution_status, COALESCE(assignee_id, ''), created_by, created_at, updated_at
		FROM test_cases
		WHERE id=$1
	`, testCaseID).Scan(&item.ID, &item.SheetID, &item.Title, &item.Steps, &item.Expected, &item.WorkflowStatus, &item.ExecutionStatus, &item.AssigneeID, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return TestCase{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListTestCases(ctx context.Context, sheetID string) ([]TestCase, error) {
	return s.listTestCases(ctx, sheetID, "")
}

func (s *PostgresStore) ListTestCasesByStatus(ctx context.Context, sheetID, workflowStatus string) ([]TestCase, error) {
	return s.listTestCases(ctx, sheetID, workflowStatus)
}

func (s *PostgresStore) listTestCases(ctx context.Context, sheetID, workflowStatus string) ([]TestCase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sheet_id, title, steps, expected, workflow_status, execution_status, COALESCE(assignee_id, ''), created_by, created_at, updated_at
		FROM test_cases
		WHERE sheet_id=$1
		  AND ($2='' OR workflow_status=$2)
		ORDER BY created_at ASC
	`, sheetID, workflowStatus)
	if err != nil {
		return nil, fmt.Errorf("list test cases: %w", err)
	}
	defer rows.Close()

	items := make([]TestCase, 0)
	for rows.Next() {
		var item TestCase
		if err := rows.Scan(&item.ID, &item.SheetID, &item.Title, &item.Steps, &item.Expected, &item.WorkflowStatus, &item.ExecutionStatus, &item.AssigneeID, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan test case: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test cases: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateTestCaseContent(ctx context.Context, testCaseID, title, steps, expected string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE test_cases SET title=$2, steps=$3, expected=$4, updated_at=NOW() WHERE id=$1
	`, testCaseID, title, steps, expected)
	if err != nil {
		return fmt.Errorf("update test case: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update test case rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TransitionTestCase is the atomic read-modify-write gate of the workflow:
// the status only changes when it still equals the status the caller
// resolved the transition from. A false return means the state moved under
// a concurrent caller.
func (s *PostgresStore) TransitionTestCase(ctx context.Context, testCaseID, fromStatus, toStatus string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE test_cases
		SET workflow_status=$3, updated_at=NOW()
		WHERE id=$1 AND workflow_status=$2
	`, testCaseID, fromStatus, toStatus)
	if err != nil {
		return false, fmt.Errorf("transition test case: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition test case rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SetExecutionStatus(ctx context.Context, testCaseID, executionStatus string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE test_cases SET execution_status=$2, updated_at=NOW() WHERE id=$1
	`, testCaseID, executionStatus)
	if err != nil {
		return fmt.Errorf("set execution status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set execution status rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ----- bug reports -----

func (s *PostgresStore) InsertBugReport(ctx context.Context, report BugReport) error {
	severity := report.Severity
	if severity == "" {
		severity = "medium"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bug_reports (id, test_case_id, reporter_id, title, description, severity, attachment_key)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, report.ID, report.TestCaseID, report.ReporterID, report.Title, report.Description, severity, report.AttachmentKey)
	if err != nil {
		return fmt.Errorf("insert bug report: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBugReports(ctx context.Context, testCaseID string) ([]BugReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, test_case_id, reporter_id, title, description, severity, COALESCE(attachment_key, ''), created_at
		FROM bug_reports
		WHERE test_case_id=$1
		ORDER BY created_at DESC
	`, testCaseID)
	if err != nil {
		return nil, fmt.Errorf("list bug reports: %w", err)
	}
	defer rows.Close()

	items := make([]BugReport, 0)
	for rows.Next() {
		var item BugReport
		if err := rows.Scan(&item.ID, &item.TestCaseID, &item.ReporterID, &item.Title, &item.Description, &item.Severity, &item.AttachmentKey, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bug report: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bug reports: %w", err)
	}
	return items, nil
}
