package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ----- memberships -----

func (s *PostgresStore) GetMembership(ctx context.Context, sheetID, userID string) (Membership, error) {
	var m Membership
	err := s.db.QueryRowContext(ctx, `
		SELECT sheet_id, user_id, role, COALESCE(granted_by, ''), granted_at
		FROM memberships
		WHERE sheet_id=$1 AND user_id=$2
	`, sheetID, userID).Scan(&m.SheetID, &m.UserID, &m.Role, &m.GrantedBy, &m.GrantedAt)
	if err != nil {
		return Membership{}, err
	}
	return m, nil
}

// UpsertMembership inserts or replaces the single grant for
// (sheet_id, user_id). Owner rows are never written here; the service layer
// enforces that before calling.
func (s *PostgresStore) UpsertMembership(ctx context.Context, m Membership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (sheet_id, user_id, role, granted_by)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (sheet_id, user_id)
		DO UPDATE SET role=EXCLUDED.role, granted_by=EXCLUDED.granted_by, granted_at=NOW()
	`, m.SheetID, m.UserID, m.Role, m.GrantedBy)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteMembership(ctx context.Context, sheetID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM memberships WHERE sheet_id=$1 AND user_id=$2
	`, sheetID, userID)
	if err != nil {
		return false, fmt.Errorf("delete membership: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete membership rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListMemberships(ctx context.Context, sheetID string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.sheet_id, m.user_id, m.role, COALESCE(m.granted_by, ''), m.granted_at, u.email, u.display_name
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.sheet_id=$1
		ORDER BY m.granted_at ASC
	`, sheetID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	items := make([]Membership, 0)
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.SheetID, &m.UserID, &m.Role, &m.GrantedBy, &m.GrantedAt, &m.UserEmail, &m.UserName); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return items, nil
}

// ----- access requests -----

// InsertAccessRequest records a pending request. A partial unique index on
// (sheet_id, requester_id) WHERE status='pending' enforces the at-most-one
// pending invariant; a violation surfaces as ErrDuplicate.
func (s *PostgresStore) InsertAccessRequest(ctx context.Context, req AccessRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_requests (id, sheet_id, requester_id, requested_role, message, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
	`, req.ID, req.SheetID, req.RequesterID, req.RequestedRole, req.Message)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert access request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccessRequest(ctx context.Context, requestID string) (AccessRequest, error) {
	var req AccessRequest
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sheet_id, requester_id, requested_role, COALESCE(granted_role, ''), message, status, COALESCE(resolved_by, ''), resolved_at, created_at
		FROM access_requests
		WHERE id=$1
	`, requestID).Scan(&req.ID, &req.SheetID, &req.RequesterID, &req.RequestedRole, &req.GrantedRole, &req.Message, &req.Status, &req.ResolvedBy, &req.ResolvedAt, &req.CreatedAt)
	if err != nil {
		return AccessRequest{}, err
	}
	return req, nil
}

// ListPendingAccessRequests returns pending requests oldest first, the
// first-come review order.
func (s *PostgresStore) ListPendingAccessRequests(ctx context.Context, sheetID string) ([]AccessRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.sheet_id, r.requester_id, r.requested_role, r.message, r.status, r.created_at, u.display_name, u.email
		FROM access_requests r
		JOIN users u ON u.id = r.requester_id
		WHERE r.sheet_id=$1 AND r.status='pending'
		ORDER BY r.created_at ASC
	`, sheetID)
	if err != nil {
		return nil, fmt.Errorf("list pending access requests: %w", err)
	}
	defer rows.Close()

	items := make([]AccessRequest, 0)
	for rows.Next() {
		var req AccessRequest
		if err := rows.Scan(&req.ID, &req.SheetID, &req.RequesterID, &req.RequestedRole, &req.Message, &req.Status, &req.CreatedAt, &req.RequesterName, &req.RequesterEmail); err != nil {
			return nil, fmt.Errorf("scan access request: %w", err)
		}
		items = append(items, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access requests: %w", err)
	}
	return items, nil
}

// ResolveAccessRequest moves a pending request to a terminal status. The
// WHERE status='pending' guard is what serializes concurrent resolvers: at
// most one caller observes true, the rest see the terminal-state trip.
func (s *PostgresStore) ResolveAccessRequest(ctx context.Context, requestID, status, grantedRole, resolvedBy string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE access_requests
		SET status=$2, granted_role=NULLIF($3, ''), resolved_by=$4, resolved_at=NOW()
		WHERE id=$1 AND status='pending'
	`, requestID, status, grantedRole, resolvedBy)
	if err != nil {
		return false, fmt.Errorf("resolve access request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve access request rows: %w", err)
	}
	return affected > 0, nil
}

// HasMembershipOrPendingRequest is the submit-time conflict probe.
func (s *PostgresStore) HasMembershipOrPendingRequest(ctx context.Context, sheetID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM memberships WHERE sheet_id=$1 AND user_id=$2
			UNION ALL
			SELECT 1 FROM access_requests WHERE sheet_id=$1 AND requester_id=$2 AND status='pending'
		)
	`, sheetID, userID).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("check membership or pending request: %w", err)
	}
	return exists, nil
}
