package store

import (
	"context"
	"fmt"
	"time"
)

// ----- activity log -----

// InsertActivity appends one entry to the per-test-case trail. The table has
// no UPDATE or DELETE path anywhere in the codebase.
func (s *PostgresStore) InsertActivity(ctx context.Context, entry ActivityLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (test_case_id, action, user_id, details)
		VALUES ($1, $2, $3, $4)
	`, entry.TestCaseID, entry.Action, entry.UserID, entry.Details)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivity(ctx context.Context, testCaseID string) ([]ActivityLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.test_case_id, a.action, a.user_id, a.details, a.created_at, u.display_name
		FROM activity_log a
		JOIN users u ON u.id = a.user_id
		WHERE a.test_case_id=$1
		ORDER BY a.created_at ASC, a.id ASC
	`, testCaseID)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	items := make([]ActivityLogEntry, 0)
	for rows.Next() {
		var entry ActivityLogEntry
		if err := rows.Scan(&entry.ID, &entry.TestCaseID, &entry.Action, &entry.UserID, &entry.Details, &entry.CreatedAt, &entry.UserName); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return items, nil
}

// ----- support threads and messages -----

func (s *PostgresStore) InsertSupportThread(ctx context.Context, thread SupportThread) error {
	status := thread.Status
	if status == "" {
		status = "open"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO support_threads (id, author_id, subject, status)
		VALUES ($1, $2, $3, $4)
	`, thread.ID, thread.AuthorID, thread.Subject, status)
	if err != nil {
		return fmt.Errorf("insert support thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSupportThread(ctx context.Context, threadID string) (SupportThread, error) {
	var thread SupportThread
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.author_id, t.subject, t.status, t.created_at, t.updated_at, u.display_name
		FROM support_threads t
		JOIN users u ON u.id = t.author_id
		WHERE t.id=$1
	`, threadID).Scan(&thread.ID, &thread.AuthorID, &thread.Subject, &thread.Status, &thread.CreatedAt, &thread.UpdatedAt, &thread.AuthorName)
	if err != nil {
		return SupportThread{}, err
	}
	return thread, nil
}

// ListSupportThreads returns every thread when authorID is empty (the admin
// queue view), otherwise only the author's own threads.
func (s *PostgresStore) ListSupportThreads(ctx context.Context, authorID string) ([]SupportThread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.author_id, t.subject, t.status, t.created_at, t.updated_at, u.display_name,
			(SELECT COUNT(*) FROM support_messages m WHERE m.thread_id=t.id) AS message_count
		FROM support_threads t
		JOIN users u ON u.id = t.author_id
		WHERE ($1='' OR t.author_id=$1)
		ORDER BY t.updated_at DESC
	`, authorID)
	if err != nil {
		return nil, fmt.Errorf("list support threads: %w", err)
	}
	defer rows.Close()

	items := make([]SupportThread, 0)
	for rows.Next() {
		var thread SupportThread
		if err := rows.Scan(&thread.ID, &thread.AuthorID, &thread.Subject, &thread.Status, &thread.CreatedAt, &thread.UpdatedAt, &thread.AuthorName, &thread.MessageCount); err != nil {
			return nil, fmt.Errorf("scan support thread: %w", err)
		}
		items = append(items, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate support threads: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertSupportMessage(ctx context.Context, message SupportMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO support_messages (id, thread_id, author_id, body)
		VALUES ($1, $2, $3, $4)
	`, message.ID, message.ThreadID, message.AuthorID, message.Body)
	if err != nil {
		return fmt.Errorf("insert support message: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE support_threads SET updated_at=NOW() WHERE id=$1`, message.ThreadID); err != nil {
		return fmt.Errorf("touch support thread: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSupportMessages(ctx context.Context, threadID string) ([]SupportMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.thread_id, m.author_id, m.body, m.created_at, u.display_name
		FROM support_messages m
		JOIN users u ON u.id = m.author_id
		WHERE m.thread_id=$1
		ORDER BY m.created_at ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list support messages: %w", err)
	}
	defer rows.Close()

	items := make([]SupportMessage, 0)
	for rows.Next() {
		var message SupportMessage
		if err := rows.Scan(&message.ID, &message.ThreadID, &message.AuthorID, &message.Body, &message.CreatedAt, &message.AuthorName); err != nil {
			return nil, fmt.Errorf("scan support message: %w", err)
		}
		items = append(items, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate support messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateSupportThreadStatus(ctx context.Context, threadID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE support_threads SET status=$2, updated_at=NOW() WHERE id=$1
	`, threadID, status)
	if err != nil {
		return fmt.Errorf("update support thread status: %w", err)
	}
	return nil
}

// ----- view records -----

// MarkSeen records that a viewer has seen a message. Re-marking is a no-op:
// the insert is conditional on the (message_id, viewer_id) key and the
// returned timestamp is always the first call's.
func (s *PostgresStore) MarkSeen(ctx context.Context, messageID, viewerID string) (time.Time, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO view_records (message_id, viewer_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id, viewer_id) DO NOTHING
	`, messageID, viewerID); err != nil {
		return time.Time{}, fmt.Errorf("mark seen: %w", err)
	}

	var viewedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT viewed_at FROM view_records WHERE message_id=$1 AND viewer_id=$2
	`, messageID, viewerID).Scan(&viewedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("read seen timestamp: %w", err)
	}
	return viewedAt, nil
}

// ListSeenBy returns the de-duplicated viewers across every message of the
// thread. The union must cover all messages, not just the latest: a viewer
// may have seen an early message and never reopened the thread since.
func (s *PostgresStore) ListSeenBy(ctx context.Context, threadID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT v.viewer_id
		FROM view_records v
		JOIN support_messages m ON m.id = v.message_id
		WHERE m.thread_id=$1
		ORDER BY v.viewer_id ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list seen by: %w", err)
	}
	defer rows.Close()

	viewers := make([]string, 0)
	for rows.Next() {
		var viewerID string
		if err := rows.Scan(&viewerID); err != nil {
			return nil, fmt.Errorf("scan viewer: %w", err)
		}
		viewers = append(viewers, viewerID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate viewers: %w", err)
	}
	return viewers, nil
}
