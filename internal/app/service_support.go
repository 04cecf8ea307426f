package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"qasheet/api/internal/store"
	"qasheet/api/internal/util"
)

// ----- support threads -----

func (s *Service) CreateSupportThread(ctx context.Context, session Session, subject, body string) (map[string]any, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, errValidation("subject is required")
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, errValidation("body is required")
	}

	thread := store.SupportThread{
		ID:       util.NewID("sup"),
		AuthorID: session.UserID,
		Subject:  subject,
		Status:   "open",
	}
	if err := s.store.InsertSupportThread(ctx, thread); err != nil {
		return nil, err
	}
	message := store.SupportMessage{
		ID:       util.NewID("msg"),
		ThreadID: thread.ID,
		AuthorID: session.UserID,
		Body:     body,
	}
	if err := s.store.InsertSupportMessage(ctx, message); err != nil {
		return nil, err
	}
	thread.AuthorName = session.UserName
	thread.MessageCount = 1
	return supportThreadPayload(thread), nil
}

func (s *Service) ListSupportThreads(ctx context.Context, session Session) ([]map[string]any, error) {
	authorID := session.UserID
	if session.IsAdmin() {
		authorID = "" // admins see the whole queue
	}
	threads, err := s.store.ListSupportThreads(ctx, authorID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(threads))
	for _, thread := range threads {
		items = append(items, supportThreadPayload(thread))
	}
	return items, nil
}

func (s *Service) GetSupportThread(ctx context.Context, session Session, threadID string) (map[string]any, error) {
	thread, err := s.loadSupportThread(ctx, session, threadID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListSupportMessages(ctx, thread.ID)
	if err != nil {
		return nil, err
	}

	payload := supportThreadPayload(thread)
	msgItems := make([]map[string]any, 0, len(messages))
	for _, message := range messages {
		msgItems = append(msgItems, supportMessagePayload(message))
	}
	payload["messages"] = msgItems
	return payload, nil
}

func (s *Service) ReplySupportThread(ctx context.Context, session Session, threadID, body string) (map[string]any, error) {
	thread, err := s.loadSupportThread(ctx, session, threadID)
	if err != nil {
		return nil, err
	}
	if thread.Status == "closed" {
		return nil, errConflict("thread is closed")
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, errValidation("body is required")
	}

	message := store.SupportMessage{
		ID:       util.NewID("msg"),
		ThreadID: thread.ID,
		AuthorID: session.UserID,
		Body:     body,
	}
	if err := s.store.InsertSupportMessage(ctx, message); err != nil {
		return nil, err
	}
	message.AuthorName = session.UserName
	return supportMessagePayload(message), nil
}

func (s *Service) SetSupportThreadStatus(ctx context.Context, session Session, threadID, status string) error {
	if !session.IsAdmin() {
		return errForbidden("admin role required")
	}
	if status != "open" && status != "closed" {
		return errValidation("status must be open or closed")
	}
	if _, err := s.store.GetSupportThread(ctx, threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("thread not found")
		}
		return err
	}
	return s.store.UpdateSupportThreadStatus(ctx, threadID, status)
}

// ----- seen tracking -----

// MarkMessageSeen records that the caller has viewed a message. The database
// row is authoritative and idempotent; the Redis set is an acceleration
// layer kept in sync best-effort.
func (s *Service) MarkMessageSeen(ctx context.Context, session Session, threadID, messageID string) (time.Time, error) {
	thread, err := s.loadSupportThread(ctx, session, threadID)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.messageInThread(ctx, thread.ID, messageID); err != nil {
		return time.Time{}, err
	}

	viewedAt, err := s.store.MarkSeen(ctx, messageID, session.UserID)
	if err != nil {
		return time.Time{}, err
	}
	if s.seen != nil {
		if err := s.seen.Add(ctx, thread.ID, session.UserID); err != nil {
			log.Printf("seen index add thread=%s: %v", thread.ID, err)
		}
	}
	return viewedAt, nil
}

// ListSeenBy returns the viewers who have seen any message of the thread.
// It serves from the Redis set when warm and falls back to the database on
// a miss, warming the set for the next caller.
func (s *Service) ListSeenBy(ctx context.Context, session Session, threadID string) ([]string, error) {
	thread, err := s.loadSupportThread(ctx, session, threadID)
	if err != nil {
		return nil, err
	}

	if s.seen != nil {
		viewers, ok, err := s.seen.Viewers(ctx, thread.ID)
		if err != nil {
			log.Printf("seen index read thread=%s: %v", thread.ID, err)
		} else if ok {
			return viewers, nil
		}
	}

	viewers, err := s.store.ListSeenBy(ctx, thread.ID)
	if err != nil {
		return nil, err
	}
	if s.seen != nil {
		if err := s.seen.Warm(ctx, thread.ID, viewers); err != nil {
			log.Printf("seen index warm thread=%s: %v", thread.ID, err)
		}
	}
	return viewers, nil
}

// loadSupportThread resolves a thread and checks the caller may see it:
// the author or an admin.
func (s *Service) loadSupportThread(ctx context.Context, session Session, threadID string) (store.SupportThread, error) {
	thread, err := s.store.GetSupportThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.SupportThread{}, errNotFound("thread not found")
		}
		return store.SupportThread{}, err
	}
	if thread.AuthorID != session.UserID && !session.IsAdmin() {
		return store.SupportThread{}, errNotFound("thread not found")
	}
	return thread, nil
}

func (s *Service) messageInThread(ctx context.Context, threadID, messageID string) error {
	messages, err := s.store.ListSupportMessages(ctx, threadID)
	if err != nil {
		return err
	}
	for _, message := range messages {
		if message.ID == messageID {
			return nil
		}
	}
	return errNotFound("message not found")
}

func supportThreadPayload(thread store.SupportThread) map[string]any {
	return map[string]any{
		"id":           thread.ID,
		"authorId":     thread.AuthorID,
		"authorName":   thread.AuthorName,
		"subject":      thread.Subject,
		"status":       thread.Status,
		"messageCount": thread.MessageCount,
		"createdAt":    thread.CreatedAt,
		"updatedAt":    thread.UpdatedAt,
	}
}

func supportMessagePayload(message store.SupportMessage) map[string]any {
	return map[string]any{
		"id":         message.ID,
		"threadId":   message.ThreadID,
		"authorId":   message.AuthorID,
		"authorName": message.AuthorName,
		"body":       message.Body,
		"createdAt":  message.CreatedAt,
	}
}
