package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestSaveAndLookup(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveRefreshSession(ctx, "hash-1", "usr_a", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}

	user, err := s.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession: %v", err)
	}
	if user.ID != "usr_a" {
		t.Errorf("user ID = %q, want usr_a", user.ID)
	}
}

func TestLookupAfterExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveRefreshSession(ctx, "hash-exp", "usr_b", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}

	mr.FastForward(2 * time.Second)

	if _, err := s.LookupRefreshSession(ctx, "hash-exp"); err == nil {
		t.Error("expected error for expired session")
	}
}

func TestSaveExpiredRejected(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.SaveRefreshSession(context.Background(), "hash-past", "usr_c", time.Now().Add(-time.Minute))
	if err == nil {
		t.Error("expected error saving already-expired session")
	}
}

func TestRevoke(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveRefreshSession(ctx, "hash-rev", "usr_d", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}
	if err := s.RevokeRefreshSession(ctx, "hash-rev"); err != nil {
		t.Fatalf("RevokeRefreshSession: %v", err)
	}
	if _, err := s.LookupRefreshSession(ctx, "hash-rev"); err == nil {
		t.Error("expected error after revoke")
	}

	// Revoking a token that was never issued is a no-op.
	if err := s.RevokeRefreshSession(ctx, "hash-missing"); err != nil {
		t.Errorf("RevokeRefreshSession missing: %v", err)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	if err := s.SaveRefreshSession(ctx, "hash-a", "usr_1", exp); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := s.SaveRefreshSession(ctx, "hash-b", "usr_2", exp); err != nil {
		t.Fatalf("save b: %v", err)
	}

	if err := s.RevokeRefreshSession(ctx, "hash-a"); err != nil {
		t.Fatalf("revoke a: %v", err)
	}

	user, err := s.LookupRefreshSession(ctx, "hash-b")
	if err != nil {
		t.Fatalf("lookup b: %v", err)
	}
	if user.ID != "usr_2" {
		t.Errorf("user ID = %q, want usr_2", user.ID)
	}
}
