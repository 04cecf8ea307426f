package seen

import (
	"context"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewIndex(client)
}

func TestAddIsIdempotent(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := ix.Add(ctx, "thr_1", "usr_a"); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := ix.Add(ctx, "thr_1", "usr_b"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	viewers, ok, err := ix.Viewers(ctx, "thr_1")
	if err != nil {
		t.Fatalf("Viewers: %v", err)
	}
	if !ok {
		t.Fatal("expected index hit")
	}
	sort.Strings(viewers)
	if len(viewers) != 2 || viewers[0] != "usr_a" || viewers[1] != "usr_b" {
		t.Errorf("viewers = %v, want [usr_a usr_b]", viewers)
	}
}

func TestMissingThreadReportsMiss(t *testing.T) {
	ix := newTestIndex(t)

	_, ok, err := ix.Viewers(context.Background(), "thr_unknown")
	if err != nil {
		t.Fatalf("Viewers: %v", err)
	}
	if ok {
		t.Error("expected miss for unknown thread")
	}
}

func TestWarmReplacesSet(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	if err := ix.Add(ctx, "thr_2", "usr_stale"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := ix.Warm(ctx, "thr_2", []string{"usr_x", "usr_y"}); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	viewers, ok, err := ix.Viewers(ctx, "thr_2")
	if err != nil {
		t.Fatalf("Viewers: %v", err)
	}
	if !ok {
		t.Fatal("expected index hit after warm")
	}
	sort.Strings(viewers)
	if len(viewers) != 2 || viewers[0] != "usr_x" || viewers[1] != "usr_y" {
		t.Errorf("viewers = %v, want [usr_x usr_y]", viewers)
	}
}

func TestWarmEmptyLeavesMiss(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	if err := ix.Warm(ctx, "thr_3", nil); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	// An empty set cannot be represented in Redis, so the next read falls
	// back to the database again.
	_, ok, err := ix.Viewers(ctx, "thr_3")
	if err != nil {
		t.Fatalf("Viewers: %v", err)
	}
	if ok {
		t.Error("expected miss after warming with no viewers")
	}
}
