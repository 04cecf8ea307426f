package revisions

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestSheetRevisionLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureSheetRepo("sheet_1", "Avery"); err != nil {
		t.Fatalf("EnsureSheetRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "sheet_1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	// Ensure is idempotent.
	if err := svc.EnsureSheetRepo("sheet_1", "Avery"); err != nil {
		t.Fatalf("second EnsureSheetRepo() error = %v", err)
	}

	snap := Snapshot{
		TestCaseID:      "tc_1",
		Title:           "Login with valid credentials",
		Steps:           "1. Open login page\n2. Enter credentials\n3. Submit",
		Expected:        "Dashboard loads",
		WorkflowStatus:  "Waiting for QA Lead Approval",
		ExecutionStatus: "untested",
	}
	commit, err := svc.CommitSnapshot("sheet_1", snap, "Avery", "Submit tc_1 for review")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	history, err := svc.History("sheet_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2 (baseline + snapshot)", len(history))
	}
	if history[0].Message != "Submit tc_1 for review" {
		t.Errorf("newest message = %q", history[0].Message)
	}

	got, err := svc.SnapshotAt("sheet_1", commit.Hash, "tc_1")
	if err != nil {
		t.Fatalf("SnapshotAt() error = %v", err)
	}
	if got.Expected != "Dashboard loads" {
		t.Errorf("snapshot expected = %q", got.Expected)
	}
}

func TestSnapshotAtOldRevision(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureSheetRepo("sheet_2", "Avery"); err != nil {
		t.Fatalf("EnsureSheetRepo() error = %v", err)
	}

	first := Snapshot{TestCaseID: "tc_9", Title: "Checkout", Steps: "old steps", Expected: "ok"}
	c1, err := svc.CommitSnapshot("sheet_2", first, "Avery", "first cycle")
	if err != nil {
		t.Fatalf("first CommitSnapshot() error = %v", err)
	}

	second := first
	second.Steps = "new steps"
	c2, err := svc.CommitSnapshot("sheet_2", second, "Avery", "second cycle")
	if err != nil {
		t.Fatalf("second CommitSnapshot() error = %v", err)
	}

	old, err := svc.SnapshotAt("sheet_2", c1.Hash, "tc_9")
	if err != nil {
		t.Fatalf("SnapshotAt(old) error = %v", err)
	}
	if old.Steps != "old steps" {
		t.Errorf("old snapshot steps = %q, want old steps", old.Steps)
	}

	current, err := svc.SnapshotAt("sheet_2", c2.Hash, "tc_9")
	if err != nil {
		t.Fatalf("SnapshotAt(new) error = %v", err)
	}
	if current.Steps != "new steps" {
		t.Errorf("new snapshot steps = %q, want new steps", current.Steps)
	}
}

func TestDiffFields(t *testing.T) {
	from := Snapshot{Title: "A", Steps: "s1", Expected: "e1", ExecutionStatus: "untested"}
	to := Snapshot{Title: "A", Steps: "s2", Expected: "e1", ExecutionStatus: "passed"}

	diff := DiffFields(from, to)
	if len(diff) != 2 {
		t.Fatalf("diff length = %d, want 2", len(diff))
	}
	fields := map[string]bool{}
	for _, d := range diff {
		fields[d["field"]] = true
	}
	if !fields["steps"] || !fields["executionStatus"] {
		t.Errorf("diff fields = %v", fields)
	}

	if !HasChanges(from, to) {
		t.Error("expected HasChanges for different steps")
	}
	if HasChanges(from, from) {
		t.Error("did not expect HasChanges for identical snapshots")
	}
}

func TestConcurrentCommitsSameSheet(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureSheetRepo("sheet_3", "Avery"); err != nil {
		t.Fatalf("EnsureSheetRepo() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			snap := Snapshot{
				TestCaseID: fmt.Sprintf("tc_%d", n),
				Title:      fmt.Sprintf("Case %d", n),
			}
			if _, err := svc.CommitSnapshot("sheet_3", snap, "Avery", fmt.Sprintf("submit %d", n)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent CommitSnapshot: %v", err)
	}

	history, err := svc.History("sheet_3", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 9 {
		t.Errorf("history length = %d, want 9", len(history))
	}
}
