// Package revisions keeps a per-sheet git repository of test case snapshots.
// A snapshot is committed whenever a test case is submitted for review, so a
// QA lead can diff what changed between review cycles.
package revisions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Snapshot is the reviewable content of a test case at one point in time.
type Snapshot struct {
	TestCaseID      string `json:"testCaseId"`
	Title           string `json:"title"`
	Steps           string `json:"steps"`
	Expected        string `json:"expected"`
	WorkflowStatus  string `json:"workflowStatus"`
	ExecutionStatus string `json:"executionStatus"`
}

// CommitInfo describes one revision in a sheet's history.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureSheetRepo initializes the revision repo for a sheet if it does not
// exist yet.
func (s *Service) EnsureSheetRepo(sheetID, author string) error {
	lock := s.sheetLock(sheetID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(sheetID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	readme := fmt.Sprintf("Revision history for sheet %s\n", sheetID)
	if err := os.WriteFile(filepath.Join(path, "README"), []byte(readme), 0o644); err != nil {
		return fmt.Errorf("write baseline file: %w", err)
	}
	if _, err := worktree.Add("README"); err != nil {
		return fmt.Errorf("git add baseline: %w", err)
	}
	hash, err := worktree.Commit("Initialize sheet revisions", &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit baseline: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitSnapshot writes the test case snapshot into the sheet repo and
// commits it. The sheet repo must already exist.
func (s *Service) CommitSnapshot(sheetID string, snap Snapshot, author, message string) (CommitInfo, error) {
	lock := s.sheetLock(sheetID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(sheetID))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal snapshot: %w", err)
	}

	filename := snap.TestCaseID + ".json"
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, filename), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write snapshot: %w", err)
	}

	if _, err := worktree.Add(filename); err != nil {
		return CommitInfo{}, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		// Resubmitting unchanged content still marks a review cycle.
		AllowEmptyCommits: true,
		Author:            signature(author),
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit snapshot: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// SnapshotAt reads a test case snapshot from a specific revision.
func (s *Service) SnapshotAt(sheetID, hash, testCaseID string) (Snapshot, error) {
	lock := s.sheetLock(sheetID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(sheetID))
	if err != nil {
		return Snapshot{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", hash, err)
	}

	file, err := commitObj.File(testCaseID + ".json")
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// History lists revisions of a sheet, newest first.
func (s *Service) History(sheetID string, limit int) ([]CommitInfo, error) {
	lock := s.sheetLock(sheetID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(sheetID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// DiffFields compares two snapshots field by field.
func DiffFields(from, to Snapshot) []map[string]string {
	type pair struct {
		field  string
		before string
		after  string
	}
	pairs := []pair{
		{field: "title", before: from.Title, after: to.Title},
		{field: "steps", before: from.Steps, after: to.Steps},
		{field: "expected", before: from.Expected, after: to.Expected},
		{field: "executionStatus", before: from.ExecutionStatus, after: to.ExecutionStatus},
	}
	result := make([]map[string]string, 0)
	for _, item := range pairs {
		if item.before == item.after {
			continue
		}
		result = append(result, map[string]string{
			"field":  item.field,
			"before": item.before,
			"after":  item.after,
		})
	}
	return result
}

// HasChanges reports whether two snapshots differ in reviewable content.
func HasChanges(from, to Snapshot) bool {
	return from.Title != to.Title ||
		from.Steps != to.Steps ||
		from.Expected != to.Expected
}

func (s *Service) repoPath(sheetID string) string {
	return filepath.Join(s.baseDir, sheetID)
}

func (s *Service) sheetLock(sheetID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[sheetID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[sheetID] = lock
	return lock
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.qasheet.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
