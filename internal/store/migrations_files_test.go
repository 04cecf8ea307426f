package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func migrationsDir() string {
	return filepath.Join("..", "..", "db", "migrations")
}

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir())
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			t.Fatalf("unexpected file in migrations dir: %s", name)
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestMigrationsCreateCoreTables(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir())
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	var schema strings.Builder
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir(), entry.Name()))
		if err != nil {
			t.Fatalf("read %s: %v", entry.Name(), err)
		}
		schema.Write(contents)
	}

	combined := schema.String()
	for _, table := range []string{
		"users",
		"sheets",
		"memberships",
		"access_requests",
		"test_cases",
		"bug_reports",
		"activity_log",
		"support_threads",
		"support_messages",
		"view_records",
	} {
		if !strings.Contains(combined, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("up migrations never create table %s", table)
		}
	}
}
