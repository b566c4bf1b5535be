package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var testMigrationsDir = filepath.Join("..", "..", "db", "migrations")

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := os.ReadDir(testMigrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, direction := match[1], match[2]
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

func TestMigrationFilesSortByVersion(t *testing.T) {
	ups, err := migrationFiles(testMigrationsDir, ".up.sql")
	if err != nil {
		t.Fatalf("list up migrations: %v", err)
	}
	downs, err := migrationFiles(testMigrationsDir, ".down.sql")
	if err != nil {
		t.Fatalf("list down migrations: %v", err)
	}
	if len(ups) != len(downs) || len(ups) == 0 {
		t.Fatalf("expected matching non-empty lists, got %d up and %d down", len(ups), len(downs))
	}
	for i := 1; i < len(ups); i++ {
		if filepath.Base(ups[i-1]) >= filepath.Base(ups[i]) {
			t.Fatalf("up migrations out of order: %s before %s", ups[i-1], ups[i])
		}
	}
}

func TestFunctionsMigrationDefinesRemoteContract(t *testing.T) {
	sqlBytes, err := os.ReadFile(filepath.Join(testMigrationsDir, "0002_functions.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	for _, snippet := range []string{
		"FUNCTION get_user_projects(p_user_id UUID)",
		"FUNCTION log_activity(",
		"FUNCTION generate_team_code()",
		"ABCDEFGHJKLMNPQRSTUVWXYZ23456789",
		"CREATE TRIGGER trg_projects_mark_creator",
		"CREATE TRIGGER trg_activity_logs_block_update",
		"CREATE TRIGGER trg_activity_logs_block_delete",
	} {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
	if strings.Contains(sqlText, "DO INSTEAD NOTHING") {
		t.Fatal("expected hard-fail append-only guard, found silent DO INSTEAD NOTHING rule")
	}
}

func TestCoreMigrationDefersPositionUniqueness(t *testing.T) {
	sqlBytes, err := os.ReadFile(filepath.Join(testMigrationsDir, "0001_core_tables.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)
	if !strings.Contains(sqlText, "UNIQUE (project_id, position) DEFERRABLE INITIALLY DEFERRED") {
		t.Fatal("task positions must be unique per project with a deferred check")
	}
	if !strings.Contains(sqlText, "UNIQUE (project_id, user_id)") {
		t.Fatal("memberships must be unique per (project, user)")
	}
}
