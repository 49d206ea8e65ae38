package store

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

const migrationsDir = "../../db/migrations"

func TestMigrationFilesAreWellFormed(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			t.Errorf("unexpected file in migrations dir: %s", name)
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		t.Fatal("no migrations found")
	}

	if !sort.StringsAreSorted(names) {
		t.Errorf("migration files not in sorted order: %v", names)
	}

	for _, name := range names {
		prefix := strings.SplitN(name, "_", 2)[0]
		if len(prefix) != 4 {
			t.Errorf("migration %s: version prefix %q is not 4 digits", name, prefix)
		}
	}
}

func TestInitMigrationCoversCoreTables(t *testing.T) {
	contents, err := os.ReadFile(filepath.Join(migrationsDir, "0001_init.up.sql"))
	if err != nil {
		t.Fatalf("read init migration: %v", err)
	}
	schema := string(contents)

	tables := []string{
		"users",
		"documents",
		"document_versions",
		"version_parents",
		"version_members",
		"events",
		"comments",
		"attachments",
		"document_sets",
		"set_versions",
		"set_version_parents",
		"set_version_documents",
	}
	for _, table := range tables {
		if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Errorf("init migration missing table %s", table)
		}
	}

	// Version names must be unique per document; the graph build relies on it.
	if !strings.Contains(schema, "UNIQUE (document_id, name)") {
		t.Error("document_versions missing per-document name uniqueness")
	}
	if !strings.Contains(schema, "UNIQUE (set_id, name)") {
		t.Error("set_versions missing per-set name uniqueness")
	}
}
