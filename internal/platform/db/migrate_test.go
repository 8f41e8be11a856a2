package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMigrations(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_lis_core.sql":  "CREATE TABLE users (id UUID PRIMARY KEY);",
		"002_samples.sql":   "CREATE TABLE samples (id UUID PRIMARY KEY);",
		"010_reporting.sql": "CREATE TABLE reports (id UUID PRIMARY KEY);",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "001_lis_core.sql" {
		t.Errorf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[2].Version != 10 {
		t.Errorf("expected version 10 last, got %d", migrations[2].Version)
	}
}

func TestLoadMigrations_SkipsNonMigrations(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_core.sql":  "SELECT 1;",
		"README.md":     "docs",
		"seed.sql":      "SELECT 2;",
		"abc_notes.sql": "SELECT 3;",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"002_a.sql":  "SELECT 1;",
		"0002_b.sql": "SELECT 2;",
	})

	if _, err := NewMigrator(nil, dir).LoadMigrations(); err == nil {
		t.Fatal("expected error for duplicate version")
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	_, err := NewMigrator(nil, filepath.Join(t.TempDir(), "missing")).LoadMigrations()
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestMergeStatus(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	migrations := []Migration{
		{Version: 1, Name: "001_core.sql"},
		{Version: 2, Name: "002_samples.sql"},
	}

	statuses := mergeStatus(migrations, map[int]time.Time{1: at})

	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected first migration applied at %v, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected second migration pending, got %+v", statuses[1])
	}
}
