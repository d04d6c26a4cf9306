package migration

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrations.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestManagerAppliesPendingMigrationsOnce(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	files := fstest.MapFS{
		"m/001_initial_schema.sql": {Data: []byte("CREATE TABLE rooms (id TEXT PRIMARY KEY);\nCREATE TABLE slots (id TEXT PRIMARY KEY);")},
		"m/002_add_index.sql":      {Data: []byte("CREATE INDEX idx_slots_id ON slots(id);")},
	}
	manager := NewManager(NewScanner(files, "m"), NewExecutor(db), nil)

	applied, err := manager.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if applied != 2 {
		t.Fatalf("expected 2 migrations applied, got %d", applied)
	}

	again, err := manager.Run(ctx)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected no pending migrations, got %d", again)
	}

	status, err := manager.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.CurrentVersion != "002" || len(status.Applied) != 2 || len(status.Pending) != 0 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Applied[0].Checksum == "" {
		t.Fatalf("expected checksum to be recorded")
	}
}

func TestManagerRollsBackFailedMigration(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	files := fstest.MapFS{
		"m/001_broken.sql": {Data: []byte("CREATE TABLE ok (id TEXT);\nCREATE TABLE broken (;")},
	}

	_, err := NewManager(NewScanner(files, "m"), NewExecutor(db), nil).Run(ctx)
	if !errors.Is(err, ErrMigrationFailed) {
		t.Fatalf("expected ErrMigrationFailed, got %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'ok'`).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected partial migration to be rolled back")
	}
}

func TestManagerDetectsEditedMigration(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	original := fstest.MapFS{"m/001_initial.sql": {Data: []byte("CREATE TABLE a (id TEXT);")}}
	if _, err := NewManager(NewScanner(original, "m"), NewExecutor(db), nil).Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	edited := fstest.MapFS{"m/001_initial.sql": {Data: []byte("CREATE TABLE a (id TEXT, name TEXT);")}}
	if _, err := NewManager(NewScanner(edited, "m"), NewExecutor(db), nil).Run(ctx); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}
