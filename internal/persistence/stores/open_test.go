package stores

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/lab-scheduler/internal/config"
	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/scheduler"
	"github.com/example/lab-scheduler/internal/testfixtures"
)

func migrator() *scheduler.Migrator {
	return scheduler.NewEngine(testfixtures.Paris(), testfixtures.NewIDGenerator("id").Next).NewMigrator()
}

func TestOpenMemoryWithSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	legacy := `{"id":"legacy-1","createdBy":"prof-1","start_date":"2024-10-01T08:00:00","end_date":"2024-10-01T10:00:00"}` + "\n"
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatalf("failed to write seed: %v", err)
	}

	store, err := Open(context.Background(), config.StoreConfig{Driver: config.StoreMemory, SeedFile: path}, migrator(), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("expected store, got %v", err)
	}
	defer store.Close()

	event, err := store.GetEvent(context.Background(), "legacy-1")
	if err != nil {
		t.Fatalf("expected seeded event, got %v", err)
	}
	if event.OwnerID != "prof-1" || len(event.ActuelTimeSlots) != 1 {
		t.Fatalf("unexpected migrated event: %+v", event)
	}
}

func TestOpenMemoryMissingSeed(t *testing.T) {
	cfg := config.StoreConfig{Driver: config.StoreMemory, SeedFile: filepath.Join(t.TempDir(), "missing.jsonl")}
	if _, err := Open(context.Background(), cfg, migrator(), slog.New(slog.DiscardHandler)); err == nil {
		t.Fatalf("expected missing seed file to fail")
	}
}

func TestOpenSQLite(t *testing.T) {
	cfg := config.StoreConfig{Driver: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "lab.db")}
	store, err := Open(context.Background(), cfg, migrator(), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("expected store, got %v", err)
	}
	defer store.Close()

	events, err := store.ListEvents(context.Background(), persistence.EventFilter{})
	if err != nil || len(events) != 0 {
		t.Fatalf("expected empty store, got %d events and %v", len(events), err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.StoreConfig{Driver: "cassandra"}, migrator(), nil); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
}
