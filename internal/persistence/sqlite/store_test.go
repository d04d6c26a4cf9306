package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/scheduler"
	"github.com/example/lab-scheduler/internal/testfixtures"
)

func newTestStore(tb testing.TB) *Store {
	tb.Helper()

	cfg := DefaultConfig(filepath.Join(tb.TempDir(), "labscheduler.db"))
	cfg.JournalMode = "MEMORY"
	cfg.Synchronous = "OFF"
	store, err := Open(context.Background(), cfg, nil)
	if err != nil {
		tb.Fatalf("failed to open store: %v", err)
	}
	tb.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestStoreContract(t *testing.T) {
	testfixtures.RunStoreContract(t, func(tb testing.TB) persistence.Store {
		return newTestStore(tb)
	})
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "labscheduler.db")

	first, err := Open(ctx, DefaultConfig(path), nil)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	event := testfixtures.NewEventFixture().Event()
	if _, err := first.CreateEvent(ctx, event); err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	second, err := Open(ctx, DefaultConfig(path), nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()
	if _, err := second.GetEvent(ctx, event.ID); err != nil {
		t.Fatalf("expected event to survive reopen, got %v", err)
	}

	var applied int
	if err := second.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 recorded migration, got %d", applied)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "x.db"))
	cfg.JournalMode = "SIDEWAYS"
	if _, err := Open(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected invalid journal mode to be rejected")
	}
	if _, err := Open(context.Background(), Config{}, nil); err == nil {
		t.Fatalf("expected empty path to be rejected")
	}
}

func TestDuplicateFingerprintIsRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	event, err := store.CreateEvent(ctx, testfixtures.NewEventFixture().Event())
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	proposal := scheduler.PendingModification{
		UserID:      "u1",
		Action:      scheduler.ModificationCancel,
		RequestDate: testfixtures.ReferenceTime(),
		Fingerprint: scheduler.Fingerprint("u1", scheduler.ModificationCancel, testfixtures.ReferenceTime()),
	}
	first, second := proposal, proposal
	first.ID, second.ID = "mod-a", "mod-b"
	event.EventModifying = append(event.EventModifying, first, second)

	if _, err := store.SaveEvent(ctx, event); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for a repeated triple, got %v", err)
	}
	current, err := store.GetEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if current.Version != 1 || len(current.EventModifying) != 0 {
		t.Fatalf("failed save must not leave partial state, got version %d with %d proposals", current.Version, len(current.EventModifying))
	}
}

func TestTimesRoundTripAtNanosecondPrecision(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	fixture := testfixtures.NewEventFixture(testfixtures.WithSlots(
		testfixtures.NewSlotFixture(testfixtures.WithSlotBounds(
			testfixtures.At(9, 0).Add(123456789),
			testfixtures.At(11, 0),
		)),
	))
	if _, err := store.CreateEvent(ctx, fixture.Event()); err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}
	got, err := store.GetEvent(ctx, fixture.ID)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if !got.TimeSlots[0].StartDate.Equal(testfixtures.At(9, 0).Add(123456789)) {
		t.Fatalf("expected nanoseconds preserved, got %v", got.TimeSlots[0].StartDate)
	}
	if !got.StartDate.Equal(got.TimeSlots[0].StartDate) {
		t.Fatalf("event bounds must follow the projection")
	}
}
