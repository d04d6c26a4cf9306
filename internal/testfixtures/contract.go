package testfixtures

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/scheduler"
)

// StoreFactory opens a fresh, empty store for one subtest.
type StoreFactory func(tb testing.TB) persistence.Store

// RunStoreContract exercises the behaviour every persistence backend shares.
func RunStoreContract(t *testing.T, open StoreFactory) {
	t.Helper()

	t.Run("keeps bounds of an event without active slots", func(t *testing.T) {
		ctx := context.Background()
		store := open(t)

		event := NewEventFixture(
			WithEventState(scheduler.EventStateCancelled),
			WithSlots(NewSlotFixture(WithSlotDeletedAt(ReferenceTime()))),
		).Event()
		event.StartDate, event.EndDate = At(9, 0), At(11, 0)

		if _, err := store.CreateEvent(ctx, event); err != nil {
			t.Fatalf("CreateEvent failed: %v", err)
		}
		fetched, err := store.GetEvent(ctx, event.ID)
		if err != nil {
			t.Fatalf("GetEvent failed: %v", err)
		}
		if fetched.State != scheduler.EventStateCancelled || len(fetched.ActuelTimeSlots) != 0 {
			t.Fatalf("expected cancelled event without active slots, got %s with %d", fetched.State, len(fetched.ActuelTimeSlots))
		}
		if !fetched.StartDate.Equal(At(9, 0)) || !fetched.EndDate.Equal(At(11, 0)) {
			t.Fatalf("expected bounds 09:00-11:00, got %v-%v", fetched.StartDate, fetched.EndDate)
		}
	})

	t.Run("creates, reads, saves and deletes events", func(t *testing.T) {
		ctx := context.Background()
		store := open(t)

		owner := NewUserFixture()
		fixture := NewEventFixture(WithOwner(owner), WithSlots(
			NewSlotFixture(),
			NewSlotFixture(WithSlotDeletedAt(ReferenceTime())),
		))
		created, err := store.CreateEvent(ctx, fixture.Event())
		if err != nil {
			t.Fatalf("CreateEvent failed: %v", err)
		}
		if created.Version != 1 {
			t.Fatalf("expected version 1, got %d", created.Version)
		}

		fetched, err := store.GetEvent(ctx, fixture.ID)
		if err != nil {
			t.Fatalf("GetEvent failed: %v", err)
		}
		assertSameEvent(t, created, fetched)

		fetched.Title = "TP renamed"
		fetched.EventModifying = append(fetched.EventModifying, scheduler.PendingModification{
			ID:          "mod-1",
			UserID:      "proposer",
			Action:      scheduler.ModificationMove,
			RequestDate: ReferenceTime().Add(1500 * time.Microsecond).Truncate(time.Millisecond),
			Reason:      "salle occupée",
			TimeSlots:   []scheduler.SlotInput{{Date: "2025-03-13", StartTime: "10:00", EndTime: "12:00"}},
			Fingerprint: "fp-1",
		})
		saved, err := store.SaveEvent(ctx, fetched)
		if err != nil {
			t.Fatalf("SaveEvent failed: %v", err)
		}
		if saved.Version != 2 {
			t.Fatalf("expected version 2, got %d", saved.Version)
		}

		reloaded, err := store.GetEvent(ctx, fixture.ID)
		if err != nil {
			t.Fatalf("GetEvent after save failed: %v", err)
		}
		assertSameEvent(t, saved, reloaded)
		if reloaded.Title != "TP renamed" {
			t.Fatalf("title not persisted: %q", reloaded.Title)
		}
		mod := reloaded.EventModifying[0]
		if mod.Key() != "proposer-MOVE-2025-03-10T08:00:00.001Z" || len(mod.TimeSlots) != 1 || mod.TimeSlots[0].EndTime != "12:00" {
			t.Fatalf("pending modification not persisted faithfully: %+v", mod)
		}

		if err := store.DeleteEvent(ctx, fixture.ID); err != nil {
			t.Fatalf("DeleteEvent failed: %v", err)
		}
		if _, err := store.GetEvent(ctx, fixture.ID); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("rejects stale writes", func(t *testing.T) {
		ctx := context.Background()
		store := open(t)

		event, err := store.CreateEvent(ctx, NewEventFixture().Event())
		if err != nil {
			t.Fatalf("CreateEvent failed: %v", err)
		}
		first, _ := store.GetEvent(ctx, event.ID)
		second, _ := store.GetEvent(ctx, event.ID)

		first.StateReason = "first writer"
		if _, err := store.SaveEvent(ctx, first); err != nil {
			t.Fatalf("first save failed: %v", err)
		}
		second.StateReason = "second writer"
		if _, err := store.SaveEvent(ctx, second); !errors.Is(err, persistence.ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}
		current, _ := store.GetEvent(ctx, event.ID)
		if current.StateReason != "first writer" {
			t.Fatalf("stale write leaked: %q", current.StateReason)
		}
	})

	t.Run("reports missing and duplicate records", func(t *testing.T) {
		ctx := context.Background()
		store := open(t)

		event := NewEventFixture().Event()
		if _, err := store.CreateEvent(ctx, event); err != nil {
			t.Fatalf("CreateEvent failed: %v", err)
		}
		if _, err := store.CreateEvent(ctx, event); !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
		if _, err := store.GetEvent(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		ghost := NewEventFixture().Event()
		ghost.Version = 1
		if _, err := store.SaveEvent(ctx, ghost); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on save, got %v", err)
		}
		if err := store.DeleteEvent(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on delete, got %v", err)
		}
	})

	t.Run("filters listings", func(t *testing.T) {
		ctx := context.Background()
		store := open(t)

		owner := NewUserFixture()
		mine := NewEventFixture(WithOwner(owner)).Event()
		physics := NewEventFixture(WithDiscipline(scheduler.DisciplinePhysique)).Event()
		physics.EventModifying = []scheduler.PendingModification{{
			ID: "mod-x", UserID: "someone", Action: scheduler.ModificationCancel,
			RequestDate: ReferenceTime(), Reason: "x", Fingerprint: "fp-x",
		}}
		for _, e := range []scheduler.Event{mine, physics} {
			if _, err := store.CreateEvent(ctx, e); err != nil {
				t.Fatalf("CreateEvent failed: %v", err)
			}
		}

		assertListed(t, store, persistence.EventFilter{OwnerID: owner.ID}, mine.ID)
		assertListed(t, store, persistence.EventFilter{Discipline: scheduler.DisciplinePhysique}, physics.ID)
		assertListed(t, store, persistence.EventFilter{PendingOnly: true}, physics.ID)
		all, err := store.ListEvents(ctx, persistence.EventFilter{})
		if err != nil || len(all) != 2 {
			t.Fatalf("expected two events, got %d (%v)", len(all), err)
		}
	})

	t.Run("purges expired slots with dry run and idempotence", func(t *testing.T) {
		ctx := context.Background()
		store := open(t)
		now := ReferenceTime()

		event := NewEventFixture(WithSlots(
			NewSlotFixture(WithSlotID("deleted-120"), WithSlotDeletedAt(now.AddDate(0, 0, -120))),
			NewSlotFixture(WithSlotID("deleted-10"), WithSlotDeletedAt(now.AddDate(0, 0, -10))),
			NewSlotFixture(WithSlotID("live")),
		)).Event()
		if _, err := store.CreateEvent(ctx, event); err != nil {
			t.Fatalf("CreateEvent failed: %v", err)
		}
		doomed := NewEventFixture().Event()
		if _, err := store.CreateEvent(ctx, doomed); err != nil {
			t.Fatalf("CreateEvent failed: %v", err)
		}
		if err := store.DeleteEvent(ctx, doomed.ID); err != nil {
			t.Fatalf("DeleteEvent failed: %v", err)
		}
		stale, _ := store.GetEvent(ctx, event.ID)

		criteria := persistence.PurgeCriteria{Cutoffs: scheduler.NewCutoffs(now, 90), DryRun: true}
		dry, err := store.PurgeSlots(ctx, criteria)
		if err != nil {
			t.Fatalf("dry run failed: %v", err)
		}
		if dry.DeletedSlots != 1 || dry.OrphanedSlots != 1 || dry.VeryOldSlots != 0 || !dry.DryRun {
			t.Fatalf("unexpected dry-run report %+v", dry)
		}
		untouched, _ := store.GetEvent(ctx, event.ID)
		if len(untouched.TimeSlots) != 3 {
			t.Fatalf("dry run must not delete, ledger has %d slots", len(untouched.TimeSlots))
		}

		criteria.DryRun = false
		applied, err := store.PurgeSlots(ctx, criteria)
		if err != nil {
			t.Fatalf("purge failed: %v", err)
		}
		if applied.DeletedSlots != dry.DeletedSlots || applied.OrphanedSlots != dry.OrphanedSlots || applied.HistoryEntries != dry.HistoryEntries {
			t.Fatalf("real run %+v disagrees with dry run %+v", applied, dry)
		}
		purged, _ := store.GetEvent(ctx, event.ID)
		if _, ok := purged.SlotByID("deleted-120"); ok {
			t.Fatalf("expired slot survived")
		}
		if _, ok := purged.SlotByID("deleted-10"); !ok {
			t.Fatalf("recent deleted slot was purged")
		}
		if len(purged.ActuelTimeSlots) != 1 {
			t.Fatalf("projection lost the live slot")
		}

		again, err := store.PurgeSlots(ctx, criteria)
		if err != nil {
			t.Fatalf("second purge failed: %v", err)
		}
		if !again.Empty() {
			t.Fatalf("second purge should find nothing, got %+v", again)
		}

		if _, err := store.SaveEvent(ctx, stale); !errors.Is(err, persistence.ErrVersionConflict) {
			t.Fatalf("purge must invalidate handles loaded before it, got %v", err)
		}
	})
}

func assertListed(t *testing.T, store persistence.Store, filter persistence.EventFilter, want string) {
	t.Helper()
	events, err := store.ListEvents(context.Background(), filter)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].ID != want {
		ids := make([]string, 0, len(events))
		for _, e := range events {
			ids = append(ids, e.ID)
		}
		t.Fatalf("filter %+v: expected [%s], got %v", filter, want, ids)
	}
}

func assertSameEvent(t *testing.T, want, got scheduler.Event) {
	t.Helper()
	if got.ID != want.ID || got.OwnerID != want.OwnerID || got.OwnerEmail != want.OwnerEmail || got.Version != want.Version {
		t.Fatalf("event header mismatch: want %+v, got %+v", want, got)
	}
	if got.State != want.State || got.Discipline != want.Discipline || got.ValidationState != want.ValidationState {
		t.Fatalf("event state mismatch: want %s/%s, got %s/%s", want.State, want.Discipline, got.State, got.Discipline)
	}
	if len(got.TimeSlots) != len(want.TimeSlots) {
		t.Fatalf("expected %d slots, got %d", len(want.TimeSlots), len(got.TimeSlots))
	}
	for i := range want.TimeSlots {
		ws, gs := want.TimeSlots[i], got.TimeSlots[i]
		if gs.ID != ws.ID || gs.Status != ws.Status || gs.State != ws.State || gs.CreatedBy != ws.CreatedBy {
			t.Fatalf("slot %d mismatch: want %+v, got %+v", i, ws, gs)
		}
		if !gs.StartDate.Equal(ws.StartDate) || !gs.EndDate.Equal(ws.EndDate) || !gs.UpdatedAt.Equal(ws.UpdatedAt) {
			t.Fatalf("slot %d bounds mismatch", i)
		}
		if len(gs.ModifiedBy) != len(ws.ModifiedBy) {
			t.Fatalf("slot %d: expected %d history entries, got %d", i, len(ws.ModifiedBy), len(gs.ModifiedBy))
		}
		for j := range ws.ModifiedBy {
			we, ge := ws.ModifiedBy[j], gs.ModifiedBy[j]
			if ge.Action != we.Action || ge.UserID != we.UserID || !ge.Date.Equal(we.Date) || ge.Note != we.Note {
				t.Fatalf("slot %d entry %d mismatch: want %+v, got %+v", i, j, we, ge)
			}
		}
	}
	if len(got.ActuelTimeSlots) != len(scheduler.ActiveSlots(got.TimeSlots)) {
		t.Fatalf("loaded event has a stale projection")
	}
	if len(got.EventModifying) != len(want.EventModifying) {
		t.Fatalf("expected %d pending modifications, got %d", len(want.EventModifying), len(got.EventModifying))
	}
}
