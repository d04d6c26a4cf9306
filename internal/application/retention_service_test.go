package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/example/lab-scheduler/internal/application"
	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/persistence/memory"
	"github.com/example/lab-scheduler/internal/scheduler"
	"github.com/example/lab-scheduler/internal/testfixtures"
)

type failingRetentionStore struct {
	err error
}

func (s failingRetentionStore) PurgeSlots(ctx context.Context, criteria persistence.PurgeCriteria) (persistence.PurgeReport, error) {
	return persistence.PurgeReport{}, s.err
}

func seedRetentionStore(t *testing.T, clock *testfixtures.Clock) (*memory.Store, scheduler.Event) {
	t.Helper()
	now := clock.Now()
	event := testfixtures.NewEventFixture(testfixtures.WithSlots(
		testfixtures.NewSlotFixture(testfixtures.WithSlotDeletedAt(now.AddDate(0, 0, -120))),
		testfixtures.NewSlotFixture(testfixtures.WithSlotDeletedAt(now.AddDate(0, 0, -10))),
		testfixtures.NewSlotFixture(),
	)).Event()

	store := memory.New()
	stored, err := store.CreateEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("expected fixture to be stored, got %v", err)
	}
	return store, stored
}

func TestRetentionService_Run(t *testing.T) {
	clock := testfixtures.NewClock(testfixtures.ReferenceTime())
	factory := testfixtures.NewServiceFactory(testfixtures.WithClock(clock))
	store, event := seedRetentionStore(t, clock)
	svc := factory.NewRetentionService(testfixtures.RetentionServiceDeps{Store: store})
	admin := testfixtures.NewUserFixture(testfixtures.WithRole(scheduler.RoleAdminLabo)).Principal()
	ctx := context.Background()

	dry, err := svc.RunAs(ctx, admin, application.RetentionParams{RemoveOlderThanDays: 90, DryRun: true})
	if err != nil {
		t.Fatalf("expected dry run to succeed, got %v", err)
	}
	if !dry.DryRun || dry.DeletedSlots != 1 {
		t.Fatalf("expected dry run to report one deleted slot, got %+v", dry.PurgeReport)
	}
	unchanged, err := store.GetEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("expected event to load, got %v", err)
	}
	if len(unchanged.TimeSlots) != 3 || unchanged.Version != event.Version {
		t.Fatalf("expected dry run to leave the ledger alone, got %d slots at version %d", len(unchanged.TimeSlots), unchanged.Version)
	}

	applied, err := svc.RunAs(ctx, admin, application.RetentionParams{RemoveOlderThanDays: 90})
	if err != nil {
		t.Fatalf("expected retention to succeed, got %v", err)
	}
	if applied.DeletedSlots != dry.DeletedSlots || applied.HistoryEntries != dry.HistoryEntries {
		t.Fatalf("expected the real run to match the dry run, got %+v vs %+v", applied.PurgeReport, dry.PurgeReport)
	}
	if !applied.Cutoffs.DeletedBefore.Equal(clock.Now().AddDate(0, 0, -90)) {
		t.Fatalf("expected cutoff 90 days back, got %v", applied.Cutoffs.DeletedBefore)
	}

	purged, err := store.GetEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("expected event to load, got %v", err)
	}
	if len(purged.TimeSlots) != 2 {
		t.Fatalf("expected only the 120-day slot to be purged, got %d slots", len(purged.TimeSlots))
	}

	again, err := svc.Run(ctx, application.RetentionParams{RemoveOlderThanDays: 90})
	if err != nil {
		t.Fatalf("expected second run to succeed, got %v", err)
	}
	if !again.Empty() {
		t.Fatalf("expected nothing left to purge, got %+v", again.PurgeReport)
	}
}

func TestRetentionService_RunAsRequiresAdministrator(t *testing.T) {
	factory := testfixtures.NewServiceFactory()
	svc := factory.NewRetentionService(testfixtures.RetentionServiceDeps{Store: memory.New()})

	_, err := svc.RunAs(context.Background(), testfixtures.NewUserFixture().Principal(), application.RetentionParams{})
	if !errors.Is(err, application.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRetentionService_Thresholds(t *testing.T) {
	factory := testfixtures.NewServiceFactory()

	t.Run("negative threshold is invalid", func(t *testing.T) {
		svc := factory.NewRetentionService(testfixtures.RetentionServiceDeps{Store: memory.New()})
		_, err := svc.Run(context.Background(), application.RetentionParams{RemoveOlderThanDays: -1})
		var vErr *application.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("zero threshold uses the default", func(t *testing.T) {
		svc := factory.NewRetentionService(testfixtures.RetentionServiceDeps{Store: memory.New(), DefaultDays: 30})
		report, err := svc.Run(context.Background(), application.RetentionParams{})
		if err != nil {
			t.Fatalf("expected run to succeed, got %v", err)
		}
		if report.RemoveOlderThanDays != 30 {
			t.Fatalf("expected default of 30 days, got %d", report.RemoveOlderThanDays)
		}
	})

	t.Run("store failures are reported", func(t *testing.T) {
		boom := errors.New("disk full")
		svc := factory.NewRetentionService(testfixtures.RetentionServiceDeps{Store: failingRetentionStore{err: boom}})
		if _, err := svc.Run(context.Background(), application.RetentionParams{}); !errors.Is(err, boom) {
			t.Fatalf("expected store error, got %v", err)
		}
	})
}
