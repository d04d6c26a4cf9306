package persistence

import (
	"context"

	"github.com/example/lab-scheduler/internal/scheduler"
)

// EventRepository stores events with their full slot ledger and pending
// proposals. Implementations must serialise writers per event: SaveEvent
// succeeds only when event.Version still matches the stored version, and
// returns the event with its new version.
type EventRepository interface {
	CreateEvent(ctx context.Context, event scheduler.Event) (scheduler.Event, error)
	GetEvent(ctx context.Context, id string) (scheduler.Event, error)
	SaveEvent(ctx context.Context, event scheduler.Event) (scheduler.Event, error)
	DeleteEvent(ctx context.Context, id string) error
	ListEvents(ctx context.Context, filter EventFilter) ([]scheduler.Event, error)
}

// SlotRetentionStore physically removes obsolete slots. PurgeSlots runs in a
// single transaction; with DryRun set it reports the same counts without
// keeping any change.
type SlotRetentionStore interface {
	PurgeSlots(ctx context.Context, criteria PurgeCriteria) (PurgeReport, error)
}

// Store is implemented by every backend.
type Store interface {
	EventRepository
	SlotRetentionStore
	Close() error
}
