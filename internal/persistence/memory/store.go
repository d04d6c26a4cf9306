// Package memory keeps events in process memory. It backs tests and
// single-node development setups, and can load or dump JSON snapshots.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/scheduler"
)

// Store is an in-memory event store with optimistic versioning.
type Store struct {
	mu      sync.RWMutex
	events  map[string]scheduler.Event
	orphans map[string][]scheduler.TimeSlot
}

// New returns an empty store.
func New() *Store {
	return &Store{
		events:  make(map[string]scheduler.Event),
		orphans: make(map[string][]scheduler.TimeSlot),
	}
}

// Close releases resources held by the store. No-op for the in-memory implementation.
func (s *Store) Close() error {
	return nil
}

// CreateEvent stores a new event at version 1.
func (s *Store) CreateEvent(ctx context.Context, event scheduler.Event) (scheduler.Event, error) {
	if err := ctx.Err(); err != nil {
		return scheduler.Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; ok {
		return scheduler.Event{}, persistence.ErrDuplicate
	}
	stored := event.Clone()
	stored.Version = 1
	stored.Project()
	s.events[stored.ID] = stored
	return stored.Clone(), nil
}

// GetEvent returns a copy of the stored event.
func (s *Store) GetEvent(ctx context.Context, id string) (scheduler.Event, error) {
	if err := ctx.Err(); err != nil {
		return scheduler.Event{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[id]
	if !ok {
		return scheduler.Event{}, persistence.ErrNotFound
	}
	return event.Clone(), nil
}

// SaveEvent replaces the stored event when versions match.
func (s *Store) SaveEvent(ctx context.Context, event scheduler.Event) (scheduler.Event, error) {
	if err := ctx.Err(); err != nil {
		return scheduler.Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.events[event.ID]
	if !ok {
		return scheduler.Event{}, persistence.ErrNotFound
	}
	if current.Version != event.Version {
		return scheduler.Event{}, persistence.ErrVersionConflict
	}
	stored := event.Clone()
	stored.Version = current.Version + 1
	stored.Project()
	s.events[stored.ID] = stored
	return stored.Clone(), nil
}

// DeleteEvent removes the event record. Its slots stay behind as orphans
// until the next retention pass.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if len(event.TimeSlots) > 0 {
		s.orphans[id] = append(s.orphans[id], event.TimeSlots...)
	}
	delete(s.events, id)
	return nil
}

// ListEvents returns matching events ordered by start date, then id.
func (s *Store) ListEvents(ctx context.Context, filter persistence.EventFilter) ([]scheduler.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]scheduler.Event, 0, len(s.events))
	for _, event := range s.events {
		if filter.Matches(event) {
			result = append(result, event.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].ID < result[j].ID
		}
		return result[i].StartDate.Before(result[j].StartDate)
	})
	return result, nil
}

// PurgeSlots prunes every ledger under the write lock. A dry run works on
// copies so the stored state is never touched.
func (s *Store) PurgeSlots(ctx context.Context, criteria persistence.PurgeCriteria) (persistence.PurgeReport, error) {
	if err := ctx.Err(); err != nil {
		return persistence.PurgeReport{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	report := persistence.PurgeReport{DryRun: criteria.DryRun}
	for _, slots := range s.orphans {
		report.OrphanedSlots += len(slots)
	}

	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	updated := make(map[string]scheduler.Event)
	for _, id := range ids {
		working := s.events[id].Clone()
		counts := scheduler.PruneLedger(&working, criteria.Cutoffs)
		if counts.Empty() {
			continue
		}
		report.AddCounts(id, counts)
		working.Version++
		updated[id] = working
	}

	if criteria.DryRun {
		return report, nil
	}
	for id, event := range updated {
		s.events[id] = event
	}
	s.orphans = make(map[string][]scheduler.TimeSlot)
	return report, nil
}

// Import loads newline-delimited event documents, migrating legacy shapes.
// It returns how many documents needed migration.
func (s *Store) Import(r io.Reader, migrator *scheduler.Migrator) (imported, migrated int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	s.mu.Lock()
	defer s.mu.Unlock()

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		event, changed, err := migrator.MigrateLegacyEvent(raw)
		if err != nil {
			return imported, migrated, fmt.Errorf("line %d: %w", line, err)
		}
		if event.Version == 0 {
			event.Version = 1
		}
		s.events[event.ID] = event
		imported++
		if changed {
			migrated++
		}
	}
	if err := scanner.Err(); err != nil {
		return imported, migrated, fmt.Errorf("read snapshot: %w", err)
	}
	return imported, migrated, nil
}

// Export writes every event as one JSON document per line.
func (s *Store) Export(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	buf := bufio.NewWriter(w)
	for _, id := range ids {
		raw, err := scheduler.EncodeEvent(s.events[id])
		if err != nil {
			return fmt.Errorf("encode event %s: %w", id, err)
		}
		if _, err := buf.Write(append(raw, '\n')); err != nil {
			return err
		}
	}
	return buf.Flush()
}
