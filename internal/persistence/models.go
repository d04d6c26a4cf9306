package persistence

import (
	"github.com/example/lab-scheduler/internal/scheduler"
)

// EventFilter narrows event listings. Zero values match everything.
type EventFilter struct {
	OwnerID    string
	Discipline scheduler.Discipline
	State      scheduler.EventState
	// PendingOnly keeps events with at least one proposal awaiting decision.
	PendingOnly bool
}

// Matches reports whether event passes the filter.
func (f EventFilter) Matches(event scheduler.Event) bool {
	if f.OwnerID != "" && event.OwnerID != f.OwnerID {
		return false
	}
	if f.Discipline != "" && event.Discipline != f.Discipline {
		return false
	}
	if f.State != "" && event.State != f.State {
		return false
	}
	if f.PendingOnly && len(event.EventModifying) == 0 {
		return false
	}
	return true
}

// PurgeCriteria parameterises one retention pass.
type PurgeCriteria struct {
	Cutoffs scheduler.Cutoffs
	DryRun  bool
}

// PurgeReport counts what a retention pass removed, or would remove.
type PurgeReport struct {
	DeletedSlots   int
	OrphanedSlots  int
	VeryOldSlots   int
	HistoryEntries int
	// AffectedEvents lists events whose ledger changed.
	AffectedEvents []string
	DryRun         bool
}

// TotalSlots sums every purged slot category.
func (r PurgeReport) TotalSlots() int {
	return r.DeletedSlots + r.OrphanedSlots + r.VeryOldSlots
}

// Empty reports whether nothing was, or would be, removed.
func (r PurgeReport) Empty() bool {
	return r.TotalSlots() == 0 && r.HistoryEntries == 0
}

// AddCounts folds an in-memory pruning result into the report.
func (r *PurgeReport) AddCounts(eventID string, counts scheduler.PruneCounts) {
	if counts.Empty() {
		return
	}
	r.DeletedSlots += counts.DeletedSlots
	r.VeryOldSlots += counts.VeryOldSlots
	r.HistoryEntries += counts.HistoryEntries
	r.AffectedEvents = append(r.AffectedEvents, eventID)
}
