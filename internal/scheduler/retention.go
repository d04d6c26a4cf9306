package scheduler

import "time"

// DefaultRetentionDays is the slot retention threshold when none is configured.
const DefaultRetentionDays = 90

// Cutoffs are the instants derived from one retention threshold.
type Cutoffs struct {
	// DeletedBefore purges deleted slots last updated earlier.
	DeletedBefore time.Time
	// HistoryBefore purges trail entries dated earlier (2x threshold).
	HistoryBefore time.Time
	// VeryOldBefore purges approved or rejected slots starting earlier (3x threshold).
	VeryOldBefore time.Time
}

// NewCutoffs derives the three retention instants from now and a day threshold.
func NewCutoffs(now time.Time, days int) Cutoffs {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	threshold := time.Duration(days) * 24 * time.Hour
	return Cutoffs{
		DeletedBefore: now.Add(-threshold),
		HistoryBefore: now.Add(-2 * threshold),
		VeryOldBefore: now.Add(-3 * threshold),
	}
}

// ExpiredDeleted reports whether a deleted slot is past retention.
func (c Cutoffs) ExpiredDeleted(slot TimeSlot) bool {
	return slot.Status == SlotStatusDeleted && slot.UpdatedAt.Before(c.DeletedBefore)
}

// VeryOld reports whether a terminal slot is past the long retention window.
func (c Cutoffs) VeryOld(slot TimeSlot) bool {
	return slot.State.Terminal() && slot.StartDate.Before(c.VeryOldBefore)
}

// PruneCounts reports what one pruning pass removed.
type PruneCounts struct {
	DeletedSlots   int
	VeryOldSlots   int
	HistoryEntries int
}

// Add accumulates counts.
func (p *PruneCounts) Add(other PruneCounts) {
	p.DeletedSlots += other.DeletedSlots
	p.VeryOldSlots += other.VeryOldSlots
	p.HistoryEntries += other.HistoryEntries
}

// Empty reports whether nothing was removed.
func (p PruneCounts) Empty() bool {
	return p.DeletedSlots == 0 && p.VeryOldSlots == 0 && p.HistoryEntries == 0
}

// PruneLedger physically removes expired slots and stale trail entries from
// an event. A slot that is both expired-deleted and very old counts once, as
// deleted. Trail entries of removed slots go with them and are not counted
// separately.
func PruneLedger(e *Event, c Cutoffs) PruneCounts {
	var counts PruneCounts
	kept := e.TimeSlots[:0:0]
	for _, slot := range e.TimeSlots {
		switch {
		case c.ExpiredDeleted(slot):
			counts.DeletedSlots++
			continue
		case c.VeryOld(slot):
			counts.VeryOldSlots++
			continue
		}
		trail := slot.ModifiedBy[:0:0]
		for _, entry := range slot.ModifiedBy {
			if entry.Date.Before(c.HistoryBefore) {
				counts.HistoryEntries++
				continue
			}
			trail = append(trail, entry)
		}
		slot.ModifiedBy = trail
		kept = append(kept, slot)
	}
	e.TimeSlots = kept
	e.Project()
	return counts
}
