package scheduler

import "time"

// Recorder appends modifiedBy entries on behalf of one actor at one instant.
// Every slot mutation in this package goes through a Recorder so that each
// change to bounds or status leaves exactly one trail entry.
type Recorder struct {
	UserID string
	At     time.Time
}

// NewRecorder returns a Recorder stamped with the acting user and time.
func NewRecorder(userID string, at time.Time) Recorder {
	return Recorder{UserID: userID, At: at}
}

func (r Recorder) entry(action HistoryAction, note string) HistoryEntry {
	return HistoryEntry{UserID: r.UserID, Date: r.At, Action: action, Note: note}
}

func (r Recorder) append(slot *TimeSlot, entry HistoryEntry) {
	slot.ModifiedBy = append(slot.ModifiedBy, entry)
	slot.UpdatedAt = entry.Date
}

// Created stamps a freshly built slot.
func (r Recorder) Created(slot *TimeSlot, note string) {
	entry := r.entry(ActionCreated, note)
	entry.NewStart, entry.NewEnd = timePtr(slot.StartDate), timePtr(slot.EndDate)
	r.append(slot, entry)
}

// Deleted supersedes an active slot. replacement, when set, records the bounds
// that took its place.
func (r Recorder) Deleted(slot *TimeSlot, note string, replacement *TimeSlot) {
	entry := r.entry(ActionDeleted, note)
	entry.PreviousStart, entry.PreviousEnd = timePtr(slot.StartDate), timePtr(slot.EndDate)
	if replacement != nil {
		entry.NewStart, entry.NewEnd = timePtr(replacement.StartDate), timePtr(replacement.EndDate)
	}
	slot.Status = SlotStatusDeleted
	slot.State = SlotStateDeleted
	r.append(slot, entry)
}

// Verdict records a validator decision on an active slot.
func (r Recorder) Verdict(slot *TimeSlot, approve bool, note string) {
	action, state := ActionRejected, SlotStateRejected
	if approve {
		action, state = ActionApproved, SlotStateApproved
	}
	slot.State = state
	r.append(slot, r.entry(action, note))
}

// Restored stamps a slot re-created from a superseded one.
func (r Recorder) Restored(slot *TimeSlot, from TimeSlot, note string) {
	entry := r.entry(ActionRestored, note)
	entry.PreviousStart, entry.PreviousEnd = timePtr(from.StartDate), timePtr(from.EndDate)
	entry.NewStart, entry.NewEnd = timePtr(slot.StartDate), timePtr(slot.EndDate)
	slot.RestoredFrom = from.ID
	r.append(slot, entry)
}

// Migrated backfills a missing trail entry during legacy import.
func (r Recorder) Migrated(slot *TimeSlot, action HistoryAction) {
	r.append(slot, r.entry(action, "migrated"))
}

func timePtr(t time.Time) *time.Time {
	return &t
}
