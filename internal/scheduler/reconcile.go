package scheduler

import (
	"sort"
	"strings"
	"time"
)

// Notes written into the history trail by owner edits.
const (
	NoteReplacedByOwner = "replaced by owner"
	NoteDeletedByOwner  = "Supprimé par le propriétaire"
)

// apply reconciles a confirmed proposal into the ledger. The actor is the
// confirming user; new slots keep the proposer as creator.
func (g *Engine) apply(e *Event, mod PendingModification, actor Actor, now time.Time, outcome *Outcome) error {
	intervals, warnings := NormalizeSlots(mod.TimeSlots, g.location)
	outcome.Warnings = append(outcome.Warnings, warnings...)

	var target EventState
	switch mod.Action {
	case ModificationCancel:
		target = EventStateCancelled
	case ModificationMove:
		if len(intervals) == 0 {
			return ErrNoValidSlots
		}
		target = EventStateMoved
	default:
		return ErrInvalidAction
	}

	rec := NewRecorder(actor.ID, now)
	for i := range e.TimeSlots {
		if !e.TimeSlots[i].Active() {
			continue
		}
		rec.Deleted(&e.TimeSlots[i], mod.Reason, nil)
		outcome.Superseded = append(outcome.Superseded, cloneSlot(e.TimeSlots[i]))
	}

	state := SlotStateCreated
	if mod.UserID != e.OwnerID {
		state = SlotStateCounterProposed
	}
	sortIntervals(intervals)
	for _, iv := range intervals {
		slot := g.newSlot(e, iv, state, mod.UserID, now)
		rec.Created(&slot, mod.Reason)
		e.TimeSlots = append(e.TimeSlots, slot)
		outcome.Created = append(outcome.Created, slot)
	}

	e.StateReason = mod.Reason
	e.changeState(target, actor, mod.Reason, now)
	return nil
}

// OwnerModifyRequest is a direct edit by the owner of the event.
type OwnerModifyRequest struct {
	Action OwnerAction
	SlotID string
	Slots  []SlotInput
	Reason string
}

// OwnerModify applies GLOBAL_MODIFY or SLOT_MODIFY immediately and puts the
// event back into PENDING/ownerPending for staff re-validation.
func (g *Engine) OwnerModify(e *Event, actor Actor, req OwnerModifyRequest, now time.Time) (Outcome, error) {
	var outcome Outcome
	if !IsOwner(*e, actor) {
		return outcome, ErrNotOwner
	}
	reason := strings.TrimSpace(req.Reason)

	switch req.Action {
	case OwnerGlobalModify:
		intervals, warnings := NormalizeSlots(req.Slots, g.location)
		outcome.Warnings = warnings
		if len(intervals) == 0 {
			return outcome, ErrNoValidSlots
		}
		sortIntervals(intervals)
		rec := NewRecorder(actor.ID, now)
		for i := range e.TimeSlots {
			if !e.TimeSlots[i].Active() {
				continue
			}
			rec.Deleted(&e.TimeSlots[i], NoteReplacedByOwner, nil)
			outcome.Superseded = append(outcome.Superseded, cloneSlot(e.TimeSlots[i]))
		}
		for _, iv := range intervals {
			slot := g.newSlot(e, iv, SlotStateModified, actor.ID, now)
			rec.Created(&slot, reason)
			e.TimeSlots = append(e.TimeSlots, slot)
			outcome.Created = append(outcome.Created, slot)
		}

	case OwnerSlotModify:
		idx, ok := e.SlotByID(req.SlotID)
		if !ok {
			return outcome, ErrSlotNotFound
		}
		if !e.TimeSlots[idx].Active() {
			return outcome, ErrSlotNotActive
		}
		var replacement *TimeSlot
		if len(req.Slots) > 0 {
			intervals, warnings := NormalizeSlots(req.Slots, g.location)
			outcome.Warnings = warnings
			if len(intervals) == 0 {
				return outcome, ErrNoValidSlots
			}
			for i := 1; i < len(intervals); i++ {
				outcome.Warnings = append(outcome.Warnings, SlotWarning{Index: i, Message: "ignored: a slot edit takes a single replacement"})
			}
			slot := g.newSlot(e, intervals[0], SlotStateModified, actor.ID, now)
			replacement = &slot
		}

		rec := NewRecorder(actor.ID, now)
		note := NoteDeletedByOwner
		if replacement != nil {
			note = NoteReplacedByOwner
		}
		rec.Deleted(&e.TimeSlots[idx], note, replacement)
		outcome.Superseded = append(outcome.Superseded, cloneSlot(e.TimeSlots[idx]))
		if replacement != nil {
			rec.Created(replacement, reason)
			e.TimeSlots = append(e.TimeSlots, *replacement)
			outcome.Created = append(outcome.Created, *replacement)
		}

	default:
		return outcome, ErrInvalidAction
	}

	e.markOwnerPending(actor, reason, now)
	outcome.Applied = true
	outcome.finish(e)
	return outcome, nil
}

// Restore re-creates a superseded slot as a new active record.
func (g *Engine) Restore(e *Event, actor Actor, slotID, reason string, now time.Time) (Outcome, error) {
	var outcome Outcome
	if !IsOwner(*e, actor) {
		return outcome, ErrNotOwner
	}
	idx, ok := e.SlotByID(slotID)
	if !ok {
		return outcome, ErrSlotNotFound
	}
	old := e.TimeSlots[idx]
	if old.Active() {
		return outcome, ErrSlotNotDeleted
	}
	for _, slot := range e.TimeSlots {
		if slot.Active() && slot.RestoredFrom == old.ID {
			return outcome, ErrSlotAlreadyRestored
		}
	}

	slot := g.newSlot(e, Interval{Start: old.StartDate, End: old.EndDate}, SlotStateCreated, actor.ID, now)
	NewRecorder(actor.ID, now).Restored(&slot, old, strings.TrimSpace(reason))
	e.TimeSlots = append(e.TimeSlots, slot)
	outcome.Created = append(outcome.Created, slot)

	e.markOwnerPending(actor, strings.TrimSpace(reason), now)
	outcome.Applied = true
	outcome.finish(e)
	return outcome, nil
}

// Validate records a staff verdict on every active slot.
func (g *Engine) Validate(e *Event, actor Actor, approve bool, reason string, now time.Time) (Outcome, error) {
	var outcome Outcome
	if !CanValidate(*e, actor) {
		return outcome, ErrNotValidator
	}
	if e.State == EventStateCancelled || len(ActiveSlots(e.TimeSlots)) == 0 {
		return outcome, ErrNothingToValidate
	}
	reason = strings.TrimSpace(reason)
	rec := NewRecorder(actor.ID, now)
	for i := range e.TimeSlots {
		if e.TimeSlots[i].Active() {
			rec.Verdict(&e.TimeSlots[i], approve, reason)
		}
	}
	if approve {
		e.ValidationState = ValidationNone
		e.changeState(EventStateValidated, actor, reason, now)
	} else {
		e.ValidationState = ValidationValidatorRejected
		e.changeState(e.State, actor, reason, now)
	}
	outcome.Applied = true
	outcome.finish(e)
	return outcome, nil
}

func (e *Event) markOwnerPending(actor Actor, reason string, now time.Time) {
	e.ValidationState = ValidationOwnerPending
	e.changeState(EventStatePending, actor, reason, now)
}

func sortIntervals(intervals []Interval) {
	sort.SliceStable(intervals, func(i, j int) bool {
		return intervals[i].Start.Before(intervals[j].Start)
	})
}
