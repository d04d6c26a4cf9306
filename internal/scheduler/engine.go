package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Engine applies transitions to an event held in memory. It never performs I/O;
// callers load the event, run one Engine method and persist the result.
type Engine struct {
	location *time.Location
	newID    func() string
}

// NewEngine returns an Engine that reads slot inputs in loc and mints ids with newID.
func NewEngine(loc *time.Location, newID func() string) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if newID == nil {
		counter := 0
		newID = func() string {
			counter++
			return fmt.Sprintf("id-%d", counter)
		}
	}
	return &Engine{location: loc, newID: newID}
}

// Location returns the zone used to interpret slot inputs.
func (g *Engine) Location() *time.Location {
	return g.location
}

// Outcome summarises what one transition did to an event.
type Outcome struct {
	Applied      bool
	Modification *PendingModification
	Created      []TimeSlot
	Superseded   []TimeSlot
	Invalidated  []PendingModification
	Warnings     []SlotWarning
	Overlaps     []Overlap
}

func (o *Outcome) finish(e *Event) {
	e.Project()
	o.Overlaps = DetectOverlaps(e.ActuelTimeSlots)
}

// EventDraft carries the fields of a new event.
type EventDraft struct {
	Title      string
	Discipline Discipline
	Room       string
	Slots      []SlotInput
}

// CreateEvent builds a PENDING event owned by actor with one active slot per
// valid candidate.
func (g *Engine) CreateEvent(draft EventDraft, actor Actor, now time.Time) (Event, Outcome, error) {
	var outcome Outcome
	intervals, warnings := NormalizeSlots(draft.Slots, g.location)
	outcome.Warnings = warnings
	if len(intervals) == 0 {
		return Event{}, outcome, ErrNoValidSlots
	}

	event := Event{
		ID:         g.newID(),
		Title:      strings.TrimSpace(draft.Title),
		Discipline: draft.Discipline,
		Room:       strings.TrimSpace(draft.Room),
		OwnerID:    actor.ID,
		OwnerEmail: actor.Email,
		State:      EventStatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	sortIntervals(intervals)
	rec := NewRecorder(actor.ID, now)
	for _, iv := range intervals {
		slot := g.newSlot(&event, iv, SlotStateCreated, actor.ID, now)
		rec.Created(&slot, "")
		event.TimeSlots = append(event.TimeSlots, slot)
		outcome.Created = append(outcome.Created, slot)
	}
	event.StateChanger = append(event.StateChanger, StateChanger{UserID: actor.ID, Date: now})
	outcome.Applied = true
	outcome.finish(&event)
	return event, outcome, nil
}

// ProposalRequest is a CANCEL or MOVE request against an event.
type ProposalRequest struct {
	Action    ModificationAction
	Reason    string
	TimeSlots []SlotInput
}

// Submit routes a proposal through the authorization gate. Owners auto-apply
// it and flag the event ownerPending; anyone else queues a pending entry.
func (g *Engine) Submit(e *Event, actor Actor, req ProposalRequest, now time.Time) (Outcome, error) {
	var outcome Outcome
	if !req.Action.Valid() {
		return outcome, ErrInvalidAction
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return outcome, ErrReasonRequired
	}

	intervals, warnings := NormalizeSlots(req.TimeSlots, g.location)
	outcome.Warnings = warnings
	if req.Action == ModificationMove && len(intervals) == 0 {
		return outcome, ErrNoValidSlots
	}

	requestDate := now.UTC().Truncate(time.Millisecond)
	fingerprint := Fingerprint(actor.ID, req.Action, requestDate)
	for _, pending := range e.EventModifying {
		if pending.Fingerprint == fingerprint {
			return outcome, ErrDuplicateModification
		}
	}

	candidates := make([]SlotInput, 0, len(intervals))
	for _, iv := range intervals {
		candidates = append(candidates, InputFromInterval(iv, g.location))
	}
	mod := PendingModification{
		ID:          g.newID(),
		UserID:      actor.ID,
		Action:      req.Action,
		RequestDate: requestDate,
		Reason:      reason,
		TimeSlots:   candidates,
		Fingerprint: fingerprint,
	}
	outcome.Modification = &mod

	if CanModify(*e, actor).Auto {
		if err := g.apply(e, mod, actor, now, &outcome); err != nil {
			return outcome, err
		}
		e.ValidationState = ValidationOwnerPending
		outcome.Invalidated = append(outcome.Invalidated, e.EventModifying...)
		e.EventModifying = nil
		outcome.Applied = true
		outcome.finish(e)
		return outcome, nil
	}

	e.EventModifying = append(e.EventModifying, mod)
	e.UpdatedAt = now
	outcome.finish(e)
	return outcome, nil
}

// Decide confirms or rejects the pending entry identified by ref, which may be
// the generated id or the legacy key. Only the owner may decide.
func (g *Engine) Decide(e *Event, ref string, decision Decision, actor Actor, now time.Time) (Outcome, error) {
	var outcome Outcome
	if decision != DecisionConfirm && decision != DecisionReject {
		return outcome, ErrInvalidAction
	}
	if !CanConfirm(*e, actor) {
		return outcome, ErrNotOwner
	}
	idx, ok := e.FindModification(ref)
	if !ok {
		return outcome, ErrModificationNotFound
	}
	mod := e.EventModifying[idx]
	outcome.Modification = &mod

	if decision == DecisionReject {
		e.EventModifying = removeModification(e.EventModifying, idx)
		e.UpdatedAt = now
		outcome.finish(e)
		return outcome, nil
	}

	if err := g.apply(e, mod, actor, now, &outcome); err != nil {
		return outcome, err
	}
	// Confirming one proposal invalidates every sibling still pending.
	for i, sibling := range e.EventModifying {
		if i != idx {
			outcome.Invalidated = append(outcome.Invalidated, sibling)
		}
	}
	e.EventModifying = nil
	outcome.Applied = true
	outcome.finish(e)
	return outcome, nil
}

func removeModification(list []PendingModification, idx int) []PendingModification {
	out := make([]PendingModification, 0, len(list)-1)
	out = append(out, list[:idx]...)
	return append(out, list[idx+1:]...)
}

func (g *Engine) newSlot(e *Event, iv Interval, state SlotState, createdBy string, now time.Time) TimeSlot {
	return TimeSlot{
		ID:        g.newID(),
		EventID:   e.ID,
		StartDate: iv.Start,
		EndDate:   iv.End,
		Status:    SlotStatusActive,
		State:     state,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (e *Event) changeState(to EventState, actor Actor, reason string, now time.Time) {
	e.LastStateChange = &StateChange{From: e.State, To: to, Date: now, UserID: actor.ID, Reason: reason}
	e.State = to
	e.StateChanger = append(e.StateChanger, StateChanger{UserID: actor.ID, Date: now})
	e.UpdatedAt = now
}
