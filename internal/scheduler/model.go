package scheduler

import (
	"fmt"
	"sort"
	"time"
)

// SlotStatus is the coarse visibility flag of a time slot.
type SlotStatus string

const (
	SlotStatusActive  SlotStatus = "active"
	SlotStatusDeleted SlotStatus = "deleted"
)

// SlotState is the fine-grained lifecycle tag of a time slot, independent of its status.
type SlotState string

const (
	SlotStateCreated         SlotState = "created"
	SlotStateModified        SlotState = "modified"
	SlotStateCounterProposed SlotState = "counter_proposed"
	SlotStateApproved        SlotState = "approved"
	SlotStateRejected        SlotState = "rejected"
	SlotStateDeleted         SlotState = "deleted"
)

// Terminal reports whether the state is a validator verdict.
func (s SlotState) Terminal() bool {
	return s == SlotStateApproved || s == SlotStateRejected
}

// HistoryAction labels one entry of a slot's modifiedBy trail.
type HistoryAction string

const (
	ActionCreated      HistoryAction = "created"
	ActionModified     HistoryAction = "modified"
	ActionDeleted      HistoryAction = "deleted"
	ActionInvalidated  HistoryAction = "invalidated"
	ActionApproved     HistoryAction = "approved"
	ActionRejected     HistoryAction = "rejected"
	ActionRestored     HistoryAction = "restored"
	ActionTimeModified HistoryAction = "time_modified"
)

// Discipline identifies which laboratory staff validates an event.
type Discipline string

const (
	DisciplineChimie   Discipline = "chimie"
	DisciplinePhysique Discipline = "physique"
)

// Valid reports whether d is a known discipline.
func (d Discipline) Valid() bool {
	return d == DisciplineChimie || d == DisciplinePhysique
}

// EventState is the coarse lifecycle of an event.
type EventState string

const (
	EventStatePending    EventState = "PENDING"
	EventStateValidated  EventState = "VALIDATED"
	EventStateCancelled  EventState = "CANCELLED"
	EventStateMoved      EventState = "MOVED"
	EventStateInProgress EventState = "IN_PROGRESS"
)

// ValidationState flags an event that needs staff attention.
type ValidationState string

const (
	ValidationNone              ValidationState = ""
	ValidationOwnerPending      ValidationState = "ownerPending"
	ValidationValidatorRejected ValidationState = "validatorRejected"
)

// ModificationAction is the kind of change a pending proposal requests.
type ModificationAction string

const (
	ModificationCancel ModificationAction = "CANCEL"
	ModificationMove   ModificationAction = "MOVE"
)

// Valid reports whether a is a known proposal action.
func (a ModificationAction) Valid() bool {
	return a == ModificationCancel || a == ModificationMove
}

// OwnerAction is the kind of direct edit an owner applies to their own event.
type OwnerAction string

const (
	OwnerGlobalModify OwnerAction = "GLOBAL_MODIFY"
	OwnerSlotModify   OwnerAction = "SLOT_MODIFY"
)

// Decision is the owner's verdict on a pending proposal.
type Decision string

const (
	DecisionConfirm Decision = "confirm"
	DecisionReject  Decision = "reject"
)

// HistoryEntry is one immutable record in a slot's modifiedBy trail.
type HistoryEntry struct {
	UserID        string
	Date          time.Time
	Action        HistoryAction
	Note          string
	PreviousStart *time.Time
	PreviousEnd   *time.Time
	NewStart      *time.Time
	NewEnd        *time.Time
}

// TimeSlot is one concrete interval belonging to an event.
type TimeSlot struct {
	ID           string
	EventID      string
	StartDate    time.Time
	EndDate      time.Time
	Status       SlotStatus
	State        SlotState
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	RestoredFrom string
	ModifiedBy   []HistoryEntry
}

// Active reports whether the slot belongs to the current view.
func (s TimeSlot) Active() bool {
	return s.Status == SlotStatusActive
}

// PendingModification is a proposal awaiting the owner's decision.
type PendingModification struct {
	ID          string
	UserID      string
	Action      ModificationAction
	RequestDate time.Time
	Reason      string
	TimeSlots   []SlotInput
	Fingerprint string
}

// KeyLayout renders requestDate inside the legacy modification reference.
const KeyLayout = "2006-01-02T15:04:05.000Z"

// Key returns the legacy external reference `${userId}-${action}-${requestDate}`.
func (m PendingModification) Key() string {
	return fmt.Sprintf("%s-%s-%s", m.UserID, m.Action, m.RequestDate.UTC().Format(KeyLayout))
}

// StateChange records an event-level state transition.
type StateChange struct {
	From   EventState
	To     EventState
	Date   time.Time
	UserID string
	Reason string
}

// StateChanger records who last touched event-level state.
type StateChanger struct {
	UserID string
	Date   time.Time
}

// Event is a scheduled lab session and its slot ledger.
type Event struct {
	ID              string
	Title           string
	Discipline      Discipline
	Room            string
	OwnerID         string
	OwnerEmail      string
	StartDate       time.Time
	EndDate         time.Time
	TimeSlots       []TimeSlot
	ActuelTimeSlots []TimeSlot
	EventModifying  []PendingModification
	State           EventState
	StateReason     string
	ValidationState ValidationState
	StateChanger    []StateChanger
	LastStateChange *StateChange
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ActiveSlots returns the active subset of a ledger in ledger order.
func ActiveSlots(ledger []TimeSlot) []TimeSlot {
	active := make([]TimeSlot, 0, len(ledger))
	for _, slot := range ledger {
		if slot.Active() {
			active = append(active, cloneSlot(slot))
		}
	}
	return active
}

// Project recomputes the derived view and the event bounds from the ledger.
// Bounds are left untouched when no slot is active.
func (e *Event) Project() {
	e.ActuelTimeSlots = ActiveSlots(e.TimeSlots)
	if len(e.ActuelTimeSlots) == 0 {
		return
	}
	start, end := e.ActuelTimeSlots[0].StartDate, e.ActuelTimeSlots[0].EndDate
	for _, slot := range e.ActuelTimeSlots[1:] {
		if slot.StartDate.Before(start) {
			start = slot.StartDate
		}
		if slot.EndDate.After(end) {
			end = slot.EndDate
		}
	}
	e.StartDate, e.EndDate = start, end
}

// SlotByID returns the index of the slot with the given id.
func (e *Event) SlotByID(id string) (int, bool) {
	for i := range e.TimeSlots {
		if e.TimeSlots[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// FindModification resolves a pending proposal by generated id or legacy key.
func (e *Event) FindModification(ref string) (int, bool) {
	if ref == "" {
		return -1, false
	}
	for i, mod := range e.EventModifying {
		if mod.ID == ref || mod.Key() == ref {
			return i, true
		}
	}
	return -1, false
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (e Event) Clone() Event {
	out := e
	out.TimeSlots = cloneSlots(e.TimeSlots)
	out.ActuelTimeSlots = cloneSlots(e.ActuelTimeSlots)
	if e.EventModifying != nil {
		out.EventModifying = make([]PendingModification, len(e.EventModifying))
		for i, mod := range e.EventModifying {
			mod.TimeSlots = append([]SlotInput(nil), mod.TimeSlots...)
			out.EventModifying[i] = mod
		}
	}
	out.StateChanger = append([]StateChanger(nil), e.StateChanger...)
	if e.LastStateChange != nil {
		change := *e.LastStateChange
		out.LastStateChange = &change
	}
	return out
}

func cloneSlots(slots []TimeSlot) []TimeSlot {
	if slots == nil {
		return nil
	}
	out := make([]TimeSlot, len(slots))
	for i, slot := range slots {
		out[i] = cloneSlot(slot)
	}
	return out
}

func cloneSlot(slot TimeSlot) TimeSlot {
	slot.ModifiedBy = append([]HistoryEntry(nil), slot.ModifiedBy...)
	return slot
}

// SortSlots orders slots ascending by start date, then id.
func SortSlots(slots []TimeSlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].StartDate.Equal(slots[j].StartDate) {
			return slots[i].ID < slots[j].ID
		}
		return slots[i].StartDate.Before(slots[j].StartDate)
	})
}
