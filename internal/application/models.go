package application

import (
	"time"

	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/scheduler"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID string
	Email  string
	Role   scheduler.Role
}

// Actor converts the principal into the identity the scheduler checks.
func (p Principal) Actor() scheduler.Actor {
	return scheduler.Actor{ID: p.UserID, Email: p.Email, Role: p.Role}
}

// IsAdministrator reports whether the principal may run cross-event operations.
func (p Principal) IsAdministrator() bool {
	return scheduler.IsAdministrator(p.Role)
}

// EventResult is the persisted event together with what the operation did to it.
type EventResult struct {
	Event   scheduler.Event
	Outcome scheduler.Outcome
}

// CreateEventParams wraps the data required to create an event.
type CreateEventParams struct {
	Principal  Principal
	Title      string
	Discipline scheduler.Discipline
	Room       string
	TimeSlots  []scheduler.SlotInput
}

// ListEventsParams narrows an event listing.
type ListEventsParams struct {
	Principal   Principal
	OwnerID     string
	Discipline  scheduler.Discipline
	State       scheduler.EventState
	PendingOnly bool
}

func (p ListEventsParams) filter() persistence.EventFilter {
	return persistence.EventFilter{
		OwnerID:     p.OwnerID,
		Discipline:  p.Discipline,
		State:       p.State,
		PendingOnly: p.PendingOnly,
	}
}

// SubmitProposalParams is a CANCEL or MOVE request against an event.
type SubmitProposalParams struct {
	Principal Principal
	EventID   string
	Action    scheduler.ModificationAction
	Reason    string
	TimeSlots []scheduler.SlotInput
}

// DecideModificationParams confirms or rejects one pending modification.
// ModificationID accepts the generated id or the legacy userId-action-requestDate key.
type DecideModificationParams struct {
	Principal      Principal
	EventID        string
	ModificationID string
	Decision       scheduler.Decision
}

// OwnerModifyParams is a direct edit by the event owner.
type OwnerModifyParams struct {
	Principal         Principal
	EventID           string
	Action            scheduler.OwnerAction
	SlotID            string
	ProposedTimeSlots []scheduler.SlotInput
	Reason            string
}

// RestoreSlotParams re-creates a deleted slot.
type RestoreSlotParams struct {
	Principal Principal
	EventID   string
	SlotID    string
	Reason    string
}

// ValidateEventParams carries a staff verdict on an event.
type ValidateEventParams struct {
	Principal Principal
	EventID   string
	Approve   bool
	Reason    string
}

// RetentionParams parameterises one retention run. A zero threshold uses the
// service default.
type RetentionParams struct {
	RemoveOlderThanDays int
	DryRun              bool
}

// RetentionReport describes one retention run.
type RetentionReport struct {
	persistence.PurgeReport
	RemoveOlderThanDays int
	Cutoffs             scheduler.Cutoffs
	StartedAt           time.Time
	Duration            time.Duration
}

// ChangeKind labels an owner notification.
type ChangeKind string

const (
	ChangeProposalSubmitted    ChangeKind = "proposal_submitted"
	ChangeProposalApplied      ChangeKind = "proposal_applied"
	ChangeModificationApproved ChangeKind = "modification_confirmed"
	ChangeModificationRejected ChangeKind = "modification_rejected"
	ChangeOwnerModified        ChangeKind = "owner_modified"
	ChangeSlotRestored         ChangeKind = "slot_restored"
	ChangeEventValidated       ChangeKind = "event_validated"
	ChangeEventRejected        ChangeKind = "event_rejected"
	ChangeEventDeleted         ChangeKind = "event_deleted"
)

// ChangeSummary is what the owner is told about a change to one of their events.
type ChangeSummary struct {
	Kind           ChangeKind `json:"kind"`
	EventID        string     `json:"eventId"`
	OwnerID        string     `json:"ownerId"`
	ActorID        string     `json:"actorId"`
	ModificationID string     `json:"modificationId,omitempty"`
	ProposerID     string     `json:"proposerId,omitempty"`
	Action         string     `json:"action,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	State          string     `json:"state"`
	CreatedSlots   int        `json:"createdSlots"`
	DeletedSlots   int        `json:"deletedSlots"`
	Invalidated    []string   `json:"invalidated,omitempty"`
	At             time.Time  `json:"at"`
}

func newChangeSummary(kind ChangeKind, event scheduler.Event, actor Principal, outcome scheduler.Outcome, at time.Time) ChangeSummary {
	summary := ChangeSummary{
		Kind:         kind,
		EventID:      event.ID,
		OwnerID:      event.OwnerID,
		ActorID:      actor.UserID,
		State:        string(event.State),
		CreatedSlots: len(outcome.Created),
		DeletedSlots: len(outcome.Superseded),
		At:           at,
	}
	if mod := outcome.Modification; mod != nil {
		summary.ModificationID = mod.ID
		summary.ProposerID = mod.UserID
		summary.Action = string(mod.Action)
		summary.Reason = mod.Reason
	}
	for _, invalidated := range outcome.Invalidated {
		summary.Invalidated = append(summary.Invalidated, invalidated.ID)
	}
	return summary
}
