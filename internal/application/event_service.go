package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/lab-scheduler/internal/locking"
	"github.com/example/lab-scheduler/internal/persistence"
	"github.com/example/lab-scheduler/internal/scheduler"
)

// EventLocker serialises writers per event. The returned function releases
// the lock.
type EventLocker interface {
	Lock(ctx context.Context, eventID string) (func(), error)
}

// Notifier delivers change summaries to event owners. Delivery is best
// effort: errors are logged and never undo the change.
type Notifier interface {
	NotifyOwner(ctx context.Context, event scheduler.Event, change ChangeSummary) error
}

// EventService orchestrates locking, the scheduler engine, persistence and
// owner notifications for every event operation.
type EventService struct {
	events   persistence.EventRepository
	engine   *scheduler.Engine
	locker   EventLocker
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
}

// NewEventService wires dependencies for event operations.
func NewEventService(events persistence.EventRepository, engine *scheduler.Engine, locker EventLocker, notifier Notifier, now func() time.Time) *EventService {
	return NewEventServiceWithLogger(events, engine, locker, notifier, now, nil)
}

// NewEventServiceWithLogger wires dependencies with a specified logger. A nil
// locker falls back to an in-process keyed mutex.
func NewEventServiceWithLogger(events persistence.EventRepository, engine *scheduler.Engine, locker EventLocker, notifier Notifier, now func() time.Time, logger *slog.Logger) *EventService {
	if engine == nil {
		engine = scheduler.NewEngine(time.UTC, nil)
	}
	if locker == nil {
		locker = locking.NewKeyedMutex()
	}
	if now == nil {
		now = time.Now
	}
	return &EventService{
		events:   events,
		engine:   engine,
		locker:   locker,
		notifier: notifier,
		now:      now,
		logger:   defaultLogger(logger),
	}
}

func (s *EventService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "EventService", operation, attrs...)
}

// CreateEvent validates the draft and stores a PENDING event owned by the principal.
func (s *EventService) CreateEvent(ctx context.Context, params CreateEventParams) (result EventResult, err error) {
	if s == nil {
		err = fmt.Errorf("EventService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateEvent", "principal_id", params.Principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create event", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"event_id", result.Event.ID,
			"slot_count", len(result.Event.ActuelTimeSlots),
			"warning_count", len(result.Outcome.Warnings),
		).InfoContext(ctx, "event created")
	}()

	vErr := &ValidationError{}
	if strings.TrimSpace(params.Title) == "" {
		vErr.add("title", "title is required")
	}
	if !params.Discipline.Valid() {
		vErr.add("discipline", "discipline must be chimie or physique")
	}
	if len(params.TimeSlots) == 0 {
		vErr.add("timeSlots", "at least one time slot is required")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	draft := scheduler.EventDraft{
		Title:      params.Title,
		Discipline: params.Discipline,
		Room:       params.Room,
		Slots:      params.TimeSlots,
	}
	event, outcome, domainErr := s.engine.CreateEvent(draft, params.Principal.Actor(), s.now())
	if domainErr != nil {
		err = mapDomainError(domainErr, outcome)
		return
	}

	stored, storeErr := s.events.CreateEvent(ctx, event)
	if storeErr != nil {
		err = &OperationError{Op: "create", EventID: event.ID, Err: mapStoreError(storeErr)}
		return
	}
	result = EventResult{Event: stored, Outcome: outcome}
	return
}

// GetEvent returns one event.
func (s *EventService) GetEvent(ctx context.Context, principal Principal, eventID string) (scheduler.Event, error) {
	if s == nil {
		return scheduler.Event{}, fmt.Errorf("EventService is nil")
	}
	if strings.TrimSpace(eventID) == "" {
		return scheduler.Event{}, &ValidationError{FieldErrors: map[string]string{"eventId": "event id is required"}}
	}
	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		err = &OperationError{Op: "get", EventID: eventID, Err: mapStoreError(err)}
		s.loggerWith(ctx, "GetEvent", "principal_id", principal.UserID, "event_id", eventID).
			ErrorContext(ctx, "failed to load event", "error", err, "error_kind", ErrorKind(err))
		return scheduler.Event{}, err
	}
	return event, nil
}

// ListEvents returns events matching the filter, ordered by start date.
func (s *EventService) ListEvents(ctx context.Context, params ListEventsParams) (events []scheduler.Event, err error) {
	if s == nil {
		err = fmt.Errorf("EventService is nil")
		return
	}

	logger := s.loggerWith(ctx, "ListEvents", "principal_id", params.Principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list events", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(events)).DebugContext(ctx, "events listed")
	}()

	if params.Discipline != "" && !params.Discipline.Valid() {
		err = &ValidationError{FieldErrors: map[string]string{"discipline": "discipline must be chimie or physique"}}
		return
	}
	events, err = s.events.ListEvents(ctx, params.filter())
	if err != nil {
		err = mapStoreError(err)
	}
	return
}

// DeleteEvent removes the event record. Its slots are left for retention.
func (s *EventService) DeleteEvent(ctx context.Context, principal Principal, eventID string) (err error) {
	if s == nil {
		return fmt.Errorf("EventService is nil")
	}

	logger := s.loggerWith(ctx, "DeleteEvent", "principal_id", principal.UserID, "event_id", eventID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete event", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "event deleted")
	}()

	unlock, lockErr := s.locker.Lock(ctx, eventID)
	if lockErr != nil {
		return &OperationError{Op: "delete", EventID: eventID, Err: lockErr}
	}
	defer unlock()

	event, loadErr := s.events.GetEvent(ctx, eventID)
	if loadErr != nil {
		return &OperationError{Op: "delete", EventID: eventID, Err: mapStoreError(loadErr)}
	}
	if !scheduler.CanDelete(event, principal.Actor()) {
		return &OperationError{Op: "delete", EventID: eventID, Err: ErrUnauthorized}
	}
	if delErr := s.events.DeleteEvent(ctx, eventID); delErr != nil {
		return &OperationError{Op: "delete", EventID: eventID, Err: mapStoreError(delErr)}
	}

	s.notify(ctx, logger, event, newChangeSummary(ChangeEventDeleted, event, principal, scheduler.Outcome{}, s.now()))
	return nil
}

// SubmitProposal queues a CANCEL or MOVE proposal, or applies it at once when
// the principal owns the event.
func (s *EventService) SubmitProposal(ctx context.Context, params SubmitProposalParams) (result EventResult, err error) {
	if s == nil {
		err = fmt.Errorf("EventService is nil")
		return
	}

	logger := s.loggerWith(ctx, "SubmitProposal",
		"principal_id", params.Principal.UserID,
		"event_id", params.EventID,
		"action", string(params.Action),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to submit proposal", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("applied", result.Outcome.Applied).InfoContext(ctx, "proposal submitted")
	}()

	vErr := &ValidationError{}
	if !params.Action.Valid() {
		vErr.add("action", "action must be CANCEL or MOVE")
	}
	if strings.TrimSpace(params.Reason) == "" {
		vErr.add("reason", "reason is required")
	}
	if params.Action == scheduler.ModificationMove && len(params.TimeSlots) == 0 {
		vErr.add("timeSlots", "a move requires at least one time slot")
	}
	if vErr.HasErrors() {
		err = &OperationError{Op: "submit", EventID: params.EventID, Err: vErr}
		return
	}

	request := scheduler.ProposalRequest{Action: params.Action, Reason: params.Reason, TimeSlots: params.TimeSlots}
	result, err = s.mutate(ctx, "submit", params.EventID, func(event *scheduler.Event, now time.Time) (scheduler.Outcome, error) {
		return s.engine.Submit(event, params.Principal.Actor(), request, now)
	})
	if err != nil {
		return
	}

	kind := ChangeProposalSubmitted
	if result.Outcome.Applied {
		kind = ChangeProposalApplied
	}
	s.notify(ctx, logger, result.Event, newChangeSummary(kind, result.Event, params.Principal, result.Outcome, s.now()))
	return
}

// DecideModification confirms or rejects a pending modification. Only the
// owner may decide; confirming invalidates every sibling proposal.
func (s *EventService) DecideModification(ctx context.Context, params DecideModificationParams) (result EventResult, err error) {
	if s == nil {
		err = fmt.Errorf("EventService is nil")
		return
	}

	logger := s.loggerWith(ctx, "DecideModification",
		"principal_id", params.Principal.UserID,
		"event_id", params.EventID,
		"modification_id", params.ModificationID,
		"decision", string(params.Decision),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to decide modification", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("invalidated", len(result.Outcome.Invalidated)).InfoContext(ctx, "modification decided")
	}()

	vErr := &ValidationError{}
	if strings.TrimSpace(params.ModificationID) == "" {
		vErr.add("modificationId", "modification id is required")
	}
	if params.Decision != scheduler.DecisionConfirm && params.Decision != scheduler.DecisionReject {
		vErr.add("action", "action must be confirm or reject")
	}
	if vErr.HasErrors() {
		err = &OperationError{Op: "decide", EventID: params.EventID, ModificationID: params.ModificationID, Err: vErr}
		return
	}

	result, err = s.mutate(ctx, "decide", params.EventID, func(event *scheduler.Event, now time.Time) (scheduler.Outcome, error) {
		return s.engine.Decide(event, params.ModificationID, params.Decision, params.Principal.Actor(), now)
	})
	if err != nil {
		var opErr *OperationError
		if errors.As(err, &opErr) {
			opErr.ModificationID = params.ModificationID
		}
		return
	}

	kind := ChangeModificationRejected
	if params.Decision == scheduler.DecisionConfirm {
		kind = ChangeModificationApproved
	}
	s.notify(ctx, logger, result.Event, newChangeSummary(kind, result.Event, params.Principal, result.Outcome, s.now()))
	return
}

// OwnerModify applies GLOBAL_MODIFY or SLOT_MODIFY directly and flags the
// event for staff re-validation.
func (s *EventService) OwnerModify(ctx context.Context, params OwnerModifyParams) (result EventResult, err error) {
	if s == nil {
		err = fmt.Errorf("EventService is nil")
		return
	}

	logger := s.loggerWith(ctx, "OwnerModify",
		"principal_id", params.Principal.UserID,
		"event_id", params.EventID,
		"action", string(params.Action),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to apply owner modification", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"created", len(result.Outcome.Created),
			"superseded", len(result.Outcome.Superseded),
		).InfoContext(ctx, "owner modification applied")
	}()

	vErr := &ValidationError{}
	switch params.Action {
	case scheduler.OwnerGlobalModify:
		if len(params.ProposedTimeSlots) == 0 {
			vErr.add("proposedTimeSlots", "a global modification requires at least one time slot")
		}
	case scheduler.OwnerSlotModify:
		if strings.TrimSpace(params.SlotID) == "" {
			vErr.add("slotId", "slot id is required")
		}
	default:
		vErr.add("action", "action must be GLOBAL_MODIFY or SLOT_MODIFY")
	}
	if vErr.HasErrors() {
		err = &OperationError{Op: "owner-modify", EventID: params.EventID, Err: vErr}
		return
	}

	request := scheduler.OwnerModifyRequest{
		Action: params.Action,
		SlotID: params.SlotID,
		Slots:  params.ProposedTimeSlots,
		Reason: params.Reason,
	}
	result, err = s.mutate(ctx, "owner-modify", params.EventID, func(event *scheduler.Event, now time.Time) (scheduler.Outcome, error) {
		return s.engine.OwnerModify(event, params.Principal.Actor(), request, now)
	})
	if err != nil {
		return
	}
	s.notify(ctx, logger, result.Event, newChangeSummary(ChangeOwnerModified, result.Event, params.Principal, result.Outcome, s.now()))
	return
}

// RestoreSlot re-creates a deleted slot as a new active slot.
func (s *EventService) RestoreSlot(ctx context.Context, params RestoreSlotParams) (result EventResult, err error) {
	if s == nil {
		err = fmt.Errorf("EventService is nil")
		return
	}

	logger := s.loggerWith(ctx, "RestoreSlot",
		"principal_id", params.Principal.UserID,
		"event_id", params.EventID,
		"slot_id", params.SlotID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to restore slot", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "slot restored")
	}()

	if strings.TrimSpace(params.SlotID) == "" {
		err = &OperationError{Op: "restore", EventID: params.EventID, Err: &ValidationError{FieldErrors: map[string]string{"slotId": "slot id is required"}}}
		return
	}

	result, err = s.mutate(ctx, "restore", params.EventID, func(event *scheduler.Event, now time.Time) (scheduler.Outcome, error) {
		return s.engine.Restore(event, params.Principal.Actor(), params.SlotID, params.Reason, now)
	})
	if err != nil {
		return
	}
	s.notify(ctx, logger, result.Event, newChangeSummary(ChangeSlotRestored, result.Event, params.Principal, result.Outcome, s.now()))
	return
}

// ValidateEvent records a staff verdict on the event.
func (s *EventService) ValidateEvent(ctx context.Context, params ValidateEventParams) (result EventResult, err error) {
	if s == nil {
		err = fmt.Errorf("EventService is nil")
		return
	}

	logger := s.loggerWith(ctx, "ValidateEvent",
		"principal_id", params.Principal.UserID,
		"event_id", params.EventID,
		"approve", params.Approve,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to validate event", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "event validated")
	}()

	if !scheduler.IsValidator(params.Principal.Role) {
		err = &OperationError{Op: "validate", EventID: params.EventID, Err: ErrUnauthorized}
		return
	}

	result, err = s.mutate(ctx, "validate", params.EventID, func(event *scheduler.Event, now time.Time) (scheduler.Outcome, error) {
		return s.engine.Validate(event, params.Principal.Actor(), params.Approve, params.Reason, now)
	})
	if err != nil {
		return
	}

	kind := ChangeEventRejected
	if params.Approve {
		kind = ChangeEventValidated
	}
	summary := newChangeSummary(kind, result.Event, params.Principal, result.Outcome, s.now())
	summary.Reason = strings.TrimSpace(params.Reason)
	s.notify(ctx, logger, result.Event, summary)
	return
}

// mutate runs one read-modify-write cycle under the event lock. The stored
// version guards the save; a concurrent writer surfaces as
// ErrConcurrentModification.
func (s *EventService) mutate(ctx context.Context, op, eventID string, apply func(*scheduler.Event, time.Time) (scheduler.Outcome, error)) (EventResult, error) {
	if strings.TrimSpace(eventID) == "" {
		return EventResult{}, &OperationError{Op: op, Err: &ValidationError{FieldErrors: map[string]string{"eventId": "event id is required"}}}
	}

	unlock, err := s.locker.Lock(ctx, eventID)
	if err != nil {
		return EventResult{}, &OperationError{Op: op, EventID: eventID, Err: err}
	}
	defer unlock()

	current, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return EventResult{}, &OperationError{Op: op, EventID: eventID, Err: mapStoreError(err)}
	}

	working := current.Clone()
	outcome, err := apply(&working, s.now())
	if err != nil {
		return EventResult{Outcome: outcome}, &OperationError{Op: op, EventID: eventID, Err: mapDomainError(err, outcome)}
	}

	saved, err := s.events.SaveEvent(ctx, working)
	if err != nil {
		return EventResult{}, &OperationError{Op: op, EventID: eventID, Err: mapStoreError(err)}
	}
	return EventResult{Event: saved, Outcome: outcome}, nil
}

func (s *EventService) notify(ctx context.Context, logger *slog.Logger, event scheduler.Event, change ChangeSummary) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyOwner(ctx, event, change); err != nil {
		logger.WarnContext(ctx, "owner notification failed", "error", err, "kind", string(change.Kind))
	}
}

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrVersionConflict):
		return ErrConcurrentModification
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrAlreadyExists
	default:
		return err
	}
}

// mapDomainError translates scheduler errors into the application taxonomy.
// Slot warnings collected before the failure become field errors.
func mapDomainError(err error, outcome scheduler.Outcome) error {
	switch {
	case errors.Is(err, scheduler.ErrNotOwner), errors.Is(err, scheduler.ErrNotValidator):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case errors.Is(err, scheduler.ErrModificationNotFound), errors.Is(err, scheduler.ErrSlotNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, scheduler.ErrDuplicateModification):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	}

	vErr := &ValidationError{}
	switch {
	case errors.Is(err, scheduler.ErrNoValidSlots):
		vErr.add("timeSlots", "no valid time slot supplied")
		vErr.merge(warningsToValidation(outcome.Warnings))
	case errors.Is(err, scheduler.ErrReasonRequired):
		vErr.add("reason", "reason is required")
	case errors.Is(err, scheduler.ErrInvalidAction):
		vErr.add("action", "unsupported action")
	case errors.Is(err, scheduler.ErrSlotNotActive):
		vErr.add("slotId", "slot is no longer active")
	case errors.Is(err, scheduler.ErrSlotNotDeleted):
		vErr.add("slotId", "slot is still active")
	case errors.Is(err, scheduler.ErrSlotAlreadyRestored):
		vErr.add("slotId", "slot has already been restored")
	case errors.Is(err, scheduler.ErrNothingToValidate):
		vErr.add("state", "event has no active time slot to validate")
	default:
		return err
	}
	return vErr
}

func warningsToValidation(warnings []scheduler.SlotWarning) *ValidationError {
	vErr := &ValidationError{}
	for _, w := range warnings {
		field := fmt.Sprintf("timeSlots[%d]", w.Index)
		if w.Field != "" {
			field += "." + w.Field
		}
		vErr.add(field, w.Message)
	}
	return vErr
}
