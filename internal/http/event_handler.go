package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/example/lab-scheduler/internal/application"
	"github.com/example/lab-scheduler/internal/scheduler"
)

type eventService interface {
	CreateEvent(ctx context.Context, params application.CreateEventParams) (application.EventResult, error)
	GetEvent(ctx context.Context, principal application.Principal, eventID string) (scheduler.Event, error)
	ListEvents(ctx context.Context, params application.ListEventsParams) ([]scheduler.Event, error)
	DeleteEvent(ctx context.Context, principal application.Principal, eventID string) error
	SubmitProposal(ctx context.Context, params application.SubmitProposalParams) (application.EventResult, error)
	DecideModification(ctx context.Context, params application.DecideModificationParams) (application.EventResult, error)
	OwnerModify(ctx context.Context, params application.OwnerModifyParams) (application.EventResult, error)
	RestoreSlot(ctx context.Context, params application.RestoreSlotParams) (application.EventResult, error)
	ValidateEvent(ctx context.Context, params application.ValidateEventParams) (application.EventResult, error)
}

type EventHandler struct {
	service   eventService
	responder responder
}

func NewEventHandler(service eventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{service: service, responder: newResponder(logger)}
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if !h.decode(w, r, &req) {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	result, err := h.service.CreateEvent(r.Context(), application.CreateEventParams{
		Principal:  principal,
		Title:      req.Title,
		Discipline: scheduler.Discipline(req.Discipline),
		Room:       req.Room,
		TimeSlots:  toSlotInputs(req.TimeSlots),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.renderResult(r.Context(), w, http.StatusCreated, result)
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	query := r.URL.Query()

	params := application.ListEventsParams{
		Principal:  principal,
		OwnerID:    strings.TrimSpace(query.Get("owner")),
		Discipline: scheduler.Discipline(strings.TrimSpace(query.Get("discipline"))),
		State:      scheduler.EventState(strings.ToUpper(strings.TrimSpace(query.Get("state")))),
	}
	if raw := strings.TrimSpace(query.Get("pending")); raw != "" {
		pending, err := strconv.ParseBool(raw)
		if err != nil {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidQuery)
			return
		}
		params.PendingOnly = pending
	}

	events, err := h.service.ListEvents(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	docs := make([]json.RawMessage, 0, len(events))
	for _, event := range events {
		doc, err := scheduler.EncodeEvent(event)
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, err)
			return
		}
		docs = append(docs, doc)
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listEventsResponse{Events: docs})
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	event, err := h.service.GetEvent(r.Context(), principal, eventID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.renderResult(r.Context(), w, http.StatusOK, application.EventResult{Event: event})
}

func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	if err := h.service.DeleteEvent(r.Context(), principal, eventID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *EventHandler) SubmitProposal(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	var req proposalRequest
	if !h.decode(w, r, &req) {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	result, err := h.service.SubmitProposal(r.Context(), application.SubmitProposalParams{
		Principal: principal,
		EventID:   eventID,
		Action:    scheduler.ModificationAction(strings.ToUpper(strings.TrimSpace(req.Action))),
		Reason:    req.Reason,
		TimeSlots: toSlotInputs(req.TimeSlots),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	status := http.StatusAccepted
	if result.Outcome.Applied {
		status = http.StatusOK
	}
	h.renderResult(r.Context(), w, status, result)
}

func (h *EventHandler) DecideModification(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	result, err := h.service.DecideModification(r.Context(), application.DecideModificationParams{
		Principal:      principal,
		EventID:        eventID,
		ModificationID: req.ModificationID,
		Decision:       scheduler.Decision(strings.ToLower(strings.TrimSpace(req.Action))),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.renderResult(r.Context(), w, http.StatusOK, result)
}

func (h *EventHandler) OwnerModify(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	var req ownerModifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	result, err := h.service.OwnerModify(r.Context(), application.OwnerModifyParams{
		Principal:         principal,
		EventID:           eventID,
		Action:            scheduler.OwnerAction(strings.ToUpper(strings.TrimSpace(req.Action))),
		SlotID:            req.SlotID,
		ProposedTimeSlots: toSlotInputs(req.ProposedTimeSlots),
		Reason:            req.Reason,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.renderResult(r.Context(), w, http.StatusOK, result)
}

func (h *EventHandler) RestoreSlot(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	result, err := h.service.RestoreSlot(r.Context(), application.RestoreSlotParams{
		Principal: principal,
		EventID:   eventID,
		SlotID:    mux.Vars(r)["slotId"],
		Reason:    req.Reason,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.renderResult(r.Context(), w, http.StatusOK, result)
}

func (h *EventHandler) Validate(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	var req validationRequest
	if !h.decode(w, r, &req) {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	result, err := h.service.ValidateEvent(r.Context(), application.ValidateEventParams{
		Principal: principal,
		EventID:   eventID,
		Approve:   req.Approve,
		Reason:    req.Reason,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.renderResult(r.Context(), w, http.StatusOK, result)
}

func (h *EventHandler) eventID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	if id == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingEventID)
		return "", false
	}
	return id, true
}

func (h *EventHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return false
	}
	return true
}

func (h *EventHandler) renderResult(ctx context.Context, w http.ResponseWriter, status int, result application.EventResult) {
	doc, err := scheduler.EncodeEvent(result.Event)
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}
	h.responder.writeJSON(ctx, w, status, eventResponse{
		Event:   doc,
		Outcome: toOutcomeDTO(result.Outcome),
	})
}
