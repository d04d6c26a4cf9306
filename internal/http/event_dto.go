package http

import (
	"encoding/json"
	"time"

	"github.com/example/lab-scheduler/internal/scheduler"
)

type slotInputDTO struct {
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type createEventRequest struct {
	Title      string         `json:"title"`
	Discipline string         `json:"discipline"`
	Room       string         `json:"room"`
	TimeSlots  []slotInputDTO `json:"timeSlots"`
}

type proposalRequest struct {
	Action    string         `json:"action"`
	Reason    string         `json:"reason"`
	TimeSlots []slotInputDTO `json:"timeSlots"`
}

type decisionRequest struct {
	ModificationID string `json:"modificationId"`
	Action         string `json:"action"`
}

type ownerModifyRequest struct {
	Action            string         `json:"action"`
	SlotID            string         `json:"slotId"`
	ProposedTimeSlots []slotInputDTO `json:"proposedTimeSlots"`
	Reason            string         `json:"reason"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type validationRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

func toSlotInputs(in []slotInputDTO) []scheduler.SlotInput {
	if len(in) == 0 {
		return nil
	}
	out := make([]scheduler.SlotInput, len(in))
	for i, slot := range in {
		out[i] = scheduler.SlotInput{Date: slot.Date, StartTime: slot.StartTime, EndTime: slot.EndTime}
	}
	return out
}

type eventResponse struct {
	Event   json.RawMessage `json:"event"`
	Outcome *outcomeDTO     `json:"outcome,omitempty"`
}

type listEventsResponse struct {
	Events []json.RawMessage `json:"events"`
}

type outcomeDTO struct {
	Applied         bool         `json:"applied"`
	ModificationID  string       `json:"modificationId,omitempty"`
	ModificationKey string       `json:"modificationKey,omitempty"`
	Created         []string     `json:"created,omitempty"`
	Superseded      []string     `json:"superseded,omitempty"`
	Invalidated     []string     `json:"invalidated,omitempty"`
	Warnings        []warningDTO `json:"warnings,omitempty"`
	Overlaps        []overlapDTO `json:"overlaps,omitempty"`
}

type warningDTO struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

type overlapDTO struct {
	FirstSlotID  string    `json:"firstSlotId"`
	SecondSlotID string    `json:"secondSlotId"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

// toOutcomeDTO returns nil for reads, where nothing happened.
func toOutcomeDTO(o scheduler.Outcome) *outcomeDTO {
	if !o.Applied && o.Modification == nil && len(o.Created) == 0 && len(o.Superseded) == 0 &&
		len(o.Invalidated) == 0 && len(o.Warnings) == 0 && len(o.Overlaps) == 0 {
		return nil
	}

	dto := &outcomeDTO{Applied: o.Applied}
	if o.Modification != nil {
		dto.ModificationID = o.Modification.ID
		dto.ModificationKey = o.Modification.Key()
	}
	for _, slot := range o.Created {
		dto.Created = append(dto.Created, slot.ID)
	}
	for _, slot := range o.Superseded {
		dto.Superseded = append(dto.Superseded, slot.ID)
	}
	for _, mod := range o.Invalidated {
		dto.Invalidated = append(dto.Invalidated, mod.ID)
	}
	for _, w := range o.Warnings {
		dto.Warnings = append(dto.Warnings, warningDTO{Index: w.Index, Field: w.Field, Message: w.Message})
	}
	for _, ov := range o.Overlaps {
		dto.Overlaps = append(dto.Overlaps, overlapDTO{
			FirstSlotID:  ov.FirstSlotID,
			SecondSlotID: ov.SecondSlotID,
			Start:        ov.Start,
			End:          ov.End,
		})
	}
	return dto
}
