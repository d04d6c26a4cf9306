package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// The JSON document shape shared by file snapshots and legacy imports. Events
// written before the slot ledger existed carry only start/end dates; older
// slots may carry date/startTime/endTime instead of full timestamps.

type eventDocument struct {
	ID              string                 `json:"id"`
	Title           string                 `json:"title,omitempty"`
	Discipline      string                 `json:"discipline,omitempty"`
	Room            string                 `json:"room,omitempty"`
	OwnerID         string                 `json:"ownerId,omitempty"`
	CreatedBy       string                 `json:"createdBy,omitempty"`
	OwnerEmail      string                 `json:"ownerEmail,omitempty"`
	StartDate       string                 `json:"startDate,omitempty"`
	EndDate         string                 `json:"endDate,omitempty"`
	LegacyStartDate string                 `json:"start_date,omitempty"`
	LegacyEndDate   string                 `json:"end_date,omitempty"`
	TimeSlots       []slotDocument         `json:"timeSlots"`
	ActuelTimeSlots []slotDocument         `json:"actuelTimeSlots"`
	EventModifying  []modificationDocument `json:"eventModifying"`
	State           string                 `json:"state,omitempty"`
	StateReason     string                 `json:"stateReason,omitempty"`
	ValidationState string                 `json:"validationState,omitempty"`
	StateChanger    []stateChangerDocument `json:"stateChanger,omitempty"`
	LastStateChange *stateChangeDocument   `json:"lastStateChange,omitempty"`
	Version         int64                  `json:"version,omitempty"`
	CreatedAt       string                 `json:"createdAt,omitempty"`
	UpdatedAt       string                 `json:"updatedAt,omitempty"`
}

type slotDocument struct {
	ID           string            `json:"id,omitempty"`
	StartDate    string            `json:"startDate,omitempty"`
	EndDate      string            `json:"endDate,omitempty"`
	Date         string            `json:"date,omitempty"`
	StartTime    string            `json:"startTime,omitempty"`
	EndTime      string            `json:"endTime,omitempty"`
	Status       string            `json:"status,omitempty"`
	State        string            `json:"state,omitempty"`
	CreatedBy    string            `json:"createdBy,omitempty"`
	CreatedAt    string            `json:"createdAt,omitempty"`
	UpdatedAt    string            `json:"updatedAt,omitempty"`
	RestoredFrom string            `json:"restoredFrom,omitempty"`
	ModifiedBy   []historyDocument `json:"modifiedBy,omitempty"`
}

type historyDocument struct {
	UserID        string `json:"userId"`
	Date          string `json:"date"`
	Action        string `json:"action"`
	Note          string `json:"note,omitempty"`
	PreviousStart string `json:"previousStart,omitempty"`
	PreviousEnd   string `json:"previousEnd,omitempty"`
	NewStart      string `json:"newStart,omitempty"`
	NewEnd        string `json:"newEnd,omitempty"`
}

type modificationDocument struct {
	ID          string         `json:"id,omitempty"`
	UserID      string         `json:"userId"`
	Action      string         `json:"action"`
	RequestDate string         `json:"requestDate"`
	Reason      string         `json:"reason,omitempty"`
	TimeSlots   []slotDocument `json:"timeSlots,omitempty"`
	Fingerprint string         `json:"fingerprint,omitempty"`
}

type stateChangerDocument struct {
	UserID string `json:"userId"`
	Date   string `json:"date"`
}

type stateChangeDocument struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Date   string `json:"date"`
	UserID string `json:"userId"`
	Reason string `json:"reason,omitempty"`
}

var legacyLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDocumentTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range legacyLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}

func formatDocumentTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatDocumentTime(*t)
}

// EncodeEvent renders an event in the current document shape.
func EncodeEvent(e Event) ([]byte, error) {
	doc := eventDocument{
		ID:              e.ID,
		Title:           e.Title,
		Discipline:      string(e.Discipline),
		Room:            e.Room,
		OwnerID:         e.OwnerID,
		OwnerEmail:      e.OwnerEmail,
		StartDate:       formatDocumentTime(e.StartDate),
		EndDate:         formatDocumentTime(e.EndDate),
		TimeSlots:       make([]slotDocument, 0, len(e.TimeSlots)),
		ActuelTimeSlots: make([]slotDocument, 0, len(e.TimeSlots)),
		EventModifying:  make([]modificationDocument, 0, len(e.EventModifying)),
		State:           string(e.State),
		StateReason:     e.StateReason,
		ValidationState: string(e.ValidationState),
		Version:         e.Version,
		CreatedAt:       formatDocumentTime(e.CreatedAt),
		UpdatedAt:       formatDocumentTime(e.UpdatedAt),
	}
	for _, slot := range e.TimeSlots {
		doc.TimeSlots = append(doc.TimeSlots, encodeSlot(slot))
	}
	for _, slot := range ActiveSlots(e.TimeSlots) {
		doc.ActuelTimeSlots = append(doc.ActuelTimeSlots, encodeSlot(slot))
	}
	for _, mod := range e.EventModifying {
		md := modificationDocument{
			ID:          mod.ID,
			UserID:      mod.UserID,
			Action:      string(mod.Action),
			RequestDate: mod.RequestDate.UTC().Format(KeyLayout),
			Reason:      mod.Reason,
			Fingerprint: mod.Fingerprint,
		}
		for _, in := range mod.TimeSlots {
			md.TimeSlots = append(md.TimeSlots, slotDocument{Date: in.Date, StartTime: in.StartTime, EndTime: in.EndTime})
		}
		doc.EventModifying = append(doc.EventModifying, md)
	}
	for _, sc := range e.StateChanger {
		doc.StateChanger = append(doc.StateChanger, stateChangerDocument{UserID: sc.UserID, Date: formatDocumentTime(sc.Date)})
	}
	if c := e.LastStateChange; c != nil {
		doc.LastStateChange = &stateChangeDocument{
			From: string(c.From), To: string(c.To), Date: formatDocumentTime(c.Date), UserID: c.UserID, Reason: c.Reason,
		}
	}
	return json.Marshal(doc)
}

func encodeSlot(slot TimeSlot) slotDocument {
	doc := slotDocument{
		ID:           slot.ID,
		StartDate:    formatDocumentTime(slot.StartDate),
		EndDate:      formatDocumentTime(slot.EndDate),
		Status:       string(slot.Status),
		State:        string(slot.State),
		CreatedBy:    slot.CreatedBy,
		CreatedAt:    formatDocumentTime(slot.CreatedAt),
		UpdatedAt:    formatDocumentTime(slot.UpdatedAt),
		RestoredFrom: slot.RestoredFrom,
	}
	for _, h := range slot.ModifiedBy {
		doc.ModifiedBy = append(doc.ModifiedBy, historyDocument{
			UserID:        h.UserID,
			Date:          formatDocumentTime(h.Date),
			Action:        string(h.Action),
			Note:          h.Note,
			PreviousStart: formatOptional(h.PreviousStart),
			PreviousEnd:   formatOptional(h.PreviousEnd),
			NewStart:      formatOptional(h.NewStart),
			NewEnd:        formatOptional(h.NewEnd),
		})
	}
	return doc
}

// ErrInvalidDocument reports a stored event that cannot be brought to the current shape.
var ErrInvalidDocument = errors.New("scheduler: invalid event document")

// Migrator normalises stored events into the current shape.
type Migrator struct {
	location *time.Location
	newID    func() string
}

// NewMigrator shares the engine's zone and id source.
func (g *Engine) NewMigrator() *Migrator {
	return &Migrator{location: g.location, newID: g.newID}
}

// MigrateLegacyEvent decodes raw and fills in whatever the current model
// requires. changed is false when raw was already in the current shape, so
// running it twice is a no-op.
func (m *Migrator) MigrateLegacyEvent(raw []byte) (event Event, changed bool, err error) {
	var doc eventDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Event{}, false, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if strings.TrimSpace(doc.ID) == "" {
		return Event{}, false, fmt.Errorf("%w: missing id", ErrInvalidDocument)
	}
	loc := m.location

	event = Event{
		ID:              doc.ID,
		Title:           doc.Title,
		Discipline:      Discipline(doc.Discipline),
		Room:            doc.Room,
		OwnerID:         doc.OwnerID,
		OwnerEmail:      doc.OwnerEmail,
		State:           EventState(doc.State),
		StateReason:     doc.StateReason,
		ValidationState: ValidationState(doc.ValidationState),
		Version:         doc.Version,
	}
	if event.OwnerID == "" {
		event.OwnerID = doc.CreatedBy
		changed = true
	}
	if event.OwnerID == "" {
		return Event{}, false, fmt.Errorf("%w: event %s has no owner", ErrInvalidDocument, doc.ID)
	}
	if event.State == "" {
		event.State = EventStatePending
		changed = true
	}
	if doc.CreatedAt != "" {
		if event.CreatedAt, err = parseDocumentTime(doc.CreatedAt, loc); err != nil {
			return Event{}, false, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
	}
	if doc.UpdatedAt != "" {
		if event.UpdatedAt, err = parseDocumentTime(doc.UpdatedAt, loc); err != nil {
			return Event{}, false, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
	}

	slotDocs := doc.TimeSlots
	if len(slotDocs) == 0 && len(doc.ActuelTimeSlots) > 0 {
		slotDocs = doc.ActuelTimeSlots
		changed = true
	}
	if len(slotDocs) == 0 {
		start, end := firstNonEmpty(doc.StartDate, doc.LegacyStartDate), firstNonEmpty(doc.EndDate, doc.LegacyEndDate)
		if start != "" && end != "" {
			slotDocs = []slotDocument{{StartDate: start, EndDate: end}}
			changed = true
		}
	}

	for i, sd := range slotDocs {
		slot, slotChanged, err := m.migrateSlot(sd, event)
		if err != nil {
			return Event{}, false, fmt.Errorf("%w: slot %d: %v", ErrInvalidDocument, i, err)
		}
		changed = changed || slotChanged
		event.TimeSlots = append(event.TimeSlots, slot)
	}

	for _, md := range doc.EventModifying {
		mod, modChanged, err := m.migrateModification(md)
		if err != nil {
			return Event{}, false, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		changed = changed || modChanged
		event.EventModifying = append(event.EventModifying, mod)
	}

	for _, sc := range doc.StateChanger {
		date, err := parseDocumentTime(sc.Date, loc)
		if err != nil {
			return Event{}, false, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		event.StateChanger = append(event.StateChanger, StateChanger{UserID: sc.UserID, Date: date})
	}
	if c := doc.LastStateChange; c != nil {
		date, err := parseDocumentTime(c.Date, loc)
		if err != nil {
			return Event{}, false, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		event.LastStateChange = &StateChange{From: EventState(c.From), To: EventState(c.To), Date: date, UserID: c.UserID, Reason: c.Reason}
	}

	if start := firstNonEmpty(doc.StartDate, doc.LegacyStartDate); start != "" {
		if event.StartDate, err = parseDocumentTime(start, loc); err != nil {
			return Event{}, false, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
	}
	if end := firstNonEmpty(doc.EndDate, doc.LegacyEndDate); end != "" {
		if event.EndDate, err = parseDocumentTime(end, loc); err != nil {
			return Event{}, false, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
	}

	if !sameSlotIDs(ActiveSlots(event.TimeSlots), doc.ActuelTimeSlots) {
		changed = true
	}
	// Bounds of an event without active slots survive from the document.
	event.Project()
	return event, changed, nil
}

func (m *Migrator) migrateSlot(sd slotDocument, event Event) (TimeSlot, bool, error) {
	changed := false
	slot := TimeSlot{
		ID:           sd.ID,
		EventID:      event.ID,
		Status:       SlotStatus(sd.Status),
		State:        SlotState(sd.State),
		CreatedBy:    sd.CreatedBy,
		RestoredFrom: sd.RestoredFrom,
	}
	if slot.ID == "" {
		slot.ID = m.newID()
		changed = true
	}

	if sd.StartDate != "" && sd.EndDate != "" {
		var err error
		if slot.StartDate, err = parseDocumentTime(sd.StartDate, m.location); err != nil {
			return TimeSlot{}, false, err
		}
		if slot.EndDate, err = parseDocumentTime(sd.EndDate, m.location); err != nil {
			return TimeSlot{}, false, err
		}
	} else {
		intervals, warnings := NormalizeSlots([]SlotInput{{Date: sd.Date, StartTime: sd.StartTime, EndTime: sd.EndTime}}, m.location)
		if len(intervals) == 0 {
			return TimeSlot{}, false, errors.New(warnings[0].String())
		}
		slot.StartDate, slot.EndDate = intervals[0].Start, intervals[0].End
		changed = true
	}
	if slot.StartDate.After(slot.EndDate) {
		slot.StartDate, slot.EndDate = slot.EndDate, slot.StartDate
		changed = true
	}

	if slot.Status == "" {
		slot.Status = SlotStatusActive
		if slot.State == SlotStateDeleted {
			slot.Status = SlotStatusDeleted
		}
		changed = true
	}
	if slot.State == "" {
		slot.State = SlotStateCreated
		if slot.Status == SlotStatusDeleted {
			slot.State = SlotStateDeleted
		}
		changed = true
	}
	if slot.CreatedBy == "" {
		slot.CreatedBy = event.OwnerID
		changed = true
	}
	if sd.CreatedAt != "" {
		t, err := parseDocumentTime(sd.CreatedAt, m.location)
		if err != nil {
			return TimeSlot{}, false, err
		}
		slot.CreatedAt = t
	} else {
		slot.CreatedAt = event.CreatedAt
		if slot.CreatedAt.IsZero() {
			slot.CreatedAt = slot.StartDate
		}
		changed = true
	}

	for _, hd := range sd.ModifiedBy {
		entry, err := m.migrateHistory(hd)
		if err != nil {
			return TimeSlot{}, false, err
		}
		slot.ModifiedBy = append(slot.ModifiedBy, entry)
	}
	if sd.UpdatedAt != "" {
		t, err := parseDocumentTime(sd.UpdatedAt, m.location)
		if err != nil {
			return TimeSlot{}, false, err
		}
		slot.UpdatedAt = t
	}

	rec := NewRecorder(slot.CreatedBy, slot.CreatedAt)
	if len(slot.ModifiedBy) == 0 {
		rec.Migrated(&slot, ActionCreated)
		changed = true
	}
	if slot.Status == SlotStatusDeleted && !hasAction(slot.ModifiedBy, ActionDeleted) {
		at := slot.UpdatedAt
		if at.IsZero() {
			at = slot.ModifiedBy[len(slot.ModifiedBy)-1].Date
		}
		NewRecorder(event.OwnerID, at).Migrated(&slot, ActionDeleted)
		changed = true
	}
	if slot.UpdatedAt.IsZero() {
		slot.UpdatedAt = slot.ModifiedBy[len(slot.ModifiedBy)-1].Date
		changed = true
	}
	return slot, changed, nil
}

func (m *Migrator) migrateHistory(hd historyDocument) (HistoryEntry, error) {
	date, err := parseDocumentTime(hd.Date, m.location)
	if err != nil {
		return HistoryEntry{}, err
	}
	entry := HistoryEntry{UserID: hd.UserID, Date: date, Action: HistoryAction(hd.Action), Note: hd.Note}
	bounds := []struct {
		raw string
		dst **time.Time
	}{
		{hd.PreviousStart, &entry.PreviousStart},
		{hd.PreviousEnd, &entry.PreviousEnd},
		{hd.NewStart, &entry.NewStart},
		{hd.NewEnd, &entry.NewEnd},
	}
	for _, b := range bounds {
		if b.raw == "" {
			continue
		}
		t, err := parseDocumentTime(b.raw, m.location)
		if err != nil {
			return HistoryEntry{}, err
		}
		*b.dst = &t
	}
	return entry, nil
}

func (m *Migrator) migrateModification(md modificationDocument) (PendingModification, bool, error) {
	changed := false
	requestDate, err := parseDocumentTime(md.RequestDate, time.UTC)
	if err != nil {
		return PendingModification{}, false, err
	}
	mod := PendingModification{
		ID:          md.ID,
		UserID:      md.UserID,
		Action:      ModificationAction(md.Action),
		RequestDate: requestDate.UTC().Truncate(time.Millisecond),
		Reason:      md.Reason,
		Fingerprint: md.Fingerprint,
	}
	if !mod.Action.Valid() {
		return PendingModification{}, false, fmt.Errorf("pending modification %q: unknown action %q", md.UserID, md.Action)
	}
	if mod.ID == "" {
		mod.ID = m.newID()
		changed = true
	}
	if fp := Fingerprint(mod.UserID, mod.Action, mod.RequestDate); mod.Fingerprint != fp {
		mod.Fingerprint = fp
		changed = true
	}
	for _, sd := range md.TimeSlots {
		mod.TimeSlots = append(mod.TimeSlots, SlotInput{Date: sd.Date, StartTime: sd.StartTime, EndTime: sd.EndTime})
	}
	return mod, changed, nil
}

func hasAction(trail []HistoryEntry, action HistoryAction) bool {
	for _, entry := range trail {
		if entry.Action == action {
			return true
		}
	}
	return false
}

func sameSlotIDs(active []TimeSlot, docs []slotDocument) bool {
	if len(active) != len(docs) {
		return false
	}
	for i := range active {
		if active[i].ID != docs[i].ID {
			return false
		}
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
