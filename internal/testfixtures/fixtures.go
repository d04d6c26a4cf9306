package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/lab-scheduler/internal/application"
	"github.com/example/lab-scheduler/internal/scheduler"
)

var (
	userCounter  uint64
	eventCounter uint64
	slotCounter  uint64
)

var paris = loadParis()

func loadParis() *time.Location {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		return time.FixedZone("CET", 3600)
	}
	return loc
}

// Paris returns the zone lab sessions are scheduled in.
func Paris() *time.Location {
	return paris
}

var referenceTime = time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// At returns the given wall-clock time on the reference day in Paris.
func At(hour, minute int) time.Time {
	return time.Date(2025, time.March, 12, hour, minute, 0, 0, paris)
}

// ----------------------------- User fixtures -----------------------------

// UserFixture is a deterministic caller identity.
type UserFixture struct {
	ID    string
	Email string
	Role  scheduler.Role
}

// UserOption configures the generated user fixture.
type UserOption func(*UserFixture)

// NewUserFixture returns a teacher identity unless overridden.
func NewUserFixture(opts ...UserOption) UserFixture {
	idx := atomic.AddUint64(&userCounter, 1)
	id := fmt.Sprintf("user-%03d", idx)
	fixture := UserFixture{
		ID:    id,
		Email: fmt.Sprintf("%s@lycee.example.fr", id),
		Role:  scheduler.RoleTeacher,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithUserID overrides the generated user ID.
func WithUserID(id string) UserOption {
	return func(f *UserFixture) {
		f.ID = id
	}
}

// WithUserEmail overrides the generated email address.
func WithUserEmail(email string) UserOption {
	return func(f *UserFixture) {
		f.Email = email
	}
}

// WithRole overrides the role.
func WithRole(role scheduler.Role) UserOption {
	return func(f *UserFixture) {
		f.Role = role
	}
}

// Actor returns the fixture as a domain actor.
func (f UserFixture) Actor() scheduler.Actor {
	return scheduler.Actor{ID: f.ID, Email: f.Email, Role: f.Role}
}

// Principal returns the fixture as an application principal.
func (f UserFixture) Principal() application.Principal {
	return application.Principal{UserID: f.ID, Email: f.Email, Role: f.Role}
}

// ----------------------------- Slot fixtures -----------------------------

// SlotFixture describes one ledger entry.
type SlotFixture struct {
	ID        string
	Start     time.Time
	End       time.Time
	Status    scheduler.SlotStatus
	State     scheduler.SlotState
	CreatedBy string
	UpdatedAt time.Time
}

// SlotOption configures the generated slot fixture.
type SlotOption func(*SlotFixture)

// NewSlotFixture returns an active 09:00-11:00 slot on the reference day.
func NewSlotFixture(opts ...SlotOption) SlotFixture {
	idx := atomic.AddUint64(&slotCounter, 1)
	fixture := SlotFixture{
		ID:     fmt.Sprintf("slot-%03d", idx),
		Start:  At(9, 0),
		End:    At(11, 0),
		Status: scheduler.SlotStatusActive,
		State:  scheduler.SlotStateCreated,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSlotID overrides the generated slot ID.
func WithSlotID(id string) SlotOption {
	return func(f *SlotFixture) {
		f.ID = id
	}
}

// WithSlotBounds overrides the interval.
func WithSlotBounds(start, end time.Time) SlotOption {
	return func(f *SlotFixture) {
		f.Start = start
		f.End = end
	}
}

// WithSlotDeletedAt marks the slot deleted at the given instant.
func WithSlotDeletedAt(at time.Time) SlotOption {
	return func(f *SlotFixture) {
		f.Status = scheduler.SlotStatusDeleted
		f.State = scheduler.SlotStateDeleted
		f.UpdatedAt = at
	}
}

// WithSlotState overrides the lifecycle tag.
func WithSlotState(state scheduler.SlotState) SlotOption {
	return func(f *SlotFixture) {
		f.State = state
	}
}

// Slot materialises the fixture with a consistent history trail.
func (f SlotFixture) Slot(eventID, ownerID string) scheduler.TimeSlot {
	createdBy := f.CreatedBy
	if createdBy == "" {
		createdBy = ownerID
	}
	created := f.Start.Add(-7 * 24 * time.Hour)
	if !f.UpdatedAt.IsZero() && f.UpdatedAt.Before(created) {
		created = f.UpdatedAt
	}
	slot := scheduler.TimeSlot{
		ID:        f.ID,
		EventID:   eventID,
		StartDate: f.Start,
		EndDate:   f.End,
		Status:    scheduler.SlotStatusActive,
		State:     scheduler.SlotStateCreated,
		CreatedBy: createdBy,
		CreatedAt: created,
	}
	scheduler.NewRecorder(createdBy, created).Created(&slot, "")
	if f.Status == scheduler.SlotStatusDeleted {
		scheduler.NewRecorder(ownerID, f.UpdatedAt).Deleted(&slot, "fixture", nil)
	}
	slot.State = f.State
	return slot
}

// ----------------------------- Event fixtures -----------------------------

// EventFixture is a deterministic event with its slot ledger.
type EventFixture struct {
	ID         string
	Title      string
	Discipline scheduler.Discipline
	Owner      UserFixture
	State      scheduler.EventState
	Slots      []SlotFixture
	CreatedAt  time.Time
}

// EventOption configures the generated event fixture.
type EventOption func(*EventFixture)

// NewEventFixture returns a chemistry session owned by a fresh teacher with
// one active 09:00-11:00 slot.
func NewEventFixture(opts ...EventOption) EventFixture {
	idx := atomic.AddUint64(&eventCounter, 1)
	fixture := EventFixture{
		ID:         fmt.Sprintf("event-%03d", idx),
		Title:      fmt.Sprintf("TP %03d", idx),
		Discipline: scheduler.DisciplineChimie,
		Owner:      NewUserFixture(),
		State:      scheduler.EventStatePending,
		CreatedAt:  referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	if fixture.Slots == nil {
		fixture.Slots = []SlotFixture{NewSlotFixture()}
	}
	return fixture
}

// WithEventID overrides the generated event ID.
func WithEventID(id string) EventOption {
	return func(f *EventFixture) {
		f.ID = id
	}
}

// WithOwner overrides the owner.
func WithOwner(owner UserFixture) EventOption {
	return func(f *EventFixture) {
		f.Owner = owner
	}
}

// WithDiscipline overrides the discipline.
func WithDiscipline(d scheduler.Discipline) EventOption {
	return func(f *EventFixture) {
		f.Discipline = d
	}
}

// WithEventState overrides the event state.
func WithEventState(state scheduler.EventState) EventOption {
	return func(f *EventFixture) {
		f.State = state
	}
}

// WithSlots replaces the slot ledger.
func WithSlots(slots ...SlotFixture) EventOption {
	return func(f *EventFixture) {
		f.Slots = append([]SlotFixture{}, slots...)
	}
}

// Event materialises the fixture with its projection computed.
func (f EventFixture) Event() scheduler.Event {
	event := scheduler.Event{
		ID:         f.ID,
		Title:      f.Title,
		Discipline: f.Discipline,
		OwnerID:    f.Owner.ID,
		OwnerEmail: f.Owner.Email,
		State:      f.State,
		CreatedAt:  f.CreatedAt,
		UpdatedAt:  f.CreatedAt,
	}
	for _, slot := range f.Slots {
		event.TimeSlots = append(event.TimeSlots, slot.Slot(f.ID, f.Owner.ID))
	}
	event.Project()
	return event
}
