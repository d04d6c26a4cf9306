package scheduler

import "errors"

var (
	ErrModificationNotFound  = errors.New("scheduler: pending modification not found")
	ErrDuplicateModification = errors.New("scheduler: duplicate pending modification")
	ErrSlotNotFound          = errors.New("scheduler: time slot not found")
	ErrSlotNotActive         = errors.New("scheduler: time slot is not active")
	ErrSlotNotDeleted        = errors.New("scheduler: time slot is not deleted")
	ErrSlotAlreadyRestored   = errors.New("scheduler: time slot already restored")
	ErrNothingToValidate     = errors.New("scheduler: event has no active time slot to validate")
	ErrNoValidSlots          = errors.New("scheduler: no valid time slot supplied")
	ErrInvalidAction         = errors.New("scheduler: invalid action")
	ErrReasonRequired        = errors.New("scheduler: reason is required")
	ErrNotOwner              = errors.New("scheduler: actor is not the event owner")
	ErrNotValidator          = errors.New("scheduler: actor cannot validate this event")
)
