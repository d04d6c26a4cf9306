package scheduler

import "strings"

// Role is the staff or user role supplied by the authentication collaborator.
type Role string

const (
	RoleAdmin            Role = "ADMIN"
	RoleAdminLabo        Role = "ADMINLABO"
	RoleTeacher          Role = "ENSEIGNANT"
	RoleLabTechChemistry Role = "LABORANTIN_CHIMIE"
	RoleLabTechPhysics   Role = "LABORANTIN_PHYSIQUE"
	RoleStudent          Role = "ELEVE"
)

// Actor identifies the user performing an operation.
type Actor struct {
	ID    string
	Email string
	Role  Role
}

// IsOwner matches by id, falling back to email as identity.
func IsOwner(event Event, actor Actor) bool {
	if actor.ID != "" && actor.ID == event.OwnerID {
		return true
	}
	return actor.Email != "" && strings.EqualFold(actor.Email, event.OwnerEmail)
}

// IsValidator reports whether the role belongs to laboratory staff.
func IsValidator(role Role) bool {
	switch role {
	case RoleLabTechChemistry, RoleLabTechPhysics, RoleAdminLabo:
		return true
	default:
		return false
	}
}

// IsAdministrator reports whether the role may run store-wide maintenance.
func IsAdministrator(role Role) bool {
	return role == RoleAdmin || role == RoleAdminLabo
}

// CanConfirm reports whether actor may confirm or reject pending proposals on event.
func CanConfirm(event Event, actor Actor) bool {
	return IsOwner(event, actor)
}

// ModifyDecision tells the caller how a change request is routed.
type ModifyDecision struct {
	Auto bool
}

// CanModify routes a change request: owners auto-apply, everyone else queues.
func CanModify(event Event, actor Actor) ModifyDecision {
	return ModifyDecision{Auto: IsOwner(event, actor)}
}

// CanValidate reports whether actor may approve or reject the event's slots.
// Lab technicians only validate their own discipline.
func CanValidate(event Event, actor Actor) bool {
	switch actor.Role {
	case RoleAdminLabo:
		return true
	case RoleLabTechChemistry:
		return event.Discipline == DisciplineChimie
	case RoleLabTechPhysics:
		return event.Discipline == DisciplinePhysique
	default:
		return false
	}
}

// CanDelete reports whether actor may remove the event record.
func CanDelete(event Event, actor Actor) bool {
	return IsOwner(event, actor) || IsAdministrator(actor.Role)
}
