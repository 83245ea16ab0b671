package auth

import (
	"errors"

	"github.com/google/uuid"
)

var ErrForbidden = errors.New("forbidden")

// Operation is an appointment action subject to authorization.
type Operation string

const (
	OpCreateSelf     Operation = "create_self"
	OpCreateForOther Operation = "create_for_other"
	OpRead           Operation = "read"
	OpUpdate         Operation = "update"
	OpCancel         Operation = "cancel"
)

var Operations = []Operation{OpCreateSelf, OpCreateForOther, OpRead, OpUpdate, OpCancel}

// Ownership is the part of an appointment the policy looks at.
type Ownership struct {
	PatientID      uuid.UUID
	PractitionerID uuid.UUID
}

type rule uint8

const (
	deny rule = iota
	allowAny
	allowIfPractitioner
	allowIfPatient
)

// policy is the whole authorization matrix. A missing entry denies.
var policy = map[Operation]map[Role]rule{
	OpCreateSelf: {
		RoleAdmin:   deny,
		RoleDoctor:  deny,
		RolePatient: allowAny,
	},
	OpCreateForOther: {
		RoleAdmin:   allowAny,
		RoleDoctor:  deny,
		RolePatient: deny,
	},
	OpRead: {
		RoleAdmin:   allowAny,
		RoleDoctor:  allowIfPractitioner,
		RolePatient: allowIfPatient,
	},
	OpUpdate: {
		RoleAdmin:   allowAny,
		RoleDoctor:  allowIfPractitioner,
		RolePatient: deny,
	},
	OpCancel: {
		RoleAdmin:   allowAny,
		RoleDoctor:  allowIfPractitioner,
		RolePatient: allowIfPatient,
	},
}

// CanPerform evaluates the policy table. own may be nil for operations that
// do not target an existing appointment; ownership rules then deny.
func CanPerform(p Principal, op Operation, own *Ownership) bool {
	switch policy[op][p.Role] {
	case allowAny:
		return true
	case allowIfPractitioner:
		return own != nil && own.PractitionerID == p.ID
	case allowIfPatient:
		return own != nil && own.PatientID == p.ID
	default:
		return false
	}
}

// Authorize is CanPerform returning ErrForbidden on denial.
func Authorize(p Principal, op Operation, own *Ownership) error {
	if !CanPerform(p, op, own) {
		return ErrForbidden
	}
	return nil
}

// ListScope narrows a listing query to what the principal may read. Admins
// get back the requested filters unchanged.
func ListScope(p Principal, patientID, practitionerID *uuid.UUID) (*uuid.UUID, *uuid.UUID) {
	self := p.ID
	switch p.Role {
	case RoleAdmin:
		return patientID, practitionerID
	case RoleDoctor:
		return patientID, &self
	default:
		return &self, practitionerID
	}
}
