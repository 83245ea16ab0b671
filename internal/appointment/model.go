package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/timerange"
)

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in-progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no-show"
)

// DefaultDurationMinutes applies when a create request omits the duration.
const DefaultDurationMinutes = 30

// DateLayout is the wire and storage format of appointment dates.
const DateLayout = "2006-01-02"

// User is a clinic account as seen by scheduling: enough to validate roles
// and to address notifications.
type User struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Role      auth.Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	PractitionerID  uuid.UUID
	Date            string // YYYY-MM-DD, clinic local
	Time            string // canonical HH:MM, clinic local
	StartMinutes    int
	DurationMinutes int
	Status          AppointmentStatus
	Reason          string
	Notes           string
	CancelReason    *string
	CancelledBy     *uuid.UUID
	CancelledAt     *time.Time
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Interval returns the occupied half-open range of the appointment.
func (a *Appointment) Interval() timerange.Interval {
	return timerange.FromStart(a.StartMinutes, a.DurationMinutes)
}

// Live reports whether the appointment still occupies its practitioner's time.
func (a *Appointment) Live() bool {
	return a.Status.Live()
}

func (a *Appointment) Ownership() *auth.Ownership {
	return &auth.Ownership{PatientID: a.PatientID, PractitionerID: a.PractitionerID}
}

// AppointmentDetail is an appointment joined with its participants' display
// data, fetched in one query.
type AppointmentDetail struct {
	Appointment
	PatientName       string
	PatientEmail      *string
	PractitionerName  string
	PractitionerEmail *string
}

// ListFilter narrows appointment listings. Nil fields are unconstrained.
type ListFilter struct {
	PatientID      *uuid.UUID
	PractitionerID *uuid.UUID
	Status         *AppointmentStatus
	From           *string // inclusive date
	To             *string // inclusive date
	Limit          int
	Offset         int
}

// Paged returns f with the page bounds the listing actually uses.
func (f ListFilter) Paged() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// CreateInput is a booking request after transport decoding.
type CreateInput struct {
	PatientID       *uuid.UUID // nil means "for myself"
	PractitionerID  uuid.UUID
	Date            string
	Time            string
	DurationMinutes int
	Reason          string
}

// UpdateInput holds the optional fields of a free-form update.
type UpdateInput struct {
	Status *AppointmentStatus
	Date   *string
	Time   *string
	Notes  *string
}

func (u UpdateInput) Empty() bool {
	return u.Status == nil && u.Date == nil && u.Time == nil && u.Notes == nil
}

func (u UpdateInput) Reschedules() bool {
	return u.Date != nil || u.Time != nil
}
