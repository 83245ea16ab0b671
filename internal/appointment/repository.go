package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]AppointmentDetail, error)
	CountByStatus(ctx context.Context, f ListFilter) (map[AppointmentStatus]int, error)

	// For conflict checks: live appointments of one practitioner on one date.
	ListLiveForPractitioner(ctx context.Context, practitionerID uuid.UUID, date string) ([]Appointment, error)

	// Creation and updates. CreateAppointment returns ErrSlotTaken when the
	// store's uniqueness guard fires; UpdateAppointmentFields returns
	// ErrConcurrentUpdate when a.Version no longer matches.
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	UpdateAppointmentFields(ctx context.Context, a *Appointment) (*Appointment, error)
	CancelAppointment(ctx context.Context, id, by uuid.UUID, reason string, at time.Time) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// No-show worker
	FindPastDue(ctx context.Context, before time.Time, loc *time.Location) ([]Appointment, error)
}
