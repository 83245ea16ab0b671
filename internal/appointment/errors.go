package appointment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/timerange"
)

var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrPractitionerNotFound = errors.New("practitioner not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")

	ErrValidation              = errors.New("validation failed")
	ErrSchedulingConflict      = errors.New("scheduling conflict")
	ErrSlotTaken               = errors.New("slot already taken")
	ErrAlreadyCancelled        = errors.New("appointment is already cancelled")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrConcurrentUpdate        = errors.New("appointment was modified concurrently, reload and retry")
	ErrScheduleBusy            = errors.New("practitioner schedule is being modified, please retry")

	ErrForbidden         = auth.ErrForbidden
	ErrInvalidTimeFormat = timerange.ErrInvalidTimeFormat
)

// SchedulingConflictError names the slot that blocked a booking so callers
// can propose an alternative.
type SchedulingConflictError struct {
	AppointmentID   uuid.UUID
	Time            string
	DurationMinutes int
}

func (e *SchedulingConflictError) Error() string {
	return fmt.Sprintf("practitioner already has an appointment at %s for %d minutes", e.Time, e.DurationMinutes)
}

func (e *SchedulingConflictError) Is(target error) bool {
	return target == ErrSchedulingConflict
}

func newConflictError(a *Appointment) *SchedulingConflictError {
	return &SchedulingConflictError{
		AppointmentID:   a.ID,
		Time:            a.Time,
		DurationMinutes: a.DurationMinutes,
	}
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
