package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

var statuses = []AppointmentStatus{
	StatusScheduled, StatusConfirmed, StatusInProgress,
	StatusCompleted, StatusCancelled, StatusNoShow,
}

// transitions lists every allowed status change. Terminal states have no
// entry. A same-state update is handled by CanTransition, not listed here.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled:  {StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusNoShow:     {StatusCancelled},
}

func ParseStatus(s string) (AppointmentStatus, error) {
	st := AppointmentStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", validationError("unknown status %q", s)
	}
	return st, nil
}

func (s AppointmentStatus) Valid() bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Live statuses occupy the practitioner's time for conflict purposes.
func (s AppointmentStatus) Live() bool {
	return s != StatusCancelled && s != StatusNoShow
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether from may move to to. Staying in the same
// state is always allowed and is a no-op.
func CanTransition(from, to AppointmentStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// applyCancel moves a to cancelled and sets the cancellation fields together.
func applyCancel(a *Appointment, by uuid.UUID, reason string, at time.Time) error {
	switch {
	case a.Status == StatusCancelled:
		return ErrAlreadyCancelled
	case !CanTransition(a.Status, StatusCancelled):
		return ErrInvalidStatusTransition
	}
	a.Status = StatusCancelled
	a.CancelReason = &reason
	a.CancelledBy = &by
	a.CancelledAt = &at
	a.UpdatedAt = at
	return nil
}
