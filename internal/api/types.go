package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/timerange"
)

type CreateAppointmentRequest struct {
	PatientID       string `json:"patient_id,omitempty"`
	PractitionerID  string `json:"practitioner_id"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

type UpdateAppointmentRequest struct {
	Status *string `json:"status,omitempty"`
	Date   *string `json:"date,omitempty"`
	Time   *string `json:"time,omitempty"`
	Notes  *string `json:"notes,omitempty"`
}

type CancelAppointmentRequest struct {
	CancelReason string `json:"cancelReason"`
}

type AppointmentResponse struct {
	ID               uuid.UUID  `json:"id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	PatientName      string     `json:"patient_name,omitempty"`
	PractitionerID   uuid.UUID  `json:"practitioner_id"`
	PractitionerName string     `json:"practitioner_name,omitempty"`
	Date             string     `json:"date"`
	Time             string     `json:"time"`
	DurationMinutes  int        `json:"duration_minutes"`
	Status           string     `json:"status"`
	Reason           string     `json:"reason,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	CancelReason     *string    `json:"cancel_reason,omitempty"`
	CancelledBy      *uuid.UUID `json:"cancelled_by,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	Version          int        `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toAppointmentResponse(d *appointment.AppointmentDetail) AppointmentResponse {
	return AppointmentResponse{
		ID:               d.ID,
		PatientID:        d.PatientID,
		PatientName:      d.PatientName,
		PractitionerID:   d.PractitionerID,
		PractitionerName: d.PractitionerName,
		Date:             d.Date,
		Time:             d.Time,
		DurationMinutes:  d.DurationMinutes,
		Status:           string(d.Status),
		Reason:           d.Reason,
		Notes:            d.Notes,
		CancelReason:     d.CancelReason,
		CancelledBy:      d.CancelledBy,
		CancelledAt:      d.CancelledAt,
		Version:          d.Version,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

type StatsResponse struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func toWindows(in []timerange.Interval) []Window {
	out := make([]Window, 0, len(in))
	for _, iv := range in {
		out = append(out, Window{Start: timerange.FormatMinutes(iv.Start), End: timerange.FormatMinutes(iv.End)})
	}
	return out
}

type AvailabilityResponse struct {
	PractitionerID  uuid.UUID `json:"practitioner_id"`
	Date            string    `json:"date"`
	DurationMinutes int       `json:"duration_minutes"`
	Windows         []Window  `json:"windows"`
}

// ConflictDetail names the booking that blocked a request.
type ConflictDetail struct {
	AppointmentID   uuid.UUID `json:"appointment_id"`
	Time            string    `json:"time"`
	DurationMinutes int       `json:"duration"`
}

type ErrorResponse struct {
	Error    string          `json:"error"`
	Details  string          `json:"details,omitempty"`
	Conflict *ConflictDetail `json:"conflict,omitempty"`
}
