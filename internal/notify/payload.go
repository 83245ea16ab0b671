// Package notify delivers appointment events to the people involved over
// independent best-effort channels.
package notify

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

// Payload is what every channel receives for one event.
type Payload struct {
	Kind             appointment.EventKind         `json:"kind"`
	Title            string                        `json:"title"`
	Message          string                        `json:"message"`
	AppointmentID    uuid.UUID                     `json:"appointment_id"`
	PatientName      string                        `json:"patient_name"`
	PractitionerName string                        `json:"practitioner_name"`
	Date             string                        `json:"date"`
	Time             string                        `json:"time"`
	DurationMinutes  int                           `json:"duration_minutes"`
	Reason           string                        `json:"reason,omitempty"`
	Status           appointment.AppointmentStatus `json:"status"`
	CancelReason     string                        `json:"cancel_reason,omitempty"`
}

func BuildPayload(ev appointment.Event) Payload {
	a := ev.Appointment
	p := Payload{
		Kind:             ev.Kind,
		AppointmentID:    a.ID,
		PatientName:      a.PatientName,
		PractitionerName: a.PractitionerName,
		Date:             a.Date,
		Time:             a.Time,
		DurationMinutes:  a.DurationMinutes,
		Reason:           a.Reason,
		Status:           a.Status,
	}
	if a.CancelReason != nil {
		p.CancelReason = *a.CancelReason
	}

	who := fmt.Sprintf("%s with %s", displayName(p.PatientName, "Patient"), displayName(p.PractitionerName, "your practitioner"))
	when := fmt.Sprintf("%s at %s", p.Date, p.Time)

	switch ev.Kind {
	case appointment.EventCreated:
		p.Title = "Appointment scheduled"
		p.Message = fmt.Sprintf("New appointment: %s on %s for %d minutes.", who, when, p.DurationMinutes)
	case appointment.EventCancelled:
		p.Title = "Appointment cancelled"
		p.Message = fmt.Sprintf("Appointment %s on %s was cancelled.", who, when)
		if p.CancelReason != "" {
			p.Message += " Reason: " + p.CancelReason
		}
	default:
		p.Title = "Appointment updated"
		p.Message = fmt.Sprintf("Appointment %s on %s is now %s.", who, when, p.Status)
	}
	return p
}

func displayName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
