package appointment

import (
	"context"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventCreated   EventKind = "created"
	EventUpdated   EventKind = "updated"
	EventCancelled EventKind = "cancelled"
)

// Event describes a committed mutation. It is handed to the Notifier and
// never stored.
type Event struct {
	Kind        EventKind
	Appointment AppointmentDetail
	ActorID     uuid.UUID
	Recipients  []uuid.UUID
}

// Notifier receives events after commit. Implementations must not block the
// caller and must not report delivery failures back.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}

// recipients are the appointment's participants other than the actor.
func recipients(a *Appointment, actor uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, 2)
	for _, id := range []uuid.UUID{a.PractitionerID, a.PatientID} {
		if id != actor {
			out = append(out, id)
		}
	}
	return out
}
