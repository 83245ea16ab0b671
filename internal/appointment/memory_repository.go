package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository used by tests and local runs.
// It enforces the same live-start uniqueness as the database index and the
// same participant foreign keys.
type MemoryRepository struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]User
	appointments map[uuid.UUID]Appointment
	now          func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:        make(map[uuid.UUID]User),
		appointments: make(map[uuid.UUID]Appointment),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// AddUser inserts or replaces a user.
func (r *MemoryRepository) AddUser(u User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

func (r *MemoryRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (r *MemoryRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	d := r.detail(a)
	return &d, nil
}

func (r *MemoryRepository) detail(a Appointment) AppointmentDetail {
	d := AppointmentDetail{Appointment: a}
	if p, ok := r.users[a.PatientID]; ok {
		d.PatientName, d.PatientEmail = p.Name, p.Email
	}
	if p, ok := r.users[a.PractitionerID]; ok {
		d.PractitionerName, d.PractitionerEmail = p.Name, p.Email
	}
	return d
}

func (r *MemoryRepository) matching(f ListFilter) []Appointment {
	var out []Appointment
	for _, a := range r.appointments {
		switch {
		case f.PatientID != nil && a.PatientID != *f.PatientID:
		case f.PractitionerID != nil && a.PractitionerID != *f.PractitionerID:
		case f.Status != nil && a.Status != *f.Status:
		case f.From != nil && a.Date < *f.From:
		case f.To != nil && a.Date > *f.To:
		default:
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].StartMinutes != out[j].StartMinutes {
			return out[i].StartMinutes < out[j].StartMinutes
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (r *MemoryRepository) ListAppointments(ctx context.Context, f ListFilter) ([]AppointmentDetail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.matching(f)
	if f.Offset >= len(all) {
		return []AppointmentDetail{}, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}

	result := make([]AppointmentDetail, 0, len(all))
	for _, a := range all {
		result = append(result, r.detail(a))
	}
	return result, nil
}

func (r *MemoryRepository) CountByStatus(ctx context.Context, f ListFilter) (map[AppointmentStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[AppointmentStatus]int)
	for _, a := range r.matching(f) {
		counts[a.Status]++
	}
	return counts, nil
}

func (r *MemoryRepository) ListLiveForPractitioner(ctx context.Context, practitionerID uuid.UUID, date string) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.PractitionerID == practitionerID && a.Date == date && a.Live() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinutes < out[j].StartMinutes })
	return out, nil
}

// slotTaken mirrors the partial unique index on live
// (practitioner_id, appointment_date, start_minutes).
func (r *MemoryRepository) slotTaken(a Appointment) bool {
	if !a.Live() {
		return false
	}
	for id, other := range r.appointments {
		if id == a.ID || !other.Live() {
			continue
		}
		if other.PractitionerID == a.PractitionerID && other.Date == a.Date && other.StartMinutes == a.StartMinutes {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := *a
	if created.ID == uuid.Nil {
		created.ID = uuid.New()
	}
	if _, ok := r.users[created.PatientID]; !ok {
		return nil, ErrPatientNotFound
	}
	if _, ok := r.users[created.PractitionerID]; !ok {
		return nil, ErrPractitionerNotFound
	}
	if r.slotTaken(created) {
		return nil, ErrSlotTaken
	}
	now := r.now()
	created.Version = 1
	created.CreatedAt = now
	created.UpdatedAt = now
	r.appointments[created.ID] = created
	return &created, nil
}

func (r *MemoryRepository) UpdateAppointmentFields(ctx context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.appointments[a.ID]
	if !ok || current.Version != a.Version {
		return nil, ErrConcurrentUpdate
	}
	current.Status = a.Status
	current.Date = a.Date
	current.Time = a.Time
	current.StartMinutes = a.StartMinutes
	current.Notes = a.Notes
	if r.slotTaken(current) {
		return nil, ErrSlotTaken
	}
	current.Version++
	current.UpdatedAt = r.now()
	r.appointments[current.ID] = current
	return &current, nil
}

func (r *MemoryRepository) CancelAppointment(ctx context.Context, id, by uuid.UUID, reason string, at time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.appointments[id]
	if !ok || current.Status == StatusCancelled || current.Status == StatusCompleted {
		return nil, ErrAppointmentNotFound
	}
	current.Status = StatusCancelled
	current.CancelReason = &reason
	current.CancelledBy = &by
	current.CancelledAt = &at
	current.Version++
	current.UpdatedAt = at
	r.appointments[id] = current
	return &current, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.appointments[id]
	if !ok || current.Status != from {
		return nil, ErrAppointmentNotFound
	}
	current.Status = to
	current.Version++
	current.UpdatedAt = r.now()
	r.appointments[id] = current
	return &current, nil
}

func (r *MemoryRepository) FindPastDue(ctx context.Context, before time.Time, loc *time.Location) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.Status != StatusScheduled && a.Status != StatusConfirmed {
			continue
		}
		day, err := time.ParseInLocation(DateLayout, a.Date, loc)
		if err != nil {
			continue
		}
		end := day.Add(time.Duration(a.StartMinutes+a.DurationMinutes) * time.Minute)
		if end.Before(before) {
			out = append(out, a)
		}
	}
	return out, nil
}
