package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-appointment-scheduling/internal/audit"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
	"github.com/hackgods/clinic-appointment-scheduling/internal/timerange"
)

var tracer = otel.Tracer("clinic.internal.appointment")

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxReasonLength  = 500
)

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	cfg      config.Config
	notifier Notifier
	recorder audit.Recorder
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithAuditRecorder(r audit.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, opts ...Option) *Service {
	if cfg.ClinicLocation == nil {
		cfg.ClinicLocation = time.UTC
	}
	if cfg.ClinicClose <= cfg.ClinicOpen {
		cfg.ClinicOpen, cfg.ClinicClose = 0, timerange.MinutesPerDay
	}

	s := &Service{
		repo:     repo,
		locker:   locker,
		cfg:      cfg,
		notifier: nopNotifier{},
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAppointment books a practitioner for a patient. The conflict check
// and the insert run under a lock on the practitioner's day so two
// overlapping requests with different start times cannot both commit.
func (s *Service) CreateAppointment(ctx context.Context, p auth.Principal, in CreateInput) (*AppointmentDetail, error) {
	ctx, span := tracer.Start(ctx, "appointment.create")
	defer span.End()

	patientID := p.ID
	op := auth.OpCreateSelf
	if in.PatientID != nil && *in.PatientID != p.ID {
		patientID = *in.PatientID
		op = auth.OpCreateForOther
	}
	if err := auth.Authorize(p, op, nil); err != nil {
		return nil, err
	}

	date, err := parseDate(in.Date)
	if err != nil {
		return nil, err
	}
	duration := in.DurationMinutes
	if duration == 0 {
		duration = DefaultDurationMinutes
	}
	if duration < 0 || duration > timerange.MinutesPerDay {
		return nil, validationError("duration must be between 1 and %d minutes", timerange.MinutesPerDay)
	}
	interval, err := timerange.NewInterval(in.Time, duration)
	if err != nil {
		return nil, err
	}
	if interval.End > timerange.MinutesPerDay {
		return nil, validationError("appointment must end on the same day")
	}
	reason := strings.TrimSpace(in.Reason)
	if len(reason) > maxReasonLength {
		return nil, validationError("reason must be at most %d characters", maxReasonLength)
	}

	if err := s.requireRole(ctx, in.PractitionerID, auth.RoleDoctor, ErrPractitionerNotFound); err != nil {
		return nil, err
	}
	if op == auth.OpCreateForOther {
		if err := s.requireRole(ctx, patientID, auth.RolePatient, ErrPatientNotFound); err != nil {
			return nil, err
		}
	}

	span.SetAttributes(
		attribute.String("clinic.practitioner_id", in.PractitionerID.String()),
		attribute.String("clinic.date", date),
		attribute.String("clinic.interval", interval.String()),
	)

	candidate := &Appointment{
		ID:              uuid.New(),
		PatientID:       patientID,
		PractitionerID:  in.PractitionerID,
		Date:            date,
		Time:            timerange.FormatMinutes(interval.Start),
		StartMinutes:    interval.Start,
		DurationMinutes: duration,
		Status:          StatusScheduled,
		Reason:          reason,
	}

	var created *Appointment
	err = s.withSchedule(ctx, candidate.PractitionerID, date, func(lockCtx context.Context) error {
		if err := s.checkConflict(lockCtx, candidate); err != nil {
			return err
		}
		appt, err := s.repo.CreateAppointment(lockCtx, candidate)
		if err != nil {
			if errors.Is(err, ErrSlotTaken) {
				s.metrics.ObserveConflict("store")
				return err
			}
			return fmt.Errorf("create appointment: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.ObserveCreated(string(p.Role))
	s.logger.Info().
		Str("appointment_id", created.ID.String()).
		Str("practitioner_id", created.PractitionerID.String()).
		Str("date", created.Date).
		Str("time", created.Time).
		Msg("appointment created")

	s.record(ctx, p.ID, audit.ActionCreate, created.ID, map[string]any{
		"patient_id":       created.PatientID.String(),
		"practitioner_id":  created.PractitionerID.String(),
		"date":             created.Date,
		"time":             created.Time,
		"duration_minutes": created.DurationMinutes,
		"reason":           created.Reason,
	})

	detail := s.loadDetail(ctx, created)
	s.notify(ctx, EventCreated, detail, p.ID)
	return detail, nil
}

// GetAppointment returns an appointment with participant names, 404 before 403.
func (s *Service) GetAppointment(ctx context.Context, p auth.Principal, id uuid.UUID) (*AppointmentDetail, error) {
	ctx, span := tracer.Start(ctx, "appointment.get")
	defer span.End()

	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if err := auth.Authorize(p, auth.OpRead, detail.Ownership()); err != nil {
		return nil, err
	}
	return detail, nil
}

// ListAppointments returns the appointments visible to p that match f.
func (s *Service) ListAppointments(ctx context.Context, p auth.Principal, f ListFilter) ([]AppointmentDetail, error) {
	ctx, span := tracer.Start(ctx, "appointment.list")
	defer span.End()

	f, err := s.scopeFilter(p, f)
	if err != nil {
		return nil, err
	}
	appointments, err := s.repo.ListAppointments(ctx, f.Paged())
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appointments, nil
}

// Stats counts the appointments visible to p by status.
func (s *Service) Stats(ctx context.Context, p auth.Principal, f ListFilter) (map[AppointmentStatus]int, error) {
	ctx, span := tracer.Start(ctx, "appointment.stats")
	defer span.End()

	f, err := s.scopeFilter(p, f)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.CountByStatus(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}
	for _, st := range statuses {
		if _, ok := counts[st]; !ok {
			counts[st] = 0
		}
	}
	return counts, nil
}

func (s *Service) scopeFilter(p auth.Principal, f ListFilter) (ListFilter, error) {
	f.PatientID, f.PractitionerID = auth.ListScope(p, f.PatientID, f.PractitionerID)
	for _, d := range []*string{f.From, f.To} {
		if d == nil {
			continue
		}
		if _, err := parseDate(*d); err != nil {
			return f, err
		}
	}
	if f.From != nil && f.To != nil && *f.From > *f.To {
		return f, validationError("from must not be after to")
	}
	return f, nil
}

// UpdateAppointment applies a partial update of status, schedule and notes.
// Conflict detection only re-runs on reschedule when
// RescheduleConflictCheck is set; the store's unique start index applies
// either way.
func (s *Service) UpdateAppointment(ctx context.Context, p auth.Principal, id uuid.UUID, in UpdateInput) (*AppointmentDetail, error) {
	ctx, span := tracer.Start(ctx, "appointment.update")
	defer span.End()

	if in.Empty() {
		return nil, validationError("no fields to update")
	}

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if err := auth.Authorize(p, auth.OpUpdate, current.Ownership()); err != nil {
		return nil, err
	}

	next := *current
	changes := map[string]any{}

	if in.Status != nil && *in.Status != current.Status {
		to := *in.Status
		if !to.Valid() {
			return nil, validationError("unknown status %q", to)
		}
		if to == StatusCancelled {
			return nil, validationError("use cancel to cancel an appointment")
		}
		if !CanTransition(current.Status, to) {
			return nil, fmt.Errorf("%w: %s to %s", ErrInvalidStatusTransition, current.Status, to)
		}
		next.Status = to
		changes["status"] = change(current.Status, to)
	}

	if in.Reschedules() {
		if current.Status.Terminal() || !current.Live() {
			return nil, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidStatusTransition, current.Status)
		}
		if in.Date != nil {
			date, err := parseDate(*in.Date)
			if err != nil {
				return nil, err
			}
			next.Date = date
		}
		if in.Time != nil {
			start, err := timerange.ToMinutes(*in.Time)
			if err != nil {
				return nil, err
			}
			next.StartMinutes = start
			next.Time = timerange.FormatMinutes(start)
		}
		if next.Interval().End > timerange.MinutesPerDay {
			return nil, validationError("appointment must end on the same day")
		}
		if next.Date != current.Date {
			changes["date"] = change(current.Date, next.Date)
		}
		if next.Time != current.Time {
			changes["time"] = change(current.Time, next.Time)
		}
	}

	if in.Notes != nil && *in.Notes != current.Notes {
		next.Notes = *in.Notes
		changes["notes"] = change(current.Notes, next.Notes)
	}

	if len(changes) == 0 {
		return s.loadDetail(ctx, current), nil
	}

	_, moved := changes["date"]
	if _, ok := changes["time"]; ok {
		moved = true
	}

	var updated *Appointment
	write := func(wctx context.Context) error {
		if moved && s.cfg.RescheduleConflictCheck {
			if err := s.checkConflict(wctx, &next); err != nil {
				return err
			}
		}
		u, err := s.repo.UpdateAppointmentFields(wctx, &next)
		if err != nil {
			if errors.Is(err, ErrSlotTaken) {
				s.metrics.ObserveConflict("store")
			}
			return err
		}
		updated = u
		return nil
	}

	if moved && s.cfg.RescheduleConflictCheck {
		err = s.withSchedule(ctx, next.PractitionerID, next.Date, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrSlotTaken) || errors.Is(err, ErrSchedulingConflict) ||
			errors.Is(err, ErrConcurrentUpdate) || errors.Is(err, ErrScheduleBusy) {
			return nil, err
		}
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	s.logger.Info().
		Str("appointment_id", updated.ID.String()).
		Str("actor_id", p.ID.String()).
		Str("status", string(updated.Status)).
		Msg("appointment updated")

	s.record(ctx, p.ID, audit.ActionUpdate, updated.ID, changes)

	detail := s.loadDetail(ctx, updated)
	s.notify(ctx, EventUpdated, detail, p.ID)
	return detail, nil
}

// CancelAppointment cancels an appointment with a reason. Cancelling twice
// always reports ErrAlreadyCancelled.
func (s *Service) CancelAppointment(ctx context.Context, p auth.Principal, id uuid.UUID, reason string) (*AppointmentDetail, error) {
	ctx, span := tracer.Start(ctx, "appointment.cancel")
	defer span.End()

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if err := auth.Authorize(p, auth.OpCancel, current.Ownership()); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	probe := *current
	if err := applyCancel(&probe, p.ID, reason, now); err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationError("cancelReason is required")
	}
	if len(reason) > maxReasonLength {
		return nil, validationError("cancelReason must be at most %d characters", maxReasonLength)
	}

	cancelled, err := s.repo.CancelAppointment(ctx, id, p.ID, reason, now)
	if err != nil {
		if !errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("cancel appointment: %w", err)
		}
		// lost a race: report what the winner left behind
		latest, rerr := s.repo.GetAppointmentByID(ctx, id)
		if rerr != nil {
			return nil, rerr
		}
		if cerr := applyCancel(latest, p.ID, reason, now); cerr != nil {
			return nil, cerr
		}
		return nil, ErrConcurrentUpdate
	}

	s.metrics.ObserveCancelled()
	s.logger.Info().
		Str("appointment_id", cancelled.ID.String()).
		Str("actor_id", p.ID.String()).
		Msg("appointment cancelled")

	s.record(ctx, p.ID, audit.ActionCancel, cancelled.ID, map[string]any{
		"status":        change(current.Status, StatusCancelled),
		"cancel_reason": reason,
	})

	detail := s.loadDetail(ctx, cancelled)
	s.notify(ctx, EventCancelled, detail, p.ID)
	return detail, nil
}

// Availability lists the free windows of a practitioner on date inside
// clinic hours that can hold an appointment of the given duration.
func (s *Service) Availability(ctx context.Context, practitionerID uuid.UUID, date string, duration int) ([]timerange.Interval, error) {
	ctx, span := tracer.Start(ctx, "appointment.availability")
	defer span.End()

	date, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	if duration == 0 {
		duration = DefaultDurationMinutes
	}
	if duration < 0 || duration > timerange.MinutesPerDay {
		return nil, validationError("duration must be between 1 and %d minutes", timerange.MinutesPerDay)
	}
	if err := s.requireRole(ctx, practitionerID, auth.RoleDoctor, ErrPractitionerNotFound); err != nil {
		return nil, err
	}

	live, err := s.repo.ListLiveForPractitioner(ctx, practitionerID, date)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	day := timerange.Interval{Start: s.cfg.ClinicOpen, End: s.cfg.ClinicClose}
	return FreeWindows(day, live, duration), nil
}

// MarkNoShows is intended to be called by the worker periodically. It moves
// scheduled and confirmed appointments whose end plus the grace period has
// passed to no-show and returns how many changed.
func (s *Service) MarkNoShows(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "appointment.mark_no_shows")
	defer span.End()

	before := s.now().Add(-s.cfg.NoShowGrace)
	candidates, err := s.repo.FindPastDue(ctx, before, s.cfg.ClinicLocation)
	if err != nil {
		return 0, fmt.Errorf("find past due appointments: %w", err)
	}

	marked := 0
	for _, appt := range candidates {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusNoShow)
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to mark no-show")
			}
			continue
		}
		marked++
		s.metrics.ObserveNoShow()
		s.record(ctx, uuid.Nil, audit.ActionNoShow, appt.ID, map[string]any{
			"status": change(appt.Status, StatusNoShow),
		})
	}

	span.SetAttributes(attribute.Int("clinic.no_shows", marked))
	return marked, nil
}

func (s *Service) requireRole(ctx context.Context, id uuid.UUID, role auth.Role, notFound error) error {
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return notFound
		}
		return fmt.Errorf("load user: %w", err)
	}
	if u.Role != role {
		return notFound
	}
	return nil
}

func (s *Service) withSchedule(ctx context.Context, practitionerID uuid.UUID, date string, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	err := s.locker.WithLock(ctx, redisclient.ScheduleKey(practitionerID, date), fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrScheduleBusy
	}
	return err
}

// checkConflict must run while holding the schedule lock for a's day.
func (s *Service) checkConflict(ctx context.Context, a *Appointment) error {
	existing, err := s.repo.ListLiveForPractitioner(ctx, a.PractitionerID, a.Date)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	if hit := findConflictExcept(a.Interval(), existing, a.ID); hit != nil {
		s.metrics.ObserveConflict("detector")
		return newConflictError(hit)
	}
	return nil
}

// loadDetail joins participant names onto a committed appointment. A failed
// read degrades to the bare appointment rather than failing the mutation.
func (s *Service) loadDetail(ctx context.Context, a *Appointment) *AppointmentDetail {
	detail, err := s.repo.GetAppointmentDetail(ctx, a.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to load appointment detail")
		return &AppointmentDetail{Appointment: *a}
	}
	return detail
}

func (s *Service) record(ctx context.Context, actor uuid.UUID, action string, resource uuid.UUID, changes map[string]any) {
	if s.recorder == nil {
		return
	}
	rec := audit.Record{
		ActorID:    actor,
		Action:     action,
		ResourceID: resource,
		Changeset:  changes,
		Timestamp:  s.now().UTC(),
	}
	if err := s.recorder.Record(ctx, rec); err != nil {
		s.logger.Error().Err(err).
			Str("action", action).
			Str("appointment_id", resource.String()).
			Msg("failed to record audit entry")
	}
}

func (s *Service) notify(ctx context.Context, kind EventKind, detail *AppointmentDetail, actor uuid.UUID) {
	s.notifier.Notify(ctx, Event{
		Kind:        kind,
		Appointment: *detail,
		ActorID:     actor,
		Recipients:  recipients(&detail.Appointment, actor),
	})
}

func change(from, to any) map[string]any {
	return map[string]any{"from": from, "to": to}
}

func parseDate(s string) (string, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", validationError("date must be YYYY-MM-DD")
	}
	return d.Format(DateLayout), nil
}
