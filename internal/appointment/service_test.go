package appointment

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-scheduling/internal/audit"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
	"github.com/hackgods/clinic-appointment-scheduling/internal/timerange"
)

const testDate = "2026-03-02"

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) all() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}

type recordingRecorder struct {
	mu      sync.Mutex
	records []audit.Record
	err     error
}

func (r *recordingRecorder) Record(_ context.Context, rec audit.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

// countingRepo counts conflict-candidate queries.
type countingRepo struct {
	*MemoryRepository
	liveQueries atomic.Int32
}

func (c *countingRepo) ListLiveForPractitioner(ctx context.Context, id uuid.UUID, date string) ([]Appointment, error) {
	c.liveQueries.Add(1)
	return c.MemoryRepository.ListLiveForPractitioner(ctx, id, date)
}

type fixture struct {
	svc      *Service
	repo     *countingRepo
	notifier *recordingNotifier
	recorder *recordingRecorder

	admin, doctor, otherDoctor, patient, otherPatient auth.Principal
}

func newFixture(t *testing.T, tweak ...func(*config.Config)) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		repo:         &countingRepo{MemoryRepository: NewMemoryRepository()},
		notifier:     &recordingNotifier{},
		recorder:     &recordingRecorder{},
		admin:        auth.Principal{ID: uuid.New(), Role: auth.RoleAdmin},
		doctor:       auth.Principal{ID: uuid.New(), Role: auth.RoleDoctor},
		otherDoctor:  auth.Principal{ID: uuid.New(), Role: auth.RoleDoctor},
		patient:      auth.Principal{ID: uuid.New(), Role: auth.RolePatient},
		otherPatient: auth.Principal{ID: uuid.New(), Role: auth.RolePatient},
	}
	for name, p := range map[string]auth.Principal{
		"Ada Admin":   f.admin,
		"Dr. House":   f.doctor,
		"Dr. Grey":    f.otherDoctor,
		"Pat Patient": f.patient,
		"Olly Other":  f.otherPatient,
	} {
		f.repo.AddUser(User{ID: p.ID, Name: name, Role: p.Role})
	}

	cfg := config.Config{
		ClinicLocation: time.UTC,
		ClinicOpen:     8 * 60,
		ClinicClose:    18 * 60,
		NoShowGrace:    15 * time.Minute,
	}
	for _, fn := range tweak {
		fn(&cfg)
	}

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.svc = NewService(f.repo, redisclient.NewRedisLocker(client, 5*time.Second, 2*time.Second), cfg,
		WithNotifier(f.notifier),
		WithAuditRecorder(f.recorder),
		WithClock(func() time.Time { return clock }),
	)
	return f
}

func (f *fixture) book(t *testing.T, at string, duration int) (*AppointmentDetail, error) {
	t.Helper()
	return f.svc.CreateAppointment(context.Background(), f.patient, CreateInput{
		PractitionerID:  f.doctor.ID,
		Date:            testDate,
		Time:            at,
		DurationMinutes: duration,
		Reason:          "checkup",
	})
}

func TestCreateAppointment_Success(t *testing.T) {
	f := newFixture(t)

	got, err := f.book(t, "2:30 PM", 0)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)
	assert.Equal(t, "14:30", got.Time)
	assert.Equal(t, 870, got.StartMinutes)
	assert.Equal(t, DefaultDurationMinutes, got.DurationMinutes)
	assert.Equal(t, f.patient.ID, got.PatientID)
	assert.Equal(t, "Pat Patient", got.PatientName)
	assert.Equal(t, "Dr. House", got.PractitionerName)
	assert.Nil(t, got.CancelReason)

	events := f.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventCreated, events[0].Kind)
	assert.Equal(t, []uuid.UUID{f.doctor.ID}, events[0].Recipients)

	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, audit.ActionCreate, f.recorder.records[0].Action)
	assert.Equal(t, f.patient.ID, f.recorder.records[0].ActorID)
}

func TestCreateAppointment_OverlapRules(t *testing.T) {
	f := newFixture(t)

	_, err := f.book(t, "10:00", 30)
	require.NoError(t, err)

	_, err = f.book(t, "10:15", 30)
	require.ErrorIs(t, err, ErrSchedulingConflict)
	var conflict *SchedulingConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "10:00", conflict.Time)
	assert.Equal(t, 30, conflict.DurationMinutes)

	// touching intervals do not overlap
	_, err = f.book(t, "10:30", 30)
	require.NoError(t, err)

	// same start in the other notation is the same slot
	_, err = f.book(t, "10:00 AM", 15)
	assert.ErrorIs(t, err, ErrSchedulingConflict)

	// another practitioner is unaffected
	_, err = f.svc.CreateAppointment(context.Background(), f.patient, CreateInput{
		PractitionerID: f.otherDoctor.ID, Date: testDate, Time: "10:15", DurationMinutes: 30,
	})
	assert.NoError(t, err)
}

func TestCreateCancelRebookScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.book(t, "09:00", 30)
	require.NoError(t, err)

	_, err = f.book(t, "09:15", 30)
	require.ErrorIs(t, err, ErrSchedulingConflict)

	_, err = f.svc.CancelAppointment(ctx, f.patient, first.ID, "feeling better")
	require.NoError(t, err)

	second, err := f.book(t, "09:15", 30)
	require.NoError(t, err)
	assert.Equal(t, "09:15", second.Time)
}

func TestCreateAppointment_Validation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"bad time", CreateInput{Time: "25:00", Date: testDate}, ErrInvalidTimeFormat},
		{"bad meridiem", CreateInput{Time: "13:00 PM", Date: testDate}, ErrInvalidTimeFormat},
		{"bad date", CreateInput{Time: "10:00", Date: "02/03/2026"}, ErrValidation},
		{"negative duration", CreateInput{Time: "10:00", Date: testDate, DurationMinutes: -5}, ErrValidation},
		{"past midnight", CreateInput{Time: "23:45", Date: testDate, DurationMinutes: 30}, ErrValidation},
		{"longer than a day", CreateInput{Time: "00:00", Date: testDate, DurationMinutes: timerange.MinutesPerDay + 1}, ErrValidation},
		{"overflowing duration", CreateInput{Time: "10:00", Date: testDate, DurationMinutes: math.MaxInt - 100}, ErrValidation},
		{"unknown practitioner", CreateInput{Time: "10:00", Date: testDate, PractitionerID: uuid.New()}, ErrPractitionerNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := tc.in
			if in.PractitionerID == uuid.Nil {
				in.PractitionerID = f.doctor.ID
			}
			_, err := f.svc.CreateAppointment(context.Background(), f.patient, in)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	// a patient is not a practitioner
	_, err := f.svc.CreateAppointment(context.Background(), f.patient, CreateInput{
		PractitionerID: f.otherPatient.ID, Date: testDate, Time: "10:00",
	})
	assert.ErrorIs(t, err, ErrPractitionerNotFound)
	assert.Empty(t, f.notifier.all())
}

func TestCreateAppointment_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := CreateInput{PractitionerID: f.doctor.ID, Date: testDate, Time: "11:00"}

	_, err := f.svc.CreateAppointment(ctx, f.doctor, in)
	assert.ErrorIs(t, err, ErrForbidden, "doctors do not book")

	_, err = f.svc.CreateAppointment(ctx, f.admin, in)
	assert.ErrorIs(t, err, ErrForbidden, "admin must name a patient")

	forOther := in
	forOther.PatientID = &f.otherPatient.ID
	_, err = f.svc.CreateAppointment(ctx, f.patient, forOther)
	assert.ErrorIs(t, err, ErrForbidden, "patients book only for themselves")

	got, err := f.svc.CreateAppointment(ctx, f.admin, forOther)
	require.NoError(t, err)
	assert.Equal(t, f.otherPatient.ID, got.PatientID)
	assert.ElementsMatch(t, []uuid.UUID{f.doctor.ID, f.otherPatient.ID}, f.notifier.all()[0].Recipients)
}

func TestCreateAppointment_PatientCheckedBeforeConflictQuery(t *testing.T) {
	f := newFixture(t)
	missing := uuid.New()

	_, err := f.svc.CreateAppointment(context.Background(), f.admin, CreateInput{
		PatientID: &missing, PractitionerID: f.doctor.ID, Date: testDate, Time: "10:00",
	})
	assert.ErrorIs(t, err, ErrPatientNotFound)
	assert.Zero(t, f.repo.liveQueries.Load())
}

func TestCreateAppointment_ConcurrentOverlapsNeverBothCommit(t *testing.T) {
	f := newFixture(t)

	starts := []string{"10:00", "10:05", "10:10", "10:20", "10:25", "10:30", "10:40", "10:50"}
	var wg sync.WaitGroup
	for _, at := range starts {
		wg.Add(1)
		go func(at string) {
			defer wg.Done()
			_, err := f.book(t, at, 30)
			if err != nil {
				assert.True(t, errors.Is(err, ErrSchedulingConflict) || errors.Is(err, ErrScheduleBusy), err.Error())
			}
		}(at)
	}
	wg.Wait()

	live, err := f.repo.ListLiveForPractitioner(context.Background(), f.doctor.ID, testDate)
	require.NoError(t, err)
	require.NotEmpty(t, live)
	for i := range live {
		for j := i + 1; j < len(live); j++ {
			assert.False(t, live[i].Interval().Overlaps(live[j].Interval()), "%s overlaps %s", live[i].Time, live[j].Time)
		}
	}
}

func TestGetAppointment_NotFoundBeforeForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetAppointment(ctx, f.otherPatient, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	appt, err := f.book(t, "10:00", 30)
	require.NoError(t, err)

	_, err = f.svc.GetAppointment(ctx, f.otherPatient, appt.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.GetAppointment(ctx, f.otherDoctor, appt.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	for _, p := range []auth.Principal{f.patient, f.doctor, f.admin} {
		got, err := f.svc.GetAppointment(ctx, p, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, appt.ID, got.ID)
	}
}

func TestUpdateAppointment_Policy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt, err := f.book(t, "10:00", 30)
	require.NoError(t, err)

	confirmed := StatusConfirmed
	_, err = f.svc.UpdateAppointment(ctx, f.patient, appt.ID, UpdateInput{Status: &confirmed})
	assert.ErrorIs(t, err, ErrForbidden, "patients cannot update even their own")

	_, err = f.svc.UpdateAppointment(ctx, f.otherDoctor, appt.ID, UpdateInput{Status: &confirmed})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.UpdateAppointment(ctx, f.doctor, uuid.New(), UpdateInput{Status: &confirmed})
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	got, err := f.svc.UpdateAppointment(ctx, f.doctor, appt.ID, UpdateInput{Status: &confirmed})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, 2, got.Version)

	events := f.notifier.all()
	assert.Equal(t, EventUpdated, events[len(events)-1].Kind)
	assert.Equal(t, []uuid.UUID{f.patient.ID}, events[len(events)-1].Recipients)
}

func TestUpdateAppointment_Transitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt, err := f.book(t, "10:00", 30)
	require.NoError(t, err)

	set := func(st AppointmentStatus) error {
		_, err := f.svc.UpdateAppointment(ctx, f.doctor, appt.ID, UpdateInput{Status: &st})
		return err
	}

	assert.ErrorIs(t, set(StatusCancelled), ErrValidation)
	require.NoError(t, set(StatusInProgress))
	assert.ErrorIs(t, set(StatusScheduled), ErrInvalidStatusTransition)
	require.NoError(t, set(StatusInProgress), "same state is a no-op")
	require.NoError(t, set(StatusCompleted))
	assert.ErrorIs(t, set(StatusConfirmed), ErrInvalidStatusTransition)

	_, err = f.svc.CancelAppointment(ctx, f.doctor, appt.ID, "too late")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = f.svc.UpdateAppointment(ctx, f.doctor, appt.ID, UpdateInput{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateAppointment_RescheduleConflictCheck(t *testing.T) {
	moveInto := func(t *testing.T, f *fixture) error {
		_, err := f.book(t, "10:00", 30)
		require.NoError(t, err)
		second, err := f.book(t, "11:00", 30)
		require.NoError(t, err)

		at := "10:15"
		_, err = f.svc.UpdateAppointment(context.Background(), f.doctor, second.ID, UpdateInput{Time: &at})
		return err
	}

	t.Run("off by default", func(t *testing.T) {
		assert.NoError(t, moveInto(t, newFixture(t)))
	})
	t.Run("enabled", func(t *testing.T) {
		f := newFixture(t, func(c *config.Config) { c.RescheduleConflictCheck = true })
		assert.ErrorIs(t, moveInto(t, f), ErrSchedulingConflict)
	})
	t.Run("identical start hits store guard", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.book(t, "10:00", 30)
		require.NoError(t, err)
		second, err := f.book(t, "11:00", 30)
		require.NoError(t, err)
		at := "10:00 AM"
		_, err = f.svc.UpdateAppointment(context.Background(), f.doctor, second.ID, UpdateInput{Time: &at})
		assert.ErrorIs(t, err, ErrSlotTaken)
	})
	t.Run("moving within its own slot", func(t *testing.T) {
		f := newFixture(t, func(c *config.Config) { c.RescheduleConflictCheck = true })
		appt, err := f.book(t, "10:00", 30)
		require.NoError(t, err)
		at := "10:10"
		got, err := f.svc.UpdateAppointment(context.Background(), f.doctor, appt.ID, UpdateInput{Time: &at})
		require.NoError(t, err)
		assert.Equal(t, 610, got.StartMinutes)
	})
}

func TestCancelAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt, err := f.book(t, "10:00", 30)
	require.NoError(t, err)

	_, err = f.svc.CancelAppointment(ctx, f.otherDoctor, appt.ID, "not mine")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.CancelAppointment(ctx, f.patient, appt.ID, "   ")
	assert.ErrorIs(t, err, ErrValidation)

	got, err := f.svc.CancelAppointment(ctx, f.doctor, appt.ID, " sick ")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, "sick", *got.CancelReason)
	require.NotNil(t, got.CancelledBy)
	assert.Equal(t, f.doctor.ID, *got.CancelledBy)
	assert.NotNil(t, got.CancelledAt)

	for i := 0; i < 3; i++ {
		_, err = f.svc.CancelAppointment(ctx, f.patient, appt.ID, "again")
		assert.ErrorIs(t, err, ErrAlreadyCancelled)
	}

	events := f.notifier.all()
	assert.Equal(t, EventCancelled, events[len(events)-1].Kind)
	assert.Equal(t, audit.ActionCancel, f.recorder.records[len(f.recorder.records)-1].Action)
}

func TestCancelAppointment_ConcurrentCancelsOneWins(t *testing.T) {
	f := newFixture(t)
	appt, err := f.book(t, "10:00", 30)
	require.NoError(t, err)

	var ok, already atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CancelAppointment(context.Background(), f.patient, appt.ID, "race")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrAlreadyCancelled):
				already.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(5), already.Load())
}

func TestAuditFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.recorder.err = errors.New("audit store down")

	_, err := f.book(t, "10:00", 30)
	assert.NoError(t, err)
}

func TestListAppointments_Scoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.book(t, "09:00", 30)
	require.NoError(t, err)
	_, err = f.svc.CreateAppointment(ctx, f.otherPatient, CreateInput{PractitionerID: f.otherDoctor.ID, Date: testDate, Time: "09:00"})
	require.NoError(t, err)

	mine, err := f.svc.ListAppointments(ctx, f.patient, ListFilter{PatientID: &f.otherPatient.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, f.patient.ID, mine[0].PatientID)

	docs, err := f.svc.ListAppointments(ctx, f.otherDoctor, ListFilter{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Olly Other", docs[0].PatientName)

	all, err := f.svc.ListAppointments(ctx, f.admin, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	from, to := "2026-03-03", "2026-03-01"
	_, err = f.svc.ListAppointments(ctx, f.admin, ListFilter{From: &from, To: &to})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.book(t, "09:00", 30)
	require.NoError(t, err)
	_, err = f.book(t, "10:00", 30)
	require.NoError(t, err)
	_, err = f.svc.CancelAppointment(ctx, f.patient, a.ID, "moved away")
	require.NoError(t, err)

	counts, err := f.svc.Stats(ctx, f.doctor, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusScheduled])
	assert.Equal(t, 1, counts[StatusCancelled])
	assert.Equal(t, 0, counts[StatusCompleted])
	assert.Len(t, counts, len(statuses))

	other, err := f.svc.Stats(ctx, f.otherDoctor, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, other[StatusScheduled])
}

func TestAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.book(t, "08:00", 60)
	require.NoError(t, err)
	_, err = f.book(t, "12:00", 30)
	require.NoError(t, err)
	_, err = f.book(t, "12:45", 15)
	require.NoError(t, err)

	got, err := f.svc.Availability(ctx, f.doctor.ID, testDate, 30)
	require.NoError(t, err)
	assert.Equal(t, []timerange.Interval{
		{Start: 9 * 60, End: 12 * 60},
		{Start: 13 * 60, End: 18 * 60},
	}, got)

	_, err = f.svc.Availability(ctx, f.patient.ID, testDate, 30)
	assert.ErrorIs(t, err, ErrPractitionerNotFound)

	_, err = f.svc.Availability(ctx, f.doctor.ID, testDate, math.MaxInt-100)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateAppointment_UnknownSelfPatient(t *testing.T) {
	f := newFixture(t)

	ghost := auth.Principal{ID: uuid.New(), Role: auth.RolePatient}
	_, err := f.svc.CreateAppointment(context.Background(), ghost, CreateInput{
		PractitionerID: f.doctor.ID,
		Date:           testDate,
		Time:           "10:00",
	})
	assert.ErrorIs(t, err, ErrPatientNotFound)
	assert.Empty(t, f.notifier.all())
}

func TestCreateAppointment_OverflowingDurationBlocksNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.book(t, "10:00", math.MaxInt-100)
	require.ErrorIs(t, err, ErrValidation)

	appt, err := f.book(t, "11:00", 30)
	require.NoError(t, err)
	assert.Equal(t, 30, appt.DurationMinutes)

	list, err := f.svc.ListAppointments(context.Background(), f.admin, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMarkNoShows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// clock is 2026-03-01 12:00 UTC; grace 15m
	past := func(at string) *Appointment {
		start, err := timerange.ToMinutes(at)
		require.NoError(t, err)
		a, err := f.repo.CreateAppointment(ctx, &Appointment{
			PatientID: f.patient.ID, PractitionerID: f.doctor.ID,
			Date: "2026-03-01", Time: at, StartMinutes: start, DurationMinutes: 30,
			Status: StatusScheduled,
		})
		require.NoError(t, err)
		return a
	}
	overdue := past("09:00")
	withinGrace := past("11:15")
	_, err := f.book(t, "09:00", 30)
	require.NoError(t, err)

	n, err := f.svc.MarkNoShows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.repo.GetAppointmentByID(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, got.Status)

	got, err = f.repo.GetAppointmentByID(ctx, withinGrace.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)

	last := f.recorder.records[len(f.recorder.records)-1]
	assert.Equal(t, audit.ActionNoShow, last.Action)
	assert.Equal(t, uuid.Nil, last.ActorID)

	// the slot is free again
	_, err = f.svc.Availability(ctx, f.doctor.ID, "2026-03-01", 30)
	assert.NoError(t, err)
}
