package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// dbtx is the subset of *pgxpool.Pool the repository needs.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool dbtx
}

func NewPgRepository(pool dbtx) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, patient_id, practitioner_id, appointment_date::text, appointment_time,
		start_minutes, duration_minutes, status, reason, notes,
		cancel_reason, cancelled_by, cancelled_at, version, created_at, updated_at`

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string

	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&role,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	u.Role = auth.Role(role)
	return &u, nil
}

func appointmentDest(a *Appointment, status *string) []any {
	return []any{
		&a.ID,
		&a.PatientID,
		&a.PractitionerID,
		&a.Date,
		&a.Time,
		&a.StartMinutes,
		&a.DurationMinutes,
		status,
		&a.Reason,
		&a.Notes,
		&a.CancelReason,
		&a.CancelledBy,
		&a.CancelledAt,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	if err := row.Scan(appointmentDest(&a, &status)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = AppointmentStatus(status)
	return &a, nil
}

func scanAppointmentDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	var status string

	dest := append(appointmentDest(&d.Appointment, &status),
		&d.PatientName,
		&d.PatientEmail,
		&d.PractitionerName,
		&d.PractitionerEmail,
	)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	d.Status = AppointmentStatus(status)
	return &d, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// missingParticipant maps a foreign key violation on insert to the
// not-found error of the participant that does not exist.
func missingParticipant(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != foreignKeyViolation {
		return nil
	}
	if pgErr.ConstraintName == "appointments_practitioner_id_fkey" {
		return ErrPractitionerNotFound
	}
	return ErrPatientNotFound
}

// Interface methods

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

const detailSelect = `
		SELECT a.id, a.patient_id, a.practitioner_id, a.appointment_date::text, a.appointment_time,
		       a.start_minutes, a.duration_minutes, a.status, a.reason, a.notes,
		       a.cancel_reason, a.cancelled_by, a.cancelled_at, a.version, a.created_at, a.updated_at,
		       p.name, p.email, d.name, d.email
		FROM appointments a
		JOIN users p ON p.id = a.patient_id
		JOIN users d ON d.id = a.practitioner_id`

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.pool.QueryRow(ctx, detailSelect+`
		WHERE a.id = $1
	`, id)
	return scanAppointmentDetail(row)
}

// filterClause renders the WHERE part of a listing and its arguments.
func filterClause(f ListFilter, alias string) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, alias, len(args)))
	}

	if f.PatientID != nil {
		add("%spatient_id = $%d", *f.PatientID)
	}
	if f.PractitionerID != nil {
		add("%spractitioner_id = $%d", *f.PractitionerID)
	}
	if f.Status != nil {
		add("%sstatus = $%d", string(*f.Status))
	}
	if f.From != nil {
		add("%sappointment_date >= $%d::date", *f.From)
	}
	if f.To != nil {
		add("%sappointment_date <= $%d::date", *f.To)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]AppointmentDetail, error) {
	where, args := filterClause(f, "a.")
	args = append(args, f.Limit, f.Offset)
	query := detailSelect + where + fmt.Sprintf(`
		ORDER BY a.appointment_date, a.start_minutes, a.id
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]AppointmentDetail, 0)
	for rows.Next() {
		d, err := scanAppointmentDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CountByStatus(ctx context.Context, f ListFilter) (map[AppointmentStatus]int, error) {
	where, args := filterClause(f, "")
	rows, err := r.pool.Query(ctx, `
		SELECT status, count(*)::int
		FROM appointments`+where+`
		GROUP BY status
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[AppointmentStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[AppointmentStatus(status)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return counts, nil
}

func (r *PgRepository) ListLiveForPractitioner(ctx context.Context, practitionerID uuid.UUID, date string) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND appointment_date = $2::date
		  AND status NOT IN ('cancelled', 'no-show')
		ORDER BY start_minutes
	`, practitionerID, date)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, practitioner_id, appointment_date, appointment_time,
		                          start_minutes, duration_minutes, status, reason, notes,
		                          version, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8, $9, $10, 1, now(), now())
		RETURNING `+appointmentColumns,
		id, a.PatientID, a.PractitionerID, a.Date, a.Time,
		a.StartMinutes, a.DurationMinutes, string(a.Status), a.Reason, a.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		if notFound := missingParticipant(err); notFound != nil {
			return nil, notFound
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

// UpdateAppointmentFields writes status, schedule and notes if the stored
// version still equals a.Version, bumping the version.
func (r *PgRepository) UpdateAppointmentFields(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    appointment_date = $4::date,
		    appointment_time = $5,
		    start_minutes = $6,
		    notes = $7,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $2
		RETURNING `+appointmentColumns,
		a.ID, a.Version, string(a.Status), a.Date, a.Time, a.StartMinutes, a.Notes)

	updated, err := scanAppointment(row)
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		return nil, ErrConcurrentUpdate
	case err != nil && isUniqueViolation(err):
		return nil, ErrSlotTaken
	case err != nil:
		return nil, fmt.Errorf("update appointment: %w", err)
	}
	return updated, nil
}

// CancelAppointment cancels id unless it is already terminal. When no row
// changes it returns ErrAppointmentNotFound and the caller re-reads.
func (r *PgRepository) CancelAppointment(ctx context.Context, id, by uuid.UUID, reason string, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancel_reason = $2,
		    cancelled_by = $3,
		    cancelled_at = $4,
		    version = version + 1,
		    updated_at = $4
		WHERE id = $1
		  AND status NOT IN ('cancelled', 'completed')
		RETURNING `+appointmentColumns,
		id, reason, by, at)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from))

	return scanAppointment(row)
}

// FindPastDue returns scheduled or confirmed appointments whose end, in the
// clinic's zone, is before the given instant.
func (r *PgRepository) FindPastDue(ctx context.Context, before time.Time, loc *time.Location) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
		  AND (appointment_date + make_interval(mins => start_minutes + duration_minutes)) AT TIME ZONE $2 < $1
	`, before, loc.String())
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}
