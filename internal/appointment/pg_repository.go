package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// repository code serves plain reads and the booking transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgRepository struct {
	db   querier
	pool *pgxpool.Pool // nil when already transaction-scoped
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: pool, pool: pool}
}

// WithTx runs fn against a transaction-scoped repository. Any error rolls the
// whole thing back.
func (r *PgRepository) WithTx(ctx context.Context, fn func(Repository) error) error {
	if r.pool == nil {
		// Already inside a transaction; nested boundaries share it.
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&PgRepository{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// The overlap predicate covers partial overlap in either direction plus full
// containment of the requested window.
const overlapPredicate = `(
		(a.scheduled_start < $%[1]d AND a.scheduled_end > $%[2]d)
		OR ($%[2]d < a.scheduled_end AND $%[1]d > a.scheduled_start)
		OR ($%[2]d >= a.scheduled_start AND $%[1]d <= a.scheduled_end)
	)`

const appointmentColumns = `
	a.id, a.patient_id, a.provider_id, a.facility_id, a.appointment_type,
	a.scheduled_start, a.scheduled_end, a.duration_minutes, a.status,
	a.reason, a.notes, a.slot_id, a.booked_by, a.booked_at,
	a.cancelled_at, a.cancelled_by, a.cancellation_reason,
	a.created_at, a.updated_at`

const detailColumns = appointmentColumns + `,
	p.first_name || ' ' || p.last_name AS patient_name,
	CASE WHEN u.id IS NULL THEN NULL ELSE u.first_name || ' ' || u.last_name END AS provider_name,
	f.name AS facility_name`

const detailJoins = `
	FROM appointments a
	JOIN patients p ON p.id = a.patient_id
	LEFT JOIN users u ON u.id = a.provider_id
	JOIN facilities f ON f.id = a.facility_id`

// Scan helpers

func scanAppointmentFields(row pgx.Row, a *Appointment, extra ...any) error {
	dest := []any{
		&a.ID, &a.PatientID, &a.ProviderID, &a.FacilityID, &a.Type,
		&a.ScheduledStart, &a.ScheduledEnd, &a.DurationMinutes, &a.Status,
		&a.Reason, &a.Notes, &a.SlotID, &a.BookedBy, &a.BookedAt,
		&a.CancelledAt, &a.CancelledBy, &a.CancellationReason,
		&a.CreatedAt, &a.UpdatedAt,
	}
	dest = append(dest, extra...)
	return row.Scan(dest...)
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	if err := scanAppointmentFields(row, &a); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanDetail(row pgx.Row) (*Detail, error) {
	var d Detail
	if err := scanAppointmentFields(row, &d.Appointment, &d.PatientName, &d.ProviderName, &d.FacilityName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanSlot(row pgx.Row) (*AvailabilitySlot, error) {
	var s AvailabilitySlot
	err := row.Scan(
		&s.ID, &s.FacilityID, &s.ProviderID, &s.SlotDate,
		&s.StartTime, &s.EndTime, &s.Status, &s.AppointmentID,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

const slotColumns = `
	s.id, s.facility_id, s.provider_id, s.slot_date,
	s.start_time, s.end_time, s.status, s.appointment_id,
	s.created_at, s.updated_at`

// Reference entities

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, first_name, last_name, facility_id, active, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetActivePatientByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, first_name, last_name, facility_id, active, created_at, updated_at
		FROM patients
		WHERE user_id = $1 AND active
	`, userID)
	return scanPatient(row)
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.FacilityID, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, role, facility_id, first_name, last_name, active, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)

	var u User
	err := row.Scan(&u.ID, &u.Role, &u.FacilityID, &u.FirstName, &u.LastName, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *PgRepository) GetFacilityByID(ctx context.Context, id uuid.UUID) (*Facility, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, active, created_at, updated_at
		FROM facilities
		WHERE id = $1
	`, id)

	var f Facility
	err := row.Scan(&f.ID, &f.Name, &f.Active, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFacilityNotFound
		}
		return nil, err
	}
	return &f, nil
}

// Slot inventory

func (r *PgRepository) CountSlots(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM availability_slots
		WHERE facility_id = $1
		  AND ($2::uuid IS NULL OR provider_id = $2)
	`, facilityID, providerID).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

const findAvailableSlotSQL = `
	SELECT` + slotColumns + `
	FROM availability_slots s
	WHERE s.facility_id = $1
	  AND ($2::uuid IS NULL OR s.provider_id = $2)
	  AND s.status = 'available'
	  AND s.slot_date = $3::date
	  AND s.start_time <= $4
	  AND s.end_time >= $5
	ORDER BY s.start_time
	LIMIT 1`

func (r *PgRepository) FindAvailableSlot(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, start, end time.Time) (*AvailabilitySlot, error) {
	row := r.db.QueryRow(ctx, findAvailableSlotSQL, facilityID, providerID, start, start, end)
	return scanSlot(row)
}

func (r *PgRepository) FindAvailableSlotForUpdate(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, start, end time.Time) (*AvailabilitySlot, error) {
	row := r.db.QueryRow(ctx, findAvailableSlotSQL+` FOR UPDATE OF s`, facilityID, providerID, start, start, end)
	return scanSlot(row)
}

func (r *PgRepository) GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT`+slotColumns+`
		FROM availability_slots s
		WHERE s.id = $1
		FOR UPDATE
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListSlotsByDate(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, date time.Time) ([]AvailabilitySlot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT`+slotColumns+`
		FROM availability_slots s
		WHERE s.facility_id = $1
		  AND ($2::uuid IS NULL OR s.provider_id = $2)
		  AND s.slot_date = $3::date
		  AND s.status = 'available'
		ORDER BY s.start_time
	`, facilityID, providerID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilitySlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) MarkSlotBooked(ctx context.Context, slotID, appointmentID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE availability_slots
		SET status = 'booked',
		    appointment_id = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'available'
	`, slotID, appointmentID)
	if err != nil {
		return fmt.Errorf("mark slot booked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, slotID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE availability_slots
		SET status = 'available',
		    appointment_id = NULL,
		    updated_at = now()
		WHERE id = $1
	`, slotID)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

// Conflict detection

func (r *PgRepository) FindConflicts(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]Appointment, error) {
	predicate := fmt.Sprintf(overlapPredicate, 4, 3)

	rows, err := r.db.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments a
		WHERE a.facility_id = $1
		  AND ($2::uuid IS NULL OR a.provider_id = $2)
		  AND a.status NOT IN ('cancelled', 'no_show')
		  AND ($5::uuid IS NULL OR a.id <> $5)
		  AND `+predicate+`
		ORDER BY a.scheduled_start
	`, facilityID, providerID, start, end, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		var a Appointment
		if err := scanAppointmentFields(rows, &a); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// Appointment rows

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments AS a (
			id, patient_id, provider_id, facility_id, appointment_type,
			scheduled_start, scheduled_end, duration_minutes, status,
			reason, notes, slot_id, booked_by, booked_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())
		RETURNING`+appointmentColumns+`
	`, a.ID, a.PatientID, a.ProviderID, a.FacilityID, a.Type,
		a.ScheduledStart, a.ScheduledEnd, a.DurationMinutes, a.Status,
		a.Reason, a.Notes, a.SlotID, a.BookedBy, a.BookedAt)

	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments a
		WHERE a.id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	row := r.db.QueryRow(ctx, `
		SELECT`+detailColumns+detailJoins+`
		WHERE a.id = $1
	`, id)
	return scanDetail(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments a
		SET provider_id = $2,
		    facility_id = $3,
		    appointment_type = $4,
		    scheduled_start = $5,
		    scheduled_end = $6,
		    duration_minutes = $7,
		    status = $8,
		    reason = $9,
		    notes = $10,
		    updated_at = now()
		WHERE a.id = $1
		RETURNING`+appointmentColumns+`
	`, a.ID, a.ProviderID, a.FacilityID, a.Type,
		a.ScheduledStart, a.ScheduledEnd, a.DurationMinutes, a.Status,
		a.Reason, a.Notes)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments a
		SET status = $2,
		    updated_at = now()
		WHERE a.id = $1
		  AND a.status = $3
		RETURNING`+appointmentColumns+`
	`, id, to, from)
	return scanAppointment(row)
}

func (r *PgRepository) CancelAppointment(ctx context.Context, id uuid.UUID, reason *string, by uuid.UUID, at time.Time) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments a
		SET status = 'cancelled',
		    cancellation_reason = $2,
		    cancelled_by = $3,
		    cancelled_at = $4,
		    updated_at = now()
		WHERE a.id = $1
		RETURNING`+appointmentColumns+`
	`, id, reason, by, at)
	return scanAppointment(row)
}

func (r *PgRepository) List(ctx context.Context, f ListFilter) ([]Detail, error) {
	where, args := f.whereClause()
	limit, offset := f.limits()
	args = append(args, limit, offset)

	sql := fmt.Sprintf(`
		SELECT`+detailColumns+detailJoins+`
		%s
		ORDER BY a.scheduled_start DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	return r.queryDetails(ctx, sql, args...)
}

func (r *PgRepository) ListByDate(ctx context.Context, date time.Time) ([]Detail, error) {
	return r.queryDetails(ctx, `
		SELECT`+detailColumns+detailJoins+`
		WHERE a.scheduled_start >= $1::date
		  AND a.scheduled_start < $1::date + interval '1 day'
		ORDER BY a.scheduled_start
	`, date)
}

func (r *PgRepository) queryDetails(ctx context.Context, sql string, args ...any) ([]Detail, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Detail
	for rows.Next() {
		var d Detail
		if err := scanAppointmentFields(rows, &d.Appointment, &d.PatientName, &d.ProviderName, &d.FacilityName); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
