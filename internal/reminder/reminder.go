package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/myhubcares/clinic-scheduling/internal/appointment"
	"github.com/myhubcares/clinic-scheduling/internal/notification"
	redisclient "github.com/myhubcares/clinic-scheduling/internal/redis"
)

type Reminder struct {
	ID            int64
	AppointmentID uuid.UUID
	FireAt        time.Time
	SentAt        *time.Time
}

// Store is the persistence surface for reminders. PgStore implements it and
// also satisfies appointment.ReminderScheduler.
type Store interface {
	Schedule(ctx context.Context, appointmentID uuid.UUID, fireAt time.Time) error
	Due(ctx context.Context, now time.Time, limit int) ([]Reminder, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
}

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Schedule(ctx context.Context, appointmentID uuid.UUID, fireAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reminders (appointment_id, fire_at)
		VALUES ($1, $2)
	`, appointmentID, fireAt)
	if err != nil {
		return fmt.Errorf("schedule reminder: %w", err)
	}
	return nil
}

func (s *PgStore) Due(ctx context.Context, now time.Time, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, appointment_id, fire_at, sent_at
		FROM reminders
		WHERE sent_at IS NULL
		  AND fire_at <= $1
		ORDER BY fire_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Reminder
	for rows.Next() {
		var r Reminder
		if err := rows.Scan(&r.ID, &r.AppointmentID, &r.FireAt, &r.SentAt); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *PgStore) MarkSent(ctx context.Context, id int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reminders
		SET sent_at = $2
		WHERE id = $1
	`, id, at)
	return err
}

// appointmentReader is the slice of the appointment repository the dispatcher
// needs.
type appointmentReader interface {
	GetDetail(ctx context.Context, id uuid.UUID) (*appointment.Detail, error)
}

// Dispatcher sends due reminders to patients. It is driven by the
// reminder-worker binary on a fixed interval.
type Dispatcher struct {
	store Store
	appts appointmentReader
	dir   notification.Directory
	msgs  notification.Store
	push  redisclient.Pusher
}

func NewDispatcher(store Store, appts appointmentReader, dir notification.Directory, msgs notification.Store, push redisclient.Pusher) *Dispatcher {
	return &Dispatcher{store: store, appts: appts, dir: dir, msgs: msgs, push: push}
}

// Run processes one batch of due reminders. Each reminder is handled in its
// own error boundary so a bad row cannot stall the queue.
func (d *Dispatcher) Run(ctx context.Context) error {
	now := time.Now()
	due, err := d.store.Due(ctx, now, 100)
	if err != nil {
		return fmt.Errorf("find due reminders: %w", err)
	}

	for _, r := range due {
		if err := d.dispatch(ctx, r); err != nil {
			log.Warn().Err(err).Int64("reminder_id", r.ID).Stringer("appointment_id", r.AppointmentID).Msg("dispatch reminder failed")
			continue
		}
		if err := d.store.MarkSent(ctx, r.ID, time.Now()); err != nil {
			log.Warn().Err(err).Int64("reminder_id", r.ID).Msg("mark reminder sent failed")
		}
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, r Reminder) error {
	detail, err := d.appts.GetDetail(ctx, r.AppointmentID)
	if err != nil {
		if errors.Is(err, appointment.ErrAppointmentNotFound) {
			// The appointment is gone; drop the reminder.
			return nil
		}
		return fmt.Errorf("load appointment: %w", err)
	}

	// Cancelled, completed and no-show appointments need no reminder.
	if detail.Status != appointment.StatusScheduled && detail.Status != appointment.StatusConfirmed {
		return nil
	}

	patientUser, err := d.dir.UserForPatient(ctx, detail.PatientID)
	if err != nil {
		if errors.Is(err, notification.ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("resolve patient user: %w", err)
	}

	m := &notification.Message{
		UserID:   patientUser.ID,
		Title:    "Appointment reminder",
		Body:     fmt.Sprintf("Reminder: your %s appointment at %s is on %s.", detail.Type, detail.FacilityName, detail.ScheduledStart.Format("Mon, 02 Jan 2006 at 15:04")),
		Priority: notification.PriorityHigh,
		Payload: notification.Payload{
			Type:            notification.EventReminder,
			AppointmentID:   detail.ID,
			PatientID:       detail.PatientID,
			ProviderID:      detail.ProviderID,
			FacilityID:      detail.FacilityID,
			ScheduledStart:  detail.ScheduledStart,
			AppointmentType: string(detail.Type),
		},
	}

	if err := d.msgs.Insert(ctx, m); err != nil {
		return fmt.Errorf("store reminder notification: %w", err)
	}
	if err := d.push.Publish(ctx, patientUser.ID, notification.EventReminder, m.Payload); err != nil {
		log.Warn().Err(err).Stringer("user_id", patientUser.ID).Msg("push reminder failed")
	}
	return nil
}
