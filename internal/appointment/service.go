package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/myhubcares/clinic-scheduling/internal/audit"
	"github.com/myhubcares/clinic-scheduling/internal/config"
	redisclient "github.com/myhubcares/clinic-scheduling/internal/redis"
)

var (
	ErrValidation             = errors.New("invalid input")
	ErrForbidden              = errors.New("not allowed for this actor")
	ErrSlotConflict           = errors.New("requested window conflicts with an existing appointment")
	ErrSlotUnavailable        = errors.New("requested slot is no longer available")
	ErrNoSlotAvailable        = errors.New("no availability slot matches the requested window")
	ErrInvalidStateForConfirm = errors.New("appointment cannot be confirmed in its current state")
	ErrTerminalState          = errors.New("appointment is in a terminal state")
	ErrBookingContended       = errors.New("another booking for this facility is in progress, please retry")
)

// Notifier receives lifecycle events after the owning transaction commits.
// Implementations must tolerate being called best-effort.
type Notifier interface {
	AppointmentCreated(ctx context.Context, d *Detail) error
	ProviderAccepted(ctx context.Context, d *Detail) error
	ProviderDeclined(ctx context.Context, d *Detail, reason string) error
	PatientConfirmed(ctx context.Context, d *Detail) error
	AppointmentChanged(ctx context.Context, d *Detail, ch Change) error
}

// ReminderScheduler queues a reminder to fire before an appointment starts.
type ReminderScheduler interface {
	Schedule(ctx context.Context, appointmentID uuid.UUID, fireAt time.Time) error
}

// Service is the appointment lifecycle manager: it owns booking and the
// status state machine, and emits notification/audit/reminder side effects
// after each committed transition.
type Service struct {
	repo      Repository
	resolver  *Resolver
	locker    redisclient.Locker
	notifier  Notifier
	audit     audit.Recorder
	reminders ReminderScheduler
	cfg       config.Config
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, rec audit.Recorder, reminders ReminderScheduler, cfg config.Config) *Service {
	return &Service{
		repo:      repo,
		resolver:  NewResolver(repo),
		locker:    locker,
		notifier:  notifier,
		audit:     rec,
		reminders: reminders,
		cfg:       cfg,
	}
}

type BookRequest struct {
	PatientID       *uuid.UUID
	ProviderID      *uuid.UUID
	FacilityID      uuid.UUID
	Type            Type
	ScheduledStart  time.Time
	ScheduledEnd    time.Time
	DurationMinutes int
	Reason          *string
	Notes           *string
	SlotID          *uuid.UUID
}

// Book creates an appointment. Conflict and slot checks run inside the same
// transaction as the insert, under a per-facility booking lock, so two
// concurrent requests for the same window cannot both succeed.
func (s *Service) Book(ctx context.Context, req BookRequest, actor Actor) (*Detail, error) {
	if req.FacilityID == uuid.Nil {
		return nil, fmt.Errorf("%w: facility_id is required", ErrValidation)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: invalid appointment_type %q", ErrValidation, req.Type)
	}
	if req.ScheduledStart.IsZero() || req.ScheduledEnd.IsZero() {
		return nil, fmt.Errorf("%w: scheduled_start and scheduled_end are required", ErrValidation)
	}
	if !req.ScheduledStart.Before(req.ScheduledEnd) {
		return nil, fmt.Errorf("%w: scheduled_start must be before scheduled_end", ErrValidation)
	}

	patient, err := s.resolvePatient(ctx, req.PatientID, actor)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetFacilityByID(ctx, req.FacilityID); err != nil {
		if errors.Is(err, ErrFacilityNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load facility: %w", err)
	}
	if req.ProviderID != nil {
		if _, err := s.repo.GetUserByID(ctx, *req.ProviderID); err != nil {
			if errors.Is(err, ErrProviderNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("load provider: %w", err)
		}
	}

	duration := req.DurationMinutes
	if duration <= 0 {
		duration = int(req.ScheduledEnd.Sub(req.ScheduledStart).Minutes())
	}

	var created *Appointment

	err = s.locker.WithBookingLock(ctx, req.FacilityID, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(tx Repository) error {
			// Re-check inside the transaction; the earlier availability
			// endpoint result is advisory only. Slot consumption is resolved
			// first so a taken slot reports as such rather than as an overlap.
			slot, err := s.selectSlot(lockCtx, tx, req)
			if err != nil {
				return err
			}

			conflicts, err := tx.FindConflicts(lockCtx, req.FacilityID, req.ProviderID, req.ScheduledStart, req.ScheduledEnd, nil)
			if err != nil {
				return fmt.Errorf("check conflicts: %w", err)
			}
			if len(conflicts) > 0 {
				return fmt.Errorf("%w: %d overlapping appointment(s)", ErrSlotConflict, len(conflicts))
			}

			appt := &Appointment{
				ID:              uuid.New(),
				PatientID:       patient.ID,
				ProviderID:      req.ProviderID,
				FacilityID:      req.FacilityID,
				Type:            req.Type,
				ScheduledStart:  req.ScheduledStart,
				ScheduledEnd:    req.ScheduledEnd,
				DurationMinutes: duration,
				Status:          StatusScheduled,
				Reason:          req.Reason,
				Notes:           req.Notes,
				BookedBy:        actor.UserID,
				BookedAt:        time.Now(),
			}
			if slot != nil {
				appt.SlotID = &slot.ID
			}

			created, err = tx.InsertAppointment(lockCtx, appt)
			if err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}

			if slot != nil {
				if err := tx.MarkSlotBooked(lockCtx, slot.ID, created.ID); err != nil {
					return fmt.Errorf("reserve slot: %w", err)
				}
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrBookingContended
		}
		return nil, err
	}

	detail, err := s.repo.GetDetail(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("load booked appointment: %w", err)
	}

	s.runEffects(ctx, created.ID,
		effect{"schedule_reminder", func(fx context.Context) error {
			return s.reminders.Schedule(fx, created.ID, created.ScheduledStart.Add(-s.cfg.ReminderLead))
		}},
		effect{"notify_created", func(fx context.Context) error {
			return s.notifier.AppointmentCreated(fx, detail)
		}},
		s.auditEffect("appointment.book", created.ID, actor, nil, created),
	)

	return detail, nil
}

// selectSlot resolves the slot obligation for a booking, if any. Runs inside
// the booking transaction; slot rows are locked before being consumed.
func (s *Service) selectSlot(ctx context.Context, tx Repository, req BookRequest) (*AvailabilitySlot, error) {
	if req.SlotID != nil {
		slot, err := tx.GetSlotForUpdate(ctx, *req.SlotID)
		if err != nil {
			if errors.Is(err, ErrSlotNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("load slot: %w", err)
		}
		if slot.Status != SlotAvailable {
			return nil, ErrSlotUnavailable
		}
		return slot, nil
	}

	n, err := tx.CountSlots(ctx, req.FacilityID, req.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("count slots: %w", err)
	}
	if n == 0 {
		// No slot inventory for this pair; only the overlap check applies.
		return nil, nil
	}

	slot, err := tx.FindAvailableSlotForUpdate(ctx, req.FacilityID, req.ProviderID, req.ScheduledStart, req.ScheduledEnd)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, ErrNoSlotAvailable
		}
		return nil, fmt.Errorf("find slot: %w", err)
	}
	return slot, nil
}

func (s *Service) resolvePatient(ctx context.Context, patientID *uuid.UUID, actor Actor) (*Patient, error) {
	if patientID != nil {
		p, err := s.repo.GetPatientByID(ctx, *patientID)
		if err != nil {
			if errors.Is(err, ErrPatientNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("load patient: %w", err)
		}
		return p, nil
	}

	if actor.Role == RolePatient {
		p, err := s.repo.GetActivePatientByUserID(ctx, actor.UserID)
		if err != nil {
			if errors.Is(err, ErrPatientNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("resolve patient for actor: %w", err)
		}
		return p, nil
	}

	return nil, fmt.Errorf("%w: patient_id is required", ErrValidation)
}

// Accept records the assigned provider's acceptance. Admins may accept on any
// provider's behalf.
func (s *Service) Accept(ctx context.Context, id uuid.UUID, actor Actor) (*Detail, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := providerGate(appt, actor); err != nil {
		return nil, err
	}
	if appt.Status.Terminal() {
		return nil, fmt.Errorf("%w: status is %s", ErrTerminalState, appt.Status)
	}

	if appt.Status == StatusConfirmed {
		// Already accepted or confirmed; nothing to transition.
		return s.repo.GetDetail(ctx, id)
	}

	before := *appt
	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusScheduled, StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("accept appointment: %w", err)
	}

	detail, err := s.repo.GetDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	s.runEffects(ctx, id,
		effect{"notify_accepted", func(fx context.Context) error {
			return s.notifier.ProviderAccepted(fx, detail)
		}},
		s.auditEffect("appointment.accept", id, actor, &before, updated),
	)
	return detail, nil
}

// Decline cancels the appointment on the provider's behalf; the consumed slot
// (if any) is returned to the pool.
func (s *Service) Decline(ctx context.Context, id uuid.UUID, reason *string, actor Actor) (*Detail, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := providerGate(appt, actor); err != nil {
		return nil, err
	}
	if appt.Status.Terminal() {
		return nil, fmt.Errorf("%w: status is %s", ErrTerminalState, appt.Status)
	}

	declineReason := "declined by provider"
	if reason != nil && *reason != "" {
		declineReason = *reason
	}

	before := *appt
	var updated *Appointment
	err = s.repo.WithTx(ctx, func(tx Repository) error {
		updated, err = tx.CancelAppointment(ctx, id, &declineReason, actor.UserID, time.Now())
		if err != nil {
			return fmt.Errorf("decline appointment: %w", err)
		}
		if updated.SlotID != nil {
			if err := tx.ReleaseSlot(ctx, *updated.SlotID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	detail, err := s.repo.GetDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	s.runEffects(ctx, id,
		effect{"notify_declined", func(fx context.Context) error {
			return s.notifier.ProviderDeclined(fx, detail, declineReason)
		}},
		s.auditEffect("appointment.decline", id, actor, &before, updated),
	)
	return detail, nil
}

// Confirm records the patient's confirmation of their own appointment.
// Idempotent from confirmed; any terminal status is rejected.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actor Actor) (*Detail, error) {
	if actor.Role != RolePatient {
		return nil, fmt.Errorf("%w: only patients can confirm", ErrForbidden)
	}

	patient, err := s.repo.GetActivePatientByUserID(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.PatientID != patient.ID {
		// Do not reveal other patients' appointments.
		return nil, ErrAppointmentNotFound
	}

	switch appt.Status {
	case StatusConfirmed:
		return s.repo.GetDetail(ctx, id)
	case StatusScheduled:
		// fallthrough to the transition below
	default:
		return nil, fmt.Errorf("%w: current status is %s", ErrInvalidStateForConfirm, appt.Status)
	}

	before := *appt
	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusScheduled, StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	detail, err := s.repo.GetDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	s.runEffects(ctx, id,
		effect{"notify_confirmed", func(fx context.Context) error {
			return s.notifier.PatientConfirmed(fx, detail)
		}},
		s.auditEffect("appointment.confirm", id, actor, &before, updated),
	)
	return detail, nil
}

type UpdateRequest struct {
	ProviderID      *uuid.UUID
	FacilityID      *uuid.UUID
	Type            *Type
	ScheduledStart  *time.Time
	ScheduledEnd    *time.Time
	DurationMinutes *int
	Status          *Status
	Reason          *string
	Notes           *string
}

// Update applies a partial update. When the schedule window or provider
// changes, the conflict check runs again with the appointment itself
// excluded, so a reschedule cannot create a double-booking.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest, actor Actor) (*Detail, error) {
	if req.Type != nil && !req.Type.Valid() {
		return nil, fmt.Errorf("%w: invalid appointment_type %q", ErrValidation, *req.Type)
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, *req.Status)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *appt

	next := *appt
	providerChanged := false
	if req.ProviderID != nil {
		providerChanged = next.ProviderID == nil || *next.ProviderID != *req.ProviderID
		next.ProviderID = req.ProviderID
	}
	if req.FacilityID != nil {
		next.FacilityID = *req.FacilityID
	}
	if req.Type != nil {
		next.Type = *req.Type
	}
	timeChanged := false
	if req.ScheduledStart != nil {
		timeChanged = timeChanged || !req.ScheduledStart.Equal(next.ScheduledStart)
		next.ScheduledStart = *req.ScheduledStart
	}
	if req.ScheduledEnd != nil {
		timeChanged = timeChanged || !req.ScheduledEnd.Equal(next.ScheduledEnd)
		next.ScheduledEnd = *req.ScheduledEnd
	}
	if req.DurationMinutes != nil {
		next.DurationMinutes = *req.DurationMinutes
	}
	if req.Status != nil {
		next.Status = *req.Status
	}
	if req.Reason != nil {
		next.Reason = req.Reason
	}
	if req.Notes != nil {
		next.Notes = req.Notes
	}

	if !next.ScheduledStart.Before(next.ScheduledEnd) {
		return nil, fmt.Errorf("%w: scheduled_start must be before scheduled_end", ErrValidation)
	}

	if providerChanged || timeChanged || next.FacilityID != before.FacilityID {
		conflicts, err := s.repo.FindConflicts(ctx, next.FacilityID, next.ProviderID, next.ScheduledStart, next.ScheduledEnd, &id)
		if err != nil {
			return nil, fmt.Errorf("check conflicts: %w", err)
		}
		if len(conflicts) > 0 {
			return nil, fmt.Errorf("%w: %d overlapping appointment(s)", ErrSlotConflict, len(conflicts))
		}
	}

	updated, err := s.repo.UpdateAppointment(ctx, &next)
	if err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	detail, err := s.repo.GetDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	effects := []effect{
		s.auditEffect("appointment.update", id, actor, &before, updated),
	}
	if providerChanged || timeChanged {
		ch := Change{
			ProviderChanged:    providerChanged,
			TimeChanged:        timeChanged,
			PreviousProviderID: before.ProviderID,
			PreviousStart:      before.ScheduledStart,
		}
		effects = append([]effect{{"notify_changed", func(fx context.Context) error {
			return s.notifier.AppointmentChanged(fx, detail, ch)
		}}}, effects...)
	}
	s.runEffects(ctx, id, effects...)

	return detail, nil
}

// Cancel is the soft delete: rows are never removed, the appointment lands on
// the cancelled terminal state. Cancelling an already cancelled appointment
// is a no-op; completed and no_show cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason *string, actor Actor) error {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return err
	}
	if appt.Status == StatusCancelled {
		return nil
	}
	if appt.Status.Terminal() {
		return fmt.Errorf("%w: status is %s", ErrTerminalState, appt.Status)
	}

	before := *appt
	var updated *Appointment
	err = s.repo.WithTx(ctx, func(tx Repository) error {
		updated, err = tx.CancelAppointment(ctx, id, reason, actor.UserID, time.Now())
		if err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}
		if updated.SlotID != nil {
			if err := tx.ReleaseSlot(ctx, *updated.SlotID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.runEffects(ctx, id,
		s.auditEffect("appointment.cancel", id, actor, &before, updated),
	)
	return nil
}

// Reads

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Detail, error) {
	return s.repo.GetDetail(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Detail, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, f)
}

func (s *Service) ListByDate(ctx context.Context, date time.Time) ([]Detail, error) {
	return s.repo.ListByDate(ctx, date)
}

func (s *Service) CheckAvailability(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, start, end time.Time) (*Availability, error) {
	return s.resolver.CheckAvailability(ctx, facilityID, providerID, start, end)
}

func (s *Service) ListOpenSlots(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, date time.Time) ([]AvailabilitySlot, error) {
	return s.resolver.ListOpenSlots(ctx, facilityID, providerID, date)
}

// providerGate enforces who may accept or decline: the assigned physician, or
// any admin.
func providerGate(appt *Appointment, actor Actor) error {
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RolePhysician:
		if appt.ProviderID == nil || *appt.ProviderID != actor.UserID {
			return fmt.Errorf("%w: appointment is assigned to another provider", ErrForbidden)
		}
		return nil
	default:
		return fmt.Errorf("%w: role %s cannot accept or decline", ErrForbidden, actor.Role)
	}
}

// Post-commit side effects. Each runs in its own error boundary; failures are
// logged and never surface to the caller. The context is detached from the
// request so a disconnecting client does not abort committed work's effects.

type effect struct {
	name string
	fn   func(ctx context.Context) error
}

func (s *Service) runEffects(ctx context.Context, appointmentID uuid.UUID, effects ...effect) {
	fx := context.WithoutCancel(ctx)
	for _, e := range effects {
		if err := e.fn(fx); err != nil {
			log.Warn().
				Err(err).
				Str("effect", e.name).
				Stringer("appointment_id", appointmentID).
				Msg("post-commit effect failed")
		}
	}
}

func (s *Service) auditEffect(action string, id uuid.UUID, actor Actor, before, after *Appointment) effect {
	return effect{"audit:" + action, func(fx context.Context) error {
		return s.audit.Record(fx, audit.Entry{
			Action:    action,
			Entity:    "appointment",
			EntityID:  id,
			ActorID:   actor.UserID,
			ActorRole: string(actor.Role),
			Before:    before,
			After:     after,
			IP:        actor.IP,
		})
	}}
}
