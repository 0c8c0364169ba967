package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrFacilityNotFound    = errors.New("facility not found")
	ErrSlotNotFound        = errors.New("availability slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the resolver and the
// lifecycle manager. WithTx runs fn against a transaction-scoped Repository;
// the booking write path depends on it.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetActivePatientByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetFacilityByID(ctx context.Context, id uuid.UUID) (*Facility, error)

	// Slot inventory
	CountSlots(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID) (int, error)
	FindAvailableSlot(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, start, end time.Time) (*AvailabilitySlot, error)
	FindAvailableSlotForUpdate(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, start, end time.Time) (*AvailabilitySlot, error)
	GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error)
	ListSlotsByDate(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, date time.Time) ([]AvailabilitySlot, error)
	MarkSlotBooked(ctx context.Context, slotID, appointmentID uuid.UUID) error
	ReleaseSlot(ctx context.Context, slotID uuid.UUID) error

	// Conflict detection. excludeID skips one appointment (reschedule checks).
	FindConflicts(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]Appointment, error)

	// Appointment rows
	InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error)
	UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, reason *string, by uuid.UUID, at time.Time) (*Appointment, error)
	List(ctx context.Context, f ListFilter) ([]Detail, error)
	ListByDate(ctx context.Context, date time.Time) ([]Detail, error)

	WithTx(ctx context.Context, fn func(Repository) error) error
}
