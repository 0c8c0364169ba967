package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type Type string

const (
	TypeFollowUp   Type = "follow_up"
	TypeARTPickup  Type = "art_pickup"
	TypeLabTest    Type = "lab_test"
	TypeCounseling Type = "counseling"
	TypeGeneral    Type = "general"
	TypeInitial    Type = "initial"
)

func (t Type) Valid() bool {
	switch t {
	case TypeFollowUp, TypeARTPickup, TypeLabTest, TypeCounseling, TypeGeneral, TypeInitial:
		return true
	}
	return false
}

type Role string

const (
	RoleAdmin        Role = "admin"
	RolePhysician    Role = "physician"
	RoleNurse        Role = "nurse"
	RoleCaseManager  Role = "case_manager"
	RoleLabPersonnel Role = "lab_personnel"
	RolePatient      Role = "patient"
)

// Actor is the authenticated identity acting on an appointment. Authentication
// itself is an upstream concern; the API layer injects this per request.
type Actor struct {
	UserID uuid.UUID
	Role   Role
	IP     string
}

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
)

type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	ProviderID         *uuid.UUID
	FacilityID         uuid.UUID
	Type               Type
	ScheduledStart     time.Time
	ScheduledEnd       time.Time
	DurationMinutes    int
	Status             Status
	Reason             *string
	Notes              *string
	SlotID             *uuid.UUID
	BookedBy           uuid.UUID
	BookedAt           time.Time
	CancelledAt        *time.Time
	CancelledBy        *uuid.UUID
	CancellationReason *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AvailabilitySlot is a pre-provisioned bookable window. If any slots exist
// for a (facility, provider) pair, booking for that pair must consume one.
type AvailabilitySlot struct {
	ID            uuid.UUID
	FacilityID    uuid.UUID
	ProviderID    *uuid.UUID
	SlotDate      time.Time
	StartTime     time.Time
	EndTime       time.Time
	Status        SlotStatus
	AppointmentID *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Patient struct {
	ID         uuid.UUID
	UserID     *uuid.UUID
	FirstName  string
	LastName   string
	FacilityID *uuid.UUID
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type User struct {
	ID         uuid.UUID
	Role       Role
	FacilityID *uuid.UUID // nil means facility-unscoped
	FirstName  string
	LastName   string
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (u User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

type Facility struct {
	ID        uuid.UUID
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Detail is the read model joined with display names.
type Detail struct {
	Appointment
	PatientName  string
	ProviderName *string
	FacilityName string
}

// Availability is the resolver's verdict for a requested window. It is
// advisory: booking re-checks inside its own transaction.
type Availability struct {
	Available bool
	SlotsMode bool
	SlotID    *uuid.UUID
	Conflicts []Appointment
}

// Change describes what a reschedule touched, for downstream messaging.
type Change struct {
	ProviderChanged    bool
	TimeChanged        bool
	PreviousProviderID *uuid.UUID
	PreviousStart      time.Time
}
