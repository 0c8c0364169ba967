package notification

import (
	"time"

	"github.com/google/uuid"

	"github.com/myhubcares/clinic-scheduling/internal/appointment"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Event names carried on the realtime channel and in the payload type field.
const (
	EventCreated   = "appointment_created"
	EventAccepted  = "appointment_accepted"
	EventDeclined  = "appointment_declined"
	EventConfirmed = "appointment_confirmed"
	EventChanged   = "appointment_updated"
	EventReminder  = "appointment_reminder"
)

// Payload is the structured body attached to every message so downstream
// consumers can render action buttons where requires_confirmation is set and
// the viewer matches the intended actor.
type Payload struct {
	Type                 string     `json:"type"`
	AppointmentID        uuid.UUID  `json:"appointment_id"`
	PatientID            uuid.UUID  `json:"patient_id"`
	ProviderID           *uuid.UUID `json:"provider_id,omitempty"`
	FacilityID           uuid.UUID  `json:"facility_id"`
	ScheduledStart       time.Time  `json:"scheduled_start"`
	AppointmentType      string     `json:"appointment_type"`
	RequiresConfirmation bool       `json:"requires_confirmation"`
}

type Message struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Title     string
	Body      string
	Priority  Priority
	Payload   Payload
	Read      bool
	CreatedAt time.Time
}

func payloadFor(event string, d *appointment.Detail, requiresConfirmation bool) Payload {
	return Payload{
		Type:                 event,
		AppointmentID:        d.ID,
		PatientID:            d.PatientID,
		ProviderID:           d.ProviderID,
		FacilityID:           d.FacilityID,
		ScheduledStart:       d.ScheduledStart,
		AppointmentType:      string(d.Type),
		RequiresConfirmation: requiresConfirmation,
	}
}
