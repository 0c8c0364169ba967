package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/myhubcares/clinic-scheduling/internal/appointment"
)

type bookAppointmentRequest struct {
	PatientID       *string   `json:"patient_id"`
	ProviderID      *string   `json:"provider_id"`
	FacilityID      string    `json:"facility_id"`
	AppointmentType string    `json:"appointment_type"`
	ScheduledStart  time.Time `json:"scheduled_start"`
	ScheduledEnd    time.Time `json:"scheduled_end"`
	DurationMinutes int       `json:"duration_minutes"`
	Reason          *string   `json:"reason"`
	Notes           *string   `json:"notes"`
	SlotID          *string   `json:"slot_id"`
}

type updateAppointmentRequest struct {
	ProviderID      *string    `json:"provider_id"`
	FacilityID      *string    `json:"facility_id"`
	AppointmentType *string    `json:"appointment_type"`
	ScheduledStart  *time.Time `json:"scheduled_start"`
	ScheduledEnd    *time.Time `json:"scheduled_end"`
	DurationMinutes *int       `json:"duration_minutes"`
	Status          *string    `json:"status"`
	Reason          *string    `json:"reason"`
	Notes           *string    `json:"notes"`
}

type declineRequest struct {
	Reason *string `json:"reason"`
}

type cancelRequest struct {
	CancellationReason *string `json:"cancellation_reason"`
}

type appointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	PatientName        string     `json:"patient_name"`
	ProviderID         *uuid.UUID `json:"provider_id,omitempty"`
	ProviderName       *string    `json:"provider_name,omitempty"`
	FacilityID         uuid.UUID  `json:"facility_id"`
	FacilityName       string     `json:"facility_name"`
	AppointmentType    string     `json:"appointment_type"`
	ScheduledStart     time.Time  `json:"scheduled_start"`
	ScheduledEnd       time.Time  `json:"scheduled_end"`
	DurationMinutes    int        `json:"duration_minutes"`
	Status             string     `json:"status"`
	Reason             *string    `json:"reason,omitempty"`
	Notes              *string    `json:"notes,omitempty"`
	SlotID             *uuid.UUID `json:"slot_id,omitempty"`
	BookedBy           uuid.UUID  `json:"booked_by"`
	BookedAt           time.Time  `json:"booked_at"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
}

func toAppointmentResponse(d *appointment.Detail) appointmentResponse {
	return appointmentResponse{
		ID:                 d.ID,
		PatientID:          d.PatientID,
		PatientName:        d.PatientName,
		ProviderID:         d.ProviderID,
		ProviderName:       d.ProviderName,
		FacilityID:         d.FacilityID,
		FacilityName:       d.FacilityName,
		AppointmentType:    string(d.Type),
		ScheduledStart:     d.ScheduledStart,
		ScheduledEnd:       d.ScheduledEnd,
		DurationMinutes:    d.DurationMinutes,
		Status:             string(d.Status),
		Reason:             d.Reason,
		Notes:              d.Notes,
		SlotID:             d.SlotID,
		BookedBy:           d.BookedBy,
		BookedAt:           d.BookedAt,
		CancelledAt:        d.CancelledAt,
		CancelledBy:        d.CancelledBy,
		CancellationReason: d.CancellationReason,
	}
}

func toAppointmentResponses(ds []appointment.Detail) []appointmentResponse {
	out := make([]appointmentResponse, 0, len(ds))
	for i := range ds {
		out = append(out, toAppointmentResponse(&ds[i]))
	}
	return out
}

type slotResponse struct {
	ID            uuid.UUID  `json:"id"`
	FacilityID    uuid.UUID  `json:"facility_id"`
	ProviderID    *uuid.UUID `json:"provider_id,omitempty"`
	SlotDate      string     `json:"slot_date"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	Status        string     `json:"slot_status"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

func toSlotResponses(slots []appointment.AvailabilitySlot) []slotResponse {
	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotResponse{
			ID:            s.ID,
			FacilityID:    s.FacilityID,
			ProviderID:    s.ProviderID,
			SlotDate:      s.SlotDate.Format("2006-01-02"),
			StartTime:     s.StartTime,
			EndTime:       s.EndTime,
			Status:        string(s.Status),
			AppointmentID: s.AppointmentID,
		})
	}
	return out
}

type availabilityResponse struct {
	Available      bool                  `json:"available"`
	SlotsMode      bool                  `json:"slots_mode"`
	SlotID         *uuid.UUID            `json:"slot_id,omitempty"`
	Conflicts      []appointmentConflict `json:"conflicts"`
	AvailableSlots []slotResponse        `json:"available_slots"`
}

type appointmentConflict struct {
	ID             uuid.UUID `json:"id"`
	ScheduledStart time.Time `json:"scheduled_start"`
	ScheduledEnd   time.Time `json:"scheduled_end"`
	Status         string    `json:"status"`
}

// Response envelope: every reply carries a success flag plus either data or a
// message (with optional error detail).

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	writeJSON(w, status, errorEnvelope{Success: false, Message: message, Error: detail})
}
