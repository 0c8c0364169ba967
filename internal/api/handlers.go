package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/myhubcares/clinic-scheduling/internal/appointment"
)

// AppointmentService is the slice of the lifecycle manager the handlers use.
type AppointmentService interface {
	Book(ctx context.Context, req appointment.BookRequest, actor appointment.Actor) (*appointment.Detail, error)
	Accept(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Detail, error)
	Decline(ctx context.Context, id uuid.UUID, reason *string, actor appointment.Actor) (*appointment.Detail, error)
	Confirm(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Detail, error)
	Update(ctx context.Context, id uuid.UUID, req appointment.UpdateRequest, actor appointment.Actor) (*appointment.Detail, error)
	Cancel(ctx context.Context, id uuid.UUID, reason *string, actor appointment.Actor) error
	Get(ctx context.Context, id uuid.UUID) (*appointment.Detail, error)
	List(ctx context.Context, f appointment.ListFilter) ([]appointment.Detail, error)
	ListByDate(ctx context.Context, date time.Time) ([]appointment.Detail, error)
	CheckAvailability(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, start, end time.Time) (*appointment.Availability, error)
	ListOpenSlots(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, date time.Time) ([]appointment.AvailabilitySlot, error)
}

func listAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := filterFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid filter", err.Error())
			return
		}

		details, err := svc.List(r.Context(), f)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, toAppointmentResponses(details))
	}
}

func listAppointmentsByDateHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, err := time.Parse("2006-01-02", chi.URLParam(r, "date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date", "date must be YYYY-MM-DD")
			return
		}

		details, err := svc.ListByDate(r.Context(), date)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, toAppointmentResponses(details))
	}
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid appointment id", "id must be a valid UUID")
			return
		}

		detail, err := svc.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, toAppointmentResponse(detail))
	}
}

func checkAvailabilityHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		facilityID, err := uuid.Parse(q.Get("facility_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "facility_id is required", "facility_id must be a valid UUID")
			return
		}
		providerID, err := optionalUUID(q.Get("provider_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid provider_id", err.Error())
			return
		}
		start, err := time.Parse(time.RFC3339, q.Get("scheduled_start"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "scheduled_start is required", "scheduled_start must be RFC3339")
			return
		}
		end, err := time.Parse(time.RFC3339, q.Get("scheduled_end"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "scheduled_end is required", "scheduled_end must be RFC3339")
			return
		}

		avail, err := svc.CheckAvailability(r.Context(), facilityID, providerID, start, end)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := availabilityResponse{
			Available: avail.Available,
			SlotsMode: avail.SlotsMode,
			SlotID:    avail.SlotID,
			Conflicts: make([]appointmentConflict, 0, len(avail.Conflicts)),
		}
		for _, c := range avail.Conflicts {
			resp.Conflicts = append(resp.Conflicts, appointmentConflict{
				ID:             c.ID,
				ScheduledStart: c.ScheduledStart,
				ScheduledEnd:   c.ScheduledEnd,
				Status:         string(c.Status),
			})
		}
		if avail.SlotsMode {
			slots, err := svc.ListOpenSlots(r.Context(), facilityID, providerID, start)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			resp.AvailableSlots = toSlotResponses(slots)
		} else {
			resp.AvailableSlots = []slotResponse{}
		}

		writeData(w, http.StatusOK, resp)
	}
}

func listOpenSlotsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		facilityID, err := uuid.Parse(q.Get("facility_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "facility_id is required", "facility_id must be a valid UUID")
			return
		}
		providerID, err := optionalUUID(q.Get("provider_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid provider_id", err.Error())
			return
		}
		date, err := time.Parse("2006-01-02", q.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "date is required", "date must be YYYY-MM-DD")
			return
		}

		slots, err := svc.ListOpenSlots(r.Context(), facilityID, providerID, date)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, toSlotResponses(slots))
	}
}

func bookAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "could not parse JSON")
			return
		}

		facilityID, err := uuid.Parse(req.FacilityID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "facility_id is required", "facility_id must be a valid UUID")
			return
		}
		patientID, err := optionalUUIDPtr(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid patient_id", err.Error())
			return
		}
		providerID, err := optionalUUIDPtr(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid provider_id", err.Error())
			return
		}
		slotID, err := optionalUUIDPtr(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid slot_id", err.Error())
			return
		}

		actor, _ := ActorFromContext(r.Context())

		detail, err := svc.Book(r.Context(), appointment.BookRequest{
			PatientID:       patientID,
			ProviderID:      providerID,
			FacilityID:      facilityID,
			Type:            appointment.Type(req.AppointmentType),
			ScheduledStart:  req.ScheduledStart,
			ScheduledEnd:    req.ScheduledEnd,
			DurationMinutes: req.DurationMinutes,
			Reason:          req.Reason,
			Notes:           req.Notes,
			SlotID:          slotID,
		}, actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusCreated, toAppointmentResponse(detail))
	}
}

func updateAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid appointment id", "id must be a valid UUID")
			return
		}

		var req updateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "could not parse JSON")
			return
		}

		providerID, err := optionalUUIDPtr(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid provider_id", err.Error())
			return
		}
		facilityID, err := optionalUUIDPtr(req.FacilityID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid facility_id", err.Error())
			return
		}

		update := appointment.UpdateRequest{
			ProviderID:      providerID,
			FacilityID:      facilityID,
			ScheduledStart:  req.ScheduledStart,
			ScheduledEnd:    req.ScheduledEnd,
			DurationMinutes: req.DurationMinutes,
			Reason:          req.Reason,
			Notes:           req.Notes,
		}
		if req.AppointmentType != nil {
			t := appointment.Type(*req.AppointmentType)
			update.Type = &t
		}
		if req.Status != nil {
			s := appointment.Status(*req.Status)
			update.Status = &s
		}

		actor, _ := ActorFromContext(r.Context())

		detail, err := svc.Update(r.Context(), id, update, actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, toAppointmentResponse(detail))
	}
}

func cancelAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid appointment id", "id must be a valid UUID")
			return
		}

		var req cancelRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body", "could not parse JSON")
				return
			}
		}

		actor, _ := ActorFromContext(r.Context())

		if err := svc.Cancel(r.Context(), id, req.CancellationReason, actor); err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]string{"status": string(appointment.StatusCancelled)})
	}
}

func acceptAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid appointment id", "id must be a valid UUID")
			return
		}

		actor, _ := ActorFromContext(r.Context())

		detail, err := svc.Accept(r.Context(), id, actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, toAppointmentResponse(detail))
	}
}

func declineAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid appointment id", "id must be a valid UUID")
			return
		}

		var req declineRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body", "could not parse JSON")
				return
			}
		}

		actor, _ := ActorFromContext(r.Context())

		detail, err := svc.Decline(r.Context(), id, req.Reason, actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, toAppointmentResponse(detail))
	}
}

func confirmAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid appointment id", "id must be a valid UUID")
			return
		}

		actor, _ := ActorFromContext(r.Context())

		detail, err := svc.Confirm(r.Context(), id, actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, toAppointmentResponse(detail))
	}
}

// writeServiceError maps domain errors onto the HTTP surface.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrValidation),
		errors.Is(err, appointment.ErrSlotConflict),
		errors.Is(err, appointment.ErrSlotUnavailable),
		errors.Is(err, appointment.ErrNoSlotAvailable),
		errors.Is(err, appointment.ErrInvalidStateForConfirm),
		errors.Is(err, appointment.ErrTerminalState):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error(), "")
	case errors.Is(err, appointment.ErrPatientNotFound),
		errors.Is(err, appointment.ErrProviderNotFound),
		errors.Is(err, appointment.ErrFacilityNotFound),
		errors.Is(err, appointment.ErrSlotNotFound),
		errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, appointment.ErrBookingContended):
		writeError(w, http.StatusConflict, err.Error(), "please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func filterFromQuery(r *http.Request) (appointment.ListFilter, error) {
	q := r.URL.Query()
	var f appointment.ListFilter

	var err error
	if f.PatientID, err = optionalUUID(q.Get("patient_id")); err != nil {
		return f, err
	}
	if f.ProviderID, err = optionalUUID(q.Get("provider_id")); err != nil {
		return f, err
	}
	if f.FacilityID, err = optionalUUID(q.Get("facility_id")); err != nil {
		return f, err
	}
	if v := q.Get("status"); v != "" {
		s := appointment.Status(v)
		f.Status = &s
	}
	if v := q.Get("appointment_type"); v != "" {
		t := appointment.Type(v)
		f.Type = &t
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("from must be RFC3339")
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("to must be RFC3339")
		}
		f.To = &t
	}
	f.Limit = intQuery(q.Get("limit"))
	f.Offset = intQuery(q.Get("offset"))

	return f, nil
}

func optionalUUID(v string) (*uuid.UUID, error) {
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, errors.New("must be a valid UUID")
	}
	return &id, nil
}

func optionalUUIDPtr(v *string) (*uuid.UUID, error) {
	if v == nil || *v == "" {
		return nil, nil
	}
	return optionalUUID(*v)
}

func intQuery(v string) int {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
