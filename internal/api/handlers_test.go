package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myhubcares/clinic-scheduling/internal/appointment"
	"github.com/myhubcares/clinic-scheduling/internal/notification"
)

// stubService lets each test pin just the methods it exercises; anything else
// failing loudly is a test bug.
type stubService struct {
	bookFn              func(ctx context.Context, req appointment.BookRequest, actor appointment.Actor) (*appointment.Detail, error)
	acceptFn            func(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Detail, error)
	declineFn           func(ctx context.Context, id uuid.UUID, reason *string, actor appointment.Actor) (*appointment.Detail, error)
	confirmFn           func(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Detail, error)
	updateFn            func(ctx context.Context, id uuid.UUID, req appointment.UpdateRequest, actor appointment.Actor) (*appointment.Detail, error)
	cancelFn            func(ctx context.Context, id uuid.UUID, reason *string, actor appointment.Actor) error
	getFn               func(ctx context.Context, id uuid.UUID) (*appointment.Detail, error)
	listFn              func(ctx context.Context, f appointment.ListFilter) ([]appointment.Detail, error)
	listByDateFn        func(ctx context.Context, date time.Time) ([]appointment.Detail, error)
	checkAvailabilityFn func(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, start, end time.Time) (*appointment.Availability, error)
	listOpenSlotsFn     func(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, date time.Time) ([]appointment.AvailabilitySlot, error)
}

var errStubUnset = errors.New("stub method not set")

func (s *stubService) Book(ctx context.Context, req appointment.BookRequest, actor appointment.Actor) (*appointment.Detail, error) {
	if s.bookFn == nil {
		return nil, errStubUnset
	}
	return s.bookFn(ctx, req, actor)
}

func (s *stubService) Accept(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Detail, error) {
	if s.acceptFn == nil {
		return nil, errStubUnset
	}
	return s.acceptFn(ctx, id, actor)
}

func (s *stubService) Decline(ctx context.Context, id uuid.UUID, reason *string, actor appointment.Actor) (*appointment.Detail, error) {
	if s.declineFn == nil {
		return nil, errStubUnset
	}
	return s.declineFn(ctx, id, reason, actor)
}

func (s *stubService) Confirm(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Detail, error) {
	if s.confirmFn == nil {
		return nil, errStubUnset
	}
	return s.confirmFn(ctx, id, actor)
}

func (s *stubService) Update(ctx context.Context, id uuid.UUID, req appointment.UpdateRequest, actor appointment.Actor) (*appointment.Detail, error) {
	if s.updateFn == nil {
		return nil, errStubUnset
	}
	return s.updateFn(ctx, id, req, actor)
}

func (s *stubService) Cancel(ctx context.Context, id uuid.UUID, reason *string, actor appointment.Actor) error {
	if s.cancelFn == nil {
		return errStubUnset
	}
	return s.cancelFn(ctx, id, reason, actor)
}

func (s *stubService) Get(ctx context.Context, id uuid.UUID) (*appointment.Detail, error) {
	if s.getFn == nil {
		return nil, errStubUnset
	}
	return s.getFn(ctx, id)
}

func (s *stubService) List(ctx context.Context, f appointment.ListFilter) ([]appointment.Detail, error) {
	if s.listFn == nil {
		return nil, errStubUnset
	}
	return s.listFn(ctx, f)
}

func (s *stubService) ListByDate(ctx context.Context, date time.Time) ([]appointment.Detail, error) {
	if s.listByDateFn == nil {
		return nil, errStubUnset
	}
	return s.listByDateFn(ctx, date)
}

func (s *stubService) CheckAvailability(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, start, end time.Time) (*appointment.Availability, error) {
	if s.checkAvailabilityFn == nil {
		return nil, errStubUnset
	}
	return s.checkAvailabilityFn(ctx, facilityID, providerID, start, end)
}

func (s *stubService) ListOpenSlots(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, date time.Time) ([]appointment.AvailabilitySlot, error) {
	if s.listOpenSlotsFn == nil {
		return nil, errStubUnset
	}
	return s.listOpenSlotsFn(ctx, facilityID, providerID, date)
}

type fakeNotifStore struct {
	messages []notification.Message
	read     []uuid.UUID
}

func (s *fakeNotifStore) Insert(_ context.Context, m *notification.Message) error {
	s.messages = append(s.messages, *m)
	return nil
}

func (s *fakeNotifStore) ListByUser(_ context.Context, userID uuid.UUID, unreadOnly bool, _, _ int) ([]notification.Message, error) {
	var out []notification.Message
	for _, m := range s.messages {
		if m.UserID == userID && (!unreadOnly || !m.Read) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeNotifStore) MarkRead(_ context.Context, id, userID uuid.UUID) error {
	for i, m := range s.messages {
		if m.ID == id && m.UserID == userID {
			s.messages[i].Read = true
			s.read = append(s.read, id)
		}
	}
	return nil
}

func newTestRouter(svc AppointmentService) http.Handler {
	return NewRouter(RouterConfig{Service: svc, Notifications: &fakeNotifStore{}, Env: "test", Version: "test"})
}

func sampleDetail() *appointment.Detail {
	providerName := "Paula Physician"
	providerID := uuid.New()
	return &appointment.Detail{
		Appointment: appointment.Appointment{
			ID:              uuid.New(),
			PatientID:       uuid.New(),
			ProviderID:      &providerID,
			FacilityID:      uuid.New(),
			Type:            appointment.TypeFollowUp,
			ScheduledStart:  time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC),
			ScheduledEnd:    time.Date(2026, 9, 14, 10, 30, 0, 0, time.UTC),
			DurationMinutes: 30,
			Status:          appointment.StatusScheduled,
			BookedBy:        uuid.New(),
			BookedAt:        time.Now(),
		},
		PatientName:  "Pat Patient",
		ProviderName: &providerName,
		FacilityName: "Central Clinic",
	}
}

func asStaff(req *http.Request, userID uuid.UUID, role appointment.Role) *http.Request {
	req.Header.Set("X-User-ID", userID.String())
	req.Header.Set("X-User-Role", string(role))
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestBookHandler_RequiresActor(t *testing.T) {
	router := newTestRouter(&stubService{})

	req := httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, false, body["success"])
}

func TestBookHandler_Success(t *testing.T) {
	detail := sampleDetail()
	var gotReq appointment.BookRequest
	var gotActor appointment.Actor

	svc := &stubService{
		bookFn: func(_ context.Context, req appointment.BookRequest, actor appointment.Actor) (*appointment.Detail, error) {
			gotReq = req
			gotActor = actor
			return detail, nil
		},
	}
	router := newTestRouter(svc)

	adminID := uuid.New()
	payload := fmt.Sprintf(`{
		"patient_id": %q,
		"facility_id": %q,
		"appointment_type": "follow_up",
		"scheduled_start": "2026-09-14T10:00:00Z",
		"scheduled_end": "2026-09-14T10:30:00Z"
	}`, detail.PatientID, detail.FacilityID)

	req := asStaff(httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString(payload)), adminID, appointment.RoleAdmin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeEnvelope(t, rec)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, detail.ID.String(), data["id"])
	assert.Equal(t, "Pat Patient", data["patient_name"])

	require.NotNil(t, gotReq.PatientID)
	assert.Equal(t, detail.PatientID, *gotReq.PatientID)
	assert.Equal(t, detail.FacilityID, gotReq.FacilityID)
	assert.Equal(t, appointment.TypeFollowUp, gotReq.Type)
	assert.Equal(t, adminID, gotActor.UserID)
	assert.Equal(t, appointment.RoleAdmin, gotActor.Role)
}

func TestBookHandler_BadPayload(t *testing.T) {
	router := newTestRouter(&stubService{})
	actorID := uuid.New()

	for name, payload := range map[string]string{
		"not json":       `{{`,
		"no facility":    `{}`,
		"bad patient id": `{"facility_id": "` + uuid.NewString() + `", "patient_id": "nope"}`,
	} {
		req := asStaff(httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString(payload)), actorID, appointment.RoleAdmin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{appointment.ErrValidation, http.StatusBadRequest},
		{appointment.ErrSlotConflict, http.StatusBadRequest},
		{appointment.ErrNoSlotAvailable, http.StatusBadRequest},
		{appointment.ErrTerminalState, http.StatusBadRequest},
		{appointment.ErrForbidden, http.StatusForbidden},
		{appointment.ErrPatientNotFound, http.StatusNotFound},
		{appointment.ErrAppointmentNotFound, http.StatusNotFound},
		{appointment.ErrBookingContended, http.StatusConflict},
		{errors.New("pool exhausted"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		svc := &stubService{
			bookFn: func(context.Context, appointment.BookRequest, appointment.Actor) (*appointment.Detail, error) {
				return nil, fmt.Errorf("wrapped: %w", tc.err)
			},
		}
		router := newTestRouter(svc)

		payload := `{"facility_id": "` + uuid.NewString() + `"}`
		req := asStaff(httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString(payload)), uuid.New(), appointment.RoleAdmin)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}
}

func TestGetHandler(t *testing.T) {
	detail := sampleDetail()
	svc := &stubService{
		getFn: func(_ context.Context, id uuid.UUID) (*appointment.Detail, error) {
			if id != detail.ID {
				return nil, appointment.ErrAppointmentNotFound
			}
			return detail, nil
		},
	}
	router := newTestRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/"+detail.ID.String(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListHandler_FilterParsing(t *testing.T) {
	var got appointment.ListFilter
	svc := &stubService{
		listFn: func(_ context.Context, f appointment.ListFilter) ([]appointment.Detail, error) {
			got = f
			return nil, nil
		},
	}
	router := newTestRouter(svc)

	facilityID := uuid.New()
	url := "/appointments?facility_id=" + facilityID.String() +
		"&status=scheduled&appointment_type=lab_test&from=2026-09-01T00:00:00Z&limit=10&offset=20"

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, got.FacilityID)
	assert.Equal(t, facilityID, *got.FacilityID)
	require.NotNil(t, got.Status)
	assert.Equal(t, appointment.StatusScheduled, *got.Status)
	require.NotNil(t, got.Type)
	assert.Equal(t, appointment.TypeLabTest, *got.Type)
	require.NotNil(t, got.From)
	assert.Equal(t, 10, got.Limit)
	assert.Equal(t, 20, got.Offset)

	// Garbage UUID in the filter is rejected before the service runs.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments?patient_id=zzz", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListByDateHandler(t *testing.T) {
	var got time.Time
	svc := &stubService{
		listByDateFn: func(_ context.Context, date time.Time) ([]appointment.Detail, error) {
			got = date
			return []appointment.Detail{*sampleDetail()}, nil
		},
	}
	router := newTestRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/date/2026-09-14", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC), got)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/date/14-09-2026", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckAvailabilityHandler(t *testing.T) {
	facilityID := uuid.New()
	slotID := uuid.New()

	svc := &stubService{
		checkAvailabilityFn: func(_ context.Context, gotFacility uuid.UUID, _ *uuid.UUID, _, _ time.Time) (*appointment.Availability, error) {
			assert.Equal(t, facilityID, gotFacility)
			return &appointment.Availability{Available: true, SlotsMode: true, SlotID: &slotID}, nil
		},
		listOpenSlotsFn: func(context.Context, uuid.UUID, *uuid.UUID, time.Time) ([]appointment.AvailabilitySlot, error) {
			return []appointment.AvailabilitySlot{{ID: slotID, FacilityID: facilityID, Status: appointment.SlotAvailable}}, nil
		},
	}
	router := newTestRouter(svc)

	url := "/appointments/availability/check?facility_id=" + facilityID.String() +
		"&scheduled_start=2026-09-14T10:00:00Z&scheduled_end=2026-09-14T10:30:00Z"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeEnvelope(t, rec)
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["available"])
	assert.Equal(t, true, data["slots_mode"])
	assert.Equal(t, slotID.String(), data["slot_id"])
	assert.Len(t, data["available_slots"], 1)

	// Missing window parameters are a client error.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/availability/check?facility_id="+facilityID.String(), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelHandler_NoBody(t *testing.T) {
	id := uuid.New()
	var gotReason *string
	svc := &stubService{
		cancelFn: func(_ context.Context, gotID uuid.UUID, reason *string, _ appointment.Actor) error {
			assert.Equal(t, id, gotID)
			gotReason = reason
			return nil
		},
	}
	router := newTestRouter(svc)

	req := asStaff(httptest.NewRequest(http.MethodDelete, "/appointments/"+id.String(), nil), uuid.New(), appointment.RoleAdmin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, gotReason)
}

func TestDeclineHandler_PassesReason(t *testing.T) {
	id := uuid.New()
	var gotReason *string
	svc := &stubService{
		declineFn: func(_ context.Context, _ uuid.UUID, reason *string, _ appointment.Actor) (*appointment.Detail, error) {
			gotReason = reason
			return sampleDetail(), nil
		},
	}
	router := newTestRouter(svc)

	req := asStaff(httptest.NewRequest(http.MethodPost, "/appointments/"+id.String()+"/decline",
		bytes.NewBufferString(`{"reason": "provider on leave"}`)), uuid.New(), appointment.RolePhysician)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotReason)
	assert.Equal(t, "provider on leave", *gotReason)
}

func TestConfirmHandler_ActorForwarded(t *testing.T) {
	id := uuid.New()
	patientUser := uuid.New()
	svc := &stubService{
		confirmFn: func(_ context.Context, gotID uuid.UUID, actor appointment.Actor) (*appointment.Detail, error) {
			assert.Equal(t, id, gotID)
			assert.Equal(t, patientUser, actor.UserID)
			assert.Equal(t, appointment.RolePatient, actor.Role)
			return sampleDetail(), nil
		},
	}
	router := newTestRouter(svc)

	req := asStaff(httptest.NewRequest(http.MethodPost, "/appointments/"+id.String()+"/confirm", nil), patientUser, appointment.RolePatient)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotificationEndpoints(t *testing.T) {
	me := uuid.New()
	someoneElse := uuid.New()

	store := &fakeNotifStore{messages: []notification.Message{
		{ID: uuid.New(), UserID: me, Title: "Appointment booked", Priority: notification.PriorityNormal},
		{ID: uuid.New(), UserID: me, Title: "Appointment reminder", Priority: notification.PriorityHigh, Read: true},
		{ID: uuid.New(), UserID: someoneElse, Title: "Not yours"},
	}}
	router := NewRouter(RouterConfig{Service: &stubService{}, Notifications: store, Env: "test", Version: "test"})

	// Unauthenticated reads are rejected.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notifications", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Only the actor's messages come back.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asStaff(httptest.NewRequest(http.MethodGet, "/notifications", nil), me, appointment.RoleNurse))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].([]any)
	assert.Len(t, data, 2)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asStaff(httptest.NewRequest(http.MethodGet, "/notifications?unread=true", nil), me, appointment.RoleNurse))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeEnvelope(t, rec)["data"].([]any), 1)

	// Marking another user's message read is scoped away.
	target := store.messages[0].ID
	other := store.messages[2].ID
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asStaff(httptest.NewRequest(http.MethodPost, "/notifications/"+other.String()+"/read", nil), me, appointment.RoleNurse))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, store.messages[2].Read)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asStaff(httptest.NewRequest(http.MethodPost, "/notifications/"+target.String()+"/read", nil), me, appointment.RoleNurse))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.messages[0].Read)
}

func TestRequestIDEchoed(t *testing.T) {
	svc := &stubService{
		listFn: func(context.Context, appointment.ListFilter) ([]appointment.Detail, error) { return nil, nil },
	}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	// Absent, one is minted.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
