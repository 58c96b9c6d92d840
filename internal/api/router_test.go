package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/memstore"
)

var fixedNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	store   *memstore.Store
	patient uuid.UUID
	doctor  uuid.UUID
	actor   uuid.UUID
}

func newTestServer(t *testing.T, mutate ...func(*RouterConfig)) *testServer {
	t.Helper()

	store := memstore.New()
	ts := &testServer{store: store, patient: uuid.New(), doctor: uuid.New(), actor: uuid.New()}
	store.PutPatient(appointment.Patient{ID: ts.patient, Name: "Ann Lee"})
	store.PutDoctor(appointment.Doctor{ID: ts.doctor, Name: "Dr. Osei"})

	mgr := appointment.NewManager(appointment.Deps{
		Tx:           store,
		Slots:        store,
		Appointments: store,
		Directory:    store,
		Audit:        store,
		Inbox:        store,
		Logger:       zerolog.Nop(),
		Now:          func() time.Time { return fixedNow },
	})

	cfg := RouterConfig{
		Appointments: mgr,
		Slots:        mgr.Slots(),
		Audit:        store,
		Inbox:        store,
		Health:       NewHealthHandler(nil, nil, "test", "v0"),
		Logger:       zerolog.Nop(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	ts.handler = NewRouter(cfg)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, actor *uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set(userIDHeader, actor.String())
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) createSlot(t *testing.T, start, end string) SlotResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/slots", CreateSlotRequest{
		DoctorID: ts.doctor, Date: "2025-06-02", StartTime: start, EndTime: end,
	}, &ts.actor)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[SlotResponse](t, rec)
}

func (ts *testServer) book(t *testing.T, slotID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: ts.patient, DoctorID: ts.doctor, TimeSlotID: slotID, ReasonForVisit: "checkup",
	}, &ts.actor)
}

func TestAppointmentLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	slot := ts.createSlot(t, "09:00", "09:30")
	assert.Equal(t, "available", slot.Status)

	rec := ts.book(t, slot.ID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "scheduled", appt.Status)
	assert.Equal(t, "09:00", appt.StartTime)
	require.NotNil(t, appt.Patient)
	assert.Equal(t, "Ann Lee", appt.Patient.Name)
	require.NotNil(t, appt.Slot)
	assert.Equal(t, "booked", appt.Slot.Status)

	rec = ts.book(t, slot.ID)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_already_booked", decode[ErrorResponse](t, rec).Error)

	path := "/appointments/" + appt.ID.String()
	rec = ts.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPatch, path, map[string]string{"status": "checked-in"}, &ts.actor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "checked-in", decode[AppointmentResponse](t, rec).Status)

	rec = ts.do(t, http.MethodPatch, path, map[string]string{"status": "scheduled"}, &ts.actor)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodPatch, path, `{"patient_id":"`+uuid.NewString()+`"}`, &ts.actor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "unknown field")

	rec = ts.do(t, http.MethodDelete, path, nil, &ts.actor)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodDelete, path, nil, &ts.actor)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/slots/"+slot.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "available", decode[SlotResponse](t, rec).Status)

	rec = ts.do(t, http.MethodGet, path+"/audit", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var actions []string
	for _, e := range decode[[]AuditLogResponse](t, rec) {
		actions = append(actions, e.Action)
		assert.Equal(t, ts.actor, e.UserID)
	}
	assert.Equal(t, []string{"create", "update", "delete"}, actions)

	rec = ts.do(t, http.MethodGet, "/appointments/"+uuid.NewString()+"/audit", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelAppointment(t *testing.T) {
	ts := newTestServer(t)
	slot := ts.createSlot(t, "10:00", "10:30")
	appt := decode[AppointmentResponse](t, ts.book(t, slot.ID))

	rec := ts.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", CancelAppointmentRequest{Reason: "feeling better"}, &ts.actor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "cancelled", got.Status)
	require.NotNil(t, got.CancellationReason)
	assert.Equal(t, "feeling better", *got.CancellationReason)
	assert.NotNil(t, got.CancelledAt)

	rec = ts.book(t, slot.ID)
	assert.Equal(t, http.StatusCreated, rec.Code, "cancelled slot is bookable again")

	rec = ts.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", nil, &ts.actor)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMutationsRequireActor(t *testing.T) {
	ts := newTestServer(t)
	bogus := uuid.Nil

	for _, tc := range []struct {
		method, path string
		actor        *uuid.UUID
	}{
		{http.MethodPost, "/appointments", nil},
		{http.MethodPost, "/appointments", &bogus},
		{http.MethodPatch, "/appointments/" + uuid.NewString(), nil},
		{http.MethodDelete, "/appointments/" + uuid.NewString(), nil},
		{http.MethodPost, "/slots", nil},
	} {
		rec := ts.do(t, tc.method, tc.path, "{}", tc.actor)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestCreateAppointment_BadRequests(t *testing.T) {
	ts := newTestServer(t)
	slot := ts.createSlot(t, "11:00", "11:30")

	tests := []struct {
		name string
		body any
		code int
		err  string
	}{
		{"malformed json", `{"patient_id":`, http.StatusBadRequest, "invalid_request_body"},
		{"trailing data", `{} {}`, http.StatusBadRequest, "invalid_request_body"},
		{"bad uuid", `{"patient_id":"nope"}`, http.StatusBadRequest, "invalid_request_body"},
		{"missing fields", `{}`, http.StatusBadRequest, "validation_failed"},
		{"unknown patient", CreateAppointmentRequest{PatientID: uuid.New(), DoctorID: ts.doctor, TimeSlotID: slot.ID}, http.StatusNotFound, "patient_not_found"},
		{"unknown slot", CreateAppointmentRequest{PatientID: ts.patient, DoctorID: ts.doctor, TimeSlotID: uuid.New()}, http.StatusNotFound, "slot_not_found"},
		{"bad type", CreateAppointmentRequest{PatientID: ts.patient, DoctorID: ts.doctor, TimeSlotID: slot.ID, Type: "house-call"}, http.StatusBadRequest, "validation_failed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/appointments", tc.body, &ts.actor)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.Equal(t, tc.err, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestListAppointments(t *testing.T) {
	ts := newTestServer(t)
	for _, start := range []string{"09:00", "09:30", "10:00"} {
		end := map[string]string{"09:00": "09:30", "09:30": "10:00", "10:00": "10:30"}[start]
		slot := ts.createSlot(t, start, end)
		require.Equal(t, http.StatusCreated, ts.book(t, slot.ID).Code)
	}

	rec := ts.do(t, http.MethodGet, "/appointments?limit=2&patient_id="+ts.patient.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[AppointmentListResponse](t, rec)
	assert.Equal(t, 3, list.Total)
	assert.Len(t, list.Items, 2)
	assert.Equal(t, 2, list.Limit)

	rec = ts.do(t, http.MethodGet, "/appointments?status=cancelled", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[AppointmentListResponse](t, rec).Total)

	for _, q := range []string{"patient_id=x", "status=lost", "limit=-1", "offset=abc"} {
		rec = ts.do(t, http.MethodGet, "/appointments?"+q, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = ts.do(t, http.MethodGet, "/patients/"+ts.patient.String()+"/appointments/upcoming", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	upcoming := decode[[]AppointmentResponse](t, rec)
	require.Len(t, upcoming, 3)
	assert.Equal(t, "09:00", upcoming[0].StartTime)

	rec = ts.do(t, http.MethodGet, "/patients/"+uuid.NewString()+"/appointments/upcoming", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/users/"+ts.patient.String()+"/notifications?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]NotificationResponse](t, rec), 3)
}

func TestSlotAdministration(t *testing.T) {
	ts := newTestServer(t)
	slot := ts.createSlot(t, "14:00", "14:30")
	path := "/slots/" + slot.ID.String()

	rec := ts.do(t, http.MethodPost, path+"/block", nil, &ts.actor)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "blocked", decode[SlotResponse](t, rec).Status)

	rec = ts.book(t, slot.ID)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_blocked", decode[ErrorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodPost, path+"/unblock", nil, &ts.actor)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusCreated, ts.book(t, slot.ID).Code)

	rec = ts.do(t, http.MethodDelete, path, nil, &ts.actor)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_in_use", decode[ErrorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodGet, "/slots?status=booked&doctor_id="+ts.doctor.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SlotResponse](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/slots?status=open", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/slots", CreateSlotRequest{DoctorID: ts.doctor, Date: "2025-06-02", StartTime: "15:00", EndTime: "14:00"}, &ts.actor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubSweeper struct {
	n   int
	err error
}

func (s stubSweeper) Sweep(context.Context) (int, error) { return s.n, s.err }

func TestRunReminders(t *testing.T) {
	ts := newTestServer(t, func(c *RouterConfig) { c.Reminders = stubSweeper{n: 4} })
	rec := ts.do(t, http.MethodPost, "/reminders/run", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, decode[ReminderRunResponse](t, rec).Reminded)

	ts = newTestServer(t, func(c *RouterConfig) { c.Reminders = stubSweeper{err: errors.New("store down")} })
	rec = ts.do(t, http.MethodPost, "/reminders/run", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decode[ErrorResponse](t, rec).Details)
}

type fakeConnector struct {
	doctor uuid.UUID
	code   string
	err    error
}

func (f *fakeConnector) AuthURL(doctorID uuid.UUID) string {
	return "https://accounts.example.com/auth?state=" + doctorID.String()
}

func (f *fakeConnector) Connect(_ context.Context, doctorID uuid.UUID, code string) error {
	f.doctor, f.code = doctorID, code
	return f.err
}

func TestCalendarConnect(t *testing.T) {
	cal := &fakeConnector{}
	ts := newTestServer(t, func(c *RouterConfig) { c.Calendar = cal })

	rec := ts.do(t, http.MethodGet, "/calendar/connect?doctor_id="+ts.doctor.String(), nil, nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, strings.HasSuffix(rec.Header().Get("Location"), ts.doctor.String()))

	rec = ts.do(t, http.MethodGet, "/calendar/callback?code=abc&state="+ts.doctor.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ts.doctor, cal.doctor)
	assert.Equal(t, "abc", cal.code)

	rec = ts.do(t, http.MethodGet, "/calendar/callback?error=access_denied", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	cal.err = errors.New("invalid_grant")
	rec = ts.do(t, http.MethodGet, "/calendar/callback?code=abc&state="+ts.doctor.String(), nil, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ts := newTestServer(t, func(c *RouterConfig) { c.Health = NewHealthHandler(pinger{}, rdb, "test", "v1") })
	rec := ts.do(t, http.MethodGet, "/health/ready", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "ok"}, ready.Dependencies)

	mr.Close()
	rec = ts.do(t, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decode[ReadinessResponse](t, rec).Status)

	ts = newTestServer(t, func(c *RouterConfig) { c.Health = NewHealthHandler(pinger{err: errors.New("refused")}, nil, "test", "v1") })
	rec = ts.do(t, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = ts.do(t, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

type panicky struct{ AppointmentService }

func (panicky) GetAppointmentByID(context.Context, uuid.UUID) (*appointment.AppointmentDetail, error) {
	panic("boom")
}

func TestRecoverMiddleware(t *testing.T) {
	var logs bytes.Buffer
	ts := newTestServer(t, func(c *RouterConfig) {
		c.Appointments = panicky{}
		c.Logger = zerolog.New(&logs)
	})

	rec := ts.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, logs.String(), "handler panicked")
	assert.Contains(t, logs.String(), `"status":500`)
}
