package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	redisclient "github.com/hackgods/clinic-appointment-booking/internal/redis"
)

const (
	userIDHeader = "X-User-ID"
	maxBodyBytes = 1 << 20
)

var errMissingActor = errors.New("X-User-ID header must carry the acting user's id")

func createAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req CreateAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), req.input(), actor)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, appointmentResponse(*appt))
	}
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointmentByID(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentResponse(*appt))
	}
}

func listAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var f appointment.ListFilter
		var err error

		if f.PatientID, err = queryUUID(q.Get("patient_id")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		if f.DoctorID, err = queryUUID(q.Get("doctor_id")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		if f.ClinicID, err = queryUUID(q.Get("clinic_id")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return
		}
		if s := q.Get("status"); s != "" {
			status := appointment.AppointmentStatus(s)
			if !status.Valid() {
				writeError(w, http.StatusBadRequest, "invalid_status", fmt.Sprintf("unknown status %q", s))
				return
			}
			f.Status = &status
		}
		f.DateFrom = q.Get("date_from")
		f.DateTo = q.Get("date_to")

		page, ok := queryPage(w, r)
		if !ok {
			return
		}

		list, err := svc.GetAllAppointments(r.Context(), f, page)
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := AppointmentListResponse{
			Items:  make([]AppointmentResponse, 0, len(list.Items)),
			Total:  list.Total,
			Limit:  list.Limit,
			Offset: list.Offset,
		}
		for _, item := range list.Items {
			resp.Items = append(resp.Items, appointmentResponse(item))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		var req UpdateAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		appt, err := svc.UpdateAppointment(r.Context(), id, req.patch(), actor)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentResponse(*appt))
	}
}

func cancelAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), id, req.Reason, actor)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentResponse(*appt))
	}
}

func deleteAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		deleted, err := svc.DeleteAppointment(r.Context(), id, actor)
		if err != nil {
			handleError(w, r, err)
			return
		}
		if !deleted {
			writeError(w, http.StatusNotFound, "appointment_not_found", appointment.ErrAppointmentNotFound.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func appointmentAuditHandler(svc AppointmentService, audit appointment.AuditReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		entries, err := audit.ListAuditLogs(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		// deleted appointments keep their trail, so only 404 when there is none
		if len(entries) == 0 {
			if _, err := svc.GetAppointmentByID(r.Context(), id); err != nil {
				handleError(w, r, err)
				return
			}
		}

		resp := make([]AuditLogResponse, 0, len(entries))
		for _, e := range entries {
			resp = append(resp, AuditLogResponse{
				ID:           e.ID,
				Action:       string(e.Action),
				ResourceType: e.ResourceType,
				ResourceID:   e.ResourceID,
				UserID:       e.UserID,
				Details:      e.Details,
				CreatedAt:    e.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func upcomingAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := pathID(w, r, "patientID")
		if !ok {
			return
		}

		items, err := svc.GetPatientUpcomingAppointments(r.Context(), patientID)
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(items))
		for _, item := range items {
			resp = append(resp, appointmentResponse(item))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func notificationsHandler(inbox appointment.NotificationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathID(w, r, "userID")
		if !ok {
			return
		}
		page, ok := queryPage(w, r)
		if !ok {
			return
		}

		items, err := inbox.ListNotifications(r.Context(), userID, page.Limit)
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := make([]NotificationResponse, 0, len(items))
		for _, n := range items {
			resp = append(resp, NotificationResponse{
				ID:            n.ID,
				AppointmentID: n.AppointmentID,
				Type:          n.Type,
				Channel:       string(n.Channel),
				Title:         n.Title,
				Message:       n.Message,
				CreatedAt:     n.CreatedAt,
				ReadAt:        n.ReadAt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func runRemindersHandler(reminders ReminderRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := reminders.Sweep(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ReminderRunResponse{Reminded: n})
	}
}

// handleError maps error kinds from the booking core to HTTP statuses.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *appointment.ValidationError
		transition *appointment.TransitionError
	)

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_failed", validation.Error())
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())

	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrClinicNotFound):
		writeError(w, http.StatusNotFound, "clinic_not_found", err.Error())
	case errors.Is(err, appointment.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())

	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, "invalid_status_transition", transition.Error())
	case errors.Is(err, appointment.ErrSlotAlreadyBooked):
		writeError(w, http.StatusConflict, "slot_already_booked", err.Error())
	case errors.Is(err, appointment.ErrSlotBlocked):
		writeError(w, http.StatusConflict, "slot_blocked", err.Error())
	case errors.Is(err, appointment.ErrSlotBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrSlotInUse):
		writeError(w, http.StatusConflict, "slot_in_use", err.Error())
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request timed out")
		writeError(w, http.StatusGatewayTimeout, "timeout", "the operation took too long, please retry")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func requireActor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get(userIDHeader)
	id, err := uuid.Parse(raw)
	if raw == "" || err != nil || id == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "missing_user", errMissingActor.Error())
		return uuid.Nil, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryUUID(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func queryPage(w http.ResponseWriter, r *http.Request) (appointment.Page, bool) {
	var p appointment.Page
	q := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &p.Limit, "offset": &p.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a non-negative integer")
			return p, false
		}
		*dst = n
	}
	return p.Normalize(), true
}

// decodeJSON reads exactly one JSON object and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "body must contain a single JSON object")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
