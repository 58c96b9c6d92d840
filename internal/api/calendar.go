package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// connectCalendarHandler redirects a doctor to Google's consent screen.
func connectCalendarHandler(cal CalendarConnector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(r.URL.Query().Get("doctor_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		http.Redirect(w, r, cal.AuthURL(doctorID), http.StatusFound)
	}
}

func calendarCallbackHandler(cal CalendarConnector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if reason := q.Get("error"); reason != "" {
			writeError(w, http.StatusBadRequest, "consent_denied", reason)
			return
		}

		doctorID, err := uuid.Parse(q.Get("state"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_state", "state must carry the doctor id")
			return
		}
		code := q.Get("code")
		if code == "" {
			writeError(w, http.StatusBadRequest, "missing_code", "code is required")
			return
		}

		if err := cal.Connect(r.Context(), doctorID, code); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Str("doctor_id", doctorID.String()).Msg("calendar connect failed")
			writeError(w, http.StatusBadGateway, "calendar_connect_failed", "could not connect the calendar")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "connected", "doctor_id": doctorID.String()})
	}
}
