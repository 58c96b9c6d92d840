package api

import (
	"fmt"
	"net/http"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
)

func createSlotHandler(slots SlotService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r); !ok {
			return
		}

		var req CreateSlotRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		slot, err := slots.CreateSlot(r.Context(), req.DoctorID, req.Date, req.StartTime, req.EndTime)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, slotResponse(*slot))
	}
}

func getSlotHandler(slots SlotService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		slot, err := slots.GetSlot(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, slotResponse(*slot))
	}
}

func listSlotsHandler(slots SlotService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := appointment.SlotFilter{Date: q.Get("date")}

		doctorID, err := queryUUID(q.Get("doctor_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		f.DoctorID = doctorID

		if s := q.Get("status"); s != "" {
			status := appointment.SlotStatus(s)
			switch status {
			case appointment.SlotAvailable, appointment.SlotBooked, appointment.SlotBlocked:
				f.Status = &status
			default:
				writeError(w, http.StatusBadRequest, "invalid_status", fmt.Sprintf("unknown slot status %q", s))
				return
			}
		}

		items, err := slots.ListSlots(r.Context(), f)
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := make([]SlotResponse, 0, len(items))
		for _, s := range items {
			resp = append(resp, slotResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func blockSlotHandler(slots SlotService, block bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r); !ok {
			return
		}
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		var (
			slot *appointment.TimeSlot
			err  error
		)
		if block {
			slot, err = slots.Block(r.Context(), id)
		} else {
			slot, err = slots.Unblock(r.Context(), id)
		}
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, slotResponse(*slot))
	}
}

func deleteSlotHandler(slots SlotService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireActor(w, r); !ok {
			return
		}
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		if err := slots.DeleteSlot(r.Context(), id); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
