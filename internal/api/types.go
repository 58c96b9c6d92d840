package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
)

type CreateAppointmentRequest struct {
	PatientID      uuid.UUID  `json:"patient_id"`
	DoctorID       uuid.UUID  `json:"doctor_id"`
	TimeSlotID     uuid.UUID  `json:"time_slot_id"`
	ClinicID       *uuid.UUID `json:"clinic_id,omitempty"`
	Type           string     `json:"type,omitempty"`
	ReasonForVisit string     `json:"reason_for_visit,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	IsVirtual      bool       `json:"is_virtual,omitempty"`
}

func (r CreateAppointmentRequest) input() appointment.CreateInput {
	return appointment.CreateInput{
		PatientID:      r.PatientID,
		DoctorID:       r.DoctorID,
		TimeSlotID:     r.TimeSlotID,
		ClinicID:       r.ClinicID,
		Type:           appointment.AppointmentType(r.Type),
		ReasonForVisit: r.ReasonForVisit,
		Notes:          r.Notes,
		IsVirtual:      r.IsVirtual,
	}
}

// UpdateAppointmentRequest lists every field a PATCH may carry. Omitted
// fields stay unchanged; anything else in the body is rejected.
type UpdateAppointmentRequest struct {
	Status             *string    `json:"status,omitempty"`
	TimeSlotID         *uuid.UUID `json:"time_slot_id,omitempty"`
	ClinicID           *uuid.UUID `json:"clinic_id,omitempty"`
	Type               *string    `json:"type,omitempty"`
	ReasonForVisit     *string    `json:"reason_for_visit,omitempty"`
	Notes              *string    `json:"notes,omitempty"`
	IsVirtual          *bool      `json:"is_virtual,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
}

func (r UpdateAppointmentRequest) patch() appointment.UpdatePatch {
	p := appointment.UpdatePatch{
		TimeSlotID:         r.TimeSlotID,
		ClinicID:           r.ClinicID,
		ReasonForVisit:     r.ReasonForVisit,
		Notes:              r.Notes,
		IsVirtual:          r.IsVirtual,
		CancellationReason: r.CancellationReason,
	}
	if r.Status != nil {
		s := appointment.AppointmentStatus(*r.Status)
		p.Status = &s
	}
	if r.Type != nil {
		t := appointment.AppointmentType(*r.Type)
		p.Type = &t
	}
	return p
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CreateSlotRequest struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
}

type PersonResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email *string   `json:"email,omitempty"`
	Phone *string   `json:"phone,omitempty"`
}

type ClinicResponse struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Address  *string   `json:"address,omitempty"`
	Timezone *string   `json:"timezone,omitempty"`
}

type SlotResponse struct {
	ID            uuid.UUID  `json:"id"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	Date          string     `json:"date"`
	StartTime     string     `json:"start_time"`
	EndTime       string     `json:"end_time"`
	Status        string     `json:"status"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func slotResponse(s appointment.TimeSlot) SlotResponse {
	return SlotResponse{
		ID:            s.ID,
		DoctorID:      s.DoctorID,
		Date:          s.Date,
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		Status:        string(s.Status),
		AppointmentID: s.AppointmentID,
		UpdatedAt:     s.UpdatedAt,
	}
}

type ReminderResponse struct {
	Channel string    `json:"channel"`
	SentAt  time.Time `json:"sent_at"`
	Status  string    `json:"status"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID          `json:"id"`
	PatientID          uuid.UUID          `json:"patient_id"`
	DoctorID           uuid.UUID          `json:"doctor_id"`
	TimeSlotID         uuid.UUID          `json:"time_slot_id"`
	ClinicID           *uuid.UUID         `json:"clinic_id,omitempty"`
	Date               string             `json:"date"`
	StartTime          string             `json:"start_time"`
	EndTime            string             `json:"end_time"`
	Type               string             `json:"type"`
	Status             string             `json:"status"`
	ReasonForVisit     string             `json:"reason_for_visit,omitempty"`
	Notes              string             `json:"notes,omitempty"`
	IsVirtual          bool               `json:"is_virtual"`
	MeetingLink        *string            `json:"meeting_link,omitempty"`
	CancellationReason *string            `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	RemindersSent      []ReminderResponse `json:"reminders_sent"`
	CreatedBy          uuid.UUID          `json:"created_by"`
	UpdatedBy          *uuid.UUID         `json:"updated_by,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`

	Patient *PersonResponse `json:"patient,omitempty"`
	Doctor  *PersonResponse `json:"doctor,omitempty"`
	Clinic  *ClinicResponse `json:"clinic,omitempty"`
	Slot    *SlotResponse   `json:"time_slot,omitempty"`
}

func appointmentResponse(d appointment.AppointmentDetail) AppointmentResponse {
	a := d.Appointment
	resp := AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		DoctorID:           a.DoctorID,
		TimeSlotID:         a.TimeSlotID,
		ClinicID:           a.ClinicID,
		Date:               a.Date,
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		Type:               string(a.Type),
		Status:             string(a.Status),
		ReasonForVisit:     a.ReasonForVisit,
		Notes:              a.Notes,
		IsVirtual:          a.IsVirtual,
		MeetingLink:        a.MeetingLink,
		CancellationReason: a.CancellationReason,
		CancelledAt:        a.CancelledAt,
		RemindersSent:      make([]ReminderResponse, 0, len(a.Reminders)),
		CreatedBy:          a.CreatedBy,
		UpdatedBy:          a.UpdatedBy,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
	for _, r := range a.Reminders {
		resp.RemindersSent = append(resp.RemindersSent, ReminderResponse{Channel: string(r.Channel), SentAt: r.SentAt, Status: r.Status})
	}
	if d.Patient != nil {
		resp.Patient = &PersonResponse{ID: d.Patient.ID, Name: d.Patient.Name, Email: d.Patient.Email, Phone: d.Patient.Phone}
	}
	if d.Doctor != nil {
		resp.Doctor = &PersonResponse{ID: d.Doctor.ID, Name: d.Doctor.Name, Email: d.Doctor.Email, Phone: d.Doctor.Phone}
	}
	if d.Clinic != nil {
		resp.Clinic = &ClinicResponse{ID: d.Clinic.ID, Name: d.Clinic.Name, Address: d.Clinic.Address, Timezone: d.Clinic.Timezone}
	}
	if d.Slot != nil {
		s := slotResponse(*d.Slot)
		resp.Slot = &s
	}
	return resp
}

type AppointmentListResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type AuditLogResponse struct {
	ID           int64          `json:"id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   uuid.UUID      `json:"resource_id"`
	UserID       uuid.UUID      `json:"user_id"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type NotificationResponse struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Type          string     `json:"type"`
	Channel       string     `json:"channel"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	CreatedAt     time.Time  `json:"created_at"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
}

type ReminderRunResponse struct {
	Reminded int `json:"reminded"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
