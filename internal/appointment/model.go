package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusCheckedIn  AppointmentStatus = "checked-in"
	StatusInProgress AppointmentStatus = "in-progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no-show"
)

var AllStatuses = []AppointmentStatus{
	StatusScheduled,
	StatusCheckedIn,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
	StatusNoShow,
}

func (s AppointmentStatus) Valid() bool {
	for _, st := range AllStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// Terminal statuses never hold a slot again.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

type AppointmentType string

const (
	TypeInitial  AppointmentType = "initial"
	TypeFollowUp AppointmentType = "follow-up"
	TypeVirtual  AppointmentType = "virtual"
	TypeInPerson AppointmentType = "in-person"
)

func (t AppointmentType) Valid() bool {
	switch t {
	case TypeInitial, TypeFollowUp, TypeVirtual, TypeInPerson:
		return true
	}
	return false
}

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotBlocked   SlotStatus = "blocked"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS || c == ChannelInApp
}

const (
	ReminderSent   = "sent"
	ReminderFailed = "failed"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Clinic struct {
	ID        uuid.UUID
	Name      string
	Address   *string
	Timezone  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contact is where notifications for a patient or doctor are delivered.
type Contact struct {
	UserID uuid.UUID
	Name   string
	Email  *string
	Phone  *string
}

type TimeSlot struct {
	ID            uuid.UUID
	DoctorID      uuid.UUID
	Date          string // YYYY-MM-DD
	StartTime     string // HH:MM
	EndTime       string // HH:MM
	Status        SlotStatus
	AppointmentID *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate checks the slot's shape and the booked <=> back-reference invariant.
func (s TimeSlot) Validate() error {
	if s.DoctorID == uuid.Nil {
		return &ValidationError{Field: "doctor_id", Reason: "is required"}
	}
	if _, err := time.Parse(dateLayout, s.Date); err != nil {
		return &ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	start, err := time.Parse(timeLayout, s.StartTime)
	if err != nil {
		return &ValidationError{Field: "start_time", Reason: "must be HH:MM"}
	}
	end, err := time.Parse(timeLayout, s.EndTime)
	if err != nil {
		return &ValidationError{Field: "end_time", Reason: "must be HH:MM"}
	}
	if !end.After(start) {
		return &ValidationError{Field: "end_time", Reason: "must be after start_time"}
	}

	switch s.Status {
	case SlotBooked:
		if s.AppointmentID == nil {
			return &ValidationError{Field: "appointment_id", Reason: "booked slot needs an appointment"}
		}
	case SlotAvailable, SlotBlocked:
		if s.AppointmentID != nil {
			return &ValidationError{Field: "appointment_id", Reason: fmt.Sprintf("%s slot cannot reference an appointment", s.Status)}
		}
	default:
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown slot status %q", s.Status)}
	}
	return nil
}

// StartsAt resolves the slot's wall clock start in the clinic timezone.
func (s TimeSlot) StartsAt(loc *time.Location) (time.Time, error) {
	return wallClock(s.Date, s.StartTime, loc)
}

type ReminderEntry struct {
	Channel Channel   `json:"channel"`
	SentAt  time.Time `json:"sent_at"`
	Status  string    `json:"status"`
}

type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	DoctorID           uuid.UUID
	TimeSlotID         uuid.UUID
	ClinicID           *uuid.UUID
	Date               string
	StartTime          string
	EndTime            string
	Type               AppointmentType
	Status             AppointmentStatus
	ReasonForVisit     string
	Notes              string
	IsVirtual          bool
	MeetingLink        *string
	ExternalEventID    *string
	CancellationReason *string
	CancelledAt        *time.Time
	Reminders          []ReminderEntry
	CreatedBy          uuid.UUID
	UpdatedBy          *uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Virtual reports whether the visit needs an external meeting.
func (a Appointment) Virtual() bool {
	return a.IsVirtual || a.Type == TypeVirtual
}

func (a Appointment) StartsAt(loc *time.Location) (time.Time, error) {
	return wallClock(a.Date, a.StartTime, loc)
}

// ReminderSentVia reports whether a successful reminder on ch is already logged.
func (a Appointment) ReminderSentVia(ch Channel) bool {
	for _, r := range a.Reminders {
		if r.Channel == ch && r.Status == ReminderSent {
			return true
		}
	}
	return false
}

type AuditAction string

const (
	AuditCreate AuditAction = "create"
	AuditUpdate AuditAction = "update"
	AuditDelete AuditAction = "delete"
	AuditCancel AuditAction = "cancel"
)

const (
	ResourceAppointment = "appointment"
	ResourceTimeSlot    = "time_slot"
)

type AuditLogEntry struct {
	ID           int64
	Action       AuditAction
	ResourceType string
	ResourceID   uuid.UUID
	UserID       uuid.UUID
	Details      map[string]any
	CreatedAt    time.Time
}

const (
	NotificationBooked    = "appointment_booked"
	NotificationUpdated   = "appointment_updated"
	NotificationCancelled = "appointment_cancelled"
	NotificationReminder  = "appointment_reminder"
)

type Notification struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	AppointmentID *uuid.UUID
	Type          string
	Channel       Channel
	Title         string
	Message       string
	CreatedAt     time.Time
	ReadAt        *time.Time
}

type AppointmentDetail struct {
	Appointment
	Patient *Patient
	Doctor  *Doctor
	Clinic  *Clinic
	Slot    *TimeSlot
}

type CreateInput struct {
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	TimeSlotID     uuid.UUID
	ClinicID       *uuid.UUID
	Type           AppointmentType
	ReasonForVisit string
	Notes          string
	IsVirtual      bool
}

func (in CreateInput) Validate() error {
	if in.PatientID == uuid.Nil {
		return &ValidationError{Field: "patient_id", Reason: "is required"}
	}
	if in.DoctorID == uuid.Nil {
		return &ValidationError{Field: "doctor_id", Reason: "is required"}
	}
	if in.TimeSlotID == uuid.Nil {
		return &ValidationError{Field: "time_slot_id", Reason: "is required"}
	}
	if in.Type != "" && !in.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", in.Type)}
	}
	return nil
}

// UpdatePatch is the closed set of fields an update may touch. Nil means unchanged.
type UpdatePatch struct {
	Status             *AppointmentStatus
	TimeSlotID         *uuid.UUID
	ClinicID           *uuid.UUID
	Type               *AppointmentType
	ReasonForVisit     *string
	Notes              *string
	IsVirtual          *bool
	CancellationReason *string
}

func (p UpdatePatch) Validate() error {
	if p.Status != nil && !p.Status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *p.Status)}
	}
	if p.Type != nil && !p.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", *p.Type)}
	}
	if p.TimeSlotID != nil && *p.TimeSlotID == uuid.Nil {
		return &ValidationError{Field: "time_slot_id", Reason: "must be a valid id"}
	}
	return nil
}

type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	ClinicID  *uuid.UUID
	Status    *AppointmentStatus
	DateFrom  string // inclusive YYYY-MM-DD
	DateTo    string // inclusive YYYY-MM-DD
}

type SlotFilter struct {
	DoctorID *uuid.UUID
	Date     string
	Status   *SlotStatus
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page to the supported range.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type AppointmentList struct {
	Items  []AppointmentDetail
	Total  int
	Limit  int
	Offset int
}

func wallClock(date, hhmm string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+hhmm, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s %s: %w", date, hhmm, err)
	}
	return t, nil
}
