package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Transactor runs fn as one atomic unit of work. Stores called with the ctx
// handed to fn join that unit of work.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type SlotStore interface {
	FindSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	// FindSlotByIDForUpdate reads the slot inside the caller's transaction and
	// keeps concurrent writers out until it ends.
	FindSlotByIDForUpdate(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	InsertSlot(ctx context.Context, s *TimeSlot) error
	UpdateSlot(ctx context.Context, s *TimeSlot) error
	DeleteSlot(ctx context.Context, id uuid.UUID) error
	ListSlots(ctx context.Context, f SlotFilter) ([]TimeSlot, error)
}

type AppointmentStore interface {
	FindAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	FindAppointmentByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	InsertAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	ListAppointments(ctx context.Context, f ListFilter, p Page) ([]Appointment, int, error)

	// ListUpcomingByPatient returns scheduled or checked-in visits dated on or after fromDate.
	ListUpcomingByPatient(ctx context.Context, patientID uuid.UUID, fromDate string) ([]Appointment, error)

	// Reminder sweep
	ListReminderCandidates(ctx context.Context, fromDate, toDate string) ([]Appointment, error)
	AppendReminder(ctx context.Context, id uuid.UUID, entry ReminderEntry) error
}

// Directory resolves the people and places an appointment points at.
type Directory interface {
	FindPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	FindDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	FindClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
	FindContact(ctx context.Context, userID uuid.UUID) (*Contact, error)
}

type AuditSink interface {
	RecordAudit(ctx context.Context, entry AuditLogEntry) error
}

// NotificationStore is the in-app inbox.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]Notification, error)
}

// Notifier delivers a notification on its channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type MeetingRequest struct {
	OrganizerID   uuid.UUID
	AppointmentID uuid.UUID
	Summary       string
	Description   string
	Start         time.Time
	End           time.Time
	Attendees     []string
}

type Meeting struct {
	EventID  string
	MeetLink string
}

// MeetingProvider creates video visits on an external calendar.
type MeetingProvider interface {
	CreateMeeting(ctx context.Context, req MeetingRequest) (*Meeting, error)
	UpdateMeeting(ctx context.Context, eventID string, req MeetingRequest) error
	DeleteMeeting(ctx context.Context, organizerID uuid.UUID, eventID string) error
}

// MeetingPreparer is implemented by providers that need per-organizer
// credentials. PrepareMeeting runs before the booking transaction opens and
// returns a context carrying what CreateMeeting needs, so the call inside the
// transaction does not touch the database.
type MeetingPreparer interface {
	PrepareMeeting(ctx context.Context, organizerID uuid.UUID) (context.Context, error)
}

type AuditReader interface {
	ListAuditLogs(ctx context.Context, resourceID uuid.UUID) ([]AuditLogEntry, error)
}
