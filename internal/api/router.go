package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
)

// AppointmentService is implemented by *appointment.Manager.
type AppointmentService interface {
	CreateAppointment(ctx context.Context, in appointment.CreateInput, actor uuid.UUID) (*appointment.AppointmentDetail, error)
	UpdateAppointment(ctx context.Context, id uuid.UUID, patch appointment.UpdatePatch, actor uuid.UUID) (*appointment.AppointmentDetail, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, reason string, actor uuid.UUID) (*appointment.AppointmentDetail, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID, actor uuid.UUID) (bool, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*appointment.AppointmentDetail, error)
	GetAllAppointments(ctx context.Context, f appointment.ListFilter, p appointment.Page) (*appointment.AppointmentList, error)
	GetPatientUpcomingAppointments(ctx context.Context, patientID uuid.UUID) ([]appointment.AppointmentDetail, error)
}

// SlotService is implemented by *appointment.SlotReservations.
type SlotService interface {
	CreateSlot(ctx context.Context, doctorID uuid.UUID, date, start, end string) (*appointment.TimeSlot, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*appointment.TimeSlot, error)
	ListSlots(ctx context.Context, f appointment.SlotFilter) ([]appointment.TimeSlot, error)
	Block(ctx context.Context, id uuid.UUID) (*appointment.TimeSlot, error)
	Unblock(ctx context.Context, id uuid.UUID) (*appointment.TimeSlot, error)
	DeleteSlot(ctx context.Context, id uuid.UUID) error
}

type ReminderRunner interface {
	Sweep(ctx context.Context) (int, error)
}

// CalendarConnector is implemented by *meeting.GoogleCalendar.
type CalendarConnector interface {
	AuthURL(doctorID uuid.UUID) string
	Connect(ctx context.Context, doctorID uuid.UUID, code string) error
}

type RouterConfig struct {
	Appointments AppointmentService
	Slots        SlotService
	Reminders    ReminderRunner
	Audit        appointment.AuditReader
	Inbox        appointment.NotificationStore
	Calendar     CalendarConnector // optional
	Health       *HealthHandler
	Metrics      http.Handler // optional
	Logger       zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoverMiddleware)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Appointments))
		r.Get("/", listAppointmentsHandler(cfg.Appointments))
		r.Get("/{id}", getAppointmentHandler(cfg.Appointments))
		r.Patch("/{id}", updateAppointmentHandler(cfg.Appointments))
		r.Delete("/{id}", deleteAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))
		if cfg.Audit != nil {
			r.Get("/{id}/audit", appointmentAuditHandler(cfg.Appointments, cfg.Audit))
		}
	})
	r.Get("/patients/{patientID}/appointments/upcoming", upcomingAppointmentsHandler(cfg.Appointments))

	r.Route("/slots", func(r chi.Router) {
		r.Post("/", createSlotHandler(cfg.Slots))
		r.Get("/", listSlotsHandler(cfg.Slots))
		r.Get("/{id}", getSlotHandler(cfg.Slots))
		r.Delete("/{id}", deleteSlotHandler(cfg.Slots))
		r.Post("/{id}/block", blockSlotHandler(cfg.Slots, true))
		r.Post("/{id}/unblock", blockSlotHandler(cfg.Slots, false))
	})

	if cfg.Inbox != nil {
		r.Get("/users/{userID}/notifications", notificationsHandler(cfg.Inbox))
	}
	if cfg.Reminders != nil {
		r.Post("/reminders/run", runRemindersHandler(cfg.Reminders))
	}
	if cfg.Calendar != nil {
		r.Get("/calendar/connect", connectCalendarHandler(cfg.Calendar))
		r.Get("/calendar/callback", calendarCallbackHandler(cfg.Calendar))
	}

	return r
}
