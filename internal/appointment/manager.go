package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-appointment-booking/internal/db"
	"github.com/hackgods/clinic-appointment-booking/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-appointment-booking/internal/redis"
)

var tracer = otel.Tracer("clinic.internal.appointment")

const defaultMeetingTimeout = 5 * time.Second

// Deps wires a Manager. Meetings, Notifier and Locker are optional.
type Deps struct {
	Tx           Transactor
	Slots        SlotStore
	Appointments AppointmentStore
	Directory    Directory
	Audit        AuditSink
	Inbox        NotificationStore
	Notifier     Notifier
	Meetings     MeetingProvider
	Locker       redisclient.Locker

	Metrics  *metrics.BookingMetrics
	Logger   zerolog.Logger
	Location *time.Location

	// MeetingTimeout bounds a meeting call made inside a transaction. It is
	// further capped to half the time left before the transaction deadline.
	MeetingTimeout time.Duration

	// NoticeChannels are the external channels booking notices go out on
	// after commit. In-app notices are always written.
	NoticeChannels []Channel

	Now   func() time.Time
	NewID func() uuid.UUID
}

// Manager owns the appointment lifecycle: every create, update, cancel and
// delete runs as one transaction together with its slot change and audit row.
type Manager struct {
	tx        Transactor
	slots     *SlotReservations
	appts     AppointmentStore
	directory Directory
	audit     AuditSink
	inbox     NotificationStore
	notifier  Notifier
	meetings  MeetingProvider
	locker    redisclient.Locker
	effects   BestEffort
	metrics   *metrics.BookingMetrics
	logger    zerolog.Logger
	loc       *time.Location
	notices   []Channel
	meetWait  time.Duration
	now       func() time.Time
	newID     func() uuid.UUID
}

func NewManager(d Deps) *Manager {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.New
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.MeetingTimeout <= 0 {
		d.MeetingTimeout = defaultMeetingTimeout
	}

	var notices []Channel
	for _, ch := range d.NoticeChannels {
		if ch != ChannelInApp && ch.Valid() {
			notices = append(notices, ch)
		}
	}

	return &Manager{
		tx:        d.Tx,
		slots:     NewSlotReservations(d.Tx, d.Slots, d.Directory, d.Now),
		appts:     d.Appointments,
		directory: d.Directory,
		audit:     d.Audit,
		inbox:     d.Inbox,
		notifier:  d.Notifier,
		meetings:  d.Meetings,
		locker:    d.Locker,
		effects:   NewBestEffort(d.Logger, d.Metrics),
		metrics:   d.Metrics,
		logger:    d.Logger,
		loc:       d.Location,
		notices:   notices,
		meetWait:  d.MeetingTimeout,
		now:       d.Now,
		newID:     d.NewID,
	}
}

// Slots exposes slot administration backed by the same stores.
func (m *Manager) Slots() *SlotReservations {
	return m.slots
}

// CreateAppointment books in.TimeSlotID for the patient. The slot
// reservation, the appointment row, the audit entry and the in-app notices
// commit together or not at all. Meeting creation is best-effort.
func (m *Manager) CreateAppointment(ctx context.Context, in CreateInput, actor uuid.UUID) (*AppointmentDetail, error) {
	ctx, span := tracer.Start(ctx, "appointment.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("slot_id", in.TimeSlotID.String()),
		attribute.String("doctor_id", in.DoctorID.String()),
		attribute.String("patient_id", in.PatientID.String()),
	)

	if err := in.Validate(); err != nil {
		return nil, m.finish(span, "create", err)
	}
	if in.Type == "" {
		in.Type = TypeInitial
	}

	id := m.newID()
	var (
		created Appointment
		meeting *Meeting
	)

	bookCtx, canMeet := ctx, false
	if in.IsVirtual || in.Type == TypeVirtual {
		bookCtx, canMeet = m.prepareMeeting(ctx, in.DoctorID, id)
	}

	book := func(ctx context.Context) error {
		return m.tx.WithinTx(ctx, func(ctx context.Context) error {
			if _, err := m.directory.FindPatientByID(ctx, in.PatientID); err != nil {
				return err
			}
			if _, err := m.directory.FindDoctorByID(ctx, in.DoctorID); err != nil {
				return err
			}
			if in.ClinicID != nil {
				if _, err := m.directory.FindClinicByID(ctx, *in.ClinicID); err != nil {
					return err
				}
			}

			slot, err := m.slots.Reserve(ctx, in.TimeSlotID, id)
			if err != nil {
				return err
			}
			if slot.DoctorID != in.DoctorID {
				return &ValidationError{Field: "time_slot_id", Reason: "belongs to another doctor"}
			}

			now := m.now()
			appt := Appointment{
				ID:             id,
				PatientID:      in.PatientID,
				DoctorID:       in.DoctorID,
				TimeSlotID:     slot.ID,
				ClinicID:       in.ClinicID,
				Date:           slot.Date,
				StartTime:      slot.StartTime,
				EndTime:        slot.EndTime,
				Type:           in.Type,
				Status:         StatusScheduled,
				ReasonForVisit: in.ReasonForVisit,
				Notes:          in.Notes,
				IsVirtual:      in.IsVirtual || in.Type == TypeVirtual,
				CreatedBy:      actor,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := m.appts.InsertAppointment(ctx, &appt); err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}

			if appt.Virtual() && canMeet {
				meeting = m.createMeeting(ctx, appt)
				if meeting != nil {
					appt.ExternalEventID = &meeting.EventID
					appt.MeetingLink = &meeting.MeetLink
					if err := m.appts.UpdateAppointment(ctx, &appt); err != nil {
						return fmt.Errorf("store meeting link: %w", err)
					}
				}
			}

			if err := m.audit.RecordAudit(ctx, AuditLogEntry{
				Action:       AuditCreate,
				ResourceType: ResourceAppointment,
				ResourceID:   appt.ID,
				UserID:       actor,
				Details: map[string]any{
					"time_slot_id": slot.ID.String(),
					"patient_id":   appt.PatientID.String(),
					"doctor_id":    appt.DoctorID.String(),
					"status":       string(appt.Status),
				},
				CreatedAt: now,
			}); err != nil {
				return fmt.Errorf("record audit: %w", err)
			}

			for _, n := range m.buildNotices(appt, NotificationBooked, ChannelInApp) {
				if err := m.inbox.InsertNotification(ctx, n); err != nil {
					return fmt.Errorf("insert notification: %w", err)
				}
			}

			created = appt
			return nil
		})
	}

	if err := m.withSlotLock(bookCtx, in.TimeSlotID, book); err != nil {
		if meeting != nil {
			m.revertMeeting(ctx, in.DoctorID, meeting)
		}
		return nil, m.finish(span, "create", err)
	}

	m.dispatch(ctx, created, NotificationBooked, m.notices)
	_ = m.finish(span, "create", nil)

	return m.detail(ctx, created)
}

// UpdateAppointment applies patch in one transaction. A time slot change
// releases the old slot and reserves the new one; if the new slot is taken
// nothing changes.
func (m *Manager) UpdateAppointment(ctx context.Context, id uuid.UUID, patch UpdatePatch, actor uuid.UUID) (*AppointmentDetail, error) {
	return m.update(ctx, "update", id, patch, actor, AuditUpdate)
}

// CancelAppointment cancels the visit and frees its slot.
func (m *Manager) CancelAppointment(ctx context.Context, id uuid.UUID, reason string, actor uuid.UUID) (*AppointmentDetail, error) {
	status := StatusCancelled
	patch := UpdatePatch{Status: &status}
	if reason != "" {
		patch.CancellationReason = &reason
	}
	return m.update(ctx, "cancel", id, patch, actor, AuditCancel)
}

func (m *Manager) update(ctx context.Context, op string, id uuid.UUID, patch UpdatePatch, actor uuid.UUID, action AuditAction) (*AppointmentDetail, error) {
	ctx, span := tracer.Start(ctx, "appointment."+op)
	defer span.End()
	span.SetAttributes(attribute.String("appointment_id", id.String()))

	if err := patch.Validate(); err != nil {
		return nil, m.finish(span, op, err)
	}

	var (
		before, after Appointment
		created       *Meeting
		rescheduled   bool
	)

	applyCtx, canMeet := ctx, false
	if (patch.IsVirtual != nil && *patch.IsVirtual) || (patch.Type != nil && *patch.Type == TypeVirtual) {
		cur, err := m.appts.FindAppointmentByID(ctx, id)
		if err != nil {
			return nil, m.finish(span, op, err)
		}
		if cur.ExternalEventID == nil {
			applyCtx, canMeet = m.prepareMeeting(ctx, cur.DoctorID, cur.ID)
		}
	}

	apply := func(ctx context.Context) error {
		return m.tx.WithinTx(ctx, func(ctx context.Context) error {
			created, rescheduled = nil, false

			cur, err := m.appts.FindAppointmentByIDForUpdate(ctx, id)
			if err != nil {
				return err
			}
			before = *cur
			next := *cur
			now := m.now()

			if patch.Status != nil {
				if err := ValidateTransition(cur.Status, *patch.Status); err != nil {
					return err
				}
				next.Status = *patch.Status
			}

			if patch.TimeSlotID != nil && *patch.TimeSlotID != cur.TimeSlotID {
				if cur.Status.Terminal() || next.Status.Terminal() {
					return &ValidationError{Field: "time_slot_id", Reason: fmt.Sprintf("cannot reschedule a %s appointment", next.Status)}
				}
				if _, err := m.slots.ReleaseHeldBy(ctx, cur.TimeSlotID, cur.ID); err != nil {
					return err
				}
				slot, err := m.slots.Reserve(ctx, *patch.TimeSlotID, cur.ID)
				if err != nil {
					return err
				}
				if slot.DoctorID != cur.DoctorID {
					return &ValidationError{Field: "time_slot_id", Reason: "belongs to another doctor"}
				}
				next.TimeSlotID = slot.ID
				next.Date = slot.Date
				next.StartTime = slot.StartTime
				next.EndTime = slot.EndTime
				rescheduled = true
			}

			if next.Status == StatusCancelled && cur.Status != StatusCancelled {
				if _, err := m.slots.ReleaseHeldBy(ctx, cur.TimeSlotID, cur.ID); err != nil {
					return err
				}
				next.CancelledAt = &now
			}
			if patch.CancellationReason != nil {
				reason := *patch.CancellationReason
				next.CancellationReason = &reason
			}
			if patch.ClinicID != nil {
				if _, err := m.directory.FindClinicByID(ctx, *patch.ClinicID); err != nil {
					return err
				}
				clinicID := *patch.ClinicID
				next.ClinicID = &clinicID
			}
			if patch.Type != nil {
				next.Type = *patch.Type
			}
			if patch.ReasonForVisit != nil {
				next.ReasonForVisit = *patch.ReasonForVisit
			}
			if patch.Notes != nil {
				next.Notes = *patch.Notes
			}
			if patch.IsVirtual != nil {
				next.IsVirtual = *patch.IsVirtual
			}
			if next.Type == TypeVirtual {
				next.IsVirtual = true
			}

			goingVirtual := (patch.IsVirtual != nil && *patch.IsVirtual) || (patch.Type != nil && *patch.Type == TypeVirtual)
			if goingVirtual && canMeet && next.ExternalEventID == nil && !next.Status.Terminal() {
				created = m.createMeeting(ctx, next)
				if created != nil {
					next.ExternalEventID = &created.EventID
					next.MeetingLink = &created.MeetLink
				}
			}

			next.UpdatedBy = &actor
			next.UpdatedAt = now
			if err := m.appts.UpdateAppointment(ctx, &next); err != nil {
				return fmt.Errorf("update appointment: %w", err)
			}

			details := map[string]any{
				"previous_status": string(before.Status),
				"new_status":      string(next.Status),
			}
			if rescheduled {
				details["previous_time_slot_id"] = before.TimeSlotID.String()
				details["time_slot_id"] = next.TimeSlotID.String()
			}
			if next.CancellationReason != nil && next.Status == StatusCancelled {
				details["cancellation_reason"] = *next.CancellationReason
			}
			if err := m.audit.RecordAudit(ctx, AuditLogEntry{
				Action:       action,
				ResourceType: ResourceAppointment,
				ResourceID:   next.ID,
				UserID:       actor,
				Details:      details,
				CreatedAt:    now,
			}); err != nil {
				return fmt.Errorf("record audit: %w", err)
			}

			after = next
			return nil
		})
	}

	var err error
	if patch.TimeSlotID != nil {
		err = m.withSlotLock(applyCtx, *patch.TimeSlotID, apply)
	} else {
		err = apply(applyCtx)
	}
	if err != nil {
		if created != nil {
			m.revertMeeting(ctx, before.DoctorID, created)
		}
		return nil, m.finish(span, op, err)
	}

	cancelled := after.Status == StatusCancelled && before.Status != StatusCancelled
	if after.ExternalEventID != nil && created == nil {
		switch {
		case cancelled:
			m.deleteMeeting(ctx, after)
		case rescheduled:
			m.updateMeeting(ctx, after)
		}
	}

	notice := NotificationUpdated
	if cancelled {
		notice = NotificationCancelled
	}
	m.dispatch(ctx, after, notice, append([]Channel{ChannelInApp}, m.notices...))
	_ = m.finish(span, op, nil)

	return m.detail(ctx, after)
}

// DeleteAppointment removes the appointment and frees its slot. It reports
// false, without error, when there is nothing to delete.
func (m *Manager) DeleteAppointment(ctx context.Context, id uuid.UUID, actor uuid.UUID) (bool, error) {
	ctx, span := tracer.Start(ctx, "appointment.delete")
	defer span.End()
	span.SetAttributes(attribute.String("appointment_id", id.String()))

	var deleted *Appointment
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		deleted = nil

		cur, err := m.appts.FindAppointmentByIDForUpdate(ctx, id)
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		// a cancelled appointment gave its slot back already
		if cur.Status != StatusCancelled {
			if _, err := m.slots.ReleaseHeldBy(ctx, cur.TimeSlotID, cur.ID); err != nil {
				return err
			}
		}

		if err := m.appts.DeleteAppointment(ctx, cur.ID); err != nil {
			return fmt.Errorf("delete appointment: %w", err)
		}

		if err := m.audit.RecordAudit(ctx, AuditLogEntry{
			Action:       AuditDelete,
			ResourceType: ResourceAppointment,
			ResourceID:   cur.ID,
			UserID:       actor,
			Details: map[string]any{
				"time_slot_id": cur.TimeSlotID.String(),
				"status":       string(cur.Status),
			},
			CreatedAt: m.now(),
		}); err != nil {
			return fmt.Errorf("record audit: %w", err)
		}

		deleted = cur
		return nil
	})
	if err != nil {
		return false, m.finish(span, "delete", err)
	}
	if deleted == nil {
		m.metrics.ObserveOperation("delete", "missing")
		return false, nil
	}

	if deleted.ExternalEventID != nil && deleted.Status != StatusCancelled {
		m.deleteMeeting(ctx, *deleted)
	}
	_ = m.finish(span, "delete", nil)

	return true, nil
}

func (m *Manager) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	ctx, span := tracer.Start(ctx, "appointment.get")
	defer span.End()

	a, err := m.appts.FindAppointmentByID(ctx, id)
	if err != nil {
		return nil, m.fail(span, err)
	}
	return m.detail(ctx, *a)
}

// GetAllAppointments lists appointments matching f, newest slot date first.
func (m *Manager) GetAllAppointments(ctx context.Context, f ListFilter, p Page) (*AppointmentList, error) {
	ctx, span := tracer.Start(ctx, "appointment.list")
	defer span.End()

	if f.Status != nil && !f.Status.Valid() {
		return nil, m.fail(span, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *f.Status)})
	}
	for field, v := range map[string]string{"date_from": f.DateFrom, "date_to": f.DateTo} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, v); err != nil {
			return nil, m.fail(span, &ValidationError{Field: field, Reason: "must be YYYY-MM-DD"})
		}
	}

	p = p.Normalize()
	items, total, err := m.appts.ListAppointments(ctx, f, p)
	if err != nil {
		return nil, m.fail(span, fmt.Errorf("list appointments: %w", err))
	}

	out := &AppointmentList{Items: make([]AppointmentDetail, 0, len(items)), Total: total, Limit: p.Limit, Offset: p.Offset}
	for _, a := range items {
		d, err := m.detail(ctx, a)
		if err != nil {
			return nil, m.fail(span, err)
		}
		out.Items = append(out.Items, *d)
	}
	return out, nil
}

// GetPatientUpcomingAppointments returns the patient's scheduled or
// checked-in visits from today (clinic time) on, soonest first.
func (m *Manager) GetPatientUpcomingAppointments(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error) {
	ctx, span := tracer.Start(ctx, "appointment.upcoming")
	defer span.End()

	if _, err := m.directory.FindPatientByID(ctx, patientID); err != nil {
		return nil, m.fail(span, err)
	}

	today := m.now().In(m.loc).Format(dateLayout)
	appts, err := m.appts.ListUpcomingByPatient(ctx, patientID, today)
	if err != nil {
		return nil, m.fail(span, fmt.Errorf("list upcoming appointments: %w", err))
	}

	out := make([]AppointmentDetail, 0, len(appts))
	for _, a := range appts {
		d, err := m.detail(ctx, a)
		if err != nil {
			return nil, m.fail(span, err)
		}
		out = append(out, *d)
	}
	return out, nil
}

func (m *Manager) detail(ctx context.Context, a Appointment) (*AppointmentDetail, error) {
	d := &AppointmentDetail{Appointment: a}

	var err error
	if d.Patient, err = m.directory.FindPatientByID(ctx, a.PatientID); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if d.Doctor, err = m.directory.FindDoctorByID(ctx, a.DoctorID); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if a.ClinicID != nil {
		if d.Clinic, err = m.directory.FindClinicByID(ctx, *a.ClinicID); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("load clinic: %w", err)
		}
	}
	if d.Slot, err = m.slots.GetSlot(ctx, a.TimeSlotID); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	return d, nil
}

func (m *Manager) withSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	if m.locker == nil {
		return fn(ctx)
	}
	err := m.locker.WithLock(ctx, redisclient.SlotLockKey(slotID), fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrSlotBeingBooked
	}
	return err
}

func (m *Manager) meetingRequest(ctx context.Context, a Appointment) (MeetingRequest, error) {
	start, err := a.StartsAt(m.loc)
	if err != nil {
		return MeetingRequest{}, err
	}
	end, err := wallClock(a.Date, a.EndTime, m.loc)
	if err != nil {
		return MeetingRequest{}, err
	}

	req := MeetingRequest{
		OrganizerID:   a.DoctorID,
		AppointmentID: a.ID,
		Summary:       "Virtual visit",
		Description:   a.ReasonForVisit,
		Start:         start,
		End:           end,
	}
	if p, err := m.directory.FindPatientByID(ctx, a.PatientID); err == nil {
		req.Summary = fmt.Sprintf("Virtual visit with %s", p.Name)
		if p.Email != nil {
			req.Attendees = append(req.Attendees, *p.Email)
		}
	}
	if d, err := m.directory.FindDoctorByID(ctx, a.DoctorID); err == nil && d.Email != nil {
		req.Attendees = append(req.Attendees, *d.Email)
	}
	return req, nil
}

// prepareMeeting loads organizer credentials outside any transaction. It
// reports false when no meeting should be attempted for this booking.
func (m *Manager) prepareMeeting(ctx context.Context, organizerID, appointmentID uuid.UUID) (context.Context, bool) {
	if m.meetings == nil {
		return ctx, false
	}
	p, ok := m.meetings.(MeetingPreparer)
	if !ok {
		return ctx, true
	}
	prepared := ctx
	err := m.effects.Run(ctx, StepMeetingPrepare, map[string]any{"appointment_id": appointmentID.String()}, func(ctx context.Context) error {
		var err error
		prepared, err = p.PrepareMeeting(ctx, organizerID)
		return err
	})
	if err != nil {
		return ctx, false
	}
	return prepared, true
}

// meetingBudget gives a meeting call its own deadline, never more than half
// of what is left on the enclosing transaction.
func (m *Manager) meetingBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	budget := m.meetWait
	if deadline, ok := ctx.Deadline(); ok {
		budget = min(budget, time.Until(deadline)/2)
	}
	return context.WithTimeout(ctx, budget)
}

func (m *Manager) createMeeting(ctx context.Context, a Appointment) *Meeting {
	if m.meetings == nil {
		return nil
	}
	var out *Meeting
	_ = m.effects.Run(ctx, StepMeetingCreate, map[string]any{"appointment_id": a.ID.String()}, func(ctx context.Context) error {
		req, err := m.meetingRequest(ctx, a)
		if err != nil {
			return err
		}
		callCtx, cancel := m.meetingBudget(ctx)
		defer cancel()
		mt, err := m.meetings.CreateMeeting(callCtx, req)
		if err != nil {
			return err
		}
		out = mt
		return nil
	})
	return out
}

func (m *Manager) updateMeeting(ctx context.Context, a Appointment) {
	if m.meetings == nil {
		return
	}
	_ = m.effects.Run(ctx, StepMeetingUpdate, map[string]any{"appointment_id": a.ID.String()}, func(ctx context.Context) error {
		req, err := m.meetingRequest(ctx, a)
		if err != nil {
			return err
		}
		return m.meetings.UpdateMeeting(ctx, *a.ExternalEventID, req)
	})
}

func (m *Manager) deleteMeeting(ctx context.Context, a Appointment) {
	if m.meetings == nil {
		return
	}
	_ = m.effects.Run(ctx, StepMeetingDelete, map[string]any{"appointment_id": a.ID.String()}, func(ctx context.Context) error {
		return m.meetings.DeleteMeeting(ctx, a.DoctorID, *a.ExternalEventID)
	})
}

// revertMeeting undoes a meeting created by a transaction that rolled back.
func (m *Manager) revertMeeting(ctx context.Context, organizerID uuid.UUID, mt *Meeting) {
	if m.meetings == nil {
		return
	}
	_ = m.effects.Run(context.WithoutCancel(ctx), StepMeetingRevert, map[string]any{"event_id": mt.EventID}, func(ctx context.Context) error {
		return m.meetings.DeleteMeeting(ctx, organizerID, mt.EventID)
	})
}

func (m *Manager) buildNotices(a Appointment, typ string, ch Channel) []Notification {
	var title, verb string
	switch typ {
	case NotificationBooked:
		title, verb = "Appointment booked", "is booked"
	case NotificationCancelled:
		title, verb = "Appointment cancelled", "was cancelled"
	default:
		title, verb = "Appointment updated", "was updated"
	}
	msg := fmt.Sprintf("The %s appointment on %s at %s %s.", a.Type, a.Date, a.StartTime, verb)

	apptID := a.ID
	now := m.now()
	return []Notification{
		{ID: m.newID(), UserID: a.PatientID, AppointmentID: &apptID, Type: typ, Channel: ch, Title: title, Message: msg, CreatedAt: now},
		{ID: m.newID(), UserID: a.DoctorID, AppointmentID: &apptID, Type: typ, Channel: ch, Title: title, Message: msg, CreatedAt: now},
	}
}

// dispatch sends post-commit notices to patient and doctor on every channel.
func (m *Manager) dispatch(ctx context.Context, a Appointment, typ string, channels []Channel) {
	if m.notifier == nil {
		return
	}
	for _, ch := range channels {
		notices := m.buildNotices(a, typ, ch)
		steps := []string{StepNotifyPatient, StepNotifyDoctor}
		for i, n := range notices {
			_ = m.effects.Run(ctx, steps[i], map[string]any{
				"appointment_id": a.ID.String(),
				"channel":        string(ch),
			}, func(ctx context.Context) error {
				return m.notifier.Notify(ctx, n)
			})
		}
	}
}

func (m *Manager) finish(span trace.Span, op string, err error) error {
	if err == nil {
		m.metrics.ObserveOperation(op, "ok")
		return nil
	}
	err = m.fail(span, err)
	m.metrics.ObserveOperation(op, outcome(err))
	if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrValidation) {
		m.logger.Error().Err(err).Str("operation", op).Msg("appointment operation failed")
	}
	return err
}

func (m *Manager) fail(span trace.Span, err error) error {
	err = translate(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// translate maps store level write conflicts onto the booking conflict kind.
func translate(err error) error {
	if errors.Is(err, db.ErrWriteConflict) && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("%w: %w", ErrWriteConflict, err)
	}
	return err
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "error"
	}
}
