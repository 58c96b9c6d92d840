package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-appointment-booking/internal/db"
)

// PgRepository implements every store the booking core needs on Postgres.
// Each query runs on the transaction carried by ctx when there is one.
type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool db.Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const slotColumns = `id, doctor_id, to_char(slot_date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI'),
	to_char(end_time, 'HH24:MI'), status, appointment_id, created_at, updated_at`

const appointmentColumns = `id, patient_id, doctor_id, time_slot_id, clinic_id,
	to_char(appt_date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
	type, status, reason_for_visit, notes, is_virtual, meeting_link, external_event_id,
	cancellation_reason, cancelled_at, reminders_sent, created_by, updated_by, created_at, updated_at`

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Email, &d.Phone, &d.Specialty, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	err := row.Scan(&c.ID, &c.Name, &c.Address, &c.Timezone, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot
	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.AppointmentID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a         Appointment
		reminders []byte
	)
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.TimeSlotID,
		&a.ClinicID,
		&a.Date,
		&a.StartTime,
		&a.EndTime,
		&a.Type,
		&a.Status,
		&a.ReasonForVisit,
		&a.Notes,
		&a.IsVirtual,
		&a.MeetingLink,
		&a.ExternalEventID,
		&a.CancellationReason,
		&a.CancelledAt,
		&reminders,
		&a.CreatedBy,
		&a.UpdatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	if len(reminders) > 0 {
		if err := json.Unmarshal(reminders, &a.Reminders); err != nil {
			return nil, fmt.Errorf("decode reminders of %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Directory

func (r *PgRepository) FindPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) FindDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, email, phone, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) FindClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, address, timezone, created_at, updated_at
		FROM clinics
		WHERE id = $1
	`, id)
	return scanClinic(row)
}

func (r *PgRepository) FindContact(ctx context.Context, userID uuid.UUID) (*Contact, error) {
	var c Contact
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, email, phone FROM patients WHERE id = $1
		UNION ALL
		SELECT id, name, email, phone FROM doctors WHERE id = $1
		LIMIT 1
	`, userID).Scan(&c.UserID, &c.Name, &c.Email, &c.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Slots

func (r *PgRepository) FindSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (r *PgRepository) FindSlotByIDForUpdate(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE id = $1 FOR UPDATE`, id)
	return scanSlot(row)
}

func (r *PgRepository) InsertSlot(ctx context.Context, s *TimeSlot) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO time_slots (id, doctor_id, slot_date, start_time, end_time, status, appointment_id, created_at, updated_at)
		VALUES ($1, $2, $3::text::date, $4::text::time, $5::text::time, $6, $7, $8, $9)
	`, s.ID, s.DoctorID, s.Date, s.StartTime, s.EndTime, string(s.Status), s.AppointmentID, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateSlot(ctx context.Context, s *TimeSlot) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE time_slots
		SET status = $2,
		    appointment_id = $3,
		    updated_at = $4
		WHERE id = $1
	`, s.ID, string(s.Status), s.AppointmentID, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *PgRepository) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM time_slots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *PgRepository) ListSlots(ctx context.Context, f SlotFilter) ([]TimeSlot, error) {
	var (
		where []string
		args  []any
	)
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		where = append(where, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if f.Date != "" {
		args = append(args, f.Date)
		where = append(where, fmt.Sprintf("slot_date = $%d::text::date", len(args)))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	q := `SELECT ` + slotColumns + ` FROM time_slots`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY slot_date, start_time`

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSlot)
}

// Appointments

func (r *PgRepository) FindAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindAppointmentByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	reminders, err := encodeReminders(a.Reminders)
	if err != nil {
		return err
	}

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, time_slot_id, clinic_id, appt_date, start_time, end_time,
			type, status, reason_for_visit, notes, is_virtual, meeting_link, external_event_id,
			cancellation_reason, cancelled_at, reminders_sent, created_by, updated_by, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6::text::date, $7::text::time, $8::text::time,
			$9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22
		)
	`,
		a.ID, a.PatientID, a.DoctorID, a.TimeSlotID, a.ClinicID, a.Date, a.StartTime, a.EndTime,
		string(a.Type), string(a.Status), a.ReasonForVisit, a.Notes, a.IsVirtual, a.MeetingLink, a.ExternalEventID,
		a.CancellationReason, a.CancelledAt, reminders, a.CreatedBy, a.UpdatedBy, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// UpdateAppointment rewrites the mutable columns. The reminder log is only
// changed through AppendReminder.
func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments
		SET time_slot_id = $2,
		    clinic_id = $3,
		    appt_date = $4::text::date,
		    start_time = $5::text::time,
		    end_time = $6::text::time,
		    type = $7,
		    status = $8,
		    reason_for_visit = $9,
		    notes = $10,
		    is_virtual = $11,
		    meeting_link = $12,
		    external_event_id = $13,
		    cancellation_reason = $14,
		    cancelled_at = $15,
		    updated_by = $16,
		    updated_at = $17
		WHERE id = $1
	`,
		a.ID, a.TimeSlotID, a.ClinicID, a.Date, a.StartTime, a.EndTime,
		string(a.Type), string(a.Status), a.ReasonForVisit, a.Notes, a.IsVirtual,
		a.MeetingLink, a.ExternalEventID, a.CancellationReason, a.CancelledAt, a.UpdatedBy, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter, p Page) ([]Appointment, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.ClinicID != nil {
		add("clinic_id = $%d", *f.ClinicID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.DateFrom != "" {
		add("appt_date >= $%d::text::date", f.DateFrom)
	}
	if f.DateTo != "" {
		add("appt_date <= $%d::text::date", f.DateTo)
	}

	cond := ""
	if len(where) > 0 {
		cond = ` WHERE ` + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT count(*) FROM appointments`+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM appointments%s ORDER BY appt_date DESC, start_time DESC LIMIT $%d OFFSET $%d`,
		appointmentColumns, cond, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, q, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows, scanAppointment)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *PgRepository) ListUpcomingByPatient(ctx context.Context, patientID uuid.UUID, fromDate string) ([]Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND status IN ('scheduled', 'checked-in')
		  AND appt_date >= $2::text::date
		ORDER BY appt_date, start_time
	`, patientID, fromDate)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) ListReminderCandidates(ctx context.Context, fromDate, toDate string) ([]Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND appt_date BETWEEN $1::text::date AND $2::text::date
		ORDER BY appt_date, start_time
	`, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) AppendReminder(ctx context.Context, id uuid.UUID, entry ReminderEntry) error {
	data, err := encodeReminders([]ReminderEntry{entry})
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments
		SET reminders_sent = reminders_sent || $2::jsonb
		WHERE id = $1
	`, id, data)
	if err != nil {
		return fmt.Errorf("append reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func encodeReminders(entries []ReminderEntry) ([]byte, error) {
	if entries == nil {
		entries = []ReminderEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode reminders: %w", err)
	}
	return data, nil
}

// Audit and inbox

func (r *PgRepository) RecordAudit(ctx context.Context, e AuditLogEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_logs (action, resource_type, resource_id, user_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
	`, string(e.Action), e.ResourceType, e.ResourceID, e.UserID, details, nullableTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListAuditLogs returns the audit trail of one resource, oldest first.
func (r *PgRepository) ListAuditLogs(ctx context.Context, resourceID uuid.UUID) ([]AuditLogEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, action, resource_type, resource_id, user_id, details, created_at
		FROM audit_logs
		WHERE resource_id = $1
		ORDER BY id
	`, resourceID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Row) (*AuditLogEntry, error) {
		var (
			e       AuditLogEntry
			details []byte
		)
		if err := row.Scan(&e.ID, &e.Action, &e.ResourceType, &e.ResourceID, &e.UserID, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		return &e, nil
	})
}

func (r *PgRepository) InsertNotification(ctx context.Context, n Notification) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO notifications (id, user_id, appointment_id, type, channel, title, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
	`, n.ID, n.UserID, n.AppointmentID, n.Type, string(n.Channel), n.Title, n.Message, nullableTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *PgRepository) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]Notification, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, user_id, appointment_id, type, channel, title, message, created_at, read_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Row) (*Notification, error) {
		var n Notification
		err := row.Scan(&n.ID, &n.UserID, &n.AppointmentID, &n.Type, &n.Channel, &n.Title, &n.Message, &n.CreatedAt, &n.ReadAt)
		if err != nil {
			return nil, err
		}
		return &n, nil
	})
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
