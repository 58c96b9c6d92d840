package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-booking/internal/db"
)

var (
	slotCols = []string{"id", "doctor_id", "slot_date", "start_time", "end_time", "status", "appointment_id", "created_at", "updated_at"}
	apptCols = []string{
		"id", "patient_id", "doctor_id", "time_slot_id", "clinic_id", "appt_date", "start_time", "end_time",
		"type", "status", "reason_for_visit", "notes", "is_virtual", "meeting_link", "external_event_id",
		"cancellation_reason", "cancelled_at", "reminders_sent", "created_by", "updated_by", "created_at", "updated_at",
	}
)

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPgRepository(mock)
}

func TestPgRepository_FindSlotForUpdate_NotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("FROM time_slots WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(slotCols))

	_, err := repo.FindSlotByIDForUpdate(context.Background(), id)
	assert.ErrorIs(t, err, ErrSlotNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_ReserveInsideTransaction(t *testing.T) {
	mock, repo := newMockRepo(t)
	slotID, doctorID, apptID := uuid.New(), uuid.New(), uuid.New()
	now := time.Date(2025, 5, 30, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM time_slots WHERE id = \\$1 FOR UPDATE").
		WithArgs(slotID).
		WillReturnRows(pgxmock.NewRows(slotCols).
			AddRow(slotID, doctorID, "2025-06-01", "09:00", "09:30", "available", nil, now, now))
	mock.ExpectExec("UPDATE time_slots").
		WithArgs(slotID, "booked", &apptID, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	tx := db.NewTxManager(mock, time.Second)
	slots := NewSlotReservations(tx, repo, repo, func() time.Time { return now })

	var got *TimeSlot
	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		var err error
		got, err = slots.Reserve(ctx, slotID, apptID)
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, SlotBooked, got.Status)
	assert.Equal(t, apptID, *got.AppointmentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_ReserveBookedSlotRollsBack(t *testing.T) {
	mock, repo := newMockRepo(t)
	slotID, other := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM time_slots WHERE id = \\$1 FOR UPDATE").
		WithArgs(slotID).
		WillReturnRows(pgxmock.NewRows(slotCols).
			AddRow(slotID, uuid.New(), "2025-06-01", "09:00", "09:30", "booked", &other, now, now))
	mock.ExpectRollback()

	tx := db.NewTxManager(mock, 0)
	slots := NewSlotReservations(tx, repo, repo, nil)

	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		_, err := slots.Reserve(ctx, slotID, uuid.New())
		return err
	})

	assert.ErrorIs(t, err, ErrSlotAlreadyBooked)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_UpdateSlotMissingRow(t *testing.T) {
	mock, repo := newMockRepo(t)
	s := &TimeSlot{ID: uuid.New(), Status: SlotAvailable, UpdatedAt: time.Now()}

	mock.ExpectExec("UPDATE time_slots").
		WithArgs(s.ID, "available", s.AppointmentID, s.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.UpdateSlot(context.Background(), s)
	assert.ErrorIs(t, err, ErrSlotNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_FindAppointmentDecodesReminders(t *testing.T) {
	mock, repo := newMockRepo(t)
	id, patientID, doctorID, slotID, actor := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()
	now := time.Now().UTC()
	reminders := []byte(`[{"channel":"email","sent_at":"2025-06-01T08:00:00Z","status":"sent"}]`)

	mock.ExpectQuery("FROM appointments WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(apptCols).AddRow(
			id, patientID, doctorID, slotID, nil, "2025-06-01", "09:00", "09:30",
			"virtual", "scheduled", "checkup", "", true, nil, nil,
			nil, nil, reminders, actor, nil, now, now,
		))

	a, err := repo.FindAppointmentByID(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, TypeVirtual, a.Type)
	assert.Equal(t, StatusScheduled, a.Status)
	assert.Nil(t, a.ClinicID)
	require.Len(t, a.Reminders, 1)
	assert.True(t, a.ReminderSentVia(ChannelEmail))
	assert.False(t, a.ReminderSentVia(ChannelSMS))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_AppendReminder(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("SET reminders_sent = reminders_sent \\|\\| \\$2::jsonb").
		WithArgs(id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.AppendReminder(context.Background(), id, ReminderEntry{Channel: ChannelSMS, SentAt: time.Now(), Status: ReminderSent})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_RecordAuditUsesTransaction(t *testing.T) {
	mock, repo := newMockRepo(t)
	resource, actor := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs("delete", ResourceAppointment, resource, actor, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	tx := db.NewTxManager(mock, 0)
	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		return repo.RecordAudit(ctx, AuditLogEntry{
			Action:       AuditDelete,
			ResourceType: ResourceAppointment,
			ResourceID:   resource,
			UserID:       actor,
			Details:      map[string]any{"status": "scheduled"},
		})
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_ListAppointmentsBuildsFilter(t *testing.T) {
	mock, repo := newMockRepo(t)
	doctorID := uuid.New()
	status := StatusScheduled
	now := time.Now()

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM appointments WHERE doctor_id = \\$1 AND status = \\$2").
		WithArgs(doctorID, "scheduled").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("WHERE doctor_id = \\$1 AND status = \\$2 ORDER BY appt_date DESC, start_time DESC LIMIT \\$3 OFFSET \\$4").
		WithArgs(doctorID, "scheduled", 20, 0).
		WillReturnRows(pgxmock.NewRows(apptCols).AddRow(
			uuid.New(), uuid.New(), doctorID, uuid.New(), nil, "2025-06-01", "09:00", "09:30",
			"initial", "scheduled", "", "", false, nil, nil,
			nil, nil, []byte(`[]`), uuid.New(), nil, now, now,
		))

	items, total, err := repo.ListAppointments(context.Background(), ListFilter{DoctorID: &doctorID, Status: &status}, Page{}.Normalize())
	require.NoError(t, err)

	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, doctorID, items[0].DoctorID)
	assert.Empty(t, items[0].Reminders)
	assert.NoError(t, mock.ExpectationsWereMet())
}
