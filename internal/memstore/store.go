// Package memstore keeps every booking table in process memory. It backs the
// api-server when STORE_BACKEND=memory and the lifecycle tests.
//
// Transactions are serial. Work done inside a unit of work, including the
// meeting call of a virtual booking, blocks every other request for as long as
// it runs, so that call is bounded by the manager's MEETING_TIMEOUT budget and
// provider credentials are loaded before the unit starts. Use the postgres
// backend when meeting providers are slow.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/db"
)

type txKey struct{}

// Store is safe for concurrent use. WithinTx holds the store lock for the
// whole unit of work, so transactions are serial; a failed or panicking unit
// leaves no trace.
type Store struct {
	mu sync.Mutex

	patients      map[uuid.UUID]appointment.Patient
	doctors       map[uuid.UUID]appointment.Doctor
	clinics       map[uuid.UUID]appointment.Clinic
	slots         map[uuid.UUID]appointment.TimeSlot
	appointments  map[uuid.UUID]appointment.Appointment
	audit         []appointment.AuditLogEntry
	notifications []appointment.Notification
	auditSeq      int64
}

func New() *Store {
	return &Store{
		patients:     make(map[uuid.UUID]appointment.Patient),
		doctors:      make(map[uuid.UUID]appointment.Doctor),
		clinics:      make(map[uuid.UUID]appointment.Clinic),
		slots:        make(map[uuid.UUID]appointment.TimeSlot),
		appointments: make(map[uuid.UUID]appointment.Appointment),
	}
}

type snapshot struct {
	patients     map[uuid.UUID]appointment.Patient
	doctors      map[uuid.UUID]appointment.Doctor
	clinics      map[uuid.UUID]appointment.Clinic
	slots        map[uuid.UUID]appointment.TimeSlot
	appointments map[uuid.UUID]appointment.Appointment
	audit        int
	notices      int
	auditSeq     int64
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		patients:     maps.Clone(s.patients),
		doctors:      maps.Clone(s.doctors),
		clinics:      maps.Clone(s.clinics),
		slots:        maps.Clone(s.slots),
		appointments: maps.Clone(s.appointments),
		audit:        len(s.audit),
		notices:      len(s.notifications),
		auditSeq:     s.auditSeq,
	}
}

func (s *Store) restore(snap snapshot) {
	s.patients = snap.patients
	s.doctors = snap.doctors
	s.clinics = snap.clinics
	s.slots = snap.slots
	s.appointments = snap.appointments
	s.audit = s.audit[:snap.audit]
	s.notifications = s.notifications[:snap.notices]
	s.auditSeq = snap.auditSeq
}

// WithinTx runs fn with exclusive access to the store. Any error or panic
// from fn restores the state seen at the start.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return db.ErrNestedTx
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.restore(snap)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		return err
	}
	// a unit of work that outlived its context does not commit
	if err := ctx.Err(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock takes the store lock unless ctx already runs inside this store's
// transaction. The returned func releases whatever was taken.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Seeding

func (s *Store) PutPatient(p appointment.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
}

func (s *Store) PutDoctor(d appointment.Doctor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doctors[d.ID] = d
}

func (s *Store) PutClinic(c appointment.Clinic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clinics[c.ID] = c
}

// Directory

func (s *Store) FindPatientByID(ctx context.Context, id uuid.UUID) (*appointment.Patient, error) {
	defer s.lock(ctx)()
	p, ok := s.patients[id]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	return &p, nil
}

func (s *Store) FindDoctorByID(ctx context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	defer s.lock(ctx)()
	d, ok := s.doctors[id]
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	return &d, nil
}

func (s *Store) FindClinicByID(ctx context.Context, id uuid.UUID) (*appointment.Clinic, error) {
	defer s.lock(ctx)()
	c, ok := s.clinics[id]
	if !ok {
		return nil, appointment.ErrClinicNotFound
	}
	return &c, nil
}

func (s *Store) FindContact(ctx context.Context, userID uuid.UUID) (*appointment.Contact, error) {
	defer s.lock(ctx)()
	if p, ok := s.patients[userID]; ok {
		return &appointment.Contact{UserID: p.ID, Name: p.Name, Email: p.Email, Phone: p.Phone}, nil
	}
	if d, ok := s.doctors[userID]; ok {
		return &appointment.Contact{UserID: d.ID, Name: d.Name, Email: d.Email, Phone: d.Phone}, nil
	}
	return nil, appointment.ErrContactNotFound
}

// Slots

func (s *Store) FindSlotByID(ctx context.Context, id uuid.UUID) (*appointment.TimeSlot, error) {
	defer s.lock(ctx)()
	slot, ok := s.slots[id]
	if !ok {
		return nil, appointment.ErrSlotNotFound
	}
	return cloneSlot(slot), nil
}

// FindSlotByIDForUpdate is FindSlotByID; the transaction lock already
// excludes other writers.
func (s *Store) FindSlotByIDForUpdate(ctx context.Context, id uuid.UUID) (*appointment.TimeSlot, error) {
	return s.FindSlotByID(ctx, id)
}

func (s *Store) InsertSlot(ctx context.Context, slot *appointment.TimeSlot) error {
	defer s.lock(ctx)()
	if _, ok := s.doctors[slot.DoctorID]; !ok {
		return appointment.ErrDoctorNotFound
	}
	if _, ok := s.slots[slot.ID]; ok {
		return fmt.Errorf("%w: slot %s exists", db.ErrWriteConflict, slot.ID)
	}
	s.slots[slot.ID] = *cloneSlot(*slot)
	return nil
}

func (s *Store) UpdateSlot(ctx context.Context, slot *appointment.TimeSlot) error {
	defer s.lock(ctx)()
	if _, ok := s.slots[slot.ID]; !ok {
		return appointment.ErrSlotNotFound
	}
	s.slots[slot.ID] = *cloneSlot(*slot)
	return nil
}

func (s *Store) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	defer s.lock(ctx)()
	if _, ok := s.slots[id]; !ok {
		return appointment.ErrSlotNotFound
	}
	delete(s.slots, id)
	return nil
}

func (s *Store) ListSlots(ctx context.Context, f appointment.SlotFilter) ([]appointment.TimeSlot, error) {
	defer s.lock(ctx)()
	var out []appointment.TimeSlot
	for _, slot := range s.slots {
		if f.DoctorID != nil && slot.DoctorID != *f.DoctorID {
			continue
		}
		if f.Date != "" && slot.Date != f.Date {
			continue
		}
		if f.Status != nil && slot.Status != *f.Status {
			continue
		}
		out = append(out, *cloneSlot(slot))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

// Appointments

func (s *Store) FindAppointmentByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	defer s.lock(ctx)()
	a, ok := s.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return cloneAppointment(a), nil
}

func (s *Store) FindAppointmentByIDForUpdate(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return s.FindAppointmentByID(ctx, id)
}

func (s *Store) InsertAppointment(ctx context.Context, a *appointment.Appointment) error {
	defer s.lock(ctx)()
	if _, ok := s.appointments[a.ID]; ok {
		return fmt.Errorf("%w: appointment %s exists", db.ErrWriteConflict, a.ID)
	}
	if err := s.checkSlotHolder(*a); err != nil {
		return err
	}
	s.appointments[a.ID] = *cloneAppointment(*a)
	return nil
}

// UpdateAppointment leaves the reminder log alone, like the Postgres store.
func (s *Store) UpdateAppointment(ctx context.Context, a *appointment.Appointment) error {
	defer s.lock(ctx)()
	cur, ok := s.appointments[a.ID]
	if !ok {
		return appointment.ErrAppointmentNotFound
	}
	if err := s.checkSlotHolder(*a); err != nil {
		return err
	}
	next := *cloneAppointment(*a)
	next.Reminders = cur.Reminders
	next.CreatedAt = cur.CreatedAt
	next.CreatedBy = cur.CreatedBy
	s.appointments[a.ID] = next
	return nil
}

// checkSlotHolder mirrors the partial unique index: one live appointment per slot.
func (s *Store) checkSlotHolder(a appointment.Appointment) error {
	if a.Status == appointment.StatusCancelled {
		return nil
	}
	for id, other := range s.appointments {
		if id != a.ID && other.TimeSlotID == a.TimeSlotID && other.Status != appointment.StatusCancelled {
			return fmt.Errorf("%w: slot %s already held by %s", db.ErrWriteConflict, a.TimeSlotID, id)
		}
	}
	return nil
}

func (s *Store) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	defer s.lock(ctx)()
	if _, ok := s.appointments[id]; !ok {
		return appointment.ErrAppointmentNotFound
	}
	delete(s.appointments, id)
	return nil
}

func (s *Store) ListAppointments(ctx context.Context, f appointment.ListFilter, p appointment.Page) ([]appointment.Appointment, int, error) {
	defer s.lock(ctx)()

	var all []appointment.Appointment
	for _, a := range s.appointments {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.ClinicID != nil && (a.ClinicID == nil || *a.ClinicID != *f.ClinicID) {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.DateFrom != "" && a.Date < f.DateFrom {
			continue
		}
		if f.DateTo != "" && a.Date > f.DateTo {
			continue
		}
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Date != all[j].Date {
			return all[i].Date > all[j].Date
		}
		return all[i].StartTime > all[j].StartTime
	})

	total := len(all)
	if p.Offset >= total {
		return []appointment.Appointment{}, total, nil
	}
	end := min(p.Offset+p.Limit, total)

	out := make([]appointment.Appointment, 0, end-p.Offset)
	for _, a := range all[p.Offset:end] {
		out = append(out, *cloneAppointment(a))
	}
	return out, total, nil
}

func (s *Store) ListUpcomingByPatient(ctx context.Context, patientID uuid.UUID, fromDate string) ([]appointment.Appointment, error) {
	defer s.lock(ctx)()
	var out []appointment.Appointment
	for _, a := range s.appointments {
		if a.PatientID != patientID || a.Date < fromDate {
			continue
		}
		if a.Status != appointment.StatusScheduled && a.Status != appointment.StatusCheckedIn {
			continue
		}
		out = append(out, *cloneAppointment(a))
	}
	sortAscending(out)
	return out, nil
}

func (s *Store) ListReminderCandidates(ctx context.Context, fromDate, toDate string) ([]appointment.Appointment, error) {
	defer s.lock(ctx)()
	var out []appointment.Appointment
	for _, a := range s.appointments {
		if a.Status != appointment.StatusScheduled || a.Date < fromDate || a.Date > toDate {
			continue
		}
		out = append(out, *cloneAppointment(a))
	}
	sortAscending(out)
	return out, nil
}

func (s *Store) AppendReminder(ctx context.Context, id uuid.UUID, entry appointment.ReminderEntry) error {
	defer s.lock(ctx)()
	a, ok := s.appointments[id]
	if !ok {
		return appointment.ErrAppointmentNotFound
	}
	a.Reminders = append(slices.Clone(a.Reminders), entry)
	s.appointments[id] = a
	return nil
}

// Audit and inbox

func (s *Store) RecordAudit(ctx context.Context, e appointment.AuditLogEntry) error {
	defer s.lock(ctx)()
	s.auditSeq++
	e.ID = s.auditSeq
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.Details = maps.Clone(e.Details)
	s.audit = append(s.audit, e)
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, resourceID uuid.UUID) ([]appointment.AuditLogEntry, error) {
	defer s.lock(ctx)()
	var out []appointment.AuditLogEntry
	for _, e := range s.audit {
		if e.ResourceID == resourceID {
			e.Details = maps.Clone(e.Details)
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) InsertNotification(ctx context.Context, n appointment.Notification) error {
	defer s.lock(ctx)()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	s.notifications = append(s.notifications, n)
	return nil
}

// ListNotifications returns the user's inbox, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]appointment.Notification, error) {
	defer s.lock(ctx)()
	if limit <= 0 || limit > appointment.MaxPageSize {
		limit = appointment.DefaultPageSize
	}
	var out []appointment.Notification
	for i := len(s.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if s.notifications[i].UserID == userID {
			out = append(out, s.notifications[i])
		}
	}
	return out, nil
}

func sortAscending(appts []appointment.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].Date != appts[j].Date {
			return appts[i].Date < appts[j].Date
		}
		return appts[i].StartTime < appts[j].StartTime
	})
}

func cloneSlot(s appointment.TimeSlot) *appointment.TimeSlot {
	if s.AppointmentID != nil {
		id := *s.AppointmentID
		s.AppointmentID = &id
	}
	return &s
}

func cloneAppointment(a appointment.Appointment) *appointment.Appointment {
	a.Reminders = slices.Clone(a.Reminders)
	return &a
}
