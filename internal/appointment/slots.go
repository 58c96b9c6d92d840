package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SlotReservations is the only code allowed to change a slot's status.
// Reserve and Release join the caller's transaction; the administrative
// operations open their own.
type SlotReservations struct {
	tx        Transactor
	slots     SlotStore
	directory Directory
	now       func() time.Time
	newID     func() uuid.UUID
}

func NewSlotReservations(tx Transactor, slots SlotStore, directory Directory, now func() time.Time) *SlotReservations {
	if now == nil {
		now = time.Now
	}
	return &SlotReservations{tx: tx, slots: slots, directory: directory, now: now, newID: uuid.New}
}

// Reserve books an available slot for appointmentID.
func (r *SlotReservations) Reserve(ctx context.Context, slotID, appointmentID uuid.UUID) (*TimeSlot, error) {
	slot, err := r.slots.FindSlotByIDForUpdate(ctx, slotID)
	if err != nil {
		return nil, err
	}

	switch slot.Status {
	case SlotAvailable:
	case SlotBlocked:
		return nil, ErrSlotBlocked
	default:
		return nil, ErrSlotAlreadyBooked
	}

	id := appointmentID
	slot.Status = SlotBooked
	slot.AppointmentID = &id
	slot.UpdatedAt = r.now()

	if err := r.slots.UpdateSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("book slot %s: %w", slotID, err)
	}
	return slot, nil
}

// Release makes a booked slot available again. Releasing an available slot
// is a no-op and blocked slots are left as they are.
func (r *SlotReservations) Release(ctx context.Context, slotID uuid.UUID) (*TimeSlot, error) {
	slot, err := r.slots.FindSlotByIDForUpdate(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.Status != SlotBooked {
		return slot, nil
	}
	return r.free(ctx, slot)
}

// ReleaseHeldBy releases the slot only while appointmentID still holds it.
func (r *SlotReservations) ReleaseHeldBy(ctx context.Context, slotID, appointmentID uuid.UUID) (*TimeSlot, error) {
	slot, err := r.slots.FindSlotByIDForUpdate(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.Status != SlotBooked || slot.AppointmentID == nil || *slot.AppointmentID != appointmentID {
		return slot, nil
	}
	return r.free(ctx, slot)
}

func (r *SlotReservations) free(ctx context.Context, slot *TimeSlot) (*TimeSlot, error) {
	slot.Status = SlotAvailable
	slot.AppointmentID = nil
	slot.UpdatedAt = r.now()

	if err := r.slots.UpdateSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("release slot %s: %w", slot.ID, err)
	}
	return slot, nil
}

// CreateSlot adds an available slot to a doctor's calendar.
func (r *SlotReservations) CreateSlot(ctx context.Context, doctorID uuid.UUID, date, start, end string) (*TimeSlot, error) {
	now := r.now()
	slot := &TimeSlot{
		ID:        r.newID(),
		DoctorID:  doctorID,
		Date:      date,
		StartTime: start,
		EndTime:   end,
		Status:    SlotAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := slot.Validate(); err != nil {
		return nil, err
	}

	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := r.directory.FindDoctorByID(ctx, doctorID); err != nil {
			return err
		}
		return r.slots.InsertSlot(ctx, slot)
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// Block takes an available slot out of booking.
func (r *SlotReservations) Block(ctx context.Context, slotID uuid.UUID) (*TimeSlot, error) {
	return r.toggle(ctx, slotID, SlotAvailable, SlotBlocked)
}

// Unblock returns a blocked slot to the bookable pool.
func (r *SlotReservations) Unblock(ctx context.Context, slotID uuid.UUID) (*TimeSlot, error) {
	return r.toggle(ctx, slotID, SlotBlocked, SlotAvailable)
}

func (r *SlotReservations) toggle(ctx context.Context, slotID uuid.UUID, from, to SlotStatus) (*TimeSlot, error) {
	var out *TimeSlot
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		slot, err := r.slots.FindSlotByIDForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		out = slot

		switch slot.Status {
		case to:
			return nil
		case SlotBooked:
			return ErrSlotAlreadyBooked
		case from:
		default:
			return fmt.Errorf("%w: slot status %q", ErrValidation, slot.Status)
		}

		slot.Status = to
		slot.UpdatedAt = r.now()
		return r.slots.UpdateSlot(ctx, slot)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSlot removes a slot that is not holding a booking.
func (r *SlotReservations) DeleteSlot(ctx context.Context, slotID uuid.UUID) error {
	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		slot, err := r.slots.FindSlotByIDForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.Status == SlotBooked {
			return ErrSlotInUse
		}
		return r.slots.DeleteSlot(ctx, slotID)
	})
}

func (r *SlotReservations) GetSlot(ctx context.Context, slotID uuid.UUID) (*TimeSlot, error) {
	return r.slots.FindSlotByID(ctx, slotID)
}

func (r *SlotReservations) ListSlots(ctx context.Context, f SlotFilter) ([]TimeSlot, error) {
	if f.Status != nil {
		switch *f.Status {
		case SlotAvailable, SlotBooked, SlotBlocked:
		default:
			return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown slot status %q", *f.Status)}
		}
	}
	if f.Date != "" {
		if _, err := time.Parse(dateLayout, f.Date); err != nil {
			return nil, &ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
		}
	}
	slots, err := r.slots.ListSlots(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return slots, nil
}
