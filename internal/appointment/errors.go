package appointment

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package matches one of these with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")
	ErrExternalService   = errors.New("external service failure")
)

var (
	ErrPatientNotFound     = kind("patient not found", ErrNotFound)
	ErrDoctorNotFound      = kind("doctor not found", ErrNotFound)
	ErrClinicNotFound      = kind("clinic not found", ErrNotFound)
	ErrSlotNotFound        = kind("slot not found", ErrNotFound)
	ErrAppointmentNotFound = kind("appointment not found", ErrNotFound)
	ErrContactNotFound     = kind("contact not found", ErrNotFound)

	ErrSlotAlreadyBooked = kind("slot already booked", ErrConflict)
	ErrSlotBlocked       = kind("slot is blocked", ErrConflict)
	ErrSlotBeingBooked   = kind("slot is currently being booked, please retry", ErrConflict)
	ErrSlotInUse         = kind("slot is booked and cannot be removed", ErrConflict)
	ErrWriteConflict     = kind("concurrent write, please retry", ErrConflict)
)

type kinded struct {
	msg  string
	kind error
}

func kind(msg string, k error) error { return &kinded{msg: msg, kind: k} }

func (e *kinded) Error() string { return e.msg }
func (e *kinded) Unwrap() error { return e.kind }

type TransitionError struct {
	From AppointmentStatus
	To   AppointmentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move appointment from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
