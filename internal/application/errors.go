package application

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned by stores when a (date, time slot) pair already has a live record.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrConfigUnavailable is returned when no active, non-emergency-closed registration config exists.
	ErrConfigUnavailable = errors.New("application: registration configuration unavailable")
	// ErrWindowClosed is returned when the resolved tier's admission window is closed.
	ErrWindowClosed = errors.New("application: registration window closed")
	// ErrQuotaExceeded is returned when a new booking would exceed the weekly limit.
	ErrQuotaExceeded = errors.New("application: weekly quota exceeded")
	// ErrFrequencyLimited is returned when the register action is cooling down.
	ErrFrequencyLimited = errors.New("application: frequency limited")
	// ErrLockConflict is returned when another user's editing lock or an operator lock blocks the action.
	ErrLockConflict = errors.New("application: lock conflict")
	// ErrStaleWrite is returned when the slot changed remotely since it was last read.
	ErrStaleWrite = errors.New("application: stale write")
	// ErrTransportFailure wraps remote collaborator failures.
	ErrTransportFailure = errors.New("application: transport failure")
	// ErrDateOutOfRange is returned when a slot date lies outside the bookable weeks.
	ErrDateOutOfRange = errors.New("application: date outside bookable range")
	// ErrDisconnected is returned when the change feed could not be re-established.
	ErrDisconnected = errors.New("application: change feed disconnected")
)

// DeniedError is an admission or throttling denial carrying a user-facing message.
type DeniedError struct {
	Reason        error
	Message       string
	CooldownUntil *time.Time
}

func (e *DeniedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return fmt.Sprintf("denied: %v", e.Reason)
	}
	return e.Message
}

// Unwrap returns the denial reason sentinel.
func (e *DeniedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Reason
}

func deny(reason error, message string) *DeniedError {
	return &DeniedError{Reason: reason, Message: message}
}

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// orNil returns v as an error only when it carries field errors.
func (v *ValidationError) orNil() error {
	if v.HasErrors() {
		return v
	}
	return nil
}
