package slot

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrLockConflict is returned when another holder or an operator lock blocks the action.
	ErrLockConflict = errors.New("slot: lock conflict")
	// ErrAccessDenied is returned when the acting user has no claim on the slot.
	ErrAccessDenied = errors.New("slot: access denied")
	// ErrInvalidTransition is returned when the event does not apply to the current status.
	ErrInvalidTransition = errors.New("slot: invalid transition")
	// ErrInvalidParticipants is returned when a confirmation does not name exactly two distinct users.
	ErrInvalidParticipants = errors.New("slot: invalid participants")
)

// ConflictError describes why a slot cannot be acted upon. HolderMismatch marks
// actions against an editing lock the caller does not hold; those also match
// ErrAccessDenied.
type ConflictError struct {
	Message        string
	HolderMismatch bool
}

func (e *ConflictError) Error() string {
	return e.Message
}

// Unwrap exposes the sentinels the conflict matches.
func (e *ConflictError) Unwrap() []error {
	if e.HolderMismatch {
		return []error{ErrLockConflict, ErrAccessDenied}
	}
	return []error{ErrLockConflict}
}

func editedBy(holder string) error {
	return &ConflictError{Message: fmt.Sprintf("slot is being edited by %s", holder), HolderMismatch: true}
}

func lockedBy(s Slot) error {
	reason := strings.TrimSpace(s.LockReason)
	if reason == "" {
		reason = string(s.LockType)
	}
	return &ConflictError{Message: fmt.Sprintf("slot is locked: %s", reason)}
}

func invalid(s Slot, event string) error {
	return fmt.Errorf("%w: cannot %s a %s slot", ErrInvalidTransition, event, s.Status)
}

// Details carries the optional form fields captured on confirmation.
type Details struct {
	Location     string
	PropertyType string
}

// NewEditing builds the record created when a user opens an empty slot.
func NewEditing(key Key, userID string, now time.Time, lockFor time.Duration) Slot {
	return Slot{
		Date:             key.Date,
		TimeSlotID:       key.TimeSlotID,
		Status:           StatusEditing,
		ParticipantIDs:   []string{userID},
		CreatedBy:        userID,
		EditingBy:        userID,
		EditingAt:        timePtr(now),
		EditingExpiresAt: timePtr(now.Add(lockFor)),
		LockType:         LockNone,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Placeholder builds an empty available record so an operator can lock a slot nobody has touched.
func Placeholder(key Key, operatorID string, now time.Time) Slot {
	return Slot{
		Date:           key.Date,
		TimeSlotID:     key.TimeSlotID,
		Status:         StatusAvailable,
		ParticipantIDs: []string{},
		CreatedBy:      operatorID,
		LockType:       LockNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Claim takes the editing lock on an existing record that holds no booking:
// an available slot, an editing slot whose lock expired, or one the user already holds.
func Claim(s Slot, userID string, now time.Time, lockFor time.Duration) (Slot, error) {
	switch s.Status {
	case StatusLocked:
		return s, lockedBy(s)
	case StatusBooked:
		return s, invalid(s, "claim")
	case StatusEditing:
		if s.EditLockActive(now) && !s.HeldBy(userID) {
			return s, editedBy(s.EditingBy)
		}
	}

	out := s.Clone()
	out.Status = StatusEditing
	out.ParticipantIDs = []string{userID}
	out.EditingBy = userID
	out.EditingAt = timePtr(now)
	out.EditingExpiresAt = timePtr(now.Add(lockFor))
	out.UpdatedAt = now
	return out, nil
}

// Amend takes the editing lock on a booked slot without changing its status.
func Amend(s Slot, userID string, now time.Time, lockFor time.Duration) (Slot, error) {
	switch s.Status {
	case StatusLocked:
		return s, lockedBy(s)
	case StatusBooked:
	default:
		return s, invalid(s, "amend")
	}
	if s.EditLockActive(now) && !s.HeldBy(userID) {
		return s, editedBy(s.EditingBy)
	}
	if !s.Involves(userID) {
		return s, fmt.Errorf("%w: %s is not part of this booking", ErrAccessDenied, userID)
	}

	out := s.Clone()
	out.EditingBy = userID
	out.EditingAt = timePtr(now)
	out.EditingExpiresAt = timePtr(now.Add(lockFor))
	out.UpdatedAt = now
	return out, nil
}

// ValidateParticipants checks a confirmation names exactly two distinct users.
func ValidateParticipants(ids []string) error {
	if len(ids) != MaxParticipants {
		return fmt.Errorf("%w: exactly %d participants are required", ErrInvalidParticipants, MaxParticipants)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: participant ids must not be empty", ErrInvalidParticipants)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: participants must be distinct", ErrInvalidParticipants)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Confirm completes an edit held by userID and books the slot.
func Confirm(s Slot, userID string, participants []string, details Details, now time.Time) (Slot, error) {
	switch s.Status {
	case StatusLocked:
		return s, lockedBy(s)
	case StatusEditing, StatusBooked:
	default:
		return s, invalid(s, "confirm")
	}
	if !s.HeldBy(userID) {
		if s.EditLockActive(now) {
			return s, editedBy(s.EditingBy)
		}
		return s, &ConflictError{Message: "editing lock is not held", HolderMismatch: true}
	}
	if err := ValidateParticipants(participants); err != nil {
		return s, err
	}

	out := s.Clone()
	out.Status = StatusBooked
	out.ParticipantIDs = append([]string(nil), participants...)
	out.Location = details.Location
	out.PropertyType = details.PropertyType
	clearEditing(&out)
	out.UpdatedAt = now
	return out, nil
}

// CancelOutcome tells the caller how to persist a cancelled edit.
type CancelOutcome int

const (
	// CancelDelete removes the record created for the abandoned edit.
	CancelDelete CancelOutcome = iota + 1
	// CancelRestore writes back the booked slot with its editing lock cleared.
	CancelRestore
)

// Cancel abandons an edit. The caller must hold the lock unless it has expired.
func Cancel(s Slot, userID string, now time.Time) (Slot, CancelOutcome, error) {
	switch s.Status {
	case StatusLocked:
		return s, 0, lockedBy(s)
	case StatusEditing:
		if s.EditLockActive(now) && !s.HeldBy(userID) {
			return s, 0, editedBy(s.EditingBy)
		}
		return s, CancelDelete, nil
	case StatusBooked:
		if s.EditingBy == "" {
			return s, 0, invalid(s, "cancel an edit on")
		}
		if s.EditLockActive(now) && !s.HeldBy(userID) {
			return s, 0, editedBy(s.EditingBy)
		}
		out := s.Clone()
		clearEditing(&out)
		out.UpdatedAt = now
		return out, CancelRestore, nil
	default:
		return s, 0, invalid(s, "cancel an edit on")
	}
}

// Release returns a booked slot to available. Operators may release any booking.
func Release(s Slot, userID string, operator bool, now time.Time) (Slot, error) {
	switch s.Status {
	case StatusLocked:
		return s, lockedBy(s)
	case StatusBooked:
	default:
		return s, invalid(s, "release")
	}
	if s.EditLockActive(now) && !s.HeldBy(userID) {
		return s, editedBy(s.EditingBy)
	}
	if !operator && !s.Involves(userID) {
		return s, fmt.Errorf("%w: %s is not part of this booking", ErrAccessDenied, userID)
	}

	out := s.Clone()
	out.Status = StatusAvailable
	out.ParticipantIDs = []string{}
	clearEditing(&out)
	out.UpdatedAt = now
	return out, nil
}

// Lock applies an operator lock.
func Lock(s Slot, lockType LockType, reason string, endTime *time.Time, now time.Time) (Slot, error) {
	switch s.Status {
	case StatusLocked:
		return s, lockedBy(s)
	case StatusEditing:
		if s.EditLockActive(now) {
			return s, editedBy(s.EditingBy)
		}
	case StatusBooked:
		if s.EditLockActive(now) {
			return s, editedBy(s.EditingBy)
		}
	}
	if lockType == "" || lockType == LockNone {
		lockType = LockManual
	}

	out := s.Clone()
	if out.Status == StatusEditing {
		out.ParticipantIDs = []string{}
	}
	out.Status = StatusLocked
	out.LockType = lockType
	out.LockReason = reason
	out.LockEndTime = cloneTime(endTime)
	clearEditing(&out)
	out.UpdatedAt = now
	return out, nil
}

// Unlock lifts an operator lock and leaves the slot empty.
func Unlock(s Slot, now time.Time) (Slot, error) {
	if s.Status != StatusLocked {
		return s, invalid(s, "unlock")
	}
	out := s.Clone()
	out.Status = StatusAvailable
	out.ParticipantIDs = []string{}
	clearLock(&out)
	out.UpdatedAt = now
	return out, nil
}

// Expiry classifies what a sweep did to a slot.
type Expiry int

const (
	ExpiryNone Expiry = iota
	// ExpiryEdit reverted an abandoned editing slot to available.
	ExpiryEdit
	// ExpiryAmend dropped a stale editing lock on a booked slot.
	ExpiryAmend
	// ExpiryLock lifted an operator lock whose end time passed.
	ExpiryLock
)

// Expire applies the periodic sweep to s.
func Expire(s Slot, now time.Time) (Slot, Expiry) {
	switch s.Status {
	case StatusEditing:
		if s.EditingExpiresAt == nil || !s.EditingExpiresAt.Before(now) {
			return s, ExpiryNone
		}
		out := s.Clone()
		out.Status = StatusAvailable
		out.ParticipantIDs = []string{}
		clearEditing(&out)
		out.UpdatedAt = now
		return out, ExpiryEdit
	case StatusBooked:
		if s.EditingExpiresAt == nil || !s.EditingExpiresAt.Before(now) {
			return s, ExpiryNone
		}
		out := s.Clone()
		clearEditing(&out)
		out.UpdatedAt = now
		return out, ExpiryAmend
	case StatusLocked:
		if s.LockEndTime == nil || !s.LockEndTime.Before(now) {
			return s, ExpiryNone
		}
		if ValidateParticipants(s.ParticipantIDs) != nil {
			out, _ := Unlock(s, now)
			return out, ExpiryLock
		}
		// A lapsed lock over a complete booking hands the slot back to its participants.
		out := s.Clone()
		out.Status = StatusBooked
		clearLock(&out)
		out.UpdatedAt = now
		return out, ExpiryLock
	}
	return s, ExpiryNone
}

func clearEditing(s *Slot) {
	s.EditingBy = ""
	s.EditingAt = nil
	s.EditingExpiresAt = nil
}

func clearLock(s *Slot) {
	s.LockType = LockNone
	s.LockReason = ""
	s.LockEndTime = nil
}
