package slot

import (
	"errors"
	"fmt"
	"time"
)

// MaxParticipants is the number of participants a booked slot carries.
const MaxParticipants = 2

// Status is the lifecycle state of a slot record.
type Status string

const (
	StatusAvailable Status = "available"
	StatusEditing   Status = "editing"
	StatusBooked    Status = "booked"
	StatusLocked    Status = "locked"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusEditing, StatusBooked, StatusLocked:
		return true
	}
	return false
}

// LockType classifies operator locks.
type LockType string

const (
	LockNone        LockType = "none"
	LockManual      LockType = "manual"
	LockSystem      LockType = "system"
	LockMaintenance LockType = "maintenance"
)

// ParseLockType validates an operator-supplied lock type. Empty selects LockManual.
func ParseLockType(value string) (LockType, error) {
	switch LockType(value) {
	case "":
		return LockManual, nil
	case LockManual, LockSystem, LockMaintenance:
		return LockType(value), nil
	}
	return "", fmt.Errorf("slot: unknown lock type %q", value)
}

// Date is a calendar date in YYYY-MM-DD form. Dates order lexicographically.
type Date string

const dateLayout = "2006-01-02"

// ErrInvalidDate is returned when a date string is not YYYY-MM-DD.
var ErrInvalidDate = errors.New("slot: invalid date")

// ParseDate validates a YYYY-MM-DD string.
func ParseDate(value string) (Date, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return Date(t.Format(dateLayout)), nil
}

// DateOf returns the calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc != nil {
		t = t.In(loc)
	}
	return Date(t.Format(dateLayout))
}

// Time returns midnight of the date in loc.
func (d Date) Time(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(dateLayout, string(d), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, string(d))
	}
	return t, nil
}

// Within reports whether from <= d <= to.
func (d Date) Within(from, to Date) bool {
	return d >= from && d <= to
}

func (d Date) String() string {
	return string(d)
}

// Slot is one bookable (date, time slot) unit.
type Slot struct {
	ID               string
	Date             Date
	TimeSlotID       string
	Status           Status
	ParticipantIDs   []string
	CreatedBy        string
	EditingBy        string
	EditingAt        *time.Time
	EditingExpiresAt *time.Time
	LockType         LockType
	LockReason       string
	LockEndTime      *time.Time
	Location         string
	PropertyType     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Key identifies the live slot for a (date, time slot) pair.
type Key struct {
	Date       Date
	TimeSlotID string
}

// Key returns the uniqueness key of s.
func (s Slot) Key() Key {
	return Key{Date: s.Date, TimeSlotID: s.TimeSlotID}
}

// Clone returns a deep copy of s.
func (s Slot) Clone() Slot {
	out := s
	if s.ParticipantIDs != nil {
		out.ParticipantIDs = append([]string(nil), s.ParticipantIDs...)
	}
	out.EditingAt = cloneTime(s.EditingAt)
	out.EditingExpiresAt = cloneTime(s.EditingExpiresAt)
	out.LockEndTime = cloneTime(s.LockEndTime)
	return out
}

// HasParticipant reports whether userID is among the participants.
func (s Slot) HasParticipant(userID string) bool {
	for _, id := range s.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Involves reports whether userID created or participates in the slot.
func (s Slot) Involves(userID string) bool {
	return userID != "" && (s.CreatedBy == userID || s.HasParticipant(userID))
}

// EditLockActive reports whether an unexpired editing lock is held.
func (s Slot) EditLockActive(now time.Time) bool {
	return s.EditingBy != "" && s.EditingExpiresAt != nil && !now.After(*s.EditingExpiresAt)
}

// HeldBy reports whether userID holds an editing lock on s, expired or not.
func (s Slot) HeldBy(userID string) bool {
	return userID != "" && s.EditingBy == userID
}

// CheckInvariants validates the structural rules every persisted slot obeys.
func (s Slot) CheckInvariants() error {
	if !s.Status.Valid() {
		return fmt.Errorf("slot %s: unknown status %q", s.ID, s.Status)
	}
	if len(s.ParticipantIDs) > MaxParticipants {
		return fmt.Errorf("slot %s: %d participants exceeds %d", s.ID, len(s.ParticipantIDs), MaxParticipants)
	}
	if s.Status == StatusBooked && len(s.ParticipantIDs) != MaxParticipants {
		return fmt.Errorf("slot %s: booked with %d participants", s.ID, len(s.ParticipantIDs))
	}
	if s.Status == StatusEditing && (s.EditingBy == "" || s.EditingExpiresAt == nil) {
		return fmt.Errorf("slot %s: editing without lock holder", s.ID)
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
