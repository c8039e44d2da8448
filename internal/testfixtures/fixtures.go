package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/session-booking/internal/application"
	"github.com/example/session-booking/internal/slot"
	"github.com/example/session-booking/internal/window"
)

var (
	configCounter uint64
	slotCounter   uint64
)

// ReferenceTime returns the canonical baseline instant used by fixtures:
// Monday 2026-10-12 10:00 in the reference zone.
func ReferenceTime() time.Time {
	return time.Date(2026, time.October, 12, 10, 0, 0, 0, window.ReferenceLocation())
}

// ReferenceDate returns the calendar date of ReferenceTime shifted by days.
func ReferenceDate(days int) slot.Date {
	return slot.DateOf(ReferenceTime().AddDate(0, 0, days), window.ReferenceLocation())
}

// Window builds a window from day numbers and HH:MM[:SS] strings.
func Window(openDay, closeDay window.DayOfWeek, openTime, closeTime string) window.Window {
	return window.Window{
		OpenDay:   openDay,
		CloseDay:  closeDay,
		OpenTime:  window.MustParseTimeOfDay(openTime),
		CloseTime: window.MustParseTimeOfDay(closeTime),
	}
}

// AlwaysOpen is a window covering the whole week.
func AlwaysOpen() window.Window {
	return Window(window.Monday, window.Sunday, "00:00:00", "23:59:59")
}

// ------------------------ Registration config fixtures ------------------------

// ConfigOption configures the generated registration config.
type ConfigOption func(*application.RegistrationConfig)

// NewRegistrationConfig returns an active config whose windows are always open,
// with weekly limits of 2 (normal) and 3 (privilege).
func NewRegistrationConfig(opts ...ConfigOption) *application.RegistrationConfig {
	idx := atomic.AddUint64(&configCounter, 1)
	created := ReferenceTime().Add(-time.Duration(idx) * time.Hour)
	cfg := &application.RegistrationConfig{
		ID:                   fmt.Sprintf("config-%03d", idx),
		NormalWindow:         AlwaysOpen(),
		PrivilegeWindow:      AlwaysOpen(),
		WeeklyLimitNormal:    2,
		WeeklyLimitPrivilege: 3,
		IsActive:             true,
		CreatedAt:            created,
		UpdatedAt:            created,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithNormalWindow overrides the normal tier window.
func WithNormalWindow(w window.Window) ConfigOption {
	return func(c *application.RegistrationConfig) {
		c.NormalWindow = w
	}
}

// WithPrivilegeWindow overrides the privilege tier window.
func WithPrivilegeWindow(w window.Window) ConfigOption {
	return func(c *application.RegistrationConfig) {
		c.PrivilegeWindow = w
	}
}

// WithWeeklyLimits overrides both weekly limits.
func WithWeeklyLimits(normal, privilege int) ConfigOption {
	return func(c *application.RegistrationConfig) {
		c.WeeklyLimitNormal = normal
		c.WeeklyLimitPrivilege = privilege
	}
}

// WithPrivilegeUsers sets the privilege user set.
func WithPrivilegeUsers(ids ...string) ConfigOption {
	return func(c *application.RegistrationConfig) {
		c.PrivilegeUserIDs = append([]string(nil), ids...)
	}
}

// WithEmergencyClosed sets the emergency stop flag.
func WithEmergencyClosed(closed bool) ConfigOption {
	return func(c *application.RegistrationConfig) {
		c.IsEmergencyClosed = closed
	}
}

// WithInactive marks the config inactive.
func WithInactive() ConfigOption {
	return func(c *application.RegistrationConfig) {
		c.IsActive = false
	}
}

// ------------------------------ Slot fixtures ------------------------------

// SlotOption configures the generated slot.
type SlotOption func(*slot.Slot)

// NewSlot returns an available slot record on the reference date.
func NewSlot(opts ...SlotOption) slot.Slot {
	idx := atomic.AddUint64(&slotCounter, 1)
	s := slot.Slot{
		ID:         fmt.Sprintf("fixture-slot-%03d", idx),
		Date:       ReferenceDate(0),
		TimeSlotID: fmt.Sprintf("ts-%02d", idx%24),
		Status:     slot.StatusAvailable,
		CreatedBy:  "fixture",
		LockType:   slot.LockNone,
		CreatedAt:  ReferenceTime(),
		UpdatedAt:  ReferenceTime(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithSlotID overrides the generated slot ID.
func WithSlotID(id string) SlotOption {
	return func(s *slot.Slot) {
		s.ID = id
	}
}

// WithSlotKey sets the date and time slot.
func WithSlotKey(date slot.Date, timeSlotID string) SlotOption {
	return func(s *slot.Slot) {
		s.Date = date
		s.TimeSlotID = timeSlotID
	}
}

// Booked marks the slot booked by participants.
func Booked(participants ...string) SlotOption {
	return func(s *slot.Slot) {
		s.Status = slot.StatusBooked
		s.ParticipantIDs = append([]string(nil), participants...)
		if len(participants) > 0 {
			s.CreatedBy = participants[0]
		}
	}
}

// Editing marks the slot held by userID until expiresAt.
func Editing(userID string, expiresAt time.Time) SlotOption {
	return func(s *slot.Slot) {
		at := expiresAt.Add(-5 * time.Minute)
		until := expiresAt
		s.Status = slot.StatusEditing
		s.EditingBy = userID
		s.EditingAt = &at
		s.EditingExpiresAt = &until
	}
}

// Locked applies an operator lock ending at endTime, or indefinite when nil.
func Locked(lockType slot.LockType, endTime *time.Time) SlotOption {
	return func(s *slot.Slot) {
		s.Status = slot.StatusLocked
		s.LockType = lockType
		s.LockReason = "fixture lock"
		if endTime != nil {
			end := *endTime
			s.LockEndTime = &end
		}
	}
}
