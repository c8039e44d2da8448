package application

import (
	"context"
	"time"

	"github.com/example/session-booking/internal/slot"
	"github.com/example/session-booking/internal/window"
)

// Principal represents the acting user. Identity is established upstream.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// Tier is the admission class currently available to a user.
type Tier string

const (
	TierNormal Tier = "normal"
	TierVIP    Tier = "vip"
	TierNone   Tier = "none"
)

// Operation types recorded with the frequency remote.
const (
	OperationRegister = "register"
	OperationConfirm  = "confirm"
	OperationCancel   = "cancel"
	OperationRelease  = "release"
	OperationLock     = "lock"
	OperationUnlock   = "unlock"
)

// RegistrationConfig is the process-wide admission policy.
type RegistrationConfig struct {
	ID                   string
	NormalWindow         window.Window
	PrivilegeWindow      window.Window
	WeeklyLimitNormal    int
	WeeklyLimitPrivilege int
	PrivilegeUserIDs     []string
	IsActive             bool
	IsEmergencyClosed    bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Usable reports whether the config may drive admission decisions.
func (c *RegistrationConfig) Usable() bool {
	return c != nil && c.IsActive && !c.IsEmergencyClosed
}

// IsPrivilegeUser reports whether userID belongs to the privilege set.
func (c *RegistrationConfig) IsPrivilegeUser(userID string) bool {
	if c == nil || userID == "" {
		return false
	}
	for _, id := range c.PrivilegeUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// RegistrationStatus is the outcome of an admission check.
type RegistrationStatus struct {
	Allowed         bool
	Message         string
	Reason          error
	Tier            Tier
	IsPrivilegeUser bool
	CurrentCount    int
	Limit           int
	WeekStart       slot.Date
	WeekEnd         slot.Date
	Window          window.Status
}

// Err converts a denial into a *DeniedError; it returns nil when allowed.
func (s RegistrationStatus) Err() error {
	if s.Allowed {
		return nil
	}
	reason := s.Reason
	if reason == nil {
		reason = ErrWindowClosed
	}
	return deny(reason, s.Message)
}

// UserQuotaWindow is the derived weekly quota state of a user.
type UserQuotaWindow struct {
	UserID         string
	WeekStart      slot.Date
	WeekEnd        slot.Date
	ConfirmedCount int
}

// BookingSummary lists a user's confirmed bookings in a week.
type BookingSummary struct {
	UserQuotaWindow
	Slots        []slot.Slot
	PrimaryCount int
	PartnerCount int
}

// WindowSnapshot describes the admission windows at an instant for display.
type WindowSnapshot struct {
	Now             time.Time
	Status          window.Status
	Tier            Tier
	IsPrivilegeUser bool
	NormalWindow    string
	PrivilegeWindow string
	ConfigAvailable bool
}

// FrequencyResult is the outcome of a frequency check.
type FrequencyResult struct {
	Allowed       bool
	Message       string
	CooldownUntil *time.Time
}

// OperationRecord is an audit entry sent to the frequency remote.
type OperationRecord struct {
	UserID        string
	OperationType string
	RecordID      string
	OldValue      string
	NewValue      string
}

// ChangeType enumerates change feed event kinds.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// SlotChange is one slot mutation, local or remote.
type SlotChange struct {
	Type   ChangeType
	Before *slot.Slot
	After  *slot.Slot
}

// SlotID returns the identifier of the slot the change applies to.
func (c SlotChange) SlotID() string {
	if c.After != nil {
		return c.After.ID
	}
	if c.Before != nil {
		return c.Before.ID
	}
	return ""
}

// SweepResult counts what a sweep reverted.
type SweepResult struct {
	ExpiredEdits  int
	ExpiredAmends int
	ExpiredLocks  int
}

// Total returns the number of slots the sweep changed.
func (r SweepResult) Total() int {
	return r.ExpiredEdits + r.ExpiredAmends + r.ExpiredLocks
}

// SlotStats counts slots by status over a date range.
type SlotStats struct {
	Total     int
	Available int
	Editing   int
	Booked    int
	Locked    int
}

// SlotFilter narrows a slot search. Empty fields match every slot and list
// fields match any of their values.
type SlotFilter struct {
	From           slot.Date
	To             slot.Date
	TimeSlotIDs    []string
	Statuses       []slot.Status
	LockTypes      []slot.LockType
	ParticipantIDs []string
	CreatedBy      []string
	EditingBy      []string
	Locations      []string
	Page           int
	PageSize       int
}

// Offset returns the number of matches preceding the requested page.
func (f SlotFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// SlotPage is one page of search results.
type SlotPage struct {
	Slots    []slot.Slot
	Total    int
	Page     int
	PageSize int
}

// SlotStore is the backing store of slot records.
type SlotStore interface {
	CreateSlot(ctx context.Context, s slot.Slot) (slot.Slot, error)
	UpdateSlot(ctx context.Context, s slot.Slot) (slot.Slot, error)
	DeleteSlot(ctx context.Context, id string) error
	GetSlot(ctx context.Context, id string) (slot.Slot, error)
	FindSlot(ctx context.Context, key slot.Key) (slot.Slot, error)
	ListSlots(ctx context.Context, from, to slot.Date) ([]slot.Slot, error)
	// SearchSlots returns the page of filter matches and the total number of matches.
	SearchSlots(ctx context.Context, filter SlotFilter) ([]slot.Slot, int, error)
}

// ConfigSource yields the newest usable registration config, or nil when none exists.
type ConfigSource interface {
	ActiveRegistrationConfig(ctx context.Context) (*RegistrationConfig, error)
}

// FrequencyRemote is the authoritative rate limiter and operation log.
type FrequencyRemote interface {
	CheckFrequency(ctx context.Context, userID, operationType string) (FrequencyResult, error)
	RecordOperation(ctx context.Context, record OperationRecord) error
}

// ChangeFeed opens subscriptions to slot mutations.
type ChangeFeed interface {
	Subscribe(ctx context.Context) (ChangeStream, error)
}

// ChangeStream yields slot changes until it fails or is closed.
type ChangeStream interface {
	Next(ctx context.Context) (SlotChange, error)
	Close() error
}
