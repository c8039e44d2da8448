package persistence

import "time"

// Slot is a bookable (date, time slot) row. Nullable columns use pointers.
type Slot struct {
	ID               string
	Date             string
	TimeSlotID       string
	Status           string
	ParticipantIDs   []string
	CreatedBy        string
	EditingBy        *string
	EditingAt        *time.Time
	EditingExpiresAt *time.Time
	LockType         string
	LockReason       *string
	LockEndTime      *time.Time
	Location         *string
	PropertyType     *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SlotFilter narrows SearchSlots. Empty fields match every row and list
// fields match any of their values. Limit <= 0 returns every match.
type SlotFilter struct {
	From           string
	To             string
	TimeSlotIDs    []string
	Statuses       []string
	LockTypes      []string
	ParticipantIDs []string
	CreatedBy      []string
	EditingBy      []string
	Locations      []string
	Limit          int
	Offset         int
}

// RegistrationConfig is one revision of the admission policy.
type RegistrationConfig struct {
	ID                   string
	NormalOpenDay        int
	NormalCloseDay       int
	NormalOpenTime       string
	NormalCloseTime      string
	PrivilegeOpenDay     int
	PrivilegeCloseDay    int
	PrivilegeOpenTime    string
	PrivilegeCloseTime   string
	WeeklyLimitNormal    int
	WeeklyLimitPrivilege int
	PrivilegeUserIDs     []string
	IsActive             bool
	IsEmergencyClosed    bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// FrequencyRule bounds how often an operation type may run per user.
type FrequencyRule struct {
	OperationType   string
	MaxOperations   int
	WindowSeconds   int
	CooldownSeconds int
	Enabled         bool
}

// FrequencyDecision is the outcome of evaluating a FrequencyRule.
type FrequencyDecision struct {
	Allowed       bool
	Message       string
	CooldownUntil *time.Time
}

// OperationLog is an audit entry of a user action.
type OperationLog struct {
	ID            int64
	UserID        string
	OperationType string
	RecordID      *string
	OldValue      *string
	NewValue      *string
	CreatedAt     time.Time
}

// ChangeType enumerates slot change events.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// SlotChange is a committed slot mutation published on the change feed.
type SlotChange struct {
	Type   ChangeType
	Before *Slot
	After  *Slot
	At     time.Time
}
