package persistence

import (
	"context"
	"time"
)

// SlotRepository stores slot rows. At most one row exists per (date, time slot).
type SlotRepository interface {
	CreateSlot(ctx context.Context, slot Slot) (Slot, error)
	UpdateSlot(ctx context.Context, slot Slot) (Slot, error)
	DeleteSlot(ctx context.Context, id string) error
	GetSlot(ctx context.Context, id string) (Slot, error)
	FindSlot(ctx context.Context, date, timeSlotID string) (Slot, error)
	ListSlotsInDateRange(ctx context.Context, from, to string) ([]Slot, error)
	SearchSlots(ctx context.Context, filter SlotFilter) ([]Slot, int, error)
}

// RegistrationConfigRepository stores admission policy revisions.
type RegistrationConfigRepository interface {
	CreateRegistrationConfig(ctx context.Context, cfg RegistrationConfig) (RegistrationConfig, error)
	ActiveRegistrationConfig(ctx context.Context) (RegistrationConfig, error)
	SetEmergencyClosed(ctx context.Context, id string, closed bool) error
}

// FrequencyRepository is the authoritative rate limiter and operation log.
type FrequencyRepository interface {
	CheckFrequency(ctx context.Context, userID, operationType string, now time.Time) (FrequencyDecision, error)
	RecordOperation(ctx context.Context, entry OperationLog) error
	UpsertFrequencyRule(ctx context.Context, rule FrequencyRule) error
}

// SlotChangeSubscription yields committed slot changes in commit order.
type SlotChangeSubscription interface {
	Next(ctx context.Context) (SlotChange, error)
	Close() error
}

// SlotChangeFeed opens subscriptions to committed slot changes.
type SlotChangeFeed interface {
	SubscribeSlotChanges(ctx context.Context) (SlotChangeSubscription, error)
}
