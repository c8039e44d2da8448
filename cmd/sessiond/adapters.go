package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/session-booking/internal/application"
	"github.com/example/session-booking/internal/config"
	"github.com/example/session-booking/internal/persistence"
	"github.com/example/session-booking/internal/slot"
	"github.com/example/session-booking/internal/window"
)

// mapStoreError translates persistence failures into the application's sentinels.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return fmt.Errorf("%w: %w", application.ErrNotFound, err)
	case errors.Is(err, persistence.ErrDuplicate):
		return fmt.Errorf("%w: %w", application.ErrAlreadyExists, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", application.ErrTransportFailure, err)
	}
}

type slotStoreAdapter struct {
	repo persistence.SlotRepository
}

func newSlotStoreAdapter(repo persistence.SlotRepository) *slotStoreAdapter {
	return &slotStoreAdapter{repo: repo}
}

func (a *slotStoreAdapter) CreateSlot(ctx context.Context, s slot.Slot) (slot.Slot, error) {
	stored, err := a.repo.CreateSlot(ctx, toPersistenceSlot(s))
	if err != nil {
		return slot.Slot{}, mapStoreError(err)
	}
	return toApplicationSlot(stored), nil
}

func (a *slotStoreAdapter) UpdateSlot(ctx context.Context, s slot.Slot) (slot.Slot, error) {
	stored, err := a.repo.UpdateSlot(ctx, toPersistenceSlot(s))
	if err != nil {
		return slot.Slot{}, mapStoreError(err)
	}
	return toApplicationSlot(stored), nil
}

func (a *slotStoreAdapter) DeleteSlot(ctx context.Context, id string) error {
	return mapStoreError(a.repo.DeleteSlot(ctx, id))
}

func (a *slotStoreAdapter) GetSlot(ctx context.Context, id string) (slot.Slot, error) {
	stored, err := a.repo.GetSlot(ctx, id)
	if err != nil {
		return slot.Slot{}, mapStoreError(err)
	}
	return toApplicationSlot(stored), nil
}

func (a *slotStoreAdapter) FindSlot(ctx context.Context, key slot.Key) (slot.Slot, error) {
	stored, err := a.repo.FindSlot(ctx, string(key.Date), key.TimeSlotID)
	if err != nil {
		return slot.Slot{}, mapStoreError(err)
	}
	return toApplicationSlot(stored), nil
}

func (a *slotStoreAdapter) ListSlots(ctx context.Context, from, to slot.Date) ([]slot.Slot, error) {
	models, err := a.repo.ListSlotsInDateRange(ctx, string(from), string(to))
	if err != nil {
		return nil, mapStoreError(err)
	}
	if len(models) == 0 {
		return nil, nil
	}
	slots := make([]slot.Slot, 0, len(models))
	for _, model := range models {
		slots = append(slots, toApplicationSlot(model))
	}
	return slots, nil
}

func (a *slotStoreAdapter) SearchSlots(ctx context.Context, filter application.SlotFilter) ([]slot.Slot, int, error) {
	models, total, err := a.repo.SearchSlots(ctx, toPersistenceFilter(filter))
	if err != nil {
		return nil, 0, mapStoreError(err)
	}
	slots := make([]slot.Slot, 0, len(models))
	for _, model := range models {
		slots = append(slots, toApplicationSlot(model))
	}
	return slots, total, nil
}

func toPersistenceFilter(filter application.SlotFilter) persistence.SlotFilter {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}
	lockTypes := make([]string, 0, len(filter.LockTypes))
	for _, lockType := range filter.LockTypes {
		lockTypes = append(lockTypes, string(lockType))
	}
	return persistence.SlotFilter{
		From:           string(filter.From),
		To:             string(filter.To),
		TimeSlotIDs:    filter.TimeSlotIDs,
		Statuses:       statuses,
		LockTypes:      lockTypes,
		ParticipantIDs: filter.ParticipantIDs,
		CreatedBy:      filter.CreatedBy,
		EditingBy:      filter.EditingBy,
		Locations:      filter.Locations,
		Limit:          filter.PageSize,
		Offset:         filter.Offset(),
	}
}

type configSourceAdapter struct {
	repo persistence.RegistrationConfigRepository
}

func newConfigSourceAdapter(repo persistence.RegistrationConfigRepository) *configSourceAdapter {
	return &configSourceAdapter{repo: repo}
}

// ActiveRegistrationConfig returns nil without error when no revision is active.
func (a *configSourceAdapter) ActiveRegistrationConfig(ctx context.Context) (*application.RegistrationConfig, error) {
	model, err := a.repo.ActiveRegistrationConfig(ctx)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, nil
		}
		return nil, mapStoreError(err)
	}
	cfg, err := toApplicationConfig(model)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", application.ErrConfigUnavailable, err)
	}
	return &cfg, nil
}

// seedRegistrationConfig installs doc as a new active revision.
func seedRegistrationConfig(ctx context.Context, repo persistence.RegistrationConfigRepository, doc config.RegistrationDocument) (persistence.RegistrationConfig, error) {
	return repo.CreateRegistrationConfig(ctx, persistence.RegistrationConfig{
		NormalOpenDay:        int(doc.NormalWindow.OpenDay),
		NormalCloseDay:       int(doc.NormalWindow.CloseDay),
		NormalOpenTime:       doc.NormalWindow.OpenTime.String(),
		NormalCloseTime:      doc.NormalWindow.CloseTime.String(),
		PrivilegeOpenDay:     int(doc.PrivilegeWindow.OpenDay),
		PrivilegeCloseDay:    int(doc.PrivilegeWindow.CloseDay),
		PrivilegeOpenTime:    doc.PrivilegeWindow.OpenTime.String(),
		PrivilegeCloseTime:   doc.PrivilegeWindow.CloseTime.String(),
		WeeklyLimitNormal:    doc.WeeklyLimitNormal,
		WeeklyLimitPrivilege: doc.WeeklyLimitPrivilege,
		PrivilegeUserIDs:     append([]string(nil), doc.PrivilegeUserIDs...),
		IsActive:             true,
		IsEmergencyClosed:    doc.EmergencyClosed,
	})
}

type frequencyRemoteAdapter struct {
	repo persistence.FrequencyRepository
	now  func() time.Time
}

func newFrequencyRemoteAdapter(repo persistence.FrequencyRepository, now func() time.Time) *frequencyRemoteAdapter {
	if now == nil {
		now = time.Now
	}
	return &frequencyRemoteAdapter{repo: repo, now: now}
}

func (a *frequencyRemoteAdapter) CheckFrequency(ctx context.Context, userID, operationType string) (application.FrequencyResult, error) {
	decision, err := a.repo.CheckFrequency(ctx, userID, operationType, a.now())
	if err != nil {
		return application.FrequencyResult{}, mapStoreError(err)
	}
	return application.FrequencyResult{
		Allowed:       decision.Allowed,
		Message:       decision.Message,
		CooldownUntil: cloneTime(decision.CooldownUntil),
	}, nil
}

func (a *frequencyRemoteAdapter) RecordOperation(ctx context.Context, record application.OperationRecord) error {
	return mapStoreError(a.repo.RecordOperation(ctx, persistence.OperationLog{
		UserID:        record.UserID,
		OperationType: record.OperationType,
		RecordID:      optionalString(record.RecordID),
		OldValue:      optionalString(record.OldValue),
		NewValue:      optionalString(record.NewValue),
		CreatedAt:     a.now(),
	}))
}

type changeFeedAdapter struct {
	feed persistence.SlotChangeFeed
}

func newChangeFeedAdapter(feed persistence.SlotChangeFeed) *changeFeedAdapter {
	return &changeFeedAdapter{feed: feed}
}

func (a *changeFeedAdapter) Subscribe(ctx context.Context) (application.ChangeStream, error) {
	sub, err := a.feed.SubscribeSlotChanges(ctx)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return &changeStreamAdapter{sub: sub}, nil
}

type changeStreamAdapter struct {
	sub persistence.SlotChangeSubscription
}

func (s *changeStreamAdapter) Next(ctx context.Context) (application.SlotChange, error) {
	change, err := s.sub.Next(ctx)
	if err != nil {
		return application.SlotChange{}, err
	}
	return toApplicationChange(change), nil
}

func (s *changeStreamAdapter) Close() error {
	return s.sub.Close()
}

func toApplicationChange(change persistence.SlotChange) application.SlotChange {
	out := application.SlotChange{Type: application.ChangeType(change.Type)}
	if change.Before != nil {
		before := toApplicationSlot(*change.Before)
		out.Before = &before
	}
	if change.After != nil {
		after := toApplicationSlot(*change.After)
		out.After = &after
	}
	return out
}

func toApplicationSlot(model persistence.Slot) slot.Slot {
	return slot.Slot{
		ID:               model.ID,
		Date:             slot.Date(model.Date),
		TimeSlotID:       model.TimeSlotID,
		Status:           slot.Status(model.Status),
		ParticipantIDs:   append([]string(nil), model.ParticipantIDs...),
		CreatedBy:        model.CreatedBy,
		EditingBy:        derefString(model.EditingBy),
		EditingAt:        cloneTime(model.EditingAt),
		EditingExpiresAt: cloneTime(model.EditingExpiresAt),
		LockType:         slot.LockType(model.LockType),
		LockReason:       derefString(model.LockReason),
		LockEndTime:      cloneTime(model.LockEndTime),
		Location:         derefString(model.Location),
		PropertyType:     derefString(model.PropertyType),
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
	}
}

func toPersistenceSlot(s slot.Slot) persistence.Slot {
	return persistence.Slot{
		ID:               s.ID,
		Date:             string(s.Date),
		TimeSlotID:       s.TimeSlotID,
		Status:           string(s.Status),
		ParticipantIDs:   append([]string(nil), s.ParticipantIDs...),
		CreatedBy:        s.CreatedBy,
		EditingBy:        optionalString(s.EditingBy),
		EditingAt:        cloneTime(s.EditingAt),
		EditingExpiresAt: cloneTime(s.EditingExpiresAt),
		LockType:         string(s.LockType),
		LockReason:       optionalString(s.LockReason),
		LockEndTime:      cloneTime(s.LockEndTime),
		Location:         optionalString(s.Location),
		PropertyType:     optionalString(s.PropertyType),
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func toApplicationConfig(model persistence.RegistrationConfig) (application.RegistrationConfig, error) {
	normal, err := toWindow(model.NormalOpenDay, model.NormalCloseDay, model.NormalOpenTime, model.NormalCloseTime)
	if err != nil {
		return application.RegistrationConfig{}, fmt.Errorf("normal window: %w", err)
	}
	privilege, err := toWindow(model.PrivilegeOpenDay, model.PrivilegeCloseDay, model.PrivilegeOpenTime, model.PrivilegeCloseTime)
	if err != nil {
		return application.RegistrationConfig{}, fmt.Errorf("privilege window: %w", err)
	}
	return application.RegistrationConfig{
		ID:                   model.ID,
		NormalWindow:         normal,
		PrivilegeWindow:      privilege,
		WeeklyLimitNormal:    model.WeeklyLimitNormal,
		WeeklyLimitPrivilege: model.WeeklyLimitPrivilege,
		PrivilegeUserIDs:     append([]string(nil), model.PrivilegeUserIDs...),
		IsActive:             model.IsActive,
		IsEmergencyClosed:    model.IsEmergencyClosed,
		CreatedAt:            model.CreatedAt,
		UpdatedAt:            model.UpdatedAt,
	}, nil
}

func toWindow(openDay, closeDay int, openTime, closeTime string) (window.Window, error) {
	open, err := window.ParseTimeOfDay(openTime)
	if err != nil {
		return window.Window{}, err
	}
	closing, err := window.ParseTimeOfDay(closeTime)
	if err != nil {
		return window.Window{}, err
	}
	w := window.Window{
		OpenDay:   window.DayOfWeek(openDay),
		CloseDay:  window.DayOfWeek(closeDay),
		OpenTime:  open,
		CloseTime: closing,
	}
	return w, w.Validate()
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
