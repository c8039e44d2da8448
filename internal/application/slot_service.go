package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/session-booking/internal/slot"
	"github.com/example/session-booking/internal/window"
)

// DefaultLockDuration is how long an editing lock is held before the sweep may reclaim it.
const DefaultLockDuration = 5 * time.Minute

// Search page sizes.
const (
	DefaultSearchPageSize = 10
	MaxSearchPageSize     = 100
)

// DefaultBookableWeeks is the number of calendar weeks open for booking,
// starting with the current one.
const DefaultBookableWeeks = 2

type admissionChecker interface {
	CanRegister(ctx context.Context, userID string, editingExisting bool) RegistrationStatus
	CanCancel(ctx context.Context, userID string) bool
	CheckBookableDate(date slot.Date) error
}

type frequencyGate interface {
	Check(ctx context.Context, userID, operationType string) FrequencyResult
	Record(ctx context.Context, rec OperationRecord) bool
}

// ChangeObserver receives every slot mutation the service commits.
type ChangeObserver func(ctx context.Context, change SlotChange)

// BeginEditParams identifies the slot a user opens.
type BeginEditParams struct {
	Principal  Principal
	Date       slot.Date
	TimeSlotID string
}

// ConfirmParams carries the submitted booking form.
type ConfirmParams struct {
	Principal      Principal
	SlotID         string
	ParticipantIDs []string
	Location       string
	PropertyType   string
}

// LockParams describes an operator lock.
type LockParams struct {
	Principal  Principal
	Date       slot.Date
	TimeSlotID string
	LockType   slot.LockType
	Reason     string
	EndTime    *time.Time
}

// SlotServiceOptions tunes SlotService.
type SlotServiceOptions struct {
	LockDuration time.Duration
	Location     *time.Location

	// BookableWeeks must match AdmissionOptions.BookableWeeks so the sweep
	// covers every week a lock can be taken in.
	BookableWeeks int
}

// SlotService drives slot lifecycles against the backing store.
type SlotService struct {
	slots         SlotStore
	admission     admissionChecker
	throttle      frequencyGate
	lockDuration  time.Duration
	location      *time.Location
	bookableWeeks int
	now           func() time.Time
	logger        *slog.Logger
	observers     []ChangeObserver
}

// NewSlotService constructs a SlotService.
func NewSlotService(slots SlotStore, admission admissionChecker, throttle frequencyGate, opts SlotServiceOptions, now func() time.Time) *SlotService {
	return NewSlotServiceWithLogger(slots, admission, throttle, opts, now, nil)
}

// NewSlotServiceWithLogger constructs a SlotService with a logger.
func NewSlotServiceWithLogger(slots SlotStore, admission admissionChecker, throttle frequencyGate, opts SlotServiceOptions, now func() time.Time, logger *slog.Logger) *SlotService {
	if now == nil {
		now = time.Now
	}
	if opts.LockDuration <= 0 {
		opts.LockDuration = DefaultLockDuration
	}
	if opts.Location == nil {
		opts.Location = window.ReferenceLocation()
	}
	if opts.BookableWeeks <= 0 {
		opts.BookableWeeks = DefaultBookableWeeks
	}
	return &SlotService{
		slots:         slots,
		admission:     admission,
		throttle:      throttle,
		lockDuration:  opts.LockDuration,
		location:      opts.Location,
		bookableWeeks: opts.BookableWeeks,
		now:           now,
		logger:        defaultLogger(logger),
	}
}

// Observe registers fn to receive committed mutations, e.g. to feed a WeekView.
func (s *SlotService) Observe(fn ChangeObserver) {
	if fn != nil {
		s.observers = append(s.observers, fn)
	}
}

func (s *SlotService) publish(ctx context.Context, change SlotChange) {
	for _, fn := range s.observers {
		fn(ctx, change)
	}
}

func (s *SlotService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "SlotService."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !isExpected(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorKind(err))
	}
	span.End()
}

// BeginEdit opens a slot for the acting user and takes its editing lock.
func (s *SlotService) BeginEdit(ctx context.Context, params BeginEditParams) (result slot.Slot, err error) {
	userID := params.Principal.UserID
	ctx, span := s.startSpan(ctx, "BeginEdit", attribute.String("booking.date", string(params.Date)), attribute.String("booking.time_slot_id", params.TimeSlotID))
	logger := serviceLogger(ctx, s.logger, "SlotService", "BeginEdit", "user_id", userID, "date", params.Date, "time_slot_id", params.TimeSlotID)
	defer func() {
		endSpan(span, err)
		logOutcome(ctx, logger, err, "begin edit", "slot_id", result.ID, "status", result.Status)
	}()

	if strings.TrimSpace(userID) == "" {
		return slot.Slot{}, ErrUnauthorized
	}
	vErr := &ValidationError{}
	if strings.TrimSpace(params.TimeSlotID) == "" {
		vErr.add("time_slot_id", "time slot is required")
	}
	if err := vErr.orNil(); err != nil {
		return slot.Slot{}, err
	}

	if s.throttle != nil {
		freq := s.throttle.Check(ctx, userID, OperationRegister)
		if !freq.Allowed {
			message := freq.Message
			if message == "" {
				message = "too many registration attempts; try again later"
			}
			return slot.Slot{}, &DeniedError{Reason: ErrFrequencyLimited, Message: message, CooldownUntil: freq.CooldownUntil}
		}
	}

	if err := s.admission.CheckBookableDate(params.Date); err != nil {
		return slot.Slot{}, err
	}

	now := s.now()
	key := slot.Key{Date: params.Date, TimeSlotID: params.TimeSlotID}
	existing, err := s.slots.FindSlot(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		if err := s.admission.CanRegister(ctx, userID, false).Err(); err != nil {
			return slot.Slot{}, err
		}
		created, err := s.slots.CreateSlot(ctx, slot.NewEditing(key, userID, now, s.lockDuration))
		if err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				return slot.Slot{}, fmt.Errorf("%w: slot was claimed by another user", ErrLockConflict)
			}
			return slot.Slot{}, err
		}
		s.publish(ctx, SlotChange{Type: ChangeInsert, After: &created})
		s.record(ctx, userID, OperationRegister, created.ID, "", string(created.Status))
		return created, nil
	case err != nil:
		return slot.Slot{}, err
	}

	amending := existing.Status == slot.StatusBooked
	if amending && !existing.Involves(userID) {
		return slot.Slot{}, fmt.Errorf("%w: slot is already booked", ErrLockConflict)
	}
	var next slot.Slot
	if amending {
		next, err = slot.Amend(existing, userID, now, s.lockDuration)
	} else {
		next, err = slot.Claim(existing, userID, now, s.lockDuration)
	}
	if err != nil {
		return slot.Slot{}, mapSlotError(err)
	}
	reopening := existing.Status == slot.StatusEditing && existing.HeldBy(userID)
	if !reopening {
		if err := s.admission.CanRegister(ctx, userID, amending).Err(); err != nil {
			return slot.Slot{}, err
		}
	}

	updated, err := s.write(ctx, existing, next)
	if err != nil {
		return slot.Slot{}, err
	}
	s.record(ctx, userID, OperationRegister, updated.ID, string(existing.Status), string(updated.Status))
	return updated, nil
}

// Confirm submits the booking form for a slot the user holds.
func (s *SlotService) Confirm(ctx context.Context, params ConfirmParams) (result slot.Slot, err error) {
	userID := params.Principal.UserID
	ctx, span := s.startSpan(ctx, "Confirm", attribute.String("booking.slot_id", params.SlotID))
	logger := serviceLogger(ctx, s.logger, "SlotService", "Confirm", "user_id", userID, "slot_id", params.SlotID)
	defer func() {
		endSpan(span, err)
		logOutcome(ctx, logger, err, "confirm booking", "status", result.Status)
	}()

	if strings.TrimSpace(userID) == "" {
		return slot.Slot{}, ErrUnauthorized
	}
	if err := slot.ValidateParticipants(params.ParticipantIDs); err != nil {
		vErr := &ValidationError{}
		vErr.add("participant_ids", strings.TrimPrefix(err.Error(), slot.ErrInvalidParticipants.Error()+": "))
		return slot.Slot{}, vErr
	}

	current, err := s.get(ctx, params.SlotID)
	if err != nil {
		return slot.Slot{}, err
	}
	if current.HeldBy(userID) {
		amending := current.Status == slot.StatusBooked
		if err := s.admission.CanRegister(ctx, userID, amending).Err(); err != nil {
			return slot.Slot{}, err
		}
	}

	next, err := slot.Confirm(current, userID, params.ParticipantIDs, slot.Details{Location: params.Location, PropertyType: params.PropertyType}, s.now())
	if err != nil {
		return slot.Slot{}, mapSlotError(err)
	}
	updated, err := s.write(ctx, current, next)
	if err != nil {
		return slot.Slot{}, err
	}
	s.record(ctx, userID, OperationConfirm, updated.ID, string(current.Status), string(updated.Status))
	return updated, nil
}

// Cancel abandons the user's edit: a new slot is deleted, an amended booking is restored.
func (s *SlotService) Cancel(ctx context.Context, principal Principal, slotID string) (err error) {
	ctx, span := s.startSpan(ctx, "Cancel", attribute.String("booking.slot_id", slotID))
	logger := serviceLogger(ctx, s.logger, "SlotService", "Cancel", "user_id", principal.UserID, "slot_id", slotID)
	defer func() {
		endSpan(span, err)
		logOutcome(ctx, logger, err, "cancel edit")
	}()

	current, err := s.get(ctx, slotID)
	if err != nil {
		return err
	}
	next, outcome, err := slot.Cancel(current, principal.UserID, s.now())
	if err != nil {
		return mapSlotError(err)
	}

	switch outcome {
	case slot.CancelDelete:
		if err := s.slots.DeleteSlot(ctx, current.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: slot already removed", ErrStaleWrite)
			}
			return err
		}
		s.publish(ctx, SlotChange{Type: ChangeDelete, Before: &current})
	case slot.CancelRestore:
		if _, err := s.write(ctx, current, next); err != nil {
			return err
		}
	}
	s.record(ctx, principal.UserID, OperationCancel, current.ID, string(current.Status), "")
	return nil
}

// Release returns a booked slot to available. Non-operators must act before
// the cancellation deadline.
func (s *SlotService) Release(ctx context.Context, principal Principal, slotID string) (result slot.Slot, err error) {
	ctx, span := s.startSpan(ctx, "Release", attribute.String("booking.slot_id", slotID))
	logger := serviceLogger(ctx, s.logger, "SlotService", "Release", "user_id", principal.UserID, "slot_id", slotID)
	defer func() {
		endSpan(span, err)
		logOutcome(ctx, logger, err, "release booking")
	}()

	if strings.TrimSpace(principal.UserID) == "" {
		return slot.Slot{}, ErrUnauthorized
	}
	current, err := s.get(ctx, slotID)
	if err != nil {
		return slot.Slot{}, err
	}
	if !principal.IsAdmin && current.Involves(principal.UserID) && !s.admission.CanCancel(ctx, principal.UserID) {
		return slot.Slot{}, deny(ErrWindowClosed, "cancellation deadline has passed")
	}
	next, err := slot.Release(current, principal.UserID, principal.IsAdmin, s.now())
	if err != nil {
		return slot.Slot{}, mapSlotError(err)
	}
	updated, err := s.write(ctx, current, next)
	if err != nil {
		return slot.Slot{}, err
	}
	s.record(ctx, principal.UserID, OperationRelease, updated.ID, string(current.Status), string(updated.Status))
	return updated, nil
}

// Lock applies an operator lock, creating a placeholder record for untouched slots.
func (s *SlotService) Lock(ctx context.Context, params LockParams) (result slot.Slot, err error) {
	ctx, span := s.startSpan(ctx, "Lock", attribute.String("booking.date", string(params.Date)), attribute.String("booking.time_slot_id", params.TimeSlotID))
	logger := serviceLogger(ctx, s.logger, "SlotService", "Lock", "user_id", params.Principal.UserID, "date", params.Date, "time_slot_id", params.TimeSlotID)
	defer func() {
		endSpan(span, err)
		logOutcome(ctx, logger, err, "lock slot", "slot_id", result.ID, "lock_type", result.LockType)
	}()

	if !params.Principal.IsAdmin {
		return slot.Slot{}, ErrUnauthorized
	}
	vErr := &ValidationError{}
	if _, err := slot.ParseDate(string(params.Date)); err != nil {
		vErr.add("date", "date must be YYYY-MM-DD")
	}
	if strings.TrimSpace(params.TimeSlotID) == "" {
		vErr.add("time_slot_id", "time slot is required")
	}
	if params.EndTime != nil && !params.EndTime.After(s.now()) {
		vErr.add("end_time", "end time must be in the future")
	}
	if err := vErr.orNil(); err != nil {
		return slot.Slot{}, err
	}

	now := s.now()
	key := slot.Key{Date: params.Date, TimeSlotID: params.TimeSlotID}
	current, err := s.slots.FindSlot(ctx, key)
	if errors.Is(err, ErrNotFound) {
		created, createErr := s.slots.CreateSlot(ctx, slot.Placeholder(key, params.Principal.UserID, now))
		if createErr != nil {
			if errors.Is(createErr, ErrAlreadyExists) {
				return slot.Slot{}, fmt.Errorf("%w: slot was claimed while locking", ErrStaleWrite)
			}
			return slot.Slot{}, createErr
		}
		s.publish(ctx, SlotChange{Type: ChangeInsert, After: &created})
		current, err = created, nil
	}
	if err != nil {
		return slot.Slot{}, err
	}

	next, err := slot.Lock(current, params.LockType, strings.TrimSpace(params.Reason), params.EndTime, now)
	if err != nil {
		return slot.Slot{}, mapSlotError(err)
	}
	updated, err := s.write(ctx, current, next)
	if err != nil {
		return slot.Slot{}, err
	}
	s.record(ctx, params.Principal.UserID, OperationLock, updated.ID, string(current.Status), string(updated.LockType))
	return updated, nil
}

// Unlock lifts an operator lock.
func (s *SlotService) Unlock(ctx context.Context, principal Principal, slotID string) (result slot.Slot, err error) {
	ctx, span := s.startSpan(ctx, "Unlock", attribute.String("booking.slot_id", slotID))
	logger := serviceLogger(ctx, s.logger, "SlotService", "Unlock", "user_id", principal.UserID, "slot_id", slotID)
	defer func() {
		endSpan(span, err)
		logOutcome(ctx, logger, err, "unlock slot")
	}()

	if !principal.IsAdmin {
		return slot.Slot{}, ErrUnauthorized
	}
	current, err := s.get(ctx, slotID)
	if err != nil {
		return slot.Slot{}, err
	}
	next, err := slot.Unlock(current, s.now())
	if err != nil {
		return slot.Slot{}, mapSlotError(err)
	}
	updated, err := s.write(ctx, current, next)
	if err != nil {
		return slot.Slot{}, err
	}
	s.record(ctx, principal.UserID, OperationUnlock, updated.ID, string(current.LockType), string(updated.Status))
	return updated, nil
}

// SweepExpired reclaims abandoned editing locks and lapsed operator locks
// across the bookable range and the week before it.
func (s *SlotService) SweepExpired(ctx context.Context) (result SweepResult, err error) {
	ctx, span := s.startSpan(ctx, "SweepExpired")
	logger := serviceLogger(ctx, s.logger, "SlotService", "SweepExpired")
	defer func() {
		endSpan(span, err)
		if err != nil {
			logger.ErrorContext(ctx, "sweep failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		if result.Total() > 0 {
			logger.InfoContext(ctx, "sweep reclaimed slots", "expired_edits", result.ExpiredEdits, "expired_amends", result.ExpiredAmends, "expired_locks", result.ExpiredLocks)
		}
	}()

	now := s.now()
	from, to := s.sweepRange(now)
	all, err := s.slots.ListSlots(ctx, from, to)
	if err != nil {
		return SweepResult{}, err
	}

	var failures []error
	for _, current := range all {
		next, kind := slot.Expire(current, now)
		if kind == slot.ExpiryNone {
			continue
		}
		if _, err := s.write(ctx, current, next); err != nil {
			if errors.Is(err, ErrStaleWrite) {
				continue
			}
			failures = append(failures, err)
			continue
		}
		switch kind {
		case slot.ExpiryEdit:
			result.ExpiredEdits++
		case slot.ExpiryAmend:
			result.ExpiredAmends++
		case slot.ExpiryLock:
			result.ExpiredLocks++
		}
	}
	return result, errors.Join(failures...)
}

func (s *SlotService) sweepRange(now time.Time) (slot.Date, slot.Date) {
	first, last := window.BookableRange(now, s.location, s.bookableWeeks)
	return slot.DateOf(first.AddDate(0, 0, -7), s.location), slot.DateOf(last.AddDate(0, 0, 7), s.location)
}

// ListWeek returns every slot record in the week containing weekOf.
func (s *SlotService) ListWeek(ctx context.Context, weekOf time.Time) ([]slot.Slot, error) {
	start, end := window.WeekBounds(weekOf, s.location)
	return s.slots.ListSlots(ctx, slot.DateOf(start, s.location), slot.DateOf(end, s.location))
}

// ListRange returns every slot record between from and to inclusive.
func (s *SlotService) ListRange(ctx context.Context, from, to slot.Date) ([]slot.Slot, error) {
	return s.slots.ListSlots(ctx, from, to)
}

// Search returns one page of slots matching filter for an operator. Page
// defaults to 1 and PageSize to DefaultSearchPageSize.
func (s *SlotService) Search(ctx context.Context, principal Principal, filter SlotFilter) (page SlotPage, err error) {
	ctx, span := s.startSpan(ctx, "Search", attribute.Int("booking.page", filter.Page))
	logger := serviceLogger(ctx, s.logger, "SlotService", "Search", "user_id", principal.UserID, "from", filter.From, "to", filter.To)
	defer func() {
		endSpan(span, err)
		logOutcome(ctx, logger, err, "search slots", "page", page.Page, "result_count", len(page.Slots), "total", page.Total)
	}()

	if !principal.IsAdmin {
		return SlotPage{}, ErrUnauthorized
	}
	filter, err = normalizeFilter(filter)
	if err != nil {
		return SlotPage{}, err
	}
	slots, total, err := s.slots.SearchSlots(ctx, filter)
	if err != nil {
		return SlotPage{}, err
	}
	if slots == nil {
		slots = []slot.Slot{}
	}
	return SlotPage{Slots: slots, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

func normalizeFilter(filter SlotFilter) (SlotFilter, error) {
	vErr := &ValidationError{}
	if filter.From != "" {
		if _, err := slot.ParseDate(string(filter.From)); err != nil {
			vErr.add("from", "date must be YYYY-MM-DD")
		}
	}
	if filter.To != "" {
		if _, err := slot.ParseDate(string(filter.To)); err != nil {
			vErr.add("to", "date must be YYYY-MM-DD")
		}
	}
	if filter.From != "" && filter.To != "" && filter.To < filter.From {
		vErr.add("to", "to must not be before from")
	}
	for _, status := range filter.Statuses {
		if !status.Valid() {
			vErr.add("status", fmt.Sprintf("unknown status %q", status))
		}
	}
	for _, lockType := range filter.LockTypes {
		switch lockType {
		case slot.LockNone, slot.LockManual, slot.LockSystem, slot.LockMaintenance:
		default:
			vErr.add("lock_type", fmt.Sprintf("unknown lock type %q", lockType))
		}
	}
	switch {
	case filter.Page < 0:
		vErr.add("page", "page must be positive")
	case filter.Page == 0:
		filter.Page = 1
	}
	switch {
	case filter.PageSize < 0 || filter.PageSize > MaxSearchPageSize:
		vErr.add("page_size", fmt.Sprintf("page size must be between 1 and %d", MaxSearchPageSize))
	case filter.PageSize == 0:
		filter.PageSize = DefaultSearchPageSize
	}
	if err := vErr.orNil(); err != nil {
		return SlotFilter{}, err
	}

	filter.TimeSlotIDs = compact(filter.TimeSlotIDs)
	filter.ParticipantIDs = compact(filter.ParticipantIDs)
	filter.CreatedBy = compact(filter.CreatedBy)
	filter.EditingBy = compact(filter.EditingBy)
	filter.Locations = compact(filter.Locations)
	return filter, nil
}

// compact trims values and drops blanks.
func compact(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// IsAvailable reports whether the slot has no record or an available one.
func (s *SlotService) IsAvailable(ctx context.Context, date slot.Date, timeSlotID string) (bool, error) {
	current, err := s.slots.FindSlot(ctx, slot.Key{Date: date, TimeSlotID: timeSlotID})
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return current.Status == slot.StatusAvailable, nil
}

// Stats counts slot records by status over [from, to].
func (s *SlotService) Stats(ctx context.Context, from, to slot.Date) (SlotStats, error) {
	all, err := s.slots.ListSlots(ctx, from, to)
	if err != nil {
		return SlotStats{}, err
	}
	var stats SlotStats
	for _, current := range all {
		stats.Total++
		switch current.Status {
		case slot.StatusAvailable:
			stats.Available++
		case slot.StatusEditing:
			stats.Editing++
		case slot.StatusBooked:
			stats.Booked++
		case slot.StatusLocked:
			stats.Locked++
		}
	}
	return stats, nil
}

func (s *SlotService) get(ctx context.Context, slotID string) (slot.Slot, error) {
	if strings.TrimSpace(slotID) == "" {
		vErr := &ValidationError{}
		vErr.add("slot_id", "slot id is required")
		return slot.Slot{}, vErr
	}
	return s.slots.GetSlot(ctx, slotID)
}

// write persists next over current and checks the stored row reflects it.
func (s *SlotService) write(ctx context.Context, current, next slot.Slot) (slot.Slot, error) {
	updated, err := s.slots.UpdateSlot(ctx, next)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return slot.Slot{}, fmt.Errorf("%w: slot %s no longer exists", ErrStaleWrite, current.ID)
		}
		return slot.Slot{}, err
	}
	if updated.Status != next.Status || updated.EditingBy != next.EditingBy {
		return slot.Slot{}, fmt.Errorf("%w: slot %s changed concurrently", ErrStaleWrite, current.ID)
	}
	before := current
	s.publish(ctx, SlotChange{Type: ChangeUpdate, Before: &before, After: &updated})
	return updated, nil
}

func (s *SlotService) record(ctx context.Context, userID, operationType, recordID, oldValue, newValue string) {
	if s.throttle == nil {
		return
	}
	s.throttle.Record(ctx, OperationRecord{
		UserID:        userID,
		OperationType: operationType,
		RecordID:      recordID,
		OldValue:      oldValue,
		NewValue:      newValue,
	})
}

func mapSlotError(err error) error {
	var conflict *slot.ConflictError
	switch {
	case errors.As(err, &conflict):
		return fmt.Errorf("%w: %w", ErrLockConflict, err)
	case errors.Is(err, slot.ErrAccessDenied):
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case errors.Is(err, slot.ErrInvalidParticipants):
		vErr := &ValidationError{}
		vErr.add("participant_ids", err.Error())
		return vErr
	case errors.Is(err, slot.ErrInvalidTransition):
		return fmt.Errorf("%w: %w", ErrStaleWrite, err)
	}
	return err
}
