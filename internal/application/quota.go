package application

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/example/session-booking/internal/slot"
	"github.com/example/session-booking/internal/window"
)

// QuotaTracker counts confirmed bookings per user and week. Counts are
// recomputed from the store on every call.
type QuotaTracker struct {
	slots    SlotStore
	location *time.Location
	now      func() time.Time
}

// NewQuotaTracker constructs a QuotaTracker over the slot store.
func NewQuotaTracker(slots SlotStore, loc *time.Location, now func() time.Time) *QuotaTracker {
	if loc == nil {
		loc = window.ReferenceLocation()
	}
	if now == nil {
		now = time.Now
	}
	return &QuotaTracker{slots: slots, location: loc, now: now}
}

// Count returns the number of booked slots in [weekStart, weekEnd] that include userID.
func (q *QuotaTracker) Count(ctx context.Context, userID string, weekStart, weekEnd slot.Date) (int, error) {
	booked, err := q.booked(ctx, userID, weekStart, weekEnd)
	if err != nil {
		return 0, err
	}
	return len(booked), nil
}

// Week returns the bounds of the week containing t.
func (q *QuotaTracker) Week(t time.Time) (slot.Date, slot.Date) {
	start, end := window.WeekBounds(t, q.location)
	return slot.DateOf(start, q.location), slot.DateOf(end, q.location)
}

// Usage returns the user's quota window for the current week.
func (q *QuotaTracker) Usage(ctx context.Context, userID string) (UserQuotaWindow, error) {
	start, end := q.Week(q.now())
	count, err := q.Count(ctx, userID, start, end)
	if err != nil {
		return UserQuotaWindow{}, err
	}
	return UserQuotaWindow{UserID: userID, WeekStart: start, WeekEnd: end, ConfirmedCount: count}, nil
}

// Summary lists this week's bookings for userID, split by whether the user is
// the first listed participant.
func (q *QuotaTracker) Summary(ctx context.Context, userID string) (BookingSummary, error) {
	start, end := q.Week(q.now())
	booked, err := q.booked(ctx, userID, start, end)
	if err != nil {
		return BookingSummary{}, err
	}
	summary := BookingSummary{
		UserQuotaWindow: UserQuotaWindow{UserID: userID, WeekStart: start, WeekEnd: end, ConfirmedCount: len(booked)},
		Slots:           booked,
	}
	for _, s := range booked {
		if len(s.ParticipantIDs) > 0 && s.ParticipantIDs[0] == userID {
			summary.PrimaryCount++
		} else {
			summary.PartnerCount++
		}
	}
	return summary, nil
}

// LimitFor resolves the weekly limit for a tier. TierNone reports the normal
// limit for display only; it never admits.
func LimitFor(tier Tier, cfg *RegistrationConfig) int {
	if cfg == nil {
		return 0
	}
	if tier == TierVIP {
		return cfg.WeeklyLimitPrivilege
	}
	return cfg.WeeklyLimitNormal
}

func (q *QuotaTracker) booked(ctx context.Context, userID string, from, to slot.Date) ([]slot.Slot, error) {
	if q.slots == nil {
		return nil, fmt.Errorf("%w: no slot store", ErrTransportFailure)
	}
	all, err := q.slots.ListSlots(ctx, from, to)
	if err != nil {
		return nil, err
	}
	var out []slot.Slot
	for _, s := range all {
		if s.Status == slot.StatusBooked && s.Date.Within(from, to) && s.HasParticipant(userID) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].TimeSlotID < out[j].TimeSlotID
	})
	return out, nil
}
