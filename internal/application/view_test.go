package application_test

import (
	"testing"
	"time"

	"github.com/example/session-booking/internal/application"
	"github.com/example/session-booking/internal/slot"
	"github.com/example/session-booking/internal/testfixtures"
)

func newWeekView() *application.WeekView {
	return application.NewWeekView(testfixtures.ReferenceDate(0), testfixtures.ReferenceDate(6))
}

func stamped(s slot.Slot, offset time.Duration) *slot.Slot {
	s.UpdatedAt = testfixtures.ReferenceTime().Add(offset)
	return &s
}

func statusOf(t *testing.T, view *application.WeekView, id string) (slot.Status, bool) {
	t.Helper()
	for _, s := range view.Snapshot() {
		if s.ID == id {
			return s.Status, true
		}
	}
	return "", false
}

func TestWeekView_LocalOverlay(t *testing.T) {
	t.Parallel()

	view := newWeekView()
	base := testfixtures.NewSlot(testfixtures.WithSlotID("s1"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(1), "10:00"))
	view.ApplyRemote(application.SlotChange{Type: application.ChangeInsert, After: stamped(base, 0)})

	editing := base
	editing.Status = slot.StatusEditing
	view.ApplyLocal(application.SlotChange{Type: application.ChangeUpdate, After: stamped(editing, time.Minute)})
	if status, _ := statusOf(t, view, "s1"); status != slot.StatusEditing || view.Pending() != 1 {
		t.Fatalf("expected local edit to overlay, got %s with %d pending", status, view.Pending())
	}

	view.ApplyRemote(application.SlotChange{Type: application.ChangeUpdate, After: stamped(base, 30*time.Second)})
	if status, _ := statusOf(t, view, "s1"); status != slot.StatusEditing || view.Pending() != 1 {
		t.Fatalf("expected older remote event to leave the overlay, got %s with %d pending", status, view.Pending())
	}

	booked := base
	booked.Status = slot.StatusBooked
	view.ApplyRemote(application.SlotChange{Type: application.ChangeUpdate, After: stamped(booked, time.Minute)})
	if status, _ := statusOf(t, view, "s1"); status != slot.StatusBooked || view.Pending() != 0 {
		t.Fatalf("expected fresher remote state to win, got %s with %d pending", status, view.Pending())
	}

	view.ApplyLocal(application.SlotChange{Type: application.ChangeDelete, Before: stamped(booked, 2*time.Minute)})
	if _, ok := statusOf(t, view, "s1"); ok {
		t.Fatalf("expected local delete to hide the slot")
	}
	view.ApplyRemote(application.SlotChange{Type: application.ChangeDelete, Before: stamped(booked, time.Minute)})
	if view.Pending() != 0 || len(view.Snapshot()) != 0 {
		t.Fatalf("expected remote delete to settle the view, got %d pending", view.Pending())
	}
}

func TestWeekView_DisplayedRange(t *testing.T) {
	t.Parallel()

	view := newWeekView()
	inside := testfixtures.NewSlot(testfixtures.WithSlotID("s1"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(2), "10:00"))
	outside := testfixtures.NewSlot(testfixtures.WithSlotID("s2"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(9), "10:00"))

	view.ApplyRemote(application.SlotChange{Type: application.ChangeInsert, After: stamped(inside, 0)})
	view.ApplyRemote(application.SlotChange{Type: application.ChangeInsert, After: stamped(outside, 0)})
	if got := len(view.Snapshot()); got != 1 {
		t.Fatalf("expected only in-range slots, got %d", got)
	}

	moved := inside
	moved.Date = testfixtures.ReferenceDate(8)
	view.ApplyRemote(application.SlotChange{Type: application.ChangeUpdate, Before: stamped(inside, 0), After: stamped(moved, time.Second)})
	if got := len(view.Snapshot()); got != 0 {
		t.Fatalf("expected slot moved out of range to disappear, got %d", got)
	}

	view.ApplyRemote(application.SlotChange{Type: application.ChangeUpdate})
	if got := len(view.Snapshot()); got != 0 {
		t.Fatalf("expected empty change to be ignored, got %d", got)
	}
}

func TestWeekView_ReplaceConfirmedHonoursMark(t *testing.T) {
	t.Parallel()

	view := newWeekView()
	early := testfixtures.NewSlot(testfixtures.WithSlotID("early"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(1), "09:00"), testfixtures.Editing("alice", testfixtures.ReferenceTime().Add(time.Minute)))
	late := testfixtures.NewSlot(testfixtures.WithSlotID("late"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(1), "10:00"), testfixtures.Editing("bob", testfixtures.ReferenceTime().Add(time.Minute)))

	view.ApplyLocal(application.SlotChange{Type: application.ChangeInsert, After: stamped(early, 0)})
	mark := view.Mark()
	view.ApplyLocal(application.SlotChange{Type: application.ChangeInsert, After: stamped(late, 0)})

	confirmedEarly := early
	confirmedEarly.Status = slot.StatusBooked
	view.ReplaceConfirmed([]slot.Slot{confirmedEarly}, mark)

	if view.Pending() != 1 {
		t.Fatalf("expected the change after the mark to stay pending, got %d", view.Pending())
	}
	snapshot := view.Snapshot()
	if len(snapshot) != 2 || snapshot[0].ID != "early" || snapshot[1].ID != "late" {
		t.Fatalf("expected early then late, got %+v", snapshot)
	}
	if snapshot[0].Status != slot.StatusBooked || snapshot[1].Status != slot.StatusEditing {
		t.Fatalf("expected refetched early and pending late, got %s and %s", snapshot[0].Status, snapshot[1].Status)
	}

	view.ReplaceConfirmed(nil, view.Mark())
	if view.Pending() != 0 || len(view.Snapshot()) != 0 {
		t.Fatalf("expected an empty refetch to clear the view")
	}
}

func TestWeekView_Subscribe(t *testing.T) {
	t.Parallel()

	view := newWeekView()
	var events []application.ViewEvent
	cancel := view.Subscribe(func(event application.ViewEvent) {
		events = append(events, event)
	})

	s := testfixtures.NewSlot(testfixtures.WithSlotID("s1"), testfixtures.WithSlotKey(testfixtures.ReferenceDate(3), "10:00"))
	view.ApplyLocal(application.SlotChange{Type: application.ChangeInsert, After: stamped(s, 0)})
	view.ApplyRemote(application.SlotChange{Type: application.ChangeInsert, After: stamped(s, time.Second)})
	view.ReplaceConfirmed([]slot.Slot{s}, view.Mark())
	cancel()
	view.ApplyRemote(application.SlotChange{Type: application.ChangeDelete, Before: &s})

	want := []application.ViewEventKind{application.ViewLocal, application.ViewRemote, application.ViewRefresh}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, kind := range want {
		if events[i].Kind != kind {
			t.Fatalf("expected event %d to be %s, got %s", i, kind, events[i].Kind)
		}
		if len(events[i].Slots) != 1 {
			t.Fatalf("expected event %d to carry the snapshot, got %d slots", i, len(events[i].Slots))
		}
	}
	if events[0].SlotID != "s1" || events[2].SlotID != "" {
		t.Fatalf("expected slot ids on change events only, got %q and %q", events[0].SlotID, events[2].SlotID)
	}
}
