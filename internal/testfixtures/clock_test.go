package testfixtures

import (
	"testing"
	"time"

	"github.com/example/session-booking/internal/window"
)

func TestClockDefaultsToReferenceTime(t *testing.T) {
	clock := NewClock(time.Time{})
	if !clock.Now().Equal(ReferenceTime()) {
		t.Fatalf("expected ReferenceTime, got %v", clock.Now())
	}
	if got := clock.Now().In(window.ReferenceLocation()).Weekday(); got != time.Monday {
		t.Fatalf("expected reference time on a Monday, got %v", got)
	}
}

func TestClockAdvanceAndSet(t *testing.T) {
	start := time.Date(2026, time.March, 14, 9, 26, 0, 0, time.UTC)
	clock := NewClock(start)

	updated := clock.Advance(90 * time.Minute)
	if !updated.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("advance returned %v", updated)
	}

	clock.Set(start.Add(2 * time.Hour))
	if got := clock.Now(); !got.Equal(start.Add(2 * time.Hour)) {
		t.Fatalf("expected %v, got %v", start.Add(2*time.Hour), got)
	}
}

func TestClockNowFunc(t *testing.T) {
	clock := NewClock(time.Time{})
	nowFn := clock.NowFunc()

	clock.Advance(time.Minute)
	if got := nowFn(); !got.Equal(clock.Now()) {
		t.Fatalf("expected updated time %v, got %v", clock.Now(), got)
	}
}

func TestClockSetWeekday(t *testing.T) {
	clock := NewClock(time.Time{})
	got := clock.SetWeekday(window.Friday, "18:30").In(window.ReferenceLocation())

	if got.Weekday() != time.Friday || got.Hour() != 18 || got.Minute() != 30 {
		t.Fatalf("expected Friday 18:30, got %v", got)
	}
	monday, _ := window.WeekBounds(ReferenceTime(), window.ReferenceLocation())
	if got.Before(monday) || got.Sub(monday) > 7*24*time.Hour {
		t.Fatalf("expected the reference week, got %v", got)
	}
}
