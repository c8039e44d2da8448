package window

import (
	"testing"
	"time"
)

func TestWeekBounds(t *testing.T) {
	t.Parallel()

	loc := ReferenceLocation()
	cases := map[string]string{
		"2024-03-04 00:00:00": "2024-03-04",
		"2024-03-06 13:00:00": "2024-03-04",
		"2024-03-10 23:59:59": "2024-03-04",
		"2024-03-11 00:00:00": "2024-03-11",
	}
	for in, want := range cases {
		now, err := time.ParseInLocation("2006-01-02 15:04:05", in, loc)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		start, end := WeekBounds(now, loc)
		if got := start.Format("2006-01-02"); got != want {
			t.Fatalf("%s: expected week start %s, got %s", in, want, got)
		}
		if start.Hour() != 0 || start.Minute() != 0 || start.Second() != 0 {
			t.Fatalf("%s: expected midnight start, got %s", in, start)
		}
		if got := end.Sub(start); got != 7*24*time.Hour-time.Second {
			t.Fatalf("%s: expected inclusive week span, got %v", in, got)
		}
		if end.Weekday() != time.Sunday || end.Format("15:04:05") != "23:59:59" {
			t.Fatalf("%s: expected Sunday 23:59:59 end, got %s", in, end)
		}
	}
}

func TestBookableRange(t *testing.T) {
	t.Parallel()

	loc := ReferenceLocation()
	now := time.Date(2024, time.March, 6, 10, 0, 0, 0, loc)

	first, last := BookableRange(now, loc, 2)
	if got := first.Format("2006-01-02"); got != "2024-03-04" {
		t.Fatalf("expected first 2024-03-04, got %s", got)
	}
	if got := last.Format("2006-01-02"); got != "2024-03-17" {
		t.Fatalf("expected last 2024-03-17, got %s", got)
	}

	_, single := BookableRange(now, loc, 0)
	if got := single.Format("2006-01-02"); got != "2024-03-10" {
		t.Fatalf("expected single-week range to end 2024-03-10, got %s", got)
	}
}

func TestCancellationWindow(t *testing.T) {
	t.Parallel()

	loc := ReferenceLocation()
	tier := Window{OpenDay: Monday, CloseDay: Wednesday, OpenTime: MustParseTimeOfDay("09:00:00"), CloseTime: MustParseTimeOfDay("18:00:00")}
	cancel := CancellationWindow(tier)

	continuous := NewResolver(loc, ModeContinuous)
	daily := NewResolver(loc, ModeDaily)

	tuesdayNight := time.Date(2024, time.March, 5, 23, 0, 0, 0, loc)
	if !continuous.Contains(tuesdayNight, cancel) {
		t.Fatalf("continuous: expected tuesday night before the deadline to allow release")
	}
	if daily.Contains(tuesdayNight, cancel) {
		t.Fatalf("daily: expected tuesday 23:00 to fall outside daily hours")
	}

	thursday := time.Date(2024, time.March, 7, 9, 0, 0, 0, loc)
	if continuous.Contains(thursday, cancel) {
		t.Fatalf("continuous: expected thursday to be past the deadline")
	}
}

func TestDayOf(t *testing.T) {
	t.Parallel()

	if DayOf(time.Sunday) != Sunday || DayOf(time.Monday) != Monday || DayOf(time.Saturday) != Saturday {
		t.Fatalf("unexpected weekday mapping")
	}
}
