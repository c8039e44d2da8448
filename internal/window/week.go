package window

import "time"

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = ReferenceLocation()
	}
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// WeekBounds returns Monday 00:00:00 and Sunday 23:59:59 of the week containing t.
func WeekBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	day := StartOfDay(t, loc)
	offset := (int(day.Weekday()) + 6) % 7
	start := day.AddDate(0, 0, -offset)
	end := start.AddDate(0, 0, 7).Add(-time.Second)
	return start, end
}

// BookableRange returns the first and last calendar day users may book: the
// current week plus the following weeks-1 weeks.
func BookableRange(t time.Time, loc *time.Location, weeks int) (time.Time, time.Time) {
	if weeks < 1 {
		weeks = 1
	}
	start, _ := WeekBounds(t, loc)
	last := start.AddDate(0, 0, 7*weeks-1)
	return start, last
}

// CancellationWindow converts a tier window into the release deadline window:
// it opens Monday at midnight and closes at the tier window's close.
func CancellationWindow(w Window) Window {
	return Window{
		OpenDay:   Monday,
		CloseDay:  w.CloseDay,
		OpenTime:  0,
		CloseTime: w.CloseTime,
	}
}
