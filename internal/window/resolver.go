package window

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how a window's day and time bounds are combined.
type Mode string

const (
	// ModeDaily admits when the day is within [OpenDay, CloseDay] and, on each
	// of those days, the time of day is within [OpenTime, CloseTime].
	ModeDaily Mode = "daily"
	// ModeContinuous admits over the single span from (OpenDay, OpenTime) to
	// (CloseDay, CloseTime), wrapping Sunday to Monday when the close precedes the open.
	ModeContinuous Mode = "continuous"
)

// ParseMode accepts "daily" or "continuous" case-insensitively.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeDaily:
		return ModeDaily, nil
	case ModeContinuous:
		return ModeContinuous, nil
	default:
		return "", fmt.Errorf("window: unknown mode %q", value)
	}
}

// Status is the result of resolving both admission windows at an instant.
type Status struct {
	InNormalWindow    bool
	InPrivilegeWindow bool
	Day               DayOfWeek
	Time              TimeOfDay
}

// Resolver evaluates windows in a fixed reference location.
type Resolver struct {
	location *time.Location
	mode     Mode
}

// NewResolver constructs a Resolver. A nil location selects the reference
// location and an empty mode selects ModeDaily.
func NewResolver(loc *time.Location, mode Mode) *Resolver {
	if loc == nil {
		loc = ReferenceLocation()
	}
	if mode == "" {
		mode = ModeDaily
	}
	return &Resolver{location: loc, mode: mode}
}

// Location returns the reference location.
func (r *Resolver) Location() *time.Location {
	return r.location
}

// Mode returns the configured window mode.
func (r *Resolver) Mode() Mode {
	return r.mode
}

// Resolve reports which of the two windows contain now.
func (r *Resolver) Resolve(now time.Time, normal, privilege Window) Status {
	day, tod := r.position(now)
	return Status{
		InNormalWindow:    contains(r.mode, normal, day, tod),
		InPrivilegeWindow: contains(r.mode, privilege, day, tod),
		Day:               day,
		Time:              tod,
	}
}

// Contains reports whether now lies inside w.
func (r *Resolver) Contains(now time.Time, w Window) bool {
	day, tod := r.position(now)
	return contains(r.mode, w, day, tod)
}

func (r *Resolver) position(now time.Time) (DayOfWeek, TimeOfDay) {
	local := now.In(r.location).Truncate(time.Second)
	return DayOf(local.Weekday()), TimeOfDayOf(local)
}

func contains(mode Mode, w Window, day DayOfWeek, tod TimeOfDay) bool {
	if mode == ModeContinuous {
		return containsContinuous(w, day, tod)
	}
	return containsDaily(w, day, tod)
}

func containsDaily(w Window, day DayOfWeek, tod TimeOfDay) bool {
	if w.Wraps() {
		if day < w.OpenDay && day > w.CloseDay {
			return false
		}
	} else if day < w.OpenDay || day > w.CloseDay {
		return false
	}
	return tod >= w.OpenTime && tod <= w.CloseTime
}

const secondsPerDay = int(EndOfDay) + 1

func weekOffset(day DayOfWeek, tod TimeOfDay) int {
	return (int(day)-1)*secondsPerDay + int(tod)
}

func containsContinuous(w Window, day DayOfWeek, tod TimeOfDay) bool {
	open := weekOffset(w.OpenDay, w.OpenTime)
	closeAt := weekOffset(w.CloseDay, w.CloseTime)
	cur := weekOffset(day, tod)
	if open <= closeAt {
		return cur >= open && cur <= closeAt
	}
	return cur >= open || cur <= closeAt
}
