package window

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cst is the fallback reference zone when tzdata for Asia/Shanghai is unavailable.
var cst = time.FixedZone("CST", 8*60*60)

// ReferenceLocation returns the location used for all window and week calculations.
func ReferenceLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return cst
	}
	return loc
}

// LoadLocation resolves name, falling back to the fixed UTC+8 reference zone.
func LoadLocation(name string) *time.Location {
	if strings.TrimSpace(name) == "" {
		return ReferenceLocation()
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return cst
	}
	return loc
}

// DayOfWeek numbers days ISO style: Monday=1 through Sunday=7.
type DayOfWeek int

const (
	Monday DayOfWeek = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var dayNames = [...]string{"", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// DayOf converts a time.Weekday to DayOfWeek.
func DayOf(d time.Weekday) DayOfWeek {
	return DayOfWeek((int(d)+6)%7 + 1)
}

// Valid reports whether the day lies in 1..7.
func (d DayOfWeek) Valid() bool {
	return d >= Monday && d <= Sunday
}

func (d DayOfWeek) String() string {
	if !d.Valid() {
		return fmt.Sprintf("day(%d)", int(d))
	}
	return dayNames[d]
}

// TimeOfDay is a wall-clock time expressed in seconds since midnight.
type TimeOfDay int

// EndOfDay is the last representable second of a day.
const EndOfDay TimeOfDay = 24*60*60 - 1

var (
	// ErrInvalidTimeOfDay is returned when a time of day cannot be parsed.
	ErrInvalidTimeOfDay = errors.New("window: invalid time of day")
	// ErrInvalidWindow is returned when a window carries out-of-range bounds.
	ErrInvalidWindow = errors.New("window: invalid window")
)

// ParseTimeOfDay parses HH:MM:SS or HH:MM.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, value)
	}
	limits := []int{23, 59, 59}
	units := []int{3600, 60, 1}
	total := 0
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > limits[i] || len(part) != 2 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, value)
		}
		total += n * units[i]
	}
	return TimeOfDay(total), nil
}

// MustParseTimeOfDay is ParseTimeOfDay for constants and fixtures.
func MustParseTimeOfDay(value string) TimeOfDay {
	t, err := ParseTimeOfDay(value)
	if err != nil {
		panic(err)
	}
	return t
}

// TimeOfDayOf extracts the wall-clock time of t in its own location, truncated to seconds.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(t)/3600, int(t)%3600/60, int(t)%60)
}

// Valid reports whether t lies within a single day.
func (t TimeOfDay) Valid() bool {
	return t >= 0 && t <= EndOfDay
}

// Window is a day-of-week/time-of-day admission interval.
type Window struct {
	OpenDay   DayOfWeek
	CloseDay  DayOfWeek
	OpenTime  TimeOfDay
	CloseTime TimeOfDay
}

// Validate reports out-of-range days or times.
func (w Window) Validate() error {
	var problems []string
	if !w.OpenDay.Valid() {
		problems = append(problems, "open day must be 1..7")
	}
	if !w.CloseDay.Valid() {
		problems = append(problems, "close day must be 1..7")
	}
	if !w.OpenTime.Valid() {
		problems = append(problems, "open time must be within a day")
	}
	if !w.CloseTime.Valid() {
		problems = append(problems, "close time must be within a day")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidWindow, strings.Join(problems, "; "))
	}
	return nil
}

// Wraps reports whether the day range crosses the Sunday/Monday boundary.
func (w Window) Wraps() bool {
	return w.OpenDay > w.CloseDay
}

// Describe renders the window for display, e.g. "Mon 09:00:00 - Wed 18:00:00".
func Describe(w Window) string {
	return fmt.Sprintf("%s %s - %s %s", w.OpenDay, w.OpenTime, w.CloseDay, w.CloseTime)
}
