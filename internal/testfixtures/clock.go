package testfixtures

import (
	"sync"
	"time"

	"github.com/example/session-booking/internal/window"
)

// Clock provides a controllable time source for tests.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock returns a clock initialised to the supplied time. When start is the
// zero value, the shared ReferenceTime is used.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

// Now returns the current instant tracked by the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NowFunc exposes Now as a function suitable for dependency injection.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Set updates the clock to the provided time.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward by the provided duration and returns the
// updated time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.current = c.current.Add(d)
	updated := c.current
	c.mu.Unlock()
	return updated
}

// SetWeekday moves the clock to day and clock time hhmm ("HH:MM[:SS]") of the
// week currently on the clock, in the reference zone.
func (c *Clock) SetWeekday(day window.DayOfWeek, hhmm string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = At(c.current, day, hhmm)
	return c.current
}

// At returns the instant at day and hhmm in the reference-zone week containing t.
func At(t time.Time, day window.DayOfWeek, hhmm string) time.Time {
	loc := window.ReferenceLocation()
	monday, _ := window.WeekBounds(t, loc)
	tod := window.MustParseTimeOfDay(hhmm)
	return monday.AddDate(0, 0, int(day)-1).Add(time.Duration(tod) * time.Second)
}
