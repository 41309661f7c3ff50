// Package clock is the single source of "now" and "today" for booking rules.
// All calendar arithmetic is done in the hospital's configured timezone so that
// a server running in UTC never shifts the booking day.
package clock

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// Clock reports the current instant in the hospital's local timezone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

type hospitalClock struct {
	loc *time.Location
}

// New returns a wall clock bound to the given IANA timezone.
func New(timezone string) (Clock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &hospitalClock{loc: loc}, nil
}

func (c *hospitalClock) Now() time.Time           { return time.Now().In(c.loc) }
func (c *hospitalClock) Location() *time.Location { return c.loc }

// Fixed is a Clock frozen at a single instant. Used by tests and the CLI.
type Fixed struct {
	At  time.Time
	Loc *time.Location
}

func (f Fixed) Now() time.Time {
	return f.At.In(f.Location())
}

func (f Fixed) Location() *time.Location {
	if f.Loc == nil {
		return time.UTC
	}
	return f.Loc
}

// Today returns the hospital-local calendar day as a UTC midnight value, which
// is how DATE columns come back from the database.
func Today(c Clock) time.Time {
	return DateOf(c.Now())
}

// DateOf strips the wall-clock part of t, keeping t's own calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MinutesNow returns minutes elapsed since local midnight.
func MinutesNow(c Clock) int {
	now := c.Now()
	return now.Hour()*60 + now.Minute()
}

// ParseDate parses YYYY-MM-DD into a UTC midnight value.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}

// FormatDate is the inverse of ParseDate.
func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}

// DaysBetween counts whole calendar days from a to b (negative when b is before a).
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}
