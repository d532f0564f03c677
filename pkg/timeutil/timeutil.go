// Package timeutil provides calendar-day helpers. Plans are dated in the
// institute's timezone, so every helper works in the location of its
// argument and never converts to UTC.
package timeutil

import "time"

// DateLayout is the wire format of plan dates.
const DateLayout = "2006-01-02"

// ClockIn returns a clock that reports the current time in loc.
// A nil loc yields time.Now unchanged.
func ClockIn(loc *time.Location) func() time.Time {
	if loc == nil {
		return time.Now
	}
	return func() time.Time { return time.Now().In(loc) }
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// IsSameDay reports whether a falls on the calendar day of ref, with a
// viewed in ref's location.
func IsSameDay(a, ref time.Time) bool {
	ay, am, ad := a.In(ref.Location()).Date()
	ry, rm, rd := ref.Date()
	return ay == ry && am == rm && ad == rd
}

// IsBeforeDay reports whether a falls on a calendar day before ref's.
func IsBeforeDay(a, ref time.Time) bool {
	return StartOfDay(a.In(ref.Location())).Before(StartOfDay(ref))
}

// DaysBetween counts calendar days from a to b in b's location. It is
// negative when a is after b.
func DaysBetween(a, b time.Time) int {
	from := StartOfDay(a.In(b.Location()))
	to := StartOfDay(b)
	// Built from dates, so DST shifts never exceed an hour.
	hours := to.Sub(from).Hours()
	if hours >= 0 {
		return int((hours + 12) / 24)
	}
	return -int((-hours + 12) / 24)
}

// FormatDate formats t as a plan date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a plan date at midnight in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout, value, loc)
}
