// Package aggregate turns provider events into day-indexed results: the set
// of calendars active on each day of a range, and the ordered event list of
// a single day. Every function here is pure and safe for concurrent use.
package aggregate

import "time"

// InstantResolution is the smallest step between two instants. The bucketer
// subtracts it from a clamped end to get an inclusive end, so an event
// ending exactly at midnight does not mark the following day.
const InstantResolution = time.Nanosecond

func locationOrLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}

// StartOfDay returns the first instant of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	loc = locationOrLocal(loc)
	y, m, d := t.In(loc).Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if dy, dm, dd := day.Date(); dy != y || dm != m || dd != d {
		// Midnight was skipped by a zone transition; the day begins at the
		// transition itself.
		if _, end := day.ZoneBounds(); !end.IsZero() {
			day = end
		}
	}
	return day
}

// NextDay returns the start of the calendar day after t's day in loc. The
// step is calendar arithmetic, so it spans 23 or 25 hours across DST changes.
func NextDay(t time.Time, loc *time.Location) time.Time {
	loc = locationOrLocal(loc)
	y, m, d := t.In(loc).Date()
	return StartOfDay(time.Date(y, m, d+1, 12, 0, 0, 0, loc), loc)
}

// AddDays returns the start of the day n calendar days after t's day.
func AddDays(t time.Time, n int, loc *time.Location) time.Time {
	loc = locationOrLocal(loc)
	y, m, d := t.In(loc).Date()
	return StartOfDay(time.Date(y, m, d+n, 12, 0, 0, 0, loc), loc)
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// effectiveEnd treats an event ending before it starts as zero-length.
func effectiveEnd(start, end time.Time) time.Time {
	if end.Before(start) {
		return start
	}
	return end
}
