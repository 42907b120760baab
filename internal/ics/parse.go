package ics

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "colorcal/internal/log"
)

// ParsedEvent is one VEVENT with its times resolved. Recurrence is kept in
// raw form; Expand turns it into occurrences.
type ParsedEvent struct {
	Source Source

	UID     string
	Seq     int
	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	// Days is the length of an all-day event in calendar days.
	Days int

	RawRRule   string
	RDates     []time.Time
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID of an overridden instance
	IsOverride bool
	Cancelled  bool
}

var errNotCalendar = errors.New("payload is not an iCalendar object")

// ParseICS parses one feed body. Floating times and dates are placed in loc
// so all-day events cover whole local days. Events that cannot be read are
// logged and skipped; an unreadable payload is an error.
func ParseICS(src Source, body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if !bytes.Contains(body, []byte("BEGIN:VCALENDAR")) {
		return nil, errNotCalendar
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp, loc)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "id", src.ID, "err", perr)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil && strings.TrimSpace(p.Value) != "" {
		out.UID = strings.TrimSpace(p.Value)
	} else {
		out.UID = uuid.NewString()
	}
	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Seq = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Cancelled = strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED")
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("event %s: missing DTSTART", out.UID)
	}
	start, dateOnly, err := propTime(dtStart, strings.TrimSpace(dtStart.Value), loc)
	if err != nil {
		return out, fmt.Errorf("event %s: DTSTART: %w", out.UID, err)
	}
	out.Start = start
	out.AllDay = dateOnly

	end, err := eventEnd(ve, start, dateOnly, loc)
	if err != nil {
		return out, fmt.Errorf("event %s: %w", out.UID, err)
	}
	out.End = end
	if out.AllDay {
		out.Days = calendarDays(out.Start, out.End)
		out.End = out.Start.AddDate(0, 0, out.Days)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = strings.TrimSpace(p.Value)
	}
	out.ExDates = multiTimes(ve.GetProperties(ical.ComponentPropertyExdate), loc)
	out.RDates = multiTimes(ve.GetProperties(ical.ComponentProperty("RDATE")), loc)

	if p := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		if t, _, err := propTime(p, strings.TrimSpace(p.Value), loc); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// eventEnd resolves DTEND, falling back to DURATION and then to the
// RFC 5545 defaults: one day for dates, zero length for date-times.
func eventEnd(ve *ical.VEvent, start time.Time, dateOnly bool, loc *time.Location) (time.Time, error) {
	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
		end, _, err := propTime(p, strings.TrimSpace(p.Value), loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("DTEND: %w", err)
		}
		return end, nil
	}
	if p := ve.GetProperty(ical.ComponentProperty("DURATION")); p != nil {
		d, days, err := parseDuration(p.Value)
		if err != nil {
			return time.Time{}, fmt.Errorf("DURATION: %w", err)
		}
		return start.AddDate(0, 0, days).Add(d), nil
	}
	if dateOnly {
		return start.AddDate(0, 0, 1), nil
	}
	return start, nil
}

// propTime parses a DATE or DATE-TIME value of prop. UTC values keep UTC,
// TZID values use that zone when it is known, and floating values use loc.
func propTime(prop *ical.IANAProperty, v string, loc *time.Location) (time.Time, bool, error) {
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	if param(prop, "VALUE") == "DATE" || !strings.Contains(v, "T") {
		t, err := time.ParseInLocation("20060102", v, loc)
		return t, true, err
	}
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}

	zone := loc
	if tzid := param(prop, "TZID"); tzid != "" {
		if l, err := time.LoadLocation(strings.Trim(tzid, `"`)); err == nil {
			zone = l
		} else {
			appLog.Debug("unknown TZID, using display location", "tzid", tzid)
		}
	}
	t, err := time.ParseInLocation("20060102T150405", v, zone)
	return t, false, err
}

func param(prop *ical.IANAProperty, name string) string {
	if prop == nil || prop.ICalParameters == nil {
		return ""
	}
	if vs := prop.ICalParameters[name]; len(vs) > 0 {
		return strings.ToUpper(strings.TrimSpace(vs[0]))
	}
	return ""
}

// multiTimes reads comma-separated EXDATE/RDATE lists.
func multiTimes(props []*ical.IANAProperty, loc *time.Location) []time.Time {
	var out []time.Time
	for _, p := range props {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, _, err := propTime(p, part, loc); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

// calendarDays counts the days between two local midnights, at least one.
func calendarDays(start, end time.Time) int {
	y1, m1, d1 := start.Date()
	y2, m2, d2 := end.In(start.Location()).Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	days := int(b.Sub(a).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

var durationRe = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseDuration parses an RFC 5545 DURATION. Day and week parts are
// returned as calendar days so they survive DST changes.
func parseDuration(v string) (time.Duration, int, error) {
	m := durationRe.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(v)))
	if m == nil || v == "P" || strings.HasSuffix(v, "T") {
		return 0, 0, fmt.Errorf("invalid duration %q", v)
	}
	n := func(s string) int {
		if s == "" {
			return 0
		}
		i, _ := strconv.Atoi(s)
		return i
	}
	days := n(m[2])*7 + n(m[3])
	d := time.Duration(n(m[4]))*time.Hour + time.Duration(n(m[5]))*time.Minute + time.Duration(n(m[6]))*time.Second
	if m[1] == "-" {
		return -d, -days, nil
	}
	return d, days, nil
}
