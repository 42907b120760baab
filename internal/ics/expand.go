package ics

import (
	"errors"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	"colorcal/internal/aggregate"
	appLog "colorcal/internal/log"
	"colorcal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// Location anchors all-day occurrences to whole local days. Nil means
	// time.Local.
	Location *time.Location

	// Occurrences overlapping [RangeStart, RangeEnd) are produced.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps one series. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

type ExpandResult struct {
	Events []model.Event
	// TruncatedEvents lists UIDs that hit MaxOccurrencesPerEvent.
	TruncatedEvents []string
}

// Expand turns parsed VEVENTs into concrete events overlapping the range.
// RRULE and RDATE series are expanded, EXDATEs removed, and instances with
// a RECURRENCE-ID override replaced (or dropped when cancelled).
func Expand(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if !cfg.RangeStart.Before(cfg.RangeEnd) {
		return result, errors.New("expand: range start is not before range end")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	uids := make([]string, 0)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	for _, uid := range uids {
		overrides := overridesByUID[uid]
		for _, ev := range baseByUID[uid] {
			var hitCap bool
			if ev.RawRRule == "" && len(ev.RDates) == 0 {
				result.Events = append(result.Events, expandSingle(ev, cfg)...)
			} else {
				var occ []model.Event
				occ, hitCap = expandRecurring(ev, overrides, cfg)
				result.Events = append(result.Events, occ...)
			}
			if hitCap && !slices.Contains(result.TruncatedEvents, uid) {
				result.TruncatedEvents = append(result.TruncatedEvents, uid)
				appLog.Warn("expand: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
			}
		}
	}

	// Overrides whose series is missing from the feed stand on their own.
	for uid, overrides := range overridesByUID {
		if _, ok := baseByUID[uid]; ok {
			continue
		}
		for _, ov := range overrides {
			result.Events = append(result.Events, expandSingle(ov, cfg)...)
		}
	}

	return result, nil
}

func expandSingle(ev ParsedEvent, cfg ExpandConfig) []model.Event {
	if ev.Cancelled {
		return nil
	}
	start, end := occurrenceBounds(ev, ev.Start, cfg.Location)
	if !overlapsRange(start, end, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.Event{toEvent(ev, ev.UID, start, end)}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	var set rrule.Set
	if ev.RawRRule != "" {
		r, err := rrule.StrToRRule(ev.RawRRule)
		if err != nil {
			appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
			return expandSingle(ev, cfg), false
		}
		r.DTStart(ev.Start)
		set.RRule(r)
	} else {
		set.DTStart(ev.Start)
		set.RDate(ev.Start)
	}
	for _, rd := range ev.RDates {
		set.RDate(rd.In(ev.Start.Location()))
	}
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Instances starting up to one span before the range can still overlap it.
	_, firstEnd := occurrenceBounds(ev, ev.Start, cfg.Location)
	span := firstEnd.Sub(ev.Start) + time.Hour
	starts := set.Between(cfg.RangeStart.Add(-span), cfg.RangeEnd, true)

	out := make([]model.Event, 0, len(starts))
	hitCap := false
	for _, occStart := range starts {
		if len(out) == cfg.MaxOccurrencesPerEvent {
			hitCap = true
			break
		}

		instance := ev
		start, end := occurrenceBounds(ev, occStart, cfg.Location)
		if o, ok := findOverride(overrides, occStart); ok {
			if o.Cancelled {
				continue
			}
			instance = o
			start, end = occurrenceBounds(o, o.Start, cfg.Location)
		}
		if !overlapsRange(start, end, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, toEvent(instance, instanceID(ev.UID, occStart), start, end))
	}

	// An override can move an instance from outside the window into it.
	for _, o := range overrides {
		if o.Cancelled || containsInstant(starts, *o.Recurrence) {
			continue
		}
		if !isInstance(&set, *o.Recurrence) {
			continue
		}
		start, end := occurrenceBounds(o, o.Start, cfg.Location)
		if overlapsRange(start, end, cfg.RangeStart, cfg.RangeEnd) {
			out = append(out, toEvent(o, instanceID(ev.UID, *o.Recurrence), start, end))
		}
	}

	return out, hitCap
}

// occurrenceBounds returns the instants of one occurrence starting at start.
// All-day occurrences cover whole local days of loc.
func occurrenceBounds(ev ParsedEvent, start time.Time, loc *time.Location) (time.Time, time.Time) {
	if ev.AllDay {
		y, m, d := start.Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, loc)
		return day, aggregate.AddDays(day, max(ev.Days, 1), loc)
	}
	return start, start.Add(ev.End.Sub(ev.Start))
}

func findOverride(overrides []ParsedEvent, occStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(occStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func isInstance(set *rrule.Set, t time.Time) bool {
	return len(set.Between(t, t, true)) > 0
}

func containsInstant(ts []time.Time, t time.Time) bool {
	for _, x := range ts {
		if x.Equal(t) {
			return true
		}
	}
	return false
}

// overlapsRange is the half-open overlap test; an instant event counts when
// it lies inside the range.
func overlapsRange(start, end, rangeStart, rangeEnd time.Time) bool {
	if !end.After(start) {
		return !start.Before(rangeStart) && start.Before(rangeEnd)
	}
	return start.Before(rangeEnd) && end.After(rangeStart)
}

func instanceID(uid string, occStart time.Time) string {
	return uid + "/" + occStart.UTC().Format("20060102T150405Z")
}

func toEvent(ev ParsedEvent, id string, start, end time.Time) model.Event {
	return model.Event{
		ID:           id,
		Title:        ev.Summary,
		Start:        start,
		End:          end,
		AllDay:       ev.AllDay,
		CalendarID:   ev.Source.ID,
		CalendarName: ev.Source.Name,
	}
}
