package aggregate

import (
	"time"

	"colorcal/internal/model"
)

// BucketEventsByDay maps every local day in the half-open window
// [rangeStart, rangeEnd) to the calendars having at least one event on it.
//
// Events are clamped to the window. An empty or inverted window yields an
// empty map. loc is the viewer's location; nil means time.Local.
func BucketEventsByDay(events []model.Event, rangeStart, rangeEnd time.Time, loc *time.Location) model.DayBucketMap {
	out := make(model.DayBucketMap)
	if !rangeStart.Before(rangeEnd) {
		return out
	}
	loc = locationOrLocal(loc)

	for _, ev := range events {
		s := later(ev.Start, rangeStart)
		e := earlier(effectiveEnd(ev.Start, ev.End), rangeEnd)
		if !e.After(s) {
			continue
		}

		// The boundary instant belongs to the day that just ended.
		eIncl := e.Add(-InstantResolution)
		if eIncl.Before(s) {
			continue
		}

		last := StartOfDay(eIncl, loc)
		for day := StartOfDay(s, loc); !day.After(last); day = NextDay(day, loc) {
			out.Add(model.DayKeyOf(day, loc), ev.CalendarID)
		}
	}

	return out
}
