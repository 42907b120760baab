package aggregate

import (
	"slices"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"colorcal/internal/model"
)

// TitleLanguage fixes the collation used to order titles.
var TitleLanguage = language.English

// EventsOverlappingDay returns the events overlapping the local day
// containing day, ordered for display: all-day events first by title, then
// timed events by start, end and title.
//
// An event overlaps when its clamped intersection with [dayStart, dayEnd)
// is non-empty, so an event ending exactly at dayStart, or a zero-length
// event, never appears. No deduplication is performed.
func EventsOverlappingDay(events []model.Event, day time.Time, loc *time.Location) []model.Event {
	loc = locationOrLocal(loc)
	dayStart := StartOfDay(day, loc)
	dayEnd := NextDay(dayStart, loc)

	out := make([]model.Event, 0)
	for _, ev := range events {
		if overlaps(ev, dayStart, dayEnd) {
			out = append(out, ev)
		}
	}

	SortForDisplay(out)
	return out
}

func overlaps(ev model.Event, from, to time.Time) bool {
	s := later(ev.Start, from)
	e := earlier(effectiveEnd(ev.Start, ev.End), to)
	return e.After(s)
}

// SortForDisplay orders events in place. The order is total: events that
// tie on every display key fall back to calendar id and event id, so the
// result does not depend on input order.
func SortForDisplay(events []model.Event) {
	titles := newTitleComparer()

	slices.SortFunc(events, func(a, b model.Event) int {
		if a.AllDay != b.AllDay {
			if a.AllDay {
				return -1
			}
			return 1
		}

		if a.AllDay {
			if c := titles.compare(a.Title, b.Title); c != 0 {
				return c
			}
			if c := compareTimes(a, b); c != 0 {
				return c
			}
		} else {
			if c := compareTimes(a, b); c != 0 {
				return c
			}
			if c := titles.compare(a.Title, b.Title); c != 0 {
				return c
			}
		}

		if c := strings.Compare(a.CalendarID, b.CalendarID); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func compareTimes(a, b model.Event) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	return a.End.Compare(b.End)
}

// titleComparer is not safe for concurrent use; one is built per sort.
type titleComparer struct {
	col *collate.Collator
}

func newTitleComparer() *titleComparer {
	return &titleComparer{col: collate.New(TitleLanguage)}
}

func (t *titleComparer) compare(a, b string) int {
	if c := t.col.CompareString(a, b); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}
