package model

import (
	"encoding/json"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// UntitledEvent replaces empty event titles.
	UntitledEvent = "Untitled Event"

	// DefaultColor is used when a provider cannot supply a calendar color.
	DefaultColor = "#3B82F6"

	// DayKeyLayout is the canonical yyyy-MM-dd form of a DayKey.
	DayKeyLayout = "2006-01-02"
)

var hexColorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Event represents one concrete occurrence of a calendar event, already
// expanded by the provider. Start and End are absolute instants; Start <= End
// is expected but not trusted.
type Event struct {
	ID    string
	Title string

	Start time.Time
	End   time.Time

	// AllDay events span whole calendar days regardless of exact instants.
	AllDay bool

	CalendarID   string
	CalendarName string
}

// Normalized returns a copy with an id and a display title filled in.
func (e Event) Normalized() Event {
	if strings.TrimSpace(e.Title) == "" {
		e.Title = UntitledEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return e
}

// Calendar describes one calendar as listed by a provider.
type Calendar struct {
	ID    string
	Name  string
	Color string

	// SourceTitle and SourceType describe the account owning the calendar
	// (for example "iCloud" / "caldav"). Both may be empty.
	SourceTitle string
	SourceType  string
}

// Normalized returns a copy whose Color is an upper-case #RRGGBB string.
func (c Calendar) Normalized() Calendar {
	c.Color = NormalizeColor(c.Color)
	return c
}

// NormalizeColor returns color as upper-case #RRGGBB, or DefaultColor when
// color is not a six-hex-digit RGB string.
func NormalizeColor(color string) string {
	color = strings.TrimSpace(color)
	if !hexColorRe.MatchString(color) {
		return DefaultColor
	}
	return strings.ToUpper(color)
}

// ValidColor reports whether color is a #RRGGBB string.
func ValidColor(color string) bool {
	return hexColorRe.MatchString(color)
}

// DayKey identifies a calendar day in the viewer's location, "yyyy-MM-dd".
type DayKey string

// DayKeyOf returns the DayKey of t in loc.
func DayKeyOf(t time.Time, loc *time.Location) DayKey {
	if loc == nil {
		loc = time.Local
	}
	return DayKey(t.In(loc).Format(DayKeyLayout))
}

// Time returns the start of the day identified by k in loc. In zones that
// skip midnight the day starts at the transition instant.
func (k DayKey) Time(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.Parse(DayKeyLayout, string(k))
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if dy, dm, dd := day.Date(); dy != y || dm != m || dd != d {
		if start, _ := time.Date(y, m, d, 12, 0, 0, 0, loc).ZoneBounds(); !start.IsZero() {
			day = start
		}
	}
	return day, nil
}

// CalendarSet is a set of calendar ids.
type CalendarSet map[string]struct{}

func (s CalendarSet) Add(id string) {
	s[id] = struct{}{}
}

func (s CalendarSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the members in ascending order.
func (s CalendarSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// DayBucketMap maps a DayKey to the calendars active on that day.
type DayBucketMap map[DayKey]CalendarSet

// Add records calendarID as active on day.
func (m DayBucketMap) Add(day DayKey, calendarID string) {
	set, ok := m[day]
	if !ok {
		set = make(CalendarSet)
		m[day] = set
	}
	set.Add(calendarID)
}

// Calendars returns the sorted calendar ids active on day.
func (m DayBucketMap) Calendars(day DayKey) []string {
	set, ok := m[day]
	if !ok {
		return nil
	}
	return set.IDs()
}

// MarshalJSON encodes the map as {"yyyy-MM-dd": ["calId", ...]} with
// sorted ids so equal maps encode identically.
func (m DayBucketMap) MarshalJSON() ([]byte, error) {
	out := make(map[string][]string, len(m))
	for day, set := range m {
		out[string(day)] = set.IDs()
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *DayBucketMap) UnmarshalJSON(data []byte) error {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(DayBucketMap, len(raw))
	for day, ids := range raw {
		set := make(CalendarSet, len(ids))
		for _, id := range ids {
			set.Add(id)
		}
		out[DayKey(day)] = set
	}
	*m = out
	return nil
}
