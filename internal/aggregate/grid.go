package aggregate

import "time"

// GridDays is the number of cells in a month grid: six full weeks.
const GridDays = 42

// Grid is a six-week block of days covering a month.
type Grid struct {
	// Month is the first day of the displayed month.
	Month time.Time
	// Start and End bound the grid as a half-open range.
	Start time.Time
	End   time.Time
	// Days holds the start of each of the GridDays cells.
	Days []time.Time
}

// MonthGrid lays out the month containing month as six weeks beginning on
// weekStart, on or before the first of the month.
func MonthGrid(month time.Time, weekStart time.Weekday, loc *time.Location) Grid {
	loc = locationOrLocal(loc)
	y, m, _ := month.In(loc).Date()
	first := StartOfDay(time.Date(y, m, 1, 12, 0, 0, 0, loc), loc)

	offset := (int(first.Weekday()) - int(weekStart) + 7) % 7
	start := AddDays(first, -offset, loc)

	days := make([]time.Time, 0, GridDays)
	day := start
	for range GridDays {
		days = append(days, day)
		day = NextDay(day, loc)
	}

	return Grid{
		Month: first,
		Start: start,
		End:   day,
		Days:  days,
	}
}

// InMonth reports whether day falls in the grid's month.
func (g Grid) InMonth(day time.Time) bool {
	loc := g.Month.Location()
	y, m, _ := day.In(loc).Date()
	gy, gm, _ := g.Month.Date()
	return y == gy && m == gm
}
