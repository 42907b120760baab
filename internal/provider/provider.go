// Package provider defines the Calendar Data Provider boundary: the three
// operations every calendar source implements, the tagged error taxonomy
// used across that boundary, and the one-time access gate.
package provider

import (
	"context"
	"time"

	"colorcal/internal/model"
)

// AccessResult is the outcome of the permission step. Reason explains a
// denial and is meant for the user.
type AccessResult struct {
	Granted bool
	Reason  string
}

func Granted() AccessResult {
	return AccessResult{Granted: true}
}

func Denied(reason string) AccessResult {
	return AccessResult{Reason: reason}
}

// Provider is a source of calendars and already-expanded events.
//
// FetchEvents returns events overlapping [rangeStart, rangeEnd). An empty
// calendarIDs selects every calendar. Implementations return *Error values
// (or errors wrapping them) so callers can classify failures.
type Provider interface {
	RequestAccess(ctx context.Context) (AccessResult, error)
	ListCalendars(ctx context.Context) ([]model.Calendar, error)
	FetchEvents(ctx context.Context, rangeStart, rangeEnd time.Time, calendarIDs []string) ([]model.Event, error)
}

// ValidateRange reports InvalidRange when rangeStart >= rangeEnd.
func ValidateRange(rangeStart, rangeEnd time.Time) error {
	if !rangeStart.Before(rangeEnd) {
		return InvalidRange("range start %s is not before range end %s",
			rangeStart.Format(time.RFC3339), rangeEnd.Format(time.RFC3339))
	}
	return nil
}

// IDSet returns calendarIDs as a set, or nil when every calendar is wanted.
func IDSet(calendarIDs []string) map[string]bool {
	if len(calendarIDs) == 0 {
		return nil
	}
	set := make(map[string]bool, len(calendarIDs))
	for _, id := range calendarIDs {
		if id != "" {
			set[id] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
