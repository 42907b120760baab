package provider

import (
	"context"
	"sync"
	"time"

	"colorcal/internal/model"
)

// StubProvider is an in-memory Provider for tests. FetchEvents returns the
// stored events overlapping the range, filtered by calendar id.
type StubProvider struct {
	mu sync.Mutex

	Access     AccessResult
	AccessErr  error
	Calendars  []model.Calendar
	Events     []model.Event
	ListErr    error
	FetchErr   error
	FetchDelay time.Duration

	AccessCalls int
	FetchCalls  []StubFetch
}

// StubFetch records one FetchEvents call.
type StubFetch struct {
	Start       time.Time
	End         time.Time
	CalendarIDs []string
}

func NewStubProvider() *StubProvider {
	return &StubProvider{Access: Granted()}
}

func (s *StubProvider) RequestAccess(_ context.Context) (AccessResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.AccessCalls++
	return s.Access, s.AccessErr
}

func (s *StubProvider) ListCalendars(_ context.Context) ([]model.Calendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return append([]model.Calendar(nil), s.Calendars...), nil
}

func (s *StubProvider) FetchEvents(ctx context.Context, rangeStart, rangeEnd time.Time, calendarIDs []string) ([]model.Event, error) {
	s.mu.Lock()
	s.FetchCalls = append(s.FetchCalls, StubFetch{Start: rangeStart, End: rangeEnd, CalendarIDs: calendarIDs})
	delay, fetchErr := s.FetchDelay, s.FetchErr
	events := append([]model.Event(nil), s.Events...)
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if err := ValidateRange(rangeStart, rangeEnd); err != nil {
		return nil, err
	}

	want := IDSet(calendarIDs)
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if want != nil && !want[ev.CalendarID] {
			continue
		}
		if ev.Start.Before(rangeEnd) && ev.End.After(rangeStart) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Fetches returns a copy of the recorded FetchEvents calls.
func (s *StubProvider) Fetches() []StubFetch {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]StubFetch(nil), s.FetchCalls...)
}
