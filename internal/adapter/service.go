// Package adapter is the request/response boundary between callers (the
// wire commands and the HTTP API) and a Calendar Data Provider. It validates
// requests, translates provider failures into tagged errors, normalizes
// provider output, and hands events to the aggregation functions.
package adapter

import (
	"context"
	"time"

	"colorcal/internal/aggregate"
	appLog "colorcal/internal/log"
	"colorcal/internal/model"
	"colorcal/internal/provider"
)

type Service struct {
	provider provider.Provider
	loc      *time.Location
	gate     *provider.AccessGate
}

// NewService wraps p. loc is the viewer's location used for day
// boundaries; nil means time.Local.
func NewService(p provider.Provider, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		provider: p,
		loc:      loc,
		gate:     provider.NewAccessGate(p),
	}
}

// Location returns the viewer's location.
func (s *Service) Location() *time.Location {
	return s.loc
}

// WarmUp starts the permission request without waiting for it.
func (s *Service) WarmUp() {
	s.gate.Start()
}

// RequestAccess returns the process-wide permission answer.
func (s *Service) RequestAccess(ctx context.Context) (provider.AccessResult, error) {
	res, err := s.gate.Wait(ctx)
	if err != nil {
		return provider.AccessResult{}, provider.Tag(err, "request calendar access")
	}
	return res, nil
}

func (s *Service) ListCalendars(ctx context.Context) ([]model.Calendar, error) {
	if err := s.gate.Require(ctx); err != nil {
		return nil, s.failed("list calendars", err)
	}

	cals, err := s.provider.ListCalendars(ctx)
	if err != nil {
		return nil, s.failed("list calendars", provider.Tag(err, "list calendars"))
	}

	out := make([]model.Calendar, 0, len(cals))
	for _, c := range cals {
		out = append(out, c.Normalized())
	}
	return out, nil
}

// FetchEvents returns normalized events overlapping [rangeStart, rangeEnd).
func (s *Service) FetchEvents(ctx context.Context, rangeStart, rangeEnd time.Time, calendarIDs []string) ([]model.Event, error) {
	if rangeStart.IsZero() || rangeEnd.IsZero() {
		return nil, provider.InvalidArgument("range start and end are required")
	}
	if err := provider.ValidateRange(rangeStart, rangeEnd); err != nil {
		return nil, err
	}
	if err := s.gate.Require(ctx); err != nil {
		return nil, s.failed("fetch events", err)
	}

	events, err := s.provider.FetchEvents(ctx, rangeStart, rangeEnd, calendarIDs)
	if err != nil {
		return nil, s.failed("fetch events", provider.Tag(err, "fetch events"))
	}

	out := make([]model.Event, 0, len(events))
	for _, e := range events {
		out = append(out, e.Normalized())
	}
	return out, nil
}

// EventsByDay buckets the events of [rangeStart, rangeEnd) by local day.
func (s *Service) EventsByDay(ctx context.Context, rangeStart, rangeEnd time.Time, calendarIDs []string) (model.DayBucketMap, error) {
	events, err := s.FetchEvents(ctx, rangeStart, rangeEnd, calendarIDs)
	if err != nil {
		return nil, err
	}
	buckets := aggregate.BucketEventsByDay(events, rangeStart, rangeEnd, s.loc)
	appLog.Debug("events bucketed", "events", len(events), "days", len(buckets))
	return buckets, nil
}

// EventsForDay returns the display-ordered events of the local day
// containing day.
func (s *Service) EventsForDay(ctx context.Context, day time.Time, calendarIDs []string) ([]model.Event, error) {
	if day.IsZero() {
		return nil, provider.InvalidArgument("day is required")
	}
	dayStart := aggregate.StartOfDay(day, s.loc)
	dayEnd := aggregate.NextDay(dayStart, s.loc)

	events, err := s.FetchEvents(ctx, dayStart, dayEnd, calendarIDs)
	if err != nil {
		return nil, err
	}
	return aggregate.EventsOverlappingDay(events, dayStart, s.loc), nil
}

func (s *Service) failed(op string, err error) error {
	appLog.Error("provider call failed", err, "op", op, "kind", provider.KindOf(err))
	return err
}
