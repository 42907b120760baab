package adapter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colorcal/internal/model"
	"colorcal/internal/provider"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestService_ListCalendarsNormalizesColors(t *testing.T) {
	stub := provider.NewStubProvider()
	stub.Calendars = []model.Calendar{
		{ID: "work", Name: "Work", Color: "#ff8800"},
		{ID: "home", Name: "Home", Color: "rgb(1,2,3)"},
		{ID: "gym", Name: "Gym"},
	}
	svc := NewService(stub, time.UTC)

	cals, err := svc.ListCalendars(context.Background())
	require.NoError(t, err)
	require.Len(t, cals, 3)
	assert.Equal(t, "#FF8800", cals[0].Color)
	assert.Equal(t, model.DefaultColor, cals[1].Color)
	assert.Equal(t, model.DefaultColor, cals[2].Color)
}

func TestService_EventsByDay(t *testing.T) {
	loc := newYork(t)
	stub := provider.NewStubProvider()
	stub.Events = []model.Event{
		{ID: "1", CalendarID: "work", Start: time.Date(2024, 1, 31, 22, 0, 0, 0, loc), End: time.Date(2024, 2, 2, 2, 0, 0, 0, loc)},
		{ID: "2", CalendarID: "home", Start: time.Date(2024, 2, 1, 9, 0, 0, 0, loc), End: time.Date(2024, 2, 1, 10, 0, 0, 0, loc)},
	}
	svc := NewService(stub, loc)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	end := time.Date(2024, 3, 1, 0, 0, 0, 0, loc)
	got, err := svc.EventsByDay(context.Background(), start, end, []string{"work", "home"})
	require.NoError(t, err)

	assert.Equal(t, []string{"work"}, got.Calendars("2024-01-31"))
	assert.Equal(t, []string{"home", "work"}, got.Calendars("2024-02-01"))
	assert.Equal(t, []string{"work"}, got.Calendars("2024-02-02"))
	assert.Len(t, got, 3)

	fetches := stub.Fetches()
	require.Len(t, fetches, 1)
	assert.Equal(t, start, fetches[0].Start)
	assert.Equal(t, end, fetches[0].End)
	assert.Equal(t, []string{"work", "home"}, fetches[0].CalendarIDs)
}

func TestService_EventsForDayFetchesExactlyOneLocalDay(t *testing.T) {
	loc := newYork(t)
	stub := provider.NewStubProvider()
	stub.Events = []model.Event{
		{ID: "", Title: "", CalendarID: "c", Start: time.Date(2024, 3, 10, 9, 0, 0, 0, loc), End: time.Date(2024, 3, 10, 10, 0, 0, 0, loc)},
		{ID: "h", Title: "Holiday", CalendarID: "c", AllDay: true, Start: time.Date(2024, 3, 10, 0, 0, 0, 0, loc), End: time.Date(2024, 3, 11, 0, 0, 0, 0, loc)},
	}
	svc := NewService(stub, loc)

	got, err := svc.EventsForDay(context.Background(), time.Date(2024, 3, 10, 15, 30, 0, 0, loc), nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Holiday", got[0].Title)
	assert.Equal(t, model.UntitledEvent, got[1].Title)
	assert.NotEmpty(t, got[1].ID)

	fetches := stub.Fetches()
	require.Len(t, fetches, 1)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, loc), fetches[0].Start)
	assert.Equal(t, 23*time.Hour, fetches[0].End.Sub(fetches[0].Start))
}

func TestService_ValidationNeverReachesProvider(t *testing.T) {
	stub := provider.NewStubProvider()
	svc := NewService(stub, time.UTC)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.EventsByDay(ctx, now, now, nil)
	assert.ErrorIs(t, err, provider.ErrInvalidRange)

	_, err = svc.EventsByDay(ctx, now.Add(time.Hour), now, nil)
	assert.ErrorIs(t, err, provider.ErrInvalidRange)

	_, err = svc.EventsByDay(ctx, time.Time{}, now, nil)
	assert.ErrorIs(t, err, provider.ErrInvalidArgument)

	_, err = svc.EventsForDay(ctx, time.Time{}, nil)
	assert.ErrorIs(t, err, provider.ErrInvalidArgument)

	assert.Empty(t, stub.Fetches())
	assert.Zero(t, stub.AccessCalls)
}

func TestService_AccessDenied(t *testing.T) {
	stub := provider.NewStubProvider()
	stub.Access = provider.Denied("Calendar access not granted.")
	svc := NewService(stub, time.UTC)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	buckets, err := svc.EventsByDay(context.Background(), now, now.Add(24*time.Hour), nil)
	assert.ErrorIs(t, err, provider.ErrAccessDenied)
	assert.Nil(t, buckets)

	_, err = svc.ListCalendars(context.Background())
	assert.ErrorIs(t, err, provider.ErrAccessDenied)

	res, err := svc.RequestAccess(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Granted)
	assert.Equal(t, 1, stub.AccessCalls)
	assert.Empty(t, stub.Fetches())
}

func TestService_ProviderFailuresAreTagged(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "untagged", err: errors.New("helper exited"), want: provider.ErrProviderUnavailable},
		{name: "malformed", err: provider.Malformed(errors.New("eof"), "decode"), want: provider.ErrMalformedResponse},
		{name: "denied", err: provider.AccessDenied("revoked"), want: provider.ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := provider.NewStubProvider()
			stub.FetchErr = tt.err
			svc := NewService(stub, time.UTC)

			events, err := svc.EventsForDay(context.Background(), now, nil)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, events)
		})
	}
}

func TestService_ConcurrentRequests(t *testing.T) {
	loc := newYork(t)
	stub := provider.NewStubProvider()
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, loc)
	for i := range 10 {
		start := day.Add(time.Duration(i) * 26 * time.Hour)
		stub.Events = append(stub.Events, model.Event{ID: start.String(), Title: "x", CalendarID: "c", Start: start, End: start.Add(time.Hour)})
	}
	svc := NewService(stub, loc)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.EventsByDay(context.Background(), day, day.AddDate(0, 1, 0), nil)
			assert.NoError(t, err)
			assert.Len(t, got, 10)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, stub.AccessCalls)
}
