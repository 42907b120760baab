package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colorcal/internal/adapter"
	"colorcal/internal/model"
	"colorcal/internal/provider"
)

func run(t *testing.T, svc Service, argv ...string) (int, []byte) {
	t.Helper()
	var out bytes.Buffer
	code := Run(context.Background(), svc, argv, &out)
	return code, out.Bytes()
}

func ms(t time.Time) string {
	return fmt.Sprint(t.UnixMilli())
}

func newService(stub *provider.StubProvider) *adapter.Service {
	return adapter.NewService(stub, time.UTC)
}

func TestRun_ListCalendars(t *testing.T) {
	stub := provider.NewStubProvider()
	stub.Calendars = []model.Calendar{{ID: "cal-1", Name: "Work", Color: "#00ff00", SourceType: "caldav", SourceTitle: "iCloud"}}

	code, out := run(t, newService(stub), CmdListCalendars)
	require.Equal(t, ExitOK, code)
	assert.JSONEq(t, `[{"id":"cal-1","name":"Work","color":"#00FF00","sourceTitle":"iCloud","sourceType":"caldav"}]`, string(out))
}

func TestRun_EventsByDay(t *testing.T) {
	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	stub := provider.NewStubProvider()
	stub.Events = []model.Event{
		{ID: "1", Title: "a", CalendarID: "work", Start: day.Add(-2 * time.Hour), End: day.Add(26 * time.Hour)},
		{ID: "2", Title: "b", CalendarID: "home", Start: day.Add(5 * time.Hour), End: day.Add(6 * time.Hour)},
	}

	code, out := run(t, newService(stub), CmdEventsByDay,
		"--start-ms", ms(day.AddDate(0, 0, -7)),
		"--end-ms", ms(day.AddDate(0, 0, 7)),
		"--cal-ids", "work,home,")
	require.Equal(t, ExitOK, code, string(out))
	assert.JSONEq(t, `{"2024-01-31":["work"],"2024-02-01":["home","work"],"2024-02-02":["work"]}`, string(out))
	assert.Equal(t, []string{"work", "home"}, stub.Fetches()[0].CalendarIDs)
}

func TestRun_EventsForDay(t *testing.T) {
	day := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	stub := provider.NewStubProvider()
	stub.Events = []model.Event{
		{ID: "b", Title: "Beta", CalendarID: "c", CalendarName: "Cal", Start: day.Add(14 * time.Hour), End: day.Add(15 * time.Hour)},
		{ID: "a", Title: "Alpha", CalendarID: "c", CalendarName: "Cal", Start: day.Add(14 * time.Hour), End: day.Add(15 * time.Hour)},
	}

	code, out := run(t, newService(stub), CmdEventsForDay, "--day-ms", ms(day.Add(9*time.Hour)))
	require.Equal(t, ExitOK, code, string(out))

	var got []EventDTO
	require.NoError(t, json.Unmarshal(out, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Alpha", got[0].Title)
	assert.Equal(t, EventDTO{
		ID: "b", Title: "Beta", StartMs: day.Add(14 * time.Hour).UnixMilli(), EndMs: day.Add(15 * time.Hour).UnixMilli(),
		CalendarID: "c", CalendarName: "Cal",
	}, got[1])
}

func TestRun_FetchEventsAndRequestAccess(t *testing.T) {
	day := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	stub := provider.NewStubProvider()
	stub.Events = []model.Event{{ID: "x", Title: "X", CalendarID: "c", Start: day, End: day.Add(time.Hour), AllDay: true}}
	svc := newService(stub)

	code, out := run(t, svc, CmdFetchEvents, "--start-ms", ms(day), "--end-ms", ms(day.Add(24*time.Hour)))
	require.Equal(t, ExitOK, code)
	var events []EventDTO
	require.NoError(t, json.Unmarshal(out, &events))
	require.Len(t, events, 1)
	assert.True(t, events[0].IsAllDay)

	code, out = run(t, svc, CmdRequestAccess)
	require.Equal(t, ExitOK, code)
	assert.JSONEq(t, `{"granted":true}`, string(out))
}

func TestRun_Failures(t *testing.T) {
	now := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		setup    func(*provider.StubProvider)
		argv     []string
		wantCode int
		wantKind provider.Kind
	}{
		{name: "no command", argv: nil, wantCode: ExitUsage, wantKind: provider.KindInvalidArgument},
		{name: "unknown command", argv: []string{"explode"}, wantCode: ExitUsage, wantKind: provider.KindInvalidArgument},
		{name: "missing range", argv: []string{CmdEventsByDay, "--start-ms", "1"}, wantCode: ExitUsage, wantKind: provider.KindInvalidArgument},
		{name: "missing day", argv: []string{CmdEventsForDay}, wantCode: ExitUsage, wantKind: provider.KindInvalidArgument},
		{name: "bad number", argv: []string{CmdEventsForDay, "--day-ms", "tomorrow"}, wantCode: ExitUsage, wantKind: provider.KindInvalidArgument},
		{name: "unknown flag", argv: []string{CmdListCalendars, "--verbose"}, wantCode: ExitUsage, wantKind: provider.KindInvalidArgument},
		{
			name:     "inverted range",
			argv:     []string{CmdEventsByDay, "--start-ms", ms(now), "--end-ms", ms(now.Add(-time.Hour))},
			wantCode: ExitFailure,
			wantKind: provider.KindInvalidRange,
		},
		{
			name:     "access denied",
			setup:    func(s *provider.StubProvider) { s.Access = provider.Denied("Calendar access not granted.") },
			argv:     []string{CmdListCalendars},
			wantCode: ExitFailure,
			wantKind: provider.KindAccessDenied,
		},
		{
			name:     "provider down",
			setup:    func(s *provider.StubProvider) { s.ListErr = fmt.Errorf("socket closed") },
			argv:     []string{CmdListCalendars},
			wantCode: ExitFailure,
			wantKind: provider.KindUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := provider.NewStubProvider()
			if tt.setup != nil {
				tt.setup(stub)
			}

			code, out := run(t, newService(stub), tt.argv...)
			assert.Equal(t, tt.wantCode, code)

			dto, ok := DecodeError(out)
			require.True(t, ok, string(out))
			assert.NotEmpty(t, dto.Error)
			assert.Equal(t, string(tt.wantKind), dto.Kind)
		})
	}
}

func TestErrorDTO_ErrClassifiesBareMessages(t *testing.T) {
	tests := []struct {
		msg  string
		kind string
		want error
	}{
		{msg: "Calendar access not granted. Enable it in System Settings > Privacy & Security > Calendars.", want: provider.ErrAccessDenied},
		{msg: "Missing --start-ms or --end-ms", want: provider.ErrInvalidArgument},
		{msg: "Unknown command: frobnicate", want: provider.ErrInvalidArgument},
		{msg: "EKEventStore exploded", want: provider.ErrProviderUnavailable},
		{msg: "whatever", kind: "invalid_range", want: provider.ErrInvalidRange},
		{msg: "whatever", kind: "nonsense", want: provider.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := ErrorDTO{Error: tt.msg, Kind: tt.kind}.Err()
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.msg, err.Error())
		})
	}
}

func TestDecode(t *testing.T) {
	var cals []CalendarDTO
	require.NoError(t, Decode([]byte("  [{\"id\":\"a\",\"name\":\"A\",\"color\":\"#112233\"}]\n"), &cals))
	assert.Equal(t, "a", cals[0].ID)

	err := Decode([]byte("Build complete!\n[]"), &cals)
	assert.ErrorIs(t, err, provider.ErrMalformedResponse)

	_, ok := DecodeError([]byte(`[]`))
	assert.False(t, ok)
}

func TestParseCalIDs(t *testing.T) {
	assert.Equal(t, []string{}, ParseCalIDs(""))
	assert.Equal(t, []string{"a", "b"}, ParseCalIDs(" a,,b ,"))
	assert.Equal(t, "a,b", JoinCalIDs([]string{"a", "b"}))
}
