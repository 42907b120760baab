package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colorcal/internal/wire"
)

const homeFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//colorcal//test//EN
BEGIN:VEVENT
UID:dentist@example.com
DTSTAMP:20240101T000000Z
DTSTART:20240305T150000Z
DTEND:20240305T160000Z
SUMMARY:Dentist
END:VEVENT
BEGIN:VEVENT
UID:trip@example.com
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20240307
DTEND;VALUE=DATE:20240309
SUMMARY:Trip
END:VEVENT
END:VCALENDAR
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	feed := filepath.Join(dir, "home.ics")
	require.NoError(t, os.WriteFile(feed, []byte(strings.ReplaceAll(homeFeed, "\n", "\r\n")), 0o600))

	path := filepath.Join(dir, "config.yaml")
	body = strings.ReplaceAll(body, "FEED", feed)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const icsConfig = `
timezone: UTC
provider: ics
log_level: error
ics:
  - id: home
    name: Home
    path: FEED
    color: "#22aa22"
`

func TestRun_WireCommands(t *testing.T) {
	path := writeConfig(t, icsConfig)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	var out bytes.Buffer
	code := run(context.Background(), []string{
		"--config", path, wire.CmdEventsByDay,
		"--start-ms", fmt.Sprint(start.UnixMilli()), "--end-ms", fmt.Sprint(end.UnixMilli()),
	}, &out, io.Discard)
	require.Equal(t, wire.ExitOK, code, out.String())
	assert.JSONEq(t, `{"2024-03-05":["home"],"2024-03-07":["home"],"2024-03-08":["home"]}`, out.String())

	out.Reset()
	code = run(context.Background(), []string{"--config", path, wire.CmdListCalendars}, &out, io.Discard)
	require.Equal(t, wire.ExitOK, code)
	assert.JSONEq(t, `[{"id":"home","name":"Home","color":"#22AA22","sourceTitle":"Local file","sourceType":"local"}]`, out.String())

	out.Reset()
	code = run(context.Background(), []string{
		"--config", path, wire.CmdEventsForDay, "--day-ms", fmt.Sprint(time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC).UnixMilli()),
	}, &out, io.Discard)
	require.Equal(t, wire.ExitOK, code)
	assert.Contains(t, out.String(), `"title":"Trip"`)
	assert.Contains(t, out.String(), `"isAllDay":true`)
}

func TestRun_Failures(t *testing.T) {
	assert.Equal(t, wire.ExitUsage, run(context.Background(), nil, io.Discard, io.Discard))
	assert.Equal(t, wire.ExitUsage, run(context.Background(), []string{"--nope"}, io.Discard, io.Discard))

	path := writeConfig(t, icsConfig)

	var out bytes.Buffer
	code := run(context.Background(), []string{"--config", path, "--provider", "eventkit", wire.CmdListCalendars}, &out, io.Discard)
	assert.Equal(t, wire.ExitFailure, code)
	dto, ok := wire.DecodeError(out.Bytes())
	require.True(t, ok)
	assert.Equal(t, "invalid_argument", dto.Kind)

	out.Reset()
	code = run(context.Background(), []string{"--config", path, "--provider", "bridge", wire.CmdListCalendars}, &out, io.Discard)
	assert.Equal(t, wire.ExitFailure, code)
	assert.Contains(t, out.String(), "bridge.path")

	out.Reset()
	code = run(context.Background(), []string{"--config", path, wire.CmdEventsByDay}, &out, io.Discard)
	assert.Equal(t, wire.ExitUsage, code)
	dto, ok = wire.DecodeError(out.Bytes())
	require.True(t, ok)
	assert.Equal(t, "invalid_argument", dto.Kind)
}

func TestRun_ServeStopsOnCancel(t *testing.T) {
	path := writeConfig(t, icsConfig)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"--config", path, "serve", "--listen", "127.0.0.1:0"}, io.Discard, io.Discard)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, wire.ExitOK, code)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
	_, err := os.Stat(filepath.Join(filepath.Dir(path), "prefs.yaml"))
	assert.True(t, os.IsNotExist(err), "preferences are only written once calendars are listed")
}
