// Package wire implements the out-of-process contract between colorcal and
// a calendar helper: a command name, --flag value arguments, one JSON value
// on stdout on success, and {"error": "..."} with a non-zero exit status on
// failure.
package wire

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"colorcal/internal/model"
	"colorcal/internal/provider"
)

// Command names.
const (
	CmdRequestAccess = "request-access"
	CmdListCalendars = "list-calendars"
	CmdEventsByDay   = "events-by-day"
	CmdEventsForDay  = "events-for-day"
	CmdFetchEvents   = "fetch-events"
)

// Flag names.
const (
	FlagStartMs = "start-ms"
	FlagEndMs   = "end-ms"
	FlagCalIDs  = "cal-ids"
	FlagDayMs   = "day-ms"
)

// EventDTO is the JSON form of model.Event.
type EventDTO struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	StartMs      int64  `json:"startMs"`
	EndMs        int64  `json:"endMs"`
	IsAllDay     bool   `json:"isAllDay"`
	CalendarID   string `json:"calendarId"`
	CalendarName string `json:"calendarName"`
}

// CalendarDTO is the JSON form of model.Calendar.
type CalendarDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	SourceTitle string `json:"sourceTitle,omitempty"`
	SourceType  string `json:"sourceType,omitempty"`
}

// AccessDTO is the JSON form of provider.AccessResult.
type AccessDTO struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

// ErrorDTO is written on failure. Kind is optional; peers that only send
// "error" are classified from the message.
type ErrorDTO struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func EventToDTO(e model.Event) EventDTO {
	return EventDTO{
		ID:           e.ID,
		Title:        e.Title,
		StartMs:      e.Start.UnixMilli(),
		EndMs:        e.End.UnixMilli(),
		IsAllDay:     e.AllDay,
		CalendarID:   e.CalendarID,
		CalendarName: e.CalendarName,
	}
}

func (d EventDTO) Model() model.Event {
	return model.Event{
		ID:           d.ID,
		Title:        d.Title,
		Start:        time.UnixMilli(d.StartMs),
		End:          time.UnixMilli(d.EndMs),
		AllDay:       d.IsAllDay,
		CalendarID:   d.CalendarID,
		CalendarName: d.CalendarName,
	}
}

func EventsToDTO(events []model.Event) []EventDTO {
	out := make([]EventDTO, 0, len(events))
	for _, e := range events {
		out = append(out, EventToDTO(e))
	}
	return out
}

func CalendarToDTO(c model.Calendar) CalendarDTO {
	return CalendarDTO{
		ID:          c.ID,
		Name:        c.Name,
		Color:       c.Color,
		SourceTitle: c.SourceTitle,
		SourceType:  c.SourceType,
	}
}

func (d CalendarDTO) Model() model.Calendar {
	return model.Calendar{
		ID:          d.ID,
		Name:        d.Name,
		Color:       d.Color,
		SourceTitle: d.SourceTitle,
		SourceType:  d.SourceType,
	}
}

func CalendarsToDTO(cals []model.Calendar) []CalendarDTO {
	out := make([]CalendarDTO, 0, len(cals))
	for _, c := range cals {
		out = append(out, CalendarToDTO(c))
	}
	return out
}

// ErrorToDTO renders err with its kind.
func ErrorToDTO(err error) ErrorDTO {
	return ErrorDTO{Error: err.Error(), Kind: string(provider.KindOf(err))}
}

// Err converts a received error payload back into a tagged error.
func (d ErrorDTO) Err() error {
	kind := provider.Kind(d.Kind)
	switch kind {
	case provider.KindAccessDenied, provider.KindUnavailable, provider.KindInvalidRange,
		provider.KindInvalidArgument, provider.KindMalformedResponse:
	default:
		kind = classifyMessage(d.Error)
	}
	return &provider.Error{Kind: kind, Msg: d.Error}
}

// classifyMessage recognizes the messages of helpers that do not send a
// kind, such as the EventKit bridge.
func classifyMessage(msg string) provider.Kind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "access not granted"),
		strings.Contains(m, "access denied"),
		strings.Contains(m, "permission"):
		return provider.KindAccessDenied
	case strings.Contains(m, "invalid range"):
		return provider.KindInvalidRange
	case strings.HasPrefix(m, "missing"),
		strings.Contains(m, "unknown command"),
		strings.Contains(m, "invalid argument"):
		return provider.KindInvalidArgument
	default:
		return provider.KindUnavailable
	}
}

// ParseCalIDs splits a comma-joined id list, dropping empty entries.
func ParseCalIDs(s string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// JoinCalIDs is the inverse of ParseCalIDs.
func JoinCalIDs(ids []string) string {
	return strings.Join(ids, ",")
}

// WriteJSON writes v as a single JSON value followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// Decode parses a helper's stdout into v. Any parse failure is a
// MalformedResponse.
func Decode(out []byte, v any) error {
	if err := json.Unmarshal(trimSpace(out), v); err != nil {
		return provider.Malformed(err, "decode helper output")
	}
	return nil
}

// DecodeError extracts an error payload from a failed helper's output.
func DecodeError(out []byte) (ErrorDTO, bool) {
	var dto ErrorDTO
	if err := json.Unmarshal(trimSpace(out), &dto); err != nil || dto.Error == "" {
		return ErrorDTO{}, false
	}
	return dto, true
}

func trimSpace(b []byte) []byte {
	return []byte(strings.TrimSpace(string(b)))
}

// Commands lists the supported command names.
func Commands() []string {
	return []string{CmdRequestAccess, CmdListCalendars, CmdEventsByDay, CmdEventsForDay, CmdFetchEvents}
}
