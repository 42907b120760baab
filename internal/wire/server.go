package wire

import (
	"context"
	"flag"
	"io"
	"strconv"
	"strings"
	"time"

	appLog "colorcal/internal/log"
	"colorcal/internal/model"
	"colorcal/internal/provider"
)

// Exit statuses.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// Service is what the wire commands are served from.
type Service interface {
	RequestAccess(ctx context.Context) (provider.AccessResult, error)
	ListCalendars(ctx context.Context) ([]model.Calendar, error)
	FetchEvents(ctx context.Context, rangeStart, rangeEnd time.Time, calendarIDs []string) ([]model.Event, error)
	EventsByDay(ctx context.Context, rangeStart, rangeEnd time.Time, calendarIDs []string) (model.DayBucketMap, error)
	EventsForDay(ctx context.Context, day time.Time, calendarIDs []string) ([]model.Event, error)
}

// args holds the parsed keyword arguments of one command.
type args struct {
	startMs *int64
	endMs   *int64
	dayMs   *int64
	calIDs  []string
}

// Run executes one wire command and writes its JSON result (or error
// payload) to stdout. It returns the process exit status.
func Run(ctx context.Context, svc Service, argv []string, stdout io.Writer) int {
	if len(argv) == 0 {
		return fail(stdout, ExitUsage, provider.InvalidArgument("missing command, use: %s", strings.Join(Commands(), " | ")))
	}

	cmd := argv[0]
	a, err := parseArgs(cmd, argv[1:])
	if err != nil {
		return fail(stdout, ExitUsage, err)
	}

	appLog.Debug("wire command", "command", cmd, "cal_ids", len(a.calIDs))

	var result any
	switch cmd {
	case CmdRequestAccess:
		var res provider.AccessResult
		res, err = svc.RequestAccess(ctx)
		result = AccessDTO{Granted: res.Granted, Reason: res.Reason}

	case CmdListCalendars:
		var cals []model.Calendar
		cals, err = svc.ListCalendars(ctx)
		result = CalendarsToDTO(cals)

	case CmdFetchEvents, CmdEventsByDay:
		if a.startMs == nil || a.endMs == nil {
			return fail(stdout, ExitUsage, provider.InvalidArgument("missing --%s or --%s", FlagStartMs, FlagEndMs))
		}
		start, end := time.UnixMilli(*a.startMs), time.UnixMilli(*a.endMs)
		if cmd == CmdFetchEvents {
			var events []model.Event
			events, err = svc.FetchEvents(ctx, start, end, a.calIDs)
			result = EventsToDTO(events)
		} else {
			result, err = svc.EventsByDay(ctx, start, end, a.calIDs)
		}

	case CmdEventsForDay:
		if a.dayMs == nil {
			return fail(stdout, ExitUsage, provider.InvalidArgument("missing --%s", FlagDayMs))
		}
		var events []model.Event
		events, err = svc.EventsForDay(ctx, time.UnixMilli(*a.dayMs), a.calIDs)
		result = EventsToDTO(events)

	default:
		return fail(stdout, ExitUsage, provider.InvalidArgument("unknown command: %s", cmd))
	}

	if err != nil {
		return fail(stdout, ExitFailure, err)
	}
	if err := WriteJSON(stdout, result); err != nil {
		appLog.Error("failed to write wire result", err, "command", cmd)
		return ExitFailure
	}
	return ExitOK
}

func parseArgs(cmd string, argv []string) (args, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		a                     args
		startMs, endMs, dayMs string
		calIDs                string
	)
	fs.StringVar(&startMs, FlagStartMs, "", "range start, epoch milliseconds")
	fs.StringVar(&endMs, FlagEndMs, "", "range end, epoch milliseconds")
	fs.StringVar(&dayMs, FlagDayMs, "", "any instant of the day, epoch milliseconds")
	fs.StringVar(&calIDs, FlagCalIDs, "", "comma-joined calendar ids (empty = all)")

	if err := fs.Parse(argv); err != nil {
		return a, provider.InvalidArgument("%s: %v", cmd, err)
	}
	if fs.NArg() > 0 {
		return a, provider.InvalidArgument("%s: unexpected argument %q", cmd, fs.Arg(0))
	}

	var err error
	if a.startMs, err = parseMillis(FlagStartMs, startMs); err != nil {
		return a, err
	}
	if a.endMs, err = parseMillis(FlagEndMs, endMs); err != nil {
		return a, err
	}
	if a.dayMs, err = parseMillis(FlagDayMs, dayMs); err != nil {
		return a, err
	}
	a.calIDs = ParseCalIDs(calIDs)
	return a, nil
}

func parseMillis(name, v string) (*int64, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return nil, provider.InvalidArgument("--%s must be epoch milliseconds, got %q", name, v)
	}
	return &n, nil
}

func fail(stdout io.Writer, status int, err error) int {
	appLog.Debug("wire command failed", "err", err, "status", status)
	if werr := WriteJSON(stdout, ErrorToDTO(err)); werr != nil {
		appLog.Error("failed to write wire error", werr)
	}
	return status
}
