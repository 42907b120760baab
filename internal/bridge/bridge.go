// Package bridge talks to an out-of-process calendar helper (for example a
// small EventKit binary on macOS) over the wire contract: one command per
// process, JSON on stdout.
//
// The helper must speak colorcal's own wire commands, fetch-events
// included, such as `colorcal --provider ics` itself. A helper that only
// knows list-calendars, events-by-day and events-for-day can list
// calendars, but every event query fails with an invalid_argument
// "unknown command" error. For such helpers request-access falls back to
// probing list-calendars.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	appLog "colorcal/internal/log"
	"colorcal/internal/model"
	"colorcal/internal/provider"
	"colorcal/internal/wire"
)

const DefaultTimeout = 30 * time.Second

// Runner executes the helper with args and returns its stdout and exit
// status. A non-nil error means the helper could not be run at all.
type Runner interface {
	Run(ctx context.Context, args []string) (stdout []byte, exitCode int, err error)
}

// ExecRunner runs a helper binary with os/exec.
type ExecRunner struct {
	Path string
}

func (r ExecRunner) Run(ctx context.Context, args []string) ([]byte, int, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if stderr.Len() > 0 {
		appLog.Debug("bridge helper stderr", "path", r.Path, "stderr", stderr.String())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			return stdout.Bytes(), exitErr.ExitCode(), nil
		}
		return stdout.Bytes(), -1, err
	}
	return stdout.Bytes(), 0, nil
}

// Provider implements provider.Provider on top of a helper process.
type Provider struct {
	runner  Runner
	timeout time.Duration
}

// New returns a Provider running the helper at path. timeout bounds every
// call; zero means DefaultTimeout.
func New(path string, timeout time.Duration) (*Provider, error) {
	if path == "" {
		return nil, errors.New("bridge helper path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("bridge helper: %w", err)
	}
	return NewWithRunner(ExecRunner{Path: path}, timeout), nil
}

func NewWithRunner(r Runner, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Provider{runner: r, timeout: timeout}
}

func (p *Provider) RequestAccess(ctx context.Context) (provider.AccessResult, error) {
	var dto wire.AccessDTO
	err := p.call(ctx, &dto, wire.CmdRequestAccess)
	if err == nil {
		return provider.AccessResult{Granted: dto.Granted, Reason: dto.Reason}, nil
	}
	if !isUnknownCommand(err) {
		return provider.AccessResult{}, err
	}

	appLog.Debug("bridge helper has no request-access, probing list-calendars")
	if _, err := p.ListCalendars(ctx); err != nil {
		if errors.Is(err, provider.ErrAccessDenied) {
			return provider.Denied(err.Error()), nil
		}
		return provider.AccessResult{}, err
	}
	return provider.Granted(), nil
}

func isUnknownCommand(err error) bool {
	return provider.KindOf(err) == provider.KindInvalidArgument &&
		strings.Contains(strings.ToLower(err.Error()), "unknown command")
}

func (p *Provider) ListCalendars(ctx context.Context) ([]model.Calendar, error) {
	var dtos []wire.CalendarDTO
	if err := p.call(ctx, &dtos, wire.CmdListCalendars); err != nil {
		return nil, err
	}
	out := make([]model.Calendar, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.Model())
	}
	return out, nil
}

func (p *Provider) FetchEvents(ctx context.Context, rangeStart, rangeEnd time.Time, calendarIDs []string) ([]model.Event, error) {
	if err := provider.ValidateRange(rangeStart, rangeEnd); err != nil {
		return nil, err
	}

	args := []string{
		wire.CmdFetchEvents,
		"--" + wire.FlagStartMs, strconv.FormatInt(rangeStart.UnixMilli(), 10),
		"--" + wire.FlagEndMs, strconv.FormatInt(rangeEnd.UnixMilli(), 10),
	}
	if len(calendarIDs) > 0 {
		args = append(args, "--"+wire.FlagCalIDs, wire.JoinCalIDs(calendarIDs))
	}

	var dtos []wire.EventDTO
	if err := p.call(ctx, &dtos, args...); err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.Model())
	}
	return out, nil
}

func (p *Provider) call(ctx context.Context, v any, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := time.Now()
	out, code, err := p.runner.Run(ctx, args)
	appLog.Debug("bridge call", "command", args[0], "exit", code, "elapsed", time.Since(started))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return provider.Unavailable(ctxErr, "%s", args[0])
		}
		return provider.Unavailable(err, "run helper %s", args[0])
	}
	if code != 0 {
		if dto, ok := wire.DecodeError(out); ok {
			return dto.Err()
		}
		return provider.Unavailable(nil, "helper %s exited with status %d", args[0], code)
	}
	return wire.Decode(out, v)
}
