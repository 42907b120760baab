// Package google serves calendars from the Google Calendar API using a
// stored OAuth token.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appLog "colorcal/internal/log"
	"colorcal/internal/model"
	"colorcal/internal/provider"
)

const sourceTitle = "Google"

type Provider struct {
	svc *calendar.Service
	loc *time.Location
}

// New builds a provider from an OAuth client credentials file and a token
// file holding a previously authorized oauth2.Token as JSON.
func New(ctx context.Context, credentialsFile, tokenFile string, loc *time.Location) (*Provider, error) {
	credJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("google: reading credentials file: %w", err)
	}
	oauthCfg, err := googleoauth.ConfigFromJSON(credJSON, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("google: parsing credentials file: %w", err)
	}

	tokJSON, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("google: reading token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokJSON, &tok); err != nil {
		return nil, fmt.Errorf("google: parsing token file: %w", err)
	}

	svc, err := calendar.NewService(ctx, option.WithHTTPClient(oauthCfg.Client(ctx, &tok)))
	if err != nil {
		return nil, fmt.Errorf("google: creating calendar service: %w", err)
	}
	return NewWithService(svc, loc), nil
}

// NewWithService wraps an existing calendar service. loc anchors all-day
// events; nil means time.Local.
func NewWithService(svc *calendar.Service, loc *time.Location) *Provider {
	if loc == nil {
		loc = time.Local
	}
	return &Provider{svc: svc, loc: loc}
}

// RequestAccess probes the calendar list. An authorization failure is a
// denial, not an error.
func (p *Provider) RequestAccess(ctx context.Context) (provider.AccessResult, error) {
	_, err := p.svc.CalendarList.List().MaxResults(1).Context(ctx).Do()
	if err == nil {
		return provider.Granted(), nil
	}
	if isAuthError(err) {
		return provider.Denied("Google Calendar access not granted: " + errorMessage(err)), nil
	}
	return provider.AccessResult{}, translate(err, "request access")
}

func (p *Provider) ListCalendars(ctx context.Context) ([]model.Calendar, error) {
	out := make([]model.Calendar, 0)
	err := p.svc.CalendarList.List().Context(ctx).Pages(ctx, func(page *calendar.CalendarList) error {
		for _, item := range page.Items {
			if item.Deleted {
				continue
			}
			name := item.Summary
			if item.SummaryOverride != "" {
				name = item.SummaryOverride
			}
			out = append(out, model.Calendar{
				ID:          item.Id,
				Name:        name,
				Color:       item.BackgroundColor,
				SourceTitle: sourceTitle,
				SourceType:  "caldav",
			})
		}
		return nil
	})
	if err != nil {
		return nil, translate(err, "list calendars")
	}
	return out, nil
}

func (p *Provider) FetchEvents(ctx context.Context, rangeStart, rangeEnd time.Time, calendarIDs []string) ([]model.Event, error) {
	if err := provider.ValidateRange(rangeStart, rangeEnd); err != nil {
		return nil, err
	}

	cals, err := p.ListCalendars(ctx)
	if err != nil {
		return nil, err
	}

	want := provider.IDSet(calendarIDs)
	out := make([]model.Event, 0)
	for _, cal := range cals {
		if want != nil && !want[cal.ID] {
			continue
		}
		events, err := p.calendarEvents(ctx, cal, rangeStart, rangeEnd)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}

func (p *Provider) calendarEvents(ctx context.Context, cal model.Calendar, rangeStart, rangeEnd time.Time) ([]model.Event, error) {
	out := make([]model.Event, 0)
	call := p.svc.Events.List(cal.ID).
		Context(ctx).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(rangeStart.Format(time.RFC3339)).
		TimeMax(rangeEnd.Format(time.RFC3339))

	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			ev, err := p.toEvent(cal, item)
			if err != nil {
				appLog.Warn("google event skipped", "calendar", cal.ID, "event", item.Id, "err", err)
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, translate(err, "fetch events of "+cal.ID)
	}
	return out, nil
}

func (p *Provider) toEvent(cal model.Calendar, item *calendar.Event) (model.Event, error) {
	if item.Start == nil || item.End == nil {
		return model.Event{}, errors.New("event without start or end")
	}
	ev := model.Event{
		ID:           item.Id,
		Title:        item.Summary,
		CalendarID:   cal.ID,
		CalendarName: cal.Name,
	}

	var err error
	if item.Start.Date != "" {
		ev.AllDay = true
		if ev.Start, err = time.ParseInLocation("2006-01-02", item.Start.Date, p.loc); err != nil {
			return model.Event{}, err
		}
		if ev.End, err = time.ParseInLocation("2006-01-02", item.End.Date, p.loc); err != nil {
			return model.Event{}, err
		}
		return ev, nil
	}

	if ev.Start, err = time.Parse(time.RFC3339, item.Start.DateTime); err != nil {
		return model.Event{}, err
	}
	if ev.End, err = time.Parse(time.RFC3339, item.End.DateTime); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// rateLimitReasons are 403 reasons that mean "slow down", not "no access".
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
	"dailyLimitExceeded":    true,
}

func isAuthError(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case http.StatusUnauthorized:
			return true
		case http.StatusForbidden:
			for _, item := range gErr.Errors {
				if rateLimitReasons[item.Reason] {
					return false
				}
			}
			return true
		default:
			return false
		}
	}
	var rErr *oauth2.RetrieveError
	return errors.As(err, &rErr)
}

func errorMessage(err error) string {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Message != "" {
		return gErr.Message
	}
	return err.Error()
}

func translate(err error, op string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isAuthError(err) {
		return provider.AccessDenied("google: %s: %s", op, errorMessage(err))
	}
	return provider.Unavailable(err, "google: %s", op)
}
