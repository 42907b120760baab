// Package ics serves calendars from iCalendar feeds (remote URLs or local
// files). Feeds are fetched with HTTP caching, parsed with golang-ical and
// expanded with rrule-go into concrete events.
package ics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	appLog "colorcal/internal/log"
	"colorcal/internal/model"
	"colorcal/internal/provider"
)

// DefaultMaxAge is how long a fetched feed is reused before it is fetched
// again on demand.
const DefaultMaxAge = 15 * time.Minute

type Options struct {
	CacheDir string
	Client   *http.Client
	// Location is the viewer's location; nil means time.Local.
	Location *time.Location
	MaxAge   time.Duration
}

type Provider struct {
	fetcher *Fetcher
	sources []Source
	loc     *time.Location
	maxAge  time.Duration
	now     func() time.Time

	group singleflight.Group

	mu    sync.RWMutex
	feeds map[string]feed
}

type feed struct {
	events    []ParsedEvent
	fetchedAt time.Time
	fromCache bool
}

// New returns a provider serving sources. Source ids must be unique and
// non-empty.
func New(sources []Source, opts Options) (*Provider, error) {
	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		if s.ID == "" {
			return nil, errors.New("ics source without id")
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate ics source id %q", s.ID)
		}
		if s.URL == "" && s.Path == "" {
			return nil, fmt.Errorf("ics source %q has neither url nor path", s.ID)
		}
		seen[s.ID] = true
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	return &Provider{
		fetcher: NewFetcher(opts.CacheDir, opts.Client),
		sources: append([]Source(nil), sources...),
		loc:     opts.Location,
		maxAge:  opts.MaxAge,
		now:     time.Now,
		feeds:   make(map[string]feed),
	}, nil
}

// RequestAccess always grants: configured feeds need no permission.
func (p *Provider) RequestAccess(context.Context) (provider.AccessResult, error) {
	return provider.Granted(), nil
}

func (p *Provider) ListCalendars(context.Context) ([]model.Calendar, error) {
	out := make([]model.Calendar, 0, len(p.sources))
	for _, s := range p.sources {
		c := model.Calendar{ID: s.ID, Name: s.Name, Color: s.Color}
		if c.Name == "" {
			c.Name = s.ID
		}
		if s.URL != "" {
			c.SourceType = "subscribed"
			if u, err := url.Parse(s.URL); err == nil {
				c.SourceTitle = u.Hostname()
			}
		} else {
			c.SourceType = "local"
			c.SourceTitle = "Local file"
		}
		out = append(out, c)
	}
	return out, nil
}

func (p *Provider) FetchEvents(ctx context.Context, rangeStart, rangeEnd time.Time, calendarIDs []string) ([]model.Event, error) {
	if err := provider.ValidateRange(rangeStart, rangeEnd); err != nil {
		return nil, err
	}

	want := provider.IDSet(calendarIDs)
	out := make([]model.Event, 0)
	for _, src := range p.sources {
		if want != nil && !want[src.ID] {
			continue
		}
		parsed, err := p.load(ctx, src, false)
		if err != nil {
			return nil, err
		}
		res, err := Expand(parsed, ExpandConfig{
			Location:   p.loc,
			RangeStart: rangeStart,
			RangeEnd:   rangeEnd,
		})
		if err != nil {
			return nil, provider.InvalidRange("%v", err)
		}
		out = append(out, res.Events...)
	}
	return out, nil
}

// Refresh re-fetches every feed. Failed feeds keep their previous events.
func (p *Provider) Refresh(ctx context.Context) error {
	var errs []error
	for _, src := range p.sources {
		if _, err := p.load(ctx, src, true); err != nil {
			errs = append(errs, err)
		}
	}
	appLog.Info("ics refresh completed", "sources", len(p.sources), "failed", len(errs))
	return errors.Join(errs...)
}

// load returns the parsed events of src, fetching when the in-memory copy
// is missing, older than maxAge, or force is set. Concurrent loads of one
// source share a single fetch.
func (p *Provider) load(ctx context.Context, src Source, force bool) ([]ParsedEvent, error) {
	p.mu.RLock()
	cached, ok := p.feeds[src.ID]
	p.mu.RUnlock()
	if ok && !force && p.now().Sub(cached.fetchedAt) < p.maxAge {
		return cached.events, nil
	}

	v, err, shared := p.group.Do(src.ID, func() (any, error) {
		// The fetch is shared, so it must not die with the first caller.
		res, err := p.fetcher.FetchOne(context.WithoutCancel(ctx), src)
		if err != nil {
			return nil, provider.Unavailable(err, "fetch feed %s", src.ID)
		}
		events, err := ParseICS(src, res.Body, p.loc)
		if err != nil {
			return nil, provider.Malformed(err, "parse feed %s", src.ID)
		}

		p.mu.Lock()
		p.feeds[src.ID] = feed{events: events, fetchedAt: p.now(), fromCache: res.FromCache}
		p.mu.Unlock()
		return events, nil
	})
	if err != nil {
		if ok && !force {
			appLog.Warn("ics feed refresh failed, serving previous events", "id", src.ID, "err", err)
			return cached.events, nil
		}
		return nil, err
	}
	if shared {
		appLog.Debug("ics fetch shared", "id", src.ID)
	}
	return v.([]ParsedEvent), nil
}
