// Package web serves the JSON API used by the calendar UI: calendar
// preferences, per-day calendar buckets, the events of one day and a
// six-week month grid.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"colorcal/internal/adapter"
	"colorcal/internal/aggregate"
	"colorcal/internal/config"
	appLog "colorcal/internal/log"
	"colorcal/internal/model"
	"colorcal/internal/prefs"
	"colorcal/internal/provider"
	"colorcal/internal/wire"
)

const monthLayout = "2006-01"

// Server provides the HTTP API on top of an adapter.Service.
type Server struct {
	cfg    *config.Config
	svc    *adapter.Service
	prefs  *prefs.Store
	router *mux.Router
	now    func() time.Time

	// Bucket maps are memoized for a short TTL to avoid a provider round
	// trip on every UI repaint.
	cacheMu  sync.RWMutex
	cacheTTL time.Duration
	buckets  map[string]bucketCache
}

type bucketCache struct {
	buckets   model.DayBucketMap
	updatedAt time.Time
}

// NewServer constructs a Server.
func NewServer(cfg *config.Config, svc *adapter.Service, store *prefs.Store) *Server {
	s := &Server{
		cfg:      cfg,
		svc:      svc,
		prefs:    store,
		router:   mux.NewRouter(),
		now:      time.Now,
		cacheTTL: cfg.CacheTTL(),
		buckets:  make(map[string]bucketCache),
	}
	s.router.Use(logRequests)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for this server, behind Basic Auth when
// it is configured.
func (s *Server) Handler() http.Handler {
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(s.router)
	}
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/calendars", s.handleListCalendars).Methods(http.MethodGet)
	s.router.HandleFunc("/api/calendars", s.handleSaveCalendars).Methods(http.MethodPut)
	s.router.HandleFunc("/api/events/by-day", s.handleEventsByDay).Methods(http.MethodGet)
	s.router.HandleFunc("/api/events/for-day", s.handleEventsForDay).Methods(http.MethodGet)
	s.router.HandleFunc("/api/month", s.handleMonth).Methods(http.MethodGet)
}

// Invalidate drops memoized bucket maps.
func (s *Server) Invalidate() {
	s.cacheMu.Lock()
	s.buckets = make(map[string]bucketCache)
	s.cacheMu.Unlock()
	appLog.Debug("bucket cache invalidated")
}

func (s *Server) basicAuthEnabled() bool {
	return s.cfg != nil && s.cfg.BasicAuth.Enabled()
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="ColorCal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		appLog.Debug("http request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(started))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// calendarView is one row of the settings list.
type calendarView struct {
	prefs.CalendarPref
	Group       prefs.GroupLabel `json:"group"`
	SourceTitle string           `json:"sourceTitle,omitempty"`
}

// handleListCalendars returns the provider's calendars merged with the
// stored preferences.
//
// GET /api/calendars
func (s *Server) handleListCalendars(w http.ResponseWriter, r *http.Request) {
	cals, merged, err := s.mergeCalendars(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	byID := make(map[string]model.Calendar, len(cals))
	for _, c := range cals {
		byID[c.ID] = c
	}
	out := make([]calendarView, 0, len(merged))
	for _, p := range merged {
		c := byID[p.ID]
		out = append(out, calendarView{CalendarPref: p, Group: prefs.Classify(c), SourceTitle: c.SourceTitle})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSaveCalendars stores enabled flags and colors.
//
// PUT /api/calendars  body: [{"id","enabled","color"}, ...]
func (s *Server) handleSaveCalendars(w http.ResponseWriter, r *http.Request) {
	var edits []prefs.CalendarPref
	if err := json.NewDecoder(r.Body).Decode(&edits); err != nil {
		writeError(w, provider.InvalidArgument("invalid preferences body: %v", err))
		return
	}

	updated, err := s.prefs.Update(edits)
	if err != nil {
		appLog.Error("failed to save calendar preferences", err)
		writeJSON(w, http.StatusInternalServerError, wire.ErrorDTO{Error: "failed to save preferences"})
		return
	}
	s.Invalidate()
	writeJSON(w, http.StatusOK, updated)
}

// handleEventsByDay returns {"yyyy-MM-dd": ["calendarId", ...]}.
//
// GET /api/events/by-day?start-ms=..&end-ms=..[&cal-ids=a,b]
func (s *Server) handleEventsByDay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := queryMillis(q.Get(wire.FlagStartMs), wire.FlagStartMs)
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := queryMillis(q.Get(wire.FlagEndMs), wire.FlagEndMs)
	if err != nil {
		writeError(w, err)
		return
	}

	ids, err := s.calendarIDs(r)
	if err != nil {
		writeError(w, err)
		return
	}
	buckets, err := s.bucketsFor(r.Context(), start, end, ids)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

// handleEventsForDay returns the ordered events of one local day.
//
// GET /api/events/for-day?day-ms=..[&cal-ids=a,b]
func (s *Server) handleEventsForDay(w http.ResponseWriter, r *http.Request) {
	day, err := queryMillis(r.URL.Query().Get(wire.FlagDayMs), wire.FlagDayMs)
	if err != nil {
		writeError(w, err)
		return
	}

	ids, err := s.calendarIDs(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(ids) == 0 {
		writeJSON(w, http.StatusOK, []wire.EventDTO{})
		return
	}

	events, err := s.svc.EventsForDay(r.Context(), day, ids)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.EventsToDTO(events))
}

type monthResponse struct {
	Month     string     `json:"month"`
	WeekStart string     `json:"weekStart"`
	Timezone  string     `json:"timezone"`
	StartMs   int64      `json:"startMs"`
	EndMs     int64      `json:"endMs"`
	Days      []monthDay `json:"days"`
}

type monthDay struct {
	Date    model.DayKey `json:"date"`
	StartMs int64        `json:"startMs"`
	InMonth bool         `json:"inMonth"`
	Today   bool         `json:"today"`
	Dots    []dot        `json:"dots"`
}

type dot struct {
	CalendarID string `json:"calendarId"`
	Color      string `json:"color"`
}

// handleMonth lays out a six-week grid with colored calendar dots.
//
// GET /api/month[?month=yyyy-MM][&cal-ids=a,b]
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	loc := s.svc.Location()
	month := s.now().In(loc)
	if v := r.URL.Query().Get("month"); v != "" {
		t, err := time.ParseInLocation(monthLayout, v, loc)
		if err != nil {
			writeError(w, provider.InvalidArgument("month must be yyyy-MM, got %q", v))
			return
		}
		month = t
	}

	ids, err := s.calendarIDs(r)
	if err != nil {
		writeError(w, err)
		return
	}

	grid := aggregate.MonthGrid(month, s.cfg.FirstWeekday(), loc)
	buckets, err := s.bucketsFor(r.Context(), grid.Start, grid.End, ids)
	if err != nil {
		writeError(w, err)
		return
	}

	colors := s.prefs.Colors()
	today := model.DayKeyOf(s.now(), loc)
	resp := monthResponse{
		Month:     grid.Month.Format(monthLayout),
		WeekStart: s.cfg.WeekStart,
		Timezone:  loc.String(),
		StartMs:   grid.Start.UnixMilli(),
		EndMs:     grid.End.UnixMilli(),
		Days:      make([]monthDay, 0, len(grid.Days)),
	}
	for _, day := range grid.Days {
		key := model.DayKeyOf(day, loc)
		md := monthDay{
			Date:    key,
			StartMs: day.UnixMilli(),
			InMonth: grid.InMonth(day),
			Today:   key == today,
			Dots:    []dot{},
		}
		for _, id := range buckets.Calendars(key) {
			color, ok := colors[id]
			if !ok {
				color = model.DefaultColor
			}
			md.Dots = append(md.Dots, dot{CalendarID: id, Color: color})
		}
		resp.Days = append(resp.Days, md)
	}
	writeJSON(w, http.StatusOK, resp)
}

// mergeCalendars lists the provider's calendars and reconciles them with
// the stored preferences.
func (s *Server) mergeCalendars(ctx context.Context) ([]model.Calendar, []prefs.CalendarPref, error) {
	cals, err := s.svc.ListCalendars(ctx)
	if err != nil {
		return nil, nil, err
	}
	merged, err := s.prefs.Merge(cals)
	if err != nil {
		return nil, nil, err
	}
	return cals, merged, nil
}

// calendarIDs returns the explicit cal-ids parameter or, without one, the
// enabled calendars. Preferences are initialized from the provider on
// first use.
func (s *Server) calendarIDs(r *http.Request) ([]string, error) {
	q := r.URL.Query()
	if q.Has(wire.FlagCalIDs) {
		return wire.ParseCalIDs(q.Get(wire.FlagCalIDs)), nil
	}
	if len(s.prefs.All()) == 0 {
		if _, _, err := s.mergeCalendars(r.Context()); err != nil {
			return nil, err
		}
	}
	return s.prefs.EnabledIDs(), nil
}

// bucketsFor returns the bucket map of the range, memoized per range and
// id list. An empty id list yields an empty map without asking the
// provider.
func (s *Server) bucketsFor(ctx context.Context, start, end time.Time, ids []string) (model.DayBucketMap, error) {
	if len(ids) == 0 {
		if err := provider.ValidateRange(start, end); err != nil {
			return nil, err
		}
		return model.DayBucketMap{}, nil
	}

	key := strconv.FormatInt(start.UnixMilli(), 10) + "|" + strconv.FormatInt(end.UnixMilli(), 10) + "|" + wire.JoinCalIDs(ids)
	s.cacheMu.RLock()
	c, ok := s.buckets[key]
	s.cacheMu.RUnlock()
	if ok && s.now().Sub(c.updatedAt) < s.cacheTTL {
		return c.buckets, nil
	}

	buckets, err := s.svc.EventsByDay(ctx, start, end, ids)
	if err != nil {
		return nil, err
	}

	now := s.now()
	s.cacheMu.Lock()
	for k, c := range s.buckets {
		if now.Sub(c.updatedAt) >= s.cacheTTL {
			delete(s.buckets, k)
		}
	}
	s.buckets[key] = bucketCache{buckets: buckets, updatedAt: now}
	s.cacheMu.Unlock()
	return buckets, nil
}

func queryMillis(v, name string) (time.Time, error) {
	if v == "" {
		return time.Time{}, provider.InvalidArgument("missing %s", name)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return time.Time{}, provider.InvalidArgument("%s must be epoch milliseconds, got %q", name, v)
	}
	return time.UnixMilli(n), nil
}

func statusFor(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	switch provider.KindOf(err) {
	case provider.KindAccessDenied:
		return http.StatusForbidden
	case provider.KindInvalidRange, provider.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), wire.ErrorToDTO(err))
}
