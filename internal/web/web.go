package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"yomtov/internal/config"
	"yomtov/internal/dateutil"
	"yomtov/internal/feed"
	appLog "yomtov/internal/log"
	"yomtov/internal/model"
	"yomtov/internal/scheduler"
)

// FeedService is the view side of feed.Service.
type FeedService interface {
	Snapshot() feed.View
	RequestExpand() feed.View
	RequestManualRefresh(ctx context.Context) bool
	ResetPagination()
}

// StatusSource reports scheduler state.
type StatusSource interface {
	Status() scheduler.Status
}

// SettingsStore reads and persists the user toggles. UpdateSettings applies
// the same restart rules as a config file edit.
type SettingsStore interface {
	Settings() model.Settings
	UpdateSettings(ctx context.Context, s model.Settings) error
}

// Server exposes the feed over a small JSON API.
type Server struct {
	auth     *config.BasicAuthConfig
	feed     FeedService
	status   StatusSource
	settings SettingsStore
	mux      *http.ServeMux

	// refreshLimiter spaces manual refreshes. A throttled request is folded
	// into one trailing refresh that runs when the limiter next allows it.
	refreshLimiter *rate.Limiter
	trailingMu     sync.Mutex
	trailing       bool
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, f FeedService, status StatusSource, settings SettingsStore) *Server {
	s := &Server{
		feed:           f,
		status:         status,
		settings:       settings,
		mux:            http.NewServeMux(),
		refreshLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	if cfg != nil {
		s.auth = cfg.BasicAuth
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	return s.auth != nil && s.auth.Username != "" && s.auth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.auth.Username
	password := s.auth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="yomtov", charset="UTF-8"`)
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

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/today", s.handleToday)
	s.mux.HandleFunc("GET /api/upcoming", s.handleUpcoming)
	s.mux.HandleFunc("POST /api/expand", s.handleExpand)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type todayEntry struct {
	Title       string `json:"title"`
	HebrewTitle string `json:"hebrew_title"`
}

type todayResponse struct {
	Day          string       `json:"day"`
	IsHoliday    bool         `json:"is_holiday"`
	DisplayDate  string       `json:"display_date"`
	Observances  []todayEntry `json:"observances"`
	IsRefreshing bool         `json:"is_refreshing"`
	LastError    string       `json:"last_error,omitempty"`
}

type upcomingEntry struct {
	Title       string   `json:"title"`
	HebrewTitle string   `json:"hebrew_title"`
	Date        string   `json:"date"`
	DisplayDate string   `json:"display_date"`
	Categories  []string `json:"categories,omitempty"`
}

type upcomingResponse struct {
	Observances  []upcomingEntry `json:"observances"`
	HasMore      bool            `json:"has_more"`
	IsRefreshing bool            `json:"is_refreshing"`
	LastError    string          `json:"last_error,omitempty"`
	Skipped      int             `json:"skipped"`
	RefreshedAt  time.Time       `json:"refreshed_at"`
}

func (s *Server) handleToday(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, renderToday(s.feed.Snapshot()))
}

func (s *Server) handleUpcoming(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, renderUpcoming(s.feed.Snapshot()))
}

func (s *Server) handleExpand(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, renderUpcoming(s.feed.RequestExpand()))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// The rebuild outlives the request.
	ctx := context.WithoutCancel(r.Context())
	if !s.refreshLimiter.Allow() {
		s.feed.ResetPagination()
		s.scheduleTrailingRefresh(ctx)
		writeJSON(w, http.StatusAccepted, map[string]bool{"coalesced": true})
		return
	}
	accepted := s.feed.RequestManualRefresh(ctx)
	if !accepted {
		writeJSON(w, http.StatusAccepted, map[string]bool{"coalesced": true})
		return
	}
	writeJSON(w, http.StatusOK, renderUpcoming(s.feed.Snapshot()))
}

// scheduleTrailingRefresh arms at most one deferred refresh. Later throttled
// requests join it, so the newest request is still served.
func (s *Server) scheduleTrailingRefresh(ctx context.Context) {
	s.trailingMu.Lock()
	defer s.trailingMu.Unlock()
	if s.trailing {
		return
	}
	s.trailing = true
	delay := s.refreshLimiter.Reserve().Delay()
	time.AfterFunc(delay, func() {
		s.trailingMu.Lock()
		s.trailing = false
		s.trailingMu.Unlock()
		s.feed.RequestManualRefresh(ctx)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	v := s.feed.Snapshot()
	writeJSON(w, http.StatusOK, struct {
		Scheduler   scheduler.Status `json:"scheduler"`
		Day         string           `json:"day"`
		RefreshID   string           `json:"refresh_id,omitempty"`
		RefreshedAt time.Time        `json:"refreshed_at"`
		LastError   string           `json:"last_error,omitempty"`
	}{
		Scheduler:   s.status.Status(),
		Day:         v.Day,
		RefreshID:   v.RefreshID,
		RefreshedAt: v.RefreshedAt,
		LastError:   v.LastError,
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Settings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	// Start from the current values so partial bodies only touch what they name.
	next := s.settings.Settings()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings: "+err.Error())
		return
	}
	switch next.DateDisplay {
	case model.DateDisplayGregorian, model.DateDisplayOther:
	default:
		writeError(w, http.StatusBadRequest, `date_display must be "gregorian" or "other"`)
		return
	}

	if err := s.settings.UpdateSettings(context.WithoutCancel(r.Context()), next); err != nil {
		appLog.Error("failed to update settings", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, s.settings.Settings())
}

func renderToday(v feed.View) todayResponse {
	resp := todayResponse{
		Day:          v.Day,
		IsHoliday:    len(v.Today) > 0,
		Observances:  make([]todayEntry, 0, len(v.Today)),
		IsRefreshing: v.IsRefreshing,
		LastError:    v.LastError,
	}
	for _, o := range v.Today {
		resp.Observances = append(resp.Observances, todayEntry{
			Title:       dateutil.StripParentheticals(o.Title),
			HebrewTitle: o.HebrewTitle,
		})
	}

	resp.DisplayDate = displayLong(v.Day)
	if v.Settings.DateDisplay == model.DateDisplayOther && len(v.Today) > 0 && v.Today[0].HebrewDate != "" {
		resp.DisplayDate = v.Today[0].HebrewDate
	}
	return resp
}

func renderUpcoming(v feed.View) upcomingResponse {
	resp := upcomingResponse{
		Observances:  make([]upcomingEntry, 0, len(v.Upcoming)),
		HasMore:      v.HasMore,
		IsRefreshing: v.IsRefreshing,
		LastError:    v.LastError,
		Skipped:      v.Skipped,
		RefreshedAt:  v.RefreshedAt,
	}
	for _, o := range v.Upcoming {
		display := o.HebrewDate
		if v.Settings.DateDisplay != model.DateDisplayOther || display == "" {
			display = displayShort(o.Date)
		}
		resp.Observances = append(resp.Observances, upcomingEntry{
			Title:       dateutil.StripParentheticals(o.Title),
			HebrewTitle: o.HebrewTitle,
			Date:        o.Date,
			DisplayDate: display,
			Categories:  o.Categories,
		})
	}
	return resp
}

func displayLong(day string) string {
	t, err := dateutil.ParseDay(day)
	if err != nil {
		return day
	}
	return dateutil.FormatLong(t)
}

func displayShort(day string) string {
	t, err := dateutil.ParseDay(day)
	if err != nil {
		return day
	}
	return dateutil.FormatShort(t)
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
