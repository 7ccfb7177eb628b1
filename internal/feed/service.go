package feed

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"yomtov/internal/dateutil"
	appLog "yomtov/internal/log"
	"yomtov/internal/model"
)

// Refresher is the scheduler side of a manual refresh.
type Refresher interface {
	RequestRefresh(ctx context.Context) bool
}

// View is what the presentation layer consumes.
type View struct {
	Day          string             `json:"day"`
	Today        []model.Observance `json:"today"`
	Upcoming     []model.Observance `json:"upcoming"`
	HasMore      bool               `json:"has_more"`
	IsRefreshing bool               `json:"is_refreshing"`
	Settings     model.Settings     `json:"settings"`

	// LastError is set when the latest rebuild failed; the feed then still
	// holds the previous good build.
	LastError string `json:"last_error,omitempty"`

	// Failures counts rebuilds failed in a row; a success resets it.
	Failures    int       `json:"failures"`
	Skipped     int       `json:"skipped"`
	RefreshedAt time.Time `json:"refreshed_at"`
	RefreshID   string    `json:"refresh_id,omitempty"`
}

// Service owns the current feed. Rebuild replaces it wholesale; readers
// never see a partially built feed.
type Service struct {
	builder *Builder

	mu          sync.RWMutex
	settings    model.Settings
	result      Result
	day         string
	pager       *Pager
	refreshing  bool
	lastErr     error
	failures    int
	refreshedAt time.Time
	refreshID   string
	refresher   Refresher
}

func NewService(b *Builder, s model.Settings, pageSize int) *Service {
	return &Service{
		builder:  b,
		settings: s,
		pager:    NewPager(pageSize),
	}
}

// SetRefresher wires the scheduler that serves manual refreshes.
func (svc *Service) SetRefresher(r Refresher) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.refresher = r
}

func (svc *Service) Settings() model.Settings {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return svc.settings
}

// SetSettings stores new settings and reports whether the feed key changed,
// in which case the caller must restart the scheduler.
func (svc *Service) SetSettings(s model.Settings) bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	changed := svc.settings.FeedKey() != s.FeedKey()
	svc.settings = s
	return changed
}

// Rebuild derives a new feed as of now. On failure the previous feed stays
// in place and the error is returned.
func (svc *Service) Rebuild(ctx context.Context, now time.Time) error {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	id := uuid.NewString()

	svc.mu.Lock()
	svc.refreshing = true
	settings := svc.settings
	svc.mu.Unlock()

	res, err := svc.builder.Build(ctx, today, settings)

	svc.mu.Lock()
	svc.refreshing = false
	svc.refreshID = id
	if err != nil {
		svc.lastErr = err
		svc.failures++
		failures := svc.failures
		if svc.day == "" {
			svc.day = dateutil.DayKey(today)
		}
		svc.mu.Unlock()
		appLog.Error("feed refresh failed; keeping previous feed", err,
			"refresh_id", id,
			"day", dateutil.DayKey(today),
			"failures", failures,
		)
		return err
	}
	svc.result = res
	svc.day = dateutil.DayKey(today)
	svc.lastErr = nil
	svc.failures = 0
	svc.refreshedAt = now
	svc.mu.Unlock()

	if res.Skipped > 0 {
		appLog.Warn("feed records skipped for unreadable dates", "refresh_id", id, "skipped", res.Skipped)
	}
	appLog.Info("feed refreshed",
		"refresh_id", id,
		"day", dateutil.DayKey(today),
		"records", len(res.Feed),
		"today", len(res.Today),
		"window_end", dateutil.DayKey(res.End),
	)
	return nil
}

// Snapshot returns the current view.
func (svc *Service) Snapshot() View {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	v := View{
		Day:          svc.day,
		Today:        append([]model.Observance{}, svc.result.Today...),
		Upcoming:     svc.pager.Page(svc.result.Feed, svc.day),
		HasMore:      svc.pager.HasMore(svc.result.Feed, svc.day),
		IsRefreshing: svc.refreshing,
		Settings:     svc.settings,
		Failures:     svc.failures,
		Skipped:      svc.result.Skipped,
		RefreshedAt:  svc.refreshedAt,
		RefreshID:    svc.refreshID,
	}
	if svc.lastErr != nil {
		v.LastError = svc.lastErr.Error()
	}
	return v
}

// Feed returns a copy of the full current feed.
func (svc *Service) Feed() []model.Observance {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return append([]model.Observance{}, svc.result.Feed...)
}

// RequestExpand exposes the next page of upcoming records.
func (svc *Service) RequestExpand() View {
	svc.mu.Lock()
	svc.pager.Expand()
	svc.mu.Unlock()
	return svc.Snapshot()
}

// ResetPagination puts the upcoming cursor back to its first page.
func (svc *Service) ResetPagination() {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.pager.Reset()
}

// RequestManualRefresh resets pagination and asks the scheduler for a
// restart. It reports whether the scheduler accepted the request.
func (svc *Service) RequestManualRefresh(ctx context.Context) bool {
	svc.mu.Lock()
	svc.pager.Reset()
	r := svc.refresher
	svc.mu.Unlock()

	if r == nil {
		return false
	}
	return r.RequestRefresh(ctx)
}
