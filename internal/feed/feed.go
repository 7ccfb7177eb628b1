// Package feed derives the observance feed from raw calendar occurrences
// and holds the state the view layer reads.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"yomtov/internal/calendar"
	"yomtov/internal/dateutil"
	"yomtov/internal/model"
)

// WindowMonths is how far ahead of today the feed reaches.
const WindowMonths = 15

// ErrFeedUnavailable wraps any failure of the calendar source during a
// build.
var ErrFeedUnavailable = errors.New("feed unavailable")

// Dedupe keeps the first occurrence of every distinct description, in input
// order. Matching is exact and case-sensitive.
func Dedupe(occs []model.RawOccurrence) []model.RawOccurrence {
	seen := make(map[string]struct{}, len(occs))
	out := make([]model.RawOccurrence, 0, len(occs))
	for _, occ := range occs {
		if _, ok := seen[occ.Description]; ok {
			continue
		}
		seen[occ.Description] = struct{}{}
		out = append(out, occ)
	}
	return out
}

// Project converts raw occurrences into Observances. Occurrences whose date
// cannot be parsed are dropped and counted.
func Project(occs []model.RawOccurrence) ([]model.Observance, int) {
	out := make([]model.Observance, 0, len(occs))
	skipped := 0
	for _, occ := range occs {
		d, err := dateutil.ParseDay(occ.Date)
		if err != nil {
			skipped++
			continue
		}
		var cats []string
		if len(occ.Categories) > 0 {
			cats = append([]string(nil), occ.Categories...)
		}
		out = append(out, model.Observance{
			Title:       occ.Description,
			HebrewTitle: occ.Brief,
			Date:        d.Format(dateutil.DayLayout),
			HebrewDate:  occ.HebrewDate,
			Categories:  cats,
		})
	}
	return out, skipped
}

// ResolveToday returns the records dated today. Zero, one or many matches
// are all valid.
func ResolveToday(feed []model.Observance, today string) []model.Observance {
	out := make([]model.Observance, 0)
	for _, o := range feed {
		if o.Date == today {
			out = append(out, o)
		}
	}
	return out
}

// Window returns the inclusive day range the feed covers for today:
// tomorrow through WindowMonths months ahead.
func Window(today time.Time) (time.Time, time.Time) {
	return today.AddDate(0, 0, 1), today.AddDate(0, WindowMonths, 0)
}

// Result is the output of one build.
type Result struct {
	Feed  []model.Observance
	Today []model.Observance

	// Skipped counts records dropped for an unreadable date.
	Skipped int

	Start time.Time
	End   time.Time
}

// Builder turns calendar output into a Result.
type Builder struct {
	Calendar    calendar.Calendar
	LabelLocale string
}

func NewBuilder(cal calendar.Calendar, labelLocale string) *Builder {
	if labelLocale == "" {
		labelLocale = calendar.DefaultLabelLocale
	}
	return &Builder{Calendar: cal, LabelLocale: labelLocale}
}

// Build derives the feed for today under s. Disabled toggles are passed to
// the calendar as suppressions; nothing is filtered afterwards. The window
// starts tomorrow, so today's records come from a separate single-day
// request run through the same pipeline.
func (b *Builder) Build(ctx context.Context, today time.Time, s model.Settings) (Result, error) {
	start, end := Window(today)
	res := Result{Start: start, End: end}

	feed, skipped, err := b.collect(ctx, b.options(start, end, s))
	if err != nil {
		return Result{}, err
	}
	res.Feed = feed
	res.Skipped += skipped

	day, skipped, err := b.collect(ctx, b.options(today, today, s))
	if err != nil {
		return Result{}, err
	}
	res.Today = ResolveToday(day, dateutil.DayKey(today))
	res.Skipped += skipped

	return res, nil
}

func (b *Builder) options(start, end time.Time, s model.Settings) calendar.Options {
	return calendar.Options{
		Start:                  start,
		End:                    end,
		SuppressMinorFasts:     !s.MinorFasts,
		SuppressRoshChodesh:    !s.RoshChodesh,
		SuppressModernHolidays: !s.ModernHolidays,
		LabelLocale:            b.LabelLocale,
	}
}

func (b *Builder) collect(ctx context.Context, opts calendar.Options) ([]model.Observance, int, error) {
	raw, err := b.Calendar.Calculate(ctx, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}
	feed, skipped := Project(Dedupe(raw))
	return feed, skipped, nil
}
