package calendar

import (
	"context"
	"errors"
	"time"

	"yomtov/internal/model"
)

// Category names a source uses to tag suppressible observances.
const (
	CategoryMinorFast   = "minorfast"
	CategoryRoshChodesh = "roshchodesh"
	CategoryModern      = "modern"
)

// DefaultLabelLocale is the locale requested for brief labels.
const DefaultLabelLocale = "he-x-NoNikud"

// Options is the request a Calendar answers. Start and End are inclusive
// calendar days.
type Options struct {
	Start time.Time
	End   time.Time

	SuppressMinorFasts     bool
	SuppressRoshChodesh    bool
	SuppressModernHolidays bool

	LabelLocale string
}

// Validate rejects malformed ranges.
func (o Options) Validate() error {
	if o.Start.IsZero() || o.End.IsZero() {
		return errors.New("calendar: start and end are required")
	}
	if o.End.Before(o.Start) {
		return errors.New("calendar: end is before start")
	}
	return nil
}

// suppressed reports whether a category set falls under one of the
// requested suppressions.
func (o Options) suppressed(categories []string) bool {
	for _, c := range categories {
		switch c {
		case CategoryMinorFast:
			if o.SuppressMinorFasts {
				return true
			}
		case CategoryRoshChodesh:
			if o.SuppressRoshChodesh {
				return true
			}
		case CategoryModern:
			if o.SuppressModernHolidays {
				return true
			}
		}
	}
	return false
}

// Calendar enumerates raw observance occurrences for a date range. The
// result must be in chronological order and must already honor the
// suppression flags in opts.
type Calendar interface {
	Calculate(ctx context.Context, opts Options) ([]model.RawOccurrence, error)
}

// Static is a Calendar over a fixed list of occurrences. Occurrences outside
// the requested range or with suppressed categories are dropped; entries
// whose Date cannot be read are passed through for the caller to judge.
type Static struct {
	Occurrences []model.RawOccurrence
	Err         error
}

func (s *Static) Calculate(_ context.Context, opts Options) ([]model.RawOccurrence, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	start := dayKey(opts.Start)
	end := dayKey(opts.End)

	out := make([]model.RawOccurrence, 0, len(s.Occurrences))
	for _, occ := range s.Occurrences {
		if opts.suppressed(occ.Categories) {
			continue
		}
		if day, ok := leadingDay(occ.Date); ok && (day < start || day > end) {
			continue
		}
		out = append(out, occ)
	}
	return out, nil
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// leadingDay extracts a "YYYY-MM-DD" prefix when the value has one.
func leadingDay(v string) (string, bool) {
	if len(v) < 10 {
		return "", false
	}
	if _, err := time.Parse("2006-01-02", v[:10]); err != nil {
		return "", false
	}
	return v[:10], true
}
