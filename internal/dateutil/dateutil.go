// Package dateutil holds the pure date helpers shared by the feed and view
// layers. Nothing in here reads the wall clock.
package dateutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// DayLayout is the canonical day key format.
	DayLayout = "2006-01-02"

	// MinDelay is the floor applied to midnight delays when the clock
	// misbehaves. It sits below any delay a valid clock can produce in
	// whole milliseconds.
	MinDelay = time.Millisecond
)

var parentheticalRe = regexp.MustCompile(`\s*\([^)]*\)`)

// FormatLong renders t as "14 March 2025" using its UTC fields.
func FormatLong(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("%d %s %d", u.Day(), u.Month().String(), u.Year())
}

// FormatShort renders t as "14 Mar 2025" using its UTC fields.
func FormatShort(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("%d %s %d", u.Day(), u.Month().String()[:3], u.Year())
}

// ParseDay accepts "YYYY-MM-DD" or an RFC 3339 timestamp and returns UTC
// midnight of that calendar day. Timestamps are converted to UTC first, so
// "2025-03-14T00:30:00+02:00" yields 2025-03-13.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	if t, err := time.Parse(DayLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC), nil
}

// DayKey returns the "YYYY-MM-DD" key of t in t's own location.
func DayKey(t time.Time) string {
	return t.Format(DayLayout)
}

// UntilNextMidnight returns the time from now until 00:00:00.000 of the
// following day in now's location. The result is never below MinDelay.
func UntilNextMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	delay := midnight.Sub(now)
	if delay < MinDelay {
		return MinDelay
	}
	return delay
}

// MillisUntilNextMidnight is UntilNextMidnight in milliseconds.
func MillisUntilNextMidnight(now time.Time) int64 {
	return UntilNextMidnight(now).Milliseconds()
}

// StripParentheticals removes every "(...)" group and the whitespace
// directly before it.
func StripParentheticals(s string) string {
	return parentheticalRe.ReplaceAllString(s, "")
}
