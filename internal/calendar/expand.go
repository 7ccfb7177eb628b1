package calendar

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "yomtov/internal/log"
	"yomtov/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// RangeStart / RangeEnd are inclusive calendar days.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. Zero means the default.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps expanded occurrences and truncation info.
type ExpandResult struct {
	Occurrences []model.RawOccurrence
	// TruncatedEvents records UIDs that hit the per-event cap.
	TruncatedEvents []string
}

type datedOccurrence struct {
	day   string
	order int
	occ   model.RawOccurrence
}

// ExpandOccurrences turns parsed events into one RawOccurrence per day
// inside the configured range, sorted by day and then by source order.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	startKey := dayKey(cfg.RangeStart)
	endKey := dayKey(cfg.RangeEnd)

	dated := make([]datedOccurrence, 0, len(events))
	for _, ev := range events {
		days, hitCap := expandEvent(ev, cfg)
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
			appLog.Error("expand: truncated occurrences due to cap",
				errors.New("max occurrences reached"),
				"uid", ev.UID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
		for _, day := range days {
			if day < startKey || day > endKey {
				continue
			}
			dated = append(dated, datedOccurrence{
				day:   day,
				order: ev.Order,
				occ: model.RawOccurrence{
					Description: ev.Summary,
					Brief:       ev.Brief,
					Date:        day,
					HebrewDate:  ev.HebrewDate,
					Categories:  ev.Categories,
				},
			})
		}
	}

	sort.SliceStable(dated, func(i, j int) bool {
		if dated[i].day != dated[j].day {
			return dated[i].day < dated[j].day
		}
		return dated[i].order < dated[j].order
	})

	result.Occurrences = make([]model.RawOccurrence, 0, len(dated))
	for _, d := range dated {
		result.Occurrences = append(result.Occurrences, d.occ)
	}
	return result, nil
}

// expandEvent returns the day keys an event lands on and whether the cap
// was hit.
func expandEvent(ev ParsedEvent, cfg ExpandConfig) ([]string, bool) {
	if ev.RawRRule == "" {
		return []string{dayKey(ev.Start)}, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen to whole days in the event's own location.
	loc := ev.Start.Location()
	from := time.Date(cfg.RangeStart.Year(), cfg.RangeStart.Month(), cfg.RangeStart.Day(), 0, 0, 0, 0, loc)
	to := time.Date(cfg.RangeEnd.Year(), cfg.RangeEnd.Month(), cfg.RangeEnd.Day(), 23, 59, 59, 0, loc)

	times := set.Between(from, to, true)
	hitCap := false
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	days := make([]string, 0, len(times))
	for _, t := range times {
		days = append(days, dayKey(t))
	}
	return days, hitCap
}
