package calendar

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "yomtov/internal/log"
)

// Non-standard VEVENT properties carrying pre-rendered labels.
const (
	propHebrewTitle = "X-HEBREW-TITLE"
	propHebrewDate  = "X-HEBREW-DATE"
)

// ParsedEvent is the normalized form of one VEVENT.
type ParsedEvent struct {
	UID string

	Summary    string
	Brief      string
	HebrewDate string
	Categories []string

	Start  time.Time
	AllDay bool

	RawRRule string
	ExDates  []time.Time

	// Order is the VEVENT's position in its source; it breaks date ties.
	Order int
}

// ParseICS parses an ICS payload into ParsedEvents. Timed events are read in
// loc; all-day events keep their written day. A VEVENT that cannot be parsed
// is logged and skipped.
func ParseICS(body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	skipped := 0
	for i, comp := range cal.Events() {
		ev, perr := parseVEvent(comp, loc)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr, "index", i)
			skipped++
			continue
		}
		ev.Order = i
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "event_count", len(events), "skipped", skipped)
	return events, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}

	p := ve.GetProperty(ical.ComponentPropertySummary)
	if p == nil || strings.TrimSpace(p.Value) == "" {
		return out, errors.New("missing SUMMARY")
	}
	out.Summary = p.Value

	out.Brief = out.Summary
	if p := ve.GetProperty(propHebrewTitle); p != nil && p.Value != "" {
		out.Brief = p.Value
	}

	if p := ve.GetProperty(propHebrewDate); p != nil && p.Value != "" {
		out.HebrewDate = p.Value
	} else if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.HebrewDate = firstLine(p.Value)
	}

	for _, cp := range ve.GetProperties(ical.ComponentPropertyCategories) {
		for _, c := range strings.Split(cp.Value, ",") {
			c = strings.ToLower(strings.TrimSpace(c))
			if c != "" {
				out.Categories = append(out.Categories, c)
			}
		}
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isAllDay(dtStart)
	if out.AllDay {
		t, err := time.Parse("20060102", strings.TrimSpace(dtStart.Value))
		if err != nil {
			return out, err
		}
		out.Start = t
	} else {
		t, err := ve.GetStartAt()
		if err != nil {
			return out, err
		}
		out.Start = t.In(loc)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, out.Start.Location()); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	return out, nil
}

// isAllDay reports VALUE=DATE or a date-only DTSTART value.
func isAllDay(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// parseICSTime parses DATE, local DATE-TIME and UTC DATE-TIME forms.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

func firstLine(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
