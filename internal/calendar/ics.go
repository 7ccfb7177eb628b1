package calendar

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	appLog "yomtov/internal/log"
	"yomtov/internal/model"
)

// ICS is a Calendar backed by one ICS subscription or file.
//
// Suppression happens at the source: hebcal.com download URLs get the
// matching query flags, and every source additionally has events in a
// suppressed category dropped while parsing, so static files behave the
// same as the generator.
type ICS struct {
	URL      string
	Location *time.Location
	Fetcher  *Fetcher
}

// NewICS builds an ICS calendar. A nil loc means time.Local.
func NewICS(rawURL string, loc *time.Location, fetcher *Fetcher) *ICS {
	if loc == nil {
		loc = time.Local
	}
	if fetcher == nil {
		fetcher = NewFetcher("")
	}
	return &ICS{URL: rawURL, Location: loc, Fetcher: fetcher}
}

func (c *ICS) Calculate(ctx context.Context, opts Options) ([]model.RawOccurrence, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	src, err := SourceURL(c.URL, opts)
	if err != nil {
		return nil, err
	}

	res, err := c.Fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("calendar fetch: %w", err)
	}

	events, err := ParseICS(res.Body, c.Location)
	if err != nil {
		return nil, fmt.Errorf("calendar parse: %w", err)
	}

	kept := events[:0]
	for _, ev := range events {
		if !opts.suppressed(ev.Categories) {
			kept = append(kept, ev)
		}
	}

	expanded, err := ExpandOccurrences(kept, ExpandConfig{
		RangeStart: opts.Start,
		RangeEnd:   opts.End,
	})
	if err != nil {
		return nil, fmt.Errorf("calendar expand: %w", err)
	}

	appLog.Debug("calendar calculated",
		"start", dayKey(opts.Start),
		"end", dayKey(opts.End),
		"events", len(kept),
		"occurrences", len(expanded.Occurrences),
		"from_cache", res.FromCache,
	)
	return expanded.Occurrences, nil
}

// SourceURL applies the suppression flags and label locale to a
// hebcal.com download URL. Other URLs and local paths are returned as is.
func SourceURL(rawURL string, opts Options) (string, error) {
	if _, ok := localPath(rawURL); ok {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("calendar url: %w", err)
	}
	if !isHebcalHost(u.Hostname()) {
		return rawURL, nil
	}

	q := u.Query()
	q.Set("mf", onOff(!opts.SuppressMinorFasts))
	q.Set("nx", onOff(!opts.SuppressRoshChodesh))
	q.Set("mod", onOff(!opts.SuppressModernHolidays))
	if opts.LabelLocale != "" {
		q.Set("lg", opts.LabelLocale)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isHebcalHost(host string) bool {
	host = strings.ToLower(host)
	return host == "hebcal.com" || strings.HasSuffix(host, ".hebcal.com")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
