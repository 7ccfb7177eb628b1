package model

// RawOccurrence is a single dated observance as produced by a calendar
// source, before deduplication and projection. Values are treated as
// immutable once produced.
type RawOccurrence struct {
	// Description is the source's descriptive text, e.g. "Sukkot I (CH''M)".
	// It is the deduplication key.
	Description string

	// Brief is the pre-rendered short label in the configured label locale.
	Brief string

	// Date is the resolved Gregorian day, "YYYY-MM-DD" or RFC 3339. Sources
	// are not trusted to produce a parseable value.
	Date string

	// HebrewDate is the pre-rendered native calendar date string.
	HebrewDate string

	Categories []string
}

// Observance is the canonical record consumed by the feed and view layers.
type Observance struct {
	Title       string   `json:"title"`
	HebrewTitle string   `json:"hebrewTitle"`
	Date        string   `json:"date"` // YYYY-MM-DD, UTC day granularity
	HebrewDate  string   `json:"hebrewDate"`
	Categories  []string `json:"categories"`
}

// DateDisplay selects how dates are rendered for the consumer.
type DateDisplay string

const (
	DateDisplayGregorian DateDisplay = "gregorian"
	DateDisplayOther     DateDisplay = "other"
)

// Settings are the user-facing toggles that shape the feed.
type Settings struct {
	DateDisplay    DateDisplay `yaml:"date_display" json:"date_display"`
	MinorFasts     bool        `yaml:"minor_fasts" json:"minor_fasts"`
	RoshChodesh    bool        `yaml:"rosh_chodesh" json:"rosh_chodesh"`
	ModernHolidays bool        `yaml:"modern_holidays" json:"modern_holidays"`
}

// FeedKey is the subset of Settings whose change invalidates a built feed.
type FeedKey struct {
	MinorFasts     bool
	RoshChodesh    bool
	ModernHolidays bool
}

func (s Settings) FeedKey() FeedKey {
	return FeedKey{
		MinorFasts:     s.MinorFasts,
		RoshChodesh:    s.RoshChodesh,
		ModernHolidays: s.ModernHolidays,
	}
}
