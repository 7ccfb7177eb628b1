package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"yomtov/internal/model"
)

const (
	DefaultPath        = "/etc/yomtov/config.yaml"
	DefaultListen      = "127.0.0.1:8080"
	DefaultTimezone    = "Asia/Jerusalem"
	DefaultLabelLocale = "he-x-NoNikud"
	DefaultCacheDir    = "/var/lib/yomtov/ics-cache"
	DefaultPageSize    = 4
)

// CalendarConfig describes where observances come from.
type CalendarConfig struct {
	// URL is an ICS download URL or a local file path. hebcal.com URLs get
	// the feed toggles appended as query parameters.
	URL string `yaml:"url" json:"url"`

	// LabelLocale selects the locale of the short labels, e.g. "he-x-NoNikud".
	LabelLocale string `yaml:"label_locale" json:"label_locale"`

	// CacheDir holds the fetched ICS body and its ETag metadata.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone whose midnight starts a new day.
	Timezone string `yaml:"timezone" json:"timezone"`

	Settings model.Settings `yaml:"settings" json:"settings"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`

	// PageSize is the number of upcoming records shown initially and
	// added per expand.
	PageSize int `yaml:"page_size" json:"page_size"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   DefaultListen,
		Timezone: DefaultTimezone,
		Settings: model.Settings{
			DateDisplay:    model.DateDisplayGregorian,
			MinorFasts:     true,
			RoshChodesh:    true,
			ModernHolidays: true,
		},
		Calendar: CalendarConfig{
			LabelLocale: DefaultLabelLocale,
			CacheDir:    DefaultCacheDir,
		},
		PageSize: DefaultPageSize,
	}
}

// Normalize fills in missing values and repairs invalid ones so that
// hand-edited configs still behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	} else if _, err := time.LoadLocation(c.Timezone); err != nil {
		c.Timezone = DefaultTimezone
	}
	switch c.Settings.DateDisplay {
	case model.DateDisplayGregorian, model.DateDisplayOther:
	default:
		c.Settings.DateDisplay = model.DateDisplayGregorian
	}
	if c.Calendar.LabelLocale == "" {
		c.Calendar.LabelLocale = DefaultLabelLocale
	}
	if c.Calendar.CacheDir == "" {
		c.Calendar.CacheDir = DefaultCacheDir
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Equal reports whether two configs carry the same values.
func (c *Config) Equal(o *Config) bool {
	if c == nil || o == nil {
		return c == o
	}
	a, b := *c, *o
	a.BasicAuth, b.BasicAuth = nil, nil
	if a != b {
		return false
	}
	switch {
	case c.BasicAuth == nil && o.BasicAuth == nil:
		return true
	case c.BasicAuth == nil || o.BasicAuth == nil:
		return false
	}
	return *c.BasicAuth == *o.BasicAuth
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	if c.BasicAuth != nil {
		ba := *c.BasicAuth
		out.BasicAuth = &ba
	}
	return &out
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the file is handed to Read.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// Read parses an existing config file over the defaults and normalizes it.
// Missing toggles keep their default (on) value.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".yomtov-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
