package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yomtov/internal/model"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Equal(again))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Settings.MinorFasts = false
	cfg.Settings.DateDisplay = model.DateDisplayOther
	cfg.Calendar.URL = "https://download.hebcal.com/v3/abc/hebcal.ics"
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "secret"}

	require.NoError(t, cfg.Save(path))
	got, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Equal(got))
	assert.False(t, got.Settings.MinorFasts)
	assert.Equal(t, "admin", got.BasicAuth.Username)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestReadNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: Mars/Olympus_Mons
settings:
  date_display: julian
  rosh_chodesh: false
page_size: -3
basic_auth: {username: "", password: ""}
`), 0o600))

	cfg, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimezone, cfg.Timezone)
	assert.Equal(t, model.DateDisplayGregorian, cfg.Settings.DateDisplay)
	assert.False(t, cfg.Settings.RoshChodesh)
	assert.True(t, cfg.Settings.MinorFasts, "missing toggles default to on")
	assert.True(t, cfg.Settings.ModernHolidays)
	assert.Equal(t, DefaultPageSize, cfg.PageSize)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Nil(t, cfg.BasicAuth)
}

func TestReadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("settings: [oops"), 0o600))

	_, err := Read(path)
	require.Error(t, err)
	_, err = Load("")
	require.Error(t, err)
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "Asia/Jerusalem", cfg.Location().String())

	cfg.Timezone = "not/a/zone"
	assert.NotNil(t, cfg.Location())
}

func TestEqualAndClone(t *testing.T) {
	a := DefaultConfig()
	a.BasicAuth = &BasicAuthConfig{Username: "u", Password: "p"}
	b := a.Clone()
	assert.True(t, a.Equal(b))

	b.BasicAuth.Password = "q"
	assert.False(t, a.Equal(b))
	assert.Equal(t, "p", a.BasicAuth.Password, "clone does not share BasicAuth")

	b.BasicAuth = nil
	assert.False(t, a.Equal(b))

	c := a.Clone()
	c.Settings.ModernHolidays = false
	assert.False(t, a.Equal(c))
}
