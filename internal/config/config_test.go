package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8099", cfg.Listen)
	assert.Equal(t, "./data/schedules.db", cfg.DatabasePath)
	assert.False(t, cfg.HAEnabled())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
database_path: /var/lib/schedules.db
timezone: Europe/Amsterdam
latitude: 52.37
longitude: 4.89
home_assistant:
  url: http://ha.local:8123
  token: abc
  workday_entity: binary_sensor.my_workday
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, 52.37, cfg.Latitude)
	assert.True(t, cfg.HAEnabled())
	assert.Equal(t, "binary_sensor.my_workday", cfg.HomeAssistant.WorkdayEntity)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Amsterdam", loc.String())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HASCHED_LISTEN", ":7001")
	t.Setenv("HA_URL", "http://override:8123")
	t.Setenv("HA_TOKEN", "env-token")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7001", cfg.Listen)
	assert.Equal(t, "http://override:8123", cfg.HomeAssistant.URL)
	assert.Equal(t, "env-token", cfg.HomeAssistant.Token)
}

func TestSupervisorModeImpliesURL(t *testing.T) {
	t.Setenv("SUPERVISOR_TOKEN", "supervisor-token")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://supervisor/core", cfg.HomeAssistant.URL)
}

func TestValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timezone: Mars/Olympus\n"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid timezone")

	require.NoError(t, os.WriteFile(path, []byte("latitude: 120\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "latitude")
}
