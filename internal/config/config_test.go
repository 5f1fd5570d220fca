package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jefry5/energy-monitor-si/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "energysim.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("ENERGYSIM_CONFIG", path)
}

func TestLoadDefaults(t *testing.T) {
	writeConfig(t, "")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Interval)
	assert.Equal(t, "normal", cfg.Mode)
	assert.Equal(t, "auditorio", cfg.AnomalyArea)
	assert.Equal(t, "tcp://localhost:1883", cfg.Broker)
	assert.Equal(t, "building", cfg.TopicPrefix)
	assert.Equal(t, 1, cfg.QoS)
	assert.Equal(t, 3.0, cfg.CurveWidth)
	assert.Equal(t, 0.3, cfg.SmoothingAlpha)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Len(t, cfg.Areas, 10, "default area table has 10 areas")
}

func TestLoadFromFile(t *testing.T) {
	writeConfig(t, `
interval = 5
mode = "night_spike"
anomaly_area = "sala_servidores"
broker = "tcp://broker.local:1883"
qos = 2
smoothing_alpha = 0.5
curve_width_hours = 2.5
log_level = "debug"
`)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Interval)
	assert.Equal(t, "night_spike", cfg.Mode)
	assert.Equal(t, "sala_servidores", cfg.AnomalyArea)
	assert.Equal(t, "tcp://broker.local:1883", cfg.Broker)
	assert.Equal(t, 2, cfg.QoS)
	assert.Equal(t, 0.5, cfg.SmoothingAlpha)
	assert.Equal(t, 2.5, cfg.CurveWidth)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadCustomAreaTable(t *testing.T) {
	writeConfig(t, `
anomaly_area = "zona_norte"

[areas.zona_norte]
day_kwh = 4.0
night_kwh = 1.0
std_pct = 0.1
peak_hour = 12
peak_factor = 1.2
devices = 5
floor = 1

[areas.zona_sur]
day_kwh = 2.0
night_kwh = 0.5
std_pct = 0.2
peak_hour = 9
peak_factor = 1.1
devices = 3
floor = 2
`)

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Len(t, cfg.Areas, 2)
	assert.Equal(t, 4.0, cfg.Areas["zona_norte"].DayKWh)
	assert.Equal(t, 12, cfg.Areas["zona_norte"].PeakHour)
	assert.Equal(t, 2, cfg.Areas["zona_sur"].Floor)
}

func TestLoadInvalidFormat(t *testing.T) {
	writeConfig(t, "this is not a valid TOML file")

	_, err := config.Load()
	require.Error(t, err)
}

func TestUnknownModeFatal(t *testing.T) {
	writeConfig(t, `mode = "meltdown"`)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown simulation mode")
}

func TestUnknownAnomalyAreaFatal(t *testing.T) {
	writeConfig(t, `anomaly_area = "sotano"`)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown anomaly area")
}

func TestInvalidIntervalFatal(t *testing.T) {
	writeConfig(t, `interval = 0`)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid interval")
}

func TestInvalidQoSFatal(t *testing.T) {
	writeConfig(t, `qos = 3`)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid qos")
}

func TestInvalidAlphaFatal(t *testing.T) {
	writeConfig(t, `smoothing_alpha = 1.5`)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid smoothing_alpha")
}

func TestEmptyAreaTableFatal(t *testing.T) {
	writeConfig(t, `[areas]`)

	_, err := config.Load()
	require.Error(t, err, "an explicitly emptied area table must not revert to the defaults")
	assert.Contains(t, err.Error(), "empty area table")
}

func TestInvertedDaytimeWindowFatal(t *testing.T) {
	writeConfig(t, `
day_start_hour = 23
night_start_hour = 2
`)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid daytime window")
}

func TestInvalidPeakHourFatal(t *testing.T) {
	writeConfig(t, `
anomaly_area = "zona"

[areas.zona]
day_kwh = 1.0
night_kwh = 0.5
peak_hour = 25
`)

	_, err := config.Load()
	require.Error(t, err)
}

func TestFlagOverridesFile(t *testing.T) {
	writeConfig(t, `log_level = "error"`)

	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"energysim", "-log-level", "debug", "-interval", "7"}

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 7, cfg.Interval)
}
