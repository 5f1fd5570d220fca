package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jefry5/energy-monitor-si/internal/errors"
	"github.com/jefry5/energy-monitor-si/internal/model"
	"github.com/jefry5/energy-monitor-si/internal/simmode"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultInterval       = 30
	defaultQoS            = 1
	defaultPublishTimeout = 5000
	defaultCurveWidth     = 3.0
	defaultAlpha          = 0.3
	defaultDayStart       = 6
	defaultNightStart     = 22
	defaultDBPath         = "/var/lib/energysim/energysim.db"
)

// Config is the full configuration surface, read once at startup.
type Config struct {
	Interval       int     `mapstructure:"interval"`
	Mode           string  `mapstructure:"mode"`
	AnomalyArea    string  `mapstructure:"anomaly_area"`
	Broker         string  `mapstructure:"broker"`
	Username       string  `mapstructure:"username"`
	Password       string  `mapstructure:"password"`
	TopicPrefix    string  `mapstructure:"topic_prefix"`
	BuildingID     string  `mapstructure:"building_id"`
	QoS            int     `mapstructure:"qos"`
	PublishTimeout int     `mapstructure:"publish_timeout"` // milliseconds
	Seed           int64   `mapstructure:"seed"`
	CurveWidth     float64 `mapstructure:"curve_width_hours"`
	SmoothingAlpha float64 `mapstructure:"smoothing_alpha"`
	DayStartHour   int     `mapstructure:"day_start_hour"`
	NightStartHour int     `mapstructure:"night_start_hour"`
	Database       string  `mapstructure:"database"`
	LogLevel       string  `mapstructure:"log_level"`

	Areas map[string]model.AreaProfile `mapstructure:"areas"`
}

// DefaultAreas returns the stock 10-area profile table of the monitored
// building. Deployments override it wholesale via the config file.
func DefaultAreas() map[string]model.AreaProfile {
	return map[string]model.AreaProfile{
		"laboratorio_computo": {DayKWh: 8.5, NightKWh: 1.2, StdPct: 0.08, PeakHour: 14, PeakFactor: 1.30, Devices: 40, Floor: 2},
		"aulas_teoricas":      {DayKWh: 3.2, NightKWh: 0.4, StdPct: 0.12, PeakHour: 10, PeakFactor: 1.15, Devices: 12, Floor: 1},
		"biblioteca":          {DayKWh: 4.8, NightKWh: 0.8, StdPct: 0.07, PeakHour: 11, PeakFactor: 1.10, Devices: 20, Floor: 3},
		"cafeteria":           {DayKWh: 6.1, NightKWh: 1.5, StdPct: 0.15, PeakHour: 12, PeakFactor: 1.45, Devices: 15, Floor: 1},
		"oficinas_admin":      {DayKWh: 3.9, NightKWh: 0.3, StdPct: 0.09, PeakHour: 9, PeakFactor: 1.20, Devices: 18, Floor: 4},
		"sala_servidores":     {DayKWh: 12.0, NightKWh: 11.5, StdPct: 0.03, PeakHour: 15, PeakFactor: 1.05, Devices: 8, Floor: 2},
		"estacionamiento":     {DayKWh: 1.2, NightKWh: 0.6, StdPct: 0.20, PeakHour: 8, PeakFactor: 1.10, Devices: 30, Floor: 0},
		"auditorio":           {DayKWh: 5.5, NightKWh: 0.2, StdPct: 0.25, PeakHour: 16, PeakFactor: 1.60, Devices: 6, Floor: 1},
		"gimnasio":            {DayKWh: 4.2, NightKWh: 0.5, StdPct: 0.18, PeakHour: 17, PeakFactor: 1.35, Devices: 10, Floor: 1},
		"laboratorio_quimica": {DayKWh: 7.8, NightKWh: 2.1, StdPct: 0.10, PeakHour: 13, PeakFactor: 1.25, Devices: 22, Floor: 3},
	}
}

// Load reads configuration from file (ENERGYSIM_CONFIG or /etc), environment
// and command line flags, in increasing order of precedence.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("interval", defaultInterval)
	v.SetDefault("mode", string(simmode.ModeNormal))
	v.SetDefault("anomaly_area", "auditorio")
	v.SetDefault("broker", "tcp://localhost:1883")
	v.SetDefault("topic_prefix", "building")
	v.SetDefault("building_id", "main_building")
	v.SetDefault("qos", defaultQoS)
	v.SetDefault("publish_timeout", defaultPublishTimeout)
	v.SetDefault("seed", 1)
	v.SetDefault("curve_width_hours", defaultCurveWidth)
	v.SetDefault("smoothing_alpha", defaultAlpha)
	v.SetDefault("day_start_hour", defaultDayStart)
	v.SetDefault("night_start_hour", defaultNightStart)
	v.SetDefault("database", defaultDBPath)
	v.SetDefault("log_level", DefaultLogLevel)

	v.SetEnvPrefix("ENERGYSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("ENERGYSIM_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName("energysim")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errors.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	applyFlags(v)

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, err)
	}

	// The stock table applies only when the key is absent; an explicitly
	// emptied [areas] table must fail validation, not silently revert.
	if !v.IsSet("areas") {
		config.Areas = DefaultAreas()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyFlags overrides file and env values with command line flags. Unknown
// flags (e.g. the test binary's own) abort parsing without failing the load.
func applyFlags(v *viper.Viper) {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.String("log-level", "", "Log level (debug, info, warn, error)")
	fs.String("mode", "", "Active simulation mode")
	fs.String("broker", "", "MQTT broker URL")
	fs.Int("interval", 0, "Cycle interval in seconds")

	_ = fs.Parse(os.Args[1:])

	fs.Visit(func(f *flag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		v.Set(key, f.Value.String())
	})
}

// Validate checks the loaded configuration. Any failure here is fatal at
// startup: the engine must not begin cycling on a bad surface.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return errors.WithMessage(errors.ErrInvalidConfig, fmt.Sprintf("invalid interval: %d", c.Interval))
	}

	if _, err := simmode.ParseMode(c.Mode); err != nil {
		return err
	}

	if c.QoS < 0 || c.QoS > 2 {
		return errors.WithMessage(errors.ErrInvalidConfig, fmt.Sprintf("invalid qos: %d", c.QoS))
	}

	if c.PublishTimeout <= 0 {
		return errors.WithMessage(errors.ErrInvalidConfig, fmt.Sprintf("invalid publish_timeout: %d", c.PublishTimeout))
	}

	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		return errors.WithMessage(errors.ErrInvalidConfig, fmt.Sprintf("invalid smoothing_alpha: %g", c.SmoothingAlpha))
	}

	if c.CurveWidth <= 0 {
		return errors.WithMessage(errors.ErrInvalidConfig, fmt.Sprintf("invalid curve_width_hours: %g", c.CurveWidth))
	}

	// The daytime window [day, night) must be a forward range; an inverted
	// window would classify every hour as night.
	if !validHour(c.DayStartHour) || !validHour(c.NightStartHour) || c.DayStartHour >= c.NightStartHour {
		return errors.WithMessage(errors.ErrInvalidConfig,
			fmt.Sprintf("invalid daytime window: %d-%d", c.DayStartHour, c.NightStartHour))
	}

	if len(c.Areas) == 0 {
		return errors.WithMessage(errors.ErrInvalidConfig, "empty area table")
	}

	for name, profile := range c.Areas {
		if !validHour(profile.PeakHour) {
			return errors.WithData(errors.ErrInvalidConfig, struct {
				Area     string
				PeakHour int
			}{name, profile.PeakHour})
		}
		if profile.DayKWh < 0 || profile.NightKWh < 0 {
			return errors.WithMessage(errors.ErrInvalidConfig, fmt.Sprintf("negative base kWh for area %q", name))
		}
	}

	if _, ok := c.Areas[c.AnomalyArea]; !ok {
		return errors.WithMessage(errors.ErrInvalidConfig, fmt.Sprintf("unknown anomaly area: %q", c.AnomalyArea))
	}

	return nil
}

func validHour(h int) bool {
	return h >= 0 && h <= 23
}
