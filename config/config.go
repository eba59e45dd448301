// Package config loads the daemon configuration: defaults mirroring the
// deployed intersection, an optional YAML file on top, and API credentials
// from the environment so they never live in the file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tiagofranzen/pi-traffic-light/controller"
	"github.com/tiagofranzen/pi-traffic-light/errors"
	"github.com/tiagofranzen/pi-traffic-light/events"
	"github.com/tiagofranzen/pi-traffic-light/hardware"
	"github.com/tiagofranzen/pi-traffic-light/monitor/traffic"
	"github.com/tiagofranzen/pi-traffic-light/phase"
	"github.com/tiagofranzen/pi-traffic-light/web"
)

// Environment variables carrying API credentials
const (
	EnvDBClientID       = "DB_CLIENT_ID"
	EnvDBClientSecret   = "DB_CLIENT_SECRET"
	EnvOWMAPIKey        = "OWM_API_KEY"
	EnvGoogleMapsAPIKey = "GOOGLE_MAPS_API_KEY"
	EnvNATSURL          = "NATS_URL"
)

// TimingConfig is the YAML shape of the safety timing
type TimingConfig struct {
	Yellow    time.Duration `yaml:"yellow"`
	RedYellow time.Duration `yaml:"red_yellow"`
	MinGreen  time.Duration `yaml:"min_green"`
	Clearance time.Duration `yaml:"clearance"`
}

// Timing converts to the phase package's timing
func (t TimingConfig) Timing() phase.Timing {
	return phase.Timing{
		Yellow:    t.Yellow,
		RedYellow: t.RedYellow,
		MinGreen:  t.MinGreen,
		Clearance: t.Clearance,
	}
}

// Schedule holds the polling cadence of one monitor
type Schedule struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// TransitConfig configures the transit monitor
type TransitConfig struct {
	Schedule             Schedule `yaml:",inline"`
	StationEVA           string   `yaml:"station_eva"`
	OutboundDestinations []string `yaml:"outbound_destinations"`
}

// WeatherConfig configures the weather monitor
type WeatherConfig struct {
	Schedule  Schedule `yaml:",inline"`
	Latitude  float64  `yaml:"latitude"`
	Longitude float64  `yaml:"longitude"`
}

// TrafficConfig configures the road traffic monitor
type TrafficConfig struct {
	Schedule Schedule        `yaml:",inline"`
	Routes   []traffic.Route `yaml:"routes"`
}

// SpaceWeatherConfig configures the space weather monitor
type SpaceWeatherConfig struct {
	Schedule Schedule `yaml:",inline"`
	URL      string   `yaml:"url"`
}

// MonitorsConfig groups the monitor configurations
type MonitorsConfig struct {
	Transit      TransitConfig      `yaml:"transit"`
	Weather      WeatherConfig      `yaml:"weather"`
	Traffic      TrafficConfig      `yaml:"traffic"`
	SpaceWeather SpaceWeatherConfig `yaml:"spaceweather"`
}

// LogConfig configures the structured logger
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Config is the whole daemon configuration
type Config struct {
	Timing     TimingConfig      `yaml:"timing"`
	Controller controller.Config `yaml:"controller"`
	Hardware   hardware.Config   `yaml:"hardware"`
	Monitors   MonitorsConfig    `yaml:"monitors"`
	Web        web.Config        `yaml:"web"`
	NATS       events.NATSConfig `yaml:"nats"`
	Log        LogConfig         `yaml:"log"`
}

// Credentials are the API secrets, loaded from the environment only
type Credentials struct {
	DBClientID       string
	DBClientSecret   string
	OWMAPIKey        string
	GoogleMapsAPIKey string
	NATSURL          string
}

// CredentialsFromEnv reads the credential environment variables
func CredentialsFromEnv() Credentials {
	return Credentials{
		DBClientID:       os.Getenv(EnvDBClientID),
		DBClientSecret:   os.Getenv(EnvDBClientSecret),
		OWMAPIKey:        os.Getenv(EnvOWMAPIKey),
		GoogleMapsAPIKey: os.Getenv(EnvGoogleMapsAPIKey),
		NATSURL:          os.Getenv(EnvNATSURL),
	}
}

// Default returns the deployed intersection's configuration. API polling
// intervals are deliberately slow: the external services rate-limit free
// tiers, and conditions change on the scale of minutes anyway.
func Default() Config {
	return Config{
		Timing: TimingConfig{
			Yellow:    3 * time.Second,
			RedYellow: 2 * time.Second,
			MinGreen:  5 * time.Second,
			Clearance: 2 * time.Second,
		},
		Controller: controller.DefaultConfig(),
		Hardware:   hardware.DefaultConfig(),
		Monitors: MonitorsConfig{
			Transit: TransitConfig{
				Schedule: Schedule{
					Interval: 30 * time.Second,
					Timeout:  15 * time.Second,
					MaxAge:   2 * time.Minute,
				},
			},
			Weather: WeatherConfig{
				Schedule: Schedule{
					Interval: 15 * time.Minute,
					Timeout:  15 * time.Second,
					MaxAge:   45 * time.Minute,
				},
			},
			Traffic: TrafficConfig{
				Schedule: Schedule{
					Interval: 10 * time.Minute,
					Timeout:  15 * time.Second,
					MaxAge:   30 * time.Minute,
				},
			},
			SpaceWeather: SpaceWeatherConfig{
				Schedule: Schedule{
					Interval: 15 * time.Minute,
					Timeout:  15 * time.Second,
					MaxAge:   45 * time.Minute,
				},
			},
		},
		Web:  web.DefaultConfig(),
		NATS: events.DefaultNATSConfig(),
		Log:  LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults and an optional YAML file.
// Unknown YAML keys are rejected so a typo cannot silently fall back to a
// default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.WrapInvalid(err, "config", "Load", "config file read")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, errors.WrapInvalid(
			fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"config", "Load", "config file parse")
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration for sanity
func (c Config) Validate() error {
	if err := c.Timing.Timing().Validate(); err != nil {
		return err
	}
	if err := c.Controller.Validate(); err != nil {
		return err
	}
	for name, s := range map[string]Schedule{
		"transit":      c.Monitors.Transit.Schedule,
		"weather":      c.Monitors.Weather.Schedule,
		"traffic":      c.Monitors.Traffic.Schedule,
		"spaceweather": c.Monitors.SpaceWeather.Schedule,
	} {
		if s.Interval <= 0 || s.Timeout <= 0 {
			return errors.WrapInvalid(
				fmt.Errorf("monitor %s: interval and timeout must be positive: %w",
					name, errors.ErrInvalidConfig),
				"Config", "Validate", "monitor schedule validation")
		}
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("log format %q: %w", c.Log.Format, errors.ErrInvalidConfig),
			"Config", "Validate", "log format validation")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("log level %q: %w", c.Log.Level, errors.ErrInvalidConfig),
			"Config", "Validate", "log level validation")
	}
	return nil
}
