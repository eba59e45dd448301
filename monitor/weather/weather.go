// Package weather polls OpenWeatherMap for current conditions at the
// intersection. Rain, snow, or frost switch the signal into a cautious mode
// with longer clearance times.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tiagofranzen/pi-traffic-light/errors"
	"github.com/tiagofranzen/pi-traffic-light/monitor"
)

// DefaultBaseURL is the OWM current-weather endpoint
const DefaultBaseURL = "https://api.openweathermap.org/data/2.5/weather"

// precipitating lists the OWM condition groups that wet the road
var precipitating = map[string]bool{
	"Rain":         true,
	"Snow":         true,
	"Drizzle":      true,
	"Thunderstorm": true,
}

// Config holds the weather monitor configuration. APIKey comes from the
// OWM_API_KEY environment variable; the monitor is disabled without it.
type Config struct {
	APIKey    string
	Latitude  float64
	Longitude float64
	BaseURL   string
}

// Source polls the OpenWeatherMap API
type Source struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewSource creates a weather source
func NewSource(cfg Config, logger *slog.Logger) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger.With("component", "weather-source"),
		now:    time.Now,
	}
}

// Name returns the well-known monitor name
func (s *Source) Name() string { return monitor.NameWeather }

// Enabled reports whether an API key is configured
func (s *Source) Enabled() bool { return s.cfg.APIKey != "" }

// response mirrors the slice of the OWM payload the monitor reads
type response struct {
	Weather []struct {
		Main string `json:"main"`
	} `json:"weather"`
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
}

// Poll fetches current conditions
func (s *Source) Poll(ctx context.Context) (monitor.Snapshot, error) {
	query := url.Values{}
	query.Set("lat", fmt.Sprintf("%g", s.cfg.Latitude))
	query.Set("lon", fmt.Sprintf("%g", s.cfg.Longitude))
	query.Set("appid", s.cfg.APIKey)
	query.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.cfg.BaseURL+"?"+query.Encode(), nil)
	if err != nil {
		return monitor.Snapshot{}, errors.Wrap(err, "weather-source", "Poll", "request build")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return monitor.Snapshot{}, errors.WrapTransient(err, "weather-source", "Poll", "weather fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return monitor.Snapshot{}, errors.WrapTransient(
			fmt.Errorf("unexpected status %d", resp.StatusCode),
			"weather-source", "Poll", "weather fetch")
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return monitor.Snapshot{}, errors.WrapInvalid(err, "weather-source", "Poll", "response parse")
	}
	if len(body.Weather) == 0 {
		return monitor.Snapshot{}, errors.WrapInvalid(
			fmt.Errorf("no weather condition in response"),
			"weather-source", "Poll", "response parse")
	}

	condition := body.Weather[0].Main
	return monitor.Snapshot{
		Monitor: monitor.NameWeather,
		Taken:   s.now(),
		Valid:   true,
		Weather: &monitor.WeatherConditions{
			TempCelsius:   body.Main.Temp,
			Condition:     condition,
			Precipitation: precipitating[condition],
		},
	}, nil
}
