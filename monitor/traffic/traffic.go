// Package traffic polls the Google Directions API for live travel times on
// the commute routes crossing the intersection. The rush-hour mode stretches
// the main-road green when the average delay is high.
package traffic

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

// DefaultBaseURL is the Directions endpoint
const DefaultBaseURL = "https://maps.googleapis.com/maps/api/directions/json"

// Route is one monitored origin/destination pair
type Route struct {
	Name        string `yaml:"name"`
	Origin      string `yaml:"origin"`
	Destination string `yaml:"destination"`
}

// Config holds the traffic monitor configuration. APIKey comes from the
// GOOGLE_MAPS_API_KEY environment variable; the monitor is disabled without
// it or without routes.
type Config struct {
	APIKey  string
	Routes  []Route
	BaseURL string
}

// Source polls the Directions API
type Source struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewSource creates a traffic source
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
		logger: logger.With("component", "traffic-source"),
		now:    time.Now,
	}
}

// Name returns the well-known monitor name
func (s *Source) Name() string { return monitor.NameTraffic }

// Enabled reports whether an API key and at least one route are configured
func (s *Source) Enabled() bool {
	return s.cfg.APIKey != "" && len(s.cfg.Routes) > 0
}

// directions mirrors the slice of the Directions payload the monitor reads
type directions struct {
	Status string `json:"status"`
	Routes []struct {
		Legs []struct {
			Duration struct {
				Value int `json:"value"`
			} `json:"duration"`
			DurationInTraffic struct {
				Value int    `json:"value"`
				Text  string `json:"text"`
			} `json:"duration_in_traffic"`
		} `json:"legs"`
	} `json:"routes"`
}

// Poll fetches all monitored routes and averages their delay over the
// free-flow travel time. Routes that fail individually are skipped; the poll
// fails only when no route answered.
func (s *Source) Poll(ctx context.Context) (monitor.Snapshot, error) {
	var (
		totalDelay float64
		sampled    int
		commute    string
	)
	for _, route := range s.cfg.Routes {
		delay, text, err := s.fetchRoute(ctx, route)
		if err != nil {
			s.logger.Warn("route poll failed", "route", route.Name, "error", err)
			continue
		}
		totalDelay += delay
		sampled++
		if commute == "" {
			commute = text
		}
	}
	if sampled == 0 {
		return monitor.Snapshot{}, errors.WrapTransient(
			errors.ErrMonitorUnavailable, "traffic-source", "Poll", "all routes")
	}

	return monitor.Snapshot{
		Monitor: monitor.NameTraffic,
		Taken:   s.now(),
		Valid:   true,
		Traffic: &monitor.TrafficConditions{
			AvgDelayPercent: totalDelay / float64(sampled),
			CommuteDuration: commute,
		},
	}, nil
}

// fetchRoute returns the delay percentage and live duration text for one route
func (s *Source) fetchRoute(ctx context.Context, route Route) (float64, string, error) {
	query := url.Values{}
	query.Set("origin", route.Origin)
	query.Set("destination", route.Destination)
	query.Set("departure_time", "now")
	query.Set("key", s.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.cfg.BaseURL+"?"+query.Encode(), nil)
	if err != nil {
		return 0, "", errors.Wrap(err, "traffic-source", "fetchRoute", "request build")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", errors.WrapTransient(err, "traffic-source", "fetchRoute", "directions fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, "", errors.WrapTransient(
			fmt.Errorf("unexpected status %d", resp.StatusCode),
			"traffic-source", "fetchRoute", "directions fetch")
	}

	var body directions
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, "", errors.WrapInvalid(err, "traffic-source", "fetchRoute", "response parse")
	}
	if body.Status != "OK" || len(body.Routes) == 0 || len(body.Routes[0].Legs) == 0 {
		return 0, "", errors.WrapInvalid(
			fmt.Errorf("directions status %q", body.Status),
			"traffic-source", "fetchRoute", "response parse")
	}

	leg := body.Routes[0].Legs[0]
	if leg.Duration.Value <= 0 {
		return 0, "", errors.WrapInvalid(
			fmt.Errorf("non-positive free-flow duration"),
			"traffic-source", "fetchRoute", "response parse")
	}
	live := leg.DurationInTraffic.Value
	if live == 0 {
		live = leg.Duration.Value
	}
	delay := 100 * float64(live-leg.Duration.Value) / float64(leg.Duration.Value)
	if delay < 0 {
		delay = 0
	}
	return delay, leg.DurationInTraffic.Text, nil
}
