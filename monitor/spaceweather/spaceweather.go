// Package spaceweather polls the NOAA planetary K-index feed. A geomagnetic
// storm (Kp >= 5) puts the signal into the storm-watch mode, which shortens
// cycles in case the grid or the upstream controllers act up.
package spaceweather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tiagofranzen/pi-traffic-light/errors"
	"github.com/tiagofranzen/pi-traffic-light/monitor"
)

// DefaultURL is the NOAA planetary K-index product feed
const DefaultURL = "https://services.swpc.noaa.gov/products/noaa-planetary-k-index.json"

// Kp index bands as reported by NOAA
const (
	kpActive = 4
	kpStorm  = 5
)

// Config holds the space weather monitor configuration. The feed is public,
// so the monitor is always enabled.
type Config struct {
	URL string
}

// Source polls the NOAA K-index feed
type Source struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewSource creates a space weather source
func NewSource(cfg Config, logger *slog.Logger) *Source {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger.With("component", "spaceweather-source"),
		now:    time.Now,
	}
}

// Name returns the well-known monitor name
func (s *Source) Name() string { return monitor.NameSpaceWeather }

// Enabled always reports true; the feed needs no credentials
func (s *Source) Enabled() bool { return true }

// Poll fetches the K-index feed. The product is a JSON array of string rows
// with a header row first; the Kp value is the second column of the last row.
func (s *Source) Poll(ctx context.Context) (monitor.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return monitor.Snapshot{}, errors.Wrap(err, "spaceweather-source", "Poll", "request build")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return monitor.Snapshot{}, errors.WrapTransient(err, "spaceweather-source", "Poll", "feed fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return monitor.Snapshot{}, errors.WrapTransient(
			fmt.Errorf("unexpected status %d", resp.StatusCode),
			"spaceweather-source", "Poll", "feed fetch")
	}

	var rows [][]string
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return monitor.Snapshot{}, errors.WrapInvalid(err, "spaceweather-source", "Poll", "feed parse")
	}
	if len(rows) < 2 || len(rows[len(rows)-1]) < 2 {
		return monitor.Snapshot{}, errors.WrapInvalid(
			fmt.Errorf("feed has no data rows"),
			"spaceweather-source", "Poll", "feed parse")
	}

	latest := rows[len(rows)-1]
	kp, err := strconv.ParseFloat(latest[1], 64)
	if err != nil {
		return monitor.Snapshot{}, errors.WrapInvalid(err, "spaceweather-source", "Poll", "kp parse")
	}

	index := int(kp)
	condition := "quiet"
	switch {
	case index >= kpStorm:
		condition = "storm"
	case index >= kpActive:
		condition = "active"
	}

	return monitor.Snapshot{
		Monitor: monitor.NameSpaceWeather,
		Taken:   s.now(),
		Valid:   true,
		SpaceWeather: &monitor.SpaceWeatherConditions{
			KpIndex:   index,
			Condition: condition,
		},
	}, nil
}
