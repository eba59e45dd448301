// Package transit polls the Deutsche Bahn timetable API for the next inbound
// S-Bahn departure at the station adjacent to the intersection. The transit
// priority mode extends green for the station approach when a train is due.
package transit

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/tiagofranzen/pi-traffic-light/errors"
	"github.com/tiagofranzen/pi-traffic-light/monitor"
)

// DefaultBaseURL is the DB timetables plan endpoint
const DefaultBaseURL = "https://apis.deutschebahn.com/db-api-marketplace/apis/timetables/v1/plan"

// departureLayout is the timetable timestamp format (yymmddHHMM)
const departureLayout = "0601021504"

// Config holds the transit monitor configuration. ClientID and ClientSecret
// come from the DB_CLIENT_ID / DB_CLIENT_SECRET environment variables; the
// monitor is disabled when either is missing.
type Config struct {
	ClientID     string
	ClientSecret string
	StationEVA   string // EVA number of the monitored station
	BaseURL      string
	// OutboundDestinations filters trains leaving the city; only inbound
	// departures matter for the signal.
	OutboundDestinations []string
}

// Source polls the DB timetable API
type Source struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewSource creates a transit source. The per-request deadline comes from the
// polling context, so the HTTP client carries no timeout of its own.
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
		logger: logger.With("component", "transit-source"),
		now:    time.Now,
	}
}

// Name returns the well-known monitor name
func (s *Source) Name() string { return monitor.NameTransit }

// Enabled reports whether both DB credentials are present
func (s *Source) Enabled() bool {
	return s.cfg.ClientID != "" && s.cfg.ClientSecret != ""
}

// timetable mirrors the relevant slice of the DB plan response
type timetable struct {
	XMLName xml.Name `xml:"timetable"`
	Stops   []stop   `xml:"s"`
}

type stop struct {
	Departure *departure `xml:"dp"`
}

type departure struct {
	Time time.Time
	Path string
}

// UnmarshalXML decodes the pt/ppth attributes of a departure element
func (d *departure) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	var raw struct {
		PlannedTime string `xml:"pt,attr"`
		Path        string `xml:"ppth,attr"`
	}
	if err := dec.DecodeElement(&raw, &start); err != nil {
		return err
	}
	if raw.PlannedTime != "" {
		parsed, err := time.ParseInLocation(departureLayout, raw.PlannedTime, time.Local)
		if err != nil {
			return fmt.Errorf("departure time %q: %w", raw.PlannedTime, err)
		}
		d.Time = parsed
	}
	d.Path = raw.Path
	return nil
}

// Poll fetches the plan for the current and the next hour and returns the
// minutes until the next inbound departure. NextInboundMinutes is -1 when no
// inbound train is planned within the window.
func (s *Source) Poll(ctx context.Context) (monitor.Snapshot, error) {
	now := s.now()

	var stops []stop
	for i := 0; i < 2; i++ {
		window := now.Add(time.Duration(i) * time.Hour)
		plan, err := s.fetchPlan(ctx, window)
		if err != nil {
			return monitor.Snapshot{}, err
		}
		stops = append(stops, plan...)
	}

	best := -1
	for _, st := range stops {
		dp := st.Departure
		if dp == nil || dp.Time.IsZero() || dp.Path == "" {
			continue
		}
		segments := strings.Split(dp.Path, "|")
		destination := segments[len(segments)-1]
		if slices.Contains(s.cfg.OutboundDestinations, destination) {
			continue
		}
		if dp.Time.Before(now) {
			continue
		}
		minutes := int(dp.Time.Sub(now).Minutes())
		if best < 0 || minutes < best {
			best = minutes
		}
	}

	return monitor.Snapshot{
		Monitor: monitor.NameTransit,
		Taken:   now,
		Valid:   true,
		Transit: &monitor.TransitConditions{NextInboundMinutes: best},
	}, nil
}

// fetchPlan retrieves one hourly plan slice
func (s *Source) fetchPlan(ctx context.Context, window time.Time) ([]stop, error) {
	url := fmt.Sprintf("%s/%s/%s/%s",
		s.cfg.BaseURL, s.cfg.StationEVA, window.Format("060102"), window.Format("15"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "transit-source", "fetchPlan", "request build")
	}
	req.Header.Set("DB-Client-Id", s.cfg.ClientID)
	req.Header.Set("DB-Api-Key", s.cfg.ClientSecret)
	req.Header.Set("accept", "application/xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "transit-source", "fetchPlan", "timetable fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.WrapTransient(
			fmt.Errorf("unexpected status %d", resp.StatusCode),
			"transit-source", "fetchPlan", "timetable fetch")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapTransient(err, "transit-source", "fetchPlan", "response read")
	}
	if len(body) == 0 {
		// The API answers empty bodies for hours without planned stops.
		return nil, nil
	}

	var plan timetable
	if err := xml.Unmarshal(body, &plan); err != nil {
		return nil, errors.WrapInvalid(err, "transit-source", "fetchPlan", "timetable parse")
	}
	return plan.Stops, nil
}
