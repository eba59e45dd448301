package monitor

import (
	"time"
)

// Well-known monitor names. Mode predicates look up snapshots by these.
const (
	NameTransit      = "transit"
	NameWeather      = "weather"
	NameTraffic      = "traffic"
	NameSpaceWeather = "spaceweather"
)

// TransitConditions describes the next inbound train at the adjacent station.
// NextInboundMinutes is -1 when no inbound departure is planned within the
// polled window.
type TransitConditions struct {
	NextInboundMinutes int `json:"next_inbound_minutes"`
}

// WeatherConditions describes local weather relevant to signal timing.
type WeatherConditions struct {
	TempCelsius   float64 `json:"temp_celsius"`
	Condition     string  `json:"condition"`
	Precipitation bool    `json:"precipitation"`
}

// TrafficConditions describes road congestion on the monitored routes.
type TrafficConditions struct {
	AvgDelayPercent float64 `json:"avg_delay_percent"`
	CommuteDuration string  `json:"commute_duration,omitempty"`
}

// SpaceWeatherConditions describes geomagnetic activity (planetary K-index).
type SpaceWeatherConditions struct {
	KpIndex   int    `json:"kp_index"`
	Condition string `json:"condition"`
}

// Snapshot is one published observation from a monitor. Invalid snapshots
// mean the monitor is currently Unavailable; exactly one of the condition
// pointers is set on valid snapshots.
type Snapshot struct {
	Monitor string    `json:"monitor"`
	Taken   time.Time `json:"taken"`
	Valid   bool      `json:"valid"`

	Transit      *TransitConditions      `json:"transit,omitempty"`
	Weather      *WeatherConditions      `json:"weather,omitempty"`
	Traffic      *TrafficConditions      `json:"traffic,omitempty"`
	SpaceWeather *SpaceWeatherConditions `json:"spaceweather,omitempty"`
}

// Unavailable returns an invalid snapshot for a monitor
func Unavailable(name string, now time.Time) Snapshot {
	return Snapshot{Monitor: name, Taken: now, Valid: false}
}

// Stale reports whether the snapshot is too old to feed mode selection.
// Invalid snapshots are always stale.
func (s Snapshot) Stale(now time.Time, maxAge time.Duration) bool {
	if !s.Valid {
		return true
	}
	if maxAge <= 0 {
		return false
	}
	return now.Sub(s.Taken) > maxAge
}

// Set is the controller-facing read view over fresh snapshots. Stale and
// unavailable monitors are absent from the set, so mode predicates degrade
// gracefully by simply not matching.
type Set struct {
	snapshots map[string]Snapshot
}

// NewSet builds a set from fresh snapshots, keyed by monitor name
func NewSet(snapshots map[string]Snapshot) Set {
	copied := make(map[string]Snapshot, len(snapshots))
	for name, s := range snapshots {
		copied[name] = s
	}
	return Set{snapshots: copied}
}

// Get returns the snapshot for a monitor, if fresh
func (s Set) Get(name string) (Snapshot, bool) {
	snap, ok := s.snapshots[name]
	return snap, ok
}

// Len returns the number of fresh snapshots in the set
func (s Set) Len() int {
	return len(s.snapshots)
}

// Transit returns fresh transit conditions, if any
func (s Set) Transit() (TransitConditions, bool) {
	if snap, ok := s.snapshots[NameTransit]; ok && snap.Transit != nil {
		return *snap.Transit, true
	}
	return TransitConditions{}, false
}

// Weather returns fresh weather conditions, if any
func (s Set) Weather() (WeatherConditions, bool) {
	if snap, ok := s.snapshots[NameWeather]; ok && snap.Weather != nil {
		return *snap.Weather, true
	}
	return WeatherConditions{}, false
}

// Traffic returns fresh road traffic conditions, if any
func (s Set) Traffic() (TrafficConditions, bool) {
	if snap, ok := s.snapshots[NameTraffic]; ok && snap.Traffic != nil {
		return *snap.Traffic, true
	}
	return TrafficConditions{}, false
}

// SpaceWeather returns fresh geomagnetic conditions, if any
func (s Set) SpaceWeather() (SpaceWeatherConditions, bool) {
	if snap, ok := s.snapshots[NameSpaceWeather]; ok && snap.SpaceWeather != nil {
		return *snap.SpaceWeather, true
	}
	return SpaceWeatherConditions{}, false
}
