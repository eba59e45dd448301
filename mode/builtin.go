package mode

import (
	"time"

	"github.com/tiagofranzen/pi-traffic-light/monitor"
	"github.com/tiagofranzen/pi-traffic-light/phase"
)

// Built-in mode names
const (
	Normal          = "normal"
	RushHour        = "rush-hour"
	TransitPriority = "transit-priority"
	StormWatch      = "storm-watch"
	WeatherCaution  = "weather-caution"
)

// Activation thresholds for the built-in modes
const (
	// transitWindowMinutes is how far ahead an inbound train triggers
	// transit priority.
	transitWindowMinutes = 12
	// rushHourDelayPercent is the average commute delay that counts as
	// rush hour.
	rushHourDelayPercent = 20.0
	// stormKpThreshold is the planetary K-index of a geomagnetic storm.
	stormKpThreshold = 5
	// frostTempCelsius is the road surface frost threshold.
	frostTempCelsius = 3.0
)

// Builtin returns the standard mode set for the intersection, from fallback
// to highest priority:
//
//	normal            balanced greens, always applies
//	rush-hour         main road extended while commute delay is high
//	transit-priority  station approach extended while a train is due
//	storm-watch       short cycles during geomagnetic storms
//	weather-caution   longer clearance in rain, snow, or frost
//
// The north/south approach is the main road; east/west serves the station.
func Builtin(t phase.Timing) []Mode {
	caution := t
	caution.Clearance = t.Clearance * 2

	return []Mode{
		{
			Name:     Normal,
			Priority: 0,
			Handler:  StaticHandler(phase.Split(Normal, 20*time.Second, 20*time.Second, t)),
		},
		{
			Name:     RushHour,
			Priority: 10,
			Applies: func(set monitor.Set) bool {
				traffic, ok := set.Traffic()
				return ok && traffic.AvgDelayPercent > rushHourDelayPercent
			},
			Handler: StaticHandler(phase.Split(RushHour, 30*time.Second, 15*time.Second, t)),
		},
		{
			Name:     TransitPriority,
			Priority: 20,
			Applies: func(set monitor.Set) bool {
				transit, ok := set.Transit()
				return ok && transit.NextInboundMinutes >= 0 &&
					transit.NextInboundMinutes <= transitWindowMinutes
			},
			Handler: StaticHandler(phase.Split(TransitPriority, 15*time.Second, 30*time.Second, t)),
		},
		{
			Name:     StormWatch,
			Priority: 30,
			Applies: func(set monitor.Set) bool {
				space, ok := set.SpaceWeather()
				return ok && space.KpIndex >= stormKpThreshold
			},
			Handler: StaticHandler(phase.Split(StormWatch, 12*time.Second, 12*time.Second, t)),
		},
		{
			Name:     WeatherCaution,
			Priority: 40,
			Applies: func(set monitor.Set) bool {
				weather, ok := set.Weather()
				return ok && (weather.Precipitation || weather.TempCelsius < frostTempCelsius)
			},
			Handler: StaticHandler(phase.Split(WeatherCaution, 20*time.Second, 20*time.Second, caution)),
		},
	}
}

// NewBuiltinRegistry creates a registry preloaded with the standard modes
func NewBuiltinRegistry(t phase.Timing) (*Registry, error) {
	reg, err := NewRegistry(t)
	if err != nil {
		return nil, err
	}
	for _, m := range Builtin(t) {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
