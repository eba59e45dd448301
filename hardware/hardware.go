// Package hardware drives the signal heads. The controller talks to a Driver
// and never to pins directly, so tests and non-Pi hosts swap in the mock.
package hardware

import (
	"github.com/tiagofranzen/pi-traffic-light/phase"
)

// Driver sets lamp states for one intersection. Implementations must be safe
// for use from a single goroutine; the controller serializes all writes.
type Driver interface {
	// Set lights the lamps of one approach for the given color.
	// Red+yellow lights both the red and the yellow lamp.
	Set(a phase.Approach, c phase.Color) error
	// AllOff darkens every lamp
	AllOff() error
	Close() error
}

// Lamps is the lamp pattern of one signal head
type Lamps struct {
	Red    bool
	Yellow bool
	Green  bool
}

// LampsFor maps a color to its lamp pattern
func LampsFor(c phase.Color) Lamps {
	switch c {
	case phase.Red:
		return Lamps{Red: true}
	case phase.RedYellow:
		return Lamps{Red: true, Yellow: true}
	case phase.Yellow:
		return Lamps{Yellow: true}
	case phase.Green:
		return Lamps{Green: true}
	default:
		return Lamps{}
	}
}

// PinSet names the BCM pins of one signal head
type PinSet struct {
	Red    int `yaml:"red"`
	Yellow int `yaml:"yellow"`
	Green  int `yaml:"green"`
}

// Config holds the pin layout. The deployed head wires the relays active-low:
// driving a pin low lights the lamp.
type Config struct {
	NorthSouth PinSet `yaml:"north_south"`
	EastWest   PinSet `yaml:"east_west"`
	ActiveLow  bool   `yaml:"active_low"`
}

// DefaultConfig mirrors the deployed wiring: red 22, yellow 27, green 17 on
// the north-south head, active-low relays.
func DefaultConfig() Config {
	return Config{
		NorthSouth: PinSet{Red: 22, Yellow: 27, Green: 17},
		EastWest:   PinSet{Red: 23, Yellow: 24, Green: 25},
		ActiveLow:  true,
	}
}

// pins returns the pin set for an approach
func (c Config) pins(a phase.Approach) PinSet {
	if a == phase.EastWest {
		return c.EastWest
	}
	return c.NorthSouth
}
