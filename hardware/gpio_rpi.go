//go:build linux && arm && !disablegpio

package hardware

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/tiagofranzen/pi-traffic-light/errors"
	"github.com/tiagofranzen/pi-traffic-light/phase"
)

// gpioDriver drives the signal heads through periph.io. Pins are addressed
// by their BCM numbers.
type gpioDriver struct {
	cfg  Config
	pins map[int]gpio.PinIO
}

// NewGPIO initializes the periph host and claims every configured pin.
// host.Init is safe to call more than once.
func NewGPIO(cfg Config) (Driver, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.WrapFatal(err, "hardware.gpio", "NewGPIO", "host init")
	}

	d := &gpioDriver{cfg: cfg, pins: make(map[int]gpio.PinIO)}
	for _, set := range []PinSet{cfg.NorthSouth, cfg.EastWest} {
		for _, number := range []int{set.Red, set.Yellow, set.Green} {
			if _, claimed := d.pins[number]; claimed {
				return nil, errors.WrapInvalid(
					fmt.Errorf("pin %d wired twice", number),
					"hardware.gpio", "NewGPIO", "pin layout validation")
			}
			p := gpioreg.ByName(fmt.Sprintf("GPIO%d", number))
			if p == nil {
				return nil, errors.WrapFatal(
					fmt.Errorf("pin GPIO%d not found: %w", number, errors.ErrHardwareUnsupported),
					"hardware.gpio", "NewGPIO", "pin lookup")
			}
			d.pins[number] = p
		}
	}

	if err := d.AllOff(); err != nil {
		return nil, err
	}
	return d, nil
}

// level maps a lamp state to the electrical level of the wiring
func (d *gpioDriver) level(lit bool) gpio.Level {
	if d.cfg.ActiveLow {
		lit = !lit
	}
	return gpio.Level(lit)
}

// write drives one lamp pattern onto a pin set
func (d *gpioDriver) write(set PinSet, l Lamps) error {
	outputs := []struct {
		number int
		lit    bool
	}{
		{set.Red, l.Red},
		{set.Yellow, l.Yellow},
		{set.Green, l.Green},
	}
	for _, out := range outputs {
		if err := d.pins[out.number].Out(d.level(out.lit)); err != nil {
			return errors.WrapTransient(
				fmt.Errorf("pin GPIO%d: %w: %w", out.number, errors.ErrHardwareWrite, err),
				"hardware.gpio", "write", "lamp write")
		}
	}
	return nil
}

// Set lights the lamps of one approach for the given color
func (d *gpioDriver) Set(a phase.Approach, c phase.Color) error {
	return d.write(d.cfg.pins(a), LampsFor(c))
}

// AllOff darkens every lamp
func (d *gpioDriver) AllOff() error {
	for _, set := range []PinSet{d.cfg.NorthSouth, d.cfg.EastWest} {
		if err := d.write(set, Lamps{}); err != nil {
			return err
		}
	}
	return nil
}

// Close darkens the lamps and releases nothing else; periph pins need no
// explicit teardown.
func (d *gpioDriver) Close() error {
	return d.AllOff()
}
