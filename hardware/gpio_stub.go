//go:build !linux || !arm || disablegpio

package hardware

import (
	"github.com/tiagofranzen/pi-traffic-light/errors"
)

// NewGPIO fails on hosts without GPIO support. Use the mock driver there.
func NewGPIO(Config) (Driver, error) {
	return nil, errors.WrapFatal(errors.ErrHardwareUnsupported,
		"hardware.gpio", "NewGPIO", "host support check")
}
