package hardware

import (
	"sync"

	"github.com/tiagofranzen/pi-traffic-light/errors"
	"github.com/tiagofranzen/pi-traffic-light/phase"
)

// Mock is an in-memory Driver for tests and non-Pi hosts. It records the
// current color per approach and can inject write failures.
type Mock struct {
	mu     sync.Mutex
	colors map[phase.Approach]phase.Color
	closed bool

	// FailSet, when set, is returned from every Set call
	FailSet error
	sets    int
}

// NewMock creates a mock driver with every lamp off
func NewMock() *Mock {
	return &Mock{colors: make(map[phase.Approach]phase.Color)}
}

// Set records the color for an approach
func (m *Mock) Set(a phase.Approach, c phase.Color) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.FailSet != nil {
		return errors.WrapTransient(m.FailSet, "hardware.Mock", "Set", "lamp write")
	}
	m.colors[a] = c
	return nil
}

// AllOff darkens every approach
func (m *Mock) AllOff() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range phase.Approaches() {
		m.colors[a] = phase.Off
	}
	return nil
}

// Close marks the driver closed
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Color returns the last color written for an approach
func (m *Mock) Color(a phase.Approach) phase.Color {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.colors[a]
}

// Sets returns the number of Set calls seen
func (m *Mock) Sets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

// Closed reports whether Close was called
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
