package phase

import (
	"fmt"
	"time"

	"github.com/tiagofranzen/pi-traffic-light/errors"
)

// Transition records one observed color change on an approach.
type Transition struct {
	Approach Approach  `json:"approach"`
	From     Color     `json:"from"`
	To       Color     `json:"to"`
	At       time.Time `json:"at"`
}

// State is a read-only snapshot of the machine for status reporting.
type State struct {
	Colors      map[Approach]Color     `json:"colors"`
	Entered     map[Approach]time.Time `json:"entered"`
	AllRed      bool                   `json:"all_red"`
	Plan        string                 `json:"plan,omitempty"`
	PendingPlan string                 `json:"pending_plan,omitempty"`
}

// Machine owns the canonical signal state. It is created ALL_RED and stays
// there until a plan is applied. The machine is not safe for concurrent use:
// exactly one goroutine (the controller) may call Advance, ApplyPlan and
// ForceAllRed. Read-only snapshots for other goroutines are the controller's
// responsibility.
type Machine struct {
	timing  Timing
	plan    Plan
	running bool // a plan has been adopted and is cycling
	pending *Plan
	epoch   time.Time // wall time of cycle position zero
	colors  map[Approach]Color
	entered map[Approach]time.Time
	lastNow time.Time
}

// NewMachine creates a machine in the ALL_RED safe state
func NewMachine(t Timing, now time.Time) (*Machine, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	colors := make(map[Approach]Color)
	entered := make(map[Approach]time.Time)
	for _, a := range Approaches() {
		colors[a] = Red
		entered[a] = now
	}

	return &Machine{
		timing:  t,
		colors:  colors,
		entered: entered,
		lastNow: now,
	}, nil
}

// Timing returns the safety timing the machine enforces
func (m *Machine) Timing() Timing {
	return m.timing
}

// State returns a snapshot of the current signal state
func (m *Machine) State() State {
	colors := make(map[Approach]Color, len(m.colors))
	entered := make(map[Approach]time.Time, len(m.entered))
	for a, c := range m.colors {
		colors[a] = c
		entered[a] = m.entered[a]
	}

	s := State{
		Colors:  colors,
		Entered: entered,
		AllRed:  !m.running,
	}
	if m.running {
		s.Plan = m.plan.Name
	}
	if m.pending != nil {
		s.PendingPlan = m.pending.Name
	}
	return s
}

// ApplyPlan validates the plan and stages it for adoption. Adoption happens
// at the next all-red window so an in-progress yellow (or green) phase is
// never truncated; from the ALL_RED safe state adoption is immediate. An
// illegal plan is rejected and the previous plan keeps running.
func (m *Machine) ApplyPlan(plan Plan, now time.Time) error {
	if err := plan.Validate(m.timing); err != nil {
		return err
	}

	if m.running && m.plan.Equal(plan) {
		// Re-applying the active plan is a no-op; keeps cycle position.
		m.pending = nil
		return nil
	}
	if m.pending != nil && m.pending.Equal(plan) {
		return nil
	}

	m.pending = &plan
	if !m.running {
		m.adoptPending(now)
	}
	return nil
}

// adoptPending switches to the staged plan, entering it at its first all-red
// window. Callers ensure every approach currently shows red.
func (m *Machine) adoptPending(now time.Time) {
	offset, _ := m.pending.allRedOffset()
	m.plan = *m.pending
	m.pending = nil
	m.epoch = now.Add(-offset)
	m.running = true
}

// Advance moves signal timers forward to now and returns the transitions
// taken, if any. Calling it again with the same now is a no-op. A computed
// state in which two conflicting approaches would claim right of way forces
// ALL_RED and returns ErrConflictingGreens; the caller treats this as fatal
// to the cycle, not to the process.
func (m *Machine) Advance(now time.Time) ([]Transition, error) {
	if now.Before(m.lastNow) {
		// Clock went backwards; hold state rather than replaying phases.
		return nil, nil
	}
	m.lastNow = now

	if !m.running {
		return nil, nil
	}

	cycle := m.plan.CycleDuration()
	pos := now.Sub(m.epoch) % cycle
	newColors := m.plan.colorsAt(pos)

	// Adopt a staged plan once every approach sits in red.
	if m.pending != nil && allRed(newColors) {
		m.adoptPending(now)
		cycle = m.plan.CycleDuration()
		pos = now.Sub(m.epoch) % cycle
		newColors = m.plan.colorsAt(pos)
	}

	claims := 0
	for _, c := range newColors {
		if c.claimsRightOfWay() {
			claims++
		}
	}
	if claims > 1 {
		transitions := m.forceAllRed(now)
		return transitions, errors.WrapFatal(
			fmt.Errorf("%w: %w", errors.ErrInvalidTransition, errors.ErrConflictingGreens),
			"Machine", "Advance", "conflict interlock")
	}

	var transitions []Transition
	for _, a := range Approaches() {
		if newColors[a] != m.colors[a] {
			transitions = append(transitions, Transition{
				Approach: a,
				From:     m.colors[a],
				To:       newColors[a],
				At:       now,
			})
			m.colors[a] = newColors[a]
			m.entered[a] = now
		}
	}
	return transitions, nil
}

// ForceAllRed drops every approach to red and suspends the plan. The machine
// stays ALL_RED until the next successful ApplyPlan.
func (m *Machine) ForceAllRed(now time.Time) []Transition {
	return m.forceAllRed(now)
}

func (m *Machine) forceAllRed(now time.Time) []Transition {
	var transitions []Transition
	for _, a := range Approaches() {
		if m.colors[a] != Red {
			transitions = append(transitions, Transition{
				Approach: a,
				From:     m.colors[a],
				To:       Red,
				At:       now,
			})
			m.colors[a] = Red
			m.entered[a] = now
		}
	}
	m.running = false
	m.pending = nil
	return transitions
}

func allRed(colors map[Approach]Color) bool {
	for _, c := range colors {
		if c != Red {
			return false
		}
	}
	return true
}
