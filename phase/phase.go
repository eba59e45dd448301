// Package phase models the canonical signal state of the intersection: the
// color shown per approach, the timed plan that cycles those colors, and the
// state machine that enforces legal transitions.
//
// The cycle follows the German sequence green -> yellow -> red -> red+yellow
// -> green. RED_YELLOW announces an imminent green and therefore claims the
// intersection exactly like a green for conflict purposes.
package phase

import (
	"fmt"
	"time"

	"github.com/tiagofranzen/pi-traffic-light/errors"
)

// Color is the signal color shown on one approach.
type Color int

const (
	// Off means no lamp lit. Only valid outside a running plan
	// (startup lamp test, shutdown).
	Off Color = iota
	// Red requires traffic on the approach to stop
	Red
	// RedYellow announces the switch to green (red and yellow lamps together)
	RedYellow
	// Yellow requires traffic to clear the intersection
	Yellow
	// Green gives the approach right of way
	Green
)

// String returns the lowercase wire name of the color
func (c Color) String() string {
	switch c {
	case Off:
		return "off"
	case Red:
		return "red"
	case RedYellow:
		return "red_yellow"
	case Yellow:
		return "yellow"
	case Green:
		return "green"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler for JSON status output
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// next returns the legal successor color in the cycle
func (c Color) next() Color {
	switch c {
	case Green:
		return Yellow
	case Yellow:
		return Red
	case Red:
		return RedYellow
	case RedYellow:
		return Green
	default:
		return Off
	}
}

// claimsRightOfWay reports whether the color lets (or is about to let)
// traffic enter the intersection. Two conflicting approaches must never
// both claim right of way.
func (c Color) claimsRightOfWay() bool {
	return c == Green || c == RedYellow
}

// Approach is one directional traffic path at the intersection.
type Approach int

const (
	// NorthSouth is the main road approach
	NorthSouth Approach = iota
	// EastWest is the cross road approach
	EastWest
)

// Approaches returns all approaches in a stable order
func Approaches() []Approach {
	return []Approach{NorthSouth, EastWest}
}

// String returns the lowercase wire name of the approach
func (a Approach) String() string {
	switch a {
	case NorthSouth:
		return "north-south"
	case EastWest:
		return "east-west"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler for JSON status output
func (a Approach) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Step is one timed color within an approach's cycle.
type Step struct {
	Color    Color
	Duration time.Duration
}

// Timing holds the safety-critical durations a plan must respect.
// Yellow and RedYellow are fixed: no mode may override them.
type Timing struct {
	Yellow    time.Duration // exact yellow duration, safety-critical
	RedYellow time.Duration // exact red+yellow duration
	MinGreen  time.Duration // minimum green per approach
	Clearance time.Duration // all-red clearance between opposing phases
}

// DefaultTiming mirrors the timings of the deployed intersection:
// 3s yellow, 2s red+yellow, 2s all-red clearance.
func DefaultTiming() Timing {
	return Timing{
		Yellow:    3 * time.Second,
		RedYellow: 2 * time.Second,
		MinGreen:  5 * time.Second,
		Clearance: 2 * time.Second,
	}
}

// Validate checks the timing for sanity
func (t Timing) Validate() error {
	if t.Yellow <= 0 {
		return errors.WrapInvalid(fmt.Errorf("yellow duration %v must be positive", t.Yellow),
			"Timing", "Validate", "yellow duration validation")
	}
	if t.RedYellow <= 0 {
		return errors.WrapInvalid(fmt.Errorf("red+yellow duration %v must be positive", t.RedYellow),
			"Timing", "Validate", "red+yellow duration validation")
	}
	if t.MinGreen <= 0 {
		return errors.WrapInvalid(fmt.Errorf("minimum green %v must be positive", t.MinGreen),
			"Timing", "Validate", "minimum green validation")
	}
	if t.Clearance <= 0 {
		// A positive clearance guarantees the all-red window plans need
		// for safe adoption.
		return errors.WrapInvalid(fmt.Errorf("clearance %v must be positive", t.Clearance),
			"Timing", "Validate", "clearance validation")
	}
	return nil
}

// Plan is the timed color cycle per approach. All approaches share one cycle
// duration; colors are piecewise constant functions of the cycle position.
type Plan struct {
	Name  string
	Steps map[Approach][]Step
}

// CycleDuration returns the total duration of one cycle
func (p Plan) CycleDuration() time.Duration {
	for _, steps := range p.Steps {
		var total time.Duration
		for _, s := range steps {
			total += s.Duration
		}
		return total
	}
	return 0
}

// ColorAt returns the color an approach shows at a position within the cycle
func (p Plan) ColorAt(a Approach, pos time.Duration) Color {
	steps := p.Steps[a]
	var elapsed time.Duration
	for _, s := range steps {
		elapsed += s.Duration
		if pos < elapsed {
			return s.Color
		}
	}
	if len(steps) > 0 {
		return steps[len(steps)-1].Color
	}
	return Off
}

// colorsAt returns the color of every approach at a cycle position
func (p Plan) colorsAt(pos time.Duration) map[Approach]Color {
	colors := make(map[Approach]Color, len(p.Steps))
	for a := range p.Steps {
		colors[a] = p.ColorAt(a, pos)
	}
	return colors
}

// boundaries returns every cycle position where some approach changes color
func (p Plan) boundaries() []time.Duration {
	set := map[time.Duration]struct{}{0: {}}
	for _, steps := range p.Steps {
		var elapsed time.Duration
		for _, s := range steps {
			elapsed += s.Duration
			set[elapsed] = struct{}{}
		}
	}
	out := make([]time.Duration, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	return out
}

// allRedOffset returns the first cycle position where every approach is red.
// Plans without such a position are rejected by Validate: the machine needs
// an all-red window to adopt a new plan safely.
func (p Plan) allRedOffset() (time.Duration, bool) {
	cycle := p.CycleDuration()
	for _, pos := range p.boundaries() {
		if pos >= cycle {
			continue
		}
		allRed := true
		for a := range p.Steps {
			if p.ColorAt(a, pos) != Red {
				allRed = false
				break
			}
		}
		if allRed {
			return pos, true
		}
	}
	return 0, false
}

// Equal reports whether two plans cycle identical steps
func (p Plan) Equal(other Plan) bool {
	if len(p.Steps) != len(other.Steps) {
		return false
	}
	for a, steps := range p.Steps {
		otherSteps, ok := other.Steps[a]
		if !ok || len(steps) != len(otherSteps) {
			return false
		}
		for i, s := range steps {
			if s != otherSteps[i] {
				return false
			}
		}
	}
	return true
}

// Validate checks the plan against the legal cycle and the given timing:
// per-approach colors must follow green -> yellow -> red -> red+yellow,
// yellow and red+yellow durations are exact, greens respect the minimum,
// cycle durations match across approaches, no two approaches ever claim
// right of way at the same instant, and at least one all-red window exists.
func (p Plan) Validate(t Timing) error {
	if len(p.Steps) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidPlan, "Plan", "Validate", "empty plan check")
	}

	var cycle time.Duration
	first := true
	for a, steps := range p.Steps {
		if len(steps) == 0 {
			return errors.WrapInvalid(fmt.Errorf("approach %s has no steps: %w", a, errors.ErrInvalidPlan),
				"Plan", "Validate", "step presence check")
		}

		var total time.Duration
		counts := map[Color]int{}
		for i, s := range steps {
			if s.Duration <= 0 {
				return errors.WrapInvalid(
					fmt.Errorf("approach %s step %d has non-positive duration: %w", a, i, errors.ErrInvalidPlan),
					"Plan", "Validate", "duration check")
			}
			switch s.Color {
			case Yellow:
				if s.Duration != t.Yellow {
					return errors.WrapInvalid(
						fmt.Errorf("approach %s yellow %v differs from fixed %v: %w", a, s.Duration, t.Yellow, errors.ErrInvalidPlan),
						"Plan", "Validate", "fixed yellow check")
				}
			case RedYellow:
				if s.Duration != t.RedYellow {
					return errors.WrapInvalid(
						fmt.Errorf("approach %s red+yellow %v differs from fixed %v: %w", a, s.Duration, t.RedYellow, errors.ErrInvalidPlan),
						"Plan", "Validate", "fixed red+yellow check")
				}
			case Green:
				if s.Duration < t.MinGreen {
					return errors.WrapInvalid(
						fmt.Errorf("approach %s green %v below minimum %v: %w", a, s.Duration, t.MinGreen, errors.ErrInvalidPlan),
						"Plan", "Validate", "minimum green check")
				}
			case Off:
				return errors.WrapInvalid(
					fmt.Errorf("approach %s step %d uses off: %w", a, i, errors.ErrInvalidPlan),
					"Plan", "Validate", "color check")
			}
			counts[s.Color]++
			total += s.Duration

			// Cyclic successor check; adjacent same-color steps merge.
			next := steps[(i+1)%len(steps)].Color
			if next != s.Color && next != s.Color.next() {
				return errors.WrapInvalid(
					fmt.Errorf("approach %s illegal transition %s -> %s: %w", a, s.Color, next, errors.ErrInvalidPlan),
					"Plan", "Validate", "cycle order check")
			}
		}

		if counts[Green] != 1 || counts[Yellow] != 1 || counts[RedYellow] != 1 || counts[Red] < 1 {
			return errors.WrapInvalid(
				fmt.Errorf("approach %s must cycle each phase exactly once: %w", a, errors.ErrInvalidPlan),
				"Plan", "Validate", "phase count check")
		}

		if first {
			cycle = total
			first = false
		} else if total != cycle {
			return errors.WrapInvalid(
				fmt.Errorf("cycle duration mismatch %v vs %v: %w", total, cycle, errors.ErrInvalidPlan),
				"Plan", "Validate", "cycle duration check")
		}
	}

	// Cross-approach invariant: never two claims at the same instant.
	// Colors are piecewise constant, so checking step boundaries suffices.
	for _, pos := range p.boundaries() {
		if pos >= cycle {
			continue
		}
		claims := 0
		for a := range p.Steps {
			if p.ColorAt(a, pos).claimsRightOfWay() {
				claims++
			}
		}
		if claims > 1 {
			return errors.WrapInvalid(
				fmt.Errorf("at cycle position %v: %w", pos, errors.ErrConflictingGreens),
				"Plan", "Validate", "conflict check")
		}
	}

	if _, ok := p.allRedOffset(); !ok {
		return errors.WrapInvalid(
			fmt.Errorf("plan has no all-red window: %w", errors.ErrInvalidPlan),
			"Plan", "Validate", "all-red window check")
	}

	return nil
}

// Split builds the standard two-phase plan: north-south green for greenNS,
// east-west green for greenEW, with fixed yellow and red+yellow steps and an
// all-red clearance between the phases.
//
//	NS: green, yellow, red .............................., red+yellow
//	EW: red ........., red+yellow, green, yellow, red
func Split(name string, greenNS, greenEW time.Duration, t Timing) Plan {
	nsRed := t.Clearance + t.RedYellow + greenEW + t.Yellow + t.Clearance
	ewLeadRed := greenNS + t.Yellow + t.Clearance
	ewTailRed := t.Clearance + t.RedYellow

	return Plan{
		Name: name,
		Steps: map[Approach][]Step{
			NorthSouth: {
				{Color: Green, Duration: greenNS},
				{Color: Yellow, Duration: t.Yellow},
				{Color: Red, Duration: nsRed},
				{Color: RedYellow, Duration: t.RedYellow},
			},
			EastWest: {
				{Color: Red, Duration: ewLeadRed},
				{Color: RedYellow, Duration: t.RedYellow},
				{Color: Green, Duration: greenEW},
				{Color: Yellow, Duration: t.Yellow},
				{Color: Red, Duration: ewTailRed},
			},
		},
	}
}
