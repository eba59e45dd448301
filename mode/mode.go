// Package mode maps observed conditions to signal plans. A mode bundles a
// name, a selection priority, a predicate over the current monitor snapshots,
// and a handler producing the plan the intersection runs while the mode is
// active. The registry
// picks the highest-priority mode whose predicate matches; fallback modes
// with a nil predicate always match, so selection degrades to the normal
// cycle when every monitor is dark.
package mode

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tiagofranzen/pi-traffic-light/errors"
	"github.com/tiagofranzen/pi-traffic-light/monitor"
	"github.com/tiagofranzen/pi-traffic-light/phase"
)

// Predicate decides whether a mode applies under the given conditions.
// Predicates must only read the set; they run on every evaluation tick.
type Predicate func(monitor.Set) bool

// Handler computes the plan a mode runs under the given conditions. Handlers
// are pure: same set in, same plan out. The plan is validated again on
// adoption, so a misbehaving handler cannot put an illegal plan on the street.
type Handler func(monitor.Set) phase.Plan

// Mode is one selectable signal program
type Mode struct {
	Name     string
	Priority int
	// Applies is the activation predicate; nil means the mode always
	// applies and serves as a fallback.
	Applies Predicate
	Handler Handler
}

// StaticHandler wraps a fixed plan as a Handler
func StaticHandler(plan phase.Plan) Handler {
	return func(monitor.Set) phase.Plan { return plan }
}

// Registry holds the known modes
type Registry struct {
	mu     sync.RWMutex
	timing phase.Timing
	modes  map[string]Mode
}

// NewRegistry creates an empty registry. Registered plans are validated
// against the given timing.
func NewRegistry(timing phase.Timing) (*Registry, error) {
	if err := timing.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		timing: timing,
		modes:  make(map[string]Mode),
	}, nil
}

// Register adds a mode. The handler's plan for empty conditions must pass
// validation as a smoke check; registering a name twice fails with
// ErrDuplicateMode.
func (r *Registry) Register(m Mode) error {
	if m.Name == "" {
		return errors.WrapInvalid(fmt.Errorf("mode name must not be empty"),
			"mode.Registry", "Register", "mode validation")
	}
	if m.Handler == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: mode %q has no handler", errors.ErrInvalidPlan, m.Name),
			"mode.Registry", "Register", "mode validation")
	}
	if err := m.Handler(monitor.NewSet(nil)).Validate(r.timing); err != nil {
		return errors.WrapInvalid(err, "mode.Registry", "Register", "plan validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modes[m.Name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("mode %q: %w", m.Name, errors.ErrDuplicateMode),
			"mode.Registry", "Register", "mode registration")
	}
	r.modes[m.Name] = m
	return nil
}

// Resolve returns a mode by name
func (r *Registry) Resolve(name string) (Mode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modes[name]
	if !ok {
		return Mode{}, errors.WrapInvalid(
			fmt.Errorf("mode %q: %w", name, errors.ErrUnknownMode),
			"mode.Registry", "Resolve", "mode lookup")
	}
	return m, nil
}

// Names returns the registered mode names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modes))
	for name := range r.modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns the highest-priority mode whose predicate matches the set.
// Priority ties break by name so selection stays deterministic. Selection
// fails only when no mode matches, which cannot happen once a fallback mode
// is registered.
func (r *Registry) Select(set monitor.Set) (Mode, error) {
	r.mu.RLock()
	candidates := make([]Mode, 0, len(r.modes))
	for _, m := range r.modes {
		candidates = append(candidates, m)
	}
	r.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].Name < candidates[j].Name
	})

	for _, m := range candidates {
		if m.Applies == nil || m.Applies(set) {
			return m, nil
		}
	}
	return Mode{}, errors.WrapInvalid(
		fmt.Errorf("no mode matches and no fallback registered: %w", errors.ErrUnknownMode),
		"mode.Registry", "Select", "mode selection")
}
