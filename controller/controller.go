// Package controller runs the signal. One goroutine owns the phase machine:
// it re-evaluates the active mode against fresh monitor snapshots, advances
// the cycle on every tick, and drives the resulting color changes onto the
// lamp hardware. Software state is authoritative; a failed lamp write is
// retried and reported but never blocks or rewinds the cycle.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tiagofranzen/pi-traffic-light/errors"
	"github.com/tiagofranzen/pi-traffic-light/events"
	"github.com/tiagofranzen/pi-traffic-light/hardware"
	"github.com/tiagofranzen/pi-traffic-light/health"
	"github.com/tiagofranzen/pi-traffic-light/metric"
	"github.com/tiagofranzen/pi-traffic-light/mode"
	"github.com/tiagofranzen/pi-traffic-light/monitor"
	"github.com/tiagofranzen/pi-traffic-light/pkg/retry"
	"github.com/tiagofranzen/pi-traffic-light/phase"
)

// Config holds the controller loop settings
type Config struct {
	// Tick is how often the machine advances; one second matches the
	// coarsest plan granularity.
	Tick time.Duration `yaml:"tick"`
	// ModeInterval is how often the active mode is re-evaluated
	ModeInterval time.Duration `yaml:"mode_interval"`
	// LampTestPause, when positive, walks every color over both heads on
	// startup, holding each for the pause.
	LampTestPause time.Duration `yaml:"lamp_test_pause"`
}

// DefaultConfig returns the deployed loop settings
func DefaultConfig() Config {
	return Config{
		Tick:         time.Second,
		ModeInterval: 5 * time.Second,
	}
}

// Validate checks the loop settings
func (c Config) Validate() error {
	if c.Tick <= 0 {
		return errors.WrapInvalid(fmt.Errorf("tick %v must be positive", c.Tick),
			"controller.Config", "Validate", "tick validation")
	}
	if c.ModeInterval < c.Tick {
		return errors.WrapInvalid(
			fmt.Errorf("mode interval %v must not be shorter than tick %v", c.ModeInterval, c.Tick),
			"controller.Config", "Validate", "mode interval validation")
	}
	return nil
}

// Deps holds the controller's runtime dependencies
type Deps struct {
	Timing  phase.Timing
	Modes   *mode.Registry
	Store   *monitor.Store
	Driver  hardware.Driver
	Bus     *events.Bus      // optional
	Logger  *slog.Logger     // optional
	Metrics *metric.Registry // optional
	Health  *health.Monitor  // optional
}

// Status is the read snapshot served by the web API
type Status struct {
	Mode      string                            `json:"mode"`
	Signal    phase.State                       `json:"signal"`
	Monitors  map[string]monitor.SnapshotStatus `json:"monitors"`
	UpdatedAt time.Time                         `json:"updated_at"`
}

// controllerMetrics holds the controller's prometheus metrics
type controllerMetrics struct {
	transitions   *prometheus.CounterVec
	modeSwitches  prometheus.Counter
	lampFailures  prometheus.Counter
	conflictTrips prometheus.Counter
	activeMode    *prometheus.GaugeVec
}

// setActiveMode flips the per-mode gauge so exactly one label carries 1.
func (m *controllerMetrics) setActiveMode(previous, current string) {
	if previous != "" {
		m.activeMode.WithLabelValues(previous).Set(0)
	}
	if current != "" {
		m.activeMode.WithLabelValues(current).Set(1)
	}
}

func newControllerMetrics(registry *metric.Registry) *controllerMetrics {
	if registry == nil {
		return nil
	}

	m := &controllerMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "controller",
			Name:      "transitions_total",
			Help:      "Signal color changes",
		}, []string{"approach", "to"}),
		modeSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "controller",
			Name:      "mode_switches_total",
			Help:      "Active mode changes",
		}),
		lampFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "controller",
			Name:      "lamp_write_failures_total",
			Help:      "Lamp writes that exhausted their retries",
		}),
		conflictTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "controller",
			Name:      "conflict_interlock_trips_total",
			Help:      "Times the conflict interlock forced ALL_RED",
		}),
		activeMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "controller",
			Name:      "active_mode",
			Help:      "1 for the currently active mode, 0 otherwise",
		}, []string{"mode"}),
	}
	_ = registry.RegisterCounterVec("controller", "transitions", m.transitions)
	_ = registry.RegisterCounter("controller", "mode_switches", m.modeSwitches)
	_ = registry.RegisterCounter("controller", "lamp_failures", m.lampFailures)
	_ = registry.RegisterCounter("controller", "conflict_trips", m.conflictTrips)
	_ = registry.RegisterGaugeVec("controller", "active_mode", m.activeMode)
	return m
}

// Controller owns the signal loop
type Controller struct {
	cfg     Config
	machine *phase.Machine
	modes   *mode.Registry
	store   *monitor.Store
	driver  hardware.Driver
	bus     *events.Bus
	logger  *slog.Logger
	metrics *controllerMetrics
	healthM *health.Monitor

	clock      func() time.Time
	lampRetry  retry.Config
	activeMode string
	status     atomic.Pointer[Status]

	running  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// New creates a controller in the ALL_RED safe state
func New(cfg Config, deps Deps) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Modes == nil || deps.Store == nil || deps.Driver == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("modes, store and driver are required"),
			"Controller", "New", "dependency validation")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clock := time.Now
	machine, err := phase.NewMachine(deps.Timing, clock())
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:       cfg,
		machine:   machine,
		modes:     deps.Modes,
		store:     deps.Store,
		driver:    deps.Driver,
		bus:       deps.Bus,
		logger:    logger.With("component", "controller"),
		metrics:   newControllerMetrics(deps.Metrics),
		healthM:   deps.Health,
		clock:     clock,
		// Lamp writes retry briefly; a stuck relay must not stall the
		// cycle for longer than a fraction of a tick.
		lampRetry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 20 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
			Multiplier:   2.0,
			AddJitter:    true,
		},
	}
	c.publishStatus(clock())
	return c, nil
}

// Start runs the lamp test (if configured), applies the initial mode, and
// launches the signal loop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Controller", "Start", "state check")
	}

	if c.cfg.LampTestPause > 0 {
		if err := c.lampTest(ctx); err != nil {
			return err
		}
	}
	// Both heads red before the first plan is adopted.
	c.driveAll(phase.Red)

	c.shutdown = make(chan struct{})
	c.done = make(chan struct{})
	c.running.Store(true)

	c.wg.Add(1)
	go c.run()

	if c.healthM != nil {
		c.healthM.UpdateHealthy("controller", "signal loop running")
	}
	c.logger.Info("controller started",
		"tick", c.cfg.Tick, "mode_interval", c.cfg.ModeInterval)
	return nil
}

// lampTest walks every color across both heads so a dead lamp is obvious at
// boot instead of mid-cycle.
func (c *Controller) lampTest(ctx context.Context) error {
	c.logger.Info("running lamp test", "pause", c.cfg.LampTestPause)
	for _, color := range []phase.Color{phase.Red, phase.RedYellow, phase.Green, phase.Yellow} {
		c.driveAll(color)
		select {
		case <-ctx.Done():
			c.driveAll(phase.Red)
			return errors.Wrap(ctx.Err(), "Controller", "lampTest", "lamp test interrupted")
		case <-time.After(c.cfg.LampTestPause):
		}
	}
	c.driveAll(phase.Red)
	return nil
}

// run is the signal loop; it is the only goroutine touching the machine
func (c *Controller) run() {
	defer c.wg.Done()
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()

	// First evaluation immediately so the signal leaves ALL_RED without
	// waiting a full mode interval.
	lastEval := c.clock()
	c.evaluateMode(lastEval)
	c.step(lastEval)

	for {
		select {
		case <-c.shutdown:
			return
		case <-ticker.C:
			now := c.clock()
			if now.Sub(lastEval) >= c.cfg.ModeInterval {
				c.evaluateMode(now)
				lastEval = now
			}
			c.step(now)
		}
	}
}

// evaluateMode selects the mode for current conditions and stages its plan
func (c *Controller) evaluateMode(now time.Time) {
	conditions := c.store.Current(now)
	selected, err := c.modes.Select(conditions)
	if err != nil {
		c.logger.Error("mode selection failed", "error", err)
		return
	}
	if selected.Name == c.activeMode {
		return
	}

	plan := selected.Handler(conditions)
	if err := c.machine.ApplyPlan(plan, now); err != nil {
		c.logger.Error("plan rejected, keeping previous mode",
			"mode", selected.Name, "plan", plan.Name, "error", err)
		return
	}

	previous := c.activeMode
	c.activeMode = selected.Name
	c.logger.Info("mode switch",
		"from", previous, "to", selected.Name, "plan", plan.Name,
		"monitors", conditions.Len())
	if c.metrics != nil {
		c.metrics.modeSwitches.Inc()
		c.metrics.setActiveMode(previous, selected.Name)
	}
	if c.bus != nil {
		c.bus.Publish(events.NewModeSwitch(previous, selected.Name, plan.Name, now))
	}
}

// step advances the machine and drives any transitions onto the lamps
func (c *Controller) step(now time.Time) {
	transitions, err := c.machine.Advance(now)
	if err != nil {
		// Conflict interlock tripped: the machine already dropped to
		// ALL_RED. Mirror that on the lamps and force a fresh mode
		// evaluation to re-adopt a validated plan.
		c.logger.Error("conflict interlock tripped, holding ALL_RED", "error", err)
		if c.metrics != nil {
			c.metrics.conflictTrips.Inc()
		}
		c.driveAll(phase.Red)
		c.activeMode = ""
		if c.healthM != nil {
			c.healthM.UpdateDegraded("controller", "conflict interlock tripped")
		}
	}

	for _, t := range transitions {
		c.drive(t.Approach, t.To)
		c.logger.Debug("transition",
			"approach", t.Approach.String(), "from", t.From.String(), "to", t.To.String())
		if c.metrics != nil {
			c.metrics.transitions.WithLabelValues(t.Approach.String(), t.To.String()).Inc()
		}
		if c.bus != nil {
			c.bus.Publish(events.NewTransition(t))
		}
	}

	c.publishStatus(now)
}

// drive writes one color with bounded retries. Software state stays
// authoritative when the write keeps failing.
func (c *Controller) drive(a phase.Approach, color phase.Color) {
	err := retry.Do(context.Background(), c.lampRetry, func() error {
		return c.driver.Set(a, color)
	})
	if err != nil {
		c.logger.Error("lamp write failed",
			"approach", a.String(), "color", color.String(), "error", err)
		if c.metrics != nil {
			c.metrics.lampFailures.Inc()
		}
		if c.healthM != nil {
			c.healthM.UpdateDegraded("controller", "lamp writes failing")
		}
	}
}

// driveAll writes one color to every approach
func (c *Controller) driveAll(color phase.Color) {
	for _, a := range phase.Approaches() {
		c.drive(a, color)
	}
}

// publishStatus refreshes the snapshot served to readers
func (c *Controller) publishStatus(now time.Time) {
	c.status.Store(&Status{
		Mode:      c.activeMode,
		Signal:    c.machine.State(),
		Monitors:  c.store.Describe(now),
		UpdatedAt: now,
	})
}

// Status returns the latest published status snapshot. Safe for any
// goroutine.
func (c *Controller) Status() Status {
	s := c.status.Load()
	if s == nil {
		return Status{}
	}
	return *s
}

// Stop halts the loop and leaves both heads red. Red on shutdown beats dark:
// an unlit intersection gives nobody right of way information.
func (c *Controller) Stop(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return nil
	}
	c.running.Store(false)
	close(c.shutdown)

	select {
	case <-c.done:
	case <-time.After(timeout):
		c.logger.Warn("controller stop timed out waiting for loop")
	}

	now := c.clock()
	c.machine.ForceAllRed(now)
	c.driveAll(phase.Red)
	c.activeMode = ""
	c.publishStatus(now)

	if c.healthM != nil {
		c.healthM.UpdateUnhealthy("controller", "stopped")
	}
	c.logger.Info("controller stopped, signal held ALL_RED")
	return nil
}
