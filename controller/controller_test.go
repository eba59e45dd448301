package controller

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiagofranzen/pi-traffic-light/events"
	"github.com/tiagofranzen/pi-traffic-light/hardware"
	"github.com/tiagofranzen/pi-traffic-light/health"
	"github.com/tiagofranzen/pi-traffic-light/mode"
	"github.com/tiagofranzen/pi-traffic-light/monitor"
	"github.com/tiagofranzen/pi-traffic-light/phase"
)

// testTiming compresses the cycle so lifecycle tests finish quickly
func testTiming() phase.Timing {
	return phase.Timing{
		Yellow:    30 * time.Millisecond,
		RedYellow: 20 * time.Millisecond,
		MinGreen:  50 * time.Millisecond,
		Clearance: 20 * time.Millisecond,
	}
}

func testConfig() Config {
	return Config{
		Tick:         10 * time.Millisecond,
		ModeInterval: 30 * time.Millisecond,
	}
}

func testRegistry(t *testing.T) *mode.Registry {
	t.Helper()
	timing := testTiming()
	reg, err := mode.NewRegistry(timing)
	require.NoError(t, err)

	require.NoError(t, reg.Register(mode.Mode{
		Name:    "normal",
		Handler: mode.StaticHandler(phase.Split("normal", 100*time.Millisecond, 100*time.Millisecond, timing)),
	}))
	require.NoError(t, reg.Register(mode.Mode{
		Name:     "transit-priority",
		Priority: 20,
		Applies: func(set monitor.Set) bool {
			transit, ok := set.Transit()
			return ok && transit.NextInboundMinutes >= 0 && transit.NextInboundMinutes <= 12
		},
		Handler: mode.StaticHandler(phase.Split("transit-priority", 60*time.Millisecond, 140*time.Millisecond, timing)),
	}))
	return reg
}

func newTestController(t *testing.T, driver hardware.Driver, bus *events.Bus) (*Controller, *monitor.Store) {
	t.Helper()
	store := monitor.NewStore()
	require.NoError(t, store.Register(monitor.NameTransit, 0))

	c, err := New(testConfig(), Deps{
		Timing: testTiming(),
		Modes:  testRegistry(t),
		Store:  store,
		Driver: driver,
		Bus:    bus,
	})
	require.NoError(t, err)
	return c, store
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(testConfig(), Deps{Timing: testTiming()})
	require.Error(t, err)

	_, err = New(Config{Tick: 0, ModeInterval: time.Second}, Deps{
		Timing: testTiming(),
		Modes:  testRegistry(t),
		Store:  monitor.NewStore(),
		Driver: hardware.NewMock(),
	})
	require.Error(t, err)
}

func TestControllerRunsNormalCycle(t *testing.T) {
	driver := hardware.NewMock()
	c, _ := newTestController(t, driver, nil)

	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop(time.Second) }()

	// The fallback mode must be adopted and the cycle must reach a green.
	assert.Eventually(t, func() bool {
		return c.Status().Mode == "normal" && !c.Status().Signal.AllRed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return driver.Color(phase.NorthSouth) == phase.Green ||
			driver.Color(phase.EastWest) == phase.Green
	}, 2*time.Second, 5*time.Millisecond)
}

func TestControllerNeverShowsConflictingGreens(t *testing.T) {
	driver := hardware.NewMock()
	c, _ := newTestController(t, driver, nil)

	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop(time.Second) }()

	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			return
		default:
		}
		ns, ew := driver.Color(phase.NorthSouth), driver.Color(phase.EastWest)
		nsClaims := ns == phase.Green || ns == phase.RedYellow
		ewClaims := ew == phase.Green || ew == phase.RedYellow
		require.False(t, nsClaims && ewClaims,
			"both approaches claim right of way: NS=%s EW=%s", ns, ew)
		time.Sleep(time.Millisecond)
	}
}

func TestControllerSwitchesModeOnConditions(t *testing.T) {
	driver := hardware.NewMock()
	bus := events.NewBus()
	sub, cancel := bus.Subscribe()
	defer cancel()

	c, store := newTestController(t, driver, bus)
	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop(time.Second) }()

	assert.Eventually(t, func() bool {
		return c.Status().Mode == "normal"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, store.Publish(monitor.Snapshot{
		Monitor: monitor.NameTransit,
		Taken:   time.Now(),
		Valid:   true,
		Transit: &monitor.TransitConditions{NextInboundMinutes: 8},
	}))

	assert.Eventually(t, func() bool {
		return c.Status().Mode == "transit-priority"
	}, 2*time.Second, 10*time.Millisecond)

	// The bus must have carried a mode switch to transit-priority.
	assert.Eventually(t, func() bool {
		for {
			select {
			case e := <-sub:
				if e.Type == events.TypeModeSwitch && e.ModeSwitch.To == "transit-priority" {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopHoldsAllRed(t *testing.T) {
	driver := hardware.NewMock()
	c, _ := newTestController(t, driver, nil)

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return !c.Status().Signal.AllRed
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Stop(time.Second))

	status := c.Status()
	assert.True(t, status.Signal.AllRed)
	assert.Empty(t, status.Mode)
	for _, a := range phase.Approaches() {
		assert.Equal(t, phase.Red, driver.Color(a))
	}

	// Stop twice is a no-op.
	require.NoError(t, c.Stop(time.Second))
}

func TestStartTwiceFails(t *testing.T) {
	c, _ := newTestController(t, hardware.NewMock(), nil)
	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop(time.Second) }()

	require.Error(t, c.Start(context.Background()))
}

func TestLampFailureDoesNotStallTheCycle(t *testing.T) {
	driver := hardware.NewMock()
	driver.FailSet = fmt.Errorf("relay stuck")

	healthM := health.NewMonitor()
	store := monitor.NewStore()
	c, err := New(testConfig(), Deps{
		Timing: testTiming(),
		Modes:  testRegistry(t),
		Store:  store,
		Driver: driver,
		Health: healthM,
	})
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop(time.Second) }()

	// The machine keeps cycling even though no write lands.
	assert.Eventually(t, func() bool {
		return !c.Status().Signal.AllRed && driver.Sets() > 3
	}, 3*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		s, ok := healthM.Get("controller")
		return ok && s.IsDegraded()
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStatusBeforeStart(t *testing.T) {
	c, _ := newTestController(t, hardware.NewMock(), nil)
	status := c.Status()
	assert.True(t, status.Signal.AllRed)
	assert.Empty(t, status.Mode)
	assert.Contains(t, status.Monitors, monitor.NameTransit)
}

func TestLampTestWalksColorsBeforeStart(t *testing.T) {
	driver := hardware.NewMock()
	store := monitor.NewStore()
	cfg := testConfig()
	cfg.LampTestPause = time.Millisecond

	c, err := New(cfg, Deps{
		Timing: testTiming(),
		Modes:  testRegistry(t),
		Store:  store,
		Driver: driver,
	})
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop(time.Second) }()

	// 4 colors x 2 approaches plus the final red sweep, at minimum.
	assert.GreaterOrEqual(t, driver.Sets(), 10)
}
