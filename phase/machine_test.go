package phase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiagofranzen/pi-traffic-light/errors"
)

func testStart() time.Time {
	return time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
}

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := NewMachine(testTiming(), testStart())
	require.NoError(t, err)
	return m
}

func TestNewMachineStartsAllRed(t *testing.T) {
	m := newTestMachine(t)

	state := m.State()
	assert.True(t, state.AllRed)
	for _, a := range Approaches() {
		assert.Equal(t, Red, state.Colors[a])
	}
}

func TestNewMachineRejectsBadTiming(t *testing.T) {
	bad := testTiming()
	bad.Yellow = 0
	_, err := NewMachine(bad, testStart())
	assert.Error(t, err)
}

func TestAdvanceWithoutPlanIsNoop(t *testing.T) {
	m := newTestMachine(t)

	transitions, err := m.Advance(testStart().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, transitions)
	assert.True(t, m.State().AllRed)
}

func TestApplyPlanFromAllRedAdoptsImmediately(t *testing.T) {
	m := newTestMachine(t)
	now := testStart()
	plan := Split("normal", 20*time.Second, 20*time.Second, m.Timing())

	require.NoError(t, m.ApplyPlan(plan, now))

	state := m.State()
	assert.False(t, state.AllRed)
	assert.Equal(t, "normal", state.Plan)
	// Adoption lands in the all-red window; colors stay red until advanced.
	for _, a := range Approaches() {
		assert.Equal(t, Red, state.Colors[a])
	}

	// Two seconds in, the east-west approach gets its red+yellow.
	transitions, err := m.Advance(now.Add(2 * time.Second))
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, EastWest, transitions[0].Approach)
	assert.Equal(t, RedYellow, transitions[0].To)
}

func TestApplyPlanRejectsInvalidKeepsPrevious(t *testing.T) {
	m := newTestMachine(t)
	now := testStart()
	good := Split("normal", 20*time.Second, 20*time.Second, m.Timing())
	require.NoError(t, m.ApplyPlan(good, now))

	bad := Split("bad", 20*time.Second, 20*time.Second, m.Timing())
	bad.Steps[NorthSouth][1].Duration = time.Second // tamper with yellow

	err := m.ApplyPlan(bad, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidPlan)
	assert.Equal(t, "normal", m.State().Plan)
	assert.Empty(t, m.State().PendingPlan)
}

func TestAdvanceIsIdempotentForSameInstant(t *testing.T) {
	m := newTestMachine(t)
	now := testStart()
	require.NoError(t, m.ApplyPlan(Split("normal", 20*time.Second, 20*time.Second, m.Timing()), now))

	at := now.Add(2 * time.Second)
	first, err := m.Advance(at)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := m.Advance(at)
	require.NoError(t, err)
	assert.Empty(t, second, "second advance with the same now must not change state")
}

func TestAdvanceIgnoresClockGoingBackwards(t *testing.T) {
	m := newTestMachine(t)
	now := testStart()
	require.NoError(t, m.ApplyPlan(Split("normal", 20*time.Second, 20*time.Second, m.Timing()), now))

	_, err := m.Advance(now.Add(5 * time.Second))
	require.NoError(t, err)
	before := m.State()

	transitions, err := m.Advance(now.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, transitions)
	assert.Equal(t, before.Colors, m.State().Colors)
}

// Full-cycle simulation: no instant may have two approaches claiming right of
// way, and every yellow lasts exactly the fixed yellow duration.
func TestSimulatedCyclesHoldInvariants(t *testing.T) {
	m := newTestMachine(t)
	now := testStart()
	require.NoError(t, m.ApplyPlan(Split("normal", 20*time.Second, 20*time.Second, m.Timing()), now))

	yellowStart := map[Approach]time.Time{}
	tick := 100 * time.Millisecond

	for elapsed := time.Duration(0); elapsed < 3*54*time.Second; elapsed += tick {
		at := now.Add(elapsed)
		transitions, err := m.Advance(at)
		require.NoError(t, err)

		state := m.State()
		claims := 0
		for _, c := range state.Colors {
			if c == Green || c == RedYellow {
				claims++
			}
		}
		require.LessOrEqual(t, claims, 1, "conflicting claims at %v", at)

		for _, tr := range transitions {
			if tr.To == Yellow {
				yellowStart[tr.Approach] = tr.At
			}
			if tr.From == Yellow {
				start, ok := yellowStart[tr.Approach]
				require.True(t, ok)
				assert.Equal(t, m.Timing().Yellow, tr.At.Sub(start),
					"yellow duration on %s", tr.Approach)
			}
		}
	}
}

func TestApplyPlanMidYellowIsStagedNotAdopted(t *testing.T) {
	m := newTestMachine(t)
	now := testStart()
	tm := m.Timing()
	require.NoError(t, m.ApplyPlan(Split("normal", 20*time.Second, 20*time.Second, tm), now))

	// Adoption offset is the all-red window at cycle position 23s; green
	// starts 31s after adoption, yellow 51s after.
	var midYellow time.Time
	for elapsed := time.Duration(0); elapsed < 2*54*time.Second; elapsed += time.Second {
		at := now.Add(elapsed)
		_, err := m.Advance(at)
		require.NoError(t, err)
		if m.State().Colors[NorthSouth] == Yellow {
			midYellow = at.Add(time.Second)
			break
		}
	}
	require.False(t, midYellow.IsZero(), "simulation never reached a yellow phase")

	_, err := m.Advance(midYellow)
	require.NoError(t, err)
	require.Equal(t, Yellow, m.State().Colors[NorthSouth])

	priority := Split("transit-priority", 30*time.Second, 12*time.Second, tm)
	require.NoError(t, m.ApplyPlan(priority, midYellow))

	state := m.State()
	assert.Equal(t, "normal", state.Plan, "active plan unchanged mid-yellow")
	assert.Equal(t, "transit-priority", state.PendingPlan)
	assert.Equal(t, Yellow, state.Colors[NorthSouth], "yellow must not be truncated")

	// Keep advancing: the yellow completes in full, then the staged plan is
	// adopted in the all-red window.
	for elapsed := time.Second; elapsed <= 10*time.Second; elapsed += time.Second {
		_, err := m.Advance(midYellow.Add(elapsed))
		require.NoError(t, err)
	}
	state = m.State()
	assert.Equal(t, "transit-priority", state.Plan)
	assert.Empty(t, state.PendingPlan)
}

func TestReapplyingActivePlanIsNoop(t *testing.T) {
	m := newTestMachine(t)
	now := testStart()
	plan := Split("normal", 20*time.Second, 20*time.Second, m.Timing())
	require.NoError(t, m.ApplyPlan(plan, now))

	_, err := m.Advance(now.Add(10 * time.Second))
	require.NoError(t, err)
	before := m.State()

	same := Split("normal", 20*time.Second, 20*time.Second, m.Timing())
	require.NoError(t, m.ApplyPlan(same, now.Add(10*time.Second)))

	state := m.State()
	assert.Equal(t, before.Colors, state.Colors)
	assert.Empty(t, state.PendingPlan)
}

func TestConflictForcesAllRed(t *testing.T) {
	m := newTestMachine(t)
	now := testStart()
	require.NoError(t, m.ApplyPlan(Split("normal", 20*time.Second, 20*time.Second, m.Timing()), now))

	// Corrupt the active plan under the machine to simulate an impossible
	// joint state; Advance must trip the interlock rather than show it.
	m.plan.Steps[EastWest] = m.plan.Steps[NorthSouth]

	// Cycle position 36s+23s lands inside both greens of the corrupt plan.
	_, err := m.Advance(now.Add(36 * time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
	assert.True(t, errors.IsFatal(err))

	state := m.State()
	assert.True(t, state.AllRed)
	for _, a := range Approaches() {
		assert.Equal(t, Red, state.Colors[a])
	}
}

func TestForceAllRedAndRecovery(t *testing.T) {
	m := newTestMachine(t)
	now := testStart()
	require.NoError(t, m.ApplyPlan(Split("normal", 20*time.Second, 20*time.Second, m.Timing()), now))
	_, err := m.Advance(now.Add(5 * time.Second))
	require.NoError(t, err)

	transitions := m.ForceAllRed(now.Add(6 * time.Second))
	assert.NotEmpty(t, transitions)
	assert.True(t, m.State().AllRed)

	// ApplyPlan re-arms the machine from the interlock.
	require.NoError(t, m.ApplyPlan(Split("normal", 20*time.Second, 20*time.Second, m.Timing()), now.Add(10*time.Second)))
	assert.False(t, m.State().AllRed)
}
