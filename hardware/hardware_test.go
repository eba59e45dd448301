package hardware

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiagofranzen/pi-traffic-light/errors"
	"github.com/tiagofranzen/pi-traffic-light/phase"
)

func TestLampsForCoversEveryColor(t *testing.T) {
	assert.Equal(t, Lamps{Red: true}, LampsFor(phase.Red))
	assert.Equal(t, Lamps{Red: true, Yellow: true}, LampsFor(phase.RedYellow))
	assert.Equal(t, Lamps{Yellow: true}, LampsFor(phase.Yellow))
	assert.Equal(t, Lamps{Green: true}, LampsFor(phase.Green))
	assert.Equal(t, Lamps{}, LampsFor(phase.Off))
}

func TestDefaultConfigMatchesDeployedWiring(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, PinSet{Red: 22, Yellow: 27, Green: 17}, cfg.NorthSouth)
	assert.True(t, cfg.ActiveLow)
}

func TestMockRecordsColors(t *testing.T) {
	m := NewMock()
	require.NoError(t, m.Set(phase.NorthSouth, phase.Green))
	require.NoError(t, m.Set(phase.EastWest, phase.Red))

	assert.Equal(t, phase.Green, m.Color(phase.NorthSouth))
	assert.Equal(t, phase.Red, m.Color(phase.EastWest))
	assert.Equal(t, 2, m.Sets())
}

func TestMockAllOff(t *testing.T) {
	m := NewMock()
	require.NoError(t, m.Set(phase.NorthSouth, phase.Green))
	require.NoError(t, m.AllOff())

	for _, a := range phase.Approaches() {
		assert.Equal(t, phase.Off, m.Color(a))
	}
}

func TestMockFailureInjection(t *testing.T) {
	m := NewMock()
	m.FailSet = fmt.Errorf("relay stuck")

	err := m.Set(phase.NorthSouth, phase.Red)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	// Failed writes must not change recorded state.
	assert.Equal(t, phase.Off, m.Color(phase.NorthSouth))
}

func TestMockClose(t *testing.T) {
	m := NewMock()
	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
}
