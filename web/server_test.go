package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiagofranzen/pi-traffic-light/controller"
	"github.com/tiagofranzen/pi-traffic-light/events"
	"github.com/tiagofranzen/pi-traffic-light/health"
	"github.com/tiagofranzen/pi-traffic-light/metric"
	"github.com/tiagofranzen/pi-traffic-light/phase"
)

// fakeController serves a fixed status snapshot
type fakeController struct {
	status controller.Status
}

func (f *fakeController) Status() controller.Status { return f.status }

func testStatus() controller.Status {
	return controller.Status{
		Mode: "normal",
		Signal: phase.State{
			Colors: map[phase.Approach]phase.Color{
				phase.NorthSouth: phase.Green,
				phase.EastWest:   phase.Red,
			},
			Plan: "normal",
		},
		UpdatedAt: time.Now(),
	}
}

func startServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"

	s, err := NewServer(cfg, deps)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(time.Second) })
	return s
}

func TestNewServerRequiresController(t *testing.T) {
	_, err := NewServer(DefaultConfig(), Deps{})
	require.Error(t, err)
}

func TestStatusEndpoint(t *testing.T) {
	s := startServer(t, Deps{Controller: &fakeController{status: testStatus()}})

	resp, err := http.Get(fmt.Sprintf("http://%s/api/status", s.Addr()))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got controller.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "normal", got.Mode)
	assert.Equal(t, phase.Green, got.Signal.Colors[phase.NorthSouth])
}

func TestHealthzReportsComponents(t *testing.T) {
	healthM := health.NewMonitor()
	healthM.UpdateHealthy("controller", "running")
	healthM.UpdateDegraded("monitor.weather", "credentials missing")

	s := startServer(t, Deps{
		Controller: &fakeController{status: testStatus()},
		Health:     healthM,
	})

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", s.Addr()))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	// Degraded must not fail a liveness probe.
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got healthzResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, health.StatusDegraded, got.Status)
	assert.Len(t, got.Components, 2)
}

func TestHealthzUnhealthyReturns503(t *testing.T) {
	healthM := health.NewMonitor()
	healthM.UpdateUnhealthy("controller", "stopped")

	s := startServer(t, Deps{
		Controller: &fakeController{status: testStatus()},
		Health:     healthM,
	})

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", s.Addr()))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	s := startServer(t, Deps{
		Controller: &fakeController{status: testStatus()},
		Metrics:    metric.NewRegistry(),
	})

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", s.Addr()))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebsocketStreamsEvents(t *testing.T) {
	bus := events.NewBus()
	s := startServer(t, Deps{
		Controller: &fakeController{status: testStatus()},
		Bus:        bus,
	})

	conn, resp, err := websocket.DefaultDialer.Dial(
		fmt.Sprintf("ws://%s/ws", s.Addr()), nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	defer func() { _ = conn.Close() }()

	sent := events.NewTransition(phase.Transition{
		Approach: phase.NorthSouth,
		From:     phase.Red,
		To:       phase.RedYellow,
		At:       time.Now(),
	})
	// Give the server a moment to register the client after the handshake.
	time.Sleep(100 * time.Millisecond)
	bus.Publish(sent)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got events.Event
	require.NoError(t, json.Unmarshal(payload, &got))

	assert.Equal(t, events.TypeTransition, got.Type)
	assert.Equal(t, phase.RedYellow, got.Transition.To)
}

func TestStopIsIdempotent(t *testing.T) {
	s := startServer(t, Deps{Controller: &fakeController{status: testStatus()}})
	require.NoError(t, s.Stop(time.Second))
	require.NoError(t, s.Stop(time.Second))
}
