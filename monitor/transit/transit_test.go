package transit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiagofranzen/pi-traffic-light/monitor"
)

func TestEnabledRequiresBothCredentials(t *testing.T) {
	assert.False(t, NewSource(Config{}, nil).Enabled())
	assert.False(t, NewSource(Config{ClientID: "id"}, nil).Enabled())
	assert.False(t, NewSource(Config{ClientSecret: "secret"}, nil).Enabled())
	assert.True(t, NewSource(Config{ClientID: "id", ClientSecret: "secret"}, nil).Enabled())
}

func TestPollFindsNextInboundDeparture(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)

	var requests atomic.Int32
	var sawHeaders atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("DB-Client-Id") == "id" && r.Header.Get("DB-Api-Key") == "secret" {
			sawHeaders.Store(true)
		}
		// One inbound in 14 minutes, one outbound in 6, one already departed.
		fmt.Fprintf(w, `<timetable station="Teststadt">
			<s id="1"><dp pt="%s" ppth="A|B|Hauptbahnhof"/></s>
			<s id="2"><dp pt="%s" ppth="A|B|Vorort"/></s>
			<s id="3"><dp pt="%s" ppth="A|B|Hauptbahnhof"/></s>
		</timetable>`,
			now.Add(14*time.Minute).Format(departureLayout),
			now.Add(6*time.Minute).Format(departureLayout),
			now.Add(-5*time.Minute).Format(departureLayout))
	}))
	defer srv.Close()

	src := NewSource(Config{
		ClientID:             "id",
		ClientSecret:         "secret",
		StationEVA:           "8000001",
		BaseURL:              srv.URL,
		OutboundDestinations: []string{"Vorort"},
	}, nil)
	src.now = func() time.Time { return now }

	snap, err := src.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Valid)
	assert.Equal(t, monitor.NameTransit, snap.Monitor)
	require.NotNil(t, snap.Transit)
	assert.Equal(t, 14, snap.Transit.NextInboundMinutes)
	assert.Equal(t, int32(2), requests.Load(), "should fetch current and next hour")
	assert.True(t, sawHeaders.Load())
}

func TestPollReportsNoTrainAsNegativeOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hours without planned stops answer with an empty body.
	}))
	defer srv.Close()

	src := NewSource(Config{ClientID: "id", ClientSecret: "secret", BaseURL: srv.URL}, nil)

	snap, err := src.Poll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Transit)
	assert.Equal(t, -1, snap.Transit.NextInboundMinutes)
}

func TestPollFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewSource(Config{ClientID: "id", ClientSecret: "secret", BaseURL: srv.URL}, nil)

	_, err := src.Poll(context.Background())
	require.Error(t, err)
}

func TestPollFailsOnMalformedTimetable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"not": "xml"}`)
	}))
	defer srv.Close()

	src := NewSource(Config{ClientID: "id", ClientSecret: "secret", BaseURL: srv.URL}, nil)

	_, err := src.Poll(context.Background())
	require.Error(t, err)
}
