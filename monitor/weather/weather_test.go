package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiagofranzen/pi-traffic-light/monitor"
)

func TestEnabledRequiresAPIKey(t *testing.T) {
	assert.False(t, NewSource(Config{}, nil).Enabled())
	assert.True(t, NewSource(Config{APIKey: "key"}, nil).Enabled())
}

func TestPollParsesConditions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.URL.Query().Get("appid"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		fmt.Fprint(w, `{"weather":[{"main":"Snow"}],"main":{"temp":-1.5}}`)
	}))
	defer srv.Close()

	src := NewSource(Config{APIKey: "key", Latitude: 52.52, Longitude: 13.4, BaseURL: srv.URL}, nil)

	snap, err := src.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Valid)
	assert.Equal(t, monitor.NameWeather, snap.Monitor)
	require.NotNil(t, snap.Weather)
	assert.Equal(t, "Snow", snap.Weather.Condition)
	assert.InDelta(t, -1.5, snap.Weather.TempCelsius, 0.001)
	assert.True(t, snap.Weather.Precipitation)
}

func TestPollClearSkyIsNotPrecipitation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"weather":[{"main":"Clear"}],"main":{"temp":18.0}}`)
	}))
	defer srv.Close()

	src := NewSource(Config{APIKey: "key", BaseURL: srv.URL}, nil)

	snap, err := src.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Weather.Precipitation)
}

func TestPollFailsOnEmptyConditionList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"weather":[],"main":{"temp":10}}`)
	}))
	defer srv.Close()

	src := NewSource(Config{APIKey: "key", BaseURL: srv.URL}, nil)

	_, err := src.Poll(context.Background())
	require.Error(t, err)
}

func TestPollFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	src := NewSource(Config{APIKey: "key", BaseURL: srv.URL}, nil)

	_, err := src.Poll(context.Background())
	require.Error(t, err)
}
