package ingestion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const currentWeatherBody = `{
	"coord": {"lat": 14.5995, "lon": 120.9842},
	"weather": [{"main": "Rain", "description": "moderate rain"}],
	"main": {"temp": 27.3, "temp_min": 26.0, "temp_max": 29.0, "pressure": 1008, "humidity": 88},
	"wind": {"speed": 12.4, "deg": 210},
	"visibility": 8000,
	"dt": 1755345600
}`

const forecastBody = `{
	"city": {"coord": {"lat": 14.5995, "lon": 120.9842}},
	"list": [
		{
			"dt": 1755432000,
			"main": {"temp": 28.0, "temp_min": 25.5, "temp_max": 30.2, "pressure": 1010, "humidity": 80},
			"weather": [{"main": "Clouds", "description": "scattered clouds"}],
			"wind": {"speed": 9.1, "deg": 180},
			"pop": 0.75
		},
		{
			"dt": 1755442800,
			"main": {"temp": 27.0, "temp_min": 24.9, "temp_max": 28.8, "pressure": 1011, "humidity": 84},
			"weather": [],
			"wind": {"speed": 7.5, "deg": 190},
			"pop": 0.4
		}
	]
}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("appid"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		assert.Equal(t, "Manila,PH", r.URL.Query().Get("q"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/weather":
			w.Write([]byte(currentWeatherBody))
		case "/forecast":
			w.Write([]byte(forecastBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(http.DefaultTransport.(*http.Transport).CloseIdleConnections)
	return srv
}

func TestClient_CurrentWeather(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL, "test-key")

	o, err := client.CurrentWeather(context.Background(), "Manila,PH")
	require.NoError(t, err)

	assert.Equal(t, "Manila,PH", o.Location)
	assert.Equal(t, 14.5995, o.Latitude)
	assert.Equal(t, 27.3, o.Temperature)
	assert.Equal(t, 88, o.Humidity)
	assert.Equal(t, 210, o.WindDirection)
	assert.Equal(t, "Rain", o.WeatherCondition)
	assert.Equal(t, "moderate rain", o.WeatherDescription)

	// Provider reports visibility in meters, stored in kilometers
	require.NotNil(t, o.Visibility)
	assert.Equal(t, 8.0, *o.Visibility)

	assert.Equal(t, time.Unix(1755345600, 0).UTC(), o.Timestamp)
}

func TestClient_Forecast(t *testing.T) {
	srv := newTestServer(t)
	client := NewClient(srv.URL, "test-key")

	forecasts, err := client.Forecast(context.Background(), "Manila,PH")
	require.NoError(t, err)

	// The second list entry has no weather block and is skipped
	require.Len(t, forecasts, 1)
	f := forecasts[0]

	assert.Equal(t, "Manila,PH", f.Location)
	assert.Equal(t, time.Unix(1755432000, 0).UTC(), f.ForecastDate)
	require.NotNil(t, f.TemperatureMin)
	assert.Equal(t, 25.5, *f.TemperatureMin)
	require.NotNil(t, f.TemperatureMax)
	assert.Equal(t, 30.2, *f.TemperatureMax)

	// pop 0.75 becomes a 75% precipitation probability
	require.NotNil(t, f.PrecipitationProbability)
	assert.Equal(t, 75, *f.PrecipitationProbability)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	defer http.DefaultTransport.(*http.Transport).CloseIdleConnections()

	client := NewClient(srv.URL, "bad-key")
	_, err := client.CurrentWeather(context.Background(), "Manila,PH")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestClient_EmptyWeatherBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"weather": [], "main": {}, "wind": {}, "dt": 1755345600}`))
	}))
	defer srv.Close()
	defer http.DefaultTransport.(*http.Transport).CloseIdleConnections()

	client := NewClient(srv.URL, "test-key")
	_, err := client.CurrentWeather(context.Background(), "Manila,PH")
	require.Error(t, err)
}
