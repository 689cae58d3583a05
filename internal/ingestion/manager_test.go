package ingestion

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/weatherwise/weather-store/internal/config"
	"github.com/weatherwise/weather-store/internal/models"
	"github.com/weatherwise/weather-store/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingStore struct {
	mu           sync.Mutex
	observations []*models.Observation
	forecasts    []*models.Forecast
}

func (r *recordingStore) AddObservation(_ context.Context, o *models.Observation) (*models.Observation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observations = append(r.observations, o)
	return o, nil
}

func (r *recordingStore) AddForecast(_ context.Context, f *models.Forecast) (*models.Forecast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forecasts = append(r.forecasts, f)
	return f, nil
}

func (r *recordingStore) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observations), len(r.forecasts)
}

func (r *recordingStore) ListObservations(_ context.Context, _ store.ObservationFilter) ([]models.Observation, error) {
	return nil, nil
}

func (r *recordingStore) LatestObservation(_ context.Context, _ string) (*models.Observation, error) {
	return nil, &store.NotFoundError{Kind: "observation"}
}

func (r *recordingStore) ListForecasts(_ context.Context, _ store.ForecastFilter) ([]models.Forecast, error) {
	return nil, nil
}

func (r *recordingStore) CreateAlert(_ context.Context, a *models.Alert) (*models.Alert, error) {
	return a, nil
}

func (r *recordingStore) GetAlert(_ context.Context, id string) (*models.Alert, error) {
	return nil, &store.NotFoundError{Kind: "alert", ID: id}
}

func (r *recordingStore) UpdateAlert(_ context.Context, id string, _ models.AlertUpdate) (*models.Alert, error) {
	return nil, &store.NotFoundError{Kind: "alert", ID: id}
}

func (r *recordingStore) ListAlerts(_ context.Context, _ store.AlertFilter) ([]models.Alert, error) {
	return nil, nil
}

func (r *recordingStore) Close() error { return nil }

type mockProvider struct {
	calls atomic.Int64
}

func (p *mockProvider) CurrentWeather(_ context.Context, location string) (*models.Observation, error) {
	p.calls.Add(1)
	return &models.Observation{
		Location:  location,
		Latitude:  14.5995,
		Longitude: 120.9842,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (p *mockProvider) Forecast(_ context.Context, location string) ([]*models.Forecast, error) {
	return []*models.Forecast{
		{Location: location, ForecastDate: time.Now().UTC().Add(24 * time.Hour)},
		{Location: location, ForecastDate: time.Now().UTC().Add(48 * time.Hour)},
	}, nil
}

func pollerConfig(enabled bool) *config.Config {
	return &config.Config{
		Provider: config.ProviderConfig{
			Enabled:      enabled,
			APIKey:       "test-key",
			PollInterval: time.Hour,
			Locations:    []string{"Manila,PH", "Cebu,PH"},
		},
		Worker: config.WorkerConfig{Count: 2, BufferSize: 20},
	}
}

func TestManager_InitialPoll(t *testing.T) {
	st := &recordingStore{}
	provider := &mockProvider{}
	mgr := NewManager(pollerConfig(true), st, provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	// 2 locations: one observation and two forecasts each
	deadline := time.After(2 * time.Second)
	for {
		obs, fc := st.counts()
		if obs == 2 && fc == 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("poll results never landed: %d observations, %d forecasts", obs, fc)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	mgr.Stop()

	if provider.calls.Load() != 2 {
		t.Errorf("expected one current-weather call per location, got %d", provider.calls.Load())
	}
}

func TestManager_DisabledProviderDoesNotPoll(t *testing.T) {
	st := &recordingStore{}
	provider := &mockProvider{}
	mgr := NewManager(pollerConfig(false), st, provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	time.Sleep(50 * time.Millisecond)

	cancel()
	mgr.Stop()

	if provider.calls.Load() != 0 {
		t.Errorf("expected no provider calls when disabled, got %d", provider.calls.Load())
	}
	if obs, fc := st.counts(); obs != 0 || fc != 0 {
		t.Errorf("expected no writes, got %d observations, %d forecasts", obs, fc)
	}
}
