package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/weatherwise/weather-store/internal/config"
	"github.com/weatherwise/weather-store/internal/models"
	"github.com/weatherwise/weather-store/internal/observability"
	"github.com/weatherwise/weather-store/internal/store"
	"github.com/weatherwise/weather-store/internal/worker"
)

// Provider is the slice of the OpenWeather client the manager needs.
type Provider interface {
	CurrentWeather(ctx context.Context, location string) (*models.Observation, error)
	Forecast(ctx context.Context, location string) ([]*models.Forecast, error)
}

// Manager polls the weather provider for each configured location and pushes
// readings through the store's validating write path via the worker pool. The
// store never initiates fetches itself; this package is the external
// ingestion collaborator.
type Manager struct {
	cfg      *config.Config
	st       store.Store
	provider Provider
	metrics  *observability.Metrics
	pool     *worker.Pool
	wg       sync.WaitGroup
}

func NewManager(cfg *config.Config, st store.Store, provider Provider, metrics *observability.Metrics) *Manager {
	return &Manager{
		cfg:      cfg,
		st:       st,
		provider: provider,
		metrics:  metrics,
	}
}

func (m *Manager) Start(ctx context.Context) {
	processor := func(ctx context.Context, job worker.Job) error {
		switch r := job.(type) {
		case *models.Observation:
			_, err := m.st.AddObservation(ctx, r)
			m.recordWrite("observation", err)
			if err != nil {
				slog.Error("error adding observation", "location", r.Location, "error", err)
				return err
			}
			slog.Info("added observation", "location", r.Location, "timestamp", r.Timestamp)
		case *models.Forecast:
			_, err := m.st.AddForecast(ctx, r)
			m.recordWrite("forecast", err)
			if err != nil {
				slog.Error("error adding forecast", "location", r.Location, "error", err)
				return err
			}
		}
		return nil
	}

	m.pool = worker.NewPool(m.cfg.Worker.Count, m.cfg.Worker.BufferSize, processor)
	m.pool.Start(ctx)

	if m.cfg.Provider.Enabled {
		m.wg.Add(1)
		go m.runPoller(ctx)
	}
}

func (m *Manager) runPoller(ctx context.Context) {
	defer m.wg.Done()
	slog.Info("starting provider poller",
		"interval", m.cfg.Provider.PollInterval,
		"locations", m.cfg.Provider.Locations)

	if m.metrics != nil {
		m.metrics.PollerRunning.Set(1)
		defer m.metrics.PollerRunning.Set(0)
	}

	ticker := time.NewTicker(m.cfg.Provider.PollInterval)
	defer ticker.Stop()

	// Initial poll
	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("provider poller shutting down")
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Manager) poll(ctx context.Context) {
	start := time.Now()
	count := 0

	for _, location := range m.cfg.Provider.Locations {
		obs, err := m.provider.CurrentWeather(ctx, location)
		if err != nil {
			slog.Error("current weather poll failed", "location", location, "error", err)
		} else {
			m.pool.Submit(obs)
			count++
		}

		forecasts, err := m.provider.Forecast(ctx, location)
		if err != nil {
			slog.Error("forecast poll failed", "location", location, "error", err)
			continue
		}
		for _, f := range forecasts {
			m.pool.Submit(f)
			count++
		}
	}

	if m.metrics != nil {
		m.metrics.PollDuration.Observe(time.Since(start).Seconds())
	}
	slog.Debug("poll complete", "submitted", count)
}

func (m *Manager) Stop() {
	m.wg.Wait()
	m.pool.Stop()
	slog.Info("ingestion manager stopped")
}

func (m *Manager) recordWrite(kind string, err error) {
	if m.metrics == nil {
		return
	}
	outcome := "ok"
	var verr *store.ValidationError
	if errors.As(err, &verr) {
		outcome = "rejected"
		m.metrics.ValidationFailures.WithLabelValues(verr.Field).Inc()
	} else if err != nil {
		outcome = "error"
	}
	m.metrics.WritesTotal.WithLabelValues(kind, outcome).Inc()
}
