package store

import (
	"context"
	"time"

	"github.com/weatherwise/weather-store/internal/models"
)

// Filters combine with logical AND; a nil field means no restriction.
// Results are ordered most-recent-first (created_at DESC) so limit/offset
// paginate stably.

type ObservationFilter struct {
	Location *string // case-insensitive substring match
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

type ForecastFilter struct {
	Location *string
	From     *time.Time // bounds on forecast_date
	To       *time.Time
	Limit    int
	Offset   int
}

type AlertFilter struct {
	Status   *models.AlertStatus
	Type     *string
	Severity *models.AlertSeverity
	Location *string // substring match against affected areas and title
	Limit    int
	Offset   int
}

type ObservationStore interface {
	AddObservation(ctx context.Context, o *models.Observation) (*models.Observation, error)
	ListObservations(ctx context.Context, f ObservationFilter) ([]models.Observation, error)
	// LatestObservation returns the most recent reading (by observation
	// timestamp) for an exact location name.
	LatestObservation(ctx context.Context, location string) (*models.Observation, error)
}

type ForecastStore interface {
	AddForecast(ctx context.Context, f *models.Forecast) (*models.Forecast, error)
	ListForecasts(ctx context.Context, f ForecastFilter) ([]models.Forecast, error)
}

type AlertStore interface {
	// CreateAlert persists a new alert. Status is forced to ACTIVE regardless
	// of caller input; created_at and updated_at are set equal.
	CreateAlert(ctx context.Context, a *models.Alert) (*models.Alert, error)
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	// UpdateAlert applies a partial update under an optimistic version check
	// keyed on updated_at. Transitions out of EXPIRED or CANCELLED fail with
	// StateConflictError.
	UpdateAlert(ctx context.Context, id string, upd models.AlertUpdate) (*models.Alert, error)
	ListAlerts(ctx context.Context, f AlertFilter) ([]models.Alert, error)
}

// Store is the full weather & alert persistence contract.
type Store interface {
	ObservationStore
	ForecastStore
	AlertStore
	Close() error
}
