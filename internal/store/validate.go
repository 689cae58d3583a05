package store

import (
	"time"

	"github.com/weatherwise/weather-store/internal/models"
)

// Write-path validation. Checks run in a fixed order and the first violation
// wins; nothing is persisted on failure.

func validateObservation(o *models.Observation) error {
	if o.Location == "" {
		return &ValidationError{Field: "location", Reason: "must not be empty"}
	}
	if o.Latitude < -90 || o.Latitude > 90 {
		return &ValidationError{Field: "latitude", Reason: "must be between -90 and 90"}
	}
	if o.Longitude < -180 || o.Longitude > 180 {
		return &ValidationError{Field: "longitude", Reason: "must be between -180 and 180"}
	}
	if o.Humidity < 0 || o.Humidity > 100 {
		return &ValidationError{Field: "humidity", Reason: "must be between 0 and 100"}
	}
	if o.WindDirection < 0 || o.WindDirection > 360 {
		return &ValidationError{Field: "wind_direction", Reason: "must be between 0 and 360"}
	}
	if o.WindSpeed < 0 {
		return &ValidationError{Field: "wind_speed", Reason: "must not be negative"}
	}
	if o.Pressure <= 0 {
		return &ValidationError{Field: "pressure", Reason: "must be positive"}
	}
	if o.WeatherCondition == "" {
		return &ValidationError{Field: "weather_condition", Reason: "must not be empty"}
	}
	if o.Visibility != nil && *o.Visibility < 0 {
		return &ValidationError{Field: "visibility", Reason: "must not be negative"}
	}
	if o.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "is required"}
	}
	return nil
}

func validateForecast(f *models.Forecast) error {
	if f.Location == "" {
		return &ValidationError{Field: "location", Reason: "must not be empty"}
	}
	if f.Latitude < -90 || f.Latitude > 90 {
		return &ValidationError{Field: "latitude", Reason: "must be between -90 and 90"}
	}
	if f.Longitude < -180 || f.Longitude > 180 {
		return &ValidationError{Field: "longitude", Reason: "must be between -180 and 180"}
	}
	if f.ForecastDate.IsZero() {
		return &ValidationError{Field: "forecast_date", Reason: "is required"}
	}
	if f.TemperatureMin != nil && f.TemperatureMax != nil && *f.TemperatureMin > *f.TemperatureMax {
		return &ValidationError{Field: "temperature_min", Reason: "must not exceed temperature_max"}
	}
	if f.Humidity != nil && (*f.Humidity < 0 || *f.Humidity > 100) {
		return &ValidationError{Field: "humidity", Reason: "must be between 0 and 100"}
	}
	if f.WindSpeed != nil && *f.WindSpeed < 0 {
		return &ValidationError{Field: "wind_speed", Reason: "must not be negative"}
	}
	if f.WindDirection != nil && (*f.WindDirection < 0 || *f.WindDirection > 360) {
		return &ValidationError{Field: "wind_direction", Reason: "must be between 0 and 360"}
	}
	if f.Pressure != nil && *f.Pressure <= 0 {
		return &ValidationError{Field: "pressure", Reason: "must be positive"}
	}
	if f.PrecipitationProbability != nil && (*f.PrecipitationProbability < 0 || *f.PrecipitationProbability > 100) {
		return &ValidationError{Field: "precipitation_probability", Reason: "must be between 0 and 100"}
	}
	return nil
}

func validateNewAlert(a *models.Alert) error {
	if a.Type == "" {
		return &ValidationError{Field: "alert_type", Reason: "must not be empty"}
	}
	if !a.Severity.Valid() {
		return &ValidationError{Field: "severity_level", Reason: "must be one of LOW, MODERATE, HIGH, CRITICAL"}
	}
	if a.Title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if a.StartTime.IsZero() {
		return &ValidationError{Field: "start_time", Reason: "is required"}
	}
	if a.EndTime != nil && a.EndTime.Before(a.StartTime) {
		return &ValidationError{Field: "end_time", Reason: "must not precede start_time"}
	}
	return nil
}

// validateAlertUpdate checks a partial update against the stored alert.
// Terminal-state and end-time rules need the current row, so this runs inside
// the update transaction after the read.
func validateAlertUpdate(cur *models.Alert, upd models.AlertUpdate) error {
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return &ValidationError{Field: "status", Reason: "must be one of ACTIVE, EXPIRED, CANCELLED"}
		}
		if cur.Status.Terminal() {
			return &StateConflictError{ID: cur.ID, Status: cur.Status}
		}
	}
	if upd.EndTime != nil && upd.EndTime.Before(cur.StartTime) {
		return &ValidationError{Field: "end_time", Reason: "must not precede start_time"}
	}
	return nil
}

// storeTimeLayout is fixed-width so stored timestamps sort lexicographically.
const storeTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t time.Time) string {
	return t.UTC().Format(storeTimeLayout)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(storeTimeLayout, s)
}
