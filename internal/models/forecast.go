package models

import "time"

// Forecast is a predicted condition for a target date. Repeated fetches for the
// same (location, forecast date) produce new rows; the latest created_at wins at
// query time.
type Forecast struct {
	ID                       string
	Location                 string
	Latitude                 float64
	Longitude                float64
	ForecastDate             time.Time
	TemperatureMin           *float64
	TemperatureMax           *float64
	Humidity                 *int
	WindSpeed                *float64
	WindDirection            *int
	Pressure                 *float64
	WeatherCondition         string
	WeatherDescription       string
	PrecipitationProbability *int // percent, 0-100
	CreatedAt                time.Time
}
