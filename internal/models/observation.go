package models

import "time"

// Observation is a single point-in-time weather reading tied to a location.
// Observations are immutable once written; a new provider reading is a new record.
type Observation struct {
	ID                 string
	Location           string
	Latitude           float64
	Longitude          float64
	Temperature        float64 // °C
	Humidity           int     // percent, 0-100
	WindSpeed          float64 // km/h
	WindDirection      int     // degrees, 0-360
	Pressure           float64 // hPa
	WeatherCondition   string
	WeatherDescription string
	Visibility         *float64  // km, optional
	Timestamp          time.Time // when the reading applies, caller-supplied
	CreatedAt          time.Time // when the store persisted it, store-assigned
}
