package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"

	"github.com/weatherwise/weather-store/internal/models"
)

// Postgres is the production store. Its schema is the compatibility contract:
// column names, decimal precisions, and indexes must not drift.
type Postgres struct {
	db    *sqlx.DB
	clock clockwork.Clock

	mu     sync.Mutex
	lastTS time.Time
}

func NewPostgres(dsn string, clock clockwork.Clock) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("connecting to postgres: %w", err)}
	}

	p := &Postgres{db: db, clock: clock}
	if err := p.migrate(); err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("migrating database: %w", err)}
	}

	return p, nil
}

func (p *Postgres) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS current_weather (
			id UUID PRIMARY KEY,
			location VARCHAR(255) NOT NULL,
			latitude DECIMAL(10,8) NOT NULL,
			longitude DECIMAL(11,8) NOT NULL,
			temperature DECIMAL(5,2) NOT NULL,
			humidity INTEGER NOT NULL,
			wind_speed DECIMAL(5,2) NOT NULL,
			wind_direction INTEGER NOT NULL,
			pressure DECIMAL(7,2) NOT NULL,
			weather_condition VARCHAR(50) NOT NULL,
			weather_description VARCHAR(255),
			visibility DECIMAL(5,2),
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS weather_forecasts (
			id UUID PRIMARY KEY,
			location VARCHAR(255) NOT NULL,
			latitude DECIMAL(10,8) NOT NULL,
			longitude DECIMAL(11,8) NOT NULL,
			forecast_date TIMESTAMP WITH TIME ZONE NOT NULL,
			temperature_min DECIMAL(5,2),
			temperature_max DECIMAL(5,2),
			humidity INTEGER,
			wind_speed DECIMAL(5,2),
			wind_direction INTEGER,
			pressure DECIMAL(7,2),
			weather_condition VARCHAR(50),
			weather_description VARCHAR(255),
			precipitation_probability INTEGER,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS disaster_alerts (
			id UUID PRIMARY KEY,
			alert_type VARCHAR(50) NOT NULL,
			severity_level VARCHAR(20) NOT NULL,
			title VARCHAR(255) NOT NULL,
			description TEXT,
			affected_areas JSONB,
			start_time TIMESTAMP WITH TIME ZONE NOT NULL,
			end_time TIMESTAMP WITH TIME ZONE,
			status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_current_weather_location ON current_weather(location);
		CREATE INDEX IF NOT EXISTS idx_current_weather_timestamp ON current_weather(timestamp);
		CREATE INDEX IF NOT EXISTS idx_weather_forecasts_location ON weather_forecasts(location);
		CREATE INDEX IF NOT EXISTS idx_weather_forecasts_date ON weather_forecasts(forecast_date);
		CREATE INDEX IF NOT EXISTS idx_disaster_alerts_type ON disaster_alerts(alert_type);
		CREATE INDEX IF NOT EXISTS idx_disaster_alerts_status ON disaster_alerts(status);
	`

	_, err := p.db.Exec(schema)
	return err
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) now() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Truncate to microseconds up front so the value round-trips through
	// timestamptz unchanged, which the optimistic update check depends on.
	t := p.clock.Now().UTC().Truncate(time.Microsecond)
	if t.Before(p.lastTS) {
		t = p.lastTS
	}
	p.lastTS = t
	return t
}

type pgObservationRow struct {
	ID                 string          `db:"id"`
	Location           string          `db:"location"`
	Latitude           float64         `db:"latitude"`
	Longitude          float64         `db:"longitude"`
	Temperature        float64         `db:"temperature"`
	Humidity           int             `db:"humidity"`
	WindSpeed          float64         `db:"wind_speed"`
	WindDirection      int             `db:"wind_direction"`
	Pressure           float64         `db:"pressure"`
	WeatherCondition   string          `db:"weather_condition"`
	WeatherDescription sql.NullString  `db:"weather_description"`
	Visibility         sql.NullFloat64 `db:"visibility"`
	Timestamp          time.Time       `db:"timestamp"`
	CreatedAt          time.Time       `db:"created_at"`
}

func (r pgObservationRow) toModel() models.Observation {
	o := models.Observation{
		ID:               r.ID,
		Location:         r.Location,
		Latitude:         r.Latitude,
		Longitude:        r.Longitude,
		Temperature:      r.Temperature,
		Humidity:         r.Humidity,
		WindSpeed:        r.WindSpeed,
		WindDirection:    r.WindDirection,
		Pressure:         r.Pressure,
		WeatherCondition: r.WeatherCondition,
		Timestamp:        r.Timestamp.UTC(),
		CreatedAt:        r.CreatedAt.UTC(),
	}
	o.WeatherDescription = r.WeatherDescription.String
	if r.Visibility.Valid {
		o.Visibility = &r.Visibility.Float64
	}
	return o
}

func (p *Postgres) AddObservation(ctx context.Context, o *models.Observation) (*models.Observation, error) {
	if err := validateObservation(o); err != nil {
		return nil, err
	}

	stored := *o
	stored.ID = uuid.NewString()
	stored.CreatedAt = p.now()
	stored.Timestamp = stored.Timestamp.UTC()

	var visibility sql.NullFloat64
	if stored.Visibility != nil {
		visibility = sql.NullFloat64{Float64: *stored.Visibility, Valid: true}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO current_weather (
			id, location, latitude, longitude, temperature, humidity,
			wind_speed, wind_direction, pressure, weather_condition,
			weather_description, visibility, timestamp, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		stored.ID, stored.Location, stored.Latitude, stored.Longitude,
		stored.Temperature, stored.Humidity, stored.WindSpeed, stored.WindDirection,
		stored.Pressure, stored.WeatherCondition, nullString(stored.WeatherDescription),
		visibility, stored.Timestamp, stored.CreatedAt,
	)
	if err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("inserting observation: %w", err)}
	}
	return &stored, nil
}

func (p *Postgres) ListObservations(ctx context.Context, f ObservationFilter) ([]models.Observation, error) {
	query := `
		SELECT id, location, latitude, longitude, temperature, humidity,
			wind_speed, wind_direction, pressure, weather_condition,
			weather_description, visibility, timestamp, created_at
		FROM current_weather WHERE 1=1`
	var args []any

	if f.Location != nil {
		args = append(args, "%"+*f.Location+"%")
		query += fmt.Sprintf(` AND location ILIKE $%d`, len(args))
	}
	if f.From != nil {
		args = append(args, f.From.UTC())
		query += fmt.Sprintf(` AND timestamp >= $%d`, len(args))
	}
	if f.To != nil {
		args = append(args, f.To.UTC())
		query += fmt.Sprintf(` AND timestamp <= $%d`, len(args))
	}

	query += ` ORDER BY created_at DESC, id DESC`
	query, args = pgLimitOffset(query, args, f.Limit, f.Offset)

	var rows []pgObservationRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("listing observations: %w", err)}
	}

	out := make([]models.Observation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (p *Postgres) LatestObservation(ctx context.Context, location string) (*models.Observation, error) {
	var r pgObservationRow
	err := p.db.GetContext(ctx, &r, `
		SELECT id, location, latitude, longitude, temperature, humidity,
			wind_speed, wind_direction, pressure, weather_condition,
			weather_description, visibility, timestamp, created_at
		FROM current_weather
		WHERE location = $1
		ORDER BY timestamp DESC, created_at DESC
		LIMIT 1`, location)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "observation", ID: location}
	}
	if err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("fetching latest observation: %w", err)}
	}
	o := r.toModel()
	return &o, nil
}

type pgForecastRow struct {
	ID                       string          `db:"id"`
	Location                 string          `db:"location"`
	Latitude                 float64         `db:"latitude"`
	Longitude                float64         `db:"longitude"`
	ForecastDate             time.Time       `db:"forecast_date"`
	TemperatureMin           sql.NullFloat64 `db:"temperature_min"`
	TemperatureMax           sql.NullFloat64 `db:"temperature_max"`
	Humidity                 sql.NullInt64   `db:"humidity"`
	WindSpeed                sql.NullFloat64 `db:"wind_speed"`
	WindDirection            sql.NullInt64   `db:"wind_direction"`
	Pressure                 sql.NullFloat64 `db:"pressure"`
	WeatherCondition         sql.NullString  `db:"weather_condition"`
	WeatherDescription       sql.NullString  `db:"weather_description"`
	PrecipitationProbability sql.NullInt64   `db:"precipitation_probability"`
	CreatedAt                time.Time       `db:"created_at"`
}

func (r pgForecastRow) toModel() models.Forecast {
	f := models.Forecast{
		ID:                 r.ID,
		Location:           r.Location,
		Latitude:           r.Latitude,
		Longitude:          r.Longitude,
		ForecastDate:       r.ForecastDate.UTC(),
		WeatherCondition:   r.WeatherCondition.String,
		WeatherDescription: r.WeatherDescription.String,
		CreatedAt:          r.CreatedAt.UTC(),
	}
	if r.TemperatureMin.Valid {
		f.TemperatureMin = &r.TemperatureMin.Float64
	}
	if r.TemperatureMax.Valid {
		f.TemperatureMax = &r.TemperatureMax.Float64
	}
	if r.Humidity.Valid {
		h := int(r.Humidity.Int64)
		f.Humidity = &h
	}
	if r.WindSpeed.Valid {
		f.WindSpeed = &r.WindSpeed.Float64
	}
	if r.WindDirection.Valid {
		d := int(r.WindDirection.Int64)
		f.WindDirection = &d
	}
	if r.Pressure.Valid {
		f.Pressure = &r.Pressure.Float64
	}
	if r.PrecipitationProbability.Valid {
		pop := int(r.PrecipitationProbability.Int64)
		f.PrecipitationProbability = &pop
	}
	return f
}

func (p *Postgres) AddForecast(ctx context.Context, f *models.Forecast) (*models.Forecast, error) {
	if err := validateForecast(f); err != nil {
		return nil, err
	}

	stored := *f
	stored.ID = uuid.NewString()
	stored.CreatedAt = p.now()
	stored.ForecastDate = stored.ForecastDate.UTC()

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO weather_forecasts (
			id, location, latitude, longitude, forecast_date,
			temperature_min, temperature_max, humidity, wind_speed,
			wind_direction, pressure, weather_condition, weather_description,
			precipitation_probability, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		stored.ID, stored.Location, stored.Latitude, stored.Longitude, stored.ForecastDate,
		nullFloat(stored.TemperatureMin), nullFloat(stored.TemperatureMax),
		nullInt(stored.Humidity), nullFloat(stored.WindSpeed),
		nullInt(stored.WindDirection), nullFloat(stored.Pressure),
		nullString(stored.WeatherCondition), nullString(stored.WeatherDescription),
		nullInt(stored.PrecipitationProbability), stored.CreatedAt,
	)
	if err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("inserting forecast: %w", err)}
	}
	return &stored, nil
}

func (p *Postgres) ListForecasts(ctx context.Context, f ForecastFilter) ([]models.Forecast, error) {
	query := `
		SELECT id, location, latitude, longitude, forecast_date,
			temperature_min, temperature_max, humidity, wind_speed,
			wind_direction, pressure, weather_condition, weather_description,
			precipitation_probability, created_at
		FROM weather_forecasts WHERE 1=1`
	var args []any

	if f.Location != nil {
		args = append(args, "%"+*f.Location+"%")
		query += fmt.Sprintf(` AND location ILIKE $%d`, len(args))
	}
	if f.From != nil {
		args = append(args, f.From.UTC())
		query += fmt.Sprintf(` AND forecast_date >= $%d`, len(args))
	}
	if f.To != nil {
		args = append(args, f.To.UTC())
		query += fmt.Sprintf(` AND forecast_date <= $%d`, len(args))
	}

	query += ` ORDER BY created_at DESC, id DESC`
	query, args = pgLimitOffset(query, args, f.Limit, f.Offset)

	var rows []pgForecastRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("listing forecasts: %w", err)}
	}

	out := make([]models.Forecast, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

type pgAlertRow struct {
	ID            string         `db:"id"`
	AlertType     string         `db:"alert_type"`
	SeverityLevel string         `db:"severity_level"`
	Title         string         `db:"title"`
	Description   sql.NullString `db:"description"`
	AffectedAreas []byte         `db:"affected_areas"`
	StartTime     time.Time      `db:"start_time"`
	EndTime       sql.NullTime   `db:"end_time"`
	Status        string         `db:"status"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r pgAlertRow) toModel() (models.Alert, error) {
	a := models.Alert{
		ID:          r.ID,
		Type:        r.AlertType,
		Severity:    models.AlertSeverity(r.SeverityLevel),
		Title:       r.Title,
		Description: r.Description.String,
		StartTime:   r.StartTime.UTC(),
		Status:      models.AlertStatus(r.Status),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if len(r.AffectedAreas) > 0 {
		if err := json.Unmarshal(r.AffectedAreas, &a.AffectedAreas); err != nil {
			return a, fmt.Errorf("decoding affected_areas: %w", err)
		}
	}
	if r.EndTime.Valid {
		t := r.EndTime.Time.UTC()
		a.EndTime = &t
	}
	return a, nil
}

const pgSelectAlert = `
	SELECT id, alert_type, severity_level, title, description, affected_areas,
		start_time, end_time, status, created_at, updated_at
	FROM disaster_alerts`

func (p *Postgres) CreateAlert(ctx context.Context, a *models.Alert) (*models.Alert, error) {
	if err := validateNewAlert(a); err != nil {
		return nil, err
	}

	stored := *a
	stored.ID = uuid.NewString()
	stored.Status = models.AlertStatusActive
	now := p.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.StartTime = stored.StartTime.UTC()
	if stored.EndTime != nil {
		t := stored.EndTime.UTC()
		stored.EndTime = &t
	}

	var areas []byte
	if len(stored.AffectedAreas) > 0 {
		var err error
		areas, err = json.Marshal(stored.AffectedAreas)
		if err != nil {
			return nil, fmt.Errorf("encoding affected_areas: %w", err)
		}
	}

	var endTime sql.NullTime
	if stored.EndTime != nil {
		endTime = sql.NullTime{Time: *stored.EndTime, Valid: true}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disaster_alerts (
			id, alert_type, severity_level, title, description, affected_areas,
			start_time, end_time, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		stored.ID, stored.Type, string(stored.Severity), stored.Title,
		nullString(stored.Description), areas, stored.StartTime, endTime,
		string(stored.Status), stored.CreatedAt, stored.UpdatedAt,
	)
	if err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("inserting alert: %w", err)}
	}
	return &stored, nil
}

func (p *Postgres) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	var r pgAlertRow
	err := p.db.GetContext(ctx, &r, pgSelectAlert+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "alert", ID: id}
	}
	if err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("fetching alert: %w", err)}
	}
	a, err := r.toModel()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *Postgres) UpdateAlert(ctx context.Context, id string, upd models.AlertUpdate) (*models.Alert, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("beginning update: %w", err)}
	}
	defer tx.Rollback()

	var r pgAlertRow
	err = tx.GetContext(ctx, &r, pgSelectAlert+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "alert", ID: id}
	}
	if err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("fetching alert: %w", err)}
	}
	cur, err := r.toModel()
	if err != nil {
		return nil, err
	}

	if err := validateAlertUpdate(&cur, upd); err != nil {
		return nil, err
	}

	next := cur
	if upd.Status != nil {
		next.Status = *upd.Status
	}
	if upd.Description != nil {
		next.Description = *upd.Description
	}
	if upd.EndTime != nil {
		t := upd.EndTime.UTC()
		next.EndTime = &t
	}
	next.UpdatedAt = p.now()
	if !next.UpdatedAt.After(cur.UpdatedAt) {
		next.UpdatedAt = cur.UpdatedAt.Add(time.Microsecond)
	}

	var endTime sql.NullTime
	if next.EndTime != nil {
		endTime = sql.NullTime{Time: *next.EndTime, Valid: true}
	}

	// Optimistic version check keyed on updated_at (see UpdateAlert contract).
	res, err := tx.ExecContext(ctx, `
		UPDATE disaster_alerts
		SET status = $1, description = $2, end_time = $3, updated_at = $4
		WHERE id = $5 AND updated_at = $6`,
		string(next.Status), nullString(next.Description), endTime,
		next.UpdatedAt, id, cur.UpdatedAt,
	)
	if err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("updating alert: %w", err)}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, &StorageUnavailableError{Err: err}
	}
	if n == 0 {
		return nil, &ConcurrencyConflictError{ID: id}
	}

	if err := tx.Commit(); err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("committing update: %w", err)}
	}
	return &next, nil
}

func (p *Postgres) ListAlerts(ctx context.Context, f AlertFilter) ([]models.Alert, error) {
	query := pgSelectAlert + ` WHERE 1=1`
	var args []any

	if f.Status != nil {
		args = append(args, string(*f.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.Type != nil {
		args = append(args, *f.Type)
		query += fmt.Sprintf(` AND alert_type = $%d`, len(args))
	}
	if f.Severity != nil {
		args = append(args, string(*f.Severity))
		query += fmt.Sprintf(` AND severity_level = $%d`, len(args))
	}
	if f.Location != nil {
		args = append(args, "%"+*f.Location+"%")
		query += fmt.Sprintf(` AND (coalesce(affected_areas::text, '') ILIKE $%d OR title ILIKE $%d)`, len(args), len(args))
	}

	query += ` ORDER BY created_at DESC, id DESC`
	query, args = pgLimitOffset(query, args, f.Limit, f.Offset)

	var rows []pgAlertRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("listing alerts: %w", err)}
	}

	out := make([]models.Alert, 0, len(rows))
	for _, r := range rows {
		a, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func pgLimitOffset(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	return query, args
}
