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
	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/weatherwise/weather-store/internal/models"
)

// SQLite is the embedded store, used for local runs and tests. Timestamps are
// stored as fixed-width UTC strings so range filters and ordering work with
// plain string comparison.
type SQLite struct {
	db    *sql.DB
	clock clockwork.Clock

	mu     sync.Mutex // guards lastTS
	lastTS time.Time
}

func NewSQLite(path string, clock clockwork.Clock) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("opening database: %w", err)}
	}
	// One connection: SQLite serializes writers anyway, and a :memory: path
	// would otherwise give every pooled connection its own database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("pinging database: %w", err)}
	}

	s := &SQLite{db: db, clock: clock}
	if err := s.migrate(); err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("migrating database: %w", err)}
	}

	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS current_weather (
			id TEXT PRIMARY KEY,
			location TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			temperature REAL NOT NULL,
			humidity INTEGER NOT NULL,
			wind_speed REAL NOT NULL,
			wind_direction INTEGER NOT NULL,
			pressure REAL NOT NULL,
			weather_condition TEXT NOT NULL,
			weather_description TEXT,
			visibility REAL,
			timestamp TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS weather_forecasts (
			id TEXT PRIMARY KEY,
			location TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			forecast_date TEXT NOT NULL,
			temperature_min REAL,
			temperature_max REAL,
			humidity INTEGER,
			wind_speed REAL,
			wind_direction INTEGER,
			pressure REAL,
			weather_condition TEXT,
			weather_description TEXT,
			precipitation_probability INTEGER,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS disaster_alerts (
			id TEXT PRIMARY KEY,
			alert_type TEXT NOT NULL,
			severity_level TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			affected_areas TEXT,
			start_time TEXT NOT NULL,
			end_time TEXT,
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_current_weather_location ON current_weather(location);
		CREATE INDEX IF NOT EXISTS idx_current_weather_timestamp ON current_weather(timestamp);
		CREATE INDEX IF NOT EXISTS idx_weather_forecasts_location ON weather_forecasts(location);
		CREATE INDEX IF NOT EXISTS idx_weather_forecasts_date ON weather_forecasts(forecast_date);
		CREATE INDEX IF NOT EXISTS idx_disaster_alerts_type ON disaster_alerts(alert_type);
		CREATE INDEX IF NOT EXISTS idx_disaster_alerts_status ON disaster_alerts(status);
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// now returns a store-assigned timestamp that never decreases across inserts,
// even if the wall clock steps backwards.
func (s *SQLite) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.clock.Now().UTC()
	if t.Before(s.lastTS) {
		t = s.lastTS
	}
	s.lastTS = t
	return t
}

func (s *SQLite) AddObservation(ctx context.Context, o *models.Observation) (*models.Observation, error) {
	if err := validateObservation(o); err != nil {
		return nil, err
	}

	stored := *o
	stored.ID = uuid.NewString()
	stored.CreatedAt = s.now()

	var visibility sql.NullFloat64
	if stored.Visibility != nil {
		visibility = sql.NullFloat64{Float64: *stored.Visibility, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO current_weather (
			id, location, latitude, longitude, temperature, humidity,
			wind_speed, wind_direction, pressure, weather_condition,
			weather_description, visibility, timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.Location, stored.Latitude, stored.Longitude,
		stored.Temperature, stored.Humidity, stored.WindSpeed, stored.WindDirection,
		stored.Pressure, stored.WeatherCondition, nullString(stored.WeatherDescription),
		visibility, encodeTime(stored.Timestamp), encodeTime(stored.CreatedAt),
	)
	if err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("inserting observation: %w", err)}
	}

	stored.Timestamp = stored.Timestamp.UTC()
	return &stored, nil
}

func (s *SQLite) ListObservations(ctx context.Context, f ObservationFilter) ([]models.Observation, error) {
	query := `
		SELECT id, location, latitude, longitude, temperature, humidity,
			wind_speed, wind_direction, pressure, weather_condition,
			weather_description, visibility, timestamp, created_at
		FROM current_weather WHERE 1=1`
	var args []any

	if f.Location != nil {
		query += ` AND lower(location) LIKE '%' || lower(?) || '%'`
		args = append(args, *f.Location)
	}
	if f.From != nil {
		query += ` AND timestamp >= ?`
		args = append(args, encodeTime(*f.From))
	}
	if f.To != nil {
		query += ` AND timestamp <= ?`
		args = append(args, encodeTime(*f.To))
	}

	query += ` ORDER BY created_at DESC, id DESC`
	query, args = appendLimitOffset(query, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("listing observations: %w", err)}
	}
	defer rows.Close()

	var out []models.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageUnavailableError{Err: err}
	}
	return out, nil
}

func (s *SQLite) LatestObservation(ctx context.Context, location string) (*models.Observation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, location, latitude, longitude, temperature, humidity,
			wind_speed, wind_direction, pressure, weather_condition,
			weather_description, visibility, timestamp, created_at
		FROM current_weather
		WHERE location = ?
		ORDER BY timestamp DESC, created_at DESC
		LIMIT 1`, location)

	o, err := scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "observation", ID: location}
	}
	return o, err
}

func (s *SQLite) AddForecast(ctx context.Context, f *models.Forecast) (*models.Forecast, error) {
	if err := validateForecast(f); err != nil {
		return nil, err
	}

	stored := *f
	stored.ID = uuid.NewString()
	stored.CreatedAt = s.now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weather_forecasts (
			id, location, latitude, longitude, forecast_date,
			temperature_min, temperature_max, humidity, wind_speed,
			wind_direction, pressure, weather_condition, weather_description,
			precipitation_probability, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.Location, stored.Latitude, stored.Longitude,
		encodeTime(stored.ForecastDate),
		nullFloat(stored.TemperatureMin), nullFloat(stored.TemperatureMax),
		nullInt(stored.Humidity), nullFloat(stored.WindSpeed),
		nullInt(stored.WindDirection), nullFloat(stored.Pressure),
		nullString(stored.WeatherCondition), nullString(stored.WeatherDescription),
		nullInt(stored.PrecipitationProbability), encodeTime(stored.CreatedAt),
	)
	if err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("inserting forecast: %w", err)}
	}

	stored.ForecastDate = stored.ForecastDate.UTC()
	return &stored, nil
}

func (s *SQLite) ListForecasts(ctx context.Context, f ForecastFilter) ([]models.Forecast, error) {
	query := `
		SELECT id, location, latitude, longitude, forecast_date,
			temperature_min, temperature_max, humidity, wind_speed,
			wind_direction, pressure, weather_condition, weather_description,
			precipitation_probability, created_at
		FROM weather_forecasts WHERE 1=1`
	var args []any

	if f.Location != nil {
		query += ` AND lower(location) LIKE '%' || lower(?) || '%'`
		args = append(args, *f.Location)
	}
	if f.From != nil {
		query += ` AND forecast_date >= ?`
		args = append(args, encodeTime(*f.From))
	}
	if f.To != nil {
		query += ` AND forecast_date <= ?`
		args = append(args, encodeTime(*f.To))
	}

	query += ` ORDER BY created_at DESC, id DESC`
	query, args = appendLimitOffset(query, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("listing forecasts: %w", err)}
	}
	defer rows.Close()

	var out []models.Forecast
	for rows.Next() {
		fc, err := scanForecast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *fc)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageUnavailableError{Err: err}
	}
	return out, nil
}

func (s *SQLite) CreateAlert(ctx context.Context, a *models.Alert) (*models.Alert, error) {
	if err := validateNewAlert(a); err != nil {
		return nil, err
	}

	stored := *a
	stored.ID = uuid.NewString()
	stored.Status = models.AlertStatusActive
	now := s.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	areas, err := encodeAreas(stored.AffectedAreas)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO disaster_alerts (
			id, alert_type, severity_level, title, description, affected_areas,
			start_time, end_time, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.Type, string(stored.Severity), stored.Title,
		nullString(stored.Description), areas, encodeTime(stored.StartTime),
		nullTime(stored.EndTime), string(stored.Status),
		encodeTime(stored.CreatedAt), encodeTime(stored.UpdatedAt),
	)
	if err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("inserting alert: %w", err)}
	}

	stored.StartTime = stored.StartTime.UTC()
	if stored.EndTime != nil {
		t := stored.EndTime.UTC()
		stored.EndTime = &t
	}
	return &stored, nil
}

func (s *SQLite) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, selectAlert+` WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "alert", ID: id}
	}
	return a, err
}

func (s *SQLite) UpdateAlert(ctx context.Context, id string, upd models.AlertUpdate) (*models.Alert, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("beginning update: %w", err)}
	}
	defer tx.Rollback()

	cur, err := scanAlert(tx.QueryRowContext(ctx, selectAlert+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "alert", ID: id}
	}
	if err != nil {
		return nil, err
	}

	if err := validateAlertUpdate(cur, upd); err != nil {
		return nil, err
	}

	next := *cur
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
	next.UpdatedAt = s.now()
	if !next.UpdatedAt.After(cur.UpdatedAt) {
		next.UpdatedAt = cur.UpdatedAt.Add(time.Nanosecond)
	}

	// Optimistic version check: a concurrent writer that committed between our
	// read and this write changes updated_at, so zero rows means we lost.
	res, err := tx.ExecContext(ctx, `
		UPDATE disaster_alerts
		SET status = ?, description = ?, end_time = ?, updated_at = ?
		WHERE id = ? AND updated_at = ?`,
		string(next.Status), nullString(next.Description), nullTime(next.EndTime),
		encodeTime(next.UpdatedAt), id, encodeTime(cur.UpdatedAt),
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

func (s *SQLite) ListAlerts(ctx context.Context, f AlertFilter) ([]models.Alert, error) {
	query := selectAlert + ` WHERE 1=1`
	var args []any

	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*f.Status))
	}
	if f.Type != nil {
		query += ` AND alert_type = ?`
		args = append(args, *f.Type)
	}
	if f.Severity != nil {
		query += ` AND severity_level = ?`
		args = append(args, string(*f.Severity))
	}
	if f.Location != nil {
		query += ` AND (lower(coalesce(affected_areas, '')) LIKE '%' || lower(?) || '%' OR lower(title) LIKE '%' || lower(?) || '%')`
		args = append(args, *f.Location, *f.Location)
	}

	query += ` ORDER BY created_at DESC, id DESC`
	query, args = appendLimitOffset(query, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageUnavailableError{Err: fmt.Errorf("listing alerts: %w", err)}
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageUnavailableError{Err: err}
	}
	return out, nil
}

const selectAlert = `
	SELECT id, alert_type, severity_level, title, description, affected_areas,
		start_time, end_time, status, created_at, updated_at
	FROM disaster_alerts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(row rowScanner) (*models.Observation, error) {
	var (
		o                    models.Observation
		description          sql.NullString
		visibility           sql.NullFloat64
		timestamp, createdAt string
	)
	err := row.Scan(&o.ID, &o.Location, &o.Latitude, &o.Longitude, &o.Temperature,
		&o.Humidity, &o.WindSpeed, &o.WindDirection, &o.Pressure,
		&o.WeatherCondition, &description, &visibility, &timestamp, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, &StorageUnavailableError{Err: fmt.Errorf("scanning observation: %w", err)}
	}

	o.WeatherDescription = description.String
	if visibility.Valid {
		o.Visibility = &visibility.Float64
	}
	if o.Timestamp, err = decodeTime(timestamp); err != nil {
		return nil, fmt.Errorf("decoding observation timestamp: %w", err)
	}
	if o.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("decoding observation created_at: %w", err)
	}
	return &o, nil
}

func scanForecast(row rowScanner) (*models.Forecast, error) {
	var (
		f                       models.Forecast
		tMin, tMax, wind, press sql.NullFloat64
		humidity, windDir, pop  sql.NullInt64
		condition, description  sql.NullString
		forecastDate, createdAt string
	)
	err := row.Scan(&f.ID, &f.Location, &f.Latitude, &f.Longitude, &forecastDate,
		&tMin, &tMax, &humidity, &wind, &windDir, &press,
		&condition, &description, &pop, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, &StorageUnavailableError{Err: fmt.Errorf("scanning forecast: %w", err)}
	}

	if tMin.Valid {
		f.TemperatureMin = &tMin.Float64
	}
	if tMax.Valid {
		f.TemperatureMax = &tMax.Float64
	}
	if humidity.Valid {
		h := int(humidity.Int64)
		f.Humidity = &h
	}
	if wind.Valid {
		f.WindSpeed = &wind.Float64
	}
	if windDir.Valid {
		d := int(windDir.Int64)
		f.WindDirection = &d
	}
	if press.Valid {
		f.Pressure = &press.Float64
	}
	f.WeatherCondition = condition.String
	f.WeatherDescription = description.String
	if pop.Valid {
		p := int(pop.Int64)
		f.PrecipitationProbability = &p
	}
	if f.ForecastDate, err = decodeTime(forecastDate); err != nil {
		return nil, fmt.Errorf("decoding forecast_date: %w", err)
	}
	if f.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("decoding forecast created_at: %w", err)
	}
	return &f, nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a                    models.Alert
		severity, status     string
		description, areas   sql.NullString
		endTime              sql.NullString
		startTime, createdAt string
		updatedAt            string
	)
	err := row.Scan(&a.ID, &a.Type, &severity, &a.Title, &description, &areas,
		&startTime, &endTime, &status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, &StorageUnavailableError{Err: fmt.Errorf("scanning alert: %w", err)}
	}

	a.Severity = models.AlertSeverity(severity)
	a.Status = models.AlertStatus(status)
	a.Description = description.String
	if areas.Valid && areas.String != "" {
		if err := json.Unmarshal([]byte(areas.String), &a.AffectedAreas); err != nil {
			return nil, fmt.Errorf("decoding affected_areas: %w", err)
		}
	}
	if a.StartTime, err = decodeTime(startTime); err != nil {
		return nil, fmt.Errorf("decoding start_time: %w", err)
	}
	if endTime.Valid {
		t, err := decodeTime(endTime.String)
		if err != nil {
			return nil, fmt.Errorf("decoding end_time: %w", err)
		}
		a.EndTime = &t
	}
	if a.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, fmt.Errorf("decoding alert created_at: %w", err)
	}
	if a.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, fmt.Errorf("decoding alert updated_at: %w", err)
	}
	return &a, nil
}

func appendLimitOffset(query string, args []any, limit, offset int) (string, []any) {
	if limit <= 0 {
		limit = -1 // unlimited in SQLite
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	return query, args
}

func encodeAreas(areas []string) (sql.NullString, error) {
	if len(areas) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(areas)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding affected_areas: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: encodeTime(*t), Valid: true}
}
