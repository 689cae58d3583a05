package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weatherwise/weather-store/internal/models"
	"github.com/weatherwise/weather-store/internal/realtime"
	"github.com/weatherwise/weather-store/internal/store"
)

type mockStore struct {
	addObservation    func(ctx context.Context, o *models.Observation) (*models.Observation, error)
	listObservations  func(ctx context.Context, f store.ObservationFilter) ([]models.Observation, error)
	latestObservation func(ctx context.Context, location string) (*models.Observation, error)
	addForecast       func(ctx context.Context, f *models.Forecast) (*models.Forecast, error)
	listForecasts     func(ctx context.Context, f store.ForecastFilter) ([]models.Forecast, error)
	createAlert       func(ctx context.Context, a *models.Alert) (*models.Alert, error)
	getAlert          func(ctx context.Context, id string) (*models.Alert, error)
	updateAlert       func(ctx context.Context, id string, upd models.AlertUpdate) (*models.Alert, error)
	listAlerts        func(ctx context.Context, f store.AlertFilter) ([]models.Alert, error)
}

func (m *mockStore) AddObservation(ctx context.Context, o *models.Observation) (*models.Observation, error) {
	return m.addObservation(ctx, o)
}

func (m *mockStore) ListObservations(ctx context.Context, f store.ObservationFilter) ([]models.Observation, error) {
	return m.listObservations(ctx, f)
}

func (m *mockStore) LatestObservation(ctx context.Context, location string) (*models.Observation, error) {
	return m.latestObservation(ctx, location)
}

func (m *mockStore) AddForecast(ctx context.Context, f *models.Forecast) (*models.Forecast, error) {
	return m.addForecast(ctx, f)
}

func (m *mockStore) ListForecasts(ctx context.Context, f store.ForecastFilter) ([]models.Forecast, error) {
	return m.listForecasts(ctx, f)
}

func (m *mockStore) CreateAlert(ctx context.Context, a *models.Alert) (*models.Alert, error) {
	return m.createAlert(ctx, a)
}

func (m *mockStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	return m.getAlert(ctx, id)
}

func (m *mockStore) UpdateAlert(ctx context.Context, id string, upd models.AlertUpdate) (*models.Alert, error) {
	return m.updateAlert(ctx, id, upd)
}

func (m *mockStore) ListAlerts(ctx context.Context, f store.AlertFilter) ([]models.Alert, error) {
	return m.listAlerts(ctx, f)
}

func (m *mockStore) Close() error { return nil }

func setupRouter(st store.Store, b *realtime.Broadcaster) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(st, b, nil).RegisterRoutes(router)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateObservation(t *testing.T) {
	st := &mockStore{
		addObservation: func(_ context.Context, o *models.Observation) (*models.Observation, error) {
			stored := *o
			stored.ID = "obs-1"
			stored.CreatedAt = time.Now().UTC()
			return &stored, nil
		},
	}
	router := setupRouter(st, nil)

	w := doJSON(t, router, http.MethodPost, "/api/weather/current", map[string]any{
		"location":          "Manila,PH",
		"latitude":          14.5995,
		"longitude":         120.9842,
		"temperature":       28.5,
		"humidity":          78,
		"wind_speed":        15.2,
		"wind_direction":    180,
		"pressure":          1013.25,
		"weather_condition": "Clouds",
		"timestamp":         "2025-08-16T12:00:00Z",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp observationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != "obs-1" {
		t.Errorf("expected ID obs-1, got %q", resp.ID)
	}
	if resp.Location != "Manila,PH" {
		t.Errorf("expected location echoed back, got %q", resp.Location)
	}
}

func TestCreateObservation_ValidationError(t *testing.T) {
	st := &mockStore{
		addObservation: func(_ context.Context, _ *models.Observation) (*models.Observation, error) {
			return nil, &store.ValidationError{Field: "humidity", Reason: "must be between 0 and 100"}
		},
	}
	router := setupRouter(st, nil)

	w := doJSON(t, router, http.MethodPost, "/api/weather/current", map[string]any{
		"location": "Manila,PH",
		"humidity": 150,
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["field"] != "humidity" {
		t.Errorf("expected offending field in response, got %v", resp)
	}
}

func TestCreateObservation_MalformedBody(t *testing.T) {
	router := setupRouter(&mockStore{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/weather/current", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", w.Code)
	}
}

func TestLatestObservation(t *testing.T) {
	st := &mockStore{
		latestObservation: func(_ context.Context, location string) (*models.Observation, error) {
			if location != "Manila,PH" {
				return nil, &store.NotFoundError{Kind: "observation", ID: location}
			}
			return &models.Observation{ID: "obs-1", Location: location}, nil
		},
	}
	router := setupRouter(st, nil)

	w := doJSON(t, router, http.MethodGet, "/api/weather/current/latest?location=Manila%2CPH", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/weather/current/latest?location=Atlantis", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown location, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/weather/current/latest", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without location, got %d", w.Code)
	}
}

func TestListObservations_FilterWiring(t *testing.T) {
	var captured store.ObservationFilter
	st := &mockStore{
		listObservations: func(_ context.Context, f store.ObservationFilter) ([]models.Observation, error) {
			captured = f
			return nil, nil
		},
	}
	router := setupRouter(st, nil)

	w := doJSON(t, router, http.MethodGet, "/api/weather/current?location=manila&from=2025-08-16T00:00:00Z&limit=50&offset=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if captured.Location == nil || *captured.Location != "manila" {
		t.Errorf("location filter not wired: %+v", captured)
	}
	if captured.From == nil {
		t.Error("from filter not wired")
	}
	if captured.Limit != 50 || captured.Offset != 10 {
		t.Errorf("pagination not wired: limit=%d offset=%d", captured.Limit, captured.Offset)
	}

	// Out-of-range limit falls back to the default
	doJSON(t, router, http.MethodGet, "/api/weather/current?limit=9999", nil)
	if captured.Limit != defaultLimit {
		t.Errorf("expected default limit for oversized request, got %d", captured.Limit)
	}
}

func TestCreateForecast_MinMaxRejected(t *testing.T) {
	st := &mockStore{
		addForecast: func(_ context.Context, _ *models.Forecast) (*models.Forecast, error) {
			return nil, &store.ValidationError{Field: "temperature_min", Reason: "must not exceed temperature_max"}
		},
	}
	router := setupRouter(st, nil)

	w := doJSON(t, router, http.MethodPost, "/api/weather/forecasts", map[string]any{
		"location":        "Manila,PH",
		"forecast_date":   "2025-08-17T00:00:00Z",
		"temperature_min": 30,
		"temperature_max": 20,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateAlert_Broadcasts(t *testing.T) {
	st := &mockStore{
		createAlert: func(_ context.Context, a *models.Alert) (*models.Alert, error) {
			stored := *a
			stored.ID = "alert-1"
			stored.Status = models.AlertStatusActive
			return &stored, nil
		},
	}
	b := realtime.NewBroadcaster()
	defer b.Close()
	_, ch := b.Subscribe()
	router := setupRouter(st, b)

	w := doJSON(t, router, http.MethodPost, "/api/alerts", map[string]any{
		"alert_type": "TYPHOON",
		"severity":   "HIGH",
		"title":      "Typhoon Warning Signal #3",
		"start_time": "2025-08-16T18:00:00Z",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp alertResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != string(models.AlertStatusActive) {
		t.Errorf("expected ACTIVE status, got %q", resp.Status)
	}

	select {
	case ev := <-ch:
		if ev.Kind != realtime.EventAlertCreated {
			t.Errorf("expected alert_created event, got %s", ev.Kind)
		}
		if ev.Alert.ID != "alert-1" {
			t.Errorf("expected alert-1 on the feed, got %s", ev.Alert.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no event broadcast for created alert")
	}
}

func TestUpdateAlert_Conflicts(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantRetryable bool
	}{
		{"terminal state", &store.StateConflictError{ID: "alert-1", Status: models.AlertStatusExpired}, http.StatusConflict, false},
		{"lost optimistic race", &store.ConcurrencyConflictError{ID: "alert-1"}, http.StatusConflict, true},
		{"missing alert", &store.NotFoundError{Kind: "alert", ID: "alert-1"}, http.StatusNotFound, false},
		{"storage down", &store.StorageUnavailableError{Err: context.DeadlineExceeded}, http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &mockStore{
				updateAlert: func(_ context.Context, _ string, _ models.AlertUpdate) (*models.Alert, error) {
					return nil, tt.err
				},
			}
			router := setupRouter(st, nil)

			w := doJSON(t, router, http.MethodPatch, "/api/alerts/alert-1", map[string]any{
				"status": "EXPIRED",
			})
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}

			var resp map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			_, hasRetryable := resp["retryable"]
			if hasRetryable != tt.wantRetryable {
				t.Errorf("retryable flag mismatch: %v", resp)
			}
		})
	}
}

func TestUpdateAlert_PassesPartialFields(t *testing.T) {
	var captured models.AlertUpdate
	st := &mockStore{
		updateAlert: func(_ context.Context, _ string, upd models.AlertUpdate) (*models.Alert, error) {
			captured = upd
			return &models.Alert{ID: "alert-1", Status: models.AlertStatusActive}, nil
		},
	}
	router := setupRouter(st, nil)

	w := doJSON(t, router, http.MethodPatch, "/api/alerts/alert-1", map[string]any{
		"description": "signal raised",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if captured.Status != nil {
		t.Error("status should stay nil when omitted")
	}
	if captured.Description == nil || *captured.Description != "signal raised" {
		t.Errorf("description not passed through: %+v", captured)
	}
}

func TestListAlerts_InvalidFilters(t *testing.T) {
	router := setupRouter(&mockStore{
		listAlerts: func(_ context.Context, _ store.AlertFilter) ([]models.Alert, error) {
			return nil, nil
		},
	}, nil)

	w := doJSON(t, router, http.MethodGet, "/api/alerts?status=ARCHIVED", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bogus status filter, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/alerts?severity=SEVERE", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bogus severity filter, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/alerts?status=ACTIVE&severity=HIGH", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid filters, got %d", w.Code)
	}
}

func TestGetAlert_NotFound(t *testing.T) {
	st := &mockStore{
		getAlert: func(_ context.Context, id string) (*models.Alert, error) {
			return nil, &store.NotFoundError{Kind: "alert", ID: id}
		},
	}
	router := setupRouter(st, nil)

	w := doJSON(t, router, http.MethodGet, "/api/alerts/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	router := setupRouter(&mockStore{}, nil)

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
