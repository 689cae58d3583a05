package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weatherwise/weather-store/internal/models"
	"github.com/weatherwise/weather-store/internal/observability"
	"github.com/weatherwise/weather-store/internal/realtime"
	"github.com/weatherwise/weather-store/internal/store"
)

const (
	defaultLimit = 20
	maxLimit     = 500
)

type Handler struct {
	st          store.Store
	broadcaster *realtime.Broadcaster
	metrics     *observability.Metrics
}

func NewHandler(st store.Store, broadcaster *realtime.Broadcaster, metrics *observability.Metrics) *Handler {
	return &Handler{
		st:          st,
		broadcaster: broadcaster,
		metrics:     metrics,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/api/weather/current", h.createObservation)
	r.GET("/api/weather/current", h.listObservations)
	r.GET("/api/weather/current/latest", h.latestObservation)
	r.POST("/api/weather/forecasts", h.createForecast)
	r.GET("/api/weather/forecasts", h.listForecasts)
	r.POST("/api/alerts", h.createAlert)
	r.GET("/api/alerts", h.listAlerts)
	r.GET("/api/alerts/stream", h.streamAlerts)
	r.GET("/api/alerts/:id", h.getAlert)
	r.PATCH("/api/alerts/:id", h.updateAlert)
	r.GET("/health", h.health)
}

type observationRequest struct {
	Location           string    `json:"location"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	Temperature        float64   `json:"temperature"`
	Humidity           int       `json:"humidity"`
	WindSpeed          float64   `json:"wind_speed"`
	WindDirection      int       `json:"wind_direction"`
	Pressure           float64   `json:"pressure"`
	WeatherCondition   string    `json:"weather_condition"`
	WeatherDescription string    `json:"weather_description"`
	Visibility         *float64  `json:"visibility"`
	Timestamp          time.Time `json:"timestamp"`
}

type observationResponse struct {
	ID                 string    `json:"id"`
	Location           string    `json:"location"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	Temperature        float64   `json:"temperature"`
	Humidity           int       `json:"humidity"`
	WindSpeed          float64   `json:"wind_speed"`
	WindDirection      int       `json:"wind_direction"`
	Pressure           float64   `json:"pressure"`
	WeatherCondition   string    `json:"weather_condition"`
	WeatherDescription string    `json:"weather_description,omitempty"`
	Visibility         *float64  `json:"visibility,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
	CreatedAt          time.Time `json:"created_at"`
}

func toObservationResponse(o *models.Observation) observationResponse {
	return observationResponse{
		ID:                 o.ID,
		Location:           o.Location,
		Latitude:           o.Latitude,
		Longitude:          o.Longitude,
		Temperature:        o.Temperature,
		Humidity:           o.Humidity,
		WindSpeed:          o.WindSpeed,
		WindDirection:      o.WindDirection,
		Pressure:           o.Pressure,
		WeatherCondition:   o.WeatherCondition,
		WeatherDescription: o.WeatherDescription,
		Visibility:         o.Visibility,
		Timestamp:          o.Timestamp,
		CreatedAt:          o.CreatedAt,
	}
}

func (h *Handler) createObservation(c *gin.Context) {
	var req observationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	o := &models.Observation{
		Location:           req.Location,
		Latitude:           req.Latitude,
		Longitude:          req.Longitude,
		Temperature:        req.Temperature,
		Humidity:           req.Humidity,
		WindSpeed:          req.WindSpeed,
		WindDirection:      req.WindDirection,
		Pressure:           req.Pressure,
		WeatherCondition:   req.WeatherCondition,
		WeatherDescription: req.WeatherDescription,
		Visibility:         req.Visibility,
		Timestamp:          req.Timestamp,
	}

	stored, err := h.st.AddObservation(c.Request.Context(), o)
	h.recordWrite("observation", err)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toObservationResponse(stored))
}

func (h *Handler) listObservations(c *gin.Context) {
	filter := store.ObservationFilter{Limit: defaultLimit}
	if loc := c.Query("location"); loc != "" {
		filter.Location = &loc
	}
	filter.From = parseTimeQuery(c, "from")
	filter.To = parseTimeQuery(c, "to")
	filter.Limit, filter.Offset = parsePagination(c)

	observations, err := h.st.ListObservations(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]observationResponse, 0, len(observations))
	for i := range observations {
		out = append(out, toObservationResponse(&observations[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) latestObservation(c *gin.Context) {
	location := c.Query("location")
	if location == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "location is required"})
		return
	}

	o, err := h.st.LatestObservation(c.Request.Context(), location)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toObservationResponse(o))
}

type forecastRequest struct {
	Location                 string    `json:"location"`
	Latitude                 float64   `json:"latitude"`
	Longitude                float64   `json:"longitude"`
	ForecastDate             time.Time `json:"forecast_date"`
	TemperatureMin           *float64  `json:"temperature_min"`
	TemperatureMax           *float64  `json:"temperature_max"`
	Humidity                 *int      `json:"humidity"`
	WindSpeed                *float64  `json:"wind_speed"`
	WindDirection            *int      `json:"wind_direction"`
	Pressure                 *float64  `json:"pressure"`
	WeatherCondition         string    `json:"weather_condition"`
	WeatherDescription       string    `json:"weather_description"`
	PrecipitationProbability *int      `json:"precipitation_probability"`
}

type forecastResponse struct {
	ID                       string    `json:"id"`
	Location                 string    `json:"location"`
	Latitude                 float64   `json:"latitude"`
	Longitude                float64   `json:"longitude"`
	ForecastDate             time.Time `json:"forecast_date"`
	TemperatureMin           *float64  `json:"temperature_min,omitempty"`
	TemperatureMax           *float64  `json:"temperature_max,omitempty"`
	Humidity                 *int      `json:"humidity,omitempty"`
	WindSpeed                *float64  `json:"wind_speed,omitempty"`
	WindDirection            *int      `json:"wind_direction,omitempty"`
	Pressure                 *float64  `json:"pressure,omitempty"`
	WeatherCondition         string    `json:"weather_condition,omitempty"`
	WeatherDescription       string    `json:"weather_description,omitempty"`
	PrecipitationProbability *int      `json:"precipitation_probability,omitempty"`
	CreatedAt                time.Time `json:"created_at"`
}

func toForecastResponse(f *models.Forecast) forecastResponse {
	return forecastResponse{
		ID:                       f.ID,
		Location:                 f.Location,
		Latitude:                 f.Latitude,
		Longitude:                f.Longitude,
		ForecastDate:             f.ForecastDate,
		TemperatureMin:           f.TemperatureMin,
		TemperatureMax:           f.TemperatureMax,
		Humidity:                 f.Humidity,
		WindSpeed:                f.WindSpeed,
		WindDirection:            f.WindDirection,
		Pressure:                 f.Pressure,
		WeatherCondition:         f.WeatherCondition,
		WeatherDescription:       f.WeatherDescription,
		PrecipitationProbability: f.PrecipitationProbability,
		CreatedAt:                f.CreatedAt,
	}
}

func (h *Handler) createForecast(c *gin.Context) {
	var req forecastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	f := &models.Forecast{
		Location:                 req.Location,
		Latitude:                 req.Latitude,
		Longitude:                req.Longitude,
		ForecastDate:             req.ForecastDate,
		TemperatureMin:           req.TemperatureMin,
		TemperatureMax:           req.TemperatureMax,
		Humidity:                 req.Humidity,
		WindSpeed:                req.WindSpeed,
		WindDirection:            req.WindDirection,
		Pressure:                 req.Pressure,
		WeatherCondition:         req.WeatherCondition,
		WeatherDescription:       req.WeatherDescription,
		PrecipitationProbability: req.PrecipitationProbability,
	}

	stored, err := h.st.AddForecast(c.Request.Context(), f)
	h.recordWrite("forecast", err)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toForecastResponse(stored))
}

func (h *Handler) listForecasts(c *gin.Context) {
	filter := store.ForecastFilter{Limit: defaultLimit}
	if loc := c.Query("location"); loc != "" {
		filter.Location = &loc
	}
	filter.From = parseTimeQuery(c, "from")
	filter.To = parseTimeQuery(c, "to")
	filter.Limit, filter.Offset = parsePagination(c)

	forecasts, err := h.st.ListForecasts(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]forecastResponse, 0, len(forecasts))
	for i := range forecasts {
		out = append(out, toForecastResponse(&forecasts[i]))
	}
	c.JSON(http.StatusOK, out)
}

type alertRequest struct {
	Type          string     `json:"alert_type"`
	Severity      string     `json:"severity"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	AffectedAreas []string   `json:"affected_areas"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time"`
}

type alertUpdateRequest struct {
	Status      *string    `json:"status"`
	Description *string    `json:"description"`
	EndTime     *time.Time `json:"end_time"`
}

type alertResponse struct {
	ID            string     `json:"id"`
	Type          string     `json:"alert_type"`
	Severity      string     `json:"severity"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	AffectedAreas []string   `json:"affected_areas,omitempty"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toAlertResponse(a *models.Alert) alertResponse {
	return alertResponse{
		ID:            a.ID,
		Type:          a.Type,
		Severity:      string(a.Severity),
		Title:         a.Title,
		Description:   a.Description,
		AffectedAreas: a.AffectedAreas,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Status:        string(a.Status),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func (h *Handler) createAlert(c *gin.Context) {
	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	a := &models.Alert{
		Type:          req.Type,
		Severity:      models.AlertSeverity(req.Severity),
		Title:         req.Title,
		Description:   req.Description,
		AffectedAreas: req.AffectedAreas,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
	}

	stored, err := h.st.CreateAlert(c.Request.Context(), a)
	h.recordWrite("alert_create", err)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if h.broadcaster != nil {
		h.broadcaster.Broadcast(realtime.Event{Kind: realtime.EventAlertCreated, Alert: stored})
	}
	c.JSON(http.StatusCreated, toAlertResponse(stored))
}

func (h *Handler) getAlert(c *gin.Context) {
	a, err := h.st.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAlertResponse(a))
}

func (h *Handler) updateAlert(c *gin.Context) {
	var req alertUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	upd := models.AlertUpdate{
		Description: req.Description,
		EndTime:     req.EndTime,
	}
	if req.Status != nil {
		status := models.AlertStatus(*req.Status)
		upd.Status = &status
	}

	updated, err := h.st.UpdateAlert(c.Request.Context(), c.Param("id"), upd)
	h.recordWrite("alert_update", err)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if h.metrics != nil && upd.Status != nil && upd.Status.Terminal() {
		h.metrics.AlertTransitions.WithLabelValues(string(*upd.Status)).Inc()
	}
	if h.broadcaster != nil {
		h.broadcaster.Broadcast(realtime.Event{Kind: realtime.EventAlertUpdated, Alert: updated})
	}
	c.JSON(http.StatusOK, toAlertResponse(updated))
}

func (h *Handler) listAlerts(c *gin.Context) {
	filter := store.AlertFilter{Limit: defaultLimit}
	if s := c.Query("status"); s != "" {
		status := models.AlertStatus(s)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
			return
		}
		filter.Status = &status
	}
	if t := c.Query("type"); t != "" {
		filter.Type = &t
	}
	if s := c.Query("severity"); s != "" {
		severity := models.AlertSeverity(s)
		if !severity.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid severity filter"})
			return
		}
		filter.Severity = &severity
	}
	if loc := c.Query("location"); loc != "" {
		filter.Location = &loc
	}
	filter.Limit, filter.Offset = parsePagination(c)

	alerts, err := h.st.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]alertResponse, 0, len(alerts))
	for i := range alerts {
		out = append(out, toAlertResponse(&alerts[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) streamAlerts(c *gin.Context) {
	if h.broadcaster == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "streaming disabled"})
		return
	}

	id, ch := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(id)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), toAlertResponse(ev.Alert))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps store errors onto HTTP statuses. Conflicts from the
// optimistic update check are marked retryable; validation failures are not.
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		validationErr  *store.ValidationError
		notFoundErr    *store.NotFoundError
		stateErr       *store.StateConflictError
		concurrencyErr *store.ConcurrencyConflictError
		storageErr     *store.StorageUnavailableError
	)
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error(), "field": validationErr.Field})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundErr.Error()})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, gin.H{"error": stateErr.Error()})
	case errors.As(err, &concurrencyErr):
		c.JSON(http.StatusConflict, gin.H{"error": concurrencyErr.Error(), "retryable": true})
	case errors.As(err, &storageErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) recordWrite(kind string, err error) {
	if h.metrics == nil {
		return
	}
	outcome := "ok"
	var (
		validationErr  *store.ValidationError
		stateErr       *store.StateConflictError
		concurrencyErr *store.ConcurrencyConflictError
	)
	switch {
	case errors.As(err, &validationErr):
		outcome = "rejected"
		h.metrics.ValidationFailures.WithLabelValues(validationErr.Field).Inc()
	case errors.As(err, &stateErr), errors.As(err, &concurrencyErr):
		outcome = "conflict"
	case err != nil:
		outcome = "error"
	}
	h.metrics.WritesTotal.WithLabelValues(kind, outcome).Inc()
}

func parseTimeQuery(c *gin.Context, key string) *time.Time {
	s := c.Query(key)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t
	}
	return nil
}

func parsePagination(c *gin.Context) (limit, offset int) {
	limit = defaultLimit
	if l := c.Query("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= maxLimit {
			limit = v
		}
	}
	if o := c.Query("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}
