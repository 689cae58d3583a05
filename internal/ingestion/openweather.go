package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/weatherwise/weather-store/internal/models"
)

// Client talks to the OpenWeather current-weather and 5-day forecast
// endpoints in metric units.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type owWeather struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

type owMain struct {
	Temp     float64 `json:"temp"`
	TempMin  float64 `json:"temp_min"`
	TempMax  float64 `json:"temp_max"`
	Pressure float64 `json:"pressure"`
	Humidity int     `json:"humidity"`
}

type owWind struct {
	Speed float64 `json:"speed"`
	Deg   int     `json:"deg"`
}

type owCurrentResponse struct {
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Weather    []owWeather `json:"weather"`
	Main       owMain      `json:"main"`
	Wind       owWind      `json:"wind"`
	Visibility float64     `json:"visibility"` // meters
	Dt         int64       `json:"dt"`         // unix
}

type owForecastResponse struct {
	List []struct {
		Dt      int64       `json:"dt"`
		Main    owMain      `json:"main"`
		Weather []owWeather `json:"weather"`
		Wind    owWind      `json:"wind"`
		Pop     float64     `json:"pop"` // 0..1
	} `json:"list"`
	City struct {
		Coord struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"coord"`
	} `json:"city"`
}

// CurrentWeather fetches one observation for a location query ("Manila,PH").
func (c *Client) CurrentWeather(ctx context.Context, location string) (*models.Observation, error) {
	var data owCurrentResponse
	if err := c.get(ctx, "/weather", location, &data); err != nil {
		return nil, err
	}
	if len(data.Weather) == 0 {
		return nil, fmt.Errorf("response for %q has no weather block", location)
	}

	visibility := data.Visibility / 1000 // meters to km
	o := &models.Observation{
		Location:           location,
		Latitude:           data.Coord.Lat,
		Longitude:          data.Coord.Lon,
		Temperature:        data.Main.Temp,
		Humidity:           data.Main.Humidity,
		WindSpeed:          data.Wind.Speed,
		WindDirection:      data.Wind.Deg,
		Pressure:           data.Main.Pressure,
		WeatherCondition:   data.Weather[0].Main,
		WeatherDescription: data.Weather[0].Description,
		Visibility:         &visibility,
		Timestamp:          time.Unix(data.Dt, 0).UTC(),
	}
	return o, nil
}

// Forecast fetches the 3-hourly forecast series for a location query.
func (c *Client) Forecast(ctx context.Context, location string) ([]*models.Forecast, error) {
	var data owForecastResponse
	if err := c.get(ctx, "/forecast", location, &data); err != nil {
		return nil, err
	}

	forecasts := make([]*models.Forecast, 0, len(data.List))
	for _, item := range data.List {
		if len(item.Weather) == 0 {
			continue
		}
		tMin := item.Main.TempMin
		tMax := item.Main.TempMax
		humidity := item.Main.Humidity
		windSpeed := item.Wind.Speed
		windDir := item.Wind.Deg
		pressure := item.Main.Pressure
		pop := int(item.Pop * 100)

		f := &models.Forecast{
			Location:                 location,
			Latitude:                 data.City.Coord.Lat,
			Longitude:                data.City.Coord.Lon,
			ForecastDate:             time.Unix(item.Dt, 0).UTC(),
			TemperatureMin:           &tMin,
			TemperatureMax:           &tMax,
			Humidity:                 &humidity,
			WindSpeed:                &windSpeed,
			WindDirection:            &windDir,
			Pressure:                 &pressure,
			WeatherCondition:         item.Weather[0].Main,
			WeatherDescription:       item.Weather[0].Description,
			PrecipitationProbability: &pop,
		}
		forecasts = append(forecasts, f)
	}

	return forecasts, nil
}

func (c *Client) get(ctx context.Context, path, location string, out any) error {
	q := url.Values{}
	q.Set("q", location)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error while doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding resp.Body: %w", err)
	}
	return nil
}
