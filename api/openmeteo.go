package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"weatherwise/internal/errorutil"
	"weatherwise/internal/logger"
	"weatherwise/weather"
)

const (
	DefaultGeocodingURL = "https://geocoding-api.open-meteo.com"
	DefaultForecastURL  = "https://api.open-meteo.com"

	searchEndpoint   = "/v1/search"
	reverseEndpoint  = "/v1/reverse"
	forecastEndpoint = "/v1/forecast"

	currentFields = "temperature_2m,apparent_temperature,weather_code,wind_speed_10m,wind_direction_10m,relative_humidity_2m,is_day"
	dailyFields   = "weather_code,temperature_2m_max,temperature_2m_min"

	userAgent = "Weatherwise/1.0"
)

// Provider is the data source behind the coordinator.
type Provider interface {
	// Search returns candidate locations for a place name, best match first.
	Search(ctx context.Context, name string) ([]weather.Location, error)
	// Reverse names the place at a coordinate; nil when unknown.
	Reverse(ctx context.Context, lat, lon float64) (*weather.Location, error)
	// Forecast returns current conditions and a daily outlook; nil when the
	// provider answered without data.
	Forecast(ctx context.Context, lat, lon float64) (*weather.Snapshot, error)
}

// OpenMeteoOptions configures the Open-Meteo client. Zero values select
// the public endpoints, English results, five candidates and no timeout.
type OpenMeteoOptions struct {
	GeocodingURL string
	ForecastURL  string
	Language     string
	ResultCount  int
	Timeout      time.Duration
}

// OpenMeteo talks to the Open-Meteo geocoding and forecast APIs.
type OpenMeteo struct {
	client       *resty.Client
	geocodingURL string
	forecastURL  string
	language     string
	resultCount  int
}

func NewOpenMeteo(opts OpenMeteoOptions) *OpenMeteo {
	if opts.GeocodingURL == "" {
		opts.GeocodingURL = DefaultGeocodingURL
	}
	if opts.ForecastURL == "" {
		opts.ForecastURL = DefaultForecastURL
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.ResultCount <= 0 {
		opts.ResultCount = 5
	}

	// One attempt per call; failures go straight back to the engine.
	client := resty.New().
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json").
		SetRetryCount(0).
		SetTimeout(opts.Timeout)

	client.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
		logger.LogAPIRequest(req.Method, req.URL)
		return nil
	})
	client.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
		logger.LogAPIResponse(resp.Request.Method, resp.Request.URL, resp.StatusCode(), resp.Time(), len(resp.Body()))
		return nil
	})

	return &OpenMeteo{
		client:       client,
		geocodingURL: strings.TrimRight(opts.GeocodingURL, "/"),
		forecastURL:  strings.TrimRight(opts.ForecastURL, "/"),
		language:     opts.Language,
		resultCount:  opts.ResultCount,
	}
}

type geocodingResult struct {
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Admin1    string  `json:"admin1"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type geocodingResponse struct {
	Results []geocodingResult `json:"results"`
}

func (r geocodingResult) location() weather.Location {
	return weather.Location{
		Name:      r.Name,
		Country:   r.Country,
		Admin1:    r.Admin1,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
	}
}

func (o *OpenMeteo) Search(ctx context.Context, name string) ([]weather.Location, error) {
	var body geocodingResponse
	err := o.get(ctx, "geocode search", o.geocodingURL+searchEndpoint, map[string]string{
		"name":     name,
		"count":    strconv.Itoa(o.resultCount),
		"language": o.language,
		"format":   "json",
	}, &body)
	if err != nil {
		return nil, err
	}
	locs := make([]weather.Location, 0, len(body.Results))
	for _, r := range body.Results {
		locs = append(locs, r.location())
	}
	return locs, nil
}

func (o *OpenMeteo) Reverse(ctx context.Context, lat, lon float64) (*weather.Location, error) {
	var body geocodingResponse
	err := o.get(ctx, "reverse geocode", o.geocodingURL+reverseEndpoint, map[string]string{
		"latitude":  formatCoord(lat),
		"longitude": formatCoord(lon),
		"language":  o.language,
	}, &body)
	if err != nil {
		return nil, err
	}
	if len(body.Results) == 0 || body.Results[0].Name == "" {
		return nil, nil
	}
	loc := body.Results[0].location()
	return &loc, nil
}

func (o *OpenMeteo) Forecast(ctx context.Context, lat, lon float64) (*weather.Snapshot, error) {
	var snap weather.Snapshot
	err := o.get(ctx, "forecast", o.forecastURL+forecastEndpoint, map[string]string{
		"latitude":  formatCoord(lat),
		"longitude": formatCoord(lon),
		"current":   currentFields,
		"daily":     dailyFields,
		"timezone":  "auto",
	}, &snap)
	if err != nil {
		return nil, err
	}
	if snap.Empty() {
		return nil, nil
	}
	return &snap, nil
}

// get performs one GET and decodes a 2xx JSON body into out.
func (o *OpenMeteo) get(ctx context.Context, op, url string, query map[string]string, out any) error {
	resp, err := o.client.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(url)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w", op, ErrCancelled)
		}
		netErr := errorutil.NewNetworkError(op, url, err)
		return &TransportError{Op: op, URL: url, Kind: netErr.Kind, Err: err}
	}
	if !resp.IsSuccess() {
		return parseAPIError(op, resp.StatusCode(), resp.Body())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

// parseAPIError reads Open-Meteo's {"error": true, "reason": "..."} body
// when present.
func parseAPIError(op string, status int, body []byte) error {
	var apiErr struct {
		Error  bool   `json:"error"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Reason != "" {
		return &HTTPError{Op: op, StatusCode: status, Message: apiErr.Reason}
	}
	switch status {
	case 429:
		return &HTTPError{Op: op, StatusCode: status, Message: "rate limit exceeded"}
	case 400:
		return &HTTPError{Op: op, StatusCode: status, Message: "invalid request parameters"}
	}
	return &HTTPError{Op: op, StatusCode: status}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
