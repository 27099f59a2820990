package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"weatherwise/internal/errorutil"
	"weatherwise/internal/logger"
	"weatherwise/weather"
)

const (
	DefaultIPLocatorURL  = "http://ip-api.com/json/"
	DefaultLocateTimeout = 10 * time.Second
)

// Locator acquires the device's approximate coordinates.
type Locator interface {
	Locate(ctx context.Context) (weather.Coordinates, error)
}

// IPLocator estimates coordinates from the public IP address.
type IPLocator struct {
	client  *resty.Client
	url     string
	timeout time.Duration
}

// NewIPLocator returns a locator that queries url, giving up after timeout.
// Empty or zero arguments select the defaults.
func NewIPLocator(url string, timeout time.Duration) *IPLocator {
	if url == "" {
		url = DefaultIPLocatorURL
	}
	if timeout <= 0 {
		timeout = DefaultLocateTimeout
	}
	client := resty.New().
		SetHeader("User-Agent", userAgent).
		SetRetryCount(0)
	client.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
		logger.LogAPIResponse(resp.Request.Method, resp.Request.URL, resp.StatusCode(), resp.Time(), len(resp.Body()))
		return nil
	})
	return &IPLocator{client: client, url: url, timeout: timeout}
}

type ipLocation struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

func (l *IPLocator) Locate(ctx context.Context) (weather.Coordinates, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.client.R().
		SetContext(ctx).
		SetQueryParam("fields", "status,message,lat,lon").
		Get(l.url)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errorutil.IsTimeout(err) {
			return weather.Coordinates{}, &GeoError{Kind: TimedOut, Err: err}
		}
		if ctx.Err() != nil {
			return weather.Coordinates{}, ErrCancelled
		}
		return weather.Coordinates{}, &GeoError{Kind: PositionUnavailable, Err: err}
	}
	if !resp.IsSuccess() {
		return weather.Coordinates{}, &GeoError{
			Kind: PositionUnavailable,
			Err:  fmt.Errorf("locator returned status %d", resp.StatusCode()),
		}
	}

	var body ipLocation
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return weather.Coordinates{}, &GeoError{Kind: PositionUnavailable, Err: err}
	}
	if body.Status != "success" {
		msg := body.Message
		if msg == "" {
			msg = "lookup failed"
		}
		return weather.Coordinates{}, &GeoError{Kind: PositionUnavailable, Err: errors.New(msg)}
	}
	return weather.Coordinates{Latitude: body.Lat, Longitude: body.Lon}, nil
}

// StaticLocator always reports the configured coordinates.
type StaticLocator struct {
	Coordinates weather.Coordinates
}

func (l StaticLocator) Locate(ctx context.Context) (weather.Coordinates, error) {
	if ctx.Err() != nil {
		return weather.Coordinates{}, ErrCancelled
	}
	return l.Coordinates, nil
}

// DisabledLocator refuses every request, as a user who denied permission.
type DisabledLocator struct{}

func (DisabledLocator) Locate(context.Context) (weather.Coordinates, error) {
	return weather.Coordinates{}, &GeoError{Kind: PermissionDenied}
}
