package api

import (
	"errors"
	"fmt"

	"weatherwise/internal/errorutil"
)

// ErrCancelled is returned when a request was superseded by a newer one in
// the same category, aborted, or its caller's context ended. Callers treat
// it as a silent no-op.
var ErrCancelled = errors.New("request cancelled")

// ErrNoLocationName is returned when reverse geocoding has no answer for a
// coordinate.
var ErrNoLocationName = errors.New("could not determine location name")

// HTTPError is a non-2xx response from the provider.
type HTTPError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: Open-Meteo API error (status %d): %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: Open-Meteo API error (status %d)", e.Op, e.StatusCode)
}

// TransportError means no response was received at all.
type TransportError struct {
	Op   string
	URL  string
	Kind errorutil.NetworkKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s unreachable (%s): %v", e.Op, e.URL, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the transport gave up waiting.
func (e *TransportError) Timeout() bool { return e.Kind == errorutil.KindTimeout }

// GeoErrorKind is the geolocation failure taxonomy.
type GeoErrorKind int

const (
	PermissionDenied GeoErrorKind = iota + 1
	PositionUnavailable
	TimedOut
)

func (k GeoErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case PositionUnavailable:
		return "position_unavailable"
	case TimedOut:
		return "timed_out"
	}
	return "unknown"
}

// GeoError is a failed coordinate acquisition.
type GeoError struct {
	Kind GeoErrorKind
	Err  error
}

func (e *GeoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geolocation %s: %v", e.Kind, e.Err)
	}
	return "geolocation " + e.Kind.String()
}

func (e *GeoError) Unwrap() error { return e.Err }

// IsCancelled reports whether err is a cancellation outcome.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
