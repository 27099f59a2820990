package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherwise/weather"
)

func TestIPLocator(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		want     weather.Coordinates
		wantKind GeoErrorKind
	}{
		{"success", http.StatusOK, `{"status":"success","lat":52.52,"lon":13.405}`, weather.Coordinates{Latitude: 52.52, Longitude: 13.405}, 0},
		{"lookup failed", http.StatusOK, `{"status":"fail","message":"reserved range"}`, weather.Coordinates{}, PositionUnavailable},
		{"server error", http.StatusServiceUnavailable, ``, weather.Coordinates{}, PositionUnavailable},
		{"garbage", http.StatusOK, `not json`, weather.Coordinates{}, PositionUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "status,message,lat,lon", r.URL.Query().Get("fields"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			coords, err := NewIPLocator(srv.URL, time.Second).Locate(context.Background())
			if tt.wantKind == 0 {
				require.NoError(t, err)
				assert.Equal(t, tt.want, coords)
				return
			}
			var geoErr *GeoError
			require.ErrorAs(t, err, &geoErr)
			assert.Equal(t, tt.wantKind, geoErr.Kind)
		})
	}
}

func TestIPLocatorTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewIPLocator(srv.URL, 50*time.Millisecond).Locate(context.Background())
	var geoErr *GeoError
	require.ErrorAs(t, err, &geoErr)
	assert.Equal(t, TimedOut, geoErr.Kind)
}

func TestStaticAndDisabledLocators(t *testing.T) {
	want := weather.Coordinates{Latitude: -33.86, Longitude: 151.21}
	got, err := StaticLocator{Coordinates: want}.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = DisabledLocator{}.Locate(context.Background())
	var geoErr *GeoError
	require.ErrorAs(t, err, &geoErr)
	assert.Equal(t, PermissionDenied, geoErr.Kind)
	assert.Equal(t, "geolocation permission_denied", err.Error())
}
