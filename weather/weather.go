// Package weather holds the domain types shared by the provider client,
// the cache store and the orchestration engine.
package weather

import (
	"fmt"
	"strings"
)

// Location is a resolved place. Two locations are the same place when their
// Key matches, regardless of coordinates.
type Location struct {
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Admin1    string  `json:"admin1,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationKey identifies a place by (name, country).
type LocationKey struct {
	Name    string
	Country string
}

func (l Location) Key() LocationKey {
	return LocationKey{Name: l.Name, Country: l.Country}
}

// SameAs reports whether l and other identify the same place.
func (l Location) SameAs(other Location) bool {
	return l.Key() == other.Key()
}

// Label formats the location for display, e.g. "Paris, Île-de-France, France".
func (l Location) Label() string {
	parts := []string{l.Name}
	if l.Admin1 != "" && l.Admin1 != l.Name {
		parts = append(parts, l.Admin1)
	}
	if l.Country != "" {
		parts = append(parts, l.Country)
	}
	return strings.Join(parts, ", ")
}

// ShortLabel is "Name, Country".
func (l Location) ShortLabel() string {
	if l.Country == "" {
		return l.Name
	}
	return fmt.Sprintf("%s, %s", l.Name, l.Country)
}

// Coordinates is a point in decimal degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Current holds the current-conditions block of a forecast response.
type Current struct {
	Time                string  `json:"time"`
	Temperature         float64 `json:"temperature_2m"`
	ApparentTemperature float64 `json:"apparent_temperature"`
	WeatherCode         int     `json:"weather_code"`
	WindSpeed           float64 `json:"wind_speed_10m"`
	WindDirection       float64 `json:"wind_direction_10m"`
	Humidity            float64 `json:"relative_humidity_2m"`
	IsDay               int     `json:"is_day"`
}

// Daily holds parallel per-day arrays. All slices have the same length.
type Daily struct {
	Dates        []string  `json:"time"`
	WeatherCodes []int     `json:"weather_code"`
	MaxTemps     []float64 `json:"temperature_2m_max"`
	MinTemps     []float64 `json:"temperature_2m_min"`
}

// Day is one row of Daily.
type Day struct {
	Date        string
	WeatherCode int
	Max         float64
	Min         float64
}

// Days zips the parallel arrays, stopping at the shortest one.
func (d Daily) Days() []Day {
	n := len(d.Dates)
	n = min(n, len(d.WeatherCodes), len(d.MaxTemps), len(d.MinTemps))
	days := make([]Day, n)
	for i := range n {
		days[i] = Day{Date: d.Dates[i], WeatherCode: d.WeatherCodes[i], Max: d.MaxTemps[i], Min: d.MinTemps[i]}
	}
	return days
}

// Snapshot is a forecast payload as returned by the provider. Values are
// always in Celsius and km/h; conversion happens at render time.
type Snapshot struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
	Current   Current `json:"current"`
	Daily     Daily   `json:"daily"`
}

// Empty reports whether the payload lacks a current-conditions block.
func (s *Snapshot) Empty() bool {
	return s == nil || s.Current.Time == ""
}

// Units is the display unit preference.
type Units string

const (
	Celsius    Units = "celsius"
	Fahrenheit Units = "fahrenheit"
)

// ParseUnits accepts "celsius"/"c"/"metric" and "fahrenheit"/"f"/"imperial".
func ParseUnits(s string) (Units, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "celsius", "c", "metric":
		return Celsius, nil
	case "fahrenheit", "f", "imperial":
		return Fahrenheit, nil
	}
	return "", fmt.Errorf("unknown units %q (want celsius or fahrenheit)", s)
}

func (u Units) Valid() bool {
	return u == Celsius || u == Fahrenheit
}

// TemperatureSymbol returns "°C" or "°F".
func (u Units) TemperatureSymbol() string {
	if u == Fahrenheit {
		return "°F"
	}
	return "°C"
}

// SpeedSymbol returns "km/h" or "mph".
func (u Units) SpeedSymbol() string {
	if u == Fahrenheit {
		return "mph"
	}
	return "km/h"
}

// ConvertTemperature converts a Celsius reading into u.
func ConvertTemperature(celsius float64, u Units) float64 {
	if u == Fahrenheit {
		return celsius*9/5 + 32
	}
	return celsius
}

// ConvertSpeed converts a km/h reading into u.
func ConvertSpeed(kmh float64, u Units) float64 {
	if u == Fahrenheit {
		return kmh * 0.621371
	}
	return kmh
}
