package weather

import "math"

var conditionLabels = map[int]string{
	0:  "Clear Sky",
	1:  "Mainly Clear",
	2:  "Partly Cloudy",
	3:  "Overcast",
	45: "Foggy",
	48: "Depositing Rime Fog",
	51: "Light Drizzle",
	53: "Moderate Drizzle",
	55: "Dense Drizzle",
	56: "Light Freezing Drizzle",
	57: "Dense Freezing Drizzle",
	61: "Slight Rain",
	63: "Moderate Rain",
	65: "Heavy Rain",
	66: "Light Freezing Rain",
	67: "Heavy Freezing Rain",
	71: "Slight Snowfall",
	73: "Moderate Snowfall",
	75: "Heavy Snowfall",
	77: "Snow Grains",
	80: "Slight Rain Showers",
	81: "Moderate Rain Showers",
	82: "Violent Rain Showers",
	85: "Slight Snow Showers",
	86: "Heavy Snow Showers",
	95: "Thunderstorm",
	96: "Thunderstorm with Slight Hail",
	99: "Thunderstorm with Heavy Hail",
}

// ConditionLabel maps a WMO weather interpretation code to text.
func ConditionLabel(code int) string {
	if label, ok := conditionLabels[code]; ok {
		return label
	}
	return "Unknown"
}

// ConditionIcon returns a single glyph for code, with a night variant for
// clear and mostly clear skies.
func ConditionIcon(code int, isDay bool) string {
	switch {
	case code == 0 || code == 1:
		if !isDay {
			return "☾"
		}
		return "☀"
	case code == 2 || code == 3:
		return "☁"
	case code == 45 || code == 48:
		return "≡"
	case code >= 51 && code <= 67, code >= 80 && code <= 82:
		return "☂"
	case code >= 71 && code <= 77, code == 85 || code == 86:
		return "❄"
	case code >= 95:
		return "⚡"
	}
	return "?"
}

var compass = [16]string{
	"N", "NNE", "NE", "ENE",
	"E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW",
	"W", "WNW", "NW", "NNW",
}

// WindDirection converts degrees to a 16-point compass heading.
func WindDirection(degrees float64) string {
	d := math.Mod(degrees, 360)
	if d < 0 {
		d += 360
	}
	return compass[int(math.Round(d/22.5))%16]
}
