package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherwise/app"
	"weatherwise/weather"
)

var fixedNow = time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC)

func sampleResult() app.Result {
	return app.Result{
		Location: weather.Location{Name: "Paris", Country: "France", Admin1: "Île-de-France"},
		Snapshot: weather.Snapshot{
			Current: weather.Current{
				Time:                "2026-10-19T14:45",
				Temperature:         20,
				ApparentTemperature: 18.6,
				WeatherCode:         2,
				WindSpeed:           10,
				WindDirection:       225,
				Humidity:            64,
				IsDay:               1,
			},
			Daily: weather.Daily{
				Dates:        []string{"2026-10-19", "2026-10-20"},
				WeatherCodes: []int{2, 61},
				MaxTemps:     []float64{21, 17},
				MinTemps:     []float64{12, 10},
			},
		},
		Units:    weather.Celsius,
		StoredAt: fixedNow.Add(-5 * time.Minute),
	}
}

func newTestTerminal(buf *bytes.Buffer, opts ...Option) *Terminal {
	return NewTerminal(buf, append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func TestRenderResult(t *testing.T) {
	var buf bytes.Buffer
	term := newTestTerminal(&buf)

	term.RenderResult(sampleResult())
	out := buf.String()

	assert.Contains(t, out, "Paris, Île-de-France, France\n")
	assert.Contains(t, out, "Partly Cloudy")
	assert.Contains(t, out, "20°C (feels like 19°C)")
	assert.Contains(t, out, "Wind 10 km/h SW · Humidity 64%")
	assert.Contains(t, out, "Updated 5 minutes ago\n")
	assert.Contains(t, out, "Mon 19 Oct")
	assert.Contains(t, out, "Tue 20 Oct")
	assert.NotContains(t, out, "\033[", "non-terminal writers get no color")
}

func TestRenderResultFahrenheitCachedFavorite(t *testing.T) {
	var buf bytes.Buffer
	term := newTestTerminal(&buf)

	r := sampleResult()
	r.Units = weather.Fahrenheit
	r.Cached = true
	r.Favorite = true
	term.RenderResult(r)
	out := buf.String()

	assert.Contains(t, out, "Paris, Île-de-France, France ★")
	assert.Contains(t, out, "68°F")
	assert.Contains(t, out, "6 mph")
	assert.Contains(t, out, "70° / 54°")
	assert.Contains(t, out, "(cached)")
}

func TestShowErrorAndLoading(t *testing.T) {
	var buf bytes.Buffer
	term := newTestTerminal(&buf)

	term.ShowLoading()
	assert.True(t, term.Loading())
	term.ShowError("Network Error", "You are offline. Please check your connection and try again.")
	assert.False(t, term.Loading())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Loading weather...", lines[0])
	assert.Equal(t, "Network Error", lines[1])
	assert.Contains(t, lines[3], "retry")
}

func TestBannerAutoDismiss(t *testing.T) {
	var buf bytes.Buffer
	term := newTestTerminal(&buf, WithBannerDuration(20*time.Millisecond))
	defer term.Close()

	term.ShowBanner(app.BannerWarning, "You are offline. Showing cached data.", true)
	b, ok := term.CurrentBanner()
	require.True(t, ok)
	assert.Equal(t, app.BannerWarning, b.Kind)
	assert.Contains(t, buf.String(), "! You are offline. Showing cached data.")

	require.Eventually(t, func() bool {
		_, ok := term.CurrentBanner()
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestPersistentBannerStays(t *testing.T) {
	var buf bytes.Buffer
	term := newTestTerminal(&buf, WithBannerDuration(10*time.Millisecond))

	term.ShowBanner(app.BannerError, "You are offline. No cached data available.", false)
	time.Sleep(40 * time.Millisecond)
	_, ok := term.CurrentBanner()
	assert.True(t, ok)

	term.HideBanner()
	_, ok = term.CurrentBanner()
	assert.False(t, ok)
}

func TestNewerBannerSurvivesOlderTimer(t *testing.T) {
	var buf bytes.Buffer
	term := newTestTerminal(&buf, WithBannerDuration(30*time.Millisecond))
	defer term.Close()

	term.ShowBanner(app.BannerSuccess, "Added Paris to favorites!", true)
	term.ShowBanner(app.BannerError, "Could not update favorites. Please try again.", false)
	time.Sleep(80 * time.Millisecond)

	b, ok := term.CurrentBanner()
	require.True(t, ok)
	assert.Equal(t, app.BannerError, b.Kind)
}

func TestColorOutput(t *testing.T) {
	var buf bytes.Buffer
	term := newTestTerminal(&buf, WithColor(true))
	term.ShowBanner(app.BannerSuccess, "Cache cleared.", false)
	assert.Equal(t, ansiGreen+"✓ Cache cleared."+ansiReset+"\n", buf.String())
}

func TestUpdatedLabelJustNow(t *testing.T) {
	term := newTestTerminal(&bytes.Buffer{})
	assert.Equal(t, "just now", term.updatedLabel(fixedNow.Add(-10*time.Second)))
	assert.Equal(t, "just now", term.updatedLabel(time.Time{}))
	assert.Equal(t, "2 hours ago", term.updatedLabel(fixedNow.Add(-2*time.Hour)))
}

// Terminal must satisfy the engine's presentation contract.
var _ app.Renderer = (*Terminal)(nil)
