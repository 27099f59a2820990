package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherwise/api"
	"weatherwise/internal/errorutil"
	"weatherwise/internal/logger"
	"weatherwise/storage"
	"weatherwise/weather"
)

var (
	london = weather.Location{Name: "London", Country: "United Kingdom", Latitude: 51.5074, Longitude: -0.1278}
	paris  = weather.Location{Name: "Paris", Country: "France", Admin1: "Île-de-France", Latitude: 48.8566, Longitude: 2.3522}
	berlin = weather.Location{Name: "Berlin", Country: "Germany", Latitude: 52.52, Longitude: 13.405}
)

func snapshot(temp float64) *weather.Snapshot {
	return &weather.Snapshot{
		Timezone: "Europe/London",
		Current:  weather.Current{Time: "2026-10-19T12:00", Temperature: temp, WeatherCode: 2, IsDay: 1},
		Daily: weather.Daily{
			Dates:        []string{"2026-10-19"},
			WeatherCodes: []int{2},
			MaxTemps:     []float64{temp + 2},
			MinTemps:     []float64{temp - 4},
		},
	}
}

var (
	errOffline = &api.TransportError{Op: "forecast", URL: "https://api.open-meteo.com/v1/forecast", Kind: errorutil.KindDNS, Err: errors.New("no such host")}
	errServer  = &api.HTTPError{Op: "forecast", StatusCode: 503}
)

// scriptedCoordinator answers from per-test functions.
type scriptedCoordinator struct {
	mu            sync.Mutex
	search        func(ctx context.Context, q string) ([]weather.Location, error)
	reverse       func(ctx context.Context, lat, lon float64) (*weather.Location, error)
	forecast      func(ctx context.Context, lat, lon float64) (*weather.Snapshot, error)
	forecastCalls int
	aborts        int
}

func (c *scriptedCoordinator) SearchByName(ctx context.Context, q string) ([]weather.Location, error) {
	if c.search == nil {
		return nil, nil
	}
	return c.search(ctx, q)
}

func (c *scriptedCoordinator) ReverseGeocode(ctx context.Context, lat, lon float64) (*weather.Location, error) {
	if c.reverse == nil {
		return nil, nil
	}
	return c.reverse(ctx, lat, lon)
}

func (c *scriptedCoordinator) FetchForecast(ctx context.Context, lat, lon float64) (*weather.Snapshot, error) {
	c.mu.Lock()
	c.forecastCalls++
	fn := c.forecast
	c.mu.Unlock()
	if fn == nil {
		return snapshot(15), nil
	}
	return fn(ctx, lat, lon)
}

func (c *scriptedCoordinator) Abort(api.Category) {
	c.mu.Lock()
	c.aborts++
	c.mu.Unlock()
}

func (c *scriptedCoordinator) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forecastCalls
}

type banner struct {
	kind        BannerKind
	message     string
	autoDismiss bool
}

// recorder is a Renderer that remembers everything it was asked to do.
type recorder struct {
	mu      sync.Mutex
	events  []string
	results []Result
	errors  [][2]string
	banners []banner
	visible *banner
}

func (r *recorder) ShowLoading() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "loading")
}

func (r *recorder) ShowError(title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "error")
	r.errors = append(r.errors, [2]string{title, message})
}

func (r *recorder) RenderResult(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("render:%s:cached=%t", res.Location.Name, res.Cached))
	r.results = append(r.results, res)
}

func (r *recorder) ShowBanner(kind BannerKind, message string, autoDismiss bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := banner{kind, message, autoDismiss}
	r.events = append(r.events, "banner:"+string(kind))
	r.banners = append(r.banners, b)
	r.visible = &b
}

func (r *recorder) HideBanner() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visible = nil
}

func (r *recorder) lastResult(t *testing.T) Result {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.results, "nothing was rendered")
	return r.results[len(r.results)-1]
}

func (r *recorder) lastBanner(t *testing.T) banner {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.banners, "no banner was shown")
	return r.banners[len(r.banners)-1]
}

type flag struct {
	mu     sync.Mutex
	online bool
}

func (f *flag) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

type fixture struct {
	engine *Engine
	coord  *scriptedCoordinator
	store  *storage.Store
	ui     *recorder
	conn   *flag
}

func newFixture(t *testing.T, locator api.Locator) *fixture {
	t.Helper()
	f := &fixture{
		coord: &scriptedCoordinator{},
		store: storage.New(storage.NewMemory()),
		ui:    &recorder{},
		conn:  &flag{online: true},
	}
	t.Cleanup(func() { _ = f.store.Close() })
	f.engine = NewEngine(Deps{
		Coordinator:  f.coord,
		Store:        f.store,
		Locator:      locator,
		Connectivity: f.conn,
		Renderer:     f.ui,
	})
	return f
}

func (f *fixture) seed(t *testing.T, loc weather.Location) {
	t.Helper()
	require.True(t, f.store.Put(loc, *snapshot(18)))
}

func TestBootstrapFirstRunFetchesDefaultLocation(t *testing.T) {
	f := newFixture(t, nil)

	out := f.engine.Bootstrap(context.Background())
	assert.Equal(t, CaseFresh, out.Case)
	assert.True(t, out.Location.SameAs(london))

	entry, ok := f.store.Get()
	require.True(t, ok)
	assert.True(t, entry.Location.SameAs(london))
	assert.Equal(t, []string{"loading", "render:London:cached=false"}, f.ui.events)
	assert.Nil(t, f.ui.visible)
}

func TestBootstrapUsesLastLocation(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, paris)

	var gotLat float64
	f.coord.forecast = func(_ context.Context, lat, _ float64) (*weather.Snapshot, error) {
		gotLat = lat
		return snapshot(20), nil
	}
	out := f.engine.Bootstrap(context.Background())
	assert.Equal(t, CaseFresh, out.Case)
	assert.Equal(t, paris.Latitude, gotLat)
}

func TestSearchNoResultsWithCacheShowsCachedAndNotFoundBanner(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, paris)
	f.coord.search = func(context.Context, string) ([]weather.Location, error) {
		return []weather.Location{}, nil
	}

	out := f.engine.Search(context.Background(), "Nowhereville")
	assert.Equal(t, CaseFetchFallback, out.Case)
	assert.Equal(t, ReasonNotFound, out.Reason)
	assert.Equal(t, 0, f.coord.calls())

	res := f.ui.lastResult(t)
	assert.True(t, res.Location.SameAs(paris))
	assert.True(t, res.Cached)

	b := f.ui.lastBanner(t)
	assert.Equal(t, BannerWarning, b.kind)
	assert.Equal(t, `No results found for "Nowhereville". Showing cached data.`, b.message)
	assert.NotContains(t, b.message, "offline")
	assert.True(t, b.autoDismiss)
}

func TestSearchNoResultsWithoutCacheIsNotFoundError(t *testing.T) {
	f := newFixture(t, nil)
	f.conn.online = false

	out := f.engine.Search(context.Background(), "Nowhereville")
	assert.Equal(t, CaseBlockingError, out.Case)
	assert.Equal(t, ReasonNotFound, out.Reason)
	require.Len(t, f.ui.errors, 1)
	assert.Equal(t, [2]string{"Location Not Found", `No results found for "Nowhereville"`}, f.ui.errors[0])
}

func TestSearchFetchesFirstCandidate(t *testing.T) {
	f := newFixture(t, nil)
	f.coord.search = func(_ context.Context, q string) ([]weather.Location, error) {
		assert.Equal(t, "Paris", q)
		return []weather.Location{paris, {Name: "Paris", Country: "United States", Latitude: 33.66, Longitude: -95.55}}, nil
	}

	out := f.engine.Search(context.Background(), "  Paris ")
	assert.Equal(t, CaseFresh, out.Case)
	assert.True(t, out.Location.SameAs(paris))

	cur, ok := f.engine.CurrentLocation()
	require.True(t, ok)
	assert.True(t, cur.SameAs(paris))
	assert.Len(t, f.store.RecentSearches(), 1)
}

func TestEmptySearch(t *testing.T) {
	t.Run("without cache", func(t *testing.T) {
		f := newFixture(t, nil)
		out := f.engine.Search(context.Background(), "   ")
		assert.Equal(t, CaseBlockingError, out.Case)
		assert.Equal(t, ReasonEmptyQuery, out.Reason)
		assert.Equal(t, [2]string{"Search Error", "Please enter a city name"}, f.ui.errors[0])
		assert.NotContains(t, f.ui.events, "loading")
	})
	t.Run("with cache", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, berlin)
		out := f.engine.Search(context.Background(), "")
		assert.Equal(t, CasePreconditionFallback, out.Case)
		assert.True(t, f.ui.lastResult(t).Location.SameAs(berlin))
	})
}

func TestFetchFailureWording(t *testing.T) {
	tests := []struct {
		name       string
		cached     bool
		online     bool
		err        error
		wantCase   Case
		wantReason Reason
		wantText   string
	}{
		{"cached offline", true, false, errOffline, CaseFetchFallback, ReasonOffline, "You are offline. Showing cached data."},
		{"cached unreachable", true, true, errServer, CaseFetchFallback, ReasonUnreachable, "Can't reach Open-Meteo right now. Showing cached data."},
		{"uncached offline", false, false, errOffline, CaseBlockingError, ReasonOffline, "You are offline. Please check your connection and try again."},
		{"uncached unreachable", false, true, errServer, CaseBlockingError, ReasonUnreachable, "Can't reach Open-Meteo right now. Please try again later."},
		{"empty response", false, true, nil, CaseBlockingError, ReasonUnreachable, "Can't reach Open-Meteo right now. Please try again later."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			if tt.cached {
				f.seed(t, paris)
			}
			f.conn.online = tt.online
			f.coord.forecast = func(context.Context, float64, float64) (*weather.Snapshot, error) {
				return nil, tt.err
			}

			out := f.engine.Select(context.Background(), berlin)
			assert.Equal(t, tt.wantCase, out.Case)
			assert.Equal(t, tt.wantReason, out.Reason)

			if tt.cached {
				res := f.ui.lastResult(t)
				assert.True(t, res.Cached)
				assert.True(t, res.Location.SameAs(paris))
				b := f.ui.lastBanner(t)
				assert.Equal(t, BannerWarning, b.kind)
				assert.Equal(t, tt.wantText, b.message)
				assert.True(t, b.autoDismiss)
			} else {
				assert.Empty(t, f.ui.results)
				require.Len(t, f.ui.errors, 1)
				assert.Equal(t, "Network Error", f.ui.errors[0][0])
				assert.Equal(t, tt.wantText, f.ui.errors[0][1])
			}

			// A failed fetch never replaces the cached entry.
			entry, ok := f.store.Get()
			assert.Equal(t, tt.cached, ok)
			if ok {
				assert.True(t, entry.Location.SameAs(paris))
			}
		})
	}
}

func TestSearchTransportFailureFallsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, paris)
	f.conn.online = false
	f.coord.search = func(context.Context, string) ([]weather.Location, error) {
		return nil, errOffline
	}

	out := f.engine.Search(context.Background(), "Berlin")
	assert.Equal(t, CaseFetchFallback, out.Case)
	assert.Equal(t, ReasonOffline, out.Reason)
	assert.Equal(t, 0, f.coord.calls())
}

func TestUseMyLocation(t *testing.T) {
	f := newFixture(t, api.StaticLocator{Coordinates: weather.Coordinates{Latitude: 52.5201, Longitude: 13.4049}})
	f.coord.reverse = func(_ context.Context, lat, lon float64) (*weather.Location, error) {
		return &weather.Location{Name: "Berlin", Country: "Germany", Latitude: 52.52, Longitude: 13.40}, nil
	}

	out := f.engine.UseMyLocation(context.Background())
	assert.Equal(t, CaseFresh, out.Case)
	assert.Equal(t, "Berlin", out.Location.Name)
	assert.Equal(t, 52.5201, out.Location.Latitude)
	assert.Equal(t, 13.4049, out.Location.Longitude)
}

func TestUseMyLocationGeolocationFailure(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantReason Reason
		wantText   string
	}{
		{"denied", &api.GeoError{Kind: api.PermissionDenied}, ReasonPermissionDenied, "Location permission denied. Search a city or allow location and try again."},
		{"unavailable", &api.GeoError{Kind: api.PositionUnavailable}, ReasonUnavailable, "Your location could not be determined. Search a city instead."},
		{"timed out", &api.GeoError{Kind: api.TimedOut}, ReasonTimedOut, "Finding your location took too long. Search a city or try again."},
		{"unclassified", errors.New("boom"), ReasonUnavailable, "Your location could not be determined. Search a city instead."},
	}
	for _, tt := range tests {
		t.Run(tt.name+" with cache", func(t *testing.T) {
			f := newFixture(t, failingLocator{tt.err})
			f.seed(t, paris)

			out := f.engine.UseMyLocation(context.Background())
			assert.Equal(t, CasePreconditionFallback, out.Case)
			assert.Equal(t, tt.wantReason, out.Reason)
			assert.Equal(t, 0, f.coord.calls())
			assert.True(t, f.ui.lastResult(t).Cached)
			assert.Equal(t, tt.wantText, f.ui.lastBanner(t).message)
		})
		t.Run(tt.name+" without cache", func(t *testing.T) {
			f := newFixture(t, failingLocator{tt.err})

			out := f.engine.UseMyLocation(context.Background())
			assert.Equal(t, CaseBlockingError, out.Case)
			assert.Equal(t, 0, f.coord.calls())
			assert.Empty(t, f.ui.banners)
			require.Len(t, f.ui.errors, 1)
			assert.Equal(t, [2]string{"Location Error", tt.wantText}, f.ui.errors[0])
		})
	}
}

type failingLocator struct{ err error }

func (l failingLocator) Locate(context.Context) (weather.Coordinates, error) {
	return weather.Coordinates{}, l.err
}

func TestUseMyLocationDefaultsToDisabled(t *testing.T) {
	f := newFixture(t, nil)
	out := f.engine.UseMyLocation(context.Background())
	assert.Equal(t, CaseBlockingError, out.Case)
	assert.Equal(t, ReasonPermissionDenied, out.Reason)
}

func TestUseMyLocationUnnamedPlaceIsFetchFailure(t *testing.T) {
	f := newFixture(t, api.StaticLocator{Coordinates: weather.Coordinates{Latitude: 0, Longitude: -160}})
	f.seed(t, paris)

	out := f.engine.UseMyLocation(context.Background())
	assert.Equal(t, CaseFetchFallback, out.Case)
	assert.Equal(t, ReasonUnreachable, out.Reason)
	assert.Equal(t, 0, f.coord.calls())
}

func TestRetry(t *testing.T) {
	t.Run("replays current location", func(t *testing.T) {
		f := newFixture(t, nil)
		f.coord.forecast = func(context.Context, float64, float64) (*weather.Snapshot, error) {
			return nil, errServer
		}
		out := f.engine.Select(context.Background(), berlin)
		require.Equal(t, CaseBlockingError, out.Case)

		f.coord.forecast = nil
		out = f.engine.Retry(context.Background())
		assert.Equal(t, CaseFresh, out.Case)
		assert.True(t, out.Location.SameAs(berlin))
	})
	t.Run("bootstraps without current location", func(t *testing.T) {
		f := newFixture(t, nil)
		out := f.engine.Retry(context.Background())
		assert.Equal(t, CaseFresh, out.Case)
		assert.True(t, out.Location.SameAs(london))
	})
}

func TestSupersededActionIsDiscarded(t *testing.T) {
	f := newFixture(t, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	f.coord.forecast = func(_ context.Context, lat, _ float64) (*weather.Snapshot, error) {
		if lat == paris.Latitude {
			close(started)
			<-release // answers late and ignores cancellation
			return snapshot(99), nil
		}
		return snapshot(12), nil
	}

	first := make(chan Outcome, 1)
	go func() { first <- f.engine.Select(context.Background(), paris) }()
	<-started

	second := f.engine.Select(context.Background(), berlin)
	require.Equal(t, CaseFresh, second.Case)

	close(release)
	assert.Equal(t, CaseSuperseded, (<-first).Case)

	entry, ok := f.store.Get()
	require.True(t, ok)
	assert.True(t, entry.Location.SameAs(berlin))
	assert.True(t, f.ui.lastResult(t).Location.SameAs(berlin))
	cur, _ := f.engine.CurrentLocation()
	assert.True(t, cur.SameAs(berlin))
}

func TestCancelledRequestIsSilent(t *testing.T) {
	f := newFixture(t, nil)
	f.coord.forecast = func(context.Context, float64, float64) (*weather.Snapshot, error) {
		return nil, fmt.Errorf("forecast: %w", api.ErrCancelled)
	}

	out := f.engine.Select(context.Background(), berlin)
	assert.Equal(t, CaseSuperseded, out.Case)
	assert.Empty(t, f.ui.errors)
	assert.Empty(t, f.ui.banners)
	assert.Empty(t, f.ui.results)
}

func TestNavigatingActionAbortsOutstandingRequests(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.Select(context.Background(), berlin)
	assert.Equal(t, 2, f.coord.aborts)
}

func TestChangeUnitsRerendersCurrentView(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.Select(context.Background(), berlin)
	calls := f.coord.calls()

	out, ok := f.engine.ChangeUnits(weather.Fahrenheit)
	require.True(t, ok)
	assert.Equal(t, CaseRerendered, out.Case)
	assert.Equal(t, calls, f.coord.calls())

	res := f.ui.lastResult(t)
	assert.Equal(t, weather.Fahrenheit, res.Units)
	assert.False(t, res.Cached)
	assert.Equal(t, weather.Fahrenheit, f.store.Units())
}

func TestChangeUnitsWithNothingDisplayed(t *testing.T) {
	f := newFixture(t, nil)
	out, ok := f.engine.ChangeUnits(weather.Fahrenheit)
	require.True(t, ok)
	assert.Equal(t, CaseNoop, out.Case)
	assert.Empty(t, f.ui.results)
}

func TestToggleFavorite(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.Select(context.Background(), paris)

	added, ok := f.engine.ToggleFavorite(paris)
	require.True(t, ok)
	assert.True(t, added)
	assert.Equal(t, banner{BannerSuccess, "Added Paris to favorites!", true}, f.ui.lastBanner(t))
	assert.True(t, f.ui.lastResult(t).Favorite)

	added, ok = f.engine.ToggleFavorite(paris)
	require.True(t, ok)
	assert.False(t, added)
	assert.Equal(t, banner{BannerInfo, "Removed Paris from favorites", true}, f.ui.lastBanner(t))
	assert.False(t, f.ui.lastResult(t).Favorite)
	assert.Empty(t, f.store.Favorites())
}

func TestClearCache(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.Select(context.Background(), paris)
	require.True(t, f.store.SetUnits(weather.Fahrenheit))

	require.True(t, f.engine.ClearCache(true))
	assert.Equal(t, banner{BannerSuccess, "Cache cleared.", true}, f.ui.lastBanner(t))
	_, ok := f.store.Get()
	assert.False(t, ok)
	_, ok = f.store.LastLocation()
	assert.False(t, ok)
	assert.Equal(t, weather.Fahrenheit, f.store.Units())

	_, ok = f.engine.CurrentLocation()
	assert.False(t, ok)
}

// brokenStore fails every mutation.
type brokenStore struct{ *storage.Store }

func (brokenStore) Put(weather.Location, weather.Snapshot) bool { return false }
func (brokenStore) ToggleFavorite(weather.Location) (bool, bool) { return false, false }
func (brokenStore) SetUnits(weather.Units) bool { return false }
func (brokenStore) ClearAll(storage.ClearOptions) bool { return false }

func TestStorageFaultsNeverCrash(t *testing.T) {
	ui := &recorder{}
	mem := storage.New(storage.NewMemory())
	defer mem.Close()
	e := NewEngine(Deps{Coordinator: &scriptedCoordinator{}, Store: brokenStore{mem}, Renderer: ui})

	out := e.Select(context.Background(), berlin)
	assert.Equal(t, CaseFresh, out.Case)
	assert.True(t, ui.lastResult(t).Location.SameAs(berlin))

	_, ok := e.ToggleFavorite(berlin)
	assert.False(t, ok)
	assert.Equal(t, BannerError, ui.lastBanner(t).kind)

	_, ok = e.ChangeUnits(weather.Fahrenheit)
	assert.False(t, ok)

	assert.False(t, e.ClearCache(false))
	assert.Equal(t, banner{BannerError, "Failed to clear cache. Please try again.", true}, ui.lastBanner(t))

	// The fresh result was never cached, so a later failure has nothing to fall back on.
	e2 := NewEngine(Deps{
		Coordinator: &scriptedCoordinator{forecast: func(context.Context, float64, float64) (*weather.Snapshot, error) { return nil, errServer }},
		Store:       brokenStore{mem},
		Renderer:    ui,
	})
	assert.Equal(t, CaseBlockingError, e2.Retry(context.Background()).Case)
}

func TestConnectivityChanged(t *testing.T) {
	t.Run("offline with cache", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, paris)
		out := f.engine.ConnectivityChanged(false)
		assert.Equal(t, CaseFetchFallback, out.Case)
		assert.True(t, f.ui.lastResult(t).Cached)
		assert.Equal(t, banner{BannerWarning, "You are offline. Showing cached data.", false}, f.ui.lastBanner(t))
	})
	t.Run("offline without cache", func(t *testing.T) {
		f := newFixture(t, nil)
		out := f.engine.ConnectivityChanged(false)
		assert.Equal(t, ReasonOffline, out.Reason)
		assert.Empty(t, f.ui.results)
		assert.Equal(t, banner{BannerError, "You are offline. No cached data available.", false}, f.ui.lastBanner(t))
	})
	t.Run("back online", func(t *testing.T) {
		f := newFixture(t, nil)
		f.engine.ConnectivityChanged(false)
		require.NotNil(t, f.ui.visible)
		f.engine.ConnectivityChanged(true)
		assert.Nil(t, f.ui.visible)
		assert.Equal(t, 0, f.coord.calls())
	})
}

func TestSuggestSwallowsErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.coord.search = func(_ context.Context, q string) ([]weather.Location, error) {
		if q == "Pa" {
			return []weather.Location{paris}, nil
		}
		return nil, errOffline
	}
	assert.Equal(t, []weather.Location{paris}, f.engine.Suggest(context.Background(), "Pa"))
	assert.Empty(t, f.engine.Suggest(context.Background(), "Be"))
	assert.Empty(t, f.ui.events)
}

// heldProvider is an api.Provider whose calls block until their key is
// released. Every call is reported on started.
type heldProvider struct {
	mu      sync.Mutex
	calls   []string
	gates   map[string]chan struct{}
	started chan string
}

func newHeldProvider() *heldProvider {
	return &heldProvider{gates: map[string]chan struct{}{}, started: make(chan string, 16)}
}

func (p *heldProvider) gate(key string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.gates[key]
	if !ok {
		g = make(chan struct{})
		p.gates[key] = g
	}
	return g
}

func (p *heldProvider) release(key string) { close(p.gate(key)) }

func (p *heldProvider) wait(ctx context.Context, key string) error {
	p.mu.Lock()
	p.calls = append(p.calls, key)
	p.mu.Unlock()
	p.started <- key
	select {
	case <-p.gate(key):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *heldProvider) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *heldProvider) Search(ctx context.Context, name string) ([]weather.Location, error) {
	if err := p.wait(ctx, "search:"+name); err != nil {
		return nil, err
	}
	return []weather.Location{paris}, nil
}

func (p *heldProvider) Reverse(ctx context.Context, lat, lon float64) (*weather.Location, error) {
	if err := p.wait(ctx, "reverse"); err != nil {
		return nil, err
	}
	return &weather.Location{Name: "Here", Country: "Testland", Latitude: lat, Longitude: lon}, nil
}

func (p *heldProvider) Forecast(ctx context.Context, lat, lon float64) (*weather.Snapshot, error) {
	if err := p.wait(ctx, "forecast"); err != nil {
		return nil, err
	}
	return snapshot(14), nil
}

// heldLocator blocks in Locate until released.
type heldLocator struct {
	started chan struct{}
	release chan struct{}
}

func (l heldLocator) Locate(context.Context) (weather.Coordinates, error) {
	close(l.started)
	<-l.release
	return weather.Coordinates{Latitude: 52.52, Longitude: 13.40}, nil
}

func newCoordinatedEngine(t *testing.T, p api.Provider, locator api.Locator) (*Engine, *recorder) {
	t.Helper()
	store := storage.New(storage.NewMemory())
	t.Cleanup(func() { _ = store.Close() })
	ui := &recorder{}
	e := NewEngine(Deps{
		Coordinator: api.NewCoordinator(p),
		Store:       store,
		Locator:     locator,
		Renderer:    ui,
	})
	return e, ui
}

func awaitStart(t *testing.T, p *heldProvider, want string) {
	t.Helper()
	select {
	case got := <-p.started:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("%s never started", want)
	}
}

func TestStaleLocateDoesNotCancelNewerSearch(t *testing.T) {
	p := newHeldProvider()
	p.release("forecast")
	loc := heldLocator{started: make(chan struct{}), release: make(chan struct{})}
	e, ui := newCoordinatedEngine(t, p, loc)

	locate := make(chan Outcome, 1)
	go func() { locate <- e.UseMyLocation(context.Background()) }()
	<-loc.started

	search := make(chan Outcome, 1)
	go func() { search <- e.Search(context.Background(), "Paris") }()
	awaitStart(t, p, "search:Paris")

	// The older action resumes while the search is in flight.
	close(loc.release)
	assert.Equal(t, CaseSuperseded, (<-locate).Case)

	p.release("search:Paris")
	awaitStart(t, p, "forecast")
	out := <-search
	require.Equal(t, CaseFresh, out.Case)
	assert.True(t, out.Location.SameAs(paris))
	assert.True(t, ui.lastResult(t).Location.SameAs(paris))
	assert.NotContains(t, p.seen(), "reverse")
}

func TestSuggestLeavesResolvingSearchAlone(t *testing.T) {
	p := newHeldProvider()
	p.release("forecast")
	e, ui := newCoordinatedEngine(t, p, nil)

	search := make(chan Outcome, 1)
	go func() { search <- e.Search(context.Background(), "Paris") }()
	awaitStart(t, p, "search:Paris")

	assert.Empty(t, e.Suggest(context.Background(), "Berl"))

	p.release("search:Paris")
	awaitStart(t, p, "forecast")
	out := <-search
	require.Equal(t, CaseFresh, out.Case)
	assert.True(t, ui.lastResult(t).Location.SameAs(paris))
	assert.Equal(t, []string{"search:Paris", "forecast"}, p.seen())

	// Once the search has resolved, suggestions reach the provider again.
	p.release("search:Berl")
	assert.Equal(t, []weather.Location{paris}, e.Suggest(context.Background(), "Berl"))
}

func TestFetchFailureLogsWhatWasLookedUp(t *testing.T) {
	var logs bytes.Buffer
	logger.SetGlobal(logger.NewWithWriter(&logs, "debug"))
	t.Cleanup(func() { logger.SetGlobal(nil) })

	f := newFixture(t, nil)
	f.coord.forecast = func(context.Context, float64, float64) (*weather.Snapshot, error) {
		return nil, errServer
	}
	out := f.engine.Select(context.Background(), berlin)
	require.Equal(t, CaseBlockingError, out.Case)

	text := logs.String()
	assert.Contains(t, text, "Non-fatal error in weather lookup")
	assert.Contains(t, text, "location=Berlin")
	assert.Contains(t, text, "country=Germany")
	assert.Contains(t, text, "Action finished")
	assert.Contains(t, text, "action=select")
	assert.Contains(t, text, "case="+string(CaseBlockingError))
	assert.Contains(t, text, "reason="+string(ReasonUnreachable))
}
