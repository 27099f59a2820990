package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"weatherwise/api"
	"weatherwise/internal/errorutil"
	"weatherwise/internal/logger"
	"weatherwise/internal/metrics"
	"weatherwise/storage"
	"weatherwise/weather"
)

// Coordinator issues provider calls. See api.Coordinator.
type Coordinator interface {
	SearchByName(ctx context.Context, query string) ([]weather.Location, error)
	ReverseGeocode(ctx context.Context, lat, lon float64) (*weather.Location, error)
	FetchForecast(ctx context.Context, lat, lon float64) (*weather.Snapshot, error)
	Abort(cat api.Category)
}

// CacheStore is the persisted state the engine reads and writes. See
// storage.Store.
type CacheStore interface {
	Put(loc weather.Location, snap weather.Snapshot) bool
	Get() (storage.CacheEntry, bool)
	LastLocation() (weather.Location, bool)
	IsFavorite(loc weather.Location) bool
	ToggleFavorite(loc weather.Location) (added, ok bool)
	Units() weather.Units
	SetUnits(u weather.Units) bool
	ClearAll(opts storage.ClearOptions) bool
}

// Connectivity reports the current connectivity flag.
type Connectivity interface {
	Online() bool
}

// AlwaysOnline is a Connectivity that never reports offline.
type AlwaysOnline struct{}

func (AlwaysOnline) Online() bool { return true }

// DefaultLocation is where a first run starts.
var DefaultLocation = weather.Location{
	Name:      "London",
	Country:   "United Kingdom",
	Latitude:  51.5074,
	Longitude: -0.1278,
}

var errEmptyForecast = errors.New("provider returned no forecast data")

// Deps are the collaborators of an Engine.
type Deps struct {
	Coordinator  Coordinator
	Store        CacheStore
	Locator      api.Locator
	Connectivity Connectivity
	Renderer     Renderer
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefaultLocation sets the first-run location.
func WithDefaultLocation(loc weather.Location) Option {
	return func(e *Engine) { e.defaultLocation = loc }
}

// WithProviderName sets the provider name used in user-facing messages.
func WithProviderName(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.providerName = name
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine turns user actions into exactly one presentation outcome each.
//
// Navigating actions (Bootstrap, Search, Select, UseMyLocation, Retry) are
// numbered. An action only reaches the renderer or the store if no newer
// navigating action has started since, so results of an abandoned action
// are dropped even when they arrive late.
type Engine struct {
	coord   Coordinator
	store   CacheStore
	locator api.Locator
	conn    Connectivity
	ui      Renderer

	defaultLocation weather.Location
	providerName    string
	now             func() time.Time

	mu        sync.Mutex
	gen       uint64
	resolving uint64 // action holding the geocode slot, 0 when none
	current   *weather.Location
	shown     *Result
}

func NewEngine(deps Deps, opts ...Option) *Engine {
	e := &Engine{
		coord:           deps.Coordinator,
		store:           deps.Store,
		locator:         deps.Locator,
		conn:            deps.Connectivity,
		ui:              deps.Renderer,
		defaultLocation: DefaultLocation,
		providerName:    "Open-Meteo",
		now:             time.Now,
	}
	if e.locator == nil {
		e.locator = api.DisabledLocator{}
	}
	if e.conn == nil {
		e.conn = AlwaysOnline{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CurrentLocation returns the most recently resolved location.
func (e *Engine) CurrentLocation() (weather.Location, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return weather.Location{}, false
	}
	return *e.current, true
}

// Displayed returns the weather view currently on screen.
func (e *Engine) Displayed() (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shown == nil {
		return Result{}, false
	}
	return *e.shown, true
}

// Bootstrap loads the last location, or the default one on a first run.
func (e *Engine) Bootstrap(ctx context.Context) Outcome {
	loc, ok := e.store.LastLocation()
	if !ok {
		loc = e.defaultLocation
	}
	gen := e.begin()
	return e.record("bootstrap", e.fetchFor(ctx, gen, loc))
}

// Search resolves query to its best match and fetches its forecast.
func (e *Engine) Search(ctx context.Context, query string) Outcome {
	query = strings.TrimSpace(query)
	if query == "" {
		gen := e.supersede()
		return e.record("search", e.preconditionFailed(gen, ReasonEmptyQuery, "Search Error", "Please enter a city name"))
	}

	gen := e.begin()
	release, ok := e.claimGeocode(gen)
	if !ok {
		return e.record("search", superseded())
	}
	locs, err := e.coord.SearchByName(ctx, query)
	release()
	switch {
	case api.IsCancelled(err):
		return e.record("search", superseded())
	case err != nil:
		return e.record("search", e.fetchFailed(gen, err, slog.String("query", query)))
	case len(locs) == 0:
		return e.record("search", e.notFound(gen, query))
	}
	return e.record("search", e.fetchFor(ctx, gen, locs[0]))
}

// Select fetches the forecast for an already resolved location, such as a
// suggestion, a favorite or a recent search.
func (e *Engine) Select(ctx context.Context, loc weather.Location) Outcome {
	gen := e.begin()
	return e.record("select", e.fetchFor(ctx, gen, loc))
}

// Suggest returns candidate locations for a partial query. Failures yield
// no suggestions and never reach the renderer. While a navigating action is
// resolving a place, Suggest returns nothing rather than cancel it.
func (e *Engine) Suggest(ctx context.Context, query string) []weather.Location {
	e.mu.Lock()
	busy := e.resolving != 0
	e.mu.Unlock()
	if busy {
		logger.Debug("Suggestions for %q skipped: a lookup is resolving", query)
		return nil
	}

	locs, err := e.coord.SearchByName(ctx, query)
	if err != nil {
		if !api.IsCancelled(err) {
			logger.Debug("Suggestions for %q unavailable: %v", query, err)
		}
		return nil
	}
	return locs
}

// UseMyLocation locates the device, names the place and fetches its
// forecast. A geolocation failure ends the action without a forecast
// attempt.
func (e *Engine) UseMyLocation(ctx context.Context) Outcome {
	gen := e.begin()

	coords, err := e.locator.Locate(ctx)
	if err != nil {
		if api.IsCancelled(err) || ctx.Err() != nil {
			return e.record("locate", superseded())
		}
		reason, msg := e.geolocationMessage(err)
		logger.Warn("Geolocation failed: %v", err)
		return e.record("locate", e.preconditionFailed(gen, reason, "Location Error", msg))
	}

	release, ok := e.claimGeocode(gen)
	if !ok {
		return e.record("locate", superseded())
	}
	named, err := e.coord.ReverseGeocode(ctx, coords.Latitude, coords.Longitude)
	release()
	where := errorutil.LocationContext("", "", coords.Latitude, coords.Longitude)
	switch {
	case api.IsCancelled(err):
		return e.record("locate", superseded())
	case err != nil:
		return e.record("locate", e.fetchFailed(gen, err, where...))
	case named == nil:
		return e.record("locate", e.fetchFailed(gen, api.ErrNoLocationName, where...))
	}

	loc := *named
	loc.Latitude = coords.Latitude
	loc.Longitude = coords.Longitude
	return e.record("locate", e.fetchFor(ctx, gen, loc))
}

// Retry replays the last resolved location, or bootstraps if there is none.
func (e *Engine) Retry(ctx context.Context) Outcome {
	loc, ok := e.CurrentLocation()
	if !ok {
		return e.Bootstrap(ctx)
	}
	gen := e.begin()
	return e.record("retry", e.fetchFor(ctx, gen, loc))
}

// ChangeUnits stores the unit preference and redraws the current view.
func (e *Engine) ChangeUnits(u weather.Units) (Outcome, bool) {
	if !e.store.SetUnits(u) {
		e.ui.ShowBanner(BannerError, "Could not save your unit preference.", true)
		return e.record("units", Outcome{Case: CaseNoop, Reason: ReasonStorage}), false
	}
	return e.record("units", e.rerender()), true
}

// ToggleFavorite adds loc to the favorites or removes it. ok is false when
// the change could not be stored.
func (e *Engine) ToggleFavorite(loc weather.Location) (added, ok bool) {
	added, ok = e.store.ToggleFavorite(loc)
	switch {
	case !ok:
		e.ui.ShowBanner(BannerError, "Could not update favorites. Please try again.", true)
		e.record("favorite", Outcome{Case: CaseNoop, Reason: ReasonStorage, Location: loc})
		return false, false
	case added:
		e.ui.ShowBanner(BannerSuccess, fmt.Sprintf("Added %s to favorites!", loc.Name), true)
	default:
		e.ui.ShowBanner(BannerInfo, fmt.Sprintf("Removed %s from favorites", loc.Name), true)
	}
	e.record("favorite", e.rerender())
	return added, true
}

// ClearCache wipes the persisted weather, locations and lists.
func (e *Engine) ClearCache(keepUnits bool) bool {
	if !e.store.ClearAll(storage.ClearOptions{KeepUnits: keepUnits}) {
		e.ui.ShowBanner(BannerError, "Failed to clear cache. Please try again.", true)
		e.record("clear", Outcome{Case: CaseNoop, Reason: ReasonStorage})
		return false
	}
	e.mu.Lock()
	e.current = nil
	e.mu.Unlock()
	e.ui.ShowBanner(BannerSuccess, "Cache cleared.", true)
	e.record("clear", Outcome{Case: CaseNoop})
	return true
}

// ConnectivityChanged reacts to a connectivity flag transition. Going
// offline shows the cached entry, or an error when there is none. Coming
// back online only clears the banner.
func (e *Engine) ConnectivityChanged(online bool) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	if online {
		e.ui.HideBanner()
		return e.record("connectivity", Outcome{Case: CaseNoop})
	}
	entry, ok := e.store.Get()
	if !ok {
		e.ui.ShowBanner(BannerError, "You are offline. No cached data available.", false)
		return e.record("connectivity", Outcome{Case: CaseNoop, Reason: ReasonOffline})
	}
	e.renderLocked(e.cachedResult(entry))
	e.ui.ShowBanner(BannerWarning, "You are offline. Showing cached data.", false)
	return e.record("connectivity", Outcome{Case: CaseFetchFallback, Reason: ReasonOffline, Location: entry.Location})
}

// supersede starts a navigating action without entering the loading state.
func (e *Engine) supersede() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	return e.gen
}

// begin starts a navigating action, abandons whatever the previous one
// still has in flight and enters the loading state.
func (e *Engine) begin() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	e.coord.Abort(api.CategoryGeocode)
	e.coord.Abort(api.CategoryWeather)
	e.ui.HideBanner()
	e.ui.ShowLoading()
	return e.gen
}

// claimGeocode reports whether gen is still the newest action. If it is,
// the geocode slot belongs to gen until release is called, and suggestions
// stay off it meanwhile. A stale action must not issue requests: the slot
// would cancel the newer action's request in its place.
func (e *Engine) claimGeocode(gen uint64) (release func(), ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return nil, false
	}
	e.resolving = gen
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.resolving == gen {
			e.resolving = 0
		}
	}, true
}

// commit runs fn with the engine locked if gen is still the newest action.
func (e *Engine) commit(gen uint64, fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return false
	}
	fn()
	return true
}

func superseded() Outcome { return Outcome{Case: CaseSuperseded} }

// fetchFor fetches and renders the forecast for loc. The forecast request
// is only issued while gen is the newest action.
func (e *Engine) fetchFor(ctx context.Context, gen uint64, loc weather.Location) Outcome {
	if !e.commit(gen, func() { e.current = &loc }) {
		return superseded()
	}

	snap, err := e.coord.FetchForecast(ctx, loc.Latitude, loc.Longitude)
	if api.IsCancelled(err) {
		return superseded()
	}
	if err == nil && snap.Empty() {
		err = errEmptyForecast
	}
	if err != nil {
		return e.fetchFailed(gen, err, errorutil.LocationContext(loc.Name, loc.Country, loc.Latitude, loc.Longitude)...)
	}

	var out Outcome
	ok := e.commit(gen, func() {
		if !e.store.Put(loc, *snap) {
			logger.Warn("Forecast for %s was not cached", loc.Label())
		}
		e.renderLocked(Result{
			Location: loc,
			Snapshot: *snap,
			Units:    e.store.Units(),
			StoredAt: e.now(),
			Favorite: e.store.IsFavorite(loc),
		})
		e.ui.HideBanner()
		out = Outcome{Case: CaseFresh, Location: loc}
	})
	if !ok {
		return superseded()
	}
	return out
}

// fetchFailed renders the cached entry under a warning, or a blocking error.
// attrs describe what was being looked up.
func (e *Engine) fetchFailed(gen uint64, err error, attrs ...slog.Attr) Outcome {
	errorutil.LogWarning(logger.Get().Logger, "weather lookup", err, attrs...)
	var out Outcome
	ok := e.commit(gen, func() {
		reason := ReasonUnreachable
		if !e.conn.Online() {
			reason = ReasonOffline
		}
		if entry, ok := e.store.Get(); ok {
			e.renderLocked(e.cachedResult(entry))
			e.ui.ShowBanner(BannerWarning, e.fallbackMessage(reason), true)
			out = Outcome{Case: CaseFetchFallback, Reason: reason, Location: entry.Location}
			return
		}
		e.showErrorLocked("Network Error", e.blockingMessage(reason))
		out = Outcome{Case: CaseBlockingError, Reason: reason}
	})
	if !ok {
		return superseded()
	}
	return out
}

// notFound handles a search with zero candidates. It is not an outage.
func (e *Engine) notFound(gen uint64, query string) Outcome {
	var out Outcome
	ok := e.commit(gen, func() {
		if entry, ok := e.store.Get(); ok {
			e.renderLocked(e.cachedResult(entry))
			e.ui.ShowBanner(BannerWarning, fmt.Sprintf("No results found for %q. Showing cached data.", query), true)
			out = Outcome{Case: CaseFetchFallback, Reason: ReasonNotFound, Location: entry.Location}
			return
		}
		e.showErrorLocked("Location Not Found", fmt.Sprintf("No results found for %q", query))
		out = Outcome{Case: CaseBlockingError, Reason: ReasonNotFound}
	})
	if !ok {
		return superseded()
	}
	return out
}

// preconditionFailed handles a failure before any forecast attempt.
func (e *Engine) preconditionFailed(gen uint64, reason Reason, title, msg string) Outcome {
	var out Outcome
	ok := e.commit(gen, func() {
		if entry, ok := e.store.Get(); ok {
			e.renderLocked(e.cachedResult(entry))
			e.ui.ShowBanner(BannerWarning, msg, true)
			out = Outcome{Case: CasePreconditionFallback, Reason: reason, Location: entry.Location}
			return
		}
		e.showErrorLocked(title, msg)
		out = Outcome{Case: CaseBlockingError, Reason: reason}
	})
	if !ok {
		return superseded()
	}
	return out
}

// rerender redraws the current view with fresh preferences.
func (e *Engine) rerender() Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shown == nil {
		return Outcome{Case: CaseNoop}
	}
	r := *e.shown
	r.Units = e.store.Units()
	r.Favorite = e.store.IsFavorite(r.Location)
	e.renderLocked(r)
	return Outcome{Case: CaseRerendered, Location: r.Location}
}

func (e *Engine) cachedResult(entry storage.CacheEntry) Result {
	return Result{
		Location: entry.Location,
		Snapshot: entry.Snapshot,
		Units:    e.store.Units(),
		Cached:   true,
		StoredAt: entry.StoredAt,
		Favorite: e.store.IsFavorite(entry.Location),
	}
}

func (e *Engine) renderLocked(r Result) {
	e.shown = &r
	e.ui.RenderResult(r)
}

func (e *Engine) showErrorLocked(title, msg string) {
	e.shown = nil
	e.ui.ShowError(title, msg)
}

func (e *Engine) fallbackMessage(reason Reason) string {
	if reason == ReasonOffline {
		return "You are offline. Showing cached data."
	}
	return fmt.Sprintf("Can't reach %s right now. Showing cached data.", e.providerName)
}

func (e *Engine) blockingMessage(reason Reason) string {
	if reason == ReasonOffline {
		return "You are offline. Please check your connection and try again."
	}
	return fmt.Sprintf("Can't reach %s right now. Please try again later.", e.providerName)
}

func (e *Engine) geolocationMessage(err error) (Reason, string) {
	var geoErr *api.GeoError
	if errors.As(err, &geoErr) {
		switch geoErr.Kind {
		case api.PermissionDenied:
			return ReasonPermissionDenied, "Location permission denied. Search a city or allow location and try again."
		case api.TimedOut:
			return ReasonTimedOut, "Finding your location took too long. Search a city or try again."
		}
	}
	return ReasonUnavailable, "Your location could not be determined. Search a city instead."
}

func (e *Engine) record(action string, o Outcome) Outcome {
	metrics.EngineOutcomes.WithLabelValues(action, string(o.Case)).Inc()
	fields := map[string]any{"action": action, "case": string(o.Case)}
	if o.Reason != "" {
		fields["reason"] = string(o.Reason)
	}
	if o.Location.Name != "" {
		fields["location"] = o.Location.Name
	}
	logger.LogWithFields(logger.DebugLevel, "Action finished", fields)
	return o
}
