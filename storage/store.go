package storage

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"weatherwise/internal/errorutil"
	"weatherwise/internal/logger"
	"weatherwise/internal/metrics"
	"weatherwise/weather"
)

// Persisted keys.
const (
	KeyWeatherData    = "weatherwise_weather_data"
	KeyLocation       = "weatherwise_location"
	KeyUnits          = "weatherwise_units"
	KeyLastUpdated    = "weatherwise_last_updated"
	KeyRecentSearches = "weatherwise_recent_searches"
	KeyFavorites      = "weatherwise_favorites"
)

const (
	DefaultTTL         = 30 * time.Minute
	DefaultRecentLimit = 5

	noCacheStatus = "No cached data available"
)

// CacheEntry is the last successful forecast.
type CacheEntry struct {
	Location weather.Location
	Snapshot weather.Snapshot
	StoredAt time.Time
}

// RecentSearch is a location that was successfully fetched.
type RecentSearch struct {
	weather.Location
	SearchedAt time.Time
}

// Favorite is a location the user pinned.
type Favorite struct {
	weather.Location
	AddedAt time.Time
}

// ClearOptions controls ClearAll.
type ClearOptions struct {
	KeepUnits bool
}

type storedEntry struct {
	Location    weather.Location `json:"location"`
	WeatherData weather.Snapshot `json:"weatherData"`
	Timestamp   int64            `json:"timestamp"`
}

type storedPlace struct {
	weather.Location
	Timestamp int64 `json:"timestamp"`
}

// Store is the cache store. Reads never fail: absent or corrupt values read
// as "not present". Mutators apply one substrate batch and report whether it
// committed.
type Store struct {
	mu          sync.Mutex
	sub         Substrate
	now         func() time.Time
	ttl         time.Duration
	recentLimit int
	log         *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTTL overrides the entry validity window.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithRecentLimit overrides the recent-search capacity.
func WithRecentLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.recentLimit = n
		}
	}
}

// New builds a store over sub.
func New(sub Substrate, opts ...Option) *Store {
	s := &Store{
		sub:         sub,
		now:         time.Now,
		ttl:         DefaultTTL,
		recentLimit: DefaultRecentLimit,
		log:         logger.Get().Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL reports the configured validity window.
func (s *Store) TTL() time.Duration { return s.ttl }

// Close releases the substrate.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub.Close()
}

// Put records a successful forecast: it overwrites the entry, the last
// location and the last-updated timestamp, and moves loc to the front of
// the recent searches.
func (s *Store) Put(loc weather.Location, snap weather.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, err := json.Marshal(storedEntry{Location: loc, WeatherData: snap, Timestamp: now.UnixMilli()})
	if err != nil {
		return s.fail("put", err)
	}
	location, err := json.Marshal(loc)
	if err != nil {
		return s.fail("put", err)
	}

	recents := withoutPlace(s.readPlaces(KeyRecentSearches), loc)
	recents = append([]storedPlace{{Location: loc, Timestamp: now.UnixMilli()}}, recents...)
	if len(recents) > s.recentLimit {
		recents = recents[:s.recentLimit]
	}
	recentsRaw, err := json.Marshal(recents)
	if err != nil {
		return s.fail("put", err)
	}

	return s.apply("put", Batch{Set: map[string]string{
		KeyWeatherData:    string(entry),
		KeyLastUpdated:    strconv.FormatInt(now.UnixMilli(), 10),
		KeyLocation:       string(location),
		KeyRecentSearches: string(recentsRaw),
	}})
}

// Get returns the entry while it is within the TTL. An expired entry is
// removed together with the last-updated timestamp; the last location stays.
func (s *Store) Get() (CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validEntry()
}

func (s *Store) validEntry() (CacheEntry, bool) {
	raw, ok := s.read(KeyWeatherData)
	if !ok {
		return CacheEntry{}, false
	}
	var e storedEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		errorutil.LogWarning(s.log, "cache entry decode", err, errorutil.StorageContext(s.sub.Name(), KeyWeatherData)...)
		return CacheEntry{}, false
	}
	storedAt := time.UnixMilli(e.Timestamp)
	if s.now().Sub(storedAt) > s.ttl {
		s.log.Debug("Cache entry expired",
			slog.Time("stored_at", storedAt),
			slog.Duration("ttl", s.ttl))
		s.apply("evict", Batch{Delete: []string{KeyWeatherData, KeyLastUpdated}})
		return CacheEntry{}, false
	}
	return CacheEntry{Location: e.Location, Snapshot: e.WeatherData, StoredAt: storedAt}, true
}

// LastLocation returns the most recently fetched location regardless of TTL.
func (s *Store) LastLocation() (weather.Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.read(KeyLocation)
	if !ok {
		return weather.Location{}, false
	}
	var loc weather.Location
	if err := json.Unmarshal([]byte(raw), &loc); err != nil || loc.Name == "" {
		return weather.Location{}, false
	}
	return loc, true
}

// LastUpdated returns when the current entry was stored.
func (s *Store) LastUpdated() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.read(KeyLastUpdated)
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Status describes the cache for a footer line.
func (s *Store) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.validEntry()
	if !ok {
		return noCacheStatus
	}
	return e.StoredAt.Local().Format("Jan 2, 03:04 PM")
}

// ClearSnapshot removes the entry and its timestamp.
func (s *Store) ClearSnapshot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply("clear_snapshot", Batch{Delete: []string{KeyWeatherData, KeyLastUpdated}})
}

// ClearAll removes everything the user accumulated. Units go too unless
// opts.KeepUnits is set.
func (s *Store) ClearAll(opts ClearOptions) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := []string{KeyWeatherData, KeyLastUpdated, KeyLocation, KeyRecentSearches, KeyFavorites}
	if !opts.KeepUnits {
		keys = append(keys, KeyUnits)
	}
	return s.apply("clear_all", Batch{Delete: keys})
}

// RecentSearches returns up to the configured limit, most recent first.
func (s *Store) RecentSearches() []RecentSearch {
	s.mu.Lock()
	defer s.mu.Unlock()
	places := s.readPlaces(KeyRecentSearches)
	out := make([]RecentSearch, len(places))
	for i, p := range places {
		out[i] = RecentSearch{Location: p.Location, SearchedAt: time.UnixMilli(p.Timestamp)}
	}
	return out
}

// RemoveRecentSearch drops loc from the recent searches.
func (s *Store) RemoveRecentSearch(loc weather.Location) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writePlaces("remove_recent", KeyRecentSearches, withoutPlace(s.readPlaces(KeyRecentSearches), loc))
}

// ClearRecentSearches empties the recent searches.
func (s *Store) ClearRecentSearches() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply("clear_recent", Batch{Delete: []string{KeyRecentSearches}})
}

// Favorites returns favorites in insertion order.
func (s *Store) Favorites() []Favorite {
	s.mu.Lock()
	defer s.mu.Unlock()
	places := s.readPlaces(KeyFavorites)
	out := make([]Favorite, len(places))
	for i, p := range places {
		out[i] = Favorite{Location: p.Location, AddedAt: time.UnixMilli(p.Timestamp)}
	}
	return out
}

// IsFavorite reports whether a location with the same key is pinned.
func (s *Store) IsFavorite(loc weather.Location) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return indexOfPlace(s.readPlaces(KeyFavorites), loc) >= 0
}

// ToggleFavorite adds loc if absent and removes it otherwise. added reports
// the new membership; ok is false when nothing was persisted.
func (s *Store) ToggleFavorite(loc weather.Location) (added, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	favs := s.readPlaces(KeyFavorites)
	if i := indexOfPlace(favs, loc); i >= 0 {
		favs = append(favs[:i:i], favs[i+1:]...)
		return false, s.writePlaces("toggle_favorite", KeyFavorites, favs)
	}
	favs = append(favs, storedPlace{Location: loc, Timestamp: s.now().UnixMilli()})
	return true, s.writePlaces("toggle_favorite", KeyFavorites, favs)
}

// RemoveFavorite drops loc from the favorites.
func (s *Store) RemoveFavorite(loc weather.Location) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writePlaces("remove_favorite", KeyFavorites, withoutPlace(s.readPlaces(KeyFavorites), loc))
}

// Units returns the preference, Celsius when unset or unreadable.
func (s *Store) Units() weather.Units {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.read(KeyUnits)
	if !ok {
		return weather.Celsius
	}
	if u := weather.Units(raw); u.Valid() {
		return u
	}
	return weather.Celsius
}

// SetUnits persists the preference.
func (s *Store) SetUnits(u weather.Units) bool {
	if !u.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply("set_units", Batch{Set: map[string]string{KeyUnits: string(u)}})
}

func (s *Store) read(key string) (string, bool) {
	v, ok, err := s.sub.Get(key)
	if err != nil {
		errorutil.LogWarning(s.log, "cache read", err, errorutil.StorageContext(s.sub.Name(), key)...)
		return "", false
	}
	return v, ok
}

func (s *Store) readPlaces(key string) []storedPlace {
	raw, ok := s.read(key)
	if !ok {
		return nil
	}
	var places []storedPlace
	if err := json.Unmarshal([]byte(raw), &places); err != nil {
		errorutil.LogWarning(s.log, "cache list decode", err, errorutil.StorageContext(s.sub.Name(), key)...)
		return nil
	}
	return places
}

func (s *Store) writePlaces(op, key string, places []storedPlace) bool {
	if places == nil {
		places = []storedPlace{}
	}
	raw, err := json.Marshal(places)
	if err != nil {
		return s.fail(op, err)
	}
	return s.apply(op, Batch{Set: map[string]string{key: string(raw)}})
}

func (s *Store) apply(op string, b Batch) bool {
	if b.empty() {
		return true
	}
	if err := s.sub.Apply(b); err != nil {
		return s.fail(op, err)
	}
	metrics.StoreWrites.WithLabelValues(op, metrics.Result(true)).Inc()
	return true
}

func (s *Store) fail(op string, err error) bool {
	metrics.StoreWrites.WithLabelValues(op, metrics.Result(false)).Inc()
	errorutil.LogWarning(s.log, "cache "+op, err, slog.String("backend", s.sub.Name()))
	return false
}

func indexOfPlace(places []storedPlace, loc weather.Location) int {
	for i, p := range places {
		if p.SameAs(loc) {
			return i
		}
	}
	return -1
}

func withoutPlace(places []storedPlace, loc weather.Location) []storedPlace {
	out := make([]storedPlace, 0, len(places))
	for _, p := range places {
		if !p.SameAs(loc) {
			out = append(out, p)
		}
	}
	return out
}
