package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"weatherwise/internal/errorutil"
	"weatherwise/internal/logger"
	"weatherwise/internal/metrics"
	"weatherwise/weather"
)

// Category groups requests that supersede one another.
type Category string

const (
	CategoryGeocode Category = "geocode"
	CategoryWeather Category = "weather"
)

// MinQueryLength is the shortest name that reaches the provider.
const MinQueryLength = 2

// slot tracks the outstanding request of one category. seq only grows, so
// a finishing request can tell whether it is still the newest.
type slot struct {
	seq    uint64
	id     string
	cancel context.CancelFunc
}

// Coordinator issues provider calls with at most one live request per
// category. Starting a request cancels the previous one in its category.
// Results of a request that is no longer current are reported as
// ErrCancelled even if the provider answered.
type Coordinator struct {
	provider Provider

	mu    sync.Mutex
	slots map[Category]*slot
}

func NewCoordinator(p Provider) *Coordinator {
	return &Coordinator{
		provider: p,
		slots: map[Category]*slot{
			CategoryGeocode: {},
			CategoryWeather: {},
		},
	}
}

type ticket struct {
	cat Category
	seq uint64
	id  string
	ctx context.Context
}

// begin cancels whatever is outstanding in cat and installs a fresh token.
func (c *Coordinator) begin(parent context.Context, cat Category) ticket {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slot(cat)
	if s.cancel != nil {
		s.cancel()
		metrics.SupersededRequests.WithLabelValues(string(cat)).Inc()
		logger.Debug("Superseded %s request %s", cat, s.id)
	}
	ctx, cancel := context.WithCancel(parent)
	s.seq++
	s.id = uuid.NewString()
	s.cancel = cancel
	return ticket{cat: cat, seq: s.seq, id: s.id, ctx: ctx}
}

// finish releases the token and reports whether t was still current.
func (c *Coordinator) finish(t ticket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slot(t.cat)
	if s.seq != t.seq {
		return false
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return true
}

func (c *Coordinator) slot(cat Category) *slot {
	s, ok := c.slots[cat]
	if !ok {
		s = &slot{}
		c.slots[cat] = s
	}
	return s
}

// Abort cancels the outstanding request in cat, if any, and counts it as
// superseded. Its caller sees ErrCancelled.
func (c *Coordinator) Abort(cat Category) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slot(cat)
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		metrics.SupersededRequests.WithLabelValues(string(cat)).Inc()
		logger.Debug("Aborted %s request %s", cat, s.id)
	}
	s.seq++
}

// Pending reports whether a request in cat is outstanding.
func (c *Coordinator) Pending(cat Category) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot(cat).cancel != nil
}

// run executes call under a fresh token for cat and applies the
// supersede rules to its outcome.
func run[T any](c *Coordinator, parent context.Context, cat Category, op string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	t := c.begin(parent, cat)
	done := logger.LogOperationStart(op, map[string]any{"category": string(cat), "request_id": t.id})

	start := time.Now()
	result, err := call(t.ctx)
	elapsed := time.Since(start)

	current := c.finish(t)
	cancelled := !current || parent.Err() != nil || errors.Is(err, ErrCancelled)

	switch {
	case cancelled:
		metrics.ProviderRequestsTotal.WithLabelValues(string(cat), op, "cancelled").Inc()
		done(nil)
		return zero, fmt.Errorf("%s: %w", op, ErrCancelled)
	case err != nil:
		metrics.ProviderRequestsTotal.WithLabelValues(string(cat), op, "error").Inc()
		metrics.ProviderLatency.WithLabelValues(string(cat), op).Observe(elapsed.Seconds())
		var te *TransportError
		if errors.As(err, &te) {
			errorutil.LogNetworkError(logger.Get().Logger, errorutil.NewNetworkError(op, te.URL, te.Err),
				errorutil.RequestContext(string(cat), t.id)...)
		}
		done(err)
		return zero, err
	}

	metrics.ProviderRequestsTotal.WithLabelValues(string(cat), op, "ok").Inc()
	metrics.ProviderLatency.WithLabelValues(string(cat), op).Observe(elapsed.Seconds())
	done(nil)
	return result, nil
}

// SearchByName resolves a place name to candidate locations. Queries
// shorter than MinQueryLength return no candidates without a network call,
// though they still cancel any outstanding geocode request.
func (c *Coordinator) SearchByName(ctx context.Context, query string) ([]weather.Location, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinQueryLength {
		c.finish(c.begin(ctx, CategoryGeocode))
		return []weather.Location{}, nil
	}
	locs, err := run(c, ctx, CategoryGeocode, "search", func(ctx context.Context) ([]weather.Location, error) {
		return c.provider.Search(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	if locs == nil {
		locs = []weather.Location{}
	}
	return locs, nil
}

// ReverseGeocode names the place at a coordinate. A nil location with a
// nil error means the provider had no answer.
func (c *Coordinator) ReverseGeocode(ctx context.Context, lat, lon float64) (*weather.Location, error) {
	return run(c, ctx, CategoryGeocode, "reverse", func(ctx context.Context) (*weather.Location, error) {
		return c.provider.Reverse(ctx, lat, lon)
	})
}

// FetchForecast retrieves the snapshot for a coordinate. A nil snapshot
// with a nil error means the provider answered without data.
func (c *Coordinator) FetchForecast(ctx context.Context, lat, lon float64) (*weather.Snapshot, error) {
	return run(c, ctx, CategoryWeather, "forecast", func(ctx context.Context) (*weather.Snapshot, error) {
		return c.provider.Forecast(ctx, lat, lon)
	})
}
