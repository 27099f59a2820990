package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"weatherwise/app"
	"weatherwise/config"
	"weatherwise/internal/logger"
	"weatherwise/weather"
)

// interruptible returns a context cancelled by Ctrl-C or SIGTERM.
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// navigate opens the runtime, refreshes the connectivity flag and runs one
// navigating action.
func (g *globals) navigate(action func(ctx context.Context, rt *runtime) app.Outcome) error {
	rt, err := g.open()
	if err != nil {
		return err
	}
	ctx, stop := interruptible()
	defer stop()

	if !rt.offline {
		rt.monitor.Probe(ctx)
	}
	return exitStatus(action(ctx, rt))
}

func exitStatus(o app.Outcome) error {
	if o.Blocking() {
		return errBlocking
	}
	return nil
}

type ShowCmd struct{}

func (c *ShowCmd) Run(g *globals) error {
	rt, err := g.open()
	if err != nil {
		return err
	}
	if rt.offline {
		o := rt.engine.ConnectivityChanged(false)
		if !o.Rendered() {
			return errBlocking
		}
		return nil
	}
	return g.navigate(func(ctx context.Context, rt *runtime) app.Outcome {
		return rt.engine.Bootstrap(ctx)
	})
}

type SearchCmd struct {
	Query []string `arg:"" help:"Place name, e.g. 'Paris' or 'San Francisco'."`
}

func (c *SearchCmd) Run(g *globals) error {
	return g.navigate(func(ctx context.Context, rt *runtime) app.Outcome {
		return rt.engine.Search(ctx, strings.Join(c.Query, " "))
	})
}

type SuggestCmd struct {
	Query []string `arg:"" help:"Partial place name."`
}

func (c *SuggestCmd) Run(g *globals) error {
	rt, err := g.open()
	if err != nil {
		return err
	}
	ctx, stop := interruptible()
	defer stop()

	locs := rt.engine.Suggest(ctx, strings.Join(c.Query, " "))
	if len(locs) == 0 {
		fmt.Fprintln(rt.out, "No suggestions.")
		return nil
	}
	printLocations(rt, locs)
	return nil
}

type LocateCmd struct{}

func (c *LocateCmd) Run(g *globals) error {
	return g.navigate(func(ctx context.Context, rt *runtime) app.Outcome {
		return rt.engine.UseMyLocation(ctx)
	})
}

type RetryCmd struct{}

func (c *RetryCmd) Run(g *globals) error {
	return g.navigate(func(ctx context.Context, rt *runtime) app.Outcome {
		return rt.engine.Retry(ctx)
	})
}

// SelectCmd shows a location that needs no geocoding: explicit
// coordinates, a favorite or a recent search.
type SelectCmd struct {
	Favorite int `help:"Select the Nth favorite." xor:"source"`
	Recent   int `help:"Select the Nth recent search." xor:"source"`

	Name      string  `arg:"" optional:"" help:"Place name."`
	Country   string  `arg:"" optional:"" help:"Country."`
	Latitude  float64 `arg:"" optional:"" help:"Latitude in decimal degrees (put -- before negative values)."`
	Longitude float64 `arg:"" optional:"" help:"Longitude in decimal degrees."`
}

func (c *SelectCmd) Run(g *globals) error {
	rt, err := g.open()
	if err != nil {
		return err
	}
	loc, err := c.location(rt)
	if err != nil {
		return err
	}
	return g.navigate(func(ctx context.Context, rt *runtime) app.Outcome {
		return rt.engine.Select(ctx, loc)
	})
}

func (c *SelectCmd) location(rt *runtime) (weather.Location, error) {
	switch {
	case c.Favorite > 0:
		favs := rt.store.Favorites()
		if c.Favorite > len(favs) {
			return weather.Location{}, fmt.Errorf("no favorite #%d (you have %d)", c.Favorite, len(favs))
		}
		return favs[c.Favorite-1].Location, nil
	case c.Recent > 0:
		recents := rt.store.RecentSearches()
		if c.Recent > len(recents) {
			return weather.Location{}, fmt.Errorf("no recent search #%d (you have %d)", c.Recent, len(recents))
		}
		return recents[c.Recent-1].Location, nil
	}
	if c.Name == "" {
		return weather.Location{}, errors.New("select needs <name> <country> <lat> <lon>, --favorite N or --recent N")
	}
	loc := weather.Location{Name: c.Name, Country: c.Country, Latitude: c.Latitude, Longitude: c.Longitude}
	if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
		return weather.Location{}, fmt.Errorf("coordinates out of range: %.4f, %.4f", loc.Latitude, loc.Longitude)
	}
	return loc, nil
}

type UnitsCmd struct {
	Units string `arg:"" optional:"" help:"celsius or fahrenheit."`
}

func (c *UnitsCmd) Run(g *globals) error {
	rt, err := g.open()
	if err != nil {
		return err
	}
	if c.Units == "" {
		u := rt.store.Units()
		fmt.Fprintf(rt.out, "Units: %s (%s)\n", u, u.TemperatureSymbol())
		return nil
	}
	u, err := weather.ParseUnits(c.Units)
	if err != nil {
		return err
	}
	if _, ok := rt.engine.ChangeUnits(u); !ok {
		return errBlocking
	}
	fmt.Fprintf(rt.out, "Units set to %s (%s).\n", u, u.TemperatureSymbol())
	return nil
}

type FavoriteCmd struct{}

func (c *FavoriteCmd) Run(g *globals) error {
	rt, err := g.open()
	if err != nil {
		return err
	}
	loc, ok := rt.store.LastLocation()
	if !ok {
		return errors.New("no location yet; run 'weatherwise search <city>' first")
	}
	if _, ok := rt.engine.ToggleFavorite(loc); !ok {
		return errBlocking
	}
	return nil
}

type FavoritesCmd struct {
	Remove int `help:"Remove the Nth favorite."`
}

func (c *FavoritesCmd) Run(g *globals) error {
	rt, err := g.open()
	if err != nil {
		return err
	}
	favs := rt.store.Favorites()
	if c.Remove > 0 {
		if c.Remove > len(favs) {
			return fmt.Errorf("no favorite #%d (you have %d)", c.Remove, len(favs))
		}
		loc := favs[c.Remove-1].Location
		if !rt.store.RemoveFavorite(loc) {
			return fmt.Errorf("could not remove %s from favorites", loc.Name)
		}
		fmt.Fprintf(rt.out, "Removed %s from favorites\n", loc.Name)
		return nil
	}
	if len(favs) == 0 {
		fmt.Fprintln(rt.out, "No favorites yet.")
		return nil
	}
	for i, f := range favs {
		fmt.Fprintf(rt.out, "%d. %s  (added %s)\n", i+1, f.Label(), humanize.Time(f.AddedAt))
	}
	return nil
}

type RecentCmd struct {
	Remove int  `help:"Remove the Nth recent search." xor:"action"`
	Clear  bool `help:"Forget all recent searches." xor:"action"`
}

func (c *RecentCmd) Run(g *globals) error {
	rt, err := g.open()
	if err != nil {
		return err
	}
	recents := rt.store.RecentSearches()
	switch {
	case c.Clear:
		if !rt.store.ClearRecentSearches() {
			return errors.New("could not clear recent searches")
		}
		fmt.Fprintln(rt.out, "Recent searches cleared.")
		return nil
	case c.Remove > 0:
		if c.Remove > len(recents) {
			return fmt.Errorf("no recent search #%d (you have %d)", c.Remove, len(recents))
		}
		loc := recents[c.Remove-1].Location
		if !rt.store.RemoveRecentSearch(loc) {
			return fmt.Errorf("could not remove %s from recent searches", loc.Name)
		}
		fmt.Fprintf(rt.out, "Removed %s from recent searches\n", loc.Name)
		return nil
	}
	if len(recents) == 0 {
		fmt.Fprintln(rt.out, "No recent searches.")
		return nil
	}
	for i, r := range recents {
		fmt.Fprintf(rt.out, "%d. %s  (%s)\n", i+1, r.Label(), humanize.Time(r.SearchedAt))
	}
	return nil
}

type ClearCmd struct {
	WeatherOnly bool `help:"Only drop the cached forecast; keep locations, favorites and recent searches."`
	Units       bool `help:"Also reset the unit preference."`
}

func (c *ClearCmd) Run(g *globals) error {
	rt, err := g.open()
	if err != nil {
		return err
	}
	if c.WeatherOnly {
		if !rt.store.ClearSnapshot() {
			return errors.New("could not clear cached weather")
		}
		fmt.Fprintln(rt.out, "Cached weather cleared.")
		return nil
	}
	if !rt.engine.ClearCache(!c.Units) {
		return errBlocking
	}
	return nil
}

type StatusCmd struct{}

func (c *StatusCmd) Run(g *globals) error {
	rt, err := g.open()
	if err != nil {
		return err
	}
	ctx, stop := interruptible()
	defer stop()

	online := false
	if !rt.offline {
		online, _ = rt.monitor.Probe(ctx)
	}
	state := "offline"
	if online {
		state = "online"
	}

	fmt.Fprintf(rt.out, "Cache:        %s (%s)\n", rt.cfg.Cache.Backend, rt.cfg.Cache.Path)
	fmt.Fprintf(rt.out, "Last update:  %s\n", rt.store.Status())
	if loc, ok := rt.store.LastLocation(); ok {
		fmt.Fprintf(rt.out, "Location:     %s\n", loc.Label())
	}
	fmt.Fprintf(rt.out, "Units:        %s\n", rt.store.Units())
	fmt.Fprintf(rt.out, "Favorites:    %d\n", len(rt.store.Favorites()))
	fmt.Fprintf(rt.out, "Recent:       %d\n", len(rt.store.RecentSearches()))
	fmt.Fprintf(rt.out, "Connectivity: %s (%s)\n", state, rt.cfg.Connectivity.ProbeAddress)
	logFile := logger.Get().FileName()
	if logFile == "" {
		logFile = "off"
	}
	fmt.Fprintf(rt.out, "Log file:     %s\n", logFile)
	return nil
}

type InitConfigCmd struct {
	Force bool `help:"Overwrite an existing file."`
}

func (c *InitConfigCmd) Run(g *globals) error {
	path := g.configPath()
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.GenerateSampleConfig(path); err != nil {
		return fmt.Errorf("failed to generate sample config: %w", err)
	}
	fmt.Fprintf(g.stdout, "Sample configuration file created at: %s\n", path)
	return nil
}

func printLocations(rt *runtime, locs []weather.Location) {
	for i, l := range locs {
		fmt.Fprintf(rt.out, "%d. %s (%.4f, %.4f)\n", i+1, l.Label(), l.Latitude, l.Longitude)
	}
}
