package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"weatherwise/app"
	"weatherwise/internal/logger"
	"weatherwise/internal/metrics"
	"weatherwise/weather"
)

const shellHelp = `Commands:
  search <place>     search and show weather
  suggest <place>    list matches; follow with 'pick N'
  pick <n>           show the Nth suggestion
  locate             weather for your current location
  retry              reload the current location
  units <c|f>        switch units
  fav                toggle the current location as a favorite
  favorites          list favorites ('fav N' opens one)
  recent             list recent searches ('recent N' opens one)
  clear              clear the cache
  status             cache status
  help               this text
  quit               leave`

// ShellCmd runs an interactive session. Navigating commands run in the
// background, so a new search supersedes one that is still loading.
type ShellCmd struct{}

func (c *ShellCmd) Run(g *globals) error {
	rt, err := g.open()
	if err != nil {
		return err
	}
	ctx, stop := interruptible()
	defer stop()

	if srv := startMetricsServer(rt.cfg.Metrics.Listen); srv != nil {
		defer shutdownServer(srv)
	}

	if !rt.offline {
		rt.monitor.Probe(ctx)
		go rt.monitor.Watch(ctx, seconds(rt.cfg.Connectivity.ProbeIntervalSeconds), func(online bool) {
			rt.engine.ConnectivityChanged(online)
		})
	}

	s := &shell{rt: rt, ctx: ctx}
	s.spawn(func(ctx context.Context) app.Outcome { return rt.engine.Bootstrap(ctx) })
	s.loop(os.Stdin)
	stop()
	s.wg.Wait()
	return nil
}

type shell struct {
	rt  *runtime
	ctx context.Context
	wg  sync.WaitGroup

	mu          sync.Mutex
	suggestions []weather.Location
}

func (s *shell) loop(in io.Reader) {
	fmt.Fprintln(s.rt.out, "Type 'help' for commands.")
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !s.exec(strings.TrimSpace(line)) {
				return
			}
		}
	}
}

// exec runs one command line and reports whether the session continues.
func (s *shell) exec(line string) bool {
	if line == "" {
		return true
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	e := s.rt.engine

	switch strings.ToLower(cmd) {
	case "quit", "exit", "q":
		return false
	case "help", "?":
		fmt.Fprintln(s.rt.out, shellHelp)
	case "search", "s":
		s.spawn(func(ctx context.Context) app.Outcome { return e.Search(ctx, arg) })
	case "suggest":
		s.suggest(arg)
	case "pick":
		if loc, ok := s.pick(arg); ok {
			s.spawn(func(ctx context.Context) app.Outcome { return e.Select(ctx, loc) })
		}
	case "locate", "here":
		s.spawn(func(ctx context.Context) app.Outcome { return e.UseMyLocation(ctx) })
	case "retry", "r":
		s.spawn(func(ctx context.Context) app.Outcome { return e.Retry(ctx) })
	case "units", "u":
		u, err := weather.ParseUnits(arg)
		if err != nil {
			fmt.Fprintln(s.rt.out, err)
			break
		}
		e.ChangeUnits(u)
	case "fav":
		s.favorite(arg)
	case "favorites":
		s.list(favoriteLocations(s.rt), "No favorites yet.")
	case "recent":
		s.recent(arg)
	case "clear":
		e.ClearCache(true)
	case "status":
		fmt.Fprintf(s.rt.out, "Last update: %s\n", s.rt.store.Status())
	default:
		fmt.Fprintf(s.rt.out, "Unknown command %q. Type 'help'.\n", cmd)
	}
	return true
}

func (s *shell) spawn(action func(ctx context.Context) app.Outcome) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		action(s.ctx)
	}()
}

func (s *shell) suggest(query string) {
	locs := s.rt.engine.Suggest(s.ctx, query)
	s.mu.Lock()
	s.suggestions = locs
	s.mu.Unlock()
	if len(locs) == 0 {
		fmt.Fprintln(s.rt.out, "No suggestions.")
		return
	}
	printLocations(s.rt, locs)
}

func (s *shell) pick(arg string) (weather.Location, bool) {
	s.mu.Lock()
	locs := s.suggestions
	s.mu.Unlock()
	return s.nth(locs, arg)
}

// favorite toggles the current location, or opens the Nth favorite.
func (s *shell) favorite(arg string) {
	if arg != "" {
		if loc, ok := s.nth(favoriteLocations(s.rt), arg); ok {
			s.spawn(func(ctx context.Context) app.Outcome { return s.rt.engine.Select(ctx, loc) })
		}
		return
	}
	loc, ok := s.rt.engine.CurrentLocation()
	if !ok {
		fmt.Fprintln(s.rt.out, "Nothing to favorite yet.")
		return
	}
	s.rt.engine.ToggleFavorite(loc)
}

func (s *shell) recent(arg string) {
	recents := s.rt.store.RecentSearches()
	locs := make([]weather.Location, len(recents))
	for i, r := range recents {
		locs[i] = r.Location
	}
	if arg == "" {
		s.list(locs, "No recent searches.")
		return
	}
	if loc, ok := s.nth(locs, arg); ok {
		s.spawn(func(ctx context.Context) app.Outcome { return s.rt.engine.Select(ctx, loc) })
	}
}

func (s *shell) list(locs []weather.Location, empty string) {
	if len(locs) == 0 {
		fmt.Fprintln(s.rt.out, empty)
		return
	}
	printLocations(s.rt, locs)
}

func (s *shell) nth(locs []weather.Location, arg string) (weather.Location, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(locs) {
		fmt.Fprintf(s.rt.out, "Pick a number between 1 and %d.\n", len(locs))
		return weather.Location{}, false
	}
	return locs[n-1], true
}

func favoriteLocations(rt *runtime) []weather.Location {
	favs := rt.store.Favorites()
	locs := make([]weather.Location, len(favs))
	for i, f := range favs {
		locs[i] = f.Location
	}
	return locs
}

// startMetricsServer exposes /metrics on addr. An empty addr disables it.
func startMetricsServer(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed: %v", err)
		}
	}()
	return srv
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Metrics server shutdown: %v", err)
	}
}
