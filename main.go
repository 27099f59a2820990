package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"weatherwise/api"
	"weatherwise/app"
	"weatherwise/config"
	"weatherwise/internal/errorutil"
	"weatherwise/internal/logger"
	"weatherwise/internal/netstate"
	"weatherwise/storage"
	"weatherwise/ui"
	"weatherwise/weather"
)

// errBlocking marks a run whose final outcome was a blocking error. The
// message has already been rendered, so main only sets the exit status.
var errBlocking = errors.New("blocking error shown")

// CLI is the command-line surface.
type CLI struct {
	Config   string `help:"Path to TOML configuration file." type:"path" env:"WEATHERWISE_CONFIG"`
	LogLevel string `help:"Override the log level (debug, info, warn, error) and mirror logs to stderr."`
	Offline  bool   `help:"Report the device as offline. The show command renders the cache without fetching; other commands still fetch and word failures as offline."`

	Show       ShowCmd       `cmd:"" default:"1" help:"Show weather for the last location (default command)."`
	Search     SearchCmd     `cmd:"" help:"Search a place by name and show its weather."`
	Suggest    SuggestCmd    `cmd:"" help:"List place suggestions for a partial name."`
	Locate     LocateCmd     `cmd:"" help:"Show weather for the current device location."`
	Retry      RetryCmd      `cmd:"" help:"Retry the last location."`
	Select     SelectCmd     `cmd:"" help:"Show weather for explicit coordinates."`
	Units      UnitsCmd      `cmd:"" help:"Show or change the display units."`
	Favorite   FavoriteCmd   `cmd:"" help:"Toggle the last location as a favorite."`
	Favorites  FavoritesCmd  `cmd:"" help:"List favorites."`
	Recent     RecentCmd     `cmd:"" help:"List recent searches."`
	Clear      ClearCmd      `cmd:"" help:"Clear cached data."`
	Status     StatusCmd     `cmd:"" help:"Show cache and connectivity status."`
	Shell      ShellCmd      `cmd:"" help:"Interactive session with live connectivity updates."`
	InitConfig InitConfigCmd `cmd:"" name:"init-config" help:"Write a sample configuration file."`
}

func main() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded: %v", err)
	}

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("weatherwise"),
		kong.Description("Weather for any place, with an offline cache."),
		kong.UsageOnError(),
	)

	g := &globals{cli: &cli, stdout: os.Stdout}
	err := kctx.Run(g)
	g.close()
	if errors.Is(err, errBlocking) {
		os.Exit(1)
	}
	kctx.FatalIfErrorf(err)
}

// globals is bound into every command. The runtime is opened on first use
// so init-config works without a valid configuration.
type globals struct {
	cli    *CLI
	stdout io.Writer
	rt     *runtime
}

func (g *globals) configPath() string {
	if g.cli.Config != "" {
		return g.cli.Config
	}
	return getDefaultConfigPath()
}

func (g *globals) open() (*runtime, error) {
	if g.rt != nil {
		return g.rt, nil
	}
	cfg, err := loadConfig(g.configPath())
	if err != nil {
		return nil, err
	}
	if g.cli.LogLevel != "" {
		if _, err := logger.ParseLevel(g.cli.LogLevel); err != nil {
			return nil, err
		}
		cfg.Logging.Level = g.cli.LogLevel
		cfg.Logging.ConsoleOutput = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rt, err := newRuntime(cfg, g.cli.Offline, g.stdout)
	if err != nil {
		return nil, err
	}
	g.rt = rt
	return rt, nil
}

func (g *globals) close() {
	if g.rt != nil {
		g.rt.Close()
	}
}

// loadConfig reads the file at path. A missing file is not an error: the
// defaults describe a working setup.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		var notFound *config.ConfigNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errorutil.LogAndWrap(logger.Get().Logger, "load configuration", err, errorutil.ConfigContext(path)...)
		}
		cfg = config.Default()
	}
	cfg.ApplyEnvironment(os.Getenv)
	return cfg, nil
}

// runtime holds the wired components of one invocation.
type runtime struct {
	cfg     *config.Config
	store   *storage.Store
	monitor *netstate.Monitor
	term    *ui.Terminal
	engine  *app.Engine
	offline bool
	out     io.Writer
}

func newRuntime(cfg *config.Config, offline bool, out io.Writer) (*runtime, error) {
	if err := logger.Initialize(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	store, err := openStore(cfg.Cache)
	if err != nil {
		return nil, err
	}

	provider := api.NewOpenMeteo(api.OpenMeteoOptions{
		GeocodingURL: cfg.Provider.GeocodingURL,
		ForecastURL:  cfg.Provider.ForecastURL,
		Language:     cfg.Provider.Language,
		ResultCount:  cfg.Provider.ResultCount,
		Timeout:      seconds(cfg.Provider.TimeoutSeconds),
	})

	monitor := netstate.NewMonitor(cfg.Connectivity.ProbeAddress, seconds(cfg.Connectivity.ProbeTimeoutSeconds))
	if offline {
		monitor.ForceOffline()
	}

	term := ui.NewTerminal(out, terminalOptions(cfg.UI)...)

	engine := app.NewEngine(app.Deps{
		Coordinator:  api.NewCoordinator(provider),
		Store:        store,
		Locator:      newLocator(cfg.Geolocation),
		Connectivity: monitor,
		Renderer:     term,
	},
		app.WithDefaultLocation(weather.Location{
			Name:      cfg.Defaults.Name,
			Country:   cfg.Defaults.Country,
			Latitude:  cfg.Defaults.Latitude,
			Longitude: cfg.Defaults.Longitude,
		}),
		app.WithProviderName(cfg.Provider.Name),
	)

	logger.Debug("Runtime ready: cache=%s (%s), geolocation=%s, offline=%t",
		cfg.Cache.Backend, cfg.Cache.Path, cfg.Geolocation.Mode, offline)

	return &runtime{
		cfg:     cfg,
		store:   store,
		monitor: monitor,
		term:    term,
		engine:  engine,
		offline: offline,
		out:     out,
	}, nil
}

func (r *runtime) Close() {
	r.term.Close()
	if err := r.store.Close(); err != nil {
		logger.Warn("Failed to close cache: %v", err)
	}
	if l := logger.Get(); l != nil {
		l.Close()
	}
}

// terminalOptions leaves color detection to the terminal unless the
// configuration forces it.
func terminalOptions(c config.UI) []ui.Option {
	opts := []ui.Option{ui.WithBannerDuration(seconds(c.BannerSeconds))}
	switch c.Color {
	case "always":
		opts = append(opts, ui.WithColor(true))
	case "never":
		opts = append(opts, ui.WithColor(false))
	}
	return opts
}

func openStore(c config.Cache) (*storage.Store, error) {
	var (
		sub storage.Substrate
		err error
	)
	switch c.Backend {
	case "memory":
		sub = storage.NewMemory()
	case "sqlite":
		if err := errorutil.EnsureDirectory(logger.Get().Logger, filepath.Dir(c.Path), 0755); err != nil {
			return nil, err
		}
		sub, err = storage.OpenSQLite(c.Path)
	default:
		sub, err = storage.OpenFile(c.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cache: %w", c.Backend, err)
	}
	return storage.New(sub,
		storage.WithTTL(time.Duration(c.TTLMinutes)*time.Minute),
		storage.WithRecentLimit(c.RecentLimit),
	), nil
}

func newLocator(g config.Geolocation) api.Locator {
	switch g.Mode {
	case "static":
		return api.StaticLocator{Coordinates: weather.Coordinates{Latitude: g.Latitude, Longitude: g.Longitude}}
	case "off":
		return api.DisabledLocator{}
	}
	return api.NewIPLocator(g.ServiceURL, seconds(g.TimeoutSeconds))
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// getDefaultConfigPath prefers ~/.weatherwise/config.toml and falls back to
// config.toml in the working directory.
func getDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Clean("config.toml")
	}
	return filepath.Join(homeDir, ".weatherwise", "config.toml")
}
