package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"weatherwise/internal/errorutil"
	"weatherwise/internal/logger"
)

// Provider configures the weather data provider
type Provider struct {
	Name           string `toml:"name"`            // Shown in user-facing messages
	GeocodingURL   string `toml:"geocoding_url"`   // Base URL of the geocoding API
	ForecastURL    string `toml:"forecast_url"`    // Base URL of the forecast API
	Language       string `toml:"language"`        // Language for place names
	ResultCount    int    `toml:"result_count"`    // Candidates per search
	TimeoutSeconds int    `toml:"timeout_seconds"` // 0 waits indefinitely
}

// Geolocation configures how "use my location" finds coordinates
type Geolocation struct {
	Mode           string  `toml:"mode"`        // ip, static or off
	ServiceURL     string  `toml:"service_url"` // IP lookup endpoint for mode = ip
	Latitude       float64 `toml:"latitude"`    // Used by mode = static
	Longitude      float64 `toml:"longitude"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// Defaults is the location used on a first run
type Defaults struct {
	Name      string  `toml:"name"`
	Country   string  `toml:"country"`
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`
}

// Cache configures the persisted cache store
type Cache struct {
	Backend     string `toml:"backend"` // file, sqlite or memory
	Path        string `toml:"path"`
	TTLMinutes  int    `toml:"ttl_minutes"`
	RecentLimit int    `toml:"recent_limit"`
}

// Connectivity configures the reachability probe behind the online flag
type Connectivity struct {
	ProbeAddress         string `toml:"probe_address"`
	ProbeIntervalSeconds int    `toml:"probe_interval_seconds"`
	ProbeTimeoutSeconds  int    `toml:"probe_timeout_seconds"`
}

// UI configures the terminal renderer
type UI struct {
	BannerSeconds int    `toml:"banner_seconds"` // Auto-dismiss window
	Color         string `toml:"color"`          // auto, always or never
}

// Metrics configures the Prometheus endpoint of the interactive shell
type Metrics struct {
	Listen string `toml:"listen"` // Empty disables the endpoint
}

// Config represents the complete application configuration
type Config struct {
	Provider     Provider      `toml:"provider"`
	Geolocation  Geolocation   `toml:"geolocation"`
	Defaults     Defaults      `toml:"defaults"`
	Cache        Cache         `toml:"cache"`
	Connectivity Connectivity  `toml:"connectivity"`
	UI           UI            `toml:"ui"`
	Logging      logger.Config `toml:"logging"`
	Metrics      Metrics       `toml:"metrics"`
}

var (
	cacheBackends    = []string{"file", "sqlite", "memory"}
	geolocationModes = []string{"ip", "static", "off"}
	colorModes       = []string{"auto", "always", "never"}
	logLevels        = []string{"debug", "info", "warn", "error"}
)

// LoadConfig reads and parses a TOML configuration file
func LoadConfig(configPath string) (*Config, error) {
	cleanPath := filepath.Clean(configPath)

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigNotFoundError{Path: cleanPath}
		}
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse TOML configuration: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	c.ApplyDefaults()
	return &c
}

// ApplyDefaults sets default values for optional configuration fields
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Provider.Name) == "" {
		c.Provider.Name = "Open-Meteo"
	}
	if strings.TrimSpace(c.Provider.GeocodingURL) == "" {
		c.Provider.GeocodingURL = "https://geocoding-api.open-meteo.com"
	}
	if strings.TrimSpace(c.Provider.ForecastURL) == "" {
		c.Provider.ForecastURL = "https://api.open-meteo.com"
	}
	if strings.TrimSpace(c.Provider.Language) == "" {
		c.Provider.Language = "en"
	}
	if c.Provider.ResultCount <= 0 {
		c.Provider.ResultCount = 5
	}

	if strings.TrimSpace(c.Geolocation.Mode) == "" {
		c.Geolocation.Mode = "ip"
	}
	c.Geolocation.Mode = strings.ToLower(strings.TrimSpace(c.Geolocation.Mode))
	if strings.TrimSpace(c.Geolocation.ServiceURL) == "" {
		c.Geolocation.ServiceURL = "http://ip-api.com/json/"
	}
	if c.Geolocation.TimeoutSeconds <= 0 {
		c.Geolocation.TimeoutSeconds = 10
	}

	// A blank name means the whole section was omitted.
	if strings.TrimSpace(c.Defaults.Name) == "" {
		c.Defaults = Defaults{Name: "London", Country: "United Kingdom", Latitude: 51.5074, Longitude: -0.1278}
	}

	if strings.TrimSpace(c.Cache.Backend) == "" {
		c.Cache.Backend = "file"
	}
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	if strings.TrimSpace(c.Cache.Path) == "" {
		c.Cache.Path = defaultCachePath(c.Cache.Backend)
	}
	if c.Cache.TTLMinutes <= 0 {
		c.Cache.TTLMinutes = 30
	}
	if c.Cache.RecentLimit <= 0 {
		c.Cache.RecentLimit = 5
	}

	if strings.TrimSpace(c.Connectivity.ProbeAddress) == "" {
		c.Connectivity.ProbeAddress = "api.open-meteo.com:443"
	}
	if c.Connectivity.ProbeIntervalSeconds <= 0 {
		c.Connectivity.ProbeIntervalSeconds = 30
	}
	if c.Connectivity.ProbeTimeoutSeconds <= 0 {
		c.Connectivity.ProbeTimeoutSeconds = 3
	}

	if c.UI.BannerSeconds <= 0 {
		c.UI.BannerSeconds = 8
	}
	c.UI.Color = strings.ToLower(strings.TrimSpace(c.UI.Color))
	if c.UI.Color == "" {
		c.UI.Color = "auto"
	}

	if strings.TrimSpace(c.Logging.Directory) == "" {
		c.Logging.Directory = "logs"
	}
	if strings.TrimSpace(c.Logging.FilenamePattern) == "" {
		c.Logging.FilenamePattern = "weatherwise-YYYYMMDD.log"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "warn"
	}
	if c.Logging.MaxFiles <= 0 {
		c.Logging.MaxFiles = 7
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 10
	}
}

// ApplyEnvironment overrides fields from WEATHERWISE_* variables. getenv is
// usually os.Getenv.
func (c *Config) ApplyEnvironment(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	defaultPath := c.Cache.Path == defaultCachePath(c.Cache.Backend)
	set(&c.Provider.GeocodingURL, "WEATHERWISE_GEOCODING_URL")
	set(&c.Provider.ForecastURL, "WEATHERWISE_FORECAST_URL")
	set(&c.Cache.Backend, "WEATHERWISE_CACHE_BACKEND")
	set(&c.Cache.Path, "WEATHERWISE_CACHE_PATH")
	set(&c.Geolocation.Mode, "WEATHERWISE_GEOLOCATION")
	set(&c.Logging.Level, "WEATHERWISE_LOG_LEVEL")
	set(&c.Metrics.Listen, "WEATHERWISE_METRICS_LISTEN")
	c.Cache.Backend = strings.ToLower(c.Cache.Backend)
	c.Geolocation.Mode = strings.ToLower(c.Geolocation.Mode)
	if defaultPath && getenv("WEATHERWISE_CACHE_PATH") == "" {
		c.Cache.Path = defaultCachePath(c.Cache.Backend)
	}
}

// defaultCachePath places the cache under ~/.weatherwise, or the temp
// directory when there is no home directory.
func defaultCachePath(backend string) string {
	name := "cache.toml"
	if backend == "sqlite" {
		name = "cache.db"
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "weatherwise-"+name)
	}
	return filepath.Join(homeDir, ".weatherwise", name)
}

// ConfigNotFoundError represents a missing configuration file
type ConfigNotFoundError struct {
	Path string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("configuration file not found: %s\n\nTo create a sample configuration file, run:\n  %s init-config", e.Path, filepath.Base(os.Args[0]))
}

// MultiValidationError represents multiple validation errors
type MultiValidationError struct {
	Errors []*errorutil.ValidationError
}

func (e *MultiValidationError) Error() string {
	var messages []string
	for _, err := range e.Errors {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  %s", strings.Join(messages, "\n  "))
}

// Validate checks the configuration for correctness and completeness
func (c *Config) Validate() error {
	var errs []*errorutil.ValidationError
	add := func(err *errorutil.ValidationError) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(errorutil.ValidateURL("provider.geocoding_url", c.Provider.GeocodingURL))
	add(errorutil.ValidateURL("provider.forecast_url", c.Provider.ForecastURL))
	add(errorutil.ValidateIntRange("provider.result_count", c.Provider.ResultCount, 1, 100))
	add(errorutil.ValidateIntRange("provider.timeout_seconds", c.Provider.TimeoutSeconds, 0, 300))

	add(errorutil.ValidateEnum("geolocation.mode", c.Geolocation.Mode, geolocationModes))
	switch c.Geolocation.Mode {
	case "ip":
		add(errorutil.ValidateURL("geolocation.service_url", c.Geolocation.ServiceURL))
	case "static":
		add(errorutil.ValidateCoordinate("geolocation.latitude", c.Geolocation.Latitude, true))
		add(errorutil.ValidateCoordinate("geolocation.longitude", c.Geolocation.Longitude, false))
	}
	add(errorutil.ValidateIntRange("geolocation.timeout_seconds", c.Geolocation.TimeoutSeconds, 1, 120))

	add(errorutil.ValidateRequired("defaults.name", c.Defaults.Name))
	add(errorutil.ValidateCoordinate("defaults.latitude", c.Defaults.Latitude, true))
	add(errorutil.ValidateCoordinate("defaults.longitude", c.Defaults.Longitude, false))

	add(errorutil.ValidateEnum("cache.backend", c.Cache.Backend, cacheBackends))
	if c.Cache.Backend != "memory" {
		add(errorutil.ValidateRequired("cache.path", c.Cache.Path))
	}
	add(errorutil.ValidateIntRange("cache.ttl_minutes", c.Cache.TTLMinutes, 1, 24*60))
	add(errorutil.ValidateIntRange("cache.recent_limit", c.Cache.RecentLimit, 1, 50))

	add(errorutil.ValidateHostPort("connectivity.probe_address", c.Connectivity.ProbeAddress))
	add(errorutil.ValidateIntRange("connectivity.probe_interval_seconds", c.Connectivity.ProbeIntervalSeconds, 1, 3600))
	add(errorutil.ValidateIntRange("connectivity.probe_timeout_seconds", c.Connectivity.ProbeTimeoutSeconds, 1, 60))

	add(errorutil.ValidateIntRange("ui.banner_seconds", c.UI.BannerSeconds, 1, 300))
	add(errorutil.ValidateEnum("ui.color", c.UI.Color, colorModes))

	if strings.TrimSpace(c.Logging.Level) != "" {
		add(errorutil.ValidateEnum("logging.level", c.Logging.Level, logLevels))
	}
	add(errorutil.ValidateIntRange("logging.max_files", c.Logging.MaxFiles, 0, 365))
	add(errorutil.ValidateIntRange("logging.max_size_mb", c.Logging.MaxSizeMB, 0, 1000))
	if c.Logging.Enabled {
		add(errorutil.ValidateRequired("logging.directory", c.Logging.Directory))
		if err := logger.ValidateFilenamePattern(c.Logging.FilenamePattern); err != nil {
			add(&errorutil.ValidationError{
				Field:   "logging.filename_pattern",
				Value:   c.Logging.FilenamePattern,
				Rule:    "filename",
				Message: err.Error(),
			})
		}
	}

	if c.Metrics.Listen != "" {
		add(errorutil.ValidateHostPort("metrics.listen", c.Metrics.Listen))
	}

	if len(errs) > 0 {
		return &MultiValidationError{Errors: errs}
	}
	return nil
}

const sampleConfig = `# Weatherwise Configuration File

[provider]
name = "Open-Meteo"                        # Shown in "can't reach" messages
geocoding_url = "https://geocoding-api.open-meteo.com"
forecast_url = "https://api.open-meteo.com"
language = "en"
result_count = 5                           # Candidates per search (1-100)
timeout_seconds = 0                        # 0 = wait until the transport settles

[geolocation]
mode = "ip"                                # ip, static or off
service_url = "http://ip-api.com/json/"
# latitude = 48.8566                       # Used when mode = "static"
# longitude = 2.3522
timeout_seconds = 10

[defaults]
# Location shown on the very first run
name = "London"
country = "United Kingdom"
latitude = 51.5074
longitude = -0.1278

[cache]
backend = "file"                           # file, sqlite or memory
path = ""                                  # Leave empty for ~/.weatherwise/cache.toml (or cache.db)
ttl_minutes = 30                           # Cached weather older than this is discarded
recent_limit = 5

[connectivity]
probe_address = "api.open-meteo.com:443"   # TCP endpoint dialled to decide online/offline
probe_interval_seconds = 30
probe_timeout_seconds = 3

[ui]
banner_seconds = 8                         # Auto-dismiss window for banners
color = "auto"                             # auto (colors on a terminal), always or never

[logging]
enabled = false                            # Enable file logging
directory = "logs"                         # Relative to the working directory, or absolute
filename_pattern = "weatherwise-YYYYMMDD.log"
level = "warn"                             # debug, info, warn, error
max_files = 7                              # 0 = unlimited
max_size_mb = 10                           # 0 = unlimited
console_output = false                     # Mirror log lines to stderr

[metrics]
listen = ""                                # e.g. "127.0.0.1:9464" to expose /metrics from the shell
`

// GenerateSampleConfig creates a sample configuration file at the specified path
func GenerateSampleConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write sample config: %w", err)
	}
	return nil
}
