// Package config holds the application configuration model and its
// YAML-based load/save behavior, including first-run config creation and
// 0600 permissions. The loaded *Config is passed explicitly into the
// lifecycle controller; there is no package-level settings state.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Output surface names accepted in Config.Output.
const (
	OutputConsole = "console"
	OutputWeb     = "web"
	OutputEPD     = "epd"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RetryConfig bounds the in-cycle fetch retry policy.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// InitialDelaySeconds is the delay before the first retry.
	InitialDelaySeconds int `yaml:"initial_delay_seconds" json:"initial_delay_seconds"`
	// BackoffFactor multiplies the delay after each failed attempt.
	BackoffFactor float64 `yaml:"backoff_factor" json:"backoff_factor"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used as canonical display zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Output selects the display surface: "console", "web" or "epd".
	Output string `yaml:"output" json:"output"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic refresh. If empty, RefreshMinutes drives a plain
	// fixed-interval tick instead.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// RefreshMinutes is the fixed refresh interval used when RefreshCron
	// is empty.
	RefreshMinutes int `yaml:"refresh_minutes" json:"refresh_minutes"`

	// FetchTTLMinutes is how long cached events are considered fresh for
	// the fetch-vs-skip decision.
	FetchTTLMinutes int `yaml:"fetch_ttl_minutes" json:"fetch_ttl_minutes"`

	// DisplayTTLMinutes is how long cached events may be shown before the
	// view is marked stale. Kept separate from FetchTTLMinutes: the two
	// windows answer different questions.
	DisplayTTLMinutes int `yaml:"display_ttl_minutes" json:"display_ttl_minutes"`

	// HorizonDays is the number of future days expanded into the cache.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// ShowAllDay toggles the all-day section in the rendered view.
	ShowAllDay bool `yaml:"show_all_day" json:"show_all_day"`

	// HighlightRed is a list of keywords that cause events to be rendered
	// in red on the tri-color panel.
	HighlightRed []string `yaml:"highlight_red" json:"highlight_red"`

	// DBPath is the SQLite event cache location.
	DBPath string `yaml:"db_path" json:"db_path"`

	// ICSCacheDir is where per-URL HTTP cache bodies/metadata are stored.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// PidFile, if set, is used to detect and stop a previous daemon
	// instance on startup. Best effort.
	PidFile string `yaml:"pid_file" json:"pid_file"`

	// Retry bounds the per-cycle fetch retry policy.
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:            "127.0.0.1:8080",
		Timezone:          "UTC",
		Output:            OutputConsole,
		RefreshCron:       "",
		RefreshMinutes:    15,
		FetchTTLMinutes:   30,
		DisplayTTLMinutes: 120,
		HorizonDays:       7,
		ShowAllDay:        true,
		HighlightRed:      []string{"holiday", "important"},
		DBPath:            "/var/lib/inkcal/events.db",
		ICSCacheDir:       "/var/lib/inkcal/ics-cache",
		PidFile:           "",
		Retry: RetryConfig{
			MaxRetries:          2,
			InitialDelaySeconds: 1,
			BackoffFactor:       2.0,
		},
		ICS:       []ICSConfig{},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	switch c.Output {
	case OutputConsole, OutputWeb, OutputEPD:
		// ok
	default:
		c.Output = OutputConsole
	}
	if c.RefreshMinutes <= 0 {
		c.RefreshMinutes = 15
	}
	if c.FetchTTLMinutes <= 0 {
		c.FetchTTLMinutes = 30
	}
	if c.DisplayTTLMinutes <= 0 {
		c.DisplayTTLMinutes = 120
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 7
	}
	if c.HighlightRed == nil {
		c.HighlightRed = []string{"holiday", "important"}
	}
	if c.DBPath == "" {
		c.DBPath = "/var/lib/inkcal/events.db"
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = "/var/lib/inkcal/ics-cache"
	}
	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = 0
	}
	if c.Retry.InitialDelaySeconds <= 0 {
		c.Retry.InitialDelaySeconds = 1
	}
	if c.Retry.BackoffFactor < 1 {
		c.Retry.BackoffFactor = 2.0
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".inkcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the
// package-level Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
