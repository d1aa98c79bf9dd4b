package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	appLog "growcal/internal/log"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ExportConfig controls the scheduled ICS export.
type ExportConfig struct {
	// Cron is a cron-style schedule (e.g. "*/15 * * * *"). Empty disables
	// the job.
	Cron string `yaml:"cron" json:"cron"`

	// Path is where the feed is written. Empty disables the job.
	Path string `yaml:"path" json:"path"`

	// Name is the calendar name written into the feed.
	Name string `yaml:"name" json:"name"`

	// Mode is "series" (RRULE based) or "occurrences" (expanded window).
	Mode string `yaml:"mode" json:"mode"`

	// HorizonDays is the window length for "occurrences" mode.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
}

// SyncConfig lists remote ICS feeds merged into the collection while the
// server runs.
type SyncConfig struct {
	// Sources are http(s) URLs of ICS feeds.
	Sources []string `yaml:"sources,omitempty" json:"sources,omitempty"`

	// RefreshMinutes is the polling interval for Sources.
	RefreshMinutes int `yaml:"refresh_minutes" json:"refresh_minutes"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone whose calendar dates the stored instants
	// are read in (e.g. "Asia/Seoul"). "Local" uses the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DBPath is the SQLite file backing the record store.
	DBPath string `yaml:"db_path" json:"db_path"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// HorizonDays is how far ahead the upcoming list looks.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// UpcomingLimit caps the upcoming list.
	UpcomingLimit int `yaml:"upcoming_limit" json:"upcoming_limit"`

	// MaxOccurrences caps how many occurrences one series may contribute to
	// a single expansion.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	Export ExportConfig `yaml:"export" json:"export"`

	Sync SyncConfig `yaml:"sync" json:"sync"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "Local"
	defaultDBPath      = "./var/growcal.db"
	defaultLogLevel    = "info"
	defaultHorizonDays = 30
	defaultUpcoming    = 3
	defaultMaxOcc      = 5000
	defaultRefreshMins = 60
	defaultExportCron  = "*/15 * * * *"
	defaultExportName  = "growcal"
	defaultExportMode  = "series"
	defaultExportDays  = 90
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		Timezone:       defaultTimezone,
		DBPath:         defaultDBPath,
		LogLevel:       defaultLogLevel,
		HorizonDays:    defaultHorizonDays,
		UpcomingLimit:  defaultUpcoming,
		MaxOccurrences: defaultMaxOcc,
		Export: ExportConfig{
			Cron:        defaultExportCron,
			Name:        defaultExportName,
			Mode:        defaultExportMode,
			HorizonDays: defaultExportDays,
		},
		Sync: SyncConfig{
			RefreshMinutes: defaultRefreshMins,
		},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.DBPath == "" {
		c.DBPath = defaultDBPath
	}
	switch c.LogLevel {
	case "debug", "info", "error":
	default:
		c.LogLevel = defaultLogLevel
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.UpcomingLimit <= 0 {
		c.UpcomingLimit = defaultUpcoming
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = defaultMaxOcc
	}
	if c.Sync.RefreshMinutes <= 0 {
		c.Sync.RefreshMinutes = defaultRefreshMins
	}
	if c.Export.Name == "" {
		c.Export.Name = defaultExportName
	}
	switch c.Export.Mode {
	case "series", "occurrences":
	default:
		c.Export.Mode = defaultExportMode
	}
	if c.Export.HorizonDays <= 0 {
		c.Export.HorizonDays = defaultExportDays
	}
}

// Location resolves Timezone, falling back to the host zone when the name
// is unknown.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", c.Timezone)
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist a default config is written with 0600
//     permissions and returned.
//   - Otherwise the YAML is read and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
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

// Save writes the configuration atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
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

	tmp, err := os.CreateTemp(dir, ".growcal-config-*.tmp")
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
	return os.Rename(tmpName, path)
}
