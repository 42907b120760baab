package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	appLog "colorcal/internal/log"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: COLORCAL_BRIDGE__PATH sets bridge.path.
const EnvPrefix = "COLORCAL_"

// Provider names.
const (
	ProviderICS    = "ics"
	ProviderBridge = "bridge"
	ProviderGoogle = "google"
)

// ICSConfig describes a single iCalendar source, remote or local.
type ICSConfig struct {
	ID    string `koanf:"id" yaml:"id" json:"id"`
	Name  string `koanf:"name" yaml:"name" json:"name"`
	URL   string `koanf:"url" yaml:"url,omitempty" json:"url,omitempty"`
	Path  string `koanf:"path" yaml:"path,omitempty" json:"path,omitempty"`
	Color string `koanf:"color" yaml:"color,omitempty" json:"color,omitempty"`
}

// BridgeConfig points at an external helper speaking the wire commands.
type BridgeConfig struct {
	Path           string `koanf:"path" yaml:"path" json:"path"`
	TimeoutSeconds int    `koanf:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"`
}

type GoogleConfig struct {
	// CredentialsFile is the OAuth client JSON downloaded from the Google
	// Cloud console.
	CredentialsFile string `koanf:"credentials_file" yaml:"credentials_file" json:"credentials_file"`
	// TokenFile holds the user's stored OAuth token.
	TokenFile string `koanf:"token_file" yaml:"token_file" json:"token_file"`
}

// BasicAuthConfig enables HTTP Basic Auth when both fields are set.
type BasicAuthConfig struct {
	Username string `koanf:"username" yaml:"username" json:"username"`
	Password string `koanf:"password" yaml:"password" json:"password"`
}

func (b BasicAuthConfig) Enabled() bool {
	return b.Username != "" && b.Password != ""
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address of `colorcal serve`.
	Listen string `koanf:"listen" yaml:"listen" json:"listen"`

	// Timezone is the viewer's IANA zone; "Local" uses the host zone.
	Timezone string `koanf:"timezone" yaml:"timezone" json:"timezone"`

	// WeekStart is "sunday" (default) or "monday".
	WeekStart string `koanf:"week_start" yaml:"week_start" json:"week_start"`

	// RefreshCron is the cron schedule for feed refresh and cache
	// invalidation.
	RefreshCron string `koanf:"refresh" yaml:"refresh" json:"refresh"`

	// CacheTTLSeconds bounds how long HTTP bucket responses are reused.
	CacheTTLSeconds int `koanf:"cache_ttl_seconds" yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`

	// Provider selects the calendar source: ics, bridge or google.
	Provider string `koanf:"provider" yaml:"provider" json:"provider"`

	LogLevel  string `koanf:"log_level" yaml:"log_level" json:"log_level"`
	PrefsPath string `koanf:"prefs_path" yaml:"prefs_path" json:"prefs_path"`
	CacheDir  string `koanf:"cache_dir" yaml:"cache_dir" json:"cache_dir"`

	ICS    []ICSConfig  `koanf:"ics" yaml:"ics" json:"ics"`
	Bridge BridgeConfig `koanf:"bridge" yaml:"bridge" json:"bridge"`
	Google GoogleConfig `koanf:"google" yaml:"google" json:"google"`

	BasicAuth BasicAuthConfig `koanf:"basic_auth" yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          "127.0.0.1:8080",
		Timezone:        "Local",
		WeekStart:       "sunday",
		RefreshCron:     "*/15 * * * *",
		CacheTTLSeconds: 30,
		Provider:        ProviderICS,
		LogLevel:        "info",
		ICS:             []ICSConfig{},
		Bridge:          BridgeConfig{TimeoutSeconds: 30},
	}
}

// Normalize fills in missing or invalid values so that partially-filled
// configs still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	if c.WeekStart != "monday" {
		c.WeekStart = "sunday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = def.CacheTTLSeconds
	}
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = def.Provider
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Bridge.TimeoutSeconds <= 0 {
		c.Bridge.TimeoutSeconds = def.Bridge.TimeoutSeconds
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Provider {
	case ProviderICS:
		for i, s := range c.ICS {
			if s.ID == "" {
				return fmt.Errorf("ics[%d]: id is required", i)
			}
			if s.URL == "" && s.Path == "" {
				return fmt.Errorf("ics[%d] %q: url or path is required", i, s.ID)
			}
		}
	case ProviderBridge:
		if c.Bridge.Path == "" {
			return errors.New("bridge.path is required for the bridge provider")
		}
	case ProviderGoogle:
		if c.Google.CredentialsFile == "" || c.Google.TokenFile == "" {
			return errors.New("google.credentials_file and google.token_file are required for the google provider")
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c *Config) BridgeTimeout() time.Duration {
	return time.Duration(c.Bridge.TimeoutSeconds) * time.Second
}

// Load layers defaults, the YAML file at path and COLORCAL_ environment
// variables, in that order.
//
// When the file does not exist a default config is written there first
// (0600, parent directory 0700).
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(*DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if err := Save(path, DefaultConfig()); err != nil {
			appLog.Warn("could not write default config", "path", path, "err", err)
		} else {
			appLog.Info("wrote default config", "path", path)
		}
	} else {
		appLog.Debug("loaded config file", "path", path)
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, v string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			return strings.ReplaceAll(key, "__", "."), v
		},
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically: temp file in the same directory,
// chmod 0600, rename.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// WriteFileAtomic replaces path with data via a 0600 temp file and rename.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".colorcal-*.tmp")
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
