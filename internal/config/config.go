package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"github.com/vovakirdan/wirechat-client/internal/cache"
	"github.com/vovakirdan/wirechat-client/internal/retention"
)

// Config holds client configuration values.
type Config struct {
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Remote    RemoteConfig    `mapstructure:"remote" yaml:"remote"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Retention RetentionConfig `mapstructure:"retention" yaml:"retention"`
	Demo      DemoConfig      `mapstructure:"demo" yaml:"demo"`
}

// LogConfig selects verbosity and output encoding (console or json).
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ServerConfig is the loopback API listener.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// RemoteConfig points at the wirechat backend.
type RemoteConfig struct {
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	TokenPath         string        `mapstructure:"token_path" yaml:"token_path"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
}

// CacheConfig selects the local cache driver. Path is a directory.
type CacheConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	Path        string `mapstructure:"path" yaml:"path"`
	PersistLive bool   `mapstructure:"persist_live" yaml:"persist_live"`
}

// RetentionConfig controls the eviction pass.
type RetentionConfig struct {
	Enabled                    bool          `mapstructure:"enabled" yaml:"enabled"`
	Cron                       string        `mapstructure:"cron" yaml:"cron"`
	MaxAge                     time.Duration `mapstructure:"max_age" yaml:"max_age"`
	MaxMessagesPerConversation int           `mapstructure:"max_messages_per_conversation" yaml:"max_messages_per_conversation"`
}

// DemoConfig enables the built-in sample conversations.
type DemoConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

func dataDir(base func() (string, error)) string {
	dir, err := base()
	if err != nil || dir == "" {
		return ".wirechat"
	}
	return filepath.Join(dir, "wirechat")
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Addr:              "127.0.0.1:7420",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		Remote: RemoteConfig{
			BaseURL:           "http://localhost:8080",
			TokenPath:         filepath.Join(dataDir(os.UserConfigDir), "token"),
			RequestTimeout:    10 * time.Second,
			RequestsPerSecond: 20,
			Burst:             10,
		},
		Cache: CacheConfig{
			Driver:      cache.DriverSQLite,
			Path:        dataDir(os.UserCacheDir),
			PersistLive: true,
		},
		Retention: RetentionConfig{
			Enabled:                    true,
			Cron:                       retention.DefaultCron,
			MaxAge:                     30 * 24 * time.Hour,
			MaxMessagesPerConversation: 500,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ReadHeaderTimeout != 0 {
		c.Server.ReadHeaderTimeout = other.Server.ReadHeaderTimeout
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}
	if other.Remote.BaseURL != "" {
		c.Remote.BaseURL = other.Remote.BaseURL
	}
	if other.Remote.TokenPath != "" {
		c.Remote.TokenPath = other.Remote.TokenPath
	}
	if other.Cache.Driver != "" {
		c.Cache.Driver = other.Cache.Driver
	}
	if other.Cache.Path != "" {
		c.Cache.Path = other.Cache.Path
	}
	if other.Demo.Enabled {
		c.Demo.Enabled = true
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Cache.Driver {
	case cache.DriverSQLite, cache.DriverPebble, cache.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("cache.driver: unknown driver %q", c.Cache.Driver))
	}
	if c.Cache.Driver != cache.DriverMemory && c.Cache.Path == "" {
		errs = append(errs, errors.New("cache.path: required for persistent drivers"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be console or json, got %q", c.Log.Format))
	}
	if c.Server.ReadHeaderTimeout <= 0 {
		errs = append(errs, errors.New("server.read_header_timeout: must be positive"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout: must be positive"))
	}
	if c.Remote.BaseURL == "" {
		errs = append(errs, errors.New("remote.base_url: required"))
	}
	if c.Remote.RequestTimeout <= 0 {
		errs = append(errs, errors.New("remote.request_timeout: must be positive"))
	}
	if c.Remote.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("remote.requests_per_second: must not be negative"))
	}
	if c.Retention.Enabled {
		if !gronx.IsValid(c.Retention.Cron) {
			errs = append(errs, fmt.Errorf("retention.cron: invalid expression %q", c.Retention.Cron))
		}
		if c.Retention.MaxAge < 0 {
			errs = append(errs, errors.New("retention.max_age: must not be negative"))
		}
		if c.Retention.MaxMessagesPerConversation < 0 {
			errs = append(errs, errors.New("retention.max_messages_per_conversation: must not be negative"))
		}
	}
	return errors.Join(errs...)
}
