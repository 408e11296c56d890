package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "WIRECHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// A missing file is created with the defaults.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("WIRECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.read_header_timeout", cfg.Server.ReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	v.SetDefault("remote.base_url", cfg.Remote.BaseURL)
	v.SetDefault("remote.token_path", cfg.Remote.TokenPath)
	v.SetDefault("remote.request_timeout", cfg.Remote.RequestTimeout)
	v.SetDefault("remote.requests_per_second", cfg.Remote.RequestsPerSecond)
	v.SetDefault("remote.burst", cfg.Remote.Burst)

	v.SetDefault("cache.driver", cfg.Cache.Driver)
	v.SetDefault("cache.path", cfg.Cache.Path)
	v.SetDefault("cache.persist_live", cfg.Cache.PersistLive)

	v.SetDefault("retention.enabled", cfg.Retention.Enabled)
	v.SetDefault("retention.cron", cfg.Retention.Cron)
	v.SetDefault("retention.max_age", cfg.Retention.MaxAge)
	v.SetDefault("retention.max_messages_per_conversation", cfg.Retention.MaxMessagesPerConversation)

	v.SetDefault("demo.enabled", cfg.Demo.Enabled)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(fileDocument(cfg))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// fileDocument renders durations as strings so the written file stays editable.
func fileDocument(cfg Config) map[string]any {
	return map[string]any{
		"log": map[string]any{
			"level":  cfg.Log.Level,
			"format": cfg.Log.Format,
		},
		"server": map[string]any{
			"addr":                cfg.Server.Addr,
			"read_header_timeout": cfg.Server.ReadHeaderTimeout.String(),
			"shutdown_timeout":    cfg.Server.ShutdownTimeout.String(),
		},
		"remote": map[string]any{
			"base_url":            cfg.Remote.BaseURL,
			"token_path":          cfg.Remote.TokenPath,
			"request_timeout":     cfg.Remote.RequestTimeout.String(),
			"requests_per_second": cfg.Remote.RequestsPerSecond,
			"burst":               cfg.Remote.Burst,
		},
		"cache": map[string]any{
			"driver":       cfg.Cache.Driver,
			"path":         cfg.Cache.Path,
			"persist_live": cfg.Cache.PersistLive,
		},
		"retention": map[string]any{
			"enabled":                       cfg.Retention.Enabled,
			"cron":                          cfg.Retention.Cron,
			"max_age":                       cfg.Retention.MaxAge.String(),
			"max_messages_per_conversation": cfg.Retention.MaxMessagesPerConversation,
		},
		"demo": map[string]any{
			"enabled": cfg.Demo.Enabled,
		},
	}
}
