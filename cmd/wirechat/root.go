package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/app"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/log"
)

var (
	version = "dev"
	commit  = "unknown"
)

var flags struct {
	config   string
	logLevel string
	remote   string
	cache    string
	demo     bool
}

var rootCmd = &cobra.Command{
	Use:           "wirechat",
	Short:         "Local-first wirechat client",
	Long:          "wirechat keeps a local cache of your conversations, syncs it with a wirechat server and exposes it over a loopback API.",
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "config file path (default is <user config dir>/wirechat/config.yaml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error, disabled)")
	pf.StringVar(&flags.remote, "remote", "", "wirechat server base URL")
	pf.StringVar(&flags.cache, "cache-driver", "", "cache driver (sqlite, pebble, memory)")
	pf.BoolVar(&flags.demo, "demo", false, "include the built-in demo conversations")
}

// loadConfig applies defaults, the config file, WIRECHAT_* env vars and then flags.
func loadConfig() (config.Config, *zerolog.Logger, error) {
	boot := log.New("warn", "console")
	cfg, path, err := config.Load(boot, flags.config)
	if err != nil {
		return cfg, nil, err
	}

	override := config.Config{
		Log:    config.LogConfig{Level: flags.logLevel},
		Remote: config.RemoteConfig{BaseURL: flags.remote},
		Cache:  config.CacheConfig{Driver: flags.cache},
		Demo:   config.DemoConfig{Enabled: flags.demo},
	}
	cfg.UpdateFrom(override)

	logger := log.New(cfg.Log.Level, cfg.Log.Format)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return cfg, logger, nil
}

// bootstrap builds the app and starts its controller. The caller must Close it.
func bootstrap(ctx context.Context) (*app.App, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Start(ctx)
	return a, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
