// Package app wires the cache, remote client, sync controller and loopback API together.
package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/cache"
	"github.com/vovakirdan/wirechat-client/internal/cache/memory"
	"github.com/vovakirdan/wirechat-client/internal/cache/pebble"
	"github.com/vovakirdan/wirechat-client/internal/cache/sqlite"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/demo"
	"github.com/vovakirdan/wirechat-client/internal/metrics"
	"github.com/vovakirdan/wirechat-client/internal/remote/wirechat"
	"github.com/vovakirdan/wirechat-client/internal/retention"
	"github.com/vovakirdan/wirechat-client/internal/service/labels"
	"github.com/vovakirdan/wirechat-client/internal/service/members"
	transporthttp "github.com/vovakirdan/wirechat-client/internal/transport/http"
)

// App owns every long-lived component of the client.
type App struct {
	cfg        config.Config
	log        *zerolog.Logger
	metrics    *metrics.Metrics
	cache      *cache.Handle
	remote     *wirechat.Client
	controller *core.Controller
	labels     *labels.Service
	members    *members.Service
	retention  *retention.Manager

	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
}

// openStore picks the cache driver. Drivers open lazily on first use.
func openStore(cfg config.CacheConfig) cache.Store {
	switch cfg.Driver {
	case cache.DriverPebble:
		return pebble.New(filepath.Join(cfg.Path, "pebble"))
	case cache.DriverMemory:
		return memory.New()
	default:
		return sqlite.New(filepath.Join(cfg.Path, "cache.db"))
	}
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := metrics.New()
	h := cache.NewHandle(openStore(cfg.Cache), cfg.Cache.Driver, logger, m)

	client, err := wirechat.New(wirechat.Config{
		BaseURL:           cfg.Remote.BaseURL,
		RequestTimeout:    cfg.Remote.RequestTimeout,
		RequestsPerSecond: cfg.Remote.RequestsPerSecond,
		Burst:             cfg.Remote.Burst,
	}, auth.NewTokenFile(cfg.Remote.TokenPath), logger, m)
	if err != nil {
		return nil, fmt.Errorf("init remote client: %w", err)
	}

	opts := core.Options{
		Cache:       h,
		Remote:      client,
		Identity:    client,
		PersistLive: cfg.Cache.PersistLive,
		Logger:      logger,
		Metrics:     m,
	}
	if cfg.Demo.Enabled {
		opts.Demo = demo.New(time.Now)
	}
	ctrl := core.New(opts)

	var rm *retention.Manager
	if cfg.Retention.Enabled {
		rm, err = retention.New(h, retention.Policy{
			MaxAge:                     cfg.Retention.MaxAge,
			MaxMessagesPerConversation: cfg.Retention.MaxMessagesPerConversation,
		}, cfg.Retention.Cron, logger)
		if err != nil {
			return nil, fmt.Errorf("init retention: %w", err)
		}
	}

	logger.Info().
		Str("cache_driver", cfg.Cache.Driver).
		Str("cache_path", cfg.Cache.Path).
		Str("remote", cfg.Remote.BaseURL).
		Bool("demo", cfg.Demo.Enabled).
		Msg("client initialized")

	return &App{
		cfg:        cfg,
		log:        logger,
		metrics:    m,
		cache:      h,
		remote:     client,
		controller: ctrl,
		labels:     labels.New(client, ctrl, logger),
		members:    members.New(client, ctrl, logger),
		retention:  rm,
	}, nil
}

func (a *App) Controller() *core.Controller  { return a.controller }
func (a *App) Labels() *labels.Service       { return a.labels }
func (a *App) Members() *members.Service     { return a.members }
func (a *App) Cache() *cache.Handle          { return a.cache }
func (a *App) Retention() *retention.Manager { return a.retention }
func (a *App) Remote() *wirechat.Client      { return a.remote }

// Start runs the controller loop in the background. Stop it with Close.
func (a *App) Start(ctx context.Context) {
	// Outcome is logged by the handle; an unavailable cache leaves the app remote-only.
	_ = a.cache.Ready(ctx)

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.stopped = make(chan struct{})
	go func() {
		defer close(a.stopped)
		a.controller.Run(ctx)
	}()
}

// Run starts the controller, the retention scheduler and the loopback API,
// and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.Start(ctx)
	defer a.Close()

	if a.retention != nil {
		go a.retention.Start(ctx)
	}

	var limiter *rate.Limiter
	if a.cfg.Remote.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(a.cfg.Remote.RequestsPerSecond), max(a.cfg.Remote.Burst, 1))
	}
	server := transporthttp.NewServer(transporthttp.Deps{
		Controller: a.controller,
		Labels:     a.labels,
		Members:    a.members,
		Cache:      a.cache,
		Retention:  a.retention,
		Metrics:    a.metrics,
		Limiter:    limiter,
	}, a.cfg.Server, a.log)

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.Server.Addr).Msg("loopback api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-serverErr
	}
}

// Close stops the controller, waits for queued cache writes and closes the cache.
func (a *App) Close() {
	a.once.Do(func() {
		if a.cancel != nil {
			a.cancel()
			<-a.stopped
		}
		if err := a.cache.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close cache")
		} else {
			a.log.Info().Msg("cache closed")
		}
	})
}
