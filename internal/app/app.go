package app

import (
	"context"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"hyperregistry/internal/api"
	"hyperregistry/internal/bridge"
	"hyperregistry/internal/bus"
	"hyperregistry/internal/config"
	"hyperregistry/internal/crypto"
	"hyperregistry/internal/hotswap"
	"hyperregistry/internal/propagation"
	"hyperregistry/internal/registry"
	"hyperregistry/internal/resilience"
	"hyperregistry/internal/server"
	"hyperregistry/internal/storage"
	"hyperregistry/internal/stream"
	"hyperregistry/pkg/logging"
)

const subsystem = "App"

// Application holds the wired subsystems of one registry process.
type Application struct {
	cfg config.Config

	store       *storage.Backend
	bus         *bus.Bus
	registry    *registry.Registry
	crypto      *crypto.Manager
	streaming   *stream.Engine
	propagation *propagation.Engine
	hotswap     *hotswap.Manager
	bridge      *bridge.Bridge
	server      *server.Server
}

// New wires the full stack from configuration and registers every
// subsystem with the api handler surface. Teardown happens in Close.
func New(cfg config.Config) (*Application, error) {
	logging.Init(logging.ParseLevel(cfg.LogLevel), os.Stderr)

	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	cm, err := crypto.NewManager(cfg.Encryption.KeyPath, cfg.Encryption.RingDepth)
	if err != nil {
		store.Close()
		return nil, err
	}

	b := bus.New(0)
	exec := resilience.New(resilience.DefaultPolicy())

	reg, err := registry.New(store, b, exec, registry.Options{})
	if err != nil {
		store.Close()
		return nil, err
	}

	app := &Application{
		cfg:      cfg,
		store:    store,
		bus:      b,
		registry: reg,
		crypto:   cm,
		streaming: stream.New(reg, cm, stream.Options{
			HeartbeatInterval: time.Duration(cfg.Streaming.HeartbeatSeconds) * time.Second,
			MaxStreams:        cfg.Streaming.MaxStreams,
			EncryptPayloads:   cfg.Streaming.EncryptPayloads,
		}),
		propagation: propagation.New(reg, b, exec, propagation.Options{
			Policy:      propagation.ConflictPolicy(cfg.Propagation.ConflictPolicy),
			MaxSessions: cfg.Propagation.MaxSessions,
		}),
		hotswap: hotswap.New(reg, b, hotswap.Options{}),
		bridge: bridge.New(reg, bridge.Options{
			TTL:       time.Duration(cfg.Bridge.TTLSeconds) * time.Second,
			Namespace: cfg.Bridge.Namespace,
			Sources:   []bridge.DiscoverySource{bridge.EnvSource{Prefix: cfg.Bridge.EnvPrefix}},
		}),
	}
	app.server = server.New(cfg.Server, store)

	// An entry leaving the registry takes its streams with it.
	streaming := app.streaming
	reg.AddHook(registry.AfterDelete, func(ctx context.Context, entry *api.Entry) error {
		streaming.CloseForEntry(ctx, entry.ID)
		return nil
	})

	app.registry.RegisterWithAPI()
	app.bus.RegisterWithAPI()
	app.streaming.RegisterWithAPI()
	app.propagation.RegisterWithAPI()
	app.hotswap.RegisterWithAPI()
	app.bridge.RegisterWithAPI()

	logging.Info(subsystem, "Registry wired (store %s)", cfg.Database.Path)
	return app, nil
}

// Registry exposes the registry core for CLI use.
func (a *Application) Registry() *registry.Registry {
	return a.registry
}

// Run serves until ctx is cancelled: HTTP server, propagation worker,
// stream heartbeats, bridge reconcile loop, and the config watcher all
// run under one group. Returns the first fatal error.
func (a *Application) Run(ctx context.Context, configDir string) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Start(ctx)
	})
	g.Go(func() error {
		a.propagation.Start(ctx)
		return nil
	})
	g.Go(func() error {
		a.streaming.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.bridge.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return config.Watch(ctx, configDir, a.applyConfig)
	})

	err := g.Wait()
	a.Close()
	return err
}

// applyConfig picks up the hot-reloadable tunables.
func (a *Application) applyConfig(cfg config.Config) {
	if cfg.LogLevel != a.cfg.LogLevel {
		logging.Init(logging.ParseLevel(cfg.LogLevel), os.Stderr)
		logging.Info(subsystem, "Log level changed to %s", cfg.LogLevel)
	}
	a.cfg.LogLevel = cfg.LogLevel
}

// Close releases process resources and detaches the api handlers.
func (a *Application) Close() {
	api.ResetHandlers()
	if err := a.store.Close(); err != nil {
		logging.Error(subsystem, err, "Closing store")
	}
}
