package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/specialistvlad/steloinfra/internal/assets"
	"github.com/specialistvlad/steloinfra/internal/config"
	"github.com/specialistvlad/steloinfra/internal/ctxlog"
	"github.com/specialistvlad/steloinfra/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	loader   config.Loader
	registry *registry.Registry
	clients  assets.ClientFactory
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
// Descriptors are loaded lazily by the command that needs them.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader, modules ...registry.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All Go modules registered.", "count", len(modules))

	return &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		loader:   loader,
		registry: reg,
		clients:  assets.NewS3ClientFactory(assets.S3Options{Endpoint: cfg.Endpoint}),
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// SetClientFactory replaces the S3 client factory used by Publish.
func (a *App) SetClientFactory(f assets.ClientFactory) {
	a.clients = f
}

// Run executes the configured command.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "command", a.config.Command)

	var err error
	switch a.config.Command {
	case CommandSynth:
		err = a.Synth(ctx)
	case CommandLint:
		err = a.Lint(ctx)
	case CommandPublish:
		err = a.Publish(ctx)
	default:
		err = fmt.Errorf("unknown command '%s'", a.config.Command)
	}

	a.logger.Debug("App.Run method finished.")
	return err
}
