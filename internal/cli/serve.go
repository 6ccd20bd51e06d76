package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/runnerr0/visitortrack/internal/config"
	"github.com/runnerr0/visitortrack/internal/server"
	"github.com/runnerr0/visitortrack/internal/storage"
)

// Execute implements the go-flags Commander interface for ServeCommand.
func (c *ServeCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}

	if err := c.applyOverrides(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return c.run(ctx, cfg)
}

// applyOverrides folds command-line flags into cfg and re-validates it.
func (c *ServeCommand) applyOverrides(cfg *config.Config) error {
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.TLS {
		cfg.TLS.Enabled = true
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if c.globals != nil && c.globals.Verbose {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// run opens the store and serves until ctx is cancelled.
func (c *ServeCommand) run(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	logger.Info("starting visitortrack", "version", c.version, "driver", cfg.Storage.Driver, "pool_size", cfg.Storage.PoolSize)

	store, err := storage.OpenStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	srv, err := server.New(cfg, store, logger)
	if err != nil {
		return err
	}

	return srv.ListenAndServe(ctx)
}
