package main

import (
	"context"
	"fmt"
	"time"

	"toolbox/internal/config"
	"toolbox/internal/daemon"
	"toolbox/internal/logging"
	"toolbox/internal/tracing"
)

const tracingShutdownTimeout = 5 * time.Second

// run starts the daemon and blocks until ctx is cancelled. ready, when set,
// receives the API address once the listener is up.
func run(ctx context.Context, cfg *config.Config, opts daemon.Options, ready func(addr string)) error {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	logger := opts.Logger

	provider, err := tracing.Setup(ctx, cfg.Tracing, opts.Version, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tracingShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", logging.Error(err))
		}
	}()

	d, err := daemon.New(cfg, opts)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("daemon close", logging.Error(err))
		}
	}()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if ready != nil {
		ready(d.APIAddr())
	}

	<-ctx.Done()
	logger.Info("toolboxd shutting down", logging.String(logging.FieldEventType, "daemon_stopping"))
	return nil
}
