package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// withApp validates the config, builds the app and runs fn with a context
// cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	logger.Debug("bandlink starting", "version", version, "command", cmd.Name())

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	defer attachProgress(a.bus, cmd.ErrOrStderr())()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}
