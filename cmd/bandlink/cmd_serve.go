package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
)

var (
	cmdServe = &cobra.Command{
		Use:   "serve",
		Short: "Run the web monitor until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
)

var serveAddr string

func init() {
	rootCmd.AddCommand(cmdServe)
	cmdServe.Flags().StringVarP(&serveAddr, "addr", "a", "", "Listen address (overrides web.listen)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if serveAddr != "" {
		cfg.Web.Listen = serveAddr
	}
	if cfg.Web.Listen == "" {
		return errors.New("web.listen or --addr is required")
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		<-ctx.Done()
		a.logger.Info("shutting down")
		return nil
	})
}
