package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hyperregistry/internal/app"
	"hyperregistry/internal/config"
)

// serveCmd starts the registry process: the HTTP API, the propagation
// worker, stream heartbeats, and the bridge reconcile loop.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the registry server",
	Long: `Starts the registry process. The HTTP/JSON API listens under /v1 on
the configured host and port; background loops handle propagation,
stream heartbeats, discovery reconciliation, and config hot-reload.

Stops cleanly on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	dir := resolveConfigDir()
	cfg, err := config.LoadConfig(dir)
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.Run(ctx, dir)
}
