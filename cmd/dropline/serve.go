package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dropline/internal/app"
	"dropline/internal/config"
	"dropline/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(logCfg *logging.Config) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Long: `serve runs the relay: the websocket gateway at /ws, room lookup at
/api/rooms/{id}, transfer history at /api/transfers and /health.

Configuration layers defaults, DROPLINE_* environment variables and a JSON file
(--config or $DROPLINE_CONFIG_FILE).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Root().PersistentFlags()
			if flags.Changed("log-level") {
				cfg.Log.Level = logCfg.Level
			}
			if flags.Changed("log-format") {
				cfg.Log.Format = logCfg.Format
			}
			return runServe(cmd.Context(), cmd, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "JSON config file")
	return cmd
}

// runServe starts the relay and blocks until ctx is cancelled, then shuts down
// gracefully.
func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	logger, err := newLogger(cmd, cfg.Log)
	if err != nil {
		return err
	}

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	logger.Info("Shutdown requested")

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
