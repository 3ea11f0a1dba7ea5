package main

import (
	"fmt"

	"github.com/rpggio/inkwell/internal/config"
	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale sessions once and exit",
		Long: `Mark every session past its TTL or idle timeout inactive.

Useful from cron when the server runs without its background sweeper.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			logger, closeLog := newLogger(cfg.Log.Level, cfg.Log.Path, false)
			defer closeLog()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.sessions.CleanupExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d session(s)\n", n)
			return nil
		},
	}
}
