package main

import (
	"context"
	"errors"
	"fmt"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/inkwell/internal/config"
	"github.com/rpggio/inkwell/internal/mcp"
	"github.com/spf13/cobra"
)

func mcpCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the admin tools over MCP stdio",
		Long: `Run the MCP inspection and admin tools over stdin/stdout for a
local agent. Authentication is off; every call acts as --user.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			return runStdio(cmd.Context(), cfg, user)
		},
	}

	cmd.Flags().StringVar(&user, "user", "admin", "User the tools act as")

	return cmd
}

func runStdio(ctx context.Context, cfg config.Config, user string) error {
	logger, closeLog := newLogger(cfg.Log.Level, cfg.Log.Path, true)
	defer closeLog()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	mcpServer := mcp.NewServer(mcp.Config{
		Services: mcp.Services{
			Sessions:     a.sessions,
			Participants: a.participants,
			Activity:     a.activity,
		},
		TransportMode: "stdio",
		DefaultUser:   user,
		Logger:        logger,
	})

	logger.Info("starting stdio transport", "auth", "disabled", "user", user)

	// Run blocks until stdin closes or the context is canceled.
	if err := mcpServer.Run(ctx, &sdkmcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}
	logger.Info("shutting down")
	return nil
}
