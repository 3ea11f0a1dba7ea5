package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/inkwell/internal/config"
	"github.com/rpggio/inkwell/internal/mcp"
	"github.com/rpggio/inkwell/internal/transport"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the editing server",
		Long: `Serve editor WebSockets at /ws/articles/{id}, MCP at /mcp,
metrics at /metrics and a health check at /health.

Expired and idle sessions are swept in the background.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides config)")

	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger, closeLog := newLogger(cfg.Log.Level, cfg.Log.Path, false)
	defer closeLog()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	resolver := a.resolver()
	mcpServer := mcp.NewServer(mcp.Config{
		Services: mcp.Services{
			Sessions:     a.sessions,
			Participants: a.participants,
			Activity:     a.activity,
		},
		Resolver:      resolver,
		AuthEnabled:   !cfg.Auth.Disabled,
		TransportMode: "http",
		Logger:        logger,
	})
	mcpHandler := sdkmcp.NewStreamableHTTPHandler(
		func(r *http.Request) *sdkmcp.Server { return mcpServer },
		&sdkmcp.StreamableHTTPOptions{
			SessionTimeout: 30 * time.Minute,
		},
	)

	srv := transport.NewServer(transport.Config{
		Sessions:     a.sessions,
		Participants: a.participants,
		Hub:          a.hub,
		Resolver:     resolver,
		Activity:     a.activity,
		Metrics:      a.metrics,
		MCP:          mcpHandler,
		WebSocket: transport.WebSocketOptions{
			PingInterval:   cfg.WebSocket.PingInterval,
			ReadTimeout:    cfg.WebSocket.ReadTimeout,
			WriteTimeout:   cfg.WebSocket.WriteTimeout,
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
			AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		},
		Logger: logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.sessions.RunSweeper(ctx, cfg.Session.SweepInterval)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	return shutdown(logger, httpServer)
}

func shutdown(logger *slog.Logger, server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}
	return nil
}
