package mcp

import (
	"context"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/inkwell/internal/domain/activity"
	"github.com/rpggio/inkwell/internal/domain/participant"
	"github.com/rpggio/inkwell/internal/domain/session"
)

// SessionService defines session operations needed by MCP.
type SessionService interface {
	List(ctx context.Context, opts session.ListOptions) ([]session.Session, error)
	Get(ctx context.Context, sessionID string) (*session.Session, error)
	Operations(ctx context.Context, sessionID string, after int64, limit int) ([]session.Entry, error)
	Lock(ctx context.Context, sessionID, userID string) (*session.Session, error)
	Unlock(ctx context.Context, sessionID, userID string) (*session.Session, error)
	Save(ctx context.Context, sessionID, userID, note string) (*session.SaveResult, error)
	Replay(ctx context.Context, sessionID string) (*session.ReplayResult, error)
	CleanupExpired(ctx context.Context) (int, error)
}

// ParticipantService defines presence queries needed by MCP.
type ParticipantService interface {
	List(ctx context.Context, sessionID string) ([]participant.Participant, error)
	Active(ctx context.Context, sessionID string) ([]participant.Participant, error)
}

// ActivityService defines activity operations needed by MCP.
type ActivityService interface {
	GetRecentActivity(ctx context.Context, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error)
}

// Services contains all domain services needed by MCP.
type Services struct {
	Sessions     SessionService
	Participants ParticipantService
	Activity     ActivityService
}

// Config contains server configuration.
type Config struct {
	Services      Services
	Resolver      UserResolver
	AuthEnabled   bool
	TransportMode string // "stdio" or "http"
	// DefaultUser acts for every call when authentication is off.
	DefaultUser string
	Logger      *slog.Logger
}

// NewServer creates and configures an MCP server with all tools and middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultUser == "" {
		cfg.DefaultUser = "admin"
	}

	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "inkwell",
		Version: "0.1.0",
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	registerDocResources(server)

	// Stdio is local only and always runs as the default user.
	if cfg.TransportMode != "stdio" && cfg.AuthEnabled {
		server.AddReceivingMiddleware(authMiddleware(cfg.Resolver))
	} else {
		server.AddReceivingMiddleware(noAuthMiddleware(cfg.DefaultUser))
	}
	server.AddReceivingMiddleware(trafficLoggingMiddleware(cfg.Logger, "inbound"))
	server.AddSendingMiddleware(trafficLoggingMiddleware(cfg.Logger, "outbound"))

	registerTools(server, cfg.Services)

	return server
}
