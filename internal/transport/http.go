package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rpggio/inkwell/internal/domain/activity"
	"github.com/rpggio/inkwell/internal/domain/article"
	"github.com/rpggio/inkwell/internal/domain/participant"
	"github.com/rpggio/inkwell/internal/domain/session"
	"github.com/rpggio/inkwell/internal/hub"
	"github.com/rpggio/inkwell/internal/metrics"
)

// Sessions is the session service as the transport uses it.
type Sessions interface {
	Join(ctx context.Context, articleID, userID string, admit func(session.Session) error) (*session.Session, error)
	Get(ctx context.Context, sessionID string) (*session.Session, error)
	Attach(ctx context.Context, sessionID string, fn func(session.Snapshot) error) error
	Apply(ctx context.Context, sessionID string, sub session.Submission) (*session.Commit, error)
	Undo(ctx context.Context, sessionID string, sub session.Submission) (*session.Commit, error)
	ApplySnapshot(ctx context.Context, sessionID string, sub session.Submission, text string) ([]session.Commit, error)
	Lock(ctx context.Context, sessionID, userID string) (*session.Session, error)
	Unlock(ctx context.Context, sessionID, userID string) (*session.Session, error)
	Save(ctx context.Context, sessionID, userID, note string) (*session.SaveResult, error)
}

// Participants is the participant service as the transport uses it.
type Participants interface {
	Join(ctx context.Context, sessionID, userID string, maxParticipants int) (*participant.Participant, error)
	UpdateCursor(ctx context.Context, sessionID, userID string, c participant.Cursor) (*participant.Participant, error)
	Touch(ctx context.Context, sessionID, userID string) (*participant.Participant, error)
	Disconnect(ctx context.Context, sessionID, userID string) (*participant.Participant, error)
	Active(ctx context.Context, sessionID string) ([]participant.Participant, error)
}

// WebSocketOptions tunes editor connections.
type WebSocketOptions struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	// AllowedOrigins restricts the Origin header of handshakes. Empty allows
	// every origin.
	AllowedOrigins []string
}

// DefaultWebSocketOptions returns the standard keepalive settings.
func DefaultWebSocketOptions() WebSocketOptions {
	return WebSocketOptions{
		PingInterval:   30 * time.Second,
		ReadTimeout:    70 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// Config wires a Server.
type Config struct {
	Sessions     Sessions
	Participants Participants
	Hub          *hub.Hub
	Resolver     UserResolver
	Activity     session.ActivityRecorder
	Metrics      *metrics.Metrics
	// MCP, when set, is mounted at /mcp.
	MCP       http.Handler
	WebSocket WebSocketOptions
	Logger    *slog.Logger
}

// Server serves editor connections and the HTTP surface around them.
type Server struct {
	sessions     Sessions
	participants Participants
	hub          *hub.Hub
	resolver     UserResolver
	activity     session.ActivityRecorder
	metrics      *metrics.Metrics
	mcp          http.Handler
	opts         WebSocketOptions
	logger       *slog.Logger
	upgrader     websocket.Upgrader

	// present counts open connections per session and user so that a user
	// with two tabs only leaves when the last one closes.
	mu      sync.Mutex
	present map[presenceKey]int
}

type presenceKey struct {
	sessionID string
	userID    string
}

// NewServer creates a server from cfg.
func NewServer(cfg Config) *Server {
	opts := cfg.WebSocket
	defaults := DefaultWebSocketOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = TrustedResolver{}
	}

	s := &Server{
		sessions:     cfg.Sessions,
		participants: cfg.Participants,
		hub:          cfg.Hub,
		resolver:     resolver,
		activity:     cfg.Activity,
		metrics:      cfg.Metrics,
		mcp:          cfg.MCP,
		opts:         opts,
		logger:       logger,
		present:      make(map[presenceKey]int),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	if s.mcp != nil {
		r.Handle("/mcp", s.mcp)
		r.Handle("/mcp/*", s.mcp)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.resolver))
		r.Get("/ws/articles/{articleID}", s.handleWebSocket)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := UserFromContext(ctx)
	if !ok || userID == "" {
		writeHTTPError(w, http.StatusUnauthorized, "unauthorized", "missing user")
		return
	}
	articleID := chi.URLParam(r, "articleID")
	logger := s.logger.With("article_id", articleID, "user_id", userID)

	// Everything that can refuse the editor happens before the upgrade so
	// that the refusal is a plain HTTP status. The participant is admitted
	// while the session is held, so a refused join leaves the session as it
	// was.
	var p *participant.Participant
	sess, err := s.sessions.Join(ctx, articleID, userID, func(sess session.Session) error {
		joined, err := s.participants.Join(ctx, sess.ID, userID, sess.MaxParticipants)
		if err != nil {
			if !errors.Is(err, participant.ErrCapacityExceeded) {
				err = errors.Join(session.ErrPersistence, err)
			}
			return err
		}
		p = joined
		return nil
	})
	if err != nil {
		if p != nil {
			if _, derr := s.participants.Disconnect(context.WithoutCancel(ctx), p.SessionID, userID); derr != nil {
				logger.Warn("failed to release participant", "session_id", p.SessionID, "error", derr)
			}
		}
		logger.Info("editor refused", "error", err)
		writeRefusal(w, err)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.Warn("websocket upgrade failed", "session_id", sess.ID, "error", err)
		s.leave(context.WithoutCancel(ctx), sess.ID, sess.ArticleID, *p)
		return
	}

	s.enter(sess.ID, userID)
	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	c := newConn(s, ws, sess, *p, logger.With("session_id", sess.ID))
	c.run(ctx)
}

// enter registers a connection of userID in a session.
func (s *Server) enter(sessionID, userID string) {
	s.mu.Lock()
	s.present[presenceKey{sessionID, userID}]++
	s.mu.Unlock()
}

// exit unregisters a connection and reports whether it was the user's last
// one in the session.
func (s *Server) exit(sessionID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := presenceKey{sessionID, userID}
	s.present[key]--
	if s.present[key] > 0 {
		return false
	}
	delete(s.present, key)
	return true
}

// leave disconnects the participant and tells the rest of the session.
func (s *Server) leave(ctx context.Context, sessionID, articleID string, p participant.Participant) {
	left, err := s.participants.Disconnect(ctx, sessionID, p.UserID)
	if err != nil {
		s.logger.Warn("failed to disconnect participant", "session_id", sessionID, "user_id", p.UserID, "error", err)
		left = &p
	}
	s.hub.Publish(sessionID, "", Encode(UserLeftMessage{
		Type:          TypeUserLeft,
		UserID:        p.UserID,
		ParticipantID: p.ID,
		Timestamp:     left.LastActivity,
	}))
	s.record(ctx, sessionID, articleID, p.UserID, activity.TypeParticipantLeft, "editor left")
}

func (s *Server) record(ctx context.Context, sessionID, articleID, userID string, typ activity.ActivityType, summary string) {
	if s.activity == nil {
		return
	}
	s.activity.Record(ctx, activity.ActivityEntry{
		SessionID:    sessionID,
		ArticleID:    articleID,
		UserID:       &userID,
		ActivityType: typ,
		Summary:      summary,
	}, nil)
}

type httpError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// refusalStatus maps a failed open or join to an HTTP status and code.
func refusalStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, article.ErrArticleNotFound):
		return http.StatusNotFound, "article_not_found"
	case errors.Is(err, participant.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded"
	case errors.Is(err, session.ErrSessionCompleted):
		return http.StatusConflict, "session_completed"
	case errors.Is(err, session.ErrHostedElsewhere):
		return http.StatusConflict, "hosted_elsewhere"
	case errors.Is(err, session.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, session.ErrPersistence):
		return http.StatusServiceUnavailable, "persistence"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeRefusal(w http.ResponseWriter, err error) {
	status, code := refusalStatus(err)
	writeHTTPError(w, status, code, err.Error())
}

func writeHTTPError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(httpError{Error: code, Message: message})
}
