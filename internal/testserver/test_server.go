// Package testserver runs the full editing stack on an in-memory database
// behind httptest for end-to-end tests.
package testserver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/inkwell/internal/domain/activity"
	"github.com/rpggio/inkwell/internal/domain/article"
	"github.com/rpggio/inkwell/internal/domain/participant"
	"github.com/rpggio/inkwell/internal/domain/session"
	"github.com/rpggio/inkwell/internal/hub"
	"github.com/rpggio/inkwell/internal/mcp"
	"github.com/rpggio/inkwell/internal/metrics"
	"github.com/rpggio/inkwell/internal/sqlite"
	"github.com/rpggio/inkwell/internal/transport"
	"github.com/stretchr/testify/require"
)

// Config adjusts the stack. The zero value uses the built-in article store
// and default session limits.
type Config struct {
	// Articles replaces the article store handed to the session service.
	Articles article.Store
	Session  session.Options
	// HubBuffer bounds each connection's outbound queue.
	HubBuffer int
}

type TestServer struct {
	Server       *httptest.Server
	DB           *sqlite.DB
	Articles     *sqlite.ArticleStore
	APIKeys      *sqlite.APIKeyRepository
	Sessions     *session.Service
	Participants *participant.Service
	Activity     *activity.Service
	Hub          *hub.Hub
	Metrics      *metrics.Metrics
}

// New starts a server with the default configuration.
func New(t *testing.T) *TestServer {
	return NewWithConfig(t, Config{})
}

func NewWithConfig(t *testing.T, cfg Config) *TestServer {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := sqlite.New(dsn)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())

	articleStore := sqlite.NewArticleStore(db)
	var store article.Store = articleStore
	if cfg.Articles != nil {
		store = cfg.Articles
	}

	m := metrics.New("inkwell_test")
	activitySvc := activity.NewService(sqlite.NewActivityRepository(db), nil)
	participantSvc := participant.NewService(sqlite.NewParticipantRepository(db), nil)
	sessionSvc := session.NewService(session.Config{
		Sessions:   sqlite.NewSessionRepository(db),
		Operations: sqlite.NewOperationRepository(db),
		Articles:   store,
		Presence:   participantSvc,
		Activity:   activitySvc,
		Metrics:    m,
		Options:    cfg.Session,
	})

	h := hub.New(hub.Options{Buffer: cfg.HubBuffer, Metrics: m})
	sessionSvc.SetNotifier(transport.NewNotifier(h))

	apiKeys := sqlite.NewAPIKeyRepository(db)
	mcpServer := mcp.NewServer(mcp.Config{
		Services: mcp.Services{
			Sessions:     sessionSvc,
			Participants: participantSvc,
			Activity:     activitySvc,
		},
		Resolver:      apiKeys,
		AuthEnabled:   true,
		TransportMode: "http",
	})
	mcpHandler := sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server {
		return mcpServer
	}, nil)

	srv := transport.NewServer(transport.Config{
		Sessions:     sessionSvc,
		Participants: participantSvc,
		Hub:          h,
		Resolver:     apiKeys,
		Activity:     activitySvc,
		Metrics:      m,
		MCP:          mcpHandler,
		WebSocket: transport.WebSocketOptions{
			PingInterval: time.Second,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: time.Second,
		},
	})
	server := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		server.Close()
		_ = db.Close()
	})

	return &TestServer{
		Server:       server,
		DB:           db,
		Articles:     articleStore,
		APIKeys:      apiKeys,
		Sessions:     sessionSvc,
		Participants: participantSvc,
		Activity:     activitySvc,
		Hub:          h,
		Metrics:      m,
	}
}

// AddUser registers token as the API key of userID.
func (ts *TestServer) AddUser(t *testing.T, token, userID string) {
	t.Helper()
	require.NoError(t, ts.APIKeys.Create(context.Background(), token, userID, "test"))
}

// CreateArticle stores an article and grants edit rights to editors.
func (ts *TestServer) CreateArticle(t *testing.T, id, title, content string, editors ...string) {
	t.Helper()
	ctx := context.Background()
	author := "author"
	if len(editors) > 0 {
		author = editors[0]
	}
	require.NoError(t, ts.Articles.CreateArticle(ctx, &article.Article{
		ID:       id,
		Title:    title,
		Content:  content,
		AuthorID: author,
	}))
	for _, userID := range editors {
		require.NoError(t, ts.Articles.GrantEditor(ctx, id, userID))
	}
}

// WebSocketURL returns the editor endpoint of articleID.
func (ts *TestServer) WebSocketURL(articleID string) string {
	return "ws" + strings.TrimPrefix(ts.Server.URL, "http") + "/ws/articles/" + url.PathEscape(articleID)
}

// Dial opens an editor connection as the owner of token.
func (ts *TestServer) Dial(articleID, token string) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return websocket.DefaultDialer.Dial(ts.WebSocketURL(articleID), header)
}
