package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/inkwell/internal/domain/activity"
	"github.com/rpggio/inkwell/internal/domain/participant"
	"github.com/rpggio/inkwell/internal/domain/session"
	"github.com/stretchr/testify/require"
)

type sessionStub struct {
	listFn    func(context.Context, session.ListOptions) ([]session.Session, error)
	getFn     func(context.Context, string) (*session.Session, error)
	opsFn     func(context.Context, string, int64, int) ([]session.Entry, error)
	lockFn    func(context.Context, string, string) (*session.Session, error)
	unlockFn  func(context.Context, string, string) (*session.Session, error)
	saveFn    func(context.Context, string, string, string) (*session.SaveResult, error)
	replayFn  func(context.Context, string) (*session.ReplayResult, error)
	cleanupFn func(context.Context) (int, error)
}

func (s sessionStub) List(ctx context.Context, opts session.ListOptions) ([]session.Session, error) {
	return s.listFn(ctx, opts)
}
func (s sessionStub) Get(ctx context.Context, id string) (*session.Session, error) {
	return s.getFn(ctx, id)
}
func (s sessionStub) Operations(ctx context.Context, id string, after int64, limit int) ([]session.Entry, error) {
	return s.opsFn(ctx, id, after, limit)
}
func (s sessionStub) Lock(ctx context.Context, id, userID string) (*session.Session, error) {
	return s.lockFn(ctx, id, userID)
}
func (s sessionStub) Unlock(ctx context.Context, id, userID string) (*session.Session, error) {
	return s.unlockFn(ctx, id, userID)
}
func (s sessionStub) Save(ctx context.Context, id, userID, note string) (*session.SaveResult, error) {
	return s.saveFn(ctx, id, userID, note)
}
func (s sessionStub) Replay(ctx context.Context, id string) (*session.ReplayResult, error) {
	return s.replayFn(ctx, id)
}
func (s sessionStub) CleanupExpired(ctx context.Context) (int, error) {
	return s.cleanupFn(ctx)
}

type participantStub struct {
	all    []participant.Participant
	active []participant.Participant
}

func (p participantStub) List(context.Context, string) ([]participant.Participant, error) {
	return p.all, nil
}
func (p participantStub) Active(context.Context, string) ([]participant.Participant, error) {
	return p.active, nil
}

type activityStub struct {
	opts activity.ListActivityOptions
}

func (a *activityStub) GetRecentActivity(_ context.Context, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error) {
	a.opts = opts
	return []activity.ActivityEntry{{SessionID: opts.SessionID, ActivityType: activity.TypeSessionSaved}}, nil
}

func connect(t *testing.T, svc Services) *sdkmcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	server := NewServer(Config{Services: svc, TransportMode: "stdio"})

	serverTransport, clientTransport := sdkmcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callText(t *testing.T, cs *sdkmcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := cs.CallTool(context.Background(), &sdkmcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*sdkmcp.TextContent)
	require.True(t, ok)
	return text.Text, result.IsError
}

func TestListTools(t *testing.T) {
	cs := connect(t, Services{})

	tools, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, name := range []string{
		"ping", "list_sessions", "get_session", "get_operations", "list_participants",
		"lock_session", "unlock_session", "save_session", "verify_session",
		"cleanup_sessions", "get_recent_activity",
	} {
		require.True(t, names[name], "missing tool %s", name)
	}
}

func TestPing(t *testing.T) {
	cs := connect(t, Services{})
	text, isErr := callText(t, cs, "ping", nil)
	require.False(t, isErr)
	require.Equal(t, "pong", text)
}

func TestGetSession(t *testing.T) {
	cs := connect(t, Services{Sessions: sessionStub{
		getFn: func(_ context.Context, id string) (*session.Session, error) {
			return &session.Session{ID: id, ArticleID: "a1", Status: session.StatusActive, CurrentContent: "hello", Sequence: 3}, nil
		},
	}})

	text, isErr := callText(t, cs, "get_session", map[string]any{"session_id": "s1"})
	require.False(t, isErr)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	require.Equal(t, "s1", got["id"])
	require.Equal(t, "hello", got["current_content"])
	require.EqualValues(t, 3, got["operation_sequence"])
}

func TestGetOperations_DefaultLimit(t *testing.T) {
	var gotLimit int
	var gotAfter int64
	cs := connect(t, Services{Sessions: sessionStub{
		opsFn: func(_ context.Context, _ string, after int64, limit int) ([]session.Entry, error) {
			gotAfter, gotLimit = after, limit
			return nil, nil
		},
	}})

	_, isErr := callText(t, cs, "get_operations", map[string]any{"session_id": "s1", "after": 4})
	require.False(t, isErr)
	require.Equal(t, defaultOperationLimit, gotLimit)
	require.EqualValues(t, 4, gotAfter)
}

func TestListParticipants_ActiveOnly(t *testing.T) {
	cs := connect(t, Services{Participants: participantStub{
		all:    []participant.Participant{{UserID: "u1"}, {UserID: "u2"}},
		active: []participant.Participant{{UserID: "u1"}},
	}})

	text, _ := callText(t, cs, "list_participants", map[string]any{"session_id": "s1", "active_only": true})
	var got struct {
		Participants []participant.Participant `json:"participants"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	require.Len(t, got.Participants, 1)
}

func TestLockSession_ActsAsDefaultUser(t *testing.T) {
	var gotUser string
	cs := connect(t, Services{Sessions: sessionStub{
		lockFn: func(_ context.Context, id, userID string) (*session.Session, error) {
			gotUser = userID
			return &session.Session{ID: id, Status: session.StatusLocked, LockOwner: &userID}, nil
		},
	}})

	_, isErr := callText(t, cs, "lock_session", map[string]any{"session_id": "s1"})
	require.False(t, isErr)
	require.Equal(t, "admin", gotUser)
}

func TestSaveSession(t *testing.T) {
	cs := connect(t, Services{Sessions: sessionStub{
		saveFn: func(_ context.Context, id, _, note string) (*session.SaveResult, error) {
			require.Equal(t, "release", note)
			now := time.Now()
			return &session.SaveResult{
				Session:   session.Session{ID: id, Status: session.StatusCompleted, Sequence: 9, CompletedAt: &now},
				VersionID: "v2",
			}, nil
		},
	}})

	text, isErr := callText(t, cs, "save_session", map[string]any{"session_id": "s1", "note": "release"})
	require.False(t, isErr)
	require.Contains(t, text, `"version_id":"v2"`)
	require.Contains(t, text, `"sequence_number":9`)
}

func TestSaveSession_PermissionDenied(t *testing.T) {
	cs := connect(t, Services{Sessions: sessionStub{
		saveFn: func(context.Context, string, string, string) (*session.SaveResult, error) {
			return nil, session.ErrPermissionDenied
		},
	}})

	text, isErr := callText(t, cs, "save_session", map[string]any{"session_id": "s1"})
	require.True(t, isErr)
	require.Contains(t, text, "PERMISSION_DENIED")
	require.Contains(t, text, "recovery_hint")
}

func TestVerifySession(t *testing.T) {
	cs := connect(t, Services{Sessions: sessionStub{
		replayFn: func(context.Context, string) (*session.ReplayResult, error) {
			return &session.ReplayResult{Content: "abc", Sequence: 2, Matches: true}, nil
		},
	}})

	text, isErr := callText(t, cs, "verify_session", map[string]any{"session_id": "s1"})
	require.False(t, isErr)
	require.Contains(t, text, `"matches":true`)
}

func TestGetRecentActivity_Filters(t *testing.T) {
	stub := &activityStub{}
	cs := connect(t, Services{Activity: stub})

	text, isErr := callText(t, cs, "get_recent_activity", map[string]any{
		"session_id": "s1",
		"type":       string(activity.TypeSessionSaved),
		"limit":      5,
	})
	require.False(t, isErr)
	require.Contains(t, text, "s1")
	require.Equal(t, "s1", stub.opts.SessionID)
	require.Equal(t, 5, stub.opts.Limit)
	require.NotNil(t, stub.opts.ActivityType)
	require.Equal(t, activity.TypeSessionSaved, *stub.opts.ActivityType)
}

func TestDocResources(t *testing.T) {
	cs := connect(t, Services{})

	res, err := cs.ReadResource(context.Background(), &sdkmcp.ReadResourceParams{URI: "inkwell://docs/index"})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	require.Contains(t, res.Contents[0].Text, "list_sessions")
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{session.ErrSessionNotFound, "SESSION_NOT_FOUND"},
		{session.ErrSessionCompleted, "SESSION_COMPLETED"},
		{session.ErrSessionLocked, "SESSION_LOCKED"},
		{session.ErrNotLockOwner, "NOT_LOCK_OWNER"},
		{errors.Join(session.ErrPersistence, errors.New("disk")), "PERSISTENCE"},
		{&session.SequenceConflictError{Expected: 4, Submitted: 2}, "SEQUENCE_CONFLICT"},
	}
	for _, tc := range cases {
		got := MapError(tc.err)
		require.NotNil(t, got, tc.code)
		require.Equal(t, tc.code, got.Code)
	}
	require.Nil(t, MapError(nil))
	require.Nil(t, MapError(errors.New("boom")))
}

type userResolverStub map[string]string

func (r userResolverStub) ResolveUser(_ context.Context, token string) (string, error) {
	user, ok := r[token]
	if !ok {
		return "", errors.New("unknown token")
	}
	return user, nil
}

func TestAuthMiddleware(t *testing.T) {
	var seen string
	handler := authMiddleware(userResolverStub{"tok": "alice"})(func(ctx context.Context, _ string, _ sdkmcp.Request) (sdkmcp.Result, error) {
		seen = getUserID(ctx)
		return nil, nil
	})

	header := http.Header{}
	header.Set("Authorization", "Bearer tok")
	_, err := handler(context.Background(), "tools/call", &sdkmcp.CallToolRequest{Extra: &sdkmcp.RequestExtra{Header: header}})
	require.NoError(t, err)
	require.Equal(t, "alice", seen)

	header.Set("Authorization", "Bearer nope")
	_, err = handler(context.Background(), "tools/call", &sdkmcp.CallToolRequest{Extra: &sdkmcp.RequestExtra{Header: header}})
	require.ErrorContains(t, err, "unauthorized")

	_, err = handler(context.Background(), "tools/call", &sdkmcp.CallToolRequest{})
	require.ErrorContains(t, err, "missing headers")
}
