package session_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rpggio/inkwell/internal/domain/activity"
	"github.com/rpggio/inkwell/internal/domain/article"
	"github.com/rpggio/inkwell/internal/domain/participant"
	"github.com/rpggio/inkwell/internal/domain/session"
	"github.com/rpggio/inkwell/internal/metrics"
	"github.com/rpggio/inkwell/internal/ot"
	"github.com/rpggio/inkwell/internal/repository"
	"github.com/rpggio/inkwell/internal/repository/mocks"
	"github.com/rpggio/inkwell/internal/sqlite"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu      sync.Mutex
	commits []session.Commit
	events  []session.Event
}

func (r *recorder) Committed(c session.Commit) {
	r.mu.Lock()
	r.commits = append(r.commits, c)
	r.mu.Unlock()
}

func (r *recorder) StatusChanged(e session.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) Commits() []session.Commit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Commit(nil), r.commits...)
}

func (r *recorder) Events() []session.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Event(nil), r.events...)
}

type harness struct {
	svc          *session.Service
	db           *sqlite.DB
	articles     *sqlite.ArticleStore
	participants *participant.Service
	activity     *activity.Service
	metrics      *metrics.Metrics
	clock        *clock
	notes        *recorder
}

func newHarness(t *testing.T, content string, opts session.Options) *harness {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	articles := sqlite.NewArticleStore(db)
	require.NoError(t, articles.CreateArticle(ctx, &article.Article{
		ID: "a1", Title: "Draft", Content: content, AuthorID: "u1",
	}))
	require.NoError(t, articles.GrantEditor(ctx, "a1", "u2"))

	h := &harness{
		db:           db,
		articles:     articles,
		participants: participant.NewService(sqlite.NewParticipantRepository(db), nil),
		activity:     activity.NewService(sqlite.NewActivityRepository(db), nil),
		metrics:      metrics.New("test"),
		clock:        &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		notes:        &recorder{},
	}
	h.participants.SetClock(h.clock.Now)
	h.svc = session.NewService(session.Config{
		Sessions:   sqlite.NewSessionRepository(db),
		Operations: sqlite.NewOperationRepository(db),
		Articles:   articles,
		Presence:   h.participants,
		Activity:   h.activity,
		Metrics:    h.metrics,
		Options:    opts,
		Now:        h.clock.Now,
	})
	h.svc.SetNotifier(h.notes)
	return h
}

func (h *harness) open(t *testing.T, userID string) *session.Session {
	t.Helper()
	sess, err := h.svc.Open(context.Background(), "a1", userID)
	require.NoError(t, err)
	return sess
}

func (h *harness) apply(t *testing.T, sessionID, userID string, seq int64, op ot.Op) *session.Commit {
	t.Helper()
	commit, err := h.svc.Apply(context.Background(), sessionID, session.Submission{
		UserID: userID, Op: op, Sequence: seq,
	})
	require.NoError(t, err)
	return commit
}

func TestOpen_SeedsFromArticle(t *testing.T) {
	h := newHarness(t, "Hello world", session.Options{})
	art, err := h.articles.GetArticle(context.Background(), "a1")
	require.NoError(t, err)

	sess := h.open(t, "u1")
	require.Equal(t, session.StatusActive, sess.Status)
	require.Equal(t, "Hello world", sess.CurrentContent)
	require.Equal(t, "Draft", sess.CurrentTitle)
	require.Equal(t, art.VersionID, sess.BaseVersion)
	require.Equal(t, int64(0), sess.Sequence)
	require.Equal(t, 10, sess.MaxParticipants)
	require.Equal(t, h.clock.Now().Add(24*time.Hour), sess.ExpiresAt)

	again := h.open(t, "u2")
	require.Equal(t, sess.ID, again.ID)

	require.NoError(t, testutil.GatherAndCompare(h.metrics.Registry(), strings.NewReader(`
# HELP test_sessions_opened_total Collaborative sessions created
# TYPE test_sessions_opened_total counter
test_sessions_opened_total 1
`), "test_sessions_opened_total"))
}

func TestOpen_PermissionDenied(t *testing.T) {
	h := newHarness(t, "Hello world", session.Options{})
	_, err := h.svc.Open(context.Background(), "a1", "stranger")
	require.ErrorIs(t, err, session.ErrPermissionDenied)

	_, err = h.svc.Open(context.Background(), "", "u1")
	require.ErrorIs(t, err, session.ErrInvalidInput)
}

func TestOpen_ConcurrentOpensShareSession(t *testing.T) {
	h := newHarness(t, "Hello world", session.Options{})

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := h.svc.Open(context.Background(), "a1", "u1")
			if err == nil {
				ids[i] = sess.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	all, err := h.svc.List(context.Background(), session.ListOptions{ArticleID: "a1"})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestOpen_MissingArticle(t *testing.T) {
	ctx := context.Background()
	articles := &mocks.ArticleStore{}
	sessions := &mocks.SessionRepository{}
	articles.On("CanEdit", mock.Anything, "gone", "u1").Return(true, nil)
	articles.On("GetArticle", mock.Anything, "gone").Return(nil, article.ErrArticleNotFound)
	sessions.On("FindOpenByArticle", mock.Anything, "gone").Return(nil, errNotFound())

	svc := session.NewService(session.Config{Sessions: sessions, Operations: &mocks.OperationRepository{}, Articles: articles})
	_, err := svc.Open(ctx, "gone", "u1")
	require.ErrorIs(t, err, article.ErrArticleNotFound)
	sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestOpen_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	articles := &mocks.ArticleStore{}
	articles.On("CanEdit", mock.Anything, "a1", "u1").Return(false, errors.New("connection refused"))

	svc := session.NewService(session.Config{Sessions: &mocks.SessionRepository{}, Operations: &mocks.OperationRepository{}, Articles: articles})
	_, err := svc.Open(ctx, "a1", "u1")
	require.ErrorIs(t, err, session.ErrPersistence)
}

// A fresh session accepts sequence 1 once.
func TestApply_SequenceIsStrict(t *testing.T) {
	h := newHarness(t, "", session.Options{})
	sess := h.open(t, "u1")

	commit := h.apply(t, sess.ID, "u1", 1, ot.Insert{Position: 0, Text: "Hi"})
	require.Equal(t, int64(1), commit.Entry.Sequence)
	require.Equal(t, "Hi", commit.Session.CurrentContent)
	require.Equal(t, h.clock.Now(), commit.Entry.AppliedAt)

	_, err := h.svc.Apply(context.Background(), sess.ID, session.Submission{
		UserID: "u1", Op: ot.Insert{Position: 0, Text: "Hi"}, Sequence: 1,
	})
	require.ErrorIs(t, err, session.ErrSequenceConflict)
	var conflict *session.SequenceConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, int64(2), conflict.Expected)

	current, err := h.svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, "Hi", current.CurrentContent)
	require.Equal(t, int64(1), current.Sequence)
}

func TestApply_InvalidOperationLeavesStateAlone(t *testing.T) {
	h := newHarness(t, "abc", session.Options{})
	sess := h.open(t, "u1")

	for _, op := range []ot.Op{
		ot.Delete{Position: 2, Length: 5},
		ot.Insert{Position: 4, Text: "x"},
		ot.Insert{Position: 0, Text: ""},
		ot.Replace{Position: 0, OldText: "zzz", NewText: "y"},
	} {
		_, err := h.svc.Apply(context.Background(), sess.ID, session.Submission{UserID: "u1", Op: op, Sequence: 1})
		require.ErrorIs(t, err, ot.ErrInvalidOperation, "%#v", op)
	}

	current, err := h.svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, "abc", current.CurrentContent)
	require.Equal(t, int64(0), current.Sequence)
	require.Empty(t, h.notes.Commits())
}

func TestApply_BaseSequenceRebases(t *testing.T) {
	h := newHarness(t, "Hello world", session.Options{})
	sess := h.open(t, "u1")

	h.apply(t, sess.ID, "u1", 1, ot.Insert{Position: 6, Text: "there "})

	base := int64(0)
	commit, err := h.svc.Apply(context.Background(), sess.ID, session.Submission{
		UserID: "u2", Op: ot.Delete{Position: 0, Length: 6}, BaseSequence: &base,
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), commit.Entry.Sequence)
	require.Equal(t, int64(0), commit.Entry.BaseSequence)
	require.Equal(t, "there world", commit.Session.CurrentContent)

	future := int64(9)
	_, err = h.svc.Apply(context.Background(), sess.ID, session.Submission{
		UserID: "u2", Op: ot.Insert{Position: 0, Text: "x"}, BaseSequence: &future,
	})
	require.ErrorIs(t, err, session.ErrSequenceConflict)
}

func TestApply_RebaseToNoop(t *testing.T) {
	h := newHarness(t, "abcdef", session.Options{})
	sess := h.open(t, "u1")
	h.apply(t, sess.ID, "u1", 1, ot.Delete{Position: 1, Length: 4})

	base := int64(0)
	commit, err := h.svc.Apply(context.Background(), sess.ID, session.Submission{
		UserID: "u2", Op: ot.Delete{Position: 2, Length: 2}, BaseSequence: &base,
	})
	require.NoError(t, err)
	require.True(t, ot.IsNoop(commit.Entry.Op))
	require.Equal(t, "af", commit.Session.CurrentContent)
	require.Equal(t, int64(2), commit.Session.Sequence)
}

func TestApply_RebasedReplaceOfDeletedText(t *testing.T) {
	h := newHarness(t, "hello world", session.Options{})
	sess := h.open(t, "u1")
	h.apply(t, sess.ID, "u1", 1, ot.Delete{Position: 0, Length: 6})

	base := int64(0)
	commit, err := h.svc.Apply(context.Background(), sess.ID, session.Submission{
		UserID: "u2", Op: ot.Replace{Position: 0, OldText: "hello", NewText: "HEY"}, BaseSequence: &base,
	})
	require.NoError(t, err)
	require.Equal(t, ot.Insert{Position: 0, Text: "HEY"}, commit.Entry.Op)
	require.Equal(t, "HEYworld", commit.Session.CurrentContent)
	require.Equal(t, int64(2), commit.Session.Sequence)
}

func TestApply_NotifiesInCommitOrder(t *testing.T) {
	h := newHarness(t, "", session.Options{})
	sess := h.open(t, "u1")

	for i := int64(1); i <= 5; i++ {
		h.apply(t, sess.ID, "u1", i, ot.Insert{Position: 0, Text: "x"})
	}

	commits := h.notes.Commits()
	require.Len(t, commits, 5)
	for i, c := range commits {
		require.Equal(t, int64(i+1), c.Entry.Sequence)
	}
}

func TestApply_ConcurrentEditorsConverge(t *testing.T) {
	h := newHarness(t, "", session.Options{})
	sess := h.open(t, "u1")

	var wg sync.WaitGroup
	for _, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			base := int64(0)
			for i := 0; i < 10; i++ {
				_, err := h.svc.Apply(context.Background(), sess.ID, session.Submission{
					UserID: user, Op: ot.Insert{Position: 0, Text: "x"}, BaseSequence: &base,
				})
				if err != nil {
					t.Errorf("apply: %v", err)
				}
			}
		}(user)
	}
	wg.Wait()

	current, err := h.svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, int64(20), current.Sequence)
	require.Equal(t, 20, ot.Len(current.CurrentContent))

	replay, err := h.svc.Replay(context.Background(), sess.ID)
	require.NoError(t, err)
	require.True(t, replay.Matches)
}

func TestApply_Title(t *testing.T) {
	h := newHarness(t, "body", session.Options{})
	sess := h.open(t, "u1")

	commit, err := h.svc.Apply(context.Background(), sess.ID, session.Submission{
		UserID: "u1", Target: session.TargetTitle, Op: ot.Insert{Position: 5, Text: " two"}, Sequence: 1,
	})
	require.NoError(t, err)
	require.Equal(t, "Draft two", commit.Session.CurrentTitle)
	require.Equal(t, "body", commit.Session.CurrentContent)

	_, err = h.svc.Apply(context.Background(), sess.ID, session.Submission{
		UserID: "u1", Target: session.TargetTitle, Op: ot.Replace{Position: 0, OldText: "Draft", NewText: "Final"}, Sequence: 2,
	})
	require.ErrorIs(t, err, ot.ErrInvalidOperation)

	_, err = h.svc.Apply(context.Background(), sess.ID, session.Submission{
		UserID: "u1", Target: "summary", Op: ot.Insert{Position: 0, Text: "x"}, Sequence: 2,
	})
	require.ErrorIs(t, err, ot.ErrInvalidOperation)
}

func TestApply_ReplacePinsPosition(t *testing.T) {
	h := newHarness(t, "one two one", session.Options{})
	sess := h.open(t, "u1")

	commit := h.apply(t, sess.ID, "u1", 1, ot.Replace{Position: 3, OldText: "one", NewText: "1"})
	require.Equal(t, ot.Replace{Position: 0, OldText: "one", NewText: "1"}, commit.Entry.Op)
	require.Equal(t, "1 two one", commit.Session.CurrentContent)
}

// Saving writes the content and ends the session for good.
func TestSave_CompletesSession(t *testing.T) {
	h := newHarness(t, "", session.Options{})
	ctx := context.Background()
	sess := h.open(t, "u1")
	h.apply(t, sess.ID, "u1", 1, ot.Insert{Position: 0, Text: "X"})

	result, err := h.svc.Save(ctx, sess.ID, "u1", "first draft")
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, result.Session.Status)
	require.NotNil(t, result.Session.CompletedAt)
	require.Equal(t, result.VersionID, *result.Session.SavedVersion)

	art, err := h.articles.GetArticle(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "X", art.Content)
	require.Equal(t, result.VersionID, art.VersionID)

	_, err = h.svc.Apply(ctx, sess.ID, session.Submission{UserID: "u1", Op: ot.Insert{Position: 0, Text: "Y"}, Sequence: 2})
	require.ErrorIs(t, err, session.ErrSessionCompleted)
	_, err = h.svc.Save(ctx, sess.ID, "u1", "")
	require.ErrorIs(t, err, session.ErrSessionCompleted)
	require.Equal(t, 0, h.svc.Live())

	events := h.notes.Events()
	require.NotEmpty(t, events)
	require.Equal(t, session.StatusCompleted, events[len(events)-1].Status)

	next := h.open(t, "u1")
	require.NotEqual(t, sess.ID, next.ID)
	require.Equal(t, "X", next.CurrentContent)
}

func TestSave_StoreFailureKeepsSessionOpen(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })

	articles := &mocks.ArticleStore{}
	articles.On("CanEdit", mock.Anything, "a1", "u1").Return(true, nil)
	articles.On("GetArticle", mock.Anything, "a1").Return(&article.Article{ID: "a1", Title: "t", Content: "c", VersionID: "v1"}, nil)
	articles.On("SaveArticle", mock.Anything, "a1", "t", "c", mock.Anything).Return("", errors.New("store down")).Once()
	articles.On("SaveArticle", mock.Anything, "a1", "t", "c", mock.Anything).Return("v2", nil).Once()

	svc := session.NewService(session.Config{
		Sessions:   sqlite.NewSessionRepository(db),
		Operations: sqlite.NewOperationRepository(db),
		Articles:   articles,
	})
	sess, err := svc.Open(ctx, "a1", "u1")
	require.NoError(t, err)

	_, err = svc.Save(ctx, sess.ID, "u1", "")
	require.ErrorIs(t, err, session.ErrPersistence)

	current, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatusActive, current.Status)

	result, err := svc.Save(ctx, sess.ID, "u1", "")
	require.NoError(t, err)
	require.Equal(t, "v2", result.VersionID)
	articles.AssertExpectations(t)
}

func TestSave_ArchivesLog(t *testing.T) {
	h := newHarness(t, "", session.Options{})
	archiver := &archiverStub{}
	svc := session.NewService(session.Config{
		Sessions:   sqlite.NewSessionRepository(h.db),
		Operations: sqlite.NewOperationRepository(h.db),
		Articles:   h.articles,
		Archiver:   archiver,
	})
	ctx := context.Background()
	sess, err := svc.Open(ctx, "a1", "u1")
	require.NoError(t, err)
	_, err = svc.Apply(ctx, sess.ID, session.Submission{UserID: "u1", Op: ot.Insert{Position: 0, Text: "a"}, Sequence: 1})
	require.NoError(t, err)

	_, err = svc.Save(ctx, sess.ID, "u1", "")
	require.NoError(t, err)
	require.Equal(t, sess.ID, archiver.session.ID)
	require.Len(t, archiver.entries, 1)
}

type archiverStub struct {
	session session.Session
	entries []session.Entry
}

func (a *archiverStub) Archive(_ context.Context, sess session.Session, entries []session.Entry) error {
	a.session = sess
	a.entries = entries
	return nil
}

func TestLockUnlock(t *testing.T) {
	h := newHarness(t, "abc", session.Options{})
	ctx := context.Background()
	sess := h.open(t, "u1")

	locked, err := h.svc.Lock(ctx, sess.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, session.StatusLocked, locked.Status)
	_, err = h.svc.Lock(ctx, sess.ID, "u1")
	require.NoError(t, err)
	_, err = h.svc.Lock(ctx, sess.ID, "u2")
	require.ErrorIs(t, err, session.ErrSessionLocked)

	_, err = h.svc.Apply(ctx, sess.ID, session.Submission{UserID: "u2", Op: ot.Insert{Position: 0, Text: "x"}, Sequence: 1})
	require.ErrorIs(t, err, session.ErrSessionLocked)
	_, err = h.svc.Unlock(ctx, sess.ID, "u2")
	require.ErrorIs(t, err, session.ErrNotLockOwner)

	h.apply(t, sess.ID, "u1", 1, ot.Insert{Position: 0, Text: "x"})

	unlocked, err := h.svc.Unlock(ctx, sess.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, session.StatusActive, unlocked.Status)
	require.Nil(t, unlocked.LockOwner)
	h.apply(t, sess.ID, "u2", 2, ot.Insert{Position: 0, Text: "y"})

	entries, err := h.activity.GetRecentActivity(ctx, activity.ListActivityOptions{SessionID: sess.ID})
	require.NoError(t, err)
	var types []activity.ActivityType
	for _, e := range entries {
		types = append(types, e.ActivityType)
	}
	require.Contains(t, types, activity.TypeSessionLocked)
	require.Contains(t, types, activity.TypeSessionUnlocked)
}

func TestUndo(t *testing.T) {
	h := newHarness(t, "Hello world", session.Options{})
	ctx := context.Background()
	sess := h.open(t, "u1")

	h.apply(t, sess.ID, "u1", 1, ot.Insert{Position: 6, Text: "there "})
	h.apply(t, sess.ID, "u2", 2, ot.Insert{Position: 0, Text: "Oh, "})

	commit, err := h.svc.Undo(ctx, sess.ID, session.Submission{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, "Oh, Hello world", commit.Session.CurrentContent)
	require.Equal(t, int64(3), commit.Entry.Sequence)
	require.NotNil(t, commit.Entry.Undoes)
	require.Equal(t, int64(1), *commit.Entry.Undoes)

	_, err = h.svc.Undo(ctx, sess.ID, session.Submission{UserID: "u1"})
	require.ErrorIs(t, err, session.ErrNothingToUndo)

	commit, err = h.svc.Undo(ctx, sess.ID, session.Submission{UserID: "u2"})
	require.NoError(t, err)
	require.Equal(t, "Hello world", commit.Session.CurrentContent)
}

func TestApplySnapshot(t *testing.T) {
	h := newHarness(t, "Hello world", session.Options{})
	ctx := context.Background()
	sess := h.open(t, "u1")

	commits, err := h.svc.ApplySnapshot(ctx, sess.ID, session.Submission{UserID: "u1", Sequence: 1}, "Hello brave new world")
	require.NoError(t, err)
	require.NotEmpty(t, commits)
	last := commits[len(commits)-1]
	require.Equal(t, "Hello brave new world", last.Session.CurrentContent)
	require.Equal(t, int64(len(commits)), last.Session.Sequence)

	_, err = h.svc.ApplySnapshot(ctx, sess.ID, session.Submission{UserID: "u1", Sequence: 1}, "stale")
	require.ErrorIs(t, err, session.ErrSequenceConflict)

	none, err := h.svc.ApplySnapshot(ctx, sess.ID, session.Submission{UserID: "u1", Sequence: last.Session.Sequence + 1}, "Hello brave new world")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestReplay(t *testing.T) {
	h := newHarness(t, "one two", session.Options{})
	ctx := context.Background()
	sess := h.open(t, "u1")

	h.apply(t, sess.ID, "u1", 1, ot.Insert{Position: 7, Text: " three"})
	h.apply(t, sess.ID, "u1", 2, ot.Replace{Position: 4, OldText: "two", NewText: "2"})
	h.apply(t, sess.ID, "u1", 3, ot.Delete{Position: 0, Length: 4})
	_, err := h.svc.Apply(ctx, sess.ID, session.Submission{
		UserID: "u1", Target: session.TargetTitle, Op: ot.Insert{Position: 0, Text: "My "}, Sequence: 4,
	})
	require.NoError(t, err)

	result, err := h.svc.Replay(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, result.Matches)
	require.Equal(t, "2 three", result.Content)
	require.Equal(t, "My Draft", result.Title)
	require.Equal(t, int64(4), result.Sequence)
}

func TestAttach_ReturnsRecentOperations(t *testing.T) {
	h := newHarness(t, "", session.Options{RecentOperations: 2})
	ctx := context.Background()
	sess := h.open(t, "u1")
	for i := int64(1); i <= 3; i++ {
		h.apply(t, sess.ID, "u1", i, ot.Insert{Position: 0, Text: "x"})
	}

	var snap session.Snapshot
	require.NoError(t, h.svc.Attach(ctx, sess.ID, func(s session.Snapshot) error {
		snap = s
		return nil
	}))
	require.Equal(t, "xxx", snap.Session.CurrentContent)
	require.Len(t, snap.Recent, 2)
	require.Equal(t, int64(2), snap.Recent[0].Sequence)

	ops, err := h.svc.Operations(ctx, sess.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, int64(2), ops[0].Sequence)
}

func TestCleanupExpired_Idle(t *testing.T) {
	h := newHarness(t, "abc", session.Options{})
	ctx := context.Background()
	sess := h.open(t, "u1")
	_, err := h.participants.Join(ctx, sess.ID, "u1", sess.MaxParticipants)
	require.NoError(t, err)

	h.clock.Advance(30 * time.Minute)
	n, err := h.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	h.clock.Advance(31 * time.Minute)
	n, err = h.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 0, h.svc.Live())

	current, err := h.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatusInactive, current.Status)

	events := h.notes.Events()
	require.Equal(t, "idle", events[len(events)-1].Reason)

	list, err := h.participants.List(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, participant.StatusInactive, list[0].Status)

	// An edit wakes the session up.
	commit := h.apply(t, sess.ID, "u1", 1, ot.Insert{Position: 0, Text: "x"})
	require.Equal(t, session.StatusActive, commit.Session.Status)
}

func TestCleanupExpired_PastExpiry(t *testing.T) {
	h := newHarness(t, "abc", session.Options{TTL: time.Minute})
	ctx := context.Background()
	sess := h.open(t, "u1")
	_, err := h.svc.Lock(ctx, sess.ID, "u1")
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	n, err := h.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	current, err := h.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatusInactive, current.Status)
	require.Nil(t, current.LockOwner)

	events := h.notes.Events()
	require.Equal(t, "expired", events[len(events)-1].Reason)

	reopened := h.open(t, "u2")
	require.Equal(t, sess.ID, reopened.ID)
	require.Equal(t, session.StatusActive, reopened.Status)
	require.Equal(t, "rejoined", h.notes.Events()[len(h.notes.Events())-1].Reason)
}

func TestRunSweeper_StopsWithContext(t *testing.T) {
	h := newHarness(t, "abc", session.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.svc.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

// A session of two admits two editors and refuses a third.
func TestParticipants_Capacity(t *testing.T) {
	h := newHarness(t, "abc", session.Options{MaxParticipants: 2})
	ctx := context.Background()
	sess := h.open(t, "u1")

	_, err := h.participants.Join(ctx, sess.ID, "u1", sess.MaxParticipants)
	require.NoError(t, err)
	_, err = h.participants.Join(ctx, sess.ID, "u2", sess.MaxParticipants)
	require.NoError(t, err)
	_, err = h.participants.Join(ctx, sess.ID, "u3", sess.MaxParticipants)
	require.ErrorIs(t, err, participant.ErrCapacityExceeded)

	list, err := h.participants.List(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func (h *harness) admit(ctx context.Context, userID string) func(session.Session) error {
	return func(sess session.Session) error {
		_, err := h.participants.Join(ctx, sess.ID, userID, sess.MaxParticipants)
		return err
	}
}

func TestJoin_CapacityRefusalLeavesSessionUntouched(t *testing.T) {
	h := newHarness(t, "abc", session.Options{MaxParticipants: 2})
	ctx := context.Background()

	sess, err := h.svc.Join(ctx, "a1", "u1", h.admit(ctx, "u1"))
	require.NoError(t, err)
	_, err = h.svc.Join(ctx, "a1", "u2", h.admit(ctx, "u2"))
	require.NoError(t, err)

	h.clock.Advance(2 * time.Hour)
	n, err := h.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	before, err := h.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatusInactive, before.Status)
	events := len(h.notes.Events())

	require.NoError(t, h.articles.GrantEditor(ctx, "a1", "u3"))
	_, err = h.svc.Join(ctx, "a1", "u3", h.admit(ctx, "u3"))
	require.ErrorIs(t, err, participant.ErrCapacityExceeded)

	after, err := h.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatusInactive, after.Status)
	require.Equal(t, before.ExpiresAt, after.ExpiresAt)
	require.Equal(t, before.LastActivity, after.LastActivity)
	require.Len(t, h.notes.Events(), events)

	list, err := h.participants.List(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestJoin_AdmittedEditorReactivates(t *testing.T) {
	h := newHarness(t, "abc", session.Options{})
	ctx := context.Background()
	sess := h.open(t, "u1")

	h.clock.Advance(2 * time.Hour)
	_, err := h.svc.CleanupExpired(ctx)
	require.NoError(t, err)

	var admitted session.Session
	joined, err := h.svc.Join(ctx, "a1", "u2", func(s session.Session) error {
		admitted = s
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, sess.ID, joined.ID)
	require.Equal(t, session.StatusInactive, admitted.Status)
	require.Equal(t, session.StatusActive, joined.Status)
}

// Presence lapses after five idle minutes and ends at once on
// disconnect.
func TestParticipants_Presence(t *testing.T) {
	h := newHarness(t, "abc", session.Options{})
	ctx := context.Background()
	sess := h.open(t, "u1")

	_, err := h.participants.Join(ctx, sess.ID, "u1", sess.MaxParticipants)
	require.NoError(t, err)
	_, err = h.participants.Join(ctx, sess.ID, "u2", sess.MaxParticipants)
	require.NoError(t, err)

	h.clock.Advance(6 * time.Minute)
	_, err = h.participants.Touch(ctx, sess.ID, "u2")
	require.NoError(t, err)

	active, err := h.participants.Active(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "u2", active[0].UserID)

	p, err := h.participants.Disconnect(ctx, sess.ID, "u2")
	require.NoError(t, err)
	require.Equal(t, participant.StatusDisconnected, p.Status)
	require.False(t, p.IsActive(h.clock.Now()))

	list, err := h.participants.List(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestRejectReason(t *testing.T) {
	require.Equal(t, "sequence_conflict", session.RejectReason(&session.SequenceConflictError{Expected: 2, Submitted: 1}))
	require.Equal(t, "validation", session.RejectReason(ot.ErrOutOfRange))
	require.Equal(t, "session_locked", session.RejectReason(session.ErrSessionLocked))
	require.Equal(t, "persistence", session.RejectReason(session.ErrPersistence))
}

func errNotFound() error {
	return repository.ErrNotFound
}

// timings captures the durations reported for applied operations.
type timings struct {
	mu      sync.Mutex
	applied []time.Duration
}

func (m *timings) OperationApplied(_ string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, elapsed)
}

func (m *timings) OperationRejected(string) {}
func (m *timings) SessionOpened()           {}
func (m *timings) SessionEnded(string)      {}
func (m *timings) SetLiveSessions(int)      {}

func (m *timings) Applied() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.applied...)
}

func TestUndoAndSnapshot_ReportApplyDuration(t *testing.T) {
	h := newHarness(t, "abc", session.Options{})
	ctx := context.Background()
	m := &timings{}
	svc := session.NewService(session.Config{
		Sessions:   sqlite.NewSessionRepository(h.db),
		Operations: sqlite.NewOperationRepository(h.db),
		Articles:   h.articles,
		Metrics:    m,
	})

	sess, err := svc.Open(ctx, "a1", "u1")
	require.NoError(t, err)
	_, err = svc.Apply(ctx, sess.ID, session.Submission{UserID: "u1", Op: ot.Insert{Position: 3, Text: "d"}, Sequence: 1})
	require.NoError(t, err)
	_, err = svc.Undo(ctx, sess.ID, session.Submission{UserID: "u1"})
	require.NoError(t, err)
	commits, err := svc.ApplySnapshot(ctx, sess.ID, session.Submission{UserID: "u1", Sequence: 3}, "xabc")
	require.NoError(t, err)
	require.NotEmpty(t, commits)

	applied := m.Applied()
	require.Len(t, applied, 2+len(commits))
	for _, d := range applied {
		require.Positive(t, d)
	}
}
