package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/inkwell/internal/domain/activity"
	"github.com/rpggio/inkwell/internal/domain/article"
	"github.com/rpggio/inkwell/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/rpggio/inkwell/internal/domain/session"

// Config wires a Service. Only the repositories and the article store are
// required.
type Config struct {
	Sessions   SessionRepository
	Operations OperationRepository
	Articles   article.Store
	Presence   Presence
	Activity   ActivityRecorder
	Archiver   Archiver
	// Leases, when set, restricts each article to the instance holding its
	// lease.
	Leases  Leases
	Metrics Metrics
	Logger  *slog.Logger
	Options Options
	// Now overrides the clock.
	Now func() time.Time
}

// Service owns the live state of every session. Mutations of one session are
// serialized through its document; different sessions proceed in parallel.
type Service struct {
	sessions   SessionRepository
	operations OperationRepository
	articles   article.Store
	presence   Presence
	activity   ActivityRecorder
	archiver   Archiver
	leases     Leases
	metrics    Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
	opts       Options
	now        func() time.Time

	notifierMu sync.RWMutex
	notifier   Notifier

	mu      sync.Mutex
	docs    map[string]*document
	opening singleflight.Group
}

// document holds the in-memory copy of one session. mu guards sess and is
// held across validate, apply, persist and fan-out.
type document struct {
	mu      sync.Mutex
	sess    Session
	evicted bool
}

// NewService creates a new session service.
func NewService(cfg Config) *Service {
	opts := cfg.Options
	defaults := DefaultOptions()
	if opts.MaxParticipants <= 0 {
		opts.MaxParticipants = defaults.MaxParticipants
	}
	if opts.TTL <= 0 {
		opts.TTL = defaults.TTL
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaults.IdleTimeout
	}
	if opts.RecentOperations <= 0 {
		opts.RecentOperations = defaults.RecentOperations
	}

	s := &Service{
		sessions:   cfg.Sessions,
		operations: cfg.Operations,
		articles:   cfg.Articles,
		presence:   cfg.Presence,
		activity:   cfg.Activity,
		archiver:   cfg.Archiver,
		leases:     cfg.Leases,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		tracer:     otel.Tracer(tracerName),
		opts:       opts,
		now:        cfg.Now,
		notifier:   nopNotifier{},
		docs:       make(map[string]*document),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.activity == nil {
		s.activity = nopActivity{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetNotifier installs the receiver of commit and status events.
func (s *Service) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifierMu.Lock()
	s.notifier = n
	s.notifierMu.Unlock()
}

func (s *Service) notify() Notifier {
	s.notifierMu.RLock()
	defer s.notifierMu.RUnlock()
	return s.notifier
}

// Options returns the lifecycle limits in effect.
func (s *Service) Options() Options {
	return s.opts
}

// Open resolves the session editors of articleID join, creating one seeded
// from the stored article when none is open. Concurrent opens of the same
// article share one resolution. An inactive session is reactivated.
func (s *Service) Open(ctx context.Context, articleID, userID string) (*Session, error) {
	return s.Join(ctx, articleID, userID, nil)
}

// Join is Open with an admission step. admit runs while the session is held,
// before an inactive session is reactivated; when it fails the session is
// left as it was and Join returns admit's error. A session completed between
// resolution and admission yields ErrSessionCompleted.
func (s *Service) Join(ctx context.Context, articleID, userID string, admit func(Session) error) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.Open", trace.WithAttributes(
		attribute.String("article.id", articleID),
	))
	defer span.End()

	sess, err := s.join(ctx, articleID, userID, admit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", sess.ID))
	return sess, nil
}

func (s *Service) join(ctx context.Context, articleID, userID string, admit func(Session) error) (*Session, error) {
	if articleID == "" || userID == "" {
		return nil, ErrInvalidInput
	}

	allowed, err := s.articles.CanEdit(ctx, articleID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: checking permission: %w", ErrPersistence, err)
	}
	if !allowed {
		return nil, ErrPermissionDenied
	}

	v, err, _ := s.opening.Do(articleID, func() (any, error) {
		return s.resolve(ctx, articleID, userID)
	})
	if err != nil {
		return nil, err
	}

	doc, err := s.acquire(ctx, v.(string))
	if err != nil {
		return nil, err
	}
	defer doc.mu.Unlock()

	if doc.sess.Status == StatusCompleted {
		return nil, ErrSessionCompleted
	}
	if admit != nil {
		if err := admit(doc.sess); err != nil {
			return nil, err
		}
	}
	if doc.sess.Status == StatusInactive {
		if err := s.reactivateLocked(ctx, doc, userID); err != nil {
			return nil, err
		}
	}
	sess := doc.sess
	return &sess, nil
}

// resolve returns the id of the open session of articleID, creating it if
// there is none.
func (s *Service) resolve(ctx context.Context, articleID, userID string) (string, error) {
	fresh, err := s.claim(ctx, articleID)
	if err != nil {
		return "", err
	}

	existing, err := s.sessions.FindOpenByArticle(ctx, articleID)
	switch {
	case err == nil:
		if !fresh {
			return existing.ID, nil
		}
		// The lease was just taken over, so the article may have been saved
		// by another instance since this session was seeded.
		current, err := s.supersedeIfStale(ctx, existing.ID)
		if err != nil {
			return "", err
		}
		if current {
			return existing.ID, nil
		}
	case !errors.Is(err, repository.ErrNotFound):
		return "", fmt.Errorf("%w: finding session: %w", ErrPersistence, err)
	}

	sess, err := s.create(ctx, articleID, userID)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// claim takes or renews the lease on articleID. Without leases every article
// is hosted here and no claim is ever fresh.
func (s *Service) claim(ctx context.Context, articleID string) (bool, error) {
	if s.leases == nil {
		return false, nil
	}
	fresh, err := s.leases.Acquire(ctx, articleID)
	switch {
	case err == nil:
		return fresh, nil
	case errors.Is(err, ErrHostedElsewhere):
		return false, err
	default:
		return false, fmt.Errorf("%w: acquiring article lease: %w", ErrPersistence, err)
	}
}

func (s *Service) release(ctx context.Context, articleID string) {
	if s.leases == nil {
		return
	}
	if err := s.leases.Release(ctx, articleID); err != nil {
		s.logger.Warn("failed to release article lease", "article_id", articleID, "error", err)
	}
}

// supersedeIfStale completes sessionID when the stored article has moved
// past the version the session was seeded from. It reports whether the
// session is still current.
func (s *Service) supersedeIfStale(ctx context.Context, sessionID string) (bool, error) {
	doc, err := s.acquire(ctx, sessionID)
	if err != nil {
		return false, err
	}
	defer doc.mu.Unlock()
	if doc.sess.Status == StatusCompleted {
		return false, nil
	}

	art, err := s.articles.GetArticle(ctx, doc.sess.ArticleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, article.ErrArticleNotFound) {
			return false, article.ErrArticleNotFound
		}
		return false, fmt.Errorf("%w: loading article: %w", ErrPersistence, err)
	}
	if art.VersionID == doc.sess.BaseVersion {
		return true, nil
	}
	return false, s.supersedeLocked(ctx, doc, fmt.Sprintf("article moved to version %s", art.VersionID))
}

// supersedeLocked completes the held session without saving it.
func (s *Service) supersedeLocked(ctx context.Context, doc *document, reason string) error {
	now := s.now()
	updated := doc.sess
	previous := updated.Status
	updated.Status = StatusCompleted
	updated.LockOwner = nil
	updated.CompletedAt = &now
	if err := s.sessions.Update(ctx, &updated); err != nil {
		return fmt.Errorf("%w: superseding session: %w", ErrPersistence, err)
	}
	doc.sess = updated
	s.evict(doc)

	s.metrics.SessionEnded("superseded")
	s.logger.Warn("session superseded", "session_id", updated.ID, "article_id", updated.ArticleID, "reason", reason, "sequence", updated.Sequence)
	s.notify().StatusChanged(Event{SessionID: updated.ID, Status: StatusCompleted, Previous: previous, Reason: "superseded", At: now})
	s.activity.Record(ctx, activity.ActivityEntry{
		SessionID:    updated.ID,
		ArticleID:    updated.ArticleID,
		ActivityType: activity.TypeSessionSuperseded,
		Summary:      reason,
		Sequence:     updated.Sequence,
	}, nil)
	return nil
}

func (s *Service) create(ctx context.Context, articleID, userID string) (*Session, error) {
	art, err := s.articles.GetArticle(ctx, articleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, article.ErrArticleNotFound) {
			return nil, article.ErrArticleNotFound
		}
		return nil, fmt.Errorf("%w: loading article: %w", ErrPersistence, err)
	}

	now := s.now()
	sess := &Session{
		ID:              uuid.NewString(),
		ArticleID:       art.ID,
		Name:            art.Title,
		Status:          StatusActive,
		BaseTitle:       art.Title,
		BaseContent:     art.Content,
		BaseVersion:     art.VersionID,
		CurrentTitle:    art.Title,
		CurrentContent:  art.Content,
		MaxParticipants: s.opts.MaxParticipants,
		CreatedBy:       userID,
		CreatedAt:       now,
		LastActivity:    now,
		ExpiresAt:       now.Add(s.opts.TTL),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: creating session: %w", ErrPersistence, err)
	}

	s.metrics.SessionOpened()
	s.logger.Info("session created", "session_id", sess.ID, "article_id", articleID, "user_id", userID)
	s.activity.Record(ctx, activity.ActivityEntry{
		SessionID:    sess.ID,
		ArticleID:    articleID,
		UserID:       &userID,
		ActivityType: activity.TypeSessionCreated,
		Summary:      fmt.Sprintf("session opened on %q", art.Title),
	}, map[string]string{"base_version": art.VersionID})
	return sess, nil
}

// reactivateLocked makes the held inactive session active again.
func (s *Service) reactivateLocked(ctx context.Context, doc *document, userID string) error {
	now := s.now()
	updated := doc.sess
	updated.Status = StatusActive
	updated.LastActivity = now
	updated.ExpiresAt = now.Add(s.opts.TTL)
	if err := s.sessions.Update(ctx, &updated); err != nil {
		return fmt.Errorf("%w: reactivating session: %w", ErrPersistence, err)
	}
	doc.sess = updated
	s.notify().StatusChanged(Event{
		SessionID: updated.ID,
		Status:    StatusActive,
		Previous:  StatusInactive,
		By:        userID,
		Reason:    "rejoined",
		At:        now,
	})
	s.activity.Record(ctx, activity.ActivityEntry{
		SessionID:    updated.ID,
		ArticleID:    updated.ArticleID,
		UserID:       &userID,
		ActivityType: activity.TypeSessionReactivated,
		Summary:      "session reactivated",
		Sequence:     updated.Sequence,
	}, nil)
	return nil
}

// Get returns the current state of a session.
func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	doc, err := s.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer doc.mu.Unlock()
	sess := doc.sess
	return &sess, nil
}

// List returns stored sessions matching opts.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]Session, error) {
	sessions, err := s.sessions.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// Operations returns up to limit log entries after the given sequence.
func (s *Service) Operations(ctx context.Context, sessionID string, after int64, limit int) ([]Entry, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	entries, err := s.operations.ListSince(ctx, sessionID, after)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Attach runs fn with a snapshot of the session and its most recent
// operations while the session is held, so that no commit can interleave
// with whatever fn registers.
func (s *Service) Attach(ctx context.Context, sessionID string, fn func(Snapshot) error) error {
	doc, err := s.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer doc.mu.Unlock()

	recent, err := s.operations.ListRecent(ctx, sessionID, s.opts.RecentOperations)
	if err != nil {
		return fmt.Errorf("%w: loading recent operations: %w", ErrPersistence, err)
	}
	return fn(Snapshot{Session: doc.sess, Recent: recent})
}

// Lock gives userID exclusive edit rights until Unlock.
func (s *Service) Lock(ctx context.Context, sessionID, userID string) (*Session, error) {
	if sessionID == "" || userID == "" {
		return nil, ErrInvalidInput
	}
	doc, err := s.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer doc.mu.Unlock()

	sess := doc.sess
	switch {
	case sess.Status == StatusCompleted:
		return nil, ErrSessionCompleted
	case sess.Status == StatusLocked && sess.LockOwner != nil && *sess.LockOwner == userID:
		return &sess, nil
	case sess.Status == StatusLocked:
		return nil, ErrSessionLocked
	}

	now := s.now()
	previous := sess.Status
	sess.Status = StatusLocked
	sess.LockOwner = &userID
	sess.LastActivity = now
	if err := s.sessions.Update(ctx, &sess); err != nil {
		return nil, fmt.Errorf("%w: locking session: %w", ErrPersistence, err)
	}
	doc.sess = sess

	s.notify().StatusChanged(Event{SessionID: sessionID, Status: StatusLocked, Previous: previous, By: userID, At: now})
	s.activity.Record(ctx, activity.ActivityEntry{
		SessionID:    sessionID,
		ArticleID:    sess.ArticleID,
		UserID:       &userID,
		ActivityType: activity.TypeSessionLocked,
		Summary:      "session locked",
		Sequence:     sess.Sequence,
	}, nil)
	return &sess, nil
}

// Unlock releases a lock held by userID.
func (s *Service) Unlock(ctx context.Context, sessionID, userID string) (*Session, error) {
	if sessionID == "" || userID == "" {
		return nil, ErrInvalidInput
	}
	doc, err := s.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer doc.mu.Unlock()

	sess := doc.sess
	if sess.Status != StatusLocked {
		return &sess, nil
	}
	if sess.LockOwner == nil || *sess.LockOwner != userID {
		return nil, ErrNotLockOwner
	}

	now := s.now()
	sess.Status = StatusActive
	sess.LockOwner = nil
	sess.LastActivity = now
	if err := s.sessions.Update(ctx, &sess); err != nil {
		return nil, fmt.Errorf("%w: unlocking session: %w", ErrPersistence, err)
	}
	doc.sess = sess

	s.notify().StatusChanged(Event{SessionID: sessionID, Status: StatusActive, Previous: StatusLocked, By: userID, At: now})
	s.activity.Record(ctx, activity.ActivityEntry{
		SessionID:    sessionID,
		ArticleID:    sess.ArticleID,
		UserID:       &userID,
		ActivityType: activity.TypeSessionUnlocked,
		Summary:      "session unlocked",
		Sequence:     sess.Sequence,
	}, nil)
	return &sess, nil
}

// Save flushes the session to the article store and completes it. If the
// store fails the session stays open and the save can be retried.
func (s *Service) Save(ctx context.Context, sessionID, userID, note string) (*SaveResult, error) {
	ctx, span := s.tracer.Start(ctx, "session.Save", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	result, err := s.save(ctx, sessionID, userID, note)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.archive(ctx, result.Session)
	return result, nil
}

func (s *Service) save(ctx context.Context, sessionID, userID, note string) (*SaveResult, error) {
	if sessionID == "" || userID == "" {
		return nil, ErrInvalidInput
	}
	doc, err := s.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer doc.mu.Unlock()

	sess := doc.sess
	if err := checkWritable(&sess, userID); err != nil {
		return nil, err
	}

	allowed, err := s.articles.CanEdit(ctx, sess.ArticleID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: checking permission: %w", ErrPersistence, err)
	}
	if !allowed {
		return nil, ErrPermissionDenied
	}

	versionID, err := s.articles.SaveArticle(ctx, sess.ArticleID, sess.CurrentTitle, sess.CurrentContent, article.VersionMeta{
		SessionID: sess.ID,
		UserID:    userID,
		Sequence:  sess.Sequence,
		Note:      note,
	})
	if err != nil {
		s.logger.Error("article save failed", "session_id", sessionID, "article_id", sess.ArticleID, "error", err)
		return nil, fmt.Errorf("%w: saving article: %w", ErrPersistence, err)
	}

	now := s.now()
	previous := sess.Status
	sess.Status = StatusCompleted
	sess.LockOwner = nil
	sess.LastActivity = now
	sess.CompletedAt = &now
	sess.SavedVersion = &versionID
	if err := s.sessions.Update(ctx, &sess); err != nil {
		return nil, fmt.Errorf("%w: completing session: %w", ErrPersistence, err)
	}
	doc.sess = sess
	s.evict(doc)
	s.release(ctx, sess.ArticleID)

	s.metrics.SessionEnded("saved")
	s.logger.Info("session saved", "session_id", sessionID, "article_id", sess.ArticleID, "version_id", versionID, "sequence", sess.Sequence)
	s.notify().StatusChanged(Event{SessionID: sessionID, Status: StatusCompleted, Previous: previous, By: userID, Reason: "saved", At: now})
	s.activity.Record(ctx, activity.ActivityEntry{
		SessionID:    sessionID,
		ArticleID:    sess.ArticleID,
		UserID:       &userID,
		ActivityType: activity.TypeSessionSaved,
		Summary:      "session saved to article",
		Sequence:     sess.Sequence,
	}, map[string]string{"version_id": versionID})

	return &SaveResult{Session: sess, VersionID: versionID}, nil
}

func (s *Service) archive(ctx context.Context, sess Session) {
	if s.archiver == nil {
		return
	}
	entries, err := s.operations.ListSince(ctx, sess.ID, 0)
	if err != nil {
		s.logger.Warn("loading log for archive", "session_id", sess.ID, "error", err)
		return
	}
	if err := s.archiver.Archive(ctx, sess, entries); err != nil {
		s.logger.Warn("archiving session log", "session_id", sess.ID, "error", err)
	}
}

// Replay rebuilds a session's title and content from its base and log.
func (s *Service) Replay(ctx context.Context, sessionID string) (*ReplayResult, error) {
	doc, err := s.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess := doc.sess
	entries, err := s.operations.ListSince(ctx, sessionID, 0)
	doc.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}

	replayed := Session{CurrentTitle: sess.BaseTitle, CurrentContent: sess.BaseContent}
	for _, e := range entries {
		if e.Sequence > sess.Sequence {
			break
		}
		if err := replayed.apply(e); err != nil {
			return nil, fmt.Errorf("replaying sequence %d: %w", e.Sequence, err)
		}
		replayed.Sequence = e.Sequence
	}

	return &ReplayResult{
		Title:    replayed.CurrentTitle,
		Content:  replayed.CurrentContent,
		Sequence: replayed.Sequence,
		Matches: replayed.Sequence == sess.Sequence &&
			replayed.CurrentTitle == sess.CurrentTitle &&
			replayed.CurrentContent == sess.CurrentContent,
	}, nil
}

// acquire returns the locked document for sessionID, loading it from the
// store on first use. Completed sessions are never cached.
func (s *Service) acquire(ctx context.Context, sessionID string) (*document, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}
	for {
		s.mu.Lock()
		doc, ok := s.docs[sessionID]
		s.mu.Unlock()

		if !ok {
			sess, err := s.sessions.Get(ctx, sessionID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return nil, ErrSessionNotFound
				}
				return nil, fmt.Errorf("%w: loading session: %w", ErrPersistence, err)
			}
			if sess.Status == StatusCompleted {
				doc = &document{sess: *sess, evicted: true}
				doc.mu.Lock()
				return doc, nil
			}

			s.mu.Lock()
			if doc, ok = s.docs[sessionID]; !ok {
				doc = &document{sess: *sess}
				s.docs[sessionID] = doc
				s.metrics.SetLiveSessions(len(s.docs))
			}
			s.mu.Unlock()
		}

		doc.mu.Lock()
		if doc.evicted && doc.sess.Status != StatusCompleted {
			doc.mu.Unlock()
			continue
		}
		return doc, nil
	}
}

// evict drops a held document from memory.
func (s *Service) evict(doc *document) {
	s.mu.Lock()
	if s.docs[doc.sess.ID] == doc {
		delete(s.docs, doc.sess.ID)
	}
	s.metrics.SetLiveSessions(len(s.docs))
	s.mu.Unlock()
	doc.evicted = true
}

// Live returns the number of sessions held in memory.
func (s *Service) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func checkWritable(sess *Session, userID string) error {
	switch sess.Status {
	case StatusCompleted:
		return ErrSessionCompleted
	case StatusLocked:
		if sess.LockOwner == nil || *sess.LockOwner != userID {
			return ErrSessionLocked
		}
	}
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Committed(Commit)   {}
func (nopNotifier) StatusChanged(Event) {}

type nopMetrics struct{}

func (nopMetrics) OperationApplied(string, time.Duration) {}
func (nopMetrics) OperationRejected(string)               {}
func (nopMetrics) SessionOpened()                         {}
func (nopMetrics) SessionEnded(string)                    {}
func (nopMetrics) SetLiveSessions(int)                    {}

type nopActivity struct{}

func (nopActivity) Record(context.Context, activity.ActivityEntry, any) {}
