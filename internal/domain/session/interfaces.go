package session

import (
	"context"
	"time"

	"github.com/rpggio/inkwell/internal/domain/activity"
)

// SessionRepository provides persistence for sessions.
type SessionRepository interface {
	Create(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// FindOpenByArticle returns the newest session of an article that is not
	// completed.
	FindOpenByArticle(ctx context.Context, articleID string) (*Session, error)
	Update(ctx context.Context, sess *Session) error
	List(ctx context.Context, opts ListOptions) ([]Session, error)
	// Commit stores the updated session and appends entry in one
	// transaction. It returns repository.ErrConflict if the entry's sequence
	// already exists.
	Commit(ctx context.Context, sess *Session, entry *Entry) error
}

// OperationRepository reads the operation log.
type OperationRepository interface {
	// ListSince returns entries with a sequence greater than after, in order.
	ListSince(ctx context.Context, sessionID string, after int64) ([]Entry, error)
	// ListRecent returns the last limit entries, in order.
	ListRecent(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	// LastUndoable returns the user's newest entry on target that is neither
	// an undo nor already undone.
	LastUndoable(ctx context.Context, sessionID, userID string, target Target) (*Entry, error)
}

// Presence lets the sweep demote participants of expired sessions.
type Presence interface {
	MarkInactive(ctx context.Context, sessionID string) error
}

// Leases gives one server instance at a time the right to host the session
// of an article.
type Leases interface {
	// Acquire takes or renews this instance's lease on articleID. fresh
	// reports that the instance did not hold it before the call. It returns
	// ErrHostedElsewhere when another instance holds the lease.
	Acquire(ctx context.Context, articleID string) (fresh bool, err error)
	// Release gives the lease up if this instance holds it.
	Release(ctx context.Context, articleID string) error
}

// ActivityRecorder records audit events.
type ActivityRecorder interface {
	Record(ctx context.Context, entry activity.ActivityEntry, details any)
}

// Archiver stores the log of a completed session.
type Archiver interface {
	Archive(ctx context.Context, sess Session, entries []Entry) error
}

// Notifier receives session events in commit order. It is called while the
// session is held and must not block.
type Notifier interface {
	Committed(c Commit)
	StatusChanged(e Event)
}

// Metrics records session instrumentation.
type Metrics interface {
	OperationApplied(target string, elapsed time.Duration)
	OperationRejected(reason string)
	SessionOpened()
	SessionEnded(reason string)
	SetLiveSessions(n int)
}
