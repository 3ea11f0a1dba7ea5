package session

import (
	"encoding/json"
	"time"

	"github.com/rpggio/inkwell/internal/ot"
)

// SessionStatus represents the lifecycle status of a session
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusLocked    SessionStatus = "locked"
	StatusInactive  SessionStatus = "inactive"
	StatusCompleted SessionStatus = "completed"
)

// Target selects the article field an operation edits.
type Target string

const (
	TargetContent Target = "content"
	TargetTitle   Target = "title"
)

// Session is the live editing state of one article.
type Session struct {
	ID              string        `json:"id"`
	ArticleID       string        `json:"article_id"`
	Name            string        `json:"name"`
	Status          SessionStatus `json:"status"`
	BaseTitle       string        `json:"-"`
	BaseContent     string        `json:"-"`
	BaseVersion     string        `json:"base_version,omitempty"`
	CurrentTitle    string        `json:"current_title"`
	CurrentContent  string        `json:"current_content"`
	Sequence        int64         `json:"operation_sequence"`
	MaxParticipants int           `json:"max_participants"`
	LockOwner       *string       `json:"lock_owner,omitempty"`
	CreatedBy       string        `json:"created_by"`
	CreatedAt       time.Time     `json:"created_at"`
	LastActivity    time.Time     `json:"last_activity"`
	ExpiresAt       time.Time     `json:"expires_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	SavedVersion    *string       `json:"saved_version,omitempty"`
}

// Text returns the current text of target.
func (s *Session) Text(target Target) string {
	if target == TargetTitle {
		return s.CurrentTitle
	}
	return s.CurrentContent
}

func (s *Session) setText(target Target, text string) {
	if target == TargetTitle {
		s.CurrentTitle = text
		return
	}
	s.CurrentContent = text
}

// Open reports whether the session can still take edits.
func (s *Session) Open() bool {
	return s.Status != StatusCompleted
}

// Entry is one committed operation in a session's log.
type Entry struct {
	SessionID    string
	Sequence     int64
	Target       Target
	Op           ot.Op
	Inverse      ot.Op
	UserID       string
	ClientID     string
	BaseSequence int64
	Undoes       *int64
	AppliedAt    time.Time
}

type entryJSON struct {
	SessionID    string     `json:"session_id"`
	Sequence     int64      `json:"sequence_number"`
	Target       Target     `json:"target"`
	Operation    ot.Encoded `json:"operation"`
	UserID       string     `json:"user_id"`
	ClientID     string     `json:"client_id,omitempty"`
	BaseSequence int64      `json:"base_sequence"`
	Undoes       *int64     `json:"undoes,omitempty"`
	AppliedAt    time.Time  `json:"applied_at"`
}

// MarshalJSON renders the entry the way clients receive it.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryJSON{
		SessionID:    e.SessionID,
		Sequence:     e.Sequence,
		Target:       e.Target,
		Operation:    ot.Encode(e.Op),
		UserID:       e.UserID,
		ClientID:     e.ClientID,
		BaseSequence: e.BaseSequence,
		Undoes:       e.Undoes,
		AppliedAt:    e.AppliedAt,
	})
}

// UnmarshalJSON reads an entry written by MarshalJSON.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	op, err := ot.Decode(raw.Operation)
	if err != nil {
		return err
	}
	*e = Entry{
		SessionID:    raw.SessionID,
		Sequence:     raw.Sequence,
		Target:       raw.Target,
		Op:           op,
		UserID:       raw.UserID,
		ClientID:     raw.ClientID,
		BaseSequence: raw.BaseSequence,
		Undoes:       raw.Undoes,
		AppliedAt:    raw.AppliedAt,
	}
	return nil
}

// Submission is an operation sent by an editor.
type Submission struct {
	UserID   string
	ClientID string
	// Origin identifies the submitting connection so broadcasts can skip it.
	Origin string
	Target Target
	Op     ot.Op
	// Sequence must be exactly one past the session's sequence unless
	// BaseSequence is set.
	Sequence int64
	// BaseSequence, when set, names the sequence the editor last saw. The
	// operation is transformed over everything committed since.
	BaseSequence *int64
}

// Commit describes a committed operation.
type Commit struct {
	Session Session
	Entry   Entry
	Origin  string
}

// Event reports a status change of a session.
type Event struct {
	SessionID string
	Status    SessionStatus
	Previous  SessionStatus
	By        string
	Reason    string
	At        time.Time
}

// Snapshot is a consistent view of a session for a newly attached editor.
type Snapshot struct {
	Session Session
	Recent  []Entry
}

// SaveResult describes a completed save.
type SaveResult struct {
	Session   Session
	VersionID string
}

// ReplayResult compares the log replayed from the session's base against
// its current state.
type ReplayResult struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Sequence int64  `json:"sequence"`
	Matches  bool   `json:"matches"`
}

// ListOptions filters session listings.
type ListOptions struct {
	ArticleID string
	Statuses  []SessionStatus
	Limit     int
}

// Options tunes session lifecycle limits.
type Options struct {
	MaxParticipants  int
	TTL              time.Duration
	IdleTimeout      time.Duration
	RecentOperations int
}

// DefaultOptions returns the standard lifecycle limits.
func DefaultOptions() Options {
	return Options{
		MaxParticipants:  10,
		TTL:              24 * time.Hour,
		IdleTimeout:      time.Hour,
		RecentOperations: 50,
	}
}
