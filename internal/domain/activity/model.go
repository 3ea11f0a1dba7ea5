package activity

import "time"

// ActivityType represents the type of activity event
type ActivityType string

const (
	TypeSessionCreated     ActivityType = "session_created"
	TypeSessionReactivated ActivityType = "session_reactivated"
	TypeSessionLocked      ActivityType = "session_locked"
	TypeSessionUnlocked    ActivityType = "session_unlocked"
	TypeSessionSaved       ActivityType = "session_saved"
	TypeSessionExpired     ActivityType = "session_expired"
	TypeSessionSuperseded  ActivityType = "session_superseded"
	TypeParticipantJoined  ActivityType = "participant_joined"
	TypeParticipantLeft    ActivityType = "participant_left"
	TypeOperationUndone    ActivityType = "operation_undone"
)

// ActivityEntry represents an event in the activity log
type ActivityEntry struct {
	ID           int64        `json:"id"`
	SessionID    string       `json:"session_id"`
	ArticleID    string       `json:"article_id"`
	UserID       *string      `json:"user_id,omitempty"`
	ActivityType ActivityType `json:"type"`
	Summary      string       `json:"summary"`
	Details      string       `json:"details,omitempty"` // JSON string
	CreatedAt    time.Time    `json:"created_at"`
	Sequence     int64        `json:"sequence"`
}
