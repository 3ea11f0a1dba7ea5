package participant

import "time"

// Status is the connection state of a participant.
type Status string

const (
	StatusActive       Status = "active"
	StatusInactive     Status = "inactive"
	StatusDisconnected Status = "disconnected"
)

// ActivityWindow is how recently a participant must have acted to count as
// present.
const ActivityWindow = 5 * time.Minute

// Participant is one editor's presence in a session.
type Participant struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	CursorPosition int       `json:"cursor_position"`
	SelectionStart int       `json:"selection_start"`
	SelectionEnd   int       `json:"selection_end"`
	Status         Status    `json:"status"`
	Color          string    `json:"color"`
	JoinedAt       time.Time `json:"joined_at"`
	LastActivity   time.Time `json:"last_activity"`
}

// IsActive reports whether the participant is connected and acted within the
// activity window.
func (p Participant) IsActive(now time.Time) bool {
	return p.Status == StatusActive && now.Sub(p.LastActivity) < ActivityWindow
}

// Cursor is a caret position plus an optional selection.
type Cursor struct {
	Position       int `json:"cursor_position"`
	SelectionStart int `json:"selection_start"`
	SelectionEnd   int `json:"selection_end"`
}

var palette = []string{
	"#E6194B", "#3CB44B", "#4363D8", "#F58231", "#911EB4",
	"#42D4F4", "#F032E6", "#BFEF45", "#469990", "#9A6324",
}

// colorFor picks a display color for the nth participant of a session.
func colorFor(n int) string {
	return palette[n%len(palette)]
}
