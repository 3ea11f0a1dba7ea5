package article

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Article is the persisted document a session edits.
type Article struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	VersionID string    `json:"version_id,omitempty"`
	AuthorID  string    `json:"author_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Version is an immutable snapshot written on every save.
type Version struct {
	ID          string    `json:"id"`
	ArticleID   string    `json:"article_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	SessionID   string    `json:"session_id,omitempty"`
	CreatedBy   string    `json:"created_by"`
	Note        string    `json:"note,omitempty"`
	Sequence    int64     `json:"sequence"`
	CreatedAt   time.Time `json:"created_at"`
}

// VersionMeta describes where a saved version came from.
type VersionMeta struct {
	SessionID string
	UserID    string
	Sequence  int64
	Note      string
}

// ContentHash fingerprints article content for version records.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
