package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection
type DB struct {
	*sql.DB
}

// New creates a new SQLite database connection
func New(dataSourceName string) (*DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer. A single connection also keeps every caller
	// on the same :memory: database.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &DB{db}, nil
}

// RunMigrations creates the schema if it does not exist yet.
func (db *DB) RunMigrations() error {
	migration := `
-- Articles owned by the built-in article store
CREATE TABLE IF NOT EXISTS articles (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    version_id TEXT,
    author_id TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS article_versions (
    id TEXT PRIMARY KEY,
    article_id TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    session_id TEXT,
    created_by TEXT NOT NULL,
    note TEXT,
    sequence INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (article_id) REFERENCES articles(id)
);
CREATE INDEX IF NOT EXISTS idx_article_versions ON article_versions(article_id, created_at);

-- Users allowed to edit an article besides its author
CREATE TABLE IF NOT EXISTS article_editors (
    article_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    PRIMARY KEY (article_id, user_id),
    FOREIGN KEY (article_id) REFERENCES articles(id)
);

-- Editing sessions. article_id is not a foreign key: articles may live in
-- an external store.
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    article_id TEXT NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('active', 'locked', 'inactive', 'completed')),
    base_title TEXT NOT NULL,
    base_content TEXT NOT NULL,
    base_version TEXT,
    current_title TEXT NOT NULL,
    current_content TEXT NOT NULL,
    operation_sequence INTEGER NOT NULL DEFAULT 0,
    max_participants INTEGER NOT NULL,
    lock_owner TEXT,
    created_by TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    last_activity TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    expires_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    saved_version TEXT
);
CREATE INDEX IF NOT EXISTS idx_article_sessions ON sessions(article_id);
CREATE INDEX IF NOT EXISTS idx_session_status ON sessions(status);

-- Append-only operation log
CREATE TABLE IF NOT EXISTS session_operations (
    session_id TEXT NOT NULL,
    sequence INTEGER NOT NULL,
    target TEXT NOT NULL CHECK(target IN ('content', 'title')),
    operation TEXT NOT NULL,
    inverse TEXT,
    user_id TEXT NOT NULL,
    client_id TEXT,
    base_sequence INTEGER NOT NULL,
    undoes INTEGER,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (session_id, sequence),
    FOREIGN KEY (session_id) REFERENCES sessions(id)
);
CREATE INDEX IF NOT EXISTS idx_operation_user ON session_operations(session_id, user_id, target);

CREATE TABLE IF NOT EXISTS session_participants (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    cursor_position INTEGER NOT NULL DEFAULT 0,
    selection_start INTEGER NOT NULL DEFAULT 0,
    selection_end INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL CHECK(status IN ('active', 'inactive', 'disconnected')),
    color TEXT NOT NULL,
    joined_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    last_activity TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (session_id, user_id),
    FOREIGN KEY (session_id) REFERENCES sessions(id)
);

-- Activity log
CREATE TABLE IF NOT EXISTS activity_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    article_id TEXT NOT NULL,
    user_id TEXT,
    activity_type TEXT NOT NULL,
    summary TEXT NOT NULL,
    details TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    sequence INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_session_activity ON activity_log(session_id);
CREATE INDEX IF NOT EXISTS idx_article_activity ON activity_log(article_id);
CREATE INDEX IF NOT EXISTS idx_created_at ON activity_log(created_at);

-- API keys for authentication
CREATE TABLE IF NOT EXISTS api_keys (
    key_hash TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    last_used TIMESTAMP,
    description TEXT
);
CREATE INDEX IF NOT EXISTS idx_user_keys ON api_keys(user_id);
`

	_, err := db.Exec(migration)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
