package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rpggio/inkwell/internal/domain/session"
	"github.com/rpggio/inkwell/internal/repository"
)

// SessionRepository implements session.SessionRepository for SQLite
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `
	id, article_id, name, status, base_title, base_content, base_version,
	current_title, current_content, operation_sequence, max_participants,
	lock_owner, created_by, created_at, last_activity, expires_at,
	completed_at, saved_version`

// Create creates a new session
func (r *SessionRepository) Create(ctx context.Context, sess *session.Session) error {
	query := `INSERT INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		sess.ID,
		sess.ArticleID,
		sess.Name,
		sess.Status,
		sess.BaseTitle,
		sess.BaseContent,
		nullString(sess.BaseVersion),
		sess.CurrentTitle,
		sess.CurrentContent,
		sess.Sequence,
		sess.MaxParticipants,
		sess.LockOwner,
		sess.CreatedBy,
		sess.CreatedAt,
		sess.LastActivity,
		sess.ExpiresAt,
		sess.CompletedAt,
		sess.SavedVersion,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`
	sess, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// FindOpenByArticle returns the newest session of an article that is not
// completed.
func (r *SessionRepository) FindOpenByArticle(ctx context.Context, articleID string) (*session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE article_id = ? AND status != 'completed'
		ORDER BY created_at DESC
		LIMIT 1`
	sess, err := scanSession(r.db.QueryRowContext(ctx, query, articleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return sess, nil
}

// Update updates the mutable fields of a session
func (r *SessionRepository) Update(ctx context.Context, sess *session.Session) error {
	return updateSession(ctx, r.db, sess, -1)
}

// List returns sessions matching opts, most recently active first
func (r *SessionRepository) List(ctx context.Context, opts session.ListOptions) ([]session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	args := []interface{}{}
	conditions := []string{}

	if opts.ArticleID != "" {
		conditions = append(conditions, "article_id = ?")
		args = append(args, opts.ArticleID)
	}
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, st := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY last_activity DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// Commit stores sess and appends entry in one transaction. The session row
// must still be at the sequence just before the entry's.
func (r *SessionRepository) Commit(ctx context.Context, sess *session.Session, entry *session.Entry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateSession(ctx, tx, sess, entry.Sequence-1); err != nil {
		return err
	}

	op, inverse, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_operations (
			session_id, sequence, target, operation, inverse,
			user_id, client_id, base_sequence, undoes, applied_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID,
		entry.Sequence,
		entry.Target,
		op,
		inverse,
		entry.UserID,
		nullString(entry.ClientID),
		entry.BaseSequence,
		entry.Undoes,
		entry.AppliedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return repository.ErrForeignKeyViolation
		}
		return fmt.Errorf("failed to append operation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit operation: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// updateSession writes sess. A non-negative expectedSequence guards the
// write against a concurrent commit.
func updateSession(ctx context.Context, db execer, sess *session.Session, expectedSequence int64) error {
	query := `
		UPDATE sessions
		SET name = ?, status = ?, current_title = ?, current_content = ?,
		    operation_sequence = ?, max_participants = ?, lock_owner = ?,
		    last_activity = ?, expires_at = ?, completed_at = ?, saved_version = ?
		WHERE id = ?`
	args := []interface{}{
		sess.Name,
		sess.Status,
		sess.CurrentTitle,
		sess.CurrentContent,
		sess.Sequence,
		sess.MaxParticipants,
		sess.LockOwner,
		sess.LastActivity,
		sess.ExpiresAt,
		sess.CompletedAt,
		sess.SavedVersion,
		sess.ID,
	}
	if expectedSequence >= 0 {
		query += " AND operation_sequence = ?"
		args = append(args, expectedSequence)
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if expectedSequence >= 0 {
			return repository.ErrConflict
		}
		return repository.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var sess session.Session
	var baseVersion, lockOwner, savedVersion sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&sess.ID,
		&sess.ArticleID,
		&sess.Name,
		&sess.Status,
		&sess.BaseTitle,
		&sess.BaseContent,
		&baseVersion,
		&sess.CurrentTitle,
		&sess.CurrentContent,
		&sess.Sequence,
		&sess.MaxParticipants,
		&lockOwner,
		&sess.CreatedBy,
		&sess.CreatedAt,
		&sess.LastActivity,
		&sess.ExpiresAt,
		&completedAt,
		&savedVersion,
	)
	if err != nil {
		return nil, err
	}

	sess.BaseVersion = baseVersion.String
	if lockOwner.Valid {
		sess.LockOwner = &lockOwner.String
	}
	if completedAt.Valid {
		sess.CompletedAt = &completedAt.Time
	}
	if savedVersion.Valid {
		sess.SavedVersion = &savedVersion.String
	}
	return &sess, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
