package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/inkwell/internal/domain/article"
	"github.com/rpggio/inkwell/internal/repository"
)

// ArticleStore implements article.Store on the local database
type ArticleStore struct {
	db *DB
}

// NewArticleStore creates a new ArticleStore
func NewArticleStore(db *DB) *ArticleStore {
	return &ArticleStore{db: db}
}

// CreateArticle inserts an article and records its first version
func (s *ArticleStore) CreateArticle(ctx context.Context, a *article.Article) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	versionID := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO articles (id, title, content, version_id, author_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Title, a.Content, versionID, a.AuthorID, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to create article: %w", err)
	}
	if err := insertVersion(ctx, tx, versionID, a.ID, a.Title, a.Content, article.VersionMeta{UserID: a.AuthorID}, a.UpdatedAt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit article: %w", err)
	}
	a.VersionID = versionID
	return nil
}

// GetArticle returns an article by ID
func (s *ArticleStore) GetArticle(ctx context.Context, id string) (*article.Article, error) {
	var a article.Article
	var versionID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, version_id, author_id, updated_at
		FROM articles WHERE id = ?`, id,
	).Scan(&a.ID, &a.Title, &a.Content, &versionID, &a.AuthorID, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	a.VersionID = versionID.String
	return &a, nil
}

// SaveArticle overwrites an article and records the new version
func (s *ArticleStore) SaveArticle(ctx context.Context, id, title, content string, meta article.VersionMeta) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	versionID := uuid.NewString()
	result, err := tx.ExecContext(ctx, `
		UPDATE articles SET title = ?, content = ?, version_id = ?, updated_at = ?
		WHERE id = ?`,
		title, content, versionID, now, id,
	)
	if err != nil {
		return "", fmt.Errorf("failed to save article: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return "", repository.ErrNotFound
	}

	if err := insertVersion(ctx, tx, versionID, id, title, content, meta, now); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit article: %w", err)
	}
	return versionID, nil
}

// CanEdit reports whether userID authored the article or was granted edit
// rights on it.
func (s *ArticleStore) CanEdit(ctx context.Context, articleID, userID string) (bool, error) {
	var allowed int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM articles WHERE id = ? AND author_id = ?)
		    OR EXISTS (SELECT 1 FROM article_editors WHERE article_id = ? AND user_id = ?)`,
		articleID, userID, articleID, userID,
	).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("failed to check edit permission: %w", err)
	}
	return allowed == 1, nil
}

// GrantEditor lets userID edit the article
func (s *ArticleStore) GrantEditor(ctx context.Context, articleID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO article_editors (article_id, user_id) VALUES (?, ?)`,
		articleID, userID,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return repository.ErrForeignKeyViolation
		}
		return fmt.Errorf("failed to grant editor: %w", err)
	}
	return nil
}

// ListVersions returns an article's versions, newest first
func (s *ArticleStore) ListVersions(ctx context.Context, articleID string) ([]article.Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, article_id, title, content, content_hash, session_id,
		       created_by, note, sequence, created_at
		FROM article_versions
		WHERE article_id = ?
		ORDER BY created_at DESC, rowid DESC`, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []article.Version
	for rows.Next() {
		var v article.Version
		var sessionID, note sql.NullString
		if err := rows.Scan(&v.ID, &v.ArticleID, &v.Title, &v.Content, &v.ContentHash,
			&sessionID, &v.CreatedBy, &note, &v.Sequence, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		v.SessionID = sessionID.String
		v.Note = note.String
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}
	return versions, nil
}

func insertVersion(ctx context.Context, db execer, versionID, articleID, title, content string, meta article.VersionMeta, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO article_versions (
			id, article_id, title, content, content_hash, session_id,
			created_by, note, sequence, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		versionID,
		articleID,
		title,
		content,
		article.ContentHash(content),
		nullString(meta.SessionID),
		meta.UserID,
		nullString(meta.Note),
		meta.Sequence,
		at,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return repository.ErrForeignKeyViolation
		}
		return fmt.Errorf("failed to record version: %w", err)
	}
	return nil
}
