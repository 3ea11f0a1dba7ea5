// Package postgres implements article.Store on a PostgreSQL database shared
// with the rest of the publishing system.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rpggio/inkwell/internal/domain/article"
	"github.com/rpggio/inkwell/internal/repository"
)

// Schema creates the tables ArticleStore reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS articles (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    version_id TEXT,
    author_id TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS article_versions (
    id TEXT PRIMARY KEY,
    article_id TEXT NOT NULL REFERENCES articles(id),
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    session_id TEXT,
    created_by TEXT NOT NULL,
    note TEXT,
    sequence BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_article_versions_article ON article_versions(article_id, created_at DESC);

CREATE TABLE IF NOT EXISTS article_editors (
    article_id TEXT NOT NULL REFERENCES articles(id),
    user_id TEXT NOT NULL,
    PRIMARY KEY (article_id, user_id)
);
`

// ArticleStore implements article.Store with a pgx connection pool.
type ArticleStore struct {
	pool *pgxpool.Pool
}

// Connect opens a pool for dsn and verifies it is reachable.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// NewArticleStore creates a store on pool.
func NewArticleStore(pool *pgxpool.Pool) *ArticleStore {
	return &ArticleStore{pool: pool}
}

// Migrate creates the article tables if they are missing.
func (s *ArticleStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate article schema: %w", err)
	}
	return nil
}

// CreateArticle inserts an article and its first version.
func (s *ArticleStore) CreateArticle(ctx context.Context, a *article.Article) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now()
	}
	versionID := uuid.NewString()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO articles (id, title, content, version_id, author_id, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			a.ID, a.Title, a.Content, versionID, a.AuthorID, a.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create article: %w", err)
		}
		return insertVersion(ctx, tx, versionID, a.ID, a.Title, a.Content, article.VersionMeta{UserID: a.AuthorID}, a.UpdatedAt)
	})
	if err != nil {
		return err
	}
	a.VersionID = versionID
	return nil
}

// GetArticle returns an article by ID.
func (s *ArticleStore) GetArticle(ctx context.Context, id string) (*article.Article, error) {
	var a article.Article
	var versionID *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, content, version_id, author_id, updated_at
		FROM articles WHERE id = $1`, id,
	).Scan(&a.ID, &a.Title, &a.Content, &versionID, &a.AuthorID, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	if versionID != nil {
		a.VersionID = *versionID
	}
	return &a, nil
}

// SaveArticle overwrites an article and records the new version.
func (s *ArticleStore) SaveArticle(ctx context.Context, id, title, content string, meta article.VersionMeta) (string, error) {
	now := time.Now()
	versionID := uuid.NewString()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE articles SET title = $1, content = $2, version_id = $3, updated_at = $4
			WHERE id = $5`,
			title, content, versionID, now, id,
		)
		if err != nil {
			return fmt.Errorf("failed to save article: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrNotFound
		}
		return insertVersion(ctx, tx, versionID, id, title, content, meta, now)
	})
	if err != nil {
		return "", err
	}
	return versionID, nil
}

// CanEdit reports whether userID authored the article or was granted edit
// rights on it.
func (s *ArticleStore) CanEdit(ctx context.Context, articleID, userID string) (bool, error) {
	var allowed bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM articles WHERE id = $1 AND author_id = $2)
		    OR EXISTS (SELECT 1 FROM article_editors WHERE article_id = $1 AND user_id = $2)`,
		articleID, userID,
	).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("failed to check edit permission: %w", err)
	}
	return allowed, nil
}

// GrantEditor lets userID edit the article.
func (s *ArticleStore) GrantEditor(ctx context.Context, articleID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO article_editors (article_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		articleID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to grant editor: %w", err)
	}
	return nil
}

func insertVersion(ctx context.Context, tx pgx.Tx, versionID, articleID, title, content string, meta article.VersionMeta, at time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO article_versions (
			id, article_id, title, content, content_hash, session_id,
			created_by, note, sequence, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		versionID,
		articleID,
		title,
		content,
		article.ContentHash(content),
		nullable(meta.SessionID),
		meta.UserID,
		nullable(meta.Note),
		meta.Sequence,
		at,
	)
	if err != nil {
		return fmt.Errorf("failed to record version: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
