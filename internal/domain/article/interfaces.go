package article

import "context"

// Store is the persistence collaborator that owns articles, their versions
// and edit permissions.
type Store interface {
	GetArticle(ctx context.Context, id string) (*Article, error)
	// SaveArticle overwrites the article's title and content and records a
	// version. It returns the new version ID.
	SaveArticle(ctx context.Context, id, title, content string, meta VersionMeta) (string, error)
	CanEdit(ctx context.Context, articleID, userID string) (bool, error)
}
