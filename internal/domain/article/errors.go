package article

import "errors"

var (
	// ErrArticleNotFound indicates the article doesn't exist.
	ErrArticleNotFound = errors.New("article not found")
)
