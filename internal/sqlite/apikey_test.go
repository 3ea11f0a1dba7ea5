package sqlite

import (
	"context"
	"database/sql"
	"testing"

	"github.com/rpggio/inkwell/internal/repository"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyRepository(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewAPIKeyRepository(db)

	require.NoError(t, repo.Create(ctx, "secret", "u1", "laptop"))
	require.ErrorIs(t, repo.Create(ctx, "secret", "u2", ""), repository.ErrConflict)

	userID, err := repo.ResolveUser(ctx, "secret")
	require.NoError(t, err)
	require.Equal(t, "u1", userID)

	var lastUsed sql.NullString
	require.NoError(t, db.QueryRow(`SELECT last_used FROM api_keys WHERE key_hash = ?`, HashToken("secret")).Scan(&lastUsed))
	require.True(t, lastUsed.Valid)

	_, err = repo.ResolveUser(ctx, "wrong")
	require.ErrorIs(t, err, repository.ErrNotFound)
}
