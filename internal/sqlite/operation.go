package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rpggio/inkwell/internal/domain/session"
	"github.com/rpggio/inkwell/internal/ot"
	"github.com/rpggio/inkwell/internal/repository"
)

// OperationRepository implements session.OperationRepository for SQLite
type OperationRepository struct {
	db *DB
}

// NewOperationRepository creates a new OperationRepository
func NewOperationRepository(db *DB) *OperationRepository {
	return &OperationRepository{db: db}
}

const operationColumns = `
	session_id, sequence, target, operation, inverse, user_id,
	client_id, base_sequence, undoes, applied_at`

// ListSince returns the entries after the given sequence, in order
func (r *OperationRepository) ListSince(ctx context.Context, sessionID string, after int64) ([]session.Entry, error) {
	query := `SELECT ` + operationColumns + ` FROM session_operations
		WHERE session_id = ? AND sequence > ?
		ORDER BY sequence ASC`
	return r.list(ctx, query, sessionID, after)
}

// ListRecent returns the last limit entries, in order
func (r *OperationRepository) ListRecent(ctx context.Context, sessionID string, limit int) ([]session.Entry, error) {
	query := `SELECT ` + operationColumns + ` FROM (
			SELECT * FROM session_operations
			WHERE session_id = ?
			ORDER BY sequence DESC
			LIMIT ?
		) ORDER BY sequence ASC`
	return r.list(ctx, query, sessionID, limit)
}

// LastUndoable returns the user's newest entry on target that is not an undo
// and has not been undone.
func (r *OperationRepository) LastUndoable(ctx context.Context, sessionID, userID string, target session.Target) (*session.Entry, error) {
	query := `SELECT ` + operationColumns + ` FROM session_operations o
		WHERE o.session_id = ? AND o.user_id = ? AND o.target = ?
		  AND o.undoes IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM session_operations u
			WHERE u.session_id = o.session_id AND u.undoes = o.sequence
		  )
		ORDER BY o.sequence DESC
		LIMIT 1`

	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, sessionID, userID, target))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find undoable operation: %w", err)
	}
	return entry, nil
}

func (r *OperationRepository) list(ctx context.Context, query string, args ...interface{}) ([]session.Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var entries []session.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return entries, nil
}

func encodeEntry(entry *session.Entry) (op string, inverse sql.NullString, err error) {
	data, err := ot.Marshal(entry.Op)
	if err != nil {
		return "", inverse, fmt.Errorf("failed to encode operation: %w", err)
	}
	if entry.Inverse != nil {
		inv, err := ot.Marshal(entry.Inverse)
		if err != nil {
			return "", inverse, fmt.Errorf("failed to encode inverse: %w", err)
		}
		inverse = sql.NullString{String: string(inv), Valid: true}
	}
	return string(data), inverse, nil
}

func scanEntry(row rowScanner) (*session.Entry, error) {
	var entry session.Entry
	var op string
	var inverse, clientID sql.NullString
	var undoes sql.NullInt64
	err := row.Scan(
		&entry.SessionID,
		&entry.Sequence,
		&entry.Target,
		&op,
		&inverse,
		&entry.UserID,
		&clientID,
		&entry.BaseSequence,
		&undoes,
		&entry.AppliedAt,
	)
	if err != nil {
		return nil, err
	}

	if entry.Op, err = ot.Unmarshal([]byte(op)); err != nil {
		return nil, fmt.Errorf("decoding operation %d: %w", entry.Sequence, err)
	}
	if inverse.Valid {
		if entry.Inverse, err = ot.Unmarshal([]byte(inverse.String)); err != nil {
			return nil, fmt.Errorf("decoding inverse %d: %w", entry.Sequence, err)
		}
	}
	entry.ClientID = clientID.String
	if undoes.Valid {
		entry.Undoes = &undoes.Int64
	}
	return &entry, nil
}
