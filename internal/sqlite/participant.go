package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rpggio/inkwell/internal/domain/participant"
	"github.com/rpggio/inkwell/internal/repository"
)

// ParticipantRepository implements participant.Repository for SQLite
type ParticipantRepository struct {
	db *DB
}

// NewParticipantRepository creates a new ParticipantRepository
func NewParticipantRepository(db *DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

const participantColumns = `
	id, session_id, user_id, cursor_position, selection_start, selection_end,
	status, color, joined_at, last_activity`

// Create inserts a participant row
func (r *ParticipantRepository) Create(ctx context.Context, p *participant.Participant) error {
	query := `INSERT INTO session_participants (` + participantColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.SessionID,
		p.UserID,
		p.CursorPosition,
		p.SelectionStart,
		p.SelectionEnd,
		p.Status,
		p.Color,
		p.JoinedAt,
		p.LastActivity,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return repository.ErrForeignKeyViolation
		}
		return fmt.Errorf("failed to create participant: %w", err)
	}
	return nil
}

// Get returns the participant row of a user in a session
func (r *ParticipantRepository) Get(ctx context.Context, sessionID, userID string) (*participant.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM session_participants
		WHERE session_id = ? AND user_id = ?`

	p, err := scanParticipant(r.db.QueryRowContext(ctx, query, sessionID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

// Update stores cursor, status and activity of a participant
func (r *ParticipantRepository) Update(ctx context.Context, p *participant.Participant) error {
	query := `
		UPDATE session_participants
		SET cursor_position = ?, selection_start = ?, selection_end = ?,
		    status = ?, color = ?, last_activity = ?
		WHERE session_id = ? AND user_id = ?`

	result, err := r.db.ExecContext(ctx, query,
		p.CursorPosition,
		p.SelectionStart,
		p.SelectionEnd,
		p.Status,
		p.Color,
		p.LastActivity,
		p.SessionID,
		p.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListBySession returns every participant of a session in join order
func (r *ParticipantRepository) ListBySession(ctx context.Context, sessionID string) ([]participant.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM session_participants
		WHERE session_id = ?
		ORDER BY joined_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	participants := []participant.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}
	return participants, nil
}

// MarkInactive demotes the active participants of a session
func (r *ParticipantRepository) MarkInactive(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE session_participants SET status = 'inactive' WHERE session_id = ? AND status = 'active'`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark participants inactive: %w", err)
	}
	return nil
}

func scanParticipant(row rowScanner) (*participant.Participant, error) {
	var p participant.Participant
	err := row.Scan(
		&p.ID,
		&p.SessionID,
		&p.UserID,
		&p.CursorPosition,
		&p.SelectionStart,
		&p.SelectionEnd,
		&p.Status,
		&p.Color,
		&p.JoinedAt,
		&p.LastActivity,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
