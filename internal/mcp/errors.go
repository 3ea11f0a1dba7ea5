package mcp

import (
	"errors"
	"fmt"

	"github.com/rpggio/inkwell/internal/domain/article"
	"github.com/rpggio/inkwell/internal/domain/participant"
	"github.com/rpggio/inkwell/internal/domain/session"
)

// APIError represents an MCP error response.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MapError maps domain errors to MCP error codes. It returns nil for errors
// with no stable code.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}
	var conflict *session.SequenceConflictError
	switch {
	case errors.As(err, &conflict):
		return &APIError{
			Code:         "SEQUENCE_CONFLICT",
			Message:      "operation submitted against a stale sequence",
			Details:      map[string]int64{"expected_sequence": conflict.Expected},
			RecoveryHint: "Rebase on the latest sequence and resubmit",
		}
	case errors.Is(err, session.ErrSessionNotFound):
		return &APIError{Code: "SESSION_NOT_FOUND", Message: "session not found", RecoveryHint: "Call list_sessions to find a session id"}
	case errors.Is(err, session.ErrSessionCompleted):
		return &APIError{Code: "SESSION_COMPLETED", Message: "session already saved", RecoveryHint: "Open a new session on the article"}
	case errors.Is(err, session.ErrSessionLocked):
		return &APIError{Code: "SESSION_LOCKED", Message: "session locked by another user", RecoveryHint: "Wait for the lock owner to unlock"}
	case errors.Is(err, session.ErrNotLockOwner):
		return &APIError{Code: "NOT_LOCK_OWNER", Message: "only the lock owner can unlock", RecoveryHint: "Ask the lock owner to unlock"}
	case errors.Is(err, session.ErrPermissionDenied):
		return &APIError{Code: "PERMISSION_DENIED", Message: "user may not edit the article", RecoveryHint: "Grant the user editor rights on the article"}
	case errors.Is(err, session.ErrPersistence):
		return &APIError{Code: "PERSISTENCE", Message: err.Error(), RecoveryHint: "Retry once the store is reachable"}
	case errors.Is(err, article.ErrArticleNotFound):
		return &APIError{Code: "ARTICLE_NOT_FOUND", Message: "article not found", RecoveryHint: "Check the article id"}
	case errors.Is(err, participant.ErrParticipantNotFound):
		return &APIError{Code: "PARTICIPANT_NOT_FOUND", Message: "participant not found"}
	case errors.Is(err, session.ErrInvalidInput), errors.Is(err, participant.ErrInvalidInput):
		return &APIError{Code: "INVALID_INPUT", Message: err.Error(), RecoveryHint: "Check required arguments"}
	default:
		return nil
	}
}
