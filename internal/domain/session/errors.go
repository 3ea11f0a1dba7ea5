package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound indicates the session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidInput indicates invalid session input.
	ErrInvalidInput = errors.New("invalid session input")
	// ErrSequenceConflict indicates an operation submitted against a stale
	// sequence number.
	ErrSequenceConflict = errors.New("sequence conflict")
	// ErrPermissionDenied indicates the user may not edit the article.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrPersistence indicates the store could not be read or written.
	ErrPersistence = errors.New("persistence unavailable")
	// ErrSessionCompleted indicates the session was saved and takes no more
	// edits.
	ErrSessionCompleted = errors.New("session completed")
	// ErrSessionLocked indicates another user holds the session lock.
	ErrSessionLocked = errors.New("session locked")
	// ErrNotLockOwner indicates an unlock by someone other than the owner.
	ErrNotLockOwner = errors.New("not lock owner")
	// ErrNothingToUndo indicates the user has no operation left to undo.
	ErrNothingToUndo = errors.New("nothing to undo")
	// ErrHostedElsewhere indicates another server instance holds the lease
	// on the article.
	ErrHostedElsewhere = errors.New("article hosted by another instance")
)

// SequenceConflictError carries the sequence the session expected.
type SequenceConflictError struct {
	Expected  int64
	Submitted int64
}

func (e *SequenceConflictError) Error() string {
	return fmt.Sprintf("sequence conflict: expected %d, got %d", e.Expected, e.Submitted)
}

func (e *SequenceConflictError) Is(target error) bool {
	return target == ErrSequenceConflict
}
