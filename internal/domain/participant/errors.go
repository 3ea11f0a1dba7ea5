package participant

import "errors"

var (
	// ErrCapacityExceeded indicates the session already holds its maximum
	// number of participants.
	ErrCapacityExceeded = errors.New("session is full")
	// ErrParticipantNotFound indicates the user never joined the session.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrInvalidInput indicates invalid participant input.
	ErrInvalidInput = errors.New("invalid participant input")
)
