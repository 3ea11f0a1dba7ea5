package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rpggio/inkwell/internal/domain/participant"
	"github.com/rpggio/inkwell/internal/domain/session"
	"github.com/rpggio/inkwell/internal/ot"
)

// Client to server message types.
const (
	TypeOperation          = "operation"
	TypeCursorUpdate       = "cursor_update"
	TypePing               = "ping"
	TypeSaveRequest        = "save_request"
	TypeSessionInfoRequest = "session_info_request"
	TypeLockRequest        = "lock_request"
	TypeUnlockRequest      = "unlock_request"
	TypeUndoRequest        = "undo_request"
	TypeSnapshot           = "snapshot"
)

// Server to client message types.
const (
	TypeInitialState      = "initial_state"
	TypeOperationAck      = "operation_ack"
	TypeOperationRejected = "operation_rejected"
	TypeOperationApplied  = "operation_applied"
	TypeUserJoined        = "user_joined"
	TypeUserLeft          = "user_left"
	TypeCursorUpdated     = "cursor_updated"
	TypeSessionLocked     = "session_locked"
	TypeSessionUnlocked   = "session_unlocked"
	TypeSessionEnded      = "session_ended"
	TypePong              = "pong"
	TypeSessionInfo       = "session_info"
	TypeSaveSuccess       = "save_success"
	TypeSaveError         = "save_error"
	TypeError             = "error"
)

// ErrUnknownType indicates a message whose type the server does not handle.
var ErrUnknownType = errors.New("unknown message type")

// Envelope is the part every message shares.
type Envelope struct {
	Type string `json:"type"`
}

// WireOperation is an operation as it travels, with its optional target.
type WireOperation struct {
	ot.Encoded
	Target session.Target `json:"target,omitempty"`
}

// OperationMessage submits one operation.
type OperationMessage struct {
	Type           string        `json:"type"`
	Operation      WireOperation `json:"operation"`
	SequenceNumber int64         `json:"sequence_number"`
	BaseSequence   *int64        `json:"base_sequence,omitempty"`
	ClientID       string        `json:"client_id"`
}

// CursorMessage reports the sender's caret and selection.
type CursorMessage struct {
	Type   string `json:"type"`
	Cursor struct {
		Position       int `json:"position"`
		SelectionStart int `json:"selection_start"`
		SelectionEnd   int `json:"selection_end"`
	} `json:"cursor"`
}

// PingMessage keeps the participant present.
type PingMessage struct {
	Type      string `json:"type"`
	Timestamp any    `json:"timestamp,omitempty"`
}

// SaveRequestMessage asks the server to flush and complete the session.
type SaveRequestMessage struct {
	Type string `json:"type"`
	Note string `json:"note,omitempty"`
}

// UndoRequestMessage asks the server to revert the sender's last operation.
type UndoRequestMessage struct {
	Type     string         `json:"type"`
	Target   session.Target `json:"target,omitempty"`
	ClientID string         `json:"client_id"`
}

// SnapshotMessage replaces the whole text of a target.
type SnapshotMessage struct {
	Type           string         `json:"type"`
	Target         session.Target `json:"target,omitempty"`
	Text           string         `json:"text"`
	SequenceNumber int64          `json:"sequence_number"`
	ClientID       string         `json:"client_id"`
}

// SessionView is the session as clients see it.
type SessionView struct {
	ID                string                `json:"id"`
	ArticleID         string                `json:"article_id"`
	Name              string                `json:"name"`
	Status            session.SessionStatus `json:"status"`
	IsLocked          bool                  `json:"is_locked"`
	LockOwner         *string               `json:"lock_owner,omitempty"`
	MaxParticipants   int                   `json:"max_participants"`
	CurrentContent    string                `json:"current_content"`
	CurrentTitle      string                `json:"current_title"`
	BaseVersion       string                `json:"base_version,omitempty"`
	OperationSequence int64                 `json:"operation_sequence"`
	CreatedAt         time.Time             `json:"created_at"`
	LastActivity      time.Time             `json:"last_activity"`
}

// NewSessionView renders sess for clients.
func NewSessionView(sess session.Session) SessionView {
	return SessionView{
		ID:                sess.ID,
		ArticleID:         sess.ArticleID,
		Name:              sess.Name,
		Status:            sess.Status,
		IsLocked:          sess.Status == session.StatusLocked,
		LockOwner:         sess.LockOwner,
		MaxParticipants:   sess.MaxParticipants,
		CurrentContent:    sess.CurrentContent,
		CurrentTitle:      sess.CurrentTitle,
		BaseVersion:       sess.BaseVersion,
		OperationSequence: sess.Sequence,
		CreatedAt:         sess.CreatedAt,
		LastActivity:      sess.LastActivity,
	}
}

// AppliedOperation is a committed operation as broadcast.
type AppliedOperation struct {
	SequenceNumber int64         `json:"sequence_number"`
	Operation      WireOperation `json:"operation"`
	UserID         string        `json:"user_id"`
	ClientID       string        `json:"client_id,omitempty"`
	Undoes         *int64        `json:"undoes,omitempty"`
	AppliedAt      time.Time     `json:"applied_at"`
}

// NewAppliedOperation renders a log entry for clients.
func NewAppliedOperation(e session.Entry) AppliedOperation {
	target := e.Target
	if target == "" {
		target = session.TargetContent
	}
	return AppliedOperation{
		SequenceNumber: e.Sequence,
		Operation:      WireOperation{Encoded: ot.Encode(e.Op), Target: target},
		UserID:         e.UserID,
		ClientID:       e.ClientID,
		Undoes:         e.Undoes,
		AppliedAt:      e.AppliedAt,
	}
}

// InitialStateMessage is sent once after the upgrade with the session and
// its recent operations.
type InitialStateMessage struct {
	Type              string                    `json:"type"`
	Session           SessionView               `json:"session"`
	Participants      []participant.Participant `json:"participants"`
	RecentOperations  []AppliedOperation        `json:"recent_operations"`
	YourParticipantID string                    `json:"your_participant_id"`
	YourColor         string                    `json:"your_color"`
}

// OperationAckMessage confirms the sender's operation was committed.
type OperationAckMessage struct {
	Type           string    `json:"type"`
	SequenceNumber int64     `json:"sequence_number"`
	AppliedAt      time.Time `json:"applied_at"`
	ClientID       string    `json:"client_id,omitempty"`
}

// OperationRejectedMessage tells the sender why an operation was refused.
type OperationRejectedMessage struct {
	Type             string `json:"type"`
	Reason           string `json:"reason"`
	Code             string `json:"code"`
	ExpectedSequence *int64 `json:"expected_sequence,omitempty"`
	SequenceNumber   int64  `json:"sequence_number,omitempty"`
	ClientID         string `json:"client_id,omitempty"`
}

// OperationAppliedMessage broadcasts a committed operation.
type OperationAppliedMessage struct {
	Type      string           `json:"type"`
	Operation AppliedOperation `json:"operation"`
}

// UserJoinedMessage announces a participant.
type UserJoinedMessage struct {
	Type          string    `json:"type"`
	UserID        string    `json:"user_id"`
	ParticipantID string    `json:"participant_id"`
	Color         string    `json:"color"`
	Timestamp     time.Time `json:"timestamp"`
}

// UserLeftMessage announces that a participant's last connection closed.
type UserLeftMessage struct {
	Type          string    `json:"type"`
	UserID        string    `json:"user_id"`
	ParticipantID string    `json:"participant_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// CursorUpdatedMessage relays another participant's cursor.
type CursorUpdatedMessage struct {
	Type           string `json:"type"`
	UserID         string `json:"user_id"`
	ParticipantID  string `json:"participant_id"`
	CursorPosition int    `json:"cursor_position"`
	SelectionStart int    `json:"selection_start"`
	SelectionEnd   int    `json:"selection_end"`
}

// SessionLockedMessage announces that one user holds the edit lock.
type SessionLockedMessage struct {
	Type      string    `json:"type"`
	LockedBy  string    `json:"locked_by"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionUnlockedMessage announces the lock was released.
type SessionUnlockedMessage struct {
	Type       string    `json:"type"`
	UnlockedBy string    `json:"unlocked_by"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionEndedMessage announces that the session stopped taking edits.
// Reason tells whether it was saved or went away otherwise.
type SessionEndedMessage struct {
	Type      string                `json:"type"`
	Status    session.SessionStatus `json:"status"`
	Reason    string                `json:"reason"`
	By        string                `json:"by,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// PongMessage answers a ping.
type PongMessage struct {
	Type      string `json:"type"`
	Timestamp any    `json:"timestamp,omitempty"`
}

// SessionInfoMessage answers a session_info_request.
type SessionInfoMessage struct {
	Type         string                    `json:"type"`
	Session      SessionView               `json:"session"`
	Participants []participant.Participant `json:"participants"`
}

// SaveSuccessMessage reports the version a save produced.
type SaveSuccessMessage struct {
	Type           string `json:"type"`
	VersionID      string `json:"version_id"`
	SequenceNumber int64  `json:"sequence_number"`
	Message        string `json:"message"`
}

// SaveErrorMessage reports a failed save. The session stays open.
type SaveErrorMessage struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// ErrorMessage reports a malformed or refused request.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseType returns the type of a raw client message.
func ParseType(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("parse error: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrUnknownType)
	}
	return env.Type, nil
}

// Decode reads data into a typed message.
func Decode(data []byte, msg any) error {
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	return nil
}

// Encode renders a server message.
func Encode(msg any) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		// Server messages are plain structs; this only fails on programmer
		// error.
		panic(fmt.Sprintf("encoding %T: %v", msg, err))
	}
	return data
}

// Rejection builds the operation_rejected message for err.
func Rejection(err error, sequence int64, clientID string) OperationRejectedMessage {
	msg := OperationRejectedMessage{
		Type:           TypeOperationRejected,
		Reason:         err.Error(),
		Code:           session.RejectReason(err),
		SequenceNumber: sequence,
		ClientID:       clientID,
	}
	var conflict *session.SequenceConflictError
	if errors.As(err, &conflict) {
		expected := conflict.Expected
		msg.ExpectedSequence = &expected
	}
	return msg
}
