package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rpggio/inkwell/internal/domain/activity"
	"github.com/rpggio/inkwell/internal/domain/participant"
	"github.com/rpggio/inkwell/internal/domain/session"
	"github.com/rpggio/inkwell/internal/hub"
	"github.com/rpggio/inkwell/internal/ot"
)

// conn is one editor's WebSocket. The read loop handles client messages; the
// write loop drains the connection's hub subscription, which carries both
// broadcasts and direct replies so that their relative order is kept.
type conn struct {
	srv         *Server
	ws          *websocket.Conn
	id          string
	userID      string
	sessionID   string
	articleID   string
	participant participant.Participant
	sub         *hub.Subscription
	logger      *slog.Logger
}

func newConn(srv *Server, ws *websocket.Conn, sess *session.Session, p participant.Participant, logger *slog.Logger) *conn {
	return &conn{
		srv:         srv,
		ws:          ws,
		id:          uuid.NewString(),
		userID:      p.UserID,
		sessionID:   sess.ID,
		articleID:   sess.ArticleID,
		participant: p,
		logger:      logger,
	}
}

func (c *conn) run(ctx context.Context) {
	defer c.close(context.WithoutCancel(ctx))

	if err := c.attach(ctx); err != nil {
		c.logger.Error("failed to attach editor", "error", err)
		status, code := refusalStatus(err)
		_ = c.ws.WriteMessage(websocket.TextMessage, Encode(ErrorMessage{Type: TypeError, Code: code, Message: err.Error()}))
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeCodeFor(status), code), time.Now().Add(time.Second))
		return
	}

	c.srv.hub.Publish(c.sessionID, c.id, Encode(UserJoinedMessage{
		Type:          TypeUserJoined,
		UserID:        c.userID,
		ParticipantID: c.participant.ID,
		Color:         c.participant.Color,
		Timestamp:     c.participant.JoinedAt,
	}))
	c.srv.record(ctx, c.sessionID, c.articleID, c.userID, activity.TypeParticipantJoined, "editor joined")
	c.logger.Info("editor connected", "connection_id", c.id)

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(done)
	}()

	c.readLoop(ctx)
	close(done)
	wg.Wait()
}

// attach subscribes the connection and queues initial_state while the
// session is held, so no commit can fall between the snapshot and the
// subscription.
func (c *conn) attach(ctx context.Context) error {
	return c.srv.sessions.Attach(ctx, c.sessionID, func(snap session.Snapshot) error {
		participants, err := c.srv.participants.Active(ctx, c.sessionID)
		if err != nil {
			return fmt.Errorf("%w: listing participants: %w", session.ErrPersistence, err)
		}
		recent := make([]AppliedOperation, 0, len(snap.Recent))
		for _, e := range snap.Recent {
			recent = append(recent, NewAppliedOperation(e))
		}

		c.sub = c.srv.hub.Subscribe(c.sessionID, c.id)
		c.srv.hub.SendTo(c.sessionID, c.id, Encode(InitialStateMessage{
			Type:              TypeInitialState,
			Session:           NewSessionView(snap.Session),
			Participants:      participants,
			RecentOperations:  recent,
			YourParticipantID: c.participant.ID,
			YourColor:         c.participant.Color,
		}))
		return nil
	})
}

func (c *conn) close(ctx context.Context) {
	c.srv.hub.Unsubscribe(c.sub)
	_ = c.ws.Close()
	if c.srv.exit(c.sessionID, c.userID) {
		c.srv.leave(ctx, c.sessionID, c.articleID, c.participant)
	}
	c.logger.Info("editor disconnected", "connection_id", c.id)
}

func (c *conn) readLoop(ctx context.Context) {
	timeout := c.srv.opts.ReadTimeout
	c.ws.SetReadLimit(c.srv.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(timeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
		if !c.handle(ctx, data) {
			return
		}
	}
}

func (c *conn) writeLoop(done <-chan struct{}) {
	ticker := time.NewTicker(c.srv.opts.PingInterval)
	defer func() {
		ticker.Stop()
		// Unblocks the read loop when the write side fails first.
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sub.C():
			if !ok {
				// Dropped as a slow consumer or replaced.
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "send queue overflow"),
					time.Now().Add(c.srv.opts.WriteTimeout))
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.srv.opts.WriteTimeout)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// send queues msg for this connection. It reports false once the
// connection's subscription is gone.
func (c *conn) send(msg any) bool {
	return c.srv.hub.SendTo(c.sessionID, c.id, Encode(msg))
}

func (c *conn) sendError(code string, err error) bool {
	return c.send(ErrorMessage{Type: TypeError, Code: code, Message: err.Error()})
}

func (c *conn) handle(ctx context.Context, data []byte) bool {
	typ, err := ParseType(data)
	if err != nil {
		return c.sendError("invalid_message", err)
	}

	switch typ {
	case TypeOperation:
		return c.handleOperation(ctx, data)
	case TypeCursorUpdate:
		return c.handleCursor(ctx, data)
	case TypePing:
		return c.handlePing(ctx, data)
	case TypeSaveRequest:
		return c.handleSave(ctx, data)
	case TypeSessionInfoRequest, TypeSessionInfo:
		return c.handleSessionInfo(ctx)
	case TypeLockRequest:
		return c.handleLock(ctx, true)
	case TypeUnlockRequest:
		return c.handleLock(ctx, false)
	case TypeUndoRequest:
		return c.handleUndo(ctx, data)
	case TypeSnapshot:
		return c.handleSnapshot(ctx, data)
	default:
		c.logger.Warn("unknown message type", "type", typ)
		return c.sendError("unknown_type", fmt.Errorf("%w: %s", ErrUnknownType, typ))
	}
}

func (c *conn) handleOperation(ctx context.Context, data []byte) bool {
	var msg OperationMessage
	if err := Decode(data, &msg); err != nil {
		return c.send(Rejection(fmt.Errorf("%w: %v", ot.ErrInvalidOperation, err), 0, ""))
	}
	op, err := ot.Decode(msg.Operation.Encoded)
	if err != nil {
		return c.send(Rejection(err, msg.SequenceNumber, msg.ClientID))
	}

	// The ack reaches this connection through the notifier.
	_, err = c.srv.sessions.Apply(ctx, c.sessionID, session.Submission{
		UserID:       c.userID,
		ClientID:     msg.ClientID,
		Origin:       c.id,
		Target:       msg.Operation.Target,
		Op:           op,
		Sequence:     msg.SequenceNumber,
		BaseSequence: msg.BaseSequence,
	})
	if err != nil {
		c.logger.Debug("operation rejected", "sequence", msg.SequenceNumber, "error", err)
		return c.send(Rejection(err, msg.SequenceNumber, msg.ClientID))
	}
	c.touch(ctx)
	return true
}

func (c *conn) handleCursor(ctx context.Context, data []byte) bool {
	var msg CursorMessage
	if err := Decode(data, &msg); err != nil {
		return c.sendError("invalid_message", err)
	}
	p, err := c.srv.participants.UpdateCursor(ctx, c.sessionID, c.userID, participant.Cursor{
		Position:       msg.Cursor.Position,
		SelectionStart: msg.Cursor.SelectionStart,
		SelectionEnd:   msg.Cursor.SelectionEnd,
	})
	if err != nil {
		return c.sendError("invalid_cursor", err)
	}
	c.srv.hub.Publish(c.sessionID, c.id, Encode(CursorUpdatedMessage{
		Type:           TypeCursorUpdated,
		UserID:         c.userID,
		ParticipantID:  p.ID,
		CursorPosition: p.CursorPosition,
		SelectionStart: p.SelectionStart,
		SelectionEnd:   p.SelectionEnd,
	}))
	return true
}

func (c *conn) handlePing(ctx context.Context, data []byte) bool {
	var msg PingMessage
	_ = Decode(data, &msg)
	c.touch(ctx)
	return c.send(PongMessage{Type: TypePong, Timestamp: msg.Timestamp})
}

func (c *conn) handleSave(ctx context.Context, data []byte) bool {
	var msg SaveRequestMessage
	if err := Decode(data, &msg); err != nil {
		return c.sendError("invalid_message", err)
	}
	result, err := c.srv.sessions.Save(ctx, c.sessionID, c.userID, msg.Note)
	if err != nil {
		c.logger.Warn("save failed", "error", err)
		return c.send(SaveErrorMessage{Type: TypeSaveError, Reason: session.RejectReason(err), Message: err.Error()})
	}
	return c.send(SaveSuccessMessage{
		Type:           TypeSaveSuccess,
		VersionID:      result.VersionID,
		SequenceNumber: result.Session.Sequence,
		Message:        "Session saved successfully",
	})
}

func (c *conn) handleSessionInfo(ctx context.Context) bool {
	sess, err := c.srv.sessions.Get(ctx, c.sessionID)
	if err != nil {
		return c.sendError(session.RejectReason(err), err)
	}
	participants, err := c.srv.participants.Active(ctx, c.sessionID)
	if err != nil {
		return c.sendError("persistence", err)
	}
	return c.send(SessionInfoMessage{
		Type:         TypeSessionInfo,
		Session:      NewSessionView(*sess),
		Participants: participants,
	})
}

// handleLock replies only on failure; success is broadcast by the notifier.
func (c *conn) handleLock(ctx context.Context, lock bool) bool {
	var err error
	if lock {
		_, err = c.srv.sessions.Lock(ctx, c.sessionID, c.userID)
	} else {
		_, err = c.srv.sessions.Unlock(ctx, c.sessionID, c.userID)
	}
	if err != nil {
		return c.sendError(session.RejectReason(err), err)
	}
	return true
}

func (c *conn) handleUndo(ctx context.Context, data []byte) bool {
	var msg UndoRequestMessage
	if err := Decode(data, &msg); err != nil {
		return c.sendError("invalid_message", err)
	}
	// No origin: the sender does not know the inverse, so it receives the
	// broadcast like everyone else.
	_, err := c.srv.sessions.Undo(ctx, c.sessionID, session.Submission{
		UserID:   c.userID,
		ClientID: msg.ClientID,
		Target:   msg.Target,
	})
	if err != nil {
		return c.send(Rejection(err, 0, msg.ClientID))
	}
	c.touch(ctx)
	return true
}

func (c *conn) handleSnapshot(ctx context.Context, data []byte) bool {
	var msg SnapshotMessage
	if err := Decode(data, &msg); err != nil {
		return c.sendError("invalid_message", err)
	}
	_, err := c.srv.sessions.ApplySnapshot(ctx, c.sessionID, session.Submission{
		UserID:   c.userID,
		ClientID: msg.ClientID,
		Origin:   c.id,
		Target:   msg.Target,
		Sequence: msg.SequenceNumber,
	}, msg.Text)
	if err != nil {
		return c.send(Rejection(err, msg.SequenceNumber, msg.ClientID))
	}
	c.touch(ctx)
	return true
}

func (c *conn) touch(ctx context.Context) {
	if _, err := c.srv.participants.Touch(ctx, c.sessionID, c.userID); err != nil {
		c.logger.Warn("failed to touch participant", "error", err)
	}
}

func closeCodeFor(status int) int {
	if status >= 500 {
		return websocket.CloseInternalServerErr
	}
	return websocket.ClosePolicyViolation
}
