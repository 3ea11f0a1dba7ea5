package transport

import (
	"github.com/rpggio/inkwell/internal/domain/session"
	"github.com/rpggio/inkwell/internal/hub"
)

// Notifier turns session events into hub publications. The session service
// calls it while the session is held, so every connection's queue receives
// commits in sequence order.
type Notifier struct {
	hub *hub.Hub
}

// NewNotifier creates a notifier publishing to h.
func NewNotifier(h *hub.Hub) *Notifier {
	return &Notifier{hub: h}
}

// Committed broadcasts the operation to everyone but its origin and acks it
// to the origin. A commit without an origin, such as an undo, is broadcast to
// every subscriber.
func (n *Notifier) Committed(c session.Commit) {
	applied := Encode(OperationAppliedMessage{
		Type:      TypeOperationApplied,
		Operation: NewAppliedOperation(c.Entry),
	})
	n.hub.Publish(c.Session.ID, c.Origin, applied)

	if c.Origin == "" {
		return
	}
	n.hub.SendTo(c.Session.ID, c.Origin, Encode(OperationAckMessage{
		Type:           TypeOperationAck,
		SequenceNumber: c.Entry.Sequence,
		AppliedAt:      c.Entry.AppliedAt,
		ClientID:       c.Entry.ClientID,
	}))
}

// StatusChanged broadcasts lock changes and session endings.
func (n *Notifier) StatusChanged(e session.Event) {
	var msg any
	switch {
	case e.Status == session.StatusLocked:
		msg = SessionLockedMessage{Type: TypeSessionLocked, LockedBy: e.By, Timestamp: e.At}
	case e.Status == session.StatusActive && e.Previous == session.StatusLocked:
		msg = SessionUnlockedMessage{Type: TypeSessionUnlocked, UnlockedBy: e.By, Timestamp: e.At}
	case e.Status == session.StatusCompleted || e.Status == session.StatusInactive:
		msg = SessionEndedMessage{
			Type:      TypeSessionEnded,
			Status:    e.Status,
			Reason:    e.Reason,
			By:        e.By,
			Timestamp: e.At,
		}
	default:
		return
	}
	n.hub.Publish(e.SessionID, "", Encode(msg))
}
