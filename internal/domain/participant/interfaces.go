package participant

import "context"

// Repository provides persistence for participants. There is at most one
// row per (session, user).
type Repository interface {
	Create(ctx context.Context, p *Participant) error
	Get(ctx context.Context, sessionID, userID string) (*Participant, error)
	Update(ctx context.Context, p *Participant) error
	ListBySession(ctx context.Context, sessionID string) ([]Participant, error)
	// MarkInactive moves every active participant of a session to inactive.
	MarkInactive(ctx context.Context, sessionID string) error
}
