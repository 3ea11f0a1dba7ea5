package participant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/inkwell/internal/repository"
)

// Service tracks who is editing each session.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time

	// locks serializes the writes of each session so a capacity check and
	// its insert, or a read and its update, cannot interleave.
	locks sessionLocks
}

// NewService creates a new participant service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// SetClock overrides the service clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Join registers userID in a session. Joining again refreshes the existing
// row. A disconnected participant is revived if there is room.
func (s *Service) Join(ctx context.Context, sessionID, userID string, maxParticipants int) (*Participant, error) {
	if sessionID == "" || userID == "" {
		return nil, ErrInvalidInput
	}

	defer s.locks.lock(sessionID)()

	all, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}

	var existing *Participant
	present := 0
	for i := range all {
		if all[i].UserID == userID {
			existing = &all[i]
		}
		if all[i].Status != StatusDisconnected {
			present++
		}
	}

	now := s.now()
	if existing != nil && existing.Status != StatusDisconnected {
		existing.Status = StatusActive
		existing.LastActivity = now
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("refreshing participant: %w", err)
		}
		return existing, nil
	}

	if maxParticipants > 0 && present >= maxParticipants {
		return nil, ErrCapacityExceeded
	}

	if existing != nil {
		existing.Status = StatusActive
		existing.LastActivity = now
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("reviving participant: %w", err)
		}
		s.logger.Debug("participant rejoined", "session_id", sessionID, "user_id", userID)
		return existing, nil
	}

	p := &Participant{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		UserID:       userID,
		Status:       StatusActive,
		Color:        colorFor(len(all)),
		JoinedAt:     now,
		LastActivity: now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("creating participant: %w", err)
	}
	s.logger.Debug("participant joined", "session_id", sessionID, "user_id", userID)
	return p, nil
}

// UpdateCursor stores a participant's caret and selection.
func (s *Service) UpdateCursor(ctx context.Context, sessionID, userID string, c Cursor) (*Participant, error) {
	if c.Position < 0 || c.SelectionStart < 0 || c.SelectionEnd < c.SelectionStart {
		return nil, ErrInvalidInput
	}
	return s.modify(ctx, sessionID, userID, func(p *Participant) {
		p.CursorPosition = c.Position
		p.SelectionStart = c.SelectionStart
		p.SelectionEnd = c.SelectionEnd
		p.Status = StatusActive
	})
}

// Touch records activity without other changes.
func (s *Service) Touch(ctx context.Context, sessionID, userID string) (*Participant, error) {
	return s.modify(ctx, sessionID, userID, func(p *Participant) {
		p.Status = StatusActive
	})
}

// Disconnect marks a participant as gone. The row is kept.
func (s *Service) Disconnect(ctx context.Context, sessionID, userID string) (*Participant, error) {
	return s.modify(ctx, sessionID, userID, func(p *Participant) {
		p.Status = StatusDisconnected
	})
}

func (s *Service) modify(ctx context.Context, sessionID, userID string, fn func(*Participant)) (*Participant, error) {
	if sessionID == "" || userID == "" {
		return nil, ErrInvalidInput
	}
	defer s.locks.lock(sessionID)()

	p, err := s.repo.Get(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("loading participant: %w", err)
	}
	fn(p)
	p.LastActivity = s.now()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("updating participant: %w", err)
	}
	return p, nil
}

// List returns every participant row of a session, including disconnected
// ones.
func (s *Service) List(ctx context.Context, sessionID string) ([]Participant, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListBySession(ctx, sessionID)
}

// Active returns the participants that currently count as present.
func (s *Service) Active(ctx context.Context, sessionID string) ([]Participant, error) {
	all, err := s.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	active := make([]Participant, 0, len(all))
	for _, p := range all {
		if p.IsActive(now) {
			active = append(active, p)
		}
	}
	return active, nil
}

// MarkInactive demotes every active participant of a session.
func (s *Service) MarkInactive(ctx context.Context, sessionID string) error {
	defer s.locks.lock(sessionID)()

	if err := s.repo.MarkInactive(ctx, sessionID); err != nil {
		return fmt.Errorf("marking participants inactive: %w", err)
	}
	return nil
}

// sessionLocks hands out one mutex per session and forgets it once nobody
// holds or waits for it.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until sessionID is free and returns its release.
func (l *sessionLocks) lock(sessionID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sessionLock)
	}
	sl, ok := l.locks[sessionID]
	if !ok {
		sl = &sessionLock{}
		l.locks[sessionID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, sessionID)
		}
		l.mu.Unlock()
	}
}

// held returns the number of sessions with a holder or waiter.
func (l *sessionLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
