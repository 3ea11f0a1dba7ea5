package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpggio/inkwell/internal/domain/activity"
)

// CleanupExpired makes sessions that are past their expiry or idle longer
// than the idle timeout inactive and drops them from memory, then renews the
// leases of the sessions still live. It returns the number of sessions it
// deactivated.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	candidates, err := s.sessions.List(ctx, ListOptions{Statuses: []SessionStatus{StatusActive, StatusLocked}})
	if err != nil {
		return 0, fmt.Errorf("%w: listing sessions: %w", ErrPersistence, err)
	}

	cleaned := 0
	for _, c := range candidates {
		if s.expiry(&c, s.now()) == "" {
			continue
		}
		ok, err := s.expire(ctx, c.ID)
		if err != nil {
			s.logger.Warn("expiring session", "session_id", c.ID, "error", err)
			continue
		}
		if ok {
			cleaned++
		}
	}
	if cleaned > 0 {
		s.logger.Info("expired sessions", "count", cleaned)
	}
	s.renewLeases(ctx)
	return cleaned, nil
}

// renewLeases extends the lease of every live session held in memory. A
// session whose lease has gone to another instance is superseded.
func (s *Service) renewLeases(ctx context.Context) {
	if s.leases == nil {
		return
	}
	s.mu.Lock()
	docs := make([]*document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	s.mu.Unlock()

	for _, doc := range docs {
		doc.mu.Lock()
		if !doc.evicted && (doc.sess.Status == StatusActive || doc.sess.Status == StatusLocked) {
			_, err := s.leases.Acquire(ctx, doc.sess.ArticleID)
			switch {
			case errors.Is(err, ErrHostedElsewhere):
				if err := s.supersedeLocked(ctx, doc, "article lease lost"); err != nil {
					s.logger.Warn("superseding session", "session_id", doc.sess.ID, "error", err)
				}
			case err != nil:
				s.logger.Warn("renewing article lease", "session_id", doc.sess.ID, "article_id", doc.sess.ArticleID, "error", err)
			}
		}
		doc.mu.Unlock()
	}
}

// expiry returns why sess should be deactivated at now, or "" if it should
// not.
func (s *Service) expiry(sess *Session, now time.Time) string {
	switch {
	case sess.Status != StatusActive && sess.Status != StatusLocked:
		return ""
	case !sess.ExpiresAt.IsZero() && !now.Before(sess.ExpiresAt):
		return "expired"
	case now.Sub(sess.LastActivity) > s.opts.IdleTimeout:
		return "idle"
	default:
		return ""
	}
}

// expire re-checks a candidate under its lock, since an edit may have landed
// after the listing.
func (s *Service) expire(ctx context.Context, sessionID string) (bool, error) {
	doc, err := s.acquire(ctx, sessionID)
	if err != nil {
		return false, err
	}
	defer doc.mu.Unlock()

	now := s.now()
	reason := s.expiry(&doc.sess, now)
	if reason == "" {
		return false, nil
	}

	updated := doc.sess
	previous := updated.Status
	updated.Status = StatusInactive
	updated.LockOwner = nil
	if err := s.sessions.Update(ctx, &updated); err != nil {
		return false, fmt.Errorf("%w: deactivating session: %w", ErrPersistence, err)
	}
	doc.sess = updated
	s.evict(doc)
	s.release(ctx, updated.ArticleID)

	s.notify().StatusChanged(Event{
		SessionID: sessionID,
		Status:    StatusInactive,
		Previous:  previous,
		Reason:    reason,
		At:        now,
	})
	if s.presence != nil {
		if err := s.presence.MarkInactive(ctx, sessionID); err != nil {
			s.logger.Warn("marking participants inactive", "session_id", sessionID, "error", err)
		}
	}
	s.metrics.SessionEnded(reason)
	s.activity.Record(ctx, activity.ActivityEntry{
		SessionID:    sessionID,
		ArticleID:    updated.ArticleID,
		ActivityType: activity.TypeSessionExpired,
		Summary:      fmt.Sprintf("session %s", reason),
		Sequence:     updated.Sequence,
	}, map[string]string{"reason": reason})
	return true, nil
}

// RunSweeper calls CleanupExpired every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx); err != nil {
				s.logger.Error("session sweep failed", "error", err)
			}
		}
	}
}
