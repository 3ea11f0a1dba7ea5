package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpggio/inkwell/internal/domain/activity"
	"github.com/rpggio/inkwell/internal/ot"
	"github.com/rpggio/inkwell/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Apply validates an editor's operation, applies it to the session text,
// appends it to the log and hands the commit to the notifier, all while the
// session is held.
func (s *Service) Apply(ctx context.Context, sessionID string, sub Submission) (*Commit, error) {
	ctx, span := s.tracer.Start(ctx, "session.Apply", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int64("operation.sequence", sub.Sequence),
	))
	defer span.End()

	start := time.Now()
	commit, err := s.apply(ctx, sessionID, sub)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.OperationRejected(RejectReason(err))
		s.logger.Debug("operation rejected", "session_id", sessionID, "user_id", sub.UserID, "sequence", sub.Sequence, "error", err)
		return nil, err
	}
	s.metrics.OperationApplied(string(commit.Entry.Target), time.Since(start))
	return commit, nil
}

func (s *Service) apply(ctx context.Context, sessionID string, sub Submission) (*Commit, error) {
	if sub.Op == nil || sub.UserID == "" {
		return nil, ErrInvalidInput
	}
	doc, err := s.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer doc.mu.Unlock()

	if err := checkWritable(&doc.sess, sub.UserID); err != nil {
		return nil, err
	}

	op := sub.Op
	base := doc.sess.Sequence
	rebased := false
	if sub.BaseSequence != nil {
		base = *sub.BaseSequence
		if base < 0 || base > doc.sess.Sequence {
			return nil, &SequenceConflictError{Expected: doc.sess.Sequence + 1, Submitted: base + 1}
		}
		if base < doc.sess.Sequence {
			op, err = s.rebase(ctx, sessionID, op, targetOf(sub.Target), base)
			if err != nil {
				return nil, err
			}
			rebased = true
		}
	} else if sub.Sequence != doc.sess.Sequence+1 {
		return nil, &SequenceConflictError{Expected: doc.sess.Sequence + 1, Submitted: sub.Sequence}
	}

	sub.Op = op
	return s.commitLocked(ctx, doc, sub, commitOptions{base: base, allowNoop: rebased})
}

// rebase transforms op over every entry on target committed after base.
func (s *Service) rebase(ctx context.Context, sessionID string, op ot.Op, target Target, base int64) (ot.Op, error) {
	entries, err := s.operations.ListSince(ctx, sessionID, base)
	if err != nil {
		return nil, fmt.Errorf("%w: loading operations since %d: %w", ErrPersistence, base, err)
	}
	for _, e := range entries {
		if e.Target == target {
			op = ot.Transform(op, e.Op)
		}
	}
	return op, nil
}

type commitOptions struct {
	base int64
	// allowNoop admits operations that transformation reduced to nothing.
	allowNoop bool
	undoes    *int64
}

// commitLocked applies sub.Op at the next sequence. The caller holds doc.
func (s *Service) commitLocked(ctx context.Context, doc *document, sub Submission, opts commitOptions) (*Commit, error) {
	target := targetOf(sub.Target)
	if target != TargetContent && target != TargetTitle {
		return nil, fmt.Errorf("%w: unknown target %q", ot.ErrInvalidOperation, sub.Target)
	}
	if _, ok := sub.Op.(ot.Replace); ok && target == TargetTitle {
		return nil, fmt.Errorf("%w: title accepts insert and delete only", ot.ErrInvalidOperation)
	}

	text := doc.sess.Text(target)
	if !(opts.allowNoop && ot.IsNoop(sub.Op)) {
		if err := ot.Validate(sub.Op, ot.Len(text)); err != nil {
			return nil, err
		}
	}

	op, err := ot.Resolve(sub.Op, text)
	if err != nil {
		return nil, err
	}
	inverse, err := ot.Invert(op, text)
	if err != nil {
		return nil, err
	}
	next, err := ot.Apply(op, text)
	if err != nil {
		return nil, err
	}

	now := s.now()
	updated := doc.sess
	updated.setText(target, next)
	updated.Sequence++
	updated.LastActivity = now
	if updated.Status == StatusInactive {
		updated.Status = StatusActive
		updated.ExpiresAt = now.Add(s.opts.TTL)
	}

	entry := Entry{
		SessionID:    updated.ID,
		Sequence:     updated.Sequence,
		Target:       target,
		Op:           op,
		Inverse:      inverse,
		UserID:       sub.UserID,
		ClientID:     sub.ClientID,
		BaseSequence: opts.base,
		Undoes:       opts.undoes,
		AppliedAt:    now,
	}
	if err := s.sessions.Commit(ctx, &updated, &entry); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// The stored log moved without this document; drop it so the
			// next caller reloads.
			s.evict(doc)
			return nil, &SequenceConflictError{Expected: doc.sess.Sequence + 1, Submitted: entry.Sequence}
		}
		return nil, fmt.Errorf("%w: committing operation: %w", ErrPersistence, err)
	}
	doc.sess = updated

	commit := Commit{Session: updated, Entry: entry, Origin: sub.Origin}
	s.notify().Committed(commit)
	return &commit, nil
}

// Undo reverts the user's newest operation on target that has not been
// undone yet. The inverse is transformed over everything committed after it
// and committed as a new operation.
func (s *Service) Undo(ctx context.Context, sessionID string, sub Submission) (*Commit, error) {
	if sub.UserID == "" {
		return nil, ErrInvalidInput
	}
	target := targetOf(sub.Target)
	start := time.Now()

	doc, err := s.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer doc.mu.Unlock()

	if err := checkWritable(&doc.sess, sub.UserID); err != nil {
		return nil, err
	}

	last, err := s.operations.LastUndoable(ctx, sessionID, sub.UserID, target)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNothingToUndo
		}
		return nil, fmt.Errorf("%w: finding operation to undo: %w", ErrPersistence, err)
	}
	if last.Inverse == nil {
		return nil, ErrNothingToUndo
	}

	inverse, err := s.rebase(ctx, sessionID, last.Inverse, target, last.Sequence)
	if err != nil {
		return nil, err
	}

	sub.Op = inverse
	sub.Target = target
	undoes := last.Sequence
	commit, err := s.commitLocked(ctx, doc, sub, commitOptions{
		base:      doc.sess.Sequence,
		allowNoop: true,
		undoes:    &undoes,
	})
	if err != nil {
		s.metrics.OperationRejected(RejectReason(err))
		return nil, err
	}
	s.metrics.OperationApplied(string(target), time.Since(start))
	s.activity.Record(ctx, activity.ActivityEntry{
		SessionID:    sessionID,
		ArticleID:    commit.Session.ArticleID,
		UserID:       &sub.UserID,
		ActivityType: activity.TypeOperationUndone,
		Summary:      fmt.Sprintf("undid operation %d", last.Sequence),
		Sequence:     commit.Entry.Sequence,
	}, nil)
	return commit, nil
}

// ApplySnapshot turns a full replacement text for target into the inserts
// and deletes that produce it and commits them in order, starting at
// sub.Sequence. It returns one commit per operation.
func (s *Service) ApplySnapshot(ctx context.Context, sessionID string, sub Submission, text string) ([]Commit, error) {
	if sub.UserID == "" {
		return nil, ErrInvalidInput
	}
	target := targetOf(sub.Target)
	start := time.Now()

	doc, err := s.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer doc.mu.Unlock()

	if err := checkWritable(&doc.sess, sub.UserID); err != nil {
		return nil, err
	}
	if sub.Sequence != doc.sess.Sequence+1 {
		return nil, &SequenceConflictError{Expected: doc.sess.Sequence + 1, Submitted: sub.Sequence}
	}

	var commits []Commit
	for _, op := range ot.Diff(doc.sess.Text(target), text) {
		next := sub
		next.Op = op
		next.Target = target
		commit, err := s.commitLocked(ctx, doc, next, commitOptions{base: doc.sess.Sequence})
		if err != nil {
			s.metrics.OperationRejected(RejectReason(err))
			return commits, err
		}
		// Each commit is timed from the end of the previous one.
		s.metrics.OperationApplied(string(target), time.Since(start))
		start = time.Now()
		commits = append(commits, *commit)
	}
	return commits, nil
}

// RejectReason names the error class of a rejected operation.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrSequenceConflict):
		return "sequence_conflict"
	case errors.Is(err, ot.ErrInvalidOperation):
		return "validation"
	case errors.Is(err, ErrSessionCompleted):
		return "session_completed"
	case errors.Is(err, ErrSessionLocked):
		return "session_locked"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrNothingToUndo):
		return "nothing_to_undo"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrNotLockOwner):
		return "not_lock_owner"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "invalid_input"
	}
}

func targetOf(t Target) Target {
	if t == "" {
		return TargetContent
	}
	return t
}

// apply replays a log entry onto s.
func (s *Session) apply(e Entry) error {
	target := targetOf(e.Target)
	next, err := ot.Apply(e.Op, s.Text(target))
	if err != nil {
		return err
	}
	s.setText(target, next)
	return nil
}
