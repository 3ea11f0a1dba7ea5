package mocks

import (
	"context"

	"github.com/rpggio/inkwell/internal/domain/activity"
	"github.com/rpggio/inkwell/internal/domain/article"
	"github.com/rpggio/inkwell/internal/domain/participant"
	"github.com/rpggio/inkwell/internal/domain/session"
	"github.com/stretchr/testify/mock"
)

// SessionRepository is a mock for session.SessionRepository.
type SessionRepository struct {
	mock.Mock
}

func (m *SessionRepository) Create(ctx context.Context, sess *session.Session) error {
	args := m.Called(ctx, sess)
	return args.Error(0)
}

func (m *SessionRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	args := m.Called(ctx, id)
	if sess, ok := args.Get(0).(*session.Session); ok {
		return sess, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) FindOpenByArticle(ctx context.Context, articleID string) (*session.Session, error) {
	args := m.Called(ctx, articleID)
	if sess, ok := args.Get(0).(*session.Session); ok {
		return sess, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) Update(ctx context.Context, sess *session.Session) error {
	args := m.Called(ctx, sess)
	return args.Error(0)
}

func (m *SessionRepository) List(ctx context.Context, opts session.ListOptions) ([]session.Session, error) {
	args := m.Called(ctx, opts)
	if list, ok := args.Get(0).([]session.Session); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) Commit(ctx context.Context, sess *session.Session, entry *session.Entry) error {
	args := m.Called(ctx, sess, entry)
	return args.Error(0)
}

// OperationRepository is a mock for session.OperationRepository.
type OperationRepository struct {
	mock.Mock
}

func (m *OperationRepository) ListSince(ctx context.Context, sessionID string, after int64) ([]session.Entry, error) {
	args := m.Called(ctx, sessionID, after)
	if list, ok := args.Get(0).([]session.Entry); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *OperationRepository) ListRecent(ctx context.Context, sessionID string, limit int) ([]session.Entry, error) {
	args := m.Called(ctx, sessionID, limit)
	if list, ok := args.Get(0).([]session.Entry); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *OperationRepository) LastUndoable(ctx context.Context, sessionID, userID string, target session.Target) (*session.Entry, error) {
	args := m.Called(ctx, sessionID, userID, target)
	if e, ok := args.Get(0).(*session.Entry); ok {
		return e, args.Error(1)
	}
	return nil, args.Error(1)
}

// ParticipantRepository is a mock for participant.Repository.
type ParticipantRepository struct {
	mock.Mock
}

func (m *ParticipantRepository) Create(ctx context.Context, p *participant.Participant) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *ParticipantRepository) Get(ctx context.Context, sessionID, userID string) (*participant.Participant, error) {
	args := m.Called(ctx, sessionID, userID)
	if p, ok := args.Get(0).(*participant.Participant); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ParticipantRepository) Update(ctx context.Context, p *participant.Participant) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *ParticipantRepository) ListBySession(ctx context.Context, sessionID string) ([]participant.Participant, error) {
	args := m.Called(ctx, sessionID)
	if list, ok := args.Get(0).([]participant.Participant); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ParticipantRepository) MarkInactive(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

// ActivityRepository is a mock for activity.Repository.
type ActivityRepository struct {
	mock.Mock
}

func (m *ActivityRepository) Log(ctx context.Context, entry *activity.ActivityEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *ActivityRepository) List(ctx context.Context, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error) {
	args := m.Called(ctx, opts)
	if list, ok := args.Get(0).([]activity.ActivityEntry); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// ArticleStore is a mock for article.Store.
type ArticleStore struct {
	mock.Mock
}

func (m *ArticleStore) GetArticle(ctx context.Context, id string) (*article.Article, error) {
	args := m.Called(ctx, id)
	if a, ok := args.Get(0).(*article.Article); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ArticleStore) SaveArticle(ctx context.Context, id, title, content string, meta article.VersionMeta) (string, error) {
	args := m.Called(ctx, id, title, content, meta)
	return args.String(0), args.Error(1)
}

func (m *ArticleStore) CanEdit(ctx context.Context, articleID, userID string) (bool, error) {
	args := m.Called(ctx, articleID, userID)
	return args.Bool(0), args.Error(1)
}
