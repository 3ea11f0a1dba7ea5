package activity_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rpggio/inkwell/internal/domain/activity"
	"github.com/rpggio/inkwell/internal/repository/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestActivityService_LogAndList(t *testing.T) {
	ctx := context.Background()

	repo := &mocks.ActivityRepository{}
	entry := &activity.ActivityEntry{
		SessionID:    "sess1",
		ArticleID:    "art1",
		ActivityType: activity.TypeSessionCreated,
		Summary:      "created",
		Sequence:     0,
	}

	repo.On("Log", ctx, entry).Return(nil)
	repo.On("List", ctx, activity.ListActivityOptions{SessionID: "sess1", Limit: 50}).Return([]activity.ActivityEntry{*entry}, nil)

	svc := activity.NewService(repo, nil)
	require.NoError(t, svc.LogActivity(ctx, entry))
	require.False(t, entry.CreatedAt.IsZero())

	entries, err := svc.GetRecentActivity(ctx, activity.ListActivityOptions{SessionID: "sess1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	repo.AssertExpectations(t)
}

func TestActivityService_LogInvalid(t *testing.T) {
	svc := activity.NewService(&mocks.ActivityRepository{}, nil)
	require.ErrorIs(t, svc.LogActivity(context.Background(), nil), activity.ErrInvalidInput)
	require.ErrorIs(t, svc.LogActivity(context.Background(), &activity.ActivityEntry{SessionID: "s"}), activity.ErrInvalidInput)
}

func TestActivityService_RecordSwallowsErrors(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.ActivityRepository{}
	repo.On("Log", ctx, mock.MatchedBy(func(e *activity.ActivityEntry) bool {
		return e.ActivityType == activity.TypeSessionSaved && e.Details == `{"version_id":"v1"}`
	})).Return(errors.New("disk full"))

	svc := activity.NewService(repo, nil)
	svc.Record(ctx, activity.ActivityEntry{
		SessionID:    "sess1",
		ActivityType: activity.TypeSessionSaved,
		Summary:      "saved",
	}, map[string]string{"version_id": "v1"})
	repo.AssertExpectations(t)
}
