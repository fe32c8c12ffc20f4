package notifications

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quanhe-tech/tiershop-backend/internal/testutil"
	"github.com/quanhe-tech/tiershop-backend/pkg/db/models"
	"github.com/quanhe-tech/tiershop-backend/pkg/enums"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(testutil.OpenDB(t), testutil.NewLogger())
	require.NoError(t, err)
	return svc
}

func TestSendAndListUnread(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	refID := uuid.New()

	svc.Send(ctx, SendInput{
		UserID:   userID,
		Title:    "order shipped",
		Body:     "your order is on the way",
		Category: enums.NotificationCategoryOrder,
		RefID:    &refID,
	})
	svc.Send(ctx, SendInput{
		UserID:   uuid.New(),
		Title:    "someone else's",
		Category: enums.NotificationCategorySystem,
	})

	rows, err := svc.ListUnread(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "order shipped", rows[0].Title)
	assert.Equal(t, enums.NotificationCategoryOrder, rows[0].Category)
	require.NotNil(t, rows[0].RefID)
	assert.Equal(t, refID, *rows[0].RefID)
}

func TestSendDropsBlankInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.Send(ctx, SendInput{UserID: uuid.Nil, Title: "no recipient"})
	svc.Send(ctx, SendInput{UserID: uuid.New(), Title: ""})

	var n int64
	require.NoError(t, svc.db.Model(&models.Notification{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestMarkReadRemovesFromUnread(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	svc.Send(ctx, SendInput{UserID: userID, Title: "first", Category: enums.NotificationCategorySystem})
	svc.Send(ctx, SendInput{UserID: userID, Title: "second", Category: enums.NotificationCategorySystem})

	rows, err := svc.ListUnread(ctx, userID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, svc.MarkRead(ctx, userID, rows[0].ID))

	// Marking someone else's notification is a no-op.
	require.NoError(t, svc.MarkRead(ctx, uuid.New(), rows[1].ID))

	rows, err = svc.ListUnread(ctx, userID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "first", rows[0].Title)
}
