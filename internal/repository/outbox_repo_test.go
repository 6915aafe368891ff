package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"sharetips/internal/model"
	"sharetips/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxRepository_PendingLifecycle(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Create(ctx, nil, &model.OutboxMessage{
			MessageKey: key,
			Topic:      "sharetips.notifications",
			EventType:  model.EventTicketPurchased,
			Payload:    "{}",
			Status:     model.OutboxStatusPending,
		}))
	}

	pending, err := repo.GetPendingMessages(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].MessageKey)

	sentAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkAsSent(ctx, pending[0].ID, sentAt))
	var sent model.OutboxMessage
	require.NoError(t, db.First(&sent, pending[0].ID).Error)
	assert.Equal(t, model.OutboxStatusSent, sent.Status)
	require.NotNil(t, sent.SentAt)
	assert.True(t, sent.SentAt.Equal(sentAt))

	brokerDown := errors.New("kafka: client has run out of available brokers")

	// stale counter: another sender already moved the row
	require.NoError(t, repo.RecordFailure(ctx, pending[1].ID, 0, 2, brokerDown))
	require.NoError(t, repo.RecordFailure(ctx, pending[1].ID, 0, 2, brokerDown))
	var msg model.OutboxMessage
	require.NoError(t, db.First(&msg, pending[1].ID).Error)
	assert.Equal(t, 1, msg.RetryCount)
	assert.Equal(t, model.OutboxStatusPending, msg.Status)

	require.NoError(t, repo.RecordFailure(ctx, pending[1].ID, 1, 2, brokerDown))
	require.NoError(t, db.First(&msg, pending[1].ID).Error)
	assert.Equal(t, 2, msg.RetryCount)
	assert.Equal(t, model.OutboxStatusFailed, msg.Status)
	assert.Equal(t, brokerDown.Error(), msg.LastError)

	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c", pending[0].MessageKey)
}
