package job

import (
	"context"
	"errors"
	"testing"

	"sharetips/internal/model"
	"sharetips/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) SendMessage(topic, key, value string) error {
	args := m.Called(topic, key, value)
	return args.Error(0)
}

func (m *mockProducer) Close() error {
	return nil
}

func seedOutbox(t *testing.T, db *gorm.DB, key string) *model.OutboxMessage {
	t.Helper()
	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      "sharetips.notifications",
		EventType:  model.EventTicketPurchased,
		Payload:    `{"version":1}`,
		Status:     model.OutboxStatusPending,
	}
	require.NoError(t, db.Create(msg).Error)
	return msg
}

func reload(t *testing.T, db *gorm.DB, id int64) *model.OutboxMessage {
	t.Helper()
	var msg model.OutboxMessage
	require.NoError(t, db.First(&msg, id).Error)
	return &msg
}

func TestOutboxSender_MarksSentMessages(t *testing.T) {
	db := testutil.NewTestDB(t)
	first := seedOutbox(t, db, "PUR-1")
	second := seedOutbox(t, db, "PUR-2")

	producer := &mockProducer{}
	producer.On("SendMessage", "sharetips.notifications", "PUR-1", `{"version":1}`).Return(nil).Once()
	producer.On("SendMessage", "sharetips.notifications", "PUR-2", `{"version":1}`).Return(nil).Once()

	sender := NewOutboxSender(db, producer, 3)
	sent := sender.ProcessPendingMessages(context.Background())

	assert.Equal(t, 2, sent)
	producer.AssertExpectations(t)
	assert.Equal(t, model.OutboxStatusSent, reload(t, db, first.ID).Status)
	assert.Equal(t, model.OutboxStatusSent, reload(t, db, second.ID).Status)

	// nothing left to send
	assert.Zero(t, sender.ProcessPendingMessages(context.Background()))
	producer.AssertNumberOfCalls(t, "SendMessage", 2)
}

func TestOutboxSender_ParksMessageAfterMaxRetries(t *testing.T) {
	db := testutil.NewTestDB(t)
	msg := seedOutbox(t, db, "SUB-1")

	producer := &mockProducer{}
	producer.On("SendMessage", mock.Anything, "SUB-1", mock.Anything).Return(errors.New("broker down"))

	sender := NewOutboxSender(db, producer, 3)
	ctx := context.Background()

	assert.Zero(t, sender.ProcessPendingMessages(ctx))
	got := reload(t, db, msg.ID)
	assert.Equal(t, model.OutboxStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	sender.ProcessPendingMessages(ctx)
	sender.ProcessPendingMessages(ctx)
	got = reload(t, db, msg.ID)
	assert.Equal(t, model.OutboxStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)

	// parked messages are not retried
	sender.ProcessPendingMessages(ctx)
	producer.AssertNumberOfCalls(t, "SendMessage", 3)
}

func TestOutboxSender_StopEndsLoop(t *testing.T) {
	db := testutil.NewTestDB(t)
	sender := NewOutboxSender(db, &mockProducer{}, 3)

	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()
	sender.Stop()
	<-done
}
