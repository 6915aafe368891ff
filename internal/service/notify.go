package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sharetips/internal/model"
	"sharetips/internal/repository"

	"gorm.io/gorm"
)

// notifier writes versioned notifications to the outbox inside the caller's
// transaction. OutboxSender publishes them after commit.
type notifier struct {
	outboxRepo *repository.OutboxRepository
	topic      string
}

func newNotifier(db *gorm.DB, topic string) *notifier {
	return &notifier{outboxRepo: repository.NewOutboxRepository(db), topic: topic}
}

func (n *notifier) write(ctx context.Context, tx *gorm.DB, key string, note model.Notification) error {
	note.Version = model.NotificationVersion
	if note.OccurredAt.IsZero() {
		note.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal %s notification: %w", note.Type, err)
	}
	return n.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: key,
		Topic:      n.topic,
		EventType:  note.Type,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}
