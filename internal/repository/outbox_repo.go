package repository

import (
	"context"
	"time"

	"sharetips/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(msg).Error
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) MarkAsSent(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending).
		Updates(map[string]interface{}{
			"status":  model.OutboxStatusSent,
			"sent_at": at,
		}).Error
}

// RecordFailure bumps the retry counter of a message last read with
// seenRetryCount and parks it as FAILED once it reaches maxRetry attempts. It
// is a no-op when another sender already moved the message.
func (r *OutboxRepository) RecordFailure(ctx context.Context, id int64, seenRetryCount, maxRetry int, cause error) error {
	next := seenRetryCount + 1
	status := model.OutboxStatusPending
	if next >= maxRetry {
		status = model.OutboxStatusFailed
	}
	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
		if len(lastErr) > 512 {
			lastErr = lastErr[:512]
		}
	}
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ? AND retry_count = ?", id, model.OutboxStatusPending, seenRetryCount).
		Updates(map[string]interface{}{
			"retry_count": next,
			"status":      status,
			"last_error":  lastErr,
		}).Error
}
