package repository

import (
	"context"
	"errors"
	"time"

	"sharetips/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentEventRepository struct {
	db *gorm.DB
}

func NewPaymentEventRepository(db *gorm.DB) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

// CreateIfAbsent records evt and reports whether this call inserted it. A
// redelivered confirmation hits the reference_id unique index and returns
// false.
func (r *PaymentEventRepository) CreateIfAbsent(ctx context.Context, evt *model.PaymentEvent) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reference_id"}},
			DoNothing: true,
		}).
		Create(evt)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *PaymentEventRepository) GetByReference(ctx context.Context, referenceID string) (*model.PaymentEvent, error) {
	var evt model.PaymentEvent
	err := r.db.WithContext(ctx).Where("reference_id = ?", referenceID).First(&evt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &evt, nil
}

// Finish moves a RECEIVED event to its terminal status.
func (r *PaymentEventRepository) Finish(ctx context.Context, referenceID, status, result string) error {
	return r.db.WithContext(ctx).
		Model(&model.PaymentEvent{}).
		Where("reference_id = ? AND status = ?", referenceID, model.PaymentEventStatusReceived).
		Updates(map[string]interface{}{
			"status": status,
			"result": result,
		}).Error
}

// ListStale returns events still RECEIVED that were last touched before
// `before`, oldest first.
func (r *PaymentEventRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*model.PaymentEvent, error) {
	var events []*model.PaymentEvent
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.PaymentEventStatusReceived, before).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
