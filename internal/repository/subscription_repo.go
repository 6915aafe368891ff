package repository

import (
	"context"
	"errors"
	"time"

	"sharetips/internal/model"

	"gorm.io/gorm"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(sub).Error
}

// GetActive returns the active subscription of the pair or nil, nil.
func (r *SubscriptionRepository) GetActive(ctx context.Context, subscriberID, tipsterID int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Where("subscriber_id = ? AND tipster_id = ? AND status = ?",
			subscriberID, tipsterID, model.SubscriptionStatusActive).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) GetBySubscriptionNo(ctx context.Context, subscriptionNo string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Where("subscription_no = ?", subscriptionNo).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// HasAccess reports whether an active subscription of the pair runs past now.
func (r *SubscriptionRepository) HasAccess(ctx context.Context, subscriberID, tipsterID int64, now time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("subscriber_id = ? AND tipster_id = ? AND status = ? AND start_date <= ? AND end_date > ?",
			subscriberID, tipsterID, model.SubscriptionStatusActive, now, now).
		Count(&count).Error
	return count > 0, err
}

// Transition moves one subscription from `from` to `to`. The status guard in
// the WHERE clause makes concurrent transitions of the same row apply once;
// the loser sees zero rows affected.
func (r *SubscriptionRepository) Transition(ctx context.Context, tx *gorm.DB, id int64, from, to model.SubscriptionStatus, now time.Time) (bool, error) {
	if !model.CanTransitionTo(from, to) {
		return false, nil
	}
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("id = ? AND status = ?", id, from).
		Updates(transitionUpdates(to, now))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func transitionUpdates(to model.SubscriptionStatus, now time.Time) map[string]interface{} {
	updates := map[string]interface{}{
		"status":     to,
		"active_key": nil,
		"updated_at": now,
	}
	switch to {
	case model.SubscriptionStatusCancelled:
		updates["cancelled_at"] = now
	case model.SubscriptionStatusExpired:
		updates["expired_at"] = now
	}
	return updates
}

// ListDueIDs returns ids of active subscriptions whose end date has passed.
func (r *SubscriptionRepository) ListDueIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("status = ? AND end_date <= ?", model.SubscriptionStatusActive, now).
		Order("end_date ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *SubscriptionRepository) ListActiveBySubscriber(ctx context.Context, subscriberID int64) ([]*model.Subscription, error) {
	subs := []*model.Subscription{}
	err := r.db.WithContext(ctx).
		Where("subscriber_id = ? AND status = ?", subscriberID, model.SubscriptionStatusActive).
		Order("created_at DESC").
		Find(&subs).Error
	return subs, err
}

func (r *SubscriptionRepository) ListActiveByTipster(ctx context.Context, tipsterID int64) ([]*model.Subscription, error) {
	subs := []*model.Subscription{}
	err := r.db.WithContext(ctx).
		Where("tipster_id = ? AND status = ?", tipsterID, model.SubscriptionStatusActive).
		Order("created_at DESC").
		Find(&subs).Error
	return subs, err
}

// GetByPaymentRef returns the subscription paid by the gateway payment, in
// any status, or nil, nil.
func (r *SubscriptionRepository) GetByPaymentRef(ctx context.Context, paymentRef string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Where("payment_ref = ?", paymentRef).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}
