package service

import (
	"context"
	"time"

	"sharetips/internal/apperr"
	"sharetips/internal/config"
	"sharetips/internal/metrics"
	"sharetips/internal/model"
	"sharetips/internal/repository"
	"sharetips/pkg/clock"
	"sharetips/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type SubscriptionService struct {
	db        *gorm.DB
	ledger    *LedgerService
	subRepo   *repository.SubscriptionRepository
	userRepo  *repository.UserRepository
	notifier  *notifier
	clock     clock.Clock
	duration  time.Duration
	batchSize int
}

func NewSubscriptionService(db *gorm.DB, ledger *LedgerService, clk clock.Clock, cfg *config.Config) *SubscriptionService {
	batch := cfg.Business.ExpirySweepBatchSize
	if batch <= 0 {
		batch = 500
	}
	return &SubscriptionService{
		db:        db,
		ledger:    ledger,
		subRepo:   repository.NewSubscriptionRepository(db),
		userRepo:  repository.NewUserRepository(db),
		notifier:  newNotifier(db, cfg.Kafka.Topic.Notifications),
		clock:     clk,
		duration:  cfg.Business.SubscriptionDuration,
		batchSize: batch,
	}
}

type SubscriptionResult struct {
	Success         bool      `json:"success"`
	Reason          string    `json:"reason,omitempty"`
	SubscriptionID  int64     `json:"subscription_id,omitempty"`
	SubscriptionNo  string    `json:"subscription_no,omitempty"`
	PriceCents      int64     `json:"price_cents,omitempty"`
	CommissionCents int64     `json:"commission_cents,omitempty"`
	TipsterNetCents int64     `json:"tipster_net_cents,omitempty"`
	StartDate       time.Time `json:"start_date,omitempty"`
	EndDate         time.Time `json:"end_date,omitempty"`
}

func subscriptionResultOf(sub *model.Subscription) *SubscriptionResult {
	return &SubscriptionResult{
		Success:         true,
		SubscriptionID:  sub.ID,
		SubscriptionNo:  sub.SubscriptionNo,
		PriceCents:      sub.PriceCents,
		CommissionCents: sub.CommissionCents,
		TipsterNetCents: sub.TipsterNetCents,
		StartDate:       sub.StartDate,
		EndDate:         sub.EndDate,
	}
}

func failedSubscription(err error) (*SubscriptionResult, error) {
	metrics.RecordSubscription("rejected", 1)
	return &SubscriptionResult{Success: false, Reason: apperr.PublicMessage(err)}, err
}

// Subscribe charges priceCents and grants access to the tipster's private
// tickets for one plan period. The subscription number is the ledger
// reference id, and the row, the entries and the notification commit together.
func (s *SubscriptionService) Subscribe(ctx context.Context, subscriberID, tipsterID, priceCents int64) (*SubscriptionResult, error) {
	return s.subscribe(ctx, subscriberID, tipsterID, priceCents, "")
}

// SubscribeForPayment is Subscribe on behalf of the gateway payment
// paymentRef. A subscription that payment already paid for comes back as a
// success; one paid some other way still fails with ErrAlreadySubscribed.
func (s *SubscriptionService) SubscribeForPayment(ctx context.Context, subscriberID, tipsterID, priceCents int64, paymentRef string) (*SubscriptionResult, error) {
	prior, err := s.subRepo.GetByPaymentRef(ctx, paymentRef)
	if err != nil {
		return failedSubscription(apperr.FromStorage(err))
	}
	if prior != nil {
		return subscriptionResultOf(prior), nil
	}
	return s.subscribe(ctx, subscriberID, tipsterID, priceCents, paymentRef)
}

func (s *SubscriptionService) subscribe(ctx context.Context, subscriberID, tipsterID, priceCents int64, paymentRef string) (*SubscriptionResult, error) {
	if subscriberID == tipsterID {
		return failedSubscription(apperr.ErrSelfSubscription)
	}
	if priceCents <= 0 {
		return failedSubscription(apperr.ErrInvalidAmount)
	}

	exists, err := s.userRepo.Exists(ctx, tipsterID)
	if err != nil {
		return failedSubscription(apperr.FromStorage(err))
	}
	if !exists {
		return failedSubscription(apperr.ErrTipsterNotFound)
	}

	now := s.clock.Now()
	active, err := s.subRepo.GetActive(ctx, subscriberID, tipsterID)
	if err != nil {
		return failedSubscription(apperr.FromStorage(err))
	}
	if active != nil {
		if active.IsActiveAt(now) {
			return failedSubscription(apperr.ErrAlreadySubscribed)
		}
		// lapsed but not swept yet; expire it so the pair's active slot frees up
		if err := s.expireOne(ctx, active.ID, now); err != nil {
			return failedSubscription(apperr.FromStorage(err))
		}
	}

	commission := s.ledger.Commission(priceCents)
	sub := &model.Subscription{
		SubscriptionNo:  idgen.GenerateSubscriptionNo(),
		SubscriberID:    subscriberID,
		TipsterID:       tipsterID,
		PriceCents:      priceCents,
		CommissionCents: commission,
		TipsterNetCents: priceCents - commission,
		Status:          model.SubscriptionStatusActive,
		ActiveKey:       model.SubscriptionActiveKey(subscriberID, tipsterID),
		PaymentRef:      model.PaymentRefOf(paymentRef),
		StartDate:       now,
		EndDate:         now.Add(s.duration),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err = s.ledger.Transfer(ctx, TransferRequest{
		ReferenceID: sub.SubscriptionNo,
		PayerID:     subscriberID,
		ReceiverID:  tipsterID,
		GrossCents:  priceCents,
		Purpose:     PurposeSubscription,
		Remark:      "tipster subscription",
	}, func(tx *gorm.DB) error {
		if err := s.subRepo.Create(ctx, tx, sub); err != nil {
			return err
		}
		return s.notifier.write(ctx, tx, sub.SubscriptionNo, model.Notification{
			Type:         model.EventSubscriptionCreated,
			OccurredAt:   now,
			Subscription: s.notice(sub),
		})
	})
	if err != nil {
		if apperr.IsUniqueViolation(err) {
			if paymentRef != "" {
				if won, lerr := s.subRepo.GetByPaymentRef(ctx, paymentRef); lerr == nil && won != nil {
					return subscriptionResultOf(won), nil
				}
			}
			return failedSubscription(apperr.ErrAlreadySubscribed)
		}
		return failedSubscription(err)
	}

	metrics.RecordSubscription("created", 1)
	zap.L().Info("[Subscription] created",
		zap.String("subscription_no", sub.SubscriptionNo),
		zap.Int64("subscriber_id", subscriberID),
		zap.Int64("tipster_id", tipsterID),
		zap.Time("end_date", sub.EndDate),
	)
	return subscriptionResultOf(sub), nil
}

// Unsubscribe cancels the active subscription of the pair. Access ends
// immediately; the end date is left as it was and nothing is refunded.
// It returns false when there was no active subscription to cancel,
// including one whose end date has passed (that one is expired instead).
func (s *SubscriptionService) Unsubscribe(ctx context.Context, subscriberID, tipsterID int64) (bool, error) {
	active, err := s.subRepo.GetActive(ctx, subscriberID, tipsterID)
	if err != nil {
		return false, apperr.FromStorage(err)
	}
	if active == nil {
		return false, nil
	}

	now := s.clock.Now()
	if !active.IsActiveAt(now) {
		// already lapsed, the sweep just has not reached it
		if err := s.expireOne(ctx, active.ID, now); err != nil {
			return false, apperr.FromStorage(err)
		}
		return false, nil
	}

	cancelled := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.subRepo.Transition(ctx, tx, active.ID, model.SubscriptionStatusActive, model.SubscriptionStatusCancelled, now)
		if err != nil || !ok {
			return err
		}
		cancelled = true
		return s.notifier.write(ctx, tx, active.SubscriptionNo, model.Notification{
			Type:         model.EventSubscriptionCancelled,
			OccurredAt:   now,
			Subscription: s.notice(active),
		})
	})
	if err != nil {
		return false, apperr.FromStorage(err)
	}

	if cancelled {
		metrics.RecordSubscription("cancelled", 1)
		zap.L().Info("[Subscription] cancelled",
			zap.String("subscription_no", active.SubscriptionNo),
			zap.Int64("subscriber_id", subscriberID),
			zap.Int64("tipster_id", tipsterID),
		)
	}
	return cancelled, nil
}

// ExpireDueSubscriptions flips every active subscription whose end date has
// passed to EXPIRED and returns how many rows this call changed. Each row is
// moved by a status-guarded update, so concurrent sweeps never count a row
// twice.
func (s *SubscriptionService) ExpireDueSubscriptions(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	var total int64

	for {
		ids, err := s.subRepo.ListDueIDs(ctx, now, s.batchSize)
		if err != nil {
			return total, apperr.FromStorage(err)
		}
		if len(ids) == 0 {
			break
		}

		expired, err := s.expire(ctx, ids, now)
		if err != nil {
			return total, apperr.FromStorage(err)
		}
		total += int64(len(expired))

		if len(ids) < s.batchSize {
			break
		}
	}

	if total > 0 {
		metrics.RecordSubscription("expired", total)
		zap.L().Info("[Subscription] expired due subscriptions", zap.Int64("count", total))
	}
	return total, nil
}

// expire moves the still-active rows among ids to EXPIRED and writes one
// notification for the rows it changed.
func (s *SubscriptionService) expire(ctx context.Context, ids []int64, now time.Time) ([]int64, error) {
	var expired []int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired = expired[:0]
		for _, id := range ids {
			ok, err := s.subRepo.Transition(ctx, tx, id, model.SubscriptionStatusActive, model.SubscriptionStatusExpired, now)
			if err != nil {
				return err
			}
			if ok {
				expired = append(expired, id)
			}
		}
		if len(expired) == 0 {
			return nil
		}
		return s.notifier.write(ctx, tx, idgen.GenerateTransactionNo(), model.Notification{
			Type:       model.EventSubscriptionExpired,
			OccurredAt: now,
			Expiry: &model.ExpiryNotice{
				SubscriptionIDs: expired,
				Count:           int64(len(expired)),
				At:              now,
			},
		})
	})
	return expired, err
}

func (s *SubscriptionService) expireOne(ctx context.Context, id int64, now time.Time) error {
	expired, err := s.expire(ctx, []int64{id}, now)
	if err == nil && len(expired) > 0 {
		metrics.RecordSubscription("expired", 1)
	}
	return err
}

func (s *SubscriptionService) ListActive(ctx context.Context, subscriberID int64) ([]*model.Subscription, error) {
	subs, err := s.subRepo.ListActiveBySubscriber(ctx, subscriberID)
	return subs, apperr.FromStorage(err)
}

func (s *SubscriptionService) ListSubscribers(ctx context.Context, tipsterID int64) ([]*model.Subscription, error) {
	subs, err := s.subRepo.ListActiveByTipster(ctx, tipsterID)
	return subs, apperr.FromStorage(err)
}

// GetBySubscriptionNo returns ErrSubscriptionNotFound for unknown numbers.
func (s *SubscriptionService) GetBySubscriptionNo(ctx context.Context, subscriptionNo string) (*model.Subscription, error) {
	sub, err := s.subRepo.GetBySubscriptionNo(ctx, subscriptionNo)
	if err != nil {
		return nil, apperr.FromStorage(err)
	}
	if sub == nil {
		return nil, apperr.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *SubscriptionService) notice(sub *model.Subscription) *model.SubscriptionNotice {
	return &model.SubscriptionNotice{
		SubscriptionNo: sub.SubscriptionNo,
		SubscriberID:   sub.SubscriberID,
		TipsterID:      sub.TipsterID,
		PriceCents:     sub.PriceCents,
		EndDate:        sub.EndDate,
	}
}
