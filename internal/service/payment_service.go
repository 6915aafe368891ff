package service

import (
	"context"
	"encoding/json"

	"sharetips/internal/apperr"
	"sharetips/internal/config"
	"sharetips/internal/model"
	"sharetips/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PaymentService turns gateway payment confirmations into ledger postings.
//
// Every confirmation is remembered in payment_event under its reference id.
// Funds are always deposited first, keyed by that reference id, and then spent
// on the purchase or subscription the payment was for. A confirmation that
// was already PROCESSED or REJECTED is acknowledged without doing anything.
type PaymentService struct {
	eventRepo     *repository.PaymentEventRepository
	ledger        *LedgerService
	purchases     *PurchaseService
	subscriptions *SubscriptionService
	maxAttempts   int
}

func NewPaymentService(db *gorm.DB, ledger *LedgerService, purchases *PurchaseService, subscriptions *SubscriptionService, cfg *config.Config) *PaymentService {
	return &PaymentService{
		eventRepo:     repository.NewPaymentEventRepository(db),
		ledger:        ledger,
		purchases:     purchases,
		subscriptions: subscriptions,
		maxAttempts:   cfg.Business.PaymentEventMaxAttempts,
	}
}

// HandleMessage is the consumer entry point. Malformed payloads are logged
// and dropped; returning an error leaves the message for redelivery.
func (s *PaymentService) HandleMessage(ctx context.Context, key, value []byte) error {
	var conf model.PaymentConfirmation
	if err := json.Unmarshal(value, &conf); err != nil {
		zap.L().Error("[Payment] undecodable confirmation dropped",
			zap.ByteString("key", key),
			zap.Error(err),
		)
		return nil
	}
	err := s.HandleConfirmation(ctx, conf)
	if err != nil && !apperr.IsRetryable(err) {
		zap.L().Error("[Payment] confirmation dropped",
			zap.String("reference_id", conf.ReferenceID),
			zap.Error(err),
		)
		return nil
	}
	return err
}

func (s *PaymentService) HandleConfirmation(ctx context.Context, conf model.PaymentConfirmation) error {
	if err := validateConfirmation(conf); err != nil {
		return err
	}

	evt, err := s.eventRepo.GetByReference(ctx, conf.ReferenceID)
	if err != nil {
		return apperr.FromStorage(err)
	}
	if evt == nil {
		evt = &model.PaymentEvent{
			ReferenceID:      conf.ReferenceID,
			PayerID:          conf.PayerID,
			PayeeID:          conf.PayeeID,
			GrossAmountCents: conf.GrossAmountCents,
			Purpose:          conf.Purpose,
			TicketID:         conf.TicketID,
			Status:           model.PaymentEventStatusReceived,
		}
		if _, err := s.eventRepo.CreateIfAbsent(ctx, evt); err != nil {
			return apperr.FromStorage(err)
		}
		if evt, err = s.eventRepo.GetByReference(ctx, conf.ReferenceID); err != nil {
			return apperr.FromStorage(err)
		}
	}
	if evt.Status != model.PaymentEventStatusReceived {
		zap.L().Info("[Payment] duplicate confirmation ignored",
			zap.String("reference_id", conf.ReferenceID),
			zap.String("status", evt.Status),
		)
		return nil
	}

	return s.process(ctx, evt)
}

// Reprocess drives a RECEIVED event to completion again. The recovery job
// uses it for events whose first attempt died halfway.
func (s *PaymentService) Reprocess(ctx context.Context, evt *model.PaymentEvent) error {
	return s.process(ctx, evt)
}

func (s *PaymentService) process(ctx context.Context, evt *model.PaymentEvent) error {
	var outcome error
	err := apperr.Retry(ctx, s.maxAttempts, func() error {
		if _, err := s.ledger.Deposit(ctx, evt.ReferenceID, evt.PayerID, evt.GrossAmountCents); err != nil {
			return err
		}

		// a previous attempt that got this far before dying is recognised by
		// the payment ref on the row it created
		switch evt.Purpose {
		case model.PaymentPurposeTicketPurchase:
			_, outcome = s.purchases.PurchaseForPayment(ctx, evt.PayerID, evt.TicketID, evt.ReferenceID)
		case model.PaymentPurposeSubscription:
			_, outcome = s.subscriptions.SubscribeForPayment(ctx, evt.PayerID, evt.PayeeID, evt.GrossAmountCents, evt.ReferenceID)
		}
		if apperr.IsRetryable(outcome) {
			return outcome
		}
		return nil
	})
	if err != nil {
		zap.L().Warn("[Payment] confirmation not processed, will be redelivered",
			zap.String("reference_id", evt.ReferenceID),
			zap.Error(err),
		)
		return err
	}

	status, result := model.PaymentEventStatusProcessed, "ok"
	if outcome != nil {
		// business rejection; the deposit stands and the user keeps the funds
		status, result = model.PaymentEventStatusRejected, string(apperr.CodeOf(outcome))
	}
	if err := s.eventRepo.Finish(ctx, evt.ReferenceID, status, result); err != nil {
		return apperr.FromStorage(err)
	}

	zap.L().Info("[Payment] confirmation handled",
		zap.String("reference_id", evt.ReferenceID),
		zap.String("purpose", string(evt.Purpose)),
		zap.Int64("payer_id", evt.PayerID),
		zap.Int64("gross_amount_cents", evt.GrossAmountCents),
		zap.String("status", status),
	)
	return nil
}

func validateConfirmation(conf model.PaymentConfirmation) error {
	if conf.ReferenceID == "" || conf.PayerID <= 0 {
		return apperr.ErrInvalidRequest.Withf("confirmation needs a reference id and a payer")
	}
	if conf.GrossAmountCents <= 0 {
		return apperr.ErrInvalidAmount
	}
	if conf.Version > model.PaymentConfirmationVersion {
		return apperr.ErrInvalidRequest.Withf("unsupported confirmation version %d", conf.Version)
	}
	switch conf.Purpose {
	case model.PaymentPurposeDeposit:
	case model.PaymentPurposeTicketPurchase:
		if conf.TicketID <= 0 {
			return apperr.ErrInvalidRequest.Withf("ticket purchase confirmation without ticket id")
		}
	case model.PaymentPurposeSubscription:
		if conf.PayeeID <= 0 {
			return apperr.ErrInvalidRequest.Withf("subscription confirmation without payee")
		}
	default:
		return apperr.ErrInvalidRequest.Withf("unknown payment purpose %q", conf.Purpose)
	}
	return nil
}

