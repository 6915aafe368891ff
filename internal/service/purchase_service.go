package service

import (
	"context"
	"errors"

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

type PurchaseService struct {
	ledger       *LedgerService
	purchaseRepo *repository.PurchaseRepository
	ticketRepo   *repository.TicketRepository
	notifier     *notifier
	clock        clock.Clock
}

func NewPurchaseService(db *gorm.DB, ledger *LedgerService, clk clock.Clock, cfg *config.Config) *PurchaseService {
	return &PurchaseService{
		ledger:       ledger,
		purchaseRepo: repository.NewPurchaseRepository(db),
		ticketRepo:   repository.NewTicketRepository(db),
		notifier:     newNotifier(db, cfg.Kafka.Topic.Notifications),
		clock:        clk,
	}
}

// PurchaseResult is what callers of Purchase get back. On failure Success is
// false and Reason holds a message that is safe to display.
type PurchaseResult struct {
	Success         bool   `json:"success"`
	Reason          string `json:"reason,omitempty"`
	PurchaseID      int64  `json:"purchase_id,omitempty"`
	PurchaseNo      string `json:"purchase_no,omitempty"`
	AlreadyOwned    bool   `json:"already_owned,omitempty"`
	PriceCents      int64  `json:"price_cents,omitempty"`
	CommissionCents int64  `json:"commission_cents,omitempty"`
	SellerNetCents  int64  `json:"seller_net_cents,omitempty"`
}

func purchaseResultOf(p *model.TicketPurchase, alreadyOwned bool) *PurchaseResult {
	return &PurchaseResult{
		Success:         true,
		PurchaseID:      p.ID,
		PurchaseNo:      p.PurchaseNo,
		AlreadyOwned:    alreadyOwned,
		PriceCents:      p.PriceCents,
		CommissionCents: p.CommissionCents,
		SellerNetCents:  p.SellerNetCents,
	}
}

func failedPurchase(err error) (*PurchaseResult, error) {
	metrics.RecordPurchase(string(apperr.CodeOf(err)))
	return &PurchaseResult{Success: false, Reason: apperr.PublicMessage(err)}, err
}

// Purchase buys ticketID for buyerID at the ticket's current price.
//
// Buying a ticket twice is idempotent: the existing purchase comes back with
// AlreadyOwned set and no money moves, including when two requests race and
// the (buyer, ticket) unique index rejects the loser.
func (s *PurchaseService) Purchase(ctx context.Context, buyerID, ticketID int64) (*PurchaseResult, error) {
	return s.purchase(ctx, buyerID, ticketID, "")
}

// PurchaseForPayment is Purchase on behalf of the gateway payment paymentRef.
// Only the purchase that payment paid for is idempotent here: a ticket the
// buyer already owned through another purchase fails with ErrAlreadyPurchased.
func (s *PurchaseService) PurchaseForPayment(ctx context.Context, buyerID, ticketID int64, paymentRef string) (*PurchaseResult, error) {
	return s.purchase(ctx, buyerID, ticketID, paymentRef)
}

func ownedPurchase(p *model.TicketPurchase, paymentRef string) (*PurchaseResult, error) {
	if paymentRef != "" && !p.PaidBy(paymentRef) {
		return failedPurchase(apperr.ErrAlreadyPurchased)
	}
	metrics.RecordPurchase("already_owned")
	return purchaseResultOf(p, true), nil
}

func (s *PurchaseService) purchase(ctx context.Context, buyerID, ticketID int64, paymentRef string) (*PurchaseResult, error) {
	ticket, err := s.ticketRepo.GetContent(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrTicketNotFound) {
			return failedPurchase(apperr.ErrContentNotFound)
		}
		return failedPurchase(apperr.FromStorage(err))
	}
	if ticket.CreatorID == buyerID {
		return failedPurchase(apperr.ErrSelfPurchase)
	}

	existing, err := s.purchaseRepo.GetByBuyerAndTicket(ctx, buyerID, ticketID)
	if err != nil {
		return failedPurchase(apperr.FromStorage(err))
	}
	if existing != nil {
		return ownedPurchase(existing, paymentRef)
	}

	if ticket.PriceCents <= 0 {
		return failedPurchase(apperr.ErrInvalidAmount.Withf("ticket %d is not for sale", ticketID))
	}

	commission := s.ledger.Commission(ticket.PriceCents)
	purchase := &model.TicketPurchase{
		PurchaseNo:      idgen.GeneratePurchaseNo(),
		TicketID:        ticket.ID,
		BuyerID:         buyerID,
		SellerID:        ticket.CreatorID,
		PriceCents:      ticket.PriceCents,
		CommissionCents: commission,
		SellerNetCents:  ticket.PriceCents - commission,
		PaymentRef:      model.PaymentRefOf(paymentRef),
		CreatedAt:       s.clock.Now(),
	}

	_, err = s.ledger.Transfer(ctx, TransferRequest{
		ReferenceID: purchase.PurchaseNo,
		PayerID:     buyerID,
		ReceiverID:  ticket.CreatorID,
		GrossCents:  ticket.PriceCents,
		Purpose:     PurposePurchase,
		Remark:      "ticket purchase",
	}, func(tx *gorm.DB) error {
		if err := s.purchaseRepo.Create(ctx, tx, purchase); err != nil {
			return err
		}
		return s.notifier.write(ctx, tx, purchase.PurchaseNo, model.Notification{
			Type:       model.EventTicketPurchased,
			OccurredAt: purchase.CreatedAt,
			Purchase: &model.PurchaseNotice{
				PurchaseNo:     purchase.PurchaseNo,
				TicketID:       purchase.TicketID,
				BuyerID:        purchase.BuyerID,
				SellerID:       purchase.SellerID,
				PriceCents:     purchase.PriceCents,
				SellerNetCents: purchase.SellerNetCents,
			},
		})
	})
	if err != nil {
		if apperr.IsUniqueViolation(err) {
			if won, lerr := s.purchaseRepo.GetByBuyerAndTicket(ctx, buyerID, ticketID); lerr == nil && won != nil {
				return ownedPurchase(won, paymentRef)
			}
		}
		zap.L().Info("[Purchase] rejected",
			zap.Int64("buyer_id", buyerID),
			zap.Int64("ticket_id", ticketID),
			zap.String("code", string(apperr.CodeOf(err))),
		)
		return failedPurchase(err)
	}

	metrics.RecordPurchase("completed")
	zap.L().Info("[Purchase] completed",
		zap.String("purchase_no", purchase.PurchaseNo),
		zap.Int64("buyer_id", buyerID),
		zap.Int64("ticket_id", ticketID),
		zap.Int64("price_cents", purchase.PriceCents),
	)
	return purchaseResultOf(purchase, false), nil
}

func (s *PurchaseService) HasPurchased(ctx context.Context, buyerID, ticketID int64) (bool, error) {
	p, err := s.purchaseRepo.GetByBuyerAndTicket(ctx, buyerID, ticketID)
	if err != nil {
		return false, apperr.FromStorage(err)
	}
	return p != nil, nil
}

func (s *PurchaseService) ListPurchases(ctx context.Context, buyerID int64, page, pageSize int) ([]*model.TicketPurchase, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	purchases, total, err := s.purchaseRepo.ListByBuyer(ctx, buyerID, page, pageSize)
	if err != nil {
		return nil, 0, apperr.FromStorage(err)
	}
	return purchases, total, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
