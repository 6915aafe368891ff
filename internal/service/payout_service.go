package service

import (
	"context"

	"sharetips/internal/apperr"
	"sharetips/internal/model"
	"sharetips/pkg/idgen"

	"go.uber.org/zap"
)

type PayoutResponse struct {
	PayoutNo    string `json:"payout_no"`
	OwnerID     int64  `json:"owner_id"`
	AmountCents int64  `json:"amount_cents"`
	Status      string `json:"status"`
	Replayed    bool   `json:"replayed,omitempty"`
}

// PayoutService hands tipster earnings to the payment gateway. The gateway
// reports back through Complete once the bank transfer succeeded or bounced.
type PayoutService struct {
	ledger *LedgerService
}

func NewPayoutService(ledger *LedgerService) *PayoutService {
	return &PayoutService{ledger: ledger}
}

// Request reserves amountCents for payout. An empty payoutNo gets a fresh
// number; callers retrying a request pass the number they got back. Only
// numbers of that shape are accepted, so a payout can never be filed under
// the reference id of a purchase, subscription or deposit.
func (s *PayoutService) Request(ctx context.Context, payoutNo string, ownerID, amountCents int64) (*PayoutResponse, error) {
	if payoutNo == "" {
		payoutNo = idgen.GeneratePayoutNo()
	} else if !idgen.IsPayoutNo(payoutNo) {
		return nil, apperr.ErrInvalidRequest.Withf("payout_no %q was not issued by this service", payoutNo)
	}
	res, err := s.ledger.RequestPayout(ctx, payoutNo, ownerID, amountCents)
	if err != nil {
		return nil, err
	}

	zap.L().Info("[Payout] requested",
		zap.String("payout_no", payoutNo),
		zap.Int64("owner_id", ownerID),
		zap.Int64("amount_cents", amountCents),
		zap.Bool("replayed", res.Replayed),
	)
	return &PayoutResponse{
		PayoutNo:    payoutNo,
		OwnerID:     ownerID,
		AmountCents: payoutAmount(res.Entries, ownerID),
		Status:      string(model.TransactionStatusPending),
		Replayed:    res.Replayed,
	}, nil
}

func (s *PayoutService) Complete(ctx context.Context, payoutNo string, ownerID int64, paid bool) (*PayoutResponse, error) {
	res, err := s.ledger.CompletePayout(ctx, payoutNo, ownerID, paid)
	if err != nil {
		return nil, err
	}

	status := string(model.TransactionStatusCompleted)
	for _, e := range res.Entries {
		if e.Kind == model.KindPayoutReversed {
			status = string(model.TransactionStatusFailed)
		}
	}

	zap.L().Info("[Payout] completed",
		zap.String("payout_no", payoutNo),
		zap.Int64("owner_id", ownerID),
		zap.String("status", status),
		zap.Bool("replayed", res.Replayed),
	)
	return &PayoutResponse{
		PayoutNo: payoutNo,
		OwnerID:  ownerID,
		Status:   status,
		Replayed: res.Replayed,
	}, nil
}

func payoutAmount(entries []*model.WalletTransaction, ownerID int64) int64 {
	for _, e := range entries {
		if e.Kind == model.KindWithdrawal && e.OwnerID == ownerID {
			return -e.AmountCents
		}
	}
	return 0
}
