package service

import (
	"sharetips/internal/config"
	"sharetips/internal/infrastructure/lock"
	"sharetips/pkg/clock"

	"gorm.io/gorm"
)

// Services is the wired set of core services shared by the HTTP adapter, the
// payment consumer and the jobs.
type Services struct {
	Ledger       *LedgerService
	Wallet       *WalletService
	Purchase     *PurchaseService
	Subscription *SubscriptionService
	Access       *AccessService
	Payment      *PaymentService
	Payout       *PayoutService
}

func New(db *gorm.DB, locker lock.Locker, clk clock.Clock, cfg *config.Config) (*Services, error) {
	ledger, err := NewLedgerService(db, locker, clk, cfg)
	if err != nil {
		return nil, err
	}
	purchases := NewPurchaseService(db, ledger, clk, cfg)
	subscriptions := NewSubscriptionService(db, ledger, clk, cfg)
	return &Services{
		Ledger:       ledger,
		Wallet:       NewWalletService(db, ledger),
		Purchase:     purchases,
		Subscription: subscriptions,
		Access:       NewAccessService(db, clk),
		Payment:      NewPaymentService(db, ledger, purchases, subscriptions, cfg),
		Payout:       NewPayoutService(ledger),
	}, nil
}
