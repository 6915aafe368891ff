package service

import (
	"context"
	"errors"

	"sharetips/internal/apperr"
	"sharetips/internal/model"
	"sharetips/internal/repository"

	"gorm.io/gorm"
)

type WalletService struct {
	walletRepo      *repository.WalletRepository
	transactionRepo *repository.TransactionRepository
	ledger          *LedgerService
}

func NewWalletService(db *gorm.DB, ledger *LedgerService) *WalletService {
	return &WalletService{
		walletRepo:      repository.NewWalletRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		ledger:          ledger,
	}
}

// GetWallet never blocks on wallet locks. A user without a wallet row reads
// as an empty wallet. System wallets report the sum of their entries.
func (s *WalletService) GetWallet(ctx context.Context, userID int64) (*model.WalletView, error) {
	if s.ledger.isSystem(userID) {
		sum, err := s.transactionRepo.SumByOwner(ctx, userID)
		if err != nil {
			return nil, apperr.FromStorage(err)
		}
		return &model.WalletView{OwnerID: userID, AvailableCents: sum}, nil
	}

	wallet, err := s.walletRepo.GetByOwnerID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return &model.WalletView{OwnerID: userID}, nil
		}
		return nil, apperr.FromStorage(err)
	}
	view := wallet.View()
	return &view, nil
}

// OpenWallet creates the wallet row at registration time.
func (s *WalletService) OpenWallet(ctx context.Context, userID int64) (*model.WalletView, error) {
	wallet, err := s.walletRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, apperr.FromStorage(err)
	}
	view := wallet.View()
	return &view, nil
}

// ListTransactions returns a page of the user's entries, most recent first.
func (s *WalletService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	list, total, err := s.transactionRepo.ListByOwner(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, apperr.FromStorage(err)
	}
	return list, total, nil
}
