package repository

import (
	"context"
	"errors"
	"slices"

	"sharetips/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWalletNotFound   = errors.New("wallet not found")
	ErrBalanceNotEnough = errors.New("balance not enough")
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *WalletRepository) GetByOwnerID(ctx context.Context, ownerID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// EnsureExist inserts an empty wallet for every owner that has none. Racing
// inserts are absorbed by the owner_id unique index.
func (r *WalletRepository) EnsureExist(ctx context.Context, tx *gorm.DB, ownerIDs ...int64) error {
	if len(ownerIDs) == 0 {
		return nil
	}
	wallets := make([]model.Wallet, 0, len(ownerIDs))
	for _, id := range ownerIDs {
		wallets = append(wallets, model.Wallet{OwnerID: id})
	}
	return r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}},
			DoNothing: true,
		}).
		Create(&wallets).Error
}

func (r *WalletRepository) GetOrCreate(ctx context.Context, ownerID int64) (*model.Wallet, error) {
	wallet, err := r.GetByOwnerID(ctx, ownerID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	if err := r.EnsureExist(ctx, nil, ownerID); err != nil {
		return nil, err
	}
	return r.GetByOwnerID(ctx, ownerID)
}

// CreateMissing inserts empty wallets for the owners in ownerIDs that have
// none yet. It runs outside any posting transaction: on MySQL the upsert
// x-locks rows that already exist, so it only ever touches missing owners.
func (r *WalletRepository) CreateMissing(ctx context.Context, ownerIDs ...int64) error {
	ids := sortedUnique(ownerIDs)
	if len(ids) == 0 {
		return nil
	}

	var have []int64
	err := r.db.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("owner_id IN ?", ids).
		Pluck("owner_id", &have).Error
	if err != nil {
		return err
	}
	if len(have) == len(ids) {
		return nil
	}

	missing := slices.DeleteFunc(ids, func(id int64) bool {
		return slices.Contains(have, id)
	})
	return r.EnsureExist(ctx, nil, missing...)
}

// ListByOwners reads wallets without locking them.
func (r *WalletRepository) ListByOwners(ctx context.Context, ownerIDs ...int64) ([]*model.Wallet, error) {
	var wallets []*model.Wallet
	err := r.db.WithContext(ctx).
		Where("owner_id IN ?", sortedUnique(ownerIDs)).
		Find(&wallets).Error
	return wallets, err
}

// LockForUpdate takes exclusive row locks on the wallets of ownerIDs, in
// ascending owner id order, inside tx. The wallets must exist already (see
// CreateMissing); ErrWalletNotFound otherwise. The result is ordered by
// owner id.
func (r *WalletRepository) LockForUpdate(ctx context.Context, tx *gorm.DB, ownerIDs ...int64) ([]*model.Wallet, error) {
	ids := sortedUnique(ownerIDs)

	var wallets []*model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id IN ?", ids).
		Order("owner_id ASC").
		Find(&wallets).Error
	if err != nil {
		return nil, err
	}
	if len(wallets) != len(ids) {
		return nil, ErrWalletNotFound
	}
	return wallets, nil
}

func sortedUnique(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// WalletDelta is a change to the three balance columns of one wallet.
type WalletDelta struct {
	AvailableCents     int64
	PendingPayoutCents int64
	TotalEarnedCents   int64
}

// Apply adds delta to the wallet row. The WHERE clause refuses any change that
// would take a balance below zero, so non-negativity holds even if a caller
// skipped its own check.
func (r *WalletRepository) Apply(ctx context.Context, tx *gorm.DB, walletID int64, delta WalletDelta) error {
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND available_cents + ? >= 0 AND pending_payout_cents + ? >= 0",
			walletID, delta.AvailableCents, delta.PendingPayoutCents).
		Updates(map[string]interface{}{
			"available_cents":      gorm.Expr("available_cents + ?", delta.AvailableCents),
			"pending_payout_cents": gorm.Expr("pending_payout_cents + ?", delta.PendingPayoutCents),
			"total_earned_cents":   gorm.Expr("total_earned_cents + ?", delta.TotalEarnedCents),
			"version":              gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBalanceNotEnough
	}
	return nil
}
