package repository

import (
	"context"

	"sharetips/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// CreateBatch inserts all entries of one economic event in a single statement.
func (r *TransactionRepository) CreateBatch(ctx context.Context, tx *gorm.DB, entries []*model.WalletTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(&entries).Error
}

// ListByReference returns the entries produced by one event, oldest first.
func (r *TransactionRepository) ListByReference(ctx context.Context, tx *gorm.DB, referenceID string) ([]*model.WalletTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var entries []*model.WalletTransaction
	err := tx.WithContext(ctx).
		Where("reference_id = ?", referenceID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *TransactionRepository) SumByReference(ctx context.Context, referenceID string) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Where("reference_id = ?", referenceID).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&sum).Error
	return sum, err
}

// SumByOwner derives the balance of wallets whose row is never locked, such
// as the platform commission wallet.
func (r *TransactionRepository) SumByOwner(ctx context.Context, ownerID int64) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Where("owner_id = ?", ownerID).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&sum).Error
	return sum, err
}

// ListByOwner pages through a user's entries, most recent first.
func (r *TransactionRepository) ListByOwner(ctx context.Context, ownerID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	var transactions []*model.WalletTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WalletTransaction{}).Where("owner_id = ?", ownerID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}
