package repository

import (
	"context"
	"errors"

	"sharetips/internal/model"

	"gorm.io/gorm"
)

type PurchaseRepository struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

func (r *PurchaseRepository) Create(ctx context.Context, tx *gorm.DB, purchase *model.TicketPurchase) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(purchase).Error
}

// GetByBuyerAndTicket returns nil, nil when the buyer does not own the ticket.
func (r *PurchaseRepository) GetByBuyerAndTicket(ctx context.Context, buyerID, ticketID int64) (*model.TicketPurchase, error) {
	var purchase model.TicketPurchase
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? AND ticket_id = ?", buyerID, ticketID).
		First(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &purchase, nil
}

// PurchasedTicketIDs returns which of ticketIDs the buyer owns.
func (r *PurchaseRepository) PurchasedTicketIDs(ctx context.Context, buyerID int64, ticketIDs []int64) (map[int64]bool, error) {
	owned := make(map[int64]bool, len(ticketIDs))
	if len(ticketIDs) == 0 {
		return owned, nil
	}
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.TicketPurchase{}).
		Where("buyer_id = ? AND ticket_id IN ?", buyerID, ticketIDs).
		Pluck("ticket_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		owned[id] = true
	}
	return owned, nil
}

func (r *PurchaseRepository) ListByBuyer(ctx context.Context, buyerID int64, page, pageSize int) ([]*model.TicketPurchase, int64, error) {
	var purchases []*model.TicketPurchase
	var total int64

	query := r.db.WithContext(ctx).Model(&model.TicketPurchase{}).Where("buyer_id = ?", buyerID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&purchases).Error
	return purchases, total, err
}
