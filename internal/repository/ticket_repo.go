package repository

import (
	"context"
	"errors"

	"sharetips/internal/model"

	"gorm.io/gorm"
)

var ErrTicketNotFound = errors.New("ticket not found")

// TicketRepository is the content metadata lookup. Soft-deleted tickets are
// reported as not found.
type TicketRepository struct {
	db *gorm.DB
}

func NewTicketRepository(db *gorm.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

func (r *TicketRepository) GetContent(ctx context.Context, ticketID int64) (*model.Ticket, error) {
	var ticket model.Ticket
	err := r.db.WithContext(ctx).Where("id = ?", ticketID).First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

// GetContents returns the live tickets among ids keyed by id.
func (r *TicketRepository) GetContents(ctx context.Context, ticketIDs []int64) (map[int64]*model.Ticket, error) {
	out := make(map[int64]*model.Ticket, len(ticketIDs))
	if len(ticketIDs) == 0 {
		return out, nil
	}
	var tickets []*model.Ticket
	if err := r.db.WithContext(ctx).Where("id IN ?", ticketIDs).Find(&tickets).Error; err != nil {
		return nil, err
	}
	for _, t := range tickets {
		out[t.ID] = t
	}
	return out, nil
}
