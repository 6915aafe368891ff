package model

import (
	"time"
)

// TicketPurchase records a one-time buy. Immutable; one per (buyer, ticket).
// PaymentRef is set when a gateway confirmation paid for it.
type TicketPurchase struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PurchaseNo      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"purchase_no"`
	TicketID        int64     `gorm:"uniqueIndex:uk_purchase_buyer_ticket,priority:2;not null" json:"ticket_id"`
	BuyerID         int64     `gorm:"uniqueIndex:uk_purchase_buyer_ticket,priority:1;not null" json:"buyer_id"`
	SellerID        int64     `gorm:"index;not null" json:"seller_id"`
	PriceCents      int64     `gorm:"not null" json:"price_cents"`
	CommissionCents int64     `gorm:"not null" json:"commission_cents"`
	SellerNetCents  int64     `gorm:"not null" json:"seller_net_cents"`
	PaymentRef      *string   `gorm:"type:varchar(64);index" json:"payment_ref,omitempty"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
}

func (TicketPurchase) TableName() string {
	return "ticket_purchase"
}

func (p *TicketPurchase) PaidBy(paymentRef string) bool {
	return paidBy(p.PaymentRef, paymentRef)
}
