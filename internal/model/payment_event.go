package model

import (
	"time"
)

type PaymentPurpose string

const (
	PaymentPurposeDeposit        PaymentPurpose = "deposit"
	PaymentPurposeTicketPurchase PaymentPurpose = "ticket_purchase"
	PaymentPurposeSubscription   PaymentPurpose = "subscription"
)

const (
	PaymentEventStatusReceived  = "RECEIVED"
	PaymentEventStatusProcessed = "PROCESSED"
	PaymentEventStatusRejected  = "REJECTED"
)

// PaymentConfirmationVersion is the newest confirmation layout understood.
const PaymentConfirmationVersion = 1

// PaymentConfirmation is the message the payment gateway collaborator emits
// once funds are captured.
type PaymentConfirmation struct {
	Version          int            `json:"version"`
	ReferenceID      string         `json:"reference_id"`
	PayerID          int64          `json:"payer_id"`
	PayeeID          int64          `json:"payee_id"`
	GrossAmountCents int64          `json:"gross_amount_cents"`
	Purpose          PaymentPurpose `json:"purpose"`
	TicketID         int64          `json:"ticket_id,omitempty"`
}

// PaymentEvent remembers every confirmation seen, keyed by reference id.
type PaymentEvent struct {
	ID               int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferenceID      string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"reference_id"`
	PayerID          int64          `gorm:"not null" json:"payer_id"`
	PayeeID          int64          `gorm:"not null" json:"payee_id"`
	GrossAmountCents int64          `gorm:"not null" json:"gross_amount_cents"`
	Purpose          PaymentPurpose `gorm:"type:varchar(32);not null" json:"purpose"`
	TicketID         int64          `gorm:"not null;default:0" json:"ticket_id"`
	Status           string         `gorm:"type:varchar(16);not null" json:"status"`
	Result           string         `gorm:"type:varchar(256)" json:"result"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentEvent) TableName() string {
	return "payment_event"
}
