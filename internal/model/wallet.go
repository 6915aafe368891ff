package model

import (
	"time"
)

// Wallet holds one user's money in minor units.
//
// AvailableCents and PendingPayoutCents are never negative for user wallets.
// TotalEarnedCents only ever grows. Rows are mutated by the ledger alone.
type Wallet struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID            int64     `gorm:"uniqueIndex;not null" json:"owner_id"`
	AvailableCents     int64     `gorm:"not null;default:0" json:"available_cents"`
	PendingPayoutCents int64     `gorm:"not null;default:0" json:"pending_payout_cents"`
	TotalEarnedCents   int64     `gorm:"not null;default:0" json:"total_earned_cents"`
	Version            int       `gorm:"not null;default:0" json:"version"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallet"
}

// WalletView is the read model handed to collaborators.
type WalletView struct {
	OwnerID            int64 `json:"owner_id"`
	AvailableCents     int64 `json:"available_cents"`
	PendingPayoutCents int64 `json:"pending_payout_cents"`
	TotalEarnedCents   int64 `json:"total_earned_cents"`
}

func (w *Wallet) View() WalletView {
	return WalletView{
		OwnerID:            w.OwnerID,
		AvailableCents:     w.AvailableCents,
		PendingPayoutCents: w.PendingPayoutCents,
		TotalEarnedCents:   w.TotalEarnedCents,
	}
}
