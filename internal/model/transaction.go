package model

import (
	"time"
)

// ============================================================================
// Ledger entry kinds
// ============================================================================

type TransactionKind string

const (
	KindDeposit            TransactionKind = "DEPOSIT"
	KindPurchaseDebit      TransactionKind = "PURCHASE_DEBIT"
	KindPurchaseCredit     TransactionKind = "PURCHASE_CREDIT"
	KindSubscriptionDebit  TransactionKind = "SUBSCRIPTION_DEBIT"
	KindSubscriptionCredit TransactionKind = "SUBSCRIPTION_CREDIT"
	KindCommission         TransactionKind = "COMMISSION"
	KindWithdrawal         TransactionKind = "WITHDRAWAL"
	KindManualAdjustment   TransactionKind = "MANUAL_ADJUSTMENT"

	// Counterparty legs written on the system wallets so that deposits,
	// payouts and adjustments still net to zero per reference id.
	KindDepositClearing        TransactionKind = "DEPOSIT_CLEARING"
	KindWithdrawalClearing     TransactionKind = "WITHDRAWAL_CLEARING"
	KindPayoutReversed         TransactionKind = "PAYOUT_REVERSED"
	KindPayoutReversalClearing TransactionKind = "PAYOUT_REVERSAL_CLEARING"
	KindAdjustmentOffset       TransactionKind = "ADJUSTMENT_OFFSET"

	// KindPayoutSettled is a zero-amount marker closing a payout the gateway
	// paid out.
	KindPayoutSettled TransactionKind = "PAYOUT_SETTLED"
)

type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

// WalletTransaction is an immutable ledger entry.
//
// Rules:
//  1. append only; corrections are new entries
//  2. every entry carries the reference id of the economic event
//  3. the entries of one reference id sum to zero
//
// The (reference_id, kind) unique index makes it impossible to apply the same
// leg of an event twice. BalanceAfterCents is zero on system wallet entries;
// their balance is the sum of their entries.
type WalletTransaction struct {
	ID                int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo     string            `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	WalletID          int64             `gorm:"index;not null" json:"wallet_id"`
	OwnerID           int64             `gorm:"index:idx_txn_owner_created,priority:1;not null" json:"owner_id"`
	AmountCents       int64             `gorm:"not null" json:"amount_cents"`
	Kind              TransactionKind   `gorm:"type:varchar(32);uniqueIndex:uk_txn_ref_kind,priority:2;not null" json:"kind"`
	ReferenceID       string            `gorm:"type:varchar(64);uniqueIndex:uk_txn_ref_kind,priority:1;not null" json:"reference_id"`
	Status            TransactionStatus `gorm:"type:varchar(16);not null" json:"status"`
	BalanceAfterCents int64             `gorm:"not null" json:"balance_after_cents"`
	Remark            string            `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt         time.Time         `gorm:"index:idx_txn_owner_created,priority:2;not null" json:"created_at"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transaction"
}
