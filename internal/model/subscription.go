package model

import (
	"fmt"
	"time"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusExpired   SubscriptionStatus = "EXPIRED"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
)

var ValidSubscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusActive: {SubscriptionStatusExpired, SubscriptionStatusCancelled},
}

func CanTransitionTo(current, target SubscriptionStatus) bool {
	allowed, exists := ValidSubscriptionTransitions[current]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// Subscription grants a subscriber access to every private ticket of a
// tipster between StartDate and EndDate.
//
// ActiveKey is set only while the row is ACTIVE. Its unique index is what
// keeps a (subscriber, tipster) pair down to one active subscription: NULLs
// do not collide, so expired and cancelled rows pile up freely.
//
// PaymentRef is the gateway reference of the confirmation that paid for the
// row; nil when the subscription was paid from the wallet balance.
type Subscription struct {
	ID              int64              `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionNo  string             `gorm:"type:varchar(64);uniqueIndex;not null" json:"subscription_no"`
	SubscriberID    int64              `gorm:"index:idx_sub_pair,priority:1;not null" json:"subscriber_id"`
	TipsterID       int64              `gorm:"index:idx_sub_pair,priority:2;not null" json:"tipster_id"`
	PriceCents      int64              `gorm:"not null" json:"price_cents"`
	CommissionCents int64              `gorm:"not null" json:"commission_cents"`
	TipsterNetCents int64              `gorm:"not null" json:"tipster_net_cents"`
	Status          SubscriptionStatus `gorm:"type:varchar(16);index:idx_sub_status_end,priority:1;not null" json:"status"`
	ActiveKey       *string            `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	PaymentRef      *string            `gorm:"type:varchar(64);index" json:"payment_ref,omitempty"`
	StartDate       time.Time          `gorm:"not null" json:"start_date"`
	EndDate         time.Time          `gorm:"index:idx_sub_status_end,priority:2;not null" json:"end_date"`
	CancelledAt     *time.Time         `json:"cancelled_at,omitempty"`
	ExpiredAt       *time.Time         `json:"expired_at,omitempty"`
	CreatedAt       time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time          `gorm:"not null" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

func SubscriptionActiveKey(subscriberID, tipsterID int64) *string {
	key := fmt.Sprintf("%d:%d", subscriberID, tipsterID)
	return &key
}

// IsActiveAt reports whether the subscription grants access at t.
func (s *Subscription) IsActiveAt(t time.Time) bool {
	return s.Status == SubscriptionStatusActive && t.Before(s.EndDate)
}

// PaidBy reports whether the gateway payment paymentRef paid for the row.
func (s *Subscription) PaidBy(paymentRef string) bool {
	return paidBy(s.PaymentRef, paymentRef)
}

func paidBy(ref *string, paymentRef string) bool {
	return ref != nil && paymentRef != "" && *ref == paymentRef
}

// PaymentRefOf is the column value for a row paid by paymentRef, nil for "".
func PaymentRefOf(paymentRef string) *string {
	if paymentRef == "" {
		return nil
	}
	return &paymentRef
}
