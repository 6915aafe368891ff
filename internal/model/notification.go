package model

import (
	"time"
)

// NotificationVersion is bumped whenever a payload field changes meaning.
const NotificationVersion = 1

const (
	EventTicketPurchased       = "ticket.purchased"
	EventSubscriptionCreated   = "subscription.created"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionExpired   = "subscription.expired"
)

// Notification is the envelope published to the notification collaborator.
// Exactly one of the typed bodies is set, matching Type.
type Notification struct {
	Version      int                 `json:"version"`
	Type         string              `json:"type"`
	OccurredAt   time.Time           `json:"occurred_at"`
	Purchase     *PurchaseNotice     `json:"purchase,omitempty"`
	Subscription *SubscriptionNotice `json:"subscription,omitempty"`
	Expiry       *ExpiryNotice       `json:"expiry,omitempty"`
}

type PurchaseNotice struct {
	PurchaseNo     string `json:"purchase_no"`
	TicketID       int64  `json:"ticket_id"`
	BuyerID        int64  `json:"buyer_id"`
	SellerID       int64  `json:"seller_id"`
	PriceCents     int64  `json:"price_cents"`
	SellerNetCents int64  `json:"seller_net_cents"`
}

type SubscriptionNotice struct {
	SubscriptionNo string    `json:"subscription_no"`
	SubscriberID   int64     `json:"subscriber_id"`
	TipsterID      int64     `json:"tipster_id"`
	PriceCents     int64     `json:"price_cents"`
	EndDate        time.Time `json:"end_date"`
}

type ExpiryNotice struct {
	SubscriptionIDs []int64   `json:"subscription_ids"`
	Count           int64     `json:"count"`
	At              time.Time `json:"at"`
}
