package service

import (
	"context"
	"errors"

	"sharetips/internal/apperr"
	"sharetips/internal/metrics"
	"sharetips/internal/model"
	"sharetips/internal/repository"
	"sharetips/pkg/clock"

	"gorm.io/gorm"
)

type AccessType string

const (
	AccessNone         AccessType = "NONE"
	AccessPublic       AccessType = "PUBLIC"
	AccessOwner        AccessType = "OWNER"
	AccessPurchase     AccessType = "PURCHASE"
	AccessSubscription AccessType = "SUBSCRIPTION"
)

const (
	ReasonNotFound     = "not found"
	ReasonPublic       = "ticket is public"
	ReasonOwner        = "viewer created the ticket"
	ReasonPurchase     = "viewer purchased the ticket"
	ReasonSubscription = "viewer has an active subscription to the tipster"
	ReasonNoAccess     = "purchase the ticket or subscribe to the tipster"
)

type AccessResult struct {
	HasAccess  bool       `json:"has_access"`
	AccessType AccessType `json:"access_type"`
	Reason     string     `json:"reason"`
}

// AccessService decides whether a viewer may see a ticket. It never writes and
// reads the primary database directly, so a purchase is visible to it as soon
// as the purchase commits.
type AccessService struct {
	ticketRepo   *repository.TicketRepository
	purchaseRepo *repository.PurchaseRepository
	subRepo      *repository.SubscriptionRepository
	clock        clock.Clock
}

func NewAccessService(db *gorm.DB, clk clock.Clock) *AccessService {
	return &AccessService{
		ticketRepo:   repository.NewTicketRepository(db),
		purchaseRepo: repository.NewPurchaseRepository(db),
		subRepo:      repository.NewSubscriptionRepository(db),
		clock:        clk,
	}
}

func grant(t AccessType, reason string) *AccessResult {
	return &AccessResult{HasAccess: t != AccessNone, AccessType: t, Reason: reason}
}

// Resolve applies, first match wins: missing ticket, public ticket, creator,
// purchase, active subscription to the creator. viewerID 0 is an anonymous
// viewer and can only see public tickets.
func (s *AccessService) Resolve(ctx context.Context, viewerID, ticketID int64) (*AccessResult, error) {
	result, err := s.resolve(ctx, viewerID, ticketID)
	if err != nil {
		return nil, apperr.FromStorage(err)
	}
	metrics.RecordAccess(string(result.AccessType))
	return result, nil
}

func (s *AccessService) resolve(ctx context.Context, viewerID, ticketID int64) (*AccessResult, error) {
	ticket, err := s.ticketRepo.GetContent(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrTicketNotFound) {
			return grant(AccessNone, ReasonNotFound), nil
		}
		return nil, err
	}
	if r := s.static(ticket, viewerID); r != nil {
		return r, nil
	}

	purchase, err := s.purchaseRepo.GetByBuyerAndTicket(ctx, viewerID, ticketID)
	if err != nil {
		return nil, err
	}
	if purchase != nil {
		return grant(AccessPurchase, ReasonPurchase), nil
	}

	subscribed, err := s.subRepo.HasAccess(ctx, viewerID, ticket.CreatorID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if subscribed {
		return grant(AccessSubscription, ReasonSubscription), nil
	}
	return grant(AccessNone, ReasonNoAccess), nil
}

// static covers the rules that need nothing but the ticket itself.
func (s *AccessService) static(ticket *model.Ticket, viewerID int64) *AccessResult {
	switch {
	case ticket.IsPublic:
		return grant(AccessPublic, ReasonPublic)
	case viewerID == 0:
		return grant(AccessNone, ReasonNoAccess)
	case ticket.CreatorID == viewerID:
		return grant(AccessOwner, ReasonOwner)
	}
	return nil
}

// ResolveMany resolves a page of tickets with a fixed number of queries.
func (s *AccessService) ResolveMany(ctx context.Context, viewerID int64, ticketIDs []int64) (map[int64]*AccessResult, error) {
	tickets, err := s.ticketRepo.GetContents(ctx, ticketIDs)
	if err != nil {
		return nil, apperr.FromStorage(err)
	}

	out := make(map[int64]*AccessResult, len(ticketIDs))
	var pending []int64
	for _, id := range ticketIDs {
		ticket, ok := tickets[id]
		if !ok {
			out[id] = grant(AccessNone, ReasonNotFound)
			continue
		}
		if r := s.static(ticket, viewerID); r != nil {
			out[id] = r
			continue
		}
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return out, nil
	}

	owned, err := s.purchaseRepo.PurchasedTicketIDs(ctx, viewerID, pending)
	if err != nil {
		return nil, apperr.FromStorage(err)
	}
	subs, err := s.subRepo.ListActiveBySubscriber(ctx, viewerID)
	if err != nil {
		return nil, apperr.FromStorage(err)
	}
	now := s.clock.Now()
	subscribedTo := make(map[int64]bool, len(subs))
	for _, sub := range subs {
		if sub.IsActiveAt(now) && !now.Before(sub.StartDate) {
			subscribedTo[sub.TipsterID] = true
		}
	}

	for _, id := range pending {
		switch {
		case owned[id]:
			out[id] = grant(AccessPurchase, ReasonPurchase)
		case subscribedTo[tickets[id].CreatorID]:
			out[id] = grant(AccessSubscription, ReasonSubscription)
		default:
			out[id] = grant(AccessNone, ReasonNoAccess)
		}
	}
	return out, nil
}
