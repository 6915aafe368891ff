package handler

import (
	"strconv"

	"sharetips/internal/apperr"
	"sharetips/internal/service"
	"sharetips/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler exposes the core's operations to the API gateway.
type Handler struct {
	svc *service.Services
}

func NewHandler(svc *service.Services) *Handler {
	return &Handler{svc: svc}
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, name+" is invalid")
		return 0, false
	}
	return id, true
}

// ============================================================
// Wallet
// ============================================================

// GetWallet GET /api/v1/wallet
func (h *Handler) GetWallet(c *gin.Context) {
	view, err := h.svc.Wallet.GetWallet(c.Request.Context(), currentUser(c))
	if err != nil {
		response.FromError(c, err, nil)
		return
	}
	response.Success(c, view)
}

// ListTransactions GET /api/v1/wallet/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page, pageSize := pageParams(c)
	list, total, err := h.svc.Wallet.ListTransactions(c.Request.Context(), currentUser(c), page, pageSize)
	if err != nil {
		response.FromError(c, err, nil)
		return
	}
	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type PayoutRequest struct {
	PayoutNo    string `json:"payout_no"`
	AmountCents int64  `json:"amount_cents" binding:"required,gt=0"`
}

// RequestPayout POST /api/v1/wallet/payouts
//
// A client retrying after a timeout resends the payout_no it received, which
// makes the retry a no-op.
func (h *Handler) RequestPayout(c *gin.Context) {
	var req PayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Payout.Request(c.Request.Context(), req.PayoutNo, currentUser(c), req.AmountCents)
	if err != nil {
		response.FromError(c, err, nil)
		return
	}
	response.Success(c, res)
}

type CompletePayoutRequest struct {
	OwnerID int64 `json:"owner_id" binding:"required,gt=0"`
	Paid    bool  `json:"paid"`
}

// CompletePayout POST /internal/payouts/:payout_no/complete
//
// Called by the payment gateway once the bank transfer is final.
func (h *Handler) CompletePayout(c *gin.Context) {
	var req CompletePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Payout.Complete(c.Request.Context(), c.Param("payout_no"), req.OwnerID, req.Paid)
	if err != nil {
		response.FromError(c, err, nil)
		return
	}
	response.Success(c, res)
}

// ============================================================
// Purchases
// ============================================================

type PurchaseRequest struct {
	TicketID int64 `json:"ticket_id" binding:"required,gt=0"`
}

// Purchase POST /api/v1/purchases
func (h *Handler) Purchase(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Purchase.Purchase(c.Request.Context(), currentUser(c), req.TicketID)
	if err != nil {
		response.FromError(c, err, res)
		return
	}
	response.Success(c, res)
}

// ListPurchases GET /api/v1/purchases?page=1&page_size=20
func (h *Handler) ListPurchases(c *gin.Context) {
	page, pageSize := pageParams(c)
	list, total, err := h.svc.Purchase.ListPurchases(c.Request.Context(), currentUser(c), page, pageSize)
	if err != nil {
		response.FromError(c, err, nil)
		return
	}
	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// Subscriptions
// ============================================================

type SubscribeRequest struct {
	TipsterID  int64 `json:"tipster_id" binding:"required,gt=0"`
	PriceCents int64 `json:"price_cents" binding:"required,gt=0"`
}

// Subscribe POST /api/v1/subscriptions
func (h *Handler) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Subscription.Subscribe(c.Request.Context(), currentUser(c), req.TipsterID, req.PriceCents)
	if err != nil {
		response.FromError(c, err, res)
		return
	}
	response.Success(c, res)
}

// Unsubscribe DELETE /api/v1/subscriptions/:tipster_id
func (h *Handler) Unsubscribe(c *gin.Context) {
	tipsterID, ok := pathID(c, "tipster_id")
	if !ok {
		return
	}
	cancelled, err := h.svc.Subscription.Unsubscribe(c.Request.Context(), currentUser(c), tipsterID)
	if err != nil {
		response.FromError(c, err, nil)
		return
	}
	if !cancelled {
		response.FromError(c, apperr.ErrSubscriptionNotFound, gin.H{"cancelled": false})
		return
	}
	response.Success(c, gin.H{"cancelled": true})
}

// ListSubscriptions GET /api/v1/subscriptions
func (h *Handler) ListSubscriptions(c *gin.Context) {
	subs, err := h.svc.Subscription.ListActive(c.Request.Context(), currentUser(c))
	if err != nil {
		response.FromError(c, err, nil)
		return
	}
	response.Success(c, gin.H{"list": subs})
}

// ListSubscribers GET /api/v1/subscribers
func (h *Handler) ListSubscribers(c *gin.Context) {
	subs, err := h.svc.Subscription.ListSubscribers(c.Request.Context(), currentUser(c))
	if err != nil {
		response.FromError(c, err, nil)
		return
	}
	response.Success(c, gin.H{"list": subs})
}

// ============================================================
// Access
// ============================================================

// ResolveAccess GET /api/v1/access/:ticket_id
func (h *Handler) ResolveAccess(c *gin.Context) {
	ticketID, ok := pathID(c, "ticket_id")
	if !ok {
		return
	}
	res, err := h.svc.Access.Resolve(c.Request.Context(), currentUser(c), ticketID)
	if err != nil {
		response.FromError(c, err, nil)
		return
	}
	response.Success(c, res)
}

type ResolveManyRequest struct {
	TicketIDs []int64 `json:"ticket_ids" binding:"required,min=1,max=200"`
}

// ResolveAccessBatch POST /api/v1/access/batch
func (h *Handler) ResolveAccessBatch(c *gin.Context) {
	var req ResolveManyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Access.ResolveMany(c.Request.Context(), currentUser(c), req.TicketIDs)
	if err != nil {
		response.FromError(c, err, nil)
		return
	}
	response.Success(c, res)
}
