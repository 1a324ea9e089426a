// Package dashboard aggregates platform state for the admin operations view.
package dashboard

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/conectapro/backend/internal/pricing"
	"github.com/conectapro/backend/internal/refunds"
	"github.com/conectapro/backend/internal/requests"
)

// RequestLister exposes request listings.
type RequestLister interface {
	List(ctx context.Context, q requests.Query) ([]*requests.ServiceRequest, error)
}

// RefundQueue exposes the pending moderation queue.
type RefundQueue interface {
	ListPending(ctx context.Context, limit int) ([]*refunds.Refund, error)
}

// PricingProvider exposes the active pricing snapshot.
type PricingProvider interface {
	Get(ctx context.Context) (pricing.Snapshot, error)
}

// FeedStats exposes realtime ops feed statistics.
type FeedStats interface {
	Stats() map[string]any
}

// Handler provides the admin overview endpoints.
type Handler struct {
	requests RequestLister
	refunds  RefundQueue
	pricing  PricingProvider
	feed     FeedStats
}

// NewHandler creates a new dashboard handler.
func NewHandler(reqs RequestLister, refds RefundQueue, prc PricingProvider, feed FeedStats) *Handler {
	return &Handler{requests: reqs, refunds: refds, pricing: prc, feed: feed}
}

// RegisterAdminRoutes sets up admin-only dashboard routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/admin/overview", h.Overview)
	r.GET("/admin/overview/requests", h.OpenRequests)
}

// Overview handles GET /admin/overview
func (h *Handler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	open, err := h.requests.List(ctx, requests.Query{Status: requests.StatusOpen, Limit: 1000})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	inProgress, err := h.requests.List(ctx, requests.Query{Status: requests.StatusInProgress, Limit: 1000})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	pending, err := h.refunds.ListPending(ctx, 1000)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	snap, err := h.pricing.Get(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requests": gin.H{
			"open":       len(open),
			"inProgress": len(inProgress),
		},
		"refunds": gin.H{
			"pendingReview": len(pending),
		},
		"pricing": gin.H{
			"version":             snap.Version,
			"unlockCostNormal":    snap.UnlockCostNormal,
			"unlockCostExclusive": snap.UnlockCostExclusive,
			"refundPercentage":    snap.RefundPercentage,
		},
		"feed": h.feed.Stats(),
	})
}

// OpenRequests handles GET /admin/overview/requests
func (h *Handler) OpenRequests(c *gin.Context) {
	ctx := c.Request.Context()

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	q := requests.Query{Status: requests.StatusOpen, Limit: limit}
	if status := c.Query("status"); status != "" {
		q.Status = requests.Status(status)
	}
	if category := c.Query("category"); category != "" {
		q.Category = category
	}

	list, err := h.requests.List(ctx, q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"requests": list,
		"count":    len(list),
	})
}
