package refunds

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/conectapro/backend/internal/auth"
	"github.com/conectapro/backend/internal/metrics"
)

// Handler provides HTTP endpoints for refund settlement
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new refund handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up refund routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/refunds/automatic", h.RequestAutomatic)
	r.POST("/refunds", h.SubmitRequest)
	r.GET("/professionals/:id/refunds", h.ListByProfessional)
}

// RegisterAdminRoutes sets up admin-only refund routes
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/admin/refunds/pending", h.ListPending)
	r.POST("/admin/refunds/:id/resolve", h.Resolve)
}

// AutomaticRefundRequest for the no-questions-asked path
type AutomaticRefundRequest struct {
	UnlockID string `json:"unlockId" binding:"required"`
}

// RequestAutomatic handles POST /refunds/automatic
func (h *Handler) RequestAutomatic(c *gin.Context) {
	var req AutomaticRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	professionalID := auth.ActorID(c)
	refund, balance, err := h.service.RequestAutomaticRefund(c.Request.Context(), professionalID, req.UnlockID)
	if err != nil {
		h.respondRefundError(c, err)
		return
	}

	h.logger.Info("automatic refund settled",
		"professional_id", professionalID,
		"unlock_id", req.UnlockID,
		"refunded_coins", refund.RefundedCoins,
	)
	metrics.RefundsTotal.WithLabelValues("automatic", "approved").Inc()
	metrics.CoinsRefundedTotal.Add(float64(refund.RefundedCoins))
	c.JSON(http.StatusCreated, gin.H{
		"refund":  refund,
		"balance": balance,
	})
}

// ManualRefundRequest for the admin-reviewed dispute path
type ManualRefundRequest struct {
	UnlockID     string   `json:"unlockId" binding:"required"`
	Reason       string   `json:"reason" binding:"required"`
	EvidenceURLs []string `json:"evidenceUrls"`
}

// SubmitRequest handles POST /refunds
func (h *Handler) SubmitRequest(c *gin.Context) {
	var req ManualRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	professionalID := auth.ActorID(c)
	refund, err := h.service.SubmitRefundRequest(c.Request.Context(), professionalID, req.UnlockID, req.Reason, req.EvidenceURLs)
	if err != nil {
		h.respondRefundError(c, err)
		return
	}

	h.logger.Info("refund request submitted",
		"professional_id", professionalID,
		"unlock_id", req.UnlockID,
		"refund_id", refund.ID,
	)
	c.JSON(http.StatusCreated, gin.H{"refund": refund})
}

func (h *Handler) respondRefundError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnlockNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "unlock_not_found",
			"message": "Unlock record not found",
		})
	case errors.Is(err, ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_owner",
			"message": "This unlock belongs to another professional",
		})
	case errors.Is(err, ErrDealAlreadyClosed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "deal_already_closed",
			"message": "You marked this deal as closed, so it cannot be refunded",
		})
	case errors.Is(err, ErrDuplicateRefund):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "duplicate_refund",
			"message": "A refund was already requested for this unlock",
		})
	case errors.Is(err, ErrReasonTooShort):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "reason_too_short",
			"message": "Please describe what happened in at least 20 characters",
		})
	case errors.Is(err, ErrBadEvidenceURL):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "bad_evidence_url",
			"message": "One of the evidence URLs is not allowed",
		})
	case errors.Is(err, ErrRefundWindowClosed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "refund_window_closed",
			"message": "The refund window for this unlock has closed",
		})
	default:
		h.logger.Error("refund failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "refund_error",
			"message": "Failed to process refund",
		})
	}
}

// ListByProfessional handles GET /professionals/:id/refunds
func (h *Handler) ListByProfessional(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	refunds, err := h.service.ListByProfessional(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "refund_error",
			"message": "Failed to list refunds",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refunds": refunds})
}

// ListPending handles GET /admin/refunds/pending
func (h *Handler) ListPending(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	refunds, err := h.service.ListPending(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "refund_error",
			"message": "Failed to list pending refunds",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refunds": refunds})
}

// ResolveRequest is an admin decision on a pending refund
type ResolveRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approved denied"`
	Response string `json:"response"`
}

// Resolve handles POST /admin/refunds/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	adminID := auth.AdminID(c)
	refund, err := h.service.ResolveRefund(c.Request.Context(), c.Param("id"), adminID, Decision(req.Decision), req.Response)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "refund_not_found",
				"message": "Refund record not found",
			})
		case errors.Is(err, ErrAlreadyResolved):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_resolved",
				"message": "This refund request was already resolved",
			})
		default:
			h.logger.Error("refund resolution failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "refund_error",
				"message": "Failed to resolve refund",
			})
		}
		return
	}

	h.logger.Info("refund resolved",
		"refund_id", refund.ID,
		"decision", refund.Status,
		"admin_id", adminID,
	)
	metrics.RefundsTotal.WithLabelValues("manual", string(refund.Status)).Inc()
	metrics.CoinsRefundedTotal.Add(float64(refund.RefundedCoins))
	c.JSON(http.StatusOK, gin.H{"refund": refund})
}
