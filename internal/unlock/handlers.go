package unlock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/conectapro/backend/internal/accounts"
	"github.com/conectapro/backend/internal/auth"
	"github.com/conectapro/backend/internal/ledger"
	"github.com/conectapro/backend/internal/metrics"
)

// Handler provides HTTP endpoints for contact unlocks
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new unlock handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up unlock routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/unlocks", h.UnlockContact)
	r.GET("/professionals/:id/unlocks", h.ListByProfessional)
}

// RegisterAdminRoutes sets up admin-only unlock routes
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/admin/requests/:id/unlocks", h.ListByRequest)
}

// UnlockRequest for unlocking a contact
type UnlockRequest struct {
	RequestID string `json:"requestId" binding:"required"`
	Exclusive bool   `json:"exclusive"`
}

// UnlockContact handles POST /unlocks
func (h *Handler) UnlockContact(c *gin.Context) {
	var req UnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	professionalID := auth.ActorID(c)
	rec, balance, err := h.service.UnlockContact(c.Request.Context(), professionalID, req.RequestID, req.Exclusive)
	if err != nil {
		h.respondUnlockError(c, err)
		return
	}

	h.logger.Info("contact unlocked",
		"professional_id", professionalID,
		"request_id", req.RequestID,
		"exclusive", req.Exclusive,
		"coins_spent", rec.CoinsSpent,
	)
	metrics.UnlocksTotal.WithLabelValues(rec.ContactType()).Inc()
	metrics.CoinsSpentTotal.Add(float64(rec.CoinsSpent))
	c.JSON(http.StatusCreated, gin.H{
		"unlock":  rec,
		"balance": balance,
	})
}

func (h *Handler) respondUnlockError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRequestUnavailable):
		metrics.UnlockRejectionsTotal.WithLabelValues("request_unavailable").Inc()
		c.JSON(http.StatusConflict, gin.H{
			"error":   "request_unavailable",
			"message": "This service request no longer accepts unlocks",
		})
	case errors.Is(err, ErrAlreadyUnlocked):
		metrics.UnlockRejectionsTotal.WithLabelValues("already_unlocked").Inc()
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_unlocked",
			"message": "You already unlocked this contact",
		})
	case errors.Is(err, ErrCapacityReached):
		metrics.UnlockRejectionsTotal.WithLabelValues("capacity_reached").Inc()
		c.JSON(http.StatusConflict, gin.H{
			"error":   "capacity_reached",
			"message": "This request reached its professional limit",
		})
	case errors.Is(err, ErrExclusiveUnavailable):
		metrics.UnlockRejectionsTotal.WithLabelValues("exclusive_unavailable").Inc()
		c.JSON(http.StatusConflict, gin.H{
			"error":   "exclusive_unavailable",
			"message": "Another professional already unlocked this contact",
		})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		metrics.UnlockRejectionsTotal.WithLabelValues("insufficient_balance").Inc()
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "insufficient_balance",
			"message": "Not enough coins. Buy a coin package to continue.",
		})
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, accounts.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "account_not_found",
			"message": "Professional account not found",
		})
	case errors.Is(err, accounts.ErrBanned):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "banned",
			"message": "Your account is banned from unlocking contacts",
		})
	default:
		h.logger.Error("unlock failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "unlock_error",
			"message": "Failed to unlock contact",
		})
	}
}

// ListByProfessional handles GET /professionals/:id/unlocks
func (h *Handler) ListByProfessional(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	records, err := h.service.ListByProfessional(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "unlock_error",
			"message": "Failed to list unlocks",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unlocks": records})
}

// ListByRequest handles GET /admin/requests/:id/unlocks
func (h *Handler) ListByRequest(c *gin.Context) {
	records, err := h.service.ListByRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "unlock_error",
			"message": "Failed to list unlocks",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unlocks": records})
}
