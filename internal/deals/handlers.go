package deals

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/conectapro/backend/internal/auth"
	"github.com/conectapro/backend/internal/metrics"
)

// Handler provides HTTP endpoints for deal outcomes
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new deals handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up deal outcome routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/deals/close", h.MarkDealClosed)
}

// CloseRequest identifies the request whose deal was closed
type CloseRequest struct {
	RequestID string `json:"requestId" binding:"required"`
}

// MarkDealClosed handles POST /deals/close
func (h *Handler) MarkDealClosed(c *gin.Context) {
	var req CloseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	professionalID := auth.ActorID(c)
	rec, err := h.service.MarkDealClosed(c.Request.Context(), professionalID, req.RequestID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoAccess):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "no_access",
				"message": "You have not unlocked this contact",
			})
		case errors.Is(err, ErrAlreadyClosed):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_closed",
				"message": "This deal is already marked closed",
			})
		case errors.Is(err, ErrRefundAlreadyUsed):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "refund_already_used",
				"message": "A refund was already requested for this unlock",
			})
		default:
			h.logger.Error("deal close failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "deal_error",
				"message": "Failed to mark deal closed",
			})
		}
		return
	}

	h.logger.Info("deal closed",
		"professional_id", professionalID,
		"request_id", req.RequestID,
	)
	metrics.DealsClosedTotal.Inc()
	c.JSON(http.StatusOK, gin.H{"unlock": rec})
}
