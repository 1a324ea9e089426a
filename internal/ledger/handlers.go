package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/conectapro/backend/internal/pagination"
)

// Handler provides HTTP endpoints for ledger operations
type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// RegisterRoutes sets up ledger routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/professionals/:id/balance", h.GetBalance)
	r.GET("/professionals/:id/ledger", h.GetHistory)
}

// RegisterAdminRoutes sets up admin-only ledger routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/credits", h.AdminCredit)
}

// GetBalance handles GET /professionals/:id/balance
func (h *Handler) GetBalance(c *gin.Context) {
	professionalID := c.Param("id")

	balance, err := h.ledger.Balance(c.Request.Context(), professionalID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "account_not_found",
				"message": "No coin account for this professional",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"professionalId": professionalID,
		"balance":        balance,
	})
}

// GetHistory handles GET /professionals/:id/ledger
func (h *Handler) GetHistory(c *gin.Context) {
	professionalID := c.Param("id")

	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	cursor := c.Query("cursor")
	if _, err := pagination.Decode(cursor); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Invalid pagination cursor",
		})
		return
	}

	entries, next, more, err := h.ledger.HistoryPage(c.Request.Context(), professionalID, cursor, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_error",
			"message": "Failed to retrieve ledger history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries":    entries,
		"nextCursor": next,
		"hasMore":    more,
	})
}

// AdminCreditRequest for manual coin grants (admin use)
type AdminCreditRequest struct {
	ProfessionalID string `json:"professionalId" binding:"required"`
	Coins          int64  `json:"coins" binding:"required"`
	Description    string `json:"description"`
}

// AdminCredit handles POST /admin/credits
func (h *Handler) AdminCredit(c *gin.Context) {
	var req AdminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	desc := req.Description
	if desc == "" {
		desc = "manual admin credit"
	}

	newBalance, err := h.ledger.CreditAdmin(c.Request.Context(), req.ProfessionalID, req.Coins, desc)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Coins must be a positive integer",
			})
			return
		}
		h.logger.Error("admin credit failed", "professional_id", req.ProfessionalID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "credit_error",
			"message": "Failed to credit coins",
		})
		return
	}

	h.logger.Info("admin credit applied",
		"professional_id", req.ProfessionalID,
		"coins", req.Coins,
	)
	c.JSON(http.StatusOK, gin.H{
		"professionalId": req.ProfessionalID,
		"balance":        newBalance,
	})
}
