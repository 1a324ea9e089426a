package pricing

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for pricing settings
type Handler struct {
	provider *Provider
	logger   *slog.Logger
}

// NewHandler creates a new pricing handler
func NewHandler(provider *Provider, logger *slog.Logger) *Handler {
	return &Handler{provider: provider, logger: logger}
}

// RegisterRoutes sets up public pricing routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/pricing", h.GetPricing)
}

// RegisterAdminRoutes sets up admin-only pricing routes
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.PUT("/admin/pricing", h.UpdatePricing)
}

// GetPricing handles GET /pricing
func (h *Handler) GetPricing(c *gin.Context) {
	snap, err := h.provider.Get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "pricing_error",
			"message": "Failed to load pricing settings",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pricing": snap})
}

// UpdatePricing handles PUT /admin/pricing
func (h *Handler) UpdatePricing(c *gin.Context) {
	var upd Update
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	snap, err := h.provider.Apply(c.Request.Context(), upd)
	if err != nil {
		if errors.Is(err, ErrInvalidSetting) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_setting",
				"message": err.Error(),
			})
			return
		}
		h.logger.Error("failed to update pricing", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "pricing_error",
			"message": "Failed to update pricing settings",
		})
		return
	}

	h.logger.Info("pricing settings updated", "version", snap.Version)
	c.JSON(http.StatusOK, gin.H{"pricing": snap})
}
