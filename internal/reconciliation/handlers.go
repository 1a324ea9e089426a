package reconciliation

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides the admin audit endpoint
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new reconciliation handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterAdminRoutes sets up admin-only reconciliation routes
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/reconciliation/sweep", h.RunSweep)
}

// RunSweep handles POST /admin/reconciliation/sweep
func (h *Handler) RunSweep(c *gin.Context) {
	report, err := h.service.Sweep(c.Request.Context())
	if err != nil {
		h.logger.Error("reconciliation sweep failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reconciliation_error",
			"message": "Failed to run ledger sweep",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}
