package purchases

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/conectapro/backend/internal/metrics"
)

// Handler provides HTTP endpoints for coin purchases
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new purchase handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up purchase routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/purchases/packages", h.ListPackages)
	r.POST("/webhooks/stripe", h.StripeWebhook)
}

// ListPackages handles GET /purchases/packages
func (h *Handler) ListPackages(c *gin.Context) {
	packages, err := h.service.Packages(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "purchase_error",
			"message": "Failed to load coin packages",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": packages})
}

// StripeWebhook handles POST /webhooks/stripe.
// Anything other than a signature failure or a transient internal error
// is acked with 200 so Stripe stops retrying.
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<16))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Failed to read webhook payload",
		})
		return
	}

	settlement, err := h.service.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, ErrBadSignature):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "bad_signature",
				"message": "Webhook signature verification failed",
			})
		case errors.Is(err, ErrMissingActor), errors.Is(err, ErrUnknownPackage):
			// Malformed metadata will never succeed on retry.
			h.logger.Warn("unprocessable checkout session", "error", err)
			c.JSON(http.StatusOK, gin.H{"received": true})
		default:
			h.logger.Error("webhook settlement failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "purchase_error",
				"message": "Failed to settle purchase",
			})
		}
		return
	}

	if settlement != nil && !settlement.Duplicate {
		h.logger.Info("coins purchased",
			"professional_id", settlement.ProfessionalID,
			"package_id", settlement.PackageID,
			"coins", settlement.Coins,
		)
		metrics.PurchasesTotal.WithLabelValues(settlement.PackageID).Inc()
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
