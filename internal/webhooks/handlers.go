package webhooks

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/conectapro/backend/internal/idgen"
	"github.com/conectapro/backend/internal/security"
)

var knownEvents = map[string]bool{
	EventContactUnlocked: true,
	EventDealClosed:      true,
	EventRefundRequested: true,
	EventRefundSettled:   true,
	EventRefundResolved:  true,
	EventCoinsPurchased:  true,
}

// Handler provides admin HTTP endpoints for subscription management.
type Handler struct {
	store  Store
	logger *slog.Logger
}

// NewHandler creates a new webhooks handler.
func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// RegisterAdminRoutes sets up admin-only webhook routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/webhooks", h.Create)
	r.GET("/admin/webhooks", h.List)
	r.DELETE("/admin/webhooks/:id", h.Delete)
}

// CreateRequest registers a partner endpoint.
type CreateRequest struct {
	Label  string   `json:"label" binding:"required"`
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events" binding:"required"`
}

// Create handles POST /admin/webhooks
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if err := security.ValidateEndpointURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": err.Error(),
		})
		return
	}
	for _, e := range req.Events {
		if !knownEvents[e] {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "unknown_event",
				"message": "Unknown event type: " + e,
			})
			return
		}
	}

	secret := generateSecret()
	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		Label:     req.Label,
		URL:       req.URL,
		Secret:    secret,
		Events:    req.Events,
		Active:    true,
		CreatedAt: time.Now(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		h.logger.Error("failed to create webhook subscription", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create webhook subscription",
		})
		return
	}

	h.logger.Info("webhook subscription created", "id", sub.ID, "label", sub.Label, "events", sub.Events)

	// The secret is shown once at creation and never again.
	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"secret":       secret,
		"usage": gin.H{
			"signature": "hex(HMAC-SHA256(body, secret))",
			"header":    "X-Conecta-Signature",
		},
	})
}

// List handles GET /admin/webhooks
func (h *Handler) List(c *gin.Context) {
	subs, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list webhook subscriptions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list webhook subscriptions",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

// Delete handles DELETE /admin/webhooks/:id
func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Webhook subscription not found",
			})
			return
		}
		h.logger.Error("failed to delete webhook subscription", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete webhook subscription",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func generateSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
