package requests

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/conectapro/backend/internal/auth"
	"github.com/conectapro/backend/internal/idgen"
)

// Handler provides HTTP endpoints for service requests
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new requests handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up the public browse routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/requests", h.List)
	r.GET("/requests/:id", h.Get)
}

// RegisterClientRoutes sets up routes that require an authenticated client
func (h *Handler) RegisterClientRoutes(r *gin.RouterGroup) {
	r.POST("/requests", h.Create)
	r.POST("/requests/:id/cancel", h.Cancel)
}

// CreateRequest for posting a service request
type CreateRequest struct {
	Category    string `json:"category" binding:"required"`
	Subcategory string `json:"subcategory"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

// Create handles POST /requests
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	sr := &ServiceRequest{
		ID:          idgen.WithPrefix("req_"),
		ClientID:    auth.ActorID(c),
		Category:    req.Category,
		Subcategory: req.Subcategory,
		Title:       req.Title,
		Description: req.Description,
	}

	if err := h.service.Create(c.Request.Context(), sr); err != nil {
		h.logger.Error("failed to create service request", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "request_error",
			"message": "Failed to create service request",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"request": sr})
}

// Get handles GET /requests/:id
func (h *Handler) Get(c *gin.Context) {
	sr, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Service request not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "request_error",
			"message": "Failed to load service request",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": sr})
}

// Cancel handles POST /requests/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	sr, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Service request not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "request_error",
			"message": "Failed to load service request",
		})
		return
	}

	if sr.ClientID != auth.ActorID(c) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_owner",
			"message": "Only the requesting client can cancel",
		})
		return
	}

	if err := h.service.Cancel(c.Request.Context(), sr.ID); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "invalid_transition",
				"message": "This request can no longer be canceled",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "request_error",
			"message": "Failed to cancel service request",
		})
		return
	}

	h.logger.Info("service request canceled", "request_id", sr.ID)
	c.JSON(http.StatusOK, gin.H{"status": string(StatusCanceled)})
}

// List handles GET /requests
func (h *Handler) List(c *gin.Context) {
	q := Query{
		Category: c.Query("category"),
		Status:   Status(c.Query("status")),
	}
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			q.Limit = n
		}
	}

	list, err := h.service.List(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "request_error",
			"message": "Failed to list service requests",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": list})
}
