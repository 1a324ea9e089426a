package accounts

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/conectapro/backend/internal/idgen"
)

// Handler provides HTTP endpoints for professional accounts
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new accounts handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up account routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/professionals", h.Register)
	r.GET("/professionals/:id", h.Get)
}

// RegisterAdminRoutes sets up admin-only account routes
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/professionals/:id/ban", h.Ban)
	r.POST("/admin/professionals/:id/unban", h.Unban)
}

// RegisterRequest for creating a professional account
type RegisterRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone"`
}

// Register handles POST /professionals
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	prof := &Professional{
		ID:    idgen.WithPrefix("pro_"),
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
	}

	if err := h.service.Register(c.Request.Context(), prof); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_registered",
				"message": "A professional with this email already exists",
			})
			return
		}
		h.logger.Error("registration failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "registration_error",
			"message": "Failed to register professional",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"professional": prof})
}

// Get handles GET /professionals/:id
func (h *Handler) Get(c *gin.Context) {
	prof, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Professional not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "account_error",
			"message": "Failed to load professional",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"professional": prof})
}

// BanRequest carries the admin's ban reason
type BanRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Ban handles POST /admin/professionals/:id/ban
func (h *Handler) Ban(c *gin.Context) {
	var req BanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	prof, err := h.service.Ban(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Professional not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ban_error",
			"message": "Failed to ban professional",
		})
		return
	}

	h.logger.Info("professional banned", "professional_id", prof.ID, "reason", req.Reason)
	c.JSON(http.StatusOK, gin.H{"professional": prof})
}

// Unban handles POST /admin/professionals/:id/unban
func (h *Handler) Unban(c *gin.Context) {
	prof, err := h.service.Unban(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Professional not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ban_error",
			"message": "Failed to unban professional",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"professional": prof})
}
