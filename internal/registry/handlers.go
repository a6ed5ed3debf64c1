package registry

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/bidbox/internal/validation"
)

// Handler provides HTTP endpoints for profile operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new registry handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up profile routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/profiles", h.CreateProfile)
	r.GET("/profiles/:wallet", h.GetProfile)
}

// CreateProfile handles POST /v1/profiles
func (h *Handler) CreateProfile(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAddress("wallet", req.Wallet),
		validation.ValidAmount("minBidUsd", req.MinBidUsd),
		validation.MaxLength("displayName", req.DisplayName, 100),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	profile, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidUsername):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_username",
				"message": "Username must be 3-32 chars: lowercase letters, digits, _ or -",
			})
		case errors.Is(err, ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "username_taken",
				"message": "Username is already taken",
			})
		case errors.Is(err, ErrProfileExists):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_registered",
				"message": "Wallet already has a profile",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "registration_failed",
				"message": "Failed to create profile",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"profile": profile})
}

// GetProfile handles GET /v1/profiles/:wallet
func (h *Handler) GetProfile(c *gin.Context) {
	wallet := c.Param("wallet")
	if !validation.IsValidEthAddress(wallet) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "wallet must be a valid Ethereum address",
		})
		return
	}

	profile, err := h.service.Get(c.Request.Context(), wallet)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Profile not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to load profile",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"profile": profile})
}
