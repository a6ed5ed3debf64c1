package pricing

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/bidbox/internal/registry"
)

// Handler exposes the price guide over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a new pricing handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up pricing endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/recipients/:recipient/price-guide", h.GetPriceGuide)
}

// GetPriceGuide handles GET /v1/recipients/:recipient/price-guide
func (h *Handler) GetPriceGuide(c *gin.Context) {
	recipient := c.Param("recipient")

	guide, err := h.service.PriceGuide(c.Request.Context(), recipient)
	if err != nil {
		if errors.Is(err, registry.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "recipient_not_found",
				"message": "No profile with that username",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "price_guide_failed",
			"message": "Failed to compute price guide",
		})
		return
	}

	var username any
	if guide.Username != "" {
		username = guide.Username
	}
	c.JSON(http.StatusOK, gin.H{
		"minBaseUsd":   guide.MinBaseUsd,
		"p25":          guide.P25,
		"median":       guide.Median,
		"p75":          guide.P75,
		"sampleSize":   guide.SampleSize,
		"isRegistered": guide.IsRegistered,
		"username":     username,
	})
}
