package reputation

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/bidbox/internal/validation"
)

// Handler provides HTTP endpoints for reputation.
type Handler struct {
	service *Service
}

// NewHandler creates a new reputation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up reputation endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/reputation/:address", h.GetReputation)
	r.POST("/vouches", h.CreateVouch)
	r.POST("/blocks", h.CreateBlock)
}

// GetReputation returns the snapshot for a wallet.
func (h *Handler) GetReputation(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))
	if !validation.IsValidEthAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "address must be a valid Ethereum address",
		})
		return
	}

	snap, err := h.service.Get(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reputation_failed",
			"message": "Failed to compute reputation",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reputation": snap})
}

// VouchRequest is the payload for creating a vouch.
type VouchRequest struct {
	Voucher string `json:"voucher" binding:"required"`
	Vouchee string `json:"vouchee" binding:"required"`
}

// CreateVouch handles POST /v1/vouches
func (h *Handler) CreateVouch(c *gin.Context) {
	var req VouchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAddress("voucher", req.Voucher),
		validation.ValidAddress("vouchee", req.Vouchee),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	vouch, err := h.service.Vouch(c.Request.Context(), req.Voucher, req.Vouchee)
	if err != nil {
		switch {
		case errors.Is(err, ErrSelfVouch):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "self_vouch",
				"message": "Cannot vouch for yourself",
			})
		case errors.Is(err, ErrDuplicateVouch):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_vouch",
				"message": "You have already vouched for this wallet",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "vouch_failed",
				"message": "Failed to create vouch",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"vouch": vouch})
}

// BlockRequest is the payload for creating a block.
type BlockRequest struct {
	Blocker string `json:"blocker" binding:"required"`
	Blocked string `json:"blocked" binding:"required"`
	Reason  string `json:"reason"`
}

// CreateBlock handles POST /v1/blocks
func (h *Handler) CreateBlock(c *gin.Context) {
	var req BlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAddress("blocker", req.Blocker),
		validation.ValidAddress("blocked", req.Blocked),
		validation.MaxLength("reason", req.Reason, 500),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	block, err := h.service.Block(c.Request.Context(), req.Blocker, req.Blocked, req.Reason)
	if err != nil {
		if errors.Is(err, ErrDuplicateBlock) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_block",
				"message": "You have already blocked this wallet",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "block_failed",
			"message": "Failed to create block",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"block": block})
}
