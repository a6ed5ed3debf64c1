package messages

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/bidbox/internal/logging"
	"github.com/mbd888/bidbox/internal/metrics"
	"github.com/mbd888/bidbox/internal/payment"
	"github.com/mbd888/bidbox/internal/registry"
	"github.com/mbd888/bidbox/internal/token"
	"github.com/mbd888/bidbox/internal/validation"
	"github.com/mbd888/bidbox/pkg/x402"
)

// CallerHeader names the wallet identity header set by the upstream session
// layer. Session mechanics live outside this service.
const CallerHeader = "X-Wallet-Address"

// Handler provides HTTP endpoints for the message lifecycle.
type Handler struct {
	service  *Service
	issuer   *payment.Issuer
	verifier *payment.Verifier
	registry *registry.Service
	asset    token.Asset
}

// NewHandler creates a new message handler.
func NewHandler(service *Service, issuer *payment.Issuer, verifier *payment.Verifier, reg *registry.Service, asset token.Asset) *Handler {
	return &Handler{
		service:  service,
		issuer:   issuer,
		verifier: verifier,
		registry: reg,
		asset:    asset,
	}
}

// RegisterRoutes sets up message routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/messages", h.Commit)
	r.GET("/messages/:id", h.GetMessage)
	r.POST("/messages/:id/open", h.OpenMessage)
	r.POST("/messages/:id/accept", h.AcceptMessage)
	r.POST("/messages/:id/decline", h.DeclineMessage)
	r.POST("/messages/:id/reply", h.ReplyMessage)
	r.GET("/agents/:address/messages", h.ListMessages)
}

// CommitRequest is the payload for committing a bid.
type CommitRequest struct {
	Recipient      string `json:"recipient" binding:"required"`
	Content        string `json:"content" binding:"required"`
	BidUsd         string `json:"bidUsd" binding:"required"`
	SenderAddr     string `json:"senderAddr" binding:"required"`
	SenderName     string `json:"senderName"`
	ReplyBountyUsd string `json:"replyBountyUsd"`
	ExpiresInHours int    `json:"expiresInHours"`
}

// Commit handles POST /v1/messages. Without a valid X-Payment header the
// response is a 402 challenge; with one, the escrow is created.
func (h *Handler) Commit(c *gin.Context) {
	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if req.ExpiresInHours == 0 {
		req.ExpiresInHours = 24
	}

	if errs := validation.Validate(
		validation.ValidAddress("senderAddr", req.SenderAddr),
		validation.ValidAmount("bidUsd", req.BidUsd),
		validation.ValidAmount("replyBountyUsd", req.ReplyBountyUsd),
		validation.MaxLength("content", req.Content, validation.MaxStringLength),
		validation.MaxLength("senderName", req.SenderName, 100),
		validation.IntRange("expiresInHours", req.ExpiresInHours, MinExpiryHours, MaxExpiryHours),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	recipient, err := h.registry.Resolve(c.Request.Context(), req.Recipient)
	if err != nil {
		if errors.Is(err, registry.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "unknown_recipient",
				"message": "No wallet is known for that recipient",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "resolve_failed",
			"message": "Failed to resolve recipient",
		})
		return
	}

	bid, err := token.ParseAmount(req.BidUsd, h.asset.Decimals)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_bid",
			"message": "Bid is not a valid amount",
		})
		return
	}
	minBid, err := token.ParseAmount(recipient.MinBidUsd, h.asset.Decimals)
	if err == nil && bid.Cmp(minBid) < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "bid_below_minimum",
			"message":   "Bid is below the recipient's minimum",
			"minBidUsd": recipient.MinBidUsd,
		})
		return
	}

	proof, err := x402.ParseProofHeader(c.GetHeader(x402.PaymentHeader))
	if err != nil || proof == nil {
		h.challenge(c, recipient, req.BidUsd)
		return
	}

	auth, err := h.verifier.Verify(c.Request.Context(), proof, payment.Expected{
		Recipient: recipient.Wallet,
		Asset:     h.asset,
		Amount:    bid,
	})
	if err != nil {
		var authErr *payment.AuthError
		reason := "invalid"
		if errors.As(err, &authErr) {
			reason = string(authErr.Reason)
		}
		metrics.AuthorizationRejectionsTotal.WithLabelValues(reason).Inc()
		logging.L(c.Request.Context()).Info("rejected payment authorization",
			"reason", reason, "sender", req.SenderAddr)
		h.challenge(c, recipient, req.BidUsd)
		return
	}

	// The signature recovered to the authorization's sender; now tie that
	// sender to the claimed identity.
	if !strings.EqualFold(auth.Sender, req.SenderAddr) {
		metrics.AuthorizationRejectionsTotal.WithLabelValues("sender_mismatch").Inc()
		h.challenge(c, recipient, req.BidUsd)
		return
	}

	msg, err := h.service.Create(c.Request.Context(), CreateRequest{
		SenderAddr:     req.SenderAddr,
		SenderName:     req.SenderName,
		RecipientAddr:  recipient.Wallet,
		Content:        req.Content,
		BidUsd:         req.BidUsd,
		ReplyBountyUsd: req.ReplyBountyUsd,
		ExpiresInHours: req.ExpiresInHours,
		Asset:          h.asset,
		Authorization:  auth,
	})
	if err != nil {
		if errors.Is(err, ErrNonceReplayed) {
			metrics.AuthorizationRejectionsTotal.WithLabelValues("nonce_replayed").Inc()
			h.challenge(c, recipient, req.BidUsd)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "commit_failed",
			"message": "Failed to create message",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"messageId": msg.ID,
		"status":    msg.Status,
		"bidUsd":    msg.BidUsd,
		"expiresAt": msg.ExpiresAt,
	})
}

func (h *Handler) challenge(c *gin.Context, recipient *registry.Recipient, bidUsd string) {
	required, err := h.issuer.Challenge(recipient.Wallet, bidUsd, h.asset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "challenge_failed",
			"message": "Failed to issue payment challenge",
		})
		return
	}
	metrics.PaymentChallengesTotal.Inc()
	c.JSON(http.StatusPaymentRequired, required)
}

// GetMessage handles GET /v1/messages/:id
func (h *Handler) GetMessage(c *gin.Context) {
	msg, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// OpenMessage handles POST /v1/messages/:id/open
func (h *Handler) OpenMessage(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	msg, err := h.service.Open(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messageId": msg.ID,
		"status":    msg.Status,
		"openedAt":  msg.OpenedAt,
	})
}

// AcceptMessage handles POST /v1/messages/:id/accept
func (h *Handler) AcceptMessage(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	msg, auth, err := h.service.Accept(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messageId":        msg.ID,
		"status":           msg.Status,
		"settlementTxHash": auth.SettlementTxHash,
	})
}

// DeclineRequest is the optional body for a decline.
type DeclineRequest struct {
	Note string `json:"note"`
}

// DeclineMessage handles POST /v1/messages/:id/decline
func (h *Handler) DeclineMessage(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var req DeclineRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	msg, err := h.service.Decline(c.Request.Context(), c.Param("id"), caller, req.Note)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messageId": msg.ID,
		"status":    msg.Status,
		"note":      req.Note,
	})
}

// ReplyMessage handles POST /v1/messages/:id/reply
func (h *Handler) ReplyMessage(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	msg, err := h.service.Reply(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messageId": msg.ID,
		"status":    msg.Status,
		"repliedAt": msg.RepliedAt,
	})
}

// ListMessages handles GET /v1/agents/:address/messages
func (h *Handler) ListMessages(c *gin.Context) {
	address := c.Param("address")

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	msgs, next, err := h.service.ListByWallet(c.Request.Context(), address, c.Query("cursor"), limit)
	if err != nil {
		if errors.Is(err, ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": "Cursor is malformed",
			})
			return
		}
		h.writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	resp := gin.H{
		"messages": msgs,
		"count":    len(msgs),
	}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) caller(c *gin.Context) (string, bool) {
	caller := c.GetHeader(CallerHeader)
	if !validation.IsValidEthAddress(caller) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "missing_identity",
			"message": "X-Wallet-Address header with a valid address is required",
		})
		return "", false
	}
	return caller, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrMessageNotFound), errors.Is(err, ErrAuthNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Message not found",
		})
	case errors.Is(err, ErrNotRecipient):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_recipient",
			"message": "Only the recipient of record may do that",
		})
	case errors.Is(err, ErrStateConflict), errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_resolved",
			"message": "Message has already been resolved",
		})
	case errors.Is(err, ErrSettlementFail):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "settlement_failed",
			"message": "On-chain settlement failed; retry the accept",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
	}
}
