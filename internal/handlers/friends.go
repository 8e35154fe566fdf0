package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/models"
	"messenger-service/internal/telemetry"
)

type relationshipService interface {
	SendRequest(ctx context.Context, from, to string) (models.RequestOutcome, error)
	AcceptRequest(ctx context.Context, user, sender string) (bool, error)
	RejectRequest(ctx context.Context, user, sender string) error
	RemoveFriend(ctx context.Context, user, other string) error
	Friends(ctx context.Context, username string) ([]models.FriendSummary, error)
	IncomingRequests(ctx context.Context, username string) ([]models.PublicUser, error)
}

// FriendHandler serves the relationship graph.
type FriendHandler struct {
	auditor
	relationships relationshipService
}

// NewFriendHandler constructs a FriendHandler.
func NewFriendHandler(relationships relationshipService, audit *telemetry.AuditEmitter) *FriendHandler {
	return &FriendHandler{auditor: auditor{emitter: audit}, relationships: relationships}
}

type pairRequest struct {
	User   string `json:"user" binding:"required"`
	Sender string `json:"sender" binding:"required"`
}

// ListFriends handles GET /friends/:username.
func (h *FriendHandler) ListFriends(c *gin.Context) {
	friends, err := h.relationships.Friends(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, friends)
}

// RemoveFriend handles DELETE /friends/:username with the former friend in the body.
func (h *FriendHandler) RemoveFriend(c *gin.Context) {
	var req struct {
		User string `json:"user" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.relationships.RemoveFriend(c.Request.Context(), c.Param("username"), req.User); err != nil {
		writeError(c, err)
		return
	}
	h.emitAudit(c, "INFO", "Friend removed")
	c.Status(http.StatusNoContent)
}

// ListRequests handles GET /requests/:username.
func (h *FriendHandler) ListRequests(c *gin.Context) {
	requests, err := h.relationships.IncomingRequests(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, requests)
}

// SendRequest handles POST /send_request.
func (h *FriendHandler) SendRequest(c *gin.Context) {
	var req struct {
		From string `json:"from" binding:"required"`
		To   string `json:"to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Set(usernameContextKey, req.From)

	outcome, err := h.relationships.SendRequest(c.Request.Context(), req.From, req.To)
	if err != nil {
		writeError(c, err)
		return
	}

	switch outcome {
	case models.RequestAlreadyFriends, models.RequestAlreadyRequested:
		c.JSON(http.StatusConflict, gin.H{"outcome": outcome, "error": string(outcome)})
		return
	case models.RequestMutual:
		h.emitAudit(c, "INFO", "Friend request resolved by mirror request")
	default:
		h.emitAudit(c, "INFO", "Friend request sent")
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

// Accept handles POST /accept.
func (h *FriendHandler) Accept(c *gin.Context) {
	var req pairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Set(usernameContextKey, req.User)

	friends, err := h.relationships.AcceptRequest(c.Request.Context(), req.User, req.Sender)
	if err != nil {
		writeError(c, err)
		return
	}
	if friends {
		h.emitAudit(c, "INFO", "Friend request accepted")
	}
	c.JSON(http.StatusOK, gin.H{"success": friends, "friend": req.Sender})
}

// Reject handles POST /reject.
func (h *FriendHandler) Reject(c *gin.Context) {
	var req pairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Set(usernameContextKey, req.User)

	if err := h.relationships.RejectRequest(c.Request.Context(), req.User, req.Sender); err != nil {
		writeError(c, err)
		return
	}
	h.emitAudit(c, "INFO", "Friend request rejected")
	c.JSON(http.StatusOK, gin.H{"success": true})
}
