package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/models"
	"messenger-service/internal/telemetry"
)

type groupService interface {
	CreateGroup(ctx context.Context, name, admin string, members []string) (models.Group, error)
	LeaveGroup(ctx context.Context, groupID, username string) error
	DeleteGroup(ctx context.Context, groupID, requester string) error
	Groups(ctx context.Context, username string) ([]models.Group, error)
}

// GroupHandler manages group-related endpoints.
type GroupHandler struct {
	auditor
	groups groupService
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(groups groupService, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{auditor: auditor{emitter: audit}, groups: groups}
}

type memberRequest struct {
	Username string `json:"username" binding:"required"`
}

// CreateGroup handles POST /groups.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name    string   `json:"name" binding:"required"`
		Admin   string   `json:"admin" binding:"required"`
		Members []string `json:"members"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Set(usernameContextKey, req.Admin)

	group, err := h.groups.CreateGroup(c.Request.Context(), req.Name, req.Admin, req.Members)
	if err != nil {
		h.emitAudit(c, "ERROR", "could not create group")
		writeError(c, err)
		return
	}

	h.emitAudit(c, "INFO", "Group created")
	c.JSON(http.StatusCreated, group)
}

// ListGroups handles GET /groups/:username.
func (h *GroupHandler) ListGroups(c *gin.Context) {
	groups, err := h.groups.Groups(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

// LeaveGroup handles POST /groups/:id/leave.
func (h *GroupHandler) LeaveGroup(c *gin.Context) {
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Set(usernameContextKey, req.Username)

	if err := h.groups.LeaveGroup(c.Request.Context(), c.Param("id"), req.Username); err != nil {
		writeError(c, err)
		return
	}
	h.emitAudit(c, "INFO", "Group left")
	c.Status(http.StatusNoContent)
}

// DeleteGroup handles DELETE /groups/:id.
func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Set(usernameContextKey, req.Username)

	if err := h.groups.DeleteGroup(c.Request.Context(), c.Param("id"), req.Username); err != nil {
		if writeError(c, err) == http.StatusForbidden {
			h.emitAudit(c, "ERROR", "not allowed to delete group")
		}
		return
	}
	h.emitAudit(c, "INFO", "Group deleted")
	c.Status(http.StatusNoContent)
}
