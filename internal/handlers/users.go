package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/identity"
	"messenger-service/internal/models"
	"messenger-service/internal/telemetry"
)

type identityService interface {
	Register(ctx context.Context, in identity.RegisterInput) (models.User, error)
	Login(ctx context.Context, username, password string) (models.User, error)
	Search(ctx context.Context, query string) ([]models.User, error)
	UpdatePushToken(ctx context.Context, username, token string) error
}

type tokenIssuer interface {
	Issue(username string) (string, error)
}

type presenceReader interface {
	OnlineAnywhere(ctx context.Context, username string) (bool, error)
}

// UserHandler serves account, search and presence endpoints.
type UserHandler struct {
	auditor
	users    identityService
	tokens   tokenIssuer
	presence presenceReader
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(users identityService, tokens tokenIssuer, presence presenceReader, audit *telemetry.AuditEmitter) *UserHandler {
	return &UserHandler{
		auditor:  auditor{emitter: audit},
		users:    users,
		tokens:   tokens,
		presence: presence,
	}
}

type authResponse struct {
	User  models.PublicUser `json:"user"`
	Token string            `json:"token"`
}

// Register handles POST /register.
func (h *UserHandler) Register(c *gin.Context) {
	var req struct {
		Username    string `json:"username" binding:"required"`
		DisplayName string `json:"displayName"`
		Avatar      string `json:"avatar"`
		Password    string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Register(c.Request.Context(), identity.RegisterInput{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Avatar:      req.Avatar,
		Password:    req.Password,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	token, err := h.tokens.Issue(user.Username)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Set(usernameContextKey, user.Username)
	h.emitAudit(c, "INFO", "User registered")
	c.JSON(http.StatusCreated, authResponse{User: user.Public(), Token: token})
}

// Login handles POST /login.
func (h *UserHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if writeError(c, err) == http.StatusUnauthorized {
			h.emitAudit(c, "WARN", "login rejected")
		}
		return
	}

	token, err := h.tokens.Issue(user.Username)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, authResponse{User: user.Public(), Token: token})
}

// RegisterDevice handles POST /register-device.
func (h *UserHandler) RegisterDevice(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Token    string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.users.UpdatePushToken(c.Request.Context(), req.Username, req.Token); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Search handles GET /search?q=.
func (h *UserHandler) Search(c *gin.Context) {
	users, err := h.users.Search(c.Request.Context(), strings.TrimSpace(c.Query("q")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.PublicUsers(users))
}

// Presence handles GET /presence/:username.
func (h *UserHandler) Presence(c *gin.Context) {
	online, err := h.presence.OnlineAnywhere(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": online})
}
