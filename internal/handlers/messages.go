package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/models"
	"messenger-service/internal/telemetry"
)

type messageService interface {
	History(ctx context.Context, room string) ([]models.Message, error)
	ClearRoom(ctx context.Context, room string) error
}

// MessageHandler exposes room history.
type MessageHandler struct {
	auditor
	messages messageService
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(messages messageService, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{auditor: auditor{emitter: audit}, messages: messages}
}

// History handles GET /messages/:room.
func (h *MessageHandler) History(c *gin.Context) {
	msgs, err := h.messages.History(c.Request.Context(), c.Param("room"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// ClearRoom handles DELETE /messages/:room.
func (h *MessageHandler) ClearRoom(c *gin.Context) {
	if err := h.messages.ClearRoom(c.Request.Context(), c.Param("room")); err != nil {
		writeError(c, err)
		return
	}
	h.emitAudit(c, "INFO", "Chat cleared")
	c.Status(http.StatusNoContent)
}
