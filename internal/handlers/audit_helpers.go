package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"messenger-service/internal/observability"
	"messenger-service/internal/telemetry"
)

const (
	requestIDContextKey = "request_id"
	usernameContextKey  = "username"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader(observability.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// usernameFromContext prefers the authenticated user and falls back to the
// acting user named in the path.
func usernameFromContext(c *gin.Context) *string {
	if val, ok := c.Get(usernameContextKey); ok {
		if username, ok := val.(string); ok && username != "" {
			return &username
		}
	}
	if param := c.Param("username"); param != "" {
		return &param
	}
	return nil
}

type auditor struct {
	emitter *telemetry.AuditEmitter
}

func (a auditor) emitAudit(c *gin.Context, level, text string) {
	if a.emitter == nil {
		return
	}
	a.emitter.Emit(c.Request.Context(), level, text, requestIDFromContext(c), usernameFromContext(c))
}
