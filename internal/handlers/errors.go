package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"messenger-service/internal/auth"
	"messenger-service/internal/dispatch"
	"messenger-service/internal/identity"
	"messenger-service/internal/repositories"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrValidation),
		errors.Is(err, identity.ErrInvalidUsername),
		errors.Is(err, repositories.ErrUsernameTaken):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrInvalidPassword),
		errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, dispatch.ErrNotAdmin),
		errors.Is(err, dispatch.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, repositories.ErrUserNotFound),
		errors.Is(err, repositories.ErrGroupNotFound),
		errors.Is(err, repositories.ErrMessageNotFound),
		errors.Is(err, repositories.ErrNotMember):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps domain errors to a status and a JSON body. Internal errors
// are logged and answered with a generic message.
func writeError(c *gin.Context, err error) int {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return status
	}
	c.JSON(status, gin.H{"error": err.Error()})
	return status
}
