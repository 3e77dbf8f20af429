package handlers

import (
	"errors"
	"net/http"

	"github.com/geocoder89/habithub/internal/domain/habit"
	"github.com/geocoder89/habithub/internal/domain/user"
	"github.com/geocoder89/habithub/internal/gateway"
	"github.com/geocoder89/habithub/internal/http/middlewares"
	"github.com/geocoder89/habithub/internal/security"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: middlewares.RequestIDFromContext(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondUnauthorized(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusUnauthorized, code, message, nil)
}

func RespondForbidden(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusForbidden, code, message, nil)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondConflict(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusConflict, code, message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

// respondGatewayError maps gateway and domain errors onto the HTTP taxonomy.
// Anything unrecognised is a 500 with the fallback message; store errors
// never leak to the client.
func respondGatewayError(ctx *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, gateway.ErrValidation), errors.Is(err, habit.ErrInvalidProgress),
		errors.Is(err, security.ErrPasswordTooLong):
		RespondBadRequest(ctx, err.Error(), nil)
	case errors.Is(err, user.ErrEmailTaken):
		RespondConflict(ctx, "email_taken", "Email is already registered.")
	case errors.Is(err, gateway.ErrInvalidCredentials):
		RespondUnauthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
	case errors.Is(err, gateway.ErrMissingToken):
		RespondUnauthorized(ctx, "unauthorized", "Missing access token")
	case errors.Is(err, gateway.ErrInvalidToken):
		RespondForbidden(ctx, "invalid_token", "Invalid or expired access token")
	case errors.Is(err, gateway.ErrForbidden):
		RespondForbidden(ctx, "forbidden", "You do not own this habit.")
	case errors.Is(err, habit.ErrNotFound):
		RespondNotFound(ctx, "Habit not found")
	case errors.Is(err, gateway.ErrVersionConflict):
		RespondConflict(ctx, "version_conflict", "Habit was changed by another request; reload and retry.")
	case errors.Is(err, habit.ErrGridFull):
		RespondConflict(ctx, "grid_full", "Every day of this habit is already marked.")
	default:
		_ = ctx.Error(err)
		RespondInternal(ctx, fallback)
	}
}

func userIDFrom(ctx *gin.Context) (string, bool) {
	id, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnauthorized(ctx, "unauthorized", "Missing access token")
		return "", false
	}
	return id, true
}
