package handlers

import (
	"context"
	"net/http"

	"github.com/geocoder89/habithub/internal/domain/user"
	"github.com/geocoder89/habithub/internal/gateway"
	"github.com/gin-gonic/gin"
)

type AuthService interface {
	Register(ctx context.Context, req user.RegisterRequest) (user.User, error)
	Login(ctx context.Context, req user.LoginRequest) (gateway.LoginResult, error)
}

type AuthHandler struct {
	svc AuthService
}

func NewAuthHandler(svc AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// Register creates the account only; the client logs in separately.
func (h *AuthHandler) Register(ctx *gin.Context) {
	var req user.RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	u, err := h.svc.Register(ctx.Request.Context(), req)
	if err != nil {
		respondGatewayError(ctx, err, "Could not create user")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"userId":  u.ID,
	})
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req user.LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	res, err := h.svc.Login(ctx.Request.Context(), req)
	if err != nil {
		respondGatewayError(ctx, err, "Could not log in")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message":   "Login successful",
		"token":     res.Token,
		"name":      res.Name,
		"expiresAt": res.ExpiresAt,
	})
}
