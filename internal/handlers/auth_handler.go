package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nkit/internal/fault"
	"nkit/internal/middlewares"
	"nkit/internal/responses"
	"nkit/internal/services"
)

type AuthHandler struct {
	authService *services.AuthService
	faults      *fault.Handler
}

func NewAuthHandler(authService *services.AuthService, faults *fault.Handler) *AuthHandler {
	return &AuthHandler{authService: authService, faults: faults}
}

// Me handles GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := middlewares.ClaimsFrom(c)
	if !ok {
		responses.Fail(c, http.StatusUnauthorized, nil, "Unauthorized")
		return
	}

	responses.Success(c, http.StatusOK, gin.H{
		"subject":    claims.Subject,
		"scope":      claims.Scope,
		"token_id":   claims.ID,
		"expires_at": claims.ExpiresAt,
	}, "")
}

// Logout handles POST /api/v1/auth/logout: the presented token is revoked.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := middlewares.ClaimsFrom(c)
	if !ok {
		responses.Fail(c, http.StatusUnauthorized, nil, "Unauthorized")
		return
	}

	if err := h.authService.Revoke(c.Request.Context(), claims); err != nil {
		fail(c, h.faults, err, "Could not revoke token")
		return
	}

	responses.Success(c, http.StatusOK, nil, "Logged out successfully")
}
