package middlewares

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"nkit/internal/responses"
	"nkit/internal/services"
	"nkit/internal/utils"
)

const ClaimsKey = "claims"

// Authenticate requires a valid, unrevoked bearer token. It lets every
// request through when auth is not configured.
func Authenticate(auth *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil || !auth.Enabled() {
			c.Next()
			return
		}

		tokenStr, err := utils.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			responses.Abort(c, http.StatusUnauthorized, err, "Missing or invalid Authorization header")
			return
		}

		claims, err := auth.Verify(c.Request.Context(), tokenStr)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, services.ErrRevocationUnavailable) {
				status = http.StatusInternalServerError
			}
			responses.Abort(c, status, err, "Invalid or expired token")
			return
		}

		// Store the claims in context for handlers
		c.Set(ClaimsKey, claims)

		c.Next()
	}
}

// ClaimsFrom returns the claims set by Authenticate.
func ClaimsFrom(c *gin.Context) (*utils.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*utils.Claims)
	return claims, ok
}
