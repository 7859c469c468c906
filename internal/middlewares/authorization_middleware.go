package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nkit/internal/responses"
)

// RequireWrite rejects read-scoped tokens on routes that modify data.
// It must run after Authenticate; without claims (auth disabled) it passes.
func RequireWrite(c *gin.Context) {
	claims, ok := ClaimsFrom(c)
	if ok && !claims.CanWrite() {
		responses.Abort(c, http.StatusForbidden, nil, "Access denied. Token is read-only.")
		return
	}
	c.Next()
}
