package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nkit/internal/handlers"
	"nkit/internal/middlewares"
	"nkit/internal/services"
)

// RegisterRoutes mounts the API under /api/v1. Schema and auth routes are
// registered before the catch-all entity routes.
func RegisterRoutes(
	router *gin.Engine,
	authService *services.AuthService,
	authHandler *handlers.AuthHandler,
	schemaHandler *handlers.SchemaHandler,
	tableHandler *handlers.TableHandler,
) {
	api := router.Group("/api/v1")
	api.Use(middlewares.Authenticate(authService))

	if authService != nil && authService.Enabled() {
		authRoutes := NewAuthRoutes(authHandler)
		authRoutes.RegisterRoutes(api)
	}

	schemaRoutes := NewSchemaRoutes(schemaHandler)
	schemaRoutes.RegisterRoutes(api)

	tableRoutes := NewTableRoutes(tableHandler)
	tableRoutes.RegisterRoutes(api)

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
}
