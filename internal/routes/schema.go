package routes

import (
	"github.com/gin-gonic/gin"

	"nkit/internal/handlers"
	"nkit/internal/middlewares"
)

type SchemaRoutes struct {
	handler *handlers.SchemaHandler
}

func NewSchemaRoutes(handler *handlers.SchemaHandler) *SchemaRoutes {
	return &SchemaRoutes{handler: handler}
}

func (r *SchemaRoutes) RegisterRoutes(router *gin.RouterGroup) {
	schema := router.Group("/schema")
	{
		schema.GET("", r.handler.GetSchema)
		schema.GET("/export", r.handler.ExportSchema)
		schema.GET("/visualize", r.handler.VisualizeSchema)
		schema.POST("/refresh", middlewares.RequireWrite, r.handler.RefreshSchema)
		schema.POST("/import", middlewares.RequireWrite, r.handler.ImportSchema)
	}
}
