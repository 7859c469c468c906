package routes

import (
	"github.com/gin-gonic/gin"

	"nkit/internal/handlers"
	"nkit/internal/middlewares"
)

type TableRoutes struct {
	tableHandler *handlers.TableHandler
}

func NewTableRoutes(tableHandler *handlers.TableHandler) *TableRoutes {
	return &TableRoutes{
		tableHandler: tableHandler,
	}
}

func (r *TableRoutes) RegisterRoutes(router *gin.RouterGroup) {
	tables := router.Group("/:entity")
	{
		tables.GET("", r.tableHandler.List)
		tables.GET("/:id", r.tableHandler.Get) // also Count and CountLong

		// Writes need a write-scoped token when auth is enabled
		tables.POST("", middlewares.RequireWrite, r.tableHandler.Insert)
		tables.PUT("", middlewares.RequireWrite, r.tableHandler.Update)
		tables.POST("/batch", middlewares.RequireWrite, r.tableHandler.SaveAll)
		tables.DELETE("", middlewares.RequireWrite, r.tableHandler.DeleteAll)
		tables.DELETE("/:id", middlewares.RequireWrite, r.tableHandler.Delete)
	}
}
