package server

import (
	"github.com/pomelo-kg/pomelo/internal/server/middleware"
	"github.com/pomelo-kg/pomelo/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Query routes
	apiRoutes.POST("/query", routes.QueryHandler, middleware.RequirePermission("query.run"))

	// Graph ingestion routes
	apiRoutes.POST("/entities", routes.SaveEntitiesHandler, middleware.RequirePermission("graph.write"))
	apiRoutes.POST("/relationships", routes.SaveRelationshipsHandler, middleware.RequirePermission("graph.write"))
	apiRoutes.POST("/units", routes.SaveUnitsHandler, middleware.RequirePermission("graph.write"))

	// Community routes
	apiRoutes.POST("/rebuild", routes.RebuildHandler, middleware.RequireAnyPermission("graph.rebuild", "graph.write"))
	apiRoutes.GET("/communities", routes.GetCommunitiesHandler, middleware.RequirePermission("query.run"))
	apiRoutes.GET("/communities/:community_id/report", routes.GetReportHandler, middleware.RequirePermission("query.run"))
}
