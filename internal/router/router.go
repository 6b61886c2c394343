package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"brightpath/internal/handler/api"
	"brightpath/internal/middleware"
)

// Setup configures all routes for the Echo server.
func Setup(e *echo.Echo, deps *api.Deps, logger *zap.Logger, apiKey string) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger(logger))

	// Handlers
	documentHandler := api.NewDocumentHandler(deps, logger)
	jobHandler := api.NewJobHandler(deps, logger)
	reportHandler := api.NewReportHandler(deps, logger)
	healthHandler := api.NewHealthHandler(deps, logger)
	eventsHandler := api.NewEventsHandler(deps, logger)

	// API group with auth middleware
	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.APIAuth(apiKey))

	apiGroup.POST("/documents", documentHandler.Create)
	apiGroup.GET("/documents/:id", documentHandler.Get)
	apiGroup.POST("/documents/:id/extract", documentHandler.Extract)
	apiGroup.POST("/documents/:id/analyze", documentHandler.Analyze)

	apiGroup.GET("/jobs", jobHandler.List)
	apiGroup.GET("/jobs/:id", jobHandler.Get)
	apiGroup.POST("/jobs/:id/retry", jobHandler.Retry)
	apiGroup.POST("/jobs/:id/cancel", jobHandler.Cancel)

	apiGroup.GET("/subjects/:id/documents", documentHandler.ListBySubject)
	apiGroup.POST("/subjects/:id/report", reportHandler.Generate)
	apiGroup.GET("/subjects/:id/report", reportHandler.GetLatest)
	apiGroup.GET("/subjects/:id/quota", healthHandler.Quota)
	apiGroup.GET("/subjects/:id/events", eventsHandler.Stream)

	apiGroup.GET("/pipeline/health", healthHandler.Pipeline)
	apiGroup.POST("/providers/:name/reset", healthHandler.ResetProvider)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})
}
