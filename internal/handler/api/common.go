package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"brightpath/internal/broadcast"
	"brightpath/internal/health"
	"brightpath/internal/models"
	"brightpath/internal/pipeline"
	"brightpath/internal/provider"
	"brightpath/internal/quota"
	"brightpath/internal/repository"
)

// Response helpers. Every endpoint answers with the same envelope.
func successResponse(c echo.Context, msg string, obj interface{}) error {
	return c.JSON(http.StatusOK, models.APIResponse{
		Status: true,
		Msg:    msg,
		Obj:    obj,
	})
}

func errorResponse(c echo.Context, msg string) error {
	return c.JSON(http.StatusOK, models.APIResponse{
		Status: false,
		Msg:    msg,
		Obj:    nil,
	})
}

func acceptedResponse(c echo.Context, msg string, obj interface{}) error {
	return c.JSON(http.StatusAccepted, models.APIResponse{
		Status: true,
		Msg:    msg,
		Obj:    obj,
	})
}

// Deps bundles everything the API handlers need.
type Deps struct {
	Jobs        *repository.JobRepository
	Docs        *repository.DocumentRepository
	Analysis    *repository.AnalysisRepository
	Quota       *quota.Service
	Tracker     *provider.Tracker
	Health      *health.Aggregator
	Reports     *pipeline.ReportOrchestrator
	Broadcaster broadcast.Broadcaster
}
