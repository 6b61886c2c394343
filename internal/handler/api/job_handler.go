package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"brightpath/internal/models"
)

// JobHandler exposes job inspection and the operator actions.
type JobHandler struct {
	deps   *Deps
	logger *zap.Logger
}

func NewJobHandler(deps *Deps, logger *zap.Logger) *JobHandler {
	return &JobHandler{deps: deps, logger: logger}
}

// Get returns one job.
// GET /api/jobs/:id
func (h *JobHandler) Get(c echo.Context) error {
	job, err := h.deps.Jobs.FindByID(c.Param("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errorResponse(c, "Job not found")
	}
	if err != nil {
		return errorResponse(c, "Failed to retrieve job")
	}
	return successResponse(c, "Successful", job)
}

// List returns jobs filtered by status, type and a trailing window.
// GET /api/jobs?status=&type=&hours=&limit=
func (h *JobHandler) List(c echo.Context) error {
	window := time.Duration(0)
	if hours, err := strconv.Atoi(c.QueryParam("hours")); err == nil && hours > 0 {
		window = time.Duration(hours) * time.Hour
	}
	limit := 100
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		limit = v
	}

	jobs, err := h.deps.Jobs.List(c.QueryParam("status"), c.QueryParam("type"), window, limit)
	if err != nil {
		h.logger.Error("Failed to list jobs", zap.Error(err))
		return errorResponse(c, "Failed to retrieve jobs")
	}
	return successResponse(c, "Successful", jobs)
}

// Retry moves a terminal job back to the queue with a fresh retry budget.
// For extract jobs the document's terminal extraction state is reset too,
// so the worker picks it up again.
// POST /api/jobs/:id/retry
func (h *JobHandler) Retry(c echo.Context) error {
	jobID := c.Param("id")

	job, err := h.deps.Jobs.FindByID(jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errorResponse(c, "Job not found")
	}
	if err != nil {
		return errorResponse(c, "Failed to retrieve job")
	}
	if !job.Terminal() {
		return errorResponse(c, "Only completed or failed jobs can be retried")
	}

	if job.JobType == models.JobTypeExtract && job.TargetDocumentID != nil {
		if err := h.deps.Docs.ResetForRetry(*job.TargetDocumentID); err != nil {
			return errorResponse(c, "Failed to reset document for retry")
		}
	}

	requeued, err := h.deps.Jobs.Requeue(jobID)
	if err != nil {
		h.logger.Error("Failed to requeue job", zap.String("job_id", jobID), zap.Error(err))
		return errorResponse(c, "Failed to requeue job")
	}
	return successResponse(c, "Job requeued", requeued)
}

// Cancel stops a queued or processing job. Cancelling a job that is
// already terminal succeeds without changing anything.
// POST /api/jobs/:id/cancel
func (h *JobHandler) Cancel(c echo.Context) error {
	jobID := c.Param("id")

	changed, err := h.deps.Jobs.Cancel(jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errorResponse(c, "Job not found")
	}
	if err != nil {
		h.logger.Error("Failed to cancel job", zap.String("job_id", jobID), zap.Error(err))
		return errorResponse(c, "Failed to cancel job")
	}

	job, err := h.deps.Jobs.FindByID(jobID)
	if err != nil {
		return errorResponse(c, "Failed to retrieve job")
	}
	if !changed {
		return successResponse(c, "Job was already finished", job)
	}
	return successResponse(c, "Job cancelled", job)
}
