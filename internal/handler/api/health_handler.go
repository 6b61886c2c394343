package api

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// HealthHandler serves the pipeline dashboard endpoints.
type HealthHandler struct {
	deps   *Deps
	logger *zap.Logger
}

func NewHealthHandler(deps *Deps, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, logger: logger}
}

// Pipeline returns the trailing-window pipeline snapshot.
// GET /api/pipeline/health
func (h *HealthHandler) Pipeline(c echo.Context) error {
	snap, err := h.deps.Health.Snapshot()
	if err != nil {
		h.logger.Error("Failed to compute pipeline snapshot", zap.Error(err))
		return errorResponse(c, "Failed to compute pipeline health")
	}
	return successResponse(c, "Successful", snap)
}

// ResetProvider clears a provider's failure counter, making it eligible
// for work again immediately.
// POST /api/providers/:name/reset
func (h *HealthHandler) ResetProvider(c echo.Context) error {
	name := c.Param("name")
	if err := h.deps.Tracker.Reset(name); err != nil {
		h.logger.Error("Failed to reset provider", zap.String("provider", name), zap.Error(err))
		return errorResponse(c, "Failed to reset provider")
	}
	return successResponse(c, "Provider reset", map[string]string{"provider": name})
}

// Quota returns the subject's monthly analysis usage.
// GET /api/subjects/:id/quota
func (h *HealthHandler) Quota(c echo.Context) error {
	subjectID := c.Param("id")
	used, limit, err := h.deps.Quota.Usage(subjectID)
	if err != nil {
		h.logger.Error("Failed to read quota", zap.String("subject_id", subjectID), zap.Error(err))
		return errorResponse(c, "Failed to read quota")
	}
	return successResponse(c, "Successful", map[string]interface{}{
		"subject_id": subjectID,
		"used":       used,
		"limit":      limit,
		"remaining":  limit - used,
	})
}
