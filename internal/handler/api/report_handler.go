package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"brightpath/internal/pipeline"
)

// ReportHandler runs and serves subject reports.
type ReportHandler struct {
	deps   *Deps
	logger *zap.Logger
}

func NewReportHandler(deps *Deps, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{deps: deps, logger: logger}
}

type generateReportRequest struct {
	FocusArea string `json:"focus_area"`
}

// Generate kicks off a report run for the subject and returns immediately.
// Progress is observable through the subject's event stream and the jobs
// API; the finished report lands on GET /api/subjects/:id/report.
// POST /api/subjects/:id/report
func (h *ReportHandler) Generate(c echo.Context) error {
	subjectID := c.Param("id")

	var req generateReportRequest
	_ = c.Bind(&req)

	focusArea, err := pipeline.ValidateFocusArea(req.FocusArea)
	if err != nil {
		return errorResponse(c, err.Error())
	}

	go func() {
		if _, err := h.deps.Reports.Run(context.Background(), subjectID, focusArea); err != nil {
			h.logger.Error("Report run failed",
				zap.String("subject_id", subjectID),
				zap.String("focus_area", focusArea),
				zap.Error(err))
		}
	}()

	return acceptedResponse(c, "Report generation started", map[string]string{
		"subject_id": subjectID,
		"focus_area": focusArea,
	})
}

// GetLatest returns the subject's most recent report.
// GET /api/subjects/:id/report
func (h *ReportHandler) GetLatest(c echo.Context) error {
	report, err := h.deps.Analysis.FindLatestReport(c.Param("id"))
	if err != nil {
		return errorResponse(c, "Failed to retrieve report")
	}
	if report == nil {
		return errorResponse(c, "No report has been generated yet")
	}
	return successResponse(c, "Successful", report)
}
