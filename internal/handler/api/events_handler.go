package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// EventsHandler streams pipeline state transitions over SSE.
type EventsHandler struct {
	deps   *Deps
	logger *zap.Logger
}

func NewEventsHandler(deps *Deps, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{deps: deps, logger: logger}
}

// Stream sends the subject's job and document transitions as they happen.
// The connection stays open until the client goes away.
// GET /api/subjects/:id/events
func (h *EventsHandler) Stream(c echo.Context) error {
	subjectID := c.Param("id")

	events, cancel, err := h.deps.Broadcaster.Subscribe(c.Request().Context(), subjectID)
	if err != nil {
		h.logger.Error("Failed to subscribe to events", zap.String("subject_id", subjectID), zap.Error(err))
		return errorResponse(c, "Failed to subscribe to events")
	}
	defer cancel()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(resp, "data: %s\n\n", payload); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}
