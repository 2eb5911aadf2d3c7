package routes

import (
	"net/http"

	"github.com/pomelo-kg/pomelo/internal/queue"
	"github.com/pomelo-kg/pomelo/internal/server/middleware"
	"github.com/pomelo-kg/pomelo/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RebuildHandler enqueues a community hierarchy rebuild. The job runs on the
// worker; the response carries a correlation id for log tracing.
func RebuildHandler(c echo.Context) error {
	type rebuildBody struct {
		Levels int `json:"levels"`
	}

	type rebuildResponse struct {
		Message       string `json:"message"`
		CorrelationID string `json:"correlation_id,omitempty"`
	}

	data := new(rebuildBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, rebuildResponse{
			Message: "Invalid request body",
		})
	}

	app := c.(*middleware.AppContext).App

	correlationID, err := queue.PublishRebuild(app.Queue, data.Levels)
	if err != nil {
		logger.Error("[Server] Failed to enqueue rebuild", "err", err)
		return c.JSON(http.StatusInternalServerError, rebuildResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusAccepted, rebuildResponse{
		Message:       "Rebuild enqueued",
		CorrelationID: correlationID,
	})
}
