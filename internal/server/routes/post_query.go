package routes

import (
	"net/http"

	"github.com/pomelo-kg/pomelo/internal/server/middleware"
	"github.com/pomelo-kg/pomelo/pkg/logger"
	"github.com/pomelo-kg/pomelo/pkg/query"

	"github.com/labstack/echo/v4"
)

// QueryHandler answers a question over the knowledge graph. The mode selects
// the retrieval strategy; it defaults to global.
func QueryHandler(c echo.Context) error {
	type queryBody struct {
		Question string `json:"question" validate:"required"`
		Mode     string `json:"mode"`
	}

	type queryResponse struct {
		Message string `json:"message"`
		Answer  string `json:"answer,omitempty"`
		Mode    string `json:"mode,omitempty"`
	}

	data := new(queryBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{
			Message: "Invalid request body",
		})
	}

	mode := query.ModeGlobal
	if data.Mode != "" {
		var err error
		mode, err = query.ParseMode(data.Mode)
		if err != nil {
			return c.JSON(http.StatusBadRequest, queryResponse{
				Message: "Unknown query mode: " + data.Mode,
			})
		}
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	answer, err := app.Engine.Query(ctx, mode, data.Question)
	if err != nil {
		logger.Error("[Server] Query failed", "mode", mode, "err", err)
		return c.JSON(http.StatusInternalServerError, queryResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, queryResponse{
		Message: "OK",
		Answer:  answer,
		Mode:    string(mode),
	})
}
