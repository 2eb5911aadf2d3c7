package routes

import (
	"net/http"

	"github.com/pomelo-kg/pomelo/internal/server/middleware"
	"github.com/pomelo-kg/pomelo/pkg/common"
	"github.com/pomelo-kg/pomelo/pkg/logger"
	pgxstore "github.com/pomelo-kg/pomelo/pkg/store/pgx"

	"github.com/labstack/echo/v4"
)

// GetCommunitiesHandler lists the current community hierarchy generation.
func GetCommunitiesHandler(c echo.Context) error {
	type communitiesResponse struct {
		Message     string             `json:"message"`
		Communities []common.Community `json:"communities,omitempty"`
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	storage, err := pgxstore.NewGraphDBStorageWithConnection(app.DBConn, app.AiClient, nil)
	if err != nil {
		logger.Error("[Server] Failed to create storage", "err", err)
		return c.JSON(http.StatusInternalServerError, communitiesResponse{Message: "Internal server error"})
	}

	communities, err := storage.AllCommunities(ctx)
	if err != nil {
		logger.Error("[Server] Failed to list communities", "err", err)
		return c.JSON(http.StatusInternalServerError, communitiesResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, communitiesResponse{
		Message:     "OK",
		Communities: communities,
	})
}
