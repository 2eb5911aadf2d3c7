package routes

import (
	"net/http"

	"github.com/pomelo-kg/pomelo/internal/server/middleware"
	"github.com/pomelo-kg/pomelo/pkg/common"
	"github.com/pomelo-kg/pomelo/pkg/logger"
	pgxstore "github.com/pomelo-kg/pomelo/pkg/store/pgx"

	"github.com/labstack/echo/v4"
)

// GetReportHandler returns the generated report of one community.
func GetReportHandler(c echo.Context) error {
	type reportResponse struct {
		Message string                  `json:"message"`
		Report  *common.CommunityReport `json:"report,omitempty"`
	}

	communityID := c.Param("community_id")
	if communityID == "" {
		return c.JSON(http.StatusBadRequest, reportResponse{Message: "Missing community id"})
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	storage, err := pgxstore.NewGraphDBStorageWithConnection(app.DBConn, app.AiClient, nil)
	if err != nil {
		logger.Error("[Server] Failed to create storage", "err", err)
		return c.JSON(http.StatusInternalServerError, reportResponse{Message: "Internal server error"})
	}

	report, err := storage.GetReport(ctx, communityID)
	if err != nil {
		logger.Error("[Server] Failed to get report", "community", communityID, "err", err)
		return c.JSON(http.StatusInternalServerError, reportResponse{Message: "Internal server error"})
	}
	if report == nil {
		return c.JSON(http.StatusNotFound, reportResponse{Message: "Report not found"})
	}

	return c.JSON(http.StatusOK, reportResponse{
		Message: "OK",
		Report:  report,
	})
}
