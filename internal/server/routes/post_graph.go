package routes

import (
	"net/http"

	"github.com/pomelo-kg/pomelo/internal/server/middleware"
	"github.com/pomelo-kg/pomelo/pkg/common"
	"github.com/pomelo-kg/pomelo/pkg/logger"
	pgxstore "github.com/pomelo-kg/pomelo/pkg/store/pgx"

	"github.com/labstack/echo/v4"
)

type writeResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count,omitempty"`
}

// SaveEntitiesHandler upserts graph entities, embedding their descriptions.
func SaveEntitiesHandler(c echo.Context) error {
	type entitiesBody struct {
		Entities []common.Entity `json:"entities" validate:"required"`
	}

	data := new(entitiesBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, writeResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, writeResponse{Message: "Invalid request body"})
	}
	for _, ent := range data.Entities {
		if ent.Name == "" {
			return c.JSON(http.StatusBadRequest, writeResponse{Message: "Entity name must not be empty"})
		}
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	storage, err := pgxstore.NewGraphDBStorageWithConnection(app.DBConn, app.AiClient, nil)
	if err != nil {
		logger.Error("[Server] Failed to create storage", "err", err)
		return c.JSON(http.StatusInternalServerError, writeResponse{Message: "Internal server error"})
	}

	if err := storage.SaveEntities(ctx, data.Entities); err != nil {
		logger.Error("[Server] Failed to save entities", "err", err)
		return c.JSON(http.StatusInternalServerError, writeResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, writeResponse{Message: "OK", Count: len(data.Entities)})
}

// SaveRelationshipsHandler upserts graph relationships.
func SaveRelationshipsHandler(c echo.Context) error {
	type relationshipsBody struct {
		Relationships []common.Relationship `json:"relationships" validate:"required"`
	}

	data := new(relationshipsBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, writeResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, writeResponse{Message: "Invalid request body"})
	}
	for _, rel := range data.Relationships {
		if rel.Source == "" || rel.Target == "" {
			return c.JSON(http.StatusBadRequest, writeResponse{Message: "Relationship endpoints must not be empty"})
		}
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	storage, err := pgxstore.NewGraphDBStorageWithConnection(app.DBConn, app.AiClient, nil)
	if err != nil {
		logger.Error("[Server] Failed to create storage", "err", err)
		return c.JSON(http.StatusInternalServerError, writeResponse{Message: "Internal server error"})
	}

	if err := storage.SaveRelationships(ctx, data.Relationships); err != nil {
		logger.Error("[Server] Failed to save relationships", "err", err)
		return c.JSON(http.StatusInternalServerError, writeResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, writeResponse{Message: "OK", Count: len(data.Relationships)})
}

// SaveUnitsHandler upserts source text units, embedding their text.
func SaveUnitsHandler(c echo.Context) error {
	type unitsBody struct {
		Units []common.Unit `json:"units" validate:"required"`
	}

	data := new(unitsBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, writeResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, writeResponse{Message: "Invalid request body"})
	}
	for _, unit := range data.Units {
		if unit.ID == "" {
			return c.JSON(http.StatusBadRequest, writeResponse{Message: "Unit id must not be empty"})
		}
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	storage, err := pgxstore.NewGraphDBStorageWithConnection(app.DBConn, app.AiClient, nil)
	if err != nil {
		logger.Error("[Server] Failed to create storage", "err", err)
		return c.JSON(http.StatusInternalServerError, writeResponse{Message: "Internal server error"})
	}

	if err := storage.SaveUnits(ctx, data.Units); err != nil {
		logger.Error("[Server] Failed to save units", "err", err)
		return c.JSON(http.StatusInternalServerError, writeResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, writeResponse{Message: "OK", Count: len(data.Units)})
}
