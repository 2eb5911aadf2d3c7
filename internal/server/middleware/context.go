package middleware

import (
	"github.com/MicahParks/keyfunc/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/pomelo-kg/pomelo/pkg/ai"
	"github.com/pomelo-kg/pomelo/pkg/query"
)

type AppUser struct {
	UserID      int64
	Role        string
	Permissions []string
}

type App struct {
	DBConn         *pgxpool.Pool
	Queue          *amqp091.Channel
	Key            *keyfunc.Keyfunc
	AiClient       ai.GraphAIClient
	Engine         *query.Engine
	MasterAPIKey   string
	MasterUserID   int64
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
