package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pomelo-kg/pomelo/internal/queue"
	mid "github.com/pomelo-kg/pomelo/internal/server/middleware"
	"github.com/pomelo-kg/pomelo/internal/util"
	"github.com/pomelo-kg/pomelo/pkg/ai"
	"github.com/pomelo-kg/pomelo/pkg/logger"
	"github.com/pomelo-kg/pomelo/pkg/query"
	"github.com/pomelo-kg/pomelo/pkg/store"
	pgxstore "github.com/pomelo-kg/pomelo/pkg/store/pgx"
	redisstore "github.com/pomelo-kg/pomelo/pkg/store/redis"
	"github.com/pomelo-kg/pomelo/pkg/tokens"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	pgxvec "github.com/pgvector/pgvector-go/pgx"
	goredis "github.com/redis/go-redis/v9"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// RunMigrations applies all pending schema migrations from the given source
// directory.
func RunMigrations(databaseURL, sourceURL string) error {
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func Init() {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	jwksUrl := util.GetEnv("AUTH_URL") + "/jwks"
	k, err := keyfunc.NewDefault([]string{jwksUrl})
	if err != nil {
		logger.Fatal("Failed to load jwks keys", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	databaseURL := util.GetEnv("DATABASE_URL")
	migrationsURL := util.GetEnvString("MIGRATIONS_URL", "file://migrations")
	if err := RunMigrations(databaseURL, migrationsURL); err != nil {
		logger.Fatal("Failed to run migrations", "err", err)
	}

	conn, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()
	conn.Config().AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.SetupQueues(ch, []string{queue.RebuildQueue}); err != nil {
		logger.Fatal("Failed to setup queues", "err", err)
	}

	aiClient := NewAIClientFromEnv()

	var cache store.ResponseCache
	if redisAddr := util.GetEnv("REDIS_ADDR"); redisAddr != "" {
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:     redisAddr,
			Password: util.GetEnv("REDIS_PASSWORD"),
			DB:       int(util.GetEnvNumeric("REDIS_DB", 0)),
		})
		cache, err = redisstore.NewResponseCache(redisClient)
		if err != nil {
			logger.Fatal("Failed to create response cache", "err", err)
		}
	}

	enc, err := tokens.NewTiktokenEncoder(util.GetEnvString("AI_TOKEN_ENCODING", "o200k_base"))
	if err != nil {
		logger.Fatal("Failed to create token encoder", "err", err)
	}

	storage, err := pgxstore.NewGraphDBStorageWithConnection(conn, aiClient, nil)
	if err != nil {
		logger.Fatal("Failed to create graph storage", "err", err)
	}

	engine, err := query.NewEngine(query.NewEngineParams{
		AIClient:    aiClient,
		Graph:       storage,
		Vectors:     storage,
		Units:       storage,
		Communities: storage,
		Cache:       cache,
		Encoder:     enc,
	},
		query.WithModel(util.GetEnv("AI_CHAT_MODEL")),
		query.WithTopK(int(util.GetEnvNumeric("QUERY_TOP_K", 20))),
		query.WithMaxCommunityLevel(int(util.GetEnvNumeric("QUERY_MAX_COMMUNITY_LEVEL", 2))),
		query.WithParallelRequests(int(util.GetEnvNumeric("AI_PARALLEL_REQ", 15))),
	)
	if err != nil {
		logger.Fatal("Failed to create query engine", "err", err)
	}

	masterAPIKey := util.GetEnv("MASTER_API_KEY")
	parsedMasterUserID, _ := strconv.ParseInt(util.GetEnv("MASTER_USER_ID"), 10, 64)
	masterUserRole := util.GetEnv("MASTER_USER_ROLE")

	app := &mid.App{
		DBConn:         conn,
		Queue:          ch,
		Key:            &k,
		AiClient:       aiClient,
		Engine:         engine,
		MasterAPIKey:   masterAPIKey,
		MasterUserID:   parsedMasterUserID,
		MasterUserRole: masterUserRole,
	}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64M"))

	RegisterRoutes(e)

	go func() {
		port := util.GetEnv("PORT")
		if port == "" {
			port = "8080"
		}
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

// NewAIClientFromEnv builds the configured AI client. AI_ADAPTER selects the
// provider; OpenAI-compatible endpoints are the default.
func NewAIClientFromEnv() ai.GraphAIClient {
	adapter := util.GetEnv("AI_ADAPTER")

	switch adapter {
	case "ollama":
		client, err := ollamaClientFromEnv()
		if err != nil {
			logger.Fatal("Failed to create Ollama client", "err", err)
		}
		return client
	default:
		return openaiClientFromEnv()
	}
}
