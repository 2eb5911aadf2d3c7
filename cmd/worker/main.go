package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pomelo-kg/pomelo/internal/queue"
	"github.com/pomelo-kg/pomelo/internal/util"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pomelo-kg/pomelo/pkg/ai"
	oai "github.com/pomelo-kg/pomelo/pkg/ai/ollama"
	gai "github.com/pomelo-kg/pomelo/pkg/ai/openai"
	"github.com/pomelo-kg/pomelo/pkg/community"
	"github.com/pomelo-kg/pomelo/pkg/leaselock"
	"github.com/pomelo-kg/pomelo/pkg/logger"
	"github.com/pomelo-kg/pomelo/pkg/logger/console"
	"github.com/pomelo-kg/pomelo/pkg/store"
	pgxstore "github.com/pomelo-kg/pomelo/pkg/store/pgx"
	redisstore "github.com/pomelo-kg/pomelo/pkg/store/redis"
	"github.com/pomelo-kg/pomelo/pkg/tokens"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	// GraphAiClient
	adapter := util.GetEnv("AI_ADAPTER")
	var aiClient ai.GraphAIClient

	switch adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			CompletionModel: util.GetEnv("AI_CHAT_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		aiClient = client
	default:
		aiClient = gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			CompletionModel: util.GetEnv("AI_CHAT_MODEL"),

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
		})
	}

	// Init pgx client
	pgConn, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()
	pgConn.Config().AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	// Response cache
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

	partitioner := community.NewLPAPartitioner()
	storage, err := pgxstore.NewGraphDBStorageWithConnection(pgConn, aiClient, partitioner)
	if err != nil {
		logger.Fatal("Failed to create graph storage", "err", err)
	}

	lockClient := leaselock.New(pgConn)

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	queues := []string{queue.RebuildQueue}
	if err := queue.SetupQueues(ch, queues); err != nil {
		logger.Fatal("Failed to setup queues", "err", err)
	}

	logger.Info("Listening for messages")

	// Single consumer channel with prefetch=1 so only one job runs at a time.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
				}
			}
		}(queueName)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				var processingErr error
				switch qm.queueName {
				case queue.RebuildQueue:
					// The lease guarantees a single active rebuild across
					// all workers.
					processingErr = lockClient.WithLease(ctx, "community_rebuild", leaselock.Options{
						TTL:  30 * time.Minute,
						Wait: true,
					}, func(leaseCtx context.Context) error {
						return queue.ProcessRebuildMessage(leaseCtx, aiClient, storage, cache, enc, string(qm.msg.Body))
					})
				}

				// On failure the message goes to retry or dead-letter,
				// otherwise it is acked.
				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					handleProcessingError(consumerCh, qm.msg, qm.queueName)
				} else {
					if err := qm.msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				metrics := aiClient.GetMetrics()
				aiDuration := time.Duration(metrics.DurationMs) * time.Millisecond
				aiHours := int(aiDuration.Hours())
				aiMinutes := int(aiDuration.Minutes()) % 60
				aiSeconds := int(aiDuration.Seconds()) % 60
				logger.Info(
					"AI Metrics",
					"input_tokens", metrics.InputTokens,
					"output_tokens", metrics.OutputTokens,
					"total_tokens", metrics.TotalTokens,
					"duration", fmt.Sprintf("%02d:%02d:%02d", aiHours, aiMinutes, aiSeconds),
				)

				processingDuration := time.Since(startTime)
				hours := int(processingDuration.Hours())
				minutes := int(processingDuration.Minutes()) % 60
				seconds := int(processingDuration.Seconds()) % 60
				logger.Info(
					"Processing time",
					"duration", fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds),
				)
				logger.Info("Waiting for next message")
				aiClient.ResetMetrics()
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

func handleProcessingError(ch *amqp.Channel, msg amqp.Delivery, queueName string) {
	retries := 0
	if val, ok := msg.Headers["x-retries"]; ok {
		if v, ok := val.(int32); ok {
			retries = int(v)
		}
	}

	// After 10 attempts the message goes to the dead-letter queue.
	if retries >= 10 {
		dlqName := queueName + "_dlq"
		logger.Info("Sending message to DLQ", "dlq", dlqName)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp.Publishing{
				ContentType: "application/json",
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := msg.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-retries"] = retries + 1

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("Failed to publish to retry queue", "queue", retryName, "err", pubErr)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}
