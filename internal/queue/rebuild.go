package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pomelo-kg/pomelo/pkg/ai"
	"github.com/pomelo-kg/pomelo/pkg/common"
	"github.com/pomelo-kg/pomelo/pkg/community"
	"github.com/pomelo-kg/pomelo/pkg/logger"
	"github.com/pomelo-kg/pomelo/pkg/report"
	"github.com/pomelo-kg/pomelo/pkg/store"
	"github.com/pomelo-kg/pomelo/pkg/tokens"

	"github.com/rabbitmq/amqp091-go"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// RebuildJobMsg requests a full recompute of the community hierarchy and its
// reports. Levels caps the hierarchy depth; zero means the default.
type RebuildJobMsg struct {
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
	Levels        int    `json:"levels,omitempty"`
}

// PublishRebuild enqueues a rebuild job and returns its correlation id.
func PublishRebuild(ch *amqp091.Channel, levels int) (string, error) {
	correlationID, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate correlation id: %w", err)
	}

	msg := RebuildJobMsg{
		Message:       "Rebuild community hierarchy",
		CorrelationID: correlationID,
		Levels:        levels,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal rebuild job: %w", err)
	}

	if err := PublishFIFO(ch, RebuildQueue, data); err != nil {
		return "", fmt.Errorf("failed to publish rebuild job: %w", err)
	}
	return correlationID, nil
}

// RebuildStorage is the storage surface a rebuild touches: the graph it
// reads and the community generation it replaces.
type RebuildStorage interface {
	store.GraphStorage
	ReplaceCommunities(ctx context.Context, communities []common.Community) (int64, error)
	SaveReports(ctx context.Context, reports []common.CommunityReport) error
}

// ProcessRebuildMessage runs one rebuild job: compute the hierarchy, swap it
// into storage, generate a report per community, and persist the reports.
func ProcessRebuildMessage(
	ctx context.Context,
	aiClient ai.GraphAIClient,
	storage RebuildStorage,
	cache store.ResponseCache,
	enc tokens.Encoder,
	msgBody string,
) error {
	var msg RebuildJobMsg
	if err := json.Unmarshal([]byte(msgBody), &msg); err != nil {
		return fmt.Errorf("failed to unmarshal rebuild job: %w", err)
	}

	logger.Info("[Queue] Rebuild started", "correlation_id", msg.CorrelationID, "levels", msg.Levels)

	builder := community.NewBuilder(storage)
	if msg.Levels > 0 {
		builder = builder.WithLevels(msg.Levels)
	}

	hierarchy, err := builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build hierarchy: %w", err)
	}

	generation, err := storage.ReplaceCommunities(ctx, hierarchy.All())
	if err != nil {
		return fmt.Errorf("failed to store communities: %w", err)
	}

	generator := report.NewGenerator(report.NewGeneratorParams{
		AIClient: aiClient,
		Graph:    storage,
		Cache:    cache,
		Encoder:  enc,
	})
	reports, err := generator.Generate(ctx, hierarchy)
	if err != nil {
		return fmt.Errorf("failed to generate reports: %w", err)
	}

	flat := make([]common.CommunityReport, 0, len(reports))
	for _, rep := range reports {
		flat = append(flat, rep)
	}
	if err := storage.SaveReports(ctx, flat); err != nil {
		return fmt.Errorf("failed to store reports: %w", err)
	}

	logger.Info("[Queue] Rebuild finished",
		"correlation_id", msg.CorrelationID,
		"generation", generation,
		"communities", hierarchy.Len(),
	)
	return nil
}
