package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pomelo-kg/pomelo/internal/util"
	"github.com/pomelo-kg/pomelo/pkg/ai"

	"github.com/openai/openai-go/v3"
)

const defaultDimensions = 1536

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model.
//
// The input is provided as a byte slice and will be converted to a string
// before being sent to the embedding model. Empty input yields a zero
// vector of the configured dimension instead of an API error.
func (c *GraphOpenAIClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	dim := int(util.GetEnvNumeric("AI_EMBED_DIM", defaultDimensions))
	if len(strings.TrimSpace(string(input))) == 0 {
		return make([]float32, dim), nil
	}

	body := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{string(input)},
		},
		Dimensions: openai.Int(int64(dim)),
	}

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(ctx, body)
	if err != nil {
		return nil, err
	}
	duration := time.Since(start).Milliseconds()

	metrics := ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  duration,
	}
	c.modifyMetrics(metrics)

	if len(response.Data) != 1 {
		return nil, fmt.Errorf("unexpected embedding result size: got %d want 1", len(response.Data))
	}

	out := make([]float32, 0, dim)
	for _, v := range response.Data[0].Embedding {
		out = append(out, float32(v))
	}
	return out, nil
}
