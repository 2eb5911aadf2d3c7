package openai

import (
	"sync"

	"github.com/pomelo-kg/pomelo/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// GraphOpenAIClient is an OpenAI-compatible implementation of
// ai.GraphAIClient. It manages separate clients for embeddings and
// chat/completion tasks so both can point at different endpoints.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	embeddingModel  string
	completionModel string

	embeddingURL string
	embeddingKey string
	chatURL      string
	chatKey      string

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewGraphOpenAIClientParams defines the configuration parameters for
// creating a new GraphOpenAIClient.
//
// EmbeddingModel specifies the model used for embeddings.
// CompletionModel specifies the model used for report generation and answers.
// EmbeddingURL and EmbeddingKey configure the embedding API endpoint.
// ChatURL and ChatKey configure the chat/completion API endpoint.
type NewGraphOpenAIClientParams struct {
	EmbeddingModel  string
	CompletionModel string

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string
}

// NewGraphOpenAIClient creates and returns a new GraphOpenAIClient configured
// with the provided parameters.
//
// Example:
//
//	params := openai.NewGraphOpenAIClientParams{
//		EmbeddingModel:  "text-embedding-3-small",
//		CompletionModel: "gpt-4o-mini",
//		EmbeddingKey:    os.Getenv("OPENAI_API_KEY"),
//		ChatKey:         os.Getenv("OPENAI_API_KEY"),
//	}
//	client := openai.NewGraphOpenAIClient(params)
func NewGraphOpenAIClient(
	params NewGraphOpenAIClientParams,
) *GraphOpenAIClient {
	chatClient := newOpenaiClient(params.ChatURL, params.ChatKey)
	embedClient := newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey)

	return &GraphOpenAIClient{
		embeddingModel:  params.EmbeddingModel,
		completionModel: params.CompletionModel,

		chatURL:      params.ChatURL,
		chatKey:      params.ChatKey,
		embeddingURL: params.EmbeddingURL,
		embeddingKey: params.EmbeddingKey,

		metricsLock: sync.Mutex{},

		ChatClient:      chatClient,
		EmbeddingClient: embedClient,
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

func (c *GraphOpenAIClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.InputTokens += m.InputTokens
	c.metrics.OutputTokens += m.OutputTokens
	c.metrics.TotalTokens += m.TotalTokens
	c.metrics.DurationMs += m.DurationMs
}

// ResetMetrics clears the accumulated model metrics.
func (c *GraphOpenAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics = ai.ModelMetrics{}
}

// GetMetrics returns the accumulated model metrics.
func (c *GraphOpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	return c.metrics
}
