package server

import (
	"github.com/pomelo-kg/pomelo/internal/util"
	oai "github.com/pomelo-kg/pomelo/pkg/ai/ollama"
	gai "github.com/pomelo-kg/pomelo/pkg/ai/openai"
)

func ollamaClientFromEnv() (*oai.GraphOllamaClient, error) {
	return oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
		EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
		CompletionModel: util.GetEnv("AI_CHAT_MODEL"),

		BaseURL: util.GetEnv("AI_CHAT_URL"),
		ApiKey:  util.GetEnv("AI_CHAT_KEY"),

		MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
	})
}

func openaiClientFromEnv() *gai.GraphOpenAIClient {
	return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
		EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
		CompletionModel: util.GetEnv("AI_CHAT_MODEL"),

		EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
		EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
		ChatURL:      util.GetEnv("AI_CHAT_URL"),
		ChatKey:      util.GetEnv("AI_CHAT_KEY"),
	})
}
