package query

import (
	"context"
	"fmt"
	"time"

	"github.com/pomelo-kg/pomelo/internal/util"
	"github.com/pomelo-kg/pomelo/pkg/ai"
	"github.com/pomelo-kg/pomelo/pkg/store"
	"github.com/pomelo-kg/pomelo/pkg/tokens"
)

type engineOptions struct {
	SystemPrompts []string
	Model         string

	TopK                int
	SectionTokens       int
	NaiveContextTokens  int
	MaxCommunityLevel   int
	MaxCandidateReports int
	MapBatchTokens      int
	ReduceTokens        int
	ParallelRequests    int
	MaxRetries          int
	QueryTimeout        time.Duration
}

// EngineOption is a functional option for configuring query behavior.
type EngineOption func(*engineOptions)

// WithSystemPrompts appends additional system prompts to guide answer
// generation.
func WithSystemPrompts(prompts ...string) EngineOption {
	return func(o *engineOptions) {
		o.SystemPrompts = append(o.SystemPrompts, prompts...)
	}
}

// WithModel specifies which AI model to use for generating answers.
func WithModel(model string) EngineOption {
	return func(o *engineOptions) {
		o.Model = model
	}
}

// WithTopK sets how many vector-search hits seed local and naive retrieval.
func WithTopK(topK int) EngineOption {
	return func(o *engineOptions) {
		if topK > 0 {
			o.TopK = topK
		}
	}
}

// WithSectionTokens sets the per-section token ceiling for local context.
func WithSectionTokens(ceiling int) EngineOption {
	return func(o *engineOptions) {
		if ceiling > 0 {
			o.SectionTokens = ceiling
		}
	}
}

// WithMaxCommunityLevel caps how deep in the hierarchy global mode selects
// candidate communities.
func WithMaxCommunityLevel(level int) EngineOption {
	return func(o *engineOptions) {
		if level >= 0 {
			o.MaxCommunityLevel = level
		}
	}
}

// WithMaxCandidateReports caps the number of community reports considered
// by global mode.
func WithMaxCandidateReports(count int) EngineOption {
	return func(o *engineOptions) {
		if count > 0 {
			o.MaxCandidateReports = count
		}
	}
}

// WithParallelRequests bounds the in-flight completion calls of the global
// map phase.
func WithParallelRequests(n int) EngineOption {
	return func(o *engineOptions) {
		if n > 0 {
			o.ParallelRequests = n
		}
	}
}

// WithQueryTimeout sets the per-query deadline covering all fan-out calls.
func WithQueryTimeout(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		if d > 0 {
			o.QueryTimeout = d
		}
	}
}

// Engine answers questions over a knowledge graph. It combines an AI client
// for generation with storage collaborators for retrieval; the mode selects
// one of three retrieval strategies. An Engine is safe for concurrent use:
// every query builds and discards its own context.
type Engine struct {
	aiClient    ai.GraphAIClient
	graph       store.GraphStorage
	vectors     store.VectorSearcher
	units       store.UnitStorage
	communities store.CommunityStorage
	cache       store.ResponseCache
	enc         tokens.Encoder

	options engineOptions
}

// NewEngineParams defines the collaborators an Engine requires. Cache is
// optional; everything else is mandatory.
type NewEngineParams struct {
	AIClient    ai.GraphAIClient
	Graph       store.GraphStorage
	Vectors     store.VectorSearcher
	Units       store.UnitStorage
	Communities store.CommunityStorage
	Cache       store.ResponseCache
	Encoder     tokens.Encoder
}

// NewEngine creates a query engine.
func NewEngine(params NewEngineParams, opts ...EngineOption) (*Engine, error) {
	if params.AIClient == nil {
		return nil, util.ErrMissingCollaborator("ai client")
	}
	if params.Graph == nil {
		return nil, util.ErrMissingCollaborator("graph storage")
	}
	if params.Vectors == nil {
		return nil, util.ErrMissingCollaborator("vector searcher")
	}
	if params.Units == nil {
		return nil, util.ErrMissingCollaborator("unit storage")
	}
	if params.Communities == nil {
		return nil, util.ErrMissingCollaborator("community storage")
	}
	if params.Encoder == nil {
		return nil, util.ErrMissingCollaborator("token encoder")
	}

	e := &Engine{
		aiClient:    params.AIClient,
		graph:       params.Graph,
		vectors:     params.Vectors,
		units:       params.Units,
		communities: params.Communities,
		cache:       params.Cache,
		enc:         params.Encoder,
		options: engineOptions{
			TopK:                20,
			SectionTokens:       4000,
			NaiveContextTokens:  12000,
			MaxCommunityLevel:   2,
			MaxCandidateReports: 32,
			MapBatchTokens:      12000,
			ReduceTokens:        8000,
			ParallelRequests:    16,
			MaxRetries:          3,
			QueryTimeout:        2 * time.Minute,
		},
	}
	for _, o := range opts {
		o(&e.options)
	}

	return e, nil
}

// Query answers the question using the given retrieval mode.
func (e *Engine) Query(ctx context.Context, mode Mode, question string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.options.QueryTimeout)
	defer cancel()

	switch mode {
	case ModeLocal:
		return e.queryLocal(ctx, question)
	case ModeGlobal:
		return e.queryGlobal(ctx, question)
	case ModeNaive:
		return e.queryNaive(ctx, question)
	default:
		return "", util.ErrInvalidConfig("query mode", string(mode))
	}
}

// complete issues one completion call with retries and the optional
// response cache. A cache hit skips the call entirely. Failures here are
// query failures: this path carries the single local/naive/reduce call.
func (e *Engine) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	cacheKey := store.CacheKey("query-completion", e.options.Model, systemPrompt, userPrompt)
	if e.cache != nil {
		if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
			return cached, nil
		}
	}

	systemPrompts := []string{systemPrompt}
	systemPrompts = append(systemPrompts, e.options.SystemPrompts...)

	opts := []ai.GenerateOption{
		ai.WithSystemPrompts(systemPrompts...),
	}
	if e.options.Model != "" {
		opts = append(opts, ai.WithModel(e.options.Model))
	}

	answer, err := util.RetryWithContext(ctx, e.options.MaxRetries, func(rCtx context.Context) (string, error) {
		return e.aiClient.GenerateCompletion(rCtx, userPrompt, opts...)
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate answer from AI:\n%w", err)
	}

	if e.cache != nil {
		if cErr := e.cache.Set(ctx, cacheKey, answer); cErr != nil {
			return answer, nil
		}
	}
	return answer, nil
}
