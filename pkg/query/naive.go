package query

import (
	"context"
	"fmt"

	"github.com/pomelo-kg/pomelo/pkg/ai"
	"github.com/pomelo-kg/pomelo/pkg/common"
	"github.com/pomelo-kg/pomelo/pkg/logger"
)

// queryNaive answers a question from raw text chunks found by vector
// search, bypassing the graph entirely. It exists as a fallback for corpora
// where graph structure adds no value or is unavailable. No match returns
// the fixed fallback answer without a completion call.
func (e *Engine) queryNaive(ctx context.Context, question string) (string, error) {
	embedding, err := e.aiClient.GenerateEmbedding(ctx, []byte(question))
	if err != nil {
		return "", err
	}

	hits, err := e.vectors.SearchUnits(ctx, embedding, e.options.TopK)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		logger.Info("[Query] No matching chunks, returning fallback")
		return FallbackAnswer, nil
	}

	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.ID)
	}
	units, err := e.units.GetUnits(ctx, ids)
	if err != nil {
		return "", err
	}

	byID := make(map[string]common.Unit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}

	rows := make([]string, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			rows = append(rows, u.Text)
		}
	}

	section := contextSection{Name: "Sources", Rows: rows}.
		truncate(e.enc, e.options.NaiveContextTokens)
	contextText := renderSections([]contextSection{section})
	if contextText == "" {
		return FallbackAnswer, nil
	}

	return e.complete(ctx, fmt.Sprintf(ai.QueryPrompt, contextText), question)
}
