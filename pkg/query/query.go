package query

import (
	"context"
	"fmt"
)

// Mode selects the retrieval strategy for one query.
type Mode string

const (
	// ModeLocal retrieves entity-focused context around vector-matched
	// entities.
	ModeLocal Mode = "local"

	// ModeGlobal aggregates community reports with a two-phase map-reduce.
	ModeGlobal Mode = "global"

	// ModeNaive retrieves raw text chunks directly, bypassing the graph.
	ModeNaive Mode = "naive"
)

// FallbackAnswer is returned whenever a query cannot be grounded in any
// retrieved context. It is a fixed string: the completion service is never
// invoked for it.
const FallbackAnswer = "Sorry, I'm not able to provide an answer to that question."

// ParseMode converts a string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLocal, ModeGlobal, ModeNaive:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown query mode: %q", s)
	}
}

// GraphQueryClient defines the interface for answering questions over a
// knowledge graph. Dispatch is a pure function of Mode; queries share no
// mutable state.
type GraphQueryClient interface {
	Query(ctx context.Context, mode Mode, question string) (string, error)
}
