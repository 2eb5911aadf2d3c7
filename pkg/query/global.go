package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pomelo-kg/pomelo/internal/util"
	"github.com/pomelo-kg/pomelo/pkg/ai"
	"github.com/pomelo-kg/pomelo/pkg/common"
	"github.com/pomelo-kg/pomelo/pkg/logger"
	"github.com/pomelo-kg/pomelo/pkg/store"
	"github.com/pomelo-kg/pomelo/pkg/tokens"

	"golang.org/x/sync/errgroup"
)

type mapResponse struct {
	Points []struct {
		Description string `json:"description" jsonschema_description:"Self-contained claim relevant to the user question"`
		Score       int    `json:"score" jsonschema_description:"Importance of the claim for answering the question, 0-100"`
	} `json:"points"`
}

// point is one scored claim extracted by the map phase. Batch and ordinal
// record where it came from so ranking ties break deterministically, never
// by completion arrival order.
type point struct {
	Description string
	Score       int
	Batch       int
	Ordinal     int
}

// queryGlobal answers a question by map-reducing over community reports.
// Candidate reports are batched into token-budgeted map calls that extract
// scored points concurrently; the reduce call synthesizes the merged,
// ranked points into one answer. Empty candidates, zero usable points, or a
// query timeout all return the fixed fallback answer.
func (e *Engine) queryGlobal(ctx context.Context, question string) (string, error) {
	reports, err := e.candidateReports(ctx)
	if err != nil {
		return "", err
	}
	if len(reports) == 0 {
		logger.Info("[Query] No candidate communities, returning fallback")
		return FallbackAnswer, nil
	}

	batches := e.batchReports(reports)
	points := e.mapPhase(ctx, question, batches)
	if ctx.Err() != nil {
		// Timed out mid fan-out: discard partial results instead of
		// answering from an incomplete map phase.
		logger.Warn("[Query] Global query cancelled, discarding partial map results")
		return FallbackAnswer, nil
	}
	if len(points) == 0 {
		logger.Info("[Query] Map phase yielded no points, returning fallback")
		return FallbackAnswer, nil
	}

	return e.reducePhase(ctx, question, points)
}

// candidateReports selects and orders the communities considered by global
// mode: level at most MaxCommunityLevel, sorted by rating then occurrence
// (community id breaks ties), capped at MaxCandidateReports.
func (e *Engine) candidateReports(ctx context.Context) ([]common.CommunityReport, error) {
	reports, err := e.communities.ReportsUpToLevel(ctx, e.options.MaxCommunityLevel)
	if err != nil {
		return nil, err
	}

	sort.Slice(reports, func(i, j int) bool {
		if reports[i].Rating != reports[j].Rating {
			return reports[i].Rating > reports[j].Rating
		}
		if reports[i].Occurrence != reports[j].Occurrence {
			return reports[i].Occurrence > reports[j].Occurrence
		}
		return reports[i].CommunityID < reports[j].CommunityID
	})

	if len(reports) > e.options.MaxCandidateReports {
		reports = reports[:e.options.MaxCandidateReports]
	}
	return reports, nil
}

// batchReports packs the ordered candidate reports into token-budgeted
// map-call batches.
func (e *Engine) batchReports(reports []common.CommunityReport) [][]tokens.Item {
	items := make([]tokens.Item, 0, len(reports))
	for _, rep := range reports {
		text := fmt.Sprintf("Report (rating %.1f):\n%s", rep.Rating, rep.Content)
		items = append(items, tokens.Item{
			Payload: text,
			Tokens:  e.enc.Count(text),
		})
	}
	return tokens.Batch(items, e.options.MapBatchTokens)
}

// mapPhase fans out one completion call per batch under the concurrency
// ceiling and gathers every parsed point. Batch failures are isolated: a
// batch whose call or parse fails is dropped, the rest proceed.
func (e *Engine) mapPhase(ctx context.Context, question string, batches [][]tokens.Item) []point {
	results := make([][]point, len(batches))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.options.ParallelRequests)

	for i, batch := range batches {
		idx := i
		b := batch
		eg.Go(func() error {
			texts := make([]string, 0, len(b))
			for _, item := range b {
				texts = append(texts, item.Payload)
			}
			prompt := fmt.Sprintf(ai.MapPrompt, question, strings.Join(texts, "\n\n"))

			resp, err := e.mapCall(gCtx, prompt)
			if err != nil {
				logger.Warn("[Query] Map batch dropped", "batch", idx, "err", err)
				return nil
			}

			pts := make([]point, 0, len(resp.Points))
			for ord, p := range resp.Points {
				pts = append(pts, point{
					Description: p.Description,
					Score:       p.Score,
					Batch:       idx,
					Ordinal:     ord,
				})
			}
			results[idx] = pts
			return nil
		})
	}

	// Goroutines never return errors; Wait only synchronizes the fan-in.
	_ = eg.Wait()

	// Merge in batch order so the ranking input is deterministic.
	var points []point
	for _, pts := range results {
		points = append(points, pts...)
	}
	return points
}

func (e *Engine) mapCall(ctx context.Context, prompt string) (*mapResponse, error) {
	cacheKey := store.CacheKey("map-points", e.options.Model, prompt)
	if e.cache != nil {
		if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
			var resp mapResponse
			if err := ai.UnmarshalFlexible(cached, &resp); err == nil {
				return &resp, nil
			}
		}
	}

	var resp mapResponse
	err := util.RetryErrWithContext(ctx, e.options.MaxRetries, func(rCtx context.Context) error {
		resp = mapResponse{}
		return e.aiClient.GenerateCompletionWithFormat(
			rCtx,
			"map_points",
			"Scored points extracted from community reports.",
			prompt,
			&resp,
		)
	})
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// reducePhase ranks the merged points (score descending, original batch and
// point order breaking ties), budget-truncates them, and issues the final
// synthesis call.
func (e *Engine) reducePhase(ctx context.Context, question string, points []point) (string, error) {
	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Score != points[j].Score {
			return points[i].Score > points[j].Score
		}
		if points[i].Batch != points[j].Batch {
			return points[i].Batch < points[j].Batch
		}
		return points[i].Ordinal < points[j].Ordinal
	})

	items := make([]tokens.Item, 0, len(points))
	for _, p := range points {
		row := fmt.Sprintf("Importance %d: %s", p.Score, p.Description)
		items = append(items, tokens.Item{Payload: row, Tokens: e.enc.Count(row)})
	}
	kept := tokens.Truncate(items, e.options.ReduceTokens)

	rows := make([]string, 0, len(kept))
	for _, item := range kept {
		rows = append(rows, item.Payload)
	}

	systemPrompt := fmt.Sprintf(ai.ReducePrompt, question, strings.Join(rows, "\n"))
	return e.complete(ctx, systemPrompt, question)
}
