package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pomelo-kg/pomelo/internal/util"
	"github.com/pomelo-kg/pomelo/pkg/ai"
	"github.com/pomelo-kg/pomelo/pkg/common"
	"github.com/pomelo-kg/pomelo/pkg/community"
	"github.com/pomelo-kg/pomelo/pkg/logger"
	"github.com/pomelo-kg/pomelo/pkg/store"
	"github.com/pomelo-kg/pomelo/pkg/tokens"

	"golang.org/x/sync/errgroup"
)

const (
	// neutralRating is assigned when the completion service returns an
	// unstructured report and no rating can be parsed.
	neutralRating = 5.0

	// promptOverhead reserves room for the report prompt template around
	// the packed member descriptions.
	promptOverhead = 600
)

type structuredReport struct {
	Title    string  `json:"title" jsonschema_description:"Short title naming the community's most representative entities"`
	Rating   float64 `json:"rating" jsonschema_description:"Importance of the community to the corpus, 0-10"`
	Findings []struct {
		Summary     string `json:"summary" jsonschema_description:"One sentence insight"`
		Explanation string `json:"explanation" jsonschema_description:"Grounded multi-sentence detail"`
	} `json:"findings"`
}

// Generator produces one CommunityReport per community in a hierarchy
// snapshot. Completion calls run with bounded concurrency; a community
// whose structured call fails falls back to plain text, and a community
// whose calls all fail still receives a degraded report built from its own
// member descriptions. Generation never leaves a community without a report.
type Generator struct {
	aiClient ai.GraphAIClient
	graph    store.GraphStorage
	cache    store.ResponseCache
	enc      tokens.Encoder

	maxPromptTokens  int
	parallelRequests int
	maxRetries       int
}

// NewGeneratorParams defines the configuration for creating a Generator.
// Cache is optional; when set, identical prompts short-circuit the
// completion call.
type NewGeneratorParams struct {
	AIClient ai.GraphAIClient
	Graph    store.GraphStorage
	Cache    store.ResponseCache
	Encoder  tokens.Encoder

	MaxPromptTokens  int
	ParallelRequests int
	MaxRetries       int
}

// NewGenerator creates a report generator.
func NewGenerator(params NewGeneratorParams) *Generator {
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	parallel := params.ParallelRequests
	if parallel <= 0 {
		parallel = 8
	}
	maxPrompt := params.MaxPromptTokens
	if maxPrompt <= 0 {
		maxPrompt = 12000
	}

	return &Generator{
		aiClient:         params.AIClient,
		graph:            params.Graph,
		cache:            params.Cache,
		enc:              params.Encoder,
		maxPromptTokens:  maxPrompt,
		parallelRequests: parallel,
		maxRetries:       maxRetries,
	}
}

// Generate produces a report for every community in the hierarchy. Failures
// are isolated per community; the returned map always has exactly one entry
// per community id.
func (g *Generator) Generate(
	ctx context.Context,
	hierarchy *community.Hierarchy,
) (map[string]common.CommunityReport, error) {
	communities := hierarchy.All()

	reports := make(map[string]common.CommunityReport, len(communities))
	var mu sync.Mutex

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallelRequests)

	for _, c := range communities {
		comm := c
		eg.Go(func() error {
			rep := g.generateOne(gCtx, comm)

			mu.Lock()
			defer mu.Unlock()
			reports[comm.ID] = rep
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	logger.Info("[Report] Reports generated", "communities", len(communities))

	return reports, nil
}

// generateOne builds the budgeted prompt for one community and drives the
// completion call chain: cached structured result, structured call,
// plain-text fallback, and finally a degraded report from the packed
// descriptions themselves.
func (g *Generator) generateOne(ctx context.Context, comm common.Community) common.CommunityReport {
	packed := g.packDescriptions(ctx, comm)
	prompt := fmt.Sprintf(ai.ReportPrompt, packed)

	rep := common.CommunityReport{
		CommunityID: comm.ID,
		Level:       comm.Level,
		Rating:      neutralRating,
		Occurrence:  comm.Occurrence,
	}

	cacheKey := store.CacheKey("community-report", comm.ID, packed)
	if g.cache != nil {
		if cached, ok, err := g.cache.Get(ctx, cacheKey); err == nil && ok {
			var sr structuredReport
			if err := json.Unmarshal([]byte(cached), &sr); err == nil {
				fillFromStructured(&rep, sr)
				return rep
			}
		}
	}

	sr, err := util.RetryWithContext(ctx, g.maxRetries, func(rCtx context.Context) (structuredReport, error) {
		var out structuredReport
		err := g.aiClient.GenerateCompletionWithFormat(
			rCtx,
			"community_report",
			"A structured report about one community of a knowledge graph.",
			prompt,
			&out,
		)
		return out, err
	})
	if err == nil {
		fillFromStructured(&rep, sr)
		if g.cache != nil {
			if data, mErr := json.Marshal(sr); mErr == nil {
				if cErr := g.cache.Set(ctx, cacheKey, string(data)); cErr != nil {
					logger.Debug("[Report] Cache write failed", "community", comm.ID, "err", cErr)
				}
			}
		}
		return rep
	}

	logger.Warn("[Report] Structured report failed, falling back to plain text",
		"community", comm.ID, "err", err)

	raw, err := util.RetryWithContext(ctx, g.maxRetries, func(rCtx context.Context) (string, error) {
		return g.aiClient.GenerateCompletion(rCtx, prompt)
	})
	if err == nil && strings.TrimSpace(raw) != "" {
		rep.Content = raw
		rep.Findings = []common.Finding{{
			Summary:     firstLine(raw),
			Explanation: raw,
		}}
		return rep
	}

	logger.Error("[Report] Report generation failed, emitting degraded report",
		"community", comm.ID, "err", err)

	rep.Content = packed
	rep.Findings = []common.Finding{{
		Summary:     fmt.Sprintf("Community of %d entities", len(comm.Entities)),
		Explanation: packed,
	}}
	return rep
}

// packDescriptions formats the community's member entity and relationship
// descriptions and truncates them to the prompt budget. Entities are ordered
// by degree, relationships by weight, so truncation drops the least
// connected members first.
func (g *Generator) packDescriptions(ctx context.Context, comm common.Community) string {
	entities, err := g.graph.GetEntitiesByNames(ctx, comm.Entities)
	if err != nil {
		logger.Warn("[Report] Failed to load member entities", "community", comm.ID, "err", err)
	}
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Degree != entities[j].Degree {
			return entities[i].Degree > entities[j].Degree
		}
		return entities[i].Name < entities[j].Name
	})

	rows := make([]string, 0, len(entities)+len(comm.Relationships))
	rows = append(rows, "Entities:")
	for _, e := range entities {
		rows = append(rows, fmt.Sprintf("%s,%s: %s", e.Name, e.Type, e.Description))
	}

	relationships := g.memberRelationships(ctx, comm)
	sort.Slice(relationships, func(i, j int) bool {
		if relationships[i].Weight != relationships[j].Weight {
			return relationships[i].Weight > relationships[j].Weight
		}
		return relationships[i].Key() < relationships[j].Key()
	})
	if len(relationships) > 0 {
		rows = append(rows, "", "Relationships:")
		for _, r := range relationships {
			rows = append(rows, fmt.Sprintf("%s<->%s: %s", r.Source, r.Target, r.Description))
		}
	}

	kept := tokens.TruncateStrings(g.enc, rows, g.maxPromptTokens-promptOverhead)
	return strings.Join(kept, "\n")
}

func (g *Generator) memberRelationships(ctx context.Context, comm common.Community) []common.Relationship {
	inSet := make(map[string]bool, len(comm.Entities))
	for _, name := range comm.Entities {
		inSet[name] = true
	}

	seen := make(map[string]bool)
	var out []common.Relationship
	for _, name := range comm.Entities {
		rels, err := g.graph.GetNeighborRelationships(ctx, name)
		if err != nil {
			logger.Warn("[Report] Failed to load relationships", "entity", name, "err", err)
			continue
		}
		for _, rel := range rels {
			if !inSet[rel.Source] || !inSet[rel.Target] {
				continue
			}
			key := rel.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, rel)
		}
	}
	return out
}

func fillFromStructured(rep *common.CommunityReport, sr structuredReport) {
	rep.Title = sr.Title
	rep.Rating = clampRating(sr.Rating)

	var content strings.Builder
	if sr.Title != "" {
		fmt.Fprintf(&content, "# %s\n", sr.Title)
	}
	rep.Findings = make([]common.Finding, 0, len(sr.Findings))
	for _, f := range sr.Findings {
		rep.Findings = append(rep.Findings, common.Finding{
			Summary:     f.Summary,
			Explanation: f.Explanation,
		})
		fmt.Fprintf(&content, "\n## %s\n%s\n", f.Summary, f.Explanation)
	}
	rep.Content = strings.TrimSpace(content.String())
}

func clampRating(rating float64) float64 {
	if rating < 0 {
		return 0
	}
	if rating > 10 {
		return 10
	}
	return rating
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx > 0 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}
