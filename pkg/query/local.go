package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/pomelo-kg/pomelo/pkg/ai"
	"github.com/pomelo-kg/pomelo/pkg/common"
	"github.com/pomelo-kg/pomelo/pkg/logger"
	"github.com/pomelo-kg/pomelo/pkg/store"
)

// queryLocal answers a question from context gathered around the entities
// that match it best: the matched entities themselves, their one-hop
// relationships and neighbors, the reports of their communities, and the
// source chunks they were extracted from. Each section is budget-truncated
// independently. No vector match, or an entirely empty context, returns the
// fixed fallback answer without a completion call.
func (e *Engine) queryLocal(ctx context.Context, question string) (string, error) {
	embedding, err := e.aiClient.GenerateEmbedding(ctx, []byte(question))
	if err != nil {
		return "", err
	}

	hits, err := e.vectors.SearchEntities(ctx, embedding, e.options.TopK)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		logger.Info("[Query] No matching entities, returning fallback")
		return FallbackAnswer, nil
	}

	contextText, err := e.buildLocalContext(ctx, hits)
	if err != nil {
		return "", err
	}
	if contextText == "" {
		logger.Info("[Query] Local context empty after truncation, returning fallback")
		return FallbackAnswer, nil
	}

	return e.complete(ctx, fmt.Sprintf(ai.QueryPrompt, contextText), question)
}

// buildLocalContext assembles the four local-mode sections. Row order
// encodes relevance: vector similarity for matched entities, then degree
// for neighbors, rating for reports, and matched-entity order for sources.
func (e *Engine) buildLocalContext(ctx context.Context, hits []store.ScoredID) (string, error) {
	names := make([]string, 0, len(hits))
	for _, hit := range hits {
		names = append(names, hit.ID)
	}

	matched, err := e.graph.GetEntitiesByNames(ctx, names)
	if err != nil {
		return "", err
	}
	byName := make(map[string]common.Entity, len(matched))
	for _, ent := range matched {
		byName[ent.Name] = ent
	}

	entityRows := make([]string, 0, len(names))
	ordered := make([]common.Entity, 0, len(names))
	for _, name := range names {
		ent, ok := byName[name]
		if !ok {
			continue
		}
		ordered = append(ordered, ent)
		entityRows = append(entityRows, fmt.Sprintf("%s,%s: %s", ent.Name, ent.Type, ent.Description))
	}
	if len(ordered) == 0 {
		return "", nil
	}

	relationshipRows, neighborNames := e.expandOneHop(ctx, ordered)

	neighbors, err := e.graph.GetEntitiesByNames(ctx, neighborNames)
	if err == nil {
		sort.Slice(neighbors, func(i, j int) bool {
			if neighbors[i].Degree != neighbors[j].Degree {
				return neighbors[i].Degree > neighbors[j].Degree
			}
			return neighbors[i].Name < neighbors[j].Name
		})
		for _, ent := range neighbors {
			entityRows = append(entityRows, fmt.Sprintf("%s,%s: %s", ent.Name, ent.Type, ent.Description))
		}
	}

	reportRows := e.communityReports(ctx, ordered)
	sourceRows := e.sourceChunks(ctx, ordered)

	sections := []contextSection{
		{Name: "Entities", Rows: entityRows},
		{Name: "Relationships", Rows: relationshipRows},
		{Name: "Reports", Rows: reportRows},
		{Name: "Sources", Rows: sourceRows},
	}
	for i := range sections {
		sections[i] = sections[i].truncate(e.enc, e.options.SectionTokens)
	}

	return renderSections(sections), nil
}

// expandOneHop collects the relationships touching the matched entities and
// the names of neighbors outside the matched set. Relationship rows keep
// the anchor entity's relevance order; within one anchor they are sorted by
// weight.
func (e *Engine) expandOneHop(ctx context.Context, matched []common.Entity) ([]string, []string) {
	inMatched := make(map[string]bool, len(matched))
	for _, ent := range matched {
		inMatched[ent.Name] = true
	}

	seenRel := make(map[string]bool)
	seenNeighbor := make(map[string]bool)
	var rows []string
	var neighborNames []string

	for _, ent := range matched {
		rels, err := e.graph.GetNeighborRelationships(ctx, ent.Name)
		if err != nil {
			logger.Warn("[Query] Failed to expand entity", "entity", ent.Name, "err", err)
			continue
		}
		sort.Slice(rels, func(i, j int) bool {
			if rels[i].Weight != rels[j].Weight {
				return rels[i].Weight > rels[j].Weight
			}
			return rels[i].Key() < rels[j].Key()
		})

		for _, rel := range rels {
			key := rel.Key()
			if !seenRel[key] {
				seenRel[key] = true
				rows = append(rows, fmt.Sprintf("%s<->%s: %s", rel.Source, rel.Target, rel.Description))
			}

			for _, name := range []string{rel.Source, rel.Target} {
				if inMatched[name] || seenNeighbor[name] {
					continue
				}
				seenNeighbor[name] = true
				neighborNames = append(neighborNames, name)
			}
		}
	}

	return rows, neighborNames
}

// communityReports fetches the reports of every community containing a
// matched entity, ordered by rating then occurrence.
func (e *Engine) communityReports(ctx context.Context, matched []common.Entity) []string {
	names := make([]string, 0, len(matched))
	for _, ent := range matched {
		names = append(names, ent.Name)
	}

	communities, err := e.communities.CommunitiesForEntities(ctx, names)
	if err != nil {
		logger.Warn("[Query] Failed to load communities", "err", err)
		return nil
	}

	seen := make(map[string]bool, len(communities))
	reports := make([]common.CommunityReport, 0, len(communities))
	for _, comm := range communities {
		if seen[comm.ID] {
			continue
		}
		seen[comm.ID] = true

		rep, err := e.communities.GetReport(ctx, comm.ID)
		if err != nil || rep == nil {
			continue
		}
		reports = append(reports, *rep)
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

	rows := make([]string, 0, len(reports))
	for _, rep := range reports {
		rows = append(rows, rep.Content)
	}
	return rows
}

// sourceChunks fetches the text units referenced by the matched entities'
// provenance, preserving matched-entity order.
func (e *Engine) sourceChunks(ctx context.Context, matched []common.Entity) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, ent := range matched {
		for _, id := range ent.Units {
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	units, err := e.units.GetUnits(ctx, ids)
	if err != nil {
		logger.Warn("[Query] Failed to load source units", "err", err)
		return nil
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
	return rows
}
