package pgx

import (
	"context"

	"github.com/pomelo-kg/pomelo/internal/util"
	"github.com/pomelo-kg/pomelo/pkg/common"
)

// Partition loads the induced subgraph of the entity subset and delegates
// clustering to the configured partitioner. Only edges with both endpoints
// inside the subset are considered.
func (s *GraphDBStorage) Partition(
	ctx context.Context,
	entitySubset []string,
	resolution int,
) (map[string]string, error) {
	if s.partitioner == nil {
		return nil, util.ErrMissingCollaborator("partitioner")
	}
	if len(entitySubset) == 0 {
		return map[string]string{}, nil
	}

	rows, err := s.conn.Query(ctx,
		`SELECT source, target, description, weight, units
		 FROM relationships
		 WHERE source = ANY($1) AND target = ANY($1)`,
		entitySubset,
	)
	if err != nil {
		return nil, err
	}
	edges, err := collectRelationships(rows)
	if err != nil {
		return nil, err
	}

	var inner []common.Relationship
	inSubset := make(map[string]bool, len(entitySubset))
	for _, name := range entitySubset {
		inSubset[name] = true
	}
	for _, rel := range edges {
		if inSubset[rel.Source] && inSubset[rel.Target] {
			inner = append(inner, rel)
		}
	}

	return s.partitioner.Partition(ctx, entitySubset, inner, resolution)
}
