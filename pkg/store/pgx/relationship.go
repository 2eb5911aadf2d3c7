package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/pomelo-kg/pomelo/internal/util"
	"github.com/pomelo-kg/pomelo/pkg/common"
	"github.com/pomelo-kg/pomelo/pkg/logger"
	"github.com/pomelo-kg/pomelo/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const relationshipChunk = 500

func (s *GraphDBStorage) GetRelationship(ctx context.Context, source, target string) (*common.Relationship, error) {
	var rel common.Relationship
	err := s.conn.QueryRow(ctx,
		`SELECT source, target, description, weight, units
		 FROM relationships
		 WHERE (source = $1 AND target = $2) OR (source = $2 AND target = $1)`,
		source, target,
	).Scan(&rel.Source, &rel.Target, &rel.Description, &rel.Weight, &rel.Units)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relationship %q-%q: %w", source, target, err)
	}
	return &rel, nil
}

func (s *GraphDBStorage) GetNeighborRelationships(ctx context.Context, name string) ([]common.Relationship, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT source, target, description, weight, units
		 FROM relationships
		 WHERE source = $1 OR target = $1`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get relationships of %q: %w", name, err)
	}
	return collectRelationships(rows)
}

func (s *GraphDBStorage) AllRelationships(ctx context.Context) ([]common.Relationship, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT source, target, description, weight, units
		 FROM relationships
		 ORDER BY source, target`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}
	return collectRelationships(rows)
}

func collectRelationships(rows pgxv5.Rows) ([]common.Relationship, error) {
	defer rows.Close()

	var rels []common.Relationship
	for rows.Next() {
		var rel common.Relationship
		if err := rows.Scan(&rel.Source, &rel.Target, &rel.Description, &rel.Weight, &rel.Units); err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

// SaveRelationships upserts a batch of relationships in chunks. Endpoints
// are stored in canonical order so the undirected edge is unique.
func (s *GraphDBStorage) SaveRelationships(ctx context.Context, relationships []common.Relationship) error {
	if len(relationships) == 0 {
		return nil
	}

	return store.ChunkRange(len(relationships), relationshipChunk, func(start, end int) error {
		chunk := relationships[start:end]
		logger.Debug("[Store][SaveRelationships] Saving chunk", "relationships", len(chunk))

		batch := &pgxv5.Batch{}
		for _, rel := range chunk {
			source, target := rel.Source, rel.Target
			if target < source {
				source, target = target, source
			}
			batch.Queue(
				`INSERT INTO relationships (source, target, description, weight, units)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (source, target) DO UPDATE SET
					description = EXCLUDED.description,
					weight = EXCLUDED.weight,
					units = EXCLUDED.units`,
				source, target, util.SanitizePostgresText(rel.Description), rel.Weight, rel.Units,
			)
		}

		s.dbLock.Lock()
		defer s.dbLock.Unlock()
		results := s.conn.SendBatch(ctx, batch)
		defer results.Close()
		for range chunk {
			if _, err := results.Exec(); err != nil {
				return fmt.Errorf("failed to upsert relationship: %w", err)
			}
		}
		return nil
	})
}
