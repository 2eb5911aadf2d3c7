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
	"github.com/pgvector/pgvector-go"
)

const entityChunk = 250

func scanEntity(row pgxv5.Row) (*common.Entity, error) {
	var ent common.Entity
	err := row.Scan(&ent.Name, &ent.Type, &ent.Description, &ent.Degree, &ent.Units)
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

func (s *GraphDBStorage) GetEntity(ctx context.Context, name string) (*common.Entity, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT name, type, description, degree, units FROM entities WHERE name = $1`,
		name,
	)
	ent, err := scanEntity(row)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %q: %w", name, err)
	}
	return ent, nil
}

func (s *GraphDBStorage) GetEntitiesByNames(ctx context.Context, names []string) ([]common.Entity, error) {
	names = store.DedupeStrings(names)
	if len(names) == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx,
		`SELECT name, type, description, degree, units FROM entities WHERE name = ANY($1)`,
		names,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get entities: %w", err)
	}
	return collectEntities(rows)
}

func (s *GraphDBStorage) AllEntities(ctx context.Context) ([]common.Entity, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT name, type, description, degree, units FROM entities ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	return collectEntities(rows)
}

func collectEntities(rows pgxv5.Rows) ([]common.Entity, error) {
	defer rows.Close()

	var entities []common.Entity
	for rows.Next() {
		var ent common.Entity
		if err := rows.Scan(&ent.Name, &ent.Type, &ent.Description, &ent.Degree, &ent.Units); err != nil {
			return nil, err
		}
		entities = append(entities, ent)
	}
	return entities, rows.Err()
}

// SaveEntities upserts a batch of entities in chunks, embedding each
// description for similarity search.
func (s *GraphDBStorage) SaveEntities(ctx context.Context, entities []common.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	return store.ChunkRange(len(entities), entityChunk, func(start, end int) error {
		chunk := entities[start:end]
		logger.Debug("[Store][SaveEntities] Saving chunk", "entities", len(chunk))

		inputs := make([][]byte, len(chunk))
		for i := range chunk {
			inputs[i] = []byte(chunk[i].Description)
		}
		embeddings, err := store.GenerateEmbeddings(ctx, s.aiClient, inputs)
		if err != nil {
			return fmt.Errorf("failed to embed entities: %w", err)
		}

		batch := &pgxv5.Batch{}
		for i, ent := range chunk {
			batch.Queue(
				`INSERT INTO entities (name, type, description, degree, units, embedding)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (name) DO UPDATE SET
					type = EXCLUDED.type,
					description = EXCLUDED.description,
					degree = EXCLUDED.degree,
					units = EXCLUDED.units,
					embedding = EXCLUDED.embedding`,
				ent.Name, ent.Type, util.SanitizePostgresText(ent.Description), ent.Degree, ent.Units,
				pgvector.NewVector(embeddings[i]),
			)
		}

		s.dbLock.Lock()
		defer s.dbLock.Unlock()
		results := s.conn.SendBatch(ctx, batch)
		defer results.Close()
		for range chunk {
			if _, err := results.Exec(); err != nil {
				return fmt.Errorf("failed to upsert entity: %w", err)
			}
		}
		return nil
	})
}

// SearchEntities returns the topK entities nearest to the embedding by
// cosine distance, best first.
func (s *GraphDBStorage) SearchEntities(ctx context.Context, embedding []float32, topK int) ([]store.ScoredID, error) {
	if topK <= 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx,
		`SELECT name, 1 - (embedding <=> $1) AS score
		 FROM entities
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(embedding), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	return collectScored(rows)
}

func collectScored(rows pgxv5.Rows) ([]store.ScoredID, error) {
	defer rows.Close()

	var hits []store.ScoredID
	for rows.Next() {
		var hit store.ScoredID
		if err := rows.Scan(&hit.ID, &hit.Score); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}
