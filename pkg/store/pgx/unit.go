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

const unitChunk = 200

func (s *GraphDBStorage) GetUnit(ctx context.Context, id string) (*common.Unit, error) {
	var unit common.Unit
	err := s.conn.QueryRow(ctx,
		`SELECT id, file_id, tokens, text FROM units WHERE id = $1`,
		id,
	).Scan(&unit.ID, &unit.FileID, &unit.Tokens, &unit.Text)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get unit %q: %w", id, err)
	}
	return &unit, nil
}

func (s *GraphDBStorage) GetUnits(ctx context.Context, ids []string) ([]common.Unit, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx,
		`SELECT id, file_id, tokens, text FROM units WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get units: %w", err)
	}
	defer rows.Close()

	var units []common.Unit
	for rows.Next() {
		var unit common.Unit
		if err := rows.Scan(&unit.ID, &unit.FileID, &unit.Tokens, &unit.Text); err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

// SaveUnits upserts a batch of text units in chunks, embedding each unit's
// text for similarity search.
func (s *GraphDBStorage) SaveUnits(ctx context.Context, units []common.Unit) error {
	if len(units) == 0 {
		return nil
	}

	return store.ChunkRange(len(units), unitChunk, func(start, end int) error {
		chunk := units[start:end]
		logger.Debug("[Store][SaveUnits] Saving chunk", "units", len(chunk))

		inputs := make([][]byte, len(chunk))
		for i := range chunk {
			inputs[i] = []byte(chunk[i].Text)
		}
		embeddings, err := store.GenerateEmbeddings(ctx, s.aiClient, inputs)
		if err != nil {
			return fmt.Errorf("failed to embed units: %w", err)
		}

		batch := &pgxv5.Batch{}
		for i, unit := range chunk {
			batch.Queue(
				`INSERT INTO units (id, file_id, tokens, text, embedding)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (id) DO UPDATE SET
					file_id = EXCLUDED.file_id,
					tokens = EXCLUDED.tokens,
					text = EXCLUDED.text,
					embedding = EXCLUDED.embedding`,
				unit.ID, unit.FileID, unit.Tokens, util.SanitizePostgresText(unit.Text),
				pgvector.NewVector(embeddings[i]),
			)
		}

		s.dbLock.Lock()
		defer s.dbLock.Unlock()
		results := s.conn.SendBatch(ctx, batch)
		defer results.Close()
		for range chunk {
			if _, err := results.Exec(); err != nil {
				return fmt.Errorf("failed to upsert unit: %w", err)
			}
		}
		return nil
	})
}

// SearchUnits returns the topK units nearest to the embedding by cosine
// distance, best first.
func (s *GraphDBStorage) SearchUnits(ctx context.Context, embedding []float32, topK int) ([]store.ScoredID, error) {
	if topK <= 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx,
		`SELECT id, 1 - (embedding <=> $1) AS score
		 FROM units
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(embedding), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search units: %w", err)
	}
	return collectScored(rows)
}
