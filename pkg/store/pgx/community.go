package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/pomelo-kg/pomelo/pkg/common"
	"github.com/pomelo-kg/pomelo/pkg/logger"
	"github.com/pomelo-kg/pomelo/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const communityColumns = `id, level, parent_id, entities, relationships, units, sub_communities, occurrence`

// ReplaceCommunities atomically swaps in a new generation of community
// assignments and returns the generation number. The next generation is read
// from community_state inside the transaction, with the pointer row locked,
// so concurrent swaps serialize and every swap gets a fresh number even
// across workers and restarts. The new rows are inserted, the active
// generation pointer is advanced, and older generations are removed, all in
// one transaction, so readers only ever observe one complete generation.
func (s *GraphDBStorage) ReplaceCommunities(ctx context.Context, communities []common.Community) (int64, error) {
	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin community swap: %w", err)
	}
	defer tx.Rollback(ctx)

	var current int64
	err = tx.QueryRow(ctx, `SELECT generation FROM community_state WHERE singleton FOR UPDATE`).Scan(&current)
	if err != nil && !errors.Is(err, pgxv5.ErrNoRows) {
		return 0, fmt.Errorf("failed to read community generation: %w", err)
	}
	generation := current + 1

	for _, comm := range communities {
		_, err := tx.Exec(ctx,
			`INSERT INTO communities
				(generation, id, level, parent_id, entities, relationships, units, sub_communities, occurrence)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			generation, comm.ID, comm.Level, comm.ParentID,
			comm.Entities, comm.Relationships, comm.Units, comm.SubCommunities,
			comm.Occurrence,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert community %q: %w", comm.ID, err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO community_state (singleton, generation) VALUES (TRUE, $1)
		 ON CONFLICT (singleton) DO UPDATE SET generation = EXCLUDED.generation`,
		generation,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to advance community generation: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM communities WHERE generation <> $1`, generation); err != nil {
		return 0, fmt.Errorf("failed to drop old community generations: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit community swap: %w", err)
	}

	logger.Info("[Store] Replaced communities", "generation", generation, "count", len(communities))
	return generation, nil
}

func (s *GraphDBStorage) CommunitiesForEntities(ctx context.Context, names []string) ([]common.Community, error) {
	names = store.DedupeStrings(names)
	if len(names) == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx,
		`SELECT `+communityColumns+`
		 FROM communities
		 WHERE generation = (SELECT generation FROM community_state)
		   AND entities && $1
		 ORDER BY level, id`,
		names,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get communities for entities: %w", err)
	}
	return collectCommunities(rows)
}

func (s *GraphDBStorage) AllCommunities(ctx context.Context) ([]common.Community, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT `+communityColumns+`
		 FROM communities
		 WHERE generation = (SELECT generation FROM community_state)
		 ORDER BY level, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list communities: %w", err)
	}
	return collectCommunities(rows)
}

func collectCommunities(rows pgxv5.Rows) ([]common.Community, error) {
	defer rows.Close()

	var communities []common.Community
	for rows.Next() {
		var comm common.Community
		err := rows.Scan(
			&comm.ID, &comm.Level, &comm.ParentID,
			&comm.Entities, &comm.Relationships, &comm.Units, &comm.SubCommunities,
			&comm.Occurrence,
		)
		if err != nil {
			return nil, err
		}
		communities = append(communities, comm)
	}
	return communities, rows.Err()
}

// SaveReports upserts generated community reports. Reports are keyed by
// community id; regenerating a community's report overwrites the old one.
func (s *GraphDBStorage) SaveReports(ctx context.Context, reports []common.CommunityReport) error {
	if len(reports) == 0 {
		return nil
	}

	batch := &pgxv5.Batch{}
	for _, rep := range reports {
		batch.Queue(
			`INSERT INTO community_reports
				(community_id, level, title, rating, findings, content, occurrence)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (community_id) DO UPDATE SET
				level = EXCLUDED.level,
				title = EXCLUDED.title,
				rating = EXCLUDED.rating,
				findings = EXCLUDED.findings,
				content = EXCLUDED.content,
				occurrence = EXCLUDED.occurrence`,
			rep.CommunityID, rep.Level, rep.Title, rep.Rating, rep.Findings, rep.Content, rep.Occurrence,
		)
	}

	s.dbLock.Lock()
	defer s.dbLock.Unlock()
	results := s.conn.SendBatch(ctx, batch)
	defer results.Close()
	for range reports {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert report: %w", err)
		}
	}
	return nil
}

func (s *GraphDBStorage) GetReport(ctx context.Context, communityID string) (*common.CommunityReport, error) {
	var rep common.CommunityReport
	err := s.conn.QueryRow(ctx,
		`SELECT community_id, level, title, rating, findings, content, occurrence
		 FROM community_reports WHERE community_id = $1`,
		communityID,
	).Scan(&rep.CommunityID, &rep.Level, &rep.Title, &rep.Rating, &rep.Findings, &rep.Content, &rep.Occurrence)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report %q: %w", communityID, err)
	}
	return &rep, nil
}

func (s *GraphDBStorage) ReportsUpToLevel(ctx context.Context, maxLevel int) ([]common.CommunityReport, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT community_id, level, title, rating, findings, content, occurrence
		 FROM community_reports
		 WHERE level <= $1
		 ORDER BY level, community_id`,
		maxLevel,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []common.CommunityReport
	for rows.Next() {
		var rep common.CommunityReport
		err := rows.Scan(&rep.CommunityID, &rep.Level, &rep.Title, &rep.Rating, &rep.Findings, &rep.Content, &rep.Occurrence)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}
