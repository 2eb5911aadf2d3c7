package pgx

import (
	"context"
	"sync"

	"github.com/pomelo-kg/pomelo/internal/util"
	"github.com/pomelo-kg/pomelo/pkg/ai"
	"github.com/pomelo-kg/pomelo/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
	SendBatch(ctx context.Context, b *pgxv5.Batch) pgxv5.BatchResults
}

// GraphDBStorage persists the knowledge graph, text units, communities and
// reports in PostgreSQL, with pgvector for similarity search. The AI client
// embeds entity descriptions and unit text on save; the partitioner supplies
// the clustering primitive for hierarchy builds. Writes are serialized with a
// mutex, reads go straight to the pool.
type GraphDBStorage struct {
	conn        pgxIConn
	aiClient    ai.GraphAIClient
	partitioner store.Partitioner
	dbLock      sync.Mutex
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage on an existing
// connection or pool. The partitioner may be nil when the storage is only
// used for queries; Partition then fails.
func NewGraphDBStorageWithConnection(
	conn pgxIConn,
	aiClient ai.GraphAIClient,
	partitioner store.Partitioner,
) (*GraphDBStorage, error) {
	if conn == nil {
		return nil, util.ErrMissingCollaborator("database connection")
	}
	if aiClient == nil {
		return nil, util.ErrMissingCollaborator("ai client")
	}
	return &GraphDBStorage{
		conn:        conn,
		aiClient:    aiClient,
		partitioner: partitioner,
	}, nil
}
