package store

import (
	"context"

	"github.com/pomelo-kg/pomelo/pkg/common"
)

// ScoredID is one nearest-neighbor search hit.
type ScoredID struct {
	ID    string
	Score float64
}

// Partitioner is the graph-partitioning primitive used during hierarchy
// builds. It assigns every entity in the subset to a cluster label; labels
// are opaque and only meaningful within one call. Resolution increases with
// hierarchy depth so deeper levels produce finer partitions.
type Partitioner interface {
	Partition(
		ctx context.Context,
		entities []string,
		relationships []common.Relationship,
		resolution int,
	) (map[string]string, error)
}

// GraphStorage defines the interface for persisting and querying knowledge
// graphs. It provides CRUD access to entities and relationships, the
// partition primitive used by the community hierarchy builder, and
// persistence for cluster assignments.
type GraphStorage interface {
	GetEntity(ctx context.Context, name string) (*common.Entity, error)
	GetEntitiesByNames(ctx context.Context, names []string) ([]common.Entity, error)
	AllEntities(ctx context.Context) ([]common.Entity, error)
	SaveEntities(ctx context.Context, entities []common.Entity) error

	GetRelationship(ctx context.Context, source, target string) (*common.Relationship, error)
	GetNeighborRelationships(ctx context.Context, name string) ([]common.Relationship, error)
	AllRelationships(ctx context.Context) ([]common.Relationship, error)
	SaveRelationships(ctx context.Context, relationships []common.Relationship) error

	Partition(
		ctx context.Context,
		entitySubset []string,
		resolution int,
	) (map[string]string, error)
}

// VectorSearcher performs nearest-neighbor search over embedded entities and
// text units. Results are ranked by similarity, best first.
type VectorSearcher interface {
	SearchEntities(ctx context.Context, embedding []float32, topK int) ([]ScoredID, error)
	SearchUnits(ctx context.Context, embedding []float32, topK int) ([]ScoredID, error)
}

// UnitStorage provides read access to immutable text units by id.
type UnitStorage interface {
	GetUnit(ctx context.Context, id string) (*common.Unit, error)
	GetUnits(ctx context.Context, ids []string) ([]common.Unit, error)
}

// CommunityStorage persists community assignments and their generated
// reports. ReplaceCommunities swaps in a whole new generation and returns
// its number; the generation is derived from the store's persisted counter
// so it stays monotonic across processes and restarts. Queries only ever
// observe one complete generation.
type CommunityStorage interface {
	ReplaceCommunities(ctx context.Context, communities []common.Community) (int64, error)
	CommunitiesForEntities(ctx context.Context, names []string) ([]common.Community, error)
	AllCommunities(ctx context.Context) ([]common.Community, error)

	SaveReports(ctx context.Context, reports []common.CommunityReport) error
	GetReport(ctx context.Context, communityID string) (*common.CommunityReport, error)
	ReportsUpToLevel(ctx context.Context, maxLevel int) ([]common.CommunityReport, error)
}
