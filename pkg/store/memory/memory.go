package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/pomelo-kg/pomelo/internal/util"
	"github.com/pomelo-kg/pomelo/pkg/ai"
	"github.com/pomelo-kg/pomelo/pkg/common"
	"github.com/pomelo-kg/pomelo/pkg/store"
)

// GraphMemStorage is an in-memory implementation of the storage interfaces.
// It backs tests and single-process runs where PostgreSQL would be overkill.
// All methods are safe for concurrent use.
type GraphMemStorage struct {
	aiClient    ai.GraphAIClient
	partitioner store.Partitioner

	mu            sync.RWMutex
	entities      map[string]common.Entity
	entityVecs    map[string][]float32
	relationships map[string]common.Relationship
	units         map[string]common.Unit
	unitVecs      map[string][]float32
	communities   map[string]common.Community
	generation    int64
	reports       map[string]common.CommunityReport
}

// NewGraphMemStorage creates an empty in-memory storage. The AI client may
// be nil when embeddings are provided through SetEntityEmbedding and
// SetUnitEmbedding directly.
func NewGraphMemStorage(aiClient ai.GraphAIClient, partitioner store.Partitioner) *GraphMemStorage {
	return &GraphMemStorage{
		aiClient:      aiClient,
		partitioner:   partitioner,
		entities:      make(map[string]common.Entity),
		entityVecs:    make(map[string][]float32),
		relationships: make(map[string]common.Relationship),
		units:         make(map[string]common.Unit),
		unitVecs:      make(map[string][]float32),
		communities:   make(map[string]common.Community),
		reports:       make(map[string]common.CommunityReport),
	}
}

func (s *GraphMemStorage) GetEntity(ctx context.Context, name string) (*common.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ent, ok := s.entities[name]; ok {
		return &ent, nil
	}
	return nil, nil
}

func (s *GraphMemStorage) GetEntitiesByNames(ctx context.Context, names []string) ([]common.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.Entity
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if ent, ok := s.entities[name]; ok {
			out = append(out, ent)
		}
	}
	return out, nil
}

func (s *GraphMemStorage) AllEntities(ctx context.Context) ([]common.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Entity, 0, len(s.entities))
	for _, ent := range s.entities {
		out = append(out, ent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *GraphMemStorage) SaveEntities(ctx context.Context, entities []common.Entity) error {
	var embeddings [][]float32
	if s.aiClient != nil {
		inputs := make([][]byte, len(entities))
		for i := range entities {
			inputs[i] = []byte(entities[i].Description)
		}
		var err error
		embeddings, err = store.GenerateEmbeddings(ctx, s.aiClient, inputs)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ent := range entities {
		s.entities[ent.Name] = ent
		if embeddings != nil {
			s.entityVecs[ent.Name] = embeddings[i]
		}
	}
	return nil
}

// SetEntityEmbedding injects an embedding directly, bypassing the AI client.
func (s *GraphMemStorage) SetEntityEmbedding(name string, embedding []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entityVecs[name] = embedding
}

func (s *GraphMemStorage) GetRelationship(ctx context.Context, source, target string) (*common.Relationship, error) {
	key := common.Relationship{Source: source, Target: target}.Key()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rel, ok := s.relationships[key]; ok {
		return &rel, nil
	}
	return nil, nil
}

func (s *GraphMemStorage) GetNeighborRelationships(ctx context.Context, name string) ([]common.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.Relationship
	for _, rel := range s.relationships {
		if rel.Source == name || rel.Target == name {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *GraphMemStorage) AllRelationships(ctx context.Context) ([]common.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Relationship, 0, len(s.relationships))
	for _, rel := range s.relationships {
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *GraphMemStorage) SaveRelationships(ctx context.Context, relationships []common.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rel := range relationships {
		s.relationships[rel.Key()] = rel
	}
	return nil
}

func (s *GraphMemStorage) Partition(
	ctx context.Context,
	entitySubset []string,
	resolution int,
) (map[string]string, error) {
	if s.partitioner == nil {
		return nil, util.ErrMissingCollaborator("partitioner")
	}

	inSubset := make(map[string]bool, len(entitySubset))
	for _, name := range entitySubset {
		inSubset[name] = true
	}

	s.mu.RLock()
	var inner []common.Relationship
	for _, rel := range s.relationships {
		if inSubset[rel.Source] && inSubset[rel.Target] {
			inner = append(inner, rel)
		}
	}
	s.mu.RUnlock()
	sort.Slice(inner, func(i, j int) bool { return inner[i].Key() < inner[j].Key() })

	return s.partitioner.Partition(ctx, entitySubset, inner, resolution)
}

func (s *GraphMemStorage) GetUnit(ctx context.Context, id string) (*common.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if unit, ok := s.units[id]; ok {
		return &unit, nil
	}
	return nil, nil
}

func (s *GraphMemStorage) GetUnits(ctx context.Context, ids []string) ([]common.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.Unit
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if unit, ok := s.units[id]; ok {
			out = append(out, unit)
		}
	}
	return out, nil
}

func (s *GraphMemStorage) SaveUnits(ctx context.Context, units []common.Unit) error {
	var embeddings [][]float32
	if s.aiClient != nil {
		inputs := make([][]byte, len(units))
		for i := range units {
			inputs[i] = []byte(units[i].Text)
		}
		var err error
		embeddings, err = store.GenerateEmbeddings(ctx, s.aiClient, inputs)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, unit := range units {
		s.units[unit.ID] = unit
		if embeddings != nil {
			s.unitVecs[unit.ID] = embeddings[i]
		}
	}
	return nil
}

// SetUnitEmbedding injects an embedding directly, bypassing the AI client.
func (s *GraphMemStorage) SetUnitEmbedding(id string, embedding []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unitVecs[id] = embedding
}

func (s *GraphMemStorage) SearchEntities(ctx context.Context, embedding []float32, topK int) ([]store.ScoredID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return searchVectors(s.entityVecs, embedding, topK), nil
}

func (s *GraphMemStorage) SearchUnits(ctx context.Context, embedding []float32, topK int) ([]store.ScoredID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return searchVectors(s.unitVecs, embedding, topK), nil
}

func searchVectors(vecs map[string][]float32, query []float32, topK int) []store.ScoredID {
	if topK <= 0 {
		return nil
	}
	hits := make([]store.ScoredID, 0, len(vecs))
	for id, vec := range vecs {
		hits = append(hits, store.ScoredID{ID: id, Score: cosineSimilarity(query, vec)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func cosineSimilarity(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (s *GraphMemStorage) ReplaceCommunities(ctx context.Context, communities []common.Community) (int64, error) {
	next := make(map[string]common.Community, len(communities))
	for _, comm := range communities {
		next[comm.ID] = comm
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.communities = next
	return s.generation, nil
}

func (s *GraphMemStorage) CommunitiesForEntities(ctx context.Context, names []string) ([]common.Community, error) {
	want := make(map[string]bool, len(names))
	for _, name := range names {
		want[name] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.Community
	for _, comm := range s.communities {
		for _, member := range comm.Entities {
			if want[member] {
				out = append(out, comm)
				break
			}
		}
	}
	sortCommunities(out)
	return out, nil
}

func (s *GraphMemStorage) AllCommunities(ctx context.Context) ([]common.Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Community, 0, len(s.communities))
	for _, comm := range s.communities {
		out = append(out, comm)
	}
	sortCommunities(out)
	return out, nil
}

func sortCommunities(communities []common.Community) {
	sort.Slice(communities, func(i, j int) bool {
		if communities[i].Level != communities[j].Level {
			return communities[i].Level < communities[j].Level
		}
		return communities[i].ID < communities[j].ID
	})
}

func (s *GraphMemStorage) SaveReports(ctx context.Context, reports []common.CommunityReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rep := range reports {
		s.reports[rep.CommunityID] = rep
	}
	return nil
}

func (s *GraphMemStorage) GetReport(ctx context.Context, communityID string) (*common.CommunityReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rep, ok := s.reports[communityID]; ok {
		return &rep, nil
	}
	return nil, nil
}

func (s *GraphMemStorage) ReportsUpToLevel(ctx context.Context, maxLevel int) ([]common.CommunityReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.CommunityReport
	for _, rep := range s.reports {
		if rep.Level <= maxLevel {
			out = append(out, rep)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].CommunityID < out[j].CommunityID
	})
	return out, nil
}
