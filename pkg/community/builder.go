package community

import (
	"context"
	"fmt"
	"sort"

	"github.com/pomelo-kg/pomelo/pkg/common"
	"github.com/pomelo-kg/pomelo/pkg/logger"
	"github.com/pomelo-kg/pomelo/pkg/store"
)

const (
	// DefaultLevels is the default maximum number of hierarchy levels.
	DefaultLevels = 3

	// MaxLevelsLimit is the maximum allowed hierarchy depth.
	MaxLevelsLimit = 10
)

// Builder computes the multi-level community hierarchy from the graph store
// using its partition primitive. Each call to Build replaces the previous
// assignment wholesale; there is no incremental patching.
type Builder struct {
	graph  store.GraphStorage
	levels int
}

// NewBuilder creates a hierarchy builder over the given graph store.
func NewBuilder(graph store.GraphStorage) *Builder {
	return &Builder{
		graph:  graph,
		levels: DefaultLevels,
	}
}

// WithLevels sets the maximum hierarchy depth with validation.
func (b *Builder) WithLevels(levels int) *Builder {
	if levels <= 0 {
		levels = DefaultLevels
	}
	if levels > MaxLevelsLimit {
		levels = MaxLevelsLimit
	}
	b.levels = levels
	return b
}

// Build runs community detection across all hierarchy levels and returns an
// immutable snapshot. An empty graph yields an empty hierarchy, not an
// error. A partition failure below level 0 skips that branch and continues
// with its siblings; a level-0 failure aborts the build.
func (b *Builder) Build(ctx context.Context) (*Hierarchy, error) {
	entities, err := b.graph.AllEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}
	if len(entities) == 0 {
		logger.Info("[Community] Empty graph, returning empty hierarchy")
		return newHierarchy(nil), nil
	}

	relationships, err := b.graph.AllRelationships(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load relationships: %w", err)
	}

	units := make(map[string][]string, len(entities))
	names := make([]string, 0, len(entities))
	known := make(map[string]bool, len(entities))
	for _, e := range entities {
		names = append(names, e.Name)
		known[e.Name] = true
		units[e.Name] = e.Units
	}
	sort.Strings(names)

	adjacency := make(map[string][]common.Relationship)
	for _, rel := range relationships {
		if !known[rel.Source] || !known[rel.Target] {
			continue
		}
		adjacency[rel.Source] = append(adjacency[rel.Source], rel)
		adjacency[rel.Target] = append(adjacency[rel.Target], rel)
	}

	state := &buildState{
		graph:     b.graph,
		adjacency: adjacency,
		units:     units,
		maxLevels: b.levels,
	}

	communities, err := state.subdivide(ctx, names, 0, "")
	if err != nil {
		return nil, err
	}

	scoreOccurrence(communities)

	logger.Info("[Community] Hierarchy built",
		"entities", len(entities),
		"communities", len(communities),
	)

	return newHierarchy(communities), nil
}

type buildState struct {
	graph     store.GraphStorage
	adjacency map[string][]common.Relationship
	units     map[string][]string
	maxLevels int
}

// subdivide partitions the given entity subset at one level and recurses
// into every resulting community with more than one member. Returned
// communities include the whole subtree below this call.
func (s *buildState) subdivide(
	ctx context.Context,
	entities []string,
	level int,
	parentID string,
) ([]common.Community, error) {
	labels, err := s.graph.Partition(ctx, entities, level)
	if err != nil {
		if level == 0 {
			return nil, fmt.Errorf("failed to partition graph: %w", err)
		}
		logger.Warn("[Community] Partition failed, skipping branch",
			"level", level, "parent", parentID, "err", err)
		return nil, nil
	}

	groups := groupByLabel(entities, labels)
	if level > 0 && len(groups) == 1 {
		// The primitive could not split this community any further.
		return nil, nil
	}

	var out []common.Community
	for idx, members := range groups {
		id := fmt.Sprintf("c%d", idx)
		if parentID != "" {
			id = fmt.Sprintf("%s.%d", parentID, idx)
		}

		c := common.Community{
			ID:            id,
			Level:         level,
			ParentID:      parentID,
			Entities:      members,
			Relationships: s.memberRelationships(members),
			Units:         s.memberUnits(members),
		}

		if len(members) > 1 && level+1 < s.maxLevels {
			children, err := s.subdivide(ctx, members, level+1, id)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if child.Level == level+1 && child.ParentID == id {
					c.SubCommunities = append(c.SubCommunities, child.ID)
				}
			}
			sort.Strings(c.SubCommunities)
			out = append(out, children...)
		}

		out = append(out, c)
	}

	return out, nil
}

// groupByLabel turns a label assignment into member groups in canonical
// order: groups are sorted by their smallest member name, members within a
// group are sorted. Cluster labels themselves carry no meaning.
func groupByLabel(entities []string, labels map[string]string) [][]string {
	byLabel := make(map[string][]string)
	for _, name := range entities {
		label, ok := labels[name]
		if !ok {
			// The primitive dropped the entity; keep it as its own cluster
			// so no entity loses its assignment at this level.
			label = name
		}
		byLabel[label] = append(byLabel[label], name)
	}

	groups := make([][]string, 0, len(byLabel))
	for _, members := range byLabel {
		sort.Strings(members)
		groups = append(groups, members)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i][0] < groups[j][0]
	})

	return groups
}

// memberRelationships returns the canonical keys of all edges whose both
// endpoints lie inside the member set, sorted and deduplicated.
func (s *buildState) memberRelationships(members []string) []string {
	inSet := make(map[string]bool, len(members))
	for _, name := range members {
		inSet[name] = true
	}

	seen := make(map[string]bool)
	var keys []string
	for _, name := range members {
		for _, rel := range s.adjacency[name] {
			if !inSet[rel.Source] || !inSet[rel.Target] {
				continue
			}
			key := rel.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// memberUnits returns the union of the members' provenance chunk ids, sorted.
func (s *buildState) memberUnits(members []string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, name := range members {
		for _, unit := range s.units[name] {
			if seen[unit] {
				continue
			}
			seen[unit] = true
			ids = append(ids, unit)
		}
	}
	sort.Strings(ids)
	return ids
}

// scoreOccurrence assigns each community its corpus-coverage score relative
// to its siblings: member count divided by the largest sibling member count,
// so the biggest sibling always scores 1.0.
func scoreOccurrence(communities []common.Community) {
	type siblingKey struct {
		level  int
		parent string
	}

	maxMembers := make(map[siblingKey]int)
	for _, c := range communities {
		key := siblingKey{c.Level, c.ParentID}
		if len(c.Entities) > maxMembers[key] {
			maxMembers[key] = len(c.Entities)
		}
	}

	for i := range communities {
		key := siblingKey{communities[i].Level, communities[i].ParentID}
		max := maxMembers[key]
		if max == 0 {
			continue
		}
		communities[i].Occurrence = float64(len(communities[i].Entities)) / float64(max)
	}
}
