package community

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/pomelo-kg/pomelo/pkg/common"
)

// scriptedGraph is a GraphStorage fake whose partition results are keyed by
// the sorted entity subset, so each level of the build can be scripted.
type scriptedGraph struct {
	entities      []common.Entity
	relationships []common.Relationship
	partitions    map[string]map[string]string
	partitionErr  map[string]error

	partitionCalls int
}

func subsetKey(subset []string) string {
	return strings.Join(subset, ",")
}

func (g *scriptedGraph) AllEntities(_ context.Context) ([]common.Entity, error) {
	return g.entities, nil
}

func (g *scriptedGraph) AllRelationships(_ context.Context) ([]common.Relationship, error) {
	return g.relationships, nil
}

func (g *scriptedGraph) Partition(_ context.Context, subset []string, _ int) (map[string]string, error) {
	g.partitionCalls++
	key := subsetKey(subset)
	if err, ok := g.partitionErr[key]; ok {
		return nil, err
	}
	labels, ok := g.partitions[key]
	if !ok {
		// Unscripted subsets stay together.
		single := make(map[string]string, len(subset))
		for _, name := range subset {
			single[name] = "all"
		}
		return single, nil
	}
	return labels, nil
}

func (g *scriptedGraph) GetEntity(context.Context, string) (*common.Entity, error) {
	return nil, nil
}

func (g *scriptedGraph) GetEntitiesByNames(context.Context, []string) ([]common.Entity, error) {
	return nil, nil
}

func (g *scriptedGraph) SaveEntities(context.Context, []common.Entity) error { return nil }

func (g *scriptedGraph) GetRelationship(context.Context, string, string) (*common.Relationship, error) {
	return nil, nil
}

func (g *scriptedGraph) GetNeighborRelationships(context.Context, string) ([]common.Relationship, error) {
	return nil, nil
}

func (g *scriptedGraph) SaveRelationships(context.Context, []common.Relationship) error {
	return nil
}

func entity(name string, units ...string) common.Entity {
	return common.Entity{Name: name, Units: units}
}

func TestBuild_TwoLevelHierarchy(t *testing.T) {
	graph := &scriptedGraph{
		entities: []common.Entity{
			entity("a", "u1"),
			entity("b", "u1", "u2"),
			entity("c", "u3"),
			entity("d", "u3"),
		},
		relationships: []common.Relationship{
			{Source: "a", Target: "b", Weight: 1},
			{Source: "c", Target: "d", Weight: 1},
			{Source: "b", Target: "c", Weight: 1},
		},
		partitions: map[string]map[string]string{
			"a,b,c,d": {"a": "left", "b": "left", "c": "right", "d": "right"},
			"a,b":     {"a": "a", "b": "b"},
			"c,d":     {"c": "same", "d": "same"},
		},
	}

	h, err := NewBuilder(graph).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got := h.AtLevel(0); !reflect.DeepEqual(got, []string{"c0", "c1"}) {
		t.Fatalf("level 0 communities = %v", got)
	}
	if got := h.AtLevel(1); !reflect.DeepEqual(got, []string{"c0.0", "c0.1"}) {
		t.Fatalf("level 1 communities = %v", got)
	}

	c0, ok := h.Community("c0")
	if !ok {
		t.Fatal("missing community c0")
	}
	if !reflect.DeepEqual(c0.Entities, []string{"a", "b"}) {
		t.Fatalf("c0 entities = %v", c0.Entities)
	}
	if !reflect.DeepEqual(c0.Relationships, []string{"a<->b"}) {
		t.Fatalf("c0 relationships = %v, cross-community edges must be excluded", c0.Relationships)
	}
	if !reflect.DeepEqual(c0.Units, []string{"u1", "u2"}) {
		t.Fatalf("c0 units = %v", c0.Units)
	}
	if !reflect.DeepEqual(c0.SubCommunities, []string{"c0.0", "c0.1"}) {
		t.Fatalf("c0 sub-communities = %v", c0.SubCommunities)
	}

	c1, _ := h.Community("c1")
	if len(c1.SubCommunities) != 0 {
		t.Fatalf("c1 could not be split further, sub-communities = %v", c1.SubCommunities)
	}
	if !reflect.DeepEqual(c1.Relationships, []string{"c<->d"}) {
		t.Fatalf("c1 relationships = %v", c1.Relationships)
	}

	// Sub-communities partition exactly the parent's entity set.
	var childMembers []string
	for _, id := range c0.SubCommunities {
		child, ok := h.Community(id)
		if !ok {
			t.Fatalf("missing child community %s", id)
		}
		if child.ParentID != "c0" {
			t.Fatalf("child %s parent = %q", id, child.ParentID)
		}
		if child.Level != 1 {
			t.Fatalf("child %s level = %d", id, child.Level)
		}
		childMembers = append(childMembers, child.Entities...)
	}
	if !reflect.DeepEqual(childMembers, c0.Entities) {
		t.Fatalf("children cover %v, parent has %v", childMembers, c0.Entities)
	}

	// Every entity is assigned at every populated level it reaches.
	for _, name := range []string{"a", "b", "c", "d"} {
		if len(h.ForEntity(name)) == 0 {
			t.Fatalf("entity %q has no community assignment", name)
		}
	}
}

func TestBuild_OccurrenceRelativeToSiblings(t *testing.T) {
	graph := &scriptedGraph{
		entities: []common.Entity{entity("a"), entity("b"), entity("c")},
		partitions: map[string]map[string]string{
			"a,b,c": {"a": "big", "b": "big", "c": "small"},
		},
	}

	h, err := NewBuilder(graph).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	c0, _ := h.Community("c0")
	c1, _ := h.Community("c1")
	if c0.Occurrence != 1.0 {
		t.Fatalf("largest sibling occurrence = %v, want 1.0", c0.Occurrence)
	}
	if c1.Occurrence != 0.5 {
		t.Fatalf("smaller sibling occurrence = %v, want 0.5", c1.Occurrence)
	}
}

func TestBuild_EmptyGraph(t *testing.T) {
	graph := &scriptedGraph{}

	h, err := NewBuilder(graph).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if h.Len() != 0 {
		t.Fatalf("empty graph produced %d communities", h.Len())
	}
	if graph.partitionCalls != 0 {
		t.Fatalf("empty graph must not be partitioned, got %d calls", graph.partitionCalls)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	newGraph := func() *scriptedGraph {
		return &scriptedGraph{
			entities: []common.Entity{
				entity("d", "u3"), entity("b", "u1"), entity("c", "u2"), entity("a", "u1"),
			},
			relationships: []common.Relationship{
				{Source: "c", Target: "d"},
				{Source: "b", Target: "a"},
			},
			partitions: map[string]map[string]string{
				"a,b,c,d": {"a": "x", "b": "x", "c": "y", "d": "y"},
				"a,b":     {"a": "a", "b": "b"},
				"c,d":     {"c": "c", "d": "d"},
			},
		}
	}

	first, err := NewBuilder(newGraph()).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	second, err := NewBuilder(newGraph()).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if !reflect.DeepEqual(first.All(), second.All()) {
		t.Fatalf("hierarchies differ across runs:\n%v\n%v", first.All(), second.All())
	}
}

func TestBuild_LevelZeroPartitionFailure(t *testing.T) {
	graph := &scriptedGraph{
		entities: []common.Entity{entity("a"), entity("b")},
		partitionErr: map[string]error{
			"a,b": errors.New("partition backend down"),
		},
	}

	if _, err := NewBuilder(graph).Build(context.Background()); err == nil {
		t.Fatal("expected level 0 partition failure to abort the build")
	}
}

func TestBuild_DeeperPartitionFailureSkipsBranch(t *testing.T) {
	graph := &scriptedGraph{
		entities: []common.Entity{entity("a"), entity("b"), entity("c"), entity("d")},
		partitions: map[string]map[string]string{
			"a,b,c,d": {"a": "x", "b": "x", "c": "y", "d": "y"},
			"c,d":     {"c": "c", "d": "d"},
		},
		partitionErr: map[string]error{
			"a,b": errors.New("partition backend down"),
		},
	}

	h, err := NewBuilder(graph).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	c0, ok := h.Community("c0")
	if !ok {
		t.Fatal("failed branch must keep its level 0 community")
	}
	if len(c0.SubCommunities) != 0 {
		t.Fatalf("failed branch grew children: %v", c0.SubCommunities)
	}

	c1, _ := h.Community("c1")
	if !reflect.DeepEqual(c1.SubCommunities, []string{"c1.0", "c1.1"}) {
		t.Fatalf("sibling branch children = %v", c1.SubCommunities)
	}
}

func TestBuild_DroppedEntityKeepsOwnCommunity(t *testing.T) {
	graph := &scriptedGraph{
		entities: []common.Entity{entity("a"), entity("b"), entity("c")},
		partitions: map[string]map[string]string{
			"a,b,c": {"a": "x", "b": "x"},
		},
	}

	h, err := NewBuilder(graph).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	ids := h.ForEntity("c")
	if len(ids) != 1 {
		t.Fatalf("dropped entity assignments = %v", ids)
	}
	c, _ := h.Community(ids[0])
	if !reflect.DeepEqual(c.Entities, []string{"c"}) {
		t.Fatalf("dropped entity community = %v", c.Entities)
	}
}

func TestBuild_PathGraphSplitsInHalf(t *testing.T) {
	names := []string{"n0", "n1", "n2", "n3", "n4", "n5", "n6", "n7", "n8", "n9"}

	entities := make([]common.Entity, 0, len(names))
	for _, name := range names {
		entities = append(entities, entity(name))
	}
	relationships := make([]common.Relationship, 0, len(names)-1)
	for i := 0; i < len(names)-1; i++ {
		relationships = append(relationships, common.Relationship{
			Source: names[i], Target: names[i+1], Weight: 1,
		})
	}

	labels := make(map[string]string, len(names))
	for i, name := range names {
		if i < 5 {
			labels[name] = "west"
		} else {
			labels[name] = "east"
		}
	}

	graph := &scriptedGraph{
		entities:      entities,
		relationships: relationships,
		partitions: map[string]map[string]string{
			subsetKey(names): labels,
		},
	}

	h, err := NewBuilder(graph).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got := h.AtLevel(0); !reflect.DeepEqual(got, []string{"c0", "c1"}) {
		t.Fatalf("level 0 communities = %v", got)
	}

	c0, _ := h.Community("c0")
	c1, _ := h.Community("c1")
	if !reflect.DeepEqual(c0.Entities, names[:5]) {
		t.Fatalf("c0 entities = %v", c0.Entities)
	}
	if !reflect.DeepEqual(c1.Entities, names[5:]) {
		t.Fatalf("c1 entities = %v", c1.Entities)
	}

	// Each half keeps its four inner path edges; the n4-n5 bridge crosses
	// the cut and must not appear on either side.
	if !reflect.DeepEqual(c0.Relationships, []string{"n0<->n1", "n1<->n2", "n2<->n3", "n3<->n4"}) {
		t.Fatalf("c0 relationships = %v", c0.Relationships)
	}
	if !reflect.DeepEqual(c1.Relationships, []string{"n5<->n6", "n6<->n7", "n7<->n8", "n8<->n9"}) {
		t.Fatalf("c1 relationships = %v", c1.Relationships)
	}

	// Equal-sized siblings both score 1.0.
	if c0.Occurrence != 1.0 || c1.Occurrence != 1.0 {
		t.Fatalf("occurrences = %v, %v, want 1.0 for both", c0.Occurrence, c1.Occurrence)
	}
}

func TestWithLevels_Bounds(t *testing.T) {
	graph := &scriptedGraph{}

	if got := NewBuilder(graph).WithLevels(0).levels; got != DefaultLevels {
		t.Fatalf("WithLevels(0) = %d, want default %d", got, DefaultLevels)
	}
	if got := NewBuilder(graph).WithLevels(99).levels; got != MaxLevelsLimit {
		t.Fatalf("WithLevels(99) = %d, want cap %d", got, MaxLevelsLimit)
	}
	if got := NewBuilder(graph).WithLevels(2).levels; got != 2 {
		t.Fatalf("WithLevels(2) = %d", got)
	}
}
