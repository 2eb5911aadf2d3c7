package memory

import (
	"context"
	"reflect"
	"testing"

	"github.com/pomelo-kg/pomelo/pkg/common"
)

func TestSearchEntities_OrderAndTopK(t *testing.T) {
	s := NewGraphMemStorage(nil, nil)
	ctx := context.Background()

	entities := []common.Entity{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}
	if err := s.SaveEntities(ctx, entities); err != nil {
		t.Fatalf("SaveEntities() error = %v", err)
	}
	s.SetEntityEmbedding("a", []float32{1, 0})
	s.SetEntityEmbedding("b", []float32{0, 1})
	s.SetEntityEmbedding("c", []float32{1, 1})
	s.SetEntityEmbedding("d", []float32{1, 0})

	hits, err := s.SearchEntities(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("SearchEntities() error = %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want topK 3", len(hits))
	}

	// a and d tie at similarity 1; the id breaks the tie.
	if hits[0].ID != "a" || hits[1].ID != "d" || hits[2].ID != "c" {
		t.Fatalf("hit order = %v", hits)
	}
	if hits[0].Score < hits[1].Score || hits[1].Score < hits[2].Score {
		t.Fatalf("scores not descending: %v", hits)
	}

	none, err := s.SearchEntities(ctx, []float32{1, 0}, 0)
	if err != nil {
		t.Fatalf("SearchEntities() error = %v", err)
	}
	if none != nil {
		t.Fatalf("topK 0 hits = %v", none)
	}
}

func TestCommunitiesForEntities(t *testing.T) {
	s := NewGraphMemStorage(nil, nil)
	ctx := context.Background()

	communities := []common.Community{
		{ID: "c1", Level: 0, Entities: []string{"x"}},
		{ID: "c0", Level: 0, Entities: []string{"a", "b"}},
		{ID: "c0.0", Level: 1, ParentID: "c0", Entities: []string{"a"}},
	}
	if _, err := s.ReplaceCommunities(ctx, communities); err != nil {
		t.Fatalf("ReplaceCommunities() error = %v", err)
	}

	got, err := s.CommunitiesForEntities(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("CommunitiesForEntities() error = %v", err)
	}

	ids := make([]string, 0, len(got))
	for _, comm := range got {
		ids = append(ids, comm.ID)
	}
	if !reflect.DeepEqual(ids, []string{"c0", "c0.0"}) {
		t.Fatalf("community ids = %v", ids)
	}
}

func TestReplaceCommunities_SwapsWholeGeneration(t *testing.T) {
	s := NewGraphMemStorage(nil, nil)
	ctx := context.Background()

	first, err := s.ReplaceCommunities(ctx, []common.Community{{ID: "old"}})
	if err != nil {
		t.Fatalf("ReplaceCommunities() error = %v", err)
	}
	second, err := s.ReplaceCommunities(ctx, []common.Community{{ID: "new"}})
	if err != nil {
		t.Fatalf("ReplaceCommunities() error = %v", err)
	}
	if second <= first {
		t.Fatalf("generations not monotonic: %d then %d", first, second)
	}

	all, err := s.AllCommunities(ctx)
	if err != nil {
		t.Fatalf("AllCommunities() error = %v", err)
	}
	if len(all) != 1 || all[0].ID != "new" {
		t.Fatalf("communities after swap = %v", all)
	}
}
