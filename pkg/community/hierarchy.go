package community

import (
	"sort"

	"github.com/pomelo-kg/pomelo/pkg/common"
)

// Hierarchy is an immutable snapshot of one community detection run. The
// storage layer assigns each persisted snapshot a generation number when it
// is swapped in; readers swap generations atomically and never observe a
// half-built state.
type Hierarchy struct {
	communities map[string]common.Community
	levels      map[int][]string
	byEntity    map[string][]string
}

func newHierarchy(communities []common.Community) *Hierarchy {
	h := &Hierarchy{
		communities: make(map[string]common.Community, len(communities)),
		levels:      make(map[int][]string),
		byEntity:    make(map[string][]string),
	}

	for _, c := range communities {
		h.communities[c.ID] = c
		h.levels[c.Level] = append(h.levels[c.Level], c.ID)
		for _, name := range c.Entities {
			h.byEntity[name] = append(h.byEntity[name], c.ID)
		}
	}

	for level := range h.levels {
		sort.Strings(h.levels[level])
	}
	for name := range h.byEntity {
		sort.Strings(h.byEntity[name])
	}

	return h
}

// Community returns the community with the given id.
func (h *Hierarchy) Community(id string) (common.Community, bool) {
	c, ok := h.communities[id]
	return c, ok
}

// AtLevel returns the ids of all communities at the given level, sorted.
func (h *Hierarchy) AtLevel(level int) []string {
	return h.levels[level]
}

// ForEntity returns the ids of all communities containing the entity, one
// per level on its root-to-leaf chain, sorted.
func (h *Hierarchy) ForEntity(name string) []string {
	return h.byEntity[name]
}

// Len returns the total number of communities across all levels.
func (h *Hierarchy) Len() int {
	return len(h.communities)
}

// Levels returns the number of populated hierarchy levels.
func (h *Hierarchy) Levels() int {
	return len(h.levels)
}

// All returns every community in the snapshot, sorted by level then id.
func (h *Hierarchy) All() []common.Community {
	out := make([]common.Community, 0, len(h.communities))
	for _, c := range h.communities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].ID < out[j].ID
	})
	return out
}
