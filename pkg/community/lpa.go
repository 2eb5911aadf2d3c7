package community

import (
	"context"
	"sort"

	"github.com/pomelo-kg/pomelo/pkg/common"
	"github.com/pomelo-kg/pomelo/pkg/store"
)

const (
	// DefaultMaxIterations is the default iteration cap before forced convergence.
	DefaultMaxIterations = 100

	// MaxIterationsLimit is the maximum allowed iteration count.
	MaxIterationsLimit = 10000
)

// LPAPartitioner implements the store.Partitioner primitive using weighted
// label propagation. Entities are visited in canonical (sorted) order and
// label ties are broken lexicographically, so the same subgraph always
// yields the same membership.
type LPAPartitioner struct {
	maxIterations int
}

var _ store.Partitioner = (*LPAPartitioner)(nil)

// NewLPAPartitioner creates a label-propagation partitioner.
func NewLPAPartitioner() *LPAPartitioner {
	return &LPAPartitioner{
		maxIterations: DefaultMaxIterations,
	}
}

// WithMaxIterations sets the iteration cap with validation.
func (p *LPAPartitioner) WithMaxIterations(max int) *LPAPartitioner {
	if max <= 0 {
		max = DefaultMaxIterations
	}
	if max > MaxIterationsLimit {
		max = MaxIterationsLimit
	}
	p.maxIterations = max
	return p
}

// Partition assigns every entity in the subset to a cluster label.
//
// Label propagation has no resolution knob; the resolution argument exists
// to satisfy the store.Partitioner contract and is ignored. Finer levels
// come from re-partitioning induced subgraphs, not from this parameter.
func (p *LPAPartitioner) Partition(
	ctx context.Context,
	entities []string,
	relationships []common.Relationship,
	resolution int,
) (map[string]string, error) {
	inSet := make(map[string]bool, len(entities))
	for _, name := range entities {
		inSet[name] = true
	}

	adjacency := make(map[string][]weightedNeighbor, len(entities))
	for _, rel := range relationships {
		if !inSet[rel.Source] || !inSet[rel.Target] {
			continue
		}
		weight := rel.Weight
		if weight <= 0 {
			weight = 1.0
		}
		adjacency[rel.Source] = append(adjacency[rel.Source], weightedNeighbor{rel.Target, weight})
		adjacency[rel.Target] = append(adjacency[rel.Target], weightedNeighbor{rel.Source, weight})
	}

	// Canonical visit order keeps results independent of input order.
	ordered := make([]string, len(entities))
	copy(ordered, entities)
	sort.Strings(ordered)

	labels := make(map[string]string, len(entities))
	for _, name := range ordered {
		labels[name] = name
	}

	for iter := 0; iter < p.maxIterations; iter++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		changed := false
		for _, name := range ordered {
			newLabel := p.computeNewLabel(name, adjacency[name], labels)
			if newLabel != labels[name] {
				labels[name] = newLabel
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	return labels, nil
}

type weightedNeighbor struct {
	name   string
	weight float64
}

// computeNewLabel picks the label with the highest weighted neighbor vote.
// Ties go to the lexicographically smallest label. Isolated entities keep
// their own label.
func (p *LPAPartitioner) computeNewLabel(
	name string,
	neighbors []weightedNeighbor,
	labels map[string]string,
) string {
	if len(neighbors) == 0 {
		return labels[name]
	}

	votes := make(map[string]float64)
	for _, n := range neighbors {
		label, ok := labels[n.name]
		if !ok {
			continue
		}
		votes[label] += n.weight
	}
	if len(votes) == 0 {
		return labels[name]
	}

	candidates := make([]string, 0, len(votes))
	for label := range votes {
		candidates = append(candidates, label)
	}
	sort.Strings(candidates)

	winner := candidates[0]
	maxVotes := votes[winner]
	for _, label := range candidates[1:] {
		if votes[label] > maxVotes {
			winner = label
			maxVotes = votes[label]
		}
	}

	return winner
}
