package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy names accepted by ParseStrategy and WithStrategy.
const (
	StrategyRandom       = "random"
	StrategyLeastVisited = "leastvisited"
)

// ErrUnknownStrategy is returned for unrecognised strategy names.
var ErrUnknownStrategy = errors.New("unknown selection strategy")

// StrategyKind enumerates the next-hop policies.
type StrategyKind int

const (
	// Random picks a neighbor uniformly.
	Random StrategyKind = iota
	// LeastVisitedEdges picks uniformly among the neighbors whose edge from
	// the originating node has the lowest visit count.
	LeastVisitedEdges
)

func (k StrategyKind) String() string {
	switch k {
	case Random:
		return StrategyRandom
	case LeastVisitedEdges:
		return StrategyLeastVisited
	default:
		return fmt.Sprintf("StrategyKind(%d)", int(k))
	}
}

// ParseStrategy maps a configuration name to a StrategyKind. The empty name
// selects Random.
func ParseStrategy(name string) (StrategyKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategyRandom:
		return Random, nil
	case StrategyLeastVisited:
		return LeastVisitedEdges, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// Strategy is the per-node selection policy. From is the index of the
// originating node; the graph is supplied at selection time.
type Strategy struct {
	Kind StrategyKind
	From int
}

// Select returns one of neighbors. neighbors must not be empty.
func (s Strategy) Select(g *Graph, neighbors []int) int {
	switch s.Kind {
	case LeastVisitedEdges:
		return s.leastVisited(g, neighbors)
	default:
		return neighbors[g.rng.IntN(len(neighbors))]
	}
}

func (s Strategy) leastVisited(g *Graph, neighbors []int) int {
	from := g.nodes[s.From].ID
	best := -1
	var candidates []int
	for _, n := range neighbors {
		c := g.visits[Edge(from, g.nodes[n].ID)]
		switch {
		case best < 0 || c < best:
			best = c
			candidates = append(candidates[:0], n)
		case c == best:
			candidates = append(candidates, n)
		}
	}
	return candidates[g.rng.IntN(len(candidates))]
}
