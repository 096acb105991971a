// Package graph holds the patrol route graph: waypoints, declared edges,
// per-node next-hop strategies and the edge visit ledger used for coverage
// and idleness statistics.
package graph

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/brunoga/deep"

	"github.com/signalsfoundry/patrol-simulator/geom"
	"github.com/signalsfoundry/patrol-simulator/internal/logging"
)

// BaseType is the node type tag that marks the base station.
const BaseType = "base"

var (
	// ErrNoNodes is returned when a description contains no nodes, leaving
	// the graph without a base.
	ErrNoNodes = errors.New("graph has no nodes")
	// ErrDuplicateNode is returned when two nodes share an id.
	ErrDuplicateNode = errors.New("duplicate node id")
	// ErrUnknownNode is returned when an edge references an undeclared node.
	ErrUnknownNode = errors.New("unknown node")
	// ErrInvalidNode is returned for nodes with an empty id.
	ErrInvalidNode = errors.New("invalid node")
)

// EdgeID identifies a directed edge as "from->to".
type EdgeID string

// Edge builds the id of the directed edge from -> to.
func Edge(from, to string) EdgeID {
	return EdgeID(from + "->" + to)
}

// Split returns the endpoints of the edge.
func (e EdgeID) Split() (from, to string) {
	from, to, _ = strings.Cut(string(e), "->")
	return from, to
}

// NodeSpec describes a waypoint in a graph description.
type NodeSpec struct {
	ID   string  `json:"id" xml:"id,attr"`
	X    float64 `json:"x" xml:"x,attr"`
	Y    float64 `json:"y" xml:"y,attr"`
	Type string  `json:"type,omitempty" xml:"type,attr,omitempty"`
}

// EdgeSpec describes a directed edge in a graph description.
type EdgeSpec struct {
	From string `json:"from" xml:"from,attr"`
	To   string `json:"to" xml:"to,attr"`
}

// Description is the loader-independent input of New.
type Description struct {
	Nodes []NodeSpec
	Edges []EdgeSpec
}

// Node is a waypoint owned by a Graph. Neighbors are indices into the
// graph's node table.
type Node struct {
	ID        string
	Pos       geom.Point
	Type      string
	Neighbors []int
	Strategy  Strategy

	index int
}

// Index returns the position of the node in its graph.
func (n *Node) Index() int { return n.index }

// Distance returns the planar distance from the node to (x, y).
func (n *Node) Distance(x, y float64) float64 {
	return geom.Distance(n.Pos, geom.Point{x, y})
}

// Graph owns every node and the visit ledger. It is not safe for concurrent
// use; simulations serialise access through the event kernel.
type Graph struct {
	nodes []Node
	index map[string]int
	base  int

	edges  []EdgeID
	visits map[EdgeID]int
	times  map[EdgeID][]float64

	rng *rand.Rand
	log logging.Logger
}

type options struct {
	strategy string
	base     string
	baseNear *geom.Point
	rng      *rand.Rand
	log      logging.Logger
}

// Option configures graph construction.
type Option func(*options)

// WithStrategy selects the next-hop strategy assigned to every node.
func WithStrategy(name string) Option {
	return func(o *options) { o.strategy = name }
}

// WithBase designates the node with the given id as base, overriding any
// tag. New fails with ErrUnknownNode when no such node exists.
func WithBase(id string) Option {
	return func(o *options) { o.base = id }
}

// WithBaseNear designates the node nearest to (x, y) as base when no node
// is tagged as base.
func WithBaseNear(x, y float64) Option {
	return func(o *options) {
		p := geom.Point{x, y}
		o.baseNear = &p
	}
}

// WithRand sets the random source used by strategies.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

// WithLogger sets the logger used for load diagnostics.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// New builds a graph from a description. Node ids must be unique and every
// edge must reference declared nodes. Repeated edge declarations are
// ignored.
func New(desc Description, opts ...Option) (*Graph, error) {
	o := options{strategy: StrategyRandom}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if o.log == nil {
		o.log = logging.Noop()
	}

	kind, err := ParseStrategy(o.strategy)
	if err != nil {
		return nil, err
	}
	if len(desc.Nodes) == 0 {
		return nil, ErrNoNodes
	}

	g := &Graph{
		nodes:  make([]Node, 0, len(desc.Nodes)),
		index:  make(map[string]int, len(desc.Nodes)),
		base:   -1,
		visits: make(map[EdgeID]int, len(desc.Edges)),
		times:  make(map[EdgeID][]float64, len(desc.Edges)),
		rng:    o.rng,
		log:    o.log,
	}

	for _, ns := range desc.Nodes {
		if ns.ID == "" {
			return nil, fmt.Errorf("%w: empty id", ErrInvalidNode)
		}
		if _, exists := g.index[ns.ID]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateNode, ns.ID)
		}
		idx := len(g.nodes)
		g.nodes = append(g.nodes, Node{
			ID:       ns.ID,
			Pos:      geom.Point{ns.X, ns.Y},
			Type:     ns.Type,
			Strategy: Strategy{Kind: kind, From: idx},
			index:    idx,
		})
		g.index[ns.ID] = idx
		if g.base < 0 && strings.EqualFold(ns.Type, BaseType) {
			g.base = idx
		}
	}

	for _, es := range desc.Edges {
		from, ok := g.index[es.From]
		if !ok {
			return nil, fmt.Errorf("%w: edge %s->%s references %q", ErrUnknownNode, es.From, es.To, es.From)
		}
		to, ok := g.index[es.To]
		if !ok {
			return nil, fmt.Errorf("%w: edge %s->%s references %q", ErrUnknownNode, es.From, es.To, es.To)
		}
		id := Edge(es.From, es.To)
		if _, exists := g.visits[id]; exists {
			g.log.Debug(context.Background(), "ignoring repeated edge", logging.String("edge", string(id)))
			continue
		}
		g.nodes[from].Neighbors = append(g.nodes[from].Neighbors, to)
		g.visits[id] = 0
		g.edges = append(g.edges, id)
	}

	switch {
	case o.base != "":
		i, ok := g.index[o.base]
		if !ok {
			return nil, fmt.Errorf("%w: base %q", ErrUnknownNode, o.base)
		}
		g.base = i
	case g.base >= 0: // tagged in the description
	case o.baseNear != nil:
		g.base = g.FindNearest(o.baseNear.X(), o.baseNear.Y()).index
	default:
		g.base = 0
	}

	if missing := g.Unreachable(); len(missing) > 0 {
		g.log.Warn(context.Background(), "nodes unreachable from base",
			logging.String("base", g.nodes[g.base].ID),
			logging.Any("nodes", missing),
		)
	}

	return g, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node at index i.
func (g *Graph) Node(i int) *Node { return &g.nodes[i] }

// Lookup returns the node with the given id.
func (g *Graph) Lookup(id string) (*Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return &g.nodes[i], true
}

// Base returns the designated base node.
func (g *Graph) Base() *Node { return &g.nodes[g.base] }

// Nodes returns the node table in insertion order. Callers must not modify
// the returned nodes.
func (g *Graph) Nodes() []Node { return g.nodes }

// Edges returns the declared edge ids sorted lexically.
func (g *Graph) Edges() []EdgeID {
	out := make([]EdgeID, len(g.edges))
	copy(out, g.edges)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Segments returns the planar segment of every declared edge in declaration
// order.
func (g *Graph) Segments() []geom.Segment {
	segs := make([]geom.Segment, 0, len(g.edges))
	for _, id := range g.edges {
		from, to := id.Split()
		a, b := g.nodes[g.index[from]], g.nodes[g.index[to]]
		segs = append(segs, geom.Segment{A: a.Pos, B: b.Pos})
	}
	return segs
}

// FindNearest returns the node closest to (x, y). Ties keep the node found
// first, scanning from the base and then in insertion order.
func (g *Graph) FindNearest(x, y float64) *Node {
	if len(g.nodes) == 0 {
		return nil
	}
	start := g.base
	if start < 0 {
		start = 0
	}
	best := &g.nodes[start]
	bestDist := best.Distance(x, y)
	for i := range g.nodes {
		if d := g.nodes[i].Distance(x, y); d < bestDist {
			best, bestDist = &g.nodes[i], d
		}
	}
	return best
}

// SelectNext returns the index of the next waypoint after from, using the
// node's strategy. A node without neighbors is its own successor.
func (g *Graph) SelectNext(from int) int {
	n := &g.nodes[from]
	if len(n.Neighbors) == 0 {
		return from
	}
	return n.Strategy.Select(g, n.Neighbors)
}

// MarkEdge records a traversal of from->to at time t (seconds). Both the
// edge and its reverse, when declared, gain one visit; only the forward
// edge records the timestamp. Undeclared edges are ignored.
func (g *Graph) MarkEdge(from, to string, t float64) {
	id := Edge(from, to)
	if _, ok := g.visits[id]; ok {
		g.visits[id]++
		g.times[id] = append(g.times[id], t)
	}
	rev := Edge(to, from)
	if _, ok := g.visits[rev]; ok && rev != id {
		g.visits[rev]++
	}
}

// VisitCount returns the visit count of from->to, or 0 if undeclared.
func (g *Graph) VisitCount(from, to string) int {
	return g.visits[Edge(from, to)]
}

// HasEdge reports whether from->to was declared.
func (g *Graph) HasEdge(from, to string) bool {
	_, ok := g.visits[Edge(from, to)]
	return ok
}

// VisitCounts returns a copy of the visit ledger.
func (g *Graph) VisitCounts() map[EdgeID]int {
	return deep.MustCopy(g.visits)
}

// VisitTimes returns a copy of the recorded visit timestamps of an edge.
func (g *Graph) VisitTimes(id EdgeID) []float64 {
	return deep.MustCopy(g.times[id])
}

// Bounds returns the bounding region of all nodes.
func (g *Graph) Bounds() geom.Region {
	pts := make([]geom.Point, 0, len(g.nodes))
	for _, n := range g.nodes {
		pts = append(pts, n.Pos)
	}
	return geom.BoundOf(pts)
}

// Distance returns the planar distance between two nodes by index.
func (g *Graph) Distance(a, b int) float64 {
	if a < 0 || b < 0 {
		return math.Inf(1)
	}
	return geom.Distance(g.nodes[a].Pos, g.nodes[b].Pos)
}
