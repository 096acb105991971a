package graph

import (
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/signalsfoundry/patrol-simulator/geom"
)

// Cell is one grid cell of a decomposed graph area.
type Cell struct {
	geom.Region
	// Relevant is set when at least one declared edge passes through the
	// cell.
	Relevant bool
}

// Decompose splits the bounding box of the graph into cells of the given
// size and flags the cells crossed by an edge.
func (g *Graph) Decompose(width, height float64) []Cell {
	regions := g.Bounds().Decompose(width, height)
	segs := g.Segments()
	cells := make([]Cell, len(regions))
	for i, r := range regions {
		cells[i].Region = r
		for _, s := range segs {
			if r.Intersects(s) {
				cells[i].Relevant = true
				break
			}
		}
	}
	return cells
}

// LineIntersectsEdges reports whether the segment p1-p2 crosses or touches
// any declared edge.
func (g *Graph) LineIntersectsEdges(p1, p2 geom.Point) bool {
	for _, s := range g.Segments() {
		if geom.SegmentsIntersect(p1, p2, s.A, s.B) {
			return true
		}
	}
	return false
}

// Unreachable returns the ids of nodes with no directed path from the base.
// Dead ends are legal, so this is a diagnostic rather than an error.
func (g *Graph) Unreachable() []string {
	if len(g.nodes) == 0 || g.base < 0 {
		return nil
	}
	dg := simple.NewDirectedGraph()
	for i := range g.nodes {
		dg.AddNode(simple.Node(int64(i)))
	}
	for i, n := range g.nodes {
		for _, nb := range n.Neighbors {
			if nb == i {
				continue
			}
			dg.SetEdge(dg.NewEdge(dg.Node(int64(i)), dg.Node(int64(nb))))
		}
	}

	base := dg.Node(int64(g.base))
	var missing []string
	for i, n := range g.nodes {
		if i == g.base {
			continue
		}
		if !topo.PathExistsIn(dg, base, dg.Node(int64(i))) {
			missing = append(missing, n.ID)
		}
	}
	return missing
}
