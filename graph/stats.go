package graph

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/patrol-simulator/geom"
)

// Stats summarises the visit ledger.
type Stats struct {
	TotalVisits    int
	VisitsPerEdge  float64
	UnvisitedEdges int
	TotalEdges     int
	// Coverage is the percentage of declared edges visited at least once.
	Coverage float64
	// AverageIdleness is the mean over visited edges of each edge's mean gap
	// between consecutive visits, counting a virtual visit at time zero.
	AverageIdleness float64
	// WorstIdleness is the largest single gap across all edges.
	WorstIdleness float64
}

// Stats aggregates the visit ledger. An empty edge set yields zero ratios.
func (g *Graph) Stats() Stats {
	s := Stats{TotalEdges: len(g.edges)}
	for _, id := range g.edges {
		c := g.visits[id]
		s.TotalVisits += c
		if c == 0 {
			s.UnvisitedEdges++
		}
	}
	if s.TotalEdges > 0 {
		s.VisitsPerEdge = float64(s.TotalVisits) / float64(s.TotalEdges)
		s.Coverage = float64(s.TotalEdges-s.UnvisitedEdges) / float64(s.TotalEdges) * 100
	}

	var means, worst []float64
	for _, id := range g.edges {
		gaps := idleGaps(g.times[id])
		if len(gaps) == 0 {
			continue
		}
		means = append(means, stat.Mean(gaps, nil))
		worst = append(worst, geom.Max(gaps))
	}
	if len(means) > 0 {
		s.AverageIdleness = stat.Mean(means, nil)
	}
	s.WorstIdleness = geom.Max(worst)
	return s
}

// idleGaps returns the gaps between consecutive timestamps, anchored at a
// virtual visit at time zero.
func idleGaps(times []float64) []float64 {
	if len(times) == 0 {
		return nil
	}
	gaps := make([]float64, len(times))
	prev := 0.0
	for i, t := range times {
		gaps[i] = t - prev
		prev = t
	}
	return gaps
}

// String renders the stats in the semicolon separated report format.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "total visits:%d;", s.TotalVisits)
	fmt.Fprintf(&b, "visits per edges:%g;", s.VisitsPerEdge)
	fmt.Fprintf(&b, "unvisited edges:%d;", s.UnvisitedEdges)
	fmt.Fprintf(&b, "total edges:%d;", s.TotalEdges)
	fmt.Fprintf(&b, "coverage:%g;", s.Coverage)
	fmt.Fprintf(&b, "average idleness:%g;", s.AverageIdleness)
	fmt.Fprintf(&b, "worst idleness:%g;", s.WorstIdleness)
	return b.String()
}
