// Package report derives read-only summaries from a finished or running
// patrol: how much of a trajectory followed the graph, how well it covered
// the area around the graph, and the per-agent result line.
package report

import (
	"fmt"

	"github.com/iancoleman/orderedmap"

	"github.com/signalsfoundry/patrol-simulator/flight"
	"github.com/signalsfoundry/patrol-simulator/geom"
	"github.com/signalsfoundry/patrol-simulator/graph"
)

// Course measures how closely a trajectory followed the graph.
type Course struct {
	// OnCourse is the number of consecutive sample segments crossing or
	// touching a graph edge.
	OnCourse int
	Segments int
	Percent  float64
}

// OnCourse counts the trajectory segments that intersect a graph edge.
// Fewer than two samples yield a zero report.
func OnCourse(samples []flight.Sample, g *graph.Graph) Course {
	if len(samples) < 2 {
		return Course{}
	}
	c := Course{Segments: len(samples) - 1}
	for i := 0; i < len(samples)-1; i++ {
		if g.LineIntersectsEdges(samples[i].Pos.XY(), samples[i+1].Pos.XY()) {
			c.OnCourse++
		}
	}
	c.Percent = 100 * float64(c.OnCourse) / float64(c.Segments)
	return c
}

// Coverage is the grid coverage of a trajectory over the graph bounds.
type Coverage struct {
	Cells              int
	Relevant           int
	CoveredRelevant    int
	CoveredIrrelevant  int
	Percent            float64 // covered relevant cells over relevant cells
	Deviation          float64 // covered irrelevant cells over covered cells
	UncoveredRelevants []geom.Region
}

// GridCoverage decomposes the graph bounds into cells of the given size and
// marks the first cell containing each sample. A cell is relevant when a
// graph edge crosses it.
func GridCoverage(samples []flight.Sample, g *graph.Graph, cellWidth, cellHeight float64) Coverage {
	cells := g.Decompose(cellWidth, cellHeight)
	cov := Coverage{Cells: len(cells)}
	covered := make([]bool, len(cells))
	for _, c := range cells {
		if c.Relevant {
			cov.Relevant++
		}
	}

	for _, s := range samples {
		p := s.Pos.XY()
		for j := range cells {
			if cells[j].Contains(p) {
				covered[j] = true
				break
			}
		}
	}

	for j, c := range cells {
		switch {
		case covered[j] && c.Relevant:
			cov.CoveredRelevant++
		case covered[j]:
			cov.CoveredIrrelevant++
		case c.Relevant:
			cov.UncoveredRelevants = append(cov.UncoveredRelevants, c.Region)
		}
	}

	if cov.Relevant > 0 {
		cov.Percent = 100 * float64(cov.CoveredRelevant) / float64(cov.Relevant)
	}
	if n := cov.CoveredRelevant + cov.CoveredIrrelevant; n > 0 {
		cov.Deviation = 100 * float64(cov.CoveredIrrelevant) / float64(n)
	}
	return cov
}

// AgentResult is the end-of-run summary of one agent.
type AgentResult struct {
	Agent     string
	Mode      string
	State     string
	Stats     graph.Stats
	Recharges int
	Course    Course
	Coverage  Coverage
}

// Summarize collects the result of m. Grid coverage is computed when both
// cell dimensions are positive.
func Summarize(m *flight.Machine, cellWidth, cellHeight float64) AgentResult {
	traj := m.Trajectory()
	r := AgentResult{
		Agent:     m.ID(),
		Mode:      m.Mode().String(),
		State:     m.State().String(),
		Stats:     m.Graph().Stats(),
		Recharges: m.Recharges(),
		Course:    OnCourse(traj, m.Graph()),
	}
	if cellWidth > 0 && cellHeight > 0 {
		r.Coverage = GridCoverage(traj, m.Graph(), cellWidth, cellHeight)
	}
	return r
}

// String renders the result line printed at the end of a run.
func (r AgentResult) String() string {
	return fmt.Sprintf("result of %s:%snumber of recharges:%d", r.Agent, r.Stats, r.Recharges)
}

// Ordered returns the result as a JSON object whose keys keep a stable,
// human-friendly order.
func (r AgentResult) Ordered() *orderedmap.OrderedMap {
	o := orderedmap.New()
	o.Set("agent", r.Agent)
	o.Set("mode", r.Mode)
	o.Set("state", r.State)
	o.Set("total_visits", r.Stats.TotalVisits)
	o.Set("visits_per_edge", r.Stats.VisitsPerEdge)
	o.Set("unvisited_edges", r.Stats.UnvisitedEdges)
	o.Set("total_edges", r.Stats.TotalEdges)
	o.Set("coverage_pct", r.Stats.Coverage)
	o.Set("average_idleness_s", r.Stats.AverageIdleness)
	o.Set("worst_idleness_s", r.Stats.WorstIdleness)
	o.Set("recharges", r.Recharges)
	o.Set("on_course", r.Course.OnCourse)
	o.Set("trajectory_segments", r.Course.Segments)
	o.Set("on_course_pct", r.Course.Percent)
	if r.Coverage.Cells > 0 {
		o.Set("grid_coverage_pct", r.Coverage.Percent)
		o.Set("grid_deviation_pct", r.Coverage.Deviation)
	}
	return o
}
