package graph

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/signalsfoundry/patrol-simulator/geom"
	"github.com/signalsfoundry/patrol-simulator/internal/logging"
)

func lineDescription() Description {
	return Description{
		Nodes: []NodeSpec{
			{ID: "base", X: 0, Y: 0, Type: BaseType},
			{ID: "n1", X: 100, Y: 0},
			{ID: "n2", X: 200, Y: 0},
		},
		Edges: []EdgeSpec{
			{From: "base", To: "n1"},
			{From: "n1", To: "base"},
			{From: "n1", To: "n2"},
			{From: "n2", To: "n1"},
		},
	}
}

func mustGraph(t *testing.T, desc Description, opts ...Option) *Graph {
	t.Helper()
	g, err := New(desc, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func seeded(seed uint64) Option {
	return WithRand(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

func TestNewRejectsInvalidDescriptions(t *testing.T) {
	tests := []struct {
		name string
		desc Description
		want error
	}{
		{"empty", Description{}, ErrNoNodes},
		{"duplicate node", Description{Nodes: []NodeSpec{{ID: "a"}, {ID: "a"}}}, ErrDuplicateNode},
		{"unknown endpoint", Description{
			Nodes: []NodeSpec{{ID: "a"}},
			Edges: []EdgeSpec{{From: "a", To: "b"}},
		}, ErrUnknownNode},
		{"empty id", Description{Nodes: []NodeSpec{{ID: ""}}}, ErrInvalidNode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.desc)
			if !errors.Is(err, tt.want) {
				t.Fatalf("New error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := New(lineDescription(), WithStrategy("greedy")); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestBaseDesignation(t *testing.T) {
	desc := lineDescription()
	if got := mustGraph(t, desc).Base().ID; got != "base" {
		t.Fatalf("tagged base = %q, want base", got)
	}

	desc.Nodes[0].Type = ""
	if got := mustGraph(t, desc).Base().ID; got != "base" {
		t.Fatalf("first-inserted base = %q, want base", got)
	}

	if got := mustGraph(t, desc, WithBaseNear(190, 5)).Base().ID; got != "n2" {
		t.Fatalf("nearest base = %q, want n2", got)
	}

	// An explicit tag wins over a coordinate hint.
	desc.Nodes[1].Type = BaseType
	if got := mustGraph(t, desc, WithBaseNear(190, 5)).Base().ID; got != "n1" {
		t.Fatalf("tagged base with hint = %q, want n1", got)
	}

	// A base chosen by id wins over both.
	if got := mustGraph(t, desc, WithBase("n2"), WithBaseNear(0, 0)).Base().ID; got != "n2" {
		t.Fatalf("base by id = %q, want n2", got)
	}
	if _, err := New(desc, WithBase("nowhere")); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("unknown base error = %v, want ErrUnknownNode", err)
	}
}

func TestUnreachableWarningUsesChosenBase(t *testing.T) {
	desc := lineDescription()
	desc.Nodes = append(desc.Nodes, NodeSpec{ID: "sink", X: 300, Y: 0})
	desc.Edges = append(desc.Edges, EdgeSpec{From: "n2", To: "sink"})

	var buf bytes.Buffer
	log := logging.NewWithWriter(&buf, logging.Config{Format: "json"})
	mustGraph(t, desc, WithLogger(log))
	if buf.Len() != 0 {
		t.Fatalf("warning with a connected base: %s", buf.String())
	}

	mustGraph(t, desc, WithLogger(log), WithBase("sink"))
	out := buf.String()
	if strings.Count(out, "nodes unreachable from base") != 1 || !strings.Contains(out, `"base":"sink"`) {
		t.Fatalf("log = %s, want one warning against base sink", out)
	}
}

func TestRepeatedEdgesAreIgnored(t *testing.T) {
	desc := lineDescription()
	desc.Edges = append(desc.Edges, EdgeSpec{From: "base", To: "n1"})
	g := mustGraph(t, desc)
	if got := len(g.Edges()); got != 4 {
		t.Fatalf("expected 4 edges, got %d", got)
	}
	if got := len(g.Base().Neighbors); got != 1 {
		t.Fatalf("expected base to have 1 neighbor, got %d", got)
	}
}

func TestMarkEdgeSymmetry(t *testing.T) {
	desc := lineDescription()
	// Declare n2 -> n3 only in one direction.
	desc.Nodes = append(desc.Nodes, NodeSpec{ID: "n3", X: 300})
	desc.Edges = append(desc.Edges, EdgeSpec{From: "n2", To: "n3"})
	g := mustGraph(t, desc)

	g.MarkEdge("base", "n1", 3)
	if g.VisitCount("base", "n1") != 1 || g.VisitCount("n1", "base") != 1 {
		t.Fatalf("expected both directions marked, got %d/%d",
			g.VisitCount("base", "n1"), g.VisitCount("n1", "base"))
	}
	if got := g.VisitTimes(Edge("base", "n1")); len(got) != 1 || got[0] != 3 {
		t.Fatalf("forward timestamps = %v, want [3]", got)
	}
	if got := g.VisitTimes(Edge("n1", "base")); len(got) != 0 {
		t.Fatalf("reverse timestamps = %v, want none", got)
	}

	g.MarkEdge("n2", "n3", 5)
	if g.VisitCount("n2", "n3") != 1 {
		t.Fatalf("expected n2->n3 to be marked once")
	}
	if g.HasEdge("n3", "n2") {
		t.Fatalf("reverse edge should not exist")
	}

	// Undeclared edges are ignored.
	before := g.Stats().TotalVisits
	g.MarkEdge("base", "n3", 6)
	if got := g.Stats().TotalVisits; got != before {
		t.Fatalf("undeclared edge changed total visits: %d -> %d", before, got)
	}
}

func TestFindNearestIsIdempotent(t *testing.T) {
	g := mustGraph(t, lineDescription())
	a := g.FindNearest(140, 10)
	b := g.FindNearest(140, 10)
	if a != b {
		t.Fatalf("FindNearest returned different nodes: %s vs %s", a.ID, b.ID)
	}
	if a.ID != "n1" {
		t.Fatalf("FindNearest = %s, want n1", a.ID)
	}
	// Equidistant between base and n1: the first found wins.
	if got := g.FindNearest(50, 0); got.ID != "base" {
		t.Fatalf("tie broke to %s, want base", got.ID)
	}
}

func TestSelectNextDeadEnd(t *testing.T) {
	g := mustGraph(t, Description{
		Nodes: []NodeSpec{{ID: "a"}, {ID: "b", X: 10}},
		Edges: []EdgeSpec{{From: "a", To: "b"}},
	})
	b, _ := g.Lookup("b")
	if got := g.SelectNext(b.Index()); got != b.Index() {
		t.Fatalf("dead end successor = %d, want %d", got, b.Index())
	}
}

func TestLeastVisitedNeverPicksAboveMinimum(t *testing.T) {
	desc := Description{
		Nodes: []NodeSpec{{ID: "hub"}, {ID: "a", X: 1}, {ID: "b", Y: 1}, {ID: "c", X: -1}},
		Edges: []EdgeSpec{{From: "hub", To: "a"}, {From: "hub", To: "b"}, {From: "hub", To: "c"}},
	}
	g := mustGraph(t, desc, WithStrategy(StrategyLeastVisited), seeded(7))
	hub := g.Base()

	for i := 0; i < 60; i++ {
		min := -1
		for _, nb := range hub.Neighbors {
			c := g.VisitCount("hub", g.Node(nb).ID)
			if min < 0 || c < min {
				min = c
			}
		}
		next := g.SelectNext(hub.Index())
		if c := g.VisitCount("hub", g.Node(next).ID); c > min {
			t.Fatalf("step %d: selected edge with %d visits, minimum is %d", i, c, min)
		}
		g.MarkEdge("hub", g.Node(next).ID, float64(i))
	}

	for _, id := range []string{"a", "b", "c"} {
		if got := g.VisitCount("hub", id); got != 20 {
			t.Fatalf("hub->%s visited %d times, want 20", id, got)
		}
	}
}

func TestRandomWalkVisitsEveryEdge(t *testing.T) {
	g := mustGraph(t, lineDescription(), seeded(42))
	cur := g.Base().Index()
	for step := 0; step < 100; step++ {
		next := g.SelectNext(cur)
		g.MarkEdge(g.Node(cur).ID, g.Node(next).ID, float64(step))
		cur = next
	}
	if g.VisitCount("base", "n1") == 0 || g.VisitCount("n1", "n2") == 0 {
		t.Fatalf("expected both edges visited: base-n1=%d n1-n2=%d",
			g.VisitCount("base", "n1"), g.VisitCount("n1", "n2"))
	}
}

func TestStatsCoverageAndIdleness(t *testing.T) {
	g := mustGraph(t, lineDescription())
	s := g.Stats()
	if s.Coverage != 0 || s.TotalEdges != 4 || s.UnvisitedEdges != 4 {
		t.Fatalf("unexpected initial stats: %+v", s)
	}

	g.MarkEdge("base", "n1", 10)
	g.MarkEdge("n1", "n2", 20)
	g.MarkEdge("n2", "n1", 30)
	g.MarkEdge("n1", "base", 40)
	g.MarkEdge("base", "n1", 60)

	s = g.Stats()
	if s.Coverage != 100 {
		t.Fatalf("coverage = %v, want 100", s.Coverage)
	}
	if s.TotalVisits != 10 {
		t.Fatalf("total visits = %d, want 10", s.TotalVisits)
	}
	// base->n1 gaps: 10, 50 (mean 30); n1->n2: 20; n2->n1: 30; n1->base: 40.
	if s.AverageIdleness != 30 {
		t.Fatalf("average idleness = %v, want 30", s.AverageIdleness)
	}
	if s.WorstIdleness != 50 {
		t.Fatalf("worst idleness = %v, want 50", s.WorstIdleness)
	}
	if !strings.HasPrefix(s.String(), "total visits:10;visits per edges:2.5;unvisited edges:0;total edges:4;coverage:100;") {
		t.Fatalf("unexpected stats string %q", s.String())
	}
}

func TestStatsWithoutEdges(t *testing.T) {
	g := mustGraph(t, Description{Nodes: []NodeSpec{{ID: "solo"}}})
	s := g.Stats()
	if s.Coverage != 0 || s.VisitsPerEdge != 0 || s.AverageIdleness != 0 {
		t.Fatalf("expected zero stats, got %+v", s)
	}
}

func TestDecomposeFlagsCellsOnEdges(t *testing.T) {
	g := mustGraph(t, Description{
		Nodes: []NodeSpec{{ID: "a"}, {ID: "b", X: 100}, {ID: "c", X: 100, Y: 100}},
		Edges: []EdgeSpec{{From: "a", To: "b"}, {From: "b", To: "c"}},
	})
	cells := g.Decompose(50, 50)
	if len(cells) != 4 {
		t.Fatalf("expected 4 cells, got %d", len(cells))
	}
	// The diagonal-free L shape leaves only the top-left cell untouched.
	relevant := 0
	for _, c := range cells {
		if c.Relevant {
			relevant++
		}
	}
	if relevant != 3 {
		t.Fatalf("relevant cells = %d, want 3", relevant)
	}
	if cells[2].Relevant {
		t.Fatalf("top-left cell should not be relevant")
	}

	if !g.LineIntersectsEdges(geom.Point{50, -10}, geom.Point{50, 10}) {
		t.Fatalf("segment crossing a-b not detected")
	}
	if g.LineIntersectsEdges(geom.Point{10, 50}, geom.Point{40, 60}) {
		t.Fatalf("segment away from edges reported as intersecting")
	}
}

func TestUnreachable(t *testing.T) {
	g := mustGraph(t, Description{
		Nodes: []NodeSpec{{ID: "a"}, {ID: "b", X: 1}, {ID: "island", X: 5}},
		Edges: []EdgeSpec{{From: "a", To: "b"}},
	})
	got := g.Unreachable()
	if len(got) != 1 || got[0] != "island" {
		t.Fatalf("Unreachable = %v, want [island]", got)
	}
}
