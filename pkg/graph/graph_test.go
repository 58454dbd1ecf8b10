package graph

import (
	"errors"
	"slices"
	"testing"
)

func TestNewEdgeNormalizes(t *testing.T) {
	if got := NewEdge(7, 3); got != (Edge{U: 3, V: 7}) {
		t.Errorf("NewEdge(7,3) = %v, want (3,7)", got)
	}
	if !NewEdge(1, 2).Less(NewEdge(1, 3)) || NewEdge(2, 0).Less(NewEdge(0, 1)) {
		t.Error("Less does not order by (U, V)")
	}
}

func TestGraphBuild(t *testing.T) {
	edges := []Edge{{0, 1}, {2, 1}, {2, 3}, {0, 3}}
	g, err := New(edges)
	if err != nil {
		t.Fatal(err)
	}
	if g.NumNodes() != 4 || g.NumEdges() != 4 {
		t.Fatalf("got %d nodes %d edges, want 4/4", g.NumNodes(), g.NumEdges())
	}
	if g.Edge(1) != (Edge{1, 2}) {
		t.Errorf("row 1 = %v, want normalised (1,2)", g.Edge(1))
	}

	nb := g.Neighbors(1)
	slices.Sort(nb)
	if !slices.Equal(nb, []uint64{0, 2}) {
		t.Errorf("Neighbors(1) = %v, want [0 2]", nb)
	}
	if g.Neighbors(99) != nil {
		t.Error("Neighbors of unknown node should be nil")
	}

	m := NewIndexMap(edges)
	if i, ok := m.Lookup(Edge{3, 2}); !ok || i != 2 {
		t.Errorf("Lookup((3,2)) = %d,%v want 2,true", i, ok)
	}
}

func TestGraphRejectsBadEdges(t *testing.T) {
	if _, err := New([]Edge{{1, 1}}); !errors.Is(err, ErrSelfLoop) {
		t.Errorf("self loop: got %v", err)
	}
	if _, err := New([]Edge{{0, 1}, {1, 0}}); !errors.Is(err, ErrDuplicateEdge) {
		t.Errorf("duplicate: got %v", err)
	}
}

func TestEmptyGraph(t *testing.T) {
	g, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	if g.NumNodes() != 0 || g.NumEdges() != 0 {
		t.Errorf("empty graph reports %d nodes, %d edges", g.NumNodes(), g.NumEdges())
	}
	var nilGraph *Graph
	if nilGraph.NumNodes() != 0 {
		t.Error("nil graph should have zero nodes")
	}
}
