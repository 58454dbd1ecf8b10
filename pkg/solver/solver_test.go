package solver

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/sanonone/pias/pkg/graph"
)

func mustGraph(t *testing.T, edges []graph.Edge) *graph.Graph {
	t.Helper()
	g, err := graph.New(edges)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func square(t *testing.T) *graph.Graph {
	return mustGraph(t, []graph.Edge{{U: 0, V: 1}, {U: 1, V: 2}, {U: 2, V: 3}, {U: 0, V: 3}})
}

func TestOptimizeFollowsProbabilities(t *testing.T) {
	s := New(nil, Options{})
	seg, err := s.Optimize(context.Background(), square(t), []float64{0.9, 0.1, 0.9, 0.1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(seg) != 4 {
		t.Fatalf("segmentation has %d nodes", len(seg))
	}
	if seg[0] != seg[1] || seg[2] != seg[3] || seg[1] == seg[2] {
		t.Errorf("expected {0,1},{2,3}, got %v", seg)
	}
	if seg[0] != 0 || seg[2] != 1 {
		t.Errorf("groups should be numbered by first node, got %v", seg)
	}
}

func TestOptimizeAbsentInputIsNoop(t *testing.T) {
	s := New(nil, Options{})
	if seg, err := s.Optimize(context.Background(), nil, []float64{0.5}, nil); seg != nil || err != nil {
		t.Errorf("nil graph: got %v, %v", seg, err)
	}
	if seg, err := s.Optimize(context.Background(), square(t), nil, nil); seg != nil || err != nil {
		t.Errorf("nil weights: got %v, %v", seg, err)
	}
}

func TestOptimizeValidation(t *testing.T) {
	s := New(nil, Options{})
	g := square(t)
	ctx := context.Background()
	probs := []float64{0.5, 0.5, 0.5, 0.5}

	testCases := []struct {
		name  string
		probs []float64
		known *KnownLabels
		want  error
	}{
		{"short probs", []float64{0.5}, nil, ErrLengthMismatch},
		{"nan prob", []float64{0.5, 0.5, 0.5, -1}, nil, ErrInvalidProbability},
		{"known length", probs, &KnownLabels{Rows: []int{0}}, ErrInvalidKnownLabels},
		{"known row range", probs, &KnownLabels{Rows: []int{4}, Labels: []int{1}}, ErrInvalidKnownLabels},
		{"known label value", probs, &KnownLabels{Rows: []int{0}, Labels: []int{2}}, ErrInvalidKnownLabels},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Optimize(ctx, g, tc.probs, tc.known)
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCostsClipAndOverride(t *testing.T) {
	s := New(nil, Options{Epsilon: 1e-3})
	costs, err := s.Costs([]float64{0, 1, 0.5}, &KnownLabels{Rows: []int{2}, Labels: []int{0}})
	if err != nil {
		t.Fatal(err)
	}
	if costs[0] >= 0 || costs[1] <= 0 || costs[0] != -costs[1] {
		t.Errorf("clipped costs should be symmetric and finite, got %v", costs)
	}
	if costs[2] > -(-costs[0]+costs[1]) {
		t.Errorf("override %v does not dominate learned costs %v", costs[2], costs[:2])
	}
}

func randomGraph(rng *rand.Rand, nodes int) []graph.Edge {
	seen := map[graph.Edge]bool{}
	var edges []graph.Edge
	for u := 0; u < nodes-1; u++ {
		e := graph.NewEdge(uint64(u), uint64(u+1)) // keep it connected
		seen[e] = true
		edges = append(edges, e)
	}
	for k := 0; k < nodes*2; k++ {
		u, v := rng.IntN(nodes), rng.IntN(nodes)
		e := graph.NewEdge(uint64(u), uint64(v))
		if u == v || seen[e] {
			continue
		}
		seen[e] = true
		edges = append(edges, e)
	}
	return edges
}

func TestKnownLabelsAreHonored(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	s := New(nil, Options{})

	for trial := 0; trial < 50; trial++ {
		g := mustGraph(t, randomGraph(rng, 12))
		probs := make([]float64, g.NumEdges())
		for i := range probs {
			probs[i] = rng.Float64()
		}
		row := rng.IntN(g.NumEdges())
		e := g.Edge(row)

		merged, err := s.Optimize(context.Background(), g, probs, &KnownLabels{Rows: []int{row}, Labels: []int{1}})
		if err != nil {
			t.Fatal(err)
		}
		if merged[e.U] != merged[e.V] {
			t.Fatalf("trial %d: forced merge of %v was cut", trial, e)
		}

		cut, err := s.Optimize(context.Background(), g, probs, &KnownLabels{Rows: []int{row}, Labels: []int{0}})
		if err != nil {
			t.Fatal(err)
		}
		if cut[e.U] == cut[e.V] {
			t.Fatalf("trial %d: forced cut of %v was merged", trial, e)
		}
	}
}

func TestPartitionIsolatedNodes(t *testing.T) {
	// Node 1 and 3 have no edges; each ends up alone.
	g := mustGraph(t, []graph.Edge{{U: 0, V: 2}, {U: 2, V: 4}})
	seg, err := GreedyAdditive{}.Partition(context.Background(), g, []float64{1, -1})
	if err != nil {
		t.Fatal(err)
	}
	want := []uint64{0, 1, 0, 2, 3}
	for i := range want {
		if seg[i] != want[i] {
			t.Fatalf("got %v, want %v", seg, want)
		}
	}
}

func TestPartitionHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := GreedyAdditive{}.Partition(ctx, square(t), []float64{1, 1, 1, 1})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
