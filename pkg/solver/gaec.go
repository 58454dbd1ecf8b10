package solver

import (
	"context"
	"fmt"
	"math"

	"github.com/tidwall/btree"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/sanonone/pias/pkg/graph"
)

// GreedyAdditive is the greedy additive edge contraction heuristic for the
// multicut problem: repeatedly merge the pair of adjacent clusters joined by
// the largest positive summed cost, until no attractive pair remains.
type GreedyAdditive struct{}

type contraction struct {
	cost float64
	a, b int // a < b
}

// Partition implements Optimizer.
func (GreedyAdditive) Partition(ctx context.Context, g *graph.Graph, costs []float64) ([]uint64, error) {
	if len(costs) != g.NumEdges() {
		return nil, fmt.Errorf("%w: %d costs for %d edges", ErrLengthMismatch, len(costs), g.NumEdges())
	}

	n := g.NumNodes()
	adj := make([]map[int]float64, n)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}

	// Most attractive first; ties broken by cluster ids for determinism.
	queue := btree.NewBTreeGOptions(func(x, y contraction) bool {
		if x.cost != y.cost {
			return x.cost > y.cost
		}
		if x.a != y.a {
			return x.a < y.a
		}
		return x.b < y.b
	}, btree.Options{NoLocks: true})

	for i, c := range costs {
		if math.IsNaN(c) {
			return nil, fmt.Errorf("cost of row %d is NaN", i)
		}
		e := g.Edge(i)
		u, v := int(e.U), int(e.V)
		if adj[u] == nil {
			adj[u] = make(map[int]float64)
		}
		if adj[v] == nil {
			adj[v] = make(map[int]float64)
		}
		adj[u][v] = c
		adj[v][u] = c
		queue.Set(pair(c, u, v))
	}

	for steps := 0; ; steps++ {
		if steps%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		top, ok := queue.Min()
		if !ok || top.cost <= 0 {
			break
		}
		queue.Delete(top)
		keep, gone := top.a, top.b
		if len(adj[gone]) > len(adj[keep]) {
			keep, gone = gone, keep
		}

		delete(adj[keep], gone)
		delete(adj[gone], keep)
		for c, w := range adj[gone] {
			queue.Delete(pair(w, gone, c))
			delete(adj[c], gone)
			if old, ok := adj[keep][c]; ok {
				queue.Delete(pair(old, keep, c))
				w += old
			}
			adj[keep][c] = w
			adj[c][keep] = w
			queue.Set(pair(w, keep, c))
		}
		adj[gone] = nil
		parent[gone] = keep
	}

	return labelComponents(g, parent), nil
}

func pair(cost float64, a, b int) contraction {
	if a > b {
		a, b = b, a
	}
	return contraction{cost: cost, a: a, b: b}
}

func find(parent []int, x int) int {
	for parent[x] != x {
		parent[x] = parent[parent[x]]
		x = parent[x]
	}
	return x
}

// labelComponents derives the node labelling from the contraction: edges
// inside one cluster are kept, the rest are cut, and the connected components
// of the kept edges become the groups, numbered by first node.
func labelComponents(g *graph.Graph, parent []int) []uint64 {
	n := g.NumNodes()
	kept := simple.NewUndirectedGraph()
	for id := 0; id < n; id++ {
		kept.AddNode(simple.Node(int64(id)))
	}
	for i := 0; i < g.NumEdges(); i++ {
		e := g.Edge(i)
		if find(parent, int(e.U)) == find(parent, int(e.V)) {
			kept.SetEdge(kept.NewEdge(simple.Node(int64(e.U)), simple.Node(int64(e.V))))
		}
	}

	component := make([]int, n)
	for k, nodes := range topo.ConnectedComponents(kept) {
		for _, node := range nodes {
			component[node.ID()] = k
		}
	}

	labels := make([]uint64, n)
	relabel := make(map[int]uint64)
	for id := 0; id < n; id++ {
		l, ok := relabel[component[id]]
		if !ok {
			l = uint64(len(relabel))
			relabel[component[id]] = l
		}
		labels[id] = l
	}
	return labels
}
