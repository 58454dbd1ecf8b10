// Package graph defines the region adjacency graph shared by the caches, the
// solver and the workflow.
//
// An Edge is identified by its two endpoint node ids. It carries no stored id
// of its own: within one feature-cache generation it resolves to a row index
// through an IndexMap, and that row index addresses the edge's feature row and
// its entry in any per-edge vector (probabilities, costs).
package graph

import (
	"errors"
	"fmt"

	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

var (
	// ErrSelfLoop is returned when an edge connects a node to itself.
	ErrSelfLoop = errors.New("self-loop edge")
	// ErrDuplicateEdge is returned when the same node pair appears twice.
	ErrDuplicateEdge = errors.New("duplicate edge")
)

// Edge is a pair of node ids. Use NewEdge to obtain the normalised form
// (U <= V) that every map in this module is keyed by.
type Edge struct {
	U uint64
	V uint64
}

// NewEdge returns the normalised edge between u and v.
func NewEdge(u, v uint64) Edge {
	if u > v {
		u, v = v, u
	}
	return Edge{U: u, V: v}
}

// Normalize returns e with its endpoints ordered.
func (e Edge) Normalize() Edge {
	return NewEdge(e.U, e.V)
}

// Less orders edges by (U, V).
func (e Edge) Less(o Edge) bool {
	if e.U != o.U {
		return e.U < o.U
	}
	return e.V < o.V
}

func (e Edge) String() string {
	return fmt.Sprintf("(%d,%d)", e.U, e.V)
}

// IndexMap resolves an edge to its row index in one cache generation.
type IndexMap map[Edge]int

// NewIndexMap builds the edge→row map for a row-aligned edge list.
func NewIndexMap(edges []Edge) IndexMap {
	m := make(IndexMap, len(edges))
	for i, e := range edges {
		m[e.Normalize()] = i
	}
	return m
}

// Lookup returns the row index of e, normalising it first.
func (m IndexMap) Lookup(e Edge) (int, bool) {
	i, ok := m[e.Normalize()]
	return i, ok
}

// Clone returns an independent copy of the map.
func (m IndexMap) Clone() IndexMap {
	out := make(IndexMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Graph is an immutable undirected graph whose edge list is row-aligned with
// the feature matrix of the generation that built it. Node ids run from 0 to
// NumNodes()-1.
type Graph struct {
	edges    []Edge
	numNodes int
	adj      *simple.UndirectedGraph
}

// New builds a graph from a row-aligned edge list. Node count is the largest
// endpoint id plus one. Self-loops and duplicate pairs are rejected.
func New(edges []Edge) (*Graph, error) {
	g := &Graph{
		edges: make([]Edge, len(edges)),
		adj:   simple.NewUndirectedGraph(),
	}

	var maxID uint64
	for i, e := range edges {
		e = e.Normalize()
		if e.U == e.V {
			return nil, fmt.Errorf("row %d %v: %w", i, e, ErrSelfLoop)
		}
		if e.V > maxID {
			maxID = e.V
		}
		g.edges[i] = e
	}
	if len(edges) > 0 {
		g.numNodes = int(maxID) + 1
	}

	for id := 0; id < g.numNodes; id++ {
		g.adj.AddNode(simple.Node(int64(id)))
	}
	for i, e := range g.edges {
		if g.adj.HasEdgeBetween(int64(e.U), int64(e.V)) {
			return nil, fmt.Errorf("row %d %v: %w", i, e, ErrDuplicateEdge)
		}
		g.adj.SetEdge(g.adj.NewEdge(simple.Node(int64(e.U)), simple.Node(int64(e.V))))
	}
	return g, nil
}

// NumNodes returns max endpoint id + 1, or 0 for an empty graph.
func (g *Graph) NumNodes() int {
	if g == nil {
		return 0
	}
	return g.numNodes
}

// NumEdges returns the number of edges.
func (g *Graph) NumEdges() int {
	if g == nil {
		return 0
	}
	return len(g.edges)
}

// Edge returns the edge stored at row i.
func (g *Graph) Edge(i int) Edge {
	return g.edges[i]
}

// Edges returns a copy of the row-aligned edge list.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Neighbors returns the ids adjacent to node id.
func (g *Graph) Neighbors(id uint64) []uint64 {
	if g == nil || id >= uint64(g.numNodes) {
		return nil
	}
	it := g.adj.From(int64(id))
	out := make([]uint64, 0, it.Len())
	for it.Next() {
		out = append(out, uint64(it.Node().ID()))
	}
	return out
}

// Undirected exposes the adjacency for gonum graph algorithms.
func (g *Graph) Undirected() gonumgraph.Undirected {
	return g.adj
}
