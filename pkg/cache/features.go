// Package cache holds the three shared, lock-guarded resources a round reads
// from: the edge feature cache, the user label cache and the classifier cache.
//
// Every cache follows the same discipline: writers build the new value
// outside the lock and swap it in under the write lock; readers copy what
// they need under the read lock and never keep a reference to internal
// buffers after returning.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/sanonone/pias/pkg/graph"
	"github.com/sanonone/pias/pkg/metrics"
	"github.com/sanonone/pias/pkg/store"
)

// ErrSourceUnreadable wraps every failure to load a new generation from the
// backing store.
var ErrSourceUnreadable = errors.New("cache source unreadable")

// FeatureSnapshot is a self-consistent view of one feature cache generation.
// Edges, Features and Index are private copies; Graph is immutable and shared.
type FeatureSnapshot struct {
	Generation uint64
	Edges      []graph.Edge
	Features   *mat.Dense // nil when the generation has no edges
	Index      graph.IndexMap
	Graph      *graph.Graph
}

// EdgeFeatureCache holds the edge list, feature matrix, index map and
// adjacency graph of the latest generation loaded from a GraphStore.
type EdgeFeatureCache struct {
	source    store.GraphStore
	maxNodeID uint64

	mu         sync.RWMutex
	generation uint64
	edges      []graph.Edge
	features   *mat.Dense
	index      graph.IndexMap
	graph      *graph.Graph
}

// NewEdgeFeatureCache creates an empty cache over source. Call Refresh to
// load the first generation.
func NewEdgeFeatureCache(source store.GraphStore) *EdgeFeatureCache {
	g, _ := graph.New(nil)
	return &EdgeFeatureCache{
		source:    source,
		maxNodeID: store.DefaultMaxNodeID,
		index:     graph.IndexMap{},
		graph:     g,
	}
}

// SetMaxNodeID sets the largest node id a refresh accepts. Set it before the
// first Refresh.
func (c *EdgeFeatureCache) SetMaxNodeID(n uint64) {
	c.mu.Lock()
	c.maxNodeID = n
	c.mu.Unlock()
}

// Refresh re-reads the store and replaces the whole generation at once.
// On failure the previous generation stays in place and the error wraps
// ErrSourceUnreadable. There is no retry.
func (c *EdgeFeatureCache) Refresh(ctx context.Context) error {
	ds, err := c.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	c.mu.RLock()
	limit := c.maxNodeID
	c.mu.RUnlock()
	if err := ds.ValidateLimit(limit); err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}

	g, err := graph.New(ds.Edges)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	edges := g.Edges()

	var features *mat.Dense
	if n := len(ds.Features); n > 0 {
		features = mat.NewDense(n, ds.Width(), nil)
		for i, row := range ds.Features {
			features.SetRow(i, row)
		}
	}
	index := graph.NewIndexMap(edges)

	c.mu.Lock()
	c.generation++
	c.edges = edges
	c.features = features
	c.index = index
	c.graph = g
	gen := c.generation
	c.mu.Unlock()

	metrics.EdgesTotal.Set(float64(len(edges)))
	slog.Info("Feature cache refreshed",
		"generation", gen,
		"edges", len(edges),
		"nodes", g.NumNodes(),
		"features", ds.Width(),
	)
	return nil
}

// Snapshot returns copies of the current generation.
func (c *EdgeFeatureCache) Snapshot() FeatureSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := FeatureSnapshot{
		Generation: c.generation,
		Edges:      append([]graph.Edge(nil), c.edges...),
		Index:      c.index.Clone(),
		Graph:      c.graph,
	}
	if c.features != nil {
		snap.Features = mat.DenseCopyOf(c.features)
	}
	return snap
}

// IndexMap returns a copy of the current edge→row map.
func (c *EdgeFeatureCache) IndexMap() graph.IndexMap {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Clone()
}

// Len returns the number of edges in the current generation.
func (c *EdgeFeatureCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.edges)
}

// Generation returns the current generation number (0 before the first Refresh).
func (c *EdgeFeatureCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}
