// Package store provides the durable sources of the edge list and the
// per-edge feature vectors that the feature cache loads on refresh.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sanonone/pias/pkg/graph"
)

// ErrInconsistent reports a dataset whose rows do not line up.
var ErrInconsistent = errors.New("inconsistent dataset")

// ErrNodeIDRange reports an edge endpoint above the accepted node id limit.
var ErrNodeIDRange = errors.New("node id out of range")

// DefaultMaxNodeID is the largest node id Validate accepts. The adjacency
// graph allocates one node per id up to the largest endpoint.
const DefaultMaxNodeID uint64 = 1 << 24

// Dataset is one full read of a store: a row-aligned edge list and feature
// matrix (one row per edge).
type Dataset struct {
	Edges    []graph.Edge
	Features [][]float64
}

// Validate checks row alignment, that every feature row has the same width
// and that no endpoint exceeds DefaultMaxNodeID.
func (d *Dataset) Validate() error {
	return d.ValidateLimit(DefaultMaxNodeID)
}

// ValidateLimit is Validate with an explicit node id limit. Limits above
// math.MaxInt64 are clamped.
func (d *Dataset) ValidateLimit(maxNodeID uint64) error {
	maxNodeID = min(maxNodeID, math.MaxInt64)
	for i, e := range d.Edges {
		if e.U > maxNodeID || e.V > maxNodeID {
			return fmt.Errorf("%w: row %d %v exceeds %d", ErrNodeIDRange, i, e, maxNodeID)
		}
	}
	if len(d.Edges) != len(d.Features) {
		return fmt.Errorf("%w: %d edges but %d feature rows", ErrInconsistent, len(d.Edges), len(d.Features))
	}
	if len(d.Features) == 0 {
		return nil
	}
	width := len(d.Features[0])
	if width == 0 {
		return fmt.Errorf("%w: zero-width feature rows", ErrInconsistent)
	}
	for i, row := range d.Features {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrInconsistent, i, len(row), width)
		}
	}
	return nil
}

// Width returns the feature row length, or 0 for an empty dataset.
func (d *Dataset) Width() int {
	if len(d.Features) == 0 {
		return 0
	}
	return len(d.Features[0])
}

// GraphStore is a durable source of edges and features.
type GraphStore interface {
	Load(ctx context.Context) (*Dataset, error)
}

// MemoryStore is an in-process GraphStore. It is mainly used by tests and by
// embedders that compute features themselves.
type MemoryStore struct {
	mu   sync.RWMutex
	data *Dataset
	err  error
}

// NewMemoryStore returns a store serving a copy of ds.
func NewMemoryStore(ds *Dataset) *MemoryStore {
	s := &MemoryStore{}
	s.Set(ds)
	return s
}

// Set replaces the served dataset.
func (s *MemoryStore) Set(ds *Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = cloneDataset(ds)
}

// SetError makes every following Load fail with err (nil clears it).
func (s *MemoryStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Load returns a copy of the current dataset.
func (s *MemoryStore) Load(ctx context.Context) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.data == nil {
		return &Dataset{}, nil
	}
	return cloneDataset(s.data), nil
}

func cloneDataset(ds *Dataset) *Dataset {
	if ds == nil {
		return nil
	}
	out := &Dataset{
		Edges:    make([]graph.Edge, len(ds.Edges)),
		Features: make([][]float64, len(ds.Features)),
	}
	copy(out.Edges, ds.Edges)
	for i, row := range ds.Features {
		out.Features[i] = append([]float64(nil), row...)
	}
	return out
}
