package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tidwall/btree"
	"gonum.org/v1/gonum/mat"

	"github.com/sanonone/pias/pkg/graph"
	"github.com/sanonone/pias/pkg/metrics"
	"github.com/sanonone/pias/pkg/persistence"
)

// Label values.
const (
	LabelSeparate = 0
	LabelMerge    = 1
)

var (
	// ErrLengthMismatch is returned when edges and labels differ in length.
	ErrLengthMismatch = errors.New("edges and labels differ in length")
	// ErrInvalidLabel is returned for a label other than 0 or 1.
	ErrInvalidLabel = errors.New("invalid label")
)

// Samples are the labeled training rows of one round, positionally aligned:
// X row k is the feature row of cache row Rows[k], labeled Labels[k].
type Samples struct {
	X      *mat.Dense // nil when there are no samples
	Labels []int
	Rows   []int
}

// Len returns the number of samples.
func (s Samples) Len() int {
	return len(s.Labels)
}

type labelItem struct {
	edge  graph.Edge
	label int
}

// LabelJournal persists applied label batches.
type LabelJournal interface {
	AppendLabels(entries []persistence.LabelEntry) error
}

// EdgeLabelCache stores user labels keyed by edge identity. Labels are
// resolved to row indices only when samples are drawn, through the index map
// of the feature snapshot being used, so a label follows its edge across a
// refresh that reorders rows.
type EdgeLabelCache struct {
	mu      sync.RWMutex
	labels  *btree.BTreeG[labelItem]
	index   graph.IndexMap
	journal LabelJournal
}

// NewEdgeLabelCache returns an empty cache. journal may be nil.
func NewEdgeLabelCache(journal LabelJournal) *EdgeLabelCache {
	return &EdgeLabelCache{
		labels: btree.NewBTreeGOptions(func(a, b labelItem) bool {
			return a.edge.Less(b.edge)
		}, btree.Options{NoLocks: true}),
		index:   graph.IndexMap{},
		journal: journal,
	}
}

// SetLabels inserts or overwrites the label of each edge present in the
// current index map; edges absent from it are skipped without error.
// It returns the number of labels applied. Invalid input applies nothing.
func (c *EdgeLabelCache) SetLabels(edges []graph.Edge, labels []int) (int, error) {
	if len(edges) != len(labels) {
		return 0, fmt.Errorf("%w: %d edges, %d labels", ErrLengthMismatch, len(edges), len(labels))
	}
	for i, l := range labels {
		if l != LabelSeparate && l != LabelMerge {
			return 0, fmt.Errorf("%w %d for edge %v", ErrInvalidLabel, l, edges[i])
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	applied := make([]persistence.LabelEntry, 0, len(edges))
	for i, e := range edges {
		e = e.Normalize()
		if _, ok := c.index[e]; !ok {
			continue
		}
		applied = append(applied, persistence.LabelEntry{U: e.U, V: e.V, Label: labels[i]})
	}
	if len(applied) == 0 {
		return 0, nil
	}

	if c.journal != nil {
		if err := c.journal.AppendLabels(applied); err != nil {
			return 0, fmt.Errorf("journaling labels: %w", err)
		}
	}
	for _, entry := range applied {
		c.labels.Set(labelItem{edge: graph.Edge{U: entry.U, V: entry.V}, label: entry.Label})
	}
	metrics.LabelsTotal.Set(float64(c.labels.Len()))
	return len(applied), nil
}

// Restore loads journaled labels without consulting the index map.
func (c *EdgeLabelCache) Restore(entries []persistence.LabelEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range entries {
		c.labels.Set(labelItem{edge: graph.NewEdge(entry.U, entry.V), label: entry.Label})
	}
	metrics.LabelsTotal.Set(float64(c.labels.Len()))
}

// GetSamples resolves every stored label through index and returns the
// matching rows of features. Labels whose edge is not in index are left out
// (and kept for later generations).
func (c *EdgeLabelCache) GetSamples(features *mat.Dense, index graph.IndexMap) Samples {
	if features == nil {
		return Samples{}
	}
	nRows, width := features.Dims()

	c.mu.RLock()
	var rows, labels []int
	c.labels.Scan(func(item labelItem) bool {
		row, ok := index[item.edge]
		if ok && row < nRows {
			rows = append(rows, row)
			labels = append(labels, item.label)
		}
		return true
	})
	c.mu.RUnlock()

	if len(rows) == 0 {
		return Samples{}
	}
	x := mat.NewDense(len(rows), width, nil)
	for k, row := range rows {
		x.SetRow(k, features.RawRowView(row))
	}
	return Samples{X: x, Labels: labels, Rows: rows}
}

// UpdateIndexMapping swaps the map future SetLabels calls filter against.
// Stored labels are kept.
func (c *EdgeLabelCache) UpdateIndexMapping(index graph.IndexMap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = index
}

// Label returns the stored label of e.
func (c *EdgeLabelCache) Label(e graph.Edge) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.labels.Get(labelItem{edge: e.Normalize()})
	return item.label, ok
}

// Labels returns a copy of every stored label.
func (c *EdgeLabelCache) Labels() map[graph.Edge]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[graph.Edge]int, c.labels.Len())
	c.labels.Scan(func(item labelItem) bool {
		out[item.edge] = item.label
		return true
	})
	return out
}

// Len returns the number of stored labels.
func (c *EdgeLabelCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.labels.Len()
}
