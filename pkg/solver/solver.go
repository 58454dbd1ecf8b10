// Package solver turns per-edge merge probabilities into a graph partition.
//
// Probabilities become signed edge costs through a clipped log-odds mapping
// (positive = attractive, negative = repulsive). Edges with a known user
// label are pinned with a sentinel cost large enough to dominate every
// learned cost. The cost vector is then handed to a multicut Optimizer.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sanonone/pias/pkg/graph"
)

var (
	// ErrLengthMismatch is returned when a per-edge vector does not have one
	// entry per graph edge.
	ErrLengthMismatch = errors.New("per-edge vector length mismatch")
	// ErrInvalidKnownLabels is returned for malformed hard overrides.
	ErrInvalidKnownLabels = errors.New("invalid known labels")
	// ErrInvalidProbability is returned for NaN or out-of-range probabilities.
	ErrInvalidProbability = errors.New("invalid probability")
)

// Default cost parameters.
const (
	DefaultEpsilon = 1e-6
	DefaultBeta    = 0.5
)

// KnownLabels are hard overrides: Rows[k] is an edge row index and Labels[k]
// its user label (0 = force cut, 1 = force merge).
type KnownLabels struct {
	Rows   []int
	Labels []int
}

// Len returns the number of overrides.
func (k *KnownLabels) Len() int {
	if k == nil {
		return 0
	}
	return len(k.Rows)
}

// Optimizer partitions a graph given one cost per edge, minimising the total
// cost of the edges it cuts. The result maps node id → group id.
type Optimizer interface {
	Partition(ctx context.Context, g *graph.Graph, costs []float64) ([]uint64, error)
}

// Options configures the cost mapping.
type Options struct {
	// Epsilon clips probabilities into [Epsilon, 1-Epsilon] so costs stay finite.
	Epsilon float64
	// Beta is the merge probability that maps to zero cost.
	Beta float64
}

// PartitionSolver maps probabilities to costs and runs the Optimizer.
type PartitionSolver struct {
	optimizer Optimizer
	epsilon   float64
	beta      float64
}

// New returns a solver over optimizer. A nil optimizer selects GreedyAdditive.
// Zero option values select the defaults.
func New(optimizer Optimizer, opts Options) *PartitionSolver {
	if optimizer == nil {
		optimizer = GreedyAdditive{}
	}
	if opts.Epsilon <= 0 || opts.Epsilon >= 0.5 {
		opts.Epsilon = DefaultEpsilon
	}
	if opts.Beta <= 0 || opts.Beta >= 1 {
		opts.Beta = DefaultBeta
	}
	return &PartitionSolver{optimizer: optimizer, epsilon: opts.Epsilon, beta: opts.Beta}
}

// Optimize partitions g. probs holds the merge probability of every edge row.
// It returns (nil, nil) when g or probs is absent.
func (s *PartitionSolver) Optimize(ctx context.Context, g *graph.Graph, probs []float64, known *KnownLabels) ([]uint64, error) {
	if g == nil || probs == nil {
		return nil, nil
	}
	if len(probs) != g.NumEdges() {
		return nil, fmt.Errorf("%w: %d probabilities for %d edges", ErrLengthMismatch, len(probs), g.NumEdges())
	}
	costs, err := s.Costs(probs, known)
	if err != nil {
		return nil, err
	}
	return s.optimizer.Partition(ctx, g, costs)
}

// Costs converts probabilities to edge costs and applies the overrides.
func (s *PartitionSolver) Costs(probs []float64, known *KnownLabels) ([]float64, error) {
	costs := make([]float64, len(probs))
	offset := logit(s.beta)
	var total float64
	for i, p := range probs {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return nil, fmt.Errorf("%w: row %d = %v", ErrInvalidProbability, i, p)
		}
		p = min(max(p, s.epsilon), 1-s.epsilon)
		costs[i] = logit(p) - offset
		total += math.Abs(costs[i])
	}

	if known.Len() == 0 {
		return costs, nil
	}
	if len(known.Rows) != len(known.Labels) {
		return nil, fmt.Errorf("%w: %d rows, %d labels", ErrInvalidKnownLabels, len(known.Rows), len(known.Labels))
	}

	// Larger than any sum of learned costs a cluster pair can accumulate, and
	// than all the other overrides together.
	sentinel := (total + 1) * float64(known.Len()+1)
	for k, row := range known.Rows {
		if row < 0 || row >= len(costs) {
			return nil, fmt.Errorf("%w: row %d out of range [0,%d)", ErrInvalidKnownLabels, row, len(costs))
		}
		switch known.Labels[k] {
		case 0:
			costs[row] = -sentinel
		case 1:
			costs[row] = sentinel
		default:
			return nil, fmt.Errorf("%w: label %d at row %d", ErrInvalidKnownLabels, known.Labels[k], row)
		}
	}
	return costs, nil
}

func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}
