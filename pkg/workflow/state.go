package workflow

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/sanonone/pias/pkg/cache"
	"github.com/sanonone/pias/pkg/classifier"
	"github.com/sanonone/pias/pkg/graph"
)

// State is the record of one round. It is built by the worker and never
// modified once published; callers must treat every field as read-only.
type State struct {
	SolutionID uint64
	TraceID    string

	Generation uint64 // feature cache generation the round read
	Edges      []graph.Edge
	Features   *mat.Dense
	Graph      *graph.Graph
	Samples    cache.Samples
	Classifier classifier.Classifier

	// Segmentation maps node id → group id; nil unless Outcome is Success.
	Segmentation []uint64
	Outcome      Outcome
	Err          string

	Started  time.Time
	Finished time.Time
}

// Duration returns how long the round computed.
func (s *State) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}

// HasSegmentation reports whether the state carries a non-empty segmentation.
func (s *State) HasSegmentation() bool {
	return s != nil && len(s.Segmentation) > 0
}

// NumGroups returns the number of distinct groups in the segmentation.
func (s *State) NumGroups() int {
	if !s.HasSegmentation() {
		return 0
	}
	var top uint64
	for _, l := range s.Segmentation {
		top = max(top, l)
	}
	return int(top) + 1
}
