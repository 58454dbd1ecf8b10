package server

import (
	"time"

	"github.com/sanonone/pias/pkg/workflow"
)

// StateResponse summarises a round state.
type StateResponse struct {
	SolutionID   uint64    `json:"solution_id"`
	TraceID      string    `json:"trace_id"`
	Outcome      string    `json:"outcome"`
	Error        string    `json:"error,omitempty"`
	Generation   uint64    `json:"generation"`
	NumEdges     int       `json:"num_edges"`
	NumNodes     int       `json:"num_nodes"`
	NumSamples   int       `json:"num_samples"`
	NumGroups    int       `json:"num_groups"`
	Segmentation []uint64  `json:"segmentation,omitempty"`
	Started      time.Time `json:"started"`
	DurationMs   float64   `json:"duration_ms"`
}

// StatusResponse is the body of GET /state.
type StatusResponse struct {
	LastSolutionID uint64         `json:"last_solution_id"`
	Pending        int            `json:"pending"`
	Latest         *StateResponse `json:"latest"`
	LatestAttempt  *StateResponse `json:"latest_attempt"`
}

// LabelTriple is one edge label of a POST /labels body.
type LabelTriple struct {
	U     uint64 `json:"u"`
	V     uint64 `json:"v"`
	Label int    `json:"label"`
}

// LabelsRequest is the body of POST /labels.
type LabelsRequest struct {
	Labels []LabelTriple `json:"labels"`
}

// LabelsResponse reports how many labels were applied.
type LabelsResponse struct {
	Applied int `json:"applied"`
}

// UpdateResponse carries the id issued by POST /update.
type UpdateResponse struct {
	SolutionID uint64 `json:"solution_id"`
}

func newStateResponse(s *workflow.State, withSegmentation bool) *StateResponse {
	if s == nil {
		return nil
	}
	resp := &StateResponse{
		SolutionID: s.SolutionID,
		TraceID:    s.TraceID,
		Outcome:    s.Outcome.String(),
		Error:      s.Err,
		Generation: s.Generation,
		NumEdges:   len(s.Edges),
		NumNodes:   s.Graph.NumNodes(),
		NumSamples: s.Samples.Len(),
		NumGroups:  s.NumGroups(),
		Started:    s.Started,
		DurationMs: float64(s.Duration().Microseconds()) / 1000,
	}
	if withSegmentation {
		resp.Segmentation = s.Segmentation
	}
	return resp
}
