package workflow

import (
	"sync"
	"time"
)

// RoundStatus is the lifecycle position of one round.
type RoundStatus string

const (
	RoundQueued    RoundStatus = "queued"
	RoundComputing RoundStatus = "computing"
	RoundDone      RoundStatus = "done"
	// RoundDiscarded marks a round still queued when the workflow stopped.
	RoundDiscarded RoundStatus = "discarded"
)

// RoundInfo is the externally visible progress of one round.
type RoundInfo struct {
	SolutionID uint64      `json:"solution_id"`
	TraceID    string      `json:"trace_id,omitempty"`
	Status     RoundStatus `json:"status"`
	Outcome    string      `json:"outcome,omitempty"`
	Error      string      `json:"error,omitempty"`
	QueuedAt   time.Time   `json:"queued_at"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
}

// roundTracker remembers the progress of the most recent rounds.
type roundTracker struct {
	mu      sync.RWMutex
	rounds  map[uint64]*RoundInfo
	order   []uint64
	history int
}

func newRoundTracker(history int) *roundTracker {
	if history <= 0 {
		history = 256
	}
	return &roundTracker{
		rounds:  make(map[uint64]*RoundInfo),
		history: history,
	}
}

func (rt *roundTracker) queued(id uint64) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.rounds[id] = &RoundInfo{SolutionID: id, Status: RoundQueued, QueuedAt: time.Now()}
	rt.order = append(rt.order, id)
	for len(rt.order) > rt.history {
		delete(rt.rounds, rt.order[0])
		rt.order = rt.order[1:]
	}
}

func (rt *roundTracker) update(id uint64, fn func(*RoundInfo)) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if info, ok := rt.rounds[id]; ok {
		fn(info)
	}
}

func (rt *roundTracker) computing(id uint64, traceID string) {
	rt.update(id, func(info *RoundInfo) {
		info.Status = RoundComputing
		info.TraceID = traceID
		info.StartedAt = time.Now()
	})
}

func (rt *roundTracker) done(s *State) {
	rt.update(s.SolutionID, func(info *RoundInfo) {
		info.Status = RoundDone
		info.Outcome = s.Outcome.String()
		info.Error = s.Err
		info.FinishedAt = s.Finished
	})
}

func (rt *roundTracker) discarded(id uint64) {
	rt.update(id, func(info *RoundInfo) {
		info.Status = RoundDiscarded
	})
}

func (rt *roundTracker) get(id uint64) (RoundInfo, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	info, ok := rt.rounds[id]
	if !ok {
		return RoundInfo{}, false
	}
	return *info, true
}
