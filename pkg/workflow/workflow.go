// Package workflow coordinates the caches, the classifier and the partition
// solver into rounds of train → predict → partition.
//
// Rounds are requested asynchronously with RequestUpdateState and computed one
// at a time by a single background worker, in the order their solution ids
// were issued. Edge refreshes and label updates are applied inline by the
// caller instead: they only touch the caches and never wait for a round.
//
// Basic usage:
//
//	wf := workflow.New(features, labels, classifiers, solver, workflow.Options{})
//	wf.AddSolutionUpdateListener(func(id uint64, outcome workflow.Outcome, s *workflow.State) { ... })
//	wf.Start()
//	defer wf.Stop()
//	id := wf.RequestUpdateState()
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sanonone/pias/pkg/cache"
	"github.com/sanonone/pias/pkg/graph"
	"github.com/sanonone/pias/pkg/metrics"
	"github.com/sanonone/pias/pkg/solver"
)

// SolutionListener is called after every round with its id, outcome and state.
// It runs on the worker goroutine while the workflow lock is held, so it must
// return quickly and must not call back into the workflow's listener methods.
type SolutionListener func(solutionID uint64, outcome Outcome, state *State)

// RoundJournal records issued solution ids and round completions.
type RoundJournal interface {
	AppendIssued(solutionID uint64) error
	AppendRound(solutionID uint64, outcome int) error
}

// Options configures a Workflow.
type Options struct {
	// PollInterval bounds how long the idle worker waits before re-checking
	// the stop flag. Default 100ms.
	PollInterval time.Duration
	// RoundHistory is how many rounds Round can report on. Default 256.
	RoundHistory int
	// LastSolutionID is the highest id issued by a previous run; the next
	// round gets LastSolutionID+1.
	LastSolutionID uint64
	// Journal, when set, records every issued id and every round completion.
	Journal RoundJournal
}

// ErrNoLabels is the error of a round that found no labeled edge.
var ErrNoLabels = errors.New("no labeled edges in the current generation")

// Workflow owns the single round worker and the latest round results.
type Workflow struct {
	features   *cache.EdgeFeatureCache
	labels     *cache.EdgeLabelCache
	classifier *cache.ClassifierCache
	solver     *solver.PartitionSolver
	journal    RoundJournal

	pollInterval time.Duration
	rounds       *roundTracker

	// qmu guards the id counter and the queue together, so queue order is id order.
	qmu     sync.Mutex
	lastID  uint64
	queue   []uint64
	wake    chan struct{}
	stopped bool

	// refreshMu serialises the feature refresh and the label index swap.
	refreshMu sync.Mutex

	mu               sync.Mutex
	listeners        []SolutionListener
	latest           atomic.Pointer[State]
	latestSuccessful atomic.Pointer[State]

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// New wires a workflow. Call Start to launch the worker.
func New(features *cache.EdgeFeatureCache, labels *cache.EdgeLabelCache, classifiers *cache.ClassifierCache, partition *solver.PartitionSolver, opts Options) *Workflow {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	return &Workflow{
		features:     features,
		labels:       labels,
		classifier:   classifiers,
		solver:       partition,
		journal:      opts.Journal,
		pollInterval: opts.PollInterval,
		rounds:       newRoundTracker(opts.RoundHistory),
		lastID:       opts.LastSolutionID,
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
	}
}

// Start launches the background worker. Further calls do nothing.
func (w *Workflow) Start() {
	w.startOnce.Do(func() {
		w.wg.Add(1)
		go w.run()
	})
}

// Stop prevents any further round from being dequeued and waits for the
// worker to exit. A round already computing runs to completion; rounds still
// queued are discarded.
func (w *Workflow) Stop() {
	w.stopOnce.Do(func() {
		w.qmu.Lock()
		w.stopped = true
		w.qmu.Unlock()
		close(w.stop)
	})
	w.wg.Wait()

	w.qmu.Lock()
	discarded := w.queue
	w.queue = nil
	w.qmu.Unlock()
	for _, id := range discarded {
		w.rounds.discarded(id)
	}
	metrics.RoundsPending.Set(0)
	if len(discarded) > 0 {
		slog.Info("Workflow stopped with queued rounds", "discarded", len(discarded))
	}
}

// RequestUpdateState issues the next solution id and queues a round for it.
// With a journal the id is recorded before it is returned, so a restart
// never issues it again. It does not wait for the round.
func (w *Workflow) RequestUpdateState() uint64 {
	w.qmu.Lock()
	w.lastID++
	id := w.lastID
	if w.journal != nil {
		if err := w.journal.AppendIssued(id); err != nil {
			slog.Error("Failed to journal issued solution id", "solution_id", id, "error", err)
		}
	}
	w.rounds.queued(id)
	if w.stopped {
		w.qmu.Unlock()
		w.rounds.discarded(id)
		return id
	}
	w.queue = append(w.queue, id)
	metrics.RoundsPending.Set(float64(len(w.queue)))
	w.qmu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return id
}

// RequestUpdateEdges reloads the feature cache and re-points the label cache
// at the new index map, inline.
func (w *Workflow) RequestUpdateEdges(ctx context.Context) error {
	w.refreshMu.Lock()
	defer w.refreshMu.Unlock()

	if err := w.features.Refresh(ctx); err != nil {
		return err
	}
	w.labels.UpdateIndexMapping(w.features.IndexMap())
	return nil
}

// RequestSetEdgeLabels stores user labels, inline. It does not queue a round.
func (w *Workflow) RequestSetEdgeLabels(edges []graph.Edge, labels []int) (int, error) {
	return w.labels.SetLabels(edges, labels)
}

// LatestState returns the most recent successful state, or nil.
func (w *Workflow) LatestState() *State {
	return w.latestSuccessful.Load()
}

// LatestAttempt returns the most recent state of any outcome, or nil.
func (w *Workflow) LatestAttempt() *State {
	return w.latest.Load()
}

// AddSolutionUpdateListener registers fn for every following round completion.
func (w *Workflow) AddSolutionUpdateListener(fn SolutionListener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Round reports the progress of a recent round.
func (w *Workflow) Round(id uint64) (RoundInfo, bool) {
	return w.rounds.get(id)
}

// Pending returns the number of queued rounds.
func (w *Workflow) Pending() int {
	w.qmu.Lock()
	defer w.qmu.Unlock()
	return len(w.queue)
}

// LastSolutionID returns the most recently issued id.
func (w *Workflow) LastSolutionID() uint64 {
	w.qmu.Lock()
	defer w.qmu.Unlock()
	return w.lastID
}

func (w *Workflow) dequeue() (uint64, bool) {
	w.qmu.Lock()
	defer w.qmu.Unlock()
	if len(w.queue) == 0 {
		return 0, false
	}
	id := w.queue[0]
	w.queue = slices.Delete(w.queue, 0, 1)
	metrics.RoundsPending.Set(float64(len(w.queue)))
	return id, true
}

func (w *Workflow) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		default:
		}

		id, ok := w.dequeue()
		if !ok {
			select {
			case <-w.stop:
				return
			case <-w.wake:
			case <-ticker.C:
			}
			continue
		}
		w.runRound(id)
	}
}

func (w *Workflow) runRound(id uint64) {
	state := &State{
		SolutionID: id,
		TraceID:    uuid.NewString(),
		Started:    time.Now(),
	}
	w.rounds.computing(id, state.TraceID)

	outcome, err := w.compute(context.Background(), state)
	state.Finished = time.Now()
	state.Outcome = outcome
	if err != nil {
		state.Err = err.Error()
	}
	if outcome != Success {
		state.Segmentation = nil
	}

	w.publish(state)
}

// compute runs one round. It never panics: a panic becomes UnknownError.
func (w *Workflow) compute(ctx context.Context, state *State) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Round panicked",
				"solution_id", state.SolutionID,
				"trace_id", state.TraceID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			outcome, err = UnknownError, fmt.Errorf("panic: %v", r)
		}
	}()

	snap := w.features.Snapshot()
	state.Generation = snap.Generation
	state.Edges = snap.Edges
	state.Features = snap.Features
	state.Graph = snap.Graph

	samples := w.labels.GetSamples(snap.Features, snap.Index)
	state.Samples = samples
	if samples.Len() == 0 {
		return NoLabelForSomeClasses, ErrNoLabels
	}

	if err := w.classifier.Train(samples.X, samples.Labels); err != nil {
		return ClassifierTrainingFailed, err
	}
	model := w.classifier.Model()
	state.Classifier = model

	proba, err := w.classifier.Predict(snap.Features)
	if err != nil {
		return UnknownError, fmt.Errorf("predicting edge probabilities: %w", err)
	}
	mergeCol := slices.Index(model.Classes(), cache.LabelMerge)
	if mergeCol < 0 {
		return UnknownError, fmt.Errorf("classifier has no merge class in %v", model.Classes())
	}
	rows, _ := proba.Dims()
	probs := make([]float64, rows)
	for i := range probs {
		probs[i] = proba.At(i, mergeCol)
	}

	seg, err := w.solver.Optimize(ctx, snap.Graph, probs, &solver.KnownLabels{
		Rows:   samples.Rows,
		Labels: samples.Labels,
	})
	if err != nil {
		return OptimizationFailed, err
	}
	state.Segmentation = seg
	return Success, nil
}

// publish records the finished round and notifies listeners.
func (w *Workflow) publish(state *State) {
	w.rounds.done(state)
	metrics.RoundsTotal.WithLabelValues(state.Outcome.String()).Inc()
	metrics.RoundDuration.Observe(state.Duration().Seconds())

	attrs := []any{
		"solution_id", state.SolutionID,
		"trace_id", state.TraceID,
		"outcome", state.Outcome.String(),
		"duration", state.Duration().String(),
		"samples", state.Samples.Len(),
	}
	if state.Outcome == Success {
		slog.Info("Round finished", append(attrs, "groups", state.NumGroups())...)
	} else {
		slog.Warn("Round failed", append(attrs, "error", state.Err)...)
	}

	if w.journal != nil {
		if err := w.journal.AppendRound(state.SolutionID, int(state.Outcome)); err != nil {
			slog.Error("Failed to journal round", "solution_id", state.SolutionID, "error", err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.latest.Store(state)
	if state.Outcome == Success {
		w.latestSuccessful.Store(state)
	}
	for _, fn := range w.listeners {
		w.notify(fn, state)
	}
}

func (w *Workflow) notify(fn SolutionListener, state *State) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Solution listener panicked", "solution_id", state.SolutionID, "panic", r)
		}
	}()
	fn(state.SolutionID, state.Outcome, state)
}
