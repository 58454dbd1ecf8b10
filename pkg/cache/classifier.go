package cache

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/sanonone/pias/pkg/classifier"
)

// ErrorKind classifies failures of Train and Predict.
type ErrorKind int

const (
	// KindUnknown is any failure not covered by the other kinds.
	KindUnknown ErrorKind = iota
	// KindLabelSetInconsistency means the training labels did not cover
	// exactly the required label set.
	KindLabelSetInconsistency
	// KindModelNotTrained means Predict was called before a successful Train.
	KindModelNotTrained
)

func (k ErrorKind) String() string {
	switch k {
	case KindLabelSetInconsistency:
		return "label_set_inconsistency"
	case KindModelNotTrained:
		return "model_not_trained"
	default:
		return "unknown"
	}
}

// ErrModelNotTrained is returned by Predict before any successful Train.
var ErrModelNotTrained = errors.New("model not trained")

// LabelSetError reports training labels that do not match the required set.
type LabelSetError struct {
	Required []int
	Actual   []int
}

func (e *LabelSetError) Error() string {
	return fmt.Sprintf("label set inconsistency: required labels %v, got %v", e.Required, e.Actual)
}

// KindOf returns the ErrorKind of err.
func KindOf(err error) ErrorKind {
	var lse *LabelSetError
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &lse):
		return KindLabelSetInconsistency
	case errors.Is(err, ErrModelNotTrained):
		return KindModelNotTrained
	default:
		return KindUnknown
	}
}

// ClassifierCache holds the most recently trained model. Train builds and fits
// a fresh model outside the lock and swaps it in, so Predict and Model always
// see one complete generation.
type ClassifierCache struct {
	factory  func() classifier.Classifier
	required []int

	mu         sync.RWMutex
	model      classifier.Classifier
	generation uint64
}

// NewClassifierCache returns a cache that trains models built by factory and
// requires the training labels to be exactly required (e.g. [0 1]).
func NewClassifierCache(factory func() classifier.Classifier, required []int) *ClassifierCache {
	req := distinct(required)
	return &ClassifierCache{factory: factory, required: req}
}

// Required returns the required label set, sorted.
func (c *ClassifierCache) Required() []int {
	return slices.Clone(c.required)
}

// Train fits a new model on samples/labels and makes it current.
func (c *ClassifierCache) Train(samples mat.Matrix, labels []int) error {
	actual := distinct(labels)
	if !slices.Equal(actual, c.required) {
		return &LabelSetError{Required: slices.Clone(c.required), Actual: actual}
	}

	model := c.factory()
	if err := model.Fit(samples, labels); err != nil {
		return fmt.Errorf("training classifier: %w", err)
	}

	c.mu.Lock()
	c.model = model
	c.generation++
	c.mu.Unlock()
	return nil
}

// Predict returns per-class probabilities for every row of samples.
func (c *ClassifierCache) Predict(samples mat.Matrix) (*mat.Dense, error) {
	c.mu.RLock()
	model := c.model
	c.mu.RUnlock()

	if model == nil {
		return nil, ErrModelNotTrained
	}
	return model.PredictProba(samples)
}

// Model returns the current model, or nil before the first Train. The
// returned model must not be refitted.
func (c *ClassifierCache) Model() classifier.Classifier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// Generation counts successful Train calls.
func (c *ClassifierCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

func distinct(labels []int) []int {
	out := slices.Clone(labels)
	slices.Sort(out)
	return slices.Compact(out)
}
