// Package classifier provides the binary edge classifier used to turn edge
// features into merge probabilities.
//
// Only the contract matters to the rest of the module: Fit on labeled rows,
// then PredictProba returns one row of class probabilities per input row,
// with columns ordered as Classes().
package classifier

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNotFitted is returned by PredictProba before a successful Fit.
	ErrNotFitted = errors.New("classifier not fitted")
	// ErrDimensionMismatch is returned when rows and labels, or feature
	// widths, disagree.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrEmptyTrainingSet is returned by Fit with zero rows.
	ErrEmptyTrainingSet = errors.New("empty training set")
	// ErrUnsupportedLabel is returned for labels outside the classifier's classes.
	ErrUnsupportedLabel = errors.New("unsupported label")
)

// Classifier is a probabilistic classifier over fixed-width feature rows.
// A fitted Classifier is treated as immutable by its callers.
type Classifier interface {
	Fit(x mat.Matrix, y []int) error
	PredictProba(x mat.Matrix) (*mat.Dense, error)
	Classes() []int
}

// Default training parameters for LogisticRegression.
const (
	DefaultL2            = 1e-3
	DefaultMaxIterations = 200
)

// LogisticRegression is an L2-regularised binary logistic regression over
// standardised features, trained with L-BFGS.
type LogisticRegression struct {
	L2            float64
	MaxIterations int

	mean    []float64
	scale   []float64
	weights []float64 // one per feature, then the intercept
}

// NewLogisticRegression returns an unfitted model with the given parameters.
// Non-positive values select the defaults.
func NewLogisticRegression(l2 float64, maxIterations int) *LogisticRegression {
	if l2 <= 0 {
		l2 = DefaultL2
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &LogisticRegression{L2: l2, MaxIterations: maxIterations}
}

// Classes returns [0 1]: column 1 of PredictProba is the merge probability.
func (lr *LogisticRegression) Classes() []int {
	return []int{0, 1}
}

// Fitted reports whether Fit has completed.
func (lr *LogisticRegression) Fitted() bool {
	return lr.weights != nil
}

// Weights returns a copy of the learned coefficients in standardised space,
// intercept last. It is nil before Fit.
func (lr *LogisticRegression) Weights() []float64 {
	if lr.weights == nil {
		return nil
	}
	return append([]float64(nil), lr.weights...)
}

// Fit trains the model on x (n×d) and y (n labels in {0,1}).
func (lr *LogisticRegression) Fit(x mat.Matrix, y []int) error {
	n, d := x.Dims()
	if n == 0 {
		return ErrEmptyTrainingSet
	}
	if d == 0 {
		return fmt.Errorf("%w: zero-width feature rows", ErrDimensionMismatch)
	}
	if len(y) != n {
		return fmt.Errorf("%w: %d rows but %d labels", ErrDimensionMismatch, n, len(y))
	}
	target := make([]float64, n)
	for i, label := range y {
		if label != 0 && label != 1 {
			return fmt.Errorf("%w: %d", ErrUnsupportedLabel, label)
		}
		target[i] = float64(label)
	}

	mean := make([]float64, d)
	scale := make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, x)
		m, s := stat.MeanStdDev(col, nil)
		if n < 2 || s == 0 || math.IsNaN(s) {
			s = 1
		}
		mean[j], scale[j] = m, s
	}
	xs := standardize(x, mean, scale)

	l2 := lr.L2
	problem := optimize.Problem{
		Func: func(w []float64) float64 {
			loss := 0.0
			for i := 0; i < n; i++ {
				z := floats.Dot(xs.RawRowView(i), w[:d]) + w[d]
				loss += log1pExp(z) - target[i]*z
			}
			loss /= float64(n)
			return loss + 0.5*l2*floats.Dot(w[:d], w[:d])
		},
		Grad: func(grad, w []float64) {
			for k := range grad {
				grad[k] = 0
			}
			for i := 0; i < n; i++ {
				row := xs.RawRowView(i)
				r := sigmoid(floats.Dot(row, w[:d])+w[d]) - target[i]
				floats.AddScaled(grad[:d], r, row)
				grad[d] += r
			}
			floats.Scale(1/float64(n), grad)
			floats.AddScaled(grad[:d], l2, w[:d])
		},
	}

	settings := &optimize.Settings{
		MajorIterations:   lr.MaxIterations,
		GradientThreshold: 1e-8,
	}
	result, err := optimize.Minimize(problem, make([]float64, d+1), settings, &optimize.LBFGS{})
	if result == nil {
		return fmt.Errorf("logistic regression: %w", err)
	}
	for _, w := range result.X {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("logistic regression diverged (status %v): %v", result.Status, err)
		}
	}

	lr.mean, lr.scale = mean, scale
	lr.weights = append([]float64(nil), result.X...)
	return nil
}

// PredictProba returns an n×2 matrix of [P(label=0), P(label=1)] rows.
func (lr *LogisticRegression) PredictProba(x mat.Matrix) (*mat.Dense, error) {
	if lr.weights == nil {
		return nil, ErrNotFitted
	}
	n, d := x.Dims()
	if d != len(lr.mean) {
		return nil, fmt.Errorf("%w: model has %d features, input has %d", ErrDimensionMismatch, len(lr.mean), d)
	}

	if n == 0 {
		return &mat.Dense{}, nil
	}
	out := mat.NewDense(n, 2, nil)
	xs := standardize(x, lr.mean, lr.scale)
	for i := 0; i < n; i++ {
		p := sigmoid(floats.Dot(xs.RawRowView(i), lr.weights[:d]) + lr.weights[d])
		out.Set(i, 0, 1-p)
		out.Set(i, 1, p)
	}
	return out, nil
}

func standardize(x mat.Matrix, mean, scale []float64) *mat.Dense {
	n, d := x.Dims()
	xs := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			xs.Set(i, j, (x.At(i, j)-mean[j])/scale[j])
		}
	}
	return xs
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// log1pExp computes log(1+e^z) without overflow.
func log1pExp(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}
