package classifier

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestLogisticRegressionSeparates(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{0.9, 0.8, 0.1, 0.2})
	y := []int{1, 1, 0, 0}

	lr := NewLogisticRegression(0, 0)
	if err := lr.Fit(x, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	probs, err := lr.PredictProba(mat.NewDense(2, 1, []float64{0.95, 0.05}))
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	if probs.At(0, 1) <= 0.5 || probs.At(1, 1) >= 0.5 {
		t.Errorf("expected merge prob >0.5 for high feature and <0.5 for low, got %v / %v",
			probs.At(0, 1), probs.At(1, 1))
	}
	for i := 0; i < 2; i++ {
		if sum := probs.At(i, 0) + probs.At(i, 1); sum < 0.999999 || sum > 1.000001 {
			t.Errorf("row %d probabilities sum to %v", i, sum)
		}
	}
}

func TestLogisticRegressionTwoSamples(t *testing.T) {
	// One sample per class: the smallest training set the service accepts.
	lr := NewLogisticRegression(0, 0)
	if err := lr.Fit(mat.NewDense(2, 1, []float64{0.9, 0.1}), []int{1, 0}); err != nil {
		t.Fatal(err)
	}
	probs, err := lr.PredictProba(mat.NewDense(4, 1, []float64{0.9, 0.1, 0.9, 0.1}))
	if err != nil {
		t.Fatal(err)
	}
	for i, high := range []bool{true, false, true, false} {
		if p := probs.At(i, 1); (p > 0.5) != high {
			t.Errorf("row %d: merge probability %v, want high=%v", i, p, high)
		}
	}
}

func TestLogisticRegressionErrors(t *testing.T) {
	lr := NewLogisticRegression(0, 0)
	if _, err := lr.PredictProba(mat.NewDense(1, 1, nil)); !errors.Is(err, ErrNotFitted) {
		t.Errorf("predict before fit: got %v", err)
	}
	if err := lr.Fit(mat.NewDense(2, 1, []float64{1, 2}), []int{1}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("label count mismatch: got %v", err)
	}
	if err := lr.Fit(mat.NewDense(1, 1, []float64{1}), []int{2}); !errors.Is(err, ErrUnsupportedLabel) {
		t.Errorf("bad label: got %v", err)
	}
	if err := lr.Fit(mat.NewDense(2, 1, []float64{1, 2}), []int{0, 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := lr.PredictProba(mat.NewDense(1, 3, nil)); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("width mismatch: got %v", err)
	}
	if !lr.Fitted() || len(lr.Weights()) != 2 {
		t.Errorf("expected fitted model with 2 weights, got %v", lr.Weights())
	}
}
