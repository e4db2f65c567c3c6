package model

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

// BinaryLabels flattens y (n×1 or a vector) into a 0/1 slice. Both classes
// must be present.
func BinaryLabels(op string, y mat.Matrix, nSamples int) ([]float64, error) {
	rows, cols := y.Dims()
	if cols != 1 {
		return nil, errors.NewValidationError("y", "must be a column vector", cols)
	}
	if rows != nSamples {
		return nil, errors.NewDimensionError(op, nSamples, rows, 0)
	}
	labels := make([]float64, rows)
	counts := [2]int{}
	for i := range labels {
		v := y.At(i, 0)
		if v != 0 && v != 1 {
			return nil, errors.NewValidationError("y", "labels must be 0 or 1", v)
		}
		labels[i] = v
		counts[int(v)]++
	}
	for class, c := range counts {
		if c == 0 {
			return nil, errors.NewInsufficientDataError(op, []string{"0", "1"}[class], 0, 1)
		}
	}
	return labels, nil
}
