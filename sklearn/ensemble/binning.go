package ensemble

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

// binMapper discretises each feature into at most maxBin bins. Bounds are
// midpoints between adjacent distinct training values, so a split at bin k
// is the raw-value test x <= bounds[k].
type binMapper struct {
	bounds [][]float64
}

func newBinMapper(X *mat.Dense, maxBin int) *binMapper {
	rows, cols := X.Dims()
	bm := &binMapper{bounds: make([][]float64, cols)}
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, X)
		bm.bounds[j] = featureBounds(col, maxBin)
	}
	return bm
}

// featureBounds returns strictly increasing cut points for one feature.
// values is sorted in place.
func featureBounds(values []float64, maxBin int) []float64 {
	sort.Float64s(values)
	unique := make([]float64, 0, len(values))
	for i, v := range values {
		if i == 0 || v != values[i-1] {
			unique = append(unique, v)
		}
	}
	if len(unique) <= 1 {
		return nil
	}
	if len(unique) <= maxBin {
		bounds := make([]float64, len(unique)-1)
		for i := range bounds {
			bounds[i] = (unique[i] + unique[i+1]) / 2
		}
		return bounds
	}

	// equal-frequency cuts over the full sample, snapped to midpoints
	n := len(values)
	bounds := make([]float64, 0, maxBin-1)
	for k := 1; k < maxBin; k++ {
		v := values[k*n/maxBin]
		idx := sort.SearchFloat64s(unique, v)
		if idx == 0 {
			continue
		}
		b := (unique[idx-1] + unique[idx]) / 2
		if len(bounds) == 0 || b > bounds[len(bounds)-1] {
			bounds = append(bounds, b)
		}
	}
	return bounds
}

// nBins is the number of bins of feature j.
func (bm *binMapper) nBins(j int) int { return len(bm.bounds[j]) + 1 }

// transform returns the bin index of every cell, column-major.
func (bm *binMapper) transform(X *mat.Dense) [][]int32 {
	rows, cols := X.Dims()
	binned := make([][]int32, cols)
	for j := 0; j < cols; j++ {
		binned[j] = make([]int32, rows)
		bounds := bm.bounds[j]
		for i := 0; i < rows; i++ {
			binned[j][i] = int32(sort.SearchFloat64s(bounds, X.At(i, j)))
		}
	}
	return binned
}
