package ensemble

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/loanrisk/core/parallel"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

// SHAPValues holds SHAP values for model interpretation
type SHAPValues struct {
	Values       *mat.Dense // samples x features, in margin (log-odds) space
	BaseValue    float64    // Expected value of the margin
	FeatureNames []string   // Optional feature names
}

// Row returns the attributions of sample i.
func (s *SHAPValues) Row(i int) []float64 {
	return mat.Row(nil, i, s.Values)
}

// SHAP computes exact path-dependent TreeSHAP values for every row of X.
// Cover is the number of training rows reaching a node, so for each row
// BaseValue + Σ Values equals Margin(row) up to rounding.
func (b *Booster) SHAP(X mat.Matrix) (*SHAPValues, error) {
	rows, cols := X.Dims()
	if cols != b.NFeatures {
		return nil, errors.NewDimensionError("Booster.SHAP", b.NFeatures, cols, 1)
	}
	values := mat.NewDense(rows, cols, nil)

	// each worker owns a disjoint row range of values
	parallel.ParallelizeWithThreshold(rows, 64, func(start, end int) {
		row := make([]float64, cols)
		phi := make([]float64, cols)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			for j := range phi {
				phi[j] = 0
			}
			for t := range b.Trees {
				treeSHAP(&b.Trees[t], row, phi)
			}
			values.SetRow(i, phi)
		}
	})

	return &SHAPValues{Values: values, BaseValue: b.ExpectedValue()}, nil
}

// pathElement is one feature on the unique path from the root.
type pathElement struct {
	feature      int
	zeroFraction float64 // share of cover flowing this way when the feature is absent
	oneFraction  float64 // 1 if x follows this way, 0 otherwise
	pweight      float64
}

func treeSHAP(t *Tree, x, phi []float64) {
	if len(t.Nodes) == 0 || t.Nodes[0].IsLeaf() {
		return
	}
	shapRecurse(t, x, phi, 0, 0, nil, 1, 1, -1)
}

func shapRecurse(t *Tree, x, phi []float64, node, uniqueDepth int,
	parentPath []pathElement, pZero, pOne float64, pFeature int) {

	path := make([]pathElement, uniqueDepth+1)
	copy(path, parentPath)
	extendPath(path, uniqueDepth, pZero, pOne, pFeature)

	n := &t.Nodes[node]
	if n.IsLeaf() {
		for i := 1; i <= uniqueDepth; i++ {
			w := unwoundPathSum(path, uniqueDepth, i)
			el := path[i]
			phi[el.feature] += w * (el.oneFraction - el.zeroFraction) * n.Value
		}
		return
	}

	hot, cold := n.Left, n.Right
	if !(x[n.Feature] <= n.Threshold) {
		hot, cold = cold, hot
	}
	hotZero := t.Nodes[hot].Cover / n.Cover
	coldZero := t.Nodes[cold].Cover / n.Cover
	inZero, inOne := 1.0, 1.0

	// a feature seen higher up is unwound so it appears once on the path
	pathIndex := 0
	for ; pathIndex <= uniqueDepth; pathIndex++ {
		if path[pathIndex].feature == n.Feature {
			break
		}
	}
	if pathIndex != uniqueDepth+1 {
		inZero = path[pathIndex].zeroFraction
		inOne = path[pathIndex].oneFraction
		unwindPath(path, uniqueDepth, pathIndex)
		uniqueDepth--
	}

	shapRecurse(t, x, phi, hot, uniqueDepth+1, path, hotZero*inZero, inOne, n.Feature)
	shapRecurse(t, x, phi, cold, uniqueDepth+1, path, coldZero*inZero, 0, n.Feature)
}

func extendPath(path []pathElement, uniqueDepth int, zero, one float64, feature int) {
	path[uniqueDepth] = pathElement{feature: feature, zeroFraction: zero, oneFraction: one}
	if uniqueDepth == 0 {
		path[uniqueDepth].pweight = 1
	}
	d := float64(uniqueDepth + 1)
	for i := uniqueDepth - 1; i >= 0; i-- {
		path[i+1].pweight += one * path[i].pweight * float64(i+1) / d
		path[i].pweight = zero * path[i].pweight * float64(uniqueDepth-i) / d
	}
}

func unwindPath(path []pathElement, uniqueDepth, pathIndex int) {
	one := path[pathIndex].oneFraction
	zero := path[pathIndex].zeroFraction
	next := path[uniqueDepth].pweight
	d := float64(uniqueDepth + 1)

	for i := uniqueDepth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].pweight
			path[i].pweight = next * d / (float64(i+1) * one)
			next = tmp - path[i].pweight*zero*float64(uniqueDepth-i)/d
		} else {
			path[i].pweight = path[i].pweight * d / (zero * float64(uniqueDepth-i))
		}
	}
	for i := pathIndex; i < uniqueDepth; i++ {
		path[i].feature = path[i+1].feature
		path[i].zeroFraction = path[i+1].zeroFraction
		path[i].oneFraction = path[i+1].oneFraction
	}
}

// unwoundPathSum is the total permutation weight of the path with element
// pathIndex removed, without modifying path.
func unwoundPathSum(path []pathElement, uniqueDepth, pathIndex int) float64 {
	one := path[pathIndex].oneFraction
	zero := path[pathIndex].zeroFraction
	next := path[uniqueDepth].pweight
	d := float64(uniqueDepth + 1)
	var total float64

	for i := uniqueDepth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := next * d / (float64(i+1) * one)
			total += tmp
			next = path[i].pweight - tmp*zero*float64(uniqueDepth-i)/d
		} else if zero != 0 {
			total += path[i].pweight / zero / (float64(uniqueDepth-i) / d)
		}
	}
	return total
}
