package preprocessing

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/loanrisk/core/model"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

// Imputation strategies.
const (
	StrategyMedian   = "median"
	StrategyMean     = "mean"
	StrategyConstant = "constant"
)

// SimpleImputer replaces NaN cells column by column with a statistic learned
// at fit time.
type SimpleImputer struct {
	Strategy  string  `msgpack:"strategy"`
	FillValue float64 `msgpack:"fill_value"`

	// Statistics は各列の補完値
	Statistics []float64 `msgpack:"statistics"`

	State *model.StateManager `msgpack:"state"`
}

// NewSimpleImputer creates an unfitted imputer. fillValue is used only by
// the constant strategy.
func NewSimpleImputer(strategy string, fillValue float64) *SimpleImputer {
	return &SimpleImputer{Strategy: strategy, FillValue: fillValue, State: model.NewStateManager()}
}

// IsFitted reports whether Fit has completed.
func (im *SimpleImputer) IsFitted() bool { return im.State.IsFitted() }

// Fit learns one statistic per column from the non-missing cells. A column
// with no observed value cannot be imputed and gives a DataError.
func (im *SimpleImputer) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.Wrap(errors.ErrEmptyData, "SimpleImputer.Fit")
	}
	switch im.Strategy {
	case StrategyMedian, StrategyMean, StrategyConstant:
	default:
		return errors.NewValidationError("strategy", "must be median, mean or constant", im.Strategy)
	}

	im.Statistics = make([]float64, c)
	for j := 0; j < c; j++ {
		observed := make([]float64, 0, r)
		for i := 0; i < r; i++ {
			if v := X.At(i, j); !math.IsNaN(v) {
				observed = append(observed, v)
			}
		}
		if im.Strategy == StrategyConstant {
			im.Statistics[j] = im.FillValue
			continue
		}
		if len(observed) == 0 {
			return errors.NewDataError("SimpleImputer.Fit", "impute",
				fmt.Sprintf("column %d has no observed values", j))
		}
		switch im.Strategy {
		case StrategyMedian:
			im.Statistics[j] = median(observed)
		case StrategyMean:
			im.Statistics[j] = stat.Mean(observed, nil)
		}
	}

	if im.State == nil {
		im.State = model.NewStateManager()
	}
	im.State.SetFitted(c, r)
	return nil
}

// Transform returns a copy of X with every NaN replaced by its column statistic.
func (im *SimpleImputer) Transform(X mat.Matrix) (*mat.Dense, error) {
	if err := im.State.RequireFitted("SimpleImputer", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := im.State.RequireFeatures("SimpleImputer.Transform", c); err != nil {
		return nil, err
	}
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		if math.IsNaN(v) {
			return im.Statistics[j]
		}
		return v
	}, X)
	return out, nil
}

// FitTransform fits on X and imputes it.
func (im *SimpleImputer) FitTransform(X mat.Matrix) (*mat.Dense, error) {
	if err := im.Fit(X); err != nil {
		return nil, err
	}
	return im.Transform(X)
}

// GetParams returns the imputer configuration.
func (im *SimpleImputer) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"strategy":   im.Strategy,
		"fill_value": im.FillValue,
	}
}

// median averages the two middle values for even counts. values is sorted in place.
func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}
