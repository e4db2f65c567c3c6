package model_selection

import (
	"context"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/loanrisk/core/model"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

func imbalancedLabels(n int, positiveEvery int) []float64 {
	y := make([]float64, n)
	for i := range y {
		if i%positiveEvery == 0 {
			y[i] = 1
		}
	}
	return y
}

func TestTrainTestSplit(t *testing.T) {
	y := imbalancedLabels(1000, 5) // 200 positives

	split, err := TrainTestSplit(y, 0.2, 42)
	require.NoError(t, err)
	assert.Len(t, split.Test, 200)
	assert.Len(t, split.Train, 800)

	seen := make(map[int]int)
	for _, i := range split.Train {
		seen[i]++
	}
	for _, i := range split.Test {
		seen[i]++
	}
	require.Len(t, seen, 1000)
	for i, c := range seen {
		assert.Equal(t, 1, c, "row %d assigned %d times", i, c)
	}

	pos := 0
	for _, i := range split.Test {
		pos += int(y[i])
	}
	assert.Equal(t, 40, pos)
}

func TestTrainTestSplitDeterministic(t *testing.T) {
	y := imbalancedLabels(503, 4)

	a, err := TrainTestSplit(y, 0.2, 42)
	require.NoError(t, err)
	b, err := TrainTestSplit(y, 0.2, 42)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := TrainTestSplit(y, 0.2, 7)
	require.NoError(t, err)
	assert.NotEqual(t, a.Test, c.Test)

	// ceil(0.2 * 503) = 101
	assert.Len(t, a.Test, 101)
}

func TestTrainTestSplitErrors(t *testing.T) {
	y := imbalancedLabels(100, 2)

	for _, ts := range []float64{0, 1, -0.1, 1.5, math.NaN()} {
		_, err := TrainTestSplit(y, ts, 42)
		var verr *errors.ValidationError
		assert.True(t, errors.As(err, &verr), "test size %v", ts)
	}

	lonely := append(make([]float64, 20), 1)
	_, err := TrainTestSplit(lonely, 0.2, 42)
	var ierr *errors.InsufficientDataError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "1", ierr.Class)

	// two positives among 100 rows: the positive class gets no test quota
	sparse := make([]float64, 100)
	sparse[3], sparse[50] = 1, 1
	_, err = TrainTestSplit(sparse, 0.2, 42)
	assert.True(t, errors.As(err, &ierr))
}

func TestStratifiedKFold(t *testing.T) {
	y := imbalancedLabels(103, 4)
	skf := NewStratifiedKFold(5, false, 0)

	folds, err := skf.Split(y)
	require.NoError(t, err)
	require.Len(t, folds, 5)

	covered := make([]int, len(y))
	for _, f := range folds {
		assert.Equal(t, len(y), len(f.TrainIndices)+len(f.TestIndices))
		assert.True(t, sort.IntsAreSorted(f.TrainIndices))
		assert.True(t, sort.IntsAreSorted(f.TestIndices))
		pos := 0
		for _, i := range f.TestIndices {
			covered[i]++
			pos += int(y[i])
		}
		assert.InDelta(t, 26.0/5, float64(pos), 1)
	}
	for i, c := range covered {
		assert.Equal(t, 1, c, "row %d", i)
	}

	again, err := NewStratifiedKFold(5, false, 0).Split(y)
	require.NoError(t, err)
	assert.Equal(t, folds, again)
}

func TestStratifiedKFoldShuffleIsSeeded(t *testing.T) {
	y := imbalancedLabels(60, 3)
	a, err := NewStratifiedKFold(3, true, 1).Split(y)
	require.NoError(t, err)
	b, err := NewStratifiedKFold(3, true, 1).Split(y)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStratifiedKFoldTooFewMembers(t *testing.T) {
	y := []float64{0, 0, 0, 0, 0, 0, 1, 1}
	_, err := NewStratifiedKFold(5, false, 0).Split(y)
	var ierr *errors.InsufficientDataError
	assert.True(t, errors.As(err, &ierr))
}

func TestKFold(t *testing.T) {
	folds, err := NewKFold(3, false, 0).Split(make([]float64, 10))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, folds[0].TestIndices)
	assert.Equal(t, []int{4, 5, 6}, folds[1].TestIndices)
	assert.Equal(t, []int{7, 8, 9}, folds[2].TestIndices)

	_, err = NewKFold(5, false, 0).Split(make([]float64, 3))
	assert.Error(t, err)
}

func TestParamGridCandidates(t *testing.T) {
	grid := ParamGrid{
		"n_estimators":  {100, 200},
		"max_depth":     {3, 5},
		"learning_rate": {0.01, 0.1},
	}
	cands := grid.Candidates()
	require.Len(t, cands, 8)
	assert.Equal(t, map[string]interface{}{"learning_rate": 0.01, "max_depth": 3, "n_estimators": 100}, cands[0])
	assert.Equal(t, map[string]interface{}{"learning_rate": 0.01, "max_depth": 3, "n_estimators": 200}, cands[1])
	assert.Equal(t, map[string]interface{}{"learning_rate": 0.01, "max_depth": 5, "n_estimators": 100}, cands[2])
	assert.Equal(t, map[string]interface{}{"learning_rate": 0.1, "max_depth": 5, "n_estimators": 200}, cands[7])
}

// columnScorer predicts P(y=1) = sigmoid(X[:, column]).
type columnScorer struct {
	column int
	tag    string
	fail   bool
	fitted bool
}

func (c *columnScorer) Fit(X, y mat.Matrix) error {
	if c.fail {
		return errors.NewDataError("columnScorer.Fit", "train", "forced failure")
	}
	c.fitted = true
	return nil
}

func (c *columnScorer) GetParams() map[string]interface{} {
	return map[string]interface{}{"column": c.column, "tag": c.tag, "fail": c.fail}
}

func (c *columnScorer) SetParams(p map[string]interface{}) error {
	if v, ok := p["column"]; ok {
		c.column = v.(int)
	}
	if v, ok := p["tag"]; ok {
		c.tag = v.(string)
	}
	if v, ok := p["fail"]; ok {
		c.fail = v.(bool)
	}
	return nil
}

func (c *columnScorer) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	r, _ := X.Dims()
	out := mat.NewDense(r, 2, nil)
	for i := 0; i < r; i++ {
		p := 1 / (1 + math.Exp(-X.At(i, c.column)))
		out.Set(i, 0, 1-p)
		out.Set(i, 1, p)
	}
	return out, nil
}

func (c *columnScorer) Predict(X mat.Matrix) (mat.Matrix, error) { return c.PredictProba(X) }
func (c *columnScorer) IsFitted() bool                          { return c.fitted }
func (c *columnScorer) Clone() model.Classifier {
	return &columnScorer{column: c.column, tag: c.tag, fail: c.fail}
}

// signalData has a noise column 0 and an informative column 1.
func signalData(n int) (*mat.Dense, []float64) {
	X := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		y[i] = float64(i % 2)
		X.Set(i, 0, math.Sin(float64(i)*1.7))
		X.Set(i, 1, 2*y[i]-1+0.3*math.Cos(float64(i)))
	}
	return X, y
}

func TestGridSearchCVSelectsInformativeCandidate(t *testing.T) {
	X, y := signalData(100)
	gs := NewGridSearchCV(&columnScorer{}, ParamGrid{
		"column": {0, 1},
		"tag":    {"a", "b"},
	}, WithNJobs(3))

	require.NoError(t, gs.Fit(context.Background(), X, y))
	require.Len(t, gs.Results, 4)
	require.Len(t, gs.Folds, 5)

	// (1,a) and (1,b) tie; the earlier candidate wins
	assert.Equal(t, 2, gs.BestIndex)
	assert.Equal(t, map[string]interface{}{"column": 1, "tag": "a"}, gs.BestParams)
	assert.InDelta(t, 1.0, gs.BestScore, 1e-12)
	assert.Equal(t, 1, gs.Results[2].Rank)
	assert.Equal(t, 1, gs.Results[3].Rank)
	assert.Equal(t, 3, gs.Results[0].Rank)
	for _, r := range gs.Results {
		assert.Len(t, r.FoldScores, 5)
	}

	require.NotNil(t, gs.BestEstimator)
	assert.True(t, gs.BestEstimator.IsFitted())
	assert.Equal(t, 1, gs.BestEstimator.(*columnScorer).column)
	assert.Contains(t, gs.Summary(), "rank 1")
}

func TestGridSearchCVIsDeterministicAcrossWorkers(t *testing.T) {
	X, y := signalData(80)
	grid := ParamGrid{"column": {0, 1}}

	serial := NewGridSearchCV(&columnScorer{}, grid, WithNJobs(1))
	require.NoError(t, serial.Fit(context.Background(), X, y))
	wide := NewGridSearchCV(&columnScorer{}, grid, WithNJobs(8))
	require.NoError(t, wide.Fit(context.Background(), X, y))

	assert.Equal(t, serial.Results, wide.Results)
	assert.Equal(t, serial.BestIndex, wide.BestIndex)
}

func TestGridSearchCVPropagatesLearnerErrors(t *testing.T) {
	X, y := signalData(50)
	gs := NewGridSearchCV(&columnScorer{}, ParamGrid{"fail": {false, true}}, WithRefit(false))

	err := gs.Fit(context.Background(), X, y)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "candidate 1")
	var derr *errors.DataError
	assert.True(t, errors.As(err, &derr))
}

func TestGridSearchCVValidation(t *testing.T) {
	X, y := signalData(20)
	assert.Error(t, NewGridSearchCV(&columnScorer{}, ParamGrid{}).Fit(context.Background(), X, y))
	assert.Error(t, NewGridSearchCV(&columnScorer{}, ParamGrid{"column": {}}).Fit(context.Background(), X, y))
	assert.Error(t, NewGridSearchCV(&columnScorer{}, ParamGrid{"column": {0}}).Fit(context.Background(), X, y[:10]))
}
