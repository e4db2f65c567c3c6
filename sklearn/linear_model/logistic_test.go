package linear_model

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/loanrisk/core/model"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

// overlappingClusters returns two noisy clusters around (1,1) and (3,3).
func overlappingClusters() (*mat.Dense, *mat.VecDense) {
	X := mat.NewDense(10, 2, []float64{
		0.5, 0.5,
		1.0, 1.5,
		1.5, 1.0,
		2.2, 1.9,
		1.2, 0.7,
		3.0, 2.5,
		2.5, 3.0,
		3.5, 3.5,
		1.8, 2.1,
		2.9, 3.4,
	})
	y := mat.NewVecDense(10, []float64{0, 0, 0, 0, 0, 1, 1, 1, 1, 1})
	return X, y
}

func TestLogisticRegressionFitPredict(t *testing.T) {
	X, y := overlappingClusters()
	lr := NewLogisticRegression()
	require.NoError(t, lr.Fit(X, y))
	assert.True(t, lr.IsFitted())

	pred, err := lr.Predict(mat.NewDense(2, 2, []float64{1, 1, 3, 3}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, pred.At(0, 0))
	assert.Equal(t, 1.0, pred.At(1, 0))

	acc, err := lr.Score(X, y)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, acc, 0.8)
}

func TestLogisticRegressionProbabilities(t *testing.T) {
	X, y := overlappingClusters()
	lr := NewLogisticRegression()
	require.NoError(t, lr.Fit(X, y))

	proba, err := lr.PredictProba(X)
	require.NoError(t, err)
	z, err := lr.DecisionFunction(X)
	require.NoError(t, err)

	rows, cols := proba.Dims()
	require.Equal(t, 2, cols)
	for i := 0; i < rows; i++ {
		assert.InDelta(t, 1.0, proba.At(i, 0)+proba.At(i, 1), 1e-12)
		assert.InDelta(t, 1/(1+math.Exp(-z.AtVec(i))), proba.At(i, 1), 1e-12)
	}
}

// The fitted weights must zero the gradient of mean log-loss + ||w||²/(2Cn).
func TestLogisticRegressionStationaryPoint(t *testing.T) {
	X, y := overlappingClusters()
	lr := NewLogisticRegression(WithLRC(0.5), WithLRTol(1e-7))
	require.NoError(t, lr.Fit(X, y))

	n, d := X.Dims()
	grad := make([]float64, d+1)
	for i := 0; i < n; i++ {
		row := mat.Row(nil, i, X)
		p := 1 / (1 + math.Exp(-(floats.Dot(row, lr.Coef) + lr.Intercept)))
		r := (p - y.AtVec(i)) / float64(n)
		for j := 0; j < d; j++ {
			grad[j] += r * row[j]
		}
		grad[d] += r
	}
	for j := 0; j < d; j++ {
		grad[j] += lr.Coef[j] / (0.5 * float64(n))
	}
	for j, g := range grad {
		assert.InDelta(t, 0, g, 1e-5, "gradient component %d", j)
	}
}

func TestLogisticRegressionRegularization(t *testing.T) {
	X, y := overlappingClusters()
	strong := NewLogisticRegression(WithLRC(0.01))
	weak := NewLogisticRegression(WithLRC(100))
	require.NoError(t, strong.Fit(X, y))
	require.NoError(t, weak.Fit(X, y))
	assert.Less(t, floats.Norm(strong.Coef, 2), floats.Norm(weak.Coef, 2))
}

func TestLogisticRegressionIterationLimitWarns(t *testing.T) {
	var warnings []error
	errors.SetZerologWarnFunc(func(w error) { warnings = append(warnings, w) })
	defer errors.SetZerologWarnFunc(nil)

	X, y := overlappingClusters()
	lr := NewLogisticRegression(WithLRMaxIter(1), WithLRTol(1e-12))
	require.NoError(t, lr.Fit(X, y))
	require.NotEmpty(t, warnings)

	var cw *errors.ConvergenceWarning
	assert.True(t, errors.As(warnings[0], &cw))
}

func TestLogisticRegressionInputErrors(t *testing.T) {
	X, _ := overlappingClusters()

	var ve *errors.ValidationError
	err := NewLogisticRegression().Fit(X, mat.NewVecDense(10, []float64{0, 2, 0, 0, 0, 1, 1, 1, 1, 1}))
	assert.True(t, errors.As(err, &ve))

	var ie *errors.InsufficientDataError
	err = NewLogisticRegression().Fit(X, mat.NewVecDense(10, nil))
	assert.True(t, errors.As(err, &ie))

	bad := mat.DenseCopyOf(X)
	bad.Set(3, 1, math.NaN())
	var de *errors.DataError
	err = NewLogisticRegression().Fit(bad, mat.NewVecDense(10, []float64{0, 0, 0, 0, 0, 1, 1, 1, 1, 1}))
	assert.True(t, errors.As(err, &de))

	var nf *errors.NotFittedError
	_, err = NewLogisticRegression().PredictProba(X)
	assert.True(t, errors.As(err, &nf))

	assert.Error(t, NewLogisticRegression(WithLRPenalty("l1")).Fit(X, mat.NewVecDense(10, []float64{0, 0, 0, 0, 0, 1, 1, 1, 1, 1})))
}

func TestLogisticRegressionParams(t *testing.T) {
	lr := NewLogisticRegression()
	require.NoError(t, lr.SetParams(map[string]interface{}{"C": 2, "max_iter": 50.0}))
	assert.Equal(t, 2.0, lr.C)
	assert.Equal(t, 50, lr.MaxIter)
	assert.Error(t, lr.SetParams(map[string]interface{}{"solver": "saga"}))
	assert.Error(t, lr.SetParams(map[string]interface{}{"max_iter": 1.5}))
	assert.Error(t, lr.SetParams(map[string]interface{}{"max_iter": 0}))
	assert.Error(t, lr.SetParams(map[string]interface{}{"tol": 1e-3, "C": "strong"}))
	assert.Equal(t, 50, lr.MaxIter)
	assert.Equal(t, 2.0, lr.C)
	assert.Equal(t, 1e-4, lr.Tol)

	X, y := overlappingClusters()
	require.NoError(t, lr.Fit(X, y))
	clone := lr.Clone()
	assert.False(t, clone.IsFitted())
	assert.Equal(t, lr.GetParams(), clone.GetParams())
}

func TestLogisticRegressionPersistence(t *testing.T) {
	X, y := overlappingClusters()
	lr := NewLogisticRegression()
	require.NoError(t, lr.Fit(X, y))

	path := filepath.Join(t.TempDir(), "model.lrsk")
	require.NoError(t, model.SaveArtifact(path, lr, model.ArtifactMeta{Fingerprint: "fp"}))

	a, header, err := model.LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, LogisticRegressionType, header.Type)
	assert.Equal(t, model.KindModel, header.Kind)
	assert.Equal(t, "fp", header.Fingerprint)

	loaded, ok := a.(*LogisticRegression)
	require.True(t, ok)
	want, err := lr.PredictProba(X)
	require.NoError(t, err)
	got, err := loaded.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
}
