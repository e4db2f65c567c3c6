package ensemble

import (
	"context"
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/loanrisk/core/model"
	"github.com/YuminosukeSato/loanrisk/metrics"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
	"github.com/YuminosukeSato/loanrisk/sklearn/model_selection"
)

// noisyData draws n rows of nFeatures standard normals. The label depends on
// the first two features; the last feature is constant.
func noisyData(n, nFeatures int, seed uint64) (*mat.Dense, *mat.VecDense) {
	src := rand.NewPCG(seed, seed+1)
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	X := mat.NewDense(n, nFeatures, nil)
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < nFeatures-1; j++ {
			X.Set(i, j, normal.Rand())
		}
		X.Set(i, nFeatures-1, 7)
		if X.At(i, 0)+0.5*X.At(i, 1)+0.5*normal.Rand() > 0 {
			y.SetVec(i, 1)
		}
	}
	return X, y
}

func TestFeatureBounds(t *testing.T) {
	assert.Equal(t, []float64{1.5, 2.5}, featureBounds([]float64{3, 1, 2, 2}, 255))
	assert.Nil(t, featureBounds([]float64{4, 4, 4}, 255))

	values := make([]float64, 1000)
	for i := range values {
		values[i] = float64(i % 100)
	}
	bounds := featureBounds(values, 8)
	require.NotEmpty(t, bounds)
	assert.LessOrEqual(t, len(bounds), 7)
	for k := 1; k < len(bounds); k++ {
		assert.Greater(t, bounds[k], bounds[k-1])
	}
	for _, b := range bounds {
		assert.Equal(t, 0.5, b-math.Floor(b), "bound %v is not a midpoint", b)
	}
}

func TestBinMapperMatchesThreshold(t *testing.T) {
	X := mat.NewDense(5, 1, []float64{0.1, 0.4, 0.4, 0.9, 2.0})
	bm := newBinMapper(X, 255)
	binned := bm.transform(X)
	assert.Equal(t, []int32{0, 1, 1, 2, 3}, binned[0])
	assert.Equal(t, 4, bm.nBins(0))
	// bin <= k is the same test as x <= bounds[k]
	for k, bound := range bm.bounds[0] {
		for i := 0; i < 5; i++ {
			assert.Equal(t, X.At(i, 0) <= bound, int(binned[0][i]) <= k)
		}
	}
}

func TestStumpSplitAndLeafValues(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	y := mat.NewVecDense(4, []float64{0, 0, 1, 1})

	gb := NewGradientBoostingClassifier(WithNEstimators(1), WithMaxDepth(1), WithMinChildWeight(0))
	require.NoError(t, gb.Fit(X, y))

	require.Len(t, gb.Booster.Trees, 1)
	tree := gb.Booster.Trees[0]
	require.Len(t, tree.Nodes, 3)
	root := tree.Nodes[0]
	assert.Equal(t, 0, root.Feature)
	assert.Equal(t, 2.5, root.Threshold)
	assert.Equal(t, 4.0, root.Cover)
	assert.InDelta(t, 0.0, gb.Booster.InitScore, 1e-12)

	// G=±1, H=0.5 per side, λ=1
	assert.InDelta(t, -0.1/1.5, tree.Nodes[root.Left].Value, 1e-12)
	assert.InDelta(t, 0.1/1.5, tree.Nodes[root.Right].Value, 1e-12)
	assert.InDelta(t, 0.5*(1/1.5+1/1.5), root.Gain, 1e-12)

	imp, err := gb.FeatureImportances()
	require.NoError(t, err)
	assert.InDelta(t, root.Gain, imp[0], 1e-12)
}

func TestMinChildWeightBlocksSplit(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	y := mat.NewVecDense(4, []float64{0, 0, 1, 1})

	// every child hessian is at most 0.75 < 1
	gb := NewGradientBoostingClassifier(WithNEstimators(3))
	require.NoError(t, gb.Fit(X, y))
	for _, tree := range gb.Booster.Trees {
		assert.Equal(t, 1, tree.NumLeaves())
		assert.Equal(t, 0, tree.MaxDepth())
	}
}

func TestGammaPrunesWeakSplits(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	y := mat.NewVecDense(4, []float64{0, 0, 1, 1})

	gb := NewGradientBoostingClassifier(WithNEstimators(1), WithMinChildWeight(0), WithGamma(10))
	require.NoError(t, gb.Fit(X, y))
	assert.Equal(t, 1, gb.Booster.Trees[0].NumLeaves())
}

func TestGradientBoostingLearnsSignal(t *testing.T) {
	X, y := noisyData(600, 4, 1)
	gb := NewGradientBoostingClassifier(WithNEstimators(40))
	require.NoError(t, gb.Fit(X, y))

	for _, tree := range gb.Booster.Trees {
		assert.LessOrEqual(t, tree.MaxDepth(), 3)
	}

	proba, err := gb.PredictProba(X)
	require.NoError(t, err)
	auc, err := metrics.AUCMatrix(y, proba.(*mat.Dense).ColView(1))
	require.NoError(t, err)
	assert.Greater(t, auc, 0.85)

	rows, _ := proba.Dims()
	for i := 0; i < rows; i++ {
		assert.InDelta(t, 1.0, proba.At(i, 0)+proba.At(i, 1), 1e-12)
	}

	imp, err := gb.FeatureImportances()
	require.NoError(t, err)
	assert.Greater(t, imp[0], imp[1])
	assert.Greater(t, imp[0], imp[2])
	assert.Equal(t, 0.0, imp[3], "constant feature cannot split")

	pred, err := gb.Predict(X)
	require.NoError(t, err)
	z, err := gb.DecisionFunction(X)
	require.NoError(t, err)
	for i := 0; i < rows; i++ {
		assert.Equal(t, z.AtVec(i) > 0, pred.At(i, 0) == 1)
	}
}

func TestGradientBoostingDeterministic(t *testing.T) {
	X, y := noisyData(300, 3, 7)
	a := NewGradientBoostingClassifier(WithNEstimators(15))
	b := NewGradientBoostingClassifier(WithNEstimators(15))
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))

	za, err := a.DecisionFunction(X)
	require.NoError(t, err)
	zb, err := b.DecisionFunction(X)
	require.NoError(t, err)
	assert.Equal(t, za.RawVector().Data, zb.RawVector().Data)
}

func TestSHAPAdditivity(t *testing.T) {
	X, y := noisyData(400, 4, 3)
	gb := NewGradientBoostingClassifier(WithNEstimators(25), WithMaxDepth(4))
	require.NoError(t, gb.Fit(X, y))

	sv, err := gb.SHAP(X)
	require.NoError(t, err)
	base, err := gb.ExpectedValue()
	require.NoError(t, err)
	assert.Equal(t, base, sv.BaseValue)

	z, err := gb.DecisionFunction(X)
	require.NoError(t, err)
	rows, cols := sv.Values.Dims()
	assert.Equal(t, 400, rows)
	assert.Equal(t, 4, cols)
	for i := 0; i < rows; i++ {
		sum := sv.BaseValue
		for _, v := range sv.Row(i) {
			sum += v
		}
		assert.InDelta(t, z.AtVec(i), sum, 1e-9, "row %d", i)
		assert.Equal(t, 0.0, sv.Values.At(i, 3), "constant feature gets no attribution")
	}
}

func TestSHAPStump(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	y := mat.NewVecDense(4, []float64{0, 0, 1, 1})
	gb := NewGradientBoostingClassifier(WithNEstimators(1), WithMaxDepth(1), WithMinChildWeight(0))
	require.NoError(t, gb.Fit(X, y))

	sv, err := gb.SHAP(X)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sv.BaseValue, 1e-12)
	assert.InDelta(t, -0.1/1.5, sv.Values.At(0, 0), 1e-12)
	assert.InDelta(t, 0.1/1.5, sv.Values.At(3, 0), 1e-12)
}

// conditionalExpectation follows x for features in the coalition and
// averages both children by cover otherwise.
func conditionalExpectation(t *Tree, x []float64, inS []bool, node int) float64 {
	n := &t.Nodes[node]
	if n.IsLeaf() {
		return n.Value
	}
	if inS[n.Feature] {
		if x[n.Feature] <= n.Threshold {
			return conditionalExpectation(t, x, inS, n.Left)
		}
		return conditionalExpectation(t, x, inS, n.Right)
	}
	l, r := &t.Nodes[n.Left], &t.Nodes[n.Right]
	return (l.Cover*conditionalExpectation(t, x, inS, n.Left) +
		r.Cover*conditionalExpectation(t, x, inS, n.Right)) / n.Cover
}

func bruteForceShapley(t *Tree, x []float64) []float64 {
	m := len(x)
	fact := func(k int) float64 {
		f := 1.0
		for i := 2; i <= k; i++ {
			f *= float64(i)
		}
		return f
	}
	phi := make([]float64, m)
	for i := 0; i < m; i++ {
		for mask := 0; mask < 1<<m; mask++ {
			if mask&(1<<i) != 0 {
				continue
			}
			inS := make([]bool, m)
			size := 0
			for j := 0; j < m; j++ {
				if mask&(1<<j) != 0 {
					inS[j] = true
					size++
				}
			}
			without := conditionalExpectation(t, x, inS, 0)
			inS[i] = true
			with := conditionalExpectation(t, x, inS, 0)
			w := fact(size) * fact(m-size-1) / fact(m)
			phi[i] += w * (with - without)
		}
	}
	return phi
}

func TestSHAPMatchesExactShapley(t *testing.T) {
	X, y := noisyData(300, 3, 11)
	// replace the constant column with an interaction so paths repeat features
	for i := 0; i < 300; i++ {
		X.Set(i, 2, X.At(i, 0)*X.At(i, 1))
	}
	gb := NewGradientBoostingClassifier(WithNEstimators(5), WithMaxDepth(4), WithMinChildWeight(0.1))
	require.NoError(t, gb.Fit(X, y))

	for _, i := range []int{0, 17, 123, 299} {
		x := mat.Row(nil, i, X)
		for ti := range gb.Booster.Trees {
			tree := &gb.Booster.Trees[ti]
			got := make([]float64, 3)
			treeSHAP(tree, x, got)
			want := bruteForceShapley(tree, x)
			for j := range want {
				assert.InDelta(t, want[j], got[j], 1e-10, "row %d tree %d feature %d", i, ti, j)
			}
		}
	}
}

func TestGradientBoostingInputErrors(t *testing.T) {
	X, y := noisyData(50, 3, 5)

	gb := NewGradientBoostingClassifier()
	_, err := gb.PredictProba(X)
	var notFitted *errors.NotFittedError
	assert.True(t, errors.As(err, &notFitted))

	bad := mat.DenseCopyOf(X)
	bad.Set(3, 1, math.NaN())
	err = gb.Fit(bad, y)
	var dataErr *errors.DataError
	assert.True(t, errors.As(err, &dataErr))

	err = gb.Fit(X, mat.NewVecDense(50, nil))
	var insufficient *errors.InsufficientDataError
	assert.True(t, errors.As(err, &insufficient))

	err = gb.Fit(X, mat.NewVecDense(49, nil))
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))

	var valErr *errors.ValidationError
	for _, opt := range []GBOption{WithNEstimators(0), WithMaxDepth(0), WithLearningRate(0), WithMaxBin(1), WithMaxBin(300), WithRegLambda(-1)} {
		err = NewGradientBoostingClassifier(opt).Fit(X, y)
		assert.True(t, errors.As(err, &valErr), "%v", err)
	}

	require.NoError(t, gb.Fit(X, y))
	_, err = gb.DecisionFunction(mat.NewDense(2, 4, nil))
	assert.True(t, errors.As(err, &dimErr))
	_, err = gb.SHAP(mat.NewDense(2, 2, nil))
	assert.True(t, errors.As(err, &dimErr))
}

func TestGradientBoostingParams(t *testing.T) {
	gb := NewGradientBoostingClassifier()
	params := gb.GetParams()
	assert.Equal(t, 100, params["n_estimators"])
	assert.Equal(t, 3, params["max_depth"])
	assert.Equal(t, 0.1, params["learning_rate"])
	assert.Equal(t, 255, params["max_bin"])

	require.NoError(t, gb.SetParams(map[string]interface{}{
		"n_estimators":  200,
		"max_depth":     5.0,
		"learning_rate": 0.01,
	}))
	assert.Equal(t, 200, gb.NEstimators)
	assert.Equal(t, 5, gb.MaxDepth)
	assert.Equal(t, 0.01, gb.LearningRate)

	var valErr *errors.ValidationError
	assert.True(t, errors.As(gb.SetParams(map[string]interface{}{"subsample": 0.5}), &valErr))
	assert.True(t, errors.As(gb.SetParams(map[string]interface{}{"max_depth": 2.5}), &valErr))
	assert.True(t, errors.As(gb.SetParams(map[string]interface{}{"max_bin": 1}), &valErr))
	assert.True(t, errors.As(gb.SetParams(map[string]interface{}{"n_estimators": 50, "gamma": -1.0}), &valErr))
	assert.Equal(t, 200, gb.NEstimators)
	assert.Equal(t, 5, gb.MaxDepth)
	assert.Equal(t, 255, gb.MaxBin)
	assert.Equal(t, 0.0, gb.Gamma)

	clone := gb.Clone().(*GradientBoostingClassifier)
	assert.False(t, clone.IsFitted())
	assert.Equal(t, gb.GetParams(), clone.GetParams())
}

func TestGradientBoostingPersistence(t *testing.T) {
	X, y := noisyData(200, 3, 9)
	gb := NewGradientBoostingClassifier(WithNEstimators(10))
	require.NoError(t, gb.Fit(X, y))

	path := filepath.Join(t.TempDir(), "model.lrsk")
	require.NoError(t, model.SaveArtifact(path, gb, model.ArtifactMeta{Fingerprint: "fp", FeatureNames: []string{"a", "b", "c"}}))

	loaded, header, err := model.LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, GradientBoostingType, header.Type)
	assert.Equal(t, model.KindModel, header.Kind)
	assert.Equal(t, "fp", header.Fingerprint)

	restored, ok := loaded.(*GradientBoostingClassifier)
	require.True(t, ok)
	want, err := gb.DecisionFunction(X)
	require.NoError(t, err)
	got, err := restored.DecisionFunction(X)
	require.NoError(t, err)
	assert.Equal(t, want.RawVector().Data, got.RawVector().Data)

	sv, err := restored.SHAP(X)
	require.NoError(t, err)
	base, _ := gb.ExpectedValue()
	assert.InDelta(t, base, sv.BaseValue, 1e-12)
}

func TestValidateRejectsCorruptTrees(t *testing.T) {
	X, y := noisyData(100, 3, 2)
	gb := NewGradientBoostingClassifier(WithNEstimators(2), WithMinChildWeight(0))
	require.NoError(t, gb.Fit(X, y))
	require.NoError(t, gb.Validate())

	gb.Booster.Trees[0].Nodes[0].Left = 0
	assert.Error(t, gb.Validate())
}

func TestGridSearchWithGradientBoosting(t *testing.T) {
	X, y := noisyData(300, 3, 4)
	labels := mat.Col(nil, 0, y)

	grid := model_selection.ParamGrid{
		"n_estimators": {5, 20},
		"max_depth":    {1, 3},
	}
	search := model_selection.NewGridSearchCV(NewGradientBoostingClassifier(), grid,
		model_selection.WithCV(model_selection.NewStratifiedKFold(3, false, 0)))
	require.NoError(t, search.Fit(context.Background(), X, labels))

	require.Len(t, search.Results, 4)
	assert.Greater(t, search.BestScore, 0.75)
	best := search.BestEstimator.(*GradientBoostingClassifier)
	assert.True(t, best.IsFitted())
	assert.Equal(t, search.BestParams["n_estimators"], best.NEstimators)
}
