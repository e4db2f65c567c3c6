// Package ensemble implements a histogram gradient-boosted tree classifier
// for binary log-loss together with exact TreeSHAP attributions.
package ensemble

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/loanrisk/core/model"
	"github.com/YuminosukeSato/loanrisk/core/parallel"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
	"github.com/YuminosukeSato/loanrisk/pkg/log"
)

// GradientBoostingType is the artifact type name of a persisted GradientBoostingClassifier.
const GradientBoostingType = "GradientBoostingClassifier"

func init() {
	model.RegisterArtifact(GradientBoostingType, func() model.Artifact { return &GradientBoostingClassifier{} })
}

// GradientBoostingClassifier は二値ログ損失に対する勾配ブースティング決定木です。
//
// 各木はヒストグラムで分割を探索し、深さ優先ではなく深さごとに成長します。
// 葉の値は -G/(H+λ) に学習率を掛けたニュートンステップです。
type GradientBoostingClassifier struct {
	// Hyperparameters
	NEstimators    int     `msgpack:"n_estimators"`
	MaxDepth       int     `msgpack:"max_depth"`
	LearningRate   float64 `msgpack:"learning_rate"`
	MinChildWeight float64 `msgpack:"min_child_weight"` // Minimum hessian sum in a child
	RegLambda      float64 `msgpack:"reg_lambda"`       // L2 regularization on leaf values
	Gamma          float64 `msgpack:"gamma"`            // Minimum gain to split
	MaxBin         int     `msgpack:"max_bin"`

	// Learned state
	Booster     *Booster  `msgpack:"booster"`
	Importances []float64 `msgpack:"importances"` // Total split gain per feature

	State *model.StateManager `msgpack:"state"`
}

// GBOption is a functional option for GradientBoostingClassifier
type GBOption func(*GradientBoostingClassifier)

// NewGradientBoostingClassifier creates a classifier with XGBoost-like defaults.
func NewGradientBoostingClassifier(opts ...GBOption) *GradientBoostingClassifier {
	gb := &GradientBoostingClassifier{
		NEstimators:    100,
		MaxDepth:       3,
		LearningRate:   0.1,
		MinChildWeight: 1,
		RegLambda:      1,
		Gamma:          0,
		MaxBin:         255,
		State:          model.NewStateManager(),
	}
	for _, opt := range opts {
		opt(gb)
	}
	return gb
}

// WithNEstimators sets the number of boosting rounds
func WithNEstimators(n int) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.NEstimators = n }
}

// WithMaxDepth sets the maximum tree depth
func WithMaxDepth(depth int) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.MaxDepth = depth }
}

// WithLearningRate sets the shrinkage applied to every leaf
func WithLearningRate(lr float64) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.LearningRate = lr }
}

// WithMinChildWeight sets the minimum hessian sum per child
func WithMinChildWeight(w float64) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.MinChildWeight = w }
}

// WithRegLambda sets the L2 regularization
func WithRegLambda(lambda float64) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.RegLambda = lambda }
}

// WithGamma sets the minimum split gain
func WithGamma(gamma float64) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.Gamma = gamma }
}

// WithMaxBin sets the histogram resolution
func WithMaxBin(maxBin int) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.MaxBin = maxBin }
}

// ArtifactType implements model.Artifact.
func (gb *GradientBoostingClassifier) ArtifactType() string { return GradientBoostingType }

// ArtifactKind implements model.Artifact.
func (gb *GradientBoostingClassifier) ArtifactKind() model.ArtifactKind { return model.KindModel }

// IsFitted reports whether Fit has completed.
func (gb *GradientBoostingClassifier) IsFitted() bool { return gb.State.IsFitted() }

func (gb *GradientBoostingClassifier) validateParams() error {
	if gb.NEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be at least 1", gb.NEstimators)
	}
	if gb.MaxDepth < 1 {
		return errors.NewValidationError("max_depth", "must be at least 1", gb.MaxDepth)
	}
	if !(gb.LearningRate > 0) || math.IsInf(gb.LearningRate, 0) {
		return errors.NewValidationError("learning_rate", "must be positive", gb.LearningRate)
	}
	if gb.MinChildWeight < 0 || math.IsNaN(gb.MinChildWeight) {
		return errors.NewValidationError("min_child_weight", "must be non-negative", gb.MinChildWeight)
	}
	if gb.RegLambda < 0 || math.IsNaN(gb.RegLambda) {
		return errors.NewValidationError("reg_lambda", "must be non-negative", gb.RegLambda)
	}
	if gb.Gamma < 0 || math.IsNaN(gb.Gamma) {
		return errors.NewValidationError("gamma", "must be non-negative", gb.Gamma)
	}
	if gb.MaxBin < 2 || gb.MaxBin > 256 {
		return errors.NewValidationError("max_bin", "must be in [2, 256]", gb.MaxBin)
	}
	return nil
}

// Fit grows NEstimators trees on the binary log-loss. Non-finite X is a
// DataError; a single class in y is an InsufficientDataError.
func (gb *GradientBoostingClassifier) Fit(X, y mat.Matrix) error {
	if err := gb.validateParams(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.Wrap(errors.ErrEmptyData, "GradientBoostingClassifier.Fit")
	}
	if err := errors.CheckMatrix("GradientBoostingClassifier.Fit", "train", X, nSamples, nFeatures); err != nil {
		return err
	}
	labels, err := model.BinaryLabels("GradientBoostingClassifier.Fit", y, nSamples)
	if err != nil {
		return err
	}
	start := time.Now()
	logger := log.GetLoggerWithName(GradientBoostingType)

	Xd := mat.DenseCopyOf(X)
	bins := newBinMapper(Xd, gb.MaxBin)

	var positives float64
	for _, v := range labels {
		positives += v
	}
	prior := positives / float64(nSamples)
	booster := &Booster{
		InitScore: math.Log(prior / (1 - prior)),
		Trees:     make([]Tree, 0, gb.NEstimators),
		NFeatures: nFeatures,
	}

	margins := make([]float64, nSamples)
	for i := range margins {
		margins[i] = booster.InitScore
	}
	rows := make([]int, nSamples)
	for i := range rows {
		rows[i] = i
	}
	g := &grower{
		params: treeParams{
			maxDepth:       gb.MaxDepth,
			learningRate:   gb.LearningRate,
			minChildWeight: gb.MinChildWeight,
			lambda:         gb.RegLambda,
			gamma:          gb.Gamma,
		},
		bins:   bins,
		binned: bins.transform(Xd),
		grad:   make([]float64, nSamples),
		hess:   make([]float64, nSamples),
	}
	importances := make([]float64, nFeatures)

	for iter := 0; iter < gb.NEstimators; iter++ {
		for i, z := range margins {
			p := errors.Sigmoid(z)
			g.grad[i] = p - labels[i]
			g.hess[i] = p * (1 - p)
		}
		if err := errors.CheckNumericalStability("gbdt", g.grad, iter); err != nil {
			return err
		}

		tree, leafRows, leafVals := g.grow(rows)
		for k, members := range leafRows {
			v := leafVals[k]
			if err := errors.CheckScalar("gbdt", v, iter); err != nil {
				return err
			}
			for _, i := range members {
				margins[i] += v
			}
		}
		for _, n := range tree.Nodes {
			if !n.IsLeaf() {
				importances[n.Feature] += n.Gain
			}
		}
		booster.Trees = append(booster.Trees, tree)

		if (iter+1)%10 == 0 || iter+1 == gb.NEstimators {
			logger.Debug("Boosting round",
				log.OperationKey, log.OperationFit,
				log.IterationKey, iter+1,
				log.LossKey, logLoss(labels, margins),
				"leaves", tree.NumLeaves(),
			)
		}
	}

	gb.Booster = booster
	gb.Importances = importances
	if gb.State == nil {
		gb.State = model.NewStateManager()
	}
	gb.State.SetFitted(nFeatures, nSamples)

	logger.Debug("Model fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		"n_trees", len(booster.Trees),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func logLoss(labels, margins []float64) float64 {
	var loss float64
	for i, z := range margins {
		loss += errors.Log1pExp(z) - labels[i]*z
	}
	return loss / float64(len(labels))
}

func (gb *GradientBoostingClassifier) checkInput(method string, X mat.Matrix) error {
	if err := gb.State.RequireFitted(GradientBoostingType, method); err != nil {
		return err
	}
	_, cols := X.Dims()
	return gb.State.RequireFeatures("GradientBoostingClassifier."+method, cols)
}

// DecisionFunction returns the raw margin (log-odds) of each row.
func (gb *GradientBoostingClassifier) DecisionFunction(X mat.Matrix) (*mat.VecDense, error) {
	if err := gb.checkInput("DecisionFunction", X); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	z := mat.NewVecDense(rows, nil)
	parallel.ParallelizeWithThreshold(rows, 256, func(start, end int) {
		row := make([]float64, cols)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			z.SetVec(i, gb.Booster.Margin(row))
		}
	})
	return z, nil
}

// PredictProba returns an n×2 matrix of [P(y=0), P(y=1)].
func (gb *GradientBoostingClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	z, err := gb.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	n := z.Len()
	proba := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		p := errors.Sigmoid(z.AtVec(i))
		proba.Set(i, 0, 1-p)
		proba.Set(i, 1, p)
	}
	return proba, nil
}

// Predict returns an n×1 matrix of 0/1 labels (positive when the margin is > 0).
func (gb *GradientBoostingClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	z, err := gb.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	n := z.Len()
	pred := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		if z.AtVec(i) > 0 {
			pred.Set(i, 0, 1)
		}
	}
	return pred, nil
}

// SHAP returns TreeSHAP attributions of X in margin space.
func (gb *GradientBoostingClassifier) SHAP(X mat.Matrix) (*SHAPValues, error) {
	if err := gb.checkInput("SHAP", X); err != nil {
		return nil, err
	}
	return gb.Booster.SHAP(X)
}

// ExpectedValue returns the SHAP base value.
func (gb *GradientBoostingClassifier) ExpectedValue() (float64, error) {
	if err := gb.State.RequireFitted(GradientBoostingType, "ExpectedValue"); err != nil {
		return 0, err
	}
	return gb.Booster.ExpectedValue(), nil
}

// FeatureImportances returns the total split gain of each feature.
func (gb *GradientBoostingClassifier) FeatureImportances() ([]float64, error) {
	if err := gb.State.RequireFitted(GradientBoostingType, "FeatureImportances"); err != nil {
		return nil, err
	}
	return append([]float64(nil), gb.Importances...), nil
}

// GetParams returns the hyperparameters using XGBoost names.
func (gb *GradientBoostingClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":     gb.NEstimators,
		"max_depth":        gb.MaxDepth,
		"learning_rate":    gb.LearningRate,
		"min_child_weight": gb.MinChildWeight,
		"reg_lambda":       gb.RegLambda,
		"gamma":            gb.Gamma,
		"max_bin":          gb.MaxBin,
	}
}

// SetParams sets the model hyperparameters. 不正なキーや値が一つでもあれば何も変更しない。
func (gb *GradientBoostingClassifier) SetParams(params map[string]interface{}) error {
	next := *gb
	for key, value := range params {
		var err error
		switch key {
		case "n_estimators":
			next.NEstimators, err = model.IntParam(key, value)
		case "max_depth":
			next.MaxDepth, err = model.IntParam(key, value)
		case "learning_rate":
			next.LearningRate, err = model.FloatParam(key, value)
		case "min_child_weight":
			next.MinChildWeight, err = model.FloatParam(key, value)
		case "reg_lambda":
			next.RegLambda, err = model.FloatParam(key, value)
		case "gamma":
			next.Gamma, err = model.FloatParam(key, value)
		case "max_bin":
			next.MaxBin, err = model.IntParam(key, value)
		default:
			return errors.NewValidationError(key, "unknown parameter for GradientBoostingClassifier", value)
		}
		if err != nil {
			return err
		}
	}
	if err := next.validateParams(); err != nil {
		return err
	}
	gb.NEstimators = next.NEstimators
	gb.MaxDepth = next.MaxDepth
	gb.LearningRate = next.LearningRate
	gb.MinChildWeight = next.MinChildWeight
	gb.RegLambda = next.RegLambda
	gb.Gamma = next.Gamma
	gb.MaxBin = next.MaxBin
	return nil
}

// Clone returns an unfitted copy with the same hyperparameters.
func (gb *GradientBoostingClassifier) Clone() model.Classifier {
	return &GradientBoostingClassifier{
		NEstimators:    gb.NEstimators,
		MaxDepth:       gb.MaxDepth,
		LearningRate:   gb.LearningRate,
		MinChildWeight: gb.MinChildWeight,
		RegLambda:      gb.RegLambda,
		Gamma:          gb.Gamma,
		MaxBin:         gb.MaxBin,
		State:          model.NewStateManager(),
	}
}

// Validate checks a decoded model.
func (gb *GradientBoostingClassifier) Validate() error {
	if gb.State == nil || !gb.State.Fitted || gb.Booster == nil {
		return fmt.Errorf("gradient boosting classifier is not fitted")
	}
	if gb.Booster.NFeatures != gb.State.NFeatures || len(gb.Importances) != gb.State.NFeatures {
		return fmt.Errorf("feature count mismatch: booster %d, importances %d, state %d",
			gb.Booster.NFeatures, len(gb.Importances), gb.State.NFeatures)
	}
	return gb.Booster.validate()
}

// String returns a scikit-learn style representation.
func (gb *GradientBoostingClassifier) String() string {
	return fmt.Sprintf("GradientBoostingClassifier(n_estimators=%d, max_depth=%d, learning_rate=%g)",
		gb.NEstimators, gb.MaxDepth, gb.LearningRate)
}
