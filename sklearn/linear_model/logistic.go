package linear_model

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/YuminosukeSato/loanrisk/core/model"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
	"github.com/YuminosukeSato/loanrisk/pkg/log"
)

// LogisticRegressionType is the artifact type name of a persisted LogisticRegression.
const LogisticRegressionType = "LogisticRegression"

func init() {
	model.RegisterArtifact(LogisticRegressionType, func() model.Artifact { return &LogisticRegression{} })
}

// LogisticRegression implements binary logistic regression
// Compatible with scikit-learn's LogisticRegression(solver="lbfgs")
//
// The objective is the mean log-loss plus 1/(2·C·n)·‖w‖², which has the same
// minimiser as scikit-learn's C·Σloss + ½‖w‖². The intercept is not penalised.
type LogisticRegression struct {
	// Hyperparameters
	Penalty      string  `msgpack:"penalty"` // "l2" or "none"
	C            float64 `msgpack:"c"`       // Inverse regularization strength
	FitIntercept bool    `msgpack:"fit_intercept"`
	MaxIter      int     `msgpack:"max_iter"`
	Tol          float64 `msgpack:"tol"` // Gradient infinity-norm threshold

	// Model parameters
	Coef      []float64 `msgpack:"coef"`
	Intercept float64   `msgpack:"intercept"`
	NIter     int       `msgpack:"n_iter"`

	State *model.StateManager `msgpack:"state"`
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		Penalty:      "l2",
		C:            1.0,
		FitIntercept: true,
		MaxIter:      1000,
		Tol:          1e-4,
		State:        model.NewStateManager(),
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRPenalty sets the regularization type
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.Penalty = penalty }
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.C = c }
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.FitIntercept = fit }
}

// WithLRMaxIter sets the maximum number of L-BFGS iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.MaxIter = maxIter }
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.Tol = tol }
}

// ArtifactType implements model.Artifact.
func (lr *LogisticRegression) ArtifactType() string { return LogisticRegressionType }

// ArtifactKind implements model.Artifact.
func (lr *LogisticRegression) ArtifactKind() model.ArtifactKind { return model.KindModel }

// IsFitted reports whether Fit has completed.
func (lr *LogisticRegression) IsFitted() bool { return lr.State.IsFitted() }

func (lr *LogisticRegression) validateParams() error {
	switch lr.Penalty {
	case "l2", "none":
	default:
		return errors.NewValidationError("penalty", "must be l2 or none", lr.Penalty)
	}
	if lr.Penalty == "l2" && !(lr.C > 0) {
		return errors.NewValidationError("C", "must be positive", lr.C)
	}
	if lr.MaxIter < 1 {
		return errors.NewValidationError("max_iter", "must be at least 1", lr.MaxIter)
	}
	if !(lr.Tol > 0) {
		return errors.NewValidationError("tol", "must be positive", lr.Tol)
	}
	return nil
}

// Fit trains the model with L-BFGS. Reaching max_iter keeps the last iterate
// and emits a ConvergenceWarning; an optimiser failure is a ConvergenceError.
func (lr *LogisticRegression) Fit(X, y mat.Matrix) error {
	if err := lr.validateParams(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.Wrap(errors.ErrEmptyData, "LogisticRegression.Fit")
	}
	if err := errors.CheckMatrix("LogisticRegression.Fit", "train", X, nSamples, nFeatures); err != nil {
		return err
	}
	labels, err := model.BinaryLabels("LogisticRegression.Fit", y, nSamples)
	if err != nil {
		return err
	}
	start := time.Now()

	Xd := mat.DenseCopyOf(X)
	n := float64(nSamples)
	alpha := 0.0
	if lr.Penalty == "l2" {
		alpha = 1 / (lr.C * n)
	}
	nParams := nFeatures
	if lr.FitIntercept {
		nParams++
	}

	z := mat.NewVecDense(nSamples, nil)
	resid := mat.NewVecDense(nSamples, nil)
	margins := func(params []float64) {
		w := mat.NewVecDense(nFeatures, params[:nFeatures])
		z.MulVec(Xd, w)
		if lr.FitIntercept {
			for i := 0; i < nSamples; i++ {
				z.SetVec(i, z.AtVec(i)+params[nFeatures])
			}
		}
	}

	problem := optimize.Problem{
		Func: func(params []float64) float64 {
			margins(params)
			var loss float64
			for i := 0; i < nSamples; i++ {
				zi := z.AtVec(i)
				loss += errors.Log1pExp(zi) - labels[i]*zi
			}
			w := params[:nFeatures]
			return loss/n + 0.5*alpha*floats.Dot(w, w)
		},
		Grad: func(grad, params []float64) {
			margins(params)
			for i := 0; i < nSamples; i++ {
				resid.SetVec(i, (errors.Sigmoid(z.AtVec(i))-labels[i])/n)
			}
			gw := mat.NewVecDense(nFeatures, grad[:nFeatures])
			gw.MulVec(Xd.T(), resid)
			floats.AddScaled(grad[:nFeatures], alpha, params[:nFeatures])
			if lr.FitIntercept {
				grad[nFeatures] = mat.Sum(resid)
			}
		},
	}

	settings := &optimize.Settings{
		MajorIterations:   lr.MaxIter,
		GradientThreshold: lr.Tol,
	}
	result, err := optimize.Minimize(problem, make([]float64, nParams), settings, &optimize.LBFGS{})
	if result == nil {
		return errors.NewConvergenceError("lbfgs", 0, "optimizer returned no result", err)
	}
	if err != nil && floats.Norm(result.Gradient, math.Inf(1)) > lr.Tol {
		return errors.NewConvergenceError("lbfgs", result.Stats.MajorIterations, result.Status.String(), err)
	}
	if err := errors.CheckNumericalStability("LogisticRegression", result.X, result.Stats.MajorIterations); err != nil {
		return err
	}
	if result.Status == optimize.IterationLimit {
		errors.Warn(errors.NewConvergenceWarning("lbfgs", result.Stats.MajorIterations,
			"iteration limit reached; increase max_iter or scale the data"))
	}

	lr.Coef = append([]float64(nil), result.X[:nFeatures]...)
	lr.Intercept = 0
	if lr.FitIntercept {
		lr.Intercept = result.X[nFeatures]
	}
	lr.NIter = result.Stats.MajorIterations
	if lr.State == nil {
		lr.State = model.NewStateManager()
	}
	lr.State.SetFitted(nFeatures, nSamples)

	log.GetLoggerWithName(LogisticRegressionType).Debug("Model fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		log.IterationKey, lr.NIter,
		log.LossKey, result.F,
		"status", result.Status.String(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// DecisionFunction returns the linear margin w·x + b for each row.
func (lr *LogisticRegression) DecisionFunction(X mat.Matrix) (*mat.VecDense, error) {
	if err := lr.State.RequireFitted(LogisticRegressionType, "DecisionFunction"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := lr.State.RequireFeatures("LogisticRegression.DecisionFunction", cols); err != nil {
		return nil, err
	}
	z := mat.NewVecDense(rows, nil)
	z.MulVec(X, mat.NewVecDense(cols, lr.Coef))
	for i := 0; i < rows; i++ {
		z.SetVec(i, z.AtVec(i)+lr.Intercept)
	}
	return z, nil
}

// PredictProba returns an n×2 matrix of [P(y=0), P(y=1)].
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	z, err := lr.DecisionFunction(X)
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
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	z, err := lr.DecisionFunction(X)
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

// Score returns the mean accuracy on X and y.
func (lr *LogisticRegression) Score(X, y mat.Matrix) (float64, error) {
	pred, err := lr.Predict(X)
	if err != nil {
		return 0, err
	}
	rows, _ := y.Dims()
	predRows, _ := pred.Dims()
	if rows != predRows {
		return 0, errors.NewDimensionError("LogisticRegression.Score", predRows, rows, 0)
	}
	correct := 0
	for i := 0; i < rows; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(rows), nil
}

// GetParams returns the hyperparameters using scikit-learn names.
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.Penalty,
		"C":             lr.C,
		"fit_intercept": lr.FitIntercept,
		"max_iter":      lr.MaxIter,
		"tol":           lr.Tol,
	}
}

// SetParams sets the model hyperparameters. The update is all or nothing:
// when any key is rejected the current settings are kept.
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	next := *lr
	for key, value := range params {
		var err error
		switch key {
		case "penalty":
			next.Penalty, err = model.StringParam(key, value)
		case "C":
			next.C, err = model.FloatParam(key, value)
		case "fit_intercept":
			next.FitIntercept, err = model.BoolParam(key, value)
		case "max_iter":
			next.MaxIter, err = model.IntParam(key, value)
		case "tol":
			next.Tol, err = model.FloatParam(key, value)
		default:
			return errors.NewValidationError(key, "unknown parameter for LogisticRegression", value)
		}
		if err != nil {
			return err
		}
	}
	if err := next.validateParams(); err != nil {
		return err
	}
	lr.Penalty, lr.C, lr.FitIntercept, lr.MaxIter, lr.Tol = next.Penalty, next.C, next.FitIntercept, next.MaxIter, next.Tol
	return nil
}

// Clone returns an unfitted copy with the same hyperparameters.
func (lr *LogisticRegression) Clone() model.Classifier {
	return &LogisticRegression{
		Penalty:      lr.Penalty,
		C:            lr.C,
		FitIntercept: lr.FitIntercept,
		MaxIter:      lr.MaxIter,
		Tol:          lr.Tol,
		State:        model.NewStateManager(),
	}
}

// Validate checks a decoded model.
func (lr *LogisticRegression) Validate() error {
	if lr.State == nil || !lr.State.Fitted {
		return fmt.Errorf("logistic regression is not fitted")
	}
	if len(lr.Coef) != lr.State.NFeatures {
		return fmt.Errorf("%d coefficients for %d features", len(lr.Coef), lr.State.NFeatures)
	}
	return nil
}

// String returns a scikit-learn style representation.
func (lr *LogisticRegression) String() string {
	return fmt.Sprintf("LogisticRegression(C=%g, penalty=%s, max_iter=%d)", lr.C, lr.Penalty, lr.MaxIter)
}
