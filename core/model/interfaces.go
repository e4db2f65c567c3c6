package model

import (
	"gonum.org/v1/gonum/mat"
)

// Fitter is a model that learns from a feature matrix and aligned labels.
type Fitter interface {
	Fit(X, y mat.Matrix) error
}

// ParameterGetter exposes hyperparameters using sklearn names.
type ParameterGetter interface {
	GetParams() map[string]interface{}
}

// ParameterSetter updates hyperparameters using sklearn names.
type ParameterSetter interface {
	SetParams(params map[string]interface{}) error
}

// Classifier is a binary classifier producing class-membership probabilities.
// PredictProba returns an n×2 matrix whose second column is P(y=1).
type Classifier interface {
	Fitter
	ParameterGetter
	ParameterSetter

	Predict(X mat.Matrix) (mat.Matrix, error)
	PredictProba(X mat.Matrix) (mat.Matrix, error)
	IsFitted() bool

	// Clone returns an unfitted copy with the same hyperparameters.
	Clone() Classifier
}

// MarginClassifier is a classifier whose probabilities are a link function
// applied to a raw additive score.
type MarginClassifier interface {
	Classifier
	DecisionFunction(X mat.Matrix) (*mat.VecDense, error)
}
