// Package explain turns TreeSHAP values into per-row and global feature
// attributions for a fitted tree ensemble.
package explain

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/loanrisk/core/model"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
	"github.com/YuminosukeSato/loanrisk/pkg/log"
	"github.com/YuminosukeSato/loanrisk/preprocessing"
	"github.com/YuminosukeSato/loanrisk/sklearn/ensemble"
)

// TreeModel is a model TreeSHAP can walk.
type TreeModel interface {
	SHAP(X mat.Matrix) (*ensemble.SHAPValues, error)
	DecisionFunction(X mat.Matrix) (*mat.VecDense, error)
}

// Explainer computes attributions for feature matrices produced by the
// preprocessor with the given fingerprint.
type Explainer struct {
	model       TreeModel
	fingerprint string
}

// NewExplainer wraps a fitted tree model. Models TreeSHAP cannot walk, such
// as the logistic baseline, are rejected with a ValidationError.
func NewExplainer(m model.Classifier, fingerprint string) (*Explainer, error) {
	tm, ok := m.(TreeModel)
	if !ok {
		return nil, errors.NewValidationError("model", "TreeSHAP requires a tree ensemble", fmt.Sprintf("%T", m))
	}
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError(fmt.Sprintf("%T", m), "Explain")
	}
	return &Explainer{model: tm, fingerprint: fingerprint}, nil
}

// Explain attributes every row of fm. fm must come from the preprocessor the
// model was trained against; any other fingerprint is a SchemaError.
func (e *Explainer) Explain(fm *preprocessing.FeatureMatrix) (*ExplanationSet, error) {
	if fm == nil || fm.X == nil {
		return nil, errors.NewValueError("Explain", "feature matrix is nil")
	}
	if fm.Fingerprint != e.fingerprint {
		return nil, errors.NewSchemaError("Explain", "fingerprint",
			fmt.Sprintf("feature matrix from preprocessor %q, model trained against %q", fm.Fingerprint, e.fingerprint))
	}
	start := time.Now()

	sv, err := e.model.SHAP(fm.X)
	if err != nil {
		return nil, err
	}
	raw, err := e.model.DecisionFunction(fm.X)
	if err != nil {
		return nil, err
	}

	set := &ExplanationSet{
		Values:       sv.Values,
		BaseValue:    sv.BaseValue,
		RawOutput:    raw.RawVector().Data,
		FeatureNames: append([]string(nil), fm.Names...),
		Inputs:       fm.X,
	}
	rows, cols := fm.Dims()
	log.GetLoggerWithName("explain").Debug("TreeSHAP computed",
		log.OperationKey, log.OperationExplain,
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
		log.FingerprintKey, e.fingerprint,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return set, nil
}

// Attribution is one feature's contribution to the log-odds of a row.
type Attribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`           // SHAP value
	Input   float64 `json:"input,omitempty"` // Transformed feature value
}

// ExplanationSet holds the SHAP values of a batch.
type ExplanationSet struct {
	Values       *mat.Dense // rows x features
	BaseValue    float64
	RawOutput    []float64 // model margin per row
	FeatureNames []string
	Inputs       *mat.Dense
}

// Len returns the number of explained rows.
func (s *ExplanationSet) Len() int { return len(s.RawOutput) }

// Probability returns the predicted default probability of row i.
func (s *ExplanationSet) Probability(i int) float64 {
	return errors.Sigmoid(s.RawOutput[i])
}

// Row returns the attributions of row i, largest magnitude first.
func (s *ExplanationSet) Row(i int) []Attribution {
	_, cols := s.Values.Dims()
	out := make([]Attribution, cols)
	for j := range out {
		out[j] = Attribution{Feature: s.FeatureNames[j], Value: s.Values.At(i, j)}
		if s.Inputs != nil {
			out[j].Input = s.Inputs.At(i, j)
		}
	}
	sortByMagnitude(out)
	return out
}

// MeanAbs returns the mean |SHAP| of each feature over the batch, the usual
// global importance, largest first.
func (s *ExplanationSet) MeanAbs() []Attribution {
	rows, cols := s.Values.Dims()
	out := make([]Attribution, cols)
	for j := range out {
		var sum float64
		for i := 0; i < rows; i++ {
			sum += math.Abs(s.Values.At(i, j))
		}
		if rows > 0 {
			sum /= float64(rows)
		}
		out[j] = Attribution{Feature: s.FeatureNames[j], Value: sum}
	}
	sortByMagnitude(out)
	return out
}

// CheckAdditivity verifies BaseValue + Σ row == RawOutput for every row.
func (s *ExplanationSet) CheckAdditivity(tol float64) error {
	for i := range s.RawOutput {
		sum := s.BaseValue + floats.Sum(s.Values.RawRowView(i))
		if diff := math.Abs(sum - s.RawOutput[i]); diff > tol || math.IsNaN(diff) {
			return errors.NewValueError("CheckAdditivity",
				fmt.Sprintf("row %d: base+attributions=%g, margin=%g", i, sum, s.RawOutput[i]))
		}
	}
	return nil
}

// Top returns at most k attributions.
func Top(attrs []Attribution, k int) []Attribution {
	if k >= 0 && k < len(attrs) {
		return attrs[:k]
	}
	return attrs
}

func sortByMagnitude(attrs []Attribution) {
	sort.SliceStable(attrs, func(a, b int) bool {
		return math.Abs(attrs[a].Value) > math.Abs(attrs[b].Value)
	})
}
