// Package scoring loads a persisted preprocessor and model pair and scores
// new loan applications with them.
package scoring

import (
	"fmt"
	"os"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/loanrisk/core/model"
	"github.com/YuminosukeSato/loanrisk/data"
	"github.com/YuminosukeSato/loanrisk/explain"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
	"github.com/YuminosukeSato/loanrisk/pkg/log"
	"github.com/YuminosukeSato/loanrisk/preprocessing"
)

// HighRiskThreshold: a probability strictly above it flags the loan.
const HighRiskThreshold = 0.5

// IsHighRisk applies HighRiskThreshold.
func IsHighRisk(p float64) bool { return p > HighRiskThreshold }

// Prediction is the score of one input row.
type Prediction struct {
	Row         int     `json:"row"`
	Probability float64 `json:"probability"`
	HighRisk    bool    `json:"high_risk"`
}

// Scorer pairs a fitted preprocessor with the model trained on its output.
// It is immutable after Load and safe for concurrent use.
type Scorer struct {
	pre         *preprocessing.Preprocessor
	clf         model.Classifier
	modelType   string
	fingerprint string
	explainer   *explain.Explainer
}

// Load reads both artifacts. Either file missing is a NotFoundError, an
// artifact of the wrong kind is an ArtifactError and a model trained against
// a different preprocessor is a SchemaError.
func Load(preprocessorPath, modelPath string) (*Scorer, error) {
	for _, f := range []struct{ what, path string }{
		{"preprocessor artifact", preprocessorPath},
		{"model artifact", modelPath},
	} {
		if _, err := os.Stat(f.path); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.NewNotFoundError(f.what, f.path)
			}
			return nil, errors.Wrapf(err, "stat %s", f.what)
		}
	}

	pre, err := preprocessing.LoadPreprocessor(preprocessorPath)
	if err != nil {
		return nil, err
	}
	a, header, err := model.LoadArtifact(modelPath)
	if err != nil {
		return nil, err
	}
	if header.Kind != model.KindModel {
		return nil, errors.NewArtifactError(modelPath, fmt.Sprintf("expected a model, found %s %s", header.Kind, header.Type))
	}
	clf, ok := a.(model.Classifier)
	if !ok {
		return nil, errors.NewArtifactError(modelPath, fmt.Sprintf("%s is not a classifier", header.Type))
	}
	if header.Fingerprint != pre.Fingerprint() {
		return nil, errors.NewSchemaError("scoring.Load", "fingerprint",
			fmt.Sprintf("model was trained against preprocessor %q, loaded preprocessor is %q", header.Fingerprint, pre.Fingerprint()))
	}
	if len(header.FeatureNames) > 0 && !slices.Equal(header.FeatureNames, pre.FeatureNames()) {
		return nil, errors.NewSchemaError("scoring.Load", "feature_names", "model features differ from preprocessor output")
	}

	s := &Scorer{pre: pre, clf: clf, modelType: header.Type, fingerprint: header.Fingerprint}
	if ex, err := explain.NewExplainer(clf, s.fingerprint); err == nil {
		s.explainer = ex
	}
	log.GetLoggerWithName("scoring").Info("Artifacts loaded",
		log.OperationKey, log.OperationLoad,
		log.ModelNameKey, header.Type,
		log.FingerprintKey, s.fingerprint,
		log.FeaturesKey, len(pre.FeatureNames()),
	)
	return s, nil
}

// ModelType is the registered type name of the loaded model.
func (s *Scorer) ModelType() string { return s.modelType }

// Fingerprint identifies the preprocessor both artifacts share.
func (s *Scorer) Fingerprint() string { return s.fingerprint }

// Schema describes the input columns the scorer expects.
func (s *Scorer) Schema() (*preprocessing.Schema, error) { return s.pre.Schema() }

// Transform encodes ds, dropping the label column if it is present.
func (s *Scorer) Transform(ds *data.Dataset) (*preprocessing.FeatureMatrix, error) {
	if ds == nil {
		return nil, errors.Wrap(errors.ErrEmptyData, "scoring.Transform")
	}
	if label := s.pre.Config.Label; label != "" && ds.HasColumn(label) {
		var err error
		if ds, err = ds.DropColumn(label); err != nil {
			return nil, err
		}
	}
	return s.pre.Transform(ds)
}

// PredictProbability returns P(default) for every row of fm.
func (s *Scorer) PredictProbability(fm *preprocessing.FeatureMatrix) ([]float64, error) {
	if fm == nil || fm.X == nil {
		return nil, errors.NewValueError("PredictProbability", "feature matrix is nil")
	}
	if fm.Fingerprint != s.fingerprint {
		return nil, errors.NewSchemaError("PredictProbability", "fingerprint",
			fmt.Sprintf("feature matrix from preprocessor %q, model expects %q", fm.Fingerprint, s.fingerprint))
	}
	proba, err := s.clf.PredictProba(fm.X)
	if err != nil {
		return nil, err
	}
	return mat.Col(nil, 1, proba), nil
}

// Score transforms and scores every row of ds.
func (s *Scorer) Score(ds *data.Dataset) ([]Prediction, error) {
	fm, err := s.Transform(ds)
	if err != nil {
		return nil, err
	}
	proba, err := s.PredictProbability(fm)
	if err != nil {
		return nil, err
	}
	out := make([]Prediction, len(proba))
	for i, p := range proba {
		out[i] = Prediction{Row: i, Probability: p, HighRisk: IsHighRisk(p)}
	}
	return out, nil
}

// ScoreRecord scores a single application given as column -> raw value.
// Absent columns are treated as missing; unknown keys are ignored.
func (s *Scorer) ScoreRecord(record map[string]string) (Prediction, error) {
	header := s.pre.InputColumns()
	row := make([]string, len(header))
	for j, col := range header {
		row[j] = record[col]
	}
	ds, err := data.FromRecords(header, [][]string{row})
	if err != nil {
		return Prediction{}, err
	}
	preds, err := s.Score(ds)
	if err != nil {
		return Prediction{}, err
	}
	return preds[0], nil
}

// Explain returns TreeSHAP attributions for ds. Only tree models can be
// explained; other models give a ValidationError.
func (s *Scorer) Explain(ds *data.Dataset) (*explain.ExplanationSet, error) {
	if s.explainer == nil {
		return nil, errors.NewValidationError("model", "TreeSHAP requires a tree ensemble", s.modelType)
	}
	fm, err := s.Transform(ds)
	if err != nil {
		return nil, err
	}
	return s.explainer.Explain(fm)
}
