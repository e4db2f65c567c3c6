package scoring

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/loanrisk/core/model"
	"github.com/YuminosukeSato/loanrisk/data"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
	"github.com/YuminosukeSato/loanrisk/preprocessing"
	"github.com/YuminosukeSato/loanrisk/sklearn/ensemble"
	"github.com/YuminosukeSato/loanrisk/sklearn/linear_model"
)

type artifacts struct {
	dir          string
	prePath      string
	modelPath    string
	ds           *data.Dataset
	records      [][]string
	preprocessor *preprocessing.Preprocessor
	model        model.Classifier
}

func loans(t *testing.T, rows int, seed uint64) ([][]string, *data.Dataset) {
	t.Helper()
	records, err := data.GenerateLoans(data.SyntheticOptions{Rows: rows, Seed: seed, MissingRate: 0.05})
	require.NoError(t, err)
	ds, err := data.FromRecords(records[0], records[1:])
	require.NoError(t, err)
	return records, ds
}

// train fits a preprocessor and clf on synthetic loans and saves both.
func train(t *testing.T, clf model.Classifier) *artifacts {
	t.Helper()
	records, ds := loans(t, 400, 42)
	pre := preprocessing.NewPreprocessor(preprocessing.DefaultConfig())
	fm, err := pre.FitTransform(ds)
	require.NoError(t, err)
	labels, err := ds.Labels(data.LabelColumn)
	require.NoError(t, err)
	require.NoError(t, clf.Fit(fm.X, mat.NewVecDense(len(labels), labels)))

	dir := t.TempDir()
	a := &artifacts{
		dir:          dir,
		prePath:      filepath.Join(dir, "preprocessor.lrsk"),
		modelPath:    filepath.Join(dir, "model.lrsk"),
		ds:           ds,
		records:      records,
		preprocessor: pre,
		model:        clf,
	}
	require.NoError(t, pre.Save(a.prePath))
	require.NoError(t, model.SaveArtifact(a.modelPath, clf.(model.Artifact),
		model.ArtifactMeta{Fingerprint: pre.Fingerprint(), FeatureNames: pre.FeatureNames()}))
	return a
}

func TestScoreMatchesModel(t *testing.T) {
	a := train(t, ensemble.NewGradientBoostingClassifier(ensemble.WithNEstimators(20)))
	s, err := Load(a.prePath, a.modelPath)
	require.NoError(t, err)
	assert.Equal(t, ensemble.GradientBoostingType, s.ModelType())
	assert.Equal(t, a.preprocessor.Fingerprint(), s.Fingerprint())

	preds, err := s.Score(a.ds)
	require.NoError(t, err)
	require.Len(t, preds, 400)

	fm, err := a.preprocessor.Transform(a.ds)
	require.NoError(t, err)
	proba, err := a.model.PredictProba(fm.X)
	require.NoError(t, err)
	for i, p := range preds {
		assert.Equal(t, i, p.Row)
		assert.Equal(t, proba.At(i, 1), p.Probability)
		assert.Equal(t, p.Probability > 0.5, p.HighRisk)
	}

	// the label column is optional
	unlabeled, err := a.ds.DropColumn(data.LabelColumn)
	require.NoError(t, err)
	again, err := s.Score(unlabeled)
	require.NoError(t, err)
	assert.Equal(t, preds, again)
}

func TestScoreRecord(t *testing.T) {
	a := train(t, ensemble.NewGradientBoostingClassifier(ensemble.WithNEstimators(10)))
	s, err := Load(a.prePath, a.modelPath)
	require.NoError(t, err)

	preds, err := s.Score(a.ds)
	require.NoError(t, err)

	header, first := a.records[0], a.records[1]
	record := make(map[string]string, len(header))
	for j, col := range header {
		record[col] = first[j]
	}
	record["Unrelated"] = "ignored"
	p, err := s.ScoreRecord(record)
	require.NoError(t, err)
	assert.InDelta(t, preds[0].Probability, p.Probability, 1e-12)
	assert.Equal(t, 0, p.Row)

	// a sparse record is imputed, not rejected
	sparse, err := s.ScoreRecord(map[string]string{"Age": "35", "Education": "PhD"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sparse.Probability, 0.0)
	assert.LessOrEqual(t, sparse.Probability, 1.0)
}

func TestHighRiskIsStrict(t *testing.T) {
	assert.False(t, IsHighRisk(0.5))
	assert.True(t, IsHighRisk(0.5000001))
	assert.False(t, IsHighRisk(0.1))
}

func TestLoadErrors(t *testing.T) {
	a := train(t, ensemble.NewGradientBoostingClassifier(ensemble.WithNEstimators(5)))

	var nf *errors.NotFoundError
	_, err := Load(filepath.Join(a.dir, "absent.lrsk"), a.modelPath)
	assert.True(t, errors.As(err, &nf))
	_, err = Load(a.prePath, filepath.Join(a.dir, "absent.lrsk"))
	assert.True(t, errors.As(err, &nf))

	// a path below a regular file exists as neither, but is not "not found"
	_, err = Load(filepath.Join(a.prePath, "child.lrsk"), a.modelPath)
	require.Error(t, err)
	assert.False(t, errors.As(err, &nf), "got %v", err)

	var ae *errors.ArtifactError
	_, err = Load(a.prePath, a.prePath)
	assert.True(t, errors.As(err, &ae))
	_, err = Load(a.modelPath, a.modelPath)
	assert.True(t, errors.As(err, &ae))

	// a preprocessor fitted on other data has another fingerprint
	_, other := loans(t, 300, 7)
	pre := preprocessing.NewPreprocessor(preprocessing.DefaultConfig())
	require.NoError(t, pre.Fit(other))
	otherPath := filepath.Join(a.dir, "other.lrsk")
	require.NoError(t, pre.Save(otherPath))
	require.NotEqual(t, a.preprocessor.Fingerprint(), pre.Fingerprint())

	var se *errors.SchemaError
	_, err = Load(otherPath, a.modelPath)
	assert.True(t, errors.As(err, &se))
}

func TestPredictProbabilityChecksFingerprint(t *testing.T) {
	a := train(t, ensemble.NewGradientBoostingClassifier(ensemble.WithNEstimators(5)))
	s, err := Load(a.prePath, a.modelPath)
	require.NoError(t, err)

	fm, err := s.Transform(a.ds)
	require.NoError(t, err)
	fm.Fingerprint = "stale"
	_, err = s.PredictProbability(fm)
	var se *errors.SchemaError
	assert.True(t, errors.As(err, &se))
}

func TestExplain(t *testing.T) {
	a := train(t, ensemble.NewGradientBoostingClassifier(ensemble.WithNEstimators(15)))
	s, err := Load(a.prePath, a.modelPath)
	require.NoError(t, err)

	set, err := s.Explain(a.ds)
	require.NoError(t, err)
	assert.Equal(t, 400, set.Len())
	assert.NoError(t, set.CheckAdditivity(1e-9))

	preds, err := s.Score(a.ds)
	require.NoError(t, err)
	assert.InDelta(t, preds[3].Probability, set.Probability(3), 1e-12)
}

func TestExplainRejectsLinearModel(t *testing.T) {
	a := train(t, linear_model.NewLogisticRegression())
	s, err := Load(a.prePath, a.modelPath)
	require.NoError(t, err)

	_, err = s.Score(a.ds)
	require.NoError(t, err)
	_, err = s.Explain(a.ds)
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestScorerConcurrentUse(t *testing.T) {
	a := train(t, ensemble.NewGradientBoostingClassifier(ensemble.WithNEstimators(10)))
	s, err := Load(a.prePath, a.modelPath)
	require.NoError(t, err)
	want, err := s.Score(a.ds)
	require.NoError(t, err)

	g, _ := errgroup.WithContext(context.Background())
	results := make([][]Prediction, 8)
	for i := range results {
		g.Go(func() error {
			var err error
			results[i], err = s.Score(a.ds)
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, got := range results {
		assert.Equal(t, want, got)
	}
}
