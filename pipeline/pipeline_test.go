package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/loanrisk/core/model"
	"github.com/YuminosukeSato/loanrisk/data"
	"github.com/YuminosukeSato/loanrisk/internal/config"
	"github.com/YuminosukeSato/loanrisk/internal/telemetry"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
	"github.com/YuminosukeSato/loanrisk/sklearn/ensemble"
	"github.com/YuminosukeSato/loanrisk/sklearn/linear_model"
	"github.com/YuminosukeSato/loanrisk/sklearn/model_selection"
)

func writeLoans(t *testing.T, records [][]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loans.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, data.WriteCSV(f, records))
	return path
}

func syntheticLoans(t *testing.T) string {
	t.Helper()
	records, err := data.GenerateLoans(data.SyntheticOptions{Rows: 1000, Seed: 42, MissingRate: 0.02})
	require.NoError(t, err)
	return writeLoans(t, records)
}

func testOptions(t *testing.T, dataPath, mode string) Options {
	t.Helper()
	opts := FromConfig(config.Default())
	opts.DataPath = dataPath
	opts.ModelDir = t.TempDir()
	opts.Mode = mode
	opts.CVFolds = 3
	opts.ExplainRows = 50
	opts.Grid = model_selection.ParamGrid{
		"n_estimators": {20},
		"max_depth":    {2, 3},
	}
	return opts
}

func TestRunSearch(t *testing.T) {
	path := syntheticLoans(t)
	rec := telemetry.NewRecorder()
	opts := testOptions(t, path, config.ModeSearch)
	opts.Recorder = rec

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 1000, res.Rows)
	assert.Len(t, res.Split.Test, 200)
	assert.Len(t, res.Split.Train, 800)
	assert.Nil(t, res.Baseline)
	assert.Equal(t, ModelSearch, res.ModelName)
	require.Len(t, res.Search.Results, 2)
	_, ok := res.Model.(*ensemble.GradientBoostingClassifier)
	assert.True(t, ok)

	ev := res.Evaluations[ModelSearch]
	require.NotNil(t, ev)
	assert.Equal(t, 200, ev.N)
	assert.Greater(t, ev.ROCAUC, 0.5)
	assert.NotContains(t, res.Evaluations, ModelBaseline)

	require.NotNil(t, res.Explanation)
	assert.Equal(t, 50, res.Explanation.Len())
	assert.NoError(t, res.Explanation.CheckAdditivity(AdditivityTolerance))

	for _, p := range []string{res.PreprocessorPath, res.ModelPath} {
		_, header, err := model.LoadArtifact(p)
		require.NoError(t, err)
		assert.Equal(t, res.Fingerprint, header.Fingerprint)
	}

	expected := `
# HELP loanrisk_rows Number of rows per data subset.
# TYPE loanrisk_rows gauge
loanrisk_rows{subset="explained"} 50
loanrisk_rows{subset="loaded"} 1000
loanrisk_rows{subset="test"} 200
loanrisk_rows{subset="train"} 800
`
	assert.NoError(t, testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "loanrisk_rows"))
	n, err := testutil.GatherAndCount(rec.Registry(), "loanrisk_stage_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 7, n, "every stage except the skipped baseline is timed")
}

func TestRunBothPersistsSearchWinner(t *testing.T) {
	path := syntheticLoans(t)
	res, err := Run(context.Background(), testOptions(t, path, config.ModeBoth))
	require.NoError(t, err)

	require.NotNil(t, res.Baseline)
	require.NotNil(t, res.Search)
	assert.Equal(t, ModelSearch, res.ModelName)
	assert.Contains(t, res.Evaluations, ModelBaseline)
	assert.Contains(t, res.Evaluations, ModelSearch)
	assert.Greater(t, res.Evaluations[ModelBaseline].ROCAUC, 0.5)

	loaded, header, err := model.LoadArtifact(res.ModelPath)
	require.NoError(t, err)
	assert.Equal(t, ensemble.GradientBoostingType, header.Type)
	assert.Equal(t, res.Search.BestParams["max_depth"], loaded.(*ensemble.GradientBoostingClassifier).MaxDepth)
}

func TestRunBaselineSkipsExplanation(t *testing.T) {
	path := syntheticLoans(t)
	res, err := Run(context.Background(), testOptions(t, path, config.ModeBaseline))
	require.NoError(t, err)

	assert.Nil(t, res.Search)
	assert.Nil(t, res.Explanation)
	assert.Equal(t, ModelBaseline, res.ModelName)
	_, ok := res.Model.(*linear_model.LogisticRegression)
	assert.True(t, ok)

	_, header, err := model.LoadArtifact(res.ModelPath)
	require.NoError(t, err)
	assert.Equal(t, linear_model.LogisticRegressionType, header.Type)
}

func TestRunIsReproducible(t *testing.T) {
	path := syntheticLoans(t)
	a, err := Run(context.Background(), testOptions(t, path, config.ModeSearch))
	require.NoError(t, err)
	b, err := Run(context.Background(), testOptions(t, path, config.ModeSearch))
	require.NoError(t, err)

	assert.Equal(t, a.Split, b.Split)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.Equal(t, a.Search.BestParams, b.Search.BestParams)
	assert.Equal(t, a.Evaluations[ModelSearch].ROCAUC, b.Evaluations[ModelSearch].ROCAUC)
	assert.Equal(t, a.Explanation.Values.RawMatrix().Data, b.Explanation.Values.RawMatrix().Data)
}

func TestRunErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		opts := testOptions(t, filepath.Join(t.TempDir(), "absent.csv"), config.ModeSearch)
		_, err := Run(context.Background(), opts)
		var nf *errors.NotFoundError
		require.True(t, errors.As(err, &nf))
		assert.Contains(t, err.Error(), "stage load")
	})

	t.Run("missing column", func(t *testing.T) {
		records, err := data.GenerateLoans(data.SyntheticOptions{Rows: 100, Seed: 1})
		require.NoError(t, err)
		drop := -1
		for j, name := range records[0] {
			if name == "Income" {
				drop = j
			}
		}
		require.GreaterOrEqual(t, drop, 0)
		for i, row := range records {
			records[i] = append(append([]string(nil), row[:drop]...), row[drop+1:]...)
		}
		_, err = Run(context.Background(), testOptions(t, writeLoans(t, records), config.ModeSearch))
		var se *errors.SchemaError
		assert.True(t, errors.As(err, &se))
	})

	t.Run("invalid options", func(t *testing.T) {
		opts := testOptions(t, "loans.csv", config.ModeSearch)
		opts.TestSize = 1.5
		_, err := Run(context.Background(), opts)
		var ve *errors.ValidationError
		assert.True(t, errors.As(err, &ve))
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Run(ctx, testOptions(t, syntheticLoans(t), config.ModeSearch))
		assert.True(t, errors.Is(err, context.Canceled))
	})
}
