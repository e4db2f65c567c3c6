// Package pipeline runs the training workflow end to end: load, split,
// preprocess, train, persist, evaluate and explain.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/loanrisk/core/model"
	"github.com/YuminosukeSato/loanrisk/data"
	"github.com/YuminosukeSato/loanrisk/explain"
	"github.com/YuminosukeSato/loanrisk/internal/config"
	"github.com/YuminosukeSato/loanrisk/internal/telemetry"
	"github.com/YuminosukeSato/loanrisk/metrics"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
	"github.com/YuminosukeSato/loanrisk/pkg/log"
	"github.com/YuminosukeSato/loanrisk/preprocessing"
	"github.com/YuminosukeSato/loanrisk/sklearn/ensemble"
	"github.com/YuminosukeSato/loanrisk/sklearn/linear_model"
	"github.com/YuminosukeSato/loanrisk/sklearn/model_selection"
)

// Stage names, used in logs, metrics and wrapped errors.
const (
	StageLoad       = "load"
	StageSplit      = "split"
	StagePreprocess = "preprocess"
	StageBaseline   = "train_baseline"
	StageSearch     = "search"
	StagePersist    = "persist"
	StageEvaluate   = "evaluate"
	StageExplain    = "explain"
)

// Model names in Result.Evaluations and telemetry labels.
const (
	ModelBaseline = "baseline"
	ModelSearch   = "search"
)

// DecisionThreshold turns probabilities into labels for the report.
const DecisionThreshold = 0.5

// AdditivityTolerance bounds |base + Σ SHAP - margin| for every explained row.
const AdditivityTolerance = 1e-6

// DefaultGrid is the hyperparameter grid of the gradient-boosted search.
func DefaultGrid() model_selection.ParamGrid {
	return model_selection.ParamGrid{
		"n_estimators":  {100, 200},
		"max_depth":     {3, 5},
		"learning_rate": {0.01, 0.1},
	}
}

// Options configures Run.
type Options struct {
	DataPath    string
	ModelDir    string
	Label       string
	TestSize    float64
	Seed        uint64
	CVFolds     int
	Mode        string
	NJobs       int
	ExplainRows int

	// Grid defaults to DefaultGrid.
	Grid model_selection.ParamGrid
	// Preprocess defaults to preprocessing.DefaultConfig with Label applied.
	Preprocess *preprocessing.ColumnTransformerConfig
	// Recorder defaults to a fresh telemetry.Recorder.
	Recorder *telemetry.Recorder
}

// FromConfig maps a validated run configuration onto Options.
func FromConfig(cfg *config.Config) Options {
	return Options{
		DataPath:    cfg.DataPath,
		ModelDir:    cfg.ModelDir,
		Label:       cfg.LabelColumn,
		TestSize:    cfg.TestSize,
		Seed:        cfg.Seed,
		CVFolds:     cfg.CVFolds,
		Mode:        cfg.Mode,
		NJobs:       cfg.NJobs,
		ExplainRows: cfg.ExplainRows,
	}
}

func (o *Options) config() *config.Config {
	return &config.Config{
		DataPath:    o.DataPath,
		ModelDir:    o.ModelDir,
		LabelColumn: o.Label,
		TestSize:    o.TestSize,
		Seed:        o.Seed,
		CVFolds:     o.CVFolds,
		Mode:        o.Mode,
		NJobs:       o.NJobs,
		ExplainRows: o.ExplainRows,
		LogLevel:    "info",
		LogFormat:   "json",
	}
}

// Result is everything a run produced.
type Result struct {
	Rows    int
	Skipped int
	Split   model_selection.Split

	Preprocessor *preprocessing.Preprocessor
	Baseline     *linear_model.LogisticRegression
	Search       *model_selection.GridSearchCV

	// Model is the persisted model: the search winner unless Mode is baseline.
	Model     model.Classifier
	ModelName string

	Evaluations map[string]*metrics.Evaluation
	Explanation *explain.ExplanationSet

	Fingerprint      string
	PreprocessorPath string
	ModelPath        string

	Recorder *telemetry.Recorder
}

type run struct {
	opts   Options
	rec    *telemetry.Recorder
	logger log.Logger
	res    *Result

	ds      *data.Dataset
	labels  []float64
	trainFM *preprocessing.FeatureMatrix
	testFM  *preprocessing.FeatureMatrix
	yTrain  []float64
	yTest   []float64
}

// Run executes every stage in order. The first failing stage aborts the run
// and its error is wrapped with the stage name.
func Run(ctx context.Context, opts Options) (*Result, error) {
	cfg := opts.config()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Grid == nil {
		opts.Grid = DefaultGrid()
	}
	if opts.Recorder == nil {
		opts.Recorder = telemetry.NewRecorder()
	}
	r := &run{
		opts:   opts,
		rec:    opts.Recorder,
		logger: log.GetLoggerWithName("pipeline"),
		res: &Result{
			Evaluations:      make(map[string]*metrics.Evaluation),
			PreprocessorPath: cfg.PreprocessorPath(),
			ModelPath:        cfg.ModelPath(),
			Recorder:         opts.Recorder,
		},
	}

	stages := []struct {
		name string
		fn   func(context.Context) error
		skip bool
	}{
		{StageLoad, r.load, false},
		{StageSplit, r.split, false},
		{StagePreprocess, r.preprocess, false},
		{StageBaseline, r.trainBaseline, opts.Mode == config.ModeSearch},
		{StageSearch, r.search, opts.Mode == config.ModeBaseline},
		{StagePersist, r.persist, false},
		{StageEvaluate, r.evaluate, false},
		{StageExplain, r.explain, opts.ExplainRows == 0},
	}

	start := time.Now()
	r.logger.Info("Pipeline started",
		"mode", opts.Mode,
		log.PathKey, opts.DataPath,
		log.RandomSeedKey, opts.Seed,
	)
	for _, s := range stages {
		if s.skip {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "pipeline: stage %s", s.name)
		}
		if err := r.stage(ctx, s.name, s.fn); err != nil {
			return nil, err
		}
	}
	r.logger.Info("Pipeline finished",
		log.ModelNameKey, r.res.ModelName,
		log.FingerprintKey, r.res.Fingerprint,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return r.res, nil
}

func (r *run) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	r.logger.Debug("Stage started", log.PhaseKey, name)
	done := r.rec.Stage(name)
	err := fn(ctx)
	d := done()
	if err != nil {
		r.logger.Error("Stage failed", log.PhaseKey, name, log.ErrorKey, err)
		return errors.Wrapf(err, "pipeline: stage %s", name)
	}
	r.logger.Info("Stage finished", log.PhaseKey, name, log.DurationMsKey, d.Milliseconds())
	return nil
}

func (r *run) preprocessConfig() preprocessing.ColumnTransformerConfig {
	if r.opts.Preprocess != nil {
		return *r.opts.Preprocess
	}
	cfg := preprocessing.DefaultConfig()
	cfg.Label = r.opts.Label
	return cfg
}

func (r *run) load(context.Context) error {
	ds, err := data.Load(r.opts.DataPath)
	if err != nil {
		return err
	}
	pcfg := r.preprocessConfig()
	required := append([]string{r.opts.Label}, pcfg.Numeric...)
	if err := ds.RequireColumns("pipeline.load", append(required, pcfg.Categorical...)...); err != nil {
		return err
	}
	labels, err := ds.Labels(r.opts.Label)
	if err != nil {
		return err
	}
	r.ds, r.labels = ds, labels
	r.res.Rows, r.res.Skipped = ds.Len(), ds.Skipped()
	r.rec.SetRows("loaded", ds.Len())
	r.rec.AddSkipped(ds.Skipped())
	return nil
}

func (r *run) split(context.Context) error {
	s, err := model_selection.TrainTestSplit(r.labels, r.opts.TestSize, r.opts.Seed)
	if err != nil {
		return err
	}
	r.res.Split = s
	r.rec.SetRows("train", len(s.Train))
	r.rec.SetRows("test", len(s.Test))
	return nil
}

func (r *run) preprocess(context.Context) error {
	train, err := r.ds.Subset(r.res.Split.Train)
	if err != nil {
		return err
	}
	test, err := r.ds.Subset(r.res.Split.Test)
	if err != nil {
		return err
	}

	pre := preprocessing.NewPreprocessor(r.preprocessConfig())
	if r.trainFM, err = pre.FitTransform(train); err != nil {
		return err
	}
	if r.testFM, err = pre.Transform(test); err != nil {
		return err
	}
	r.yTrain = pick(r.labels, r.res.Split.Train)
	r.yTest = pick(r.labels, r.res.Split.Test)
	r.res.Preprocessor = pre
	r.res.Fingerprint = pre.Fingerprint()
	r.ds = nil
	return nil
}

func (r *run) trainBaseline(context.Context) error {
	lr := linear_model.NewLogisticRegression(linear_model.WithLRMaxIter(1000))
	if err := lr.Fit(r.trainFM.X, mat.NewVecDense(len(r.yTrain), r.yTrain)); err != nil {
		return err
	}
	r.res.Baseline = lr
	if r.res.Model == nil {
		r.res.Model, r.res.ModelName = lr, ModelBaseline
	}
	return nil
}

func (r *run) search(ctx context.Context) error {
	gs := model_selection.NewGridSearchCV(ensemble.NewGradientBoostingClassifier(), r.opts.Grid,
		model_selection.WithCV(model_selection.NewStratifiedKFold(r.opts.CVFolds, false, 0)),
		model_selection.WithNJobs(r.opts.NJobs),
	)
	if err := gs.Fit(ctx, r.trainFM.X, r.yTrain); err != nil {
		return err
	}
	for i, c := range gs.Results {
		r.rec.SetCandidateScore(i, c.MeanScore)
	}
	r.logger.Info("Search winner selected",
		log.HyperParamsKey, gs.BestParams,
		log.ScoreKey, gs.BestScore,
		log.CandidateKey, gs.BestIndex,
	)
	r.res.Search = gs
	r.res.Model, r.res.ModelName = gs.BestEstimator, ModelSearch
	return nil
}

func (r *run) persist(context.Context) error {
	a, ok := r.res.Model.(model.Artifact)
	if !ok {
		return errors.NewValidationError("model", "is not persistable", fmt.Sprintf("%T", r.res.Model))
	}
	if err := r.res.Preprocessor.Save(r.res.PreprocessorPath); err != nil {
		return err
	}
	meta := model.ArtifactMeta{Fingerprint: r.res.Fingerprint, FeatureNames: r.trainFM.Names}
	if err := model.SaveArtifact(r.res.ModelPath, a, meta); err != nil {
		return err
	}
	r.logger.Info("Artifacts written",
		log.OperationKey, log.OperationSave,
		"preprocessor", r.res.PreprocessorPath,
		"model", r.res.ModelPath,
		log.FingerprintKey, r.res.Fingerprint,
	)
	return nil
}

type namedModel struct {
	name string
	clf  model.Classifier
}

func (r *run) evaluate(context.Context) error {
	var models []namedModel
	if r.res.Baseline != nil {
		models = append(models, namedModel{ModelBaseline, r.res.Baseline})
	}
	if r.res.Search != nil {
		models = append(models, namedModel{ModelSearch, r.res.Search.BestEstimator})
	}
	for _, m := range models {
		proba, err := m.clf.PredictProba(r.testFM.X)
		if err != nil {
			return errors.Wrapf(err, "predict %s", m.name)
		}
		ev, err := metrics.Evaluate(r.yTest, mat.Col(nil, 1, proba), DecisionThreshold)
		if err != nil {
			return errors.Wrapf(err, "evaluate %s", m.name)
		}
		r.res.Evaluations[m.name] = ev
		r.rec.SetEvaluation(m.name, "roc_auc", ev.ROCAUC)
		r.rec.SetEvaluation(m.name, "pr_auc", ev.PRAUC)
		r.rec.SetEvaluation(m.name, "average_precision", ev.AveragePrecision)
		r.rec.SetEvaluation(m.name, "log_loss", ev.LogLoss)
		r.rec.SetEvaluation(m.name, "brier", ev.Brier)
		r.rec.SetEvaluation(m.name, "accuracy", ev.Accuracy)
		r.logger.Info("Model evaluated",
			log.ModelNameKey, m.name,
			log.AUCKey, ev.ROCAUC,
			log.PRAUCKey, ev.PRAUC,
			log.AccuracyKey, ev.Accuracy,
			log.SamplesKey, ev.N,
		)
	}
	return nil
}

func (r *run) explain(context.Context) error {
	ex, err := explain.NewExplainer(r.res.Model, r.res.Fingerprint)
	if err != nil {
		var ve *errors.ValidationError
		if errors.As(err, &ve) {
			r.logger.Info("Explanation skipped", log.ModelNameKey, r.res.ModelName, "reason", ve.Reason)
			return nil
		}
		return err
	}
	n, cols := r.trainFM.Dims()
	n = min(n, r.opts.ExplainRows)
	fm := &preprocessing.FeatureMatrix{
		X:           mat.DenseCopyOf(r.trainFM.X.Slice(0, n, 0, cols)),
		Names:       r.trainFM.Names,
		Fingerprint: r.trainFM.Fingerprint,
	}
	set, err := ex.Explain(fm)
	if err != nil {
		return err
	}
	if err := set.CheckAdditivity(AdditivityTolerance); err != nil {
		return err
	}
	r.res.Explanation = set
	r.rec.SetRows("explained", n)
	return nil
}

func pick(values []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for k, i := range idx {
		out[k] = values[i]
	}
	return out
}
