package model_selection

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/loanrisk/core/model"
	"github.com/YuminosukeSato/loanrisk/core/parallel"
	"github.com/YuminosukeSato/loanrisk/metrics"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
	"github.com/YuminosukeSato/loanrisk/pkg/log"
)

// ParamGrid maps a hyperparameter name to the values to try.
type ParamGrid map[string][]interface{}

// Candidates expands the grid into parameter sets. Keys are visited in sorted
// order and the last key varies fastest, so candidate order is stable.
func (g ParamGrid) Candidates() []map[string]interface{} {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []map[string]interface{}{{}}
	for _, k := range keys {
		values := g[k]
		next := make([]map[string]interface{}, 0, len(out)*len(values))
		for _, base := range out {
			for _, v := range values {
				cand := make(map[string]interface{}, len(base)+1)
				for bk, bv := range base {
					cand[bk] = bv
				}
				cand[k] = v
				next = append(next, cand)
			}
		}
		out = next
	}
	return out
}

// ScoreFunc scores positive-class probabilities against 0/1 labels.
// Higher is better.
type ScoreFunc func(yTrue, proba []float64) (float64, error)

// ROCAUCScore is the default search metric.
func ROCAUCScore(yTrue, proba []float64) (float64, error) {
	return metrics.ROCAUC(yTrue, proba)
}

// CandidateResult holds the cross-validation outcome of one parameter set.
type CandidateResult struct {
	Params     map[string]interface{}
	FoldScores []float64
	MeanScore  float64
	StdScore   float64
	// Rank is 1 for the best mean score; equal means share a rank.
	Rank int
}

// GridSearchCV evaluates every grid candidate on the same folds and keeps the
// candidate with the highest mean validation score. Ties go to the earliest
// candidate in ParamGrid.Candidates order.
type GridSearchCV struct {
	Estimator   model.Classifier
	Grid        ParamGrid
	CV          Splitter
	Scoring     ScoreFunc
	ScoringName string
	NJobs       int
	Refit       bool

	Results       []CandidateResult
	BestIndex     int
	BestParams    map[string]interface{}
	BestScore     float64
	BestEstimator model.Classifier
	Folds         []Fold

	logger log.Logger
}

// GridSearchOption configures a GridSearchCV.
type GridSearchOption func(*GridSearchCV)

// WithCV sets the fold splitter (default: 5-fold StratifiedKFold without shuffling).
func WithCV(cv Splitter) GridSearchOption {
	return func(g *GridSearchCV) { g.CV = cv }
}

// WithNJobs bounds how many candidate/fold fits run at once (<= 0: all CPUs).
func WithNJobs(n int) GridSearchOption {
	return func(g *GridSearchCV) { g.NJobs = n }
}

// WithScoring replaces the ROC-AUC metric.
func WithScoring(name string, fn ScoreFunc) GridSearchOption {
	return func(g *GridSearchCV) {
		g.ScoringName = name
		g.Scoring = fn
	}
}

// WithRefit controls whether the best candidate is refitted on all rows.
func WithRefit(refit bool) GridSearchOption {
	return func(g *GridSearchCV) { g.Refit = refit }
}

// NewGridSearchCV creates a search over grid for clones of estimator.
func NewGridSearchCV(estimator model.Classifier, grid ParamGrid, opts ...GridSearchOption) *GridSearchCV {
	g := &GridSearchCV{
		Estimator:   estimator,
		Grid:        grid,
		CV:          NewStratifiedKFold(5, false, 0),
		Scoring:     ROCAUCScore,
		ScoringName: "roc_auc",
		Refit:       true,
		BestIndex:   -1,
		logger:      log.GetLoggerWithName("model_selection.GridSearchCV"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Fit runs the search. Folds are computed once from y and shared by every
// candidate. Any learner error aborts the search and is returned wrapped with
// the candidate and fold that produced it.
func (g *GridSearchCV) Fit(ctx context.Context, X mat.Matrix, y []float64) error {
	rows, _ := X.Dims()
	if rows != len(y) {
		return errors.NewDimensionError("GridSearchCV.Fit", rows, len(y), 0)
	}
	candidates := g.Grid.Candidates()
	if len(g.Grid) == 0 || len(candidates) == 0 {
		return errors.NewValidationError("param_grid", "must contain at least one value per parameter", g.Grid)
	}
	for k, v := range g.Grid {
		if len(v) == 0 {
			return errors.NewValidationError("param_grid", "no values for "+k, g.Grid)
		}
	}

	folds, err := g.CV.Split(y)
	if err != nil {
		return errors.Wrap(err, "GridSearchCV: build folds")
	}
	g.Folds = folds

	start := time.Now()
	g.logger.Info("Grid search started",
		log.OperationKey, log.OperationSearch,
		"candidates", len(candidates),
		"folds", len(folds),
		log.SamplesKey, rows,
	)

	scores := make([][]float64, len(candidates))
	for c := range scores {
		scores[c] = make([]float64, len(folds))
	}
	nFolds := len(folds)
	err = parallel.ForEach(ctx, len(candidates)*nFolds, g.NJobs, func(ctx context.Context, job int) error {
		c, f := job/nFolds, job%nFolds
		score, err := g.evaluate(candidates[c], X, y, folds[f])
		if err != nil {
			return errors.Wrapf(err, "GridSearchCV: candidate %d (%s) fold %d", c, formatParams(candidates[c]), f)
		}
		scores[c][f] = score
		return nil
	})
	if err != nil {
		return err
	}

	g.Results = make([]CandidateResult, len(candidates))
	for c := range candidates {
		mean, std := stat.PopMeanStdDev(scores[c], nil)
		g.Results[c] = CandidateResult{
			Params:     candidates[c],
			FoldScores: scores[c],
			MeanScore:  mean,
			StdScore:   std,
		}
	}
	g.rank()

	g.BestIndex = 0
	for c := 1; c < len(g.Results); c++ {
		if g.Results[c].MeanScore > g.Results[g.BestIndex].MeanScore {
			g.BestIndex = c
		}
	}
	g.BestParams = g.Results[g.BestIndex].Params
	g.BestScore = g.Results[g.BestIndex].MeanScore

	for c, r := range g.Results {
		g.logger.Debug("Candidate scored",
			log.CandidateKey, c,
			log.HyperParamsKey, formatParams(r.Params),
			log.ScoreKey, r.MeanScore,
			"rank", r.Rank,
		)
	}

	if g.Refit {
		best := g.Estimator.Clone()
		if err := best.SetParams(g.BestParams); err != nil {
			return errors.Wrap(err, "GridSearchCV: refit")
		}
		if err := best.Fit(X, mat.NewVecDense(len(y), append([]float64(nil), y...))); err != nil {
			return errors.Wrap(err, "GridSearchCV: refit")
		}
		g.BestEstimator = best
	}

	g.logger.Info("Grid search finished",
		log.OperationKey, log.OperationSearch,
		log.HyperParamsKey, formatParams(g.BestParams),
		log.ScoreKey, g.BestScore,
		"scoring", g.ScoringName,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func (g *GridSearchCV) evaluate(params map[string]interface{}, X mat.Matrix, y []float64, fold Fold) (score float64, err error) {
	est := g.Estimator.Clone()
	if err := est.SetParams(params); err != nil {
		return 0, err
	}
	Xtr, ytr := subset(X, y, fold.TrainIndices)
	Xte, yte := subset(X, y, fold.TestIndices)
	if err := est.Fit(Xtr, mat.NewVecDense(len(ytr), ytr)); err != nil {
		return 0, err
	}
	proba, err := est.PredictProba(Xte)
	if err != nil {
		return 0, err
	}
	return g.Scoring(yte, mat.Col(nil, 1, proba))
}

// rank assigns 'min' ranks by descending mean score.
func (g *GridSearchCV) rank() {
	order := make([]int, len(g.Results))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return g.Results[order[a]].MeanScore > g.Results[order[b]].MeanScore
	})
	for pos, idx := range order {
		if pos > 0 && g.Results[idx].MeanScore == g.Results[order[pos-1]].MeanScore {
			g.Results[idx].Rank = g.Results[order[pos-1]].Rank
			continue
		}
		g.Results[idx].Rank = pos + 1
	}
}

// subset copies the given rows of X and y.
func subset(X mat.Matrix, y []float64, indices []int) (*mat.Dense, []float64) {
	_, cols := X.Dims()
	out := mat.NewDense(len(indices), cols, nil)
	ys := make([]float64, len(indices))
	for i, idx := range indices {
		for j := 0; j < cols; j++ {
			out.Set(i, j, X.At(idx, j))
		}
		ys[i] = y[idx]
	}
	return out, ys
}

func formatParams(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, params[k])
	}
	return strings.Join(parts, ",")
}

// Summary renders the candidates ordered by rank, one per line.
func (g *GridSearchCV) Summary() string {
	order := make([]int, len(g.Results))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return g.Results[order[a]].Rank < g.Results[order[b]].Rank })
	var sb strings.Builder
	for _, idx := range order {
		r := g.Results[idx]
		fmt.Fprintf(&sb, "rank %d  %s=%.4f (+/-%.4f)  %s\n", r.Rank, g.ScoringName, r.MeanScore, r.StdScore, formatParams(r.Params))
	}
	return sb.String()
}
