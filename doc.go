// Package loanrisk predicts the probability that a loan defaults, using
// tabular applicant data, and explains each prediction.
//
// The library follows the scikit-learn workflow: a column transformer fitted
// on the training split only, a logistic regression baseline, a histogram
// gradient-boosted tree ensemble tuned by cross-validated grid search, the
// usual held-out metrics, and exact TreeSHAP attributions.
//
// # Features
//
//   - Stratified train/test split and stratified k-fold search, reproducible from one seed
//   - Median/constant imputation, standard scaling and one-hot encoding with unseen-category handling
//   - Gradient-boosted trees with depth-wise growth, L2 leaf regularization and gain pruning
//   - ROC-AUC, PR-AUC, average precision, log-loss, Brier score and a classification report
//   - Exact path-dependent TreeSHAP, additive in log-odds space
//   - Versioned artifacts that tie the model to the preprocessor it was trained against
//
// # Quick Start
//
// Train with the command-line tool:
//
//	loanrisk generate --rows 10000 --out data/Loan_default.csv
//	loanrisk train --data data/Loan_default.csv --mode both
//	loanrisk predict --input applications.csv
//
// Or drive the pipeline from Go:
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/loanrisk/internal/config"
//	    "github.com/YuminosukeSato/loanrisk/pipeline"
//	)
//
//	func main() {
//	    res, err := pipeline.Run(context.Background(), pipeline.FromConfig(config.Default()))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(res.Evaluations[pipeline.ModelSearch].Summary())
//	}
//
// Serving code loads the saved pair and scores new applications:
//
//	s, err := scoring.Load("models/preprocessor.lrsk", "models/model.lrsk")
//	p, err := s.ScoreRecord(map[string]string{"Age": "35", "Income": "52000"})
//
// # Packages
//
//   - data: CSV loading, dataset access and synthetic loan data
//   - preprocessing: StandardScaler, SimpleImputer, OneHotEncoder and the fitted Preprocessor
//   - sklearn/model_selection: TrainTestSplit, StratifiedKFold, GridSearchCV
//   - sklearn/linear_model: LogisticRegression (L-BFGS)
//   - sklearn/ensemble: GradientBoostingClassifier and TreeSHAP
//   - metrics: classification and ranking metrics, Evaluate
//   - explain: per-row and global attributions
//   - scoring: the Scorer used by serving frontends
//   - pipeline: the end-to-end training run
//   - core/model: estimator interfaces, fitted state and artifacts
//   - core/parallel: row-parallel helpers and bounded errgroup execution
//   - pkg/errors, pkg/log: structured errors and zerolog-backed logging
package loanrisk
