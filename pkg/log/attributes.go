package log

// Standard field keys. Use these instead of ad-hoc strings so log lines from
// different stages can be queried the same way.
const (
	// ModelNameKey identifies the estimator or transformer emitting the log.
	ModelNameKey = "model.name"

	// ComponentKey is set by GetLoggerWithName.
	ComponentKey = "ml.component"

	// OperationKey is the estimator operation (fit, predict, transform ...).
	OperationKey = "ml.operation"

	// PhaseKey is the pipeline stage (load, split, preprocess ...).
	PhaseKey = "ml.phase"
)

// Data shape keys.
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	ColumnsKey  = "data.columns"
	SkippedKey  = "data.skipped_rows"
	PathKey     = "data.path"
	ClassesKey  = "data.classes"
)

// Performance and metric keys.
const (
	DurationMsKey = "perf.duration_ms"
	AUCKey        = "metrics.roc_auc"
	PRAUCKey      = "metrics.pr_auc"
	AccuracyKey   = "metrics.accuracy"
	LossKey       = "metrics.loss"
	ScoreKey      = "metrics.score"
)

// Training keys.
const (
	IterationKey    = "training.iteration"
	CandidateKey    = "search.candidate"
	FoldKey         = "search.fold"
	HyperParamsKey  = "model.hyperparams"
	LearningRateKey = "hyperparams.learning_rate"
	RandomSeedKey   = "config.random_seed"
	FingerprintKey  = "artifact.fingerprint"
	ArtifactKindKey = "artifact.kind"
)

// Error keys.
const (
	ErrorKey      = "error"
	StacktraceKey = "error.stacktrace"
	ErrorTypeKey  = "error.type"
)

// Operation values for OperationKey.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"
	OperationExplain      = "explain"
	OperationSearch       = "search"
	OperationSave         = "save"
	OperationLoad         = "load"
)

// Phase values for PhaseKey, one per pipeline stage.
const (
	PhaseLoad       = "load"
	PhaseSplit      = "split"
	PhasePreprocess = "preprocess"
	PhaseTrain      = "train"
	PhasePersist    = "persist"
	PhaseEvaluate   = "evaluate"
	PhaseExplain    = "explain"
	PhaseInference  = "inference"
)
