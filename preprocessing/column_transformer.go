package preprocessing

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/loanrisk/core/model"
	"github.com/YuminosukeSato/loanrisk/data"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
	"github.com/YuminosukeSato/loanrisk/pkg/log"
)

// PreprocessorType is the artifact type name of a persisted Preprocessor.
const PreprocessorType = "Preprocessor"

// DefaultMissingToken replaces missing categorical cells before encoding.
const DefaultMissingToken = "MISSING"

// fingerprintNamespace scopes preprocessor fingerprints.
var fingerprintNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/YuminosukeSato/loanrisk/preprocessor"))

func init() {
	model.RegisterArtifact(PreprocessorType, func() model.Artifact { return &Preprocessor{} })
}

// ColumnTransformerConfig declares which input columns feed which pipeline.
type ColumnTransformerConfig struct {
	Numeric      []string `msgpack:"numeric" json:"numeric"`
	Categorical  []string `msgpack:"categorical" json:"categorical"`
	MissingToken string   `msgpack:"missing_token" json:"missing_token"`
	// Label is never encoded. Transform ignores it when present.
	Label           string `msgpack:"label" json:"label"`
	NumericStrategy string `msgpack:"numeric_strategy" json:"numeric_strategy"`
	HandleUnknown   string `msgpack:"handle_unknown" json:"handle_unknown"`
}

// DefaultConfig is the loan default schema: median-imputed and scaled
// numeric columns, MISSING-imputed one-hot categorical columns.
func DefaultConfig() ColumnTransformerConfig {
	return ColumnTransformerConfig{
		Numeric:         append([]string(nil), data.NumericColumns...),
		Categorical:     append([]string(nil), data.CategoricalColumns...),
		MissingToken:    DefaultMissingToken,
		Label:           data.LabelColumn,
		NumericStrategy: StrategyMedian,
		HandleUnknown:   HandleUnknownIgnore,
	}
}

// FeatureMatrix is the output of Preprocessor.Transform.
type FeatureMatrix struct {
	X     *mat.Dense
	Names []string
	// Fingerprint identifies the preprocessor that produced X.
	Fingerprint string
}

// Dims returns rows and feature columns.
func (fm *FeatureMatrix) Dims() (int, int) { return fm.X.Dims() }

// Schema describes the input a fitted preprocessor expects and the output it
// produces. Serving code queries it instead of keeping its own column lists.
type Schema struct {
	Numeric      []string            `json:"numeric"`
	Categorical  []string            `json:"categorical"`
	Categories   map[string][]string `json:"categories"`
	Medians      map[string]float64  `json:"impute_values"`
	FeatureNames []string            `json:"feature_names"`
	Label        string              `json:"label"`
	MissingToken string              `json:"missing_token"`
	Fingerprint  string              `json:"fingerprint"`
}

// Preprocessor is the fit-once column transformer. After Fit it is never
// mutated, so a single instance can serve concurrent Transform calls.
type Preprocessor struct {
	Config  ColumnTransformerConfig `msgpack:"config"`
	Imputer *SimpleImputer          `msgpack:"imputer"`
	Scaler  *StandardScaler         `msgpack:"scaler"`
	Encoder *OneHotEncoder          `msgpack:"encoder"`
	Names   []string                `msgpack:"feature_names"`
	ID      string                  `msgpack:"fingerprint"`
	State   *model.StateManager     `msgpack:"state"`
}

// NewPreprocessor returns an unfitted preprocessor for cfg.
func NewPreprocessor(cfg ColumnTransformerConfig) *Preprocessor {
	if cfg.MissingToken == "" {
		cfg.MissingToken = DefaultMissingToken
	}
	if cfg.NumericStrategy == "" {
		cfg.NumericStrategy = StrategyMedian
	}
	if cfg.HandleUnknown == "" {
		cfg.HandleUnknown = HandleUnknownIgnore
	}
	return &Preprocessor{
		Config:  cfg,
		Imputer: NewSimpleImputer(cfg.NumericStrategy, 0),
		Scaler:  NewStandardScalerDefault(),
		Encoder: NewOneHotEncoder(cfg.HandleUnknown),
		State:   model.NewStateManager(),
	}
}

// ArtifactType implements model.Artifact.
func (p *Preprocessor) ArtifactType() string { return PreprocessorType }

// ArtifactKind implements model.Artifact.
func (p *Preprocessor) ArtifactKind() model.ArtifactKind { return model.KindPreprocessor }

// IsFitted reports whether Fit has completed.
func (p *Preprocessor) IsFitted() bool { return p.State.IsFitted() }

func (p *Preprocessor) logger() log.Logger {
	return log.GetLoggerWithName("preprocessing.Preprocessor")
}

// Fit learns imputation values, scaling statistics and category vocabularies
// from ds. ds must be the training subset only. A preprocessor is fitted once;
// a second Fit is a ValidationError.
func (p *Preprocessor) Fit(ds *data.Dataset) error {
	if p.IsFitted() {
		return errors.NewValidationError("preprocessor", "already fitted; create a new Preprocessor to refit", p.ID)
	}
	if len(p.Config.Numeric) == 0 || len(p.Config.Categorical) == 0 {
		return errors.NewValidationError("config", "needs at least one numeric and one categorical column", p.Config)
	}
	start := time.Now()
	if err := p.requireInputs(ds, "Preprocessor.Fit"); err != nil {
		return err
	}
	if ds.Len() == 0 {
		return errors.NewInsufficientDataError("Preprocessor.Fit", "", 0, 1)
	}

	raw, err := p.numericMatrix(ds)
	if err != nil {
		return err
	}
	imputed, err := p.Imputer.FitTransform(raw)
	if err != nil {
		return errors.Wrap(err, "fit numeric imputer")
	}
	if err := p.Scaler.Fit(imputed); err != nil {
		return errors.Wrap(err, "fit numeric scaler")
	}

	cats, err := p.categoricalColumns(ds)
	if err != nil {
		return err
	}
	if err := p.Encoder.Fit(cats); err != nil {
		return errors.Wrap(err, "fit one-hot encoder")
	}

	p.Names = make([]string, 0, len(p.Config.Numeric)+p.Encoder.NOutputs())
	for _, col := range p.Config.Numeric {
		p.Names = append(p.Names, "num__"+col)
	}
	for _, name := range p.Encoder.FeatureNames(p.Config.Categorical) {
		p.Names = append(p.Names, "cat__"+name)
	}

	if p.ID, err = p.computeFingerprint(); err != nil {
		return err
	}
	p.State.SetFitted(len(p.Names), ds.Len())

	p.logger().Info("Preprocessor fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, ds.Len(),
		log.FeaturesKey, len(p.Names),
		log.FingerprintKey, p.ID,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// Transform encodes ds with the learned state. Missing numeric cells take the
// fitted imputation value, missing categorical cells become the missing token
// and unseen categories leave their block all zero. The label column and any
// other extra column are ignored.
func (p *Preprocessor) Transform(ds *data.Dataset) (*FeatureMatrix, error) {
	if err := p.State.RequireFitted("Preprocessor", "Transform"); err != nil {
		return nil, err
	}
	if err := p.requireInputs(ds, "Preprocessor.Transform"); err != nil {
		return nil, err
	}
	if ds.Len() == 0 {
		return nil, errors.NewInsufficientDataError("Preprocessor.Transform", "", 0, 1)
	}

	raw, err := p.numericMatrix(ds)
	if err != nil {
		return nil, err
	}
	imputed, err := p.Imputer.Transform(raw)
	if err != nil {
		return nil, err
	}
	scaled, err := p.Scaler.Transform(imputed)
	if err != nil {
		return nil, err
	}
	cats, err := p.categoricalColumns(ds)
	if err != nil {
		return nil, err
	}
	encoded, err := p.Encoder.Transform(cats)
	if err != nil {
		return nil, err
	}

	rows := ds.Len()
	nNum := len(p.Config.Numeric)
	X := mat.NewDense(rows, len(p.Names), nil)
	X.Slice(0, rows, 0, nNum).(*mat.Dense).Copy(scaled)
	if len(p.Names) > nNum {
		X.Slice(0, rows, nNum, len(p.Names)).(*mat.Dense).Copy(encoded)
	}

	p.logger().Debug("Dataset transformed",
		log.OperationKey, log.OperationTransform,
		log.SamplesKey, rows,
		log.FeaturesKey, len(p.Names),
	)
	return &FeatureMatrix{X: X, Names: p.FeatureNames(), Fingerprint: p.ID}, nil
}

// FitTransform fits on ds and transforms it.
func (p *Preprocessor) FitTransform(ds *data.Dataset) (*FeatureMatrix, error) {
	if err := p.Fit(ds); err != nil {
		return nil, err
	}
	return p.Transform(ds)
}

// FeatureNames returns a copy of the output column names.
func (p *Preprocessor) FeatureNames() []string {
	return append([]string(nil), p.Names...)
}

// Fingerprint is a UUIDv5 over the learned state. Identical training data
// and configuration give an identical fingerprint.
func (p *Preprocessor) Fingerprint() string { return p.ID }

// Schema describes the fitted preprocessor.
func (p *Preprocessor) Schema() (*Schema, error) {
	if err := p.State.RequireFitted("Preprocessor", "Schema"); err != nil {
		return nil, err
	}
	s := &Schema{
		Numeric:      append([]string(nil), p.Config.Numeric...),
		Categorical:  append([]string(nil), p.Config.Categorical...),
		Categories:   make(map[string][]string, len(p.Config.Categorical)),
		Medians:      make(map[string]float64, len(p.Config.Numeric)),
		FeatureNames: p.FeatureNames(),
		Label:        p.Config.Label,
		MissingToken: p.Config.MissingToken,
		Fingerprint:  p.ID,
	}
	for j, col := range p.Config.Categorical {
		s.Categories[col] = append([]string(nil), p.Encoder.Categories[j]...)
	}
	for j, col := range p.Config.Numeric {
		s.Medians[col] = p.Imputer.Statistics[j]
	}
	return s, nil
}

// InputColumns lists the columns Transform reads, numeric first.
func (p *Preprocessor) InputColumns() []string {
	cols := make([]string, 0, len(p.Config.Numeric)+len(p.Config.Categorical))
	cols = append(cols, p.Config.Numeric...)
	return append(cols, p.Config.Categorical...)
}

// Validate checks a decoded preprocessor and rebuilds its lookup tables.
// The stored fingerprint must match the decoded state.
func (p *Preprocessor) Validate() error {
	if p.State == nil || !p.State.Fitted {
		return fmt.Errorf("preprocessor is not fitted")
	}
	if p.Imputer == nil || p.Scaler == nil || p.Encoder == nil {
		return fmt.Errorf("preprocessor is missing a fitted step")
	}
	nNum := len(p.Config.Numeric)
	if len(p.Imputer.Statistics) != nNum || len(p.Scaler.Mean) != nNum || len(p.Scaler.Scale) != nNum {
		return fmt.Errorf("numeric statistics do not match %d numeric columns", nNum)
	}
	if len(p.Encoder.Categories) != len(p.Config.Categorical) {
		return fmt.Errorf("category lists do not match %d categorical columns", len(p.Config.Categorical))
	}
	if len(p.Names) != nNum+p.Encoder.NOutputs() {
		return fmt.Errorf("feature names do not match encoded width")
	}
	id, err := p.computeFingerprint()
	if err != nil {
		return err
	}
	if id != p.ID {
		return fmt.Errorf("fingerprint %s does not match learned state (%s)", p.ID, id)
	}
	p.Encoder.Restore()
	return nil
}

// Save persists the fitted preprocessor to path.
func (p *Preprocessor) Save(path string) error {
	if err := p.State.RequireFitted("Preprocessor", "Save"); err != nil {
		return err
	}
	return model.SaveArtifact(path, p, model.ArtifactMeta{Fingerprint: p.ID, FeatureNames: p.Names})
}

// LoadPreprocessor reads a preprocessor artifact.
func LoadPreprocessor(path string) (*Preprocessor, error) {
	a, _, err := model.LoadArtifact(path)
	if err != nil {
		return nil, err
	}
	p, ok := a.(*Preprocessor)
	if !ok {
		return nil, errors.NewArtifactError(path, fmt.Sprintf("expected %s, found %s", PreprocessorType, a.ArtifactType()))
	}
	return p, nil
}

func (p *Preprocessor) requireInputs(ds *data.Dataset, op string) error {
	if ds == nil {
		return errors.Wrap(errors.ErrEmptyData, op)
	}
	return ds.RequireColumns(op, p.InputColumns()...)
}

// numericMatrix reads the numeric columns with NaN for missing cells.
// Unparseable cells are treated as missing and reported as a warning;
// infinite values are a DataError.
func (p *Preprocessor) numericMatrix(ds *data.Dataset) (*mat.Dense, error) {
	rows := ds.Len()
	X := mat.NewDense(rows, len(p.Config.Numeric), nil)
	for j, col := range p.Config.Numeric {
		values, unparseable, err := ds.Floats(col)
		if err != nil {
			return nil, err
		}
		if unparseable > 0 {
			errors.Warn(errors.NewDataConversionWarning(col, "string", "float64", unparseable,
				"non-numeric values are treated as missing"))
		}
		for i, v := range values {
			if math.IsInf(v, 0) {
				return nil, errors.NewDataError("Preprocessor", "preprocess",
					fmt.Sprintf("column %q has non-finite value %v at row %d", col, v, i))
			}
		}
		X.SetCol(j, values)
	}
	return X, nil
}

func (p *Preprocessor) categoricalColumns(ds *data.Dataset) ([][]string, error) {
	out := make([][]string, len(p.Config.Categorical))
	for j, col := range p.Config.Categorical {
		values, missing, err := ds.Strings(col)
		if err != nil {
			return nil, err
		}
		for i := range values {
			if missing[i] {
				values[i] = p.Config.MissingToken
			}
		}
		out[j] = values
	}
	return out, nil
}

// learnedState is the part of a Preprocessor that its fingerprint covers.
type learnedState struct {
	Config     ColumnTransformerConfig `msgpack:"config"`
	Statistics []float64               `msgpack:"statistics"`
	Mean       []float64               `msgpack:"mean"`
	Scale      []float64               `msgpack:"scale"`
	Categories [][]string              `msgpack:"categories"`
	Names      []string                `msgpack:"names"`
}

func (p *Preprocessor) computeFingerprint() (string, error) {
	b, err := msgpack.Marshal(&learnedState{
		Config:     p.Config,
		Statistics: p.Imputer.Statistics,
		Mean:       p.Scaler.Mean,
		Scale:      p.Scaler.Scale,
		Categories: p.Encoder.Categories,
		Names:      p.Names,
	})
	if err != nil {
		return "", errors.Wrap(err, "encode preprocessor state")
	}
	return uuid.NewSHA1(fingerprintNamespace, b).String(), nil
}
