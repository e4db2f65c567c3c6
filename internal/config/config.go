// Package config resolves the run configuration from defaults, a .env file,
// LOANRISK_* environment variables and command-line flags, in that order.
package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "LOANRISK_"

// Training modes.
const (
	ModeBaseline = "baseline"
	ModeSearch   = "search"
	ModeBoth     = "both"
)

// Artifact file names inside ModelDir.
const (
	PreprocessorFile = "preprocessor.lrsk"
	ModelFile        = "model.lrsk"
)

// Config holds every setting of a training or scoring run.
type Config struct {
	DataPath    string  `json:"data_path"`
	ModelDir    string  `json:"model_dir"`
	LabelColumn string  `json:"label_column"`
	TestSize    float64 `json:"test_size"`
	Seed        uint64  `json:"seed"`
	CVFolds     int     `json:"cv_folds"`
	Mode        string  `json:"mode"`
	NJobs       int     `json:"n_jobs"` // 0 = all CPUs
	ExplainRows int     `json:"explain_rows"`
	LogLevel    string  `json:"log_level"`
	LogFormat   string  `json:"log_format"`
	MetricsFile string  `json:"metrics_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataPath:    filepath.Join("data", "Loan_default.csv"),
		ModelDir:    "models",
		LabelColumn: "Default",
		TestSize:    0.2,
		Seed:        42,
		CVFolds:     5,
		Mode:        ModeSearch,
		NJobs:       0,
		ExplainRows: 200,
		LogLevel:    "info",
		LogFormat:   "json",
	}
}

// Load starts from Default, reads envFile if it exists (variables already
// set in the environment win) and applies LOANRISK_* overrides.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "config: load %s", envFile)
		}
	}
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.DataPath = getEnv("DATA_PATH", c.DataPath)
	c.ModelDir = getEnv("MODEL_DIR", c.ModelDir)
	c.LabelColumn = getEnv("LABEL_COLUMN", c.LabelColumn)
	c.Mode = getEnv("MODE", c.Mode)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.MetricsFile = getEnv("METRICS_FILE", c.MetricsFile)

	var err error
	if c.TestSize, err = getEnvAsFloat("TEST_SIZE", c.TestSize); err != nil {
		return err
	}
	if c.Seed, err = getEnvAsUint("SEED", c.Seed); err != nil {
		return err
	}
	if c.CVFolds, err = getEnvAsInt("CV_FOLDS", c.CVFolds); err != nil {
		return err
	}
	if c.NJobs, err = getEnvAsInt("N_JOBS", c.NJobs); err != nil {
		return err
	}
	if c.ExplainRows, err = getEnvAsInt("EXPLAIN_ROWS", c.ExplainRows); err != nil {
		return err
	}
	return nil
}

// Validate rejects a configuration that cannot run.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataPath) == "" {
		return errors.NewValidationError("data_path", "must not be empty", c.DataPath)
	}
	if strings.TrimSpace(c.ModelDir) == "" {
		return errors.NewValidationError("model_dir", "must not be empty", c.ModelDir)
	}
	if strings.TrimSpace(c.LabelColumn) == "" {
		return errors.NewValidationError("label_column", "must not be empty", c.LabelColumn)
	}
	if !(c.TestSize > 0 && c.TestSize < 1) {
		return errors.NewValidationError("test_size", "must be in (0, 1)", c.TestSize)
	}
	if c.CVFolds < 2 {
		return errors.NewValidationError("cv_folds", "must be at least 2", c.CVFolds)
	}
	switch c.Mode {
	case ModeBaseline, ModeSearch, ModeBoth:
	default:
		return errors.NewValidationError("mode", "must be baseline, search or both", c.Mode)
	}
	if c.NJobs < 0 {
		return errors.NewValidationError("n_jobs", "must be non-negative", c.NJobs)
	}
	if c.ExplainRows < 0 {
		return errors.NewValidationError("explain_rows", "must be non-negative", c.ExplainRows)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return errors.NewValidationError("log_format", "must be json or console", c.LogFormat)
	}
	return nil
}

// PreprocessorPath is where the fitted preprocessor is written.
func (c *Config) PreprocessorPath() string { return filepath.Join(c.ModelDir, PreprocessorFile) }

// ModelPath is where the selected model is written.
func (c *Config) ModelPath() string { return filepath.Join(c.ModelDir, ModelFile) }

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(EnvPrefix + key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.NewValidationError(EnvPrefix+key, "must be an integer", value)
	}
	return n, nil
}

func getEnvAsUint(key string, defaultValue uint64) (uint64, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, errors.NewValidationError(EnvPrefix+key, "must be a non-negative integer", value)
	}
	return n, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errors.NewValidationError(EnvPrefix+key, "must be a number", value)
	}
	return f, nil
}
