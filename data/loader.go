package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/YuminosukeSato/loanrisk/pkg/errors"
	"github.com/YuminosukeSato/loanrisk/pkg/log"
)

// DefaultMissingValues are the cell values read as missing, as in pandas.
var DefaultMissingValues = []string{
	"", "#N/A", "#NA", "-NaN", "-nan", "<NA>", "N/A", "NA", "NULL", "NaN", "None", "n/a", "nan", "null",
}

type loadConfig struct {
	comma   rune
	missing map[string]struct{}
	logger  log.Logger
}

// LoadOption configures Load and LoadReader.
type LoadOption func(*loadConfig)

// WithComma sets the field delimiter (default ',').
func WithComma(r rune) LoadOption {
	return func(c *loadConfig) { c.comma = r }
}

// WithMissingValues replaces the set of values treated as missing.
func WithMissingValues(values ...string) LoadOption {
	return func(c *loadConfig) {
		c.missing = make(map[string]struct{}, len(values))
		for _, v := range values {
			c.missing[v] = struct{}{}
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l log.Logger) LoadOption {
	return func(c *loadConfig) { c.logger = l }
}

func newLoadConfig(opts []LoadOption) *loadConfig {
	cfg := &loadConfig{comma: ','}
	WithMissingValues(DefaultMissingValues...)(cfg)
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.GetLoggerWithName("data.Load")
	}
	return cfg
}

// Load reads a delimited file with a header row into a Dataset.
// A missing path is a NotFoundError.
func Load(path string, opts ...LoadOption) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("dataset", path)
		}
		return nil, errors.Wrapf(err, "open dataset %s", path)
	}
	defer f.Close()
	return LoadReader(f, path, opts...)
}

// LoadReader reads a delimited stream with a header row into a Dataset.
// Header names are trimmed of surrounding whitespace. Rows that fail to parse
// or carry more fields than the header are skipped and counted; short rows
// are kept with the trailing cells missing.
func LoadReader(r io.Reader, source string, opts ...LoadOption) (*Dataset, error) {
	cfg := newLoadConfig(opts)

	reader := csv.NewReader(r)
	reader.Comma = cfg.comma
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.NewInsufficientDataError("data.Load", "", 0, 1)
	}
	if err != nil {
		return nil, errors.NewSchemaError("data.Load", "", "unreadable header: "+err.Error())
	}
	header = normalizeHeader(header)

	records := [][]string{header}
	skipped := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				skipped++
				cfg.logger.Debug("Skipping malformed row", "line", pe.Line, log.ErrorKey, err)
				continue
			}
			return nil, errors.Wrapf(err, "read %s", source)
		}
		if len(rec) > len(header) {
			skipped++
			line, _ := reader.FieldPos(0)
			cfg.logger.Debug("Skipping row with extra fields", "line", line, "fields", len(rec), "expected", len(header))
			continue
		}
		for len(rec) < len(header) {
			rec = append(rec, missingToken)
		}
		for j, cell := range rec {
			if _, ok := cfg.missing[strings.TrimSpace(cell)]; ok {
				rec[j] = missingToken
			}
		}
		records = append(records, rec)
	}

	if len(records) == 1 {
		return nil, errors.NewInsufficientDataError("data.Load", "", 0, 1)
	}

	ds, err := fromNormalizedRecords(records, skipped, source)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		cfg.logger.Warn("Malformed rows skipped", log.PathKey, source, log.SkippedKey, skipped)
	}
	cfg.logger.Info("Dataset loaded",
		log.PathKey, source,
		log.SamplesKey, ds.Len(),
		log.ColumnsKey, len(header),
		log.SkippedKey, skipped,
	)
	return ds, nil
}

// FromRecords builds a Dataset from an in-memory header and rows, applying
// the same header trimming and missing-value rules as Load. It is used to
// score records that never touched a file.
func FromRecords(header []string, rows [][]string) (*Dataset, error) {
	if len(rows) == 0 {
		return nil, errors.NewInsufficientDataError("data.FromRecords", "", 0, 1)
	}
	cfg := newLoadConfig(nil)
	records := make([][]string, 0, len(rows)+1)
	records = append(records, normalizeHeader(header))
	for i, row := range rows {
		if len(row) != len(header) {
			return nil, errors.NewDimensionError(fmt.Sprintf("data.FromRecords row %d", i), len(header), len(row), 1)
		}
		rec := make([]string, len(row))
		for j, cell := range row {
			rec[j] = cell
			if _, ok := cfg.missing[strings.TrimSpace(cell)]; ok {
				rec[j] = missingToken
			}
		}
		records = append(records, rec)
	}
	return fromNormalizedRecords(records, 0, "records")
}

func fromNormalizedRecords(records [][]string, skipped int, source string) (*Dataset, error) {
	frame := dataframe.LoadRecords(records,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if frame.Err != nil {
		return nil, errors.Wrapf(frame.Err, "build dataframe from %s", source)
	}
	ids := make([]int, frame.Nrow())
	for i := range ids {
		ids[i] = i
	}
	return newDataset(frame, ids, skipped, source), nil
}

// normalizeHeader trims names, strips a UTF-8 BOM and makes names unique the
// way pandas does ("Unnamed: i" for blanks, ".1" suffixes for repeats).
func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n+1)
		}
		seen[name] = 0
		out[i] = name
	}
	return out
}
