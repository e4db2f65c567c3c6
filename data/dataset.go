// Package data loads applicant records into an in-memory Dataset and
// exposes typed column access for the preprocessing and labelling steps.
package data

import (
	"math"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

// missingToken is how absent cells are stored inside the frame.
const missingToken = "NaN"

// Dataset is an ordered collection of records sharing a fixed schema.
// Every column is held as strings, and typing happens at access time so that the
// same Dataset can feed both numeric and categorical encoders.
type Dataset struct {
	frame   dataframe.DataFrame
	rowIDs  []int
	skipped int
	source  string
}

func newDataset(frame dataframe.DataFrame, rowIDs []int, skipped int, source string) *Dataset {
	return &Dataset{frame: frame, rowIDs: rowIDs, skipped: skipped, source: source}
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return d.frame.Nrow() }

// Columns returns the (trimmed) column names in file order.
func (d *Dataset) Columns() []string { return d.frame.Names() }

// Skipped is the number of malformed rows dropped while loading.
func (d *Dataset) Skipped() int { return d.skipped }

// Source names where the rows came from.
func (d *Dataset) Source() string { return d.source }

// RowIDs returns the zero-based position of each row among the rows that were
// kept at load time. Subsets keep the identities of their parent.
func (d *Dataset) RowIDs() []int {
	out := make([]int, len(d.rowIDs))
	copy(out, d.rowIDs)
	return out
}

// Frame exposes the underlying gota DataFrame.
func (d *Dataset) Frame() dataframe.DataFrame { return d.frame }

// HasColumn reports whether name is a column.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.frame.Names() {
		if c == name {
			return true
		}
	}
	return false
}

// RequireColumns fails with a SchemaError naming the first absent column.
func (d *Dataset) RequireColumns(op string, names ...string) error {
	for _, name := range names {
		if !d.HasColumn(name) {
			return errors.NewSchemaError(op, name, "required column is missing")
		}
	}
	return nil
}

func (d *Dataset) column(op, name string) (series.Series, error) {
	if !d.HasColumn(name) {
		return series.Series{}, errors.NewSchemaError(op, name, "required column is missing")
	}
	col := d.frame.Col(name)
	if col.Err != nil {
		return series.Series{}, errors.Wrapf(col.Err, "%s: read column %q", op, name)
	}
	return col, nil
}

// Strings returns the raw values of a column and a mask marking missing cells.
// Missing cells have an empty value.
func (d *Dataset) Strings(name string) ([]string, []bool, error) {
	col, err := d.column("Dataset.Strings", name)
	if err != nil {
		return nil, nil, err
	}
	missing := col.IsNaN()
	values := col.Records()
	for i := range values {
		if missing[i] {
			values[i] = ""
		}
	}
	return values, missing, nil
}

// Floats parses a column as float64. Missing cells become NaN. Cells that
// are present but do not parse also become NaN and are counted in unparseable.
func (d *Dataset) Floats(name string) (values []float64, unparseable int, err error) {
	col, err := d.column("Dataset.Floats", name)
	if err != nil {
		return nil, 0, err
	}
	missing := col.IsNaN()
	values = col.Float()
	records := col.Records()
	for i, v := range values {
		if missing[i] || !math.IsNaN(v) {
			continue
		}
		if f, perr := strconv.ParseFloat(strings.TrimSpace(records[i]), 64); perr == nil {
			values[i] = f
			continue
		}
		unparseable++
	}
	return values, unparseable, nil
}

// Labels parses a binary label column. 0/1, true/false and yes/no are
// accepted (case-insensitive). Anything else, including a missing label, is a
// DataError.
func (d *Dataset) Labels(name string) ([]float64, error) {
	values, missing, err := d.Strings(name)
	if err != nil {
		return nil, err
	}
	labels := make([]float64, len(values))
	for i, raw := range values {
		if missing[i] {
			return nil, errors.NewDataError("Dataset.Labels", name, "missing label at row "+strconv.Itoa(i))
		}
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "1", "1.0", "true", "yes", "y":
			labels[i] = 1
		case "0", "0.0", "false", "no", "n":
			labels[i] = 0
		default:
			return nil, errors.NewDataError("Dataset.Labels", name, "non-binary label "+strconv.Quote(raw)+" at row "+strconv.Itoa(i))
		}
	}
	return labels, nil
}

// Subset returns the rows at the given positions, in that order.
func (d *Dataset) Subset(indices []int) (*Dataset, error) {
	ids := make([]int, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= d.Len() {
			return nil, errors.NewValidationError("indices", "row index out of range", idx)
		}
		ids[i] = d.rowIDs[idx]
	}
	if len(indices) == 0 {
		return nil, errors.NewInsufficientDataError("Dataset.Subset", "", 0, 1)
	}
	sub := d.frame.Subset(indices)
	if sub.Err != nil {
		return nil, errors.Wrap(sub.Err, "Dataset.Subset")
	}
	return newDataset(sub, ids, 0, d.source), nil
}

// DropColumn returns a Dataset without name. Dropping an absent column is a no-op.
func (d *Dataset) DropColumn(name string) (*Dataset, error) {
	if !d.HasColumn(name) {
		return d, nil
	}
	dropped := d.frame.Drop(name)
	if dropped.Err != nil {
		return nil, errors.Wrapf(dropped.Err, "drop column %q", name)
	}
	return newDataset(dropped, d.rowIDs, d.skipped, d.source), nil
}

// Records renders the Dataset back to CSV records, header first. Missing
// cells are written empty.
func (d *Dataset) Records() [][]string {
	names := d.Columns()
	out := make([][]string, d.Len()+1)
	out[0] = append([]string(nil), names...)
	for i := 1; i < len(out); i++ {
		out[i] = make([]string, len(names))
	}
	for j, name := range names {
		values, _, _ := d.Strings(name)
		for i, v := range values {
			out[i+1][j] = v
		}
	}
	return out
}
