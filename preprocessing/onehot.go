package preprocessing

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/loanrisk/core/model"
	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

// Unknown-category handling.
const (
	HandleUnknownIgnore = "ignore"
	HandleUnknownError  = "error"
)

// OneHotEncoder expands string columns into one indicator per category.
// Categories are the distinct fit-time values of each column, sorted
// lexicographically.
type OneHotEncoder struct {
	HandleUnknown string `msgpack:"handle_unknown"`

	// Categories[j] はj列目のカテゴリ一覧（昇順）
	Categories [][]string `msgpack:"categories"`

	State *model.StateManager `msgpack:"state"`

	// index[j][category] は Categories[j] 内の位置
	index []map[string]int
}

// NewOneHotEncoder creates an unfitted encoder.
func NewOneHotEncoder(handleUnknown string) *OneHotEncoder {
	return &OneHotEncoder{HandleUnknown: handleUnknown, State: model.NewStateManager()}
}

// IsFitted reports whether Fit has completed.
func (e *OneHotEncoder) IsFitted() bool { return e.State.IsFitted() }

// Fit learns the vocabulary. columns[j] holds every row's value for input column j.
func (e *OneHotEncoder) Fit(columns [][]string) error {
	if len(columns) == 0 || len(columns[0]) == 0 {
		return errors.Wrap(errors.ErrEmptyData, "OneHotEncoder.Fit")
	}
	switch e.HandleUnknown {
	case HandleUnknownIgnore, HandleUnknownError:
	default:
		return errors.NewValidationError("handle_unknown", "must be ignore or error", e.HandleUnknown)
	}

	e.Categories = make([][]string, len(columns))
	for j, values := range columns {
		seen := make(map[string]struct{})
		for _, v := range values {
			seen[v] = struct{}{}
		}
		cats := make([]string, 0, len(seen))
		for v := range seen {
			cats = append(cats, v)
		}
		sort.Strings(cats)
		e.Categories[j] = cats
	}
	e.index = e.lookup()

	if e.State == nil {
		e.State = model.NewStateManager()
	}
	e.State.SetFitted(len(columns), len(columns[0]))
	return nil
}

func (e *OneHotEncoder) lookup() []map[string]int {
	index := make([]map[string]int, len(e.Categories))
	for j, cats := range e.Categories {
		index[j] = make(map[string]int, len(cats))
		for k, c := range cats {
			index[j][c] = k
		}
	}
	return index
}

// Restore rebuilds lookup tables after the encoder was decoded.
func (e *OneHotEncoder) Restore() {
	e.index = e.lookup()
}

// NOutputs is the total number of indicator columns.
func (e *OneHotEncoder) NOutputs() int {
	n := 0
	for _, cats := range e.Categories {
		n += len(cats)
	}
	return n
}

// Transform encodes columns. An unseen category leaves its block all zero,
// or fails with a SchemaError when HandleUnknown is "error".
func (e *OneHotEncoder) Transform(columns [][]string) (*mat.Dense, error) {
	if err := e.State.RequireFitted("OneHotEncoder", "Transform"); err != nil {
		return nil, err
	}
	if err := e.State.RequireFeatures("OneHotEncoder.Transform", len(columns)); err != nil {
		return nil, err
	}
	index := e.index
	if index == nil {
		index = e.lookup()
	}
	rows := 0
	if len(columns) > 0 {
		rows = len(columns[0])
	}
	out := mat.NewDense(rows, e.NOutputs(), nil)
	offset := 0
	for j, values := range columns {
		if len(values) != rows {
			return nil, errors.NewDimensionError("OneHotEncoder.Transform", rows, len(values), 0)
		}
		for i, v := range values {
			k, ok := index[j][v]
			if !ok {
				if e.HandleUnknown == HandleUnknownError {
					return nil, errors.NewSchemaError("OneHotEncoder.Transform", fmt.Sprintf("input %d", j),
						fmt.Sprintf("unknown category %q at row %d", v, i))
				}
				continue
			}
			out.Set(i, offset+k, 1)
		}
		offset += len(e.Categories[j])
	}
	return out, nil
}

// FeatureNames returns "<input>_<category>" for every output column.
func (e *OneHotEncoder) FeatureNames(inputs []string) []string {
	names := make([]string, 0, e.NOutputs())
	for j, cats := range e.Categories {
		for _, c := range cats {
			names = append(names, inputs[j]+"_"+c)
		}
	}
	return names
}
