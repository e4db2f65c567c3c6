package model

import (
	"fmt"

	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

// FloatParam converts a hyperparameter value to float64. Grids are written
// as Go literals, so ints must be accepted where floats are meant.
func FloatParam(name string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	}
	return 0, errors.NewValidationError(name, "expected a number", v)
}

// IntParam converts a hyperparameter value to int. Floats must be integral.
func IntParam(name string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int8:
		return int(x), nil
	case int64:
		return int(x), nil
	case uint64:
		return int(x), nil
	case float64:
		if x == float64(int(x)) {
			return int(x), nil
		}
	case float32:
		if x == float32(int(x)) {
			return int(x), nil
		}
	}
	return 0, errors.NewValidationError(name, "expected an integer", v)
}

// BoolParam converts a hyperparameter value to bool.
func BoolParam(name string, v interface{}) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, errors.NewValidationError(name, "expected a boolean", v)
}

// StringParam converts a hyperparameter value to string.
func StringParam(name string, v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", errors.NewValidationError(name, fmt.Sprintf("expected a string, got %T", v), v)
}
