package queryir

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidQuery is wrapped by every error Validate returns.
var ErrInvalidQuery = errors.New("invalid query")

// Validate checks that q is well formed: a collection and index are named,
// the limit is not negative, and every predicate operand is an indexable
// scalar.
//
// Validate is a pure function with no side effects.
func Validate(q Query) error {
	if q.Collection == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidQuery)
	}
	if q.Index == "" {
		return fmt.Errorf("%w: index is required", ErrInvalidQuery)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidQuery, q.Limit)
	}
	return validatePredicate(q.Where)
}

func validatePredicate(p Predicate) error {
	switch pred := p.(type) {
	case nil:
		return nil
	case Equals:
		return validateOperand("equals", pred.Value)
	case *Equals:
		return validateOperand("equals", pred.Value)
	case Range:
		return validateRange(pred)
	case *Range:
		return validateRange(*pred)
	case In:
		return validateIn(pred)
	case *In:
		return validateIn(*pred)
	default:
		return fmt.Errorf("%w: unsupported predicate type %T", ErrInvalidQuery, p)
	}
}

func validateRange(r Range) error {
	if r.Min != nil {
		if err := validateOperand("range min", r.Min); err != nil {
			return err
		}
	}
	if r.Max != nil {
		if err := validateOperand("range max", r.Max); err != nil {
			return err
		}
	}
	return nil
}

func validateIn(in In) error {
	if len(in.Values) == 0 {
		return fmt.Errorf("%w: in requires at least one value", ErrInvalidQuery)
	}
	for i, v := range in.Values {
		if err := validateOperand(fmt.Sprintf("in[%d]", i), v); err != nil {
			return err
		}
	}
	return nil
}

func validateOperand(where string, v any) error {
	if _, ok := IndexValue(v); !ok {
		return fmt.Errorf("%w: %s operand %v (%T) is not an indexable scalar", ErrInvalidQuery, where, v, v)
	}
	return nil
}

// IndexValue normalises a document field value into the form stored in an
// index row. Strings stay strings, integral numbers become int64, other
// finite numbers become float64 and booleans become 0 or 1. The second result
// is false for nil, objects, arrays and anything else that cannot be indexed.
func IndexValue(v any) (any, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		if val {
			return int64(1), true
		}
		return int64(0), true
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint32:
		return int64(val), true
	case float32:
		return normaliseFloat(float64(val))
	case float64:
		return normaliseFloat(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
		f, err := val.Float64()
		if err != nil {
			return nil, false
		}
		return normaliseFloat(f)
	}
	return nil, false
}

func normaliseFloat(f float64) (any, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f), true
	}
	return f, true
}
